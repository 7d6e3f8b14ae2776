package amm

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"spreadScope/internal/model"
)

// Liquidity returns the depth of one side of the pool in base units of that
// asset: token1 when quoteIsToken1, token0 otherwise.
func Liquidity(state model.PoolState, quoteIsToken1 bool) *big.Int {
	switch s := state.(type) {
	case *model.ConstantProductState:
		if quoteIsToken1 {
			return new(big.Int).Set(s.Reserve1)
		}
		return new(big.Int).Set(s.Reserve0)
	case *model.ConcentratedState:
		if s.SqrtPriceX96 == nil || s.SqrtPriceX96.Sign() == 0 || s.Liquidity == nil {
			return new(big.Int)
		}
		if quoteIsToken1 {
			v := new(big.Int).Mul(s.Liquidity, s.SqrtPriceX96)
			return v.Rsh(v, 96)
		}
		v := new(big.Int).Lsh(s.Liquidity, 96)
		return v.Quo(v, s.SqrtPriceX96)
	case *model.BinState:
		total := new(big.Int)
		for _, b := range s.Bins {
			if quoteIsToken1 {
				total.Add(total, b.ReserveY)
			} else {
				total.Add(total, b.ReserveX)
			}
		}
		return total
	case *model.StableState:
		idx := 0
		if quoteIsToken1 {
			idx = 1
		}
		if idx >= len(s.Balances) {
			return new(big.Int)
		}
		return new(big.Int).Set(s.Balances[idx])
	default:
		return new(big.Int)
	}
}

// SpotPrice is the marginal price of token0 in token1 base units, before fees.
func SpotPrice(state model.PoolState) (decimal.Decimal, error) {
	switch s := state.(type) {
	case *model.ConstantProductState:
		if s.Reserve0.Sign() == 0 {
			return decimal.Zero, fmt.Errorf("empty reserve0")
		}
		return Ratio(s.Reserve1, s.Reserve0), nil
	case *model.ConcentratedState:
		sq := new(big.Int).Mul(s.SqrtPriceX96, s.SqrtPriceX96)
		return Ratio(sq, new(big.Int).Mul(q96Big, q96Big)), nil
	case *model.BinState:
		price, err := BinPriceX128(s.ActiveID, s.BinStep)
		if err != nil {
			return decimal.Zero, err
		}
		return Ratio(price, q128Big), nil
	case *model.StableState:
		sample := new(big.Int).Quo(s.Balances[0], big.NewInt(1_000_000))
		if sample.Sign() == 0 {
			sample.SetInt64(1)
		}
		noFee := s.Clone().(*model.StableState)
		noFee.Fee = new(big.Int)
		out, err := quoteStable(noFee, true, sample)
		if err != nil {
			return decimal.Zero, err
		}
		return Ratio(out, sample), nil
	default:
		return decimal.Zero, fmt.Errorf("unsupported pool state %T", state)
	}
}
