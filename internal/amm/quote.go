package amm

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"spreadScope/internal/model"
)

// PriceScale is the number of decimal places kept in effective prices.
const PriceScale = 18

// Result is the outcome of quoting an exact-input swap.
type Result struct {
	AmountIn       *big.Int
	AmountOut      *big.Int
	EffectivePrice decimal.Decimal
}

// Quote computes the output of swapping amountIn of token0 (zeroForOne) or
// token1 into the pool. It never mutates state.
func Quote(state model.PoolState, zeroForOne bool, amountIn *big.Int) (Result, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return Result{}, model.ErrInvalidAmount
	}

	var (
		out *big.Int
		err error
	)
	switch s := state.(type) {
	case *model.ConstantProductState:
		out, err = quoteConstantProduct(s, zeroForOne, amountIn)
	case *model.ConcentratedState:
		out, err = quoteConcentrated(s, zeroForOne, amountIn)
	case *model.BinState:
		out, err = quoteBin(s, zeroForOne, amountIn)
	case *model.StableState:
		out, err = quoteStable(s, zeroForOne, amountIn)
	default:
		return Result{}, fmt.Errorf("unsupported pool state %T", state)
	}
	if err != nil {
		return Result{}, err
	}

	return Result{
		AmountIn:       new(big.Int).Set(amountIn),
		AmountOut:      out,
		EffectivePrice: Ratio(out, amountIn),
	}, nil
}

// Ratio returns num/den as a decimal rounded to PriceScale places.
func Ratio(num, den *big.Int) decimal.Decimal {
	if den == nil || den.Sign() == 0 {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(num, 0).DivRound(decimal.NewFromBigInt(den, 0), PriceScale)
}

func quoteConstantProduct(s *model.ConstantProductState, zeroForOne bool, amountIn *big.Int) (*big.Int, error) {
	reserveIn, reserveOut := s.Reserve0, s.Reserve1
	if !zeroForOne {
		reserveIn, reserveOut = reserveOut, reserveIn
	}
	if reserveIn.Sign() == 0 || reserveOut.Sign() == 0 {
		return nil, &model.InsufficientLiquidityError{Requested: new(big.Int).Set(amountIn), Filled: new(big.Int)}
	}

	inWithFee := new(big.Int).Mul(amountIn, big.NewInt(int64(10_000-s.FeeBps)))
	numerator := new(big.Int).Mul(inWithFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, big.NewInt(10_000))
	denominator.Add(denominator, inWithFee)

	out := numerator.Quo(numerator, denominator)
	if out.Cmp(reserveOut) >= 0 {
		return nil, &model.InsufficientLiquidityError{Requested: new(big.Int).Set(amountIn), Filled: new(big.Int)}
	}
	return out, nil
}
