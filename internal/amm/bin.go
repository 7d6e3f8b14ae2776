package amm

import (
	"fmt"
	"math/big"

	"spreadScope/internal/model"
)

// BinIDOffset is the bin id whose price is exactly 1.
const BinIDOffset = 1 << 23

// BinPriceX128 returns (1 + binStep/10000)^(id - 2^23) as 128.128 fixed point,
// the price of X in units of Y.
func BinPriceX128(id uint32, binStep uint16) (*big.Int, error) {
	if binStep == 0 {
		return nil, fmt.Errorf("bin step must be positive")
	}
	exp := int64(id) - BinIDOffset
	neg := exp < 0
	if neg {
		exp = -exp
	}

	base := new(big.Int).Lsh(big.NewInt(int64(binStep)), 128)
	base.Quo(base, big.NewInt(10_000))
	base.Add(base, q128Big)

	result := new(big.Int).Set(q128Big)
	for exp > 0 {
		if exp&1 == 1 {
			result.Mul(result, base)
			result.Rsh(result, 128)
		}
		base.Mul(base, base)
		base.Rsh(base, 128)
		exp >>= 1
	}
	if neg {
		if result.Sign() == 0 {
			return nil, fmt.Errorf("bin price underflow for id %d", id)
		}
		result = new(big.Int).Quo(q256Big, result)
	}
	if result.Sign() == 0 {
		return nil, fmt.Errorf("bin price underflow for id %d", id)
	}
	return result, nil
}

// quoteBin consumes bins from the active one outward until the input is
// spent. zeroForOne sells X for Y and walks toward lower ids.
func quoteBin(s *model.BinState, zeroForOne bool, amountIn *big.Int) (*big.Int, error) {
	remaining := new(big.Int).Set(amountIn)
	out := new(big.Int)
	feeKeep := big.NewInt(int64(10_000 - s.BaseFeeBps))
	bps := big.NewInt(10_000)

	for _, pos := range binWalk(s, zeroForOne) {
		if remaining.Sign() == 0 {
			break
		}
		bin := s.Bins[pos]
		reserveOut := bin.ReserveX
		if zeroForOne {
			reserveOut = bin.ReserveY
		}
		if reserveOut.Sign() == 0 {
			continue
		}
		price, err := BinPriceX128(bin.ID, s.BinStep)
		if err != nil {
			return nil, err
		}

		// input needed to drain the bin, before and after fee
		var needNoFee *big.Int
		if zeroForOne {
			needNoFee = ceilDiv(new(big.Int).Lsh(reserveOut, 128), price)
		} else {
			needNoFee = ceilDiv(new(big.Int).Mul(reserveOut, price), q128Big)
		}
		needWithFee := ceilDiv(new(big.Int).Mul(needNoFee, bps), feeKeep)

		if remaining.Cmp(needWithFee) >= 0 {
			out.Add(out, reserveOut)
			remaining.Sub(remaining, needWithFee)
			continue
		}

		inNoFee := new(big.Int).Mul(remaining, feeKeep)
		inNoFee.Quo(inNoFee, bps)
		var got *big.Int
		if zeroForOne {
			got = new(big.Int).Mul(inNoFee, price)
			got.Rsh(got, 128)
		} else {
			got = new(big.Int).Lsh(inNoFee, 128)
			got.Quo(got, price)
		}
		if got.Cmp(reserveOut) > 0 {
			got.Set(reserveOut)
		}
		out.Add(out, got)
		remaining.SetInt64(0)
	}

	if remaining.Sign() > 0 {
		filled := new(big.Int).Sub(amountIn, remaining)
		return nil, &model.InsufficientLiquidityError{Requested: new(big.Int).Set(amountIn), Filled: filled}
	}
	return out, nil
}

// binWalk lists bin positions in swap order: ids <= active descending when
// selling X, ids >= active ascending when selling Y.
func binWalk(s *model.BinState, zeroForOne bool) []int {
	pos, found := s.BinPos(s.ActiveID)
	order := make([]int, 0, len(s.Bins))
	if zeroForOne {
		start := pos - 1
		if found {
			start = pos
		}
		for i := start; i >= 0; i-- {
			order = append(order, i)
		}
		return order
	}
	for i := pos; i < len(s.Bins); i++ {
		order = append(order, i)
	}
	return order
}

func ceilDiv(a, b *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(a, b, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}
