package amm

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/holiman/uint256"

	"spreadScope/internal/model"
)

// quoteConcentrated walks the pool tick by tick for an exact-input swap.
// Running past the last known initialized tick with input left is an
// insufficient liquidity condition.
func quoteConcentrated(s *model.ConcentratedState, zeroForOne bool, amountIn *big.Int) (*big.Int, error) {
	sqrtP, err := toU256(s.SqrtPriceX96)
	if err != nil {
		return nil, fmt.Errorf("sqrt price: %w", err)
	}
	if sqrtP.Lt(minSqrtRatio) || sqrtP.Gt(maxSqrtRatio) {
		return nil, fmt.Errorf("sqrt price out of range: %s", s.SqrtPriceX96)
	}
	liquidity, err := toU256(s.Liquidity)
	if err != nil {
		return nil, fmt.Errorf("liquidity: %w", err)
	}
	remaining, err := toU256(amountIn)
	if err != nil {
		return nil, err
	}

	tick := s.Tick
	out := new(uint256.Int)
	ticks := s.Ticks

	for i := 0; !remaining.IsZero(); i++ {
		if i > len(ticks)+1 {
			return nil, fmt.Errorf("tick walk did not terminate")
		}

		pos, ok := nextInitializedTick(ticks, tick, zeroForOne)
		if !ok {
			return nil, insufficient(amountIn, remaining)
		}
		next := ticks[pos]
		sqrtTarget, err := SqrtRatioAtTick(next.Index)
		if err != nil {
			return nil, err
		}

		step, err := computeSwapStep(sqrtP, sqrtTarget, liquidity, remaining, s.FeePips)
		if err != nil {
			return nil, err
		}

		consumed := new(uint256.Int).Add(step.amountIn, step.feeAmount)
		if consumed.Gt(remaining) {
			remaining.Clear()
		} else {
			remaining.Sub(remaining, consumed)
		}
		out.Add(out, step.amountOut)
		sqrtP = step.sqrtNext

		if !step.sqrtNext.Eq(sqrtTarget) {
			break
		}

		net := new(big.Int).Set(next.LiquidityNet)
		if zeroForOne {
			net.Neg(net)
		}
		updated := new(big.Int).Add(liquidity.ToBig(), net)
		if updated.Sign() < 0 {
			return nil, fmt.Errorf("crossing tick %d: %w", next.Index, model.ErrNegativeBalance)
		}
		if liquidity, err = toU256(updated); err != nil {
			return nil, err
		}
		if zeroForOne {
			tick = next.Index - 1
		} else {
			tick = next.Index
		}
	}

	return out.ToBig(), nil
}

// nextInitializedTick finds the next tick to cross: the greatest tick <= tick
// when moving down, the smallest tick > tick when moving up.
func nextInitializedTick(ticks []model.TickLiquidity, tick int32, lte bool) (int, bool) {
	if lte {
		pos := sort.Search(len(ticks), func(i int) bool { return ticks[i].Index > tick })
		if pos == 0 {
			return 0, false
		}
		return pos - 1, true
	}
	pos := sort.Search(len(ticks), func(i int) bool { return ticks[i].Index > tick })
	if pos == len(ticks) {
		return 0, false
	}
	return pos, true
}

func insufficient(requested *big.Int, remaining *uint256.Int) error {
	filled := new(big.Int).Sub(requested, remaining.ToBig())
	return &model.InsufficientLiquidityError{Requested: new(big.Int).Set(requested), Filled: filled}
}
