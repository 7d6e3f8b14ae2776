package amm

import (
	"fmt"

	"github.com/holiman/uint256"
)

const (
	MinTick int32 = -887272
	MaxTick int32 = 887272
)

var (
	minSqrtRatio = uint256.NewInt(4295128739)
	maxSqrtRatio = uint256.MustFromDecimal("1461446703485210103287273052203988822378723970342")

	tickRatios = []struct {
		bit   uint32
		ratio *uint256.Int
	}{
		{0x2, uint256.MustFromHex("0xfff97272373d413259a46990580e213a")},
		{0x4, uint256.MustFromHex("0xfff2e50f5f656932ef12357cf3c7fdcc")},
		{0x8, uint256.MustFromHex("0xffe5caca7e10e4e61c3624eaa0941cd0")},
		{0x10, uint256.MustFromHex("0xffcb9843d60f6159c9db58835c926644")},
		{0x20, uint256.MustFromHex("0xff973b41fa98c081472e6896dfb254c0")},
		{0x40, uint256.MustFromHex("0xff2ea16466c96a3843ec78b326b52861")},
		{0x80, uint256.MustFromHex("0xfe5dee046a99a2a811c461f1969c3053")},
		{0x100, uint256.MustFromHex("0xfcbe86c7900a88aedcffc83b479aa3a4")},
		{0x200, uint256.MustFromHex("0xf987a7253ac413176f2b074cf7815e54")},
		{0x400, uint256.MustFromHex("0xf3392b0822b70005940c7a398e4b70f3")},
		{0x800, uint256.MustFromHex("0xe7159475a2c29b7443b29c7fa6e889d9")},
		{0x1000, uint256.MustFromHex("0xd097f3bdfd2022b8845ad8f792aa5825")},
		{0x2000, uint256.MustFromHex("0xa9f746462d870fdf8a65dc1f90e061e5")},
		{0x4000, uint256.MustFromHex("0x70d869a156d2a1b890bb3df62baf32f7")},
		{0x8000, uint256.MustFromHex("0x31be135f97d08fd981231505542fcfa6")},
		{0x10000, uint256.MustFromHex("0x9aa508b5b7a84e1c677de54f3e99bc9")},
		{0x20000, uint256.MustFromHex("0x5d6af8dedb81196699c329225ee604")},
		{0x40000, uint256.MustFromHex("0x2216e584f5fa1ea926041bedfe98")},
		{0x80000, uint256.MustFromHex("0x48a170391f7dc42444e8fa2")},
	}
)

// SqrtRatioAtTick returns sqrt(1.0001^tick) as Q64.96.
func SqrtRatioAtTick(tick int32) (*uint256.Int, error) {
	if tick < MinTick || tick > MaxTick {
		return nil, fmt.Errorf("tick %d out of range", tick)
	}
	absTick := uint32(tick)
	if tick < 0 {
		absTick = uint32(-tick)
	}

	var ratio *uint256.Int
	if absTick&0x1 != 0 {
		ratio = uint256.MustFromHex("0xfffcb933bd6fad37aa2d162d1a594001")
	} else {
		ratio = new(uint256.Int).Lsh(uint256.NewInt(1), 128)
	}
	for _, r := range tickRatios {
		if absTick&r.bit != 0 {
			ratio.Mul(ratio, r.ratio)
			ratio.Rsh(ratio, 128)
		}
	}
	if tick > 0 {
		ratio = new(uint256.Int).Div(maxUint256(), ratio)
	}

	out := new(uint256.Int).Rsh(ratio, 32)
	if !new(uint256.Int).And(ratio, uint256.NewInt(0xffffffff)).IsZero() {
		out.AddUint64(out, 1)
	}
	return out, nil
}

func amount0Delta(sqrtA, sqrtB, liquidity *uint256.Int, roundUp bool) (*uint256.Int, error) {
	if sqrtA.Gt(sqrtB) {
		sqrtA, sqrtB = sqrtB, sqrtA
	}
	if sqrtA.IsZero() {
		return nil, errDivideByZero
	}
	numerator1 := new(uint256.Int).Lsh(liquidity, 96)
	numerator2 := new(uint256.Int).Sub(sqrtB, sqrtA)
	if roundUp {
		v, err := mulDivRoundingUp(numerator1, numerator2, sqrtB)
		if err != nil {
			return nil, err
		}
		return divRoundingUp(v, sqrtA)
	}
	v, err := mulDiv(numerator1, numerator2, sqrtB)
	if err != nil {
		return nil, err
	}
	return v.Div(v, sqrtA), nil
}

func amount1Delta(sqrtA, sqrtB, liquidity *uint256.Int, roundUp bool) (*uint256.Int, error) {
	if sqrtA.Gt(sqrtB) {
		sqrtA, sqrtB = sqrtB, sqrtA
	}
	diff := new(uint256.Int).Sub(sqrtB, sqrtA)
	if roundUp {
		return mulDivRoundingUp(liquidity, diff, q96)
	}
	return mulDiv(liquidity, diff, q96)
}

func nextSqrtPriceFromInput(sqrtP, liquidity, amountIn *uint256.Int, zeroForOne bool) (*uint256.Int, error) {
	if sqrtP.IsZero() || liquidity.IsZero() {
		return nil, errDivideByZero
	}
	if zeroForOne {
		return nextSqrtPriceFromAmount0(sqrtP, liquidity, amountIn)
	}
	return nextSqrtPriceFromAmount1(sqrtP, liquidity, amountIn)
}

// nextSqrtPriceFromAmount0 rounds up so the price never moves further than
// the input pays for.
func nextSqrtPriceFromAmount0(sqrtP, liquidity, amount *uint256.Int) (*uint256.Int, error) {
	if amount.IsZero() {
		return new(uint256.Int).Set(sqrtP), nil
	}
	numerator1 := new(uint256.Int).Lsh(liquidity, 96)
	if product, overflow := new(uint256.Int).MulOverflow(amount, sqrtP); !overflow {
		denominator, overflow := new(uint256.Int).AddOverflow(numerator1, product)
		if !overflow {
			return mulDivRoundingUp(numerator1, sqrtP, denominator)
		}
	}
	denominator := new(uint256.Int).Div(numerator1, sqrtP)
	denominator.Add(denominator, amount)
	return divRoundingUp(numerator1, denominator)
}

func nextSqrtPriceFromAmount1(sqrtP, liquidity, amount *uint256.Int) (*uint256.Int, error) {
	var quotient *uint256.Int
	if !amount.Gt(maxU160) {
		quotient = new(uint256.Int).Lsh(amount, 96)
		quotient.Div(quotient, liquidity)
	} else {
		var err error
		quotient, err = mulDiv(amount, q96, liquidity)
		if err != nil {
			return nil, err
		}
	}
	next, overflow := new(uint256.Int).AddOverflow(sqrtP, quotient)
	if overflow || next.Gt(maxU160) {
		return nil, errOverflow
	}
	return next, nil
}

type swapStep struct {
	sqrtNext  *uint256.Int
	amountIn  *uint256.Int
	amountOut *uint256.Int
	feeAmount *uint256.Int
}

// computeSwapStep swaps exact input within one price range bounded by
// sqrtTarget.
func computeSwapStep(sqrtCurrent, sqrtTarget, liquidity, amountRemaining *uint256.Int, feePips uint32) (swapStep, error) {
	zeroForOne := !sqrtCurrent.Lt(sqrtTarget)
	feeDen := uint256.NewInt(1_000_000)
	feeKeep := uint256.NewInt(uint64(1_000_000 - feePips))

	remainingLessFee, err := mulDiv(amountRemaining, feeKeep, feeDen)
	if err != nil {
		return swapStep{}, err
	}

	var step swapStep
	var maxIn *uint256.Int
	if zeroForOne {
		maxIn, err = amount0Delta(sqrtTarget, sqrtCurrent, liquidity, true)
	} else {
		maxIn, err = amount1Delta(sqrtCurrent, sqrtTarget, liquidity, true)
	}
	if err != nil {
		return swapStep{}, err
	}

	if !remainingLessFee.Lt(maxIn) {
		step.sqrtNext = new(uint256.Int).Set(sqrtTarget)
	} else {
		step.sqrtNext, err = nextSqrtPriceFromInput(sqrtCurrent, liquidity, remainingLessFee, zeroForOne)
		if err != nil {
			return swapStep{}, err
		}
	}
	reached := step.sqrtNext.Eq(sqrtTarget)

	if zeroForOne {
		if reached {
			step.amountIn = maxIn
		} else if step.amountIn, err = amount0Delta(step.sqrtNext, sqrtCurrent, liquidity, true); err != nil {
			return swapStep{}, err
		}
		if step.amountOut, err = amount1Delta(step.sqrtNext, sqrtCurrent, liquidity, false); err != nil {
			return swapStep{}, err
		}
	} else {
		if reached {
			step.amountIn = maxIn
		} else if step.amountIn, err = amount1Delta(sqrtCurrent, step.sqrtNext, liquidity, true); err != nil {
			return swapStep{}, err
		}
		if step.amountOut, err = amount0Delta(sqrtCurrent, step.sqrtNext, liquidity, false); err != nil {
			return swapStep{}, err
		}
	}

	if !reached {
		step.feeAmount = new(uint256.Int).Sub(amountRemaining, step.amountIn)
	} else {
		step.feeAmount, err = mulDivRoundingUp(step.amountIn, uint256.NewInt(uint64(feePips)), feeKeep)
		if err != nil {
			return swapStep{}, err
		}
	}
	return step, nil
}
