package amm

import (
	"fmt"
	"math/big"

	"spreadScope/internal/model"
)

const maxStableRounds = 255

var stableFeeDenominator = big.NewInt(10_000_000_000)

// stableD solves the stable-swap invariant for D by Newton iteration. Balances
// must share one precision.
func stableD(xp []*big.Int, amp *big.Int) (*big.Int, error) {
	n := big.NewInt(int64(len(xp)))
	sum := new(big.Int)
	for _, x := range xp {
		sum.Add(sum, x)
	}
	if sum.Sign() == 0 {
		return new(big.Int), nil
	}

	ann := new(big.Int).Mul(amp, n)
	d := new(big.Int).Set(sum)
	one := big.NewInt(1)

	for i := 0; i < maxStableRounds; i++ {
		dp := new(big.Int).Set(d)
		for _, x := range xp {
			if x.Sign() == 0 {
				return nil, fmt.Errorf("zero balance in stable pool")
			}
			dp.Mul(dp, d)
			dp.Quo(dp, new(big.Int).Mul(x, n))
		}
		prev := d

		num := new(big.Int).Mul(ann, sum)
		num.Add(num, new(big.Int).Mul(dp, n))
		num.Mul(num, prev)

		den := new(big.Int).Mul(new(big.Int).Sub(ann, one), prev)
		den.Add(den, new(big.Int).Mul(new(big.Int).Add(n, one), dp))

		d = num.Quo(num, den)
		if closeEnough(d, prev) {
			return d, nil
		}
	}
	return nil, model.ErrNoConvergence
}

// stableY returns the balance of coin j that keeps D constant once coin i
// holds x.
func stableY(i, j int, x *big.Int, xp []*big.Int, amp *big.Int) (*big.Int, error) {
	d, err := stableD(xp, amp)
	if err != nil {
		return nil, err
	}
	n := big.NewInt(int64(len(xp)))
	ann := new(big.Int).Mul(amp, n)

	c := new(big.Int).Set(d)
	s := new(big.Int)
	for k := range xp {
		var xk *big.Int
		switch k {
		case i:
			xk = x
		case j:
			continue
		default:
			xk = xp[k]
		}
		s.Add(s, xk)
		c.Mul(c, d)
		c.Quo(c, new(big.Int).Mul(xk, n))
	}
	c.Mul(c, d)
	c.Quo(c, new(big.Int).Mul(ann, n))
	b := new(big.Int).Add(s, new(big.Int).Quo(d, ann))

	y := new(big.Int).Set(d)
	for round := 0; round < maxStableRounds; round++ {
		prev := y
		num := new(big.Int).Mul(prev, prev)
		num.Add(num, c)
		den := new(big.Int).Lsh(prev, 1)
		den.Add(den, b)
		den.Sub(den, d)
		if den.Sign() <= 0 {
			return nil, model.ErrNoConvergence
		}
		y = num.Quo(num, den)
		if closeEnough(y, prev) {
			return y, nil
		}
	}
	return nil, model.ErrNoConvergence
}

func quoteStable(s *model.StableState, zeroForOne bool, amountIn *big.Int) (*big.Int, error) {
	i, j := 0, 1
	if !zeroForOne {
		i, j = 1, 0
	}
	if j >= len(s.Balances) {
		return nil, fmt.Errorf("stable pool has %d coins", len(s.Balances))
	}
	if s.Balances[i].Sign() == 0 || s.Balances[j].Sign() == 0 {
		return nil, &model.InsufficientLiquidityError{Requested: new(big.Int).Set(amountIn), Filled: new(big.Int)}
	}

	x := new(big.Int).Add(s.Balances[i], amountIn)
	y, err := stableY(i, j, x, s.Balances, s.Amp)
	if err != nil {
		return nil, err
	}

	dy := new(big.Int).Sub(s.Balances[j], y)
	dy.Sub(dy, big.NewInt(1))
	if dy.Sign() <= 0 {
		return new(big.Int), nil
	}
	fee := new(big.Int).Mul(dy, s.Fee)
	fee.Quo(fee, stableFeeDenominator)
	dy.Sub(dy, fee)

	if dy.Cmp(s.Balances[j]) >= 0 {
		return nil, &model.InsufficientLiquidityError{Requested: new(big.Int).Set(amountIn), Filled: new(big.Int)}
	}
	return dy, nil
}

func closeEnough(a, b *big.Int) bool {
	diff := new(big.Int).Sub(a, b)
	return diff.CmpAbs(big.NewInt(1)) <= 0
}
