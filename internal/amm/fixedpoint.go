package amm

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

var (
	errOverflow     = errors.New("fixed point overflow")
	errDivideByZero = errors.New("division by zero")

	q96     = new(uint256.Int).Lsh(uint256.NewInt(1), 96)
	q96Big  = new(big.Int).Lsh(big.NewInt(1), 96)
	q128Big = new(big.Int).Lsh(big.NewInt(1), 128)
	q256Big = new(big.Int).Lsh(big.NewInt(1), 256)
	maxU160 = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 160), uint256.NewInt(1))
)

func mulDiv(a, b, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, errDivideByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(a, b, d)
	if overflow {
		return nil, errOverflow
	}
	return z, nil
}

func mulDivRoundingUp(a, b, d *uint256.Int) (*uint256.Int, error) {
	z, err := mulDiv(a, b, d)
	if err != nil {
		return nil, err
	}
	if !new(uint256.Int).MulMod(a, b, d).IsZero() {
		if z.Eq(maxUint256()) {
			return nil, errOverflow
		}
		z.AddUint64(z, 1)
	}
	return z, nil
}

func divRoundingUp(a, b *uint256.Int) (*uint256.Int, error) {
	if b.IsZero() {
		return nil, errDivideByZero
	}
	z := new(uint256.Int).Div(a, b)
	if !new(uint256.Int).Mod(a, b).IsZero() {
		z.AddUint64(z, 1)
	}
	return z, nil
}

func maxUint256() *uint256.Int {
	return new(uint256.Int).SetAllOne()
}

func toU256(v *big.Int) (*uint256.Int, error) {
	if v == nil || v.Sign() < 0 {
		return nil, errors.New("value must be non-negative")
	}
	z, overflow := uint256.FromBig(v)
	if overflow {
		return nil, errOverflow
	}
	return z, nil
}
