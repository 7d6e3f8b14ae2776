package dex

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case int8:
		return big.NewInt(int64(v)), nil
	case int16:
		return big.NewInt(int64(v)), nil
	case int32:
		return big.NewInt(int64(v)), nil
	case int64:
		return big.NewInt(v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}

func asBigInts(value interface{}) ([]*big.Int, error) {
	switch v := value.(type) {
	case []*big.Int:
		out := make([]*big.Int, len(v))
		for i, x := range v {
			out[i] = new(big.Int).Set(x)
		}
		return out, nil
	case [2]*big.Int:
		return []*big.Int{new(big.Int).Set(v[0]), new(big.Int).Set(v[1])}, nil
	default:
		return nil, fmt.Errorf("unsupported int slice type %T", value)
	}
}

func asUint32(value interface{}) (uint32, error) {
	v, err := asBigInt(value)
	if err != nil {
		return 0, err
	}
	if v.Sign() < 0 || !v.IsUint64() || v.Uint64() > 1<<32-1 {
		return 0, fmt.Errorf("uint32 overflow: %s", v.String())
	}
	return uint32(v.Uint64()), nil
}

func int24FromBig(value *big.Int) (int32, error) {
	min := big.NewInt(-1 << 23)
	max := big.NewInt((1 << 23) - 1)
	if value.Cmp(min) < 0 || value.Cmp(max) > 0 {
		return 0, fmt.Errorf("int24 overflow: %s", value.String())
	}
	return int32(value.Int64()), nil
}

// splitPacked splits a Liquidity Book packed amount: X in the low 128 bits,
// Y in the high 128 bits.
func splitPacked(value interface{}) (*big.Int, *big.Int, error) {
	var word [32]byte
	switch v := value.(type) {
	case [32]byte:
		word = v
	case common.Hash:
		word = v
	default:
		return nil, nil, fmt.Errorf("unsupported packed amount type %T", value)
	}
	y := new(big.Int).SetBytes(word[:16])
	x := new(big.Int).SetBytes(word[16:])
	return x, y, nil
}

// PackAmounts is the inverse of splitPacked.
func PackAmounts(x, y *big.Int) [32]byte {
	var word [32]byte
	if y != nil {
		y.FillBytes(word[:16])
	}
	if x != nil {
		x.FillBytes(word[16:])
	}
	return word
}
