package model

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common"
)

// PoolIdentity is the immutable description of a discovered pool.
type PoolIdentity struct {
	Family       Family         `json:"family"`
	Address      common.Address `json:"address"`
	Token0       common.Address `json:"token0"`
	Token1       common.Address `json:"token1"`
	Factory      common.Address `json:"factory"`
	CreatedBlock uint64         `json:"created_block"`
}

// Pair returns the unordered asset pair the pool trades.
func (p PoolIdentity) Pair() AssetPairKey {
	return NewAssetPairKey(p.Token0, p.Token1)
}

// HasToken reports whether the pool trades the given asset.
func (p PoolIdentity) HasToken(token common.Address) bool {
	return p.Token0 == token || p.Token1 == token
}

// AssetPairKey groups pools that trade the same two assets. A sorts before B.
type AssetPairKey struct {
	A common.Address `json:"a"`
	B common.Address `json:"b"`
}

// NewAssetPairKey normalizes the order of the two assets.
func NewAssetPairKey(x, y common.Address) AssetPairKey {
	if bytes.Compare(x.Bytes(), y.Bytes()) > 0 {
		x, y = y, x
	}
	return AssetPairKey{A: x, B: y}
}

// Other returns the counterpart of asset in the pair.
func (k AssetPairKey) Other(asset common.Address) common.Address {
	if asset == k.A {
		return k.B
	}
	return k.A
}

// Contains reports whether asset is one side of the pair.
func (k AssetPairKey) Contains(asset common.Address) bool {
	return asset == k.A || asset == k.B
}

func (k AssetPairKey) String() string {
	return k.A.Hex() + "/" + k.B.Hex()
}

// Quote picks the asset profit is measured in: the first preferred asset the
// pair contains, else the higher-addressed one. base is the other side.
func (k AssetPairKey) Quote(preferred []common.Address) (quote, base common.Address) {
	for _, p := range preferred {
		if k.Contains(p) {
			return p, k.Other(p)
		}
	}
	return k.B, k.A
}
