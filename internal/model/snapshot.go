package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PoolUpdate is one decoded log addressed to a pool.
type PoolUpdate struct {
	Pool     common.Address `json:"pool"`
	Family   Family         `json:"family"`
	Sequence Sequence       `json:"sequence"`
	TxHash   common.Hash    `json:"tx_hash"`
	Delta    PoolDelta      `json:"-"`
}

// PoolSnapshot is an immutable published view of a pool. Holders must not
// modify State.
type PoolSnapshot struct {
	Identity  PoolIdentity `json:"identity"`
	State     PoolState    `json:"state"`
	Sequence  Sequence     `json:"sequence"`
	UpdatedAt time.Time    `json:"updated_at"`
}
