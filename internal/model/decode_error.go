package model

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// DecodeError records a log that could not be turned into a PoolUpdate.
type DecodeError struct {
	Address common.Address
	Topic0  common.Hash
	Block   uint64
	Index   uint32
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode log %s@%d:%d topic0 %s: %v", e.Address.Hex(), e.Block, e.Index, e.Topic0.Hex(), e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
