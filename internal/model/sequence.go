package model

import (
	"fmt"
	"math"
)

// Sequence orders ledger updates: block number first, then log index.
type Sequence struct {
	Block uint64 `json:"block"`
	Index uint32 `json:"index"`
}

// AtBlock is the sequence of a state read at the end of block n. Every log
// emitted in block n is already reflected in such a read.
func AtBlock(n uint64) Sequence {
	return Sequence{Block: n, Index: math.MaxUint32}
}

// Compare returns -1, 0 or 1.
func (s Sequence) Compare(other Sequence) int {
	switch {
	case s.Block < other.Block:
		return -1
	case s.Block > other.Block:
		return 1
	case s.Index < other.Index:
		return -1
	case s.Index > other.Index:
		return 1
	default:
		return 0
	}
}

func (s Sequence) Less(other Sequence) bool {
	return s.Compare(other) < 0
}

func (s Sequence) IsZero() bool {
	return s.Block == 0 && s.Index == 0
}

func (s Sequence) String() string {
	return fmt.Sprintf("%d:%d", s.Block, s.Index)
}
