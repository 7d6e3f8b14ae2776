package model

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnknownPool       = errors.New("unknown pool")
	ErrFamilyMismatch    = errors.New("pool family mismatch")
	ErrNegativeBalance   = errors.New("negative balance")
	ErrPairBusy          = errors.New("pair has an attempt in flight")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrNoConvergence     = errors.New("invariant did not converge")
	ErrInvalidTransition = errors.New("invalid attempt transition")
)

// StaleDataError is returned for an update at or behind the pool's current
// sequence. The update is discarded.
type StaleDataError struct {
	Pool     common.Address
	Current  Sequence
	Incoming Sequence
}

func (e *StaleDataError) Error() string {
	return fmt.Sprintf("stale update for %s: incoming %s, current %s", e.Pool.Hex(), e.Incoming, e.Current)
}

// InsufficientLiquidityError is returned when a quote cannot fill the
// requested input. Filled is how much input the pool could absorb.
type InsufficientLiquidityError struct {
	Pool      common.Address
	Requested *big.Int
	Filled    *big.Int
}

func (e *InsufficientLiquidityError) Error() string {
	pool := "pool"
	if e.Pool != (common.Address{}) {
		pool = e.Pool.Hex()
	}
	return fmt.Sprintf("insufficient liquidity in %s: requested %s, fillable %s", pool, intString(e.Requested), intString(e.Filled))
}

// SubmissionError wraps a rejection or transport failure from a submission
// channel.
type SubmissionError struct {
	Channel string
	Err     error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit via %s: %v", e.Channel, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// ConfirmationTimeoutError is returned when a submitted transaction was not
// confirmed in time.
type ConfirmationTimeoutError struct {
	TxHash  common.Hash
	Timeout time.Duration
}

func (e *ConfirmationTimeoutError) Error() string {
	return fmt.Sprintf("transaction %s not confirmed within %s", e.TxHash.Hex(), e.Timeout)
}

// ConfigurationError lists every invalid or missing startup parameter.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(e.Problems, "\n  - ")
}
