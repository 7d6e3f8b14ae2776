package model

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// AttemptStatus is the lifecycle state of an ExecutionAttempt.
type AttemptStatus string

const (
	StatusPending   AttemptStatus = "pending"
	StatusSubmitted AttemptStatus = "submitted"
	StatusConfirmed AttemptStatus = "confirmed"
	StatusExpired   AttemptStatus = "expired"
	StatusFailed    AttemptStatus = "failed"
	// StatusAbandoned ends an attempt whose pre-submission re-quote no longer
	// cleared the profit threshold. Nothing was submitted.
	StatusAbandoned AttemptStatus = "abandoned"
)

// Pending may fail directly when the requote or signing step errors before
// anything reaches a channel.
var transitions = map[AttemptStatus][]AttemptStatus{
	"":              {StatusPending},
	StatusPending:   {StatusSubmitted, StatusFailed, StatusExpired, StatusAbandoned},
	StatusSubmitted: {StatusConfirmed, StatusExpired, StatusFailed},
	StatusFailed:    {StatusPending},
}

// Terminal reports whether no further transition is expected. Failed is
// terminal unless the engine retries it.
func (s AttemptStatus) Terminal() bool {
	switch s {
	case StatusConfirmed, StatusExpired, StatusFailed, StatusAbandoned:
		return true
	default:
		return false
	}
}

// InFlight reports whether the status holds the pair lease.
func (s AttemptStatus) InFlight() bool {
	return s == StatusPending || s == StatusSubmitted
}

// ExecutionAttempt tracks one opportunity through submission and
// confirmation, including retries.
type ExecutionAttempt struct {
	ID          string               `json:"id"`
	Opportunity OpportunityCandidate `json:"opportunity"`
	Attempt     int                  `json:"attempt"`
	Status      AttemptStatus        `json:"status"`
	TxHash      common.Hash          `json:"tx_hash"`
	History     []AttemptStatus      `json:"history"`
	LastError   error                `json:"-"`
	StartedAt   time.Time            `json:"started_at"`
	FinishedAt  time.Time            `json:"finished_at"`
}

// Transition moves the attempt to next if the lifecycle allows it. Entering
// pending increments the attempt counter.
func (a *ExecutionAttempt) Transition(next AttemptStatus) error {
	for _, allowed := range transitions[a.Status] {
		if allowed == next {
			a.Status = next
			a.History = append(a.History, next)
			if next == StatusPending {
				a.Attempt++
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, a.Status, next)
}
