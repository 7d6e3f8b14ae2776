package execution

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"spreadScope/internal/detector"
	"spreadScope/internal/metrics"
	"spreadScope/internal/model"
)

var bpsDenominator = big.NewInt(10_000)

// Requoter prices a candidate's route again from fresh pool state.
type Requoter interface {
	Requote(opp model.OpportunityCandidate) (model.OpportunityCandidate, error)
}

// Publisher receives terminal outcomes. It must not block.
type Publisher interface {
	Publish(outcome model.Outcome)
}

// Config holds the attempt lifecycle limits.
type Config struct {
	ConfirmationTimeout time.Duration
	PollInterval        time.Duration
	// MaxAttempts bounds how many times one candidate enters pending.
	MaxAttempts int
	BlockOffset uint64
}

// Engine runs at most one execution attempt per asset pair.
type Engine struct {
	cfg       Config
	leases    Manager
	requoter  Requoter
	signer    Signer
	channel   Channel
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time

	wg sync.WaitGroup
}

func NewEngine(cfg Config, leases Manager, requoter Requoter, signer Signer, channel Channel, publisher Publisher, m *metrics.Metrics, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if leases == nil {
		leases = NewMemoryLeases()
	}
	return &Engine{
		cfg:       cfg,
		leases:    leases,
		requoter:  requoter,
		signer:    signer,
		channel:   channel,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// InFlight reports whether an attempt currently holds the pair.
func (e *Engine) InFlight(pair model.AssetPairKey) bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return e.leases.Held(ctx, pair.String())
}

// Submit leases the candidate's pair and starts its attempt in the
// background. It returns model.ErrPairBusy when the pair is leased. The
// returned attempt is owned by the engine until Wait returns.
func (e *Engine) Submit(ctx context.Context, opp model.OpportunityCandidate) (*model.ExecutionAttempt, error) {
	if e.requoter == nil || e.signer == nil || e.channel == nil {
		return nil, fmt.Errorf("engine is missing a requoter, signer or channel")
	}
	release, err := e.leases.Acquire(ctx, opp.Pair.String())
	if err != nil {
		return nil, err
	}

	attempt := &model.ExecutionAttempt{
		ID:          uuid.NewString(),
		Opportunity: opp,
		StartedAt:   e.now().UTC(),
	}
	e.metrics.InflightDelta(1)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.metrics.InflightDelta(-1)
		defer release()
		e.run(ctx, attempt)
	}()
	return attempt, nil
}

// Wait blocks until every started attempt is terminal.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Run submits candidates from in until ctx is done, then waits for the
// attempts in flight.
func (e *Engine) Run(ctx context.Context, in <-chan model.OpportunityCandidate) error {
	defer e.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case opp, ok := <-in:
			if !ok {
				return nil
			}
			attempt, err := e.Submit(ctx, opp)
			if errors.Is(err, model.ErrPairBusy) {
				e.logger.Debug("pair busy, candidate dropped", zap.String("pair", opp.Pair.String()), zap.String("opportunity", opp.ID))
				continue
			}
			if err != nil {
				e.logger.Warn("submit candidate", zap.String("pair", opp.Pair.String()), zap.Error(err))
				continue
			}
			e.logger.Debug("attempt started", zap.String("attempt", attempt.ID), zap.String("opportunity", opp.ID))
		}
	}
}

// run drives one attempt to a terminal status.
func (e *Engine) run(ctx context.Context, a *model.ExecutionAttempt) {
	defer e.finish(a)

	for {
		e.transition(a, model.StatusPending)
		if ctx.Err() != nil {
			a.LastError = ctx.Err()
			e.transition(a, model.StatusExpired)
			return
		}

		fresh, err := e.requoter.Requote(a.Opportunity)
		if err != nil {
			a.LastError = err
			if rejected(err) {
				e.transition(a, model.StatusAbandoned)
				return
			}
			if !e.retry(a) {
				return
			}
			continue
		}
		a.Opportunity = fresh

		signed, err := e.signer.Sign(ctx, fresh)
		if err != nil {
			if e.expired(ctx, a) {
				return
			}
			a.LastError = err
			if !e.retry(a) {
				return
			}
			continue
		}

		// submitted from the moment the channel holds the transaction
		a.TxHash = signed.Tx.Hash()
		e.transition(a, model.StatusSubmitted)
		hash, err := e.channel.Submit(ctx, signed, Hint{BlockOffset: e.cfg.BlockOffset})
		if err != nil {
			if e.expired(ctx, a) {
				return
			}
			a.LastError = &model.SubmissionError{Channel: e.channel.Name(), Err: err}
			if !e.retry(a) {
				return
			}
			continue
		}
		a.TxHash = hash

		status, err := e.await(ctx, hash)
		switch {
		case err != nil:
			a.LastError = err
			e.transition(a, model.StatusExpired)
			return
		case status == TxConfirmed:
			a.LastError = nil
			e.transition(a, model.StatusConfirmed)
			return
		default:
			a.LastError = fmt.Errorf("transaction %s reverted", hash.Hex())
			if !e.retry(a) {
				return
			}
		}
	}
}

// rejected reports whether a requote error means the opportunity is gone
// rather than the engine failing.
func rejected(err error) bool {
	var liquidity *model.InsufficientLiquidityError
	return errors.Is(err, detector.ErrBelowThreshold) ||
		errors.Is(err, detector.ErrBelowLiquidity) ||
		errors.As(err, &liquidity)
}

// retry fails the attempt and reports whether another round is allowed.
func (e *Engine) retry(a *model.ExecutionAttempt) bool {
	e.transition(a, model.StatusFailed)
	if a.Attempt >= e.cfg.MaxAttempts {
		return false
	}
	e.logger.Info("retrying attempt",
		zap.String("attempt", a.ID),
		zap.Int("round", a.Attempt),
		zap.Error(a.LastError),
	)
	return true
}

func (e *Engine) expired(ctx context.Context, a *model.ExecutionAttempt) bool {
	if ctx.Err() == nil {
		return false
	}
	a.LastError = ctx.Err()
	e.transition(a, model.StatusExpired)
	return true
}

// await polls the channel until the transaction lands, the confirmation
// timeout passes, or ctx is done.
func (e *Engine) await(ctx context.Context, hash common.Hash) (TxStatus, error) {
	deadline := time.NewTimer(e.cfg.ConfirmationTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		status, err := e.channel.Status(ctx, hash)
		if err != nil {
			e.logger.Debug("status poll failed", zap.String("tx_hash", hash.Hex()), zap.Error(err))
		} else if status != TxPending {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return TxPending, ctx.Err()
		case <-deadline.C:
			return TxPending, &model.ConfirmationTimeoutError{TxHash: hash, Timeout: e.cfg.ConfirmationTimeout}
		case <-ticker.C:
		}
	}
}

func (e *Engine) transition(a *model.ExecutionAttempt, next model.AttemptStatus) {
	if err := a.Transition(next); err != nil {
		// unreachable with the lifecycle above
		e.logger.Error("attempt transition", zap.String("attempt", a.ID), zap.Error(err))
	}
}

func (e *Engine) finish(a *model.ExecutionAttempt) {
	a.FinishedAt = e.now().UTC()
	e.metrics.Attempt(string(a.Status))

	fields := []zap.Field{
		zap.String("attempt", a.ID),
		zap.String("opportunity", a.Opportunity.ID),
		zap.String("pair", a.Opportunity.Pair.String()),
		zap.String("status", string(a.Status)),
		zap.Int("rounds", a.Attempt),
		zap.String("channel", e.channel.Name()),
	}
	if a.TxHash != (common.Hash{}) {
		fields = append(fields, zap.String("tx_hash", a.TxHash.Hex()))
	}
	if a.LastError != nil {
		fields = append(fields, zap.Error(a.LastError))
	}
	e.logger.Info("attempt finished", fields...)

	if e.publisher != nil {
		e.publisher.Publish(model.NewOutcome(a, e.channel.Name()))
	}
}
