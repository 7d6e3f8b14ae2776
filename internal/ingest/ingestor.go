package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"spreadScope/internal/chain"
	"spreadScope/internal/dex"
	"spreadScope/internal/metrics"
	"spreadScope/internal/model"
	"spreadScope/internal/state"
)

// Result labels of the ingest counter.
const (
	ResultApplied     = "applied"
	ResultStale       = "stale"
	ResultDecodeError = "decode_error"
	ResultUnknown     = "unknown_pool"
	ResultRejected    = "rejected"
	ResultRemoved     = "removed"
)

// Registry is the late registration surface of the pool registry.
type Registry interface {
	Enqueue(addr common.Address, family model.Family) bool
	Resync(addr common.Address) bool
}

// Config holds ingestor settings.
type Config struct {
	// StartBlock is where backfill begins on the first connection. Zero skips
	// the first backfill.
	StartBlock     uint64
	BatchSize      uint64
	MaxRetries     int
	RetryBackoff   time.Duration
	ReconnectDelay time.Duration
	MaxReconnect   time.Duration
}

// Health is a point-in-time view of the ingestor.
type Health struct {
	Connected    bool           `json:"connected"`
	LastEventAt  time.Time      `json:"last_event_at"`
	LastSequence model.Sequence `json:"last_sequence"`
	Reconnects   int            `json:"reconnects"`
}

// Ingestor is the single consumer of the log feed. It decodes pool logs and
// applies them to the state store.
type Ingestor struct {
	cfg        Config
	feed       Feed
	chain      chain.LogFilterer
	dispatcher *dex.Dispatcher
	store      *state.Store
	registry   Registry
	metrics    *metrics.Metrics
	logger     *zap.Logger

	// lastBlock is the highest block seen; only the Run goroutine touches it.
	lastBlock uint64

	mu     sync.RWMutex
	health Health
	now    func() time.Time
}

func NewIngestor(cfg Config, feed Feed, filterer chain.LogFilterer, dispatcher *dex.Dispatcher, store *state.Store, registry Registry, m *metrics.Metrics, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 2000
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.MaxReconnect <= 0 {
		cfg.MaxReconnect = time.Minute
	}
	return &Ingestor{
		cfg:        cfg,
		feed:       feed,
		chain:      filterer,
		dispatcher: dispatcher,
		store:      store,
		registry:   registry,
		metrics:    m,
		logger:     logger,
		lastBlock:  cfg.StartBlock,
		now:        time.Now,
	}
}

// Health returns the current feed health.
func (i *Ingestor) Health() Health {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.health
}

// Run consumes the feed until ctx is done, resubscribing with capped
// exponential backoff whenever the connection drops.
func (i *Ingestor) Run(ctx context.Context) error {
	if i.feed == nil || i.dispatcher == nil || i.store == nil {
		return fmt.Errorf("ingestor is missing a feed, dispatcher or store")
	}

	delay := i.cfg.ReconnectDelay
	for {
		handled, err := i.session(ctx)
		i.setConnected(false)
		if ctx.Err() != nil {
			return nil
		}
		if handled > 0 {
			delay = i.cfg.ReconnectDelay
		}

		i.mu.Lock()
		i.health.Reconnects++
		i.mu.Unlock()
		i.metrics.Reconnect()
		i.logger.Warn("feed disconnected, resubscribing", zap.Error(err), zap.Duration("backoff", delay), zap.Uint64("resume_block", i.lastBlock))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		delay *= 2
		if delay > i.cfg.MaxReconnect {
			delay = i.cfg.MaxReconnect
		}
	}
}

// session runs one subscription: backfill the gap since the last seen block,
// then consume live logs until the subscription fails.
func (i *Ingestor) session(ctx context.Context) (int, error) {
	topics := i.dispatcher.Topics()
	sub, err := i.feed.Subscribe(ctx, FeedFilter{Topics: topics})
	if err != nil {
		return 0, fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Close()
	i.setConnected(true)

	handled := 0
	if i.lastBlock > 0 && i.chain != nil {
		n, err := i.backfill(ctx, topics)
		handled += n
		if err != nil {
			return handled, err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return handled, nil
		case err := <-sub.Err():
			return handled, err
		case log := <-sub.Logs():
			i.handle(log)
			handled++
		}
	}
}

// backfill replays logs from the last seen block to the head. Logs already
// reflected in the store are discarded as stale.
func (i *Ingestor) backfill(ctx context.Context, topics []common.Hash) (int, error) {
	var head uint64
	err := chain.WithRetry(ctx, i.cfg.MaxRetries, i.cfg.RetryBackoff, 0, func(ctx context.Context) error {
		var err error
		head, err = i.chain.LatestBlockNumber(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("backfill head: %w", err)
	}
	from := i.lastBlock
	if from > head {
		return 0, nil
	}
	ranges, err := chain.SplitRange(from, head, i.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	handled := 0
	for _, blockRange := range ranges {
		var logs []types.Log
		err := chain.WithRetry(ctx, i.cfg.MaxRetries, i.cfg.RetryBackoff, 0, func(ctx context.Context) error {
			var err error
			logs, err = i.chain.FilterLogs(ctx, blockRange.From, blockRange.To, nil, topics)
			if err != nil {
				i.logger.Warn("backfill filter logs failed", zap.Error(err), zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))
			}
			return err
		})
		if err != nil {
			return handled, fmt.Errorf("backfill %d-%d: %w", blockRange.From, blockRange.To, err)
		}
		for _, log := range logs {
			i.handle(log)
			handled++
		}
	}
	i.logger.Info("backfill complete", zap.Uint64("from", from), zap.Uint64("to", head), zap.Int("logs", handled))
	return handled, nil
}

// handle applies one log. Every failure is local to the log.
func (i *Ingestor) handle(log types.Log) {
	if log.BlockNumber > i.lastBlock {
		i.lastBlock = log.BlockNumber
	}
	i.mu.Lock()
	i.health.LastEventAt = i.now()
	i.mu.Unlock()

	if log.Removed {
		// a reorged log may already be applied; reload the pool
		i.metrics.IngestEvent(ResultRemoved)
		if i.registry != nil {
			i.registry.Resync(log.Address)
		}
		return
	}

	update, err := i.dispatcher.Decode(log)
	if err != nil {
		i.metrics.IngestEvent(ResultDecodeError)
		i.logger.Warn("skip undecodable log", zap.String("pool", log.Address.Hex()), zap.Uint64("block", log.BlockNumber), zap.Uint("index", log.Index), zap.Error(err))
		return
	}

	_, err = i.store.Apply(*update)
	var stale *model.StaleDataError
	switch {
	case err == nil:
		i.metrics.IngestEvent(ResultApplied)
		i.mu.Lock()
		i.health.LastSequence = update.Sequence
		i.mu.Unlock()
	case errors.As(err, &stale):
		i.metrics.IngestEvent(ResultStale)
		i.logger.Debug("discard stale log", zap.String("pool", update.Pool.Hex()), zap.Stringer("incoming", stale.Incoming), zap.Stringer("current", stale.Current))
	case errors.Is(err, model.ErrUnknownPool):
		i.metrics.IngestEvent(ResultUnknown)
		if i.registry != nil {
			i.registry.Enqueue(update.Pool, update.Family)
		}
	default:
		i.metrics.IngestEvent(ResultRejected)
		i.logger.Warn("delta rejected, resyncing pool", zap.String("pool", update.Pool.Hex()), zap.Stringer("sequence", update.Sequence), zap.Error(err))
		if i.registry != nil {
			i.registry.Resync(update.Pool)
		}
	}
}

func (i *Ingestor) setConnected(connected bool) {
	i.mu.Lock()
	i.health.Connected = connected
	i.mu.Unlock()
}
