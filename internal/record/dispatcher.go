package record

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"spreadScope/internal/model"
)

// Sink stores or forwards terminal execution outcomes.
type Sink interface {
	Name() string
	Publish(ctx context.Context, outcome model.Outcome) error
}

// Dispatcher fans outcomes out to every sink from a single worker. Publish
// never blocks: when the buffer is full the oldest queued outcome is dropped.
type Dispatcher struct {
	sinks   []Sink
	queue   chan model.Outcome
	timeout time.Duration
	dropped atomic.Uint64
	logger  *zap.Logger
}

func NewDispatcher(size int, logger *zap.Logger, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if size <= 0 {
		size = 256
	}
	return &Dispatcher{
		sinks:   sinks,
		queue:   make(chan model.Outcome, size),
		timeout: 5 * time.Second,
		logger:  logger,
	}
}

// Publish queues outcome for the sinks.
func (d *Dispatcher) Publish(outcome model.Outcome) {
	for {
		select {
		case d.queue <- outcome:
			return
		default:
		}
		select {
		case old := <-d.queue:
			d.dropped.Add(1)
			d.logger.Warn("record buffer full, dropping oldest outcome", zap.String("attempt", old.AttemptID))
		default:
		}
	}
}

// Dropped returns how many outcomes were discarded on overflow.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Run delivers queued outcomes until ctx is done, then flushes what is still
// buffered.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case outcome := <-d.queue:
					d.deliver(outcome)
				default:
					return nil
				}
			}
		case outcome := <-d.queue:
			d.deliver(outcome)
		}
	}
}

func (d *Dispatcher) deliver(outcome model.Outcome) {
	for _, sink := range d.sinks {
		// sinks get their own deadline so the final flush works after shutdown
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := sink.Publish(ctx, outcome)
		cancel()
		if err != nil {
			d.logger.Warn("record sink failed",
				zap.String("sink", sink.Name()),
				zap.String("attempt", outcome.AttemptID),
				zap.Error(err),
			)
		}
	}
}
