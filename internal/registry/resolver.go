package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"spreadScope/internal/dex"
	"spreadScope/internal/model"
)

var errRejected = errors.New("pool rejected")

// Enqueue asks the resolver to register a pool seen in the stream but not yet
// tracked. It never blocks: duplicates, recently rejected addresses and
// requests beyond the queue capacity are dropped.
func (r *Registry) Enqueue(addr common.Address, family model.Family) bool {
	if _, known := r.Lookup(addr); known && r.store != nil {
		if _, ok := r.store.Snapshot(addr); ok {
			return false
		}
	}
	return r.enqueue(request{addr: addr, family: family})
}

// Resync asks the resolver to reload the state of a tracked pool, for
// example after a delta could not be applied.
func (r *Registry) Resync(addr common.Address) bool {
	id, ok := r.Lookup(addr)
	if !ok {
		return false
	}
	return r.enqueue(request{addr: addr, family: id.Family, force: true})
}

func (r *Registry) enqueue(req request) bool {
	r.queueMu.Lock()
	defer r.queueMu.Unlock()

	if until, ok := r.rejected[req.addr]; ok && !req.force {
		if until.IsZero() || r.now().Before(until) {
			return false
		}
		delete(r.rejected, req.addr)
	}
	if _, ok := r.queued[req.addr]; ok {
		return false
	}
	select {
	case r.queue <- req:
		r.queued[req.addr] = struct{}{}
		return true
	default:
		return false
	}
}

func (r *Registry) resolveLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-r.queue:
			err := r.resolve(ctx, req)
			r.queueMu.Lock()
			delete(r.queued, req.addr)
			r.queueMu.Unlock()

			switch {
			case err == nil:
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, errRejected):
				r.logger.Debug("late registration rejected", zap.String("pool", req.addr.Hex()), zap.Error(err))
			default:
				r.logger.Warn("late registration failed", zap.String("pool", req.addr.Hex()), zap.String("family", req.family.String()), zap.Error(err))
				r.reject(req.addr, r.now().Add(r.cfg.RejectTTL))
			}
		}
	}
}

// resolve registers one pool and loads its state. A known pool only has its
// state reloaded.
func (r *Registry) resolve(ctx context.Context, req request) error {
	id, known := r.Lookup(req.addr)
	if !known {
		err := r.retry(ctx, func(ctx context.Context) error {
			var err error
			id, err = dex.FetchIdentity(ctx, r.chain, req.addr, req.family)
			return err
		})
		if err != nil {
			// not a pool of this family
			r.reject(req.addr, time.Time{})
			return fmt.Errorf("%w: identity: %v", errRejected, err)
		}
		if !r.cfg.factoryAllowed(id) {
			r.reject(req.addr, time.Time{})
			return fmt.Errorf("%w: factory %s not configured for %s", errRejected, id.Factory.Hex(), id.Family)
		}
	}

	head, err := r.head(ctx)
	if err != nil {
		return err
	}
	st, err := r.fetchState(ctx, id, head)
	if err != nil {
		return err
	}

	if !known {
		if !r.meetsFloor(id, st) {
			r.reject(req.addr, r.now().Add(r.cfg.RejectTTL))
			return fmt.Errorf("%w: below liquidity floor", errRejected)
		}
		if r.Register(id) && r.catalog != nil {
			if err := r.catalog.SavePools(ctx, []model.PoolIdentity{id}); err != nil {
				r.logger.Warn("save catalog failed", zap.String("pool", id.Address.Hex()), zap.Error(err))
			}
		}
		r.logger.Info("pool registered from stream", zap.String("pool", id.Address.Hex()), zap.String("family", id.Family.String()), zap.String("pair", id.Pair().String()))
	}
	r.install(id, st, head)
	return nil
}

// reject keeps addr out of the queue until the given time. A zero time
// rejects it for the life of the process.
func (r *Registry) reject(addr common.Address, until time.Time) {
	r.queueMu.Lock()
	r.rejected[addr] = until
	r.queueMu.Unlock()
}
