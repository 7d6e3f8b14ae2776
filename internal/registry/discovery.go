package registry

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"spreadScope/internal/chain"
	"spreadScope/internal/dex"
	"spreadScope/internal/model"
)

// Discover scans factory creation events from the discovery cursor to the
// chain head. Every new pool whose quote-side liquidity meets the floor is
// registered, initialized in the store and saved to the catalog. The cursor
// advances after each batch, so an interrupted scan resumes where it stopped.
func (r *Registry) Discover(ctx context.Context) ([]model.PoolIdentity, error) {
	factories, topics, byTopic, err := r.creationFilter()
	if err != nil {
		return nil, err
	}
	if len(factories) == 0 {
		return nil, nil
	}

	from := r.cfg.DiscoveryFrom
	last, ok, err := r.cursor.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load discovery cursor: %w", err)
	}
	if ok && last+1 > from {
		from = last + 1
	}

	head, err := r.head(ctx)
	if err != nil {
		return nil, err
	}
	if from > head {
		return nil, nil
	}

	batch := r.cfg.BatchSize
	if batch == 0 {
		batch = 2000
	}
	ranges, err := chain.SplitRange(from, head, batch)
	if err != nil {
		return nil, err
	}

	var found []model.PoolIdentity
	for _, blockRange := range ranges {
		if err := ctx.Err(); err != nil {
			return found, err
		}

		var logs []types.Log
		err := r.retry(ctx, func(ctx context.Context) error {
			var err error
			logs, err = r.chain.FilterLogs(ctx, blockRange.From, blockRange.To, factories, topics)
			if err != nil {
				r.logger.Warn("filter creation logs failed", zap.Error(err), zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))
			}
			return err
		})
		if err != nil {
			return found, fmt.Errorf("filter creation logs %d-%d: %w", blockRange.From, blockRange.To, err)
		}

		created := r.parseCreations(logs, byTopic)
		added, err := r.admit(ctx, created)
		if err != nil {
			return found, err
		}
		found = append(found, added...)

		if err := r.cursor.Save(ctx, blockRange.To); err != nil {
			return found, fmt.Errorf("save discovery cursor: %w", err)
		}
		r.logger.Debug("discovery batch complete",
			zap.Uint64("from", blockRange.From),
			zap.Uint64("to", blockRange.To),
			zap.Int("created", len(created)),
			zap.Int("registered", len(added)),
		)
	}
	return found, nil
}

func (r *Registry) creationFilter() ([]common.Address, []common.Hash, map[common.Hash]model.Family, error) {
	var (
		factories []common.Address
		topics    []common.Hash
	)
	byTopic := make(map[common.Hash]model.Family)
	for _, family := range model.Families() {
		addrs := r.cfg.Factories[family]
		if len(addrs) == 0 {
			continue
		}
		topic, err := dex.CreationTopic(family)
		if err != nil {
			return nil, nil, nil, err
		}
		factories = append(factories, addrs...)
		topics = append(topics, topic)
		byTopic[topic] = family
	}
	return factories, topics, byTopic, nil
}

func (r *Registry) parseCreations(logs []types.Log, byTopic map[common.Hash]model.Family) []model.PoolIdentity {
	out := make([]model.PoolIdentity, 0, len(logs))
	for _, log := range logs {
		if log.Removed || len(log.Topics) == 0 {
			continue
		}
		family, ok := byTopic[log.Topics[0]]
		if !ok {
			continue
		}
		id, err := dex.ParseCreation(family, log)
		if err != nil {
			r.logger.Warn("skip creation log", zap.String("factory", log.Address.Hex()), zap.Uint64("block", log.BlockNumber), zap.Error(err))
			continue
		}
		if !r.cfg.factoryAllowed(id) {
			continue
		}
		if _, known := r.Lookup(id.Address); known {
			continue
		}
		out = append(out, id)
	}
	return out
}

// admit loads the state of newly created pools at a fresh head, since old
// blocks may already be pruned on the node, and keeps those above the floor.
func (r *Registry) admit(ctx context.Context, created []model.PoolIdentity) ([]model.PoolIdentity, error) {
	if len(created) == 0 {
		return nil, nil
	}
	head, err := r.head(ctx)
	if err != nil {
		return nil, err
	}

	added := make([]model.PoolIdentity, 0, len(created))
	for _, id := range created {
		st, err := r.fetchState(ctx, id, head)
		if err != nil {
			if ctx.Err() != nil {
				return added, ctx.Err()
			}
			r.logger.Warn("skip pool without state", zap.String("pool", id.Address.Hex()), zap.String("family", id.Family.String()), zap.Error(err))
			continue
		}
		if !r.meetsFloor(id, st) {
			r.logger.Debug("pool below liquidity floor", zap.String("pool", id.Address.Hex()), zap.String("pair", id.Pair().String()))
			continue
		}
		if !r.Register(id) {
			continue
		}
		r.install(id, st, head)
		added = append(added, id)
	}

	if r.catalog != nil && len(added) > 0 {
		if err := r.catalog.SavePools(ctx, added); err != nil {
			return added, fmt.Errorf("save catalog: %w", err)
		}
	}
	return added, nil
}
