package registry

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"spreadScope/internal/amm"
	"spreadScope/internal/chain"
	"spreadScope/internal/dex"
	"spreadScope/internal/metrics"
	"spreadScope/internal/model"
	"spreadScope/internal/state"
	"spreadScope/internal/storage"
)

const maxBackoff = 30 * time.Second

// Chain is the RPC surface discovery and late registration need.
type Chain interface {
	chain.Caller
	chain.LogFilterer
}

// Config holds registry settings.
type Config struct {
	Factories     map[model.Family][]common.Address
	DiscoveryFrom uint64
	BatchSize     uint64
	Interval      time.Duration
	MinLiquidity  *big.Int
	QuoteAssets   []common.Address
	Fetch         dex.FetchOptions
	MaxRetries    int
	RetryBackoff  time.Duration
	// QueueSize bounds the late registration queue.
	QueueSize int
	// RejectTTL is how long a pool that failed the liquidity floor is left
	// alone before the stream may enqueue it again.
	RejectTTL time.Duration
	// Workers bounds concurrent state fetches during warm start.
	Workers int
}

type request struct {
	addr   common.Address
	family model.Family
	force  bool
}

// Registry tracks the pools the pipeline prices, indexed by address and by
// asset pair.
type Registry struct {
	cfg     Config
	chain   Chain
	store   *state.Store
	catalog storage.Catalog
	cursor  storage.CursorStore
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu     sync.RWMutex
	pools  map[common.Address]model.PoolIdentity
	byPair map[model.AssetPairKey][]common.Address

	queue    chan request
	queueMu  sync.Mutex
	queued   map[common.Address]struct{}
	rejected map[common.Address]time.Time

	now func() time.Time
}

// New builds a Registry. catalog and cursor may be nil.
func New(cfg Config, chainClient Chain, store *state.Store, catalog storage.Catalog, cursor storage.CursorStore, m *metrics.Metrics, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cursor == nil {
		cursor = &storage.MemoryCursorStore{}
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.RejectTTL <= 0 {
		cfg.RejectTTL = 10 * time.Minute
	}
	return &Registry{
		cfg:      cfg,
		chain:    chainClient,
		store:    store,
		catalog:  catalog,
		cursor:   cursor,
		metrics:  m,
		logger:   logger,
		pools:    make(map[common.Address]model.PoolIdentity),
		byPair:   make(map[model.AssetPairKey][]common.Address),
		queue:    make(chan request, cfg.QueueSize),
		queued:   make(map[common.Address]struct{}),
		rejected: make(map[common.Address]time.Time),
		now:      time.Now,
	}
}

// Register adds a pool identity. It returns false when the address is
// already known, in which case nothing changes.
func (r *Registry) Register(id model.PoolIdentity) bool {
	r.mu.Lock()
	if _, ok := r.pools[id.Address]; ok {
		r.mu.Unlock()
		return false
	}
	r.pools[id.Address] = id
	pair := id.Pair()
	r.byPair[pair] = append(r.byPair[pair], id.Address)
	n := len(r.pools)
	r.mu.Unlock()

	r.metrics.SetRegistryPools(n)
	return true
}

func (r *Registry) Lookup(addr common.Address) (model.PoolIdentity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.pools[addr]
	return id, ok
}

// PoolsForPair returns every pool trading the pair, ordered by address.
func (r *Registry) PoolsForPair(pair model.AssetPairKey) []model.PoolIdentity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.PoolIdentity, 0, len(r.byPair[pair]))
	for _, addr := range r.byPair[pair] {
		out = append(out, r.pools[addr])
	}
	sortIdentities(out)
	return out
}

// Pairs returns every pair with at least two pools, the only pairs an
// arbitrage can exist on.
func (r *Registry) Pairs() []model.AssetPairKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.AssetPairKey, 0, len(r.byPair))
	for pair, addrs := range r.byPair {
		if len(addrs) > 1 {
			out = append(out, pair)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func (r *Registry) All() []model.PoolIdentity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.PoolIdentity, 0, len(r.pools))
	for _, id := range r.pools {
		out = append(out, id)
	}
	sortIdentities(out)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pools)
}

// Run warms the registry from the catalog, then runs late registration and
// periodic discovery until ctx is done.
func (r *Registry) Run(ctx context.Context) error {
	if err := r.warmStart(ctx); err != nil {
		r.logger.Warn("warm start failed", zap.Error(err))
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return r.resolveLoop(ctx) })
	group.Go(func() error { return r.discoveryLoop(ctx) })
	return group.Wait()
}

func (r *Registry) discoveryLoop(ctx context.Context) error {
	interval := r.cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		start := r.now()
		found, err := r.Discover(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Warn("discovery round failed", zap.Error(err))
		} else {
			r.logger.Info("discovery round complete", zap.Int("new_pools", len(found)), zap.Int("tracked", r.Len()), zap.Duration("took", r.now().Sub(start)))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// warmStart registers catalog pools and loads their state at the current
// head. Pools whose state cannot be read are left to the resolver.
func (r *Registry) warmStart(ctx context.Context) error {
	if r.catalog == nil {
		return nil
	}
	pools, err := r.catalog.LoadPools(ctx)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	if len(pools) == 0 {
		return nil
	}

	head, err := r.head(ctx)
	if err != nil {
		return err
	}

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(r.cfg.Workers)
	for _, id := range pools {
		if !r.cfg.factoryAllowed(id) {
			continue
		}
		r.Register(id)
		id := id
		group.Go(func() error {
			st, err := r.fetchState(gctx, id, head)
			if err != nil {
				r.logger.Warn("warm start state fetch failed", zap.String("pool", id.Address.Hex()), zap.Error(err))
				r.Resync(id.Address)
				return nil
			}
			r.install(id, st, head)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	r.logger.Info("warm start complete", zap.Int("pools", len(pools)), zap.Int("initialized", r.store.Len()), zap.Uint64("block", head))
	return nil
}

// Refresh reloads the state of a known pool at the current head.
func (r *Registry) Refresh(ctx context.Context, addr common.Address) error {
	id, ok := r.Lookup(addr)
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrUnknownPool, addr.Hex())
	}
	head, err := r.head(ctx)
	if err != nil {
		return err
	}
	st, err := r.fetchState(ctx, id, head)
	if err != nil {
		return err
	}
	r.install(id, st, head)
	return nil
}

func (r *Registry) install(id model.PoolIdentity, st model.PoolState, block uint64) {
	if r.store == nil {
		return
	}
	if _, err := r.store.Init(id, st, model.AtBlock(block)); err != nil {
		// the stream already moved past this block
		r.logger.Debug("state init skipped", zap.String("pool", id.Address.Hex()), zap.Error(err))
	}
}

// meetsFloor reports whether the quote side of the pool holds more than the
// configured minimum liquidity.
func (r *Registry) meetsFloor(id model.PoolIdentity, st model.PoolState) bool {
	quote, _ := id.Pair().Quote(r.cfg.QuoteAssets)
	liq := amm.Liquidity(st, quote == id.Token1)
	if liq.Sign() <= 0 {
		return false
	}
	return r.cfg.MinLiquidity == nil || liq.Cmp(r.cfg.MinLiquidity) > 0
}

func (r *Registry) head(ctx context.Context) (uint64, error) {
	var head uint64
	err := r.retry(ctx, func(ctx context.Context) error {
		var err error
		head, err = r.chain.LatestBlockNumber(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("get latest block: %w", err)
	}
	return head, nil
}

func (r *Registry) fetchState(ctx context.Context, id model.PoolIdentity, block uint64) (model.PoolState, error) {
	var st model.PoolState
	err := r.retry(ctx, func(ctx context.Context) error {
		var err error
		st, err = dex.FetchState(ctx, r.chain, id, block, r.cfg.Fetch)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch state %s: %w", id.Address.Hex(), err)
	}
	return st, nil
}

func (r *Registry) retry(ctx context.Context, fn func(context.Context) error) error {
	return chain.WithRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, maxBackoff, fn)
}

func (c Config) factoryAllowed(id model.PoolIdentity) bool {
	for _, f := range c.Factories[id.Family] {
		if f == id.Factory {
			return true
		}
	}
	return false
}

func sortIdentities(ids []model.PoolIdentity) {
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i].Address.Bytes(), ids[j].Address.Bytes()) < 0
	})
}
