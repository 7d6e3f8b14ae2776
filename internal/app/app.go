package app

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"spreadScope/internal/api"
	"spreadScope/internal/chain"
	"spreadScope/internal/config"
	"spreadScope/internal/detector"
	"spreadScope/internal/dex"
	"spreadScope/internal/execution"
	"spreadScope/internal/ingest"
	"spreadScope/internal/metrics"
	"spreadScope/internal/model"
	"spreadScope/internal/record"
	"spreadScope/internal/registry"
	"spreadScope/internal/state"
	"spreadScope/internal/storage"
	"spreadScope/internal/storage/postgres"
	"spreadScope/internal/storage/sqlite"
)

const (
	changeBuffer    = 1024
	candidateBuffer = 64
	recordBuffer    = 1024
)

// App is the assembled arbitrage pipeline.
type App struct {
	logger *zap.Logger
	res    *resources

	changes    <-chan common.Address
	registry   *registry.Registry
	ingestor   *ingest.Ingestor
	detector   *detector.Detector
	engine     *execution.Engine
	dispatcher *record.Dispatcher
	server     *api.Server
}

// resources are the connections an App owns and closes on exit.
type resources struct {
	once    sync.Once
	client  *chain.Client
	catalog *sqlite.Catalog
	pg      *postgres.Store
	rdb     *redis.Client
	relay   *execution.RelayChannel
}

func (r *resources) close() {
	r.once.Do(func() {
		if r.relay != nil {
			r.relay.Close()
		}
		if r.rdb != nil {
			_ = r.rdb.Close()
		}
		if r.pg != nil {
			r.pg.Close()
		}
		if r.catalog != nil {
			_ = r.catalog.Close()
		}
		if r.client != nil {
			r.client.Close()
		}
	})
}

// New validates cfg and builds every component of the pipeline.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	res := &resources{}
	app, err := build(ctx, cfg, logger, res)
	if err != nil {
		res.close()
		return nil, err
	}
	return app, nil
}

func build(ctx context.Context, cfg config.Config, logger *zap.Logger, res *resources) (*App, error) {
	var err error
	res.client, err = chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("connect rpc: %w", err)
	}
	chainID := new(big.Int).SetUint64(cfg.ChainID)
	if cfg.ChainID == 0 {
		if chainID, err = res.client.GetChainID(ctx); err != nil {
			return nil, fmt.Errorf("chain id: %w", err)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	if err := openStorage(ctx, cfg, res); err != nil {
		return nil, err
	}

	store := state.NewStore()
	// subscribe before anything can write to the store
	changes := store.Subscribe(changeBuffer)

	var catalog storage.Catalog
	if res.catalog != nil {
		catalog = res.catalog
	}
	pools := registry.New(registryConfig(cfg), res.client, store, catalog, cursorStore(cfg, res), m, logger.With(zap.String("component", "registry")))

	decoders, err := dex.NewDefaultDispatcher()
	if err != nil {
		return nil, fmt.Errorf("build decoders: %w", err)
	}
	head, err := res.client.LatestBlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest block: %w", err)
	}
	feed := ingest.NewWSFeed(cfg.WSURL, cfg.HeartbeatInterval, cfg.StaleFeedTimeout, logger.With(zap.String("component", "feed")))
	ingestor := ingest.NewIngestor(ingest.Config{
		StartBlock:   head,
		BatchSize:    cfg.DiscoveryBatchSize,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, feed, res.client, decoders, store, pools, m, logger.With(zap.String("component", "ingest")))

	det := detector.New(detector.Config{
		MinProfitPct:   cfg.MinProfitPct,
		MinLiquidity:   cfg.MinLiquidity,
		MaxSlippageBps: cfg.MaxSlippageBps,
		TradeSize:      cfg.TradeSize,
		GasCost:        cfg.GasCost,
		QuoteAssets:    cfg.QuoteAssets,
		RescanInterval: cfg.RescanInterval,
	}, store, m, logger.With(zap.String("component", "detector")))

	var leases execution.Manager = execution.NewMemoryLeases()
	if res.rdb != nil {
		leases = execution.NewRedisLeases(res.rdb, cfg.LeaseTTL(), logger.With(zap.String("component", "lease")))
	}

	var channel execution.Channel
	switch cfg.SubmissionMode {
	case config.ModeRelay:
		res.relay, err = execution.NewRelayChannel(ctx, cfg.RelayURL, cfg.RelayAuthHeader, res.client)
		if err != nil {
			return nil, err
		}
		channel = res.relay
	default:
		channel = execution.NewRPCChannel(res.client)
	}

	signer, err := execution.NewKeySigner(cfg.PrivateKey, chainID, cfg.ExecutorAddress, cfg.MaxSlippageBps, res.client)
	if err != nil {
		return nil, err
	}

	dispatcher := record.NewDispatcher(recordBuffer, logger.With(zap.String("component", "record")), sinks(cfg, res)...)
	engine := execution.NewEngine(execution.Config{
		ConfirmationTimeout: cfg.ConfirmationTimeout,
		PollInterval:        cfg.PollInterval,
		MaxAttempts:         cfg.MaxRetryAttempts,
		BlockOffset:         cfg.RelayBlockOffset,
	}, leases, det, signer, channel, dispatcher, m, logger.With(zap.String("component", "execution")))
	det.SetInFlight(engine)

	server := api.NewServer(api.Config{Addr: cfg.HTTPAddr, StaleAfter: cfg.StaleFeedTimeout}, ingestor, pools, reg, logger.With(zap.String("component", "api")))

	logger.Info("pipeline assembled",
		zap.Uint64("chain_id", chainID.Uint64()),
		zap.Uint64("start_block", head),
		zap.String("submission_mode", cfg.SubmissionMode),
		zap.String("signer", signer.Address().Hex()),
		zap.Strings("factories", cfg.FactoryList()),
		zap.Bool("redis", res.rdb != nil),
		zap.Bool("postgres", res.pg != nil),
	)

	return &App{
		logger:     logger,
		res:        res,
		changes:    changes,
		registry:   pools,
		ingestor:   ingestor,
		detector:   det,
		engine:     engine,
		dispatcher: dispatcher,
		server:     server,
	}, nil
}

// Run starts every stage and blocks until ctx is done or a stage fails.
// Outcomes of attempts that finish during shutdown are still recorded.
func (a *App) Run(ctx context.Context) error {
	defer a.res.close()

	recordCtx, stopRecord := context.WithCancel(context.Background())
	recordDone := make(chan struct{})
	go func() {
		defer close(recordDone)
		_ = a.dispatcher.Run(recordCtx)
	}()

	candidates := make(chan model.OpportunityCandidate, candidateBuffer)
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return a.registry.Run(gctx) })
	group.Go(func() error { return a.ingestor.Run(gctx) })
	group.Go(func() error { return a.detector.Run(gctx, a.changes, candidates) })
	group.Go(func() error { return a.engine.Run(gctx, candidates) })
	group.Go(func() error { return a.server.Run(gctx) })
	err := group.Wait()

	// the engine has drained, so no further outcomes can arrive
	stopRecord()
	<-recordDone
	if d := a.dispatcher.Dropped(); d > 0 {
		a.logger.Warn("outcomes dropped on overflow", zap.Uint64("count", d))
	}
	a.logger.Info("pipeline stopped", zap.Error(err))
	return err
}

func openStorage(ctx context.Context, cfg config.Config, res *resources) error {
	var err error
	if cfg.Catalog != "" {
		if res.catalog, err = sqlite.Open(cfg.Catalog); err != nil {
			return err
		}
	}
	if cfg.PGDSN != "" {
		if res.pg, err = postgres.NewStore(ctx, cfg.PGDSN); err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		if err := res.pg.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("postgres schema: %w", err)
		}
	}
	if cfg.RedisAddr != "" {
		res.rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := res.rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
	}
	return nil
}

// cursorStore prefers Postgres, then the cursor file. A nil store keeps the
// cursor in memory.
func cursorStore(cfg config.Config, res *resources) storage.CursorStore {
	switch {
	case res.pg != nil:
		return &postgres.CursorStore{Store: res.pg, Name: "discovery"}
	case cfg.CursorFile != "":
		return storage.NewFileCursorStore(cfg.CursorFile)
	default:
		return nil
	}
}

func sinks(cfg config.Config, res *resources) []record.Sink {
	var out []record.Sink
	if cfg.RecordOut != "" {
		out = append(out, record.NewJSONLSink(cfg.RecordOut))
	}
	if res.pg != nil {
		out = append(out, record.NewPostgresSink(res.pg))
	}
	if res.rdb != nil && cfg.RedisStream != "" {
		out = append(out, record.NewRedisStreamSink(res.rdb, cfg.RedisStream))
	}
	return out
}

func registryConfig(cfg config.Config) registry.Config {
	return registry.Config{
		Factories:     cfg.Factories,
		DiscoveryFrom: cfg.DiscoveryFrom,
		BatchSize:     cfg.DiscoveryBatchSize,
		Interval:      cfg.DiscoveryInterval,
		MinLiquidity:  cfg.MinLiquidity,
		QuoteAssets:   cfg.QuoteAssets,
		Fetch:         fetchOptions(cfg),
		MaxRetries:    cfg.MaxRetries,
		RetryBackoff:  cfg.RetryBackoff,
	}
}

func fetchOptions(cfg config.Config) dex.FetchOptions {
	return dex.FetchOptions{
		TickWindow:            cfg.TickWindow,
		BinWindow:             cfg.BinWindow,
		ConstantProductFeeBps: cfg.CPFeeBps,
	}
}
