package app

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"spreadScope/internal/amm"
	"spreadScope/internal/chain"
	"spreadScope/internal/config"
	"spreadScope/internal/dex"
	"spreadScope/internal/model"
	"spreadScope/internal/registry"
	"spreadScope/internal/state"
	"spreadScope/internal/storage"
)

// Discover runs one discovery pass into the catalog and returns the number
// of new pools per family.
func Discover(ctx context.Context, cfg config.Config, logger *zap.Logger) (map[model.Family]int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.ValidateDiscovery(); err != nil {
		return nil, err
	}

	res := &resources{}
	defer res.close()
	var err error
	if res.client, err = chain.NewClient(ctx, cfg.RPCURL); err != nil {
		return nil, fmt.Errorf("connect rpc: %w", err)
	}
	if err := openStorage(ctx, cfg, res); err != nil {
		return nil, err
	}

	var catalog storage.Catalog
	if res.catalog != nil {
		catalog = res.catalog
	}
	pools := registry.New(registryConfig(cfg), res.client, state.NewStore(), catalog, cursorStore(cfg, res), nil, logger.With(zap.String("component", "registry")))
	found, err := pools.Discover(ctx)

	counts := make(map[model.Family]int)
	for _, id := range found {
		counts[id.Family]++
	}
	return counts, err
}

// QuoteRequest names a pool and a swap to price against its live state.
type QuoteRequest struct {
	Pool       common.Address
	Family     model.Family
	Amount     *big.Int
	ZeroForOne bool
}

// QuoteReport is the result of a live quote.
type QuoteReport struct {
	Identity       model.PoolIdentity
	Block          uint64
	AmountIn       *big.Int
	AmountOut      *big.Int
	EffectivePrice decimal.Decimal
	SpotPrice      decimal.Decimal
}

// Quote fetches the pool's state at the head through eth_call and prices the
// requested swap.
func Quote(ctx context.Context, cfg config.Config, req QuoteRequest) (QuoteReport, error) {
	if cfg.RPCURL == "" {
		return QuoteReport{}, &model.ConfigurationError{Problems: []string{"rpc: endpoint is required"}}
	}
	client, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return QuoteReport{}, fmt.Errorf("connect rpc: %w", err)
	}
	defer client.Close()
	return quote(ctx, client, fetchOptions(cfg), req)
}

// quoteChain is the RPC surface a live quote needs.
type quoteChain interface {
	chain.Caller
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

func quote(ctx context.Context, client quoteChain, opts dex.FetchOptions, req QuoteRequest) (QuoteReport, error) {
	id, err := dex.FetchIdentity(ctx, client, req.Pool, req.Family)
	if err != nil {
		return QuoteReport{}, fmt.Errorf("fetch identity: %w", err)
	}
	head, err := client.LatestBlockNumber(ctx)
	if err != nil {
		return QuoteReport{}, fmt.Errorf("latest block: %w", err)
	}
	st, err := dex.FetchState(ctx, client, id, head, opts)
	if err != nil {
		return QuoteReport{}, fmt.Errorf("fetch state: %w", err)
	}
	res, err := amm.Quote(st, req.ZeroForOne, req.Amount)
	if err != nil {
		return QuoteReport{}, err
	}
	spot, err := amm.SpotPrice(st)
	if err != nil {
		return QuoteReport{}, fmt.Errorf("spot price: %w", err)
	}
	return QuoteReport{
		Identity:       id,
		Block:          head,
		AmountIn:       res.AmountIn,
		AmountOut:      res.AmountOut,
		EffectivePrice: res.EffectivePrice,
		SpotPrice:      spot,
	}, nil
}
