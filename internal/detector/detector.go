package detector

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"spreadScope/internal/amm"
	"spreadScope/internal/metrics"
	"spreadScope/internal/model"
	"spreadScope/internal/state"
)

// Outcome labels of the candidate counter.
const (
	OutcomeEmitted        = "emitted"
	OutcomeBelowThreshold = "below_threshold"
	OutcomeBelowLiquidity = "below_liquidity"
	OutcomeInsufficient   = "insufficient_liquidity"
	OutcomeQuoteError     = "quote_error"
	OutcomeInFlight       = "in_flight"
)

var (
	ErrBelowThreshold = errors.New("profit does not clear the threshold")
	ErrBelowLiquidity = errors.New("pool below liquidity floor")
)

var (
	bpsDenominator = big.NewInt(10_000)
	hundred        = decimal.NewFromInt(100)
)

// Config holds the detection thresholds.
type Config struct {
	// MinProfitPct is exclusive: a route must be strictly more profitable.
	MinProfitPct   decimal.Decimal
	MinLiquidity   *big.Int
	MaxSlippageBps uint32
	TradeSize      *big.Int
	GasCost        *big.Int
	QuoteAssets    []common.Address
	// RescanInterval re-evaluates every pair in case change notices were
	// dropped.
	RescanInterval time.Duration
}

// InFlight reports whether an execution attempt holds the pair.
type InFlight interface {
	InFlight(pair model.AssetPairKey) bool
}

// Detector scores buy-low/sell-high routes between the pools of each pair.
type Detector struct {
	cfg      Config
	store    *state.Store
	inflight InFlight
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

func New(cfg Config, store *state.Store, m *metrics.Metrics, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RescanInterval <= 0 {
		cfg.RescanInterval = 5 * time.Second
	}
	return &Detector{cfg: cfg, store: store, metrics: m, logger: logger, now: time.Now}
}

// SetInFlight installs the execution guard consulted before emitting. It
// must be called before Run.
func (d *Detector) SetInFlight(f InFlight) {
	d.inflight = f
}

// Run evaluates the pairs of changed pools and sends profitable candidates to
// out in descending net profit order. All queued notices are drained into one
// cycle, so a burst of updates to a pair is evaluated once.
func (d *Detector) Run(ctx context.Context, changes <-chan common.Address, out chan<- model.OpportunityCandidate) error {
	ticker := time.NewTicker(d.cfg.RescanInterval)
	defer ticker.Stop()

	for {
		var pairs []model.AssetPairKey
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pairs = d.store.Pairs()
		case addr := <-changes:
			dirty := make(map[model.AssetPairKey]struct{})
			d.markDirty(dirty, addr)
		drain:
			for {
				select {
				case addr := <-changes:
					d.markDirty(dirty, addr)
				default:
					break drain
				}
			}
			for pair := range dirty {
				pairs = append(pairs, pair)
			}
		}

		for _, candidate := range d.Evaluate(pairs) {
			select {
			case out <- candidate:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (d *Detector) markDirty(dirty map[model.AssetPairKey]struct{}, addr common.Address) {
	if snap, ok := d.store.Snapshot(addr); ok {
		dirty[snap.Identity.Pair()] = struct{}{}
	}
}

// Evaluate returns the best candidate of each pair that clears every
// threshold, sorted by descending net profit.
func (d *Detector) Evaluate(pairs []model.AssetPairKey) []model.OpportunityCandidate {
	var out []model.OpportunityCandidate
	for _, pair := range pairs {
		candidate, ok := d.evaluatePair(pair)
		if !ok {
			continue
		}
		out = append(out, candidate)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].NetProfit.Cmp(out[j].NetProfit) > 0
	})
	for _, c := range out {
		d.metrics.Candidate(OutcomeEmitted)
		d.logger.Info("opportunity",
			zap.String("id", c.ID),
			zap.String("pair", c.Pair.String()),
			zap.String("buy_pool", c.BuyPool.Address.Hex()),
			zap.String("sell_pool", c.SellPool.Address.Hex()),
			zap.String("net_profit", c.NetProfit.String()),
			zap.String("profit_pct", c.ProfitPct.StringFixed(4)),
		)
	}
	return out
}

type buyQuote struct {
	snap  *model.PoolSnapshot
	base  *big.Int
	price decimal.Decimal
}

func (d *Detector) evaluatePair(pair model.AssetPairKey) (model.OpportunityCandidate, bool) {
	if d.inflight != nil && d.inflight.InFlight(pair) {
		d.metrics.Candidate(OutcomeInFlight)
		return model.OpportunityCandidate{}, false
	}
	snaps := d.store.SnapshotPair(pair)
	if len(snaps) < 2 {
		return model.OpportunityCandidate{}, false
	}
	quote, base := pair.Quote(d.cfg.QuoteAssets)

	eligible := make([]*model.PoolSnapshot, 0, len(snaps))
	for _, snap := range snaps {
		if err := d.checkLiquidity(snap, quote); err != nil {
			d.metrics.Candidate(OutcomeBelowLiquidity)
			continue
		}
		eligible = append(eligible, snap)
	}

	buys := make([]buyQuote, 0, len(eligible))
	for _, snap := range eligible {
		res, err := amm.Quote(snap.State, quote == snap.Identity.Token0, d.cfg.TradeSize)
		if err != nil {
			d.quoteFailed(snap, err)
			continue
		}
		if res.AmountOut.Sign() == 0 {
			continue
		}
		buys = append(buys, buyQuote{snap: snap, base: res.AmountOut, price: amm.Ratio(d.cfg.TradeSize, res.AmountOut)})
	}
	// cheapest base first
	sort.SliceStable(buys, func(i, j int) bool { return buys[i].price.LessThan(buys[j].price) })

	var (
		best  model.OpportunityCandidate
		found bool
	)
	for _, buy := range buys {
		for _, sell := range eligible {
			if sell.Identity.Address == buy.snap.Identity.Address {
				continue
			}
			candidate, err := d.route(pair, quote, base, buy.snap, sell, d.cfg.TradeSize, buy.base)
			if err != nil {
				d.quoteFailed(sell, err)
				continue
			}
			if !found || candidate.NetProfit.Cmp(best.NetProfit) > 0 {
				best, found = candidate, true
			}
		}
	}
	if !found {
		return model.OpportunityCandidate{}, false
	}
	if !best.ProfitPct.GreaterThan(d.cfg.MinProfitPct) {
		d.metrics.Candidate(OutcomeBelowThreshold)
		return model.OpportunityCandidate{}, false
	}
	best.ID = uuid.NewString()
	best.DiscoveredAt = d.now().UTC()
	return best, true
}

// Requote prices a candidate's route again from the latest snapshots. It
// returns ErrBelowThreshold or ErrBelowLiquidity when the route no longer
// qualifies. The in-flight guard is not consulted.
func (d *Detector) Requote(opp model.OpportunityCandidate) (model.OpportunityCandidate, error) {
	buy, ok := d.store.Snapshot(opp.BuyPool.Address)
	if !ok {
		return model.OpportunityCandidate{}, fmt.Errorf("%w: %s", model.ErrUnknownPool, opp.BuyPool.Address.Hex())
	}
	sell, ok := d.store.Snapshot(opp.SellPool.Address)
	if !ok {
		return model.OpportunityCandidate{}, fmt.Errorf("%w: %s", model.ErrUnknownPool, opp.SellPool.Address.Hex())
	}
	for _, snap := range []*model.PoolSnapshot{buy, sell} {
		if err := d.checkLiquidity(snap, opp.QuoteAsset); err != nil {
			return model.OpportunityCandidate{}, err
		}
	}

	res, err := amm.Quote(buy.State, opp.QuoteAsset == buy.Identity.Token0, opp.AmountIn)
	if err != nil {
		return model.OpportunityCandidate{}, err
	}
	next, err := d.route(opp.Pair, opp.QuoteAsset, opp.BaseAsset, buy, sell, opp.AmountIn, res.AmountOut)
	if err != nil {
		return model.OpportunityCandidate{}, err
	}
	if !next.ProfitPct.GreaterThan(d.cfg.MinProfitPct) {
		return next, fmt.Errorf("%w: %s%% <= %s%%", ErrBelowThreshold, next.ProfitPct.StringFixed(4), d.cfg.MinProfitPct.String())
	}
	next.ID = opp.ID
	next.DiscoveredAt = opp.DiscoveredAt
	return next, nil
}

// route sells baseOut bought on buy into sell and scores the round trip:
// net = out - in - gas - out*slippage.
func (d *Detector) route(pair model.AssetPairKey, quote, base common.Address, buy, sell *model.PoolSnapshot, amountIn, baseOut *big.Int) (model.OpportunityCandidate, error) {
	res, err := amm.Quote(sell.State, base == sell.Identity.Token0, baseOut)
	if err != nil {
		return model.OpportunityCandidate{}, err
	}
	out := res.AmountOut

	net := new(big.Int).Sub(out, amountIn)
	if d.cfg.GasCost != nil {
		net.Sub(net, d.cfg.GasCost)
	}
	buffer := new(big.Int).Mul(out, big.NewInt(int64(d.cfg.MaxSlippageBps)))
	net.Sub(net, buffer.Quo(buffer, bpsDenominator))

	seq := buy.Sequence
	if seq.Less(sell.Sequence) {
		seq = sell.Sequence
	}
	return model.OpportunityCandidate{
		Pair:       pair,
		QuoteAsset: quote,
		BaseAsset:  base,
		BuyPool:    buy.Identity,
		SellPool:   sell.Identity,
		AmountIn:   new(big.Int).Set(amountIn),
		BaseAmount: new(big.Int).Set(baseOut),
		AmountOut:  out,
		NetProfit:  net,
		ProfitPct:  amm.Ratio(net, amountIn).Mul(hundred),
		BuyPrice:   amm.Ratio(amountIn, baseOut),
		SellPrice:  amm.Ratio(out, baseOut),
		Sequence:   seq,
	}, nil
}

// checkLiquidity requires the quote-asset side of the pool to exceed the floor.
func (d *Detector) checkLiquidity(snap *model.PoolSnapshot, quote common.Address) error {
	liq := amm.Liquidity(snap.State, quote == snap.Identity.Token1)
	if liq.Sign() <= 0 || (d.cfg.MinLiquidity != nil && liq.Cmp(d.cfg.MinLiquidity) <= 0) {
		return fmt.Errorf("%w: %s has %s", ErrBelowLiquidity, snap.Identity.Address.Hex(), liq)
	}
	return nil
}

func (d *Detector) quoteFailed(snap *model.PoolSnapshot, err error) {
	var insufficient *model.InsufficientLiquidityError
	if errors.As(err, &insufficient) {
		d.metrics.Candidate(OutcomeInsufficient)
		d.logger.Debug("pool cannot fill trade size", zap.String("pool", snap.Identity.Address.Hex()), zap.Error(err))
		return
	}
	d.metrics.Candidate(OutcomeQuoteError)
	d.logger.Warn("quote failed", zap.String("pool", snap.Identity.Address.Hex()), zap.String("family", snap.Identity.Family.String()), zap.Error(err))
}
