package execution

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"spreadScope/internal/detector"
	"spreadScope/internal/model"
)

var (
	tokenA = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	tokenB = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	tokenC = common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")
	poolX  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	poolY  = common.HexToAddress("0x2222222222222222222222222222222222222222")
	pairAB = model.NewAssetPairKey(tokenA, tokenB)
	pairAC = model.NewAssetPairKey(tokenA, tokenC)
)

func candidate(pair model.AssetPairKey) model.OpportunityCandidate {
	return model.OpportunityCandidate{
		ID:         "opp-1",
		Pair:       pair,
		QuoteAsset: pair.B,
		BaseAsset:  pair.A,
		BuyPool:    model.PoolIdentity{Family: model.FamilyConstantProduct, Address: poolX, Token0: pair.A, Token1: pair.B},
		SellPool:   model.PoolIdentity{Family: model.FamilyConstantProduct, Address: poolY, Token0: pair.A, Token1: pair.B},
		AmountIn:   big.NewInt(100),
		BaseAmount: big.NewInt(90),
		AmountOut:  big.NewInt(110),
		NetProfit:  big.NewInt(10),
		ProfitPct:  decimal.NewFromInt(10),
	}
}

type fakeRequoter struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (f *fakeRequoter) Requote(opp model.OpportunityCandidate) (model.OpportunityCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return model.OpportunityCandidate{}, f.errs[i]
	}
	return opp, nil
}

type fakeSigner struct {
	mu    sync.Mutex
	nonce uint64
}

func (f *fakeSigner) Address() common.Address { return common.HexToAddress("0x9999999999999999999999999999999999999999") }

func (f *fakeSigner) Sign(context.Context, model.OpportunityCandidate) (SignedTx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nonce++
	return SignedTx{Tx: types.NewTx(&types.DynamicFeeTx{ChainID: big.NewInt(56), Nonce: f.nonce})}, nil
}

// fakeChannel fails the first submissions listed in submitErrs and reports
// statuses[i] for the i-th accepted submission. Missing statuses confirm.
type fakeChannel struct {
	mu         sync.Mutex
	submitErrs []error
	statuses   []TxStatus
	submits    int
	accepted   int
}

func (f *fakeChannel) Name() string { return "fake" }

func (f *fakeChannel) Submit(_ context.Context, tx SignedTx, _ Hint) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.submits
	f.submits++
	if i < len(f.submitErrs) && f.submitErrs[i] != nil {
		return common.Hash{}, f.submitErrs[i]
	}
	f.accepted++
	return tx.Tx.Hash(), nil
}

func (f *fakeChannel) Status(context.Context, common.Hash) (TxStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.accepted - 1
	if i < len(f.statuses) {
		return f.statuses[i], nil
	}
	return TxConfirmed, nil
}

type fakePublisher struct {
	mu       sync.Mutex
	outcomes []model.Outcome
}

func (f *fakePublisher) Publish(outcome model.Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, outcome)
}

func (f *fakePublisher) all() []model.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Outcome(nil), f.outcomes...)
}

func testEngine(requoter *fakeRequoter, channel *fakeChannel, cfg Config) (*Engine, *fakePublisher) {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Millisecond
	}
	if cfg.ConfirmationTimeout == 0 {
		cfg.ConfirmationTimeout = time.Second
	}
	publisher := &fakePublisher{}
	return NewEngine(cfg, NewMemoryLeases(), requoter, &fakeSigner{}, channel, publisher, nil, nil), publisher
}

func TestAttemptRetriesUntilConfirmed(t *testing.T) {
	channel := &fakeChannel{
		submitErrs: []error{errors.New("nonce too low")},
		statuses:   []TxStatus{TxReverted, TxConfirmed},
	}
	engine, publisher := testEngine(&fakeRequoter{}, channel, Config{MaxAttempts: 3})

	attempt, err := engine.Submit(context.Background(), candidate(pairAB))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	engine.Wait()

	want := []model.AttemptStatus{
		model.StatusPending, model.StatusSubmitted, model.StatusFailed,
		model.StatusPending, model.StatusSubmitted, model.StatusFailed,
		model.StatusPending, model.StatusSubmitted, model.StatusConfirmed,
	}
	if !reflect.DeepEqual(attempt.History, want) {
		t.Fatalf("history mismatch:\n got %v\nwant %v", attempt.History, want)
	}
	if attempt.Attempt != 3 || attempt.LastError != nil {
		t.Fatalf("attempt %d, last error %v", attempt.Attempt, attempt.LastError)
	}

	outcomes := publisher.all()
	if len(outcomes) != 1 {
		t.Fatalf("expected one outcome, got %d", len(outcomes))
	}
	got := outcomes[0]
	if got.Status != model.StatusConfirmed || got.Attempts != 3 || got.Channel != "fake" || got.RealizedProfit != "10" || got.TxHash == "" {
		t.Fatalf("outcome mismatch: %+v", got)
	}
	if engine.InFlight(pairAB) {
		t.Fatalf("lease must be released after a terminal status")
	}
}

func TestChannelErrorsThenConfirmed(t *testing.T) {
	transient := errors.New("connection reset")
	channel := &fakeChannel{submitErrs: []error{transient, transient}}
	engine, publisher := testEngine(&fakeRequoter{}, channel, Config{MaxAttempts: 3})

	attempt, err := engine.Submit(context.Background(), candidate(pairAB))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	engine.Wait()

	want := []model.AttemptStatus{
		model.StatusPending, model.StatusSubmitted, model.StatusFailed,
		model.StatusPending, model.StatusSubmitted, model.StatusFailed,
		model.StatusPending, model.StatusSubmitted, model.StatusConfirmed,
	}
	if !reflect.DeepEqual(attempt.History, want) {
		t.Fatalf("history mismatch:\n got %v\nwant %v", attempt.History, want)
	}
	if channel.submits != 3 || channel.accepted != 1 {
		t.Fatalf("submits %d, accepted %d", channel.submits, channel.accepted)
	}
	if out := publisher.all(); len(out) != 1 || out[0].Status != model.StatusConfirmed || out[0].Attempts != 3 {
		t.Fatalf("outcome mismatch: %+v", out)
	}
}

func TestAttemptFailsAfterMaxAttempts(t *testing.T) {
	channel := &fakeChannel{statuses: []TxStatus{TxReverted, TxReverted, TxReverted}}
	engine, publisher := testEngine(&fakeRequoter{}, channel, Config{MaxAttempts: 2})

	attempt, err := engine.Submit(context.Background(), candidate(pairAB))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	engine.Wait()

	if attempt.Status != model.StatusFailed || attempt.Attempt != 2 || channel.submits != 2 {
		t.Fatalf("status %s after %d rounds and %d submits", attempt.Status, attempt.Attempt, channel.submits)
	}
	if out := publisher.all(); len(out) != 1 || out[0].RealizedProfit != "0" || out[0].Error == "" {
		t.Fatalf("outcome mismatch: %+v", out)
	}
}

func TestSubmissionErrorIsTyped(t *testing.T) {
	channel := &fakeChannel{submitErrs: []error{errors.New("relay rejected bundle")}}
	engine, _ := testEngine(&fakeRequoter{}, channel, Config{MaxAttempts: 1})

	attempt, err := engine.Submit(context.Background(), candidate(pairAB))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	engine.Wait()

	var subErr *model.SubmissionError
	if attempt.Status != model.StatusFailed || !errors.As(attempt.LastError, &subErr) || subErr.Channel != "fake" {
		t.Fatalf("expected a submission error, got %s %v", attempt.Status, attempt.LastError)
	}
}

func TestConfirmationTimeoutExpires(t *testing.T) {
	channel := &fakeChannel{statuses: []TxStatus{TxPending}}
	engine, publisher := testEngine(&fakeRequoter{}, channel, Config{MaxAttempts: 3, ConfirmationTimeout: 30 * time.Millisecond})

	attempt, err := engine.Submit(context.Background(), candidate(pairAB))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	engine.Wait()

	var timeout *model.ConfirmationTimeoutError
	if attempt.Status != model.StatusExpired || !errors.As(attempt.LastError, &timeout) {
		t.Fatalf("expected expiry by timeout, got %s %v", attempt.Status, attempt.LastError)
	}
	if timeout.TxHash != attempt.TxHash || channel.submits != 1 {
		t.Fatalf("expired attempts are not retried: %d submits", channel.submits)
	}
	if out := publisher.all(); len(out) != 1 || out[0].Status != model.StatusExpired {
		t.Fatalf("outcome mismatch: %+v", out)
	}
}

func TestAttemptAbandonedWhenRequoteFallsShort(t *testing.T) {
	requoter := &fakeRequoter{errs: []error{fmt.Errorf("%w: 1.2%% <= 1.5%%", detector.ErrBelowThreshold)}}
	channel := &fakeChannel{}
	engine, publisher := testEngine(requoter, channel, Config{MaxAttempts: 3})

	attempt, err := engine.Submit(context.Background(), candidate(pairAB))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	engine.Wait()

	want := []model.AttemptStatus{model.StatusPending, model.StatusAbandoned}
	if !reflect.DeepEqual(attempt.History, want) || channel.submits != 0 {
		t.Fatalf("history %v with %d submits", attempt.History, channel.submits)
	}
	if out := publisher.all(); len(out) != 1 || out[0].Status != model.StatusAbandoned {
		t.Fatalf("outcome mismatch: %+v", out)
	}
}

func TestAttemptAbandonedWhenRequoteLacksLiquidity(t *testing.T) {
	requoter := &fakeRequoter{errs: []error{&model.InsufficientLiquidityError{
		Pool:      poolY,
		Requested: big.NewInt(100),
		Filled:    big.NewInt(40),
	}}}
	channel := &fakeChannel{}
	engine, publisher := testEngine(requoter, channel, Config{MaxAttempts: 3})

	attempt, err := engine.Submit(context.Background(), candidate(pairAB))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	engine.Wait()

	want := []model.AttemptStatus{model.StatusPending, model.StatusAbandoned}
	if !reflect.DeepEqual(attempt.History, want) {
		t.Fatalf("history mismatch: %v", attempt.History)
	}
	if requoter.calls != 1 || channel.submits != 0 {
		t.Fatalf("requotes %d, submits %d", requoter.calls, channel.submits)
	}
	if out := publisher.all(); len(out) != 1 || out[0].Status != model.StatusAbandoned {
		t.Fatalf("outcome mismatch: %+v", out)
	}
}

func TestShutdownExpiresAttempt(t *testing.T) {
	channel := &fakeChannel{statuses: []TxStatus{TxPending}}
	engine, _ := testEngine(&fakeRequoter{}, channel, Config{MaxAttempts: 3, ConfirmationTimeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	attempt, err := engine.Submit(ctx, candidate(pairAB))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		channel.mu.Lock()
		submitted := channel.accepted > 0
		channel.mu.Unlock()
		if submitted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("attempt never submitted")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	engine.Wait()

	if attempt.Status != model.StatusExpired || !errors.Is(attempt.LastError, context.Canceled) {
		t.Fatalf("expected expiry on shutdown, got %s %v", attempt.Status, attempt.LastError)
	}
}

func TestOneAttemptPerPair(t *testing.T) {
	channel := &fakeChannel{statuses: []TxStatus{TxPending, TxPending}}
	engine, _ := testEngine(&fakeRequoter{}, channel, Config{MaxAttempts: 1, ConfirmationTimeout: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		started  int
		busy     int
		otherErr error
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Submit(ctx, candidate(pairAB))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				started++
			case errors.Is(err, model.ErrPairBusy):
				busy++
			default:
				otherErr = err
			}
		}()
	}
	wg.Wait()
	if started != 1 || busy != 15 || otherErr != nil {
		t.Fatalf("started %d, busy %d, err %v", started, busy, otherErr)
	}
	if !engine.InFlight(pairAB) || engine.InFlight(pairAC) {
		t.Fatalf("only the submitted pair should be in flight")
	}

	// another pair is independent
	if _, err := engine.Submit(ctx, candidate(pairAC)); err != nil {
		t.Fatalf("submit other pair: %v", err)
	}

	cancel()
	engine.Wait()
	if engine.InFlight(pairAB) || engine.InFlight(pairAC) {
		t.Fatalf("leases must be released after shutdown")
	}
	if _, err := engine.Submit(context.Background(), candidate(pairAB)); err != nil {
		t.Fatalf("resubmit after release: %v", err)
	}
	engine.Wait()
}

func TestRunDropsBusyCandidates(t *testing.T) {
	channel := &fakeChannel{}
	engine, publisher := testEngine(&fakeRequoter{}, channel, Config{MaxAttempts: 1})

	in := make(chan model.OpportunityCandidate, 2)
	in <- candidate(pairAB)
	in <- candidate(pairAC)
	close(in)
	if err := engine.Run(context.Background(), in); err != nil {
		t.Fatalf("run: %v", err)
	}
	if out := publisher.all(); len(out) != 2 {
		t.Fatalf("expected two outcomes, got %d", len(out))
	}
}
