package app

import (
	"context"
	"fmt"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"spreadScope/internal/config"
	"spreadScope/internal/dex"
	"spreadScope/internal/model"
	"spreadScope/internal/storage"
)

var (
	tokenA = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	tokenB = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	pair   = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

// v2Chain answers the calls a constant-product pair receives.
type v2Chain struct {
	parsed abi.ABI
	head   uint64
}

func (c *v2Chain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if *msg.To != pair {
		return nil, fmt.Errorf("execution reverted")
	}
	method, err := c.parsed.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "getReserves":
		return method.Outputs.Pack(big.NewInt(1000), big.NewInt(1000), uint32(0))
	case "token0":
		return method.Outputs.Pack(tokenA)
	case "token1":
		return method.Outputs.Pack(tokenB)
	case "factory":
		return method.Outputs.Pack(common.HexToAddress("0xcA143Ce32Fe78f1f7019d7d551a6402fC5350c73"))
	default:
		return nil, fmt.Errorf("execution reverted: %s", method.Name)
	}
}

func (c *v2Chain) LatestBlockNumber(context.Context) (uint64, error) {
	return c.head, nil
}

func TestQuoteLivePool(t *testing.T) {
	parsed, err := dex.V2PairABI()
	if err != nil {
		t.Fatalf("abi: %v", err)
	}
	client := &v2Chain{parsed: parsed, head: 123}

	report, err := quote(context.Background(), client, dex.DefaultFetchOptions(), QuoteRequest{
		Pool:       pair,
		Family:     model.FamilyConstantProduct,
		Amount:     big.NewInt(100),
		ZeroForOne: true,
	})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if report.Identity.Token0 != tokenA || report.Identity.Token1 != tokenB || report.Block != 123 {
		t.Fatalf("identity mismatch: %+v", report.Identity)
	}
	// 100 * 0.9975 * 1000 / (1000 + 99.75)
	if report.AmountOut.Int64() != 90 {
		t.Fatalf("amount out: got %s want 90", report.AmountOut)
	}
	if !report.SpotPrice.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("spot price: %s", report.SpotPrice)
	}
	if !report.EffectivePrice.Equal(decimal.NewFromFloat(0.9)) {
		t.Fatalf("effective price: %s", report.EffectivePrice)
	}
}

func TestQuoteRequiresRPC(t *testing.T) {
	if _, err := Quote(context.Background(), config.Config{}, QuoteRequest{}); err == nil {
		t.Fatalf("expected configuration error")
	}
}

func TestStorageSelection(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Config{
		Catalog:     filepath.Join(dir, "pools.db"),
		RecordOut:   filepath.Join(dir, "outcomes.jsonl"),
		CursorFile:  filepath.Join(dir, "cursor.json"),
		RedisStream: "arb:outcomes",
	}
	res := &resources{}
	if err := openStorage(context.Background(), cfg, res); err != nil {
		t.Fatalf("open storage: %v", err)
	}
	defer res.close()

	if res.catalog == nil || res.pg != nil || res.rdb != nil {
		t.Fatalf("only the catalog should be open: %+v", res)
	}
	if _, ok := cursorStore(cfg, res).(*storage.FileCursorStore); !ok {
		t.Fatalf("cursor should use the file store")
	}
	got := sinks(cfg, res)
	if len(got) != 1 || got[0].Name() != "jsonl" {
		t.Fatalf("sinks: %v", got)
	}

	cfg.CursorFile = ""
	if cursorStore(cfg, res) != nil {
		t.Fatalf("no cursor store configured should fall back to memory")
	}

	// closing twice is safe
	res.close()
	res.close()
}

func TestRegistryConfigCarriesFetchOptions(t *testing.T) {
	cfg := config.Config{TickWindow: 7, BinWindow: 9, CPFeeBps: 30, DiscoveryBatchSize: 500}
	rc := registryConfig(cfg)
	if rc.Fetch.TickWindow != 7 || rc.Fetch.BinWindow != 9 || rc.Fetch.ConstantProductFeeBps != 30 || rc.BatchSize != 500 {
		t.Fatalf("registry config: %+v", rc)
	}
}
