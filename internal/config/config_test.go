package config

import (
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"

	"spreadScope/internal/model"
)

const (
	factoryV2 = "0xcA143Ce32Fe78f1f7019d7d551a6402fC5350c73"
	factoryLB = "0x8e42f2F4101563bF679975178e880FD87d3eFd4e"
	wbnb      = "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c"
	executor  = "0x1111111111111111111111111111111111111111"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "rpc: http://localhost:8545\n"), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCURL != "http://localhost:8545" {
		t.Fatalf("rpc: %q", cfg.RPCURL)
	}
	if cfg.MinProfitPct.String() != "1.5" || cfg.MinLiquidity.String() != "10000000000" || cfg.TradeSize.String() != "100000000000000000" {
		t.Fatalf("thresholds: %s %s %s", cfg.MinProfitPct, cfg.MinLiquidity, cfg.TradeSize)
	}
	if cfg.MaxSlippageBps != 50 || cfg.MaxRetryAttempts != 3 || cfg.ConfirmationTimeout != 30*time.Second || cfg.PollInterval != time.Second {
		t.Fatalf("execution defaults: %+v", cfg)
	}
	if cfg.SubmissionMode != ModeRPC || cfg.CPFeeBps != 25 || cfg.TickWindow != 20 || cfg.BinWindow != 30 {
		t.Fatalf("venue defaults: %+v", cfg)
	}
	if cfg.StaleFeedTimeout != 5*time.Minute || cfg.HeartbeatInterval != 30*time.Second || cfg.HTTPAddr != ":8080" {
		t.Fatalf("feed defaults: %+v", cfg)
	}
	if cfg.LeaseTTL() != 2*time.Minute {
		t.Fatalf("lease ttl: %s", cfg.LeaseTTL())
	}
}

func TestLoadFileFlagsAndEnv(t *testing.T) {
	path := writeConfig(t, strings.Join([]string{
		"rpc: http://localhost:8545",
		"ws: ws://localhost:8546",
		"executor-address: \"" + executor + "\"",
		"trade-size: 1e18",
		"quote-assets: [\"" + wbnb + "\"]",
		"factories:",
		"  v2: [\"" + factoryV2 + "\"]",
		"  dlmm: \"" + factoryLB + "\"",
		"",
	}, "\n"))
	t.Setenv("ARB_PRIVATE_KEY", "0xabc")
	t.Setenv("ARB_MIN_PROFIT_PCT", "2.25")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Duration("poll-interval", time.Second, "")
	if err := flags.Parse([]string{"--poll-interval=250ms"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(path, flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PrivateKey != "0xabc" || cfg.MinProfitPct.String() != "2.25" || cfg.PollInterval != 250*time.Millisecond {
		t.Fatalf("overrides not applied: key %q pct %s poll %s", cfg.PrivateKey, cfg.MinProfitPct, cfg.PollInterval)
	}
	if cfg.TradeSize.String() != "1000000000000000000" {
		t.Fatalf("trade size: %s", cfg.TradeSize)
	}
	want := map[model.Family][]common.Address{
		model.FamilyConstantProduct: {common.HexToAddress(factoryV2)},
		model.FamilyBin:             {common.HexToAddress(factoryLB)},
	}
	if !reflect.DeepEqual(cfg.Factories, want) {
		t.Fatalf("factories: %v", cfg.Factories)
	}
	if len(cfg.QuoteAssets) != 1 || cfg.QuoteAssets[0] != common.HexToAddress(wbnb) {
		t.Fatalf("quote assets: %v", cfg.QuoteAssets)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadFactoriesFromEnvList(t *testing.T) {
	t.Setenv("ARB_FACTORIES", "v2="+factoryV2+", lb="+factoryLB)
	cfg, err := Load(writeConfig(t, "rpc: http://localhost:8545\n"), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.FactoryList(); len(got) != 2 || !strings.HasPrefix(got[0], "bin=") || !strings.HasPrefix(got[1], "constant_product=") {
		t.Fatalf("factory list: %v", got)
	}
}

func TestLoadReportsEveryParseProblem(t *testing.T) {
	path := writeConfig(t, strings.Join([]string{
		"trade-size: 0.5",
		"min-profit-pct: lots",
		"executor-address: \"0x123\"",
		"factories: [\"orderbook=" + factoryV2 + "\", v2]",
		"",
	}, "\n"))
	_, err := Load(path, nil)
	var cfgErr *model.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if len(cfgErr.Problems) != 5 {
		t.Fatalf("expected five problems, got %v", cfgErr.Problems)
	}
}

func TestValidate(t *testing.T) {
	valid := Config{
		RPCURL:              "http://localhost:8545",
		WSURL:               "ws://localhost:8546",
		PrivateKey:          "0xabc",
		ExecutorAddress:     common.HexToAddress(executor),
		SubmissionMode:      ModeRPC,
		TradeSize:           big.NewInt(100_000_000_000_000_000),
		ConfirmationTimeout: time.Second,
		PollInterval:        time.Second,
		MaxRetryAttempts:    1,
		DiscoveryBatchSize:  100,
		Factories:           map[model.Family][]common.Address{model.FamilyConstantProduct: {common.HexToAddress(factoryV2)}},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		want   []string
	}{
		{"missing endpoints and key", func(c *Config) { c.RPCURL, c.WSURL, c.PrivateKey = "", "", "" }, []string{"rpc:", "ws:", "private-key:"}},
		{"relay without url", func(c *Config) { c.SubmissionMode = ModeRelay }, []string{"relay-url:"}},
		{"no factories", func(c *Config) { c.Factories = nil }, []string{"factories:"}},
		{"unknown mode", func(c *Config) { c.SubmissionMode = "carrier-pigeon" }, []string{"submission-mode:"}},
		{"bad limits", func(c *Config) { c.MaxRetryAttempts, c.MaxSlippageBps = 0, 10_000 }, []string{"max-slippage-bps:", "max-retry-attempts:"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			err := cfg.Validate()
			var cfgErr *model.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
			if len(cfgErr.Problems) != len(tc.want) {
				t.Fatalf("problems: %v", cfgErr.Problems)
			}
			for i, prefix := range tc.want {
				if !strings.HasPrefix(cfgErr.Problems[i], prefix) {
					t.Fatalf("problem %d: got %q want prefix %q", i, cfgErr.Problems[i], prefix)
				}
			}
		})
	}
}

func TestValidateDiscovery(t *testing.T) {
	cfg := Config{RPCURL: "http://localhost:8545", DiscoveryBatchSize: 100}
	if err := cfg.ValidateDiscovery(); err == nil {
		t.Fatalf("discovery without factories should fail")
	}
	cfg.Factories = map[model.Family][]common.Address{model.FamilyStable: {common.HexToAddress(factoryV2)}}
	if err := cfg.ValidateDiscovery(); err != nil {
		t.Fatalf("validate discovery: %v", err)
	}
}
