package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"spreadScope/internal/chain"
	"spreadScope/internal/model"
)

const (
	ModeRPC   = "rpc"
	ModeRelay = "relay"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL           string
	WSURL            string
	ChainID          uint64
	PrivateKey       string
	ExecutorAddress  common.Address
	SubmissionMode   string
	RelayURL         string
	RelayAuthHeader  string
	RelayBlockOffset uint64

	MinProfitPct   decimal.Decimal
	MinLiquidity   *big.Int
	MaxSlippageBps uint32
	TradeSize      *big.Int
	GasCost        *big.Int
	RescanInterval time.Duration

	ConfirmationTimeout time.Duration
	MaxRetryAttempts    int
	PollInterval        time.Duration

	Factories          map[model.Family][]common.Address
	QuoteAssets        []common.Address
	DiscoveryFrom      uint64
	DiscoveryBatchSize uint64
	DiscoveryInterval  time.Duration
	CursorFile         string
	Catalog            string
	TickWindow         int
	BinWindow          int
	CPFeeBps           uint32

	PGDSN       string
	RedisAddr   string
	RedisStream string
	RecordOut   string
	HTTPAddr    string

	HeartbeatInterval time.Duration
	StaleFeedTimeout  time.Duration
	MaxRetries        int
	RetryBackoff      time.Duration
	LogLevel          string
}

// Load merges .env, config file, environment variables, and flags into
// Config. Values that fail to parse are reported together as a
// ConfigurationError.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("ARB")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var p parser
	cfg := Config{
		RPCURL:           v.GetString("rpc"),
		WSURL:            v.GetString("ws"),
		ChainID:          v.GetUint64("chain-id"),
		PrivateKey:       v.GetString("private-key"),
		ExecutorAddress:  p.address("executor-address", v.GetString("executor-address")),
		SubmissionMode:   strings.ToLower(strings.TrimSpace(v.GetString("submission-mode"))),
		RelayURL:         v.GetString("relay-url"),
		RelayAuthHeader:  v.GetString("relay-auth-header"),
		RelayBlockOffset: v.GetUint64("relay-block-offset"),

		MinProfitPct:   p.decimal("min-profit-pct", v.GetString("min-profit-pct")),
		MinLiquidity:   p.amount("min-liquidity", v.GetString("min-liquidity")),
		MaxSlippageBps: v.GetUint32("max-slippage-bps"),
		TradeSize:      p.amount("trade-size", v.GetString("trade-size")),
		GasCost:        p.amount("gas-cost", v.GetString("gas-cost")),
		RescanInterval: v.GetDuration("rescan-interval"),

		ConfirmationTimeout: v.GetDuration("confirmation-timeout"),
		MaxRetryAttempts:    v.GetInt("max-retry-attempts"),
		PollInterval:        v.GetDuration("poll-interval"),

		Factories:          p.factories(v),
		QuoteAssets:        p.addresses("quote-assets", getStringSlice(v, "quote-assets")),
		DiscoveryFrom:      v.GetUint64("discovery-from"),
		DiscoveryBatchSize: v.GetUint64("discovery-batch-size"),
		DiscoveryInterval:  v.GetDuration("discovery-interval"),
		CursorFile:         v.GetString("cursor-file"),
		Catalog:            v.GetString("catalog"),
		TickWindow:         v.GetInt("tick-window"),
		BinWindow:          v.GetInt("bin-window"),
		CPFeeBps:           v.GetUint32("cp-fee-bps"),

		PGDSN:       v.GetString("pg-dsn"),
		RedisAddr:   v.GetString("redis-addr"),
		RedisStream: v.GetString("redis-stream"),
		RecordOut:   v.GetString("record-out"),
		HTTPAddr:    v.GetString("http-addr"),

		HeartbeatInterval: v.GetDuration("heartbeat-interval"),
		StaleFeedTimeout:  v.GetDuration("stale-feed-timeout"),
		MaxRetries:        v.GetInt("max-retries"),
		RetryBackoff:      v.GetDuration("retry-backoff"),
		LogLevel:          v.GetString("log-level"),
	}
	if len(p.problems) > 0 {
		return cfg, &model.ConfigurationError{Problems: p.problems}
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("min-profit-pct", "1.5")
	v.SetDefault("min-liquidity", "10000000000")
	v.SetDefault("max-slippage-bps", 50)
	v.SetDefault("trade-size", "100000000000000000")
	v.SetDefault("gas-cost", "0")
	v.SetDefault("rescan-interval", 5*time.Second)
	v.SetDefault("confirmation-timeout", 30*time.Second)
	v.SetDefault("max-retry-attempts", 3)
	v.SetDefault("poll-interval", time.Second)
	v.SetDefault("submission-mode", ModeRPC)
	v.SetDefault("relay-block-offset", 0)
	v.SetDefault("discovery-batch-size", uint64(2000))
	v.SetDefault("discovery-interval", 10*time.Minute)
	v.SetDefault("catalog", "./data/pools.db")
	v.SetDefault("tick-window", 20)
	v.SetDefault("bin-window", 30)
	v.SetDefault("cp-fee-bps", 25)
	v.SetDefault("redis-stream", "arb:outcomes")
	v.SetDefault("record-out", "./data/outcomes.jsonl")
	v.SetDefault("http-addr", ":8080")
	v.SetDefault("heartbeat-interval", 30*time.Second)
	v.SetDefault("stale-feed-timeout", 5*time.Minute)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("log-level", "info")
}

// Validate checks everything the full pipeline needs and reports every
// problem at once.
func (c Config) Validate() error {
	problems := c.chainProblems()
	if c.WSURL == "" {
		problems = append(problems, "ws: streaming endpoint is required")
	}
	if c.PrivateKey == "" {
		problems = append(problems, "private-key: signing key is required")
	}
	if c.ExecutorAddress == (common.Address{}) {
		problems = append(problems, "executor-address: executor contract is required")
	}
	switch c.SubmissionMode {
	case ModeRPC:
	case ModeRelay:
		if c.RelayURL == "" {
			problems = append(problems, "relay-url: required when submission-mode is relay")
		}
	default:
		problems = append(problems, fmt.Sprintf("submission-mode: must be %q or %q, got %q", ModeRPC, ModeRelay, c.SubmissionMode))
	}
	if c.MinProfitPct.IsNegative() {
		problems = append(problems, "min-profit-pct: must not be negative")
	}
	if c.TradeSize == nil || c.TradeSize.Sign() <= 0 {
		problems = append(problems, "trade-size: must be positive")
	}
	if c.MaxSlippageBps >= 10_000 {
		problems = append(problems, "max-slippage-bps: must be below 10000")
	}
	if c.ConfirmationTimeout <= 0 {
		problems = append(problems, "confirmation-timeout: must be positive")
	}
	if c.PollInterval <= 0 {
		problems = append(problems, "poll-interval: must be positive")
	}
	if c.MaxRetryAttempts < 1 {
		problems = append(problems, "max-retry-attempts: must be at least 1")
	}
	if len(problems) > 0 {
		return &model.ConfigurationError{Problems: problems}
	}
	return nil
}

// ValidateDiscovery checks what a one-shot discovery needs.
func (c Config) ValidateDiscovery() error {
	problems := c.chainProblems()
	if len(problems) > 0 {
		return &model.ConfigurationError{Problems: problems}
	}
	return nil
}

func (c Config) chainProblems() []string {
	var problems []string
	if c.RPCURL == "" {
		problems = append(problems, "rpc: endpoint is required")
	}
	if c.DiscoveryBatchSize == 0 {
		problems = append(problems, "discovery-batch-size: must be positive")
	}
	// every pool is admitted by factory, so an empty map tracks nothing
	if len(c.Factories) == 0 {
		problems = append(problems, "factories: at least one family=address entry is required")
	}
	return problems
}

// FactoryList renders the factory map in a stable order for logging.
func (c Config) FactoryList() []string {
	var out []string
	for family, addrs := range c.Factories {
		for _, addr := range addrs {
			out = append(out, family.String()+"="+addr.Hex())
		}
	}
	sort.Strings(out)
	return out
}

// LeaseTTL bounds how long a pair lease can outlive a crashed holder.
func (c Config) LeaseTTL() time.Duration {
	return c.ConfirmationTimeout * time.Duration(c.MaxRetryAttempts+1)
}

type parser struct {
	problems []string
}

func (p *parser) fail(key string, err error) {
	p.problems = append(p.problems, fmt.Sprintf("%s: %v", key, err))
}

func (p *parser) address(key, input string) common.Address {
	if strings.TrimSpace(input) == "" {
		return common.Address{}
	}
	addr, err := chain.ParseAddress(input)
	if err != nil {
		p.fail(key, err)
	}
	return addr
}

func (p *parser) addresses(key string, inputs []string) []common.Address {
	addrs, err := chain.ParseAddresses(inputs)
	if err != nil {
		p.fail(key, err)
	}
	return addrs
}

func (p *parser) decimal(key, input string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(input))
	if err != nil {
		p.fail(key, err)
	}
	return d
}

// amount accepts integers in plain or exponent form, such as 1e17.
func (p *parser) amount(key, input string) *big.Int {
	d, err := decimal.NewFromString(strings.TrimSpace(input))
	if err != nil {
		p.fail(key, err)
		return new(big.Int)
	}
	if d.IsNegative() || !d.Equal(d.Truncate(0)) {
		p.fail(key, fmt.Errorf("%q is not a non-negative integer", input))
		return new(big.Int)
	}
	return d.BigInt()
}

// factories reads family=address entries from a list or a family keyed map.
func (p *parser) factories(v *viper.Viper) map[model.Family][]common.Address {
	out := make(map[model.Family][]common.Address)
	add := func(familyName, addr string) {
		family, err := model.ParseFamily(familyName)
		if err != nil {
			p.fail("factories", err)
			return
		}
		parsed, err := chain.ParseAddress(addr)
		if err != nil {
			p.fail("factories", err)
			return
		}
		out[family] = append(out[family], parsed)
	}

	if m, ok := v.Get("factories").(map[string]interface{}); ok {
		for familyName, raw := range m {
			var entries []string
			switch typed := raw.(type) {
			case string:
				entries = splitAndClean(typed)
			case []interface{}:
				for _, item := range typed {
					entries = append(entries, fmt.Sprintf("%v", item))
				}
			}
			for _, addr := range entries {
				add(familyName, addr)
			}
		}
		return out
	}

	for _, entry := range getStringSlice(v, "factories") {
		familyName, addr, ok := strings.Cut(entry, "=")
		if !ok {
			p.fail("factories", fmt.Errorf("entry %q is not family=address", entry))
			continue
		}
		add(strings.TrimSpace(familyName), strings.TrimSpace(addr))
	}
	return out
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		var out []string
		for _, item := range typed {
			out = append(out, splitAndClean(item)...)
		}
		return out
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	return cleanStrings(strings.Split(input, ","))
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
