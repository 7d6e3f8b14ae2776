package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"spreadScope/internal/app"
	"spreadScope/internal/config"
)

func main() {
	root := &cobra.Command{
		Use:          "arbitrage",
		Short:        "Cross-venue DEX arbitrage on BSC",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run discovery, ingestion, detection and execution",
		RunE:  runPipeline,
	}
	addChainFlags(runCmd.Flags())
	runCmd.Flags().String("ws", "", "websocket endpoint for the log feed")
	runCmd.Flags().String("executor-address", "", "arbitrage executor contract")
	runCmd.Flags().String("submission-mode", config.ModeRPC, "submission channel (rpc, relay)")
	runCmd.Flags().String("relay-url", "", "bundle relay endpoint")
	runCmd.Flags().String("min-profit-pct", "1.5", "minimum net profit percent (exclusive)")
	runCmd.Flags().String("trade-size", "100000000000000000", "quote asset input per route, in base units")
	runCmd.Flags().Uint32("max-slippage-bps", 50, "slippage buffer in basis points")
	runCmd.Flags().Duration("confirmation-timeout", 30*time.Second, "time to wait for a receipt")
	runCmd.Flags().Int("max-retry-attempts", 3, "rounds per opportunity")
	runCmd.Flags().String("http-addr", ":8080", "ops HTTP listen address")
	runCmd.Flags().String("redis-addr", "", "redis address for shared leases and the outcome stream")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN for outcomes and the discovery cursor")
	runCmd.Flags().String("record-out", "./data/outcomes.jsonl", "outcome JSONL path")
	root.AddCommand(runCmd)

	discoverCmd := &cobra.Command{
		Use:   "discover",
		Short: "Scan factories once and store new pools in the catalog",
		RunE:  runDiscover,
	}
	addChainFlags(discoverCmd.Flags())
	discoverCmd.Flags().String("pg-dsn", "", "Postgres DSN for the discovery cursor")
	root.AddCommand(discoverCmd)

	quoteCmd := &cobra.Command{
		Use:   "quote",
		Short: "Quote a swap against a pool's live state",
		RunE:  runQuote,
	}
	quoteCmd.Flags().String("rpc", "", "BSC RPC URL")
	quoteCmd.Flags().String("pool", "", "pool address")
	quoteCmd.Flags().String("family", "", "pool family (v2, v3, bin, stable)")
	quoteCmd.Flags().String("amount", "", "input amount in base units")
	quoteCmd.Flags().Bool("zero-for-one", false, "swap token0 for token1")
	quoteCmd.Flags().Uint32("cp-fee-bps", 25, "constant-product swap fee")
	root.AddCommand(quoteCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addChainFlags(flags *pflag.FlagSet) {
	flags.String("rpc", "", "BSC RPC URL")
	flags.StringSlice("factories", nil, "factories as family=address (comma-separated)")
	flags.StringSlice("quote-assets", nil, "preferred quote assets (comma-separated)")
	flags.Uint64("discovery-from", 0, "first block scanned for pool creations")
	flags.Uint64("discovery-batch-size", 2000, "blocks per log query")
	flags.String("catalog", "./data/pools.db", "SQLite pool catalog path")
	flags.String("cursor-file", "", "discovery cursor file")
	flags.String("min-liquidity", "10000000000", "quote-side liquidity floor, in base units")
	flags.Int("max-retries", 5, "maximum RPC retry attempts")
	flags.Duration("retry-backoff", 500*time.Millisecond, "initial RPC retry backoff")
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := load(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return err
	}
	return pipeline.Run(ctx)
}

func load(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
