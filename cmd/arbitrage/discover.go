package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"spreadScope/internal/app"
	"spreadScope/internal/model"
)

func runDiscover(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := load(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("discovery start",
		zap.String("rpc", cfg.RPCURL),
		zap.Strings("factories", cfg.FactoryList()),
		zap.Uint64("from", cfg.DiscoveryFrom),
		zap.Uint64("batch_size", cfg.DiscoveryBatchSize),
		zap.String("catalog", cfg.Catalog),
	)

	counts, err := app.Discover(ctx, cfg, logger)
	total := 0
	for _, family := range model.Families() {
		n := counts[family]
		total += n
		logger.Info("discovered pools", zap.String("family", family.String()), zap.Int("count", n))
	}
	if err != nil {
		logger.Error("discovery stopped", zap.Int("saved", total), zap.Error(err))
		return err
	}
	logger.Info("discovery complete", zap.Int("total", total))
	return nil
}
