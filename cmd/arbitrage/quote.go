package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"spreadScope/internal/amm"
	"spreadScope/internal/app"
	"spreadScope/internal/chain"
	"spreadScope/internal/model"
)

func runQuote(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := load(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	req, err := quoteRequest(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := app.Quote(ctx, cfg, req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "pool            %s (%s)\n", report.Identity.Address.Hex(), report.Identity.Family)
	fmt.Fprintf(out, "block           %d\n", report.Block)
	fmt.Fprintf(out, "token0          %s\n", report.Identity.Token0.Hex())
	fmt.Fprintf(out, "token1          %s\n", report.Identity.Token1.Hex())
	fmt.Fprintf(out, "amount in       %s\n", report.AmountIn)
	fmt.Fprintf(out, "amount out      %s\n", report.AmountOut)
	fmt.Fprintf(out, "effective price %s\n", report.EffectivePrice.StringFixed(amm.PriceScale))
	fmt.Fprintf(out, "spot price      %s\n", report.SpotPrice.StringFixed(amm.PriceScale))
	return nil
}

func quoteRequest(cmd *cobra.Command) (app.QuoteRequest, error) {
	var problems []string

	poolFlag, _ := cmd.Flags().GetString("pool")
	pool, err := chain.ParseAddress(poolFlag)
	if err != nil {
		problems = append(problems, fmt.Sprintf("pool: %v", err))
	}
	familyFlag, _ := cmd.Flags().GetString("family")
	family, err := model.ParseFamily(familyFlag)
	if err != nil {
		problems = append(problems, fmt.Sprintf("family: %v", err))
	}
	amountFlag, _ := cmd.Flags().GetString("amount")
	amount, err := parseAmount(amountFlag)
	if err != nil {
		problems = append(problems, fmt.Sprintf("amount: %v", err))
	}
	zeroForOne, _ := cmd.Flags().GetBool("zero-for-one")

	if len(problems) > 0 {
		return app.QuoteRequest{}, &model.ConfigurationError{Problems: problems}
	}
	return app.QuoteRequest{Pool: pool, Family: family, Amount: amount, ZeroForOne: zeroForOne}, nil
}

// parseAmount accepts a positive integer in plain or exponent form.
func parseAmount(input string) (*big.Int, error) {
	d, err := decimal.NewFromString(input)
	if err != nil {
		return nil, err
	}
	if !d.IsPositive() || !d.Equal(d.Truncate(0)) {
		return nil, fmt.Errorf("%q is not a positive integer", input)
	}
	return d.BigInt(), nil
}
