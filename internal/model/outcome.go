package model

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Outcome is the record event emitted once per terminal ExecutionAttempt.
// Amounts are decimal strings in base units of the quote asset.
type Outcome struct {
	AttemptID      string        `json:"attempt_id"`
	OpportunityID  string        `json:"opportunity_id"`
	Pair           string        `json:"pair"`
	QuoteAsset     string        `json:"quote_asset"`
	BuyPool        string        `json:"buy_pool"`
	BuyFamily      string        `json:"buy_family"`
	SellPool       string        `json:"sell_pool"`
	SellFamily     string        `json:"sell_family"`
	AmountIn       string        `json:"amount_in"`
	ExpectedOut    string        `json:"expected_out"`
	ExpectedProfit string        `json:"expected_profit"`
	RealizedProfit string        `json:"realized_profit"`
	ProfitPct      string        `json:"profit_pct"`
	Status         AttemptStatus `json:"status"`
	Attempts       int           `json:"attempts"`
	TxHash         string        `json:"tx_hash,omitempty"`
	Channel        string        `json:"channel"`
	Error          string        `json:"error,omitempty"`
	DiscoveredAt   time.Time     `json:"discovered_at"`
	FinishedAt     time.Time     `json:"finished_at"`
}

// NewOutcome summarizes a finished attempt. Realized profit is the last
// re-quoted net profit when confirmed and zero otherwise.
func NewOutcome(a *ExecutionAttempt, channel string) Outcome {
	opp := a.Opportunity
	realized := "0"
	if a.Status == StatusConfirmed && opp.NetProfit != nil {
		realized = opp.NetProfit.String()
	}
	out := Outcome{
		AttemptID:      a.ID,
		OpportunityID:  opp.ID,
		Pair:           opp.Pair.String(),
		QuoteAsset:     opp.QuoteAsset.Hex(),
		BuyPool:        opp.BuyPool.Address.Hex(),
		BuyFamily:      opp.BuyPool.Family.String(),
		SellPool:       opp.SellPool.Address.Hex(),
		SellFamily:     opp.SellPool.Family.String(),
		AmountIn:       intString(opp.AmountIn),
		ExpectedOut:    intString(opp.AmountOut),
		ExpectedProfit: intString(opp.NetProfit),
		RealizedProfit: realized,
		ProfitPct:      opp.ProfitPct.StringFixed(4),
		Status:         a.Status,
		Attempts:       a.Attempt,
		Channel:        channel,
		DiscoveredAt:   opp.DiscoveredAt,
		FinishedAt:     a.FinishedAt,
	}
	if a.TxHash != (common.Hash{}) {
		out.TxHash = a.TxHash.Hex()
	}
	if a.LastError != nil {
		out.Error = a.LastError.Error()
	}
	return out
}

func intString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
