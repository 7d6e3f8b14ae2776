package model

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// OpportunityCandidate is a profitable buy-low/sell-high route for one pair.
// AmountIn of QuoteAsset buys BaseAmount of BaseAsset on BuyPool, which is
// sold on SellPool for AmountOut of QuoteAsset.
type OpportunityCandidate struct {
	ID           string          `json:"id"`
	Pair         AssetPairKey    `json:"pair"`
	QuoteAsset   common.Address  `json:"quote_asset"`
	BaseAsset    common.Address  `json:"base_asset"`
	BuyPool      PoolIdentity    `json:"buy_pool"`
	SellPool     PoolIdentity    `json:"sell_pool"`
	AmountIn     *big.Int        `json:"amount_in"`
	BaseAmount   *big.Int        `json:"base_amount"`
	AmountOut    *big.Int        `json:"amount_out"`
	NetProfit    *big.Int        `json:"net_profit"`
	ProfitPct    decimal.Decimal `json:"profit_pct"`
	BuyPrice     decimal.Decimal `json:"buy_price"`
	SellPrice    decimal.Decimal `json:"sell_price"`
	Sequence     Sequence        `json:"sequence"`
	DiscoveredAt time.Time       `json:"discovered_at"`
}
