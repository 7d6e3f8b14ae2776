package amm

import (
	"errors"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"

	"spreadScope/internal/model"
)

func testBinState() *model.BinState {
	e18 := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	bins := make([]model.Bin, 0, 11)
	for id := uint32(BinIDOffset - 5); id <= BinIDOffset+5; id++ {
		bin := model.Bin{ID: id, ReserveX: new(big.Int), ReserveY: new(big.Int)}
		switch {
		case id < BinIDOffset:
			bin.ReserveY.Set(e18)
		case id > BinIDOffset:
			bin.ReserveX.Set(e18)
		default:
			bin.ReserveX.Quo(e18, big.NewInt(2))
			bin.ReserveY.Quo(e18, big.NewInt(2))
		}
		bins = append(bins, bin)
	}
	return &model.BinState{ActiveID: BinIDOffset, BinStep: 25, BaseFeeBps: 10, Bins: bins}
}

func TestBinPrice(t *testing.T) {
	price, err := BinPriceX128(BinIDOffset, 25)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if price.Cmp(q128Big) != 0 {
		t.Fatalf("price at offset: got %s", price)
	}

	up, err := BinPriceX128(BinIDOffset+1, 25)
	if err != nil {
		t.Fatalf("price up: %v", err)
	}
	got := Ratio(up, q128Big)
	if got.Sub(decimal.RequireFromString("1.0025")).Abs().GreaterThan(decimal.RequireFromString("0.000000000001")) {
		t.Fatalf("price one bin up: got %s", got)
	}

	down, err := BinPriceX128(BinIDOffset-1, 25)
	if err != nil {
		t.Fatalf("price down: %v", err)
	}
	product := new(big.Int).Mul(up, down)
	product.Rsh(product, 128)
	diff := new(big.Int).Sub(product, q128Big)
	if diff.CmpAbs(big.NewInt(1<<20)) > 0 {
		t.Fatalf("up*down not ~1: diff %s", diff)
	}
}

func TestBinEffectivePriceNonIncreasing(t *testing.T) {
	state := testBinState()
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(17), nil)

	for _, zeroForOne := range []bool{true, false} {
		prev := decimal.Zero
		for k := int64(1); k <= 50; k++ {
			in := new(big.Int).Mul(unit, big.NewInt(k))
			res, err := Quote(state, zeroForOne, in)
			if err != nil {
				t.Fatalf("quote zeroForOne=%v in=%s: %v", zeroForOne, in, err)
			}
			if k > 1 && res.EffectivePrice.GreaterThan(prev) {
				t.Fatalf("effective price increased at %s: %s > %s", in, res.EffectivePrice, prev)
			}
			prev = res.EffectivePrice
		}
	}
}

func TestBinRunsOutOfBins(t *testing.T) {
	state := testBinState()
	in := new(big.Int).Exp(big.NewInt(10), big.NewInt(19), nil)

	_, err := Quote(state, true, in)
	var liqErr *model.InsufficientLiquidityError
	if !errors.As(err, &liqErr) {
		t.Fatalf("expected insufficient liquidity, got %v", err)
	}
}

func TestBinDoesNotMutateState(t *testing.T) {
	state := testBinState()
	before := state.Bins[5].ReserveY.String()
	if _, err := Quote(state, true, big.NewInt(1_000_000)); err != nil {
		t.Fatalf("quote: %v", err)
	}
	if state.Bins[5].ReserveY.String() != before {
		t.Fatalf("quote mutated state")
	}
}
