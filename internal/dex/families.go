package dex

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"spreadScope/internal/model"
)

// ConstantProductDecoder decodes Uniswap V2 / PancakeSwap V2 Sync logs.
type ConstantProductDecoder struct {
	eventSet
}

func NewConstantProductDecoder() (*ConstantProductDecoder, error) {
	parsed, err := V2PairABI()
	if err != nil {
		return nil, fmt.Errorf("parse pair abi: %w", err)
	}
	set := newEventSet(model.FamilyConstantProduct)
	if err := set.add(parsed, "Sync"); err != nil {
		return nil, err
	}
	return &ConstantProductDecoder{eventSet: set}, nil
}

func (d *ConstantProductDecoder) Decode(log types.Log) (*model.PoolUpdate, error) {
	event, err := d.lookup(log)
	if err != nil {
		return nil, err
	}
	values, err := unpackNonIndexed(event, log.Data, 2)
	if err != nil {
		return nil, err
	}
	reserve0, err := asBigInt(values[0])
	if err != nil {
		return nil, err
	}
	reserve1, err := asBigInt(values[1])
	if err != nil {
		return nil, err
	}
	return d.update(log, model.ReservesSync{Reserve0: reserve0, Reserve1: reserve1}), nil
}

// ConcentratedDecoder decodes V3 Swap, Mint and Burn logs, including the
// PancakeSwap V3 Swap variant.
type ConcentratedDecoder struct {
	eventSet
}

func NewConcentratedDecoder() (*ConcentratedDecoder, error) {
	parsed, err := V3PoolABI()
	if err != nil {
		return nil, fmt.Errorf("parse pool abi: %w", err)
	}
	pancake, err := PancakeV3SwapABI()
	if err != nil {
		return nil, fmt.Errorf("parse pancake swap abi: %w", err)
	}
	set := newEventSet(model.FamilyConcentrated)
	if err := set.add(parsed, "Swap", "Mint", "Burn"); err != nil {
		return nil, err
	}
	if err := set.add(pancake, "Swap"); err != nil {
		return nil, err
	}
	return &ConcentratedDecoder{eventSet: set}, nil
}

func (d *ConcentratedDecoder) Decode(log types.Log) (*model.PoolUpdate, error) {
	event, err := d.lookup(log)
	if err != nil {
		return nil, err
	}
	switch event.Name {
	case "Swap":
		values, err := unpackNonIndexed(event, log.Data, 5)
		if err != nil {
			return nil, err
		}
		sqrtPrice, err := asBigInt(values[2])
		if err != nil {
			return nil, err
		}
		liquidity, err := asBigInt(values[3])
		if err != nil {
			return nil, err
		}
		tickInt, err := asBigInt(values[4])
		if err != nil {
			return nil, err
		}
		tick, err := int24FromBig(tickInt)
		if err != nil {
			return nil, err
		}
		return d.update(log, model.ConcentratedSwap{SqrtPriceX96: sqrtPrice, Liquidity: liquidity, Tick: tick}), nil
	case "Mint", "Burn":
		var indexed struct {
			Owner     common.Address
			TickLower *big.Int
			TickUpper *big.Int
		}
		if err := parseIndexed(event, log.Topics, &indexed); err != nil {
			return nil, err
		}
		want, amountPos := 3, 0
		if event.Name == "Mint" {
			want, amountPos = 4, 1
		}
		values, err := unpackNonIndexed(event, log.Data, want)
		if err != nil {
			return nil, err
		}
		amount, err := asBigInt(values[amountPos])
		if err != nil {
			return nil, err
		}
		if event.Name == "Burn" {
			amount.Neg(amount)
		}
		lower, err := int24FromBig(indexed.TickLower)
		if err != nil {
			return nil, err
		}
		upper, err := int24FromBig(indexed.TickUpper)
		if err != nil {
			return nil, err
		}
		return d.update(log, model.ConcentratedLiquidity{TickLower: lower, TickUpper: upper, Amount: amount}), nil
	default:
		return nil, fmt.Errorf("unsupported event name: %s", event.Name)
	}
}

// BinDecoder decodes Liquidity Book v2.1 Swap, DepositedToBins and
// WithdrawnFromBins logs.
type BinDecoder struct {
	eventSet
}

func NewBinDecoder() (*BinDecoder, error) {
	parsed, err := LBPairABI()
	if err != nil {
		return nil, fmt.Errorf("parse lb pair abi: %w", err)
	}
	set := newEventSet(model.FamilyBin)
	if err := set.add(parsed, "Swap", "DepositedToBins", "WithdrawnFromBins"); err != nil {
		return nil, err
	}
	return &BinDecoder{eventSet: set}, nil
}

func (d *BinDecoder) Decode(log types.Log) (*model.PoolUpdate, error) {
	event, err := d.lookup(log)
	if err != nil {
		return nil, err
	}
	switch event.Name {
	case "Swap":
		values, err := unpackNonIndexed(event, log.Data, 6)
		if err != nil {
			return nil, err
		}
		id, err := asUint32(values[0])
		if err != nil {
			return nil, err
		}
		inX, inY, err := splitPacked(values[1])
		if err != nil {
			return nil, err
		}
		outX, outY, err := splitPacked(values[2])
		if err != nil {
			return nil, err
		}
		protoX, protoY, err := splitPacked(values[5])
		if err != nil {
			return nil, err
		}
		return d.update(log, model.BinSwap{
			ID:           id,
			AmountInX:    inX,
			AmountInY:    inY,
			AmountOutX:   outX,
			AmountOutY:   outY,
			ProtocolFeeX: protoX,
			ProtocolFeeY: protoY,
		}), nil
	case "DepositedToBins", "WithdrawnFromBins":
		values, err := unpackNonIndexed(event, log.Data, 2)
		if err != nil {
			return nil, err
		}
		rawIDs, err := asBigInts(values[0])
		if err != nil {
			return nil, err
		}
		packed, ok := values[1].([][32]byte)
		if !ok {
			return nil, fmt.Errorf("unsupported amounts type %T", values[1])
		}
		if len(packed) != len(rawIDs) {
			return nil, fmt.Errorf("%d ids with %d amounts", len(rawIDs), len(packed))
		}
		delta := model.BinLiquidity{
			IDs:      make([]uint32, len(rawIDs)),
			AmountsX: make([]*big.Int, len(rawIDs)),
			AmountsY: make([]*big.Int, len(rawIDs)),
			Withdraw: event.Name == "WithdrawnFromBins",
		}
		for i, raw := range rawIDs {
			id, err := asUint32(raw)
			if err != nil {
				return nil, err
			}
			x, y, err := splitPacked(packed[i])
			if err != nil {
				return nil, err
			}
			delta.IDs[i], delta.AmountsX[i], delta.AmountsY[i] = id, x, y
		}
		return d.update(log, delta), nil
	default:
		return nil, fmt.Errorf("unsupported event name: %s", event.Name)
	}
}

// StableDecoder decodes two-coin StableSwap pool logs.
type StableDecoder struct {
	eventSet
}

func NewStableDecoder() (*StableDecoder, error) {
	parsed, err := StableSwapABI()
	if err != nil {
		return nil, fmt.Errorf("parse stable swap abi: %w", err)
	}
	set := newEventSet(model.FamilyStable)
	if err := set.add(parsed, "TokenExchange", "AddLiquidity", "RemoveLiquidity", "RemoveLiquidityOne", "RemoveLiquidityImbalance", "StopRampA"); err != nil {
		return nil, err
	}
	return &StableDecoder{eventSet: set}, nil
}

func (d *StableDecoder) Decode(log types.Log) (*model.PoolUpdate, error) {
	event, err := d.lookup(log)
	if err != nil {
		return nil, err
	}
	switch event.Name {
	case "TokenExchange":
		values, err := unpackNonIndexed(event, log.Data, 4)
		if err != nil {
			return nil, err
		}
		ints := make([]*big.Int, 4)
		for i := range ints {
			if ints[i], err = asBigInt(values[i]); err != nil {
				return nil, err
			}
		}
		if !ints[0].IsInt64() || !ints[2].IsInt64() {
			return nil, fmt.Errorf("coin index out of range")
		}
		return d.update(log, model.StableExchange{
			SoldID:   int(ints[0].Int64()),
			Sold:     ints[1],
			BoughtID: int(ints[2].Int64()),
			Bought:   ints[3],
		}), nil
	case "AddLiquidity", "RemoveLiquidity", "RemoveLiquidityImbalance":
		values, err := unpackNonIndexed(event, log.Data, 1)
		if err != nil {
			return nil, err
		}
		amounts, err := asBigInts(values[0])
		if err != nil {
			return nil, err
		}
		return d.update(log, model.StableLiquidity{Amounts: amounts, Remove: event.Name != "AddLiquidity"}), nil
	case "RemoveLiquidityOne":
		values, err := unpackNonIndexed(event, log.Data, 3)
		if err != nil {
			return nil, err
		}
		index, err := asBigInt(values[0])
		if err != nil {
			return nil, err
		}
		coinAmount, err := asBigInt(values[2])
		if err != nil {
			return nil, err
		}
		if !index.IsInt64() || index.Int64() > 1 {
			return nil, fmt.Errorf("coin index out of range: %s", index)
		}
		amounts := []*big.Int{new(big.Int), new(big.Int)}
		amounts[index.Int64()] = coinAmount
		return d.update(log, model.StableLiquidity{Amounts: amounts, Remove: true}), nil
	case "StopRampA":
		values, err := unpackNonIndexed(event, log.Data, 1)
		if err != nil {
			return nil, err
		}
		amp, err := asBigInt(values[0])
		if err != nil {
			return nil, err
		}
		return d.update(log, model.StableAmp{Amp: amp}), nil
	default:
		return nil, fmt.Errorf("unsupported event name: %s", event.Name)
	}
}
