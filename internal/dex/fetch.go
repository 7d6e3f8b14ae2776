package dex

import (
	"bytes"
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"spreadScope/internal/amm"
	"spreadScope/internal/chain"
	"spreadScope/internal/model"
)

// FetchOptions bounds state reads for families whose liquidity layout is
// unbounded on chain.
type FetchOptions struct {
	// TickWindow is the number of tick spacings read on each side of the
	// current tick.
	TickWindow int
	// BinWindow is the number of bins read on each side of the active bin.
	BinWindow int
	// ConstantProductFeeBps is the swap fee of constant-product pairs, which
	// the pair contract does not expose.
	ConstantProductFeeBps uint32
}

// DefaultFetchOptions matches PancakeSwap V2 fees on BSC.
func DefaultFetchOptions() FetchOptions {
	return FetchOptions{TickWindow: 20, BinWindow: 30, ConstantProductFeeBps: 25}
}

// TokenInfo is the ERC20 metadata used for logs and sanity checks.
type TokenInfo struct {
	Address  common.Address `json:"address"`
	Decimals uint8          `json:"decimals"`
	Symbol   string         `json:"symbol"`
}

// FetchIdentity reads token and factory addresses from a pool contract.
func FetchIdentity(ctx context.Context, caller chain.Caller, pool common.Address, family model.Family) (model.PoolIdentity, error) {
	if caller == nil {
		return model.PoolIdentity{}, fmt.Errorf("chain client is nil")
	}
	parsed, err := poolABI(family)
	if err != nil {
		return model.PoolIdentity{}, err
	}

	id := model.PoolIdentity{Family: family, Address: pool}
	readAddress := func(method string, args ...interface{}) (common.Address, error) {
		values, err := callMethod(ctx, caller, pool, parsed, method, nil, args...)
		if err != nil {
			return common.Address{}, err
		}
		return asAddress(values[0])
	}

	switch family {
	case model.FamilyConstantProduct, model.FamilyConcentrated:
		if id.Token0, err = readAddress("token0"); err != nil {
			return model.PoolIdentity{}, err
		}
		if id.Token1, err = readAddress("token1"); err != nil {
			return model.PoolIdentity{}, err
		}
		if id.Factory, err = readAddress("factory"); err != nil {
			return model.PoolIdentity{}, err
		}
	case model.FamilyBin:
		if id.Token0, err = readAddress("getTokenX"); err != nil {
			return model.PoolIdentity{}, err
		}
		if id.Token1, err = readAddress("getTokenY"); err != nil {
			return model.PoolIdentity{}, err
		}
		if id.Factory, err = readAddress("getFactory"); err != nil {
			return model.PoolIdentity{}, err
		}
	case model.FamilyStable:
		if id.Token0, err = readAddress("coins", big.NewInt(0)); err != nil {
			return model.PoolIdentity{}, err
		}
		if id.Token1, err = readAddress("coins", big.NewInt(1)); err != nil {
			return model.PoolIdentity{}, err
		}
		if id.Factory, err = readAddress("STABLESWAP_FACTORY"); err != nil {
			return model.PoolIdentity{}, err
		}
		if err := checkStablePrecision(ctx, caller, id); err != nil {
			return model.PoolIdentity{}, err
		}
	default:
		return model.PoolIdentity{}, fmt.Errorf("unsupported family %s", family)
	}
	return id, nil
}

// checkStablePrecision rejects stable pools whose coins differ in decimals;
// the invariant math assumes equal precision.
func checkStablePrecision(ctx context.Context, caller chain.Caller, id model.PoolIdentity) error {
	t0, err := FetchToken(ctx, caller, id.Token0)
	if err != nil {
		return err
	}
	t1, err := FetchToken(ctx, caller, id.Token1)
	if err != nil {
		return err
	}
	if t0.Decimals != t1.Decimals {
		return fmt.Errorf("stable pool %s mixes %d and %d decimals", id.Address.Hex(), t0.Decimals, t1.Decimals)
	}
	return nil
}

// FetchState reads the pool state as of the end of block.
func FetchState(ctx context.Context, caller chain.Caller, id model.PoolIdentity, block uint64, opts FetchOptions) (model.PoolState, error) {
	if caller == nil {
		return nil, fmt.Errorf("chain client is nil")
	}
	parsed, err := poolABI(id.Family)
	if err != nil {
		return nil, err
	}
	var blockPtr *big.Int
	if block > 0 {
		blockPtr = new(big.Int).SetUint64(block)
	}
	call := func(method string, args ...interface{}) ([]interface{}, error) {
		return callMethod(ctx, caller, id.Address, parsed, method, blockPtr, args...)
	}

	var state model.PoolState
	switch id.Family {
	case model.FamilyConstantProduct:
		state, err = fetchConstantProduct(call, opts)
	case model.FamilyConcentrated:
		state, err = fetchConcentrated(call, opts)
	case model.FamilyBin:
		state, err = fetchBin(call, opts)
	case model.FamilyStable:
		state, err = fetchStable(call)
	default:
		return nil, fmt.Errorf("unsupported family %s", id.Family)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s state of %s: %w", id.Family, id.Address.Hex(), err)
	}
	if err := model.ValidateState(state); err != nil {
		return nil, fmt.Errorf("fetch %s state of %s: %w", id.Family, id.Address.Hex(), err)
	}
	return state, nil
}

type callFunc func(method string, args ...interface{}) ([]interface{}, error)

func fetchConstantProduct(call callFunc, opts FetchOptions) (model.PoolState, error) {
	values, err := call("getReserves")
	if err != nil {
		return nil, err
	}
	if len(values) < 2 {
		return nil, fmt.Errorf("unexpected getReserves values: %d", len(values))
	}
	reserve0, err := asBigInt(values[0])
	if err != nil {
		return nil, err
	}
	reserve1, err := asBigInt(values[1])
	if err != nil {
		return nil, err
	}
	return &model.ConstantProductState{Reserve0: reserve0, Reserve1: reserve1, FeeBps: opts.ConstantProductFeeBps}, nil
}

func fetchConcentrated(call callFunc, opts FetchOptions) (model.PoolState, error) {
	values, err := call("slot0")
	if err != nil {
		return nil, err
	}
	if len(values) < 2 {
		return nil, fmt.Errorf("unexpected slot0 values: %d", len(values))
	}
	sqrtPrice, err := asBigInt(values[0])
	if err != nil {
		return nil, err
	}
	tickInt, err := asBigInt(values[1])
	if err != nil {
		return nil, err
	}
	tick, err := int24FromBig(tickInt)
	if err != nil {
		return nil, err
	}

	if values, err = call("liquidity"); err != nil {
		return nil, err
	}
	liquidity, err := asBigInt(values[0])
	if err != nil {
		return nil, err
	}
	if values, err = call("fee"); err != nil {
		return nil, err
	}
	fee, err := asUint32(values[0])
	if err != nil {
		return nil, err
	}
	if values, err = call("tickSpacing"); err != nil {
		return nil, err
	}
	spacingInt, err := asBigInt(values[0])
	if err != nil {
		return nil, err
	}
	spacing, err := int24FromBig(spacingInt)
	if err != nil {
		return nil, err
	}
	if spacing <= 0 {
		return nil, fmt.Errorf("tick spacing must be positive: %d", spacing)
	}

	state := &model.ConcentratedState{
		SqrtPriceX96: sqrtPrice,
		Tick:         tick,
		Liquidity:    liquidity,
		TickSpacing:  spacing,
		FeePips:      fee,
	}

	compressed := tick / spacing
	if tick < 0 && tick%spacing != 0 {
		compressed--
	}
	for i := -opts.TickWindow; i <= opts.TickWindow; i++ {
		index := (compressed + int32(i)) * spacing
		if index < amm.MinTick || index > amm.MaxTick {
			continue
		}
		values, err := call("ticks", big.NewInt(int64(index)))
		if err != nil {
			return nil, err
		}
		if len(values) < 2 {
			return nil, fmt.Errorf("unexpected ticks values: %d", len(values))
		}
		net, err := asBigInt(values[1])
		if err != nil {
			return nil, err
		}
		if net.Sign() != 0 {
			state.Ticks = append(state.Ticks, model.TickLiquidity{Index: index, LiquidityNet: net})
		}
	}
	return state, nil
}

func fetchBin(call callFunc, opts FetchOptions) (model.PoolState, error) {
	values, err := call("getActiveId")
	if err != nil {
		return nil, err
	}
	active, err := asUint32(values[0])
	if err != nil {
		return nil, err
	}
	if values, err = call("getBinStep"); err != nil {
		return nil, err
	}
	step, err := asUint32(values[0])
	if err != nil {
		return nil, err
	}
	if values, err = call("getStaticFeeParameters"); err != nil {
		return nil, err
	}
	baseFactor, err := asUint32(values[0])
	if err != nil {
		return nil, err
	}

	// base fee = baseFactor * binStep * 1e10 in 1e18 precision
	state := &model.BinState{
		ActiveID:   active,
		BinStep:    uint16(step),
		BaseFeeBps: baseFactor * step / 10_000,
	}
	lo := int64(active) - int64(opts.BinWindow)
	if lo < 0 {
		lo = 0
	}
	hi := int64(active) + int64(opts.BinWindow)
	if hi > 1<<24-1 {
		hi = 1<<24 - 1
	}
	for id := lo; id <= hi; id++ {
		values, err := call("getBin", big.NewInt(id))
		if err != nil {
			return nil, err
		}
		if len(values) < 2 {
			return nil, fmt.Errorf("unexpected getBin values: %d", len(values))
		}
		x, err := asBigInt(values[0])
		if err != nil {
			return nil, err
		}
		y, err := asBigInt(values[1])
		if err != nil {
			return nil, err
		}
		if x.Sign() == 0 && y.Sign() == 0 && uint32(id) != active {
			continue
		}
		state.Bins = append(state.Bins, model.Bin{ID: uint32(id), ReserveX: x, ReserveY: y})
	}
	return state, nil
}

func fetchStable(call callFunc) (model.PoolState, error) {
	state := &model.StableState{}
	for i := int64(0); i < 2; i++ {
		values, err := call("balances", big.NewInt(i))
		if err != nil {
			return nil, err
		}
		balance, err := asBigInt(values[0])
		if err != nil {
			return nil, err
		}
		state.Balances = append(state.Balances, balance)
	}
	values, err := call("A")
	if err != nil {
		return nil, err
	}
	if state.Amp, err = asBigInt(values[0]); err != nil {
		return nil, err
	}
	if values, err = call("fee"); err != nil {
		return nil, err
	}
	if state.Fee, err = asBigInt(values[0]); err != nil {
		return nil, err
	}
	return state, nil
}

// FetchToken loads ERC20 decimals and symbol. A missing symbol is not an
// error.
func FetchToken(ctx context.Context, caller chain.Caller, token common.Address) (TokenInfo, error) {
	info := TokenInfo{Address: token}
	if caller == nil {
		return info, fmt.Errorf("chain client is nil")
	}
	parsed, err := erc20ABI.get()
	if err != nil {
		return info, fmt.Errorf("parse erc20 abi: %w", err)
	}

	values, err := callMethod(ctx, caller, token, parsed, "decimals", nil)
	if err != nil {
		return info, err
	}
	decimals, err := asUint32(values[0])
	if err != nil {
		return info, fmt.Errorf("decimals: %w", err)
	}
	info.Decimals = uint8(decimals)

	if values, err := callMethod(ctx, caller, token, parsed, "symbol", nil); err == nil {
		if symbol, ok := values[0].(string); ok {
			info.Symbol = symbol
		}
	} else if legacy, perr := erc20Bytes32ABI.get(); perr == nil {
		if values, err := callMethod(ctx, caller, token, legacy, "symbol", nil); err == nil {
			if raw, ok := values[0].([32]byte); ok {
				info.Symbol = string(bytes.TrimRight(raw[:], "\x00"))
			}
		}
	}
	return info, nil
}

func callMethod(ctx context.Context, caller chain.Caller, to common.Address, parsed abi.ABI, method string, block *big.Int, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &to, Data: data}
	resp, err := caller.CallContract(ctx, msg, block)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("unpack %s: empty result", method)
	}
	return values, nil
}
