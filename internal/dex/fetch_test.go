package dex

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"spreadScope/internal/model"
)

// fakeCaller answers eth_call by method selector.
type fakeCaller struct {
	parsed   abi.ABI
	handlers map[string]func(args []interface{}) []interface{}
	blocks   []*big.Int
}

func newFakeCaller(parsed abi.ABI) *fakeCaller {
	return &fakeCaller{parsed: parsed, handlers: make(map[string]func([]interface{}) []interface{})}
}

func (f *fakeCaller) on(method string, fn func(args []interface{}) []interface{}) {
	f.handlers[method] = fn
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	f.blocks = append(f.blocks, block)
	method, err := f.parsed.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	fn, ok := f.handlers[method.Name]
	if !ok {
		return nil, fmt.Errorf("execution reverted: %s", method.Name)
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(fn(args)...)
}

func TestFetchStateConstantProduct(t *testing.T) {
	parsed, err := V2PairABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	caller := newFakeCaller(parsed)
	caller.on("getReserves", func([]interface{}) []interface{} {
		return []interface{}{big.NewInt(1000), big.NewInt(1100), uint32(1700000000)}
	})

	id := model.PoolIdentity{Family: model.FamilyConstantProduct, Address: testPool, Token0: testToken0, Token1: testToken1}
	state, err := FetchState(context.Background(), caller, id, 500, DefaultFetchOptions())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	cp := state.(*model.ConstantProductState)
	if cp.Reserve0.Int64() != 1000 || cp.Reserve1.Int64() != 1100 || cp.FeeBps != 25 {
		t.Fatalf("state mismatch: %+v", cp)
	}
	if len(caller.blocks) != 1 || caller.blocks[0].Uint64() != 500 {
		t.Fatalf("expected call pinned to block 500, got %v", caller.blocks)
	}
}

func TestFetchStateConcentratedReadsTickWindow(t *testing.T) {
	parsed, err := V3PoolABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	caller := newFakeCaller(parsed)
	sqrt, _ := new(big.Int).SetString("79228162514264337593543950336", 10)
	caller.on("slot0", func([]interface{}) []interface{} {
		return []interface{}{sqrt, big.NewInt(-5), uint16(0), uint16(1), uint16(1), uint32(0), true}
	})
	caller.on("liquidity", func([]interface{}) []interface{} { return []interface{}{big.NewInt(1_000_000)} })
	caller.on("fee", func([]interface{}) []interface{} { return []interface{}{big.NewInt(500)} })
	caller.on("tickSpacing", func([]interface{}) []interface{} { return []interface{}{big.NewInt(10)} })
	requested := map[int64]bool{}
	caller.on("ticks", func(args []interface{}) []interface{} {
		tick := args[0].(*big.Int).Int64()
		requested[tick] = true
		net := big.NewInt(0)
		switch tick {
		case -20:
			net = big.NewInt(1_000_000)
		case 20:
			net = big.NewInt(-1_000_000)
		}
		return []interface{}{new(big.Int).Abs(net), net}
	})

	id := model.PoolIdentity{Family: model.FamilyConcentrated, Address: testPool, Token0: testToken0, Token1: testToken1}
	opts := DefaultFetchOptions()
	opts.TickWindow = 3
	state, err := FetchState(context.Background(), caller, id, 0, opts)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	cl := state.(*model.ConcentratedState)
	if cl.Tick != -5 || cl.TickSpacing != 10 || cl.FeePips != 500 {
		t.Fatalf("state mismatch: %+v", cl)
	}
	if len(cl.Ticks) != 2 || cl.Ticks[0].Index != -20 || cl.Ticks[1].Index != 20 {
		t.Fatalf("ticks mismatch: %+v", cl.Ticks)
	}
	// tick -5 with spacing 10 compresses to -1, so the window is [-40, 20]
	if !requested[-40] || !requested[20] || requested[30] {
		t.Fatalf("unexpected tick window: %v", requested)
	}
}

func TestFetchStateStable(t *testing.T) {
	parsed, err := StableSwapABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	caller := newFakeCaller(parsed)
	caller.on("balances", func(args []interface{}) []interface{} {
		if args[0].(*big.Int).Int64() == 0 {
			return []interface{}{big.NewInt(5000)}
		}
		return []interface{}{big.NewInt(6000)}
	})
	caller.on("A", func([]interface{}) []interface{} { return []interface{}{big.NewInt(200)} })
	caller.on("fee", func([]interface{}) []interface{} { return []interface{}{big.NewInt(4_000_000)} })

	id := model.PoolIdentity{Family: model.FamilyStable, Address: testPool, Token0: testToken0, Token1: testToken1}
	state, err := FetchState(context.Background(), caller, id, 10, DefaultFetchOptions())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	st := state.(*model.StableState)
	if st.Balances[0].Int64() != 5000 || st.Balances[1].Int64() != 6000 || st.Amp.Int64() != 200 || st.Fee.Int64() != 4_000_000 {
		t.Fatalf("state mismatch: %+v", st)
	}
}

func TestFetchStateBinSkipsEmptyBins(t *testing.T) {
	parsed, err := LBPairABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	caller := newFakeCaller(parsed)
	const active = 8388608
	caller.on("getActiveId", func([]interface{}) []interface{} { return []interface{}{big.NewInt(active)} })
	caller.on("getBinStep", func([]interface{}) []interface{} { return []interface{}{uint16(25)} })
	caller.on("getStaticFeeParameters", func([]interface{}) []interface{} {
		return []interface{}{uint16(8000), uint16(30), uint16(600), uint16(5000), big.NewInt(0), uint16(0), big.NewInt(0)}
	})
	caller.on("getBin", func(args []interface{}) []interface{} {
		id := args[0].(*big.Int).Int64()
		switch {
		case id == active:
			return []interface{}{big.NewInt(10), big.NewInt(10)}
		case id == active+1:
			return []interface{}{big.NewInt(10), big.NewInt(0)}
		default:
			return []interface{}{big.NewInt(0), big.NewInt(0)}
		}
	})

	id := model.PoolIdentity{Family: model.FamilyBin, Address: testPool, Token0: testToken0, Token1: testToken1}
	opts := DefaultFetchOptions()
	opts.BinWindow = 2
	state, err := FetchState(context.Background(), caller, id, 0, opts)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	bin := state.(*model.BinState)
	if bin.ActiveID != active || bin.BinStep != 25 || bin.BaseFeeBps != 20 {
		t.Fatalf("state mismatch: %+v", bin)
	}
	if len(bin.Bins) != 2 || bin.Bins[0].ID != active || bin.Bins[1].ID != active+1 {
		t.Fatalf("bins mismatch: %+v", bin.Bins)
	}
}

func TestFetchIdentityConstantProduct(t *testing.T) {
	parsed, err := V2PairABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	factory := common.HexToAddress("0xcA143Ce32Fe78f1f7019d7d551a6402fC5350c73")
	caller := newFakeCaller(parsed)
	caller.on("token0", func([]interface{}) []interface{} { return []interface{}{testToken0} })
	caller.on("token1", func([]interface{}) []interface{} { return []interface{}{testToken1} })
	caller.on("factory", func([]interface{}) []interface{} { return []interface{}{factory} })

	id, err := FetchIdentity(context.Background(), caller, testPool, model.FamilyConstantProduct)
	if err != nil {
		t.Fatalf("fetch identity: %v", err)
	}
	want := model.PoolIdentity{Family: model.FamilyConstantProduct, Address: testPool, Token0: testToken0, Token1: testToken1, Factory: factory}
	if id != want {
		t.Fatalf("identity mismatch: got %+v want %+v", id, want)
	}
}

func TestFetchStateSurfacesCallErrors(t *testing.T) {
	parsed, err := V2PairABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	caller := newFakeCaller(parsed)
	id := model.PoolIdentity{Family: model.FamilyConstantProduct, Address: testPool}
	if _, err := FetchState(context.Background(), caller, id, 1, DefaultFetchOptions()); err == nil {
		t.Fatalf("expected error when getReserves reverts")
	}
}

func TestParseCreation(t *testing.T) {
	pair := common.HexToAddress("0x5555555555555555555555555555555555555555")
	factory := common.HexToAddress("0x6666666666666666666666666666666666666666")

	v2Event, err := creationEvent(model.FamilyConstantProduct)
	if err != nil {
		t.Fatalf("creation event: %v", err)
	}
	data, err := v2Event.Inputs.NonIndexed().Pack(pair, big.NewInt(1))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	log := buildLog(factory, v2Event.ID, data, []common.Hash{topicFromAddress(testToken0), topicFromAddress(testToken1)})
	id, err := ParseCreation(model.FamilyConstantProduct, log)
	if err != nil {
		t.Fatalf("parse creation: %v", err)
	}
	want := model.PoolIdentity{
		Family:       model.FamilyConstantProduct,
		Address:      pair,
		Token0:       testToken0,
		Token1:       testToken1,
		Factory:      factory,
		CreatedBlock: 12345,
	}
	if id != want {
		t.Fatalf("identity mismatch: got %+v want %+v", id, want)
	}

	v3Event, err := creationEvent(model.FamilyConcentrated)
	if err != nil {
		t.Fatalf("creation event: %v", err)
	}
	data, err = v3Event.Inputs.NonIndexed().Pack(big.NewInt(60), pair)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	fee := common.BigToHash(big.NewInt(3000))
	log = buildLog(factory, v3Event.ID, data, []common.Hash{topicFromAddress(testToken0), topicFromAddress(testToken1), fee})
	id, err = ParseCreation(model.FamilyConcentrated, log)
	if err != nil {
		t.Fatalf("parse v3 creation: %v", err)
	}
	if id.Address != pair || id.Family != model.FamilyConcentrated {
		t.Fatalf("v3 identity mismatch: %+v", id)
	}

	if _, err := ParseCreation(model.FamilyBin, log); err == nil {
		t.Fatalf("expected error for wrong family topic")
	}
}
