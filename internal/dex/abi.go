package dex

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"spreadScope/internal/model"
)

const v2PairABIJSON = `[
  {"anonymous": false, "inputs": [
    {"indexed": false, "internalType": "uint112", "name": "reserve0", "type": "uint112"},
    {"indexed": false, "internalType": "uint112", "name": "reserve1", "type": "uint112"}
  ], "name": "Sync", "type": "event"},
  {"inputs": [], "name": "getReserves", "outputs": [
    {"internalType": "uint112", "name": "reserve0", "type": "uint112"},
    {"internalType": "uint112", "name": "reserve1", "type": "uint112"},
    {"internalType": "uint32", "name": "blockTimestampLast", "type": "uint32"}
  ], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "token0", "outputs": [{"internalType": "address", "name": "", "type": "address"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "token1", "outputs": [{"internalType": "address", "name": "", "type": "address"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "factory", "outputs": [{"internalType": "address", "name": "", "type": "address"}], "stateMutability": "view", "type": "function"}
]`

const v2FactoryABIJSON = `[
  {"anonymous": false, "inputs": [
    {"indexed": true, "internalType": "address", "name": "token0", "type": "address"},
    {"indexed": true, "internalType": "address", "name": "token1", "type": "address"},
    {"indexed": false, "internalType": "address", "name": "pair", "type": "address"},
    {"indexed": false, "internalType": "uint256", "name": "", "type": "uint256"}
  ], "name": "PairCreated", "type": "event"}
]`

const v3PoolABIJSON = `[
  {"anonymous": false, "inputs": [
    {"indexed": true, "internalType": "address", "name": "sender", "type": "address"},
    {"indexed": true, "internalType": "address", "name": "recipient", "type": "address"},
    {"indexed": false, "internalType": "int256", "name": "amount0", "type": "int256"},
    {"indexed": false, "internalType": "int256", "name": "amount1", "type": "int256"},
    {"indexed": false, "internalType": "uint160", "name": "sqrtPriceX96", "type": "uint160"},
    {"indexed": false, "internalType": "uint128", "name": "liquidity", "type": "uint128"},
    {"indexed": false, "internalType": "int24", "name": "tick", "type": "int24"}
  ], "name": "Swap", "type": "event"},
  {"anonymous": false, "inputs": [
    {"indexed": false, "internalType": "address", "name": "sender", "type": "address"},
    {"indexed": true, "internalType": "address", "name": "owner", "type": "address"},
    {"indexed": true, "internalType": "int24", "name": "tickLower", "type": "int24"},
    {"indexed": true, "internalType": "int24", "name": "tickUpper", "type": "int24"},
    {"indexed": false, "internalType": "uint128", "name": "amount", "type": "uint128"},
    {"indexed": false, "internalType": "uint256", "name": "amount0", "type": "uint256"},
    {"indexed": false, "internalType": "uint256", "name": "amount1", "type": "uint256"}
  ], "name": "Mint", "type": "event"},
  {"anonymous": false, "inputs": [
    {"indexed": true, "internalType": "address", "name": "owner", "type": "address"},
    {"indexed": true, "internalType": "int24", "name": "tickLower", "type": "int24"},
    {"indexed": true, "internalType": "int24", "name": "tickUpper", "type": "int24"},
    {"indexed": false, "internalType": "uint128", "name": "amount", "type": "uint128"},
    {"indexed": false, "internalType": "uint256", "name": "amount0", "type": "uint256"},
    {"indexed": false, "internalType": "uint256", "name": "amount1", "type": "uint256"}
  ], "name": "Burn", "type": "event"},
  {"inputs": [], "name": "token0", "outputs": [{"internalType": "address", "name": "", "type": "address"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "token1", "outputs": [{"internalType": "address", "name": "", "type": "address"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "factory", "outputs": [{"internalType": "address", "name": "", "type": "address"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "fee", "outputs": [{"internalType": "uint24", "name": "", "type": "uint24"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "tickSpacing", "outputs": [{"internalType": "int24", "name": "", "type": "int24"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "liquidity", "outputs": [{"internalType": "uint128", "name": "", "type": "uint128"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "slot0", "outputs": [
    {"internalType": "uint160", "name": "sqrtPriceX96", "type": "uint160"},
    {"internalType": "int24", "name": "tick", "type": "int24"},
    {"internalType": "uint16", "name": "observationIndex", "type": "uint16"},
    {"internalType": "uint16", "name": "observationCardinality", "type": "uint16"},
    {"internalType": "uint16", "name": "observationCardinalityNext", "type": "uint16"},
    {"internalType": "uint32", "name": "feeProtocol", "type": "uint32"},
    {"internalType": "bool", "name": "unlocked", "type": "bool"}
  ], "stateMutability": "view", "type": "function"},
  {"inputs": [{"internalType": "int24", "name": "tick", "type": "int24"}], "name": "ticks", "outputs": [
    {"internalType": "uint128", "name": "liquidityGross", "type": "uint128"},
    {"internalType": "int128", "name": "liquidityNet", "type": "int128"}
  ], "stateMutability": "view", "type": "function"}
]`

// PancakeSwap V3 appends protocol fees to Swap, which changes its topic0.
const pancakeV3SwapABIJSON = `[
  {"anonymous": false, "inputs": [
    {"indexed": true, "internalType": "address", "name": "sender", "type": "address"},
    {"indexed": true, "internalType": "address", "name": "recipient", "type": "address"},
    {"indexed": false, "internalType": "int256", "name": "amount0", "type": "int256"},
    {"indexed": false, "internalType": "int256", "name": "amount1", "type": "int256"},
    {"indexed": false, "internalType": "uint160", "name": "sqrtPriceX96", "type": "uint160"},
    {"indexed": false, "internalType": "uint128", "name": "liquidity", "type": "uint128"},
    {"indexed": false, "internalType": "int24", "name": "tick", "type": "int24"},
    {"indexed": false, "internalType": "uint128", "name": "protocolFeesToken0", "type": "uint128"},
    {"indexed": false, "internalType": "uint128", "name": "protocolFeesToken1", "type": "uint128"}
  ], "name": "Swap", "type": "event"}
]`

const v3FactoryABIJSON = `[
  {"anonymous": false, "inputs": [
    {"indexed": true, "internalType": "address", "name": "token0", "type": "address"},
    {"indexed": true, "internalType": "address", "name": "token1", "type": "address"},
    {"indexed": true, "internalType": "uint24", "name": "fee", "type": "uint24"},
    {"indexed": false, "internalType": "int24", "name": "tickSpacing", "type": "int24"},
    {"indexed": false, "internalType": "address", "name": "pool", "type": "address"}
  ], "name": "PoolCreated", "type": "event"}
]`

const lbPairABIJSON = `[
  {"anonymous": false, "inputs": [
    {"indexed": true, "internalType": "address", "name": "sender", "type": "address"},
    {"indexed": true, "internalType": "address", "name": "to", "type": "address"},
    {"indexed": false, "internalType": "uint24", "name": "id", "type": "uint24"},
    {"indexed": false, "internalType": "bytes32", "name": "amountsIn", "type": "bytes32"},
    {"indexed": false, "internalType": "bytes32", "name": "amountsOut", "type": "bytes32"},
    {"indexed": false, "internalType": "uint24", "name": "volatilityAccumulator", "type": "uint24"},
    {"indexed": false, "internalType": "bytes32", "name": "totalFees", "type": "bytes32"},
    {"indexed": false, "internalType": "bytes32", "name": "protocolFees", "type": "bytes32"}
  ], "name": "Swap", "type": "event"},
  {"anonymous": false, "inputs": [
    {"indexed": true, "internalType": "address", "name": "sender", "type": "address"},
    {"indexed": true, "internalType": "address", "name": "to", "type": "address"},
    {"indexed": false, "internalType": "uint256[]", "name": "ids", "type": "uint256[]"},
    {"indexed": false, "internalType": "bytes32[]", "name": "amounts", "type": "bytes32[]"}
  ], "name": "DepositedToBins", "type": "event"},
  {"anonymous": false, "inputs": [
    {"indexed": true, "internalType": "address", "name": "sender", "type": "address"},
    {"indexed": true, "internalType": "address", "name": "to", "type": "address"},
    {"indexed": false, "internalType": "uint256[]", "name": "ids", "type": "uint256[]"},
    {"indexed": false, "internalType": "bytes32[]", "name": "amounts", "type": "bytes32[]"}
  ], "name": "WithdrawnFromBins", "type": "event"},
  {"inputs": [], "name": "getTokenX", "outputs": [{"internalType": "address", "name": "tokenX", "type": "address"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "getTokenY", "outputs": [{"internalType": "address", "name": "tokenY", "type": "address"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "getFactory", "outputs": [{"internalType": "address", "name": "factory", "type": "address"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "getActiveId", "outputs": [{"internalType": "uint24", "name": "activeId", "type": "uint24"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "getBinStep", "outputs": [{"internalType": "uint16", "name": "", "type": "uint16"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"internalType": "uint24", "name": "id", "type": "uint24"}], "name": "getBin", "outputs": [
    {"internalType": "uint128", "name": "binReserveX", "type": "uint128"},
    {"internalType": "uint128", "name": "binReserveY", "type": "uint128"}
  ], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "getStaticFeeParameters", "outputs": [
    {"internalType": "uint16", "name": "baseFactor", "type": "uint16"},
    {"internalType": "uint16", "name": "filterPeriod", "type": "uint16"},
    {"internalType": "uint16", "name": "decayPeriod", "type": "uint16"},
    {"internalType": "uint16", "name": "reductionFactor", "type": "uint16"},
    {"internalType": "uint24", "name": "variableFeeControl", "type": "uint24"},
    {"internalType": "uint16", "name": "protocolShare", "type": "uint16"},
    {"internalType": "uint24", "name": "maxVolatilityAccumulator", "type": "uint24"}
  ], "stateMutability": "view", "type": "function"}
]`

const lbFactoryABIJSON = `[
  {"anonymous": false, "inputs": [
    {"indexed": true, "internalType": "contract IERC20", "name": "tokenX", "type": "address"},
    {"indexed": true, "internalType": "contract IERC20", "name": "tokenY", "type": "address"},
    {"indexed": true, "internalType": "uint256", "name": "binStep", "type": "uint256"},
    {"indexed": false, "internalType": "contract ILBPair", "name": "LBPair", "type": "address"},
    {"indexed": false, "internalType": "uint256", "name": "pid", "type": "uint256"}
  ], "name": "LBPairCreated", "type": "event"}
]`

const stableSwapABIJSON = `[
  {"anonymous": false, "inputs": [
    {"indexed": true, "internalType": "address", "name": "buyer", "type": "address"},
    {"indexed": false, "internalType": "uint256", "name": "sold_id", "type": "uint256"},
    {"indexed": false, "internalType": "uint256", "name": "tokens_sold", "type": "uint256"},
    {"indexed": false, "internalType": "uint256", "name": "bought_id", "type": "uint256"},
    {"indexed": false, "internalType": "uint256", "name": "tokens_bought", "type": "uint256"}
  ], "name": "TokenExchange", "type": "event"},
  {"anonymous": false, "inputs": [
    {"indexed": true, "internalType": "address", "name": "provider", "type": "address"},
    {"indexed": false, "internalType": "uint256[2]", "name": "token_amounts", "type": "uint256[2]"},
    {"indexed": false, "internalType": "uint256[2]", "name": "fees", "type": "uint256[2]"},
    {"indexed": false, "internalType": "uint256", "name": "invariant", "type": "uint256"},
    {"indexed": false, "internalType": "uint256", "name": "token_supply", "type": "uint256"}
  ], "name": "AddLiquidity", "type": "event"},
  {"anonymous": false, "inputs": [
    {"indexed": true, "internalType": "address", "name": "provider", "type": "address"},
    {"indexed": false, "internalType": "uint256[2]", "name": "token_amounts", "type": "uint256[2]"},
    {"indexed": false, "internalType": "uint256[2]", "name": "fees", "type": "uint256[2]"},
    {"indexed": false, "internalType": "uint256", "name": "token_supply", "type": "uint256"}
  ], "name": "RemoveLiquidity", "type": "event"},
  {"anonymous": false, "inputs": [
    {"indexed": true, "internalType": "address", "name": "provider", "type": "address"},
    {"indexed": false, "internalType": "uint256", "name": "index", "type": "uint256"},
    {"indexed": false, "internalType": "uint256", "name": "token_amount", "type": "uint256"},
    {"indexed": false, "internalType": "uint256", "name": "coin_amount", "type": "uint256"}
  ], "name": "RemoveLiquidityOne", "type": "event"},
  {"anonymous": false, "inputs": [
    {"indexed": true, "internalType": "address", "name": "provider", "type": "address"},
    {"indexed": false, "internalType": "uint256[2]", "name": "token_amounts", "type": "uint256[2]"},
    {"indexed": false, "internalType": "uint256[2]", "name": "fees", "type": "uint256[2]"},
    {"indexed": false, "internalType": "uint256", "name": "invariant", "type": "uint256"},
    {"indexed": false, "internalType": "uint256", "name": "token_supply", "type": "uint256"}
  ], "name": "RemoveLiquidityImbalance", "type": "event"},
  {"anonymous": false, "inputs": [
    {"indexed": false, "internalType": "uint256", "name": "A", "type": "uint256"},
    {"indexed": false, "internalType": "uint256", "name": "t", "type": "uint256"}
  ], "name": "StopRampA", "type": "event"},
  {"inputs": [{"internalType": "uint256", "name": "i", "type": "uint256"}], "name": "coins", "outputs": [{"internalType": "address", "name": "", "type": "address"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"internalType": "uint256", "name": "i", "type": "uint256"}], "name": "balances", "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "A", "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "fee", "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "STABLESWAP_FACTORY", "outputs": [{"internalType": "address", "name": "", "type": "address"}], "stateMutability": "view", "type": "function"}
]`

const stableFactoryABIJSON = `[
  {"anonymous": false, "inputs": [
    {"indexed": true, "internalType": "address", "name": "swapContract", "type": "address"},
    {"indexed": false, "internalType": "address", "name": "tokenA", "type": "address"},
    {"indexed": false, "internalType": "address", "name": "tokenB", "type": "address"},
    {"indexed": false, "internalType": "address", "name": "tokenC", "type": "address"},
    {"indexed": false, "internalType": "address", "name": "LP", "type": "address"}
  ], "name": "NewStableSwapPair", "type": "event"}
]`

const erc20ABIJSON = `[
  {"inputs": [], "name": "decimals", "outputs": [{"type": "uint8"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "symbol", "outputs": [{"type": "string"}], "stateMutability": "view", "type": "function"}
]`

// Some older tokens return symbol as bytes32.
const erc20Bytes32ABIJSON = `[
  {"inputs": [], "name": "symbol", "outputs": [{"type": "bytes32"}], "stateMutability": "view", "type": "function"}
]`

// lazyABI parses its JSON on first use.
type lazyABI struct {
	json   string
	once   sync.Once
	parsed abi.ABI
	err    error
}

func (l *lazyABI) get() (abi.ABI, error) {
	l.once.Do(func() {
		l.parsed, l.err = abi.JSON(strings.NewReader(l.json))
	})
	return l.parsed, l.err
}

var (
	v2PairABI        = &lazyABI{json: v2PairABIJSON}
	v2FactoryABI     = &lazyABI{json: v2FactoryABIJSON}
	v3PoolABI        = &lazyABI{json: v3PoolABIJSON}
	pancakeV3SwapABI = &lazyABI{json: pancakeV3SwapABIJSON}
	v3FactoryABI     = &lazyABI{json: v3FactoryABIJSON}
	lbPairABI        = &lazyABI{json: lbPairABIJSON}
	lbFactoryABI     = &lazyABI{json: lbFactoryABIJSON}
	stableSwapABI    = &lazyABI{json: stableSwapABIJSON}
	stableFactoryABI = &lazyABI{json: stableFactoryABIJSON}
	erc20ABI         = &lazyABI{json: erc20ABIJSON}
	erc20Bytes32ABI  = &lazyABI{json: erc20Bytes32ABIJSON}
)

// V2PairABI returns the parsed Uniswap V2 style pair ABI.
func V2PairABI() (abi.ABI, error) { return v2PairABI.get() }

// V3PoolABI returns the parsed V3 pool ABI.
func V3PoolABI() (abi.ABI, error) { return v3PoolABI.get() }

// PancakeV3SwapABI returns the PancakeSwap V3 Swap event.
func PancakeV3SwapABI() (abi.ABI, error) { return pancakeV3SwapABI.get() }

// LBPairABI returns the parsed Liquidity Book v2.1 pair ABI.
func LBPairABI() (abi.ABI, error) { return lbPairABI.get() }

// StableSwapABI returns the parsed two-coin StableSwap pool ABI.
func StableSwapABI() (abi.ABI, error) { return stableSwapABI.get() }

// poolABI returns the pool ABI of a family.
func poolABI(family model.Family) (abi.ABI, error) {
	switch family {
	case model.FamilyConstantProduct:
		return V2PairABI()
	case model.FamilyConcentrated:
		return V3PoolABI()
	case model.FamilyBin:
		return LBPairABI()
	case model.FamilyStable:
		return StableSwapABI()
	default:
		return abi.ABI{}, fmt.Errorf("unsupported family %s", family)
	}
}

// creationEvent returns the factory event that announces a new pool.
func creationEvent(family model.Family) (abi.Event, error) {
	var (
		l    *lazyABI
		name string
	)
	switch family {
	case model.FamilyConstantProduct:
		l, name = v2FactoryABI, "PairCreated"
	case model.FamilyConcentrated:
		l, name = v3FactoryABI, "PoolCreated"
	case model.FamilyBin:
		l, name = lbFactoryABI, "LBPairCreated"
	case model.FamilyStable:
		l, name = stableFactoryABI, "NewStableSwapPair"
	default:
		return abi.Event{}, fmt.Errorf("unsupported family %s", family)
	}
	parsed, err := l.get()
	if err != nil {
		return abi.Event{}, err
	}
	return parsed.Events[name], nil
}
