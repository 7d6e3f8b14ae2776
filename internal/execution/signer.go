package execution

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"spreadScope/internal/model"
)

const executorABIJSON = `[
  {"inputs": [
    {"name": "buyPool", "type": "address"},
    {"name": "sellPool", "type": "address"},
    {"name": "tokenIn", "type": "address"},
    {"name": "amountIn", "type": "uint256"},
    {"name": "minOut", "type": "uint256"}
  ], "name": "executeArbitrage", "outputs": [], "stateMutability": "nonpayable", "type": "function"}
]`

var (
	executorOnce   sync.Once
	executorParsed abi.ABI
	executorErr    error
)

// ExecutorABI returns the parsed ABI of the on-chain arbitrage executor.
func ExecutorABI() (abi.ABI, error) {
	executorOnce.Do(func() {
		executorParsed, executorErr = abi.JSON(strings.NewReader(executorABIJSON))
	})
	return executorParsed, executorErr
}

// Signer turns a candidate into a signed transaction.
type Signer interface {
	Address() common.Address
	Sign(ctx context.Context, opp model.OpportunityCandidate) (SignedTx, error)
}

// SignerBackend is the subset of the chain client needed to price and
// sequence a transaction.
type SignerBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
}

// KeySigner signs EIP-1559 calls to the executor contract with one key.
type KeySigner struct {
	key         *ecdsa.PrivateKey
	from        common.Address
	chainID     *big.Int
	executor    common.Address
	slippageBps uint32
	backend     SignerBackend
}

func NewKeySigner(privateKeyHex string, chainID *big.Int, executor common.Address, slippageBps uint32, backend SignerBackend) (*KeySigner, error) {
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("invalid chain id %v", chainID)
	}
	if slippageBps > 10_000 {
		return nil, fmt.Errorf("slippage %d bps exceeds 10000", slippageBps)
	}
	return &KeySigner{
		key:         key,
		from:        ethcrypto.PubkeyToAddress(key.PublicKey),
		chainID:     new(big.Int).Set(chainID),
		executor:    executor,
		slippageBps: slippageBps,
		backend:     backend,
	}, nil
}

func (s *KeySigner) Address() common.Address { return s.from }

// MinOut is the smallest acceptable output after slippage.
func MinOut(expected *big.Int, slippageBps uint32) *big.Int {
	if expected == nil {
		return new(big.Int)
	}
	out := new(big.Int).Mul(expected, big.NewInt(int64(10_000-slippageBps)))
	return out.Quo(out, bpsDenominator)
}

// Calldata encodes executeArbitrage for the candidate's route.
func (s *KeySigner) Calldata(opp model.OpportunityCandidate) ([]byte, error) {
	parsed, err := ExecutorABI()
	if err != nil {
		return nil, err
	}
	if opp.AmountIn == nil || opp.AmountIn.Sign() <= 0 {
		return nil, model.ErrInvalidAmount
	}
	return parsed.Pack("executeArbitrage",
		opp.BuyPool.Address,
		opp.SellPool.Address,
		opp.QuoteAsset,
		opp.AmountIn,
		MinOut(opp.AmountOut, s.slippageBps),
	)
}

func (s *KeySigner) Sign(ctx context.Context, opp model.OpportunityCandidate) (SignedTx, error) {
	data, err := s.Calldata(opp)
	if err != nil {
		return SignedTx{}, fmt.Errorf("calldata: %w", err)
	}
	nonce, err := s.backend.PendingNonceAt(ctx, s.from)
	if err != nil {
		return SignedTx{}, fmt.Errorf("nonce: %w", err)
	}
	tip, err := s.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return SignedTx{}, fmt.Errorf("gas tip: %w", err)
	}
	head, err := s.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return SignedTx{}, fmt.Errorf("head: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	to := s.executor
	gas, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:      s.from,
		To:        &to,
		GasFeeCap: feeCap,
		GasTipCap: tip,
		Data:      data,
	})
	if err != nil {
		return SignedTx{}, fmt.Errorf("estimate gas: %w", err)
	}
	gas += gas / 5

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     new(big.Int),
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return SignedTx{}, fmt.Errorf("sign: %w", err)
	}
	return SignedTx{Tx: signed}, nil
}

var _ Signer = (*KeySigner)(nil)
