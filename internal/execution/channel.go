package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

// TxStatus is the on-chain state of a submitted transaction.
type TxStatus int

const (
	TxPending TxStatus = iota
	TxConfirmed
	TxReverted
)

func (s TxStatus) String() string {
	switch s {
	case TxConfirmed:
		return "confirmed"
	case TxReverted:
		return "reverted"
	default:
		return "pending"
	}
}

// SignedTx is a transaction ready for submission.
type SignedTx struct {
	Tx *types.Transaction
}

// Hint carries per-submission routing options.
type Hint struct {
	// BlockOffset targets a bundle at head+1+BlockOffset.
	BlockOffset uint64
}

// Channel submits signed transactions and reports their status.
type Channel interface {
	Name() string
	Submit(ctx context.Context, tx SignedTx, hint Hint) (common.Hash, error)
	Status(ctx context.Context, hash common.Hash) (TxStatus, error)
}

// ChainBackend is the subset of the chain client used by channels.
type ChainBackend interface {
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, bool, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

// RPCChannel broadcasts through the public mempool of the chain RPC.
type RPCChannel struct {
	backend ChainBackend
}

func NewRPCChannel(backend ChainBackend) *RPCChannel {
	return &RPCChannel{backend: backend}
}

func (c *RPCChannel) Name() string { return "rpc" }

func (c *RPCChannel) Submit(ctx context.Context, tx SignedTx, _ Hint) (common.Hash, error) {
	if tx.Tx == nil {
		return common.Hash{}, fmt.Errorf("empty transaction")
	}
	if err := c.backend.SendTransaction(ctx, tx.Tx); err != nil {
		return common.Hash{}, err
	}
	return tx.Tx.Hash(), nil
}

func (c *RPCChannel) Status(ctx context.Context, hash common.Hash) (TxStatus, error) {
	return receiptStatus(ctx, c.backend, hash)
}

// RelayChannel sends single-transaction bundles to a private relay and
// confirms them through the chain RPC.
type RelayChannel struct {
	client  *rpc.Client
	backend ChainBackend
}

type bundleRequest struct {
	Txs         []hexutil.Bytes `json:"txs"`
	BlockNumber hexutil.Uint64  `json:"blockNumber"`
}

// NewRelayChannel dials the relay endpoint. authHeader is either
// "Name: value" or a bare value sent as Authorization.
func NewRelayChannel(ctx context.Context, url, authHeader string, backend ChainBackend) (*RelayChannel, error) {
	var opts []rpc.ClientOption
	if authHeader != "" {
		name, value := "Authorization", authHeader
		if k, v, ok := strings.Cut(authHeader, ":"); ok {
			name, value = strings.TrimSpace(k), strings.TrimSpace(v)
		}
		opts = append(opts, rpc.WithHeader(name, value))
	}
	client, err := rpc.DialOptions(ctx, url, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	return &RelayChannel{client: client, backend: backend}, nil
}

func (c *RelayChannel) Name() string { return "relay" }

func (c *RelayChannel) Close() {
	c.client.Close()
}

func (c *RelayChannel) Submit(ctx context.Context, tx SignedTx, hint Hint) (common.Hash, error) {
	if tx.Tx == nil {
		return common.Hash{}, fmt.Errorf("empty transaction")
	}
	raw, err := tx.Tx.MarshalBinary()
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode transaction: %w", err)
	}
	head, err := c.backend.LatestBlockNumber(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("relay target block: %w", err)
	}
	req := bundleRequest{
		Txs:         []hexutil.Bytes{raw},
		BlockNumber: hexutil.Uint64(head + 1 + hint.BlockOffset),
	}
	var result json.RawMessage
	if err := c.client.CallContext(ctx, &result, "eth_sendBundle", req); err != nil {
		return common.Hash{}, err
	}
	return tx.Tx.Hash(), nil
}

func (c *RelayChannel) Status(ctx context.Context, hash common.Hash) (TxStatus, error) {
	return receiptStatus(ctx, c.backend, hash)
}

func receiptStatus(ctx context.Context, backend ChainBackend, hash common.Hash) (TxStatus, error) {
	receipt, found, err := backend.TransactionReceipt(ctx, hash)
	if err != nil {
		return TxPending, err
	}
	if !found {
		return TxPending, nil
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		return TxConfirmed, nil
	}
	return TxReverted, nil
}

var (
	_ Channel = (*RPCChannel)(nil)
	_ Channel = (*RelayChannel)(nil)
)
