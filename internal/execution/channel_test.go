package execution

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

type fakeBackend struct {
	head     uint64
	sent     []*types.Transaction
	sendErr  error
	receipts map[common.Hash]*types.Receipt
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, bool, error) {
	receipt, ok := f.receipts[hash]
	return receipt, ok, nil
}

func (f *fakeBackend) LatestBlockNumber(context.Context) (uint64, error) {
	return f.head, nil
}

func testTx(nonce uint64) SignedTx {
	return SignedTx{Tx: types.NewTx(&types.DynamicFeeTx{ChainID: big.NewInt(56), Nonce: nonce})}
}

func TestRPCChannel(t *testing.T) {
	backend := &fakeBackend{receipts: map[common.Hash]*types.Receipt{}}
	channel := NewRPCChannel(backend)
	ctx := context.Background()

	tx := testTx(1)
	hash, err := channel.Submit(ctx, tx, Hint{})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if hash != tx.Tx.Hash() || len(backend.sent) != 1 {
		t.Fatalf("transaction not broadcast")
	}

	cases := []struct {
		name    string
		receipt *types.Receipt
		want    TxStatus
	}{
		{"not mined", nil, TxPending},
		{"success", &types.Receipt{Status: types.ReceiptStatusSuccessful}, TxConfirmed},
		{"reverted", &types.Receipt{Status: types.ReceiptStatusFailed}, TxReverted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			delete(backend.receipts, hash)
			if tc.receipt != nil {
				backend.receipts[hash] = tc.receipt
			}
			got, err := channel.Status(ctx, hash)
			if err != nil {
				t.Fatalf("status: %v", err)
			}
			if got != tc.want {
				t.Fatalf("status: got %s want %s", got, tc.want)
			}
		})
	}

	backend.sendErr = errors.New("insufficient funds")
	if _, err := channel.Submit(ctx, testTx(2), Hint{}); err == nil {
		t.Fatalf("expected send error")
	}
}

func TestRelayChannelSendsBundle(t *testing.T) {
	type rpcMessage struct {
		ID     json.RawMessage   `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	var (
		gotMethod string
		gotAuth   string
		gotBundle bundleRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg rpcMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		gotMethod = msg.Method
		gotAuth = r.Header.Get("X-Auth")
		if len(msg.Params) == 1 {
			if err := json.Unmarshal(msg.Params[0], &gotBundle); err != nil {
				t.Errorf("decode bundle: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      msg.ID,
			"result":  map[string]string{"bundleHash": "0x01"},
		})
	}))
	defer srv.Close()

	backend := &fakeBackend{head: 100}
	channel, err := NewRelayChannel(context.Background(), srv.URL, "X-Auth: secret", backend)
	if err != nil {
		t.Fatalf("dial relay: %v", err)
	}
	defer channel.Close()

	tx := testTx(7)
	hash, err := channel.Submit(context.Background(), tx, Hint{BlockOffset: 2})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if hash != tx.Tx.Hash() {
		t.Fatalf("hash mismatch")
	}
	if gotMethod != "eth_sendBundle" || gotAuth != "secret" {
		t.Fatalf("request mismatch: method %q auth %q", gotMethod, gotAuth)
	}
	raw, err := tx.Tx.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if gotBundle.BlockNumber != hexutil.Uint64(103) || len(gotBundle.Txs) != 1 || hexutil.Encode(gotBundle.Txs[0]) != hexutil.Encode(raw) {
		t.Fatalf("bundle mismatch: %+v", gotBundle)
	}
	if len(backend.sent) != 0 {
		t.Fatalf("relay submissions must not touch the public mempool")
	}
}
