package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
)

// wsServer answers eth_subscribe and then hands the connection to serve.
func wsServer(t *testing.T, serve func(conn *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var req rpcRequest
		if err := conn.ReadJSON(&req); err != nil {
			t.Errorf("read request: %v", err)
			return
		}
		if req.Method != "eth_subscribe" || len(req.Params) != 2 || req.Params[0] != "logs" {
			t.Errorf("unexpected request: %+v", req)
			return
		}
		if err := conn.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": "0xfeed"}); err != nil {
			t.Errorf("write response: %v", err)
			return
		}
		serve(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSFeedDeliversLogs(t *testing.T) {
	log := syncLog(t, poolX, 42, 3, 10, 20)
	log.TxHash = common.HexToHash("0xabc")
	url := wsServer(t, func(conn *websocket.Conn) {
		raw, err := json.Marshal(log)
		if err != nil {
			t.Errorf("marshal log: %v", err)
			return
		}
		other := map[string]interface{}{
			"jsonrpc": "2.0",
			"method":  "eth_subscription",
			"params":  map[string]interface{}{"subscription": "0xother", "result": json.RawMessage(raw)},
		}
		mine := map[string]interface{}{
			"jsonrpc": "2.0",
			"method":  "eth_subscription",
			"params":  map[string]interface{}{"subscription": "0xfeed", "result": json.RawMessage(raw)},
		}
		_ = conn.WriteJSON(other)
		_ = conn.WriteJSON(mine)
		// keep the connection open until the client closes it
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	feed := NewWSFeed(url, time.Second, time.Second, nil)
	sub, err := feed.Subscribe(context.Background(), FeedFilter{Topics: []common.Hash{log.Topics[0]}})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	select {
	case got := <-sub.Logs():
		if got.Address != poolX || got.BlockNumber != 42 || got.Index != 3 || got.TxHash != log.TxHash {
			t.Fatalf("log mismatch: %+v", got)
		}
	case err := <-sub.Err():
		t.Fatalf("subscription failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("no log delivered")
	}

	select {
	case got := <-sub.Logs():
		t.Fatalf("log from a foreign subscription delivered: %+v", got)
	default:
	}
}

func TestWSFeedReportsStaleConnection(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn) {
		// answer pings but never send data
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	feed := NewWSFeed(url, 20*time.Millisecond, 100*time.Millisecond, nil)
	sub, err := feed.Subscribe(context.Background(), FeedFilter{})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	select {
	case err := <-sub.Err():
		if err == nil {
			t.Fatalf("expected a read error")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stale connection not detected")
	}
}

func TestWSFeedSubscribeError(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var req rpcRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		_ = conn.WriteJSON(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   map[string]interface{}{"code": -32601, "message": "notifications not supported"},
		})
	}))
	defer srv.Close()

	feed := NewWSFeed("ws"+strings.TrimPrefix(srv.URL, "http"), time.Second, time.Second, nil)
	if _, err := feed.Subscribe(context.Background(), FeedFilter{}); err == nil || !strings.Contains(err.Error(), "notifications not supported") {
		t.Fatalf("expected rpc error, got %v", err)
	}
}
