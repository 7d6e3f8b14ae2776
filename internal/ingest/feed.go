package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait        = 10 * time.Second
	handshakeTimeout = 15 * time.Second
	subscribeID      = 1
)

var errSubscriptionClosed = errors.New("subscription closed")

// FeedFilter selects the logs a feed delivers. An empty address list means
// every emitter.
type FeedFilter struct {
	Addresses []common.Address
	Topics    []common.Hash
}

// Subscription is one live connection to a log feed. Err delivers at most one
// error, after which no more logs arrive.
type Subscription interface {
	Logs() <-chan types.Log
	Err() <-chan error
	Close()
}

// Feed opens log subscriptions.
type Feed interface {
	Subscribe(ctx context.Context, filter FeedFilter) (Subscription, error)
}

// WSFeed subscribes to logs with eth_subscribe over a websocket endpoint.
type WSFeed struct {
	url          string
	heartbeat    time.Duration
	staleTimeout time.Duration
	logger       *zap.Logger
}

func NewWSFeed(url string, heartbeat, staleTimeout time.Duration, logger *zap.Logger) *WSFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	if staleTimeout <= 0 {
		staleTimeout = 5 * time.Minute
	}
	return &WSFeed{url: url, heartbeat: heartbeat, staleTimeout: staleTimeout, logger: logger}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcMessage struct {
	ID     *int            `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
	Params *struct {
		Subscription string          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params,omitempty"`
}

type logsFilter struct {
	Address []common.Address `json:"address,omitempty"`
	Topics  [][]common.Hash  `json:"topics"`
}

// Subscribe dials the endpoint and waits for the subscription id before
// returning.
func (f *WSFeed) Subscribe(ctx context.Context, filter FeedFilter) (Subscription, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial feed: %w", err)
	}

	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      subscribeID,
		Method:  "eth_subscribe",
		Params:  []interface{}{"logs", logsFilter{Address: filter.Addresses, Topics: [][]common.Hash{filter.Topics}}},
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send eth_subscribe: %w", err)
	}

	subID, err := f.awaitSubscription(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	f.logger.Info("feed subscribed", zap.String("subscription", subID), zap.Int("topics", len(filter.Topics)))

	sub := &wsSubscription{
		conn:   conn,
		id:     subID,
		stale:  f.staleTimeout,
		logs:   make(chan types.Log, 256),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
		logger: f.logger,
	}
	go sub.readLoop()
	go sub.pingLoop(f.heartbeat)
	return sub, nil
}

func (f *WSFeed) awaitSubscription(conn *websocket.Conn) (string, error) {
	conn.SetReadDeadline(time.Now().Add(writeWait))
	for {
		var msg rpcMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return "", fmt.Errorf("read eth_subscribe response: %w", err)
		}
		if msg.ID == nil || *msg.ID != subscribeID {
			continue
		}
		if msg.Error != nil {
			return "", fmt.Errorf("eth_subscribe: %d %s", msg.Error.Code, msg.Error.Message)
		}
		var id string
		if err := json.Unmarshal(msg.Result, &id); err != nil {
			return "", fmt.Errorf("parse subscription id: %w", err)
		}
		return id, nil
	}
}

type wsSubscription struct {
	conn   *websocket.Conn
	id     string
	stale  time.Duration
	logs   chan types.Log
	errs   chan error
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger
}

func (s *wsSubscription) Logs() <-chan types.Log { return s.logs }
func (s *wsSubscription) Err() <-chan error      { return s.errs }

func (s *wsSubscription) Close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		s.conn.Close()
	})
}

// readLoop delivers notifications until the connection fails. A connection
// that carries no data message for the stale window is considered dead.
func (s *wsSubscription) readLoop() {
	for {
		s.conn.SetReadDeadline(time.Now().Add(s.stale))
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.fail(fmt.Errorf("read feed: %w", err))
			return
		}

		var msg rpcMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("skip malformed feed message", zap.Error(err))
			continue
		}
		if msg.Method != "eth_subscription" || msg.Params == nil || msg.Params.Subscription != s.id {
			continue
		}
		var log types.Log
		if err := json.Unmarshal(msg.Params.Result, &log); err != nil {
			s.logger.Warn("skip malformed log notification", zap.Error(err))
			continue
		}

		select {
		case s.logs <- log:
		case <-s.done:
			return
		}
	}
}

func (s *wsSubscription) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.fail(fmt.Errorf("heartbeat: %w", err))
				return
			}
		}
	}
}

func (s *wsSubscription) fail(err error) {
	select {
	case <-s.done:
		err = errSubscriptionClosed
	default:
	}
	select {
	case s.errs <- err:
	default:
	}
}
