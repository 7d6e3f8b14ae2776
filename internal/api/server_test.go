package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"spreadScope/internal/ingest"
	"spreadScope/internal/metrics"
	"spreadScope/internal/model"
)

type staticHealth struct {
	health ingest.Health
}

func (s staticHealth) Health() ingest.Health { return s.health }

type staticPools []model.PoolIdentity

func (s staticPools) All() []model.PoolIdentity { return s }

var testPools = staticPools{
	{Family: model.FamilyConstantProduct, Address: common.HexToAddress("0x1111111111111111111111111111111111111111")},
	{Family: model.FamilyBin, Address: common.HexToAddress("0x2222222222222222222222222222222222222222")},
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name   string
		health ingest.Health
		code   int
		status string
	}{
		{"healthy", ingest.Health{Connected: true, LastEventAt: now.Add(-time.Minute)}, http.StatusOK, "ok"},
		{"connected without events", ingest.Health{Connected: true}, http.StatusOK, "ok"},
		{"disconnected", ingest.Health{Connected: false, LastEventAt: now}, http.StatusServiceUnavailable, "disconnected"},
		{"stale", ingest.Health{Connected: true, LastEventAt: now.Add(-6 * time.Minute)}, http.StatusServiceUnavailable, "stale"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := NewServer(Config{StaleAfter: 5 * time.Minute}, staticHealth{tc.health}, testPools, prometheus.NewRegistry(), nil)
			srv.now = func() time.Time { return now }

			rec := get(t, srv.Handler(), "/healthz")
			if rec.Code != tc.code {
				t.Fatalf("code: got %d want %d", rec.Code, tc.code)
			}
			var body struct {
				Status string `json:"status"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != tc.status {
				t.Fatalf("status: got %q want %q", body.Status, tc.status)
			}
		})
	}
}

func TestPools(t *testing.T) {
	srv := NewServer(Config{}, staticHealth{}, testPools, prometheus.NewRegistry(), nil)

	var body struct {
		Count int                  `json:"count"`
		Pools []model.PoolIdentity `json:"pools"`
	}
	rec := get(t, srv.Handler(), "/pools")
	if rec.Code != http.StatusOK {
		t.Fatalf("code: %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 2 || len(body.Pools) != 2 {
		t.Fatalf("pool listing mismatch: %+v", body)
	}

	rec = get(t, srv.Handler(), "/pools?family=dlmm")
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 || body.Pools[0].Family != model.FamilyBin {
		t.Fatalf("family filter mismatch: %+v", body)
	}

	if rec := get(t, srv.Handler(), "/pools?family=orderbook"); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown family: got %d", rec.Code)
	}
}

func TestPingAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.SetRegistryPools(2)
	srv := NewServer(Config{}, staticHealth{}, testPools, reg, nil)

	if rec := get(t, srv.Handler(), "/ping"); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "pong") {
		t.Fatalf("ping: %d %s", rec.Code, rec.Body.String())
	}
	rec := get(t, srv.Handler(), "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "spreadscope_registry_pools 2") {
		t.Fatalf("metrics output missing gauge:\n%s", rec.Body.String())
	}
}

func TestRunShutsDownWithContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	srv := NewServer(Config{Addr: addr}, staticHealth{}, testPools, prometheus.NewRegistry(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get("http://" + addr + "/ping")
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server did not shut down")
	}
}
