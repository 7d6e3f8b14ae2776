package record

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"spreadScope/internal/model"
)

type memSink struct {
	name string
	err  error

	mu  sync.Mutex
	ids []string
}

func (s *memSink) Name() string { return s.name }

func (s *memSink) Publish(_ context.Context, outcome model.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, outcome.AttemptID)
	return s.err
}

func (s *memSink) got() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

func outcome(id string) model.Outcome {
	return model.Outcome{
		AttemptID:      id,
		OpportunityID:  "opp-" + id,
		Pair:           "0xa/0xb",
		Status:         model.StatusConfirmed,
		Attempts:       1,
		ExpectedProfit: "10",
		RealizedProfit: "10",
		FinishedAt:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestDispatcherFansOutAndSurvivesSinkErrors(t *testing.T) {
	broken := &memSink{name: "broken", err: errors.New("disk full")}
	healthy := &memSink{name: "healthy"}
	d := NewDispatcher(8, zap.NewNop(), broken, healthy)

	d.Publish(outcome("1"))
	d.Publish(outcome("2"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []string{"1", "2"}
	if !reflect.DeepEqual(healthy.got(), want) || !reflect.DeepEqual(broken.got(), want) {
		t.Fatalf("delivery mismatch: healthy %v broken %v", healthy.got(), broken.got())
	}
}

func TestDispatcherDropsOldestWhenFull(t *testing.T) {
	sink := &memSink{name: "mem"}
	d := NewDispatcher(2, nil, sink)

	for _, id := range []string{"1", "2", "3", "4"} {
		d.Publish(outcome(id))
	}
	if d.Dropped() != 2 {
		t.Fatalf("dropped: got %d want 2", d.Dropped())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := sink.got(); !reflect.DeepEqual(got, []string{"3", "4"}) {
		t.Fatalf("expected the newest outcomes, got %v", got)
	}
}

func TestDispatcherDeliversWhileRunning(t *testing.T) {
	sink := &memSink{name: "mem"}
	d := NewDispatcher(4, nil, sink)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	d.Publish(outcome("1"))
	deadline := time.Now().Add(2 * time.Second)
	for len(sink.got()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("outcome not delivered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestJSONLSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "outcomes.jsonl")
	sink := NewJSONLSink(path)
	for _, id := range []string{"1", "2"} {
		if err := sink.Publish(context.Background(), outcome(id)); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer file.Close()
	var got []model.Outcome
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var o model.Outcome
		if err := json.Unmarshal(scanner.Bytes(), &o); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		got = append(got, o)
	}
	if len(got) != 2 || !reflect.DeepEqual(got[1], outcome("2")) {
		t.Fatalf("records mismatch: %+v", got)
	}
}

type fakeOutcomeWriter struct {
	batches [][]model.Outcome
}

func (f *fakeOutcomeWriter) UpsertOutcomes(_ context.Context, outcomes []model.Outcome) error {
	f.batches = append(f.batches, outcomes)
	return nil
}

func TestPostgresSink(t *testing.T) {
	writer := &fakeOutcomeWriter{}
	sink := NewPostgresSink(writer)
	if err := sink.Publish(context.Background(), outcome("1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(writer.batches) != 1 || writer.batches[0][0].AttemptID != "1" {
		t.Fatalf("upsert mismatch: %+v", writer.batches)
	}
}

func TestRedisStreamSink(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ctx := context.Background()

	sink := NewRedisStreamSink(rdb, "arb:outcomes")
	if err := sink.Publish(ctx, outcome("1")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	entries, err := rdb.XRange(ctx, "arb:outcomes", "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	values := entries[0].Values
	if values["attempt"] != "1" || values["status"] != "confirmed" {
		t.Fatalf("entry mismatch: %v", values)
	}
	var got model.Outcome
	if err := json.Unmarshal([]byte(values["payload"].(string)), &got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if !reflect.DeepEqual(got, outcome("1")) {
		t.Fatalf("payload mismatch: %+v", got)
	}
}
