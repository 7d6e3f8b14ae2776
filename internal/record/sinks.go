package record

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"spreadScope/internal/model"
	"spreadScope/internal/storage"
)

// JSONLSink appends one JSON line per outcome.
type JSONLSink struct {
	writer *storage.JSONLWriter
}

func NewJSONLSink(path string) *JSONLSink {
	return &JSONLSink{writer: storage.NewJSONLWriter(path)}
}

func (s *JSONLSink) Name() string { return "jsonl" }

func (s *JSONLSink) Publish(_ context.Context, outcome model.Outcome) error {
	return s.writer.Append(outcome)
}

// OutcomeWriter is implemented by the Postgres store.
type OutcomeWriter interface {
	UpsertOutcomes(ctx context.Context, outcomes []model.Outcome) error
}

// PostgresSink upserts outcomes keyed by attempt id.
type PostgresSink struct {
	store OutcomeWriter
}

func NewPostgresSink(store OutcomeWriter) *PostgresSink {
	return &PostgresSink{store: store}
}

func (s *PostgresSink) Name() string { return "postgres" }

func (s *PostgresSink) Publish(ctx context.Context, outcome model.Outcome) error {
	return s.store.UpsertOutcomes(ctx, []model.Outcome{outcome})
}

const streamMaxLen = 10_000

// RedisStreamSink appends outcomes to a capped Redis stream.
type RedisStreamSink struct {
	rdb    redis.UniversalClient
	stream string
}

func NewRedisStreamSink(rdb redis.UniversalClient, stream string) *RedisStreamSink {
	return &RedisStreamSink{rdb: rdb, stream: stream}
}

func (s *RedisStreamSink) Name() string { return "redis" }

func (s *RedisStreamSink) Publish(ctx context.Context, outcome model.Outcome) error {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"attempt": outcome.AttemptID,
			"status":  string(outcome.Status),
			"payload": payload,
		},
	}
	if err := s.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", s.stream, err)
	}
	return nil
}

var (
	_ Sink = (*JSONLSink)(nil)
	_ Sink = (*PostgresSink)(nil)
	_ Sink = (*RedisStreamSink)(nil)
)
