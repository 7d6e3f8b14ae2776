package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"spreadScope/internal/model"
)

// Manager hands out exclusive per-pair leases. Acquire returns
// model.ErrPairBusy when the key is already held. The release function is
// safe to call more than once.
type Manager interface {
	Acquire(ctx context.Context, key string) (func(), error)
	Held(ctx context.Context, key string) bool
}

// MemoryLeases is a process-local Manager.
type MemoryLeases struct {
	mu   sync.Mutex
	held map[string]uint64
	next uint64
}

func NewMemoryLeases() *MemoryLeases {
	return &MemoryLeases{held: make(map[string]uint64)}
}

func (m *MemoryLeases) Acquire(_ context.Context, key string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[key]; ok {
		return nil, fmt.Errorf("%w: %s", model.ErrPairBusy, key)
	}
	m.next++
	token := m.next
	m.held[key] = token

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.held[key] == token {
			delete(m.held, key)
		}
	}, nil
}

func (m *MemoryLeases) Held(_ context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[key]
	return ok
}

// releaseLua deletes the lease only while it still carries the caller's
// token, so an expired holder cannot release its successor's lease.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// RedisLeases shares leases between processes through SET NX with a TTL.
type RedisLeases struct {
	rdb     redis.UniversalClient
	ttl     time.Duration
	prefix  string
	release *redis.Script
	logger  *zap.Logger
}

// NewRedisLeases creates a Manager whose leases expire after ttl even if the
// holder dies.
func NewRedisLeases(rdb redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *RedisLeases {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLeases{
		rdb:     rdb,
		ttl:     ttl,
		prefix:  "arb:lease:",
		release: redis.NewScript(releaseLua),
		logger:  logger,
	}
}

func (r *RedisLeases) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	lk := r.prefix + key

	ok, err := r.rdb.SetNX(ctx, lk, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrPairBusy, key)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// the caller's context may already be cancelled at release time
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.release.Run(releaseCtx, r.rdb, []string{lk}, token).Err(); err != nil {
				// the ttl still frees the pair
				r.logger.Warn("release lease", zap.String("pair", key), zap.Duration("ttl", r.ttl), zap.Error(err))
			}
		})
	}, nil
}

// Held reports true when the lookup fails, which keeps the pair out of
// detection until Redis answers again.
func (r *RedisLeases) Held(ctx context.Context, key string) bool {
	n, err := r.rdb.Exists(ctx, r.prefix+key).Result()
	if err != nil {
		return true
	}
	return n > 0
}

var (
	_ Manager = (*MemoryLeases)(nil)
	_ Manager = (*RedisLeases)(nil)
)
