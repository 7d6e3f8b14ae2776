package state

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"spreadScope/internal/model"
)

// entry holds the latest snapshot of one pool. Writers of the same pool are
// serialized by mu; readers only load the pointer.
type entry struct {
	mu       sync.Mutex
	identity model.PoolIdentity
	current  atomic.Pointer[model.PoolSnapshot]
}

// Store is the concurrent price state of every tracked pool.
type Store struct {
	mu      sync.RWMutex
	entries map[common.Address]*entry
	byPair  map[model.AssetPairKey][]*entry

	subMu       sync.Mutex
	subscribers []chan common.Address

	now func() time.Time
}

func NewStore() *Store {
	return &Store{
		entries: make(map[common.Address]*entry),
		byPair:  make(map[model.AssetPairKey][]*entry),
		now:     time.Now,
	}
}

// Init installs the first snapshot of a pool, or replaces an older one.
func (s *Store) Init(id model.PoolIdentity, st model.PoolState, seq model.Sequence) (*model.PoolSnapshot, error) {
	if err := model.ValidateState(st); err != nil {
		return nil, fmt.Errorf("init %s: %w", id.Address.Hex(), err)
	}
	if st.Family() != id.Family {
		return nil, fmt.Errorf("init %s: %w: identity %s, state %s", id.Address.Hex(), model.ErrFamilyMismatch, id.Family, st.Family())
	}

	e := s.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()

	if cur := e.current.Load(); cur != nil && cur.Sequence.Compare(seq) >= 0 {
		return nil, &model.StaleDataError{Pool: id.Address, Current: cur.Sequence, Incoming: seq}
	}
	snap := &model.PoolSnapshot{
		Identity:  e.identity,
		State:     st.Clone(),
		Sequence:  seq,
		UpdatedAt: s.now(),
	}
	e.current.Store(snap)
	s.notify(id.Address)
	return snap, nil
}

// Apply applies a decoded update. Updates at or behind the current sequence
// are discarded with a StaleDataError and leave the state unchanged.
func (s *Store) Apply(update model.PoolUpdate) (*model.PoolSnapshot, error) {
	s.mu.RLock()
	e, ok := s.entries[update.Pool]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownPool, update.Pool.Hex())
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.current.Load()
	if cur == nil {
		return nil, fmt.Errorf("%w: %s has no state yet", model.ErrUnknownPool, update.Pool.Hex())
	}
	if update.Sequence.Compare(cur.Sequence) <= 0 {
		return nil, &model.StaleDataError{Pool: update.Pool, Current: cur.Sequence, Incoming: update.Sequence}
	}

	next, err := model.ApplyDelta(cur.State, update.Delta)
	if err != nil {
		return nil, fmt.Errorf("apply %s at %s: %w", update.Pool.Hex(), update.Sequence, err)
	}
	snap := &model.PoolSnapshot{
		Identity:  e.identity,
		State:     next,
		Sequence:  update.Sequence,
		UpdatedAt: s.now(),
	}
	e.current.Store(snap)
	s.notify(update.Pool)
	return snap, nil
}

// Snapshot returns the latest snapshot of a pool.
func (s *Store) Snapshot(addr common.Address) (*model.PoolSnapshot, bool) {
	s.mu.RLock()
	e, ok := s.entries[addr]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	snap := e.current.Load()
	return snap, snap != nil
}

// SnapshotPair returns the latest snapshot of every initialized pool trading
// the pair.
func (s *Store) SnapshotPair(pair model.AssetPairKey) []*model.PoolSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.PoolSnapshot
	for _, e := range s.byPair[pair] {
		if snap := e.current.Load(); snap != nil {
			out = append(out, snap)
		}
	}
	sortSnapshots(out)
	return out
}

// Pairs returns every pair with at least two initialized pools.
func (s *Store) Pairs() []model.AssetPairKey {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.AssetPairKey
	for pair, entries := range s.byPair {
		n := 0
		for _, e := range entries {
			if e.current.Load() != nil {
				n++
			}
		}
		if n > 1 {
			out = append(out, pair)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Len returns the number of initialized pools.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.entries {
		if e.current.Load() != nil {
			n++
		}
	}
	return n
}

// Subscribe returns a channel that receives the address of every pool whose
// snapshot changed. Sends never block; a full channel drops the notice, so
// consumers must read the latest snapshot rather than count notices.
func (s *Store) Subscribe(buffer int) <-chan common.Address {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan common.Address, buffer)
	s.subMu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.subMu.Unlock()
	return ch
}

func (s *Store) notify(addr common.Address) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- addr:
		default:
		}
	}
}

func (s *Store) entryFor(id model.PoolIdentity) *entry {
	s.mu.RLock()
	e, ok := s.entries[id.Address]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id.Address]; ok {
		return e
	}
	e = &entry{identity: id}
	s.entries[id.Address] = e
	s.byPair[id.Pair()] = append(s.byPair[id.Pair()], e)
	return e
}

func sortSnapshots(snaps []*model.PoolSnapshot) {
	sort.Slice(snaps, func(i, j int) bool {
		return bytes.Compare(snaps[i].Identity.Address.Bytes(), snaps[j].Identity.Address.Bytes()) < 0
	})
}
