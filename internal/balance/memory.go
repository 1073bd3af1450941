package balance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/benefitpay/benefits/internal/lock"
)

// MemoryStore keeps balances in process. Row locks come from a lock.Table and
// writes are staged per unit of work until Commit.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[int64]Balance
	nextID  int64
	locks   *lock.Table
}

// NewMemoryStore creates a concurrency-safe in-memory store whose row locks
// give up after lockTimeout.
func NewMemoryStore(lockTimeout time.Duration) *MemoryStore {
	return &MemoryStore{
		records: make(map[int64]Balance),
		locks:   lock.NewTable(lockTimeout),
	}
}

// Get returns the committed state of id.
func (s *MemoryStore) Get(_ context.Context, id int64) (Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.records[id]
	if !ok {
		return Balance{}, ErrNotFound
	}
	return b, nil
}

// Create inserts b with version zero.
func (s *MemoryStore) Create(_ context.Context, b Balance) (Balance, error) {
	if err := b.Validate(); err != nil {
		return Balance{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if b.ID == 0 {
		s.nextID++
		b.ID = s.nextID
	}
	if _, exists := s.records[b.ID]; exists {
		return Balance{}, ErrAlreadyExists
	}
	if b.ID > s.nextID {
		s.nextID = b.ID
	}
	b.Version = 0
	s.records[b.ID] = b
	return b, nil
}

// Put overwrites a record without taking its lock and bumps its version, the
// way a writer that ignores row locks would. It backs seeding helpers and tests.
func (s *MemoryStore) Put(b Balance) Balance {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.records[b.ID]; ok {
		b.Version = current.Version + 1
	}
	if b.ID > s.nextID {
		s.nextID = b.ID
	}
	s.records[b.ID] = b
	return b
}

// Snapshot returns every committed record ordered by id.
func (s *MemoryStore) Snapshot() []Balance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Balance, 0, len(s.records))
	for _, b := range s.records {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// HeldLocks reports how many row locks are held or awaited.
func (s *MemoryStore) HeldLocks() int {
	return s.locks.Len()
}

// Begin opens a unit of work.
func (s *MemoryStore) Begin(context.Context) (Tx, error) {
	return &memoryTx{
		store:  s,
		held:   make(map[int64]lock.Unlock),
		staged: make(map[int64]Balance),
		base:   make(map[int64]int64),
	}, nil
}

type memoryTx struct {
	store  *MemoryStore
	held   map[int64]lock.Unlock
	staged map[int64]Balance
	base   map[int64]int64
	done   bool
}

func (tx *memoryTx) LockAndFetch(ctx context.Context, id int64) (Balance, error) {
	if tx.done {
		return Balance{}, ErrTxDone
	}
	if _, ok := tx.held[id]; !ok {
		unlock, err := tx.store.locks.Acquire(ctx, strconv.FormatInt(id, 10))
		if err != nil {
			if errors.Is(err, lock.ErrTimeout) {
				return Balance{}, ErrLockTimeout
			}
			return Balance{}, fmt.Errorf("lock balance %d: %w", id, err)
		}
		tx.held[id] = unlock
	}

	if b, ok := tx.staged[id]; ok {
		return b, nil
	}

	b, err := tx.store.Get(ctx, id)
	if err != nil {
		tx.release(ctx, id)
		return Balance{}, err
	}
	return b, nil
}

func (tx *memoryTx) Persist(ctx context.Context, b Balance) (Balance, error) {
	if tx.done {
		return Balance{}, ErrTxDone
	}
	if _, ok := tx.held[b.ID]; !ok {
		return Balance{}, fmt.Errorf("persist balance %d: not locked in this unit of work", b.ID)
	}
	if err := b.Validate(); err != nil {
		return Balance{}, err
	}

	current, err := tx.store.Get(ctx, b.ID)
	if err != nil {
		return Balance{}, err
	}
	expected := current.Version
	if prev, ok := tx.staged[b.ID]; ok {
		expected = prev.Version
	} else {
		tx.base[b.ID] = current.Version
	}
	if b.Version != expected {
		return Balance{}, ErrVersionConflict
	}

	b.Version++
	tx.staged[b.ID] = b
	return b, nil
}

func (tx *memoryTx) Commit(ctx context.Context) error {
	if tx.done {
		return ErrTxDone
	}
	defer tx.finish(ctx)

	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range tx.staged {
		current, ok := s.records[id]
		if !ok {
			return ErrNotFound
		}
		if current.Version != tx.base[id] {
			return ErrVersionConflict
		}
	}
	for id, b := range tx.staged {
		s.records[id] = b
	}
	return nil
}

func (tx *memoryTx) Rollback(ctx context.Context) error {
	if tx.done {
		return nil
	}
	tx.finish(ctx)
	return nil
}

func (tx *memoryTx) release(ctx context.Context, id int64) {
	if unlock, ok := tx.held[id]; ok {
		_ = unlock(ctx)
		delete(tx.held, id)
	}
}

func (tx *memoryTx) finish(ctx context.Context) {
	tx.done = true
	for id := range tx.held {
		tx.release(ctx, id)
	}
	tx.staged = nil
}
