package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

type tableEntry struct {
	sem  *semaphore.Weighted
	refs int
}

// Table is an in-process Locker holding one exclusive slot per key.
// Entries are created on first use and dropped once nobody waits on them.
type Table struct {
	mu      sync.Mutex
	entries map[string]*tableEntry
	timeout time.Duration
}

// NewTable builds a lock table whose acquisitions give up after timeout.
// A zero timeout waits until the caller's context is done.
func NewTable(timeout time.Duration) *Table {
	return &Table{entries: make(map[string]*tableEntry), timeout: timeout}
}

// Acquire blocks until key is free, the table timeout elapses or ctx ends.
func (t *Table) Acquire(ctx context.Context, key string) (Unlock, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	entry := t.ref(key)

	waitCtx := ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	if err := entry.sem.Acquire(waitCtx, 1); err != nil {
		t.unref(key)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, err
	}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			entry.sem.Release(1)
			t.unref(key)
		})
		return nil
	}, nil
}

// Len reports how many keys are currently held or awaited.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Table) ref(key string) *tableEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[key]
	if !ok {
		entry = &tableEntry{sem: semaphore.NewWeighted(1)}
		t.entries[key] = entry
	}
	entry.refs++
	return entry
}

func (t *Table) unref(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[key]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs == 0 {
		delete(t.entries, key)
	}
}
