package balance

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/benefitpay/benefits/internal/lock"
)

// GuardedStore layers an external Locker over another store so that instances
// which do not share the inner store's row locks still serialize per balance.
type GuardedStore struct {
	inner  Store
	locker lock.Locker
	logger *zap.Logger
}

// NewGuardedStore wraps inner. Every LockAndFetch first takes locker's lock on
// the balance id.
func NewGuardedStore(inner Store, locker lock.Locker, logger *zap.Logger) *GuardedStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GuardedStore{inner: inner, locker: locker, logger: logger}
}

// Get delegates to the inner store.
func (s *GuardedStore) Get(ctx context.Context, id int64) (Balance, error) {
	return s.inner.Get(ctx, id)
}

// Create delegates to the inner store.
func (s *GuardedStore) Create(ctx context.Context, b Balance) (Balance, error) {
	return s.inner.Create(ctx, b)
}

// Begin opens a unit of work on the inner store.
func (s *GuardedStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.inner.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &guardedTx{Tx: tx, store: s, held: make(map[int64]lock.Unlock)}, nil
}

type guardedTx struct {
	Tx
	store *GuardedStore
	held  map[int64]lock.Unlock
}

func (tx *guardedTx) LockAndFetch(ctx context.Context, id int64) (Balance, error) {
	if _, ok := tx.held[id]; !ok {
		unlock, err := tx.store.locker.Acquire(ctx, strconv.FormatInt(id, 10))
		if err != nil {
			if errors.Is(err, lock.ErrTimeout) {
				return Balance{}, ErrLockTimeout
			}
			return Balance{}, fmt.Errorf("lock balance %d: %w", id, err)
		}
		tx.held[id] = unlock
	}
	return tx.Tx.LockAndFetch(ctx, id)
}

func (tx *guardedTx) Commit(ctx context.Context) error {
	err := tx.Tx.Commit(ctx)
	tx.release(ctx)
	return err
}

func (tx *guardedTx) Rollback(ctx context.Context) error {
	err := tx.Tx.Rollback(ctx)
	tx.release(ctx)
	return err
}

func (tx *guardedTx) release(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for id, unlock := range tx.held {
		if err := unlock(ctx); err != nil {
			tx.store.logger.Warn("release balance lock", zap.Int64("balance_id", id), zap.Error(err))
		}
		delete(tx.held, id)
	}
}
