package benefits

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/benefitpay/benefits/internal/balance"
	"github.com/benefitpay/benefits/internal/journal"
	"github.com/benefitpay/benefits/internal/logging"
	"github.com/benefitpay/benefits/internal/notification"
	"github.com/benefitpay/benefits/internal/transfer"
)

type testNotifier struct {
	last notification.Message
}

func (n *testNotifier) Send(_ context.Context, msg notification.Message) error {
	n.last = msg
	return nil
}

type failingNotifier struct{}

func (failingNotifier) Send(context.Context, notification.Message) error {
	return errors.New("gateway unavailable")
}

// flakyStore fails the first `failures` commits with a version conflict.
type flakyStore struct {
	*balance.MemoryStore
	failures int32
	commits  atomic.Int32
}

func (s *flakyStore) Begin(ctx context.Context) (balance.Tx, error) {
	tx, err := s.MemoryStore.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &flakyTx{Tx: tx, store: s}, nil
}

type flakyTx struct {
	balance.Tx
	store *flakyStore
}

func (tx *flakyTx) Commit(ctx context.Context) error {
	if tx.store.commits.Add(1) <= tx.store.failures {
		_ = tx.Tx.Rollback(ctx)
		return balance.ErrVersionConflict
	}
	return tx.Tx.Commit(ctx)
}

func newJournal(t *testing.T) *journal.Journal {
	t.Helper()
	j, err := journal.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func fastRetries(n uint64) Options {
	return Options{MaxRetries: n, InitialBackoff: time.Millisecond, MaxBackoff: time.Second}
}

func TestTransferSuccess(t *testing.T) {
	store := balance.SeedMemory(time.Second, balance.Active(1, "1000.00"), balance.Active(2, "500.00"))
	j := newJournal(t)
	notifier := &testNotifier{}
	svc := NewService(store, j, notifier, logging.Discard(), fastRetries(0))

	ctx := context.Background()
	receipt, err := svc.Transfer(ctx, TransferInput{FromID: 1, ToID: 2, Amount: decimal.RequireFromString("100.00")})
	require.NoError(t, err)

	assert.True(t, receipt.From.Amount.Equal(decimal.RequireFromString("900.00")))
	assert.True(t, receipt.To.Amount.Equal(decimal.RequireFromString("600.00")))
	assert.Equal(t, 1, receipt.Attempts)
	assert.Equal(t, uint64(1), receipt.JournalIndex)
	assert.Equal(t, notification.KindBenefitTransfer, notifier.last.Kind)

	history, err := svc.History(0, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, receipt.TransferID, history[0].Entry.ID)

	got, err := svc.Get(ctx, 2)
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("600.00")))
}

func TestTransferRetriesConflicts(t *testing.T) {
	store := &flakyStore{
		MemoryStore: balance.SeedMemory(time.Second, balance.Active(1, "10.00"), balance.Active(2, "0")),
		failures:    2,
	}
	svc := NewService(store, nil, nil, logging.Discard(), fastRetries(3))

	receipt, err := svc.Transfer(context.Background(), TransferInput{FromID: 1, ToID: 2, Amount: decimal.RequireFromString("4.00")})
	require.NoError(t, err)
	assert.Equal(t, 3, receipt.Attempts)

	b, err := store.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, b.Amount.Equal(decimal.RequireFromString("6.00")))
}

func TestTransferGivesUpAfterMaxRetries(t *testing.T) {
	store := &flakyStore{
		MemoryStore: balance.SeedMemory(time.Second, balance.Active(1, "10.00"), balance.Active(2, "0")),
		failures:    10,
	}
	svc := NewService(store, nil, nil, logging.Discard(), fastRetries(2))

	_, err := svc.Transfer(context.Background(), TransferInput{FromID: 1, ToID: 2, Amount: decimal.RequireFromString("4.00")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, transfer.ErrConflict))
	assert.Equal(t, int32(3), store.commits.Load())
}

func TestTransferDoesNotRetryBusinessRules(t *testing.T) {
	store := &flakyStore{MemoryStore: balance.SeedMemory(time.Second, balance.Active(1, "5.00"), balance.Active(2, "0"))}
	j := newJournal(t)
	svc := NewService(store, j, nil, logging.Discard(), fastRetries(5))

	_, err := svc.Transfer(context.Background(), TransferInput{FromID: 1, ToID: 2, Amount: decimal.RequireFromString("10.00")})
	require.Error(t, err)
	assert.Equal(t, transfer.KindBusinessRule, transfer.KindOf(err))
	assert.Zero(t, store.commits.Load())
	assert.Zero(t, j.CurrentIndex(), "rejected transfers must not be journaled")
}

func TestHistoryDisabledWithoutJournal(t *testing.T) {
	svc := NewService(balance.NewMemoryStore(time.Second), nil, nil, nil, Options{})
	_, err := svc.History(0, 0)
	require.ErrorIs(t, err, ErrHistoryDisabled)
}

func TestTransferCallerDeadlineKeepsConflictKind(t *testing.T) {
	store := balance.SeedMemory(0, balance.Active(1, "10.00"), balance.Active(2, "10.00"))
	holder, err := store.Begin(context.Background())
	require.NoError(t, err)
	_, err = holder.LockAndFetch(context.Background(), 1)
	require.NoError(t, err)
	defer holder.Rollback(context.Background()) // nolint:errcheck

	svc := NewService(store, nil, nil, logging.Discard(), fastRetries(3))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = svc.Transfer(ctx, TransferInput{FromID: 2, ToID: 1, Amount: decimal.RequireFromString("1.00")})
	require.Error(t, err)
	assert.Equal(t, transfer.KindConflict, transfer.KindOf(err))
	assert.True(t, errors.Is(err, transfer.ErrConflict))
	assert.Equal(t, http.StatusConflict, StatusFor(err))
}

func TestTransferLogsNotifierFailure(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	store := balance.SeedMemory(time.Second, balance.Active(1, "10.00"), balance.Active(2, "0"))
	svc := NewService(store, nil, failingNotifier{}, zap.New(core), fastRetries(0))

	_, err := svc.Transfer(context.Background(), TransferInput{FromID: 1, ToID: 2, Amount: decimal.RequireFromString("1.00")})
	require.NoError(t, err)

	entries := logs.FilterMessage("notify transfer").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "gateway unavailable", entries[0].ContextMap()["error"])
}
