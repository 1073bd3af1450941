package balance

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	// Scale is the number of fractional digits a stored amount carries.
	Scale = 2
	// MaxNameLength bounds Balance.Name in characters.
	MaxNameLength = 100
	// MaxDescriptionLength bounds Balance.Description in characters.
	MaxDescriptionLength = 255
	// Precision is the total number of digits a stored amount may carry.
	Precision = 15
)

// MaxAmount is the largest amount a balance can hold.
var MaxAmount = decimal.New(1, Precision-Scale).Sub(decimal.New(1, -Scale))

var (
	// ErrNotFound is returned when no balance exists for the requested id.
	ErrNotFound = errors.New("balance not found")

	// ErrVersionConflict indicates the stored version moved since the record
	// was fetched, i.e. a writer outside the current unit of work changed it.
	ErrVersionConflict = errors.New("balance version conflict")

	// ErrLockTimeout is returned when the exclusive lock on a balance could not
	// be obtained within the configured wait.
	ErrLockTimeout = errors.New("balance lock timeout")

	// ErrAlreadyExists rejects a Create for an id that is taken.
	ErrAlreadyExists = errors.New("balance already exists")

	// ErrInvalid wraps field validation failures.
	ErrInvalid = errors.New("invalid balance")

	// ErrTxDone is returned when a finished unit of work is used again.
	ErrTxDone = errors.New("unit of work already finished")
)

// Balance is a named monetary benefit that transfers debit and credit.
type Balance struct {
	ID          int64
	Name        string
	Description string
	Amount      decimal.Decimal
	Active      bool
	Version     int64
}

// Validate checks the record against the storage constraints.
func (b Balance) Validate() error {
	switch {
	case b.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalid)
	case utf8.RuneCountInString(b.Name) > MaxNameLength:
		return fmt.Errorf("%w: name longer than %d characters", ErrInvalid, MaxNameLength)
	case utf8.RuneCountInString(b.Description) > MaxDescriptionLength:
		return fmt.Errorf("%w: description longer than %d characters", ErrInvalid, MaxDescriptionLength)
	case b.Amount.IsNegative():
		return fmt.Errorf("%w: amount must not be negative", ErrInvalid)
	case !b.Amount.Equal(b.Amount.Truncate(Scale)):
		return fmt.Errorf("%w: amount has more than %d decimal places", ErrInvalid, Scale)
	case b.Amount.GreaterThan(MaxAmount):
		return fmt.Errorf("%w: amount exceeds %s", ErrInvalid, MaxAmount.StringFixed(Scale))
	}
	return nil
}

// Store provides durable access to balances.
type Store interface {
	// Begin opens a unit of work. The caller must finish it with Commit or Rollback.
	Begin(ctx context.Context) (Tx, error)
	// Get reads the last committed state without locking.
	Get(ctx context.Context, id int64) (Balance, error)
	// Create inserts a new balance. A zero ID lets the store assign one.
	Create(ctx context.Context, b Balance) (Balance, error)
}

// Tx is a unit of work over balances. Locks taken by LockAndFetch are held
// until Commit or Rollback returns, and nothing persisted becomes visible to
// other readers before Commit succeeds.
type Tx interface {
	// LockAndFetch takes the exclusive lock on id and returns its current state.
	LockAndFetch(ctx context.Context, id int64) (Balance, error)
	// Persist writes b if its Version still matches the stored one and returns
	// the record with its new version.
	Persist(ctx context.Context, b Balance) (Balance, error)
	Commit(ctx context.Context) error
	// Rollback discards pending writes and releases every lock. It is safe to
	// call after Commit.
	Rollback(ctx context.Context) error
}
