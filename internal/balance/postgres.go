package balance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// SQLSTATE codes the store translates.
const (
	pgLockNotAvailable     = "55P03"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"
	pgNumericOutOfRange    = "22003"
)

const selectColumns = `id, name, description, amount::text, active, version`

// PostgresStore persists balances in the benefits table. Row locks are
// SELECT ... FOR UPDATE locks bounded by lock_timeout.
type PostgresStore struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(db *pgxpool.Pool, lockTimeout time.Duration) *PostgresStore {
	return &PostgresStore{db: db, lockTimeout: lockTimeout}
}

// Get reads the committed row for id.
func (s *PostgresStore) Get(ctx context.Context, id int64) (Balance, error) {
	row := s.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM benefits WHERE id = $1`, id)
	b, err := scanBalance(row)
	if err != nil {
		return Balance{}, translate(err)
	}
	return b, nil
}

// Create inserts b. An explicit ID also advances the id sequence past it.
func (s *PostgresStore) Create(ctx context.Context, b Balance) (Balance, error) {
	if err := b.Validate(); err != nil {
		return Balance{}, err
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Balance{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	var row pgx.Row
	if b.ID == 0 {
		row = tx.QueryRow(ctx, `INSERT INTO benefits (name, description, amount, active)
        VALUES ($1, $2, $3::numeric, $4)
        RETURNING `+selectColumns, b.Name, b.Description, b.Amount.StringFixed(Scale), b.Active)
	} else {
		row = tx.QueryRow(ctx, `INSERT INTO benefits (id, name, description, amount, active)
        VALUES ($1, $2, $3, $4::numeric, $5)
        RETURNING `+selectColumns, b.ID, b.Name, b.Description, b.Amount.StringFixed(Scale), b.Active)
	}

	created, err := scanBalance(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return Balance{}, ErrAlreadyExists
		}
		return Balance{}, err
	}

	if b.ID != 0 {
		const bump = `SELECT setval(pg_get_serial_sequence('benefits', 'id'), GREATEST($1, (SELECT MAX(id) FROM benefits)))`
		if _, err := tx.Exec(ctx, bump, b.ID); err != nil {
			return Balance{}, fmt.Errorf("advance benefits sequence: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Balance{}, err
	}
	return created, nil
}

// Begin opens a database transaction with the store's lock timeout applied.
func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}

	if s.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			_ = tx.Rollback(ctx)
			return nil, fmt.Errorf("set lock timeout: %w", err)
		}
	}

	return &postgresTx{tx: tx}, nil
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) LockAndFetch(ctx context.Context, id int64) (Balance, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+selectColumns+` FROM benefits WHERE id = $1 FOR UPDATE`, id)
	b, err := scanBalance(row)
	if err != nil {
		return Balance{}, translate(err)
	}
	return b, nil
}

func (t *postgresTx) Persist(ctx context.Context, b Balance) (Balance, error) {
	if err := b.Validate(); err != nil {
		return Balance{}, err
	}

	const query = `
        UPDATE benefits
        SET amount = $1::numeric, version = version + 1, updated_at = now()
        WHERE id = $2 AND version = $3
        RETURNING version`

	var version int64
	if err := t.tx.QueryRow(ctx, query, b.Amount.StringFixed(Scale), b.ID, b.Version).Scan(&version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{}, ErrVersionConflict
		}
		return Balance{}, translate(err)
	}
	b.Version = version
	return b, nil
}

func (t *postgresTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		if errors.Is(err, pgx.ErrTxClosed) {
			return ErrTxDone
		}
		return translate(err)
	}
	return nil
}

func (t *postgresTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

func scanBalance(row pgx.Row) (Balance, error) {
	var (
		b      Balance
		amount string
	)
	if err := row.Scan(&b.ID, &b.Name, &b.Description, &amount, &b.Active, &b.Version); err != nil {
		return Balance{}, err
	}
	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return Balance{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	b.Amount = parsed
	return b, nil
}

func translate(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable:
			return ErrLockTimeout
		case pgSerializationFailure, pgDeadlockDetected:
			return fmt.Errorf("%w: %s", ErrVersionConflict, pgErr.Message)
		case pgNumericOutOfRange:
			return fmt.Errorf("%w: %s", ErrInvalid, pgErr.Message)
		}
	}
	return err
}
