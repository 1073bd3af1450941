package benefits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/benefitpay/benefits/internal/balance"
	"github.com/benefitpay/benefits/internal/journal"
	"github.com/benefitpay/benefits/internal/notification"
	"github.com/benefitpay/benefits/internal/transfer"
)

// ErrHistoryDisabled is returned by History when no journal is configured.
var ErrHistoryDisabled = errors.New("transfer history is not enabled")

// Journal records committed transfers.
type Journal interface {
	Append(e journal.Entry) (journal.Record, error)
	After(index uint64, limit int) ([]journal.Record, error)
}

// Options tunes the service.
type Options struct {
	// MaxRetries bounds how often a transfer refused for contention is retried.
	MaxRetries uint64
	// InitialBackoff is the first pause between retries.
	InitialBackoff time.Duration
	// MaxBackoff caps the total time spent retrying one request.
	MaxBackoff time.Duration
}

// Service exposes benefit transfers to callers.
type Service struct {
	store    balance.Store
	engine   *transfer.Engine
	journal  Journal
	notifier notification.Notifier
	logger   *zap.Logger
	opts     Options
}

// NewService builds a benefit service. journal and notifier may be nil.
func NewService(store balance.Store, j Journal, notifier notification.Notifier, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 20 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 2 * time.Second
	}
	return &Service{
		store:    store,
		engine:   transfer.NewEngine(store),
		journal:  j,
		notifier: notifier,
		logger:   logger,
		opts:     opts,
	}
}

// TransferInput captures the data needed to move value between benefits.
type TransferInput struct {
	FromID int64
	ToID   int64
	Amount decimal.Decimal
}

// Receipt describes a committed transfer.
type Receipt struct {
	TransferID   uuid.UUID
	JournalIndex uint64
	From         balance.Balance
	To           balance.Balance
	Attempts     int
	CompletedAt  time.Time
}

// Transfer runs the transfer, retrying contention failures with exponential
// backoff. Every other failure is returned as is.
func (s *Service) Transfer(ctx context.Context, input TransferInput) (Receipt, error) {
	var (
		result   transfer.Result
		attempts int
		lastErr  error
	)

	op := func() error {
		attempts++
		res, err := s.engine.Execute(ctx, input.FromID, input.ToID, input.Amount)
		if err != nil {
			lastErr = err
			if transfer.IsRetryable(err) {
				s.logger.Debug("transfer contention, retrying",
					zap.Int64("from_id", input.FromID),
					zap.Int64("to_id", input.ToID),
					zap.Int("attempt", attempts),
					zap.Error(err),
				)
				return err
			}
			return backoff.Permanent(err)
		}
		result = res
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.opts.InitialBackoff
	policy.MaxElapsedTime = s.opts.MaxBackoff
	bo := backoff.WithContext(backoff.WithMaxRetries(policy, s.opts.MaxRetries), ctx)

	if err := backoff.Retry(op, bo); err != nil {
		// Retry reports ctx.Err() when the context ends between attempts.
		if lastErr != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			err = lastErr
		}
		s.logger.Warn("transfer rejected",
			zap.Int64("from_id", input.FromID),
			zap.Int64("to_id", input.ToID),
			zap.String("amount", input.Amount.String()),
			zap.Stringer("kind", transfer.KindOf(err)),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return Receipt{}, err
	}

	receipt := Receipt{
		TransferID:  uuid.New(),
		From:        result.From,
		To:          result.To,
		Attempts:    attempts,
		CompletedAt: time.Now().UTC(),
	}

	if s.journal != nil {
		rec, err := s.journal.Append(journal.Entry{
			ID:          receipt.TransferID,
			FromID:      input.FromID,
			ToID:        input.ToID,
			Amount:      input.Amount,
			CommittedAt: receipt.CompletedAt,
		})
		if err != nil {
			s.logger.Error("journal transfer", zap.String("transfer_id", receipt.TransferID.String()), zap.Error(err))
		} else {
			receipt.JournalIndex = rec.Index
		}
	}

	if s.notifier != nil {
		err := s.notifier.Send(ctx, notification.Message{
			Kind:        notification.KindBenefitTransfer,
			Destination: fmt.Sprintf("benefit:%d", input.ToID),
			Body:        fmt.Sprintf("received %s from benefit %d", input.Amount.StringFixed(balance.Scale), input.FromID),
		})
		if err != nil {
			s.logger.Warn("notify transfer", zap.String("transfer_id", receipt.TransferID.String()), zap.Error(err))
		}
	}

	s.logger.Info("transfer committed",
		zap.String("transfer_id", receipt.TransferID.String()),
		zap.Int64("from_id", input.FromID),
		zap.Int64("to_id", input.ToID),
		zap.String("amount", input.Amount.String()),
		zap.Int("attempts", attempts),
	)
	return receipt, nil
}

// Get returns the committed state of a benefit.
func (s *Service) Get(ctx context.Context, id int64) (balance.Balance, error) {
	return s.store.Get(ctx, id)
}

// History lists committed transfers journaled after index.
func (s *Service) History(after uint64, limit int) ([]journal.Record, error) {
	if s.journal == nil {
		return nil, ErrHistoryDisabled
	}
	return s.journal.After(after, limit)
}
