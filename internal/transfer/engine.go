package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/benefitpay/benefits/internal/balance"
)

// Result holds both balances as committed by a transfer.
type Result struct {
	From balance.Balance
	To   balance.Balance
}

// Engine moves value between two balances inside one unit of work. Row locks
// are always taken in ascending id order, so concurrent transfers over any
// overlapping pairs cannot deadlock.
type Engine struct {
	store balance.Store
}

// NewEngine builds an engine over store.
func NewEngine(store balance.Store) *Engine {
	return &Engine{store: store}
}

// Transfer debits amount from fromID and credits it to toID, all or nothing.
// A nil return means both balances were committed.
func (e *Engine) Transfer(ctx context.Context, fromID, toID int64, amount decimal.Decimal) error {
	_, err := e.Execute(ctx, fromID, toID, amount)
	return err
}

// Execute is Transfer returning the committed balances.
func (e *Engine) Execute(ctx context.Context, fromID, toID int64, amount decimal.Decimal) (Result, error) {
	if err := Validate(fromID, toID, amount); err != nil {
		return Result{}, err
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("begin transfer: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	from, to, err := lockPair(ctx, tx, fromID, toID)
	if err != nil {
		return Result{}, err
	}

	if err := checkRules(from, to, amount); err != nil {
		return Result{}, err
	}

	from.Amount = from.Amount.Sub(amount)
	to.Amount = to.Amount.Add(amount)

	if from, err = tx.Persist(ctx, from); err != nil {
		return Result{}, classify(StagePersisting, err, "")
	}
	if to, err = tx.Persist(ctx, to); err != nil {
		return Result{}, classify(StagePersisting, err, "")
	}
	if err := tx.Commit(ctx); err != nil {
		return Result{}, classify(StagePersisting, err, "")
	}
	committed = true

	return Result{From: from, To: to}, nil
}

// Validate checks a request without touching any store.
func Validate(fromID, toID int64, amount decimal.Decimal) error {
	switch {
	case fromID <= 0 || toID <= 0:
		return newError(KindInvalidArgument, StageValidating, ReasonMissingEndpoint, nil)
	case fromID == toID:
		return newError(KindInvalidArgument, StageValidating, ReasonSameEndpoint, nil)
	case !amount.IsPositive():
		return newError(KindInvalidArgument, StageValidating, ReasonNonPositiveAmount, nil)
	case !amount.Equal(amount.Truncate(balance.Scale)):
		return newError(KindInvalidArgument, StageValidating, ReasonAmountScale, nil)
	}
	return nil
}

func lockPair(ctx context.Context, tx balance.Tx, fromID, toID int64) (from, to balance.Balance, err error) {
	firstID, secondID := fromID, toID
	if secondID < firstID {
		firstID, secondID = secondID, firstID
	}

	first, err := tx.LockAndFetch(ctx, firstID)
	if err != nil {
		return from, to, classify(StageLocking, err, notFoundReason(firstID, fromID))
	}
	second, err := tx.LockAndFetch(ctx, secondID)
	if err != nil {
		return from, to, classify(StageLocking, err, notFoundReason(secondID, fromID))
	}

	if firstID == fromID {
		return first, second, nil
	}
	return second, first, nil
}

func notFoundReason(id, fromID int64) string {
	if id == fromID {
		return ReasonSourceNotFound
	}
	return ReasonDestNotFound
}

func checkRules(from, to balance.Balance, amount decimal.Decimal) error {
	switch {
	case !from.Active:
		return newError(KindBusinessRule, StageRuleChecking, ReasonSourceCancelled, nil)
	case !to.Active:
		return newError(KindBusinessRule, StageRuleChecking, ReasonDestCancelled, nil)
	case from.Amount.LessThan(amount):
		return newError(KindBusinessRule, StageRuleChecking, ReasonInsufficientFunds, nil)
	case to.Amount.Add(amount).GreaterThan(balance.MaxAmount):
		return newError(KindBusinessRule, StageRuleChecking, ReasonDestLimitExceeded, nil)
	}
	return nil
}

func classify(stage Stage, err error, notFound string) error {
	switch {
	case errors.Is(err, balance.ErrNotFound) && notFound != "":
		return newError(KindNotFound, stage, notFound, err)
	case errors.Is(err, balance.ErrLockTimeout):
		return newError(KindConflict, stage, ReasonLockTimeout, err)
	case stage == StageLocking && errors.Is(err, context.DeadlineExceeded):
		return newError(KindConflict, stage, ReasonLockTimeout, err)
	case errors.Is(err, balance.ErrVersionConflict):
		return newError(KindConflict, stage, ReasonVersionConflict, err)
	}
	return fmt.Errorf("transfer %s: %w", stage, err)
}
