package transfer

import (
	"errors"
	"fmt"
)

// Kind classifies why a transfer was refused.
type Kind int

const (
	// KindUnknown covers failures outside the transfer taxonomy, e.g. store I/O.
	KindUnknown Kind = iota
	// KindInvalidArgument means the request itself is malformed.
	KindInvalidArgument
	// KindNotFound means a referenced balance does not exist.
	KindNotFound
	// KindBusinessRule means a balance rule (status, funds) forbids the move.
	KindBusinessRule
	// KindConflict means contention or a concurrent writer; retrying may succeed.
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindNotFound:
		return "not_found"
	case KindBusinessRule:
		return "business_rule_violation"
	case KindConflict:
		return "concurrency_conflict"
	default:
		return "unknown"
	}
}

// Stage is the step a transfer had reached.
type Stage int

const (
	StageValidating Stage = iota
	StageLocking
	StageRuleChecking
	StageMutating
	StagePersisting
)

func (s Stage) String() string {
	switch s {
	case StageValidating:
		return "validating"
	case StageLocking:
		return "locking"
	case StageRuleChecking:
		return "rule_checking"
	case StageMutating:
		return "mutating"
	case StagePersisting:
		return "persisting"
	default:
		return "unknown"
	}
}

// Sentinels matched by errors.Is against an *Error of the same kind.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrBusinessRule    = errors.New("business rule violation")
	ErrConflict        = errors.New("concurrency conflict")
)

// Reasons reported by the engine.
const (
	ReasonMissingEndpoint   = "missing endpoint id"
	ReasonSameEndpoint      = "same endpoint"
	ReasonNonPositiveAmount = "non-positive amount"
	ReasonAmountScale       = "amount exceeds scale"
	ReasonSourceNotFound    = "source not found"
	ReasonDestNotFound      = "destination not found"
	ReasonSourceCancelled   = "source cancelled"
	ReasonDestCancelled     = "destination cancelled"
	ReasonInsufficientFunds = "insufficient balance"
	ReasonDestLimitExceeded = "destination limit exceeded"
	ReasonVersionConflict   = "version conflict"
	ReasonLockTimeout       = "lock timeout"
)

// Error is the typed failure returned by Engine.Transfer.
type Error struct {
	Kind   Kind
	Stage  Stage
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transfer %s at %s: %s: %v", e.Kind, e.Stage, e.Reason, e.Err)
	}
	return fmt.Sprintf("transfer %s at %s: %s", e.Kind, e.Stage, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrConflict) and friends match by kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrInvalidArgument:
		return e.Kind == KindInvalidArgument
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrBusinessRule:
		return e.Kind == KindBusinessRule
	case ErrConflict:
		return e.Kind == KindConflict
	}
	return false
}

// KindOf extracts the Kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether repeating the same transfer may succeed.
func IsRetryable(err error) bool {
	return KindOf(err) == KindConflict
}

func newError(kind Kind, stage Stage, reason string, cause error) *Error {
	return &Error{Kind: kind, Stage: stage, Reason: reason, Err: cause}
}
