// Package errs holds the error kinds surfaced by the streak engine. Every
// kind carries a stable code that clients can branch on.
package errs

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindConfig              Kind = "CONFIG_ERROR"
	KindNoStreakToRecover   Kind = "NO_STREAK_TO_RECOVER"
	KindInsufficientBalance Kind = "INSUFFICIENT_BALANCE"
	KindAccessDenied        Kind = "ACCESS_DENIED"
	KindLedgerUnavailable   Kind = "LEDGER_UNAVAILABLE"
	KindConcurrencyConflict Kind = "CONCURRENCY_CONFLICT"
	KindBadRequest          Kind = "BAD_REQUEST"
	KindNotFound            Kind = "NOT_FOUND"
)

type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match on kind alone, e.g. errors.Is(err, errs.NoStreakToRecover).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Err == nil && t.Kind == e.Kind
}

func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

var (
	ConfigError         = &Error{Kind: KindConfig}
	NoStreakToRecover   = &Error{Kind: KindNoStreakToRecover}
	InsufficientBalance = &Error{Kind: KindInsufficientBalance}
	AccessDenied        = &Error{Kind: KindAccessDenied}
	LedgerUnavailable   = &Error{Kind: KindLedgerUnavailable}
	ConcurrencyConflict = &Error{Kind: KindConcurrencyConflict}
	BadRequest          = &Error{Kind: KindBadRequest}
	NotFound            = &Error{Kind: KindNotFound}
)

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
