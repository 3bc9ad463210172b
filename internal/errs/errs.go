// Package errs defines the error taxonomy surfaced by the campaign workflows.
//
// Every chain or persistence failure is mapped to exactly one Kind before it
// leaves a workflow, so callers can switch on the kind instead of inspecting
// provider-specific error strings.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure.
type Kind string

const (
	KindUserRejected        Kind = "USER_REJECTED"
	KindConnectivity        Kind = "CONNECTIVITY"
	KindRevert              Kind = "REVERT"
	KindInsufficientBalance Kind = "INSUFFICIENT_BALANCE"
	KindDuplicateClaim      Kind = "DUPLICATE_CLAIM"
	KindNotAContract        Kind = "NOT_A_CONTRACT"
	KindAlreadyInProgress   Kind = "ALREADY_IN_PROGRESS"
	KindPrecondition        Kind = "PRECONDITION"
	KindNotEligible         Kind = "NOT_ELIGIBLE"
	KindInvalidInput        Kind = "INVALID_INPUT"
	KindCanceled            Kind = "CANCELED"
	KindInternal            Kind = "INTERNAL"
)

// Error is a classified failure. Op names the operation that failed, Step the
// workflow leg (approve, stake, deploy, mint) when there is one, and Reason a
// human-readable cause such as a contract revert string.
type Error struct {
	Kind   Kind
	Op     string
	Step   string
	Reason string
	Err    error
}

// Sentinels for errors.Is matching by kind.
var (
	ErrUserRejected        = &Error{Kind: KindUserRejected}
	ErrConnectivity        = &Error{Kind: KindConnectivity}
	ErrRevert              = &Error{Kind: KindRevert}
	ErrInsufficientBalance = &Error{Kind: KindInsufficientBalance}
	ErrDuplicateClaim      = &Error{Kind: KindDuplicateClaim}
	ErrNotAContract        = &Error{Kind: KindNotAContract}
	ErrAlreadyInProgress   = &Error{Kind: KindAlreadyInProgress}
	ErrPrecondition        = &Error{Kind: KindPrecondition}
	ErrNotEligible         = &Error{Kind: KindNotEligible}
	ErrInvalidInput        = &Error{Kind: KindInvalidInput}
	ErrCanceled            = &Error{Kind: KindCanceled}
	ErrInternal            = &Error{Kind: KindInternal}
)

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(strings.ToLower(string(e.Kind)))
	if e.Step != "" {
		fmt.Fprintf(&b, " (step %s)", e.Step)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// E builds a classified error.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Reasonf builds a classified error carrying a formatted reason and no cause.
func Reasonf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Reason: fmt.Sprintf(format, args...)}
}

// WithStep returns a copy of err tagged with step. Unclassified errors become
// KindInternal.
func WithStep(err error, step string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		cp := *e
		cp.Step = step
		return &cp
	}
	return &Error{Kind: KindInternal, Step: step, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// ReasonOf returns the recorded reason, if any.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// Retryable reports whether err may succeed if the same call is repeated.
// Only connectivity failures qualify.
func Retryable(err error) bool {
	return KindOf(err) == KindConnectivity
}
