package domain

import (
	"errors"
	"fmt"
)

// Kind classifies dispatch failures.
type Kind string

const (
	KindWorkspaceUnavailable       Kind = "workspace_unavailable"
	KindProcessTimeout             Kind = "process_timeout"
	KindProcessFailure             Kind = "process_failure"
	KindRegressionRejected         Kind = "regression_rejected"
	KindContextLimitExceeded       Kind = "context_limit_exceeded"
	KindCredentialOrQuotaExhausted Kind = "credential_or_quota_exhausted"
)

// Sentinels for errors.Is. Any *Error of the same Kind matches.
var (
	ErrWorkspaceUnavailable       = &Error{Kind: KindWorkspaceUnavailable}
	ErrProcessTimeout             = &Error{Kind: KindProcessTimeout}
	ErrProcessFailure             = &Error{Kind: KindProcessFailure}
	ErrRegressionRejected         = &Error{Kind: KindRegressionRejected}
	ErrContextLimitExceeded       = &Error{Kind: KindContextLimitExceeded}
	ErrCredentialOrQuotaExhausted = &Error{Kind: KindCredentialOrQuotaExhausted}
)

// ErrNotFound is returned by stores for missing records.
var ErrNotFound = errors.New("not found")

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// NewError wraps err with a kind and the failing operation.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Escalates reports whether err must pause all dispatching instead of
// leaving the ticket eligible for the next sweep.
func Escalates(err error) bool {
	return errors.Is(err, ErrCredentialOrQuotaExhausted)
}
