package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrTenantMismatch   = errors.New("tenant mismatch")
	ErrQueryTimeout     = errors.New("query timed out")
	ErrNoCandidateFound = errors.New("no passing sql candidate found")
)

// GuardError is a policy violation raised by SQL validation. Reason is a
// stable machine-readable code (e.g. "non_select_statement",
// "table_not_allowed:public.users") surfaced verbatim to API clients.
type GuardError struct {
	Reason string
}

func (e *GuardError) Error() string {
	return "sql guard: " + e.Reason
}

// NewGuardError creates a GuardError with a formatted reason code.
func NewGuardError(format string, args ...any) *GuardError {
	return &GuardError{Reason: fmt.Sprintf(format, args...)}
}

// IsGuardError reports whether err is (or wraps) a GuardError, returning it.
func IsGuardError(err error) (*GuardError, bool) {
	var ge *GuardError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// ExecutionError wraps a database-side failure during guarded execution so
// handlers can distinguish it from policy violations and timeouts.
type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string {
	return "sql execution: " + e.Err.Error()
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
