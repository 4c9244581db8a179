// Package errs holds the error taxonomy shared by the core packages. Callers
// classify failures with errors.Is against the sentinels below.
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrValidation     = errors.New("validation failed")
	ErrConflict       = errors.New("resource conflict")
	ErrNotFound       = errors.New("not found")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrInfrastructure = errors.New("infrastructure unavailable")
)

// Validation wraps ErrValidation with a caller-facing message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Reason is the externally visible cause of an authentication or
// authorization denial.
type Reason string

const (
	AuthenticationRequired Reason = "authentication_required"
	InvalidToken           Reason = "invalid_token"
	ExpiredToken           Reason = "expired_token"
	Forbidden              Reason = "forbidden"
)

// DenialError is returned by the token service and the request gate.
type DenialError struct {
	Reason Reason
	cause  error
}

// Deny builds a denial. cause is kept for logs only.
func Deny(reason Reason, cause error) *DenialError {
	return &DenialError{Reason: reason, cause: cause}
}

func (e *DenialError) Error() string {
	return "access denied: " + string(e.Reason)
}

func (e *DenialError) Unwrap() error { return e.cause }

func (e *DenialError) Is(target error) bool {
	if e.Reason == Forbidden {
		return target == ErrForbidden
	}
	return target == ErrUnauthorized
}

// ReasonOf extracts the denial reason from err.
func ReasonOf(err error) (Reason, bool) {
	var d *DenialError
	if errors.As(err, &d) {
		return d.Reason, true
	}
	return "", false
}

// InfraError reports a store or timeout failure. Its message carries only the
// operation name; the underlying cause is reachable through Unwrap.
type InfraError struct {
	Op  string
	Err error
}

// Infra wraps err as an infrastructure failure of op. A nil err stays nil.
func Infra(op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *InfraError
	if errors.As(err, &existing) {
		return err
	}
	return &InfraError{Op: op, Err: err}
}

func (e *InfraError) Error() string {
	if e.Op == "" {
		return ErrInfrastructure.Error()
	}
	return e.Op + ": " + ErrInfrastructure.Error()
}

func (e *InfraError) Unwrap() error { return e.Err }

func (e *InfraError) Is(target error) bool { return target == ErrInfrastructure }

// Retryable reports that the caller may retry with backoff.
func (e *InfraError) Retryable() bool { return true }

// IsRetryable reports whether any error in err's chain is retryable.
func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}
