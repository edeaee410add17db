package adapters

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies provider failures so the fallback loop can decide
// what to record and whether to trip the throttle guard.
type ErrorKind string

const (
	ErrCredentialMissing ErrorKind = "credential_missing"
	ErrAuthFailure       ErrorKind = "auth_failure"
	ErrAuthUnavailable   ErrorKind = "auth_unavailable"
	ErrTransport         ErrorKind = "transport"
	ErrEmptyResult       ErrorKind = "empty_result"
	ErrRateLimited       ErrorKind = "rate_limited"
	ErrBanned            ErrorKind = "banned"
	ErrSchemaMismatch    ErrorKind = "schema_mismatch"
)

// FetchError is the typed failure value returned by fetchers and the
// session registry. All kinds are recovered inside the fallback loop; none
// propagate to callers except through an ExhaustedError trail.
type FetchError struct {
	Kind     ErrorKind
	Provider string
	Message  string
	Cause    error
}

func (e *FetchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s (%v)", e.Provider, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

func (e *FetchError) Unwrap() error { return e.Cause }

// Common constructors, one per kind the adapters raise.

func NewCredentialMissingError(provider, message string) *FetchError {
	return &FetchError{Kind: ErrCredentialMissing, Provider: provider, Message: message}
}

func NewAuthFailureError(provider, message string) *FetchError {
	return &FetchError{Kind: ErrAuthFailure, Provider: provider, Message: message}
}

func NewAuthUnavailableError(provider, message string, cause error) *FetchError {
	return &FetchError{Kind: ErrAuthUnavailable, Provider: provider, Message: message, Cause: cause}
}

func NewTransportError(provider, message string, cause error) *FetchError {
	return &FetchError{Kind: ErrTransport, Provider: provider, Message: message, Cause: cause}
}

func NewEmptyResultError(provider, message string) *FetchError {
	return &FetchError{Kind: ErrEmptyResult, Provider: provider, Message: message}
}

func NewRateLimitedError(provider, message string) *FetchError {
	return &FetchError{Kind: ErrRateLimited, Provider: provider, Message: message}
}

func NewBannedError(provider, message string) *FetchError {
	return &FetchError{Kind: ErrBanned, Provider: provider, Message: message}
}

func NewSchemaMismatchError(provider, message string, cause error) *FetchError {
	return &FetchError{Kind: ErrSchemaMismatch, Provider: provider, Message: message, Cause: cause}
}

// KindOf extracts the error kind, defaulting to transport for untyped
// errors (timeouts, context cancellation inside an adapter call).
func KindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ErrTransport
}

// Attempt is one entry in the failure trail of an exhausted chain.
type Attempt struct {
	Provider string    `json:"provider"`
	Kind     ErrorKind `json:"kind"`
	Message  string    `json:"message"`
}

// ExhaustedError is the only failure surfaced to callers: every provider
// registered for the capability failed. Attempts is ordered by priority
// rank and holds one entry per provider consulted, so upstream logging can
// tell "everyone is banned" apart from "nobody implements this".
type ExhaustedError struct {
	Capability Capability
	Attempts   []Attempt
}

func (e *ExhaustedError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("no provider registered for capability %s", e.Capability)
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s=%s(%s)", a.Provider, a.Kind, a.Message))
	}
	return fmt.Sprintf("all providers failed for %s: %s", e.Capability, strings.Join(parts, "; "))
}
