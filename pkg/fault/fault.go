// Package fault defines the error taxonomy shared by every subsystem.
// Errors carry a Kind that drives HTTP status mapping, retry decisions in
// the AI gateway, and the event tag recorded to the audit chain.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for transport mapping and retry policy.
type Kind string

const (
	KindInvalidInput       Kind = "invalid_input"
	KindUnauthenticated    Kind = "unauthenticated"
	KindUnauthorized       Kind = "unauthorized"
	KindRateLimited        Kind = "rate_limited"
	KindNotFound           Kind = "not_found"
	KindConflict           Kind = "conflict"
	KindPreconditionFailed Kind = "precondition_failed"

	// Provider-side kinds surfaced by the AI gateway.
	KindTokenLimit          Kind = "token_limit"
	KindRateLimit           Kind = "rate_limit"
	KindProviderUnavailable Kind = "provider_unavailable"
	KindNetwork             Kind = "network"
	KindTimeout             Kind = "timeout"
	KindInvalidResponse     Kind = "invalid_response"
	KindAuthentication      Kind = "authentication"

	// Integrity and storage kinds.
	KindChainBroken        Kind = "chain_broken"
	KindSignatureInvalid   Kind = "signature_invalid"
	KindStorageUnavailable Kind = "storage_unavailable"

	KindInternal Kind = "internal"
)

// Error is the concrete error type carrying a Kind. The message is safe to
// log; whether it is safe for the wire is the transport layer's decision.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an error of the given kind.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Errorf constructs an error of the given kind with a formatted message.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a kind and message, preserving the cause for
// errors.Is / errors.As.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind from err, walking the unwrap chain. Errors
// outside the taxonomy classify as internal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retriable reports whether the kind is transient from the caller's point
// of view. Only the AI gateway retries; everything else surfaces upward.
func Retriable(kind Kind) bool {
	switch kind {
	case KindRateLimit, KindTimeout, KindNetwork, KindProviderUnavailable:
		return true
	}
	return false
}

// HTTPStatus maps a kind to its response status. Kinds without an explicit
// mapping are internal failures.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindUnauthorized:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
