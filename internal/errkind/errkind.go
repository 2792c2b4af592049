// Package errkind enumerates the typed error kinds surfaced across the
// daemon's RPC boundary (spec.md §7).
package errkind

import "errors"

// Kind classifies an error returned by a daemon operation so that clients
// can branch on failure mode instead of parsing message text.
type Kind string

const (
	AlreadyRunning           Kind = "already_running"
	NoPreviousIndex          Kind = "no_previous_index"
	ConfigurationChanged     Kind = "configuration_changed"
	MissingCollection        Kind = "missing_collection"
	BackendUpsertFailed      Kind = "backend_upsert_failed"
	PartialEmbeddingResponse Kind = "partial_embedding_response"
	SingleInstanceViolation  Kind = "single_instance_violation"
	InvalidTimeRange         Kind = "invalid_time_range"
	InvalidFilter            Kind = "invalid_filter"
	CallbackInterrupt        Kind = "callback_interrupt"
	NetworkError             Kind = "network_error"
	ProviderRateLimited      Kind = "provider_rate_limited"
	Internal                 Kind = "internal"
)

// Error wraps an underlying error with a Kind so RPC handlers can map it to
// the uniform {status, message, kind} envelope (spec.md §4.G, §7).
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: err.Error(), Err: err}
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, otherwise returns Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
