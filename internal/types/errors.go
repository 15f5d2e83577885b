package types

import (
	"errors"
	"fmt"
)

// ValidationError rejects a request before any network call.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "invalid request: " + e.Reason }

// QuotaExceededError rejects a request at or over the daily ceiling,
// before any network call.
type QuotaExceededError struct {
	Used  int
	Limit int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily generation limit reached (%d/%d)", e.Used, e.Limit)
}

type TransportFailure string

const (
	TransportNetworkLost TransportFailure = "network_lost"
	TransportTimeout     TransportFailure = "timeout"
	TransportOffline     TransportFailure = "offline"
	TransportOther       TransportFailure = "other"
)

// TransportError wraps a failure that never reached a decodable response.
// Only TransportNetworkLost is retried by the coordinator.
type TransportError struct {
	Failure TransportFailure
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure (%s): %v", e.Failure, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is a transient connection drop.
func (e *TransportError) Retryable() bool { return e.Failure == TransportNetworkLost }

// ServerError carries a non-2xx status, or a backend-level error string
// delivered on HTTP 200.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("server error (%d)", e.StatusCode)
}

func (e *ServerError) HTTPStatusCode() int { return e.StatusCode }

// DecodeError means the response did not match the expected schema. A 200
// carrying neither an artifact variant nor an error string is a
// DecodeError, never a silent no-op.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return "decode error: " + e.Reason }

// PersistenceError surfaces a failed document write without retracting an
// already-completed generation.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("cloud save failed: %v", e.Err) }

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsRetryableTransport reports whether err is a transport failure the
// request loop should re-attempt.
func IsRetryableTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Retryable()
}
