package rpc

import (
	"errors"
	"fmt"
	"strings"
)

// TransportError marks a socket-level failure (dial, reset, broken
// write). Retryable.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport: %v", e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// TimeoutError marks an exchange that outran the connection timeout.
// Retryable.
type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("timeout: %v", e.Err) }
func (e *TimeoutError) Unwrap() error { return e.Err }

// ProtocolError marks an empty, truncated, or undecodable frame, or a
// generic server-side error result. Retryable.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: %s: %v", e.Reason, e.Err)
	}
	return "protocol: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// AuthError marks an authentication rejection from the server.
// Terminal: never retried, always surfaced to the caller.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string { return "authentication failed: " + e.Message }

// Retryable reports whether another attempt may succeed. Everything in
// the taxonomy retries except authentication failures.
func Retryable(err error) bool {
	var authErr *AuthError
	return err != nil && !errors.As(err, &authErr)
}

// authFlavored detects authentication-flavored server errors by
// message, the only signal the wire protocol carries for them.
func authFlavored(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "auth") ||
		strings.Contains(lower, "password") ||
		strings.Contains(lower, "login")
}
