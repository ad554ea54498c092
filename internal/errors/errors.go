// Package errors provides domain-specific error types for authclient.
//
// These types carry structured context (operation, address, resource,
// server code) that helps callers decide how to handle failures and
// provides better diagnostics than plain string wrapping.
package errors

import (
	"errors"
	"fmt"
	"net"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	ErrNotConnected      = errors.New("not connected")
	ErrAlreadyConnected  = errors.New("already connected")
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrAuthFailed        = errors.New("authentication failed")
	ErrPasswordRejected  = errors.New("password rejected")
	ErrRateLimited       = errors.New("too many login attempts")
	ErrProtocol          = errors.New("protocol violation")
	ErrTunnelClosed      = errors.New("tunnel is closed")
	ErrTimeout           = errors.New("operation timed out")
	ErrHostKeyMismatch   = errors.New("host key mismatch")
	ErrMessageTooLarge   = errors.New("message exceeds size limit")
	ErrUnknownAccount    = errors.New("unknown account")
	ErrDuplicateAccount  = errors.New("account already exists")
	ErrInvalidCredential = errors.New("invalid credential")
)

// ── Structured error types ───────────────────────────────────────────

// NetworkError represents a failure in a network operation.
type NetworkError struct {
	Op      string // operation: "dial", "read", "write", "deadline"
	Addr    string // network address involved
	Err     error  // underlying error
	Timeout bool   // whether the failure was a deadline expiry
}

func (e *NetworkError) Error() string {
	s := fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	if e.Timeout {
		s += " (timeout)"
	}
	return s
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrTimeout) match deadline failures.
func (e *NetworkError) Is(target error) bool {
	return target == ErrTimeout && e.Timeout
}

// SSHError represents an SSH-specific failure with host context.
type SSHError struct {
	Op   string // "handshake", "auth", "hostkey", "forward"
	Host string
	Port int
	Err  error
}

func (e *SSHError) Error() string {
	return fmt.Sprintf("ssh %s %s:%d: %v", e.Op, e.Host, e.Port, e.Err)
}

func (e *SSHError) Unwrap() error { return e.Err }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// CloseError records a stream or socket that failed to close during
// session teardown.  Teardown never stops on one; they are collected
// and reported together.
type CloseError struct {
	Resource string // "output stream", "input stream", "socket"
	Err      error
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("close %s: %v", e.Resource, e.Err)
}

func (e *CloseError) Unwrap() error { return e.Err }

// Server response codes.
const (
	CodeBadCredentials   = "BAD_CREDENTIALS"
	CodeNotAuthenticated = "NOT_AUTHENTICATED"
	CodeWeakPassword     = "WEAK_PASSWORD"
	CodeBadRequest       = "BAD_REQUEST"
)

// ServerError is a request the remote service answered with ok=false.
// It unwraps to the sentinel matching its code, so callers can test
// with errors.Is(err, ErrAuthFailed) without knowing the wire codes.
type ServerError struct {
	Op      string
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: server returned %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: server returned %s: %s", e.Op, e.Code, e.Message)
}

func (e *ServerError) Unwrap() error {
	switch e.Code {
	case CodeBadCredentials:
		return ErrAuthFailed
	case CodeNotAuthenticated:
		return ErrNotAuthenticated
	case CodeWeakPassword:
		return ErrPasswordRejected
	case CodeBadRequest:
		return ErrProtocol
	}
	return nil
}

// ── Constructors ─────────────────────────────────────────────────────

// Wrap creates a NetworkError, detecting deadline expiry from the
// underlying error.
func Wrap(op, addr string, err error) *NetworkError {
	return &NetworkError{
		Op:      op,
		Addr:    addr,
		Err:     err,
		Timeout: isTimeout(err),
	}
}

// WrapSSH creates an SSHError.
func WrapSSH(op, host string, port int, err error) *SSHError {
	return &SSHError{Op: op, Host: host, Port: port, Err: err}
}

// WrapClose creates a CloseError for the named resource.
func WrapClose(resource string, err error) *CloseError {
	return &CloseError{Resource: resource, Err: err}
}

// ── Classification helpers ───────────────────────────────────────────

// IsTimeout reports whether err is a deadline expiry.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) {
		return true
	}
	return isTimeout(err)
}

// CloseFailures extracts the *CloseError wrapped in each of errs.
func CloseFailures(errs ...error) []*CloseError {
	var out []*CloseError
	for _, err := range errs {
		var ce *CloseError
		if errors.As(err, &ce) {
			out = append(out, ce)
		}
	}
	return out
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

// ── Re-exports for convenience ───────────────────────────────────────
//
// These allow callers to use authclient/internal/errors as a drop-in
// replacement for the standard library in common operations.

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Unwrap is [errors.Unwrap].
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
