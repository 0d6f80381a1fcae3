// Package errors provides domain-specific error types for wearbridge.
//
// These types carry structured context (operation, port, device address,
// retryability) that helps callers decide how to handle failures and
// provides better diagnostics than plain string wrapping.
package errors

import (
	"errors"
	"fmt"
	"io"
	"net"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	// ErrTransportUnavailable means no transport could be selected or
	// opened by the user or environment.
	ErrTransportUnavailable = errors.New("transport unavailable")
	// ErrOpenFailed means the chosen transport rejected its open parameters.
	ErrOpenFailed = errors.New("transport open failed")
	// ErrDeviceNotFound means the address has no registered session.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrSubsystemNotFound means the device does not expose the subsystem.
	ErrSubsystemNotFound = errors.New("subsystem not found")
	// ErrSerializationFailed is returned when a value cannot be encoded
	// for the host boundary.
	ErrSerializationFailed = errors.New("serialization failed")
	// ErrStreamClosed means the transport reached end of stream.
	ErrStreamClosed = errors.New("stream closed")
	// ErrHandleReleased is returned by reads/writes on a released or
	// closed stream handle.
	ErrHandleReleased = errors.New("stream handle released")
	ErrNotConnected   = errors.New("not connected")
	ErrAuthFailed     = errors.New("authentication failed")
	// ErrUnsupportedDataType means get_data was asked for a kind other
	// than info, status or storage.
	ErrUnsupportedDataType = errors.New("unsupported data type")
	// ErrAppNotFound means a package is missing from the device's
	// quick-app list.
	ErrAppNotFound = errors.New("app info not found")
)

// ── Structured error types ───────────────────────────────────────────

// TransportError represents a failure opening or using a physical
// transport.
type TransportError struct {
	Op   string // "select", "open", "read", "write", "close"
	Port string // port name or remote spec, may be empty
	Kind error  // ErrTransportUnavailable, ErrOpenFailed or nil
	Err  error  // underlying error
}

func (e *TransportError) Error() string {
	port := e.Port
	if port == "" {
		port = "<none>"
	}
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %v", e.Op, port, e.Kind)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, port, e.Err)
}

// Unwrap exposes both the classification and the cause so that
// errors.Is works for either.
func (e *TransportError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// HandshakeError wraps a failure reported by the protocol dispatcher
// while establishing a session.
type HandshakeError struct {
	Cause error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake failed: %v", e.Cause)
}

func (e *HandshakeError) Unwrap() error { return e.Cause }

// TransferError wraps the terminal failure of a mass transfer.
type TransferError struct {
	Cause error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer failed: %v", e.Cause)
}

func (e *TransferError) Unwrap() error { return e.Cause }

// SubsystemError reports a subsystem missing from a registered device.
type SubsystemError struct {
	Subsystem string // "info", "install", "resource", "watchface", "thirdparty app"
	Address   string
}

func (e *SubsystemError) Error() string {
	return fmt.Sprintf("%s: %s system not found", e.Address, e.Subsystem)
}

func (e *SubsystemError) Unwrap() error { return ErrSubsystemNotFound }

// SSHError represents an SSH-specific failure with host context.
type SSHError struct {
	Op   string // "handshake", "auth", "hostkey", "session", "exec"
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

// ── Constructors ─────────────────────────────────────────────────────

// Unavailable reports that no transport could be selected.
func Unavailable(op, port string, err error) *TransportError {
	return &TransportError{Op: op, Port: port, Kind: ErrTransportUnavailable, Err: err}
}

// OpenFailed reports that the chosen transport refused to open.
func OpenFailed(port string, err error) *TransportError {
	return &TransportError{Op: "open", Port: port, Kind: ErrOpenFailed, Err: err}
}

// WrapSSH creates an SSHError.
func WrapSSH(op, host string, port int, err error) *SSHError {
	return &SSHError{Op: op, Host: host, Port: port, Err: err}
}

// Subsystem creates a SubsystemError.
func Subsystem(name, addr string) *SubsystemError {
	return &SubsystemError{Subsystem: name, Address: addr}
}

// ── Classification helpers ───────────────────────────────────────────

// IsRetryable reports whether a connect-time failure is worth retrying
// by the caller.  A port that refused to open may be busy; a handshake
// may fail on a noisy link.  A missing transport will stay missing.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransportUnavailable) {
		return false
	}
	var he *HandshakeError
	if errors.As(err, &he) {
		return true
	}
	if errors.Is(err, ErrOpenFailed) {
		return true
	}
	var se *SSHError
	if errors.As(err, &se) {
		return se.Op != "auth" && se.Op != "hostkey"
	}
	return false
}

// IsClosed reports whether err is an expected end-of-stream condition
// rather than a genuine I/O fault.
func IsClosed(err error) bool {
	if err == nil {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, ErrHandleReleased) ||
		errors.Is(err, ErrStreamClosed)
}

// ── Re-exports for convenience ───────────────────────────────────────
//
// These allow callers to use wearbridge/internal/errors as a drop-in
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
