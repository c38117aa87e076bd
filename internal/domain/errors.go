package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrReceiveTimeout = errors.New("receive timeout")
	ErrStreamClosed   = errors.New("stream closed")
	ErrLockHeld       = errors.New("lock already held")
	ErrLockLost       = errors.New("lock lost")
	ErrSigningFailed  = errors.New("signing failed")
)

// CodeServiceUnavailable is the JSON-RPC error code relays and nodes use to
// report that the endpoint cannot serve requests.
const CodeServiceUnavailable = -32000

// TransportError reports a broken head stream or connection. The driver
// reconnects on it and only escalates after repeated failures.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// CallError is a failed read-only call or gas estimation. Data carries the
// raw revert payload when the node returned one.
type CallError struct {
	Message string
	Data    []byte
	Code    int
}

func (e *CallError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("call failed: %s (data 0x%x)", e.Message, e.Data)
	}
	return "call failed: " + e.Message
}

// ErrorCode returns the JSON-RPC code reported by the node.
func (e *CallError) ErrorCode() int { return e.Code }

// Structured reports whether the failure carries revert data that can be
// matched against a failure signature.
func (e *CallError) Structured() bool { return len(e.Data) > 0 }

// BuildError is returned by the transaction builder. Reason holds the decoded
// failure when the underlying call reverted with structured data.
type BuildError struct {
	Strategy   Strategy
	Reason     string
	Structured bool
	Err        error
}

func (e *BuildError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("build %s: %s: %v", e.Strategy, e.Reason, e.Err)
	}
	return fmt.Sprintf("build %s: %v", e.Strategy, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// InconsistentStateError means the simulation passed but a later step failed
// in a way that contradicts it.
type InconsistentStateError struct {
	Height ChainHeight
	Reason string
	Err    error
}

func (e *InconsistentStateError) Error() string {
	return fmt.Sprintf("inconsistent state at height %d: call succeeded but build failed: %s", e.Height, e.Reason)
}

func (e *InconsistentStateError) Unwrap() error { return e.Err }

// RelayUnavailableError reports a service level outage of the submission
// endpoint.
type RelayUnavailableError struct {
	Strategy Strategy
	Err      error
}

func (e *RelayUnavailableError) Error() string {
	return fmt.Sprintf("%s endpoint unavailable: %v", e.Strategy, e.Err)
}

func (e *RelayUnavailableError) Unwrap() error { return e.Err }

// IsServiceUnavailable reports whether err carries the -32000 JSON-RPC code.
func IsServiceUnavailable(err error) bool {
	var coded interface{ ErrorCode() int }
	if errors.As(err, &coded) {
		return coded.ErrorCode() == CodeServiceUnavailable
	}
	return false
}

// IsFatal reports whether err must stop the process.
func IsFatal(err error) bool {
	var inconsistent *InconsistentStateError
	var unavailable *RelayUnavailableError
	return errors.As(err, &inconsistent) || errors.As(err, &unavailable)
}
