package bridge

import (
	"errors"
	"fmt"
	"os/exec"
)

// BridgeError represents errors from the engine bridge
type BridgeError struct {
	Type   BridgeErrorType
	Method string
	Err    error
}

// BridgeErrorType represents the type of bridge error
type BridgeErrorType int

const (
	// BridgeErrorTypeSpawn means the engine process could not be started.
	BridgeErrorTypeSpawn BridgeErrorType = iota
	// BridgeErrorTypeProcessExited means the engine exited with a failure status.
	BridgeErrorTypeProcessExited
	// BridgeErrorTypeWrite means a request could not be written to the engine.
	BridgeErrorTypeWrite
	// BridgeErrorTypeRead means the engine's output could not be read or decoded.
	BridgeErrorTypeRead
	// BridgeErrorTypeClosed means the bridge no longer accepts calls.
	BridgeErrorTypeClosed
)

func (t BridgeErrorType) String() string {
	switch t {
	case BridgeErrorTypeSpawn:
		return "spawn"
	case BridgeErrorTypeProcessExited:
		return "process_exited"
	case BridgeErrorTypeWrite:
		return "write"
	case BridgeErrorTypeRead:
		return "read"
	case BridgeErrorTypeClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

func (e *BridgeError) Error() string {
	switch e.Type {
	case BridgeErrorTypeSpawn:
		return fmt.Sprintf("failed to start engine: %v", e.Err)
	case BridgeErrorTypeProcessExited:
		return fmt.Sprintf("engine exited with non-zero status: %v", e.Err)
	case BridgeErrorTypeWrite:
		return fmt.Sprintf("failed to send %s: %v", e.Method, e.Err)
	case BridgeErrorTypeRead:
		return fmt.Sprintf("failed to receive from engine: %v", e.Err)
	case BridgeErrorTypeClosed:
		return "bridge is closed"
	default:
		return fmt.Sprintf("unknown bridge error: %v", e.Err)
	}
}

func (e *BridgeError) Unwrap() error {
	return e.Err
}

// ErrClosed is returned for calls submitted after the bridge stopped accepting them.
var ErrClosed = &BridgeError{Type: BridgeErrorTypeClosed}

// IsFatal reports whether err ends the bridge for good.
func IsFatal(err error) bool {
	var be *BridgeError
	if !errors.As(err, &be) {
		return false
	}
	return be.Type != BridgeErrorTypeClosed
}

// ExitCode extracts the engine's exit status from err, or -1 when err does not
// carry one.
func ExitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
