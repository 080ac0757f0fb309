package call

import (
	"errors"
	"fmt"
)

var (
	ErrCallInProgress   = errors.New("a call is already in progress")
	ErrNoIncomingCall   = errors.New("no incoming call to accept")
	ErrNoAnswer         = errors.New("peer did not answer")
	ErrConnectionFailed = errors.New("connection failed")
)

// CapabilityKind classifies why local media could not be acquired.
type CapabilityKind int

const (
	CapabilityUnknown CapabilityKind = iota
	CapabilityPermissionDenied
	CapabilityDeviceNotFound
	CapabilityDeviceBusy
	CapabilityConstraintsUnmet
	CapabilityInsecureContext
)

func (k CapabilityKind) String() string {
	switch k {
	case CapabilityPermissionDenied:
		return "permission denied"
	case CapabilityDeviceNotFound:
		return "device not found"
	case CapabilityDeviceBusy:
		return "device busy"
	case CapabilityConstraintsUnmet:
		return "constraints unmet"
	case CapabilityInsecureContext:
		return "insecure context"
	}
	return "unknown"
}

// CapabilityError is returned when camera or microphone capture fails.
// Its message is meant to be shown to the user as is.
type CapabilityError struct {
	Kind CapabilityKind
	Err  error
}

func (e *CapabilityError) Error() string {
	switch e.Kind {
	case CapabilityPermissionDenied:
		return "Camera and microphone access denied. Please allow permissions and try again."
	case CapabilityDeviceNotFound:
		return "No camera or microphone found. Please connect a camera and microphone."
	case CapabilityDeviceBusy:
		return "Camera or microphone is already in use by another application."
	case CapabilityConstraintsUnmet:
		return "Camera or microphone does not meet the required constraints."
	case CapabilityInsecureContext:
		return "Camera and microphone access blocked due to security restrictions. Please use HTTPS or localhost."
	}
	return "Failed to start video call."
}

func (e *CapabilityError) Unwrap() error {
	return e.Err
}

// Error wraps a failed call operation, in the style of the other
// user-facing errors of the CLI.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}
