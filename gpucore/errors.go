package gpucore

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel device errors.
var (
	// ErrDeviceLost is returned when the device stopped responding.
	ErrDeviceLost = errors.New("gpucore: device lost")

	// ErrDeviceDestroyed is returned for calls on a device after Destroy.
	ErrDeviceDestroyed = errors.New("gpucore: device destroyed")

	// ErrWaitTimeout is returned when a completion wait exceeds its budget.
	ErrWaitTimeout = errors.New("gpucore: wait timed out")

	// ErrUnknownResource is returned when an ID does not name a live resource.
	ErrUnknownResource = errors.New("gpucore: unknown resource")
)

// DescriptorReason classifies a rejected kernel descriptor.
type DescriptorReason uint8

// Descriptor rejection reasons.
const (
	ReasonUnsupportedOperation DescriptorReason = iota + 1
	ReasonTypeMismatch
	ReasonUnsupportedType
	ReasonUndefinedName
	ReasonInvalidName
	ReasonInvalidShape
	ReasonInvalidValue
)

func (r DescriptorReason) String() string {
	switch r {
	case ReasonUnsupportedOperation:
		return "unsupported operation"
	case ReasonTypeMismatch:
		return "type mismatch"
	case ReasonUnsupportedType:
		return "unsupported type"
	case ReasonUndefinedName:
		return "undefined name"
	case ReasonInvalidName:
		return "invalid name"
	case ReasonInvalidShape:
		return "invalid thread-group shape"
	case ReasonInvalidValue:
		return "invalid value"
	default:
		return fmt.Sprintf("DescriptorReason(%d)", uint8(r))
	}
}

// DescriptorError reports a kernel descriptor that cannot be translated.
// It is raised before any device work is attempted.
type DescriptorError struct {
	Reason DescriptorReason
	// Path locates the offending node, e.g. "body[2].then[0].value".
	Path   string
	Detail string
}

func (e *DescriptorError) Error() string {
	var b strings.Builder
	b.WriteString("kernel descriptor: ")
	b.WriteString(e.Reason.String())
	if e.Path != "" {
		b.WriteString(" at ")
		b.WriteString(e.Path)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

// CompilationError reports a device-program compiler rejection of the
// generated source. Source holds the program text for diagnostics.
type CompilationError struct {
	Kernel string
	Target ShaderTarget
	Source string
	Err    error
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("compile kernel %s to %s: %v", e.Kernel, e.Target, e.Err)
}

func (e *CompilationError) Unwrap() error { return e.Err }

// DeviceStateError reports a lost, destroyed or unresponsive device.
type DeviceStateError struct {
	Device DeviceID
	Op     string
	Err    error
}

func (e *DeviceStateError) Error() string {
	return fmt.Sprintf("device %d: %s: %v", e.Device, e.Op, e.Err)
}

func (e *DeviceStateError) Unwrap() error { return e.Err }

// InputDomainError reports an iteration domain that cannot be dispatched.
type InputDomainError struct {
	Domain [3]int
	Axis   int
	Detail string
}

func (e *InputDomainError) Error() string {
	return fmt.Sprintf("iteration domain %v: axis %d: %s", e.Domain, e.Axis, e.Detail)
}

// IsDeviceFailure reports whether err stems from the device rather than the
// request: lost or destroyed devices and expired waits.
func IsDeviceFailure(err error) bool {
	return errors.Is(err, ErrDeviceLost) ||
		errors.Is(err, ErrDeviceDestroyed) ||
		errors.Is(err, ErrWaitTimeout)
}
