package compute

import (
	"errors"

	"github.com/gogpu/compute/gpucore"
)

// Error types returned by the runtime.
type (
	DescriptorError  = gpucore.DescriptorError
	CompilationError = gpucore.CompilationError
	DeviceStateError = gpucore.DeviceStateError
	InputDomainError = gpucore.InputDomainError
)

// Device errors, matched with errors.Is.
var (
	ErrDeviceLost      = gpucore.ErrDeviceLost
	ErrDeviceDestroyed = gpucore.ErrDeviceDestroyed
	ErrWaitTimeout     = gpucore.ErrWaitTimeout
)

// Argument errors.
var (
	// ErrNilDescriptor is returned when Dispatch is called without a kernel.
	ErrNilDescriptor = errors.New("compute: nil kernel descriptor")

	// ErrNilDevice is returned when Dispatch is called without a device.
	ErrNilDevice = errors.New("compute: nil device")
)
