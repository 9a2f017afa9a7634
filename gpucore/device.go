package gpucore

import (
	"sync/atomic"
	"time"
)

var lastDeviceID atomic.Uint64

// NewDeviceID allocates a process-unique device ID for Device
// implementations.
func NewDeviceID() DeviceID {
	return DeviceID(lastDeviceID.Add(1))
}

// Device abstracts a logical GPU device for kernel execution.
//
// Implementations must be safe for concurrent use. A Device that has been
// lost or destroyed reports it through Err; creation calls made after that
// point fail with an error wrapping ErrDeviceLost or ErrDeviceDestroyed.
//
// Resource lifecycle:
//   - Resources are created via Create* methods
//   - Resources must be explicitly destroyed via Destroy* methods
//   - Destroying a resource while in use is undefined behavior
//   - IDs become invalid after destruction and must not be reused
type Device interface {
	// ID identifies the device. IDs are never reused within a process.
	ID() DeviceID

	// Label is a human readable name used in logs.
	Label() string

	// Target is the program representation the device consumes.
	Target() ShaderTarget

	// Limits reports the device's compute limits.
	Limits() Limits

	// Err returns nil while the device is usable.
	Err() error

	CreateShaderModule(desc *ShaderModuleDesc) (ShaderModuleID, error)
	DestroyShaderModule(id ShaderModuleID)

	CreateBindGroupLayout(desc *BindGroupLayoutDesc) (BindGroupLayoutID, error)
	DestroyBindGroupLayout(id BindGroupLayoutID)

	CreatePipelineLayout(desc *PipelineLayoutDesc) (PipelineLayoutID, error)
	DestroyPipelineLayout(id PipelineLayoutID)

	CreateComputePipeline(desc *ComputePipelineDesc) (ComputePipelineID, error)
	DestroyComputePipeline(id ComputePipelineID)

	CreateBuffer(desc *BufferDesc) (BufferID, error)
	DestroyBuffer(id BufferID)

	// WriteBuffer uploads data at offset. The write is ordered before any
	// command context submitted afterwards.
	WriteBuffer(id BufferID, offset uint64, data []byte) error

	// ReadBuffer copies len(out) bytes starting at offset back to the host.
	// It blocks until previously submitted work has completed.
	ReadBuffer(id BufferID, offset uint64, out []byte) error

	CreateTexture(desc *TextureDesc) (TextureID, error)
	DestroyTexture(id TextureID)

	CreateBindGroup(desc *BindGroupDesc) (BindGroupID, error)
	DestroyBindGroup(id BindGroupID)

	// BeginCommands opens a scoped command context. The caller must call
	// Release on every path.
	BeginCommands(label string) (CommandContext, error)
}

// CommandContext records a single compute pass and submits it.
//
// Usage:
//  1. Obtain a context from Device.BeginCommands()
//  2. Set pipeline and bind groups
//  3. Dispatch compute workgroups
//  4. Submit, then Wait for completion
//  5. Release
//
// The context is single-use and cannot be reused after Submit.
type CommandContext interface {
	// SetPipeline sets the active compute pipeline.
	SetPipeline(pipeline ComputePipelineID)

	// SetBindGroup sets a bind group at the specified index.
	SetBindGroup(index uint32, group BindGroupID)

	// Dispatch dispatches compute workgroups.
	// x, y, z are the number of workgroups in each dimension.
	Dispatch(x, y, z uint32)

	// Submit ends recording and hands the commands to the device queue.
	Submit() error

	// Wait blocks until submitted work completes. It returns an error
	// wrapping ErrWaitTimeout if timeout elapses first. A zero timeout
	// waits indefinitely.
	Wait(timeout time.Duration) error

	// Release frees recording resources. Safe to call more than once.
	Release()
}

// DestroyNotifier is implemented by devices that announce their teardown.
// Registered callbacks run once, after the device stops accepting work and
// before its handles are released.
type DestroyNotifier interface {
	OnDestroy(fn func(DeviceID))
}

// Limits describes device compute capabilities.
type Limits struct {
	// MaxWorkgroupSizeX is the maximum workgroup size in X dimension.
	MaxWorkgroupSizeX uint32

	// MaxWorkgroupSizeY is the maximum workgroup size in Y dimension.
	MaxWorkgroupSizeY uint32

	// MaxWorkgroupSizeZ is the maximum workgroup size in Z dimension.
	MaxWorkgroupSizeZ uint32

	// MaxWorkgroupInvocations is the maximum total invocations per workgroup.
	MaxWorkgroupInvocations uint32

	// MaxComputeWorkgroupsPerDimension is the maximum workgroups per dispatch dimension.
	MaxComputeWorkgroupsPerDimension uint32

	// MaxBufferSize is the maximum buffer size in bytes.
	MaxBufferSize uint64

	// MaxStorageBufferBindingSize is the maximum storage buffer binding size.
	MaxStorageBufferBindingSize uint64

	// MaxBindingsPerGroup bounds the number of resources one kernel may bind,
	// its constant block included.
	MaxBindingsPerGroup uint32

	// SubgroupSize is the hardware SIMD width (wavefront or warp).
	SubgroupSize uint32
}

// DefaultLimits returns the WebGPU baseline compute limits.
func DefaultLimits() Limits {
	return Limits{
		MaxWorkgroupSizeX:                256,
		MaxWorkgroupSizeY:                256,
		MaxWorkgroupSizeZ:                64,
		MaxWorkgroupInvocations:          256,
		MaxComputeWorkgroupsPerDimension: 65535,
		MaxBufferSize:                    256 << 20,
		MaxStorageBufferBindingSize:      128 << 20,
		MaxBindingsPerGroup:              1000,
		SubgroupSize:                     32,
	}
}

// MaxWorkgroupSize returns the per-axis workgroup size limits.
func (l Limits) MaxWorkgroupSize() [3]uint32 {
	return [3]uint32{l.MaxWorkgroupSizeX, l.MaxWorkgroupSizeY, l.MaxWorkgroupSizeZ}
}
