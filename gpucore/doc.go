// Package gpucore defines the device contract shared by the kernel runtime
// and its backends.
//
// The [Device] interface abstracts a logical GPU through opaque uint64
// resource IDs, so the compile, pipeline and dispatch stages can run
// against any backend:
//   - backend/native (gogpu/wgpu HAL: Vulkan, Metal, DX12, GLES, software)
//   - in-memory recording devices used by tests
//
// # Architecture
//
//	               +-----------------+
//	               |     compute     |
//	               |    (Runtime)    |
//	               +--------+--------+
//	                        |
//	               +--------v--------+
//	               |     gpucore     |
//	               |     Device      |
//	               +--------+--------+
//	                        |
//	         +--------------+--------------+
//	         |                             |
//	+--------v--------+          +--------v--------+
//	| backend/native  |          |  recording fake |
//	|  (hal.Device)   |          |     (tests)     |
//	+-----------------+          +-----------------+
//
// # Errors
//
// The package also owns the runtime's error taxonomy: [DescriptorError],
// [CompilationError], [DeviceStateError] and [InputDomainError]. Callers
// match them with errors.As.
package gpucore
