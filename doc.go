// Package compute runs per-thread kernels on GPUs.
//
// # Overview
//
// A kernel is described as a [kernel.Descriptor]: captured scalars,
// buffers and textures, a thread-group shape and a body that runs once per
// thread. A [Runtime] translates the body to WGSL, compiles it once per
// kernel shape, builds one pipeline per (compiled kernel, device) pair and
// dispatches enough thread groups to cover the iteration domain.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/compute"
//	    "github.com/gogpu/compute/backend/native"
//	    "github.com/gogpu/compute/kernel"
//	)
//
//	dev, err := native.Open()
//	if err != nil {
//	    return err
//	}
//	defer dev.Destroy()
//
//	rt := compute.New()
//	saxpy := kernel.New("saxpy", [3]uint32{64, 1, 1},
//	    []kernel.Capture{
//	        kernel.Scalar("a", kernel.Float, float32(2)),
//	        kernel.ReadOnlyBuffer("x", kernel.Float, x),
//	        kernel.ReadWriteBuffer("y", kernel.Float, y),
//	    },
//	    kernel.Let("i", kernel.ThreadID(kernel.X)),
//	    kernel.Store("y",
//	        kernel.Add(
//	            kernel.Mul(kernel.Ref("a"), kernel.Load("x", kernel.Ref("i"))),
//	            kernel.Load("y", kernel.Ref("i"))),
//	        kernel.Ref("i")),
//	)
//	err = rt.Dispatch(saxpy, [3]int{n, 1, 1}, dev)
//
// Threads outside the domain exit before the body runs, so domains need
// not be multiples of the group shape.
//
// # Caching
//
// Descriptors that differ only in captured values share a [kernel.ShapeKey]
// and therefore one compiled program. [kernel.Descriptor.Rebind] swaps
// values without recomputing the key. Pipelines live until their device is
// destroyed, [Runtime.ReleaseDevice] is called, or the compiled shape is
// evicted from a bounded cache.
//
// # Errors
//
// Failures are reported as one of four types, matched with errors.As:
// [DescriptorError] (the kernel cannot be translated), [CompilationError]
// (the device compiler rejected the generated program), [DeviceStateError]
// (the device is lost, destroyed or did not finish in time) and
// [InputDomainError] (the domain cannot be dispatched). Nothing is retried.
//
// # Logging
//
// The runtime is silent by default. See [SetLogger].
package compute
