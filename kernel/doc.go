// Package kernel describes compute kernels as plain Go values.
//
// A [Descriptor] bundles a thread-group shape, an ordered list of
// [Capture] values (scalars, buffers and textures) and a body of [Stmt]
// nodes that runs once per thread. The body can read the thread index with
// [ThreadID], read and write captured resources, branch, and loop over
// bounded ranges. Recursion and allocation are not expressible.
//
// Example (scale a buffer in place):
//
//	d := kernel.New("scale", [3]uint32{64, 1, 1},
//	    []kernel.Capture{
//	        kernel.ReadWriteBuffer("data", kernel.Float, buf),
//	        kernel.Scalar("factor", kernel.Float, float32(2)),
//	    },
//	    kernel.Let("i", kernel.ThreadID(kernel.X)),
//	    kernel.Store("data",
//	        kernel.Mul(kernel.Load("data", kernel.Ref("i")), kernel.Ref("factor")),
//	        kernel.Ref("i")),
//	)
//
// Two descriptors with the same structure share a [ShapeKey] regardless of
// the values they capture, so the runtime compiles each shape once.
package kernel
