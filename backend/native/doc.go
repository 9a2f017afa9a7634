// Package native runs kernels on real GPUs through gogpu/wgpu/hal.
//
// A Device maps the opaque gpucore IDs the runtime hands around to hal
// resources, records one compute pass per command context and tracks
// submissions by queue index:
//
//	dev, err := native.Open()
//	if err != nil {
//	    return err
//	}
//	defer dev.Destroy()
//
// The Vulkan backend is linked in unless the nogpu build tag is set. Tests
// select the noop backend with WithBackend(gputypes.BackendEmpty) after
// importing hal/noop.
//
// FromProvider wraps a device owned by a host application instead.
package native
