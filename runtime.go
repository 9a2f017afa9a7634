package compute

import (
	"errors"
	"log/slog"

	"github.com/gogpu/compute/gpucore"
	"github.com/gogpu/compute/internal/dispatch"
	"github.com/gogpu/compute/internal/logging"
	"github.com/gogpu/compute/internal/pipeline"
	"github.com/gogpu/compute/internal/plan"
	"github.com/gogpu/compute/internal/shader"
	"github.com/gogpu/compute/kernel"
)

// Completion tracks an asynchronous dispatch. Wait blocks for the result,
// Done is closed once it is known and Err reports it without blocking.
type Completion = dispatch.Completion

// Runtime compiles, caches and dispatches kernels. It owns a shader cache
// keyed by kernel shape and a pipeline cache keyed by (shape, device).
//
// Thread Safety: Runtime is safe for concurrent use. Concurrent first
// dispatches of one shape compile it once; unrelated shapes compile in
// parallel.
type Runtime struct {
	shaders    *shader.Cache
	pipelines  *pipeline.Cache
	dispatcher *dispatch.Dispatcher
	log        *slog.Logger
}

// New creates a Runtime.
func New(opts ...Option) *Runtime {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	r := &Runtime{
		pipelines:  pipeline.NewCache(),
		dispatcher: dispatch.New(o.timeout),
		log:        o.logger,
	}
	shaderOpts := []shader.Option{
		shader.WithTargets(o.targets...),
		shader.WithEvictHook(func(cs *shader.Compiled) { r.pipelines.DropShader(cs) }),
	}
	if o.capacity > 0 {
		shaderOpts = append(shaderOpts, shader.WithCapacity(o.capacity))
	}
	if o.compiler != nil {
		shaderOpts = append(shaderOpts, shader.WithCompiler(o.compiler))
	}
	r.shaders = shader.NewCache(shaderOpts...)
	return r
}

func (r *Runtime) logger() *slog.Logger {
	if r.log != nil {
		return r.log
	}
	return logging.Logger()
}

// Dispatch runs d once per thread over domain on dev and blocks until the
// device reports completion.
//
// The kernel is translated and compiled on the first dispatch of its
// shape, and its pipeline built on the first dispatch on dev. A device
// failure drops the device's pipelines before the error is returned.
func (r *Runtime) Dispatch(d *kernel.Descriptor, domain [3]int, dev gpucore.Device) error {
	pipe, p, err := r.prepare(d, domain, dev)
	if err != nil {
		return err
	}
	err = r.dispatcher.Execute(pipe, p)
	r.finish(pipe, err)
	return err
}

// DispatchAsync submits d like Dispatch but returns once the work is
// queued. Errors raised before submission are returned directly; later
// ones are reported by the Completion.
func (r *Runtime) DispatchAsync(d *kernel.Descriptor, domain [3]int, dev gpucore.Device) (*Completion, error) {
	pipe, p, err := r.prepare(d, domain, dev)
	if err != nil {
		return nil, err
	}
	return r.dispatcher.ExecuteAsync(pipe, p, func(err error) { r.finish(pipe, err) }), nil
}

// prepare validates d, compiles its shape, plans the invocation and
// acquires the pipeline. On success the caller owns a pipeline use.
func (r *Runtime) prepare(d *kernel.Descriptor, domain [3]int, dev gpucore.Device) (*pipeline.DevicePipeline, *plan.Plan, error) {
	if d == nil {
		return nil, nil, ErrNilDescriptor
	}
	if dev == nil {
		return nil, nil, ErrNilDevice
	}
	if err := d.Validate(); err != nil {
		return nil, nil, err
	}

	cs, err := r.shaders.GetOrCompile(d)
	if err != nil {
		return nil, nil, err
	}
	if err := plan.CheckGroupShape(d.GroupShape(), dev.Limits()); err != nil {
		return nil, nil, err
	}
	if err := plan.CheckBindings(cs.Layout(), dev.Limits()); err != nil {
		return nil, nil, err
	}
	p, err := plan.Build(domain, d.GroupShape(), d.Captures(), cs.Layout())
	if err != nil {
		return nil, nil, err
	}
	if err := p.CheckLimits(dev.Limits()); err != nil {
		return nil, nil, err
	}

	pipe, err := r.pipelines.Acquire(cs, dev)
	if err != nil {
		return nil, nil, err
	}
	return pipe, p, nil
}

// finish ends the pipeline use and forgets the device if it failed. An
// expired wait on a live device keeps the pipelines, since the work may
// still be running on them.
func (r *Runtime) finish(pipe *pipeline.DevicePipeline, err error) {
	r.pipelines.Release(pipe)
	if err == nil || !gpucore.IsDeviceFailure(err) {
		return
	}
	dev := pipe.Device()
	if errors.Is(err, gpucore.ErrWaitTimeout) && dev.Err() == nil {
		r.logger().Warn("compute: dispatch timed out",
			"device", dev.Label(), "kernel", pipe.Shader().Name, "err", err)
		return
	}
	n := r.pipelines.DropDevice(dev.ID())
	r.logger().Warn("compute: device failed",
		"device", dev.Label(), "kernel", pipe.Shader().Name, "pipelines", n, "err", err)
}

// Compile translates and compiles d without dispatching it and returns
// the generated WGSL. Only the shape of d matters; its resources may be
// unbound.
func (r *Runtime) Compile(d *kernel.Descriptor) (string, error) {
	if d == nil {
		return "", ErrNilDescriptor
	}
	if err := d.ValidateShape(); err != nil {
		return "", err
	}
	cs, err := r.shaders.GetOrCompile(d)
	if err != nil {
		return "", err
	}
	return cs.Source(), nil
}

// GroupShapeFor suggests a thread-group shape for domain on dev: the
// subgroup width for 1D domains, 8x8 for 2D and 4x4x4 for 3D, clamped to
// the device limits.
func GroupShapeFor(domain [3]int, dev gpucore.Device) [3]uint32 {
	return plan.GroupShapeFor(domain, dev.Limits())
}

// ReleaseDevice destroys every pipeline built on dev and returns how many
// were released. Devices that announce their own teardown are released
// automatically. Must not be called while dispatches on dev are running.
func (r *Runtime) ReleaseDevice(dev gpucore.Device) int {
	return r.pipelines.DropDevice(dev.ID())
}

// ShapeCount returns the number of compiled shapes retained.
func (r *Runtime) ShapeCount() int { return r.shaders.Len() }

// PipelineCount returns the number of live pipelines on dev.
func (r *Runtime) PipelineCount(dev gpucore.Device) int {
	return r.pipelines.Count(dev.ID())
}

// Stats reports runtime activity.
type Stats struct {
	// Shapes is the number of compiled shapes retained.
	Shapes          int
	ShapeHits       uint64
	Compiles        uint64
	CompileFailures uint64
	Evictions       uint64

	// Pipelines is the number of live pipelines across all devices.
	Pipelines          int
	PipelinesCreated   uint64
	PipelinesDestroyed uint64

	Submitted uint64
	Completed uint64
	Failed    uint64
}

// Stats returns current statistics.
func (r *Runtime) Stats() Stats {
	ss := r.shaders.Stats()
	ps := r.pipelines.Stats()
	ds := r.dispatcher.Stats()
	return Stats{
		Shapes:             ss.Len,
		ShapeHits:          ss.Hits,
		Compiles:           ss.Compiles,
		CompileFailures:    ss.Failures,
		Evictions:          ss.Evictions,
		Pipelines:          ps.Len,
		PipelinesCreated:   ps.Created,
		PipelinesDestroyed: ps.Destroyed,
		Submitted:          ds.Submitted,
		Completed:          ds.Completed,
		Failed:             ds.Failed,
	}
}
