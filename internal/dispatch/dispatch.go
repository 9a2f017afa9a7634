// Package dispatch binds a planned invocation to a device pipeline, submits
// it and waits for completion.
package dispatch

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gogpu/compute/gpucore"
	"github.com/gogpu/compute/internal/logging"
	"github.com/gogpu/compute/internal/pipeline"
	"github.com/gogpu/compute/internal/plan"
)

// DefaultWaitTimeout bounds a completion wait unless configured otherwise.
const DefaultWaitTimeout = 5 * time.Second

// Dispatcher submits one plan at a time per call. It holds no per-call
// state and is safe for concurrent use.
type Dispatcher struct {
	timeout time.Duration

	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
}

// New creates a Dispatcher that waits at most timeout for each dispatch.
// A zero timeout waits indefinitely.
func New(timeout time.Duration) *Dispatcher {
	return &Dispatcher{timeout: timeout}
}

// Timeout returns the configured wait budget.
func (d *Dispatcher) Timeout() time.Duration { return d.timeout }

// Execute runs p on pipe's device and blocks until the device reports
// completion. Transient resources are released on every path except an
// expired wait, where they stay alive until the device is destroyed.
func (d *Dispatcher) Execute(pipe *pipeline.DevicePipeline, p *plan.Plan) error {
	s, err := d.submit(pipe, p)
	if err != nil {
		d.failed.Add(1)
		return err
	}
	return d.await(s)
}

// ExecuteAsync submits p and returns without waiting. after, if non-nil,
// runs exactly once with the final result before the Completion reports
// done. Submission failures produce an already finished Completion.
func (d *Dispatcher) ExecuteAsync(pipe *pipeline.DevicePipeline, p *plan.Plan, after func(error)) *Completion {
	c := newCompletion(after)
	s, err := d.submit(pipe, p)
	if err != nil {
		d.failed.Add(1)
		c.finish(err)
		return c
	}
	go func() { c.finish(d.await(s)) }()
	return c
}

// submission holds the transient objects of one in-flight dispatch.
type submission struct {
	dev       gpucore.Device
	constants gpucore.BufferID
	group     gpucore.BindGroupID
	cmds      gpucore.CommandContext
	label     string
}

// release destroys the transient objects in reverse creation order.
func (s *submission) release() {
	if s.cmds != nil {
		s.cmds.Release()
	}
	if s.group != gpucore.InvalidID {
		s.dev.DestroyBindGroup(s.group)
	}
	if s.constants != gpucore.InvalidID {
		s.dev.DestroyBuffer(s.constants)
	}
}

func (d *Dispatcher) submit(pipe *pipeline.DevicePipeline, p *plan.Plan) (*submission, error) {
	dev := pipe.Device()
	if err := p.CheckLimits(dev.Limits()); err != nil {
		return nil, err
	}

	s := &submission{dev: dev, label: pipe.Shader().Name}
	ok := false
	defer func() {
		if !ok {
			s.release()
		}
	}()

	var err error
	s.constants, err = dev.CreateBuffer(&gpucore.BufferDesc{
		Label: s.label + " constants",
		Size:  uint64(len(p.Constants)),
		Usage: gpucore.BufferUsageUniform | gpucore.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, deviceError(dev, "create constants buffer", err)
	}
	if err := dev.WriteBuffer(s.constants, 0, p.Constants); err != nil {
		return nil, deviceError(dev, "write constants", err)
	}

	entries := make([]gpucore.BindGroupEntry, 0, len(p.Bindings)+1)
	entries = append(entries, gpucore.BindGroupEntry{
		Binding: 0,
		Buffer:  s.constants,
		Size:    uint64(len(p.Constants)),
	})
	entries = append(entries, p.Bindings...)
	s.group, err = dev.CreateBindGroup(&gpucore.BindGroupDesc{
		Label:   s.label,
		Layout:  pipe.BindGroupLayout,
		Entries: entries,
	})
	if err != nil {
		return nil, deviceError(dev, "create bind group", err)
	}

	s.cmds, err = dev.BeginCommands(s.label)
	if err != nil {
		return nil, deviceError(dev, "begin commands", err)
	}
	s.cmds.SetPipeline(pipe.Pipeline)
	s.cmds.SetBindGroup(0, s.group)
	s.cmds.Dispatch(p.Groups[0], p.Groups[1], p.Groups[2])
	if err := s.cmds.Submit(); err != nil {
		return nil, deviceError(dev, "submit", err)
	}

	ok = true
	d.submitted.Add(1)
	logging.Logger().Debug("dispatch: submitted",
		"kernel", s.label, "device", dev.Label(),
		"domain", p.Domain, "groups", p.Groups)
	return s, nil
}

// await waits for s and releases its transient objects. When the wait
// expires on a live device the work may still be running, so the bind
// group and constants buffer are left for the device to reclaim on
// teardown.
func (d *Dispatcher) await(s *submission) error {
	err := s.cmds.Wait(d.timeout)
	if err == nil {
		s.release()
		d.completed.Add(1)
		return nil
	}
	d.failed.Add(1)
	if errors.Is(err, gpucore.ErrWaitTimeout) && s.dev.Err() == nil {
		s.cmds.Release()
		logging.Logger().Warn("dispatch: wait expired; keeping resources until device teardown",
			"kernel", s.label, "device", s.dev.Label(), "timeout", d.timeout)
	} else {
		s.release()
	}
	return deviceError(s.dev, "wait", err)
}

// deviceError classifies a failed device call. Lost and destroyed devices
// and expired waits become DeviceStateError; anything else is wrapped.
func deviceError(dev gpucore.Device, op string, err error) error {
	if gpucore.IsDeviceFailure(err) {
		return &gpucore.DeviceStateError{Device: dev.ID(), Op: op, Err: err}
	}
	if derr := dev.Err(); derr != nil {
		return &gpucore.DeviceStateError{Device: dev.ID(), Op: op, Err: fmt.Errorf("%w: %w", derr, err)}
	}
	return fmt.Errorf("dispatch: %s: %w", op, err)
}

// Stats reports dispatcher activity.
type Stats struct {
	Submitted uint64
	Completed uint64
	Failed    uint64
}

// Stats returns current counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Submitted: d.submitted.Load(),
		Completed: d.completed.Load(),
		Failed:    d.failed.Load(),
	}
}
