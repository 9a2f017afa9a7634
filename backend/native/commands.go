package native

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/compute/gpucore"
)

// pollInterval bounds the sleep between completion polls.
const pollInterval = 200 * time.Microsecond

// submission is a command buffer handed to the queue. The encoder owns the
// command buffer and is destroyed once the queue reports the index done.
type submission struct {
	index   uint64
	encoder hal.CommandEncoder
}

// submit ends encoding and hands the commands to the queue.
func (d *Device) submit(encoder hal.CommandEncoder) (*submission, error) {
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		encoder.Destroy()
		return nil, d.fail("end encoding", err)
	}

	d.queueMu.Lock()
	defer d.queueMu.Unlock()
	index, err := d.queue.Submit([]hal.CommandBuffer{cmdBuf})
	if err != nil {
		encoder.Destroy()
		return nil, d.fail("submit", err)
	}
	s := &submission{index: index, encoder: encoder}
	d.inflight = append(d.inflight, s)
	return s, nil
}

// wait polls the queue until s completes. A zero timeout waits
// indefinitely.
func (d *Device) wait(s *submission, timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	backoff := time.Microsecond
	for {
		if d.completed(s) {
			return nil
		}
		if err := d.Err(); err != nil {
			return fmt.Errorf("native: wait: %w", err)
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return fmt.Errorf("native: wait after %v: %w", timeout, gpucore.ErrWaitTimeout)
		}
		time.Sleep(backoff)
		backoff = min(2*backoff, pollInterval)
	}
}

func (d *Device) completed(s *submission) bool {
	d.queueMu.Lock()
	defer d.queueMu.Unlock()
	return d.queue.PollCompleted() >= s.index
}

// retire destroys encoders of completed submissions. Submission indices
// are monotonic, so the in-flight list is ordered.
func (d *Device) retire() {
	d.queueMu.Lock()
	defer d.queueMu.Unlock()
	done := d.queue.PollCompleted()
	cutoff := 0
	for _, s := range d.inflight {
		if s.index > done {
			break
		}
		s.encoder.Destroy()
		cutoff++
	}
	d.inflight = d.inflight[cutoff:]
}

// BeginCommands opens a command encoder with a single compute pass.
func (d *Device) BeginCommands(label string) (gpucore.CommandContext, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, d.fail("create command encoder", err)
	}
	if err := encoder.BeginEncoding(label); err != nil {
		encoder.Destroy()
		return nil, d.fail("begin encoding", err)
	}
	return &commands{
		dev:     d,
		encoder: encoder,
		pass:    encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: label}),
	}, nil
}

// commands records one compute pass.
type commands struct {
	dev     *Device
	encoder hal.CommandEncoder
	pass    hal.ComputePassEncoder
	sub     *submission
	err     error

	released atomic.Bool
}

func (c *commands) SetPipeline(id gpucore.ComputePipelineID) {
	p := c.dev.computePipeline(id)
	if p == nil {
		c.setErr(fmt.Errorf("native: compute pipeline %d: %w", id, gpucore.ErrUnknownResource))
		return
	}
	c.pass.SetPipeline(p)
}

func (c *commands) SetBindGroup(index uint32, id gpucore.BindGroupID) {
	g := c.dev.bindGroup(id)
	if g == nil {
		c.setErr(fmt.Errorf("native: bind group %d: %w", id, gpucore.ErrUnknownResource))
		return
	}
	c.pass.SetBindGroup(index, g, nil)
}

func (c *commands) Dispatch(x, y, z uint32) {
	c.pass.Dispatch(x, y, z)
}

func (c *commands) setErr(err error) {
	if c.err == nil {
		c.err = err
	}
}

// Submit ends the pass and submits the encoder. Recording errors surface
// here.
func (c *commands) Submit() error {
	if c.sub != nil || c.pass == nil {
		return fmt.Errorf("native: command context already submitted")
	}
	c.pass.End()
	c.pass = nil
	if c.err != nil {
		c.encoder.DiscardEncoding()
		c.encoder.Destroy()
		c.encoder = nil
		return c.err
	}
	if err := c.dev.check(); err != nil {
		c.encoder.DiscardEncoding()
		c.encoder.Destroy()
		c.encoder = nil
		return err
	}
	s, err := c.dev.submit(c.encoder)
	c.encoder = nil
	if err != nil {
		return err
	}
	c.sub = s
	return nil
}

func (c *commands) Wait(timeout time.Duration) error {
	if c.sub == nil {
		return fmt.Errorf("native: wait before submit")
	}
	return c.dev.wait(c.sub, timeout)
}

// Release discards unsubmitted work and reclaims finished submissions.
// Submitted work still running is reclaimed by a later call.
func (c *commands) Release() {
	if c.released.Swap(true) {
		return
	}
	if c.encoder != nil {
		if c.pass != nil {
			c.pass.End()
			c.pass = nil
		}
		c.encoder.DiscardEncoding()
		c.encoder.Destroy()
		c.encoder = nil
	}
	c.dev.retire()
}
