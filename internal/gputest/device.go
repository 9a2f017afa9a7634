// Package gputest provides an in-memory gpucore.Device that records what
// the runtime asks of it.
package gputest

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/compute/gpucore"
)

// Op names a device call that can be made to fail.
type Op string

// Injectable operations.
const (
	OpCreateShaderModule    Op = "CreateShaderModule"
	OpCreateBindGroupLayout Op = "CreateBindGroupLayout"
	OpCreatePipelineLayout  Op = "CreatePipelineLayout"
	OpCreateComputePipeline Op = "CreateComputePipeline"
	OpCreateBuffer          Op = "CreateBuffer"
	OpWriteBuffer           Op = "WriteBuffer"
	OpCreateBindGroup       Op = "CreateBindGroup"
	OpBeginCommands         Op = "BeginCommands"
	OpSubmit                Op = "Submit"
	OpWait                  Op = "Wait"
)

// Kind names a resource kind for the live-object counters.
type Kind string

// Resource kinds.
const (
	KindShaderModule    Kind = "shader module"
	KindBindGroupLayout Kind = "bind group layout"
	KindPipelineLayout  Kind = "pipeline layout"
	KindComputePipeline Kind = "compute pipeline"
	KindBuffer          Kind = "buffer"
	KindTexture         Kind = "texture"
	KindBindGroup       Kind = "bind group"
	KindCommandContext  Kind = "command context"
)

// Dispatch is one submitted compute dispatch as the device saw it.
type Dispatch struct {
	Pipeline  gpucore.ComputePipelineID
	Groups    [3]uint32
	Bindings  []gpucore.BindGroupEntry
	Constants []byte // contents of the buffer at binding 0
}

// Executor runs a dispatch on the host, standing in for the device.
type Executor func(dev *Device, d Dispatch)

// Device is a recording fake. It is safe for concurrent use.
type Device struct {
	id     gpucore.DeviceID
	label  string
	target gpucore.ShaderTarget
	limits gpucore.Limits

	mu         sync.Mutex
	err        error
	nextID     uint64
	live       map[Kind]map[uint64]struct{}
	created    map[Kind]int
	buffers    map[gpucore.BufferID][]byte
	bindGroups map[gpucore.BindGroupID][]gpucore.BindGroupEntry
	pipelines  map[gpucore.ComputePipelineID]gpucore.ComputePipelineDesc
	failures   map[Op]error
	dispatches []Dispatch
	hooks      []func(gpucore.DeviceID)
	waitGate   <-chan struct{}
	executor   Executor
}

// Option configures a Device.
type Option func(*Device)

// WithTarget sets the program target the device reports.
func WithTarget(t gpucore.ShaderTarget) Option {
	return func(d *Device) { d.target = t }
}

// WithLimits sets the reported limits.
func WithLimits(l gpucore.Limits) Option {
	return func(d *Device) { d.limits = l }
}

// WithExecutor runs fn for every submitted dispatch.
func WithExecutor(fn Executor) Option {
	return func(d *Device) { d.executor = fn }
}

// NewDevice creates a fake device that reports SPIR-V and default limits.
func NewDevice(label string, opts ...Option) *Device {
	d := &Device{
		id:         gpucore.NewDeviceID(),
		label:      label,
		target:     gpucore.TargetSPIRV,
		limits:     gpucore.DefaultLimits(),
		live:       make(map[Kind]map[uint64]struct{}),
		created:    make(map[Kind]int),
		buffers:    make(map[gpucore.BufferID][]byte),
		bindGroups: make(map[gpucore.BindGroupID][]gpucore.BindGroupEntry),
		pipelines:  make(map[gpucore.ComputePipelineID]gpucore.ComputePipelineDesc),
		failures:   make(map[Op]error),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Device) ID() gpucore.DeviceID         { return d.id }
func (d *Device) Label() string                { return d.label }
func (d *Device) Target() gpucore.ShaderTarget { return d.target }
func (d *Device) Limits() gpucore.Limits       { return d.limits }

func (d *Device) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Fail makes every later call of op return err until cleared with a nil
// err.
func (d *Device) Fail(op Op, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.failures, op)
		return
	}
	d.failures[op] = err
}

// BlockWaits makes Wait block until gate is closed. A nil gate unblocks.
func (d *Device) BlockWaits(gate <-chan struct{}) {
	d.mu.Lock()
	d.waitGate = gate
	d.mu.Unlock()
}

// Lose marks the device lost. Later calls fail with gpucore.ErrDeviceLost.
func (d *Device) Lose() {
	d.mu.Lock()
	d.err = gpucore.ErrDeviceLost
	d.mu.Unlock()
}

// OnDestroy implements gpucore.DestroyNotifier.
func (d *Device) OnDestroy(fn func(gpucore.DeviceID)) {
	d.mu.Lock()
	d.hooks = append(d.hooks, fn)
	d.mu.Unlock()
}

// Destroy stops the device, runs the teardown hooks and forgets every
// resource.
func (d *Device) Destroy() {
	d.mu.Lock()
	if d.err == gpucore.ErrDeviceDestroyed {
		d.mu.Unlock()
		return
	}
	d.err = gpucore.ErrDeviceDestroyed
	hooks := d.hooks
	d.hooks = nil
	d.mu.Unlock()

	for _, fn := range hooks {
		fn(d.id)
	}

	d.mu.Lock()
	d.live = make(map[Kind]map[uint64]struct{})
	d.buffers = make(map[gpucore.BufferID][]byte)
	d.mu.Unlock()
}

// Live returns the number of live resources of kind k.
func (d *Device) Live(k Kind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.live[k])
}

// Created returns how many resources of kind k were ever created.
func (d *Device) Created(k Kind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.created[k]
}

// Dispatches returns the submitted dispatches in order.
func (d *Device) Dispatches() []Dispatch {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Dispatch(nil), d.dispatches...)
}

// Pipeline returns the descriptor a pipeline was created with.
func (d *Device) Pipeline(id gpucore.ComputePipelineID) (gpucore.ComputePipelineDesc, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	desc, ok := d.pipelines[id]
	return desc, ok
}

// Buffer returns a copy of a buffer's contents.
func (d *Device) Buffer(id gpucore.BufferID) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.buffers[id]...)
}

// check returns the injected failure for op or the device error. Caller
// must hold d.mu.
func (d *Device) check(op Op) error {
	if d.err != nil {
		return fmt.Errorf("gputest: %s: %w", op, d.err)
	}
	if err := d.failures[op]; err != nil {
		return err
	}
	return nil
}

// add registers a new resource. Caller must hold d.mu.
func (d *Device) add(k Kind) uint64 {
	d.nextID++
	if d.live[k] == nil {
		d.live[k] = make(map[uint64]struct{})
	}
	d.live[k][d.nextID] = struct{}{}
	d.created[k]++
	return d.nextID
}

func (d *Device) remove(k Kind, id uint64) {
	d.mu.Lock()
	delete(d.live[k], id)
	d.mu.Unlock()
}

func (d *Device) create(op Op, k Kind) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(op); err != nil {
		return 0, err
	}
	return d.add(k), nil
}

func (d *Device) CreateShaderModule(desc *gpucore.ShaderModuleDesc) (gpucore.ShaderModuleID, error) {
	if desc.Code.Empty() {
		return 0, fmt.Errorf("gputest: empty shader module %q", desc.Label)
	}
	id, err := d.create(OpCreateShaderModule, KindShaderModule)
	return gpucore.ShaderModuleID(id), err
}

func (d *Device) DestroyShaderModule(id gpucore.ShaderModuleID) {
	d.remove(KindShaderModule, uint64(id))
}

func (d *Device) CreateBindGroupLayout(*gpucore.BindGroupLayoutDesc) (gpucore.BindGroupLayoutID, error) {
	id, err := d.create(OpCreateBindGroupLayout, KindBindGroupLayout)
	return gpucore.BindGroupLayoutID(id), err
}

func (d *Device) DestroyBindGroupLayout(id gpucore.BindGroupLayoutID) {
	d.remove(KindBindGroupLayout, uint64(id))
}

func (d *Device) CreatePipelineLayout(*gpucore.PipelineLayoutDesc) (gpucore.PipelineLayoutID, error) {
	id, err := d.create(OpCreatePipelineLayout, KindPipelineLayout)
	return gpucore.PipelineLayoutID(id), err
}

func (d *Device) DestroyPipelineLayout(id gpucore.PipelineLayoutID) {
	d.remove(KindPipelineLayout, uint64(id))
}

func (d *Device) CreateComputePipeline(desc *gpucore.ComputePipelineDesc) (gpucore.ComputePipelineID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(OpCreateComputePipeline); err != nil {
		return 0, err
	}
	id := gpucore.ComputePipelineID(d.add(KindComputePipeline))
	d.pipelines[id] = *desc
	return id, nil
}

func (d *Device) DestroyComputePipeline(id gpucore.ComputePipelineID) {
	d.remove(KindComputePipeline, uint64(id))
}

func (d *Device) CreateBuffer(desc *gpucore.BufferDesc) (gpucore.BufferID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(OpCreateBuffer); err != nil {
		return 0, err
	}
	if desc.Size > d.limits.MaxBufferSize {
		return 0, fmt.Errorf("gputest: buffer size %d exceeds limit %d", desc.Size, d.limits.MaxBufferSize)
	}
	id := gpucore.BufferID(d.add(KindBuffer))
	d.buffers[id] = make([]byte, desc.Size)
	return id, nil
}

func (d *Device) DestroyBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	delete(d.live[KindBuffer], uint64(id))
	delete(d.buffers, id)
	d.mu.Unlock()
}

func (d *Device) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(OpWriteBuffer); err != nil {
		return err
	}
	buf, ok := d.buffers[id]
	if !ok {
		return fmt.Errorf("gputest: buffer %d: %w", id, gpucore.ErrUnknownResource)
	}
	if offset+uint64(len(data)) > uint64(len(buf)) {
		return fmt.Errorf("gputest: write of %d bytes at %d overflows buffer %d", len(data), offset, id)
	}
	copy(buf[offset:], data)
	return nil
}

func (d *Device) ReadBuffer(id gpucore.BufferID, offset uint64, out []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	buf, ok := d.buffers[id]
	if !ok {
		return fmt.Errorf("gputest: buffer %d: %w", id, gpucore.ErrUnknownResource)
	}
	if offset+uint64(len(out)) > uint64(len(buf)) {
		return fmt.Errorf("gputest: read of %d bytes at %d overflows buffer %d", len(out), offset, id)
	}
	copy(out, buf[offset:])
	return nil
}

func (d *Device) CreateTexture(*gpucore.TextureDesc) (gpucore.TextureID, error) {
	id, err := d.create("CreateTexture", KindTexture)
	return gpucore.TextureID(id), err
}

func (d *Device) DestroyTexture(id gpucore.TextureID) {
	d.remove(KindTexture, uint64(id))
}

func (d *Device) CreateBindGroup(desc *gpucore.BindGroupDesc) (gpucore.BindGroupID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(OpCreateBindGroup); err != nil {
		return 0, err
	}
	id := gpucore.BindGroupID(d.add(KindBindGroup))
	d.bindGroups[id] = append([]gpucore.BindGroupEntry(nil), desc.Entries...)
	return id, nil
}

func (d *Device) DestroyBindGroup(id gpucore.BindGroupID) {
	d.mu.Lock()
	delete(d.live[KindBindGroup], uint64(id))
	delete(d.bindGroups, id)
	d.mu.Unlock()
}

func (d *Device) BeginCommands(string) (gpucore.CommandContext, error) {
	id, err := d.create(OpBeginCommands, KindCommandContext)
	if err != nil {
		return nil, err
	}
	return &commands{dev: d, id: id}, nil
}

// commands records a single pass.
type commands struct {
	dev       *Device
	id        uint64
	pipeline  gpucore.ComputePipelineID
	group     gpucore.BindGroupID
	groups    [3]uint32
	submitted bool
	released  atomic.Bool
}

func (c *commands) SetPipeline(p gpucore.ComputePipelineID) { c.pipeline = p }

func (c *commands) SetBindGroup(_ uint32, g gpucore.BindGroupID) { c.group = g }

func (c *commands) Dispatch(x, y, z uint32) { c.groups = [3]uint32{x, y, z} }

func (c *commands) Submit() error {
	d := c.dev
	d.mu.Lock()
	if err := d.check(OpSubmit); err != nil {
		d.mu.Unlock()
		return err
	}
	if c.submitted {
		d.mu.Unlock()
		return fmt.Errorf("gputest: command context submitted twice")
	}
	c.submitted = true

	rec := Dispatch{
		Pipeline: c.pipeline,
		Groups:   c.groups,
		Bindings: append([]gpucore.BindGroupEntry(nil), d.bindGroups[c.group]...),
	}
	for _, e := range rec.Bindings {
		if e.Binding == 0 {
			rec.Constants = append([]byte(nil), d.buffers[e.Buffer]...)
		}
	}
	d.dispatches = append(d.dispatches, rec)
	exec := d.executor
	d.mu.Unlock()

	if exec != nil {
		exec(d, rec)
	}
	return nil
}

func (c *commands) Wait(timeout time.Duration) error {
	d := c.dev
	d.mu.Lock()
	err := d.check(OpWait)
	gate := d.waitGate
	d.mu.Unlock()
	if err != nil {
		return err
	}
	if gate == nil {
		return nil
	}

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case <-gate:
		return nil
	case <-expired:
		return fmt.Errorf("gputest: wait after %v: %w", timeout, gpucore.ErrWaitTimeout)
	}
}

func (c *commands) Release() {
	if c.released.Swap(true) {
		return
	}
	c.dev.remove(KindCommandContext, c.id)
}

// WriteFloats is a convenience for tests that stage float32 input.
func (d *Device) WriteFloats(id gpucore.BufferID, values []float32) error {
	return d.WriteBuffer(id, 0, Float32Bytes(values))
}

// ReadFloats returns a buffer's contents as float32 values.
func (d *Device) ReadFloats(id gpucore.BufferID, n int) ([]float32, error) {
	out := make([]byte, 4*n)
	if err := d.ReadBuffer(id, 0, out); err != nil {
		return nil, err
	}
	return BytesFloat32(out), nil
}

// Static check.
var (
	_ gpucore.Device          = (*Device)(nil)
	_ gpucore.DestroyNotifier = (*Device)(nil)
)
