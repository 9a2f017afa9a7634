package native

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/compute/gpucore"
	"github.com/gogpu/compute/internal/logging"
)

// Device implements gpucore.Device over a hal.Device and its queue.
//
// Thread Safety: Device is safe for concurrent use from multiple goroutines.
// Resource maps are guarded by mu; queue submission is serialized by
// queueMu.
type Device struct {
	id     gpucore.DeviceID
	label  string
	target gpucore.ShaderTarget
	limits gpucore.Limits

	device hal.Device
	queue  hal.Queue

	// release tears down what Open created beyond the device itself.
	release func()

	nextID atomic.Uint64

	mu               sync.RWMutex
	err              error
	hooks            []func(gpucore.DeviceID)
	buffers          map[gpucore.BufferID]hal.Buffer
	textures         map[gpucore.TextureID]*texture
	shaderModules    map[gpucore.ShaderModuleID]hal.ShaderModule
	computePipelines map[gpucore.ComputePipelineID]hal.ComputePipeline
	bindGroupLayouts map[gpucore.BindGroupLayoutID]hal.BindGroupLayout
	pipelineLayouts  map[gpucore.PipelineLayoutID]hal.PipelineLayout
	bindGroups       map[gpucore.BindGroupID]hal.BindGroup

	queueMu  sync.Mutex
	inflight []*submission
}

// texture pairs a texture with the view kernels bind.
type texture struct {
	tex  hal.Texture
	view hal.TextureView
}

// Option configures a Device.
type Option func(*Device)

// WithLabel sets the name used in logs.
func WithLabel(label string) Option {
	return func(d *Device) { d.label = label }
}

// WithTarget overrides the program representation handed to the device.
// SPIR-V and WGSL are accepted.
func WithTarget(t gpucore.ShaderTarget) Option {
	return func(d *Device) { d.target = t }
}

// WithSubgroupSize sets the SIMD width reported in Limits.
func WithSubgroupSize(n uint32) Option {
	return func(d *Device) { d.limits.SubgroupSize = n }
}

// NewDevice wraps an open hal device. The caller keeps ownership of device
// and queue; Destroy releases only resources created through the wrapper.
func NewDevice(device hal.Device, queue hal.Queue, limits gputypes.Limits, opts ...Option) *Device {
	d := &Device{
		id:               gpucore.NewDeviceID(),
		label:            "hal",
		target:           gpucore.TargetSPIRV,
		limits:           convertLimits(limits),
		device:           device,
		queue:            queue,
		buffers:          make(map[gpucore.BufferID]hal.Buffer),
		textures:         make(map[gpucore.TextureID]*texture),
		shaderModules:    make(map[gpucore.ShaderModuleID]hal.ShaderModule),
		computePipelines: make(map[gpucore.ComputePipelineID]hal.ComputePipeline),
		bindGroupLayouts: make(map[gpucore.BindGroupLayoutID]hal.BindGroupLayout),
		pipelineLayouts:  make(map[gpucore.PipelineLayoutID]hal.PipelineLayout),
		bindGroups:       make(map[gpucore.BindGroupID]hal.BindGroup),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// newID generates a resource ID. IDs start at 1; 0 is invalid.
func (d *Device) newID() uint64 {
	return d.nextID.Add(1)
}

func (d *Device) ID() gpucore.DeviceID         { return d.id }
func (d *Device) Label() string                { return d.label }
func (d *Device) Target() gpucore.ShaderTarget { return d.target }
func (d *Device) Limits() gpucore.Limits       { return d.limits }

// Err reports whether the device is lost or destroyed.
func (d *Device) Err() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.err
}

// HAL returns the wrapped device and queue.
func (d *Device) HAL() (hal.Device, hal.Queue) { return d.device, d.queue }

// check fails fast once the device is unusable.
func (d *Device) check() error {
	if err := d.Err(); err != nil {
		return fmt.Errorf("native: device %s: %w", d.label, err)
	}
	return nil
}

// fail classifies a hal error, marking the device lost when the driver
// says so.
func (d *Device) fail(op string, err error) error {
	if errors.Is(err, hal.ErrDeviceLost) {
		d.mu.Lock()
		if d.err == nil {
			d.err = gpucore.ErrDeviceLost
		}
		d.mu.Unlock()
		logging.Logger().Warn("native: device lost", "device", d.label, "op", op)
		return fmt.Errorf("native: %s: %w: %w", op, gpucore.ErrDeviceLost, err)
	}
	if errors.Is(err, hal.ErrTimeout) {
		return fmt.Errorf("native: %s: %w: %w", op, gpucore.ErrWaitTimeout, err)
	}
	return fmt.Errorf("native: %s: %w", op, err)
}

// OnDestroy implements gpucore.DestroyNotifier.
func (d *Device) OnDestroy(fn func(gpucore.DeviceID)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hooks = append(d.hooks, fn)
}

// Destroy stops the device, waits for the queue to drain, runs the
// teardown hooks and releases every resource still tracked. Safe to call more
// than once.
func (d *Device) Destroy() {
	d.mu.Lock()
	if errors.Is(d.err, gpucore.ErrDeviceDestroyed) {
		d.mu.Unlock()
		return
	}
	d.err = gpucore.ErrDeviceDestroyed
	hooks := d.hooks
	d.hooks = nil
	d.mu.Unlock()

	// Submitted work may still reference pipelines the hooks destroy.
	if err := d.device.WaitIdle(); err != nil {
		logging.Logger().Warn("native: wait idle on destroy", "device", d.label, "err", err)
	}

	// Hooks release pipelines through the Destroy* methods, so they run
	// without the lock.
	for _, fn := range hooks {
		fn(d.id)
	}

	d.queueMu.Lock()
	for _, s := range d.inflight {
		s.encoder.Destroy()
	}
	d.inflight = nil
	d.queueMu.Unlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	// Reverse dependency order.
	for id, bg := range d.bindGroups {
		d.device.DestroyBindGroup(bg)
		delete(d.bindGroups, id)
	}
	for id, p := range d.computePipelines {
		d.device.DestroyComputePipeline(p)
		delete(d.computePipelines, id)
	}
	for id, pl := range d.pipelineLayouts {
		d.device.DestroyPipelineLayout(pl)
		delete(d.pipelineLayouts, id)
	}
	for id, l := range d.bindGroupLayouts {
		d.device.DestroyBindGroupLayout(l)
		delete(d.bindGroupLayouts, id)
	}
	for id, m := range d.shaderModules {
		d.device.DestroyShaderModule(m)
		delete(d.shaderModules, id)
	}
	for id, t := range d.textures {
		d.device.DestroyTextureView(t.view)
		d.device.DestroyTexture(t.tex)
		delete(d.textures, id)
	}
	for id, b := range d.buffers {
		d.device.DestroyBuffer(b)
		delete(d.buffers, id)
	}

	if d.release != nil {
		d.release()
		d.release = nil
	}
	logging.Logger().Debug("native: device destroyed", "device", d.label)
}

// === Shader modules ===

// CreateShaderModule creates a module from SPIR-V words or WGSL text.
func (d *Device) CreateShaderModule(desc *gpucore.ShaderModuleDesc) (gpucore.ShaderModuleID, error) {
	if err := d.check(); err != nil {
		return gpucore.InvalidID, err
	}
	var src hal.ShaderSource
	switch desc.Code.Target {
	case gpucore.TargetSPIRV:
		src.SPIRV = desc.Code.Words
	case gpucore.TargetWGSL:
		src.WGSL = desc.Code.Text
	default:
		return gpucore.InvalidID, fmt.Errorf("%w: %s", ErrUnsupportedTarget, desc.Code.Target)
	}
	if desc.Code.Empty() {
		return gpucore.InvalidID, fmt.Errorf("native: empty shader module %q", desc.Label)
	}

	module, err := d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{Label: desc.Label, Source: src})
	if err != nil {
		return gpucore.InvalidID, d.fail("create shader module", err)
	}

	id := gpucore.ShaderModuleID(d.newID())
	d.mu.Lock()
	d.shaderModules[id] = module
	d.mu.Unlock()
	return id, nil
}

// DestroyShaderModule releases a shader module.
func (d *Device) DestroyShaderModule(id gpucore.ShaderModuleID) {
	d.mu.Lock()
	module, ok := d.shaderModules[id]
	delete(d.shaderModules, id)
	d.mu.Unlock()

	if ok {
		d.device.DestroyShaderModule(module)
	}
}

// === Layouts and pipelines ===

// CreateBindGroupLayout creates a compute-visible bind group layout.
func (d *Device) CreateBindGroupLayout(desc *gpucore.BindGroupLayoutDesc) (gpucore.BindGroupLayoutID, error) {
	if err := d.check(); err != nil {
		return gpucore.InvalidID, err
	}
	entries := make([]gputypes.BindGroupLayoutEntry, len(desc.Entries))
	for i, e := range desc.Entries {
		entries[i] = convertBindGroupLayoutEntry(e)
	}

	layout, err := d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   desc.Label,
		Entries: entries,
	})
	if err != nil {
		return gpucore.InvalidID, d.fail("create bind group layout", err)
	}

	id := gpucore.BindGroupLayoutID(d.newID())
	d.mu.Lock()
	d.bindGroupLayouts[id] = layout
	d.mu.Unlock()
	return id, nil
}

// DestroyBindGroupLayout releases a bind group layout.
func (d *Device) DestroyBindGroupLayout(id gpucore.BindGroupLayoutID) {
	d.mu.Lock()
	layout, ok := d.bindGroupLayouts[id]
	delete(d.bindGroupLayouts, id)
	d.mu.Unlock()

	if ok {
		d.device.DestroyBindGroupLayout(layout)
	}
}

// CreatePipelineLayout creates a pipeline layout from bind group layouts.
func (d *Device) CreatePipelineLayout(desc *gpucore.PipelineLayoutDesc) (gpucore.PipelineLayoutID, error) {
	if err := d.check(); err != nil {
		return gpucore.InvalidID, err
	}
	d.mu.RLock()
	layouts := make([]hal.BindGroupLayout, len(desc.BindGroupLayouts))
	for i, lid := range desc.BindGroupLayouts {
		l, ok := d.bindGroupLayouts[lid]
		if !ok {
			d.mu.RUnlock()
			return gpucore.InvalidID, fmt.Errorf("native: bind group layout %d: %w", lid, gpucore.ErrUnknownResource)
		}
		layouts[i] = l
	}
	d.mu.RUnlock()

	layout, err := d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            desc.Label,
		BindGroupLayouts: layouts,
	})
	if err != nil {
		return gpucore.InvalidID, d.fail("create pipeline layout", err)
	}

	id := gpucore.PipelineLayoutID(d.newID())
	d.mu.Lock()
	d.pipelineLayouts[id] = layout
	d.mu.Unlock()
	return id, nil
}

// DestroyPipelineLayout releases a pipeline layout.
func (d *Device) DestroyPipelineLayout(id gpucore.PipelineLayoutID) {
	d.mu.Lock()
	layout, ok := d.pipelineLayouts[id]
	delete(d.pipelineLayouts, id)
	d.mu.Unlock()

	if ok {
		d.device.DestroyPipelineLayout(layout)
	}
}

// CreateComputePipeline creates a compute pipeline.
func (d *Device) CreateComputePipeline(desc *gpucore.ComputePipelineDesc) (gpucore.ComputePipelineID, error) {
	if err := d.check(); err != nil {
		return gpucore.InvalidID, err
	}
	d.mu.RLock()
	layout, okLayout := d.pipelineLayouts[desc.Layout]
	module, okModule := d.shaderModules[desc.ShaderModule]
	d.mu.RUnlock()
	if !okLayout {
		return gpucore.InvalidID, fmt.Errorf("native: pipeline layout %d: %w", desc.Layout, gpucore.ErrUnknownResource)
	}
	if !okModule {
		return gpucore.InvalidID, fmt.Errorf("native: shader module %d: %w", desc.ShaderModule, gpucore.ErrUnknownResource)
	}

	pipeline, err := d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  desc.Label,
		Layout: layout,
		Compute: hal.ComputeState{
			Module:     module,
			EntryPoint: desc.EntryPoint,
		},
	})
	if err != nil {
		return gpucore.InvalidID, d.fail("create compute pipeline", err)
	}

	id := gpucore.ComputePipelineID(d.newID())
	d.mu.Lock()
	d.computePipelines[id] = pipeline
	d.mu.Unlock()
	return id, nil
}

// DestroyComputePipeline releases a compute pipeline.
func (d *Device) DestroyComputePipeline(id gpucore.ComputePipelineID) {
	d.mu.Lock()
	pipeline, ok := d.computePipelines[id]
	delete(d.computePipelines, id)
	d.mu.Unlock()

	if ok {
		d.device.DestroyComputePipeline(pipeline)
	}
}

// === Buffers ===

// CreateBuffer creates a GPU buffer.
func (d *Device) CreateBuffer(desc *gpucore.BufferDesc) (gpucore.BufferID, error) {
	if err := d.check(); err != nil {
		return gpucore.InvalidID, err
	}
	if desc.Size == 0 {
		return gpucore.InvalidID, fmt.Errorf("native: buffer %q: size must be positive", desc.Label)
	}
	if d.limits.MaxBufferSize > 0 && desc.Size > d.limits.MaxBufferSize {
		return gpucore.InvalidID, fmt.Errorf("native: buffer %q: size %d exceeds limit %d", desc.Label, desc.Size, d.limits.MaxBufferSize)
	}

	buffer, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: convertBufferUsage(desc.Usage),
	})
	if err != nil {
		return gpucore.InvalidID, d.fail("create buffer", err)
	}

	id := gpucore.BufferID(d.newID())
	d.mu.Lock()
	d.buffers[id] = buffer
	d.mu.Unlock()
	return id, nil
}

// DestroyBuffer releases a GPU buffer.
func (d *Device) DestroyBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	buffer, ok := d.buffers[id]
	delete(d.buffers, id)
	d.mu.Unlock()

	if ok {
		d.device.DestroyBuffer(buffer)
	}
}

func (d *Device) buffer(id gpucore.BufferID) (hal.Buffer, error) {
	d.mu.RLock()
	b, ok := d.buffers[id]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("native: buffer %d: %w", id, gpucore.ErrUnknownResource)
	}
	return b, nil
}

// WriteBuffer writes data to a buffer through the queue.
func (d *Device) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) error {
	if err := d.check(); err != nil {
		return err
	}
	b, err := d.buffer(id)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	d.queueMu.Lock()
	defer d.queueMu.Unlock()
	if err := d.queue.WriteBuffer(b, offset, data); err != nil {
		return d.fail("write buffer", err)
	}
	return nil
}

// ReadBuffer copies a buffer range into a mappable staging buffer, waits
// for the copy and reads it back.
func (d *Device) ReadBuffer(id gpucore.BufferID, offset uint64, out []byte) error {
	if err := d.check(); err != nil {
		return err
	}
	src, err := d.buffer(id)
	if err != nil {
		return err
	}
	if len(out) == 0 {
		return nil
	}

	// Buffer copies move whole 4-byte words.
	start := offset &^ 3
	size := alignUp(offset+uint64(len(out)), 4) - start

	staging, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "readback",
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return d.fail("create staging buffer", err)
	}
	defer d.device.DestroyBuffer(staging)

	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "readback"})
	if err != nil {
		return d.fail("create command encoder", err)
	}
	if err := encoder.BeginEncoding("readback"); err != nil {
		encoder.Destroy()
		return d.fail("begin encoding", err)
	}
	encoder.CopyBufferToBuffer(src, staging, []hal.BufferCopy{{SrcOffset: start, Size: size}})

	s, err := d.submit(encoder)
	if err != nil {
		return err
	}
	if err := d.wait(s, 0); err != nil {
		return err
	}
	d.retire()

	mapping, err := d.device.MapBuffer(staging, 0, size)
	if err != nil {
		return d.fail("map staging buffer", err)
	}
	copy(out, unsafe.Slice((*byte)(mapping.Ptr), size)[offset-start:])
	if err := d.device.UnmapBuffer(staging); err != nil {
		return d.fail("unmap staging buffer", err)
	}
	return nil
}

// === Textures ===

// CreateTexture creates a texture and the view kernels bind.
func (d *Device) CreateTexture(desc *gpucore.TextureDesc) (gpucore.TextureID, error) {
	if err := d.check(); err != nil {
		return gpucore.InvalidID, err
	}
	if desc.Width == 0 || desc.Height == 0 {
		return gpucore.InvalidID, fmt.Errorf("native: texture %q: dimensions must be positive", desc.Label)
	}
	depth := uint32(1)
	if desc.Dimension == gpucore.TextureDimension3D {
		depth = max(desc.Depth, 1)
	}
	format := convertTextureFormat(desc.Format)

	tex, err := d.device.CreateTexture(&hal.TextureDescriptor{
		Label:         desc.Label,
		Size:          hal.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: depth},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     convertTextureDimension(desc.Dimension),
		Format:        format,
		Usage:         convertTextureUsage(desc.Usage),
	})
	if err != nil {
		return gpucore.InvalidID, d.fail("create texture", err)
	}
	view, err := d.device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:           desc.Label,
		Format:          format,
		Dimension:       convertViewDimension(desc.Dimension),
		Aspect:          gputypes.TextureAspectAll,
		MipLevelCount:   1,
		ArrayLayerCount: 1,
	})
	if err != nil {
		d.device.DestroyTexture(tex)
		return gpucore.InvalidID, d.fail("create texture view", err)
	}

	id := gpucore.TextureID(d.newID())
	d.mu.Lock()
	d.textures[id] = &texture{tex: tex, view: view}
	d.mu.Unlock()
	return id, nil
}

// DestroyTexture releases a texture and its view.
func (d *Device) DestroyTexture(id gpucore.TextureID) {
	d.mu.Lock()
	t, ok := d.textures[id]
	delete(d.textures, id)
	d.mu.Unlock()

	if ok {
		d.device.DestroyTextureView(t.view)
		d.device.DestroyTexture(t.tex)
	}
}

// === Bind groups ===

// CreateBindGroup creates a bind group, resolving buffer and texture IDs.
func (d *Device) CreateBindGroup(desc *gpucore.BindGroupDesc) (gpucore.BindGroupID, error) {
	if err := d.check(); err != nil {
		return gpucore.InvalidID, err
	}
	d.mu.RLock()
	layout, ok := d.bindGroupLayouts[desc.Layout]
	if !ok {
		d.mu.RUnlock()
		return gpucore.InvalidID, fmt.Errorf("native: bind group layout %d: %w", desc.Layout, gpucore.ErrUnknownResource)
	}
	entries := make([]gputypes.BindGroupEntry, len(desc.Entries))
	for i, e := range desc.Entries {
		entry, err := d.convertBindGroupEntry(e)
		if err != nil {
			d.mu.RUnlock()
			return gpucore.InvalidID, err
		}
		entries[i] = entry
	}
	d.mu.RUnlock()

	group, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   desc.Label,
		Layout:  layout,
		Entries: entries,
	})
	if err != nil {
		return gpucore.InvalidID, d.fail("create bind group", err)
	}

	id := gpucore.BindGroupID(d.newID())
	d.mu.Lock()
	d.bindGroups[id] = group
	d.mu.Unlock()
	return id, nil
}

// DestroyBindGroup releases a bind group.
func (d *Device) DestroyBindGroup(id gpucore.BindGroupID) {
	d.mu.Lock()
	group, ok := d.bindGroups[id]
	delete(d.bindGroups, id)
	d.mu.Unlock()

	if ok {
		d.device.DestroyBindGroup(group)
	}
}

// convertBindGroupEntry resolves an entry's resource. Caller must hold
// d.mu for reading.
func (d *Device) convertBindGroupEntry(e gpucore.BindGroupEntry) (gputypes.BindGroupEntry, error) {
	if e.Texture != gpucore.InvalidID {
		t, ok := d.textures[e.Texture]
		if !ok {
			return gputypes.BindGroupEntry{}, fmt.Errorf("native: texture %d: %w", e.Texture, gpucore.ErrUnknownResource)
		}
		return gputypes.BindGroupEntry{
			Binding:  e.Binding,
			Resource: gputypes.TextureViewBinding{TextureView: t.view.NativeHandle()},
		}, nil
	}
	b, ok := d.buffers[e.Buffer]
	if !ok {
		return gputypes.BindGroupEntry{}, fmt.Errorf("native: buffer %d: %w", e.Buffer, gpucore.ErrUnknownResource)
	}
	return gputypes.BindGroupEntry{
		Binding:  e.Binding,
		Resource: gputypes.BufferBinding{Buffer: b.NativeHandle(), Offset: e.Offset, Size: e.Size},
	}, nil
}

func (d *Device) computePipeline(id gpucore.ComputePipelineID) hal.ComputePipeline {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.computePipelines[id]
}

func (d *Device) bindGroup(id gpucore.BindGroupID) hal.BindGroup {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.bindGroups[id]
}

// Live returns the number of tracked resources.
func (d *Device) Live() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.buffers) + len(d.textures) + len(d.shaderModules) +
		len(d.computePipelines) + len(d.bindGroupLayouts) +
		len(d.pipelineLayouts) + len(d.bindGroups)
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}

// Static checks.
var (
	_ gpucore.Device          = (*Device)(nil)
	_ gpucore.DestroyNotifier = (*Device)(nil)
)
