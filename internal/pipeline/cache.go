// Package pipeline builds and caches compute pipelines per compiled kernel
// and device.
package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/compute/cache"
	"github.com/gogpu/compute/gpucore"
	"github.com/gogpu/compute/internal/logging"
	"github.com/gogpu/compute/internal/shader"
)

// ErrMissingArtifact is returned when a compiled kernel has no program for
// the device's target.
var ErrMissingArtifact = errors.New("pipeline: no program for device target")

// DevicePipeline is the device-side state of one compiled kernel on one
// device. It is unique per (compiled kernel, device) pair.
type DevicePipeline struct {
	ShaderModule    gpucore.ShaderModuleID
	BindGroupLayout gpucore.BindGroupLayoutID
	PipelineLayout  gpucore.PipelineLayoutID
	Pipeline        gpucore.ComputePipelineID

	device gpucore.Device
	shader *shader.Compiled

	// mu is held for reading by every in-flight dispatch and for writing
	// while the pipeline is destroyed.
	mu        sync.RWMutex
	destroyed bool

	// orphan is set when the shader was dropped while this pipeline was
	// being built; the last Release destroys it.
	orphan atomic.Bool
}

// Device returns the owning device.
func (p *DevicePipeline) Device() gpucore.Device { return p.device }

// Shader returns the compiled kernel the pipeline runs.
func (p *DevicePipeline) Shader() *shader.Compiled { return p.shader }

// destroy waits for in-flight users and releases the device objects. It
// reports whether this call did the release.
func (p *DevicePipeline) destroy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return false
	}
	p.destroyed = true
	p.device.DestroyComputePipeline(p.Pipeline)
	p.device.DestroyPipelineLayout(p.PipelineLayout)
	p.device.DestroyBindGroupLayout(p.BindGroupLayout)
	p.device.DestroyShaderModule(p.ShaderModule)
	return true
}

type key struct {
	shader *shader.Compiled
	device gpucore.DeviceID
}

func hashKey(k key) uint64 {
	return k.shader.Key.Uint64() ^ uint64(k.device)*0x9E3779B97F4A7C15
}

// Cache holds one DevicePipeline per (compiled kernel, device).
type Cache struct {
	entries *cache.ShardedCache[key, *DevicePipeline]

	mu      sync.Mutex
	watched map[gpucore.DeviceID]struct{}

	created   atomic.Uint64
	destroyed atomic.Uint64
}

// NewCache creates an empty pipeline cache.
func NewCache() *Cache {
	return &Cache{
		entries: cache.NewSharded[key, *DevicePipeline](0, hashKey),
		watched: make(map[gpucore.DeviceID]struct{}),
	}
}

// Acquire returns the pipeline for cs on dev, building it on first use.
// The pipeline cannot be destroyed until Release is called, so every
// successful Acquire must be paired with Release.
func (c *Cache) Acquire(cs *shader.Compiled, dev gpucore.Device) (*DevicePipeline, error) {
	k := key{shader: cs, device: dev.ID()}
	for {
		if err := dev.Err(); err != nil {
			c.DropDevice(dev.ID())
			return nil, &gpucore.DeviceStateError{Device: dev.ID(), Op: "acquire pipeline", Err: err}
		}
		c.watch(dev)

		p, err := c.entries.GetOrCreate(k, func() (*DevicePipeline, error) {
			return c.create(cs, dev)
		})
		if err != nil {
			if gpucore.IsDeviceFailure(err) {
				c.DropDevice(dev.ID())
				var dse *gpucore.DeviceStateError
				if !errors.As(err, &dse) {
					err = &gpucore.DeviceStateError{Device: dev.ID(), Op: "create pipeline", Err: err}
				}
			}
			return nil, err
		}

		p.mu.RLock()
		if p.destroyed {
			// Dropped between lookup and lock; build a fresh one.
			p.mu.RUnlock()
			continue
		}
		if cs.Retired() {
			// DropShader may have finished before p was cached.
			c.entries.DeleteFunc(func(_ key, v *DevicePipeline) bool { return v == p })
			p.orphan.Store(true)
		}
		return p, nil
	}
}

// Release ends a use started by Acquire.
func (c *Cache) Release(p *DevicePipeline) {
	p.mu.RUnlock()
	if p.orphan.Load() {
		c.destroy([]*DevicePipeline{p})
	}
}

// watch registers a teardown hook the first time a device is seen.
func (c *Cache) watch(dev gpucore.Device) {
	n, ok := dev.(gpucore.DestroyNotifier)
	if !ok {
		return
	}
	c.mu.Lock()
	_, seen := c.watched[dev.ID()]
	if !seen {
		c.watched[dev.ID()] = struct{}{}
	}
	c.mu.Unlock()
	if !seen {
		n.OnDestroy(func(id gpucore.DeviceID) { c.DropDevice(id) })
	}
}

func (c *Cache) create(cs *shader.Compiled, dev gpucore.Device) (*DevicePipeline, error) {
	code, ok := cs.Artifact(dev.Target())
	if !ok {
		return nil, &gpucore.CompilationError{
			Kernel: cs.Name,
			Target: dev.Target(),
			Source: cs.Source(),
			Err:    ErrMissingArtifact,
		}
	}

	p := &DevicePipeline{device: dev, shader: cs}
	label := cs.Name

	var err error
	p.ShaderModule, err = dev.CreateShaderModule(&gpucore.ShaderModuleDesc{Label: label, Code: code})
	if err != nil {
		return nil, fmt.Errorf("pipeline: create shader module: %w", err)
	}

	p.BindGroupLayout, err = dev.CreateBindGroupLayout(&gpucore.BindGroupLayoutDesc{
		Label:   label,
		Entries: cs.Layout().BindGroupLayoutEntries(),
	})
	if err != nil {
		dev.DestroyShaderModule(p.ShaderModule)
		return nil, fmt.Errorf("pipeline: create bind group layout: %w", err)
	}

	p.PipelineLayout, err = dev.CreatePipelineLayout(&gpucore.PipelineLayoutDesc{
		Label:            label,
		BindGroupLayouts: []gpucore.BindGroupLayoutID{p.BindGroupLayout},
	})
	if err != nil {
		dev.DestroyBindGroupLayout(p.BindGroupLayout)
		dev.DestroyShaderModule(p.ShaderModule)
		return nil, fmt.Errorf("pipeline: create pipeline layout: %w", err)
	}

	p.Pipeline, err = dev.CreateComputePipeline(&gpucore.ComputePipelineDesc{
		Label:        label,
		Layout:       p.PipelineLayout,
		ShaderModule: p.ShaderModule,
		EntryPoint:   cs.EntryPoint(),
	})
	if err != nil {
		dev.DestroyPipelineLayout(p.PipelineLayout)
		dev.DestroyBindGroupLayout(p.BindGroupLayout)
		dev.DestroyShaderModule(p.ShaderModule)
		return nil, fmt.Errorf("pipeline: create compute pipeline: %w", err)
	}

	c.created.Add(1)
	logging.Logger().Debug("pipeline: created",
		"kernel", cs.Name, "key", cs.Key.String(), "device", dev.Label())
	return p, nil
}

// DropDevice destroys every pipeline built on the device and returns how
// many were dropped. In-flight dispatches finish first.
func (c *Cache) DropDevice(id gpucore.DeviceID) int {
	c.mu.Lock()
	delete(c.watched, id)
	c.mu.Unlock()

	removed := c.entries.DeleteFunc(func(k key, _ *DevicePipeline) bool { return k.device == id })
	c.destroy(removed)
	if len(removed) > 0 {
		logging.Logger().Debug("pipeline: dropped device", "device", uint64(id), "pipelines", len(removed))
	}
	return len(removed)
}

// DropShader retires cs and destroys its pipelines on every device.
// Pipelines still being built are destroyed after their first use.
func (c *Cache) DropShader(cs *shader.Compiled) int {
	cs.Retire()
	removed := c.entries.DeleteFunc(func(k key, _ *DevicePipeline) bool { return k.shader == cs })
	c.destroy(removed)
	return len(removed)
}

func (c *Cache) destroy(ps []*DevicePipeline) {
	for _, p := range ps {
		if p.destroy() {
			c.destroyed.Add(1)
		}
	}
}

// Count returns the number of live pipelines on the device.
func (c *Cache) Count(id gpucore.DeviceID) int {
	n := 0
	c.entries.Range(func(k key, _ *DevicePipeline) bool {
		if k.device == id {
			n++
		}
		return true
	})
	return n
}

// Len returns the number of live pipelines across all devices.
func (c *Cache) Len() int { return c.entries.Len() }

// Stats reports pipeline activity.
type Stats struct {
	Len       int
	Hits      uint64
	Created   uint64
	Destroyed uint64
}

// Stats returns current statistics.
func (c *Cache) Stats() Stats {
	s := c.entries.Stats()
	return Stats{
		Len:       s.Len,
		Hits:      s.Hits,
		Created:   c.created.Load(),
		Destroyed: c.destroyed.Load(),
	}
}
