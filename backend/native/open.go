package native

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/compute/gpucore"
	"github.com/gogpu/compute/internal/logging"
)

// Package errors.
var (
	// ErrBackendUnavailable is returned when the requested hal backend is
	// not registered in this build.
	ErrBackendUnavailable = errors.New("native: backend not available")

	// ErrNoGPU is returned when no adapter is available.
	ErrNoGPU = errors.New("native: no GPU adapter available")

	// ErrUnsupportedTarget is returned for program targets hal cannot load.
	ErrUnsupportedTarget = errors.New("native: unsupported shader target")

	// ErrNotHALProvider is returned when a device provider does not expose
	// its hal device and queue.
	ErrNotHALProvider = errors.New("native: provider does not expose hal device")
)

type openConfig struct {
	backend gputypes.Backend
	limits  *gputypes.Limits
	opts    []Option
}

// OpenOption configures Open.
type OpenOption func(*openConfig)

// WithBackend selects the hal backend. The default is Vulkan.
func WithBackend(b gputypes.Backend) OpenOption {
	return func(c *openConfig) { c.backend = b }
}

// WithRequiredLimits requests limits other than the adapter's own.
func WithRequiredLimits(l gputypes.Limits) OpenOption {
	return func(c *openConfig) { c.limits = &l }
}

// WithDeviceOptions passes options through to the created Device.
func WithDeviceOptions(opts ...Option) OpenOption {
	return func(c *openConfig) { c.opts = append(c.opts, opts...) }
}

// Open creates an instance on the selected backend, prefers a discrete or
// integrated adapter and opens a device on it. Destroy releases the whole
// chain.
func Open(opts ...OpenOption) (*Device, error) {
	cfg := openConfig{backend: gputypes.BackendVulkan}
	for _, opt := range opts {
		opt(&cfg)
	}

	backend, ok := hal.GetBackend(cfg.backend)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBackendUnavailable, cfg.backend)
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{
		Backends: gputypes.Backends(1) << cfg.backend,
	})
	if err != nil {
		return nil, fmt.Errorf("native: create instance: %w", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoGPU
	}
	selected := &adapters[0]
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}

	limits := selected.Capabilities.Limits
	if cfg.limits != nil {
		limits = *cfg.limits
	}
	open, err := selected.Adapter.Open(gputypes.Features(0), limits)
	if err != nil {
		for i := range adapters {
			adapters[i].Adapter.Destroy()
		}
		instance.Destroy()
		return nil, fmt.Errorf("native: open device: %w", err)
	}

	devOpts := append([]Option{
		WithLabel(selected.Info.Name),
		WithTarget(targetFor(cfg.backend)),
	}, cfg.opts...)
	d := NewDevice(open.Device, open.Queue, limits, devOpts...)
	d.release = func() {
		open.Device.Destroy()
		for i := range adapters {
			adapters[i].Adapter.Destroy()
		}
		instance.Destroy()
	}

	logging.Logger().Info("native: device opened",
		"adapter", selected.Info.Name, "backend", cfg.backend.String(), "target", d.target.String())
	return d, nil
}

// targetFor picks the program representation a backend loads natively.
// Vulkan consumes SPIR-V; the other backends translate WGSL themselves.
func targetFor(b gputypes.Backend) gpucore.ShaderTarget {
	if b == gputypes.BackendVulkan {
		return gpucore.TargetSPIRV
	}
	return gpucore.TargetWGSL
}

// halProvider is implemented by device providers that expose their hal
// objects, such as a host application's windowing context.
type halProvider interface {
	HalDevice() any
	HalQueue() any
}

// FromProvider shares a host application's device. The provider keeps
// ownership of the device; Destroy releases only what kernels created.
func FromProvider(provider gpucontext.DeviceProvider, opts ...Option) (*Device, error) {
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNotHALProvider
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok {
		return nil, fmt.Errorf("%w: HalDevice is %T", ErrNotHALProvider, hp.HalDevice())
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok {
		return nil, fmt.Errorf("%w: HalQueue is %T", ErrNotHALProvider, hp.HalQueue())
	}

	info := provider.AdapterInfo()
	all := append([]Option{WithLabel(info.Name)}, opts...)
	return NewDevice(device, queue, gputypes.DefaultLimits(), all...), nil
}
