package compute

import (
	"log/slog"
	"time"

	"github.com/gogpu/compute/gpucore"
	"github.com/gogpu/compute/internal/dispatch"
	"github.com/gogpu/compute/internal/shader"
)

// Compiler turns generated WGSL into device programs for a set of
// targets. The default uses gogpu/naga.
type Compiler = shader.Compiler

// Option configures a Runtime during creation.
//
// Example:
//
//	rt := compute.New(
//	    compute.WithShaderCacheCapacity(64),
//	    compute.WithWaitTimeout(time.Second),
//	)
type Option func(*options)

// options holds optional configuration for Runtime creation.
type options struct {
	capacity int
	timeout  time.Duration
	targets  []gpucore.ShaderTarget
	compiler Compiler
	logger   *slog.Logger
}

// defaultOptions returns the default runtime options.
func defaultOptions() options {
	return options{
		timeout: dispatch.DefaultWaitTimeout,
		targets: []gpucore.ShaderTarget{gpucore.TargetSPIRV},
	}
}

// WithShaderCacheCapacity bounds the shader cache. The cache is split in
// 16 shards and each holds at most n shapes, evicting the least recently
// used one. Evicted shapes release their pipelines on every device.
// n <= 0 leaves the cache unbounded, which is the default.
func WithShaderCacheCapacity(n int) Option {
	return func(o *options) {
		o.capacity = n
	}
}

// WithWaitTimeout bounds how long a dispatch waits for the device. A zero
// timeout waits indefinitely. The default is 5s.
func WithWaitTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithTargets selects the program representations compiled for every
// shape. WGSL is always kept. The default is SPIR-V.
func WithTargets(targets ...gpucore.ShaderTarget) Option {
	return func(o *options) {
		o.targets = append([]gpucore.ShaderTarget(nil), targets...)
	}
}

// WithCompiler replaces the device program compiler.
func WithCompiler(c Compiler) Option {
	return func(o *options) {
		o.compiler = c
	}
}

// WithLogger sets the logger for messages emitted by this Runtime.
// Sub-packages keep using the logger installed with SetLogger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}
