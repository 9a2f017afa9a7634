// Package shader compiles kernel descriptors into device programs and
// caches the results by shape key.
package shader

import (
	"errors"
	"sort"
	"sync/atomic"

	"github.com/gogpu/compute/cache"
	"github.com/gogpu/compute/gpucore"
	"github.com/gogpu/compute/internal/codegen"
	"github.com/gogpu/compute/internal/logging"
	"github.com/gogpu/compute/kernel"
)

// Compiled is a translated and compiled kernel shape. It is immutable and
// shared by every device that runs the shape, apart from the retired flag.
type Compiled struct {
	Key  kernel.ShapeKey
	Name string

	program   *codegen.Program
	artifacts map[gpucore.ShaderTarget]gpucore.Bytecode

	retired atomic.Bool
}

// NewCompiled assembles a Compiled from a translated program and its
// artifacts. The WGSL artifact is added if missing.
func NewCompiled(key kernel.ShapeKey, name string, p *codegen.Program, artifacts map[gpucore.ShaderTarget]gpucore.Bytecode) *Compiled {
	arts := make(map[gpucore.ShaderTarget]gpucore.Bytecode, len(artifacts)+1)
	for t, b := range artifacts {
		arts[t] = b
	}
	if _, ok := arts[gpucore.TargetWGSL]; !ok {
		arts[gpucore.TargetWGSL] = gpucore.Bytecode{Target: gpucore.TargetWGSL, Text: p.Source}
	}
	return &Compiled{Key: key, Name: name, program: p, artifacts: arts}
}

// Retire marks c as no longer cached. Pipelines built for a retired
// shader are not retained.
func (c *Compiled) Retire() { c.retired.Store(true) }

// Retired reports whether Retire was called.
func (c *Compiled) Retired() bool { return c.retired.Load() }

// Source returns the generated WGSL.
func (c *Compiled) Source() string { return c.program.Source }

// Layout returns the binding layout the program was generated with.
func (c *Compiled) Layout() codegen.Layout { return c.program.Layout }

// EntryPoint returns the compute entry point name.
func (c *Compiled) EntryPoint() string { return c.program.EntryPoint }

// WorkgroupSize returns the thread-group shape baked into the program.
func (c *Compiled) WorkgroupSize() [3]uint32 { return c.program.WorkgroupSize }

// Artifact returns the program for target t.
func (c *Compiled) Artifact(t gpucore.ShaderTarget) (gpucore.Bytecode, bool) {
	b, ok := c.artifacts[t]
	return b, ok
}

// Targets lists the targets with an artifact, in ascending order.
func (c *Compiled) Targets() []gpucore.ShaderTarget {
	out := make([]gpucore.ShaderTarget, 0, len(c.artifacts))
	for t := range c.artifacts {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Cache maps shape keys to compiled kernels. Each shape is compiled at
// most once while its entry lives, however many goroutines request it.
// Failed compiles are not retained.
type Cache struct {
	entries  *cache.ShardedCache[kernel.ShapeKey, *Compiled]
	compiler Compiler
	targets  []gpucore.ShaderTarget
	onEvict  func(*Compiled)

	compiles atomic.Uint64
	failures atomic.Uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithCapacity bounds each of the 16 shards to n compiled shapes. The
// least recently used shape is evicted first. n <= 0 is unbounded.
func WithCapacity(n int) Option {
	return func(c *Cache) {
		c.entries = cache.NewSharded(n, shapeHash, cache.WithEvictCallback(c.evicted))
	}
}

// WithCompiler replaces the default naga compiler.
func WithCompiler(compiler Compiler) Option {
	return func(c *Cache) {
		if compiler != nil {
			c.compiler = compiler
		}
	}
}

// WithTargets selects the device program targets compiled for every
// shape. WGSL is always available.
func WithTargets(targets ...gpucore.ShaderTarget) Option {
	return func(c *Cache) {
		c.targets = append([]gpucore.ShaderTarget(nil), targets...)
	}
}

// WithEvictHook registers fn to run when a shape is evicted.
func WithEvictHook(fn func(*Compiled)) Option {
	return func(c *Cache) {
		c.onEvict = fn
	}
}

// NewCache creates a shader cache. By default it is unbounded and compiles
// SPIR-V with NagaCompiler.
func NewCache(opts ...Option) *Cache {
	c := &Cache{
		compiler: NagaCompiler{},
		targets:  []gpucore.ShaderTarget{gpucore.TargetSPIRV},
	}
	c.entries = cache.NewSharded(0, shapeHash, cache.WithEvictCallback(c.evicted))
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func shapeHash(k kernel.ShapeKey) uint64 { return k.Uint64() }

func (c *Cache) evicted(_ kernel.ShapeKey, cs *Compiled) {
	logging.Logger().Debug("shader: evicted", "kernel", cs.Name, "key", cs.Key.String())
	cs.Retire()
	if c.onEvict != nil {
		c.onEvict(cs)
	}
}

// GetOrCompile returns the compiled kernel for d's shape, translating and
// compiling it on first use.
//
// Descriptor rejections are *gpucore.DescriptorError; device compiler
// rejections are *gpucore.CompilationError carrying the generated source.
func (c *Cache) GetOrCompile(d *kernel.Descriptor) (*Compiled, error) {
	key := d.ShapeKey()
	return c.entries.GetOrCreate(key, func() (*Compiled, error) {
		return c.compile(key, d)
	})
}

func (c *Cache) compile(key kernel.ShapeKey, d *kernel.Descriptor) (*Compiled, error) {
	log := logging.Logger()
	name := d.Name()
	log.Debug("shader: cache miss", "kernel", name, "key", key.String())

	prog, err := codegen.Compile(d)
	if err != nil {
		c.failures.Add(1)
		return nil, err
	}

	c.compiles.Add(1)
	arts, err := c.compiler.Compile(prog.Source, c.targets)
	if err != nil {
		c.failures.Add(1)
		ce := &gpucore.CompilationError{Target: gpucore.TargetWGSL, Err: err}
		var inner *gpucore.CompilationError
		if errors.As(err, &inner) {
			ce.Target, ce.Err = inner.Target, inner.Err
		}
		ce.Kernel, ce.Source = name, prog.Source
		log.Error("shader: compilation failed", "kernel", name, "target", ce.Target.String(), "err", ce.Err, "source", prog.Source)
		return nil, ce
	}

	log.Debug("shader: compiled", "kernel", name, "key", key.String(), "targets", len(arts))
	return NewCompiled(key, name, prog, arts), nil
}

// Get returns the compiled kernel for key if present.
func (c *Cache) Get(key kernel.ShapeKey) (*Compiled, bool) {
	return c.entries.Get(key)
}

// Len returns the number of distinct shapes compiled and retained.
func (c *Cache) Len() int { return c.entries.Len() }

// Range calls fn for each retained shape until fn returns false.
func (c *Cache) Range(fn func(*Compiled) bool) {
	c.entries.Range(func(_ kernel.ShapeKey, cs *Compiled) bool { return fn(cs) })
}

// Clear drops every retained shape. The evict hook is not called.
func (c *Cache) Clear() []*Compiled {
	return c.entries.Clear()
}

// Stats reports cache activity.
type Stats struct {
	Len       int
	Hits      uint64
	Misses    uint64
	Compiles  uint64
	Failures  uint64
	Evictions uint64
}

// Stats returns current statistics.
func (c *Cache) Stats() Stats {
	s := c.entries.Stats()
	return Stats{
		Len:       s.Len,
		Hits:      s.Hits,
		Misses:    s.Misses,
		Compiles:  c.compiles.Load(),
		Failures:  c.failures.Load(),
		Evictions: s.Evictions,
	}
}
