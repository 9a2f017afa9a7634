package kernel

import (
	"fmt"
	"sync"

	"github.com/gogpu/compute/gpucore"
)

// Descriptor is an immutable description of one kernel invocation: the
// thread-group shape, the ordered captures and the per-thread body.
//
// A Descriptor is safe for concurrent use. Its ShapeKey and validation
// result are computed on first use and memoized.
type Descriptor struct {
	name     string
	group    [3]uint32
	captures []Capture
	body     []Stmt

	keyOnce sync.Once
	key     ShapeKey

	shapeOnce sync.Once
	shapeErr  error

	validOnce sync.Once
	validErr  error
}

// New creates a descriptor. The captures and body are copied, so later
// changes by the caller have no effect. Name is used only for diagnostics
// and does not affect the shape key.
func New(name string, group [3]uint32, captures []Capture, body ...Stmt) *Descriptor {
	caps := make([]Capture, len(captures))
	copy(caps, captures)
	return &Descriptor{
		name:     name,
		group:    group,
		captures: caps,
		body:     cloneStmts(body),
	}
}

// Name returns the diagnostic name.
func (d *Descriptor) Name() string {
	if d.name == "" {
		return d.ShapeKey().String()
	}
	return d.name
}

// GroupShape returns the thread-group shape.
func (d *Descriptor) GroupShape() [3]uint32 { return d.group }

// NumCaptures returns the number of captures.
func (d *Descriptor) NumCaptures() int { return len(d.captures) }

// Capture returns the i-th capture.
func (d *Descriptor) Capture(i int) Capture { return d.captures[i] }

// Captures returns a copy of the captures in declaration order.
func (d *Descriptor) Captures() []Capture {
	out := make([]Capture, len(d.captures))
	copy(out, d.captures)
	return out
}

// Body returns the statements of the kernel body. The returned slice is
// shared and must not be modified.
func (d *Descriptor) Body() []Stmt { return d.body }

// ShapeKey returns the structural identity of the descriptor.
func (d *Descriptor) ShapeKey() ShapeKey {
	d.keyOnce.Do(func() {
		d.key = computeShapeKey(d.group, d.captures, d.body)
	})
	return d.key
}

// ValidateShape checks the thread-group shape and the capture layout, the
// parts that determine the compiled program. Unbound resources pass. Body
// checks are performed when the body is translated.
func (d *Descriptor) ValidateShape() error {
	d.shapeOnce.Do(func() {
		d.shapeErr = validateShape(d.group, d.captures)
	})
	return d.shapeErr
}

// Validate checks the shape as ValidateShape does, then the captured
// values: scalars must match their type and every resource must be bound.
func (d *Descriptor) Validate() error {
	d.validOnce.Do(func() {
		if err := d.ValidateShape(); err != nil {
			d.validErr = err
			return
		}
		d.validErr = validateBindings(d.captures)
	})
	return d.validErr
}

// Rebind returns a descriptor with the same shape and new capture values.
// The new captures must match the old ones in name, kind, element type and
// texture dimension and access. The body and shape key are shared.
func (d *Descriptor) Rebind(captures ...Capture) (*Descriptor, error) {
	if len(captures) != len(d.captures) {
		return nil, &gpucore.DescriptorError{
			Reason: gpucore.ReasonInvalidValue,
			Path:   "captures",
			Detail: fmt.Sprintf("rebind with %d captures, descriptor has %d", len(captures), len(d.captures)),
		}
	}
	for i, c := range captures {
		old := d.captures[i]
		if c.Name != old.Name || c.Kind != old.Kind || c.Elem != old.Elem || c.Dim != old.Dim || c.Access != old.Access {
			return nil, &gpucore.DescriptorError{
				Reason: gpucore.ReasonTypeMismatch,
				Path:   fmt.Sprintf("captures[%d]", i),
				Detail: fmt.Sprintf("rebind changes the layout of %q", old.Name),
			}
		}
	}

	key := d.ShapeKey()
	nd := &Descriptor{
		name:     d.name,
		group:    d.group,
		captures: append([]Capture(nil), captures...),
		body:     d.body,
	}
	nd.keyOnce.Do(func() { nd.key = key })
	return nd, nil
}
