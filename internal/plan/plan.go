// Package plan computes dispatch geometry and packs a kernel's arguments
// for one invocation. It never touches a device.
package plan

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/compute/gpucore"
	"github.com/gogpu/compute/internal/codegen"
	"github.com/gogpu/compute/kernel"
)

// Plan is the per-call dispatch recipe.
type Plan struct {
	Domain [3]int

	// Groups is the number of thread groups per axis. Groups[a]*group[a]
	// covers Domain[a]; surplus threads exit at the domain guard.
	Groups [3]uint32

	// Constants is the packed constant block for binding 0.
	Constants []byte

	// Bindings lists resource bindings in ascending slot order. Binding 0
	// is supplied by the dispatcher.
	Bindings []gpucore.BindGroupEntry
}

// Build plans an invocation of a kernel translated with layout over domain.
// Domain and group extents must be positive on every axis.
func Build(domain [3]int, group [3]uint32, captures []kernel.Capture, layout codegen.Layout) (*Plan, error) {
	p := &Plan{Domain: domain}

	for a := 0; a < 3; a++ {
		if domain[a] <= 0 {
			return nil, &gpucore.InputDomainError{Domain: domain, Axis: a, Detail: "extent must be positive"}
		}
		if uint64(domain[a]) > math.MaxUint32 {
			return nil, &gpucore.InputDomainError{Domain: domain, Axis: a, Detail: "extent exceeds 32 bits"}
		}
		if group[a] == 0 {
			return nil, &gpucore.InputDomainError{Domain: domain, Axis: a, Detail: "thread-group extent must be positive"}
		}
		p.Groups[a] = uint32((uint64(domain[a]) + uint64(group[a]) - 1) / uint64(group[a]))
	}

	p.Constants = make([]byte, layout.ConstantsSize)
	for a := 0; a < 3; a++ {
		binary.LittleEndian.PutUint32(p.Constants[codegen.DomainOffset+4*a:], uint32(domain[a]))
	}

	for _, s := range layout.Scalars {
		if s.Capture >= len(captures) {
			return nil, captureMissing(s.Capture, s.Name)
		}
		c := captures[s.Capture]
		bits, err := c.ScalarBits()
		if err != nil {
			return nil, &gpucore.DescriptorError{
				Reason: gpucore.ReasonInvalidValue,
				Path:   fmt.Sprintf("captures[%d]", s.Capture),
				Detail: err.Error(),
			}
		}
		for i := 0; i < s.Elem.Lanes(); i++ {
			binary.LittleEndian.PutUint32(p.Constants[s.Offset+4*uint32(i):], bits[i])
		}
	}

	p.Bindings = make([]gpucore.BindGroupEntry, 0, len(layout.Resources))
	for _, r := range layout.Resources {
		if r.Capture >= len(captures) {
			return nil, captureMissing(r.Capture, r.Name)
		}
		c := captures[r.Capture]
		e := gpucore.BindGroupEntry{Binding: r.Binding}
		if r.Type.IsTexture() {
			e.Texture = c.Texture
		} else {
			e.Buffer = c.Buffer
		}
		p.Bindings = append(p.Bindings, e)
	}

	return p, nil
}

func captureMissing(i int, name string) error {
	return &gpucore.DescriptorError{
		Reason: gpucore.ReasonInvalidValue,
		Path:   fmt.Sprintf("captures[%d]", i),
		Detail: fmt.Sprintf("capture %q missing from the invocation", name),
	}
}

// CheckLimits rejects plans the device cannot run in a single dispatch.
func (p *Plan) CheckLimits(l gpucore.Limits) error {
	for a, g := range p.Groups {
		if l.MaxComputeWorkgroupsPerDimension > 0 && g > l.MaxComputeWorkgroupsPerDimension {
			return &gpucore.InputDomainError{
				Domain: p.Domain,
				Axis:   a,
				Detail: fmt.Sprintf("%d thread groups exceed the device limit of %d", g, l.MaxComputeWorkgroupsPerDimension),
			}
		}
	}
	return nil
}

// CheckGroupShape rejects a thread-group shape the device cannot run.
func CheckGroupShape(group [3]uint32, l gpucore.Limits) error {
	limit := l.MaxWorkgroupSize()
	total := uint64(1)
	for a, g := range group {
		if limit[a] > 0 && g > limit[a] {
			return &gpucore.DescriptorError{
				Reason: gpucore.ReasonInvalidShape,
				Path:   fmt.Sprintf("group.%s", kernel.Axis(a)),
				Detail: fmt.Sprintf("extent %d exceeds the device limit of %d", g, limit[a]),
			}
		}
		total *= uint64(g)
	}
	if l.MaxWorkgroupInvocations > 0 && total > uint64(l.MaxWorkgroupInvocations) {
		return &gpucore.DescriptorError{
			Reason: gpucore.ReasonInvalidShape,
			Path:   "group",
			Detail: fmt.Sprintf("%d threads per group exceed the device limit of %d", total, l.MaxWorkgroupInvocations),
		}
	}
	return nil
}

// CheckBindings rejects a layout that binds more resources than one bind
// group holds on the device. The constant block counts as a binding.
func CheckBindings(layout codegen.Layout, l gpucore.Limits) error {
	n := len(layout.Resources) + 1
	if l.MaxBindingsPerGroup > 0 && n > int(l.MaxBindingsPerGroup) {
		return &gpucore.DescriptorError{
			Reason: gpucore.ReasonInvalidShape,
			Path:   "captures",
			Detail: fmt.Sprintf("%d bindings exceed the device limit of %d", n, l.MaxBindingsPerGroup),
		}
	}
	return nil
}

// GroupShapeFor picks a thread-group shape for domain that fits the
// device: the subgroup width for 1D domains, 8x8 for 2D and 4x4x4 for 3D.
func GroupShapeFor(domain [3]int, l gpucore.Limits) [3]uint32 {
	g := kernel.DefaultGroupShape(domain, l.SubgroupSize)
	limit := l.MaxWorkgroupSize()
	for a := range g {
		if limit[a] > 0 && g[a] > limit[a] {
			g[a] = limit[a]
		}
	}
	for l.MaxWorkgroupInvocations > 0 && g[0]*g[1]*g[2] > l.MaxWorkgroupInvocations && g[0] > 1 {
		g[0] /= 2
	}
	return g
}

// DecodeDomain reads the iteration domain back from packed constants.
func DecodeDomain(constants []byte) [3]uint32 {
	var d [3]uint32
	for a := range d {
		d[a] = binary.LittleEndian.Uint32(constants[codegen.DomainOffset+4*a:])
	}
	return d
}

// DecodeScalar reads a scalar capture back from packed constants.
func DecodeScalar(constants []byte, s codegen.ScalarSlot) kernel.Bits {
	var bits kernel.Bits
	for i := 0; i < s.Elem.Lanes(); i++ {
		bits[i] = binary.LittleEndian.Uint32(constants[s.Offset+4*uint32(i):])
	}
	return bits
}
