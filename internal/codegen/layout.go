package codegen

import (
	"github.com/gogpu/compute/gpucore"
	"github.com/gogpu/compute/kernel"
)

// Binding-layout constants shared with the dispatch planner.
const (
	// ConstantsBinding is the slot of the uniform constant block.
	ConstantsBinding = 0

	// DomainOffset is the byte offset of the vec3<u32> iteration domain
	// inside the constant block.
	DomainOffset = 0

	domainSize = 12

	// constantsAlign is the uniform struct alignment.
	constantsAlign = 16
)

// ScalarSlot places a scalar capture inside the constant block.
type ScalarSlot struct {
	Capture int
	Name    string
	Elem    kernel.ElemType
	Offset  uint32
}

// ResourceSlot assigns a buffer or texture capture to a binding slot.
type ResourceSlot struct {
	Capture int
	Name    string
	Binding uint32
	Type    gpucore.BindingType
	Elem    kernel.ElemType
	Dim     gpucore.TextureDimension
}

// Layout describes where each capture lives at dispatch time. Resources are
// ordered by ascending binding.
type Layout struct {
	ConstantsSize uint32
	Scalars       []ScalarSlot
	Resources     []ResourceSlot
}

// BuildLayout assigns constant offsets and binding slots in declaration
// order. Binding 0 is the constant block; resources take 1, 2, 3...
//
// Offsets follow the uniform address space rules: 4-byte alignment for
// scalars, 8 for two-lane vectors and 16 for three- and four-lane vectors.
// Bools occupy a 4-byte word.
func BuildLayout(captures []kernel.Capture) Layout {
	var l Layout
	cursor := uint32(DomainOffset + domainSize)
	binding := uint32(ConstantsBinding + 1)

	for i, c := range captures {
		switch c.Kind {
		case kernel.KindScalar:
			off := alignUp(cursor, uniformAlign(c.Elem))
			l.Scalars = append(l.Scalars, ScalarSlot{Capture: i, Name: c.Name, Elem: c.Elem, Offset: off})
			cursor = off + uniformSize(c.Elem)
		case kernel.KindReadOnlyBuffer, kernel.KindReadWriteBuffer, kernel.KindTexture:
			l.Resources = append(l.Resources, ResourceSlot{
				Capture: i,
				Name:    c.Name,
				Binding: binding,
				Type:    bindingType(c),
				Elem:    c.Elem,
				Dim:     c.Dim,
			})
			binding++
		}
	}

	l.ConstantsSize = alignUp(cursor, constantsAlign)
	return l
}

// BindGroupLayoutEntries returns the layout entries for the constant block
// followed by every resource slot.
func (l Layout) BindGroupLayoutEntries() []gpucore.BindGroupLayoutEntry {
	entries := make([]gpucore.BindGroupLayoutEntry, 0, len(l.Resources)+1)
	entries = append(entries, gpucore.BindGroupLayoutEntry{
		Binding:        ConstantsBinding,
		Type:           gpucore.BindingTypeUniformBuffer,
		MinBindingSize: uint64(l.ConstantsSize),
	})
	for _, r := range l.Resources {
		e := gpucore.BindGroupLayoutEntry{Binding: r.Binding, Type: r.Type}
		if r.Type.IsTexture() {
			e.Dimension = r.Dim
			e.Format = gpucore.TextureFormatRGBA32Float
		}
		entries = append(entries, e)
	}
	return entries
}

func bindingType(c kernel.Capture) gpucore.BindingType {
	switch c.Kind {
	case kernel.KindReadOnlyBuffer:
		return gpucore.BindingTypeReadOnlyStorageBuffer
	case kernel.KindReadWriteBuffer:
		return gpucore.BindingTypeStorageBuffer
	case kernel.KindTexture:
		if c.Access == kernel.ReadWrite {
			return gpucore.BindingTypeStorageTexture
		}
		return gpucore.BindingTypeSampledTexture
	default:
		return 0
	}
}

func uniformAlign(t kernel.ElemType) uint32 {
	switch t.Lanes() {
	case 2:
		return 8
	case 3, 4:
		return 16
	default:
		return 4
	}
}

func uniformSize(t kernel.ElemType) uint32 {
	return 4 * uint32(t.Lanes())
}

func alignUp(v, align uint32) uint32 {
	return (v + align - 1) &^ (align - 1)
}
