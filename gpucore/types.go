package gpucore

import "fmt"

// Resource IDs
//
// These opaque IDs represent GPU resources. Each device implementation
// maintains a mapping between IDs and actual backend resources.
// IDs are uint64 to accommodate various backend handle sizes.

// DeviceID identifies a logical device for the lifetime of the process.
type DeviceID uint64

// BufferID is an opaque handle to a GPU buffer.
type BufferID uint64

// TextureID is an opaque handle to a GPU texture.
type TextureID uint64

// ShaderModuleID is an opaque handle to a compiled shader module.
type ShaderModuleID uint64

// ComputePipelineID is an opaque handle to a compute pipeline.
type ComputePipelineID uint64

// BindGroupLayoutID is an opaque handle to a bind group layout.
type BindGroupLayoutID uint64

// BindGroupID is an opaque handle to a bind group.
type BindGroupID uint64

// PipelineLayoutID is an opaque handle to a pipeline layout.
type PipelineLayoutID uint64

// InvalidID is the zero value, representing an invalid/null resource.
const InvalidID = 0

// BufferUsage is a bitmask specifying how a buffer will be used.
type BufferUsage uint32

// Buffer usage flags.
const (
	// BufferUsageMapRead indicates the buffer can be mapped for reading.
	BufferUsageMapRead BufferUsage = 1 << 0

	// BufferUsageMapWrite indicates the buffer can be mapped for writing.
	BufferUsageMapWrite BufferUsage = 1 << 1

	// BufferUsageCopySrc indicates the buffer can be used as a copy source.
	BufferUsageCopySrc BufferUsage = 1 << 2

	// BufferUsageCopyDst indicates the buffer can be used as a copy destination.
	BufferUsageCopyDst BufferUsage = 1 << 3

	// BufferUsageUniform indicates the buffer can be used as a uniform buffer.
	BufferUsageUniform BufferUsage = 1 << 6

	// BufferUsageStorage indicates the buffer can be used as a storage buffer.
	BufferUsageStorage BufferUsage = 1 << 7
)

// TextureFormat specifies the format of texture data.
type TextureFormat uint32

// Texture formats usable by kernels.
const (
	// TextureFormatRGBA32Float is 32-bit RGBA, floating point.
	TextureFormatRGBA32Float TextureFormat = iota + 1

	// TextureFormatRGBA8Unorm is 8-bit RGBA, normalized unsigned integer.
	TextureFormatRGBA8Unorm

	// TextureFormatR32Float is 32-bit red channel only, floating point.
	TextureFormatR32Float
)

// TextureUsage is a bitmask specifying how a texture will be used.
type TextureUsage uint32

// Texture usage flags.
const (
	TextureUsageCopySrc        TextureUsage = 1 << 0
	TextureUsageCopyDst        TextureUsage = 1 << 1
	TextureUsageTextureBinding TextureUsage = 1 << 2
	TextureUsageStorageBinding TextureUsage = 1 << 3
)

// TextureDimension is the dimensionality of a texture resource.
type TextureDimension uint8

// Texture dimensions.
const (
	TextureDimension2D TextureDimension = iota + 2
	TextureDimension3D
)

// Coords returns the number of integer coordinates that address a texel.
func (d TextureDimension) Coords() int {
	switch d {
	case TextureDimension2D:
		return 2
	case TextureDimension3D:
		return 3
	default:
		return 0
	}
}

func (d TextureDimension) String() string {
	switch d {
	case TextureDimension2D:
		return "2d"
	case TextureDimension3D:
		return "3d"
	default:
		return fmt.Sprintf("TextureDimension(%d)", uint8(d))
	}
}

// BindingType specifies the type of a shader binding.
type BindingType uint32

// Binding types.
const (
	// BindingTypeUniformBuffer is a uniform buffer binding.
	BindingTypeUniformBuffer BindingType = iota + 1

	// BindingTypeStorageBuffer is a storage buffer binding (read-write).
	BindingTypeStorageBuffer

	// BindingTypeReadOnlyStorageBuffer is a read-only storage buffer binding.
	BindingTypeReadOnlyStorageBuffer

	// BindingTypeSampledTexture is a texture read with textureLoad.
	BindingTypeSampledTexture

	// BindingTypeStorageTexture is a read-write storage texture binding.
	BindingTypeStorageTexture
)

func (t BindingType) String() string {
	switch t {
	case BindingTypeUniformBuffer:
		return "uniform"
	case BindingTypeStorageBuffer:
		return "storage"
	case BindingTypeReadOnlyStorageBuffer:
		return "read-only-storage"
	case BindingTypeSampledTexture:
		return "texture"
	case BindingTypeStorageTexture:
		return "storage-texture"
	default:
		return fmt.Sprintf("BindingType(%d)", uint32(t))
	}
}

// IsTexture reports whether the binding refers to a texture.
func (t BindingType) IsTexture() bool {
	return t == BindingTypeSampledTexture || t == BindingTypeStorageTexture
}

// ShaderTarget names a device program representation.
type ShaderTarget uint8

// Shader targets.
const (
	TargetWGSL ShaderTarget = iota + 1
	TargetSPIRV
	TargetHLSL
	TargetMSL
	TargetGLSL
)

func (t ShaderTarget) String() string {
	switch t {
	case TargetWGSL:
		return "wgsl"
	case TargetSPIRV:
		return "spirv"
	case TargetHLSL:
		return "hlsl"
	case TargetMSL:
		return "msl"
	case TargetGLSL:
		return "glsl"
	default:
		return fmt.Sprintf("ShaderTarget(%d)", uint8(t))
	}
}

// Bytecode is a compiled device program for a single target.
// Text targets fill Text, SPIR-V fills Words.
type Bytecode struct {
	Target ShaderTarget
	Text   string
	Words  []uint32
}

// Empty reports whether the bytecode carries no program.
func (b Bytecode) Empty() bool {
	return b.Text == "" && len(b.Words) == 0
}

// ShaderModuleDesc describes a shader module.
type ShaderModuleDesc struct {
	Label string
	Code  Bytecode
}

// BufferDesc describes a GPU buffer.
type BufferDesc struct {
	Label string
	Size  uint64
	Usage BufferUsage
}

// TextureDesc describes a GPU texture. Depth is ignored for 2D textures.
type TextureDesc struct {
	Label     string
	Width     uint32
	Height    uint32
	Depth     uint32
	Dimension TextureDimension
	Format    TextureFormat
	Usage     TextureUsage
}

// ComputePipelineDesc describes a compute pipeline.
type ComputePipelineDesc struct {
	// Label is an optional debug label.
	Label string

	// Layout is the pipeline layout.
	Layout PipelineLayoutID

	// ShaderModule contains the compute shader.
	ShaderModule ShaderModuleID

	// EntryPoint is the name of the shader entry point function.
	EntryPoint string
}

// PipelineLayoutDesc describes a pipeline layout.
type PipelineLayoutDesc struct {
	Label            string
	BindGroupLayouts []BindGroupLayoutID
}

// BindGroupLayoutDesc describes a bind group layout.
type BindGroupLayoutDesc struct {
	// Label is an optional debug label.
	Label string

	// Entries defines the bindings in this layout.
	Entries []BindGroupLayoutEntry
}

// BindGroupLayoutEntry describes a single binding in a bind group layout.
type BindGroupLayoutEntry struct {
	// Binding is the binding index.
	Binding uint32

	// Type is the type of resource bound at this index.
	Type BindingType

	// MinBindingSize is the minimum buffer size for buffer bindings.
	// Set to 0 for non-buffer bindings.
	MinBindingSize uint64

	// Dimension and Format describe texture bindings.
	Dimension TextureDimension
	Format    TextureFormat
}

// BindGroupEntry describes a single binding in a bind group.
type BindGroupEntry struct {
	// Binding is the binding index.
	Binding uint32

	// Buffer is the buffer to bind (for buffer bindings).
	Buffer BufferID

	// Offset is the offset into the buffer.
	Offset uint64

	// Size is the size of the buffer range to bind.
	// Use 0 to bind the entire buffer from offset.
	Size uint64

	// Texture is the texture to bind (for texture bindings).
	Texture TextureID
}

// BindGroupDesc describes a bind group.
type BindGroupDesc struct {
	// Label is an optional debug label.
	Label string

	// Layout is the bind group layout.
	Layout BindGroupLayoutID

	// Entries are the resource bindings.
	Entries []BindGroupEntry
}
