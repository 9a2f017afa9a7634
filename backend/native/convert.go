package native

import (
	"github.com/gogpu/gputypes"

	"github.com/gogpu/compute/gpucore"
)

// defaultSubgroupSize is reported until the hal exposes the real width.
const defaultSubgroupSize = 32

func convertLimits(l gputypes.Limits) gpucore.Limits {
	return gpucore.Limits{
		MaxWorkgroupSizeX:                l.MaxComputeWorkgroupSizeX,
		MaxWorkgroupSizeY:                l.MaxComputeWorkgroupSizeY,
		MaxWorkgroupSizeZ:                l.MaxComputeWorkgroupSizeZ,
		MaxWorkgroupInvocations:          l.MaxComputeInvocationsPerWorkgroup,
		MaxComputeWorkgroupsPerDimension: l.MaxComputeWorkgroupsPerDimension,
		MaxBufferSize:                    l.MaxBufferSize,
		MaxStorageBufferBindingSize:      l.MaxStorageBufferBindingSize,
		MaxBindingsPerGroup:              l.MaxBindingsPerBindGroup,
		SubgroupSize:                     defaultSubgroupSize,
	}
}

func convertBufferUsage(usage gpucore.BufferUsage) gputypes.BufferUsage {
	var result gputypes.BufferUsage
	if usage&gpucore.BufferUsageMapRead != 0 {
		result |= gputypes.BufferUsageMapRead
	}
	if usage&gpucore.BufferUsageMapWrite != 0 {
		result |= gputypes.BufferUsageMapWrite
	}
	if usage&gpucore.BufferUsageCopySrc != 0 {
		result |= gputypes.BufferUsageCopySrc
	}
	if usage&gpucore.BufferUsageCopyDst != 0 {
		result |= gputypes.BufferUsageCopyDst
	}
	if usage&gpucore.BufferUsageUniform != 0 {
		result |= gputypes.BufferUsageUniform
	}
	if usage&gpucore.BufferUsageStorage != 0 {
		result |= gputypes.BufferUsageStorage
	}
	return result
}

func convertTextureUsage(usage gpucore.TextureUsage) gputypes.TextureUsage {
	var result gputypes.TextureUsage
	if usage&gpucore.TextureUsageCopySrc != 0 {
		result |= gputypes.TextureUsageCopySrc
	}
	if usage&gpucore.TextureUsageCopyDst != 0 {
		result |= gputypes.TextureUsageCopyDst
	}
	if usage&gpucore.TextureUsageTextureBinding != 0 {
		result |= gputypes.TextureUsageTextureBinding
	}
	if usage&gpucore.TextureUsageStorageBinding != 0 {
		result |= gputypes.TextureUsageStorageBinding
	}
	return result
}

func convertTextureFormat(format gpucore.TextureFormat) gputypes.TextureFormat {
	switch format {
	case gpucore.TextureFormatRGBA8Unorm:
		return gputypes.TextureFormatRGBA8Unorm
	case gpucore.TextureFormatR32Float:
		return gputypes.TextureFormatR32Float
	default:
		return gputypes.TextureFormatRGBA32Float
	}
}

func convertTextureDimension(dim gpucore.TextureDimension) gputypes.TextureDimension {
	if dim == gpucore.TextureDimension3D {
		return gputypes.TextureDimension3D
	}
	return gputypes.TextureDimension2D
}

func convertViewDimension(dim gpucore.TextureDimension) gputypes.TextureViewDimension {
	if dim == gpucore.TextureDimension3D {
		return gputypes.TextureViewDimension3D
	}
	return gputypes.TextureViewDimension2D
}

// convertBindGroupLayoutEntry maps a kernel binding to a compute-visible
// layout entry.
func convertBindGroupLayoutEntry(e gpucore.BindGroupLayoutEntry) gputypes.BindGroupLayoutEntry {
	out := gputypes.BindGroupLayoutEntry{
		Binding:    e.Binding,
		Visibility: gputypes.ShaderStageCompute,
	}
	switch e.Type {
	case gpucore.BindingTypeUniformBuffer:
		out.Buffer = &gputypes.BufferBindingLayout{
			Type:           gputypes.BufferBindingTypeUniform,
			MinBindingSize: e.MinBindingSize,
		}
	case gpucore.BindingTypeStorageBuffer:
		out.Buffer = &gputypes.BufferBindingLayout{
			Type:           gputypes.BufferBindingTypeStorage,
			MinBindingSize: e.MinBindingSize,
		}
	case gpucore.BindingTypeReadOnlyStorageBuffer:
		out.Buffer = &gputypes.BufferBindingLayout{
			Type:           gputypes.BufferBindingTypeReadOnlyStorage,
			MinBindingSize: e.MinBindingSize,
		}
	case gpucore.BindingTypeSampledTexture:
		// rgba32float is not filterable; kernels read it with textureLoad.
		out.Texture = &gputypes.TextureBindingLayout{
			SampleType:    gputypes.TextureSampleTypeUnfilterableFloat,
			ViewDimension: convertViewDimension(e.Dimension),
		}
	case gpucore.BindingTypeStorageTexture:
		out.StorageTexture = &gputypes.StorageTextureBindingLayout{
			Access:        gputypes.StorageTextureAccessReadWrite,
			Format:        convertTextureFormat(e.Format),
			ViewDimension: convertViewDimension(e.Dimension),
		}
	}
	return out
}
