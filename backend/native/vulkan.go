//go:build !nogpu

package native

// Register the Vulkan backend so Open can find it.
import _ "github.com/gogpu/wgpu/hal/vulkan"
