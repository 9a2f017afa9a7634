// Package backend selects the device a kernel runtime dispatches to.
//
// Backends register a factory under a name from an init function and are
// opened by name at runtime. The native backend registers itself on
// import:
//
//	import _ "github.com/gogpu/compute/backend/native"
//
// # Backend Selection
//
// Use OpenDefault to get the best available device, or Open to request a
// specific backend by name:
//
//	dev, err := backend.OpenDefault()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer dev.Destroy()
//
//	// Or request a specific backend
//	dev, err := backend.Open(backend.Noop)
//
// # Available Backends
//
//   - "native": GPU device over gogpu/wgpu
//   - "noop": gogpu/wgpu's noop device; accepts work, computes nothing
package backend
