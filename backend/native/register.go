package native

import (
	"github.com/gogpu/gputypes"
	_ "github.com/gogpu/wgpu/hal/noop" // registers the noop hal backend

	"github.com/gogpu/compute/backend"
)

func init() {
	backend.Register(backend.Native, opener())
	backend.Register(backend.Noop, opener(WithBackend(gputypes.BackendEmpty)))
}

func opener(opts ...OpenOption) backend.Factory {
	return func() (backend.Device, error) {
		d, err := Open(opts...)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
}
