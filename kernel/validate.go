package kernel

import (
	"fmt"

	"github.com/gogpu/compute/gpucore"
)

// ValidName reports whether s can name a capture or local: an ASCII letter
// followed by letters, digits or underscores.
func ValidName(s string) bool {
	if s == "" || len(s) > 128 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && (c >= '0' && c <= '9' || c == '_'):
		default:
			return false
		}
	}
	return true
}

// validateShape checks everything the compiled program depends on: the
// thread-group shape and the capture layout.
func validateShape(group [3]uint32, captures []Capture) error {
	for axis, g := range group {
		if g == 0 {
			return &gpucore.DescriptorError{
				Reason: gpucore.ReasonInvalidShape,
				Path:   fmt.Sprintf("group.%s", Axis(axis)),
				Detail: "thread-group extent must be positive",
			}
		}
	}

	seen := make(map[string]struct{}, len(captures))
	for i, c := range captures {
		path := fmt.Sprintf("captures[%d]", i)
		if !ValidName(c.Name) {
			return &gpucore.DescriptorError{Reason: gpucore.ReasonInvalidName, Path: path, Detail: fmt.Sprintf("%q is not a valid name", c.Name)}
		}
		if _, dup := seen[c.Name]; dup {
			return &gpucore.DescriptorError{Reason: gpucore.ReasonInvalidName, Path: path, Detail: fmt.Sprintf("%q captured twice", c.Name)}
		}
		seen[c.Name] = struct{}{}

		if err := validateLayout(path, c); err != nil {
			return err
		}
	}
	return nil
}

func validateLayout(path string, c Capture) error {
	if !c.Elem.Valid() {
		return &gpucore.DescriptorError{Reason: gpucore.ReasonUnsupportedType, Path: path, Detail: fmt.Sprintf("unknown element type %d", uint8(c.Elem))}
	}
	if !c.Elem.Supported() {
		return &gpucore.DescriptorError{Reason: gpucore.ReasonUnsupportedType, Path: path, Detail: fmt.Sprintf("%s is not supported on device", c.Elem)}
	}

	switch c.Kind {
	case KindScalar:
	case KindReadOnlyBuffer, KindReadWriteBuffer:
		if c.Elem.Scalar() == Bool {
			return &gpucore.DescriptorError{Reason: gpucore.ReasonUnsupportedType, Path: path, Detail: "bool buffers are not supported; use uint"}
		}
	case KindTexture:
		if c.Elem != Float4 {
			return &gpucore.DescriptorError{Reason: gpucore.ReasonUnsupportedType, Path: path, Detail: fmt.Sprintf("textures hold float4 texels, not %s", c.Elem)}
		}
		if c.Dim.Coords() == 0 {
			return &gpucore.DescriptorError{Reason: gpucore.ReasonInvalidValue, Path: path, Detail: fmt.Sprintf("texture dimension %s", c.Dim)}
		}
		if c.Access != ReadOnly && c.Access != ReadWrite {
			return &gpucore.DescriptorError{Reason: gpucore.ReasonInvalidValue, Path: path, Detail: fmt.Sprintf("texture access %s", c.Access)}
		}
	default:
		// Exhaustive over CaptureKind.
		return &gpucore.DescriptorError{Reason: gpucore.ReasonUnsupportedOperation, Path: path, Detail: fmt.Sprintf("unknown capture kind %s", c.Kind)}
	}
	return nil
}

// validateBindings checks the per-invocation values: scalars must match
// their type and resources must be bound. Assumes validateShape passed.
func validateBindings(captures []Capture) error {
	for i, c := range captures {
		path := fmt.Sprintf("captures[%d]", i)
		switch c.Kind {
		case KindScalar:
			if _, err := c.ScalarBits(); err != nil {
				return &gpucore.DescriptorError{Reason: gpucore.ReasonInvalidValue, Path: path, Detail: err.Error()}
			}
		case KindReadOnlyBuffer, KindReadWriteBuffer:
			if c.Buffer == gpucore.InvalidID {
				return &gpucore.DescriptorError{Reason: gpucore.ReasonInvalidValue, Path: path, Detail: fmt.Sprintf("buffer %q is not bound", c.Name)}
			}
		case KindTexture:
			if c.Texture == gpucore.InvalidID {
				return &gpucore.DescriptorError{Reason: gpucore.ReasonInvalidValue, Path: path, Detail: fmt.Sprintf("texture %q is not bound", c.Name)}
			}
		}
	}
	return nil
}
