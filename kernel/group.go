package kernel

// Default thread-group shapes for multi-dimensional domains.
var (
	group2D = [3]uint32{8, 8, 1}
	group3D = [3]uint32{4, 4, 4}
)

// DefaultGroupShape picks a thread-group shape for a domain. One-dimensional
// domains use the device subgroup width, two-dimensional domains 8x8 and
// three-dimensional domains 4x4x4. A zero subgroup falls back to 64.
func DefaultGroupShape(domain [3]int, subgroup uint32) [3]uint32 {
	switch {
	case domain[1] <= 1 && domain[2] <= 1:
		if subgroup == 0 {
			subgroup = 64
		}
		return [3]uint32{subgroup, 1, 1}
	case domain[2] <= 1:
		return group2D
	default:
		return group3D
	}
}
