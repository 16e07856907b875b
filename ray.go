package castor

import (
	"fmt"
	"math"

	"github.com/achilleasa/castor/types"
)

// Ray describes a single intersection query. Dir need not be normalized;
// TNear, TFar and reported hit distances are all expressed in units of
// Dir's length. Mask is ANDed against each geometry's mask; a zero result
// skips the geometry. Flags are reserved and must stay zero.
type Ray struct {
	Origin types.Vec3
	Dir    types.Vec3
	TNear  float32
	TFar   float32
	Mask   uint32
	Flags  uint32
}

// NewRay spans the full positive interval with every mask bit set.
func NewRay(origin, dir types.Vec3) Ray {
	return Ray{
		Origin: origin,
		Dir:    dir,
		TFar:   float32(math.Inf(1)),
		Mask:   ^uint32(0),
	}
}

// Malformed rays fail fast instead of being reported as misses.
func (r *Ray) validate() error {
	for i := 0; i < 3; i++ {
		if isNaN(r.Origin[i]) || isNaN(r.Dir[i]) {
			return fmt.Errorf("%w: NaN component", ErrInvalidRay)
		}
	}
	if isNaN(r.TNear) || isNaN(r.TFar) {
		return fmt.Errorf("%w: NaN interval bound", ErrInvalidRay)
	}
	if r.TNear < 0 {
		return fmt.Errorf("%w: negative tnear %g", ErrInvalidRay, r.TNear)
	}
	if r.TNear >= r.TFar {
		return fmt.Errorf("%w: empty interval [%g, %g)", ErrInvalidRay, r.TNear, r.TFar)
	}
	if r.Flags != 0 {
		return fmt.Errorf("%w: reserved flags %#x", ErrInvalidRay, r.Flags)
	}
	return nil
}

func isNaN(v float32) bool {
	return v != v
}

// Hit reports the nearest accepted intersection of a query. When Valid is
// false all other fields are zero.
//
// GeomID and PrimID identify the leaf geometry in its own scene; for hits
// reached through instancing, InstIDs lists the instance geometry handles
// outermost first. U and V are barycentric coordinates for triangles,
// bilinear patch coordinates for quads and the segment parameter (V zero)
// for curves. Ng is the unnormalized geometric normal in the queried
// scene's space.
type Hit struct {
	Valid   bool
	T       float32
	GeomID  GeometryID
	PrimID  uint32
	InstIDs []GeometryID
	U, V    float32
	Ng      types.Vec3
}
