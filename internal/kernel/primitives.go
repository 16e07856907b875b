package kernel

import (
	"math"

	"github.com/achilleasa/castor/types"
)

const (
	triEpsilon        = 1e-9
	degenerateSegment = 1e-12
)

// Intersect a ray with a triangle using the Moller-Trumbore test. Both faces
// are reported. The hit distance is expressed in units of dir, which does not
// need to be normalized.
func intersectTriangle(org, dir types.Vec3, tri *Triangle, tNear, tFar float32) (t, u, v float32, ok bool) {
	e1 := tri.V1.Sub(tri.V0)
	e2 := tri.V2.Sub(tri.V0)

	p := dir.Cross(e2)
	det := e1.Dot(p)
	if det > -triEpsilon && det < triEpsilon {
		return 0, 0, 0, false
	}
	invDet := 1.0 / det

	tv := org.Sub(tri.V0)
	u = tv.Dot(p) * invDet
	if u < 0 || u > 1 {
		return 0, 0, 0, false
	}

	q := tv.Cross(e1)
	v = dir.Dot(q) * invDet
	if v < 0 || u+v > 1 {
		return 0, 0, 0, false
	}

	t = e2.Dot(q) * invDet
	if t < tNear || t > tFar {
		return 0, 0, 0, false
	}
	return t, u, v, true
}

// Geometric normal of a triangle; unnormalized.
func triangleNormal(tri *Triangle) types.Vec3 {
	return tri.V1.Sub(tri.V0).Cross(tri.V2.Sub(tri.V0))
}

// Intersect a ray with a linear curve segment modelled as a rounded cone
// (the convex hull of the two endpoint spheres). Adapted from the analytic
// intersector published by Inigo Quilez. The hit distance is expressed in
// units of dir; u is the curve parameter along the segment and ng the
// unnormalized surface normal. minWidth grows the endpoint radii but never
// past the ceilings the bounds were built with.
func intersectSegment(org, dir types.Vec3, seg *Segment, minWidth, tNear, tFar float32) (t, u float32, ng types.Vec3, ok bool) {
	ra := seg.R0
	rb := seg.R1
	if minWidth > ra {
		ra = minWidth
		if ra > seg.CR0 {
			ra = seg.CR0
		}
	}
	if minWidth > rb {
		rb = minWidth
		if rb > seg.CR1 {
			rb = seg.CR1
		}
	}

	dirLen := dir.Len()
	if dirLen == 0 {
		return 0, 0, types.Vec3{}, false
	}
	invDirLen := 1.0 / dirLen
	d := dir.Mul(invDirLen)

	ba := seg.P1.Sub(seg.P0)
	oa := org.Sub(seg.P0)
	ob := org.Sub(seg.P1)
	rr := ra - rb
	m0 := ba.Dot(ba)
	m1 := ba.Dot(oa)
	m2 := ba.Dot(d)
	m3 := d.Dot(oa)
	m5 := oa.Dot(oa)

	d2 := m0 - rr*rr

	var (
		best   float32 = math.MaxFloat32
		bestU  float32
		bestNg types.Vec3
		found  bool
	)
	sNear := tNear * dirLen

	// Degenerate segments and segments where one endpoint sphere swallows
	// the other decay to a sphere test on the larger endpoint.
	if d2 <= degenerateSegment {
		c := seg.P0
		r := ra
		uhit := float32(0)
		if rb > ra {
			c = seg.P1
			r = rb
			uhit = 1
		}
		s, okS := nearestSphereRoot(org.Sub(c), d, r, sNear)
		if !okS {
			return 0, 0, types.Vec3{}, false
		}
		t = s * invDirLen
		if t < tNear || t > tFar {
			return 0, 0, types.Vec3{}, false
		}
		return t, uhit, org.Sub(c).Add(d.Mul(s)), true
	}

	k2 := d2 - m2*m2
	k1 := d2*m3 - m1*m2 + m2*rr*ra
	k0 := d2*m5 - m1*m1 + m1*rr*ra*2.0 - m0*ra*ra

	// Cone body roots, nearest first. Guard k2 against rays running
	// parallel to the cone surface; the caps still apply.
	if k2 < -triEpsilon || k2 > triEpsilon {
		h := k1*k1 - k0*k2
		if h >= 0 {
			hs := float32(math.Sqrt(float64(h)))
			s1 := (-hs - k1) / k2
			s2 := (hs - k1) / k2
			if s1 > s2 {
				s1, s2 = s2, s1
			}
			for _, s := range [2]float32{s1, s2} {
				tc := s * invDirLen
				if tc < tNear || tc > tFar {
					continue
				}
				y := m1 - ra*rr + s*m2
				if y > 0 && y < d2 {
					best, bestU, bestNg, found = tc, y/d2, oa.Add(d.Mul(s)).Mul(d2).Sub(ba.Mul(y)), true
					break
				}
			}
		}
	}

	// Endpoint caps; keep whichever candidate is nearest overall.
	if s, okS := nearestSphereRoot(oa, d, ra, sNear); okS {
		tc := s * invDirLen
		if tc >= tNear && tc <= tFar && tc < best {
			best, bestU, bestNg, found = tc, 0, oa.Add(d.Mul(s)), true
		}
	}
	if s, okS := nearestSphereRoot(ob, d, rb, sNear); okS {
		tc := s * invDirLen
		if tc >= tNear && tc <= tFar && tc < best {
			best, bestU, bestNg, found = tc, 1, ob.Add(d.Mul(s)), true
		}
	}
	if !found {
		return 0, 0, types.Vec3{}, false
	}
	return best, bestU, bestNg, true
}

// Nearest sphere intersection root at or beyond sNear, in normalized ray
// units. oc is the origin relative to the sphere center.
func nearestSphereRoot(oc, d types.Vec3, r, sNear float32) (float32, bool) {
	b := oc.Dot(d)
	c := oc.Dot(oc) - r*r
	h := b*b - c
	if h < 0 {
		return 0, false
	}
	hs := float32(math.Sqrt(float64(h)))
	if s := -b - hs; s >= sNear {
		return s, true
	}
	if s := -b + hs; s >= sNear {
		return s, true
	}
	return 0, false
}
