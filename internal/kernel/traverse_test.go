package kernel

import (
	"math"
	"testing"

	"github.com/achilleasa/castor/types"
)

func zRay(x, y float32) Ray {
	return Ray{
		Origin: types.Vec3{x, y, -10},
		Dir:    types.Vec3{0, 0, 1},
		TNear:  0,
		TFar:   math.MaxFloat32,
		Mask:   0xffffffff,
	}
}

// A unit right triangle in the XY plane at the given depth.
func triAt(x, y, z float32, primID uint32) Triangle {
	return Triangle{
		V0:     types.Vec3{x, y, z},
		V1:     types.Vec3{x + 1, y, z},
		V2:     types.Vec3{x, y + 1, z},
		PrimID: primID,
	}
}

func TestTraverseNearest(t *testing.T) {
	tree, err := Build([]Geom{
		{ID: 7, Mask: 0xffffffff, Tris: []Triangle{
			triAt(0, 0, 2, 0),
			triAt(0, 0, 1, 1),
			triAt(5, 0, 1, 2),
		}},
	}, BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}

	tr := NewTraverser()
	hit, found := tr.Nearest(tree, zRay(0.25, 0.25), nil)
	if !found {
		t.Fatalf("expected a hit")
	}
	if hit.GeomID != 7 || hit.PrimID != 1 {
		t.Fatalf("expected hit on geometry 7 primitive 1; got geometry %d primitive %d", hit.GeomID, hit.PrimID)
	}
	if !floatNear(hit.T, 11) {
		t.Fatalf("expected nearest hit at t=11; got %f", hit.T)
	}
	if hit.InstIDs != nil {
		t.Fatalf("expected no instance chain for directly attached geometry; got %v", hit.InstIDs)
	}
	if !floatNear(hit.U, 0.25) || !floatNear(hit.V, 0.25) {
		t.Fatalf("expected (u,v) to be (0.25,0.25); got (%f,%f)", hit.U, hit.V)
	}

	// The normal points along the plane normal; length is twice the area.
	if !floatNear(hit.Ng[0], 0) || !floatNear(hit.Ng[1], 0) || hit.Ng[2] == 0 {
		t.Fatalf("expected geometric normal along z; got %v", hit.Ng)
	}

	// A ray that misses everything.
	if _, found = tr.Nearest(tree, zRay(-5, -5), nil); found {
		t.Fatalf("expected a miss")
	}
}

func TestTraverseRange(t *testing.T) {
	tree, err := Build([]Geom{
		{ID: 0, Mask: 0xffffffff, Tris: []Triangle{triAt(0, 0, 1, 0), triAt(0, 0, 2, 1)}},
	}, BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}

	tr := NewTraverser()

	// tFar clips both triangles.
	r := zRay(0.25, 0.25)
	r.TFar = 5
	if _, found := tr.Nearest(tree, r, nil); found {
		t.Fatalf("expected tfar to clip all hits")
	}

	// tNear skips the first triangle.
	r = zRay(0.25, 0.25)
	r.TNear = 11.5
	hit, found := tr.Nearest(tree, r, nil)
	if !found || hit.PrimID != 1 {
		t.Fatalf("expected tnear to skip to primitive 1; got found=%t prim=%d", found, hit.PrimID)
	}
}

func TestTraverseAny(t *testing.T) {
	tree, err := Build([]Geom{
		{ID: 0, Mask: 0xffffffff, Tris: []Triangle{triAt(0, 0, 1, 0)}},
	}, BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}

	tr := NewTraverser()
	if !tr.Any(tree, zRay(0.25, 0.25), nil) {
		t.Fatalf("expected occlusion")
	}
	if tr.Any(tree, zRay(-5, -5), nil) {
		t.Fatalf("expected no occlusion")
	}
}

func TestTraverseMask(t *testing.T) {
	tree, err := Build([]Geom{
		{ID: 0, Mask: 0x2, Tris: []Triangle{triAt(0, 0, 1, 0)}},
	}, BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}

	tr := NewTraverser()
	r := zRay(0.25, 0.25)
	r.Mask = 0x1
	if _, found := tr.Nearest(tree, r, nil); found {
		t.Fatalf("expected masked out geometry to be skipped")
	}
	r.Mask = 0x3
	if _, found := tr.Nearest(tree, r, nil); !found {
		t.Fatalf("expected overlapping masks to hit")
	}
}

func TestTraverseFilterRejectAndContinue(t *testing.T) {
	tree, err := Build([]Geom{
		{ID: 0, Mask: 0xffffffff, Tris: []Triangle{triAt(0, 0, 1, 0), triAt(0, 0, 2, 1)}},
	}, BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}

	candidates := 0
	opts := &TraverseOpts{
		Accept: func(h *Hit) bool {
			candidates++
			return h.PrimID != 0
		},
	}

	tr := NewTraverser()
	hit, found := tr.Nearest(tree, zRay(0.25, 0.25), opts)
	if !found || hit.PrimID != 1 {
		t.Fatalf("expected rejected candidate to be skipped; got found=%t prim=%d", found, hit.PrimID)
	}
	if candidates < 2 {
		t.Fatalf("expected the filter to see both candidates; saw %d", candidates)
	}

	// Rejecting everything turns hits into misses, for occlusion too.
	rejectAll := &TraverseOpts{Accept: func(h *Hit) bool { return false }}
	if _, found = tr.Nearest(tree, zRay(0.25, 0.25), rejectAll); found {
		t.Fatalf("expected all candidates to be rejected")
	}
	if tr.Any(tree, zRay(0.25, 0.25), rejectAll) {
		t.Fatalf("expected occlusion test to honor the filter")
	}
}

func TestTraverseQuadUVRemap(t *testing.T) {
	// A unit quad split the way commit splits it: (v0,v1,v3) and
	// (v2,v3,v1) with flipped UVs on the second half.
	v0 := types.Vec3{0, 0, 0}
	v1 := types.Vec3{1, 0, 0}
	v2 := types.Vec3{1, 1, 0}
	v3 := types.Vec3{0, 1, 0}
	tree, err := Build([]Geom{
		{ID: 0, Mask: 0xffffffff, Tris: []Triangle{
			{V0: v0, V1: v1, V2: v3, PrimID: 4},
			{V0: v2, V1: v3, V2: v1, PrimID: 4, UVFlip: 1},
		}},
	}, BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}

	tr := NewTraverser()
	hit, found := tr.Nearest(tree, zRay(0.75, 0.75), nil)
	if !found || hit.PrimID != 4 {
		t.Fatalf("expected a hit on the quad; got found=%t prim=%d", found, hit.PrimID)
	}
	if !floatNear(hit.U, 0.75) || !floatNear(hit.V, 0.75) {
		t.Fatalf("expected remapped quad (u,v) to be (0.75,0.75); got (%f,%f)", hit.U, hit.V)
	}

	hit, found = tr.Nearest(tree, zRay(0.25, 0.25), nil)
	if !found || !floatNear(hit.U, 0.25) || !floatNear(hit.V, 0.25) {
		t.Fatalf("expected first half (u,v) to be (0.25,0.25); got found=%t (%f,%f)", found, hit.U, hit.V)
	}
}

func TestTraverseInstanceChain(t *testing.T) {
	inner, err := Build([]Geom{
		{ID: 3, Mask: 0xffffffff, Tris: []Triangle{triAt(0, 0, 0, 9)}},
	}, BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}

	mid, err := Build([]Geom{
		{ID: 5, Mask: 0xffffffff, Sub: inner, Transform: types.Translate3D(0, 2, 0)},
	}, BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}

	root, err := Build([]Geom{
		{ID: 8, Mask: 0xffffffff, Sub: mid, Transform: types.Translate3D(5, 0, 0)},
	}, BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}

	tr := NewTraverser()
	hit, found := tr.Nearest(root, zRay(5.25, 2.25), nil)
	if !found {
		t.Fatalf("expected a hit through the instance chain")
	}
	if hit.GeomID != 3 || hit.PrimID != 9 {
		t.Fatalf("expected innermost geometry 3 primitive 9; got geometry %d primitive %d", hit.GeomID, hit.PrimID)
	}
	if len(hit.InstIDs) != 2 || hit.InstIDs[0] != 8 || hit.InstIDs[1] != 5 {
		t.Fatalf("expected instance chain [8 5] outermost first; got %v", hit.InstIDs)
	}
	if !floatNear(hit.T, 10) {
		t.Fatalf("expected distance to be preserved across instance transforms; got %f", hit.T)
	}

	// A ray outside the instanced region misses.
	if _, found = tr.Nearest(root, zRay(0.25, 0.25), nil); found {
		t.Fatalf("expected a miss outside the instanced region")
	}
}

func TestTraverseInstanceNormal(t *testing.T) {
	// Triangle in the XZ plane with normal along +y.
	sub, err := Build([]Geom{
		{ID: 0, Mask: 0xffffffff, Tris: []Triangle{{
			V0: types.Vec3{0, 0, 0},
			V1: types.Vec3{0, 0, 1},
			V2: types.Vec3{1, 0, 0},
		}}},
	}, BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}

	// Rotate the instance so the normal ends up along the z axis.
	rot := types.QuatFromAxisAngle(types.XYZ(1, 0, 0), -math.Pi/2).Mat4()
	root, err := Build([]Geom{
		{ID: 1, Mask: 0xffffffff, Sub: sub, Transform: rot},
	}, BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}

	tr := NewTraverser()
	hit, found := tr.Nearest(root, zRay(0.25, 0.25), nil)
	if !found {
		t.Fatalf("expected a hit on the rotated instance")
	}
	n := hit.Ng.Normalize()
	if !floatNear(n[0], 0) || !floatNear(n[1], 0) || !floatNear(float32(math.Abs(float64(n[2]))), 1) {
		t.Fatalf("expected world normal along z; got %v", n)
	}
}

func TestTraverseSegments(t *testing.T) {
	tree, err := Build([]Geom{
		{ID: 2, Mask: 0xffffffff, Segs: []Segment{
			{P0: types.Vec3{0, 0, 0}, P1: types.Vec3{2, 0, 0}, R0: 0.5, R1: 0.5, CR0: 0.5, CR1: 0.5, PrimID: 6},
		}},
	}, BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}

	tr := NewTraverser()
	hit, found := tr.Nearest(tree, zRay(1, 0), nil)
	if !found || hit.GeomID != 2 || hit.PrimID != 6 {
		t.Fatalf("expected segment hit on geometry 2 primitive 6; got found=%t geometry %d primitive %d", found, hit.GeomID, hit.PrimID)
	}
	if !floatNear(hit.T, 9.5) {
		t.Fatalf("expected hit at t=9.5; got %f", hit.T)
	}
	if !floatNear(hit.U, 0.5) || !floatNear(hit.V, 0) {
		t.Fatalf("expected curve (u,v) to be (0.5,0); got (%f,%f)", hit.U, hit.V)
	}
}

func TestTraverseRobust(t *testing.T) {
	tree, err := Build([]Geom{
		{ID: 0, Mask: 0xffffffff, Tris: []Triangle{triAt(0, 0, 1, 0)}},
	}, BuildOptions{Robust: true})
	if err != nil {
		t.Fatal(err)
	}

	tr := NewTraverser()
	if _, found := tr.Nearest(tree, zRay(0.25, 0.25), nil); !found {
		t.Fatalf("expected robust traversal to find the hit")
	}
}

func TestTraverserReuse(t *testing.T) {
	tree, err := Build([]Geom{
		{ID: 0, Mask: 0xffffffff, Tris: []Triangle{triAt(0, 0, 1, 0), triAt(3, 0, 2, 1)}},
	}, BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}

	// The same traverser services a batch of rays.
	tr := NewTraverser()
	type spec struct {
		x, y    float32
		expHit  bool
		expPrim uint32
	}
	specs := []spec{
		spec{0.25, 0.25, true, 0},
		spec{-3, -3, false, 0},
		spec{3.25, 0.25, true, 1},
		spec{0.25, 0.25, true, 0},
	}
	for index, s := range specs {
		hit, found := tr.Nearest(tree, zRay(s.x, s.y), nil)
		if found != s.expHit {
			t.Fatalf("[spec %d] expected hit to be %t; got %t", index, s.expHit, found)
		}
		if found && hit.PrimID != s.expPrim {
			t.Fatalf("[spec %d] expected primitive %d; got %d", index, s.expPrim, hit.PrimID)
		}
	}
}
