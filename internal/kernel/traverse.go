package kernel

import "github.com/achilleasa/castor/types"

// Widening factor applied to interval tests in robust mode; roughly four
// ulps at 1.0.
const robustPad = 4 * 1.1920929e-7

// A ray in kernel space. Dir does not need to be normalized; hit distances
// are expressed in units of Dir.
type Ray struct {
	Origin types.Vec3
	Dir    types.Vec3
	TNear  float32
	TFar   float32
	Mask   uint32
}

// A candidate or final hit produced by traversal. Ng is the unnormalized
// geometric normal in the space of the queried tree; InstIDs lists the
// instance chain outermost first and is nil for hits on directly attached
// geometry.
type Hit struct {
	T       float32
	U, V    float32
	GeomID  uint32
	PrimID  uint32
	InstIDs []uint32
	Ng      types.Vec3
}

// TraverseOpts tune a single traversal.
type TraverseOpts struct {
	// MinWidth grows curve segment radii, clamped to the ceiling the tree
	// was built with.
	MinWidth float32

	// Accept, when set, is invoked for every candidate hit. Returning
	// false rejects the candidate and traversal continues as if the
	// primitive had been missed.
	Accept func(*Hit) bool
}

type instFrame struct {
	id        uint32
	normalMat types.Mat3
}

// A Traverser holds the reusable state for tree walks: the node stack and
// the active instance chain. It is not safe for concurrent use; callers
// amortize one traverser across a batch of rays.
type Traverser struct {
	stack  []int32
	frames []instFrame

	opts    *TraverseOpts
	tNear   float32
	curFar  float32
	mask    uint32
	best    Hit
	found   bool
	anyMode bool
}

func NewTraverser() *Traverser {
	return &Traverser{
		stack:  make([]int32, 0, 64),
		frames: make([]instFrame, 0, 4),
	}
}

// Nearest returns the closest accepted hit along the ray, if any.
func (tr *Traverser) Nearest(t *Tree, r Ray, opts *TraverseOpts) (Hit, bool) {
	tr.reset(r, opts, false)
	tr.walk(t, r.Origin, r.Dir)
	return tr.best, tr.found
}

// Any reports whether the ray hits anything the filter accepts. Traversal
// stops at the first accepted hit.
func (tr *Traverser) Any(t *Tree, r Ray, opts *TraverseOpts) bool {
	tr.reset(r, opts, true)
	tr.walk(t, r.Origin, r.Dir)
	return tr.found
}

func (tr *Traverser) reset(r Ray, opts *TraverseOpts, anyMode bool) {
	tr.stack = tr.stack[:0]
	tr.frames = tr.frames[:0]
	tr.opts = opts
	tr.tNear = r.TNear
	tr.curFar = r.TFar
	tr.mask = r.Mask
	tr.best = Hit{}
	tr.found = false
	tr.anyMode = anyMode
}

// Walk the top tree. Returns true when an any-mode hit terminates traversal.
func (tr *Traverser) walk(t *Tree, org, dir types.Vec3) bool {
	if len(t.Nodes) == 0 || len(t.Items) == 0 {
		return false
	}

	rcp := recip(dir)
	base := len(tr.stack)
	tr.stack = append(tr.stack, 0)

	for len(tr.stack) > base {
		ni := tr.stack[len(tr.stack)-1]
		tr.stack = tr.stack[:len(tr.stack)-1]
		node := &t.Nodes[ni]
		if _, hit := slabTest(node, org, rcp, tr.tNear, tr.curFar, t.Robust); !hit {
			continue
		}

		if node.IsLeaf() {
			first, count := node.Leaf()
			for k := first; k < first+count; k++ {
				item := &t.Items[t.LeafItems[k]]
				if item.Mask&tr.mask == 0 {
					continue
				}
				if tr.visitItem(t, item, org, dir) {
					tr.stack = tr.stack[:base]
					return true
				}
			}
			continue
		}

		tr.pushChildren(t, node, org, rcp)
	}
	return false
}

// Resolve a top level leaf item: meshes descend into their bottom tree,
// instances re-origin the ray and recurse into the captured sub-tree.
func (tr *Traverser) visitItem(t *Tree, item *Item, org, dir types.Vec3) bool {
	if item.Kind == GeomInstance {
		org2 := item.Inv.Mul4x1(org.Vec4(1)).Vec3()
		dir2 := item.Inv.Mul4x1(dir.Vec4(0)).Vec3()
		tr.frames = append(tr.frames, instFrame{id: item.GeomID, normalMat: item.NormalMat})
		stop := tr.walk(item.sub, org2, dir2)
		tr.frames = tr.frames[:len(tr.frames)-1]
		return stop
	}
	return tr.walkBottom(t, item, org, dir)
}

// Walk a bottom tree testing leaf primitives.
func (tr *Traverser) walkBottom(t *Tree, item *Item, org, dir types.Vec3) bool {
	rcp := recip(dir)
	base := len(tr.stack)
	tr.stack = append(tr.stack, item.BottomRoot)

	for len(tr.stack) > base {
		ni := tr.stack[len(tr.stack)-1]
		tr.stack = tr.stack[:len(tr.stack)-1]
		node := &t.Nodes[ni]
		if _, hit := slabTest(node, org, rcp, tr.tNear, tr.curFar, t.Robust); !hit {
			continue
		}

		if !node.IsLeaf() {
			tr.pushChildren(t, node, org, rcp)
			continue
		}

		first, count := node.Leaf()
		switch item.Kind {
		case GeomSegments:
			for k := first; k < first+count; k++ {
				seg := &t.Segs[k]
				hitT, u, ng, ok := intersectSegment(org, dir, seg, tr.minWidth(), tr.tNear, tr.curFar)
				if !ok {
					continue
				}
				if tr.consider(hitT, item.GeomID, seg.PrimID, u, 0, ng) && tr.anyMode {
					tr.stack = tr.stack[:base]
					return true
				}
			}
		default:
			for k := first; k < first+count; k++ {
				tri := &t.Tris[k]
				hitT, u, v, ok := intersectTriangle(org, dir, tri, tr.tNear, tr.curFar)
				if !ok {
					continue
				}
				if tri.UVFlip != 0 {
					u, v = 1-u, 1-v
				}
				if tr.consider(hitT, item.GeomID, tri.PrimID, u, v, triangleNormal(tri)) && tr.anyMode {
					tr.stack = tr.stack[:base]
					return true
				}
			}
		}
	}
	return false
}

// Push the children of an inner node, near child last so it pops first.
func (tr *Traverser) pushChildren(t *Tree, node *Node, org, rcp types.Vec3) {
	left, right := node.ChildNodes()
	tl, hitL := slabTest(&t.Nodes[left], org, rcp, tr.tNear, tr.curFar, t.Robust)
	tright, hitR := slabTest(&t.Nodes[right], org, rcp, tr.tNear, tr.curFar, t.Robust)

	switch {
	case hitL && hitR:
		if tl <= tright {
			tr.stack = append(tr.stack, int32(right), int32(left))
		} else {
			tr.stack = append(tr.stack, int32(left), int32(right))
		}
	case hitL:
		tr.stack = append(tr.stack, int32(left))
	case hitR:
		tr.stack = append(tr.stack, int32(right))
	}
}

// Score a candidate hit against the current best and the filter. The normal
// is mapped back through the active instance chain so the callback and the
// final hit always see the queried scene's space.
func (tr *Traverser) consider(t float32, geomID, primID uint32, u, v float32, ng types.Vec3) bool {
	for i := len(tr.frames) - 1; i >= 0; i-- {
		ng = tr.frames[i].normalMat.Mul3x1(ng)
	}

	h := Hit{T: t, U: u, V: v, GeomID: geomID, PrimID: primID, Ng: ng}
	if len(tr.frames) > 0 {
		h.InstIDs = make([]uint32, len(tr.frames))
		for i, f := range tr.frames {
			h.InstIDs[i] = f.id
		}
	}

	if tr.opts != nil && tr.opts.Accept != nil && !tr.opts.Accept(&h) {
		return false
	}

	tr.best = h
	tr.found = true
	if !tr.anyMode {
		tr.curFar = t
	}
	return true
}

func (tr *Traverser) minWidth() float32 {
	if tr.opts == nil {
		return 0
	}
	return tr.opts.MinWidth
}

// Slab test of a ray against a node bounding box over [tmin, tmax]. Returns
// the entry distance for near child ordering. Comparisons are written so
// NaN lanes (origin on a slab with a zero direction component) fail open.
func slabTest(n *Node, org, rcp types.Vec3, tmin, tmax float32, robust bool) (float32, bool) {
	near := tmin
	far := tmax

	for axis := 0; axis < 3; axis++ {
		t0 := (n.Min[axis] - org[axis]) * rcp[axis]
		t1 := (n.Max[axis] - org[axis]) * rcp[axis]
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		if t0 > near {
			near = t0
		}
		if t1 < far {
			far = t1
		}
	}

	if robust {
		pad := float32(robustPad)
		if near < 0 {
			near += near * pad
		} else {
			near -= near * pad
		}
		if far < 0 {
			far -= far * pad
		} else {
			far += far * pad
		}
	}

	return near, near <= far
}

func recip(v types.Vec3) types.Vec3 {
	return types.Vec3{1 / v[0], 1 / v[1], 1 / v[2]}
}
