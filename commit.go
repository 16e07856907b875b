package castor

import (
	"fmt"
	"time"

	"github.com/achilleasa/castor/internal/kernel"
	"github.com/achilleasa/castor/log"
)

var sceneLog = log.New("scene")

// Quality trades commit latency for query throughput.
type Quality uint8

const (
	QualityDefault Quality = iota
	QualityLow
	QualityMedium
	QualityHigh
)

// CommitOptions configure a build. Committing twice with equal options and
// no intervening mutation is a no-op.
type CommitOptions struct {
	Quality Quality

	// Dynamic favors rebuild speed over tree quality for scenes that are
	// re-committed often.
	Dynamic bool

	// Robust widens traversal interval tests to avoid misses caused by
	// floating point rounding, at a small query cost.
	Robust bool
}

// Split candidates scored per axis during the build.
func (q Quality) splitCandidates(dynamic bool) int {
	var n int
	switch q {
	case QualityLow:
		n = 64
	case QualityHigh:
		n = 1024
	default:
		n = 256
	}
	if dynamic {
		n /= 4
		if n < 32 {
			n = 32
		}
	}
	return n
}

func (q Quality) minLeafItems() int {
	switch q {
	case QualityLow:
		return 16
	case QualityHigh:
		return 4
	default:
		return 10
	}
}

// Commit validates the attached geometry set, builds the spatial index and
// moves the scene to the committed state. On failure the scene remains in
// the building state and the returned CommitError wraps the cause:
// an IncompleteGeometryError, ErrCyclicInstance, ErrNotCommitted for
// instances of uncommitted scenes, ErrOutOfBounds for indices referencing
// missing vertices, or ErrOutOfMemory when the device carries a memory
// budget.
func (s *Scene) Commit(opts CommitOptions) error {
	if s.closed {
		return ErrClosed
	}
	if s.state == sceneCommitted && !s.dirty && opts == s.opts {
		sceneLog.Debugf("%s: commit is a no-op", s.label)
		return nil
	}
	s.invalidate()

	start := time.Now()
	if err := s.checkCycles(); err != nil {
		return &CommitError{Cause: err}
	}

	geoms := make([]kernel.Geom, 0, len(s.order))
	frozen := make([]*Buffer, 0, len(s.order))
	for _, id := range s.order {
		g := s.geoms[id]
		for _, buf := range g.buffers {
			frozen = append(frozen, buf)
		}
		if !g.enabled {
			continue
		}
		kg, err := s.resolveGeometry(id, g)
		if err != nil {
			return &CommitError{Cause: err}
		}
		geoms = append(geoms, kg)
	}

	tree, err := kernel.Build(geoms, kernel.BuildOptions{
		SplitCandidates: opts.Quality.splitCandidates(opts.Dynamic),
		MinLeafItems:    opts.Quality.minLeafItems(),
		Robust:          opts.Robust,
		Pool:            s.dev.pool,
	})
	if err != nil {
		return &CommitError{Cause: err}
	}
	if budget := s.dev.memBudget; budget > 0 && tree.MemoryFootprint() > budget {
		return &CommitError{Cause: fmt.Errorf("%w: index footprint %d bytes exceeds the device budget of %d bytes", ErrOutOfMemory, tree.MemoryFootprint(), budget)}
	}

	for _, buf := range frozen {
		buf.freeze()
	}
	s.frozen = frozen
	s.tree = tree
	s.state = sceneCommitted
	s.dirty = false
	s.opts = opts

	sceneLog.Debugf(
		"%s: committed %d geometries (%d nodes) in %d ms",
		s.label,
		len(geoms),
		len(tree.Nodes),
		time.Since(start).Nanoseconds()/1e6,
	)
	return nil
}

// Depth-first walk over the scene graph spanned by enabled instance
// geometries. A scene revisited while still on the walk stack closes a
// cycle.
func (s *Scene) checkCycles() error {
	const (
		walking = 1
		done    = 2
	)
	seen := make(map[*Scene]uint8)

	var visit func(sc *Scene) error
	visit = func(sc *Scene) error {
		seen[sc] = walking
		for _, id := range sc.order {
			g := sc.geoms[id]
			if g.kind != InstanceGeometry || !g.enabled || g.sub == nil {
				continue
			}
			switch seen[g.sub] {
			case walking:
				return fmt.Errorf("%w: geometry %d of %s closes a cycle", ErrCyclicInstance, id, sc.label)
			case done:
			default:
				if err := visit(g.sub); err != nil {
					return err
				}
			}
		}
		seen[sc] = done
		return nil
	}
	return visit(s)
}

// Validate one enabled geometry and flatten it into the builder's input
// form. Quads are split into two triangles sharing the quad's primitive id,
// with flipped UVs on the second half so hits report bilinear patch
// coordinates.
func (s *Scene) resolveGeometry(id GeometryID, g *Geometry) (kernel.Geom, error) {
	kg := kernel.Geom{ID: uint32(id), Mask: g.mask}

	require := func(slot BufferSlot) (*Buffer, error) {
		buf := g.buffers[slot]
		if buf == nil {
			return nil, &IncompleteGeometryError{ID: id, Kind: g.kind, Slot: slot}
		}
		return buf, nil
	}

	switch g.kind {
	case TriangleGeometry:
		verts, err := require(VertexSlot)
		if err != nil {
			return kg, err
		}
		index, err := require(IndexSlot)
		if err != nil {
			return kg, err
		}
		kg.Tris = make([]kernel.Triangle, index.count)
		for i := 0; i < index.count; i++ {
			tri := index.uint3At(i)
			for _, v := range tri {
				if int(v) >= verts.count {
					return kg, fmt.Errorf("%w: triangle %d of geometry %d references vertex %d of %d", ErrOutOfBounds, i, id, v, verts.count)
				}
			}
			kg.Tris[i] = kernel.Triangle{
				V0:     verts.vec3At(int(tri[0])),
				V1:     verts.vec3At(int(tri[1])),
				V2:     verts.vec3At(int(tri[2])),
				PrimID: uint32(i),
			}
		}
	case QuadGeometry:
		verts, err := require(VertexSlot)
		if err != nil {
			return kg, err
		}
		index, err := require(IndexSlot)
		if err != nil {
			return kg, err
		}
		kg.Tris = make([]kernel.Triangle, 0, index.count*2)
		for i := 0; i < index.count; i++ {
			quad := index.uint4At(i)
			for _, v := range quad {
				if int(v) >= verts.count {
					return kg, fmt.Errorf("%w: quad %d of geometry %d references vertex %d of %d", ErrOutOfBounds, i, id, v, verts.count)
				}
			}
			v0 := verts.vec3At(int(quad[0]))
			v1 := verts.vec3At(int(quad[1]))
			v2 := verts.vec3At(int(quad[2]))
			v3 := verts.vec3At(int(quad[3]))
			kg.Tris = append(kg.Tris,
				kernel.Triangle{V0: v0, V1: v1, V2: v3, PrimID: uint32(i)},
				kernel.Triangle{V0: v2, V1: v3, V2: v1, PrimID: uint32(i), UVFlip: 1},
			)
		}
	case CurveGeometry:
		verts, err := require(VertexSlot)
		if err != nil {
			return kg, err
		}
		radii, err := require(WidthSlot)
		if err != nil {
			return kg, err
		}
		index, err := require(IndexSlot)
		if err != nil {
			return kg, err
		}
		kg.Segs = make([]kernel.Segment, index.count)
		for i := 0; i < index.count; i++ {
			first := int(index.uintAt(i))
			if first+1 >= verts.count || first+1 >= radii.count {
				return kg, fmt.Errorf("%w: segment %d of geometry %d starts at control point %d of %d", ErrOutOfBounds, i, id, first, verts.count)
			}
			r0, r1 := radii.floatAt(first), radii.floatAt(first+1)
			if r0 < 0 || r1 < 0 {
				return kg, fmt.Errorf("castor: segment %d of geometry %d has a negative radius", i, id)
			}
			kg.Segs[i] = kernel.Segment{
				P0:     verts.vec3At(first),
				P1:     verts.vec3At(first + 1),
				R0:     r0,
				R1:     r1,
				CR0:    r0 * g.maxRadiusScale,
				CR1:    r1 * g.maxRadiusScale,
				PrimID: uint32(i),
			}
		}
	case InstanceGeometry:
		if g.sub == nil {
			return kg, &IncompleteGeometryError{ID: id, Kind: g.kind, Slot: SceneSlot}
		}
		if g.sub.state != sceneCommitted {
			return kg, fmt.Errorf("%w: instance geometry %d references scene %s", ErrNotCommitted, id, g.sub.label)
		}
		kg.Sub = g.sub.tree
		kg.Transform = g.transform
	}
	return kg, nil
}
