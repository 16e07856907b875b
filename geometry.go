package castor

import (
	"fmt"

	"github.com/achilleasa/castor/types"
)

// GeometryKind selects the shape category of a geometry.
type GeometryKind uint8

const (
	TriangleGeometry GeometryKind = iota
	QuadGeometry
	CurveGeometry
	InstanceGeometry
)

func (k GeometryKind) String() string {
	switch k {
	case TriangleGeometry:
		return "triangle"
	case QuadGeometry:
		return "quad"
	case CurveGeometry:
		return "curve"
	case InstanceGeometry:
		return "instance"
	}
	panic("castor: unsupported geometry kind")
}

// BufferSlot names a data channel of a geometry.
type BufferSlot uint8

const (
	VertexSlot BufferSlot = iota
	IndexSlot
	WidthSlot

	// SceneSlot is not a buffer slot; it appears in IncompleteGeometryError
	// when an instance geometry is committed without a target scene.
	SceneSlot
)

func (s BufferSlot) String() string {
	switch s {
	case VertexSlot:
		return "vertex"
	case IndexSlot:
		return "index"
	case WidthSlot:
		return "width"
	case SceneSlot:
		return "scene"
	}
	panic("castor: unsupported buffer slot")
}

// Element type expected by a kind/slot pair. The second return flags slots
// the kind does not carry at all.
func slotType(kind GeometryKind, slot BufferSlot) (ElementType, bool) {
	switch kind {
	case TriangleGeometry:
		switch slot {
		case VertexSlot:
			return Float3, true
		case IndexSlot:
			return UInt3, true
		}
	case QuadGeometry:
		switch slot {
		case VertexSlot:
			return Float3, true
		case IndexSlot:
			return UInt4, true
		}
	case CurveGeometry:
		switch slot {
		case VertexSlot:
			return Float3, true
		case IndexSlot:
			return UInt, true
		case WidthSlot:
			return Float, true
		}
	}
	return 0, false
}

// Geometry is a typed shape description assembled from buffers. Triangle
// meshes take Float3 vertices and UInt3 indices, quad meshes UInt4 indices,
// curves Float3 control points with per point Float radii and UInt segment
// indices. Instances reference another committed scene through a transform.
//
// A geometry attached to a committed scene is logically frozen: its buffers
// reject writes and structural setters force the owning scene back to the
// building state.
type Geometry struct {
	dev  *Device
	kind GeometryKind

	buffers   map[BufferSlot]*Buffer
	sub       *Scene
	transform types.Mat4
	mask      uint32
	enabled   bool

	// Curve radii may be grown at query time up to radius*maxRadiusScale.
	maxRadiusScale float32

	// Owning scene and handle while attached.
	scene *Scene
	id    GeometryID

	closed bool
}

// NewGeometry creates a detached geometry of the given kind with all mask
// bits set and no buffers bound.
func (d *Device) NewGeometry(kind GeometryKind) (*Geometry, error) {
	if d.closed {
		return nil, ErrClosed
	}
	if kind > InstanceGeometry {
		return nil, fmt.Errorf("%w: unknown geometry kind %d", ErrTypeMismatch, kind)
	}

	geom := &Geometry{
		dev:            d,
		kind:           kind,
		buffers:        make(map[BufferSlot]*Buffer),
		transform:      types.Ident4(),
		mask:           ^uint32(0),
		enabled:        true,
		maxRadiusScale: 1,
	}
	d.retain()
	return geom, nil
}

// Kind returns the shape category.
func (g *Geometry) Kind() GeometryKind {
	return g.kind
}

// Enabled reports whether the geometry takes part in the next commit.
func (g *Geometry) Enabled() bool {
	return g.enabled
}

// Mask returns the geometry mask tested against Ray.Mask during traversal.
func (g *Geometry) Mask() uint32 {
	return g.mask
}

// SetBuffer binds a buffer to one of the geometry's slots, replacing any
// previous binding. The buffer's element type must match the slot.
func (g *Geometry) SetBuffer(slot BufferSlot, buf *Buffer) error {
	if g.closed {
		return ErrClosed
	}
	if buf == nil || buf.closed {
		return ErrClosed
	}
	if buf.dev != g.dev {
		return ErrDeviceMismatch
	}
	want, ok := slotType(g.kind, slot)
	if !ok {
		return fmt.Errorf("%w: %s geometries have no %s slot", ErrTypeMismatch, g.kind, slot)
	}
	if buf.elem != want {
		return fmt.Errorf("%w: %s slot of a %s geometry wants %s elements; got %s", ErrTypeMismatch, slot, g.kind, want, buf.elem)
	}

	g.invalidateOwner()
	if old := g.buffers[slot]; old != nil {
		old.unhold()
	}
	buf.hold()
	g.buffers[slot] = buf
	return nil
}

// SetTransform sets the local to parent transform of an instance geometry.
func (g *Geometry) SetTransform(m types.Mat4) error {
	if g.closed {
		return ErrClosed
	}
	if g.kind != InstanceGeometry {
		return fmt.Errorf("%w: %s geometries do not carry a transform", ErrTypeMismatch, g.kind)
	}
	g.invalidateOwner()
	g.transform = m
	return nil
}

// SetInstanceScene points an instance geometry at the scene it replicates.
// The target must be committed by the time the owning scene commits. Passing
// nil clears the reference.
func (g *Geometry) SetInstanceScene(sub *Scene) error {
	if g.closed {
		return ErrClosed
	}
	if g.kind != InstanceGeometry {
		return fmt.Errorf("%w: %s geometries cannot reference a scene", ErrTypeMismatch, g.kind)
	}
	if sub != nil {
		if sub.closed {
			return ErrClosed
		}
		if sub.dev != g.dev {
			return ErrDeviceMismatch
		}
	}

	g.invalidateOwner()
	if g.sub != nil {
		g.sub.instRefs--
	}
	g.sub = sub
	if sub != nil {
		sub.instRefs++
	}
	return nil
}

// SetMask filters the geometry out of queries whose Ray.Mask does not share
// a bit with mask.
func (g *Geometry) SetMask(mask uint32) error {
	if g.closed {
		return ErrClosed
	}
	g.invalidateOwner()
	g.mask = mask
	return nil
}

// SetMaxRadiusScale bounds how far query-time min-width handling may grow
// this curve's radii. The ceiling is baked into the index at commit.
func (g *Geometry) SetMaxRadiusScale(scale float32) error {
	if g.closed {
		return ErrClosed
	}
	if g.kind != CurveGeometry {
		return fmt.Errorf("%w: %s geometries have no radius to scale", ErrTypeMismatch, g.kind)
	}
	if scale < 1 {
		return fmt.Errorf("castor: max radius scale must be at least 1; got %g", scale)
	}
	g.invalidateOwner()
	g.maxRadiusScale = scale
	return nil
}

// Enable includes the geometry in the next commit. The toggle is deferred:
// a committed owning scene stays queryable with its current index until it
// is re-committed.
func (g *Geometry) Enable() error {
	return g.setEnabled(true)
}

// Disable excludes the geometry from the next commit without detaching it.
// Like Enable, the toggle only takes effect at the next commit.
func (g *Geometry) Disable() error {
	return g.setEnabled(false)
}

func (g *Geometry) setEnabled(enabled bool) error {
	if g.closed {
		return ErrClosed
	}
	if g.enabled != enabled && g.scene != nil {
		g.scene.dirty = true
	}
	g.enabled = enabled
	return nil
}

// Close releases the geometry's buffer holds and scene reference. Attached
// geometries must be detached first.
func (g *Geometry) Close() error {
	if g.closed {
		return nil
	}
	if g.scene != nil {
		return fmt.Errorf("%w: detach geometry %d first", ErrGeometryAttached, g.id)
	}

	for _, buf := range g.buffers {
		buf.unhold()
	}
	g.buffers = nil
	if g.sub != nil {
		g.sub.instRefs--
		g.sub = nil
	}
	g.closed = true
	g.dev.release()
	return nil
}

// Structural mutation of a geometry invalidates the owning scene's
// committed index.
func (g *Geometry) invalidateOwner() {
	if g.scene != nil && g.scene.state == sceneCommitted {
		g.scene.invalidate()
	}
}

// NewTriangleMesh builds a triangle geometry from vertex positions and per
// triangle vertex indices, backed by freshly allocated buffers.
func NewTriangleMesh(dev *Device, verts []types.Vec3, tris [][3]uint32) (*Geometry, error) {
	geom, err := dev.NewGeometry(TriangleGeometry)
	if err != nil {
		return nil, err
	}
	if err = bindSlot(geom, VertexSlot, Float3, len(verts), func(buf *Buffer) error {
		return buf.WriteFloat3(0, verts)
	}); err != nil {
		geom.Close()
		return nil, err
	}
	if err = bindSlot(geom, IndexSlot, UInt3, len(tris), func(buf *Buffer) error {
		return buf.WriteUInt3(0, tris)
	}); err != nil {
		geom.Close()
		return nil, err
	}
	return geom, nil
}

// NewQuadMesh builds a quad geometry from vertex positions and per quad
// vertex indices. Quad corners wind around the patch perimeter.
func NewQuadMesh(dev *Device, verts []types.Vec3, quads [][4]uint32) (*Geometry, error) {
	geom, err := dev.NewGeometry(QuadGeometry)
	if err != nil {
		return nil, err
	}
	if err = bindSlot(geom, VertexSlot, Float3, len(verts), func(buf *Buffer) error {
		return buf.WriteFloat3(0, verts)
	}); err != nil {
		geom.Close()
		return nil, err
	}
	if err = bindSlot(geom, IndexSlot, UInt4, len(quads), func(buf *Buffer) error {
		return buf.WriteUInt4(0, quads)
	}); err != nil {
		geom.Close()
		return nil, err
	}
	return geom, nil
}

// NewCurve builds a curve geometry from control points, one radius per
// control point and the first point index of each linear segment.
func NewCurve(dev *Device, points []types.Vec3, radii []float32, segments []uint32) (*Geometry, error) {
	if len(radii) != len(points) {
		return nil, fmt.Errorf("castor: curves want one radius per control point; got %d points and %d radii", len(points), len(radii))
	}
	geom, err := dev.NewGeometry(CurveGeometry)
	if err != nil {
		return nil, err
	}
	if err = bindSlot(geom, VertexSlot, Float3, len(points), func(buf *Buffer) error {
		return buf.WriteFloat3(0, points)
	}); err != nil {
		geom.Close()
		return nil, err
	}
	if err = bindSlot(geom, WidthSlot, Float, len(radii), func(buf *Buffer) error {
		return buf.WriteFloat(0, radii)
	}); err != nil {
		geom.Close()
		return nil, err
	}
	if err = bindSlot(geom, IndexSlot, UInt, len(segments), func(buf *Buffer) error {
		return buf.WriteUInt(0, segments)
	}); err != nil {
		geom.Close()
		return nil, err
	}
	return geom, nil
}

// NewInstance builds an instance geometry replicating sub under the given
// transform.
func NewInstance(dev *Device, sub *Scene, transform types.Mat4) (*Geometry, error) {
	geom, err := dev.NewGeometry(InstanceGeometry)
	if err != nil {
		return nil, err
	}
	if err = geom.SetInstanceScene(sub); err != nil {
		geom.Close()
		return nil, err
	}
	if err = geom.SetTransform(transform); err != nil {
		geom.Close()
		return nil, err
	}
	return geom, nil
}

// Allocate a buffer, fill it and bind it to the slot. The geometry hold
// keeps the storage alive, so the allocation reference is released before
// returning.
func bindSlot(g *Geometry, slot BufferSlot, elem ElementType, count int, fill func(*Buffer) error) error {
	buf, err := g.dev.NewBuffer(elem, count)
	if err != nil {
		return err
	}
	if err = fill(buf); err == nil {
		err = g.SetBuffer(slot, buf)
	}
	if relErr := buf.Release(); relErr != nil && err == nil {
		err = relErr
	}
	return err
}
