package castor

import (
	"fmt"

	"github.com/achilleasa/castor/internal/kernel"
	"github.com/achilleasa/castor/types"
)

// GeometryID is the dense handle a scene assigns to an attached geometry.
// Handles are never reused for the scene's lifetime, even after a detach.
type GeometryID uint32

type sceneState uint8

const (
	sceneBuilding sceneState = iota
	sceneCommitted
)

// SceneOptions configure scene creation.
type SceneOptions struct {
	// Label names the scene in log output. Auto generated when empty.
	Label string
}

// Scene is a container of geometries behind a two state machine: a building
// scene accepts attach/detach and geometry mutation, a committed scene is
// immutable and answers intersection queries. Commit performs the
// building -> committed transition; any structural mutation forces the scene
// back to building and discards the committed index.
type Scene struct {
	dev   *Device
	label string

	geoms  map[GeometryID]*Geometry
	order  []GeometryID
	nextID GeometryID

	state sceneState
	dirty bool
	opts  CommitOptions

	tree   *kernel.Tree
	frozen []*Buffer

	instRefs int
	closed   bool
}

// NewScene creates an empty scene in the building state.
func (d *Device) NewScene(opts SceneOptions) (*Scene, error) {
	if d.closed {
		return nil, ErrClosed
	}

	label := opts.Label
	if label == "" {
		d.sceneSeq++
		label = fmt.Sprintf("scene-%d", d.sceneSeq)
	}
	sc := &Scene{
		dev:   d,
		label: label,
		geoms: make(map[GeometryID]*Geometry),
	}
	d.retain()
	return sc, nil
}

// Label returns the scene's log label.
func (s *Scene) Label() string {
	return s.label
}

// Committed reports whether the scene currently holds a queryable index.
func (s *Scene) Committed() bool {
	return s.state == sceneCommitted
}

// Attach adds a geometry to the scene and returns its handle. Attaching to
// a committed scene first forces it back to the building state. A geometry
// can be attached to at most one scene at a time.
func (s *Scene) Attach(g *Geometry) (GeometryID, error) {
	if s.closed || g.closed {
		return 0, ErrClosed
	}
	if g.dev != s.dev {
		return 0, ErrDeviceMismatch
	}
	if g.scene != nil {
		return 0, fmt.Errorf("%w: already attached as geometry %d", ErrGeometryAttached, g.id)
	}

	if s.state == sceneCommitted {
		s.invalidate()
	}
	id := s.nextID
	s.nextID++
	s.geoms[id] = g
	s.order = append(s.order, id)
	g.scene, g.id = s, id
	return id, nil
}

// Detach removes a geometry from the scene. The geometry survives and can
// be attached elsewhere; its handle is not reused.
func (s *Scene) Detach(id GeometryID) error {
	if s.closed {
		return ErrClosed
	}
	g, ok := s.geoms[id]
	if !ok {
		return fmt.Errorf("%w: geometry %d", ErrUnknownID, id)
	}

	if s.state == sceneCommitted {
		s.invalidate()
	}
	delete(s.geoms, id)
	for i, gid := range s.order {
		if gid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	g.scene = nil
	return nil
}

// Geometry resolves an attached geometry by handle.
func (s *Scene) Geometry(id GeometryID) (*Geometry, error) {
	if s.closed {
		return nil, ErrClosed
	}
	g, ok := s.geoms[id]
	if !ok {
		return nil, fmt.Errorf("%w: geometry %d", ErrUnknownID, id)
	}
	return g, nil
}

// Bounds returns the world space bounding box of the committed index.
func (s *Scene) Bounds() ([2]types.Vec3, error) {
	if s.closed {
		return [2]types.Vec3{}, ErrClosed
	}
	if s.state != sceneCommitted {
		return [2]types.Vec3{}, ErrNotCommitted
	}
	return s.tree.Bounds(), nil
}

// Close releases the scene. It fails with ErrSceneInUse while instance
// geometries still reference it; attached geometries are detached and
// survive the scene.
func (s *Scene) Close() error {
	if s.closed {
		return nil
	}
	if s.instRefs > 0 {
		return fmt.Errorf("%w: %d instance references", ErrSceneInUse, s.instRefs)
	}

	s.invalidate()
	for _, id := range s.order {
		s.geoms[id].scene = nil
	}
	s.geoms, s.order = nil, nil
	s.closed = true
	s.dev.release()
	return nil
}

// Drop the committed index and thaw the buffers it froze.
func (s *Scene) invalidate() {
	s.state = sceneBuilding
	s.tree = nil
	for _, buf := range s.frozen {
		buf.unfreeze()
	}
	s.frozen = nil
}
