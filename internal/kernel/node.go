// Package kernel implements the acceleration engine behind the castor API: a
// two-level bounding volume hierarchy over flattened primitives, an SAH-based
// builder and an iterative traverser. The top tree partitions scene items
// (meshes and instances); each mesh contributes a bottom tree whose nodes are
// appended to the same node list with offset-patched child links.
package kernel

import (
	"errors"
	"unsafe"

	"github.com/achilleasa/castor/types"
)

var (
	errEmptyTreeList  = errors.New("kernel: empty tree list")
	errBadSubIndex    = errors.New("kernel: sub-tree index out of range")
	errCyclicTreeList = errors.New("kernel: cyclic instance graph")
)

// Node layout used by both tree levels. Each node takes 32 bytes.
//
// - For inner nodes, L and R are > 0 and contain the indices of the left
//   and right child node.
// - For top level leafs, L is <= 0 and contains the negated index of the
//   first leaf item while R contains the item count.
// - For bottom level leafs, L is <= 0 and contains the negated index of the
//   first primitive while R contains the primitive count.
type Node struct {
	Min types.Vec3
	L   int32

	Max types.Vec3
	R   int32
}

// Set bounding box.
func (n *Node) SetBBox(bbox [2]types.Vec3) {
	n.Min = bbox[0]
	n.Max = bbox[1]
}

// Set left and right child node indices.
func (n *Node) SetChildNodes(left, right uint32) {
	n.L = int32(left)
	n.R = int32(right)
}

// Set first item index and item count for a leaf.
func (n *Node) SetLeaf(first, count uint32) {
	n.L = -int32(first)
	n.R = int32(count)
}

// A node is a leaf when its left data link is not a child index.
func (n *Node) IsLeaf() bool {
	return n.L <= 0
}

// Get first item index and item count for a leaf.
func (n *Node) Leaf() (first, count uint32) {
	return uint32(-n.L), uint32(n.R)
}

// Get left and right child node indices.
func (n *Node) ChildNodes() (left, right uint32) {
	return uint32(n.L), uint32(n.R)
}

// Add offset to indices of child nodes. Leafs are ignored.
func (n *Node) OffsetChildNodes(offset int32) {
	if n.L <= 0 {
		return
	}

	n.L += offset
	n.R += offset
}

// Add offset to the first item index of a leaf. Inner nodes are ignored.
func (n *Node) OffsetLeaf(offset uint32) {
	if n.L > 0 {
		return
	}

	n.L -= int32(offset)
}

// Item kinds referenced by top level leafs.
const (
	GeomTriangles uint8 = iota
	GeomSegments
	GeomInstance
)

// A triangle in the local space of its geometry. Quads are split into two
// triangles at build time; the second half carries UVFlip so that hit
// coordinates can be remapped back to the bilinear patch parametrization.
type Triangle struct {
	V0, V1, V2 types.Vec3

	PrimID uint32
	UVFlip uint8
}

func (t *Triangle) BBox() [2]types.Vec3 {
	return [2]types.Vec3{
		types.MinVec3(types.MinVec3(t.V0, t.V1), t.V2),
		types.MaxVec3(types.MaxVec3(t.V0, t.V1), t.V2),
	}
}

func (t *Triangle) Center() types.Vec3 {
	return t.V0.Add(t.V1).Add(t.V2).Mul(1.0 / 3.0)
}

// A linear curve segment with per-endpoint radii. CR0/CR1 are the radius
// ceilings the bounds were built with; query-time minimum-width clamping may
// grow the effective radius up to the ceiling but never past it.
type Segment struct {
	P0, P1 types.Vec3

	R0, R1   float32
	CR0, CR1 float32

	PrimID uint32
}

func (s *Segment) BBox() [2]types.Vec3 {
	r := s.CR0
	if s.CR1 > r {
		r = s.CR1
	}
	pad := types.XYZ(r, r, r)
	return [2]types.Vec3{
		types.MinVec3(s.P0, s.P1).Sub(pad),
		types.MaxVec3(s.P0, s.P1).Add(pad),
	}
}

func (s *Segment) Center() types.Vec3 {
	return s.P0.Add(s.P1).Mul(0.5)
}

// A top level item: one committed geometry. Mesh items point at the root of
// their bottom tree; instance items capture the sub-scene tree together with
// the world-to-local transform used to re-origin rays during traversal and
// the matrix that maps local normals back to the parent space.
type Item struct {
	GeomID uint32
	Mask   uint32
	Kind   uint8

	BottomRoot int32

	// Index of the captured sub-tree in a flattened snapshot; -1 when the
	// item is not an instance. The runtime link is kept unexported so that
	// gob skips it.
	SubIndex int32
	sub      *Tree

	Inv       types.Mat4
	NormalMat types.Mat3
}

// The committed acceleration structure for one scene.
type Tree struct {
	Nodes     []Node
	Items     []Item
	LeafItems []uint32
	Tris      []Triangle
	Segs      []Segment
	Robust    bool
}

// World space bounds of the tree. Returns a zero box for empty trees.
func (t *Tree) Bounds() [2]types.Vec3 {
	if len(t.Items) == 0 || len(t.Nodes) == 0 {
		return [2]types.Vec3{}
	}
	return [2]types.Vec3{t.Nodes[0].Min, t.Nodes[0].Max}
}

// Bytes held by this tree's own storage. Captured sub-trees are owned by
// their scenes and are not counted.
func (t *Tree) MemoryFootprint() int {
	return len(t.Nodes)*int(unsafe.Sizeof(Node{})) +
		len(t.Items)*int(unsafe.Sizeof(Item{})) +
		len(t.LeafItems)*4 +
		len(t.Tris)*int(unsafe.Sizeof(Triangle{})) +
		len(t.Segs)*int(unsafe.Sizeof(Segment{}))
}

// Flatten the instance graph reachable from root into a list suitable for
// serialization. The root tree is always at index 0; shared sub-trees appear
// exactly once. Item copies carry their sub-tree list index in SubIndex.
func Flatten(root *Tree) []Tree {
	index := map[*Tree]int32{root: 0}
	order := []*Tree{root}
	for scan := 0; scan < len(order); scan++ {
		for _, item := range order[scan].Items {
			if item.sub == nil {
				continue
			}
			if _, seen := index[item.sub]; !seen {
				index[item.sub] = int32(len(order))
				order = append(order, item.sub)
			}
		}
	}

	out := make([]Tree, len(order))
	for i, t := range order {
		out[i] = *t
		out[i].Items = make([]Item, len(t.Items))
		copy(out[i].Items, t.Items)
		for j := range out[i].Items {
			item := &out[i].Items[j]
			if item.sub != nil {
				item.SubIndex = index[item.sub]
				item.sub = nil
			} else {
				item.SubIndex = -1
			}
		}
	}
	return out
}

// Link restores the runtime sub-tree pointers of a flattened tree list and
// returns the root. The list is validated: sub indices must be in range and
// the instance graph must be acyclic.
func Link(trees []Tree) (*Tree, error) {
	if len(trees) == 0 {
		return nil, errEmptyTreeList
	}

	for i := range trees {
		for j := range trees[i].Items {
			item := &trees[i].Items[j]
			if item.Kind != GeomInstance {
				continue
			}
			if item.SubIndex < 0 || int(item.SubIndex) >= len(trees) {
				return nil, errBadSubIndex
			}
			item.sub = &trees[item.SubIndex]
		}
	}

	// Reject cycles introduced by a corrupt payload.
	state := make(map[*Tree]int, len(trees))
	var visit func(t *Tree) error
	visit = func(t *Tree) error {
		switch state[t] {
		case 1:
			return errCyclicTreeList
		case 2:
			return nil
		}
		state[t] = 1
		for i := range t.Items {
			if t.Items[i].sub == nil {
				continue
			}
			if err := visit(t.Items[i].sub); err != nil {
				return err
			}
		}
		state[t] = 2
		return nil
	}
	if err := visit(&trees[0]); err != nil {
		return nil, err
	}

	return &trees[0], nil
}
