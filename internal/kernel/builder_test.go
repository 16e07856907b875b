package kernel

import (
	"testing"

	"github.com/achilleasa/castor/types"
)

func TestBuilderLeafCallback(t *testing.T) {
	type volSpec struct {
		min types.Vec3
		max types.Vec3
	}

	volSpecs := []volSpec{
		{types.Vec3{-2, 0, -2}, types.Vec3{-1, 1, -1}},
		{types.Vec3{1, 0, -2}, types.Vec3{2, 1, -1}},
		{types.Vec3{-2, 0, 1}, types.Vec3{-1, 1, 2}},
		{types.Vec3{1, 0, 1}, types.Vec3{2, 1, 2}},
	}

	itemList := make([]BoundedVolume, len(volSpecs))
	for idx, vs := range volSpecs {
		itemList[idx] = &itemVolume{
			index:  uint32(idx),
			bounds: [2]types.Vec3{vs.min, vs.max},
			center: vs.min.Add(vs.max).Mul(0.5),
		}
	}

	var cbCount = 0
	var expItemListCount = 0
	cb := func(leaf *Node, itemList []BoundedVolume) {
		cbCount++
		if len(itemList) != expItemListCount {
			t.Fatalf("expected leaf callback to be called with %d items; got %d", expItemListCount, len(itemList))
		}
	}

	var expCount = 0

	// Partition each item in a single leaf
	cbCount = 0
	expItemListCount = 1
	treeNodes := buildNodes(itemList, 1, 1024, cb)

	expCount = 4
	if cbCount != expCount {
		t.Fatalf("expected leaf callback to be called %d times; called %d", expCount, cbCount)
	}
	expCount = 7
	if len(treeNodes) != expCount {
		t.Fatalf("expected tree to have %d nodes; got %d", expCount, len(treeNodes))
	}

	// Partition two items in a single leaf
	cbCount = 0
	expItemListCount = 2
	treeNodes = buildNodes(itemList, 2, 1024, cb)

	expCount = 2
	if cbCount != expCount {
		t.Fatalf("expected leaf callback to be called %d times; called %d", expCount, cbCount)
	}
	expCount = 3
	if len(treeNodes) != expCount {
		t.Fatalf("expected tree to have %d nodes; got %d", expCount, len(treeNodes))
	}
}

func TestBuilderRootIsFirstNode(t *testing.T) {
	itemList := []BoundedVolume{
		&itemVolume{bounds: [2]types.Vec3{{-2, -2, -2}, {-1, -1, -1}}, center: types.Vec3{-1.5, -1.5, -1.5}},
		&itemVolume{bounds: [2]types.Vec3{{1, 1, 1}, {2, 2, 2}}, center: types.Vec3{1.5, 1.5, 1.5}},
	}

	nodes := buildNodes(itemList, 1, 1024, func(leaf *Node, itemList []BoundedVolume) {
		leaf.SetLeaf(0, uint32(len(itemList)))
	})

	root := nodes[0]
	if !vec3Eq(root.Min, types.Vec3{-2, -2, -2}) || !vec3Eq(root.Max, types.Vec3{2, 2, 2}) {
		t.Fatalf("expected root node to bound the full work list; got %v %v", root.Min, root.Max)
	}
	if root.IsLeaf() {
		t.Fatalf("expected root node to be an inner node")
	}
	left, right := root.ChildNodes()
	if int(left) >= len(nodes) || int(right) >= len(nodes) {
		t.Fatalf("expected child indices to be in range; got %d %d with %d nodes", left, right, len(nodes))
	}
}

func TestBuildTwoLevelTree(t *testing.T) {
	subTris := []Triangle{
		{V0: types.Vec3{0, 0, 0}, V1: types.Vec3{1, 0, 0}, V2: types.Vec3{0, 1, 0}, PrimID: 0},
	}
	sub, err := Build([]Geom{{ID: 0, Mask: 0xffffffff, Tris: subTris}}, BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}

	geoms := []Geom{
		{ID: 0, Mask: 0xffffffff, Tris: []Triangle{
			{V0: types.Vec3{-3, 0, 0}, V1: types.Vec3{-2, 0, 0}, V2: types.Vec3{-3, 1, 0}, PrimID: 0},
			{V0: types.Vec3{-3, 0, 1}, V1: types.Vec3{-2, 0, 1}, V2: types.Vec3{-3, 1, 1}, PrimID: 1},
		}},
		{ID: 1, Mask: 0xffffffff, Segs: []Segment{
			{P0: types.Vec3{2, 0, 0}, P1: types.Vec3{3, 0, 0}, R0: 0.25, R1: 0.25, CR0: 0.25, CR1: 0.25, PrimID: 0},
		}},
		{ID: 2, Mask: 0xffffffff, Sub: sub, Transform: types.Translate3D(10, 0, 0)},
	}

	tree, err := Build(geoms, BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}

	if len(tree.Items) != 3 {
		t.Fatalf("expected 3 items; got %d", len(tree.Items))
	}
	if tree.Items[0].Kind != GeomTriangles || tree.Items[1].Kind != GeomSegments || tree.Items[2].Kind != GeomInstance {
		t.Fatalf("unexpected item kinds: %d %d %d", tree.Items[0].Kind, tree.Items[1].Kind, tree.Items[2].Kind)
	}
	if tree.Items[2].BottomRoot != -1 || tree.Items[2].sub != sub {
		t.Fatalf("expected instance item to capture the sub-tree")
	}
	if len(tree.Tris) != 2 || len(tree.Segs) != 1 {
		t.Fatalf("expected flattened primitive lists of 2 and 1; got %d and %d", len(tree.Tris), len(tree.Segs))
	}

	// Bottom roots must point past the top tree portion of the node list.
	for _, item := range tree.Items[:2] {
		if item.BottomRoot <= 0 || int(item.BottomRoot) >= len(tree.Nodes) {
			t.Fatalf("expected bottom root to index into the shared node list; got %d with %d nodes", item.BottomRoot, len(tree.Nodes))
		}
	}

	// The world bounds must cover the translated instance.
	bounds := tree.Bounds()
	if bounds[1][0] < 11 {
		t.Fatalf("expected world bounds to cover the translated instance; got max %v", bounds[1])
	}
	if bounds[0][0] > -3 {
		t.Fatalf("expected world bounds to cover the triangle mesh; got min %v", bounds[0])
	}
}

func TestBuildSingularInstanceTransform(t *testing.T) {
	sub, err := Build(nil, BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}

	_, err = Build([]Geom{{ID: 0, Sub: sub, Transform: types.Scale3D(1, 1, 0)}}, BuildOptions{})
	if err != errSingularTransform {
		t.Fatalf("expected singular transform error; got %v", err)
	}
}

func TestFlattenLinkRoundTrip(t *testing.T) {
	leafTris := []Triangle{
		{V0: types.Vec3{0, 0, 0}, V1: types.Vec3{1, 0, 0}, V2: types.Vec3{0, 1, 0}, PrimID: 0},
	}
	inner, err := Build([]Geom{{ID: 0, Mask: 0xffffffff, Tris: leafTris}}, BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}
	mid, err := Build([]Geom{{ID: 0, Mask: 0xffffffff, Sub: inner, Transform: types.Translate3D(1, 0, 0)}}, BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}
	root, err := Build([]Geom{
		{ID: 0, Mask: 0xffffffff, Sub: mid, Transform: types.Translate3D(0, 1, 0)},
		{ID: 1, Mask: 0xffffffff, Sub: inner, Transform: types.Translate3D(0, 0, 1)},
	}, BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}

	flat := Flatten(root)
	if len(flat) != 3 {
		t.Fatalf("expected 3 flattened trees (shared sub-tree deduplicated); got %d", len(flat))
	}

	relinked, err := Link(flat)
	if err != nil {
		t.Fatal(err)
	}
	if len(relinked.Items) != 2 {
		t.Fatalf("expected relinked root to keep 2 items; got %d", len(relinked.Items))
	}
	for _, item := range relinked.Items {
		if item.sub == nil {
			t.Fatalf("expected relinked instance items to have sub-tree pointers")
		}
	}

	// A payload referencing itself must be rejected.
	bad := Flatten(root)
	for i := range bad[0].Items {
		bad[0].Items[i].SubIndex = 0
	}
	if _, err = Link(bad); err != errCyclicTreeList {
		t.Fatalf("expected cyclic tree list error; got %v", err)
	}
}

func vec3Eq(a, b types.Vec3) bool {
	return a[0] == b[0] && a[1] == b[1] && a[2] == b[2]
}
