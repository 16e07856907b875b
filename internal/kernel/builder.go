package kernel

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"

	"github.com/achilleasa/castor/log"
	"github.com/achilleasa/castor/types"
)

const (
	// The builder will not attempt to calculate split candidates if the
	// node bbox along an axis is less than this threshold.
	minSideLength float32 = 1e-3

	// If the split step (calculated as side length / (candidates / depth+1))
	// is less than this threshold the builder will not evaluate split
	// candidates.
	minSplitStep float32 = 1e-5

	defaultSplitCandidates = 256
	defaultMinLeafItems    = 10
)

var errSingularTransform = errors.New("kernel: instance transform is not invertible")

// The BoundedVolume interface is implemented by anything that can be
// partitioned by the tree builder.
type BoundedVolume interface {
	BBox() [2]types.Vec3
	Center() types.Vec3
}

// A callback that is called whenever the builder creates a new leaf.
type LeafCallback func(leaf *Node, itemList []BoundedVolume)

type splitCandidate struct {
	axis                  int
	splitPoint            float32
	leftCount, rightCount int
	score                 float32
}

type builderStats struct {
	partitionedItems int
	totalItems       int
	nodes            int
	leafs            int
	maxDepth         int
}

type treeBuilder struct {
	logger log.Logger

	// Tree nodes stored as a contiguous list.
	nodes []Node

	// A callback invoked to set up leafs depending on the type of
	// partitioned bounding volume.
	leafCb LeafCallback

	// The minimum number of items that are required for creating a leaf.
	minLeafItems int

	// The number of split candidates evaluated per axis at the root. The
	// candidate count shrinks as the tree gets deeper.
	splitCandidates int

	// Score result chan.
	scoreChan chan splitCandidate

	// Stats.
	stats builderStats
}

// Construct a tree from a set of bounded volumes.
//
// The builder uses SAH for scoring splits:
// score = item count * node bbox face area.
//
// The minLeafItems param specifies the minimum number of items that can form
// a leaf. The builder will automatically generate leafs if the incoming work
// length is <= minLeafItems.
func buildNodes(workList []BoundedVolume, minLeafItems, splitCandidates int, leafCb LeafCallback) []Node {
	if minLeafItems < 1 {
		minLeafItems = 1
	}
	if splitCandidates < 2 {
		splitCandidates = 2
	}

	builder := &treeBuilder{
		logger:          log.New("kernel"),
		nodes:           make([]Node, 0),
		leafCb:          leafCb,
		minLeafItems:    minLeafItems,
		splitCandidates: splitCandidates,
		scoreChan:       make(chan splitCandidate, 0),
		stats: builderStats{
			totalItems: len(workList),
		},
	}

	start := time.Now()
	builder.partition(workList, 0)
	builder.logger.Debugf(
		"tree build time: %d ms, maxDepth: %d, nodes: %d, leafs: %d",
		time.Since(start).Nanoseconds()/1e6,
		builder.stats.maxDepth, builder.stats.nodes, builder.stats.leafs,
	)
	return builder.nodes
}

// Partition worklist and return node index.
func (b *treeBuilder) partition(workList []BoundedVolume, depth int) uint32 {
	if depth > b.stats.maxDepth {
		b.stats.maxDepth = depth
	}

	node := Node{
		Min: types.Vec3{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32},
		Max: types.Vec3{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32},
	}

	// Calculate bounding box for node
	for _, item := range workList {
		itemBBox := item.BBox()
		node.Min = types.MinVec3(node.Min, itemBBox[0])
		node.Max = types.MaxVec3(node.Max, itemBBox[1])
	}

	// Do we have enough items for partitioning? If not create a leaf
	if len(workList) <= b.minLeafItems {
		return b.createLeaf(&node, workList)
	}

	// Calc current node score
	side := node.Max.Sub(node.Min)
	var bestScore float32 = float32(len(workList)) * (side[0]*side[1] + side[1]*side[2] + side[0]*side[2])
	var bestSplit *splitCandidate = nil

	// Try partitioning along each axis and select the split with best score
	pendingScores := 0

	// Run axis split tests in parallel
	for axis := 0; axis < 3; axis++ {
		// Skip axis if bbox dimension is too small
		if side[axis] < minSideLength {
			continue
		}

		// We want the split steps to become more granular the deeper we go
		splitStep := side[axis] / (float32(b.splitCandidates) / float32(depth+1))
		if splitStep < minSplitStep {
			continue
		}

		for splitPoint := node.Min[axis]; splitPoint < node.Max[axis]; splitPoint += splitStep {
			candidate := splitCandidate{
				axis:       axis,
				splitPoint: splitPoint,
			}
			pendingScores++
			go candidate.Score(workList, b.scoreChan)
		}
	}

	// Process all scores and pick the best split
	for ; pendingScores > 0; pendingScores-- {
		candidate := <-b.scoreChan
		if candidate.score < bestScore {
			bestScore = candidate.score
			bestSplit = &candidate
		}
	}

	// If we can't find a split that improves the current node score create a leaf
	if bestSplit == nil {
		return b.createLeaf(&node, workList)
	}

	// split work list into two sets
	leftWorkList := make([]BoundedVolume, bestSplit.leftCount)
	rightWorkList := make([]BoundedVolume, bestSplit.rightCount)
	leftIndex := 0
	rightIndex := 0
	for _, item := range workList {
		center := item.Center()
		if center[bestSplit.axis] < bestSplit.splitPoint {
			leftWorkList[leftIndex] = item
			leftIndex++
		} else {
			rightWorkList[rightIndex] = item
			rightIndex++
		}
	}

	// Add node to list
	nodeIndex := len(b.nodes)
	b.nodes = append(b.nodes, node)
	b.stats.nodes++

	// Partition children and update node indices
	leftNodeIndex := b.partition(leftWorkList, depth+1)
	rightNodeIndex := b.partition(rightWorkList, depth+1)
	b.nodes[nodeIndex].SetChildNodes(leftNodeIndex, rightNodeIndex)

	return uint32(nodeIndex)
}

// Calculate the score for splitting the workList with this split candidate
// and report the result to the supplied channel.
func (c splitCandidate) Score(workList []BoundedVolume, resChan chan<- splitCandidate) {
	lmin := types.Vec3{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32}
	rmin := types.Vec3{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32}
	lmax := types.Vec3{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32}
	rmax := types.Vec3{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32}

	for _, item := range workList {
		center := item.Center()
		itemBBox := item.BBox()
		if center[c.axis] < c.splitPoint {
			c.leftCount++
			lmin = types.MinVec3(lmin, itemBBox[0])
			lmax = types.MaxVec3(lmax, itemBBox[1])
		} else {
			c.rightCount++
			rmin = types.MinVec3(rmin, itemBBox[0])
			rmax = types.MaxVec3(rmax, itemBBox[1])
		}
	}

	// Make sure that we got enough items of each side of the split
	minItemsOnEachSide := 2
	if len(workList) == 2 {
		minItemsOnEachSide = 1
	}
	if c.leftCount < minItemsOnEachSide || c.rightCount < minItemsOnEachSide {
		c.score = math.MaxFloat32
		resChan <- c
		return
	}

	lside := lmax.Sub(lmin)
	rside := rmax.Sub(rmin)
	c.score = (float32(c.leftCount) * (lside[0]*lside[1] + lside[1]*lside[2] + lside[0]*lside[2])) +
		(float32(c.rightCount) * (rside[0]*rside[1] + rside[1]*rside[2] + rside[0]*rside[2]))
	resChan <- c
}

// Setup the given node item as a leaf node containing all items in the work list.
// Returns the index to the node in the node array.
func (b *treeBuilder) createLeaf(node *Node, workList []BoundedVolume) uint32 {
	b.leafCb(node, workList)

	// append node to list
	nodeIndex := len(b.nodes)
	b.nodes = append(b.nodes, *node)

	// update stats
	b.stats.leafs++
	b.stats.partitionedItems += len(workList)

	return uint32(nodeIndex)
}

// Geom describes one committed geometry handed to the builder. Exactly one
// of Tris, Segs or Sub is populated.
type Geom struct {
	ID   uint32
	Mask uint32

	Tris []Triangle
	Segs []Segment

	// Sub and Transform describe an instanced sub-tree. Transform maps the
	// sub-tree's local space into the parent space.
	Sub       *Tree
	Transform types.Mat4
}

// BuildOptions tune the tree builder.
type BuildOptions struct {
	// Split candidates evaluated per axis at the root; fewer candidates
	// trade tree quality for build speed.
	SplitCandidates int

	// Minimum number of primitives per bottom tree leaf.
	MinLeafItems int

	// Robust widens traversal interval tests to avoid misses caused by
	// floating point rounding.
	Robust bool

	// Pool, when set, runs per-geometry bottom tree builds in parallel.
	Pool worker.DynamicWorkerPool
}

type itemVolume struct {
	index  uint32
	bounds [2]types.Vec3
	center types.Vec3
}

func (v *itemVolume) BBox() [2]types.Vec3 {
	return v.bounds
}

func (v *itemVolume) Center() types.Vec3 {
	return v.center
}

type bottomTree struct {
	nodes  []Node
	tris   []Triangle
	segs   []Segment
	bounds [2]types.Vec3
}

// Build constructs the two-level tree for a committed scene. The top tree
// partitions the geometries; each mesh geometry gets its own bottom tree
// which is appended to the shared node list with offset-patched links.
func Build(geoms []Geom, opts BuildOptions) (*Tree, error) {
	if opts.SplitCandidates == 0 {
		opts.SplitCandidates = defaultSplitCandidates
	}
	if opts.MinLeafItems == 0 {
		opts.MinLeafItems = defaultMinLeafItems
	}

	logger := log.New("kernel")
	start := time.Now()

	tree := &Tree{
		Items:  make([]Item, len(geoms)),
		Robust: opts.Robust,
	}

	// Resolve item records and world bounds up front; instance transforms
	// are inverted here so traversal can re-origin rays into the sub-tree
	// space.
	bottoms := make([]bottomTree, len(geoms))
	for i := range geoms {
		g := &geoms[i]
		item := &tree.Items[i]
		item.GeomID = g.ID
		item.Mask = g.Mask
		item.BottomRoot = -1
		item.SubIndex = -1

		if g.Sub != nil {
			inv := g.Transform.Inv()
			if inv == (types.Mat4{}) {
				return nil, errSingularTransform
			}
			item.Kind = GeomInstance
			item.sub = g.Sub
			item.Inv = inv
			item.NormalMat = inv.Mat3().Transpose()
			continue
		}
		if len(g.Segs) != 0 {
			item.Kind = GeomSegments
		} else {
			item.Kind = GeomTriangles
		}
	}

	// Build the bottom trees; each geometry is independent so the builds
	// can fan out to the device worker pool.
	buildBottom := func(i int) {
		g := &geoms[i]
		if g.Sub != nil {
			return
		}

		bt := &bottoms[i]
		var volList []BoundedVolume
		switch {
		case len(g.Segs) != 0:
			volList = make([]BoundedVolume, len(g.Segs))
			for j := range g.Segs {
				volList[j] = &g.Segs[j]
			}
			bt.segs = make([]Segment, 0, len(g.Segs))
			bt.nodes = buildNodes(volList, opts.MinLeafItems, opts.SplitCandidates, func(leaf *Node, itemList []BoundedVolume) {
				leaf.SetLeaf(uint32(len(bt.segs)), uint32(len(itemList)))
				for _, item := range itemList {
					bt.segs = append(bt.segs, *(item.(*Segment)))
				}
			})
		default:
			volList = make([]BoundedVolume, len(g.Tris))
			for j := range g.Tris {
				volList[j] = &g.Tris[j]
			}
			bt.tris = make([]Triangle, 0, len(g.Tris))
			bt.nodes = buildNodes(volList, opts.MinLeafItems, opts.SplitCandidates, func(leaf *Node, itemList []BoundedVolume) {
				leaf.SetLeaf(uint32(len(bt.tris)), uint32(len(itemList)))
				for _, item := range itemList {
					bt.tris = append(bt.tris, *(item.(*Triangle)))
				}
			})
		}
		bt.bounds = [2]types.Vec3{bt.nodes[0].Min, bt.nodes[0].Max}
	}

	if opts.Pool != nil && len(geoms) > 1 {
		var wg sync.WaitGroup
		for i := range geoms {
			if geoms[i].Sub != nil {
				continue
			}
			wg.Add(1)
			idx := i
			opts.Pool.SubmitTask(worker.Task{
				ID: idx,
				Do: func() (any, error) {
					defer wg.Done()
					buildBottom(idx)
					return nil, nil
				},
			})
		}
		wg.Wait()
	} else {
		for i := range geoms {
			buildBottom(i)
		}
	}

	// Partition the items with the top tree. Leafs flatten item indices in
	// leaf order.
	volList := make([]BoundedVolume, len(geoms))
	for i := range geoms {
		vol := &itemVolume{index: uint32(i)}
		if geoms[i].Sub != nil {
			vol.bounds = transformBounds(geoms[i].Sub.Bounds(), geoms[i].Transform)
		} else {
			vol.bounds = bottoms[i].bounds
		}
		vol.center = vol.bounds[0].Add(vol.bounds[1]).Mul(0.5)
		volList[i] = vol
	}

	tree.LeafItems = make([]uint32, 0, len(geoms))
	tree.Nodes = buildNodes(volList, 1, opts.SplitCandidates, func(leaf *Node, itemList []BoundedVolume) {
		leaf.SetLeaf(uint32(len(tree.LeafItems)), uint32(len(itemList)))
		for _, item := range itemList {
			tree.LeafItems = append(tree.LeafItems, item.(*itemVolume).index)
		}
	})

	// Apply offsets to the bottom tree nodes and append them to the shared
	// node list.
	for i := range geoms {
		if geoms[i].Sub != nil {
			continue
		}

		bt := &bottoms[i]
		offset := int32(len(tree.Nodes))
		triBase := uint32(len(tree.Tris))
		segBase := uint32(len(tree.Segs))
		for n := range bt.nodes {
			bt.nodes[n].OffsetChildNodes(offset)
			if len(bt.segs) != 0 {
				bt.nodes[n].OffsetLeaf(segBase)
			} else {
				bt.nodes[n].OffsetLeaf(triBase)
			}
		}
		tree.Items[i].BottomRoot = offset
		tree.Nodes = append(tree.Nodes, bt.nodes...)
		tree.Tris = append(tree.Tris, bt.tris...)
		tree.Segs = append(tree.Segs, bt.segs...)
	}

	logger.Debugf(
		"built scene tree in %d ms (%d items, %d nodes, %d triangles, %d segments)",
		time.Since(start).Nanoseconds()/1e6,
		len(tree.Items), len(tree.Nodes), len(tree.Tris), len(tree.Segs),
	)
	return tree, nil
}

// Transform an AABB and compute the AABB of the result.
func transformBounds(bounds [2]types.Vec3, m types.Mat4) [2]types.Vec3 {
	out := [2]types.Vec3{
		{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32},
		{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32},
	}
	for corner := 0; corner < 8; corner++ {
		p := types.Vec3{bounds[corner&1][0], bounds[(corner>>1)&1][1], bounds[(corner>>2)&1][2]}
		w := m.Mul4x1(p.Vec4(1)).Vec3()
		out[0] = types.MinVec3(out[0], w)
		out[1] = types.MaxVec3(out[1], w)
	}
	return out
}
