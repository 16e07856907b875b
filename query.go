package castor

import (
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/achilleasa/castor/internal/kernel"
)

// Rays per task when a packet query fans out to the device worker pool.
const packetChunkSize = 64

// IntersectContext carries per-query configuration shared by all rays of a
// packet.
type IntersectContext struct {
	// Filter inspects every candidate hit. Returning false rejects the
	// candidate and traversal continues within the same interval. Packet
	// queries on devices with more than one thread may invoke the filter
	// concurrently; mutating the passed hit has no effect on the result.
	Filter func(*Hit) bool

	// MinWidth grows curve radii to at least this value at query time,
	// bounded per segment by the geometry's max radius scale.
	MinWidth float32
}

// Traversal scratch state is recycled across queries.
var traverserPool = sync.Pool{
	New: func() any { return kernel.NewTraverser() },
}

// Intersect finds the closest accepted hit along the ray within
// [TNear, TFar). A miss returns a zero Hit and no error. The scene must be
// committed.
func (s *Scene) Intersect(r Ray, ctx *IntersectContext) (Hit, error) {
	tree, err := s.queryTree()
	if err != nil {
		return Hit{}, err
	}
	if err = r.validate(); err != nil {
		return Hit{}, err
	}

	tr := traverserPool.Get().(*kernel.Traverser)
	kh, found := tr.Nearest(tree, kernelRay(r), traverseOpts(ctx))
	traverserPool.Put(tr)
	if !found {
		return Hit{}, nil
	}
	return convertHit(&kh), nil
}

// Occluded reports whether any accepted hit exists along the ray. It may
// stop at the first accepted hit and never produces hit details.
func (s *Scene) Occluded(r Ray, ctx *IntersectContext) (bool, error) {
	tree, err := s.queryTree()
	if err != nil {
		return false, err
	}
	if err = r.validate(); err != nil {
		return false, err
	}

	tr := traverserPool.Get().(*kernel.Traverser)
	found := tr.Any(tree, kernelRay(r), traverseOpts(ctx))
	traverserPool.Put(tr)
	return found, nil
}

// IntersectPacket intersects a batch of rays sharing one context and
// returns one hit per ray, exactly as N sequential Intersect calls would.
// All rays are validated up front; a bad ray fails the whole packet naming
// its index. Large packets on devices with more than one thread are chunked
// across the device worker pool; each chunk writes a disjoint range of the
// result slice, so results stay deterministic per index.
func (s *Scene) IntersectPacket(rays []Ray, ctx *IntersectContext) ([]Hit, error) {
	tree, err := s.queryTree()
	if err != nil {
		return nil, err
	}
	for i := range rays {
		if err = rays[i].validate(); err != nil {
			return nil, fmt.Errorf("ray %d: %w", i, err)
		}
	}

	hits := make([]Hit, len(rays))
	if s.dev.pool == nil || len(rays) <= packetChunkSize {
		tr := traverserPool.Get().(*kernel.Traverser)
		opts := traverseOpts(ctx)
		for i := range rays {
			if kh, found := tr.Nearest(tree, kernelRay(rays[i]), opts); found {
				hits[i] = convertHit(&kh)
			}
		}
		traverserPool.Put(tr)
		return hits, nil
	}

	// Chunk count is bounded by the worker count so a huge packet cannot
	// flood the pool queue.
	chunk := (len(rays) + s.dev.threads*4 - 1) / (s.dev.threads * 4)
	if chunk < packetChunkSize {
		chunk = packetChunkSize
	}

	var wg sync.WaitGroup
	taskID := 0
	for start := 0; start < len(rays); start += chunk {
		end := start + chunk
		if end > len(rays) {
			end = len(rays)
		}
		first, last := start, end
		wg.Add(1)
		s.dev.pool.SubmitTask(worker.Task{
			ID: taskID,
			Do: func() (any, error) {
				defer wg.Done()

				tr := traverserPool.Get().(*kernel.Traverser)
				opts := traverseOpts(ctx)
				for i := first; i < last; i++ {
					if kh, found := tr.Nearest(tree, kernelRay(rays[i]), opts); found {
						hits[i] = convertHit(&kh)
					}
				}
				traverserPool.Put(tr)
				return nil, nil
			},
		})
		taskID++
	}
	wg.Wait()
	return hits, nil
}

func (s *Scene) queryTree() (*kernel.Tree, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if s.state != sceneCommitted {
		return nil, ErrNotCommitted
	}
	return s.tree, nil
}

func kernelRay(r Ray) kernel.Ray {
	return kernel.Ray{
		Origin: r.Origin,
		Dir:    r.Dir,
		TNear:  r.TNear,
		TFar:   r.TFar,
		Mask:   r.Mask,
	}
}

func traverseOpts(ctx *IntersectContext) *kernel.TraverseOpts {
	if ctx == nil {
		return nil
	}
	opts := &kernel.TraverseOpts{MinWidth: ctx.MinWidth}
	if filter := ctx.Filter; filter != nil {
		opts.Accept = func(kh *kernel.Hit) bool {
			h := convertHit(kh)
			return filter(&h)
		}
	}
	return opts
}

func convertHit(kh *kernel.Hit) Hit {
	h := Hit{
		Valid:  true,
		T:      kh.T,
		GeomID: GeometryID(kh.GeomID),
		PrimID: kh.PrimID,
		U:      kh.U,
		V:      kh.V,
		Ng:     kh.Ng,
	}
	if len(kh.InstIDs) > 0 {
		h.InstIDs = make([]GeometryID, len(kh.InstIDs))
		for i, id := range kh.InstIDs {
			h.InstIDs[i] = GeometryID(id)
		}
	}
	return h
}
