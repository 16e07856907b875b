package cmd

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/achilleasa/castor"
	"github.com/achilleasa/castor/types"
	"github.com/urfave/cli"
)

// Measure intersection throughput: scatter random triangles in a 2000 unit
// cube around the origin, commit a high quality index and fire a packet of
// rays from the origin in random directions.
func Bench(ctx *cli.Context) error {
	setupLogging(ctx)

	var (
		numTris = ctx.Int("triangles")
		numRays = ctx.Int("rays")
	)
	if numTris <= 0 || numRays <= 0 {
		return fmt.Errorf("triangle and ray counts must be positive")
	}

	dev, err := castor.NewDevice(ctx.String("config"))
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(ctx.Int64("seed")))
	unit := func() types.Vec3 {
		return types.Vec3{rng.Float32(), rng.Float32(), rng.Float32()}
	}
	signed := func() types.Vec3 {
		v := unit()
		return types.Vec3{2*v[0] - 1, 2*v[1] - 1, 2*v[2] - 1}
	}

	verts := make([]types.Vec3, 0, numTris*3)
	tris := make([][3]uint32, 0, numTris)
	for i := 0; i < numTris; i++ {
		pos := signed().Mul(1000)
		verts = append(verts, pos.Add(unit()), pos.Add(unit()), pos.Add(unit()))
		tris = append(tris, [3]uint32{uint32(3 * i), uint32(3*i + 1), uint32(3*i + 2)})
	}

	mesh, err := castor.NewTriangleMesh(dev, verts, tris)
	if err != nil {
		return err
	}
	sc, err := dev.NewScene(castor.SceneOptions{Label: "bench"})
	if err != nil {
		return err
	}
	if _, err = sc.Attach(mesh); err != nil {
		return err
	}

	start := time.Now()
	if err = sc.Commit(castor.CommitOptions{Quality: castor.QualityHigh, Robust: true}); err != nil {
		return err
	}
	logger.Noticef("committed %d triangles in %s", numTris, time.Since(start))

	rays := make([]castor.Ray, numRays)
	for i := range rays {
		rays[i] = castor.NewRay(types.Vec3{}, signed())
	}

	start = time.Now()
	hits, err := sc.IntersectPacket(rays, nil)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	var hitCount int
	for i := range hits {
		if hits[i].Valid {
			hitCount++
		}
	}
	fracHits := float32(hitCount) / float32(numRays)
	raysPerSec := int(float64(numRays) / elapsed.Seconds())

	fmt.Printf("Traced %d rays in %s\n", numRays, elapsed)
	fmt.Printf("  %d hits (%.3f%%)\n", hitCount, 100*fracHits)
	fmt.Printf("  (%d rays/s)\n", raysPerSec)

	st, err := sc.Stats()
	if err != nil {
		return err
	}
	fmt.Printf("\n%s", st)

	if err = sc.Close(); err != nil {
		return err
	}
	if err = mesh.Close(); err != nil {
		return err
	}
	return dev.Close()
}
