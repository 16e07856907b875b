package cmd

import (
	"fmt"
	"math"
	"time"

	"github.com/achilleasa/castor"
	"github.com/achilleasa/castor/types"
	"github.com/urfave/cli"
)

// Estimate pi by tracing an orthographic ray grid against a unit sphere.
// The image plane spans [-1, 1] in front of the sphere, so the fraction of
// rays hitting the silhouette approaches pi/4.
func Trace(ctx *cli.Context) error {
	setupLogging(ctx)

	var (
		width  = ctx.Int("width")
		height = ctx.Int("height")
		segs   = ctx.Int("segments")
	)
	if width <= 0 || height <= 0 {
		return fmt.Errorf("grid dimensions must be positive")
	}
	if segs < 8 {
		return fmt.Errorf("the sphere needs at least 8 segments")
	}

	dev, err := castor.NewDevice(ctx.String("config"))
	if err != nil {
		return err
	}

	center := types.Vec3{0, 0, 5}
	sphere, err := sphereMesh(dev, center, 1, segs)
	if err != nil {
		return err
	}
	sc, err := dev.NewScene(castor.SceneOptions{Label: "trace"})
	if err != nil {
		return err
	}
	if _, err = sc.Attach(sphere); err != nil {
		return err
	}
	if err = sc.Commit(castor.CommitOptions{}); err != nil {
		return err
	}

	// One packet per scan line; the camera sits on the z=0 plane looking
	// down +z like the sphere center.
	dir := types.Vec3{0, 0, center[2]}
	rays := make([]castor.Ray, width)
	totalRays := width * height
	var hitCount int

	start := time.Now()
	for y := 0; y < height; y++ {
		v := (float32(y) + 0.5) / float32(height)
		for x := 0; x < width; x++ {
			u := (float32(x) + 0.5) / float32(width)
			target := types.Vec3{u*2 - 1, v*2 - 1, center[2]}
			rays[x] = castor.NewRay(target.Sub(dir), dir)
		}
		hits, err := sc.IntersectPacket(rays, nil)
		if err != nil {
			return err
		}
		for i := range hits {
			if hits[i].Valid {
				hitCount++
			}
		}
	}
	elapsed := time.Since(start)

	hitFraction := float64(hitCount) / float64(totalRays)
	approxPi := 4 * hitFraction
	errAbs := math.Abs(approxPi - math.Pi)
	raysPerSec := int(float64(totalRays) / elapsed.Seconds())

	fmt.Printf("hit_fraction: %g\n", hitFraction)
	fmt.Printf("   approx_pi: %g\n", approxPi)
	fmt.Printf("         err: %g (%.5f%%)\n", errAbs, errAbs/math.Pi*100)
	fmt.Printf("rays_per_sec: %d\n", raysPerSec)

	if err = sc.Close(); err != nil {
		return err
	}
	if err = sphere.Close(); err != nil {
		return err
	}
	return dev.Close()
}

// Tessellate a lat/long sphere into a triangle mesh.
func sphereMesh(dev *castor.Device, center types.Vec3, radius float32, segs int) (*castor.Geometry, error) {
	rings := segs / 2
	stride := segs + 1

	verts := make([]types.Vec3, 0, (rings+1)*stride)
	for r := 0; r <= rings; r++ {
		theta := math.Pi * float64(r) / float64(rings)
		sinT, cosT := math.Sin(theta), math.Cos(theta)
		for s := 0; s < stride; s++ {
			phi := 2 * math.Pi * float64(s) / float64(segs)
			verts = append(verts, types.Vec3{
				center[0] + radius*float32(sinT*math.Cos(phi)),
				center[1] + radius*float32(cosT),
				center[2] + radius*float32(sinT*math.Sin(phi)),
			})
		}
	}

	tris := make([][3]uint32, 0, rings*segs*2)
	for r := 0; r < rings; r++ {
		for s := 0; s < segs; s++ {
			a := uint32(r*stride + s)
			b := a + uint32(stride)
			tris = append(tris, [3]uint32{a, b, a + 1}, [3]uint32{a + 1, b, b + 1})
		}
	}
	return castor.NewTriangleMesh(dev, verts, tris)
}
