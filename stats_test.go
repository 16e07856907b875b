package castor

import (
	"errors"
	"strings"
	"testing"

	"github.com/achilleasa/castor/types"
)

func TestSceneStats(t *testing.T) {
	dev := mustDevice(t, "threads=1")
	defer dev.Close()

	sub, err := dev.NewScene(SceneOptions{Label: "sub"})
	if err != nil {
		t.Fatal(err)
	}
	subTri := mustTriangleMesh(t, dev, unitTriangleVerts, unitTriangleIndices)
	if _, err = sub.Attach(subTri); err != nil {
		t.Fatal(err)
	}
	if err = sub.Commit(CommitOptions{}); err != nil {
		t.Fatal(err)
	}

	root, err := dev.NewScene(SceneOptions{Label: "root"})
	if err != nil {
		t.Fatal(err)
	}
	tri := mustTriangleMesh(t, dev, unitTriangleVerts, unitTriangleIndices)
	quad, err := NewQuadMesh(dev, unitQuadVerts, [][4]uint32{{0, 1, 2, 3}})
	if err != nil {
		t.Fatal(err)
	}
	curve, err := NewCurve(dev,
		[]types.Vec3{{0, 0, 3}, {1, 0, 3}, {2, 0, 3}},
		[]float32{0.1, 0.1, 0.1},
		[]uint32{0, 1},
	)
	if err != nil {
		t.Fatal(err)
	}
	off := mustTriangleMesh(t, dev, []types.Vec3{{0, 0, 4}, {1, 0, 4}, {0, 1, 4}}, unitTriangleIndices)
	if err = off.Disable(); err != nil {
		t.Fatal(err)
	}

	// Two instances sharing one sub-scene; its primitives count once.
	instA, err := NewInstance(dev, sub, types.Translate3D(5, 0, 0))
	if err != nil {
		t.Fatal(err)
	}
	instB, err := NewInstance(dev, sub, types.Translate3D(-5, 0, 0))
	if err != nil {
		t.Fatal(err)
	}

	for _, g := range []*Geometry{tri, quad, curve, off, instA, instB} {
		if _, err = root.Attach(g); err != nil {
			t.Fatal(err)
		}
	}
	if err = root.Commit(CommitOptions{}); err != nil {
		t.Fatal(err)
	}

	st, err := root.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if st.Geometries != 6 {
		t.Fatalf("expected 6 attached geometries; got %d", st.Geometries)
	}
	if st.Enabled != 5 {
		t.Fatalf("expected 5 enabled geometries; got %d", st.Enabled)
	}
	if st.Instances != 2 {
		t.Fatalf("expected 2 instance items; got %d", st.Instances)
	}
	// One direct triangle, two from the quad, one from the shared
	// sub-scene. The disabled mesh contributes nothing.
	if st.Triangles != 4 {
		t.Fatalf("expected 4 flattened triangles; got %d", st.Triangles)
	}
	if st.Segments != 2 {
		t.Fatalf("expected 2 curve segments; got %d", st.Segments)
	}
	if st.Nodes == 0 || st.Footprint == 0 {
		t.Fatalf("expected non-empty index statistics; got %+v", st)
	}

	text := st.String()
	for _, want := range []string{"BVH nodes", "Triangles", "Curve segments", "Instances", "Total", "6 geometries"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected the rendered table to mention %q; got:\n%s", want, text)
		}
	}
}

func TestSceneStatsStateChecks(t *testing.T) {
	dev := mustDevice(t, "threads=1")
	defer dev.Close()

	sc, err := dev.NewScene(SceneOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err = sc.Stats(); !errors.Is(err, ErrNotCommitted) {
		t.Fatalf("expected stats on a building scene to fail; got %v", err)
	}
	if err = sc.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err = sc.Stats(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected stats on a closed scene to fail; got %v", err)
	}
}
