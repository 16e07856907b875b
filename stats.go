package castor

import (
	"bytes"
	"fmt"
	"strings"
	"unsafe"

	"github.com/achilleasa/castor/internal/kernel"
	"github.com/olekukonko/tablewriter"
)

// SceneStats summarizes a committed scene. Primitive and node counts are
// flattened across all referenced sub-scenes, with shared sub-scenes
// counted once.
type SceneStats struct {
	Geometries int
	Enabled    int
	Instances  int

	Triangles int
	Segments  int
	Nodes     int

	// Total index footprint in bytes.
	Footprint int
}

// Stats reports size statistics for the committed index.
func (s *Scene) Stats() (SceneStats, error) {
	if s.closed {
		return SceneStats{}, ErrClosed
	}
	if s.state != sceneCommitted {
		return SceneStats{}, ErrNotCommitted
	}

	var st SceneStats
	st.Geometries = len(s.geoms)
	for _, g := range s.geoms {
		if g.enabled {
			st.Enabled++
		}
	}
	for _, tree := range kernel.Flatten(s.tree) {
		st.Nodes += len(tree.Nodes)
		st.Triangles += len(tree.Tris)
		st.Segments += len(tree.Segs)
		st.Footprint += tree.MemoryFootprint()
		for i := range tree.Items {
			if tree.Items[i].Kind == kernel.GeomInstance {
				st.Instances++
			}
		}
	}
	return st, nil
}

// Build a tabular representation of the statistics.
func (st SceneStats) String() string {
	nodeBytes := st.Nodes * int(unsafe.Sizeof(kernel.Node{}))
	triBytes := st.Triangles * int(unsafe.Sizeof(kernel.Triangle{}))
	segBytes := st.Segments * int(unsafe.Sizeof(kernel.Segment{}))

	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"Asset", "Count", "Size"})
	table.Append([]string{"BVH nodes", fmt.Sprintf("%d", st.Nodes), fmtSize(nodeBytes)})
	table.Append([]string{"Triangles", fmt.Sprintf("%d", st.Triangles), fmtSize(triBytes)})
	table.Append([]string{"Curve segments", fmt.Sprintf("%d", st.Segments), fmtSize(segBytes)})
	table.Append([]string{"Instances", fmt.Sprintf("%d", st.Instances), " "})
	table.SetFooter([]string{"Total", fmt.Sprintf("%d geometries", st.Geometries), strings.TrimLeft(fmtSize(st.Footprint), " ")})

	table.Render()
	return buf.String()
}

// Format a byte count with the appropriate byte/kb/mb unit.
func fmtSize(totalBytes int) string {
	if totalBytes < 1e3 {
		return fmt.Sprintf("%3d bytes", totalBytes)
	} else if totalBytes < 1e6 {
		return fmt.Sprintf("%3.1f kb", float32(totalBytes)/1e3)
	}
	return fmt.Sprintf("%5.1f mb", float32(totalBytes)/1e6)
}
