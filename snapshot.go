package castor

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/achilleasa/castor/internal/kernel"
	"github.com/klauspost/compress/zlib"
)

// Snapshot framing: a four byte magic and a format version, followed by a
// zlib stream holding the gob encoded payload.
var snapshotMagic = [4]byte{'C', 'S', 'T', 'R'}

const snapshotVersion = 1

type snapshotPayload struct {
	Options CommitOptions
	Trees   []kernel.Tree
}

// WriteSnapshot serializes the committed index so a later run can reload it
// with Device.LoadSnapshot instead of rebuilding. Instanced sub-scene
// indices are captured too; shared sub-scenes are stored once.
func (s *Scene) WriteSnapshot(w io.Writer) error {
	if s.closed {
		return ErrClosed
	}
	if s.state != sceneCommitted {
		return ErrNotCommitted
	}

	var header [5]byte
	copy(header[:], snapshotMagic[:])
	header[4] = snapshotVersion
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("castor: snapshot write failed: %s", err.Error())
	}

	zw := zlib.NewWriter(w)
	payload := snapshotPayload{Options: s.opts, Trees: kernel.Flatten(s.tree)}
	if err := gob.NewEncoder(zw).Encode(payload); err != nil {
		zw.Close()
		return fmt.Errorf("castor: snapshot encode failed: %s", err.Error())
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("castor: snapshot write failed: %s", err.Error())
	}
	return nil
}

// LoadSnapshot restores a scene from a snapshot stream. The scene comes
// back committed and immediately queryable but carries no geometry
// registry: attaching to it forces a fresh build like any other structural
// mutation.
func (d *Device) LoadSnapshot(r io.Reader) (*Scene, error) {
	if d.closed {
		return nil, ErrClosed
	}

	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("castor: snapshot read failed: %s", err.Error())
	}
	if !bytes.Equal(header[:4], snapshotMagic[:]) {
		return nil, fmt.Errorf("castor: not a castor snapshot")
	}
	if header[4] != snapshotVersion {
		return nil, fmt.Errorf("castor: unsupported snapshot version %d", header[4])
	}

	zr, err := zlib.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("castor: snapshot read failed: %s", err.Error())
	}
	defer zr.Close()

	var payload snapshotPayload
	if err = gob.NewDecoder(zr).Decode(&payload); err != nil {
		return nil, fmt.Errorf("castor: snapshot decode failed: %s", err.Error())
	}
	tree, err := kernel.Link(payload.Trees)
	if err != nil {
		return nil, fmt.Errorf("castor: snapshot decode failed: %s", err.Error())
	}

	sc, err := d.NewScene(SceneOptions{})
	if err != nil {
		return nil, err
	}
	sc.tree = tree
	sc.state = sceneCommitted
	sc.opts = payload.Options
	return sc, nil
}
