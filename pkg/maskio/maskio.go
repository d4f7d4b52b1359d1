// Package maskio persists reconstructed masks as zstd-compressed binary
// files. Boolean nodule masks compress extremely well, so the format is a
// small fixed header followed by one byte per voxel inside the stream.
package maskio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"nodulemask/internal/models"
)

var magic = [4]byte{'N', 'M', 'S', 'K'}

const version uint16 = 1

// header is the fixed-size file header, serialized little-endian inside the
// compressed stream.
type header struct {
	Magic   [4]byte
	Version uint16
	Kind    uint8
	_       uint8 // padding
	Start   [3]int64
	Stop    [3]int64
}

// Save writes a mask to path, creating or truncating the file.
func Save(path string, m models.Mask) error {
	if len(m.Data) != m.BBox.NumVoxels() {
		return fmt.Errorf("maskio: mask has %d voxels but bounding box holds %d", len(m.Data), m.BBox.NumVoxels())
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("maskio: creating %s: %w", path, err)
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("maskio: creating compressor: %w", err)
	}

	h := header{Magic: magic, Version: version, Kind: uint8(m.BBox.Kind)}
	for axis := 0; axis < 3; axis++ {
		h.Start[axis] = int64(m.BBox.Start[axis])
		h.Stop[axis] = int64(m.BBox.Stop[axis])
	}
	if err := binary.Write(enc, binary.LittleEndian, h); err != nil {
		enc.Close()
		return fmt.Errorf("maskio: writing header: %w", err)
	}

	voxels := make([]byte, len(m.Data))
	for i, v := range m.Data {
		if v {
			voxels[i] = 1
		}
	}
	if _, err := enc.Write(voxels); err != nil {
		enc.Close()
		return fmt.Errorf("maskio: writing voxels: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("maskio: flushing %s: %w", path, err)
	}
	return f.Close()
}

// Load reads a mask written by Save.
func Load(path string) (models.Mask, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.Mask{}, fmt.Errorf("maskio: opening %s: %w", path, err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return models.Mask{}, fmt.Errorf("maskio: creating decompressor: %w", err)
	}
	defer dec.Close()

	var h header
	if err := binary.Read(dec, binary.LittleEndian, &h); err != nil {
		return models.Mask{}, fmt.Errorf("maskio: reading header of %s: %w", path, err)
	}
	if h.Magic != magic {
		return models.Mask{}, fmt.Errorf("maskio: %s is not a mask file", path)
	}
	if h.Version != version {
		return models.Mask{}, fmt.Errorf("maskio: %s has unsupported version %d", path, h.Version)
	}

	bbox := models.BoundingBox{Kind: models.FrameKind(h.Kind)}
	for axis := 0; axis < 3; axis++ {
		bbox.Start[axis] = int(h.Start[axis])
		bbox.Stop[axis] = int(h.Stop[axis])
		if bbox.Stop[axis] < bbox.Start[axis] {
			return models.Mask{}, fmt.Errorf("maskio: %s has an inverted bounding box", path)
		}
	}

	voxels := make([]byte, bbox.NumVoxels())
	if _, err := io.ReadFull(dec, voxels); err != nil {
		return models.Mask{}, fmt.Errorf("maskio: reading voxels of %s: %w", path, err)
	}

	m := models.NewMask(bbox)
	for i, b := range voxels {
		m.Data[i] = b != 0
	}
	return m, nil
}
