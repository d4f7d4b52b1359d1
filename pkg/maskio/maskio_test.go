package maskio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodulemask/internal/models"
)

func sampleMask() models.Mask {
	mask := models.NewMask(models.BoundingBox{
		Kind:  models.FrameVolume,
		Start: [3]int{10, 5, 5},
		Stop:  [3]int{13, 10, 10},
	})
	for z := 0; z < 3; z++ {
		for y := 0; y < 4; y++ {
			for x := 0; x < 4; x++ {
				mask.Data[mask.BBox.Index(z, y, x)] = true
			}
		}
	}
	return mask
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodule.nmsk")
	mask := sampleMask()

	require.NoError(t, Save(path, mask))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, mask.BBox, loaded.BBox)
	assert.Equal(t, mask.Data, loaded.Data)
}

func TestSaveRejectsInconsistentMask(t *testing.T) {
	mask := sampleMask()
	mask.Data = mask.Data[:10]
	err := Save(filepath.Join(t.TempDir(), "bad.nmsk"), mask)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.nmsk"))
	assert.Error(t, err)
}

func TestLoadRejectsWrongMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "other.nmsk")

	// A valid zstd stream whose payload is not a mask file.
	f, err := os.Create(path)
	require.NoError(t, err)
	enc, err := zstd.NewWriter(f)
	require.NoError(t, err)
	_, err = enc.Write([]byte("definitely not a mask header, but long enough to fill one out"))
	require.NoError(t, err)
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	_, err = Load(path)
	assert.ErrorContains(t, err, "not a mask file")
}

func TestLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.nmsk")
	require.NoError(t, os.WriteFile(path, []byte("not zstd at all"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadTruncatedVoxels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "truncated.nmsk")
	mask := sampleMask()
	require.NoError(t, Save(path, mask))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// Chop the compressed stream so decoding runs out of voxels.
	require.NoError(t, os.WriteFile(path, data[:len(data)/2], 0644))

	_, err = Load(path)
	assert.Error(t, err)
}
