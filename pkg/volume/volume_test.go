package volume

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodulemask/internal/models"
)

// writeMetaImage writes an .mhd/.raw pair of MET_SHORT voxels and returns the
// header path. Voxels are given in raw stream order (x fastest).
func writeMetaImage(t *testing.T, header string, voxels []int16) string {
	t.Helper()
	dir := t.TempDir()

	raw := make([]byte, 2*len(voxels))
	for i, v := range voxels {
		binary.LittleEndian.PutUint16(raw[2*i:], uint16(v))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scan.raw"), raw, 0644))

	path := filepath.Join(dir, "scan.mhd")
	require.NoError(t, os.WriteFile(path, []byte(header), 0644))
	return path
}

const sampleHeader = `NDims = 3
DimSize = 4 3 2
ElementSpacing = 0.7 0.7 2.5
Offset = -100 -50 -25
ElementType = MET_SHORT
ElementDataFile = scan.raw
`

func TestLoadMetaImageReversesAxes(t *testing.T) {
	voxels := make([]int16, 4*3*2)
	for i := range voxels {
		voxels[i] = int16(i)
	}
	path := writeMetaImage(t, sampleHeader, voxels)

	vol, err := LoadMetaImage(path)
	require.NoError(t, err)

	// Header axes are (x, y, z); the frame is (z, y, x).
	assert.Equal(t, [3]int{2, 3, 4}, vol.Frame.Shape)
	assert.Equal(t, [3]float64{2.5, 0.7, 0.7}, vol.Frame.Spacing)
	assert.Equal(t, [3]float64{-25, -50, -100}, vol.Frame.Origin)

	require.Len(t, vol.Data, 24)
	// The raw stream is x-fastest, matching row-major (z, y, x): voxel
	// (z=1, y=2, x=3) is the last element.
	assert.Equal(t, 0.0, vol.Data[0])
	assert.Equal(t, 23.0, vol.Data[1*3*4+2*4+3])
}

func TestLoadMetaImageNegativeValues(t *testing.T) {
	voxels := make([]int16, 24)
	voxels[0] = -1000
	path := writeMetaImage(t, sampleHeader, voxels)

	vol, err := LoadMetaImage(path)
	require.NoError(t, err)
	assert.Equal(t, -1000.0, vol.Data[0])
}

func TestLoadMetaImageTruncatedData(t *testing.T) {
	path := writeMetaImage(t, sampleHeader, make([]int16, 10))
	_, err := LoadMetaImage(path)
	assert.Error(t, err)
}

func TestLoadMetaImageRejectsLocalData(t *testing.T) {
	path := writeMetaImage(t, `NDims = 3
DimSize = 4 3 2
ElementType = MET_SHORT
ElementDataFile = LOCAL
`, make([]int16, 24))
	_, err := LoadMetaImage(path)
	assert.ErrorContains(t, err, "ElementDataFile")
}

func TestLoadMetaImageRejectsUnsupportedType(t *testing.T) {
	path := writeMetaImage(t, `NDims = 3
DimSize = 4 3 2
ElementType = MET_DOUBLE
ElementDataFile = scan.raw
`, make([]int16, 24))
	_, err := LoadMetaImage(path)
	assert.ErrorContains(t, err, "ElementType")
}

func TestNormalizeHU(t *testing.T) {
	data := []float64{-2000, -1000, -300, 400, 1000}
	out := NormalizeHU(data, DefaultMinHU, DefaultMaxHU)

	assert.InDelta(t, 0.0, out[0], 1e-12)
	assert.InDelta(t, 0.0, out[1], 1e-12)
	assert.InDelta(t, 0.5, out[2], 1e-12)
	assert.InDelta(t, 1.0, out[3], 1e-12)
	assert.InDelta(t, 1.0, out[4], 1e-12)

	// Input untouched.
	assert.Equal(t, -2000.0, data[0])
}

func TestLoadCandidatesCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "annotations.csv")
	require.NoError(t, os.WriteFile(path, []byte(
		"seriesuid,coordX,coordY,coordZ,diameter_mm\n"+
			"1.2.3,-100.5,30.25,-45.0,6.5\n"+
			"1.2.3,10.0,20.0,30.0,4.0\n"+
			"4.5.6,0,0,0,12.5\n"), 0644))

	byUID, err := LoadCandidatesCSV(path)
	require.NoError(t, err)
	require.Len(t, byUID, 2)
	require.Len(t, byUID["1.2.3"], 2)

	first := byUID["1.2.3"][0]
	assert.Equal(t, "1.2.3", first.SeriesUID)
	assert.Equal(t, [3]float64{-45.0, 30.25, -100.5}, first.CenterMM)
	assert.Equal(t, 6.5, first.DiameterMM)
}

func TestLoadCandidatesCSVMissingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "annotations.csv")
	require.NoError(t, os.WriteFile(path, []byte(
		"seriesuid,coordX,coordY,coordZ\n1.2.3,1,2,3\n"), 0644))

	_, err := LoadCandidatesCSV(path)
	assert.ErrorContains(t, err, "diameter_mm")
}

func TestLoadCandidatesCSVMalformedNumber(t *testing.T) {
	path := filepath.Join(t.TempDir(), "annotations.csv")
	require.NoError(t, os.WriteFile(path, []byte(
		"seriesuid,coordX,coordY,coordZ,diameter_mm\n1.2.3,a,2,3,4\n"), 0644))

	_, err := LoadCandidatesCSV(path)
	assert.ErrorContains(t, err, "line 2")
}

func TestSphereMask(t *testing.T) {
	frame := models.Frame{
		Origin:  [3]float64{0, 0, 0},
		Spacing: [3]float64{1, 1, 1},
		Shape:   [3]int{20, 20, 20},
	}

	mask, err := SphereMask(frame, [3]float64{10, 10, 10}, 6)
	require.NoError(t, err)
	assert.Equal(t, models.FrameVolume, mask.BBox.Kind)

	// The center voxel is set, voxels past the radius are not.
	center := [3]int{10 - mask.BBox.Start[0], 10 - mask.BBox.Start[1], 10 - mask.BBox.Start[2]}
	assert.True(t, mask.At(center[0], center[1], center[2]))

	// Every set voxel is within the radius of the center.
	shape := mask.BBox.Shape()
	for z := 0; z < shape[0]; z++ {
		for y := 0; y < shape[1]; y++ {
			for x := 0; x < shape[2]; x++ {
				if !mask.At(z, y, x) {
					continue
				}
				dz := float64(z - center[0])
				dy := float64(y - center[1])
				dx := float64(x - center[2])
				assert.LessOrEqual(t, math.Sqrt(dz*dz+dy*dy+dx*dx), 3.0+1e-9)
			}
		}
	}
}

func TestSphereMaskRespectsSpacing(t *testing.T) {
	// 2.5mm slices: a 6mm sphere spans few slices but many in-plane pixels.
	frame := models.Frame{
		Origin:  [3]float64{0, 0, 0},
		Spacing: [3]float64{2.5, 0.5, 0.5},
		Shape:   [3]int{20, 100, 100},
	}

	mask, err := SphereMask(frame, [3]float64{25, 25, 25}, 6)
	require.NoError(t, err)
	shape := mask.BBox.Shape()
	assert.Less(t, shape[0], shape[1])
	assert.Equal(t, shape[1], shape[2])
}

func TestSphereMaskOutsideFrame(t *testing.T) {
	frame := models.Frame{
		Origin:  [3]float64{0, 0, 0},
		Spacing: [3]float64{1, 1, 1},
		Shape:   [3]int{20, 20, 20},
	}
	_, err := SphereMask(frame, [3]float64{500, 500, 500}, 6)
	assert.Error(t, err)
}

func TestSphereMaskInvalidDiameter(t *testing.T) {
	frame := models.Frame{
		Origin:  [3]float64{0, 0, 0},
		Spacing: [3]float64{1, 1, 1},
		Shape:   [3]int{20, 20, 20},
	}
	_, err := SphereMask(frame, [3]float64{10, 10, 10}, 0)
	assert.Error(t, err)
}
