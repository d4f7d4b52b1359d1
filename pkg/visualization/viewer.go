// Package visualization exports reconstructed nodule masks as 2D slice
// image sequences, optionally burned into the CT volume they were aligned
// to. Slices can be taken along any of the three axes.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"

	"nodulemask/internal/models"
)

// Mask voxels render full white; the CT background is scaled below that so
// the overlay stays distinguishable.
const (
	maskGray       = 0xffff
	backgroundPeak = 0xc000
)

// Viewer renders slices of a reconstructed mask. With a background volume
// attached, each slice shows the CT content of the mask's bounding box with
// the mask burned in white; without one, the mask renders white on black.
type Viewer struct {
	mask models.Mask

	// background, when set, is a normalized [0,1] intensity volume
	// covering backgroundFrame.
	background      []float64
	backgroundFrame models.Frame
}

// NewViewer creates a viewer for the given mask.
func NewViewer(mask models.Mask) *Viewer {
	return &Viewer{mask: mask}
}

// SetBackground attaches a normalized intensity volume the mask was aligned
// to. The volume must cover its frame exactly, and the mask's bounding box
// must lie inside the frame.
func (v *Viewer) SetBackground(data []float64, frame models.Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	if len(data) != frame.NumVoxels() {
		return fmt.Errorf("background has %d voxels, frame holds %d", len(data), frame.NumVoxels())
	}
	for axis := 0; axis < 3; axis++ {
		if v.mask.BBox.Start[axis] < 0 || v.mask.BBox.Stop[axis] > frame.Shape[axis] {
			return fmt.Errorf("mask bounding box extends beyond the background frame on axis %d", axis)
		}
	}
	v.background = data
	v.backgroundFrame = frame
	return nil
}

// ExtractSlice renders one 2D slice of the mask region along the given axis
// ("z", "y" or "x"). The position is local to the mask's bounding box.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	shape := v.mask.BBox.Shape()

	var axisIdx int
	switch axis {
	case "z", "Z":
		axisIdx = 0
	case "y", "Y":
		axisIdx = 1
	case "x", "X":
		axisIdx = 2
	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}
	if position < 0 || position >= shape[axisIdx] {
		return nil, fmt.Errorf("position %d outside axis %s extent %d", position, axis, shape[axisIdx])
	}

	// Image rows and columns are the two remaining axes, kept in (z,y,x)
	// order: z slices are (y, x), y slices are (z, x), x slices are (z, y).
	rowAxis, colAxis := 1, 2
	switch axisIdx {
	case 1:
		rowAxis, colAxis = 0, 2
	case 2:
		rowAxis, colAxis = 0, 1
	}

	img := image.NewGray16(image.Rect(0, 0, shape[colAxis], shape[rowAxis]))
	var local [3]int
	local[axisIdx] = position
	for row := 0; row < shape[rowAxis]; row++ {
		local[rowAxis] = row
		for col := 0; col < shape[colAxis]; col++ {
			local[colAxis] = col
			img.SetGray16(col, row, color.Gray16{Y: v.voxelGray(local)})
		}
	}
	return img, nil
}

// voxelGray picks the pixel value for one local mask position.
func (v *Viewer) voxelGray(local [3]int) uint16 {
	if v.mask.At(local[0], local[1], local[2]) {
		return maskGray
	}
	if v.background == nil {
		return 0
	}
	shape := v.backgroundFrame.Shape
	z := v.mask.BBox.Start[0] + local[0]
	y := v.mask.BBox.Start[1] + local[1]
	x := v.mask.BBox.Start[2] + local[2]
	value := v.background[z*shape[1]*shape[2]+y*shape[2]+x]
	if value < 0 {
		value = 0
	}
	if value > 1 {
		value = 1
	}
	return uint16(value * backgroundPeak)
}

// SaveSlice saves one rendered slice as a JPEG image.
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveSliceSequence renders and saves every slice of the mask region along
// the given axis into outputDir, one JPEG per slice.
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	shape := v.mask.BBox.Shape()
	var maxPos int
	switch axis {
	case "z", "Z":
		maxPos = shape[0]
	case "y", "Y":
		maxPos = shape[1]
	case "x", "X":
		maxPos = shape[2]
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
