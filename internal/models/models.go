// Package models defines the shared data structures for nodule mask
// reconstruction: volume frames, radiologist annotations, and the masks
// produced from them.
//
// All 3-component quantities (origins, spacings, shapes, indices) use the
// axis order (z, y, x), matching the slice-major layout of CT volumes.
package models

import "fmt"

// FrameKind tags a mask or bounding box with the coordinate frame its
// indices refer to. Masks produced in different frames are never comparable;
// fusion and voting reject mixed kinds at call time.
type FrameKind int

const (
	// FrameNative is the annotation source's own scan voxel grid.
	FrameNative FrameKind = iota

	// FrameVolume is a target CT volume's voxel grid (e.g. a LUNA16 .mhd
	// volume the annotations are being aligned to).
	FrameVolume
)

// String returns a human-readable name for the frame kind.
func (k FrameKind) String() string {
	switch k {
	case FrameNative:
		return "native"
	case FrameVolume:
		return "volume"
	default:
		return fmt.Sprintf("FrameKind(%d)", int(k))
	}
}

// Frame describes a volume's voxel grid in physical space.
type Frame struct {
	// Origin is the physical position of voxel (0,0,0) in mm, (z, y, x).
	Origin [3]float64

	// Spacing is the physical size of one voxel in mm, (z, y, x).
	// All components must be strictly positive.
	Spacing [3]float64

	// Shape is the voxel extent of the volume, (slices, rows, cols).
	// All components must be positive.
	Shape [3]int
}

// Validate reports whether the frame satisfies its invariants:
// strictly positive spacing and positive shape on every axis.
func (f Frame) Validate() error {
	for axis := 0; axis < 3; axis++ {
		if f.Spacing[axis] <= 0 {
			return fmt.Errorf("frame spacing must be positive, axis %d is %g", axis, f.Spacing[axis])
		}
		if f.Shape[axis] <= 0 {
			return fmt.Errorf("frame shape must be positive, axis %d is %d", axis, f.Shape[axis])
		}
	}
	return nil
}

// NumVoxels returns the total voxel count of the frame.
func (f Frame) NumVoxels() int {
	return f.Shape[0] * f.Shape[1] * f.Shape[2]
}

// Contour is one closed polygon marking a nodule boundary on a single scan
// slice. Points are (row, col) in the annotation source's pixel grid; the
// first and last point are implicitly connected.
type Contour struct {
	// Points is the ordered vertex list, each (row, col).
	Points [][2]float64 `json:"points"`

	// ZPositionMM locates the slice in physical space.
	ZPositionMM float64 `json:"z_position_mm"`
}

// FeatureScores holds the nine categorical characteristics a radiologist
// assigns to a nodule. A zero value means the score was not recorded.
type FeatureScores struct {
	Subtlety          int `json:"subtlety"`          // 1-5
	InternalStructure int `json:"internalStructure"` // 1-4
	Calcification     int `json:"calcification"`     // 1-6
	Sphericity        int `json:"sphericity"`        // 1-5
	Margin            int `json:"margin"`            // 1-5
	Lobulation        int `json:"lobulation"`        // 1-5
	Spiculation       int `json:"spiculation"`       // 1-5
	Texture           int `json:"texture"`           // 1-5
	Malignancy        int `json:"malignancy"`        // 1-5
}

// MalignancyLabel maps a malignancy score (1-5) to its descriptive label.
// Scores outside the documented range yield "Unknown".
func MalignancyLabel(score int) string {
	switch score {
	case 1:
		return "Highly unlikely"
	case 2:
		return "Moderately unlikely"
	case 3:
		return "Indeterminate"
	case 4:
		return "Moderately suspicious"
	case 5:
		return "Highly suspicious"
	default:
		return "Unknown"
	}
}

// Annotation is one radiologist's marking of a single nodule: an ordered set
// of per-slice contours plus the categorical feature scores. Annotations are
// owned by the annotation store; reconstruction only reads them.
type Annotation struct {
	ID       int           `json:"id"`
	Contours []Contour     `json:"contours"`
	Scores   FeatureScores `json:"scores"`
}

// ZPositionsMM returns the physical z position of every contour, in the
// order the contours were recorded.
func (a *Annotation) ZPositionsMM() []float64 {
	zs := make([]float64, len(a.Contours))
	for i, c := range a.Contours {
		zs[i] = c.ZPositionMM
	}
	return zs
}

// Cluster groups the annotations believed to describe the same physical
// nodule, one per radiologist who marked it.
type Cluster []*Annotation

// Scan is one CT acquisition together with all annotations recorded against
// it. The native frame travels with the scan so that native-frame
// reconstruction can run the same pipeline as volume-aligned reconstruction.
type Scan struct {
	// SeriesUID is the DICOM SeriesInstanceUID identifying the scan.
	// Lookups by UID are case-insensitive.
	SeriesUID string `json:"seriesuid"`

	// PatientID is the external patient identifier (e.g. LIDC-IDRI-0001).
	PatientID string `json:"patient_id"`

	// Frame is the scan's native acquisition grid.
	Frame Frame `json:"frame"`

	// SliceThicknessMM is the reconstructed slice thickness.
	SliceThicknessMM float64 `json:"slice_thickness_mm"`

	Annotations []*Annotation `json:"annotations"`
}

// BoundingBox is three half-open [start, stop) index ranges over a voxel
// grid, tagged with the frame the indices belong to.
type BoundingBox struct {
	Kind  FrameKind
	Start [3]int
	Stop  [3]int
}

// Shape returns the per-axis extent of the box.
func (b BoundingBox) Shape() [3]int {
	return [3]int{b.Stop[0] - b.Start[0], b.Stop[1] - b.Start[1], b.Stop[2] - b.Start[2]}
}

// NumVoxels returns the voxel count of the box.
func (b BoundingBox) NumVoxels() int {
	s := b.Shape()
	return s[0] * s[1] * s[2]
}

// Index converts a local (z, y, x) position inside the box to the flat
// row-major index used by Mask data. The position is not range-checked.
func (b BoundingBox) Index(z, y, x int) int {
	s := b.Shape()
	return z*s[1]*s[2] + y*s[2] + x
}

// Mask is a 3D boolean voxel array located within a coordinate frame by its
// bounding box. The data length always equals the box's voxel count.
type Mask struct {
	Data []bool
	BBox BoundingBox
}

// NewMask allocates an all-false mask covering the given bounding box.
func NewMask(bbox BoundingBox) Mask {
	return Mask{
		Data: make([]bool, bbox.NumVoxels()),
		BBox: bbox,
	}
}

// At reports the voxel at local position (z, y, x) inside the bounding box.
func (m Mask) At(z, y, x int) bool {
	return m.Data[m.BBox.Index(z, y, x)]
}

// TrueCount returns the number of set voxels.
func (m Mask) TrueCount() int {
	n := 0
	for _, v := range m.Data {
		if v {
			n++
		}
	}
	return n
}
