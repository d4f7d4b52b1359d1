// Package fusion combines several partially overlapping 3D masks of
// differing origin and extent into one fused region: it computes the minimal
// bounding box enclosing all inputs and runs a multi-rater quorum vote over
// the masks placed into that common frame.
package fusion

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"nodulemask/internal/models"
)

var (
	// ErrNoBoxes is returned when box fusion receives no input.
	ErrNoBoxes = errors.New("fusion: no bounding boxes to fuse")

	// ErrNoContributors is returned when a consensus vote has no masks.
	ErrNoContributors = errors.New("fusion: no contributing masks")

	// ErrInvalidThreshold is returned for a consensus threshold outside (0, 1].
	ErrInvalidThreshold = errors.New("fusion: threshold must be in (0, 1]")

	// ErrFrameMismatch is returned when inputs tagged with different
	// coordinate frames are combined.
	ErrFrameMismatch = errors.New("fusion: masks from different coordinate frames")
)

// FuseBoxes computes the minimal bounding box enclosing every input box,
// together with each input's (z, y, x) offset into the fused frame. All
// boxes must share one frame kind; offsets are non-negative by construction,
// so every input mask fits inside a zero-initialized array of the fused
// shape when placed at its offset.
func FuseBoxes(boxes []models.BoundingBox) (models.BoundingBox, [][3]int, error) {
	if len(boxes) == 0 {
		return models.BoundingBox{}, nil, ErrNoBoxes
	}

	fused := boxes[0]
	for _, b := range boxes[1:] {
		if b.Kind != fused.Kind {
			return models.BoundingBox{}, nil, fmt.Errorf("%w: %s vs %s", ErrFrameMismatch, fused.Kind, b.Kind)
		}
		for axis := 0; axis < 3; axis++ {
			if b.Start[axis] < fused.Start[axis] {
				fused.Start[axis] = b.Start[axis]
			}
			if b.Stop[axis] > fused.Stop[axis] {
				fused.Stop[axis] = b.Stop[axis]
			}
		}
	}

	offsets := make([][3]int, len(boxes))
	for i, b := range boxes {
		for axis := 0; axis < 3; axis++ {
			offsets[i][axis] = b.Start[axis] - fused.Start[axis]
		}
	}
	return fused, offsets, nil
}

// Consensus fuses per-annotation masks into a single consensus mask over the
// fused bounding box. Each mask adds one vote at every set voxel, placed at
// its offset; overlapping regions accumulate. The vote volume is then
// normalized by the number of contributing masks, so every annotation
// carries exactly one unit of vote mass regardless of how many slices it
// spans, and thresholded: a voxel is set when at least the given fraction of
// annotations agree.
//
// threshold must lie in (0, 1]; it is never clamped. The masks and offsets
// must come from FuseBoxes over the same inputs.
func Consensus(fused models.BoundingBox, masks []models.Mask, offsets [][3]int, threshold float64) (models.Mask, error) {
	if threshold <= 0 || threshold > 1 {
		return models.Mask{}, fmt.Errorf("%w: got %g", ErrInvalidThreshold, threshold)
	}
	if len(masks) == 0 {
		return models.Mask{}, ErrNoContributors
	}
	if len(masks) != len(offsets) {
		return models.Mask{}, fmt.Errorf("fusion: %d masks but %d offsets", len(masks), len(offsets))
	}

	votes := make([]float64, fused.NumVoxels())
	for i, m := range masks {
		if m.BBox.Kind != fused.Kind {
			return models.Mask{}, fmt.Errorf("%w: %s vs %s", ErrFrameMismatch, fused.Kind, m.BBox.Kind)
		}
		addVotes(votes, fused, m, offsets[i])
	}

	floats.Scale(1/float64(len(masks)), votes)

	out := models.NewMask(fused)
	for i, v := range votes {
		out.Data[i] = v >= threshold
	}
	return out, nil
}

// addVotes accumulates one mask into the vote volume at the given offset.
func addVotes(votes []float64, fused models.BoundingBox, m models.Mask, offset [3]int) {
	shape := m.BBox.Shape()
	for z := 0; z < shape[0]; z++ {
		for y := 0; y < shape[1]; y++ {
			for x := 0; x < shape[2]; x++ {
				if m.At(z, y, x) {
					votes[fused.Index(z+offset[0], y+offset[1], x+offset[2])]++
				}
			}
		}
	}
}
