package volume

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"nodulemask/internal/models"
	"nodulemask/pkg/coords"
)

// Candidate is one diameter-style nodule annotation as distributed in the
// LUNA16 annotations.csv: a physical center and a diameter, without contour
// geometry.
type Candidate struct {
	SeriesUID  string
	CenterMM   [3]float64 // (z, y, x)
	DiameterMM float64
}

// LoadCandidatesCSV reads a LUNA16-style annotations CSV with the columns
// seriesuid, coordX, coordY, coordZ, diameter_mm (header row required) and
// groups the records by series UID.
func LoadCandidatesCSV(path string) (map[string][]Candidate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening candidates CSV: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading candidates CSV header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, name := range []string{"seriesuid", "coordX", "coordY", "coordZ", "diameter_mm"} {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("candidates CSV is missing column %q", name)
		}
	}

	out := make(map[string][]Candidate)
	for line := 2; ; line++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading candidates CSV: %w", err)
		}
		x, errX := strconv.ParseFloat(record[col["coordX"]], 64)
		y, errY := strconv.ParseFloat(record[col["coordY"]], 64)
		z, errZ := strconv.ParseFloat(record[col["coordZ"]], 64)
		d, errD := strconv.ParseFloat(record[col["diameter_mm"]], 64)
		if errX != nil || errY != nil || errZ != nil || errD != nil {
			return nil, fmt.Errorf("candidates CSV line %d: malformed number", line)
		}
		uid := record[col["seriesuid"]]
		out[uid] = append(out[uid], Candidate{
			SeriesUID:  uid,
			CenterMM:   [3]float64{z, y, x},
			DiameterMM: d,
		})
	}
	return out, nil
}

// SphereMask builds the ellipsoidal voxel mask of a diameter-style candidate
// in the given frame: every voxel whose normalized euclidean distance from
// the center is at most 1 is set. The mask's bounding box is the tight box
// around the sphere, clamped to the frame, and tagged FrameVolume.
//
// A candidate entirely outside the frame yields an error, mirroring the
// empty-result contract of contour reconstruction.
func SphereMask(frame models.Frame, centerMM [3]float64, diameterMM float64) (models.Mask, error) {
	if err := frame.Validate(); err != nil {
		return models.Mask{}, err
	}
	if diameterMM <= 0 {
		return models.Mask{}, fmt.Errorf("diameter must be positive, got %g", diameterMM)
	}

	center := coords.ToVoxel(centerMM, frame.Origin, frame.Spacing)

	// Per-axis radius in voxels.
	var radius [3]float64
	var start, stop [3]int
	for axis := 0; axis < 3; axis++ {
		radius[axis] = (diameterMM / 2) / frame.Spacing[axis]
		start[axis] = center[axis] - int(radius[axis]) - 1
		stop[axis] = center[axis] + int(radius[axis]) + 2
		if start[axis] < 0 {
			start[axis] = 0
		}
		if stop[axis] > frame.Shape[axis] {
			stop[axis] = frame.Shape[axis]
		}
		if stop[axis] <= start[axis] {
			return models.Mask{}, fmt.Errorf("candidate at %v lies outside the frame", centerMM)
		}
	}

	bbox := models.BoundingBox{Kind: models.FrameVolume, Start: start, Stop: stop}
	mask := models.NewMask(bbox)
	for z := start[0]; z < stop[0]; z++ {
		for y := start[1]; y < stop[1]; y++ {
			for x := start[2]; x < stop[2]; x++ {
				dz := float64(z-center[0]) / radius[0]
				dy := float64(y-center[1]) / radius[1]
				dx := float64(x-center[2]) / radius[2]
				if math.Sqrt(dz*dz+dy*dy+dx*dx) <= 1 {
					mask.Data[bbox.Index(z-start[0], y-start[1], x-start[2])] = true
				}
			}
		}
	}
	if mask.TrueCount() == 0 {
		return models.Mask{}, fmt.Errorf("candidate at %v covers no voxels in the frame", centerMM)
	}
	return mask, nil
}
