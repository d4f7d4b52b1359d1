// Package coords converts between physical (mm) and voxel (index)
// coordinates of a volume, given the volume's origin and spacing.
//
// All conversions are applied per axis independently; axes are never
// coupled. The axis order is (z, y, x) throughout.
package coords

import "math"

// ToVoxel converts a physical position in mm to the nearest voxel index:
//
//	voxel = round((mm - origin) / spacing)
//
// Rounding is half away from zero (math.Round), so annotations that land
// exactly on a half-voxel boundary map deterministically across all call
// sites.
func ToVoxel(mm, origin, spacing [3]float64) [3]int {
	var idx [3]int
	for axis := 0; axis < 3; axis++ {
		idx[axis] = int(math.Round((mm[axis] - origin[axis]) / spacing[axis]))
	}
	return idx
}

// ToMM converts a voxel index back to its physical position in mm:
//
//	mm = spacing * voxel + origin
func ToMM(idx [3]int, origin, spacing [3]float64) [3]float64 {
	var mm [3]float64
	for axis := 0; axis < 3; axis++ {
		mm[axis] = spacing[axis]*float64(idx[axis]) + origin[axis]
	}
	return mm
}

// ZToSlice converts a single physical z position to a slice index, using
// the same rounding rule as ToVoxel. This is the scalar form used when
// mapping contour z positions into a target volume.
func ZToSlice(zMM, originZ, spacingZ float64) int {
	return int(math.Round((zMM - originZ) / spacingZ))
}

// SliceToZ converts a slice index to its physical z position in mm.
func SliceToZ(idx int, originZ, spacingZ float64) float64 {
	return spacingZ*float64(idx) + originZ
}
