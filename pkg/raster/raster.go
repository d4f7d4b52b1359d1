// Package raster fills closed 2D polygons into boolean rasters.
//
// The fill rule is a conventional even-odd scanline fill: a grid cell (y, x)
// is inside if a horizontal ray through y crosses an odd number of polygon
// edges before reaching x. Each edge covers the half-open row interval
// [min(r0,r1), max(r0,r1)) and each span the half-open column interval
// [xa, xb), so a square with corners at rows/cols 5 and 9 fills exactly
// rows 5-8 and cols 5-8. Results are reproducible bit for bit for a given
// point sequence and target shape.
package raster

import (
	"math"
	"sort"
)

// FillPolygon rasterizes a closed polygon into a rows x cols boolean grid in
// row-major order. Points are (row, col) in the grid's local coordinates;
// the first and last point are implicitly connected.
//
// Degenerate input (fewer than 3 points) and polygons lying entirely outside
// the grid produce an all-false raster, not an error. Spans reaching past
// the grid edges are clipped.
func FillPolygon(points [][2]float64, rows, cols int) []bool {
	if rows <= 0 || cols <= 0 {
		return nil
	}
	out := make([]bool, rows*cols)
	if len(points) < 3 {
		return out
	}

	// Restrict the scan to rows the polygon can touch.
	minRow, maxRow := points[0][0], points[0][0]
	for _, p := range points[1:] {
		minRow = math.Min(minRow, p[0])
		maxRow = math.Max(maxRow, p[0])
	}
	yStart := int(math.Floor(minRow))
	yStop := int(math.Ceil(maxRow)) // exclusive, per the half-open edge rule
	if yStart < 0 {
		yStart = 0
	}
	if yStop > rows {
		yStop = rows
	}

	n := len(points)
	xs := make([]float64, 0, 8)
	for y := yStart; y < yStop; y++ {
		fy := float64(y)
		xs = xs[:0]
		for i := 0; i < n; i++ {
			r0, c0 := points[i][0], points[i][1]
			r1, c1 := points[(i+1)%n][0], points[(i+1)%n][1]
			if r0 == r1 {
				// Horizontal edges contribute no crossings.
				continue
			}
			lo, hi := r0, r1
			cLo, cHi := c0, c1
			if lo > hi {
				lo, hi = hi, lo
				cLo, cHi = cHi, cLo
			}
			if fy < lo || fy >= hi {
				continue
			}
			t := (fy - lo) / (hi - lo)
			xs = append(xs, cLo+t*(cHi-cLo))
		}
		if len(xs) < 2 {
			continue
		}
		sort.Float64s(xs)

		// Fill between crossing pairs.
		for i := 0; i+1 < len(xs); i += 2 {
			start := int(math.Ceil(xs[i]))
			stop := int(math.Ceil(xs[i+1])) // exclusive
			if start < 0 {
				start = 0
			}
			if stop > cols {
				stop = cols
			}
			for x := start; x < stop; x++ {
				out[y*cols+x] = true
			}
		}
	}
	return out
}
