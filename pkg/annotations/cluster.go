package annotations

import (
	"nodulemask/internal/models"
)

// DefaultClusterToleranceMM is the centroid distance under which two
// annotations are assumed to mark the same physical nodule.
const DefaultClusterToleranceMM = 5.0

// Clusterer groups a scan's annotations into physical nodules. The grouping
// heuristic lives behind this interface so reconstruction never hard-wires
// one algorithm; callers with their own grouping inject it here.
type Clusterer interface {
	Cluster(scan *models.Scan) []models.Cluster
}

// ClusterFunc adapts a plain function to the Clusterer interface.
type ClusterFunc func(scan *models.Scan) []models.Cluster

// Cluster implements Clusterer.
func (f ClusterFunc) Cluster(scan *models.Scan) []models.Cluster {
	return f(scan)
}

// CentroidClusterer groups annotations by single-linkage over the physical
// distance between their contour centroids: two annotations land in the same
// nodule when their centroids are within ToleranceMM of each other, directly
// or through a chain of other annotations.
type CentroidClusterer struct {
	// ToleranceMM is the maximum centroid distance in mm.
	// Zero or negative means DefaultClusterToleranceMM.
	ToleranceMM float64
}

// Cluster implements Clusterer. Cluster order follows the first annotation
// of each group in the scan's annotation order, so results are stable.
func (c CentroidClusterer) Cluster(scan *models.Scan) []models.Cluster {
	anns := scan.Annotations
	if len(anns) == 0 {
		return nil
	}

	tol := c.ToleranceMM
	if tol <= 0 {
		tol = DefaultClusterToleranceMM
	}
	tolSq := tol * tol

	centroids := make([][3]float64, len(anns))
	for i, ann := range anns {
		centroids[i] = centroidMM(ann, scan.Frame)
	}

	// Single-linkage union-find over pairwise centroid distances.
	parent := make([]int, len(anns))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	for i := 0; i < len(anns); i++ {
		for j := i + 1; j < len(anns); j++ {
			if distSq(centroids[i], centroids[j]) <= tolSq {
				parent[find(j)] = find(i)
			}
		}
	}

	groups := make(map[int]models.Cluster)
	var order []int
	for i, ann := range anns {
		root := find(i)
		if _, ok := groups[root]; !ok {
			order = append(order, root)
		}
		groups[root] = append(groups[root], ann)
	}

	clusters := make([]models.Cluster, 0, len(order))
	for _, root := range order {
		clusters = append(clusters, groups[root])
	}
	return clusters
}

// centroidMM computes the mean physical position of every contour point of
// an annotation. Rows and cols scale by the scan's in-plane spacing; the
// scan origin cancels in pairwise distances and is omitted.
func centroidMM(ann *models.Annotation, frame models.Frame) [3]float64 {
	var sum [3]float64
	n := 0
	for _, contour := range ann.Contours {
		for _, p := range contour.Points {
			sum[0] += contour.ZPositionMM
			sum[1] += p[0] * frame.Spacing[1]
			sum[2] += p[1] * frame.Spacing[2]
			n++
		}
	}
	if n == 0 {
		return sum
	}
	return [3]float64{sum[0] / float64(n), sum[1] / float64(n), sum[2] / float64(n)}
}

func distSq(a, b [3]float64) float64 {
	dz := a[0] - b[0]
	dy := a[1] - b[1]
	dx := a[2] - b[2]
	return dz*dz + dy*dy + dx*dx
}
