// Package reconstruction rebuilds voxel-aligned 3D segmentation masks from
// per-radiologist polygon annotations and fuses the annotations of one
// physical nodule into a consensus mask.
//
// The pipeline per annotation is: map each contour's physical z position
// into the requested frame, rasterize the contour polygons slice by slice,
// and assemble the slices into a single boolean mask with its bounding box.
// For a cluster, the per-annotation masks are fused over their joint
// bounding box and combined by a quorum vote, one vote per annotation
// regardless of how many slices it spans.
package reconstruction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"

	"golang.org/x/sync/errgroup"

	"nodulemask/internal/models"
	"nodulemask/pkg/annotations"
	"nodulemask/pkg/coords"
	"nodulemask/pkg/fusion"
	"nodulemask/pkg/raster"
)

var (
	// ErrEmptyReconstruction is returned when a reconstruction produced no
	// usable voxels: the annotation has no contours, every contour mapped
	// outside the target frame, or no annotation of a cluster yielded a
	// mask. Distinct from the not-found errors so callers can tell
	// "doesn't exist" from "exists but unrepresentable in this frame".
	ErrEmptyReconstruction = errors.New("reconstruction: no voxels inside the target frame")

	// ErrEmptyCluster is returned when a consensus is requested for a
	// cluster with no annotations. Caller contract violation.
	ErrEmptyCluster = errors.New("reconstruction: empty annotation cluster")

	// ErrAnnotationNotFound is returned when an annotation index is out of
	// range for the scan.
	ErrAnnotationNotFound = errors.New("reconstruction: annotation index out of range")

	// ErrNoduleNotFound is returned when a nodule index is out of range
	// for the scan's clusters.
	ErrNoduleNotFound = errors.New("reconstruction: nodule index out of range")
)

// DefaultThreshold is the consensus agreement fraction used when a caller
// does not specify one: at least half of the radiologists must agree.
const DefaultThreshold = 0.5

// Reconstructor answers "give me the voxel-aligned mask for annotation X" or
// "for the consensus of nodule cluster Y", in either the annotation source's
// native frame or a target volume's voxel frame.
//
// A Reconstructor is stateless across calls and safe for concurrent use as
// long as its store is (the caching store is).
type Reconstructor struct {
	store  annotations.Store
	loader *annotations.Loader
	logger *slog.Logger
}

// Option customizes a Reconstructor.
type Option func(*Reconstructor)

// WithLogger sets the structured logger. The default discards everything, so
// the library stays silent unless a logger is wired in.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconstructor) { r.logger = logger }
}

// WithClusterer replaces the default nodule grouping strategy.
func WithClusterer(c annotations.Clusterer) Option {
	return func(r *Reconstructor) {
		r.loader = annotations.NewLoader(r.store, annotations.WithClusterer(c))
	}
}

// New creates a Reconstructor over the given annotation store.
func New(store annotations.Store, opts ...Option) *Reconstructor {
	r := &Reconstructor{
		store:  store,
		loader: annotations.NewLoader(store),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Loader exposes the annotation façade sharing this reconstructor's store
// and clustering strategy.
func (r *Reconstructor) Loader() *annotations.Loader { return r.loader }

// AnnotationMask rasterizes every contour of one annotation into a single 3D
// mask placed in the given frame, tagged with the given frame kind.
//
// Each contour's z position in mm is converted to a slice index exactly
// once, here; contours whose slice index falls outside the frame are dropped
// silently, since partial coverage is expected when the annotation source
// and the target volume differ in extent. The returned mask's bounding box
// is the tight box around the surviving contours, clamped in-plane to the
// frame shape.
//
// Returns ErrEmptyReconstruction when the annotation has no contours, every
// contour is dropped, or rasterization sets no voxels.
func (r *Reconstructor) AnnotationMask(ann *models.Annotation, frame models.Frame, kind models.FrameKind) (models.Mask, error) {
	if err := frame.Validate(); err != nil {
		return models.Mask{}, err
	}
	if len(ann.Contours) == 0 {
		return models.Mask{}, fmt.Errorf("annotation %d has no contours: %w", ann.ID, ErrEmptyReconstruction)
	}

	// Convert contour z positions to slice indices and drop the ones
	// outside the frame.
	type placedContour struct {
		contour *models.Contour
		zIdx    int
	}
	valid := make([]placedContour, 0, len(ann.Contours))
	for i := range ann.Contours {
		c := &ann.Contours[i]
		zIdx := coords.ZToSlice(c.ZPositionMM, frame.Origin[0], frame.Spacing[0])
		if zIdx < 0 || zIdx >= frame.Shape[0] {
			r.logger.Debug("contour outside frame, dropped",
				"annotation", ann.ID, "z_mm", c.ZPositionMM, "z_index", zIdx)
			continue
		}
		valid = append(valid, placedContour{contour: c, zIdx: zIdx})
	}
	if len(valid) == 0 {
		return models.Mask{}, fmt.Errorf("annotation %d: all %d contours outside frame: %w",
			ann.ID, len(ann.Contours), ErrEmptyReconstruction)
	}

	// Tight bounding box over the surviving contours, in-plane bounds
	// clamped to the frame. The z range is inclusive of the last marked
	// slice, hence the +1 on the stop.
	zMin, zMax := valid[0].zIdx, valid[0].zIdx
	rowMin, rowMax := math.Inf(1), math.Inf(-1)
	colMin, colMax := math.Inf(1), math.Inf(-1)
	for _, pc := range valid {
		if pc.zIdx < zMin {
			zMin = pc.zIdx
		}
		if pc.zIdx > zMax {
			zMax = pc.zIdx
		}
		for _, p := range pc.contour.Points {
			rowMin = math.Min(rowMin, p[0])
			rowMax = math.Max(rowMax, p[0])
			colMin = math.Min(colMin, p[1])
			colMax = math.Max(colMax, p[1])
		}
	}
	yStart := clamp(int(math.Floor(rowMin)), 0, frame.Shape[1])
	yStop := clamp(int(math.Floor(rowMax))+1, 0, frame.Shape[1])
	xStart := clamp(int(math.Floor(colMin)), 0, frame.Shape[2])
	xStop := clamp(int(math.Floor(colMax))+1, 0, frame.Shape[2])
	if yStop <= yStart || xStop <= xStart {
		return models.Mask{}, fmt.Errorf("annotation %d lies outside the frame in-plane: %w",
			ann.ID, ErrEmptyReconstruction)
	}

	bbox := models.BoundingBox{
		Kind:  kind,
		Start: [3]int{zMin, yStart, xStart},
		Stop:  [3]int{zMax + 1, yStop, xStop},
	}
	mask := models.NewMask(bbox)
	rows := yStop - yStart
	cols := xStop - xStart

	// Rasterize each slice in the bounding box's local coordinates.
	local := make([][2]float64, 0, 64)
	for _, pc := range valid {
		local = local[:0]
		for _, p := range pc.contour.Points {
			local = append(local, [2]float64{p[0] - float64(yStart), p[1] - float64(xStart)})
		}
		plane := raster.FillPolygon(local, rows, cols)
		base := bbox.Index(pc.zIdx-zMin, 0, 0)
		for i, set := range plane {
			if set {
				mask.Data[base+i] = true
			}
		}
	}

	if mask.TrueCount() == 0 {
		return models.Mask{}, fmt.Errorf("annotation %d rasterized to zero voxels: %w",
			ann.ID, ErrEmptyReconstruction)
	}
	return mask, nil
}

// ConsensusMask reconstructs every annotation of a cluster in the given
// frame, fuses the per-annotation bounding boxes, and combines the masks by
// quorum vote with the given agreement threshold in (0, 1].
//
// Annotations that individually fail with ErrEmptyReconstruction are skipped
// with a log entry; any other per-annotation failure aborts. When no
// annotation yields a usable mask, ErrEmptyReconstruction is returned.
func (r *Reconstructor) ConsensusMask(cluster models.Cluster, frame models.Frame, kind models.FrameKind, threshold float64) (models.Mask, error) {
	if threshold <= 0 || threshold > 1 {
		return models.Mask{}, fmt.Errorf("%w: got %g", fusion.ErrInvalidThreshold, threshold)
	}
	if len(cluster) == 0 {
		return models.Mask{}, ErrEmptyCluster
	}

	masks := make([]models.Mask, 0, len(cluster))
	boxes := make([]models.BoundingBox, 0, len(cluster))
	for _, ann := range cluster {
		mask, err := r.AnnotationMask(ann, frame, kind)
		if err != nil {
			if errors.Is(err, ErrEmptyReconstruction) {
				r.logger.Debug("annotation skipped in consensus", "annotation", ann.ID, "reason", err)
				continue
			}
			return models.Mask{}, err
		}
		masks = append(masks, mask)
		boxes = append(boxes, mask.BBox)
	}
	if len(masks) == 0 {
		return models.Mask{}, fmt.Errorf("no annotation of the cluster produced a mask: %w", ErrEmptyReconstruction)
	}

	fused, offsets, err := fusion.FuseBoxes(boxes)
	if err != nil {
		return models.Mask{}, err
	}
	consensus, err := fusion.Consensus(fused, masks, offsets, threshold)
	if err != nil {
		return models.Mask{}, err
	}

	r.logger.Info("consensus mask reconstructed",
		"annotations", len(masks), "skipped", len(cluster)-len(masks),
		"threshold", threshold, "voxels", consensus.TrueCount())
	return consensus, nil
}

// ScanAnnotationMask reconstructs the mask of one annotation of a scan,
// addressed by index. With a nil frame the scan's native frame is used and
// the mask is tagged FrameNative; otherwise the target frame is used and the
// mask is tagged FrameVolume.
func (r *Reconstructor) ScanAnnotationMask(seriesUID string, annotationIdx int, frame *models.Frame) (models.Mask, error) {
	scan, err := r.store.Scan(seriesUID)
	if err != nil {
		return models.Mask{}, err
	}
	if annotationIdx < 0 || annotationIdx >= len(scan.Annotations) {
		return models.Mask{}, fmt.Errorf("scan %s has %d annotations, requested %d: %w",
			scan.SeriesUID, len(scan.Annotations), annotationIdx, ErrAnnotationNotFound)
	}
	targetFrame, kind := resolveFrame(scan, frame)
	return r.AnnotationMask(scan.Annotations[annotationIdx], targetFrame, kind)
}

// ScanConsensusMask reconstructs the consensus mask of one nodule of a scan,
// addressed by cluster index. Frame selection works as in
// ScanAnnotationMask; a threshold of 0 selects DefaultThreshold.
func (r *Reconstructor) ScanConsensusMask(seriesUID string, noduleIdx int, frame *models.Frame, threshold float64) (models.Mask, error) {
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	clusters, err := r.loader.ClusteredNodules(seriesUID)
	if err != nil {
		return models.Mask{}, err
	}
	if noduleIdx < 0 || noduleIdx >= len(clusters) {
		return models.Mask{}, fmt.Errorf("scan %s has %d nodules, requested %d: %w",
			seriesUID, len(clusters), noduleIdx, ErrNoduleNotFound)
	}

	scan, err := r.store.Scan(seriesUID)
	if err != nil {
		return models.Mask{}, err
	}
	targetFrame, kind := resolveFrame(scan, frame)
	return r.ConsensusMask(clusters[noduleIdx], targetFrame, kind, threshold)
}

// MapScans applies fn to many scans with bounded concurrency. Per-item
// failures (scan lookup or fn) are collected and returned keyed by series
// UID; a failing item never aborts the batch. The returned map is empty when
// every item succeeded.
func (r *Reconstructor) MapScans(ctx context.Context, seriesUIDs []string, workers int, fn func(ctx context.Context, scan *models.Scan) error) map[string]error {
	if workers < 1 {
		workers = 1
	}

	var mu sync.Mutex
	failures := make(map[string]error)
	record := func(uid string, err error) {
		mu.Lock()
		failures[uid] = err
		mu.Unlock()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, uid := range seriesUIDs {
		uid := uid
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				record(uid, err)
				return nil
			}
			scan, err := r.store.Scan(uid)
			if err != nil {
				r.logger.Warn("scan lookup failed in batch", "seriesuid", uid, "error", err)
				record(uid, err)
				return nil
			}
			if err := fn(ctx, scan); err != nil {
				r.logger.Warn("batch item failed", "seriesuid", uid, "error", err)
				record(uid, err)
			}
			return nil
		})
	}
	// Goroutines never return an error themselves; failures land in the map.
	_ = g.Wait()
	return failures
}

// resolveFrame picks the reconstruction frame: the scan's own grid (native)
// when no target frame is given, the target volume's grid otherwise.
func resolveFrame(scan *models.Scan, frame *models.Frame) (models.Frame, models.FrameKind) {
	if frame == nil {
		return scan.Frame, models.FrameNative
	}
	return *frame, models.FrameVolume
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
