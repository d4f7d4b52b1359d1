package annotations

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"nodulemask/internal/models"
)

// Loader is the retrieval façade over a Store: per-scan annotations, nodule
// clusters, malignancy consensus and metadata. It holds no state of its own
// beyond the store and the clustering strategy.
type Loader struct {
	store     Store
	clusterer Clusterer
}

// LoaderOption customizes a Loader.
type LoaderOption func(*Loader)

// WithClusterer replaces the default centroid-distance clusterer.
func WithClusterer(c Clusterer) LoaderOption {
	return func(l *Loader) { l.clusterer = c }
}

// NewLoader builds a Loader over the given store.
func NewLoader(store Store, opts ...LoaderOption) *Loader {
	l := &Loader{
		store:     store,
		clusterer: CentroidClusterer{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Store exposes the underlying store for callers that need raw scan lookup.
func (l *Loader) Store() Store { return l.store }

// Scan returns the scan record for a series UID.
func (l *Loader) Scan(seriesUID string) (*models.Scan, error) {
	return l.store.Scan(seriesUID)
}

// Annotations returns every individual annotation recorded for a scan, one
// per radiologist per nodule.
func (l *Loader) Annotations(seriesUID string) ([]*models.Annotation, error) {
	scan, err := l.store.Scan(seriesUID)
	if err != nil {
		return nil, err
	}
	return scan.Annotations, nil
}

// ClusteredNodules groups a scan's annotations into physical nodules using
// the configured clustering strategy.
func (l *Loader) ClusteredNodules(seriesUID string) ([]models.Cluster, error) {
	scan, err := l.store.Scan(seriesUID)
	if err != nil {
		return nil, err
	}
	return l.clusterer.Cluster(scan), nil
}

// ReliableNodules returns only the nodule clusters annotated by at least
// minAnnotations radiologists.
func (l *Loader) ReliableNodules(seriesUID string, minAnnotations int) ([]models.Cluster, error) {
	clusters, err := l.ClusteredNodules(seriesUID)
	if err != nil {
		return nil, err
	}
	reliable := make([]models.Cluster, 0, len(clusters))
	for _, cluster := range clusters {
		if len(cluster) >= minAnnotations {
			reliable = append(reliable, cluster)
		}
	}
	return reliable, nil
}

// MalignancySummary aggregates the malignancy scores of one nodule cluster.
type MalignancySummary struct {
	// NumRadiologists is the number of annotations in the cluster.
	NumRadiologists int

	// Mean and StdDev summarize the individual scores. StdDev is the
	// population deviation over the cluster's scores.
	Mean   float64
	StdDev float64

	// Scores lists the individual malignancy scores.
	Scores []float64

	// ConsensusLabel is the descriptive label of the rounded mean score.
	ConsensusLabel string
}

// ClusterMalignancy computes the malignancy consensus for one cluster.
// An empty cluster yields a zero summary labeled "Unknown".
func ClusterMalignancy(cluster models.Cluster) MalignancySummary {
	if len(cluster) == 0 {
		return MalignancySummary{ConsensusLabel: models.MalignancyLabel(0)}
	}
	scores := make([]float64, len(cluster))
	for i, ann := range cluster {
		scores[i] = float64(ann.Scores.Malignancy)
	}
	mean := stat.Mean(scores, nil)
	return MalignancySummary{
		NumRadiologists: len(cluster),
		Mean:            mean,
		StdDev:          stat.PopStdDev(scores, nil),
		Scores:          scores,
		ConsensusLabel:  models.MalignancyLabel(int(math.Round(mean))),
	}
}

// ConsensusMalignancy computes the per-nodule malignancy consensus for every
// cluster of a scan, in cluster order.
func (l *Loader) ConsensusMalignancy(seriesUID string) ([]MalignancySummary, error) {
	clusters, err := l.ClusteredNodules(seriesUID)
	if err != nil {
		return nil, err
	}
	summaries := make([]MalignancySummary, len(clusters))
	for i, cluster := range clusters {
		summaries[i] = ClusterMalignancy(cluster)
	}
	return summaries, nil
}

// MapSeriesToPatients resolves series UIDs to patient IDs. Misses map to the
// empty string; a missing scan never aborts the batch.
func (l *Loader) MapSeriesToPatients(seriesUIDs []string) map[string]string {
	mapping := make(map[string]string, len(seriesUIDs))
	for _, uid := range seriesUIDs {
		scan, err := l.store.Scan(uid)
		if err != nil {
			mapping[uid] = ""
			continue
		}
		mapping[uid] = scan.PatientID
	}
	return mapping
}

// Metadata summarizes a scan: identity, geometry and annotation counts.
type Metadata struct {
	PatientID        string
	PixelSpacingMM   float64
	SliceThicknessMM float64
	SliceSpacingMM   float64
	NumAnnotations   int
	NumNodules       int
}

// Metadata returns the metadata summary for a scan.
func (l *Loader) Metadata(seriesUID string) (*Metadata, error) {
	scan, err := l.store.Scan(seriesUID)
	if err != nil {
		return nil, fmt.Errorf("loading metadata for %s: %w", seriesUID, err)
	}
	return &Metadata{
		PatientID:        scan.PatientID,
		PixelSpacingMM:   scan.Frame.Spacing[1],
		SliceThicknessMM: scan.SliceThicknessMM,
		SliceSpacingMM:   scan.Frame.Spacing[0],
		NumAnnotations:   len(scan.Annotations),
		NumNodules:       len(l.clusterer.Cluster(scan)),
	}, nil
}
