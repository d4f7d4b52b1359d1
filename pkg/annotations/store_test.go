package annotations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodulemask/internal/models"
)

// squareAnnotation builds an annotation with one square contour per z
// position, covering rows/cols [lo, hi].
func squareAnnotation(id int, malignancy int, lo, hi float64, zPositions ...float64) *models.Annotation {
	ann := &models.Annotation{ID: id}
	ann.Scores.Malignancy = malignancy
	for _, z := range zPositions {
		ann.Contours = append(ann.Contours, models.Contour{
			Points:      [][2]float64{{lo, lo}, {lo, hi}, {hi, hi}, {hi, lo}},
			ZPositionMM: z,
		})
	}
	return ann
}

func testScan(uid string, anns ...*models.Annotation) *models.Scan {
	return &models.Scan{
		SeriesUID: uid,
		PatientID: "LIDC-IDRI-0001",
		Frame: models.Frame{
			Origin:  [3]float64{0, 0, 0},
			Spacing: [3]float64{1, 1, 1},
			Shape:   [3]int{20, 20, 20},
		},
		SliceThicknessMM: 1.0,
		Annotations:      anns,
	}
}

func TestMemStoreLookupIsCaseInsensitive(t *testing.T) {
	scan := testScan("1.2.3.ABC")
	store := NewMemStore(scan)

	got, err := store.Scan("1.2.3.abc")
	require.NoError(t, err)
	assert.Same(t, scan, got)

	got, err = store.Scan("1.2.3.ABC")
	require.NoError(t, err)
	assert.Same(t, scan, got)
}

func TestMemStoreNotFound(t *testing.T) {
	store := NewMemStore(testScan("1.2.3"))
	_, err := store.Scan("9.9.9")
	assert.ErrorIs(t, err, ErrScanNotFound)
}

func TestMemStoreSeriesUIDs(t *testing.T) {
	store := NewMemStore(testScan("1.2.3"), testScan("4.5.6"))
	uids, err := store.SeriesUIDs()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1.2.3", "4.5.6"}, uids)
}

// countingStore counts inner lookups to verify read-through caching.
type countingStore struct {
	inner Store
	calls int
}

func (c *countingStore) Scan(uid string) (*models.Scan, error) {
	c.calls++
	return c.inner.Scan(uid)
}

func (c *countingStore) SeriesUIDs() ([]string, error) {
	return c.inner.SeriesUIDs()
}

func TestCachingStoreReadThrough(t *testing.T) {
	counting := &countingStore{inner: NewMemStore(testScan("1.2.3"))}
	cached := NewCachingStore(counting)

	first, err := cached.Scan("1.2.3")
	require.NoError(t, err)
	second, err := cached.Scan("1.2.3")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, counting.calls, "second lookup must hit the cache")

	// Different casing of the same UID still hits the cache.
	_, err = cached.Scan("1.2.3")
	require.NoError(t, err)
	assert.Equal(t, 1, counting.calls)
}

func TestCachingStoreDoesNotCacheMisses(t *testing.T) {
	counting := &countingStore{inner: NewMemStore()}
	cached := NewCachingStore(counting)

	_, err := cached.Scan("1.2.3")
	assert.ErrorIs(t, err, ErrScanNotFound)
	_, err = cached.Scan("1.2.3")
	assert.ErrorIs(t, err, ErrScanNotFound)
	assert.Equal(t, 2, counting.calls)
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	scan := testScan("1.2.840.113654", squareAnnotation(7, 4, 5, 9, 10, 11))
	require.NoError(t, WriteBundle(dir, scan))

	store := NewFileStore(dir)

	uids, err := store.SeriesUIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"1.2.840.113654"}, uids)

	loaded, err := store.Scan("1.2.840.113654")
	require.NoError(t, err)
	assert.Equal(t, scan.PatientID, loaded.PatientID)
	assert.Equal(t, scan.Frame, loaded.Frame)
	require.Len(t, loaded.Annotations, 1)
	assert.Equal(t, 7, loaded.Annotations[0].ID)
	assert.Equal(t, 4, loaded.Annotations[0].Scores.Malignancy)
	assert.Equal(t, scan.Annotations[0].Contours, loaded.Annotations[0].Contours)
}

func TestFileStoreMissingDirectory(t *testing.T) {
	store := NewFileStore("/nonexistent/annotation/bundles")
	_, err := store.Scan("1.2.3")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrScanNotFound)
}

func TestFileStoreNotFound(t *testing.T) {
	store := NewFileStore(t.TempDir())
	_, err := store.Scan("1.2.3")
	assert.ErrorIs(t, err, ErrScanNotFound)
}
