// Package annotations provides read-only access to an external store of
// radiologist nodule annotations: scan lookup, per-scan annotations,
// nodule clustering, feature scores and scan metadata.
//
// The reconstruction core never talks to a database itself; it consumes
// already-materialized Scan records through the narrow Store contract.
package annotations

import (
	"errors"
	"strings"
	"sync"

	"nodulemask/internal/models"
)

// ErrScanNotFound is returned when no scan exists for a series UID.
var ErrScanNotFound = errors.New("annotations: scan not found")

// Store is the read-only contract over the external annotation store.
// Series UID lookups are case-insensitive.
type Store interface {
	// Scan returns the scan record for the given SeriesInstanceUID, or
	// ErrScanNotFound.
	Scan(seriesUID string) (*models.Scan, error)

	// SeriesUIDs lists every series UID the store knows about.
	SeriesUIDs() ([]string, error)
}

// MemStore is an in-memory Store seeded with scan records. It is the
// backing for tests and for callers that materialize annotations themselves.
type MemStore struct {
	scans map[string]*models.Scan
	uids  []string
}

// NewMemStore builds a store over the given scans.
func NewMemStore(scans ...*models.Scan) *MemStore {
	s := &MemStore{scans: make(map[string]*models.Scan, len(scans))}
	for _, scan := range scans {
		key := strings.ToLower(scan.SeriesUID)
		if _, ok := s.scans[key]; !ok {
			s.uids = append(s.uids, scan.SeriesUID)
		}
		s.scans[key] = scan
	}
	return s
}

// Scan implements Store.
func (s *MemStore) Scan(seriesUID string) (*models.Scan, error) {
	scan, ok := s.scans[strings.ToLower(seriesUID)]
	if !ok {
		return nil, ErrScanNotFound
	}
	return scan, nil
}

// SeriesUIDs implements Store.
func (s *MemStore) SeriesUIDs() ([]string, error) {
	out := make([]string, len(s.uids))
	copy(out, s.uids)
	return out, nil
}

// CachingStore wraps a Store with a read-through scan cache keyed by series
// UID. A miss triggers exactly one inner lookup and stores the result; the
// cached records are shared read-only afterwards, so concurrent
// reconstruction calls for different scans stay safe.
//
// Not-found results are not cached; the inner store may gain scans later.
type CachingStore struct {
	inner Store

	mu    sync.RWMutex
	scans map[string]*models.Scan
}

// NewCachingStore wraps inner with a scan cache.
func NewCachingStore(inner Store) *CachingStore {
	return &CachingStore{
		inner: inner,
		scans: make(map[string]*models.Scan),
	}
}

// Scan implements Store.
func (s *CachingStore) Scan(seriesUID string) (*models.Scan, error) {
	key := strings.ToLower(seriesUID)

	s.mu.RLock()
	scan, ok := s.scans[key]
	s.mu.RUnlock()
	if ok {
		return scan, nil
	}

	scan, err := s.inner.Scan(seriesUID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.scans[key] = scan
	s.mu.Unlock()
	return scan, nil
}

// SeriesUIDs implements Store by delegating to the inner store.
func (s *CachingStore) SeriesUIDs() ([]string, error) {
	return s.inner.SeriesUIDs()
}
