package annotations

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"nodulemask/internal/models"
)

// FileStore reads scan records lazily from a directory of JSON bundles, one
// file per scan named "<seriesuid>.json". The bundle layout is the JSON
// encoding of models.Scan.
//
// The directory listing is indexed once, on first use; lookups stay
// case-insensitive by keying the index on the lowercased UID.
type FileStore struct {
	dir string

	indexOnce sync.Once
	indexErr  error
	files     map[string]string // lowercased series UID -> path
	uids      []string
}

// NewFileStore creates a store over the given bundle directory. The
// directory is not touched until the first lookup.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) buildIndex() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.indexErr = fmt.Errorf("reading annotation bundle directory: %w", err)
		return
	}

	s.files = make(map[string]string, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			continue
		}
		uid := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		s.files[strings.ToLower(uid)] = filepath.Join(s.dir, e.Name())
		s.uids = append(s.uids, uid)
	}
}

// Scan implements Store.
func (s *FileStore) Scan(seriesUID string) (*models.Scan, error) {
	s.indexOnce.Do(s.buildIndex)
	if s.indexErr != nil {
		return nil, s.indexErr
	}

	path, ok := s.files[strings.ToLower(seriesUID)]
	if !ok {
		return nil, ErrScanNotFound
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading annotation bundle %s: %w", path, err)
	}

	var scan models.Scan
	if err := json.Unmarshal(data, &scan); err != nil {
		return nil, fmt.Errorf("parsing annotation bundle %s: %w", path, err)
	}
	if err := scan.Frame.Validate(); err != nil {
		return nil, fmt.Errorf("annotation bundle %s: %w", path, err)
	}
	return &scan, nil
}

// SeriesUIDs implements Store.
func (s *FileStore) SeriesUIDs() ([]string, error) {
	s.indexOnce.Do(s.buildIndex)
	if s.indexErr != nil {
		return nil, s.indexErr
	}
	out := make([]string, len(s.uids))
	copy(out, s.uids)
	return out, nil
}

// WriteBundle serializes a scan record to "<seriesuid>.json" inside dir,
// creating the directory if needed. It is the inverse of what FileStore
// reads and exists mainly for export tooling and tests.
func WriteBundle(dir string, scan *models.Scan) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating bundle directory: %w", err)
	}
	data, err := json.MarshalIndent(scan, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding annotation bundle: %w", err)
	}
	path := filepath.Join(dir, scan.SeriesUID+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing annotation bundle: %w", err)
	}
	return nil
}
