// Package store implements the persisted index of products and images.
//
// The index is a single JSON document (an ordered array of products) living
// at <root>/index.json, loaded once at startup and rewritten wholesale on
// every logically-complete mutation. Batch operations mutate the in-memory
// index as they go and call Save exactly once at the end.
//
// The store also owns the integrity rules that keep the index and the files
// on disk consistent: the downloaded-implies-file-exists invariant, the
// cross-reference rule (records sharing one LocalPath always agree on
// status), and uniquely-owned file cleanup on product removal.
package store

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/feizhan1/uxp-plugin-sub000/internal/catalog"
)

// IndexFileName is the name of the index document under the cache root.
const IndexFileName = "index.json"

// Store holds the in-memory index and its backing file.
//
// Within a process the store is accessed cooperatively by one logical
// actor; it does no locking of its own. Callers must not run two
// download/upload batches against the same product concurrently.
type Store struct {
	rootDir   string
	indexPath string
	products  []*catalog.Product
	logger    *log.Logger
}

// Open creates a store rooted at rootDir and loads the index document.
//
// A missing index file yields an empty index. A structurally corrupt index
// file is logged and also yields an empty index: losing the index is
// recoverable (downloads are idempotent), crash-looping on startup is not.
//
// If logger is nil, a default logger writing to stderr is used.
func Open(rootDir string, logger *log.Logger) (*Store, error) {
	if rootDir == "" {
		return nil, fmt.Errorf("rootDir cannot be empty")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache root: %w", err)
	}

	s := &Store{
		rootDir:   rootDir,
		indexPath: filepath.Join(rootDir, IndexFileName),
		logger:    logger,
	}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reads the index document from disk, replacing the in-memory index.
// Legacy statuses are migrated to the canonical lifecycle as they are read.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.indexPath)
	if os.IsNotExist(err) {
		s.products = []*catalog.Product{}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read index %s: %w", s.indexPath, err)
	}

	var products []*catalog.Product
	if err := json.Unmarshal(data, &products); err != nil {
		s.logger.Printf("WARNING: index %s is corrupt, starting empty: %v", s.indexPath, err)
		s.products = []*catalog.Product{}
		return nil
	}

	migrated := 0
	for _, p := range products {
		p.ForEachImage(func(rec *catalog.ImageRecord) bool {
			if canonical, changed := catalog.CanonicalStatus(rec.Status); changed {
				rec.Status = canonical
				migrated++
			}
			return true
		})
	}
	if migrated > 0 {
		s.logger.Printf("Migrated %d legacy image statuses", migrated)
	}

	s.products = products
	return nil
}

// Save serializes the full index and atomically replaces the index file
// (write to a temp file in the same directory, then rename). A failed save
// is returned to the caller: an unsaved index after a successful batch is a
// correctness risk that must not be swallowed.
func (s *Store) Save() error {
	data, err := json.MarshalIndent(s.products, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}

	tmp, err := os.CreateTemp(s.rootDir, IndexFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp index: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp index: %w", err)
	}
	if err := os.Rename(tmpPath, s.indexPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace index: %w", err)
	}
	return nil
}

// RootDir returns the cache root directory.
func (s *Store) RootDir() string {
	return s.rootDir
}

// AbsPath converts an index-relative path (forward slashes) to an absolute
// path under the cache root.
func (s *Store) AbsPath(rel string) string {
	return filepath.Join(s.rootDir, filepath.FromSlash(rel))
}

// FileExists reports whether the file for an index-relative path is present.
func (s *Store) FileExists(rel string) bool {
	if rel == "" {
		return false
	}
	info, err := os.Stat(s.AbsPath(rel))
	return err == nil && !info.IsDir()
}

// Products returns the index's product list in document order.
func (s *Store) Products() []*catalog.Product {
	return s.products
}

// FindProduct returns the product with the given applyCode, or nil.
func (s *Store) FindProduct(applyCode string) *catalog.Product {
	for _, p := range s.products {
		if p.ApplyCode == applyCode {
			return p
		}
	}
	return nil
}

// GetOrCreateProduct returns the existing product or inserts a new one.
// When creating, seed (if non-nil) provides the display metadata.
func (s *Store) GetOrCreateProduct(applyCode string, seed *catalog.Product) *catalog.Product {
	if p := s.FindProduct(applyCode); p != nil {
		return p
	}
	p := &catalog.Product{ApplyCode: applyCode}
	if seed != nil {
		p.Name = seed.Name
		p.PackageList = seed.PackageList
		p.Status = seed.Status
	}
	s.products = append(s.products, p)
	return p
}

// FindImage locates an image record by identity across all products and
// collections. Identity is matched by RemoteURL first, LocalPath second.
// Returns the owning product and the record, or nils.
func (s *Store) FindImage(identity string) (*catalog.Product, *catalog.ImageRecord) {
	for _, p := range s.products {
		var found *catalog.ImageRecord
		p.ForEachImage(func(rec *catalog.ImageRecord) bool {
			if rec.RemoteURL == identity {
				found = rec
				return false
			}
			return true
		})
		if found != nil {
			return p, found
		}
	}
	for _, p := range s.products {
		var found *catalog.ImageRecord
		p.ForEachImage(func(rec *catalog.ImageRecord) bool {
			if rec.LocalPath != "" && rec.LocalPath == identity {
				found = rec
				return false
			}
			return true
		})
		if found != nil {
			return p, found
		}
	}
	return nil, nil
}

// sharingRecords returns every record in the index whose LocalPath equals
// the given path. An empty path shares with nothing.
func (s *Store) sharingRecords(localPath string) []*catalog.ImageRecord {
	if localPath == "" {
		return nil
	}
	var recs []*catalog.ImageRecord
	for _, p := range s.products {
		p.ForEachImage(func(rec *catalog.ImageRecord) bool {
			if rec.LocalPath == localPath {
				recs = append(recs, rec)
			}
			return true
		})
	}
	return recs
}

// ApplyStatus transitions a record to the requested status, applying the
// same transition to every record sharing its LocalPath so cross-referenced
// images never drift apart. The transition is rejected if the requested
// status is not reachable from the record's current status.
//
// The caller is responsible for calling Save after a logically-complete
// operation.
func (s *Store) ApplyStatus(rec *catalog.ImageRecord, requested catalog.ImageStatus) error {
	current, _ := catalog.CanonicalStatus(rec.Status)
	if !catalog.CanTransition(current, requested) {
		return fmt.Errorf("illegal transition %s -> %s", current, requested)
	}

	targets := s.sharingRecords(rec.LocalPath)
	if len(targets) == 0 {
		targets = []*catalog.ImageRecord{rec}
	}
	for _, t := range targets {
		t.Status = requested
		t.Touch()
	}
	return nil
}

// ToggleCompleted flips a record (and everything sharing its file) in and
// out of the completed status. Completing remembers the prior status on the
// record; un-completing restores it, defaulting to editing when nothing was
// remembered.
func (s *Store) ToggleCompleted(rec *catalog.ImageRecord) error {
	current, _ := catalog.CanonicalStatus(rec.Status)

	if current == catalog.StatusCompleted {
		restore := rec.PrevStatus
		if restore == "" {
			restore = catalog.StatusEditing
		}
		if restore, _ = catalog.CanonicalStatus(restore); !catalog.CanTransition(catalog.StatusCompleted, restore) {
			restore = catalog.StatusEditing
		}
		targets := s.sharingRecords(rec.LocalPath)
		if len(targets) == 0 {
			targets = []*catalog.ImageRecord{rec}
		}
		for _, t := range targets {
			t.Status = restore
			t.PrevStatus = ""
			t.Touch()
		}
		return nil
	}

	if !catalog.CanTransition(current, catalog.StatusCompleted) {
		return fmt.Errorf("cannot complete image in status %s", current)
	}
	targets := s.sharingRecords(rec.LocalPath)
	if len(targets) == 0 {
		targets = []*catalog.ImageRecord{rec}
	}
	for _, t := range targets {
		t.PrevStatus = current
		t.Status = catalog.StatusCompleted
		t.Touch()
	}
	return nil
}

// ValidateAndRepair checks every image record against the invariant that a
// downloaded status requires a non-empty LocalPath whose file exists, and
// resets violating records to not_downloaded. Returns the number of records
// repaired; the caller must Save when it is greater than zero.
func (s *Store) ValidateAndRepair() int {
	repaired := 0
	for _, p := range s.products {
		p.ForEachImage(func(rec *catalog.ImageRecord) bool {
			status, changed := catalog.CanonicalStatus(rec.Status)
			if changed {
				rec.Status = status
				repaired++
			}
			if status.Downloaded() && !s.FileExists(rec.LocalPath) {
				s.logger.Printf("Repairing %s/%s: status %s but file missing",
					p.ApplyCode, rec.LocalPath, status)
				rec.LocalPath = ""
				rec.FileSize = 0
				rec.Status = catalog.StatusNotDownloaded
				rec.PrevStatus = ""
				rec.Touch()
				repaired++
			}
			return true
		})
	}
	return repaired
}

// RemoveProduct deletes a product from the index along with every file it
// uniquely owns. A file is uniquely owned when no record outside the
// product references the same LocalPath. The product folder is removed if
// empty afterwards. The index is saved before returning.
func (s *Store) RemoveProduct(applyCode string) error {
	var target *catalog.Product
	idx := -1
	for i, p := range s.products {
		if p.ApplyCode == applyCode {
			target, idx = p, i
			break
		}
	}
	if target == nil {
		return fmt.Errorf("product %s not found", applyCode)
	}

	// Paths referenced from outside the product stay on disk.
	external := make(map[string]bool)
	for _, p := range s.products {
		if p.ApplyCode == applyCode {
			continue
		}
		p.ForEachImage(func(rec *catalog.ImageRecord) bool {
			if rec.LocalPath != "" {
				external[rec.LocalPath] = true
			}
			return true
		})
	}

	deleted := make(map[string]bool)
	target.ForEachImage(func(rec *catalog.ImageRecord) bool {
		rel := rec.LocalPath
		if rel == "" || external[rel] || deleted[rel] {
			return true
		}
		if err := os.Remove(s.AbsPath(rel)); err != nil && !os.IsNotExist(err) {
			s.logger.Printf("WARNING: failed to delete %s: %v", rel, err)
		}
		deleted[rel] = true
		return true
	})

	// Best effort: drop the product folder when nothing is left in it.
	if err := os.Remove(filepath.Join(s.rootDir, applyCode)); err != nil && !os.IsNotExist(err) {
		s.logger.Printf("Keeping non-empty folder for %s", applyCode)
	}

	s.products = append(s.products[:idx], s.products[idx+1:]...)
	return s.Save()
}
