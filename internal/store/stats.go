package store

import (
	"os"
	"path/filepath"

	"github.com/feizhan1/uxp-plugin-sub000/internal/catalog"
)

// Stats summarizes the index and the cache on disk for status reporting.
type Stats struct {
	Products   int
	Images     int
	ByStatus   map[catalog.ImageStatus]int
	CacheBytes int64
}

// Stats walks the index and the cache root and returns aggregate numbers.
// Disk-size accounting is best effort; unreadable entries are skipped.
func (s *Store) Stats() Stats {
	st := Stats{ByStatus: make(map[catalog.ImageStatus]int)}

	for _, p := range s.products {
		st.Products++
		p.ForEachImage(func(rec *catalog.ImageRecord) bool {
			st.Images++
			status, _ := catalog.CanonicalStatus(rec.Status)
			st.ByStatus[status]++
			return true
		})
	}

	filepath.Walk(s.rootDir, func(_ string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		st.CacheBytes += info.Size()
		return nil
	})

	return st
}
