package store

import (
	"testing"

	"github.com/feizhan1/uxp-plugin-sub000/internal/catalog"
)

func TestStats(t *testing.T) {
	s := testStore(t)
	p := s.GetOrCreateProduct("AP001", nil)
	writeCacheFile(t, s, "AP001/a.jpg")

	p.AppendImage(catalog.Slot{Kind: catalog.SlotOriginal},
		&catalog.ImageRecord{RemoteURL: "u1", LocalPath: "AP001/a.jpg", Status: catalog.StatusPendingEdit})
	p.AppendImage(catalog.Slot{Kind: catalog.SlotScene},
		&catalog.ImageRecord{RemoteURL: "u2", Status: catalog.StatusNotDownloaded})
	p.AppendImage(catalog.Slot{Kind: catalog.SlotScene},
		&catalog.ImageRecord{RemoteURL: "u3", Status: "modified"}) // legacy, counts as editing

	st := s.Stats()
	if st.Products != 1 || st.Images != 3 {
		t.Errorf("products=%d images=%d, want 1 and 3", st.Products, st.Images)
	}
	if st.ByStatus[catalog.StatusPendingEdit] != 1 {
		t.Errorf("pending_edit count = %d, want 1", st.ByStatus[catalog.StatusPendingEdit])
	}
	if st.ByStatus[catalog.StatusEditing] != 1 {
		t.Errorf("legacy modified should count as editing, got %d", st.ByStatus[catalog.StatusEditing])
	}
	if st.CacheBytes == 0 {
		t.Error("cache bytes should count the file on disk")
	}
}
