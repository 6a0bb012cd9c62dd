package daemon

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/feizhan1/uxp-plugin-sub000/internal/catalog"
	"github.com/feizhan1/uxp-plugin-sub000/internal/store"
	"github.com/feizhan1/uxp-plugin-sub000/internal/syncer"
	"github.com/feizhan1/uxp-plugin-sub000/internal/transfer"
)

// fakeLister serves a fixed product list.
type fakeLister struct {
	refs []syncer.ProductRef
}

func (f *fakeLister) ProductRefs(ctx context.Context) ([]syncer.ProductRef, error) {
	return f.refs, nil
}

// fakeDetail serves empty product metadata for any applyCode.
type fakeDetail struct{}

func (fakeDetail) ProductDetail(ctx context.Context, applyCode string) (*catalog.Product, error) {
	return &catalog.Product{ApplyCode: applyCode}, nil
}

// fetchOK serves bytes for every URL.
type fetchOK struct{}

func (fetchOK) Fetch(ctx context.Context, url string) ([]byte, error) {
	return []byte("bytes"), nil
}

func discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func testDaemon(t *testing.T, refs []syncer.ProductRef) (*Daemon, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir(), discard())
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	dl, err := transfer.NewDownloader(st, fetchOK{}, transfer.Config{RetryDelay: 1}, discard())
	if err != nil {
		t.Fatalf("NewDownloader failed: %v", err)
	}
	coord, err := syncer.New(st, fakeDetail{}, dl, nil, discard())
	if err != nil {
		t.Fatalf("syncer.New failed: %v", err)
	}
	d, err := New(st, coord, &fakeLister{refs: refs}, nil, &Config{
		SyncInterval:     0, // ticks disabled, tests drive runs directly
		RepairInterval:   0,
		DebounceInterval: 50 * time.Millisecond,
		Logger:           discard(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = d.Stop() })
	return d, st
}

func TestNew_Validation(t *testing.T) {
	st, err := store.Open(t.TempDir(), discard())
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	dl, _ := transfer.NewDownloader(st, fetchOK{}, transfer.Config{}, discard())
	coord, _ := syncer.New(st, fakeDetail{}, dl, nil, discard())

	if _, err := New(nil, coord, &fakeLister{}, nil, nil); err == nil {
		t.Error("nil store should be rejected")
	}
	if _, err := New(st, nil, &fakeLister{}, nil, nil); err == nil {
		t.Error("nil coordinator should be rejected")
	}
	if _, err := New(st, coord, nil, nil, nil); err == nil {
		t.Error("nil lister should be rejected")
	}

	d, err := New(st, coord, &fakeLister{}, nil, nil)
	if err != nil {
		t.Fatalf("valid arguments rejected: %v", err)
	}
	_ = d.Stop()
}

func TestRunSync(t *testing.T) {
	d, st := testDaemon(t, []syncer.ProductRef{{ApplyCode: "AP001", Name: "Lamp"}})

	d.runSync()

	if p := st.FindProduct("AP001"); p == nil || p.Name != "Lamp" {
		t.Errorf("sync did not merge the listed product: %+v", p)
	}
}

func TestRunRepair(t *testing.T) {
	d, st := testDaemon(t, nil)

	p := st.GetOrCreateProduct("AP001", nil)
	p.AppendImage(catalog.Slot{Kind: catalog.SlotOriginal},
		&catalog.ImageRecord{RemoteURL: "u", LocalPath: "AP001/gone.jpg", Status: catalog.StatusEditing})

	d.runRepair()

	rec := st.FindProduct("AP001").OriginalImages[0]
	if rec.Status != catalog.StatusNotDownloaded || rec.LocalPath != "" {
		t.Errorf("record not repaired: status=%s path=%q", rec.Status, rec.LocalPath)
	}
}

func TestMarkEditing(t *testing.T) {
	d, st := testDaemon(t, nil)

	rel := "AP001/a.jpg"
	abs := st.AbsPath(rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		t.Fatalf("Failed to create folder: %v", err)
	}
	if err := os.WriteFile(abs, []byte("edited"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	p := st.GetOrCreateProduct("AP001", nil)
	rec := &catalog.ImageRecord{RemoteURL: "u", LocalPath: rel, Status: catalog.StatusPendingEdit}
	p.AppendImage(catalog.Slot{Kind: catalog.SlotOriginal}, rec)

	if !d.markEditing(abs) {
		t.Fatal("markEditing should transition a pending_edit record")
	}
	if rec.Status != catalog.StatusEditing {
		t.Errorf("status = %s, want editing", rec.Status)
	}

	// A second write while already editing changes nothing.
	if d.markEditing(abs) {
		t.Error("markEditing should be a no-op for a record already editing")
	}
}

func TestMarkEditing_UnknownFile(t *testing.T) {
	d, st := testDaemon(t, nil)
	if d.markEditing(st.AbsPath("AP001/unknown.jpg")) {
		t.Error("a file without an index record must be ignored")
	}
}

func TestProcessPendingChanges_Debounce(t *testing.T) {
	d, st := testDaemon(t, nil)

	rel := "AP001/a.jpg"
	abs := st.AbsPath(rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		t.Fatalf("Failed to create folder: %v", err)
	}
	if err := os.WriteFile(abs, []byte("edited"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	p := st.GetOrCreateProduct("AP001", nil)
	rec := &catalog.ImageRecord{RemoteURL: "u", LocalPath: rel, Status: catalog.StatusPendingEdit}
	p.AppendImage(catalog.Slot{Kind: catalog.SlotOriginal}, rec)

	d.queueChange(abs)

	// Too fresh: the write has not settled yet.
	d.processPendingChanges()
	if rec.Status != catalog.StatusPendingEdit {
		t.Fatalf("change processed before the debounce interval, status = %s", rec.Status)
	}

	time.Sleep(2 * d.config.DebounceInterval)
	d.processPendingChanges()
	if rec.Status != catalog.StatusEditing {
		t.Errorf("settled change not processed, status = %s", rec.Status)
	}
}

func TestStartStop(t *testing.T) {
	d, _ := testDaemon(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	// Give the daemon time to set up its watcher before cancelling.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop after context cancellation")
	}
}
