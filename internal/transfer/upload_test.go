package transfer

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/feizhan1/uxp-plugin-sub000/internal/catalog"
	"github.com/feizhan1/uxp-plugin-sub000/internal/store"
)

// fakePoster assigns each filename a deterministic uploaded URL. Filenames
// in fail always error.
type fakePoster struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]bool
}

func newFakePoster() *fakePoster {
	return &fakePoster{calls: make(map[string]int), fail: make(map[string]bool)}
}

func (f *fakePoster) PostMultipart(ctx context.Context, url, filename string, data []byte, fields map[string]string) (*UploadResponse, error) {
	f.mu.Lock()
	f.calls[filename]++
	shouldFail := f.fail[filename]
	f.mu.Unlock()

	if shouldFail {
		return nil, fmt.Errorf("upload of %s refused", filename)
	}
	return &UploadResponse{URL: "https://uploads.example.com/" + filename}, nil
}

func (f *fakePoster) callCount(filename string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[filename]
}

func testUploader(t *testing.T, st *store.Store, poster Poster) *Uploader {
	t.Helper()
	u, err := NewUploader(st, poster, "https://api.example.com/upload", fastConfig(), log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("NewUploader failed: %v", err)
	}
	return u
}

// completedRecord seeds a product with a completed image backed by a real
// file and returns the record.
func completedRecord(t *testing.T, st *store.Store, code, rel string) *catalog.ImageRecord {
	t.Helper()
	abs := st.AbsPath(rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		t.Fatalf("Failed to create folder: %v", err)
	}
	if err := os.WriteFile(abs, []byte("edited image"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	p := st.GetOrCreateProduct(code, nil)
	rec := &catalog.ImageRecord{
		RemoteURL: "https://cdn.example.com/" + filepath.Base(rel),
		LocalPath: rel,
		Status:    catalog.StatusCompleted,
	}
	p.AppendImage(catalog.Slot{Kind: catalog.SlotOriginal}, rec)
	return rec
}

func TestNewUploader_Validation(t *testing.T) {
	st := testStore(t)
	if _, err := NewUploader(nil, newFakePoster(), "u", Config{}, nil); err == nil {
		t.Error("nil store should be rejected")
	}
	if _, err := NewUploader(st, nil, "u", Config{}, nil); err == nil {
		t.Error("nil poster should be rejected")
	}
	if _, err := NewUploader(st, newFakePoster(), "", Config{}, nil); err == nil {
		t.Error("empty upload URL should be rejected")
	}
}

func TestUpload_Success(t *testing.T) {
	st := testStore(t)
	u := testUploader(t, st, newFakePoster())
	rec := completedRecord(t, st, "AP001", "AP001/a.jpg")

	var gotNew string
	res, err := u.Upload(context.Background(), "AP001", []*catalog.ImageRecord{rec}, UploadCallbacks{
		OnItemSuccess: func(item, remoteURL string) { gotNew = remoteURL },
	})
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if res.Success != 1 || res.Failed != 0 {
		t.Errorf("result = %+v, want one success", res)
	}
	if rec.Status != catalog.StatusUploaded {
		t.Errorf("status = %s, want uploaded", rec.Status)
	}
	if rec.RemoteURL != "https://uploads.example.com/a.jpg" {
		t.Errorf("remoteUrl not rewritten: %s", rec.RemoteURL)
	}
	if gotNew != rec.RemoteURL {
		t.Errorf("OnItemSuccess got %s, want %s", gotNew, rec.RemoteURL)
	}
}

func TestUpload_SharedFilePostedOnce(t *testing.T) {
	st := testStore(t)
	poster := newFakePoster()
	u := testUploader(t, st, poster)

	a := completedRecord(t, st, "AP001", "AP001/x.jpg")
	p := st.FindProduct("AP001")
	b := &catalog.ImageRecord{RemoteURL: a.RemoteURL, LocalPath: a.LocalPath, Status: catalog.StatusCompleted}
	p.AppendImage(catalog.Slot{Kind: catalog.SlotScene}, b)

	res, err := u.Upload(context.Background(), "AP001", []*catalog.ImageRecord{a, b}, UploadCallbacks{})
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if res.Success != 2 {
		t.Errorf("success = %d, want 2", res.Success)
	}
	if n := poster.callCount("x.jpg"); n != 1 {
		t.Errorf("shared file posted %d times, want 1", n)
	}
	if a.RemoteURL != b.RemoteURL || a.Status != b.Status {
		t.Error("records sharing a file must end in the same state")
	}
}

func TestUpload_NoLocalFileFailsWithoutRetry(t *testing.T) {
	st := testStore(t)
	poster := newFakePoster()
	u := testUploader(t, st, poster)

	p := st.GetOrCreateProduct("AP001", nil)
	rec := &catalog.ImageRecord{RemoteURL: "u", Status: catalog.StatusNotDownloaded}
	p.AppendImage(catalog.Slot{Kind: catalog.SlotOriginal}, rec)

	res, err := u.Upload(context.Background(), "AP001", []*catalog.ImageRecord{rec}, UploadCallbacks{})
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if res.Failed != 1 {
		t.Errorf("failed = %d, want 1", res.Failed)
	}
	if n := poster.callCount("u"); n != 0 {
		t.Errorf("poster called %d times for a record with no file, want 0", n)
	}
}

func TestUpload_RetryExhaustion(t *testing.T) {
	st := testStore(t)
	poster := newFakePoster()
	poster.fail["bad.jpg"] = true
	u := testUploader(t, st, poster)

	bad := completedRecord(t, st, "AP001", "AP001/bad.jpg")
	good := completedRecord(t, st, "AP001", "AP001/good.jpg")

	var completed *BatchResult
	res, err := u.Upload(context.Background(), "AP001", []*catalog.ImageRecord{bad, good}, UploadCallbacks{
		OnComplete: func(r *BatchResult) { completed = r },
	})
	if err != nil {
		t.Fatalf("per-item failure must not fail the batch: %v", err)
	}
	if res.Success != 1 || res.Failed != 1 {
		t.Errorf("result = %+v, want one success and one failure", res)
	}
	if n := poster.callCount("bad.jpg"); n != 3 {
		t.Errorf("posted %d times, want exactly RetryCount (3)", n)
	}
	if bad.Status != catalog.StatusCompleted {
		t.Errorf("failed upload must leave the record completed, got %s", bad.Status)
	}
	if good.Status != catalog.StatusUploaded {
		t.Errorf("sibling should still upload, got %s", good.Status)
	}
	if completed == nil || completed.Duration <= 0 {
		t.Error("OnComplete should receive the result with a duration")
	}
}

func TestUpload_Persists(t *testing.T) {
	st := testStore(t)
	u := testUploader(t, st, newFakePoster())
	rec := completedRecord(t, st, "AP001", "AP001/a.jpg")

	if _, err := u.Upload(context.Background(), "AP001", []*catalog.ImageRecord{rec}, UploadCallbacks{}); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	reopened, err := store.Open(st.RootDir(), log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	got := reopened.FindProduct("AP001").OriginalImages[0]
	if got.Status != catalog.StatusUploaded {
		t.Errorf("persisted status = %s, want uploaded", got.Status)
	}
}

func TestConfigWithDefaults(t *testing.T) {
	got := Config{}.withDefaults()
	want := DefaultConfig()
	if got != want {
		t.Errorf("withDefaults() = %+v, want %+v", got, want)
	}

	partial := Config{MaxConcurrency: 5}.withDefaults()
	if partial.MaxConcurrency != 5 || partial.RetryCount != want.RetryCount {
		t.Errorf("partial config = %+v", partial)
	}
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleep(ctx, time.Minute); err == nil {
		t.Error("sleep should return the context error when cancelled")
	}
	if err := sleep(context.Background(), time.Millisecond); err != nil {
		t.Errorf("sleep returned %v for an uncancelled context", err)
	}
}
