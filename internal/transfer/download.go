package transfer

import (
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/feizhan1/uxp-plugin-sub000/internal/catalog"
	"github.com/feizhan1/uxp-plugin-sub000/internal/store"
)

// Downloader mirrors remote images into the local cache in bounded,
// retried batches and keeps the index in step with the files it writes.
type Downloader struct {
	store  *store.Store
	fetch  Fetcher
	config Config
	logger *log.Logger
}

// NewDownloader creates a Downloader.
//
// If logger is nil, a default logger writing to stderr is used. Zero
// config fields fall back to DefaultConfig values.
func NewDownloader(st *store.Store, fetcher Fetcher, config Config, logger *log.Logger) (*Downloader, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher cannot be nil")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[download] ", log.LstdFlags)
	}
	return &Downloader{
		store:  st,
		fetch:  fetcher,
		config: config.withDefaults(),
		logger: logger,
	}, nil
}

// job is one network fetch serving every batch item that shares the same
// (product, URL) pair. Workers fill data/size/err; the orchestrator applies
// the outcome to the index afterwards.
type job struct {
	url     string
	code    string
	relPath string
	items   []DownloadItem
	targets []*catalog.ImageRecord

	size int64
	err  error
}

// DownloadBatch fetches every item that needs fetching and updates the
// index, saving it exactly once at the end.
//
// An item is skipped when its slot record already points at a verified
// local file younger than the freshness threshold, or when the record is
// download_failed (failed items never retry silently; see
// SkipFailedImages). Queued items run in chunks of MaxConcurrency, each
// item retried up to RetryCount times with linear backoff. Per-item
// failures are reported through onError and counted; they do not abort the
// batch. Both callbacks may be nil.
//
// The returned error is non-nil only for whole-batch problems: an invalid
// item or a failed index save.
func (d *Downloader) DownloadBatch(ctx context.Context, items []DownloadItem, onProgress ProgressFunc, onError ErrorFunc) (*BatchResult, error) {
	start := time.Now()
	res := &BatchResult{Total: len(items)}

	progress := func(n int, item string) {
		if onProgress != nil {
			onProgress(n, res.Total, item)
		}
	}
	itemError := func(err error, item string) {
		if onError != nil {
			onError(err, item)
		}
	}

	// Decide each item's fate before any network I/O. Index reads and
	// writes stay on this goroutine throughout the batch.
	var jobs []*job
	byKey := make(map[string]*job)
	reserved := make(map[string]bool)
	processed := 0

	for _, item := range items {
		if err := item.Slot.Validate(); err != nil {
			return res, fmt.Errorf("invalid item %s: %w", item.RemoteURL, err)
		}
		if item.RemoteURL == "" || item.ProductCode == "" {
			return res, fmt.Errorf("item requires remoteUrl and productCode")
		}

		product := d.store.GetOrCreateProduct(item.ProductCode, nil)
		rec := product.ImageInSlot(item.Slot, item.RemoteURL)
		if rec == nil {
			rec = &catalog.ImageRecord{
				RemoteURL: item.RemoteURL,
				Status:    catalog.StatusNotDownloaded,
			}
			rec.Touch()
			product.AppendImage(item.Slot, rec)
		}

		status, _ := catalog.CanonicalStatus(rec.Status)

		if status == catalog.StatusDownloadFailed {
			res.Skipped++
			processed++
			progress(processed, item.RemoteURL)
			continue
		}

		if d.fresh(rec) {
			res.Skipped++
			processed++
			progress(processed, item.RemoteURL)
			continue
		}

		// A sibling record in the same product may already hold a fresh
		// copy of the same URL; cross-type references share one file.
		if sib := d.freshSibling(product, rec); sib != nil {
			rec.MarkDownloaded(sib.LocalPath, sib.FileSize)
			res.Success++
			processed++
			progress(processed, item.RemoteURL)
			continue
		}

		key := item.ProductCode + "|" + item.RemoteURL
		j, ok := byKey[key]
		if !ok {
			rel := rec.LocalPath
			if rel == "" {
				rel = d.uniqueRelPath(item.RemoteURL, item.ProductCode, reserved)
			}
			reserved[rel] = true
			j = &job{url: item.RemoteURL, code: item.ProductCode, relPath: rel}
			byKey[key] = j
			jobs = append(jobs, j)
		}
		j.items = append(j.items, item)
		j.targets = append(j.targets, rec)
	}

	// Run the queue in fully-awaited chunks.
	for chunkStart := 0; chunkStart < len(jobs); chunkStart += d.config.MaxConcurrency {
		chunkEnd := chunkStart + d.config.MaxConcurrency
		if chunkEnd > len(jobs) {
			chunkEnd = len(jobs)
		}
		chunk := jobs[chunkStart:chunkEnd]

		var wg sync.WaitGroup
		for _, j := range chunk {
			wg.Add(1)
			go func(j *job) {
				defer wg.Done()
				j.size, j.err = d.fetchAndWrite(ctx, j.url, j.relPath)
			}(j)
		}
		wg.Wait()

		for _, j := range chunk {
			for i, rec := range j.targets {
				processed++
				if j.err != nil {
					itemError(j.err, j.url)
					res.Failed++
					res.Errors = append(res.Errors, ItemError{Item: j.url, Err: j.err})
					res.FailedDownloads = append(res.FailedDownloads, j.items[i])
				} else {
					rec.MarkDownloaded(j.relPath, j.size)
					res.Success++
				}
				progress(processed, j.url)
			}
		}
	}

	res.Duration = time.Since(start)

	if err := d.store.Save(); err != nil {
		return res, fmt.Errorf("downloads finished but index save failed: %w", err)
	}
	return res, nil
}

// SkipFailedImages converts failed download items into permanent
// download_failed records with empty LocalPath, so later syncs skip them
// until a download explicitly re-targets the image. Saves once.
func (d *Downloader) SkipFailedImages(failed []DownloadItem) (int, error) {
	marked := 0
	for _, item := range failed {
		if item.Slot.Validate() != nil || item.RemoteURL == "" || item.ProductCode == "" {
			continue
		}
		product := d.store.GetOrCreateProduct(item.ProductCode, nil)
		rec := product.ImageInSlot(item.Slot, item.RemoteURL)
		if rec == nil {
			rec = &catalog.ImageRecord{RemoteURL: item.RemoteURL}
			product.AppendImage(item.Slot, rec)
		}
		rec.MarkDownloadFailed()
		marked++
	}
	if marked == 0 {
		return 0, nil
	}
	if err := d.store.Save(); err != nil {
		return marked, fmt.Errorf("failed to save index: %w", err)
	}
	d.logger.Printf("Marked %d images as download_failed", marked)
	return marked, nil
}

// fresh reports whether the record's local file can be trusted as-is.
func (d *Downloader) fresh(rec *catalog.ImageRecord) bool {
	status, _ := catalog.CanonicalStatus(rec.Status)
	return status.Downloaded() &&
		rec.LocalPath != "" &&
		d.store.FileExists(rec.LocalPath) &&
		time.Since(rec.Timestamp) < d.config.Freshness
}

// freshSibling finds another record of the same product holding a fresh
// downloaded copy of the same remote URL.
func (d *Downloader) freshSibling(product *catalog.Product, rec *catalog.ImageRecord) *catalog.ImageRecord {
	var sib *catalog.ImageRecord
	product.ForEachImage(func(other *catalog.ImageRecord) bool {
		if other != rec && other.RemoteURL == rec.RemoteURL && d.fresh(other) {
			sib = other
			return false
		}
		return true
	})
	return sib
}

// uniqueRelPath resolves the target path for a URL, appending a numeric
// suffix while the candidate collides with a reserved path, a different
// record's file, or an unindexed file already on disk.
func (d *Downloader) uniqueRelPath(url, code string, reserved map[string]bool) string {
	rel := catalog.ResolvePath(url, code)
	ext := path.Ext(rel)
	stem := strings.TrimSuffix(rel, ext)

	candidate := rel
	for n := 1; d.pathTaken(candidate, url, reserved); n++ {
		candidate = fmt.Sprintf("%s_%d%s", stem, n, ext)
	}
	return candidate
}

func (d *Downloader) pathTaken(rel, url string, reserved map[string]bool) bool {
	if reserved[rel] {
		return true
	}
	if _, other := d.store.FindImage(rel); other != nil {
		return other.RemoteURL != url
	}
	// No record claims the path; an existing file there belongs to someone
	// else (or a previous run) and must not be overwritten.
	return d.store.FileExists(rel)
}

// fetchAndWrite downloads the URL with retries and writes the bytes to the
// cache. The file hits the disk before the caller touches the index.
func (d *Downloader) fetchAndWrite(ctx context.Context, url, relPath string) (int64, error) {
	var lastErr error
	for attempt := 1; attempt <= d.config.RetryCount; attempt++ {
		data, err := d.fetch.Fetch(ctx, url)
		if err == nil {
			abs := d.store.AbsPath(relPath)
			if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
				return 0, fmt.Errorf("failed to create product folder: %w", err)
			}
			if err := os.WriteFile(abs, data, 0644); err != nil {
				return 0, fmt.Errorf("failed to write %s: %w", relPath, err)
			}
			return int64(len(data)), nil
		}

		lastErr = err
		d.logger.Printf("Attempt %d/%d failed for %s: %v", attempt, d.config.RetryCount, url, err)
		if attempt < d.config.RetryCount {
			if err := sleep(ctx, time.Duration(attempt)*d.config.RetryDelay); err != nil {
				return 0, fmt.Errorf("download cancelled: %w", err)
			}
		}
	}
	return 0, fmt.Errorf("download failed after %d attempts: %w", d.config.RetryCount, lastErr)
}
