package transfer

import (
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"sync"
	"time"

	"github.com/feizhan1/uxp-plugin-sub000/internal/catalog"
	"github.com/feizhan1/uxp-plugin-sub000/internal/store"
)

// UploadCallbacks carries the caller's hooks into an upload batch.
// Any field may be nil.
type UploadCallbacks struct {
	// OnProgress is called as each item's outcome is decided.
	OnProgress ProgressFunc

	// OnItemSuccess is called with the item and its server-assigned URL.
	OnItemSuccess func(item, remoteURL string)

	// OnItemError is called when an item fails permanently.
	OnItemError ErrorFunc

	// OnComplete receives the aggregate result, including elapsed duration.
	// Whether partial failure still permits proceeding is the caller's
	// policy, not the uploader's.
	OnComplete func(result *BatchResult)
}

// Uploader pushes finished local images back to the remote endpoint with
// the same chunked-concurrency and retry discipline as the Downloader.
type Uploader struct {
	store     *store.Store
	poster    Poster
	uploadURL string
	config    Config
	logger    *log.Logger
}

// NewUploader creates an Uploader posting to uploadURL.
//
// If logger is nil, a default logger writing to stderr is used.
func NewUploader(st *store.Store, poster Poster, uploadURL string, config Config, logger *log.Logger) (*Uploader, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if poster == nil {
		return nil, fmt.Errorf("poster cannot be nil")
	}
	if uploadURL == "" {
		return nil, fmt.Errorf("uploadURL cannot be empty")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[upload] ", log.LstdFlags)
	}
	return &Uploader{
		store:     st,
		poster:    poster,
		uploadURL: uploadURL,
		config:    config.withDefaults(),
		logger:    logger,
	}, nil
}

// uploadJob is one multipart POST serving every record sharing a file.
type uploadJob struct {
	relPath string
	targets []*catalog.ImageRecord

	resp *uploadOutcome
}

type uploadOutcome struct {
	url string
	err error
}

// Upload pushes the given records of one product to the remote endpoint.
//
// Records that are not uploadable (no local file) fail immediately without
// retry. Records sharing one LocalPath are uploaded once; the result is
// applied to all of them. On success a record's RemoteURL is rewritten to
// the server-assigned URL and its status becomes uploaded; on exhausted
// retries the item is reported failed without blocking its siblings.
// The index is saved exactly once at the end.
func (u *Uploader) Upload(ctx context.Context, applyCode string, items []*catalog.ImageRecord, cb UploadCallbacks) (*BatchResult, error) {
	start := time.Now()
	res := &BatchResult{Total: len(items)}

	progress := func(n int, item string) {
		if cb.OnProgress != nil {
			cb.OnProgress(n, res.Total, item)
		}
	}
	fail := func(rec *catalog.ImageRecord, err error) {
		res.Failed++
		res.Errors = append(res.Errors, ItemError{Item: rec.RemoteURL, Err: err})
		if cb.OnItemError != nil {
			cb.OnItemError(err, rec.RemoteURL)
		}
	}

	var jobs []*uploadJob
	byPath := make(map[string]*uploadJob)
	processed := 0

	for _, rec := range items {
		status, _ := catalog.CanonicalStatus(rec.Status)
		if !status.Downloaded() || rec.LocalPath == "" || !u.store.FileExists(rec.LocalPath) {
			// Permanent item error: nothing on disk to upload, retrying
			// cannot help.
			processed++
			fail(rec, fmt.Errorf("no local file for %s (status %s)", rec.RemoteURL, status))
			progress(processed, rec.RemoteURL)
			continue
		}

		j, ok := byPath[rec.LocalPath]
		if !ok {
			j = &uploadJob{relPath: rec.LocalPath}
			byPath[rec.LocalPath] = j
			jobs = append(jobs, j)
		}
		j.targets = append(j.targets, rec)
	}

	fields := map[string]string{"applyCode": applyCode}

	for chunkStart := 0; chunkStart < len(jobs); chunkStart += u.config.MaxConcurrency {
		chunkEnd := chunkStart + u.config.MaxConcurrency
		if chunkEnd > len(jobs) {
			chunkEnd = len(jobs)
		}
		chunk := jobs[chunkStart:chunkEnd]

		var wg sync.WaitGroup
		for _, j := range chunk {
			wg.Add(1)
			go func(j *uploadJob) {
				defer wg.Done()
				j.resp = u.readAndPost(ctx, j.relPath, fields)
			}(j)
		}
		wg.Wait()

		for _, j := range chunk {
			for _, rec := range j.targets {
				processed++
				if j.resp.err != nil {
					fail(rec, j.resp.err)
				} else {
					res.Success++
					if cb.OnItemSuccess != nil {
						cb.OnItemSuccess(rec.RemoteURL, j.resp.url)
					}
				}
				progress(processed, rec.RemoteURL)
			}
			if j.resp.err == nil {
				u.applyUpload(j.relPath, j.resp.url)
			}
		}
	}

	res.Duration = time.Since(start)
	if cb.OnComplete != nil {
		cb.OnComplete(res)
	}

	if err := u.store.Save(); err != nil {
		return res, fmt.Errorf("uploads finished but index save failed: %w", err)
	}
	return res, nil
}

// applyUpload rewrites every record sharing the file to the new remote URL
// and the uploaded status, keeping cross-referenced images consistent.
func (u *Uploader) applyUpload(relPath, newURL string) {
	for _, p := range u.store.Products() {
		p.ForEachImage(func(rec *catalog.ImageRecord) bool {
			if rec.LocalPath == relPath {
				rec.RemoteURL = newURL
				rec.Status = catalog.StatusUploaded
				rec.PrevStatus = ""
				rec.Touch()
			}
			return true
		})
	}
}

// readAndPost reads the local file and posts it with retries and linear
// backoff. A read failure is permanent and not retried.
func (u *Uploader) readAndPost(ctx context.Context, relPath string, fields map[string]string) *uploadOutcome {
	data, err := os.ReadFile(u.store.AbsPath(relPath))
	if err != nil {
		return &uploadOutcome{err: fmt.Errorf("failed to read %s: %w", relPath, err)}
	}
	filename := path.Base(relPath)

	var lastErr error
	for attempt := 1; attempt <= u.config.RetryCount; attempt++ {
		resp, err := u.poster.PostMultipart(ctx, u.uploadURL, filename, data, fields)
		if err == nil {
			if resp == nil || resp.URL == "" {
				return &uploadOutcome{err: fmt.Errorf("upload of %s returned no remote URL", relPath)}
			}
			return &uploadOutcome{url: resp.URL}
		}

		lastErr = err
		u.logger.Printf("Attempt %d/%d failed for %s: %v", attempt, u.config.RetryCount, relPath, err)
		if attempt < u.config.RetryCount {
			if err := sleep(ctx, time.Duration(attempt)*u.config.RetryDelay); err != nil {
				return &uploadOutcome{err: fmt.Errorf("upload cancelled: %w", err)}
			}
		}
	}
	return &uploadOutcome{err: fmt.Errorf("upload failed after %d attempts: %w", u.config.RetryCount, lastErr)}
}
