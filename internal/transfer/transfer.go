package transfer

import (
	"context"
	"time"

	"github.com/feizhan1/uxp-plugin-sub000/internal/catalog"
)

// Fetcher downloads raw bytes from a URL. Implementations live outside the
// core (internal/remote provides the HTTP one); tests use fakes.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// UploadResponse is what the remote side returns for one uploaded file.
type UploadResponse struct {
	// URL is the server-assigned remote URL for the uploaded image.
	URL string
}

// Poster uploads file bytes as a multipart POST.
type Poster interface {
	PostMultipart(ctx context.Context, url, filename string, data []byte, fields map[string]string) (*UploadResponse, error)
}

// ProgressFunc reports batch progress: current item number (1-based),
// total items, and the item being processed.
type ProgressFunc func(current, total int, item string)

// ErrorFunc reports a per-item failure. The batch continues afterwards.
type ErrorFunc func(err error, item string)

// DownloadItem names one image to mirror: where it comes from and which
// collection slot of which product it belongs to.
type DownloadItem struct {
	RemoteURL   string
	ProductCode string
	Slot        catalog.Slot
}

// ItemError pairs a failed item with its final error.
type ItemError struct {
	Item string
	Err  error
}

// BatchResult aggregates the outcome of one download or upload batch.
type BatchResult struct {
	Total    int
	Success  int
	Failed   int
	Skipped  int
	Duration time.Duration

	// Errors holds the final error for every failed item.
	Errors []ItemError

	// FailedDownloads lists the download items that exhausted their
	// retries, in a form that can be fed to Downloader.SkipFailedImages.
	FailedDownloads []DownloadItem
}

// Config holds the knobs shared by both orchestrators.
type Config struct {
	// MaxConcurrency is the chunk size: at most this many transfers run at
	// once, and a chunk is awaited fully before the next one starts.
	MaxConcurrency int

	// RetryCount is the total number of attempts per item.
	RetryCount int

	// RetryDelay is the backoff unit. Attempt n sleeps n*RetryDelay before
	// retrying, so backoff grows linearly.
	RetryDelay time.Duration

	// Freshness is how old a downloaded file may be before a download of
	// the same slot re-fetches it.
	Freshness time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 3,
		RetryCount:     3,
		RetryDelay:     time.Second,
		Freshness:      7 * 24 * time.Hour,
	}
}

// withDefaults fills zero fields with the production defaults.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = def.MaxConcurrency
	}
	if c.RetryCount <= 0 {
		c.RetryCount = def.RetryCount
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = def.RetryDelay
	}
	if c.Freshness <= 0 {
		c.Freshness = def.Freshness
	}
	return c
}

// sleep waits for d or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
