// Package syncer implements the incremental sync coordinator.
//
// # Overview
//
// The coordinator compares a remote product list against the local index,
// fetches full metadata only for products it has never seen, merges that
// metadata into the index, and drives the download orchestrator for the
// images the merge brought in.
//
// Products that are already in the index are deliberately left untouched
// even when the remote list is re-fetched: avoiding a full-index metadata
// fetch on every sync is the point of incremental sync, and staleness of
// already-synced products is the accepted tradeoff. FullSync is the manual
// escape hatch that re-fetches metadata for everything in the list.
package syncer

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/feizhan1/uxp-plugin-sub000/internal/catalog"
	"github.com/feizhan1/uxp-plugin-sub000/internal/store"
	"github.com/feizhan1/uxp-plugin-sub000/internal/transfer"
)

// ProductRef is one entry of the remote product list: just enough to decide
// whether the product is known locally.
type ProductRef struct {
	ApplyCode string
	Name      string
	Status    string
}

// DetailFetcher fetches the full metadata for one product.
// internal/remote's Client implements it.
type DetailFetcher interface {
	ProductDetail(ctx context.Context, applyCode string) (*catalog.Product, error)
}

// Result summarizes one sync run.
type Result struct {
	// Listed is the number of products in the remote list.
	Listed int
	// AlreadyKnown is how many were skipped as already synced.
	AlreadyKnown int
	// Fetched is how many product details were fetched and merged.
	Fetched int
	// FetchFailed is how many detail fetches failed (logged, not fatal).
	FetchFailed int
	// InFlight is how many products were skipped because another batch
	// held their guard slot.
	InFlight int

	// NewImages are the download items produced by the merge.
	NewImages []transfer.DownloadItem
	// Download is the outcome of the download batch, nil when nothing new.
	Download *transfer.BatchResult

	Duration time.Duration
}

// Coordinator drives incremental synchronization.
type Coordinator struct {
	store      *store.Store
	detail     DetailFetcher
	downloader *transfer.Downloader
	guard      *Guard
	logger     *log.Logger
}

// New creates a Coordinator. The guard may be shared with other batch
// drivers (the upload path); pass nil to get a private one.
//
// If logger is nil, a default logger writing to stderr is used.
func New(st *store.Store, detail DetailFetcher, downloader *transfer.Downloader, guard *Guard, logger *log.Logger) (*Coordinator, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if detail == nil {
		return nil, fmt.Errorf("detail fetcher cannot be nil")
	}
	if downloader == nil {
		return nil, fmt.Errorf("downloader cannot be nil")
	}
	if guard == nil {
		guard = NewGuard()
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Coordinator{
		store:      st,
		detail:     detail,
		downloader: downloader,
		guard:      guard,
		logger:     logger,
	}, nil
}

// Guard returns the coordinator's in-flight guard for sharing with other
// batch drivers.
func (c *Coordinator) Guard() *Guard {
	return c.guard
}

// IncrementalSync syncs only products the index has never seen. Download
// progress and per-item errors are forwarded to the optional callbacks.
func (c *Coordinator) IncrementalSync(ctx context.Context, list []ProductRef, onProgress transfer.ProgressFunc, onError transfer.ErrorFunc) (*Result, error) {
	return c.sync(ctx, list, false, onProgress, onError)
}

// FullSync re-fetches metadata for every product in the list, known or not.
// Local image state (paths, statuses) survives: the merge only appends
// records it has not seen.
func (c *Coordinator) FullSync(ctx context.Context, list []ProductRef, onProgress transfer.ProgressFunc, onError transfer.ErrorFunc) (*Result, error) {
	return c.sync(ctx, list, true, onProgress, onError)
}

func (c *Coordinator) sync(ctx context.Context, list []ProductRef, force bool, onProgress transfer.ProgressFunc, onError transfer.ErrorFunc) (*Result, error) {
	start := time.Now()
	res := &Result{Listed: len(list)}

	merged := false
	for _, ref := range list {
		if ref.ApplyCode == "" {
			continue
		}
		if !force && c.store.FindProduct(ref.ApplyCode) != nil {
			res.AlreadyKnown++
			continue
		}
		if !c.guard.TryAcquire(ref.ApplyCode) {
			c.logger.Printf("Skipping %s: batch already in flight", ref.ApplyCode)
			res.InFlight++
			continue
		}

		items, err := c.syncProduct(ctx, ref)
		c.guard.Release(ref.ApplyCode)
		if err != nil {
			c.logger.Printf("WARNING: failed to sync %s: %v", ref.ApplyCode, err)
			res.FetchFailed++
			if onError != nil {
				onError(err, ref.ApplyCode)
			}
			continue
		}

		merged = true
		res.Fetched++
		res.NewImages = append(res.NewImages, items...)
	}

	if len(res.NewImages) > 0 {
		// DownloadBatch saves the index at the end, covering the merges above.
		dl, err := c.downloader.DownloadBatch(ctx, res.NewImages, onProgress, onError)
		res.Download = dl
		if err != nil {
			return res, fmt.Errorf("sync downloads failed: %w", err)
		}
	} else if merged {
		if err := c.store.Save(); err != nil {
			return res, fmt.Errorf("failed to save index after merge: %w", err)
		}
	}

	res.Duration = time.Since(start)
	c.logger.Printf("Sync complete: listed=%d known=%d fetched=%d failed=%d newImages=%d",
		res.Listed, res.AlreadyKnown, res.Fetched, res.FetchFailed, len(res.NewImages))
	return res, nil
}

// syncProduct fetches one product's detail, merges it, and returns the
// download items for every record still waiting for a file.
func (c *Coordinator) syncProduct(ctx context.Context, ref ProductRef) ([]transfer.DownloadItem, error) {
	detail, err := c.detail.ProductDetail(ctx, ref.ApplyCode)
	if err != nil {
		return nil, fmt.Errorf("detail fetch failed: %w", err)
	}
	if detail.ApplyCode == "" {
		detail.ApplyCode = ref.ApplyCode
	}
	if detail.Name == "" {
		detail.Name = ref.Name
	}
	if detail.Status == "" {
		detail.Status = ref.Status
	}

	mr := c.store.MergeRemoteProduct(detail)
	c.logger.Printf("Merged %s: created=%t imagesAdded=%d", ref.ApplyCode, mr.Created, mr.ImagesAdded)

	return c.pendingDownloads(c.store.FindProduct(ref.ApplyCode)), nil
}

// pendingDownloads lists a download item for every not_downloaded record of
// the product, slot by slot.
func (c *Coordinator) pendingDownloads(p *catalog.Product) []transfer.DownloadItem {
	if p == nil {
		return nil
	}
	var items []transfer.DownloadItem

	collect := func(slot catalog.Slot, recs []*catalog.ImageRecord) {
		for _, rec := range recs {
			status, _ := catalog.CanonicalStatus(rec.Status)
			if status == catalog.StatusNotDownloaded {
				items = append(items, transfer.DownloadItem{
					RemoteURL:   rec.RemoteURL,
					ProductCode: p.ApplyCode,
					Slot:        slot,
				})
			}
		}
	}

	collect(catalog.Slot{Kind: catalog.SlotOriginal}, p.OriginalImages)
	for _, sku := range p.PublishSkus {
		collect(catalog.Slot{Kind: catalog.SlotSKU, SKUIndex: sku.SkuIndex}, sku.SkuImages)
	}
	collect(catalog.Slot{Kind: catalog.SlotScene}, p.SceneImages)
	return items
}
