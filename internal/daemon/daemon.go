// Package daemon provides the long-running process that keeps the local
// cache alive between CLI invocations.
//
// The daemon:
//  1. Watches the cache root for file writes and flips edited images from
//     pending_edit to editing (debounced, so editor save storms collapse
//     into one transition)
//  2. Periodically runs an incremental sync against the remote product list
//  3. Periodically validates and repairs the index
//  4. Pushes progress and status events to the UXP panel via the event
//     server
//  5. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/feizhan1/uxp-plugin-sub000/internal/catalog"
	"github.com/feizhan1/uxp-plugin-sub000/internal/events"
	"github.com/feizhan1/uxp-plugin-sub000/internal/store"
	"github.com/feizhan1/uxp-plugin-sub000/internal/syncer"
)

// Lister fetches the remote product list for the periodic sync tick.
type Lister interface {
	ProductRefs(ctx context.Context) ([]syncer.ProductRef, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// SyncInterval is how often to run an incremental sync against the
	// remote product list. Zero disables the sync tick.
	SyncInterval time.Duration

	// RepairInterval is how often to run the index invariant check.
	RepairInterval time.Duration

	// DebounceInterval is how long a file write must sit in the change
	// queue before it is processed. This batches rapid editor saves.
	DebounceInterval time.Duration

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:     5 * time.Minute,
		RepairInterval:   time.Minute,
		DebounceInterval: 500 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates file watching, periodic sync and index repair.
type Daemon struct {
	store       *store.Store
	coordinator *syncer.Coordinator
	lister      Lister
	events      *events.Server
	config      *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // absolute path -> queued-at
	changeQueueMu sync.Mutex

	// storeMu serializes index access between the change processor, the
	// sync tick and the repair tick.
	storeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Daemon.
//
// The event server is optional (nil disables panel broadcasts); everything
// else is required. Use Start to begin watching.
func New(st *store.Store, coordinator *syncer.Coordinator, lister Lister, eventServer *events.Server, config *Config) (*Daemon, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if coordinator == nil {
		return nil, fmt.Errorf("coordinator cannot be nil")
	}
	if lister == nil {
		return nil, fmt.Errorf("lister cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		store:       st,
		coordinator: coordinator,
		lister:      lister,
		events:      eventServer,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon performs an initial incremental sync, then watches the cache
// root for edits and runs its periodic ticks. This blocks until ctx is
// cancelled or an error occurs.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	d.runSync()

	if err := d.watchCacheRoot(); err != nil {
		return err
	}

	d.wg.Add(4)
	go d.watchFileEvents()
	go d.processChangeQueue()
	go d.syncLoop()
	go d.repairLoop()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")
	d.cancel()

	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}
	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// watchCacheRoot registers the cache root and every existing product folder.
// New product folders are added as they appear (see watchFileEvents).
func (d *Daemon) watchCacheRoot() error {
	root := d.store.RootDir()
	if err := d.watcher.Add(root); err != nil {
		return fmt.Errorf("failed to watch cache root: %w", err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("failed to read cache root: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := d.watcher.Add(filepath.Join(root, entry.Name())); err != nil {
			d.config.Logger.Printf("Warning: failed to watch %s: %v", entry.Name(), err)
		}
	}

	d.config.Logger.Printf("Watching: %s", root)
	return nil
}

// watchFileEvents monitors filesystem events and queues file writes.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			// A new product folder must be registered to see its files.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := d.watcher.Add(event.Name); err != nil {
						d.config.Logger.Printf("Warning: failed to watch %s: %v", event.Name, err)
					}
					continue
				}
			}

			if event.Op&fsnotify.Write == 0 {
				continue
			}
			base := filepath.Base(event.Name)
			if base == store.IndexFileName || strings.Contains(base, ".tmp") {
				continue
			}

			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange adds a file to the change queue with debouncing.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()
	d.changeQueue[path] = time.Now()
}

// processChangeQueue processes queued file writes once they have settled.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges flips settled edits from pending_edit to editing.
func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	now := time.Now()
	var settled []string
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		settled = append(settled, path)
		delete(d.changeQueue, path)
	}
	d.changeQueueMu.Unlock()

	if len(settled) == 0 {
		return
	}

	d.storeMu.Lock()
	defer d.storeMu.Unlock()

	changed := 0
	for _, path := range settled {
		if d.markEditing(path) {
			changed++
		}
	}
	if changed == 0 {
		return
	}
	if err := d.store.Save(); err != nil {
		d.config.Logger.Printf("Error saving index after edits: %v", err)
	}
}

// markEditing transitions the record behind an edited file, if any.
// Returns true when a transition happened.
func (d *Daemon) markEditing(absPath string) bool {
	rel, err := filepath.Rel(d.store.RootDir(), absPath)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)

	product, rec := d.store.FindImage(rel)
	if rec == nil {
		return false
	}
	status, _ := catalog.CanonicalStatus(rec.Status)
	if status != catalog.StatusPendingEdit {
		return false
	}

	if err := d.store.ApplyStatus(rec, catalog.StatusEditing); err != nil {
		d.config.Logger.Printf("Error marking %s as editing: %v", rel, err)
		return false
	}
	d.config.Logger.Printf("Edit detected: %s/%s -> editing", product.ApplyCode, rel)

	if d.events != nil {
		d.events.Publish(events.TypeStatusChange, events.StatusChangeData{
			ApplyCode: product.ApplyCode,
			LocalPath: rel,
			Status:    string(catalog.StatusEditing),
		})
	}
	return true
}

// syncLoop periodically runs an incremental sync.
func (d *Daemon) syncLoop() {
	defer d.wg.Done()

	if d.config.SyncInterval <= 0 {
		return
	}
	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.runSync()
		}
	}
}

// runSync fetches the remote list and drives the coordinator once.
// Failures are logged; the daemon keeps running.
func (d *Daemon) runSync() {
	list, err := d.lister.ProductRefs(d.ctx)
	if err != nil {
		d.config.Logger.Printf("Warning: failed to fetch product list: %v", err)
		return
	}

	onProgress := func(current, total int, item string) {
		if d.events != nil {
			d.events.Publish(events.TypeDownloadProgress, events.ProgressData{
				Current: current, Total: total, Item: item,
			})
		}
	}

	d.storeMu.Lock()
	res, err := d.coordinator.IncrementalSync(d.ctx, list, onProgress, nil)
	d.storeMu.Unlock()
	if err != nil {
		d.config.Logger.Printf("Warning: sync failed: %v", err)
		return
	}

	if d.events != nil {
		data := events.SyncCompleteData{
			Fetched:   res.Fetched,
			NewImages: len(res.NewImages),
			Duration:  res.Duration,
		}
		if dl := res.Download; dl != nil {
			data.Downloaded = dl.Success
			data.Failed = dl.Failed
			data.Skipped = dl.Skipped
		}
		d.events.Publish(events.TypeSyncComplete, data)
	}
}

// repairLoop periodically enforces the index invariants.
func (d *Daemon) repairLoop() {
	defer d.wg.Done()

	if d.config.RepairInterval <= 0 {
		return
	}
	ticker := time.NewTicker(d.config.RepairInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.runRepair()
		}
	}
}

func (d *Daemon) runRepair() {
	d.storeMu.Lock()
	defer d.storeMu.Unlock()

	repaired := d.store.ValidateAndRepair()
	if repaired == 0 {
		return
	}
	d.config.Logger.Printf("Repaired %d image records", repaired)
	if err := d.store.Save(); err != nil {
		d.config.Logger.Printf("Error saving index after repair: %v", err)
		return
	}
	if d.events != nil {
		d.events.Publish(events.TypeRepair, events.RepairData{Repaired: repaired})
	}
}
