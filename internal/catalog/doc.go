// Package catalog defines the data model for the sub000 local image cache.
//
// # Overview
//
// The catalog package holds the structures persisted in the index document
// (.sub000/index.json) and the pure logic that operates on them: the image
// edit-lifecycle state machine, legacy status migration, and the
// URL-to-local-path resolver.
//
// # Architecture
//
// A Product mirrors one remote work item, keyed by its applyCode. Each
// product carries three image collections:
//
//	Product (applyCode)
//	     ├── originalImages []ImageRecord
//	     ├── publishSkus    []SKU ── skuImages []ImageRecord
//	     └── senceImages    []ImageRecord
//
// An ImageRecord tracks one remote image: where it came from (RemoteURL),
// where it lives locally (LocalPath), and where it stands in the edit
// lifecycle (Status). The same RemoteURL may legitimately appear in more
// than one collection; those records share a single downloaded file, so
// status mutations must be applied to every record sharing the LocalPath.
// That cross-reference logic lives in the store package.
//
// # Lifecycle
//
// The canonical image lifecycle is:
//
//	not_downloaded ──> pending_edit <──> editing ──> completed ──> uploaded
//	       │
//	       └─────────> download_failed (terminal until re-downloaded)
//
// Older index documents written by previous plugin versions may contain the
// legacy statuses "downloaded", "local_added", "modified" and "synced".
// CanonicalStatus maps them one-way onto the canonical states; current code
// never writes them.
package catalog
