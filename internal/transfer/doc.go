// Package transfer implements the batched download and upload orchestrators.
//
// # Overview
//
// Both directions follow the same discipline: items are partitioned into
// chunks of MaxConcurrency, each chunk runs its network I/O concurrently
// and is awaited fully before the next chunk starts, and every item gets up
// to RetryCount attempts with linearly increasing backoff. A failing item
// is reported through callbacks and counted; it never aborts the batch.
//
// # Architecture
//
//	Sync Coordinator
//	       ↓ items
//	  Downloader ── Fetcher (HTTP) ──> bytes ──> cache file ──> index record
//	       ↓
//	   Store.Save (exactly once per batch)
//
//	  Uploader ──> cache file ──> Poster (multipart HTTP) ──> remote URL
//	       ↓                                                      ↓
//	   Store.Save (exactly once per batch)              index record rewrite
//
// # Consistency
//
// Index mutations happen only on the orchestrating goroutine, after a
// chunk's workers have finished: workers touch the network and the
// filesystem, never the index. File bytes are always written before the
// record is updated, so a partially-downloaded file can never look complete
// in the index. The single Save at the end bounds index I/O; a Save failure
// is returned to the caller rather than swallowed.
package transfer
