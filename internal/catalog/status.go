package catalog

// ImageStatus represents an image's position in the edit lifecycle.
//
// Statuses are persisted as strings in the index document, so the values
// must stay stable across releases.
type ImageStatus string

const (
	// StatusNotDownloaded means the image exists remotely but has no local file.
	StatusNotDownloaded ImageStatus = "not_downloaded"

	// StatusPendingEdit means the image is downloaded and waiting for an editor.
	StatusPendingEdit ImageStatus = "pending_edit"

	// StatusEditing means the image is currently being worked on.
	StatusEditing ImageStatus = "editing"

	// StatusCompleted means editing is finished and the image is ready to upload.
	StatusCompleted ImageStatus = "completed"

	// StatusUploaded means the finished image was uploaded and the record now
	// points at the server-assigned URL.
	StatusUploaded ImageStatus = "uploaded"

	// StatusDownloadFailed means all download attempts were exhausted.
	// The status is terminal until a later download explicitly re-targets
	// the same image.
	StatusDownloadFailed ImageStatus = "download_failed"
)

// Legacy statuses written by earlier plugin versions. They are read and
// migrated by CanonicalStatus but never written by current code.
const (
	legacyDownloaded ImageStatus = "downloaded"
	legacyLocalAdded ImageStatus = "local_added"
	legacyModified   ImageStatus = "modified"
	legacySynced     ImageStatus = "synced"
)

// transitions maps each status to the set of statuses reachable from it.
//
// download_failed has no outgoing edges: recovery happens by a download
// re-targeting the record, not by a lifecycle transition.
var transitions = map[ImageStatus][]ImageStatus{
	StatusNotDownloaded:  {StatusPendingEdit, StatusDownloadFailed},
	StatusPendingEdit:    {StatusEditing},
	StatusEditing:        {StatusPendingEdit, StatusCompleted},
	StatusCompleted:      {StatusEditing, StatusUploaded},
	StatusUploaded:       {},
	StatusDownloadFailed: {},
}

// Valid reports whether s is a canonical (non-legacy) status.
func (s ImageStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Downloaded reports whether s implies a local file must exist.
//
// Any status other than not_downloaded and download_failed requires a
// non-empty LocalPath whose file is present on disk; the store's repair
// pass enforces this invariant.
func (s ImageStatus) Downloaded() bool {
	switch s {
	case StatusNotDownloaded, StatusDownloadFailed:
		return false
	default:
		return true
	}
}

// CanTransition reports whether an image may move from one status to the
// requested status. Legacy statuses are canonicalized before the check, so
// a record that still carries "modified" behaves exactly like "editing".
func CanTransition(from, to ImageStatus) bool {
	from, _ = CanonicalStatus(from)
	to, _ = CanonicalStatus(to)
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanonicalStatus maps legacy statuses onto the canonical lifecycle.
//
// The mapping is one-way:
//
//	downloaded, local_added -> pending_edit
//	modified, synced        -> editing
//
// It returns the canonical status and whether a migration happened.
// Unknown strings are returned unchanged so a corrupt record is repaired by
// the store's invariant check rather than silently reinterpreted here.
func CanonicalStatus(s ImageStatus) (ImageStatus, bool) {
	switch s {
	case legacyDownloaded, legacyLocalAdded:
		return StatusPendingEdit, true
	case legacyModified, legacySynced:
		return StatusEditing, true
	default:
		return s, false
	}
}
