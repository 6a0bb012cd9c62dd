package catalog

import (
	"fmt"
	"time"
)

// ImageRecord tracks one remote image inside a product collection.
//
// RemoteURL is the record's identity within its collection. LocalPath is
// relative to the cache root and stays empty until the image is downloaded.
// The same RemoteURL (and therefore the same LocalPath) may appear in more
// than one collection; such records share one file on disk.
type ImageRecord struct {
	RemoteURL string      `json:"remoteUrl"`
	LocalPath string      `json:"localPath,omitempty"`
	Status    ImageStatus `json:"status"`

	// Timestamp is the last state-write time: set on download, on every
	// status transition and on upload.
	Timestamp time.Time `json:"timestamp"`

	FileSize int64 `json:"fileSize,omitempty"`

	// Index is the display order within the collection, when the remote
	// system provides one.
	Index int `json:"index,omitempty"`

	// PrevStatus remembers the status an image had before it was toggled to
	// completed, so un-toggling restores it.
	PrevStatus ImageStatus `json:"prevStatus,omitempty"`
}

// SKU is one published variant of a product with its own image set.
type SKU struct {
	SkuIndex   string         `json:"skuIndex"`
	Attributes []string       `json:"attributes,omitempty"`
	SkuImages  []*ImageRecord `json:"skuImages"`
}

// Product mirrors one remote work item, uniquely keyed by ApplyCode.
//
// The field name senceImages matches the remote API's spelling; changing it
// would orphan existing index documents.
type Product struct {
	ApplyCode      string         `json:"applyCode"`
	Name           string         `json:"name,omitempty"`
	PackageList    []string       `json:"packageList,omitempty"`
	Status         string         `json:"status,omitempty"`
	OriginalImages []*ImageRecord `json:"originalImages"`
	PublishSkus    []*SKU         `json:"publishSkus"`
	SceneImages    []*ImageRecord `json:"senceImages"`
}

// SlotKind names one of the three image collections of a product.
type SlotKind string

const (
	// SlotOriginal addresses the originalImages collection.
	SlotOriginal SlotKind = "original"
	// SlotSKU addresses one SKU's skuImages collection.
	SlotSKU SlotKind = "sku"
	// SlotScene addresses the senceImages collection.
	SlotScene SlotKind = "scene"
)

// Slot addresses an image collection within a product. For SlotSKU the
// SKUIndex selects the variant; it is ignored for the other kinds.
type Slot struct {
	Kind     SlotKind `json:"kind"`
	SKUIndex string   `json:"skuIndex,omitempty"`
}

// String returns a compact form for logs: "original", "sku[3]", "scene".
func (s Slot) String() string {
	if s.Kind == SlotSKU {
		return fmt.Sprintf("sku[%s]", s.SKUIndex)
	}
	return string(s.Kind)
}

// Validate checks the slot's structural requirements.
func (s Slot) Validate() error {
	switch s.Kind {
	case SlotOriginal, SlotScene:
		return nil
	case SlotSKU:
		if s.SKUIndex == "" {
			return fmt.Errorf("sku slot requires a skuIndex")
		}
		return nil
	default:
		return fmt.Errorf("unknown slot kind %q", s.Kind)
	}
}

// Collection returns the image slice addressed by the slot, or nil if the
// slot's SKU does not exist on this product.
func (p *Product) Collection(slot Slot) []*ImageRecord {
	switch slot.Kind {
	case SlotOriginal:
		return p.OriginalImages
	case SlotScene:
		return p.SceneImages
	case SlotSKU:
		if sku := p.FindSKU(slot.SKUIndex); sku != nil {
			return sku.SkuImages
		}
	}
	return nil
}

// AppendImage adds a new record to the collection addressed by the slot,
// creating the SKU entry if needed. Returns the appended record.
func (p *Product) AppendImage(slot Slot, rec *ImageRecord) *ImageRecord {
	switch slot.Kind {
	case SlotOriginal:
		p.OriginalImages = append(p.OriginalImages, rec)
	case SlotScene:
		p.SceneImages = append(p.SceneImages, rec)
	case SlotSKU:
		sku := p.FindSKU(slot.SKUIndex)
		if sku == nil {
			sku = &SKU{SkuIndex: slot.SKUIndex}
			p.PublishSkus = append(p.PublishSkus, sku)
		}
		sku.SkuImages = append(sku.SkuImages, rec)
	}
	return rec
}

// FindSKU returns the SKU with the given skuIndex, or nil.
func (p *Product) FindSKU(skuIndex string) *SKU {
	for _, sku := range p.PublishSkus {
		if sku.SkuIndex == skuIndex {
			return sku
		}
	}
	return nil
}

// ImageInSlot returns the record with the given remote URL inside the
// collection addressed by the slot, or nil if absent.
func (p *Product) ImageInSlot(slot Slot, remoteURL string) *ImageRecord {
	for _, rec := range p.Collection(slot) {
		if rec.RemoteURL == remoteURL {
			return rec
		}
	}
	return nil
}

// ForEachImage calls fn for every image record in all three collections,
// in collection order. Returning false from fn stops the walk.
func (p *Product) ForEachImage(fn func(rec *ImageRecord) bool) {
	for _, rec := range p.OriginalImages {
		if !fn(rec) {
			return
		}
	}
	for _, sku := range p.PublishSkus {
		for _, rec := range sku.SkuImages {
			if !fn(rec) {
				return
			}
		}
	}
	for _, rec := range p.SceneImages {
		if !fn(rec) {
			return
		}
	}
}

// Touch records a state write on the record.
func (r *ImageRecord) Touch() {
	r.Timestamp = time.Now()
}

// MarkDownloaded resets the record after a successful fetch. This is the
// re-targeting path: it applies regardless of the previous status, which is
// how a download_failed or stale record gets back into the lifecycle.
func (r *ImageRecord) MarkDownloaded(localPath string, size int64) {
	r.LocalPath = localPath
	r.FileSize = size
	r.Status = StatusPendingEdit
	r.PrevStatus = ""
	r.Touch()
}

// MarkDownloadFailed makes the failure permanent: the record keeps an empty
// LocalPath so later syncs skip it instead of retrying forever.
func (r *ImageRecord) MarkDownloadFailed() {
	r.LocalPath = ""
	r.FileSize = 0
	r.Status = StatusDownloadFailed
	r.PrevStatus = ""
	r.Touch()
}
