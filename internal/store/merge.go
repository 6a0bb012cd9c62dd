package store

import (
	"github.com/feizhan1/uxp-plugin-sub000/internal/catalog"
)

// MergeResult summarizes what MergeRemoteProduct changed.
type MergeResult struct {
	Created     bool
	ImagesAdded int
}

// MergeRemoteProduct folds freshly fetched remote metadata into the index.
//
// The product is created on first sight and updated in place afterwards:
// display metadata follows the remote system, while image records that
// already exist keep their local state (LocalPath, Status, Timestamp).
// Remote images not yet present in their collection are appended as
// not_downloaded so the download orchestrator picks them up.
//
// The caller is responsible for calling Save.
func (s *Store) MergeRemoteProduct(remote *catalog.Product) MergeResult {
	var res MergeResult

	p := s.FindProduct(remote.ApplyCode)
	if p == nil {
		p = s.GetOrCreateProduct(remote.ApplyCode, remote)
		res.Created = true
	} else {
		if remote.Name != "" {
			p.Name = remote.Name
		}
		if remote.PackageList != nil {
			p.PackageList = remote.PackageList
		}
		if remote.Status != "" {
			p.Status = remote.Status
		}
	}

	res.ImagesAdded += s.mergeCollection(p, catalog.Slot{Kind: catalog.SlotOriginal}, remote.OriginalImages)
	for _, sku := range remote.PublishSkus {
		slot := catalog.Slot{Kind: catalog.SlotSKU, SKUIndex: sku.SkuIndex}
		if local := p.FindSKU(sku.SkuIndex); local != nil && sku.Attributes != nil {
			local.Attributes = sku.Attributes
		}
		res.ImagesAdded += s.mergeCollection(p, slot, sku.SkuImages)
	}
	res.ImagesAdded += s.mergeCollection(p, catalog.Slot{Kind: catalog.SlotScene}, remote.SceneImages)

	return res
}

// mergeCollection appends remote records missing from the slot's collection.
func (*Store) mergeCollection(p *catalog.Product, slot catalog.Slot, remote []*catalog.ImageRecord) int {
	added := 0
	for _, r := range remote {
		if r.RemoteURL == "" || p.ImageInSlot(slot, r.RemoteURL) != nil {
			continue
		}
		rec := &catalog.ImageRecord{
			RemoteURL: r.RemoteURL,
			Status:    catalog.StatusNotDownloaded,
			Index:     r.Index,
		}
		rec.Touch()
		p.AppendImage(slot, rec)
		added++
	}
	return added
}
