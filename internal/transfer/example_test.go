package transfer_test

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/feizhan1/uxp-plugin-sub000/internal/catalog"
	"github.com/feizhan1/uxp-plugin-sub000/internal/store"
	"github.com/feizhan1/uxp-plugin-sub000/internal/transfer"
)

// memFetcher serves fixed bytes for any URL.
type memFetcher struct{}

func (memFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	return []byte("image bytes"), nil
}

// Example_downloadBatch demonstrates mirroring a set of product images into
// the local cache.
func Example_downloadBatch() {
	root, err := os.MkdirTemp("", "sub000-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(root)

	st, err := store.Open(root, log.New(io.Discard, "", 0))
	if err != nil {
		log.Fatal(err)
	}

	d, err := transfer.NewDownloader(st, memFetcher{}, transfer.DefaultConfig(), log.New(io.Discard, "", 0))
	if err != nil {
		log.Fatal(err)
	}

	items := []transfer.DownloadItem{
		{
			RemoteURL:   "https://cdn.example.com/front.jpg",
			ProductCode: "AP001",
			Slot:        catalog.Slot{Kind: catalog.SlotOriginal},
		},
		{
			RemoteURL:   "https://cdn.example.com/room.jpg",
			ProductCode: "AP001",
			Slot:        catalog.Slot{Kind: catalog.SlotScene},
		},
	}

	res, err := d.DownloadBatch(context.Background(), items, nil, nil)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("downloaded %d of %d\n", res.Success, res.Total)

	// A second run finds everything fresh and touches nothing.
	res, err = d.DownloadBatch(context.Background(), items, nil, nil)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("skipped %d of %d\n", res.Skipped, res.Total)

	// Output:
	// downloaded 2 of 2
	// skipped 2 of 2
}
