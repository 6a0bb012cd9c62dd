package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/feizhan1/uxp-plugin-sub000/internal/syncer"
	"github.com/feizhan1/uxp-plugin-sub000/internal/transfer"
	"github.com/feizhan1/uxp-plugin-sub000/internal/ui"
)

var (
	flagSyncFull       bool
	flagSyncSkipFailed bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync remote products into the local cache",
	Long: `Fetch the remote product list and mirror unseen products locally.

This performs an incremental sync:
  1. Fetches the remote product list
  2. Fetches detail only for products not yet in the index
  3. Merges their metadata into the index
  4. Downloads the new images (bounded concurrency, per-item retry)
  5. Saves the index once at the end

Products already in the index are left untouched; use --full to re-fetch
metadata for everything in the remote list.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatal(err)
		}
		st, err := openStore(cfg)
		if err != nil {
			fatal(err)
		}
		client, err := newClient(cfg)
		if err != nil {
			fatal(err)
		}

		downloader, err := transfer.NewDownloader(st, client, transferConfig(cfg), cfg.NewLogger("[download] "))
		if err != nil {
			fatal(err)
		}
		coordinator, err := syncer.New(st, client, downloader, nil, cfg.NewLogger("[sync] "))
		if err != nil {
			fatal(err)
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		list, err := client.ProductRefs(ctx)
		if err != nil {
			fatal(fmt.Errorf("failed to fetch product list: %w", err))
		}

		onProgress := func(current, total int, item string) {
			fmt.Printf("\r   Downloading %d/%d  %s", current, total, ui.RenderDim(item))
			if current == total {
				fmt.Println()
			}
		}
		onError := func(err error, item string) {
			fmt.Fprintf(os.Stderr, "\n%s %s: %v\n", ui.RenderFail("✗"), item, err)
		}

		mode := "Incremental"
		run := coordinator.IncrementalSync
		if flagSyncFull {
			mode = "Full"
			run = coordinator.FullSync
		}
		fmt.Printf("%s %s sync of %d remote products...\n", ui.RenderAccent("🔄"), mode, len(list))
		start := time.Now()

		res, err := run(ctx, list, onProgress, onError)
		if err != nil {
			fatal(err)
		}

		fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
		fmt.Printf("   Listed: %d  Known: %d  Fetched: %d  FetchFailed: %d\n",
			res.Listed, res.AlreadyKnown, res.Fetched, res.FetchFailed)
		if dl := res.Download; dl != nil {
			fmt.Printf("   Images: %d success, %d failed, %d skipped\n", dl.Success, dl.Failed, dl.Skipped)

			if dl.Failed > 0 && flagSyncSkipFailed {
				marked, err := downloader.SkipFailedImages(dl.FailedDownloads)
				if err != nil {
					fatal(err)
				}
				fmt.Printf("%s Marked %d images as download_failed\n", ui.RenderWarn("⚠"), marked)
			}
		} else {
			fmt.Printf("   No new images\n")
		}
	},
}

func init() {
	syncCmd.Flags().BoolVar(&flagSyncFull, "full", false, "re-fetch metadata for all listed products")
	syncCmd.Flags().BoolVar(&flagSyncSkipFailed, "skip-failed", false, "permanently mark failed downloads so later syncs skip them")
	rootCmd.AddCommand(syncCmd)
}
