package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/feizhan1/uxp-plugin-sub000/internal/catalog"
	"github.com/feizhan1/uxp-plugin-sub000/internal/transfer"
	"github.com/feizhan1/uxp-plugin-sub000/internal/ui"
)

var flagUploadAll bool

var uploadCmd = &cobra.Command{
	Use:   "upload <applyCode>",
	Short: "Upload a product's finished images",
	Long: `Upload completed images of one product back to the remote system.

Images with status "completed" are read from the local cache and posted to
the upload endpoint with bounded concurrency and per-item retry. On
success a record's remote URL is rewritten to the server-assigned URL and
its status becomes "uploaded". Failed items are reported but do not block
the rest of the batch; whether partial failure blocks a larger submission
is up to the operator.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		applyCode := args[0]

		cfg, err := loadConfig()
		if err != nil {
			fatal(err)
		}
		if cfg.UploadURL == "" {
			fatal(fmt.Errorf("upload_url is not configured (set it in config.yaml or SUB000_UPLOAD_URL)"))
		}
		st, err := openStore(cfg)
		if err != nil {
			fatal(err)
		}
		client, err := newClient(cfg)
		if err != nil {
			fatal(err)
		}

		product := st.FindProduct(applyCode)
		if product == nil {
			fatal(fmt.Errorf("product %s not found in index", applyCode))
		}

		var items []*catalog.ImageRecord
		product.ForEachImage(func(rec *catalog.ImageRecord) bool {
			status, _ := catalog.CanonicalStatus(rec.Status)
			if status == catalog.StatusCompleted || (flagUploadAll && status.Downloaded() && status != catalog.StatusUploaded) {
				items = append(items, rec)
			}
			return true
		})
		if len(items) == 0 {
			fmt.Printf("%s Nothing to upload for %s\n", ui.RenderWarn("⚠"), applyCode)
			return
		}

		uploader, err := transfer.NewUploader(st, client, cfg.UploadURL, transferConfig(cfg), cfg.NewLogger("[upload] "))
		if err != nil {
			fatal(err)
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		fmt.Printf("%s Uploading %d images for %s...\n", ui.RenderAccent("⬆"), len(items), applyCode)

		cb := transfer.UploadCallbacks{
			OnProgress: func(current, total int, item string) {
				fmt.Printf("\r   %d/%d  %s", current, total, ui.RenderDim(item))
				if current == total {
					fmt.Println()
				}
			},
			OnItemError: func(err error, item string) {
				fmt.Fprintf(os.Stderr, "\n%s %s: %v\n", ui.RenderFail("✗"), item, err)
			},
			OnComplete: func(res *transfer.BatchResult) {
				fmt.Printf("%s Upload complete in %v: %d/%d succeeded, %d failed\n",
					ui.RenderPass("✓"), res.Duration.Round(time.Millisecond),
					res.Success, res.Total, res.Failed)
			},
		}

		if _, err := uploader.Upload(ctx, applyCode, items, cb); err != nil {
			fatal(err)
		}
	},
}

func init() {
	uploadCmd.Flags().BoolVar(&flagUploadAll, "all", false, "upload every downloaded image, not just completed ones")
	rootCmd.AddCommand(uploadCmd)
}
