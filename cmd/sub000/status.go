package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/feizhan1/uxp-plugin-sub000/internal/catalog"
	"github.com/feizhan1/uxp-plugin-sub000/internal/store"
	"github.com/feizhan1/uxp-plugin-sub000/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local cache status",
	Long: `Display the current state of the local image cache.

Shows:
  - Index location and product/image counts
  - Images grouped by lifecycle status
  - Cache size on disk`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatal(err)
		}

		indexPath := filepath.Join(cfg.Root, store.IndexFileName)
		if _, err := os.Stat(indexPath); os.IsNotExist(err) {
			fmt.Printf("\n%s Cache not initialized\n", ui.RenderWarn("⚠"))
			fmt.Printf("   Run 'sub000 sync' to create it\n\n")
			return
		}

		st, err := openStore(cfg)
		if err != nil {
			fatal(err)
		}
		stats := st.Stats()

		fmt.Printf("\n%s Cache Status\n\n", ui.RenderAccent("📊"))
		fmt.Printf("Index: %s\n", indexPath)
		fmt.Printf("Products: %d\n", stats.Products)
		fmt.Printf("Images: %d\n", stats.Images)
		for _, status := range []catalog.ImageStatus{
			catalog.StatusNotDownloaded,
			catalog.StatusPendingEdit,
			catalog.StatusEditing,
			catalog.StatusCompleted,
			catalog.StatusUploaded,
			catalog.StatusDownloadFailed,
		} {
			if n := stats.ByStatus[status]; n > 0 {
				fmt.Printf("   %-16s %d\n", status, n)
			}
		}
		fmt.Printf("Size: %s\n", formatSize(stats.CacheBytes))
		fmt.Println()
	},
}

// formatSize renders a byte count for humans.
func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
