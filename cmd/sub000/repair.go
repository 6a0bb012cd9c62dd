package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/feizhan1/uxp-plugin-sub000/internal/ui"
)

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Validate and repair the index",
	Long: `Check every image record against the cache on disk.

A record claiming a downloaded status without a verifiable local file is
reset to not_downloaded so the next sync fetches it again. Legacy statuses
from older plugin versions are migrated to the current lifecycle.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatal(err)
		}
		st, err := openStore(cfg)
		if err != nil {
			fatal(err)
		}

		repaired := st.ValidateAndRepair()
		if repaired == 0 {
			fmt.Printf("%s Index is consistent\n", ui.RenderPass("✓"))
			return
		}
		if err := st.Save(); err != nil {
			fatal(fmt.Errorf("repaired %d records but saving failed: %w", repaired, err))
		}
		fmt.Printf("%s Repaired %d image records\n", ui.RenderWarn("⚠"), repaired)
	},
}

func init() {
	rootCmd.AddCommand(repairCmd)
}
