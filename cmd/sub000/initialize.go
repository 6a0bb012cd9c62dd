package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/feizhan1/uxp-plugin-sub000/internal/config"
	"github.com/feizhan1/uxp-plugin-sub000/internal/ui"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the cache root and a default config file",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Default()
		if flagRoot != "" {
			cfg.Root = flagRoot
		}

		path := flagConfig
		if path == "" {
			path = filepath.Join(cfg.Root, "config.yaml")
		}
		if err := config.WriteDefault(path); err != nil {
			fatal(err)
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
		fmt.Println(ui.RenderDim("Edit api_base_url and upload_url before running sync."))
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
