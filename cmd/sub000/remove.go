package main

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/feizhan1/uxp-plugin-sub000/internal/catalog"
	"github.com/feizhan1/uxp-plugin-sub000/internal/ui"
)

var removeForce bool

var removeCmd = &cobra.Command{
	Use:   "remove <applyCode>",
	Short: "Remove a product and its cached images",
	Long: `Delete a product from the index along with its cached image files.

Files referenced by records of other products are left on disk. The
product folder is removed when it ends up empty.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		applyCode := args[0]

		cfg, err := loadConfig()
		if err != nil {
			fatal(err)
		}
		st, err := openStore(cfg)
		if err != nil {
			fatal(err)
		}

		p := st.FindProduct(applyCode)
		if p == nil {
			fatal(fmt.Errorf("product %s not found", applyCode))
		}

		if !removeForce {
			if !ui.Interactive() {
				fatal(fmt.Errorf("refusing to remove %s without --force in a non-interactive session", applyCode))
			}
			var confirmed bool
			images := 0
			p.ForEachImage(func(*catalog.ImageRecord) bool { images++; return true })
			form := huh.NewForm(huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("Remove %s (%d images)?", applyCode, images)).
					Description("Cached files not shared with other products will be deleted.").
					Value(&confirmed),
			))
			if err := form.Run(); err != nil {
				fatal(err)
			}
			if !confirmed {
				fmt.Println(ui.RenderDim("Aborted"))
				return
			}
		}

		if err := st.RemoveProduct(applyCode); err != nil {
			fatal(err)
		}
		fmt.Printf("%s Removed product %s\n", ui.RenderPass("✓"), applyCode)
	},
}

func init() {
	removeCmd.Flags().BoolVarP(&removeForce, "force", "f", false, "remove without confirmation")
	rootCmd.AddCommand(removeCmd)
}
