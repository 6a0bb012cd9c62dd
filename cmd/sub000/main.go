// Command sub000 is the local image cache and sync engine backing the
// sub000 editing workflow. It mirrors remote product images into a local
// cache, tracks them through the edit lifecycle, and uploads finished work.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/feizhan1/uxp-plugin-sub000/internal/config"
	"github.com/feizhan1/uxp-plugin-sub000/internal/remote"
	"github.com/feizhan1/uxp-plugin-sub000/internal/store"
	"github.com/feizhan1/uxp-plugin-sub000/internal/transfer"
)

var (
	flagConfig string
	flagRoot   string
)

var rootCmd = &cobra.Command{
	Use:   "sub000",
	Short: "Local image cache and sync engine",
	Long: `sub000 mirrors remote product images into a local cache, tracks each
image through the pending_edit -> editing -> completed lifecycle, and
uploads finished work back to the remote system.

The cache lives under ~/.sub000 by default:
  index.json        the product/image index
  <applyCode>/      one folder of image files per product
  config.yaml       optional configuration`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default <root>/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagRoot, "root", "", "cache root directory (overrides config)")
}

// loadConfig resolves configuration honoring the persistent flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagRoot != "" {
		cfg.Root = flagRoot
	}
	return cfg, nil
}

// openStore loads the index under the configured root.
func openStore(cfg *config.Config) (*store.Store, error) {
	return store.Open(cfg.Root, cfg.NewLogger("[store] "))
}

// newClient builds the remote API client, failing early when the API base
// URL is not configured.
func newClient(cfg *config.Config) (*remote.Client, error) {
	if cfg.APIBaseURL == "" {
		return nil, fmt.Errorf("api_base_url is not configured (set it in config.yaml or SUB000_API_BASE_URL)")
	}
	return remote.NewClient(cfg.APIBaseURL, 0, cfg.NewLogger("[remote] "))
}

// transferConfig maps the resolved configuration onto the orchestrators.
func transferConfig(cfg *config.Config) transfer.Config {
	return transfer.Config{
		MaxConcurrency: cfg.MaxConcurrency,
		RetryCount:     cfg.RetryCount,
		RetryDelay:     cfg.RetryDelay,
		Freshness:      cfg.Freshness,
	}
}

// fatal prints an error and exits; commands use it for unrecoverable setup
// failures.
func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
