package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/feizhan1/uxp-plugin-sub000/internal/daemon"
	"github.com/feizhan1/uxp-plugin-sub000/internal/events"
	"github.com/feizhan1/uxp-plugin-sub000/internal/syncer"
	"github.com/feizhan1/uxp-plugin-sub000/internal/transfer"
	"github.com/feizhan1/uxp-plugin-sub000/internal/ui"
)

var daemonNoEvents bool

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background sync daemon",
	Long: `Run the daemon in the foreground.

The daemon watches the cache root for edits to downloaded images, marking
them as editing, runs an incremental sync against the remote API on a
timer, periodically repairs the index, and serves panel updates over a
local websocket.

Stop it with Ctrl-C.`,
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

		var eventServer *events.Server
		if !daemonNoEvents {
			eventServer = events.NewServer(&events.Config{
				Port:   cfg.EventsPort,
				Logger: cfg.NewLogger("[events] "),
			})
			if err := eventServer.Start(); err != nil {
				fatal(fmt.Errorf("failed to start event server: %w", err))
			}
			defer eventServer.Stop()
			fmt.Printf("%s Event server listening on %s\n", ui.RenderPass("✓"), eventServer.Addr())
		}

		d, err := daemon.New(st, coordinator, client, eventServer, &daemon.Config{
			SyncInterval:     cfg.SyncInterval,
			RepairInterval:   cfg.RepairInterval,
			DebounceInterval: daemon.DefaultConfig().DebounceInterval,
			Logger:           cfg.NewLogger("[daemon] "),
		})
		if err != nil {
			fatal(err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		fmt.Printf("%s Daemon started, watching %s\n", ui.RenderPass("✓"), cfg.Root)
		if err := d.Start(ctx); err != nil {
			fatal(err)
		}
		fmt.Println(ui.RenderDim("Daemon stopped"))
	},
}

func init() {
	daemonCmd.Flags().BoolVar(&daemonNoEvents, "no-events", false, "disable the websocket event server")
	rootCmd.AddCommand(daemonCmd)
}
