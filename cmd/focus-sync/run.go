package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/focusflow/focusflow-go/internal/client/coordinator"
	"github.com/focusflow/focusflow-go/internal/model"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync loop until interrupted",
	Long: `Run the network monitor and the sync coordinator until SIGINT or SIGTERM.

A sync starts on every sync.interval tick, once each time the server becomes
reachable again, and on SIGUSR1.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, closer := newLogger()
		defer closer.Close()

		eng, err := newEngine(logger)
		if err != nil {
			return err
		}
		defer eng.store.Close()

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		manual := make(chan os.Signal, 1)
		signal.Notify(manual, syscall.SIGUSR1)
		defer signal.Stop(manual)

		device, err := eng.store.Device(ctx)
		if err != nil {
			return err
		}
		logger.Info("focus-sync started", "device_id", device.DeviceID, "server", cfg.Server.URL)

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return eng.monitor.Run(ctx) })
		g.Go(func() error { return eng.coord.Run(ctx) })
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-manual:
					eng.coord.TriggerNow()
				}
			}
		})

		if err := g.Wait(); err != nil {
			return fmt.Errorf("sync loop: %w", err)
		}

		st := eng.coord.Status()
		logger.Info("focus-sync stopped", "cycles", st.Cycles, "failed_cycles", st.FailedCycles)
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle now",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, closer := newLogger()
		defer closer.Close()

		eng, err := newEngine(logger)
		if err != nil {
			return err
		}
		defer eng.store.Close()

		res := eng.coord.Sync(cmd.Context(), coordinator.TriggerManual)
		out := cmd.OutOrStdout()
		switch {
		case res.Reason != "":
			fmt.Fprintf(out, "sync skipped: %s\n", res.Reason)
		case res.Success:
			fmt.Fprintf(out, "sync ok: %d synced, %d conflicts, %d rejected, %d new ids\n",
				res.Synced, res.Conflicts, res.Rejected, len(res.Mapping))
		default:
			fmt.Fprintf(out, "sync failed:\n")
			for _, e := range res.Errors {
				fmt.Fprintf(out, "  %s\n", e)
			}
		}
		if !res.Success {
			return fmt.Errorf("sync did not complete")
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the device id, watermark and pending changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		device, err := st.Device(cmd.Context())
		if err != nil {
			return err
		}
		counts, err := st.Counts(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "device:       %s\n", device.DeviceID)
		fmt.Fprintf(out, "server:       %s\n", cfg.Server.URL)
		if device.LastSyncedAt != nil {
			fmt.Fprintf(out, "last synced:  %s\n", device.LastSyncedAt.Local().Format("2006-01-02 15:04:05"))
		} else {
			fmt.Fprintf(out, "last synced:  never\n")
		}
		fmt.Fprintf(out, "pending:      %d tasks, %d sessions\n", counts[model.EntityTask], counts[model.EntitySession])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
}
