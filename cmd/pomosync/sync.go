package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pomosync/pomosync/internal/config"
	"github.com/pomosync/pomosync/internal/daemon"
	"github.com/pomosync/pomosync/internal/dashboard"
	"github.com/pomosync/pomosync/internal/orchestrator"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run a full sync now",
	Long: `Push pending changes, then pull and merge tasks, today's stats and the
archive from the row-store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			if !a.client.Configured() {
				fmt.Printf("%s Sync is disabled: no endpoint configured (see 'pomosync init')\n", out.Warn("⚠"))
				return nil
			}
			if err := a.orch.Flush(ctx); err != nil {
				fmt.Printf("%s Failed to push pending changes: %v\n", out.Warn("⚠"), err)
			}
			st, err := a.orch.PerformFullSync(ctx)
			if err != nil && !errors.Is(err, orchestrator.ErrSyncInProgress) {
				return err
			}
			fmt.Print(out.StatusReport(st, a.client.Endpoint(), time.Now()))
			if st.State == orchestrator.StateError {
				return fmt.Errorf("sync failed")
			}
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show sync status and local counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			st := a.orch.Status()
			fmt.Print(out.StatusReport(st, a.client.Endpoint(), time.Now()))
			fmt.Println()
			fmt.Printf("Device:     %s\n", out.Muted(a.state.DeviceID()))
			fmt.Printf("Tasks:      %d active, %d archived\n", len(a.state.Tasks()), len(a.state.Archived()))
			fmt.Printf("Tombstones: %d\n", a.tombstones.Len())
			fmt.Printf("Database:   %s\n", out.Muted(a.cfg.DatabasePath()))
			return nil
		})
	},
}

// reloadingSyncer re-reads the shared database before each full sync so the
// daemon sees changes made by one-shot commands in other processes.
type reloadingSyncer struct {
	a *app
}

func (r reloadingSyncer) PerformFullSync(ctx context.Context) (orchestrator.Status, error) {
	if !r.a.orch.Busy() {
		if err := r.a.reload(ctx); err != nil {
			r.a.logger.Printf("Warning: failed to reload local state: %v", err)
		}
	}
	return r.a.orch.PerformFullSync(ctx)
}

func (r reloadingSyncer) Busy() bool {
	return r.a.orch.Busy()
}

func (r reloadingSyncer) Flush(ctx context.Context) error {
	return r.a.orch.Flush(ctx)
}

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Sync in the background until interrupted",
	Long: `Run periodic full syncs until interrupted. Pending changes are pushed on
shutdown.

With --dashboard-port the daemon also serves a live status page and a
WebSocket feed of sync events. Edits to the config file's endpoint are
applied without a restart.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dashPort, _ := cmd.Flags().GetInt("dashboard-port")
		if !cmd.Flags().Changed("dashboard-port") {
			dashPort = cfg.Dashboard.Port
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer a.close()

		d, err := daemon.New(reloadingSyncer{a: a}, &daemon.Config{
			InitialDelay:    cfg.Sync.InitialDelay,
			Interval:        cfg.Sync.Interval,
			ShutdownTimeout: cfg.Transport.Timeout,
			Endpoint:        a.client,
			Logger:          a.logs.Logger("daemon"),
		})
		if err != nil {
			return err
		}

		if dashPort > 0 {
			server := dashboard.NewServer(&dashboard.Config{
				Host:   cfg.Dashboard.Host,
				Port:   dashPort,
				Logger: a.logs.Logger("dashboard"),
			})
			if err := server.Start(); err != nil {
				return err
			}
			defer func() {
				if err := server.Stop(); err != nil {
					a.logger.Printf("Warning: %v", err)
				}
			}()
			dashboard.NewHandler(server, a.logs.Logger("dashboard")).Attach(a.orch)
		}

		if v.ConfigFileUsed() != "" {
			config.Watch(v, func(c *config.Config) {
				d.SetEndpoint(c.Endpoint)
			}, func(err error) {
				a.logger.Printf("Warning: ignoring config change: %v", err)
			})
		}

		if !a.client.Configured() {
			a.logger.Println("No endpoint configured; waiting for one in the config file")
		}
		return d.Start(ctx)
	},
}

func init() {
	daemonCmd.Flags().Int("dashboard-port", 0, "serve the live dashboard on this port (default from config; 0 disables)")

	rootCmd.AddCommand(syncCmd, statusCmd, daemonCmd)
}
