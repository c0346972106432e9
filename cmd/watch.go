package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/bnema/devsession/internal/adapters/status"
	"github.com/bnema/devsession/internal/adapters/watch"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newWatchCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Autosave on editor changes and follow snapshots from other devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			root, err := app.root()
			if err != nil {
				return err
			}

			sink := status.Multi{status.NewWriterSink(cmd.OutOrStdout()), status.NewLogSink(app.logger)}
			coordinator, err := app.newCoordinator(root, sink)
			if err != nil {
				return err
			}
			defer coordinator.Close()

			if err := coordinator.Activate(ctx); err != nil {
				app.logger.Warn("startup sync failed", zap.Error(err))
			}

			watcher, err := watch.New(watch.Config{
				Root:        root,
				EditorsFile: app.cfg.EditorsFileFor(root),
				Store:       app.store,
				Logger:      app.logger,
				OnSnapshotChanged: func(ctx context.Context) {
					if _, err := coordinator.SyncIfStale(ctx); err != nil {
						app.logger.Warn("sync after snapshot change failed", zap.Error(err))
					}
				},
				OnEditorsChanged: coordinator.ScheduleAutoSave,
			})
			if err != nil {
				return err
			}

			if addr := app.cfg.MetricsListen; addr != "" {
				go serveMetrics(ctx, addr, app)
			}

			return watcher.Run(ctx)
		},
	}
}
