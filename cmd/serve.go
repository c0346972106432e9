package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bnema/devsession/internal/adapters/transport/ws"
	"github.com/bnema/devsession/internal/application"
	"github.com/gin-gonic/gin"
	"github.com/heptiolabs/healthcheck"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
	maxGoroutines     = 1000
)

func newServeCmd(app *app) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the session UI websocket for editor views",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			root, err := app.root()
			if err != nil {
				return err
			}

			if listen == "" {
				listen = app.cfg.ServeListen
			}

			listener, err := net.Listen("tcp", listen)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", listen, err)
			}

			handler, registry, err := newServeHandler(app, root)
			if err != nil {
				_ = listener.Close()
				return err
			}
			defer registry.Close()

			if _, err := fmt.Fprintf(cmd.OutOrStdout(), "Serving %s on ws://%s/ws\n", root, listener.Addr()); err != nil {
				return err
			}
			return runHTTPServer(ctx, listener, handler, app.logger)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (defaults to serve.listen)")
	return cmd
}

// newServeHandler routes /ws to the hub, one coordinator per view of root,
// and exposes /metrics, /live and /ready next to it. Every connection holds
// its view's coordinator until it goes away; a coordinator is activated once,
// after its first connection is attached.
func newServeHandler(app *app, root string) (http.Handler, *application.Registry, error) {
	registry := application.NewRegistry()
	var activated sync.Map

	var hub *ws.Hub
	hub, err := ws.NewHub(ws.Config{
		Logger: app.logger,
		Resolve: func(_ context.Context, viewID string) (ws.MessageHandler, error) {
			coordinator, created, err := registry.Acquire(viewID, func() (*application.Coordinator, error) {
				return app.newCoordinator(root, hub.ViewSink(viewID))
			})
			if err != nil {
				return nil, err
			}

			if created {
				app.recorder.SetActiveViews(len(registry.ViewIDs()))
			}
			return coordinator, nil
		},
		OnAttached: func(ctx context.Context, viewID string, handler ws.MessageHandler) {
			coordinator, ok := handler.(*application.Coordinator)
			if !ok {
				return
			}
			if _, loaded := activated.LoadOrStore(coordinator, struct{}{}); loaded {
				return
			}

			go func() {
				if err := coordinator.Activate(context.WithoutCancel(ctx)); err != nil {
					app.logger.Warn("view activation failed", zap.String("view", viewID), zap.Error(err))
				}
			}()
		},
		Release: func(viewID string, handler ws.MessageHandler) {
			if registry.Release(viewID) {
				activated.Delete(handler)
				app.recorder.SetActiveViews(len(registry.ViewIDs()))
			}
		},
	})
	if err != nil {
		return nil, nil, err
	}

	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(maxGoroutines))
	health.AddReadinessCheck("project-root", func() error {
		info, err := os.Stat(root)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", root)
		}
		return nil
	})

	if !app.cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/ws", gin.WrapH(hub))
	router.GET("/metrics", gin.WrapH(app.recorder.Handler()))
	router.GET("/live", gin.WrapH(health))
	router.GET("/ready", gin.WrapH(health))

	return router, registry, nil
}

func runHTTPServer(ctx context.Context, listener net.Listener, handler http.Handler, logger *zap.Logger) error {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown failed", zap.Error(err))
		return err
	}
	return nil
}

func serveMetrics(ctx context.Context, addr string, app *app) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		app.logger.Warn("metrics listener failed", zap.String("addr", addr), zap.Error(err))
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", app.recorder.Handler())
	if err := runHTTPServer(ctx, listener, mux, app.logger); err != nil {
		app.logger.Warn("metrics server stopped", zap.Error(err))
	}
}
