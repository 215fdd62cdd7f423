package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/journalsync/cmd/journalsync/handlers"
	"github.com/kimhsiao/journalsync/internal/config"
	"github.com/kimhsiao/journalsync/internal/logging"
)

func handlersRouter(a *app) handlers.Router {
	var fetcher handlers.Fetcher
	if a.remote != nil {
		fetcher = a.remote
	}
	return handlers.Router{
		Operations: handlers.NewOperationsHandler(a.log),
		Sync:       handlers.NewSyncHandler(a.scheduler, a.engine),
		Cache:      handlers.NewCacheHandler(a.cache, a.monitor, fetcher),
	}
}

func newServeCmd(c *cli) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:     "serve",
		GroupID: "run",
		Short:   "Run the scheduler and the status API",
		Long: `Run the sync daemon.

The daemon probes connectivity, replays queued operations for every owner
when the backend becomes reachable and on a fixed interval, prunes the
snapshot cache, and serves the status API, /metrics and the /ws event stream.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.cfg.ValidateRemote(); err != nil {
				return err
			}
			if addr == "" {
				addr = c.cfg.Server.Addr
			}

			a, err := newApp(c.cfg, true)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if c.v.ConfigFileUsed() != "" {
				config.Watch(c.v, nil)
			}

			hub := NewWSHub()
			defer hub.Close()
			sub := hub.Attach(a.notifier)
			defer sub.Unsubscribe()

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", addr, err)
			}
			return serve(ctx, a, hub, ln)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	return cmd
}

// serve runs the scheduler and HTTP server until ctx is done.
func serve(ctx context.Context, a *app, hub *WSHub, ln net.Listener) error {
	a.scheduler.Start(ctx)
	defer a.scheduler.Stop()

	srv := &http.Server{
		Handler:           a.routes(hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("status API listening", map[string]interface{}{"addr": ln.Addr().String()})
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logging.Info("shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
