package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"agentboard/internal/api"
	"agentboard/internal/feed"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the leaderboard API and run the capture scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "HTTP listen address")
}

func runServe(ctx context.Context) error {
	st, cleanup, err := openStores(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer cleanup()

	a, err := newApp(cfg, st, logger)
	if err != nil {
		return err
	}

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	ln, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.HTTP.Addr, err)
	}
	return serve(ctx, a, ln, logger)
}

// serve runs the API on ln next to the live refresher, the feed hub and
// the capture scheduler, whose startup capture runs in the background.
func serve(ctx context.Context, a *app, ln net.Listener, logger *zap.Logger) error {
	hub := feed.NewHub(feed.Options{Logger: logger})
	a.live.OnRefresh(hub.Broadcast)

	srv := &http.Server{
		Handler: api.NewServer(api.Options{
			Board:    a.board,
			History:  a.history,
			Store:    a.stores.captures,
			Capturer: a.scheduler,
			Live:     a.live,
			Feed:     hub,
			Logger:   logger,
		}).SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.live.Run(gctx) })
	g.Go(func() error {
		if _, err := a.scheduler.Startup(gctx); err != nil {
			logger.Warn("startup capture failed", zap.Error(err))
		}
		return a.scheduler.Run(gctx)
	})
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	logger.Info("shutdown complete")
	return err
}
