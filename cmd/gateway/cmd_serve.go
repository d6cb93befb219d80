package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sguter90/edgegateway/pkg/cloudsync"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway",
	Long: `Start the HTTP ingestion API, the MQTT subscriber (when enabled), the
periodic cloud sync and the retention purger.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	app := appFrom(cmd)
	cfg, logger := app.Config, app.Logger

	gw, err := newGateway(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := gw.Close(); err != nil {
			logger.Error("failed to close gateway", "error", err)
		}
	}()

	routeManager, err := NewRouteManager(gw)
	if err != nil {
		return err
	}
	routeManager.Setup()

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           routeManager.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		return gw.hub.Run(ctx)
	})

	g.Go(func() error {
		return cloudsync.NewService(gw.synchronizer, cfg.Cloud.SyncInterval, logger.With("component", "cloud_sync")).Run(ctx)
	})

	if cfg.Data.RetentionDays > 0 {
		purger := cloudsync.NewPurger(gw.dbManager, cfg.Data.RetentionDays, cfg.Data.PurgeInterval,
			logger.With("component", "retention"), gw.metrics.RecordsPurged)
		g.Go(func() error {
			return purger.Run(ctx)
		})
	}

	if gw.subscriber != nil {
		g.Go(func() error {
			return gw.subscriber.Run(ctx)
		})
	}

	logger.Info("gateway started",
		"version", version,
		"transport", gw.synchronizer.TransportName(),
		"sync_interval", cfg.Cloud.SyncInterval,
		"sync_batch_size", gw.synchronizer.BatchSize(),
		"mqtt", cfg.MQTT.Enabled,
	)

	return g.Wait()
}
