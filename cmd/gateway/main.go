package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/sguter90/edgegateway/pkg/config"
	"github.com/sguter90/edgegateway/pkg/logging"
	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

type contextKey string

const appContextKey contextKey = "app"

// App carries what every command needs
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	logCloser io.Closer
}

var configPath string

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Edge telemetry gateway",
	Long: `Edge gateway that receives sensor readings over HTTP and MQTT, enriches
them locally, stores them in a durable queue and forwards them to the
collection service.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadApp,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if app := appFrom(cmd); app != nil && app.logCloser != nil {
			app.logCloser.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: ./config.yaml, ./config/config.yaml, /etc/edgegateway/config.yaml)")
}

func loadApp(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, closer, err := logging.New(os.Stderr, logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return err
	}

	app := &App{Config: cfg, Logger: logger.With("gateway_id", cfg.GatewayID), logCloser: closer}
	cmd.SetContext(context.WithValue(cmd.Context(), appContextKey, app))
	return nil
}

func appFrom(cmd *cobra.Command) *App {
	app, _ := cmd.Context().Value(appContextKey).(*App)
	return app
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
