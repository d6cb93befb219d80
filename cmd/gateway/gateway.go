package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/sguter90/edgegateway/pkg/broker"
	"github.com/sguter90/edgegateway/pkg/cloudsync"
	"github.com/sguter90/edgegateway/pkg/config"
	"github.com/sguter90/edgegateway/pkg/database"
	"github.com/sguter90/edgegateway/pkg/ingest"
	"github.com/sguter90/edgegateway/pkg/livefeed"
	"github.com/sguter90/edgegateway/pkg/metrics"
	"github.com/sguter90/edgegateway/pkg/parser"
	"github.com/sguter90/edgegateway/pkg/processor"
)

// Gateway holds the single shared instance of every component
type Gateway struct {
	cfg    *config.Config
	logger *slog.Logger

	dbManager    *database.DatabaseManager
	registry     *RegistryManager
	synchronizer *cloudsync.Synchronizer
	ingest       *ingest.Service
	parsers      *parser.Registry
	metrics      *metrics.Metrics
	hub          *livefeed.Hub
	subscriber   *broker.Subscriber
}

func openDatabase(cfg *config.Config, logger *slog.Logger) (*database.DatabaseManager, error) {
	dbManager, err := database.NewDatabaseManager(database.Config{
		URL:          cfg.Database.URL,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := dbManager.Init(); err != nil {
		dbManager.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return dbManager, nil
}

// newSynchronizer opens the outbound transport and wraps it in a synchronizer
func newSynchronizer(cfg *config.Config, dbManager *database.DatabaseManager, logger *slog.Logger, opts ...cloudsync.Option) (*cloudsync.Synchronizer, *RegistryManager, error) {
	registry, err := InitRegistryManager(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	opts = append([]cloudsync.Option{cloudsync.WithLogger(logger.With("component", "cloud_sync"))}, opts...)
	s := cloudsync.NewSynchronizer(dbManager, registry.Active, cfg.Cloud.SyncBatchSize, opts...)
	return s, registry, nil
}

// newGateway wires the components for `gateway serve`
func newGateway(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dbManager, err := openDatabase(cfg, logger.With("component", "database"))
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	hub := livefeed.NewHub(logger.With("component", "live_feed"), cfg.Server.AllowedOrigins)

	synchronizer, registry, err := newSynchronizer(cfg, dbManager, logger,
		cloudsync.WithObserver(func(res cloudsync.Result) {
			m.SyncCycle(string(res.Trigger), res.Synced, res.Failed, res.Duration, res.OK())
			hub.Publish(livefeed.EventSync, res)
		}),
	)
	if err != nil {
		dbManager.Close()
		return nil, err
	}

	ingestService := ingest.NewService(dbManager, processor.New(), synchronizer,
		ingest.WithFeed(hub),
		ingest.WithMetrics(m),
		ingest.WithLogger(logger.With("component", "ingest")),
	)

	gw := &Gateway{
		cfg:          cfg,
		logger:       logger,
		dbManager:    dbManager,
		registry:     registry,
		synchronizer: synchronizer,
		ingest:       ingestService,
		parsers:      parser.NewDefaultRegistry(),
		metrics:      m,
		hub:          hub,
	}

	if cfg.MQTT.Enabled {
		gw.subscriber = broker.New(broker.Config{
			Host:     cfg.MQTT.BrokerHost,
			Port:     cfg.MQTT.BrokerPort,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		}, ingestService, gw.parsers, logger.With("component", "broker"))
	}

	return gw, nil
}

// Close stops background sync work and releases connections
func (gw *Gateway) Close() error {
	gw.synchronizer.Close()
	return errors.Join(gw.registry.Close(), gw.dbManager.Close())
}
