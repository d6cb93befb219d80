package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/sguter90/edgegateway/pkg/config"
	"github.com/sguter90/edgegateway/pkg/pusher"
	"github.com/sguter90/edgegateway/pkg/pusher/httpbatch"
	"github.com/sguter90/edgegateway/pkg/pusher/kafka"
	"github.com/sguter90/edgegateway/pkg/pusher/mqtt"
)

// RegistryManager holds every transport that has enough configuration to
// be built, and the one selected by cloud.transport
type RegistryManager struct {
	PusherRegistry *pusher.Registry
	Active         pusher.Pusher
}

func InitRegistryManager(cfg *config.Config, logger *slog.Logger) (*RegistryManager, error) {
	registry := pusher.NewRegistry()

	encoding, err := pusher.ParseEncoding(cfg.Cloud.Encoding)
	if err != nil {
		return nil, err
	}

	if cfg.Cloud.ServiceURL != "" {
		registry.Register(httpbatch.New(httpbatch.Config{
			URL:            cfg.Cloud.ServiceURL,
			APIKey:         cfg.Cloud.APIKey,
			JWTSecret:      cfg.Cloud.JWTSecret,
			GatewayID:      cfg.GatewayID,
			GatewayVersion: version,
			Gzip:           cfg.Cloud.Gzip,
			Timeout:        cfg.Cloud.Timeout,
		}))
	}

	if cfg.Cloud.MQTTBrokerURL != "" {
		registry.Register(mqtt.New(mqtt.Config{
			BrokerURL: cfg.Cloud.MQTTBrokerURL,
			ClientID:  cfg.Cloud.MQTTClientID,
			Topic:     cfg.Cloud.MQTTTopic,
			QoS:       1,
			GatewayID: cfg.GatewayID,
			UserUUID:  cfg.Cloud.UserUUID,
			Timeout:   cfg.Cloud.Timeout,
			Delay:     cfg.Cloud.MessageDelay,
			Encoding:  encoding,
		}))
	}

	if len(cfg.Cloud.KafkaBrokers) > 0 {
		registry.Register(kafka.New(kafka.Config{
			Brokers:   cfg.Cloud.KafkaBrokers,
			Topic:     cfg.Cloud.KafkaTopic,
			GatewayID: cfg.GatewayID,
			UserUUID:  cfg.Cloud.UserUUID,
			Timeout:   cfg.Cloud.Timeout,
			Delay:     cfg.Cloud.MessageDelay,
			Encoding:  encoding,
		}))
	}

	active, ok := registry.Get(cfg.Cloud.Transport)
	if !ok {
		registry.CloseAll()
		return nil, fmt.Errorf("cloud transport %q is not configured (available: %v)", cfg.Cloud.Transport, registry.Names())
	}

	logger.Info("cloud transport selected",
		"transport", active.Name(),
		"configured", registry.Names(),
		"timeout", cfg.Cloud.Timeout.Round(time.Millisecond),
	)

	return &RegistryManager{
		PusherRegistry: registry,
		Active:         active,
	}, nil
}

func (rm *RegistryManager) Close() error {
	return rm.PusherRegistry.CloseAll()
}
