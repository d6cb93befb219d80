package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if !strings.HasPrefix(cfg.GatewayID, "gateway-") {
		t.Errorf("Expected generated gateway id, got %s", cfg.GatewayID)
	}
	if cfg.MQTT.ClientID != "env_edge_gateway_rpi-"+cfg.GatewayID {
		t.Errorf("Unexpected mqtt client id %s", cfg.MQTT.ClientID)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Expected port 3000, got %d", cfg.Server.Port)
	}
	if cfg.Database.URL != "sqlite://sensor_data.db" {
		t.Errorf("Unexpected database url %s", cfg.Database.URL)
	}
	if cfg.Cloud.SyncBatchSize != 50 {
		t.Errorf("Expected batch size 50, got %d", cfg.Cloud.SyncBatchSize)
	}
	if cfg.Cloud.SyncInterval != 5*time.Minute {
		t.Errorf("Expected 5m interval, got %v", cfg.Cloud.SyncInterval)
	}
	if cfg.Cloud.Timeout != 30*time.Second {
		t.Errorf("Expected 30s timeout, got %v", cfg.Cloud.Timeout)
	}
	if cfg.Data.RetentionDays != 7 {
		t.Errorf("Expected 7 retention days, got %d", cfg.Data.RetentionDays)
	}
	if !cfg.MQTT.Enabled || cfg.MQTT.BrokerPort != 1883 {
		t.Errorf("Unexpected mqtt settings %+v", cfg.MQTT)
	}

	// no cloud endpoint configured
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error without cloud.service_url")
	}
}

func TestLoad_Environment(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("GATEWAY_ID", "gw-env")
	t.Setenv("CLOUD_SERVICE_URL", "https://cloud.example/ingest")
	t.Setenv("CLOUD_API_KEY", "secret")
	t.Setenv("CLOUD_SYNC_BATCH_SIZE", "25")
	t.Setenv("CLOUD_SYNC_INTERVAL_SECS", "60")
	t.Setenv("SERVER_API_KEYS", "k1, k2")
	t.Setenv("MQTT_ENABLED", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.GatewayID != "gw-env" {
		t.Errorf("Expected gw-env, got %s", cfg.GatewayID)
	}
	if cfg.Cloud.ServiceURL != "https://cloud.example/ingest" || cfg.Cloud.APIKey != "secret" {
		t.Errorf("Unexpected cloud config %+v", cfg.Cloud)
	}
	if cfg.Cloud.SyncBatchSize != 25 {
		t.Errorf("Expected batch size 25, got %d", cfg.Cloud.SyncBatchSize)
	}
	if cfg.Cloud.SyncInterval != time.Minute {
		t.Errorf("Expected legacy seconds to win, got %v", cfg.Cloud.SyncInterval)
	}
	if len(cfg.Server.APIKeys) != 2 || cfg.Server.APIKeys[1] != "k2" {
		t.Errorf("Expected two api keys, got %v", cfg.Server.APIKeys)
	}
	if cfg.MQTT.Enabled {
		t.Error("Expected mqtt to be disabled")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	content := `
gateway_id: gw-file
cloud:
  transport: kafka
  kafka_brokers:
    - kafka-1:9092
    - kafka-2:9092
  kafka_topic: telemetry
  sync_interval: 90s
server:
  port: 8080
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.GatewayID != "gw-file" || cfg.Server.Port != 8080 {
		t.Errorf("Unexpected config %+v", cfg)
	}
	if cfg.Cloud.Transport != TransportKafka || len(cfg.Cloud.KafkaBrokers) != 2 {
		t.Errorf("Unexpected cloud config %+v", cfg.Cloud)
	}
	if cfg.Cloud.SyncInterval != 90*time.Second {
		t.Errorf("Expected 90s, got %v", cfg.Cloud.SyncInterval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("Expected error for explicit missing file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{Port: 3000},
			Cloud:    CloudConfig{Transport: TransportHTTP, ServiceURL: "http://x", SyncBatchSize: 50, SyncInterval: time.Minute, Timeout: time.Second},
			Data:     DataConfig{RetentionDays: 7, PurgeInterval: time.Hour},
			MQTT:     MQTTConfig{Enabled: true, BrokerHost: "localhost"},
			Database: DatabaseConfig{URL: "sqlite://x.db"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"batch size zero", func(c *Config) { c.Cloud.SyncBatchSize = 0 }, true},
		{"batch size too large", func(c *Config) { c.Cloud.SyncBatchSize = 1001 }, true},
		{"batch size max", func(c *Config) { c.Cloud.SyncBatchSize = 1000 }, false},
		{"zero interval", func(c *Config) { c.Cloud.SyncInterval = 0 }, true},
		{"unknown transport", func(c *Config) { c.Cloud.Transport = "carrier-pigeon" }, true},
		{"mqtt without broker", func(c *Config) { c.Cloud.Transport = TransportMQTT }, true},
		{"mqtt with broker", func(c *Config) { c.Cloud.Transport = TransportMQTT; c.Cloud.MQTTBrokerURL = "tcp://b:1883" }, false},
		{"kafka without topic", func(c *Config) { c.Cloud.Transport = TransportKafka; c.Cloud.KafkaBrokers = []string{"k:9092"} }, true},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, true},
		{"ingest broker disabled", func(c *Config) { c.MQTT = MQTTConfig{} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir for Go < 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatalf("restore working directory: %v", err)
		}
	})
}
