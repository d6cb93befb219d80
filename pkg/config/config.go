// Package config loads gateway settings from an optional YAML file and the
// environment. Keys map to variables by upper-casing and replacing dots with
// underscores, so cloud.service_url is read from CLOUD_SERVICE_URL.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

const (
	TransportHTTP  = "http"
	TransportMQTT  = "mqtt"
	TransportKafka = "kafka"

	MaxSyncBatchSize = 1000
)

type Config struct {
	GatewayID string         `mapstructure:"gateway_id"`
	Server    ServerConfig   `mapstructure:"server"`
	Database  DatabaseConfig `mapstructure:"database"`
	Cloud     CloudConfig    `mapstructure:"cloud"`
	Data      DataConfig     `mapstructure:"data"`
	MQTT      MQTTConfig     `mapstructure:"mqtt"`
	Log       LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	APIKeys        []string `mapstructure:"api_keys"`
	APIKeyHashes   []string `mapstructure:"api_key_hashes"`
}

type DatabaseConfig struct {
	URL          string `mapstructure:"url"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type CloudConfig struct {
	Transport     string        `mapstructure:"transport"`
	ServiceURL    string        `mapstructure:"service_url"`
	APIKey        string        `mapstructure:"api_key"`
	JWTSecret     string        `mapstructure:"jwt_secret"`
	Gzip          bool          `mapstructure:"gzip"`
	UserUUID      string        `mapstructure:"user_uuid"`
	SyncBatchSize int           `mapstructure:"sync_batch_size"`
	SyncInterval  time.Duration `mapstructure:"sync_interval"`
	// SyncIntervalSecs is the older integer form; it wins when set
	SyncIntervalSecs int           `mapstructure:"sync_interval_secs"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MessageDelay     time.Duration `mapstructure:"message_delay"`
	Encoding         string        `mapstructure:"encoding"`
	MQTTBrokerURL    string        `mapstructure:"mqtt_broker_url"`
	MQTTTopic        string        `mapstructure:"mqtt_topic"`
	MQTTClientID     string        `mapstructure:"mqtt_client_id"`
	KafkaBrokers     []string      `mapstructure:"kafka_brokers"`
	KafkaTopic       string        `mapstructure:"kafka_topic"`
}

type DataConfig struct {
	RetentionDays int           `mapstructure:"retention_days"`
	PurgeInterval time.Duration `mapstructure:"purge_interval"`
}

type MQTTConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	BrokerHost string `mapstructure:"broker_host"`
	BrokerPort int    `mapstructure:"broker_port"`
	ClientID   string `mapstructure:"client_id"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway_id", "")

	v.SetDefault("server.port", 3000)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.api_keys", []string{})
	v.SetDefault("server.api_key_hashes", []string{})

	v.SetDefault("database.url", "sqlite://sensor_data.db")
	v.SetDefault("database.max_open_conns", 0)

	v.SetDefault("cloud.transport", TransportHTTP)
	v.SetDefault("cloud.service_url", "")
	v.SetDefault("cloud.api_key", "")
	v.SetDefault("cloud.jwt_secret", "")
	v.SetDefault("cloud.gzip", false)
	v.SetDefault("cloud.user_uuid", "")
	v.SetDefault("cloud.sync_batch_size", 50)
	v.SetDefault("cloud.sync_interval", "5m")
	v.SetDefault("cloud.sync_interval_secs", 0)
	v.SetDefault("cloud.timeout", "30s")
	v.SetDefault("cloud.message_delay", "50ms")
	v.SetDefault("cloud.encoding", "json")
	v.SetDefault("cloud.mqtt_broker_url", "")
	v.SetDefault("cloud.mqtt_topic", "")
	v.SetDefault("cloud.mqtt_client_id", "")
	v.SetDefault("cloud.kafka_brokers", []string{})
	v.SetDefault("cloud.kafka_topic", "")

	v.SetDefault("data.retention_days", 7)
	v.SetDefault("data.purge_interval", "1h")

	v.SetDefault("mqtt.enabled", true)
	v.SetDefault("mqtt.broker_host", "localhost")
	v.SetDefault("mqtt.broker_port", 1883)
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
}

// Load reads configuration. An empty path searches the usual locations;
// a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/edgegateway/")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.applyDerived()

	return &cfg, nil
}

func (c *Config) applyDerived() {
	if c.GatewayID == "" {
		c.GatewayID = "gateway-" + uuid.NewString()
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "env_edge_gateway_rpi-" + c.GatewayID
	}
	if c.Cloud.MQTTClientID == "" {
		c.Cloud.MQTTClientID = c.GatewayID + "-uplink"
	}
	if c.Cloud.SyncIntervalSecs > 0 {
		c.Cloud.SyncInterval = time.Duration(c.Cloud.SyncIntervalSecs) * time.Second
	}
	c.Cloud.Transport = strings.ToLower(strings.TrimSpace(c.Cloud.Transport))
	c.Server.AllowedOrigins = splitList(c.Server.AllowedOrigins)
	c.Server.APIKeys = splitList(c.Server.APIKeys)
	c.Server.APIKeyHashes = splitList(c.Server.APIKeyHashes)
	c.Cloud.KafkaBrokers = splitList(c.Cloud.KafkaBrokers)
}

// splitList accepts both YAML lists and comma separated env values
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// Validate checks settings the gateway cannot start without
func (c *Config) Validate() error {
	var errs []error

	switch c.Cloud.Transport {
	case TransportHTTP:
		if c.Cloud.ServiceURL == "" {
			errs = append(errs, errors.New("cloud.service_url is required for the http transport"))
		}
	case TransportMQTT:
		if c.Cloud.MQTTBrokerURL == "" {
			errs = append(errs, errors.New("cloud.mqtt_broker_url is required for the mqtt transport"))
		}
	case TransportKafka:
		if len(c.Cloud.KafkaBrokers) == 0 || c.Cloud.KafkaTopic == "" {
			errs = append(errs, errors.New("cloud.kafka_brokers and cloud.kafka_topic are required for the kafka transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cloud.transport %q", c.Cloud.Transport))
	}

	if c.Cloud.SyncBatchSize < 1 || c.Cloud.SyncBatchSize > MaxSyncBatchSize {
		errs = append(errs, fmt.Errorf("cloud.sync_batch_size must be between 1 and %d", MaxSyncBatchSize))
	}
	if c.Cloud.SyncInterval <= 0 {
		errs = append(errs, errors.New("cloud.sync_interval must be positive"))
	}
	if c.Cloud.Timeout <= 0 {
		errs = append(errs, errors.New("cloud.timeout must be positive"))
	}
	if c.Cloud.MessageDelay < 0 {
		errs = append(errs, errors.New("cloud.message_delay must not be negative"))
	}
	if c.Data.RetentionDays < 0 {
		errs = append(errs, errors.New("data.retention_days must not be negative"))
	}
	if c.Data.PurgeInterval <= 0 {
		errs = append(errs, errors.New("data.purge_interval must be positive"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	if c.MQTT.Enabled && c.MQTT.BrokerHost == "" {
		errs = append(errs, errors.New("mqtt.broker_host is required when mqtt is enabled"))
	}

	return errors.Join(errs...)
}
