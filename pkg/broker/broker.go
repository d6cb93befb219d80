// Package broker subscribes to sensor topics on the local MQTT broker and
// feeds every message through the ingest path.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sguter90/edgegateway/pkg/ingest"
	"github.com/sguter90/edgegateway/pkg/models"
	"github.com/sguter90/edgegateway/pkg/parser"
)

const (
	TopicData  = "sensors/+/data"
	TopicBatch = "sensors/+/batch"

	kindData  = "data"
	kindBatch = "batch"
)

// Config describes the local broker connection
type Config struct {
	Host           string
	Port           int
	ClientID       string
	Username       string
	Password       string
	ConnectTimeout time.Duration
	HandleTimeout  time.Duration
}

// Ingester is the shared ingest path
type Ingester interface {
	IngestOne(ctx context.Context, source ingest.Source, raw models.RawReading) (models.EnrichedRecord, error)
	IngestBatch(ctx context.Context, source ingest.Source, raws []models.RawReading) (ingest.BatchSummary, error)
	Reject(source ingest.Source, err error)
}

// Subscriber owns the broker connection
type Subscriber struct {
	cfg       Config
	ingest    Ingester
	parsers   *parser.Registry
	logger    *slog.Logger
	newClient func(*paho.ClientOptions) paho.Client

	mu     sync.RWMutex
	client paho.Client
	ctx    context.Context
}

type Option func(*Subscriber)

// WithClientFactory replaces paho.NewClient
func WithClientFactory(factory func(*paho.ClientOptions) paho.Client) Option {
	return func(s *Subscriber) {
		s.newClient = factory
	}
}

func New(cfg Config, ingester Ingester, parsers *parser.Registry, logger *slog.Logger, opts ...Option) *Subscriber {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.HandleTimeout <= 0 {
		cfg.HandleTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Subscriber{
		cfg:       cfg,
		ingest:    ingester,
		parsers:   parsers,
		logger:    logger,
		newClient: paho.NewClient,
		ctx:       context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run connects, subscribes and blocks until ctx is done. A failed initial
// connection is returned as an error; later outages are handled by paho's
// reconnect and the subscriptions are restored in the connect handler.
func (s *Subscriber) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	opts := paho.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", s.cfg.Host, s.cfg.Port)).
		SetClientID(s.cfg.ClientID).
		SetKeepAlive(60 * time.Second).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(time.Minute).
		SetOrderMatters(false).
		SetConnectTimeout(s.cfg.ConnectTimeout).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			s.logger.Warn("broker connection lost", "error", err)
		}).
		SetReconnectingHandler(func(_ paho.Client, _ *paho.ClientOptions) {
			s.logger.Info("reconnecting to broker")
		})
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}

	client := s.newClient(opts)

	s.logger.Info("connecting to broker", "host", s.cfg.Host, "port", s.cfg.Port, "client_id", s.cfg.ClientID)

	token := client.Connect()
	if !token.WaitTimeout(s.cfg.ConnectTimeout) {
		client.Disconnect(0)
		return fmt.Errorf("timed out connecting to broker %s:%d", s.cfg.Host, s.cfg.Port)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to broker %s:%d: %w", s.cfg.Host, s.cfg.Port, err)
	}

	s.mu.Lock()
	s.client = client
	s.mu.Unlock()

	<-ctx.Done()

	s.logger.Info("disconnecting from broker")
	client.Disconnect(250)
	return nil
}

// IsConnected reports the broker connection state
func (s *Subscriber) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client != nil && s.client.IsConnectionOpen()
}

func (s *Subscriber) onConnect(client paho.Client) {
	filters := map[string]byte{TopicData: 1, TopicBatch: 1}

	token := client.SubscribeMultiple(filters, s.handleMessage)
	if !token.WaitTimeout(s.cfg.ConnectTimeout) {
		s.logger.Error("timed out subscribing to sensor topics")
		return
	}
	if err := token.Error(); err != nil {
		s.logger.Error("failed to subscribe to sensor topics", "error", err)
		return
	}
	s.logger.Info("subscribed to sensor topics", "topics", []string{TopicData, TopicBatch})
}

// ParseTopic extracts the device id and message kind from sensors/{id}/{kind}
func ParseTopic(topic string) (deviceID, kind string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "sensors" || parts[1] == "" {
		return "", "", false
	}
	switch parts[2] {
	case kindData, kindBatch:
		return parts[1], parts[2], true
	}
	return "", "", false
}

func (s *Subscriber) handleMessage(client paho.Client, msg paho.Message) {
	deviceID, kind, ok := ParseTopic(msg.Topic())
	if !ok {
		s.logger.Warn("ignoring message on unexpected topic", "topic", msg.Topic())
		return
	}

	s.mu.RLock()
	base := s.ctx
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(base, s.cfg.HandleTimeout)
	defer cancel()

	switch kind {
	case kindData:
		s.handleData(ctx, client, deviceID, msg)
	case kindBatch:
		s.handleBatch(ctx, client, deviceID, msg)
	}
}

func (s *Subscriber) handleData(ctx context.Context, client paho.Client, deviceID string, msg paho.Message) {
	raw, err := s.parsers.ParseReading(msg.Payload())
	if err != nil {
		s.ingest.Reject(ingest.SourceMQTT, err)
		s.logger.Warn("dropping malformed reading", "topic", msg.Topic(), "error", err)
		return
	}
	raw.Header.DeviceID = deviceID
	if raw.Header.Topic == "" {
		raw.Header.Topic = msg.Topic()
	}

	rec, err := s.ingest.IngestOne(ctx, ingest.SourceMQTT, raw)
	if err != nil {
		s.logger.Warn("dropping reading", "topic", msg.Topic(), "error", err)
		return
	}
	if rec.Computed.IsAnomaly {
		s.logger.Warn("anomaly detected", "device_id", deviceID, "id", rec.ID)
	}

	s.acknowledge(client, fmt.Sprintf("sensors/%s/processed", deviceID), ingest.NewReadingAck(rec))
}

type batchAck struct {
	Status              string  `json:"status"`
	ProcessedCount      int     `json:"processed_count"`
	AnomaliesDetected   int     `json:"anomalies_detected"`
	AverageQualityScore float64 `json:"average_quality_score"`
}

func (s *Subscriber) handleBatch(ctx context.Context, client paho.Client, deviceID string, msg paho.Message) {
	raws, err := s.parsers.ParseBatch(msg.Payload())
	if err != nil {
		s.ingest.Reject(ingest.SourceMQTT, err)
		s.logger.Warn("dropping malformed batch", "topic", msg.Topic(), "error", err)
		return
	}
	for i := range raws {
		raws[i].Header.DeviceID = deviceID
		if raws[i].Header.Topic == "" {
			raws[i].Header.Topic = msg.Topic()
		}
	}

	summary, err := s.ingest.IngestBatch(ctx, ingest.SourceMQTT, raws)
	if err != nil {
		s.logger.Warn("dropping batch", "topic", msg.Topic(), "error", err)
		return
	}

	s.acknowledge(client, fmt.Sprintf("sensors/%s/batch_processed", deviceID), batchAck{
		Status:              "success",
		ProcessedCount:      summary.ProcessedCount,
		AnomaliesDetected:   summary.AnomaliesDetected,
		AverageQualityScore: summary.AverageQualityScore,
	})
}

// acknowledge publishes at most once; failures are only logged
func (s *Subscriber) acknowledge(client paho.Client, topic string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to encode acknowledgment", "topic", topic, "error", err)
		return
	}

	token := client.Publish(topic, 0, false, body)
	if !token.WaitTimeout(5 * time.Second) {
		s.logger.Warn("acknowledgment publish timed out", "topic", topic)
		return
	}
	if err := token.Error(); err != nil {
		s.logger.Warn("failed to publish acknowledgment", "topic", topic, "error", err)
	}
}
