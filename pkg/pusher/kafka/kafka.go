// Package kafka writes one message per record to a Kafka topic, keyed by device id.
package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/sguter90/edgegateway/pkg/models"
	"github.com/sguter90/edgegateway/pkg/pusher"
)

// Name is the transport identifier used in configuration
const Name = "kafka"

// Config describes the upstream cluster
type Config struct {
	Brokers   []string
	Topic     string
	GatewayID string
	UserUUID  string
	Timeout   time.Duration
	Delay     time.Duration
	Encoding  pusher.Encoding
}

// MessageWriter is the subset of kafka.Writer the pusher needs
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Pusher writes records to Kafka. The writer is created on first push.
type Pusher struct {
	cfg       Config
	mu        sync.Mutex
	writer    MessageWriter
	newWriter func(Config) MessageWriter
	now       func() time.Time
}

// Option configures a Pusher
type Option func(*Pusher)

// WithWriterFactory replaces the default kafka.Writer construction
func WithWriterFactory(factory func(Config) MessageWriter) Option {
	return func(p *Pusher) {
		p.newWriter = factory
	}
}

// New creates a Kafka pusher without dialing the cluster
func New(cfg Config, opts ...Option) *Pusher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Encoding == "" {
		cfg.Encoding = pusher.EncodingJSON
	}

	p := &Pusher{
		cfg:       cfg,
		newWriter: newKafkaWriter,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func newKafkaWriter(cfg Config) MessageWriter {
	return &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireOne,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.Timeout,
		MaxAttempts:  1,
	}
}

func (p *Pusher) Name() string {
	return Name
}

// Push writes each record as its own message and returns the ids that were acknowledged
func (p *Pusher) Push(ctx context.Context, records []models.EnrichedRecord) ([]uuid.UUID, error) {
	if len(records) == 0 {
		return nil, nil
	}
	if len(p.cfg.Brokers) == 0 || p.cfg.Topic == "" {
		return nil, fmt.Errorf("kafka brokers and topic must be configured")
	}

	writer := p.getWriter()

	return pusher.DeliverEach(ctx, records, p.cfg.Delay, func(ctx context.Context, rec models.EnrichedRecord) error {
		msg := models.NewCloudMessage(p.cfg.GatewayID, p.cfg.UserUUID, rec, p.now())
		payload, err := p.cfg.Encoding.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to encode message: %w", err)
		}

		writeCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()

		return writer.WriteMessages(writeCtx, kafkago.Message{
			Key:   []byte(rec.Header.DeviceID),
			Value: payload,
			Headers: []kafkago.Header{
				{Key: "content-type", Value: []byte(p.cfg.Encoding.ContentType())},
				{Key: "gateway-id", Value: []byte(p.cfg.GatewayID)},
			},
		})
	})
}

func (p *Pusher) getWriter() MessageWriter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.writer == nil {
		p.writer = p.newWriter(p.cfg)
	}
	return p.writer
}

// Close flushes and closes the writer
func (p *Pusher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.writer == nil {
		return nil
	}
	err := p.writer.Close()
	p.writer = nil
	return err
}
