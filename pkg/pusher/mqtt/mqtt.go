// Package mqtt publishes one message per record to an upstream MQTT broker.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sguter90/edgegateway/pkg/models"
	"github.com/sguter90/edgegateway/pkg/pusher"
)

// Name is the transport identifier used in configuration
const Name = "mqtt"

// ErrPublishTimeout is returned when the broker does not acknowledge in time
var ErrPublishTimeout = errors.New("publish timed out")

// Config describes the upstream broker
type Config struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	// Topic may contain {deviceId}
	Topic     string
	QoS       byte
	GatewayID string
	UserUUID  string
	Timeout   time.Duration
	Delay     time.Duration
	Encoding  pusher.Encoding
}

// Pusher publishes records over MQTT. The connection is opened on the
// first push and reused afterwards.
type Pusher struct {
	cfg       Config
	mu        sync.Mutex
	client    paho.Client
	newClient func(*paho.ClientOptions) paho.Client
	now       func() time.Time
}

// Option configures a Pusher
type Option func(*Pusher)

// WithClientFactory replaces paho.NewClient
func WithClientFactory(factory func(*paho.ClientOptions) paho.Client) Option {
	return func(p *Pusher) {
		p.newClient = factory
	}
}

// New creates an MQTT pusher without connecting
func New(cfg Config, opts ...Option) *Pusher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Topic == "" {
		cfg.Topic = "gateway/" + cfg.GatewayID + "/data"
	}
	if cfg.Encoding == "" {
		cfg.Encoding = pusher.EncodingJSON
	}

	p := &Pusher{
		cfg:       cfg,
		newClient: paho.NewClient,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pusher) Name() string {
	return Name
}

// Push publishes each record separately and returns the ids the broker acknowledged
func (p *Pusher) Push(ctx context.Context, records []models.EnrichedRecord) ([]uuid.UUID, error) {
	if len(records) == 0 {
		return nil, nil
	}

	client, err := p.connection()
	if err != nil {
		return nil, err
	}

	return pusher.DeliverEach(ctx, records, p.cfg.Delay, func(ctx context.Context, rec models.EnrichedRecord) error {
		return p.publish(ctx, client, rec)
	})
}

func (p *Pusher) publish(ctx context.Context, client paho.Client, rec models.EnrichedRecord) error {
	msg := models.NewCloudMessage(p.cfg.GatewayID, p.cfg.UserUUID, rec, p.now())
	payload, err := p.cfg.Encoding.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	token := client.Publish(p.topicFor(rec), p.cfg.QoS, false, payload)

	timer := time.NewTimer(p.cfg.Timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return ErrPublishTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pusher) topicFor(rec models.EnrichedRecord) string {
	return strings.ReplaceAll(p.cfg.Topic, "{deviceId}", rec.Header.DeviceID)
}

// connection returns the shared client, connecting on first use
func (p *Pusher) connection() (paho.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil && p.client.IsConnectionOpen() {
		return p.client, nil
	}

	if p.client == nil {
		opts := paho.NewClientOptions().
			AddBroker(p.cfg.BrokerURL).
			SetClientID(p.cfg.ClientID).
			SetKeepAlive(60 * time.Second).
			SetConnectTimeout(p.cfg.Timeout).
			SetAutoReconnect(true).
			SetCleanSession(true)
		if p.cfg.Username != "" {
			opts.SetUsername(p.cfg.Username)
			opts.SetPassword(p.cfg.Password)
		}
		p.client = p.newClient(opts)
	}

	if p.client.IsConnected() {
		// auto-reconnect in progress
		return nil, fmt.Errorf("broker %s: connection is reconnecting", p.cfg.BrokerURL)
	}

	token := p.client.Connect()
	if !token.WaitTimeout(p.cfg.Timeout) {
		return nil, fmt.Errorf("connect to %s: %w", p.cfg.BrokerURL, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", p.cfg.BrokerURL, err)
	}

	return p.client, nil
}

// Close disconnects from the broker
func (p *Pusher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
	p.client = nil
	return nil
}
