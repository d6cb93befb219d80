// Package httpbatch posts pending records to the collection service as a
// single JSON batch. Delivery is all or nothing.
package httpbatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/sguter90/edgegateway/pkg/models"
)

// Name is the transport identifier used in configuration
const Name = "http"

// Config describes the remote endpoint
type Config struct {
	URL            string
	APIKey         string
	JWTSecret      string
	GatewayID      string
	GatewayVersion string
	Gzip           bool
	Timeout        time.Duration
}

// Pusher sends batches over HTTP
type Pusher struct {
	cfg        Config
	httpClient *http.Client
	now        func() time.Time
}

// Option configures a Pusher
type Option func(*Pusher)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) Option {
	return func(p *Pusher) {
		p.httpClient = httpClient
	}
}

// WithClock overrides the time source for sent_at and token claims
func WithClock(now func() time.Time) Option {
	return func(p *Pusher) {
		p.now = now
	}
}

// New creates an HTTP batch pusher
func New(cfg Config, opts ...Option) *Pusher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	p := &Pusher{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pusher) Name() string {
	return Name
}

// Push posts all records in one request and reports all of them as
// delivered on a 2xx response, none otherwise.
func (p *Pusher) Push(ctx context.Context, records []models.EnrichedRecord) ([]uuid.UUID, error) {
	if len(records) == 0 {
		return nil, nil
	}

	batch := models.NewCloudBatch(p.cfg.GatewayID, p.cfg.GatewayVersion, records, p.now())
	body, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := p.newRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", p.cfg.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("collection service returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	io.Copy(io.Discard, resp.Body)

	ids := make([]uuid.UUID, len(records))
	for i := range records {
		ids[i] = records[i].ID
	}
	return ids, nil
}

func (p *Pusher) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	var reader io.Reader = bytes.NewReader(body)
	if p.cfg.Gzip {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(body); err != nil {
			return nil, fmt.Errorf("failed to compress batch: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("failed to compress batch: %w", err)
		}
		reader = &buf
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Gateway-ID", p.cfg.GatewayID)
	if p.cfg.Gzip {
		req.Header.Set("Content-Encoding", "gzip")
	}

	token, err := p.bearerToken()
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return req, nil
}

// bearerToken returns a short-lived signed token when a JWT secret is
// configured, the static API key otherwise.
func (p *Pusher) bearerToken() (string, error) {
	if p.cfg.JWTSecret == "" {
		return p.cfg.APIKey, nil
	}

	now := p.now()
	claims := jwt.RegisteredClaims{
		Issuer:    "edgegateway",
		Subject:   p.cfg.GatewayID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(p.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Close releases idle connections
func (p *Pusher) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}
