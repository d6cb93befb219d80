// Package parser decodes inbound sensor payloads into raw readings.
package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sguter90/edgegateway/pkg/models"
)

// ErrMalformedPayload is returned when a body is not a recognizable reading
var ErrMalformedPayload = errors.New("malformed payload")

// Parser decodes one payload shape
type Parser interface {
	// Format returns the shape identifier
	Format() string

	// Detect reports whether the top-level object has this shape
	Detect(fields map[string]json.RawMessage) bool

	// Parse converts the object to a RawReading
	Parse(data []byte) (models.RawReading, error)
}

// Registry holds the known payload shapes in detection order
type Registry struct {
	parsers []Parser
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{}
}

// NewDefaultRegistry knows the canonical header/metrics shape and the legacy flat shape
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(&Canonical{})
	r.Register(&Flat{})
	return r
}

// Register adds a parser. Earlier registrations win detection.
func (r *Registry) Register(p Parser) {
	r.parsers = append(r.parsers, p)
}

// Get retrieves a parser by format
func (r *Registry) Get(format string) (Parser, bool) {
	for _, p := range r.parsers {
		if p.Format() == format {
			return p, true
		}
	}
	return nil, false
}

// Formats lists the registered formats
func (r *Registry) Formats() []string {
	out := make([]string, len(r.parsers))
	for i, p := range r.parsers {
		out[i] = p.Format()
	}
	return out
}

// ParseReading decodes a single reading of any registered shape
func (r *Registry) ParseReading(data []byte) (models.RawReading, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return models.RawReading{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if fields == nil {
		return models.RawReading{}, fmt.Errorf("%w: expected a JSON object", ErrMalformedPayload)
	}

	for _, p := range r.parsers {
		if !p.Detect(fields) {
			continue
		}
		raw, err := p.Parse(data)
		if err != nil {
			return models.RawReading{}, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, p.Format(), err)
		}
		return raw, nil
	}
	return models.RawReading{}, fmt.Errorf("%w: unrecognized reading shape", ErrMalformedPayload)
}

// ParseBatch decodes {"readings": [...]} or a bare JSON array
func (r *Registry) ParseBatch(data []byte) ([]models.RawReading, error) {
	var items []json.RawMessage

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
	} else {
		var envelope struct {
			Readings []json.RawMessage `json:"readings"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		if envelope.Readings == nil {
			return nil, fmt.Errorf("%w: missing readings", ErrMalformedPayload)
		}
		items = envelope.Readings
	}

	readings := make([]models.RawReading, 0, len(items))
	for i, item := range items {
		raw, err := r.ParseReading(item)
		if err != nil {
			return nil, fmt.Errorf("readings[%d]: %w", i, err)
		}
		readings = append(readings, raw)
	}
	return readings, nil
}
