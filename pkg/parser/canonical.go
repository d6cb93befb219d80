package parser

import (
	"encoding/json"
	"errors"

	"github.com/sguter90/edgegateway/pkg/models"
)

// Canonical parses {"header": {...}, "metrics": [...]}
type Canonical struct{}

func (p *Canonical) Format() string {
	return "canonical"
}

func (p *Canonical) Detect(fields map[string]json.RawMessage) bool {
	_, ok := fields["header"]
	return ok
}

func (p *Canonical) Parse(data []byte) (models.RawReading, error) {
	var raw models.RawReading
	if err := json.Unmarshal(data, &raw); err != nil {
		return models.RawReading{}, err
	}
	if raw.Metrics == nil {
		return models.RawReading{}, errors.New("missing metrics")
	}
	return raw, nil
}
