package parser

import (
	"encoding/json"

	"github.com/sguter90/edgegateway/pkg/models"
)

// Flat parses the fixed-field shape sent by older firmware:
// {"sensor_id": "...", "temperature": 21.5, "humidity": 40, ...}
type Flat struct{}

func (p *Flat) Format() string {
	return "flat"
}

func (p *Flat) Detect(fields map[string]json.RawMessage) bool {
	_, ok := fields["sensor_id"]
	return ok
}

func (p *Flat) Parse(data []byte) (models.RawReading, error) {
	var flat models.FlatReading
	if err := json.Unmarshal(data, &flat); err != nil {
		return models.RawReading{}, err
	}
	return flat.ToRaw(), nil
}
