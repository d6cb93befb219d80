package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxDeviceIDLength    = 50
	MaxLocationLength    = 200
	MaxMeasurementLength = 100
	MaxBatchSize         = 100
)

// SensorHeader identifies the device that produced a reading
type SensorHeader struct {
	UserUUID      string `json:"userUUID,omitempty"`
	DeviceID      string `json:"deviceId"`
	Location      string `json:"location"`
	Topic         string `json:"topic"`
	ShouldRequeue bool   `json:"shouldRequeue"`
}

// SensorMetric is a single named measurement
type SensorMetric struct {
	Measurement string  `json:"measurement"`
	Value       float64 `json:"value"`
}

// MarshalJSON writes non-finite values as strings since JSON numbers cannot carry them
func (m SensorMetric) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Measurement string `json:"measurement"`
		Value       any    `json:"value"`
	}{m.Measurement, encodeFloat(m.Value)})
}

func (m *SensorMetric) UnmarshalJSON(data []byte) error {
	var aux struct {
		Measurement string          `json:"measurement"`
		Value       json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	value, err := decodeFloat(aux.Value)
	if err != nil {
		return fmt.Errorf("metric %q: %w", aux.Measurement, err)
	}
	m.Measurement = aux.Measurement
	m.Value = value
	return nil
}

// RawReading is a reading as received from a device, before enrichment
type RawReading struct {
	Header  SensorHeader   `json:"header"`
	Metrics []SensorMetric `json:"metrics"`
}

// ValidationError reports a reading that must not enter the pipeline
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validate checks the structural invariants of a raw reading
func (r *RawReading) Validate() error {
	if err := checkText("header.deviceId", r.Header.DeviceID, MaxDeviceIDLength); err != nil {
		return err
	}
	if err := checkText("header.location", r.Header.Location, MaxLocationLength); err != nil {
		return err
	}
	if len(r.Metrics) == 0 {
		return &ValidationError{Field: "metrics", Reason: "at least one metric is required"}
	}
	for i, m := range r.Metrics {
		n := utf8.RuneCountInString(m.Measurement)
		if n == 0 || n > MaxMeasurementLength {
			return &ValidationError{
				Field:  fmt.Sprintf("metrics[%d].measurement", i),
				Reason: fmt.Sprintf("length must be between 1 and %d", MaxMeasurementLength),
			}
		}
	}
	return nil
}

func checkText(field, value string, max int) error {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: field, Reason: "must not be empty"}
	}
	if utf8.RuneCountInString(value) > max {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("must be at most %d characters", max)}
	}
	return nil
}

// ValidateBatch checks the batch size and every reading in it
func ValidateBatch(readings []RawReading) error {
	if len(readings) == 0 || len(readings) > MaxBatchSize {
		return &ValidationError{
			Field:  "readings",
			Reason: fmt.Sprintf("batch must contain between 1 and %d readings", MaxBatchSize),
		}
	}
	for i := range readings {
		if err := readings[i].Validate(); err != nil {
			ve := err.(*ValidationError)
			return &ValidationError{Field: fmt.Sprintf("readings[%d].%s", i, ve.Field), Reason: ve.Reason}
		}
	}
	return nil
}

// FlatReading is the fixed-field payload sent by older sensor firmware
type FlatReading struct {
	SensorID     string   `json:"sensor_id"`
	Location     string   `json:"location,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	Humidity     *float64 `json:"humidity,omitempty"`
	BatteryLevel *float64 `json:"battery_level,omitempty"`
	RSSI         *float64 `json:"rssi,omitempty"`
}

// DefaultLocation is used for flat readings that do not report where they were taken
const DefaultLocation = "unspecified"

// ToRaw maps the flat payload onto the header/metrics shape
func (f FlatReading) ToRaw() RawReading {
	location := f.Location
	if strings.TrimSpace(location) == "" {
		location = DefaultLocation
	}

	raw := RawReading{
		Header: SensorHeader{
			DeviceID: f.SensorID,
			Location: location,
		},
	}

	add := func(name string, v *float64) {
		if v != nil {
			raw.Metrics = append(raw.Metrics, SensorMetric{Measurement: name, Value: *v})
		}
	}
	add("temperature", f.Temperature)
	add("humidity", f.Humidity)
	add("battery_level", f.BatteryLevel)
	add("rssi", f.RSSI)

	return raw
}
