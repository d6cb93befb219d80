package processor

import (
	"math"
	"strings"

	"github.com/sguter90/edgegateway/pkg/models"
)

type bounds struct {
	min, max float64
}

func (b bounds) contains(v float64) bool {
	return v >= b.min && v <= b.max
}

var (
	temperatureBounds = bounds{-10, 50}
	humidityBounds    = bounds{10, 95}

	// keyed by lower-cased measurement name
	metricBounds = map[string]bounds{
		"distance":  {0, 10000},
		"distancia": {0, 10000},
		"voltage":   {0, 50},
		"voltaje":   {0, 50},
	}
)

// Any other measurement is anomalous beyond this magnitude.
const maxMagnitude = 10000.0

func isTemperature(name string) bool {
	return strings.EqualFold(name, "temperature")
}

func isHumidity(name string) bool {
	return strings.EqualFold(name, "humidity") || strings.EqualFold(name, "humedad")
}

// DetectAnomaly applies the fixed threshold rules to a metric set
func DetectAnomaly(metrics []models.SensorMetric) bool {
	if temp, ok := findMetric(metrics, isTemperature); ok && !temperatureBounds.contains(temp) {
		return true
	}
	if hum, ok := findMetric(metrics, isHumidity); ok && !humidityBounds.contains(hum) {
		return true
	}

	for _, m := range metrics {
		if math.IsNaN(m.Value) || math.IsInf(m.Value, 0) {
			return true
		}
		if b, ok := metricBounds[strings.ToLower(m.Measurement)]; ok {
			if !b.contains(m.Value) {
				return true
			}
			continue
		}
		if math.Abs(m.Value) > maxMagnitude {
			return true
		}
	}
	return false
}

// findMetric returns the value of the first metric matching the predicate
func findMetric(metrics []models.SensorMetric, match func(string) bool) (float64, bool) {
	for _, m := range metrics {
		if match(m.Measurement) {
			return m.Value, true
		}
	}
	return 0, false
}
