package processor

import (
	"fmt"
	"math"
	"strings"

	"github.com/sguter90/edgegateway/pkg/models"
)

const (
	penaltyNoMetrics    = 50
	penaltyAnomaly      = 25
	penaltyNonFinite    = 30
	penaltyBadLocation  = 10
	initialQualityScore = 100
)

// AssessQuality scores a reading from 0 to 100 and lists what was deducted
func AssessQuality(raw models.RawReading, isAnomaly bool) models.DataQuality {
	score := initialQualityScore
	issues := []string{}

	deduct := func(points int, issue string) {
		score = max(score-points, 0)
		issues = append(issues, issue)
	}

	if len(raw.Metrics) == 0 {
		deduct(penaltyNoMetrics, "no metrics in message")
	}
	if isAnomaly {
		deduct(penaltyAnomaly, "anomalous reading detected")
	}
	for _, m := range raw.Metrics {
		if math.IsNaN(m.Value) {
			deduct(penaltyNonFinite, fmt.Sprintf("NaN value in metric: %s", m.Measurement))
		}
		if math.IsInf(m.Value, 0) {
			deduct(penaltyNonFinite, fmt.Sprintf("infinite value in metric: %s", m.Measurement))
		}
	}
	if strings.TrimSpace(raw.Header.Location) == "" {
		deduct(penaltyBadLocation, "empty or invalid location")
	}

	return models.DataQuality{
		Score:     score,
		Issues:    issues,
		Corrected: false,
	}
}
