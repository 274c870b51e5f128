package trend

import (
	"math"

	"github.com/prohosp/flow-monitor/internal/models"
)

const (
	// DefaultThreshold is the z-score used when callers pass a non-positive one.
	DefaultThreshold = 2.5
	// MinSamples is the smallest window that yields meaningful statistics.
	MinSamples = 4
	// minSpread floors the standard deviation, in confidence points.
	minSpread = 1.0
)

// Deviation is a confidence sample that departs from the window mean.
type Deviation struct {
	Label      string  `json:"timestamp_label"`
	Confidence float64 `json:"confidence"`
	Score      float64 `json:"score"`
	Threshold  float64 `json:"threshold"`
}

// Detect returns samples whose z-score against the whole window reaches
// threshold in either direction.
func Detect(series []models.HistorySample, threshold float64) []Deviation {
	if len(series) < MinSamples {
		return nil
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	mean, stdDev := stats(series)
	deviations := make([]Deviation, 0)
	for _, sample := range series {
		score := (sample.Confidence - mean) / stdDev
		if math.Abs(score) >= threshold {
			deviations = append(deviations, Deviation{
				Label:      sample.Label,
				Confidence: sample.Confidence,
				Score:      score,
				Threshold:  threshold,
			})
		}
	}
	return deviations
}

// LatestDrop scores the newest sample against the samples before it and
// reports it when it sits at least threshold deviations below their mean.
func LatestDrop(series []models.HistorySample, threshold float64) (Deviation, bool) {
	if len(series) < MinSamples {
		return Deviation{}, false
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	latest := series[len(series)-1]
	mean, stdDev := stats(series[:len(series)-1])
	score := (latest.Confidence - mean) / stdDev
	if score > -threshold {
		return Deviation{}, false
	}
	return Deviation{Label: latest.Label, Confidence: latest.Confidence, Score: score, Threshold: threshold}, true
}

func stats(series []models.HistorySample) (mean, stdDev float64) {
	for _, sample := range series {
		mean += sample.Confidence
	}
	mean /= float64(len(series))

	variance := 0.0
	for _, sample := range series {
		variance += math.Pow(sample.Confidence-mean, 2)
	}
	variance /= float64(len(series))
	stdDev = math.Sqrt(variance)
	if stdDev < minSpread {
		stdDev = minSpread
	}
	return mean, stdDev
}
