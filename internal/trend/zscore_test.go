package trend

import (
	"fmt"
	"testing"

	"github.com/prohosp/flow-monitor/internal/models"
)

func window(values ...float64) []models.HistorySample {
	series := make([]models.HistorySample, 0, len(values))
	for i, v := range values {
		series = append(series, models.HistorySample{Label: fmt.Sprintf("10:30:%02d", i*8%60), Confidence: v})
	}
	return series
}

func TestDetect(t *testing.T) {
	series := window(88, 89, 88, 90, 89, 88, 89, 90, 88, 89, 40)
	deviations := Detect(series, 2.0)
	if len(deviations) != 1 || deviations[0].Confidence != 40 {
		t.Fatalf("expected the 40%% sample as the only outlier, got %+v", deviations)
	}
	if deviations[0].Score >= 0 {
		t.Fatalf("expected negative score, got %v", deviations[0].Score)
	}
}

func TestDetectShortWindow(t *testing.T) {
	if got := Detect(window(90, 10, 90), 1); got != nil {
		t.Fatalf("windows shorter than %d must not be scored, got %+v", MinSamples, got)
	}
}

func TestLatestDrop(t *testing.T) {
	tests := []struct {
		name   string
		series []models.HistorySample
		want   bool
	}{
		{"sharp drop", window(90, 91, 89, 90, 72), true},
		{"steady", window(90, 91, 89, 90, 90.5), false},
		{"rise", window(70, 71, 69, 70, 95), false},
		{"flat window small wobble", window(90, 90, 90, 90, 89.5), false},
		{"too short", window(90, 90, 40), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, ok := LatestDrop(tt.series, 0)
			if ok != tt.want {
				t.Fatalf("expected drop=%v, got %v (%+v)", tt.want, ok, dev)
			}
			if ok && dev.Threshold != DefaultThreshold {
				t.Fatalf("expected default threshold, got %v", dev.Threshold)
			}
		})
	}
}
