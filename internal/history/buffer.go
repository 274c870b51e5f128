package history

import (
	"math"

	"github.com/prohosp/flow-monitor/internal/models"
	"github.com/prohosp/flow-monitor/internal/utils"
)

// Capacity is the number of confidence samples retained for the trend chart.
const Capacity = 12

// PlaceholderLabel labels the single point returned for an empty buffer.
const PlaceholderLabel = "--"

// Buffer is the rolling confidence window. It is safe for concurrent use.
type Buffer struct {
	ring *utils.Ring[models.HistorySample]
}

// NewBuffer returns an empty buffer holding at most Capacity samples.
func NewBuffer() *Buffer {
	return &Buffer{ring: utils.NewRing[models.HistorySample](Capacity)}
}

// Push appends a sample, evicting the oldest once full. Samples whose
// confidence is NaN or infinite are dropped and Push reports false.
func (b *Buffer) Push(sample models.HistorySample) bool {
	if math.IsNaN(sample.Confidence) || math.IsInf(sample.Confidence, 0) {
		return false
	}
	b.ring.Push(sample)
	return true
}

// Samples returns the stored samples oldest first.
func (b *Buffer) Samples() []models.HistorySample {
	return b.ring.Values()
}

// Series returns the chart series oldest first. An empty buffer yields a
// single placeholder point so consumers never receive a zero-length series.
func (b *Buffer) Series() []models.HistorySample {
	samples := b.Samples()
	if len(samples) == 0 {
		return []models.HistorySample{{Label: PlaceholderLabel, Confidence: 0}}
	}
	return samples
}

// Len returns the number of stored samples.
func (b *Buffer) Len() int {
	return b.ring.Len()
}
