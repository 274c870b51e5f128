package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful poll cycles and proxied predictions.
	OutcomeSuccess = "success"
	// OutcomeError labels failed cycles (transport, upstream or malformed response).
	OutcomeError = "error"
	// OutcomeDiscarded labels completions dropped after stop or as stale.
	OutcomeDiscarded = "discarded"
)

var (
	pollCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flow_monitor",
			Name:      "poll_cycles_total",
			Help:      "Total number of dashboard summary poll cycles, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	pollDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "flow_monitor",
			Name:      "poll_seconds",
			Help:      "Dashboard summary fetch latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
		},
	)

	confidencePercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "flow_monitor",
			Name:      "confidence_percent",
			Help:      "Most recent model confidence admitted to the history window.",
		},
	)

	historySamples = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "flow_monitor",
			Name:      "history_samples",
			Help:      "Number of confidence samples currently held in the history window.",
		},
	)

	predictRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flow_monitor",
			Name:      "predict_requests_total",
			Help:      "Prediction submissions proxied upstream, partitioned by outcome.",
		},
		[]string{"outcome"},
	)
)

// Register attaches flow-monitor collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		pollCyclesTotal,
		pollDurationSeconds,
		confidencePercent,
		historySamples,
		predictRequestsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObservePoll records a poll cycle duration and outcome label.
func ObservePoll(duration time.Duration, outcome string) {
	pollCyclesTotal.WithLabelValues(normaliseOutcome(outcome)).Inc()
	if duration < 0 {
		duration = 0
	}
	pollDurationSeconds.Observe(duration.Seconds())
}

// SetConfidence publishes the latest admitted confidence and window length.
func SetConfidence(confidence float64, samples int) {
	confidencePercent.Set(confidence)
	historySamples.Set(float64(samples))
}

// ObservePredict counts one proxied prediction submission.
func ObservePredict(outcome string) {
	predictRequestsTotal.WithLabelValues(normaliseOutcome(outcome)).Inc()
}

func normaliseOutcome(outcome string) string {
	switch outcome {
	case OutcomeError, OutcomeDiscarded:
		return outcome
	default:
		return OutcomeSuccess
	}
}
