package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Hypothesis outcome label values.
const (
	OutcomeAccepted    = "accepted"
	OutcomeRejected    = "rejected"
	OutcomeUnavailable = "unavailable"
)

// Metrics records verification counters. A nil *Metrics is a valid no-op
// so callers never need to guard calls.
type Metrics struct {
	hypotheses *prometheus.CounterVec
	duration   prometheus.Histogram
	refined    prometheus.Counter
}

// NewMetrics creates the verification metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer to expose them on the default handler.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		hypotheses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "objverify_hypotheses_total",
				Help: "Hypotheses processed by verification, by outcome",
			},
			[]string{"outcome"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "objverify_verify_duration_seconds",
				Help:    "Duration of verification calls",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
			},
		),
		refined: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "objverify_refined_total",
				Help: "Accepted hypotheses whose pose refinement converged",
			},
		),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.hypotheses, m.duration, m.refined} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// ObserveRun records the outcome counts and duration of one verification call.
func (m *Metrics) ObserveRun(d time.Duration, accepted, rejected, unavailable, refined int) {
	if m == nil {
		return
	}
	m.hypotheses.WithLabelValues(OutcomeAccepted).Add(float64(accepted))
	m.hypotheses.WithLabelValues(OutcomeRejected).Add(float64(rejected))
	m.hypotheses.WithLabelValues(OutcomeUnavailable).Add(float64(unavailable))
	m.refined.Add(float64(refined))
	m.duration.Observe(d.Seconds())
}
