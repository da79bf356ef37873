package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels shared by the containment and restoration counters.
const (
	OutcomeSuccess  = "success"
	OutcomePartial  = "partial"
	OutcomeError    = "error"
	OutcomeNotFound = "not_found"
	OutcomeSkipped  = "skipped"
	OutcomeNoop     = "noop"
)

// Verification outcome labels.
const (
	VerifySuccess           = "success"
	VerifyUnknownToken      = "unknown_token"
	VerifyExpired           = "expired"
	VerifyReplayed          = "replayed"
	VerifySignatureMismatch = "signature_mismatch"
	VerifyError             = "error"
)

// Security event labels. These feed the alerting pipeline and must never be
// incremented silently without a matching log line.
const (
	EventSignatureMismatch = "signature_mismatch"
	EventReplay            = "replay"
)

var (
	containmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "containment_engine",
			Name:      "containments_total",
			Help:      "Total containment handler invocations, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	containmentSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "containment_engine",
			Name:      "containment_seconds",
			Help:      "Containment handler latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 10},
		},
	)

	verificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "containment_engine",
			Name:      "verifications_total",
			Help:      "Total approval token verifications, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	restorationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "containment_engine",
			Name:      "restorations_total",
			Help:      "Total restoration handler invocations, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	restorationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "containment_engine",
			Name:      "restoration_seconds",
			Help:      "Restoration handler latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 10},
		},
	)

	securityEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "containment_engine",
			Name:      "security_events_total",
			Help:      "Rejected approvals that look like tampering or replay.",
		},
		[]string{"event"},
	)
)

// Register attaches all collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		containmentsTotal,
		containmentSeconds,
		verificationsTotal,
		restorationsTotal,
		restorationSeconds,
		securityEventsTotal,
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

// ObserveContainment records a containment invocation.
func ObserveContainment(duration time.Duration, outcome string) {
	containmentsTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	containmentSeconds.Observe(duration.Seconds())
}

// ObserveVerification records a verification outcome.
func ObserveVerification(outcome string) {
	verificationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRestoration records a restoration invocation.
func ObserveRestoration(duration time.Duration, outcome string) {
	restorationsTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	restorationSeconds.Observe(duration.Seconds())
}

// RecordSecurityEvent counts a rejected approval that warrants operator
// attention.
func RecordSecurityEvent(event string) {
	securityEventsTotal.WithLabelValues(event).Inc()
}
