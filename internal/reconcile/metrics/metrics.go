package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the reconciliation module. Counters are
// labeled by rail so dashboards can split the push and ledger channels.
type Metrics struct {
	IntentsCreated   *prometheus.CounterVec
	IntentsConfirmed *prometheus.CounterVec
	IntentsRejected  *prometheus.CounterVec
	IntentsExpired   *prometheus.CounterVec

	EvidenceMatched        *prometheus.CounterVec
	EvidenceUnmatched      *prometheus.CounterVec
	EvidenceDuplicate      *prometheus.CounterVec
	EvidenceOutOfTolerance *prometheus.CounterVec
	MalformedCallbacks     *prometheus.CounterVec
	PollErrors             *prometheus.CounterVec

	PollDuration     prometheus.Histogram
	InitiateDuration prometheus.Histogram
}

// New creates a new Metrics instance with all reconciliation metrics registered.
func New() *Metrics {
	railCounter := func(name, help string) *prometheus.CounterVec {
		return promauto.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, []string{"rail"})
	}
	return &Metrics{
		IntentsCreated:         railCounter("railgate_intents_created_total", "Total payment intents created"),
		IntentsConfirmed:       railCounter("railgate_intents_confirmed_total", "Total payment intents confirmed by rail evidence"),
		IntentsRejected:        railCounter("railgate_intents_rejected_total", "Total payment intents rejected (initiate failure or cancel)"),
		IntentsExpired:         railCounter("railgate_intents_expired_total", "Total payment intents expired past their matching window"),
		EvidenceMatched:        railCounter("railgate_evidence_matched_total", "Total evidence records that confirmed an intent"),
		EvidenceUnmatched:      railCounter("railgate_evidence_unmatched_total", "Total evidence records with no matching intent"),
		EvidenceDuplicate:      railCounter("railgate_evidence_duplicate_total", "Total replayed evidence records absorbed as no-ops"),
		EvidenceOutOfTolerance: railCounter("railgate_evidence_out_of_tolerance_total", "Total evidence records recorded but outside amount tolerance"),
		MalformedCallbacks:     railCounter("railgate_malformed_callbacks_total", "Total callbacks dropped as unparseable"),
		PollErrors:             railCounter("railgate_poll_errors_total", "Total poll cycles degraded by rail errors"),
		PollDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "railgate_poll_duration_seconds",
			Help:    "Duration of one PollOnce pass for a rail",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		InitiateDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "railgate_initiate_duration_seconds",
			Help:    "Duration of rail initiate calls (intent creation path)",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
}

// All increment and observe helpers are nil-safe so callers without metrics
// wired (tests, tools) can skip the nil checks.

func (m *Metrics) IncCreated(rail string) {
	if m == nil {
		return
	}
	m.IntentsCreated.WithLabelValues(rail).Inc()
}

func (m *Metrics) IncConfirmed(rail string) {
	if m == nil {
		return
	}
	m.IntentsConfirmed.WithLabelValues(rail).Inc()
}

func (m *Metrics) IncRejected(rail string) {
	if m == nil {
		return
	}
	m.IntentsRejected.WithLabelValues(rail).Inc()
}

func (m *Metrics) IncExpired(rail string) {
	if m == nil {
		return
	}
	m.IntentsExpired.WithLabelValues(rail).Inc()
}

func (m *Metrics) IncEvidenceMatched(rail string) {
	if m == nil {
		return
	}
	m.EvidenceMatched.WithLabelValues(rail).Inc()
}

func (m *Metrics) IncEvidenceUnmatched(rail string) {
	if m == nil {
		return
	}
	m.EvidenceUnmatched.WithLabelValues(rail).Inc()
}

func (m *Metrics) IncEvidenceDuplicate(rail string) {
	if m == nil {
		return
	}
	m.EvidenceDuplicate.WithLabelValues(rail).Inc()
}

func (m *Metrics) IncEvidenceOutOfTolerance(rail string) {
	if m == nil {
		return
	}
	m.EvidenceOutOfTolerance.WithLabelValues(rail).Inc()
}

func (m *Metrics) IncMalformedCallback(rail string) {
	if m == nil {
		return
	}
	m.MalformedCallbacks.WithLabelValues(rail).Inc()
}

func (m *Metrics) IncPollError(rail string) {
	if m == nil {
		return
	}
	m.PollErrors.WithLabelValues(rail).Inc()
}

// ObservePoll records the duration of one poll pass given its start time.
func (m *Metrics) ObservePoll(start time.Time) {
	if m == nil {
		return
	}
	m.PollDuration.Observe(time.Since(start).Seconds())
}

// ObserveInitiate records the duration of a rail initiate call.
func (m *Metrics) ObserveInitiate(start time.Time) {
	if m == nil {
		return
	}
	m.InitiateDuration.Observe(time.Since(start).Seconds())
}
