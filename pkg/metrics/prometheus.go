package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"TAMObserver/internal/domain/models"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	observations  *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	invalidations *prometheus.CounterVec
	rejectedBars  *prometheus.CounterVec
	currentState  *prometheus.GaugeVec
	messagesSent  *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	latency       *prometheus.HistogramVec
}

var trackedStates = []models.AdmissibilityState{
	models.StateBasin, models.StateTension, models.StateEscape,
	models.StateExhausted, models.StateInvalidated,
}

// New registers the recorder's collectors on the default registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		observations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tam_observations_total",
				Help: "Bars classified, by resulting state",
			},
			[]string{"symbol", "state"},
		),
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tam_boundary_events_total",
				Help: "State boundary events, e.g. TENSION->ESCAPE",
			},
			[]string{"symbol", "event"},
		),
		invalidations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tam_invalidations_total",
				Help: "Streams that entered INVALIDATED",
			},
			[]string{"symbol", "reason"},
		),
		rejectedBars: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tam_rejected_bars_total",
				Help: "Bars rejected by validation before reaching a window",
			},
			[]string{"symbol"},
		),
		currentState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tam_stream_state",
				Help: "1 for the state a stream is currently in, 0 otherwise",
			},
			[]string{"symbol", "state"},
		),
		messagesSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tam_messages_sent_total",
				Help: "Observations written to a backend",
			},
			[]string{"backend", "symbol"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tam_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tam_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordObservation(symbol string, state models.AdmissibilityState) {
	r.observations.WithLabelValues(symbol, state.String()).Inc()
	for _, s := range trackedStates {
		v := 0.0
		if s == state {
			v = 1
		}
		r.currentState.WithLabelValues(symbol, s.String()).Set(v)
	}
}

func (r *Recorder) RecordTransition(symbol, event string) {
	r.transitions.WithLabelValues(symbol, event).Inc()
}

// RecordInvalidation keeps only the reason's category (text before ':') as a
// label to bound cardinality.
func (r *Recorder) RecordInvalidation(symbol, reason string) {
	r.invalidations.WithLabelValues(symbol, reasonCategory(reason)).Inc()
}

func (r *Recorder) RecordRejectedBar(symbol string) {
	r.rejectedBars.WithLabelValues(symbol).Inc()
}

func (r *Recorder) RecordMessageSent(backend, symbol string) {
	r.messagesSent.WithLabelValues(backend, symbol).Inc()
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func reasonCategory(reason string) string {
	for i := 0; i < len(reason); i++ {
		if reason[i] == ':' {
			return reason[:i]
		}
	}
	return reason
}
