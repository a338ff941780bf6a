package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics records guide generation, classification and batch import
// outcomes.
type PipelineMetrics struct {
	service string

	guideRuns      *prometheus.CounterVec
	guideInFlight  *prometheus.GaugeVec
	tokensStreamed prometheus.Counter
	classified     *prometheus.CounterVec
	batchItems     *prometheus.CounterVec
	registerer     prometheus.Registerer
}

func NewPipelineMetrics(service string, registerer prometheus.Registerer) *PipelineMetrics {
	guideRuns := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "guide_runs_total",
			Help:      "Finished reading guide generations by mode and status.",
		},
		[]string{"service", "mode", "status"},
	)
	guideInFlight := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "guide_in_flight",
			Help:      "Reading guide generations currently running.",
		},
		[]string{"service", "mode"},
	)
	tokensStreamed := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "tokens_streamed_total",
			Help:        "Streamed guide tokens appended to the store.",
			ConstLabels: prometheus.Labels{"service": service},
		},
	)
	classified := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "classifications_total",
			Help:      "Classification runs by outcome.",
		},
		[]string{"service", "outcome"},
	)
	batchItems := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "batch_items_total",
			Help:      "Batch import items by status.",
		},
		[]string{"service", "status"},
	)

	registerer.MustRegister(guideRuns, guideInFlight, tokensStreamed, classified, batchItems)

	return &PipelineMetrics{
		service:        service,
		guideRuns:      guideRuns,
		guideInFlight:  guideInFlight,
		tokensStreamed: tokensStreamed,
		classified:     classified,
		batchItems:     batchItems,
		registerer:     registerer,
	}
}

// ObservePool exports the number of busy pool workers.
func (m *PipelineMetrics) ObservePool(running func() int, capacity int) {
	m.registerer.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "pool",
			Name:        "running_workers",
			Help:        "Workers currently executing pipeline tasks.",
			ConstLabels: prometheus.Labels{"service": m.service},
		}, func() float64 { return float64(running()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "pool",
			Name:        "capacity",
			Help:        "Configured worker pool size.",
			ConstLabels: prometheus.Labels{"service": m.service},
		}, func() float64 { return float64(capacity) }),
	)
}

func (m *PipelineMetrics) GuideStarted(mode string) {
	m.guideInFlight.WithLabelValues(m.service, mode).Inc()
}

func (m *PipelineMetrics) GuideFinished(mode string, err error) {
	m.guideInFlight.WithLabelValues(m.service, mode).Dec()
	m.guideRuns.WithLabelValues(m.service, mode, statusLabel(err)).Inc()
}

func (m *PipelineMetrics) TokenStreamed() {
	m.tokensStreamed.Inc()
}

func (m *PipelineMetrics) Classified(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.classified.WithLabelValues(m.service, outcome).Inc()
}

func (m *PipelineMetrics) BatchItem(err error) {
	m.batchItems.WithLabelValues(m.service, statusLabel(err)).Inc()
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
