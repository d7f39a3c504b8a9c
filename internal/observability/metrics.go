package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records control plane decisions and workflow traffic.
type Metrics interface {
	ObserveEvaluation(duration time.Duration, violations int)
	IncAdmission(resourceType, outcome string)
	IncDispatch(kind, result string)
	IncTransition(status string)
	IncWorkflowResult(kind, outcome string)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) ObserveEvaluation(time.Duration, int) {}
func (Noop) IncAdmission(string, string)          {}
func (Noop) IncDispatch(string, string)           {}
func (Noop) IncTransition(string)                 {}
func (Noop) IncWorkflowResult(string, string)     {}

// Prom implements Metrics backed by Prometheus collectors.
type Prom struct {
	evaluations     *prometheus.HistogramVec
	admissions      *prometheus.CounterVec
	dispatches      *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	workflowResults *prometheus.CounterVec
	once            sync.Once
}

// NewProm registers the collectors on reg. A nil reg uses the default registerer.
func NewProm(namespace string, reg prometheus.Registerer) *Prom {
	p := &Prom{
		evaluations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "policy_evaluation_duration_seconds",
			Help:      "Policy evaluation latency by whether violations were found",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5},
		}, []string{"violations"}),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Admission decisions by resource type and outcome",
		}, []string{"resource_type", "outcome"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_dispatches_total",
			Help:      "Workflow dispatches by kind and result",
		}, []string{"kind", "result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_transitions_total",
			Help:      "Request status transitions by target status",
		}, []string{"status"}),
		workflowResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_results_total",
			Help:      "Workflow results received by kind and outcome",
		}, []string{"kind", "outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p.once.Do(func() {
		reg.MustRegister(p.evaluations, p.admissions, p.dispatches, p.transitions, p.workflowResults)
	})
	return p
}

func (p *Prom) ObserveEvaluation(duration time.Duration, violations int) {
	label := "none"
	if violations > 0 {
		label = "some"
	}
	p.evaluations.WithLabelValues(label).Observe(duration.Seconds())
}

func (p *Prom) IncAdmission(resourceType, outcome string) {
	p.admissions.WithLabelValues(resourceType, outcome).Inc()
}

func (p *Prom) IncDispatch(kind, result string) {
	p.dispatches.WithLabelValues(kind, result).Inc()
}

func (p *Prom) IncTransition(status string) {
	p.transitions.WithLabelValues(status).Inc()
}

func (p *Prom) IncWorkflowResult(kind, outcome string) {
	p.workflowResults.WithLabelValues(kind, outcome).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
