package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP layer
// and the escalation engine.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	lettersIssued   *prometheus.CounterVec
	caseEscalations *prometheus.CounterVec
	reconcileRuns   prometheus.Counter
	casesAutoClosed prometheus.Counter
	casesDeleted    prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	lettersIssued := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "summon_letters_issued_total",
		Help: "Summon letters issued, by letter level",
	}, []string{"level"})

	caseEscalations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "case_escalations_total",
		Help: "Follow-up case escalations, by new letter level",
	}, []string{"level"})

	reconcileRuns := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reconcile_runs_total",
		Help: "Full-history reconciliation runs",
	})

	casesAutoClosed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cases_auto_closed_total",
		Help: "Cases closed by reconciliation when no letter threshold remains",
	})

	casesDeleted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cases_deleted_total",
		Help: "Cases removed outright after their triggering records were deleted",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, lettersIssued, caseEscalations, reconcileRuns, casesAutoClosed, casesDeleted, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		lettersIssued:   lettersIssued,
		caseEscalations: caseEscalations,
		reconcileRuns:   reconcileRuns,
		casesAutoClosed: casesAutoClosed,
		casesDeleted:    casesDeleted,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// LetterIssued counts a newly issued summon letter.
func (m *MetricsService) LetterIssued(level int) {
	if m == nil {
		return
	}
	m.lettersIssued.WithLabelValues(fmt.Sprintf("%d", level)).Inc()
}

// CaseEscalated counts an existing case raised to a higher letter level.
func (m *MetricsService) CaseEscalated(level int) {
	if m == nil {
		return
	}
	m.caseEscalations.WithLabelValues(fmt.Sprintf("%d", level)).Inc()
}

// ReconcileRun counts one full-history reconciliation.
func (m *MetricsService) ReconcileRun() {
	if m == nil {
		return
	}
	m.reconcileRuns.Inc()
}

// CaseAutoClosed counts a case closed because the remaining history no
// longer justifies a letter.
func (m *MetricsService) CaseAutoClosed() {
	if m == nil {
		return
	}
	m.casesAutoClosed.Inc()
}

// CaseDeleted counts a case removed outright after its triggering records
// were deleted.
func (m *MetricsService) CaseDeleted() {
	if m == nil {
		return
	}
	m.casesDeleted.Inc()
}
