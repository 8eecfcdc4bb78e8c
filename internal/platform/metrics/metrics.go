package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns its registry so several collectors can coexist in tests.
// All recording methods are safe on a nil *Collector.
type Collector struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlightGauge   prometheus.Gauge

	IntakeSubmissions  *prometheus.CounterVec
	PatientsCreated    prometheus.Counter
	VisitsRecorded     *prometheus.CounterVec
	ExtractionDuration *prometheus.HistogramVec

	DictationSessions prometheus.Gauge
	DictationRetries  *prometheus.CounterVec

	MailRelayed *prometheus.CounterVec
}

func NewCollector(serviceName string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		registry: reg,

		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "path", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10, 30},
		}, []string{"method", "path", "status"}),

		InFlightGauge: f.NewGauge(prometheus.GaugeOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),

		IntakeSubmissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "intake",
			Name:      "submissions_total",
			Help:      "Intake submissions by outcome (new_patient, existing_patient, failed).",
		}, []string{"outcome"}),

		PatientsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "clinical",
			Name:      "patients_created_total",
			Help:      "Total number of patient records created.",
		}),

		VisitsRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "clinical",
			Name:      "visits_recorded_total",
			Help:      "Visits recorded by source (intake, dictation, structured).",
		}, []string{"source"}),

		ExtractionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "extraction",
			Name:      "duration_seconds",
			Help:      "Language model extraction latency by template and outcome.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		}, []string{"template", "outcome"}),

		DictationSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: serviceName,
			Subsystem: "dictation",
			Name:      "active_sessions",
			Help:      "Dictation websocket sessions currently open.",
		}),

		DictationRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "dictation",
			Name:      "relaunches_total",
			Help:      "Recognizer relaunches by reason.",
		}, []string{"reason"}),

		MailRelayed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "mail",
			Name:      "relayed_total",
			Help:      "Contact messages relayed by outcome.",
		}, []string{"outcome"}),
	}
}

// Handler exposes the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) ObserveExtraction(template, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.ExtractionDuration.WithLabelValues(template, outcome).Observe(d.Seconds())
}

func (c *Collector) IntakeOutcome(outcome string) {
	if c == nil {
		return
	}
	c.IntakeSubmissions.WithLabelValues(outcome).Inc()
}

func (c *Collector) PatientCreated() {
	if c == nil {
		return
	}
	c.PatientsCreated.Inc()
}

func (c *Collector) VisitRecorded(source string) {
	if c == nil {
		return
	}
	c.VisitsRecorded.WithLabelValues(source).Inc()
}

func (c *Collector) DictationOpened() {
	if c == nil {
		return
	}
	c.DictationSessions.Inc()
}

func (c *Collector) DictationClosed() {
	if c == nil {
		return
	}
	c.DictationSessions.Dec()
}

func (c *Collector) DictationRelaunch(reason string) {
	if c == nil {
		return
	}
	c.DictationRetries.WithLabelValues(reason).Inc()
}

func (c *Collector) MailOutcome(outcome string) {
	if c == nil {
		return
	}
	c.MailRelayed.WithLabelValues(outcome).Inc()
}
