package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	RequestCounter  *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	SessionsStarted    prometheus.Counter
	SessionsClosed     *prometheus.CounterVec
	AnswersSaved       *prometheus.CounterVec
	HeartbeatDrift     prometheus.Histogram
	CertificatesIssued prometheus.Counter
	SweeperExpired     prometheus.Counter
	ScoringDuration    prometheus.Histogram

	gatherer prometheus.Gatherer
}

// New registers all collectors on reg
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		RequestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"method", "endpoint"},
		),
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exam_sessions_started_total",
			Help: "Sessions created",
		}),
		SessionsClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exam_sessions_closed_total",
				Help: "Terminal transitions by final status and reason",
			},
			[]string{"status", "reason"},
		),
		AnswersSaved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exam_answers_saved_total",
				Help: "Answer writes by outcome",
			},
			[]string{"outcome"},
		),
		HeartbeatDrift: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "exam_heartbeat_drift_seconds",
			Help:    "Absolute difference between client and server remaining time",
			Buckets: []float64{1, 2, 5, 10, 15, 30, 60, 120},
		}),
		CertificatesIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exam_certificates_issued_total",
			Help: "Certificates issued",
		}),
		SweeperExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exam_sweeper_expired_total",
			Help: "Sessions closed by the expiry sweeper",
		}),
		ScoringDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "exam_scoring_duration_seconds",
			Help:    "Time spent scoring one session",
			Buckets: prometheus.DefBuckets,
		}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.RequestCounter,
		m.RequestDuration,
		m.SessionsStarted,
		m.SessionsClosed,
		m.AnswersSaved,
		m.HeartbeatDrift,
		m.CertificatesIssued,
		m.SweeperExpired,
		m.ScoringDuration,
	)
	return m
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}

func (m *Metrics) SessionClosed(status, reason string) {
	if m == nil {
		return
	}
	m.SessionsClosed.WithLabelValues(status, reason).Inc()
}

func (m *Metrics) AnswerSaved(outcome string) {
	if m == nil {
		return
	}
	m.AnswersSaved.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveDrift(drift time.Duration) {
	if m == nil {
		return
	}
	m.HeartbeatDrift.Observe(drift.Seconds())
}

func (m *Metrics) CertificateIssued() {
	if m == nil {
		return
	}
	m.CertificatesIssued.Inc()
}

func (m *Metrics) SessionsSwept(n int) {
	if m == nil {
		return
	}
	m.SweeperExpired.Add(float64(n))
}

func (m *Metrics) ObserveScoring(d time.Duration) {
	if m == nil {
		return
	}
	m.ScoringDuration.Observe(d.Seconds())
}

func (m *Metrics) MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}

		m.RequestCounter.WithLabelValues(
			c.Request.Method,
			endpoint,
			strconv.Itoa(c.Writer.Status()),
		).Inc()

		m.RequestDuration.WithLabelValues(
			c.Request.Method,
			endpoint,
		).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) PrometheusHandler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
