package service

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService owns a private Prometheus registry. A nil *MetricsService is
// valid and records nothing.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	issued          *prometheus.CounterVec
	authentications *prometheus.CounterVec
	revocations     *prometheus.CounterVec
}

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

	issued := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "credentials_issued_total",
		Help: "Access/refresh pairs issued, by signing tier",
	}, []string{"tier"})

	authentications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "token_authentications_total",
		Help: "Token authentication attempts, by purpose and outcome",
	}, []string{"purpose", "result"})

	revocations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "token_revocations_total",
		Help: "Revocation ledger writes, by outcome",
	}, []string{"result"})

	registry.MustRegister(
		requestDuration,
		requestTotal,
		issued,
		authentications,
		revocations,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		issued:          issued,
		authentications: authentications,
		revocations:     revocations,
	}
}

func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return m.handler
}

func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, code).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, code).Inc()
}

func (m *MetricsService) CredentialsIssued(tier Tier) {
	if m == nil {
		return
	}
	m.issued.WithLabelValues(tier.String()).Inc()
}

func (m *MetricsService) Authentication(purpose Purpose, result string) {
	if m == nil {
		return
	}
	m.authentications.WithLabelValues(string(purpose), result).Inc()
}

func (m *MetricsService) Revocation(result string) {
	if m == nil {
		return
	}
	m.revocations.WithLabelValues(result).Inc()
}
