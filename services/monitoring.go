package services

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/lac-hong-legacy/academy_api/dto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	MONITORING_SVC          = "monitoring_svc"
	SERVICE_NAME            = "academy_api"
	DEFAULT_PROMETHEUS_PORT = 2112
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route pattern, method and status",
		},
		[]string{"endpoint", "method", "status"},
	)

	httpRequestsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "http_requests_active",
			Help: "In-flight HTTP requests",
		},
		[]string{"endpoint", "method"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency including the security pipeline",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"endpoint", "method"},
	)
)

// Decision counters
var (
	rateLimitDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "security_rate_limit_decisions_total",
			Help: "Rate limit decisions by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	securityStoreFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "security_store_failures_total",
			Help: "Counter/blocklist store failures by operation",
		},
		[]string{"operation"},
	)

	identifierBlocksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "security_identifier_blocks_total",
			Help: "Identifiers blocked by source (manual, abuse, ddos)",
		},
		[]string{"source"},
	)

	abuseRiskScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "security_abuse_risk_score",
			Help:    "Distribution of abuse detector risk scores",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		},
	)

	ddosDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "security_ddos_decisions_total",
			Help: "DDoS gatekeeper decisions by outcome",
		},
		[]string{"outcome"},
	)

	middlewareDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "security_middleware_denials_total",
			Help: "Requests rejected by the security middleware by stage",
		},
		[]string{"stage"},
	)

	auditWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "security_audit_writes_total",
			Help: "Audit writes by category and result (persisted, fallback)",
		},
		[]string{"category", "result"},
	)
)

// State gauges, refreshed from the rate limit statistics.
var (
	activeRateLimitWindows = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "security_active_rate_limit_windows",
			Help: "Live rate limit windows by action",
		},
		[]string{"action"},
	)

	blockedIdentifiers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "security_blocked_identifiers",
			Help: "Identifiers currently on the blocklist",
		},
	)

	suspiciousPatterns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "security_suspicious_patterns",
			Help: "Windows that have reached their limit",
		},
	)
)

// SecurityStateSource reports the blocklist and window counts exported as gauges.
type SecurityStateSource interface {
	GetStatistics(ctx context.Context) dto.RateLimitStatistics
}

type MonitoringService struct {
	appContext.DefaultService

	port            int
	refreshInterval time.Duration
	register        *prometheus.Registry

	mu     sync.RWMutex
	source SecurityStateSource

	closed chan struct{}
	server *fiber.App
}

func (svc *MonitoringService) Id() string {
	return MONITORING_SVC
}

func (svc *MonitoringService) Configure(ctx *appContext.Context) error {
	svc.port = DEFAULT_PROMETHEUS_PORT
	if port, err := strconv.Atoi(os.Getenv("PROMETHEUS_PORT")); err == nil {
		svc.port = port
	}
	svc.refreshInterval = 30 * time.Second
	if d, err := time.ParseDuration(os.Getenv("SECURITY_METRICS_INTERVAL")); err == nil && d > 0 {
		svc.refreshInterval = d
	}
	return svc.DefaultService.Configure(ctx)
}

func newSecurityRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpRequestsTotal,
		httpRequestsActive,
		httpRequestDurationSeconds,
		rateLimitDecisionsTotal,
		securityStoreFailuresTotal,
		identifierBlocksTotal,
		abuseRiskScore,
		ddosDecisionsTotal,
		middlewareDenialsTotal,
		auditWritesTotal,
		activeRateLimitWindows,
		blockedIdentifiers,
		suspiciousPatterns,
	)
	return reg
}

func (svc *MonitoringService) Start() error {
	svc.closed = make(chan struct{})
	svc.register = newSecurityRegistry()

	go svc.refreshLoop()

	svc.server = fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(fiber.StatusInternalServerError).SendString("Internal Server Error")
		},
	})
	svc.server.Use(recover.New())
	svc.server.Get("/metrics", svc.metricsHandler)
	svc.server.Get("/health", svc.healthHandler)

	go func() {
		if err := svc.server.Listen(fmt.Sprintf(":%v", svc.port)); err != nil {
			log.Error().Err(err).Msg("Prometheus metrics server stopped")
		}
	}()

	log.Info().Int("port", svc.port).Dur("refresh", svc.refreshInterval).Msg("Prometheus metrics server started")
	return nil
}

func (svc *MonitoringService) Shutdown() {
	if svc.closed != nil {
		close(svc.closed)
	}
	if svc.server != nil {
		_ = svc.server.Shutdown()
	}
}

// WatchSecurityState registers the source polled for the state gauges. Later calls replace it.
func (svc *MonitoringService) WatchSecurityState(source SecurityStateSource) {
	if svc == nil {
		return
	}
	svc.mu.Lock()
	svc.source = source
	svc.mu.Unlock()
}

func (svc *MonitoringService) refreshLoop() {
	ticker := time.NewTicker(svc.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), svc.refreshInterval)
			svc.refreshSecurityGauges(ctx)
			cancel()
		case <-svc.closed:
			return
		}
	}
}

func (svc *MonitoringService) refreshSecurityGauges(ctx context.Context) {
	svc.mu.RLock()
	source := svc.source
	svc.mu.RUnlock()
	if source == nil {
		return
	}

	stats := source.GetStatistics(ctx)
	activeRateLimitWindows.Reset()
	for action, count := range stats.RateLimitsByAction {
		activeRateLimitWindows.WithLabelValues(action).Set(float64(count))
	}
	blockedIdentifiers.Set(float64(stats.TotalBlockedIdentifiers))
	suspiciousPatterns.Set(float64(stats.SuspiciousPatterns))
}

func (svc *MonitoringService) metricsHandler(c *fiber.Ctx) error {
	handler := promhttp.HandlerFor(svc.register, promhttp.HandlerOpts{})
	return adaptor.HTTPHandler(handler)(c)
}

func (svc *MonitoringService) healthHandler(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status":    "healthy",
		"service":   SERVICE_NAME,
		"timestamp": time.Now().Unix(),
	})
}

// The recorders below are safe to call on a nil service so callers can run without monitoring.

func (svc *MonitoringService) RecordRequest(method, endpoint string, status int, duration time.Duration) {
	if svc == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(endpoint, method, strconv.Itoa(status)).Inc()
	httpRequestDurationSeconds.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

func outcomeLabel(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}

func (svc *MonitoringService) RecordRateLimitDecision(action string, allowed bool) {
	if svc == nil {
		return
	}
	rateLimitDecisionsTotal.WithLabelValues(action, outcomeLabel(allowed)).Inc()
}

func (svc *MonitoringService) RecordStoreFailure(operation string) {
	if svc == nil {
		return
	}
	securityStoreFailuresTotal.WithLabelValues(operation).Inc()
}

func (svc *MonitoringService) RecordBlock(source string) {
	if svc == nil {
		return
	}
	identifierBlocksTotal.WithLabelValues(source).Inc()
}

func (svc *MonitoringService) RecordAbuseScore(score int) {
	if svc == nil {
		return
	}
	abuseRiskScore.Observe(float64(score))
}

func (svc *MonitoringService) RecordDDoSDecision(allowed bool) {
	if svc == nil {
		return
	}
	ddosDecisionsTotal.WithLabelValues(outcomeLabel(allowed)).Inc()
}

func (svc *MonitoringService) RecordMiddlewareDenial(stage string) {
	if svc == nil {
		return
	}
	middlewareDenialsTotal.WithLabelValues(stage).Inc()
}

func (svc *MonitoringService) RecordAuditWrite(category string, persisted bool) {
	if svc == nil {
		return
	}
	result := "persisted"
	if !persisted {
		result = "fallback"
	}
	auditWritesTotal.WithLabelValues(category, result).Inc()
}

// MonitoringMiddleware records latency and status per route pattern. Denials by later
// middleware are counted with the status they produced.
func MonitoringMiddleware(monitoringSvc *MonitoringService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Path() == "/metrics" {
			return c.Next()
		}

		start := time.Now()
		method := c.Method()
		endpoint := c.Route().Path

		httpRequestsActive.WithLabelValues(endpoint, method).Inc()
		defer httpRequestsActive.WithLabelValues(endpoint, method).Dec()

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fiberErr, ok := err.(*fiber.Error); ok {
				status = fiberErr.Code
			}
		}
		monitoringSvc.RecordRequest(method, endpoint, status, time.Since(start))
		return err
	}
}
