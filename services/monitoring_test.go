package services

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/lac-hong-legacy/academy_api/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticStats dto.RateLimitStatistics

func (s staticStats) GetStatistics(context.Context) dto.RateLimitStatistics {
	return dto.RateLimitStatistics(s)
}

func scrape(t *testing.T, svc *MonitoringService) string {
	t.Helper()
	app := fiber.New()
	app.Get("/metrics", svc.metricsHandler)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMonitoring_SecurityGaugesFollowStatistics(t *testing.T) {
	svc := &MonitoringService{register: newSecurityRegistry()}

	svc.refreshSecurityGauges(context.Background())

	svc.WatchSecurityState(staticStats{
		TotalBlockedIdentifiers: 3,
		SuspiciousPatterns:      2,
		RateLimitsByAction:      map[string]int{"login": 4, "api": 1},
	})
	svc.refreshSecurityGauges(context.Background())

	body := scrape(t, svc)
	assert.Contains(t, body, "security_blocked_identifiers 3")
	assert.Contains(t, body, "security_suspicious_patterns 2")
	assert.Contains(t, body, `security_active_rate_limit_windows{action="login"} 4`)
	assert.Contains(t, body, `security_active_rate_limit_windows{action="api"} 1`)

	svc.WatchSecurityState(staticStats(dto.EmptyRateLimitStatistics()))
	svc.refreshSecurityGauges(context.Background())

	body = scrape(t, svc)
	assert.Contains(t, body, "security_blocked_identifiers 0")
	assert.NotContains(t, body, `action="login"`)
}

func TestMonitoring_RecordersAreNilSafe(t *testing.T) {
	var svc *MonitoringService

	assert.NotPanics(t, func() {
		svc.RecordRequest("GET", "/", 200, 0)
		svc.RecordRateLimitDecision("login", false)
		svc.RecordStoreFailure("check_rate_limit")
		svc.RecordBlock("manual")
		svc.RecordAbuseScore(40)
		svc.RecordDDoSDecision(true)
		svc.RecordMiddlewareDenial("input")
		svc.RecordAuditWrite("security", false)
		svc.WatchSecurityState(nil)
	})
}
