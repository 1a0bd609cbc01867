package metrics_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/samirrijal/gpsguard/internal/pkg/metrics"
)

func TestMiddleware_ExposesRequestMetrics(t *testing.T) {
	app := fiber.New()
	app.Use(metrics.Middleware())
	app.Get("/ping", func(c *fiber.Ctx) error { return c.SendString("pong") })
	app.Get("/metrics", metrics.Handler())

	resp, err := app.Test(httptest.NewRequest("GET", "/ping", nil), -1)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()

	resp, err = app.Test(httptest.NewRequest("GET", "/metrics", nil), -1)
	if err != nil {
		t.Fatalf("metrics request: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), `gpsguard_http_requests_total{method="GET",path="/ping",status="200"}`) {
		t.Errorf("request counter missing from /metrics output")
	}
}

type fakeStat struct{}

func (fakeStat) AcquiredConns() int32 { return 2 }
func (fakeStat) IdleConns() int32     { return 3 }
func (fakeStat) TotalConns() int32    { return 5 }

func TestUpdateDBPoolMetrics(t *testing.T) {
	metrics.UpdateDBPoolMetrics(fakeStat{})

	if got := testutil.ToFloat64(metrics.DBPoolConnsOpen); got != 5 {
		t.Errorf("open = %v, want 5", got)
	}
	if got := testutil.ToFloat64(metrics.DBPoolConnsIdle); got != 3 {
		t.Errorf("idle = %v, want 3", got)
	}

	// Unknown types are ignored.
	metrics.UpdateDBPoolMetrics(42)
	if got := testutil.ToFloat64(metrics.DBPoolConnsAcquired); got != 2 {
		t.Errorf("acquired = %v, want 2", got)
	}
}
