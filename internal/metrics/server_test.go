package metrics_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/evetabi/betledger/internal/metrics"
)

func TestOpsRouter_Healthz(t *testing.T) {
	ok := metrics.NewOpsRouter(map[string]metrics.HealthFunc{
		"db": func(context.Context) error { return nil },
	})
	rec := httptest.NewRecorder()
	ok.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthy status = %d", rec.Code)
	}

	bad := metrics.NewOpsRouter(map[string]metrics.HealthFunc{
		"redis": func(context.Context) error { return errors.New("down") },
	})
	rec = httptest.NewRecorder()
	bad.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "redis") {
		t.Errorf("unhealthy: status=%d body=%q", rec.Code, rec.Body.String())
	}
}

func TestOpsRouter_Metrics(t *testing.T) {
	metrics.PayoutDust.Add(1)
	rec := httptest.NewRecorder()
	metrics.NewOpsRouter(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "betledger_payout_dust_total") {
		t.Errorf("metrics: status=%d", rec.Code)
	}
}
