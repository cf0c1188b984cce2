package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestPoolStats_Fields(t *testing.T) {
	stats := &PoolStats{
		TotalConns:      10,
		IdleConns:       5,
		AcquiredConns:   5,
		MaxConns:        20,
		AcquireCount:    100,
		AcquireDuration: "1.5s",
		Healthy:         true,
	}

	b, err := json.Marshal(stats)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]interface{}
	json.Unmarshal(b, &decoded)
	for _, key := range []string{"total_conns", "idle_conns", "acquired_conns", "max_conns", "acquire_count", "acquire_duration", "healthy"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("missing json key %q", key)
		}
	}
}

func runHealth(t *testing.T, h echo.HandlerFunc) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health/db", nil), rec)
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec, body
}

func TestHealthHandler_Healthy(t *testing.T) {
	ok := PingFunc(func(context.Context) error { return nil })
	rec, body := runHealth(t, HealthHandler(ok, map[string]Pinger{"redis": ok}))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", body["status"])
	}
	deps, _ := body["dependencies"].(map[string]interface{})
	if deps["redis"] != "ok" {
		t.Errorf("expected redis ok, got %v", deps["redis"])
	}
}

func TestHealthHandler_DatabaseDown(t *testing.T) {
	down := PingFunc(func(context.Context) error { return errors.New("connection refused") })
	rec, body := runHealth(t, HealthHandler(down, nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	if body["error"] != "connection refused" {
		t.Errorf("unexpected error field: %v", body["error"])
	}
}

func TestHealthHandler_DependencyDown(t *testing.T) {
	ok := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("redis: i/o timeout") })
	rec, body := runHealth(t, HealthHandler(ok, map[string]Pinger{"redis": down}))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	if body["status"] != "unhealthy" {
		t.Errorf("expected unhealthy, got %v", body["status"])
	}
}
