package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/dentaldesk/dentaldesk/internal/config"
	"github.com/dentaldesk/dentaldesk/internal/platform/auth"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:                   "8000",
		Env:                    "development",
		LogLevel:               "info",
		DatabaseURL:            "postgres://localhost/dentaldesk",
		CORSOrigins:            []string{"http://localhost:3000"},
		RateLimitRPS:           100,
		RateLimitBurst:         100,
		RequestTimeout:         5 * time.Second,
		StoreTimeout:           time.Second,
		ClinicOpenTime:         "08:00",
		ClinicCloseTime:        "18:00",
		SlotGranularityMinutes: 30,
	}
}

func testServer(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	e, err := newServer(serverDeps{cfg: cfg, logger: zerolog.Nop(), registry: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}
	return e
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCalendarFromConfig(t *testing.T) {
	cal, err := calendarFromConfig(testConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cal.OpenTime != (civil.Time{Hour: 8}) || cal.CloseTime != (civil.Time{Hour: 18}) || cal.SlotGranularityMinutes != 30 {
		t.Errorf("unexpected calendar: %+v", cal)
	}

	cfg := testConfig()
	cfg.ClinicOpenTime = "19:00"
	if _, err := calendarFromConfig(cfg); err == nil {
		t.Error("expected error when opening after closing")
	}
	cfg = testConfig()
	cfg.ClinicCloseTime = "6pm"
	if _, err := calendarFromConfig(cfg); err == nil || !strings.Contains(err.Error(), "CLINIC_CLOSE_TIME") {
		t.Errorf("expected CLINIC_CLOSE_TIME error, got %v", err)
	}
}

func TestRateLimitConfig(t *testing.T) {
	cfg := testConfig()
	cfg.PublicRateLimitRPS = 0.5
	rl := rateLimitConfig(cfg)
	if rl.RequestsPerSecond != 100 || rl.BurstSize != 100 {
		t.Errorf("staff budget not applied: %+v", rl)
	}
	if rl.PublicRequestsPerSecond != 0.5 || rl.PublicBurstSize != 10 {
		t.Errorf("unexpected public budget: %+v", rl)
	}
	if rl.PublicPrefix != auth.PublicPrefix {
		t.Errorf("public prefix = %q, want %q", rl.PublicPrefix, auth.PublicPrefix)
	}
}

func TestNewServer_Health(t *testing.T) {
	h := testServer(t, testConfig())
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "ok" || body["version"] != version {
		t.Errorf("unexpected body: %v", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected request id header")
	}
}

func TestNewServer_Metrics(t *testing.T) {
	h := testServer(t, testConfig())
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestNewServer_DevRoleGates(t *testing.T) {
	h := testServer(t, testConfig())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients/5f0c1c8e-3b1e-4d59-9d8c-2b6f1d7e4a10/notes", nil)
	req.Header.Set(auth.DevRolesHeader, "receptionist")
	if rec := serve(h, req); rec.Code != http.StatusForbidden {
		t.Errorf("receptionist reading notes: expected 403, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/bookings/5f0c1c8e-3b1e-4d59-9d8c-2b6f1d7e4a10/complete", nil)
	req.Header.Set(auth.DevRolesHeader, "receptionist")
	if rec := serve(h, req); rec.Code != http.StatusForbidden {
		t.Errorf("receptionist completing a visit: expected 403, got %d", rec.Code)
	}
}

func TestNewServer_JWTMode(t *testing.T) {
	cfg := testConfig()
	cfg.Env = "production"
	cfg.AuthSigningKey = "test-signing-key"
	h := testServer(t, cfg)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/appointment-types", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rec.Code)
	}

	// Public routes skip auth; this one fails validation before touching the store.
	rec = serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/public/availability", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 from public availability, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"slots":[]`) {
		t.Errorf("expected empty slots, got %s", rec.Body.String())
	}
	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS should be off without TLS")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "staff-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: []string{"receptionist"},
	})
	signed, err := token.SignedString([]byte(cfg.AuthSigningKey))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/notes/5f0c1c8e-3b1e-4d59-9d8c-2b6f1d7e4a10", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	if rec := serve(h, req); rec.Code != http.StatusForbidden {
		t.Errorf("receptionist reading a note: expected 403, got %d", rec.Code)
	}
}

func TestNewServer_InvalidCalendar(t *testing.T) {
	cfg := testConfig()
	cfg.SlotGranularityMinutes = 0
	if _, err := newServer(serverDeps{cfg: cfg, logger: zerolog.Nop(), registry: prometheus.NewRegistry()}); err == nil {
		t.Error("expected error for zero slot granularity")
	}
}
