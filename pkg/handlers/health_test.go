package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-insights/pkg/config"
)

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(ctx context.Context) error {
	return s.err
}

func TestHealthHandler_Health(t *testing.T) {
	configured := config.AnalyticsConfig{Host: "https://analytics.example.com", ProjectID: "42", APIKey: "phx_test"}

	tests := []struct {
		name          string
		db            Pinger
		analytics     config.AnalyticsConfig
		wantCode      int
		wantStatus    string
		wantDatabase  string
		wantAnalytics string
	}{
		{"no backends", nil, config.AnalyticsConfig{}, http.StatusOK, "ok", "not_configured", "not_configured"},
		{"database up", stubPinger{}, configured, http.StatusOK, "ok", "ok", "configured"},
		{"database down", stubPinger{err: errors.New("connection refused")}, config.AnalyticsConfig{}, http.StatusServiceUnavailable, "degraded", "unreachable", "not_configured"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Version: "test-version", Env: "test", Analytics: tt.analytics}
			handler := NewHealthHandler(cfg, tt.db, zap.NewNop())

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			rec := httptest.NewRecorder()

			handler.Health(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("expected status %d, got %d", tt.wantCode, rec.Code)
			}

			var response HealthResponse
			if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if response.Status != tt.wantStatus {
				t.Errorf("expected status %q, got %q", tt.wantStatus, response.Status)
			}
			if response.Database != tt.wantDatabase {
				t.Errorf("expected database %q, got %q", tt.wantDatabase, response.Database)
			}
			if response.Analytics != tt.wantAnalytics {
				t.Errorf("expected analytics %q, got %q", tt.wantAnalytics, response.Analytics)
			}
		})
	}
}

func TestHealthHandler_Ping(t *testing.T) {
	cfg := &config.Config{
		Version: "1.2.3",
		Env:     "test",
	}
	handler := NewHealthHandler(cfg, nil, zap.NewNop())

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var response PingResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.Version != "1.2.3" {
		t.Errorf("expected version '1.2.3', got '%s'", response.Version)
	}
	if response.Service != "ekaya-insights" {
		t.Errorf("expected service 'ekaya-insights', got '%s'", response.Service)
	}
	if response.Environment != "test" {
		t.Errorf("expected environment 'test', got '%s'", response.Environment)
	}
	if response.GoVersion == "" {
		t.Error("expected non-empty go_version")
	}
}
