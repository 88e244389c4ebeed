package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"nfcauth/config"
	"nfcauth/database"
	"nfcauth/services"
)

func newTestApplication(t *testing.T) *application {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{}
	cfg.Server.BaseURL = "https://cards.example.com"
	cfg.JWT.SecretKey = "test-secret"
	cfg.JWT.ExpiresIn = 1
	cfg.Payments.WalletKeys = map[string]string{}
	return newApplication(cfg, database.NewMemoryStore(), services.NewLNbitsClient(cfg), nil)
}

func TestFactoryHandshakeRoute(t *testing.T) {
	app := newTestApplication(t)

	req := httptest.NewRequest(http.MethodGet, "/nostrnfcauth/api/v1/auth?a="+services.FactoryOTP, nil)
	rr := httptest.NewRecorder()
	app.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	var resp services.HandshakeResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.K2 != "22222222222222222222222222222222" {
		t.Errorf("unexpected keys: %+v", resp)
	}
}

func TestMetricsRoute(t *testing.T) {
	app := newTestApplication(t)

	rr := httptest.NewRecorder()
	app.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
}

func TestAdminRoutesMounted(t *testing.T) {
	app := newTestApplication(t)

	rr := httptest.NewRecorder()
	app.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nostrnfcauth/api/v1/admin/cards", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusUnauthorized)
	}
}

func TestScanMethodNotAllowed(t *testing.T) {
	app := newTestApplication(t)

	rr := httptest.NewRecorder()
	app.router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/nostrnfcauth/api/v1/scan/ext1", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusMethodNotAllowed)
	}
}
