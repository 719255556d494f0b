package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSecurityAndCORSHeaders(t *testing.T) {
	rec := do(NewMux(&mockService{}), http.MethodGet, "/v2", "")
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("missing nosniff header")
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("CORS headers present while disabled")
	}

	SetCORSOptions(true, []string{"http://ui.local"}, []string{"GET", "POST"}, []string{"Content-Type"})
	defer SetCORSOptions(false, nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/v2", nil)
	req.Header.Set("Origin", "http://ui.local")
	rec = httptest.NewRecorder()
	NewMux(&mockService{}).ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://ui.local" {
		t.Fatalf("Access-Control-Allow-Origin=%q", got)
	}
}
