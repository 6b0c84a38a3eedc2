package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func securityRouter(opt SecurityOptions) *gin.Engine {
	r := gin.New()
	r.Use(RequestID())
	r.Use(SecurityHeaders(opt))
	r.GET("/p", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestSecurityHeaders_Baseline(t *testing.T) {
	r := securityRouter(SecurityOptions{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/p", nil))

	h := w.Header()
	if h.Get("X-Content-Type-Options") != "nosniff" {
		t.Errorf("nosniff missing")
	}
	if h.Get("X-Frame-Options") != "DENY" {
		t.Errorf("frame options missing")
	}
	if h.Get("Referrer-Policy") != "no-referrer" {
		t.Errorf("referrer policy missing")
	}
	// Opt-in headers absent by default.
	if h.Get("Permissions-Policy") != "" || h.Get("Cache-Control") != "" {
		t.Errorf("opt-in headers emitted: %v", h)
	}
	if h.Get("Strict-Transport-Security") != "" {
		t.Errorf("HSTS emitted without opt-in")
	}
}

func TestSecurityHeaders_OptIns(t *testing.T) {
	r := securityRouter(SecurityOptions{NoStore: true, EnablePolicy: true})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/p", nil))

	h := w.Header()
	if h.Get("Cache-Control") != "no-store" {
		t.Errorf("no-store missing")
	}
	if h.Get("Permissions-Policy") == "" {
		t.Errorf("permissions policy missing")
	}
}

func TestSecurityHeaders_HSTSOnlyOverHTTPS(t *testing.T) {
	r := securityRouter(SecurityOptions{EnableHSTS: true, HSTSMaxAge: time.Hour})

	// Plain HTTP: no HSTS.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/p", nil))
	if w.Header().Get("Strict-Transport-Security") != "" {
		t.Fatal("HSTS emitted for plain HTTP")
	}

	// Behind a TLS-terminating proxy.
	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	got := w.Header().Get("Strict-Transport-Security")
	if !strings.Contains(got, "max-age=3600") {
		t.Fatalf("HSTS = %q", got)
	}
}

func TestSecurityHeaders_ExposesRequestID(t *testing.T) {
	r := securityRouter(SecurityOptions{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/p", nil))

	if !strings.Contains(w.Header().Get("Access-Control-Expose-Headers"), "X-Request-ID") {
		t.Fatalf("expose headers = %q", w.Header().Get("Access-Control-Expose-Headers"))
	}
}
