package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gqy20/issuelab-secondme/config"
	"github.com/labstack/echo/v4"
)

var testSecret = []byte("test-secret")

func serveWithAuth(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, string) {
	t.Helper()
	e := echo.New()
	var seen string
	e.GET("/api/runs", func(c echo.Context) error {
		sub, _ := SubjectFromContext(c.Request().Context())
		if c.Get("user_id") != sub {
			t.Fatalf("context subject %q does not match echo user_id %v", sub, c.Get("user_id"))
		}
		seen = sub
		return c.NoContent(http.StatusNoContent)
	}, EchoAuthMiddleware(testSecret))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec, seen
}

func TestEchoAuthMiddlewareAcceptsBearer(t *testing.T) {
	tok, err := SignJWT("user-7", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec, sub := serveWithAuth(t, req)
	if rec.Code != http.StatusNoContent || sub != "user-7" {
		t.Fatalf("expected 204 for user-7, got %d %q", rec.Code, sub)
	}
}

func TestEchoAuthMiddlewareAcceptsQueryToken(t *testing.T) {
	tok, err := SignJWT("user-8", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	rec, sub := serveWithAuth(t, httptest.NewRequest(http.MethodGet, "/api/runs?access_token="+tok, nil))
	if rec.Code != http.StatusNoContent || sub != "user-8" {
		t.Fatalf("expected 204 for user-8, got %d %q", rec.Code, sub)
	}
}

func TestEchoAuthMiddlewareRejects(t *testing.T) {
	expired, _ := SignJWT("user-1", testSecret, -time.Minute)
	foreign, _ := SignJWT("user-1", []byte("other"), time.Hour)
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "user-1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	noSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}).SignedString(testSecret)

	for name, header := range map[string]string{
		"missing":    "",
		"garbage":    "Bearer not-a-token",
		"expired":    "Bearer " + expired,
		"foreign":    "Bearer " + foreign,
		"alg none":   "Bearer " + none,
		"no subject": "Bearer " + noSubject,
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec, _ := serveWithAuth(t, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", name, rec.Code)
		}
	}
}

func TestLoadJWTSecret(t *testing.T) {
	if _, err := LoadJWTSecret(&config.Config{}); err != ErrAuthDisabled {
		t.Fatalf("expected ErrAuthDisabled, got %v", err)
	}
	cfg := &config.Config{Server: config.ServerConfig{JWTSecret: " s3cret "}}
	secret, err := LoadJWTSecret(cfg)
	if err != nil || string(secret) != "s3cret" {
		t.Fatalf("unexpected secret %q err=%v", secret, err)
	}
}

func TestSignJWTRequiresSubject(t *testing.T) {
	if _, err := SignJWT(" ", testSecret, time.Hour); err == nil {
		t.Fatalf("expected error for empty subject")
	}
}

func TestSubjectFromContext(t *testing.T) {
	if _, ok := SubjectFromContext(context.Background()); ok {
		t.Fatalf("expected no subject")
	}
	ctx := ContextWithSubject(context.Background(), "u")
	if s, ok := SubjectFromContext(ctx); !ok || s != "u" {
		t.Fatalf("unexpected subject %q", s)
	}
}

func TestSetupTracingDisabled(t *testing.T) {
	tel, err := SetupTracing(context.Background(), config.TelemetryConfig{}, "test")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if tel.Enabled() {
		t.Fatalf("expected tracing disabled")
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
