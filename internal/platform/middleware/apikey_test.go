package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestAPIKey_RejectsMissingKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/scans", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}

	err := APIKey("secret")(handler)(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %v", err)
	}
	if httpErr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", httpErr.Code)
	}
}

func TestAPIKey_AcceptsHeader(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/scans", nil)
	req.Header.Set(APIKeyHeader, "secret")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}

	if err := APIKey("secret")(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAPIKey_AcceptsBearer(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/scans", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}

	if err := APIKey("secret")(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAPIKey_EmptyKeyDisablesGuard(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/scans", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}

	if err := APIKey("")(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
