package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func TestRequestID_GeneratesNew(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	var seen string
	h := RequestID()(func(c echo.Context) error {
		seen = requestID(c)
		return c.NoContent(http.StatusOK)
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen == "" {
		t.Fatal("expected request_id to be generated")
	}
	if rec.Header().Get(RequestIDHeader) != seen {
		t.Errorf("expected response header %q, got %q", seen, rec.Header().Get(RequestIDHeader))
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "rid-42")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	_ = RequestID()(func(c echo.Context) error { return nil })(c)
	if rec.Header().Get(RequestIDHeader) != "rid-42" {
		t.Errorf("expected rid-42, got %s", rec.Header().Get(RequestIDHeader))
	}
}

func TestLogger_WritesEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/dashboard/stats", nil), httptest.NewRecorder())
	c.Set(requestIDKey, "rid-1")

	h := Logger(logger)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	line := buf.String()
	for _, want := range []string{`"request_id":"rid-1"`, `"status":200`, `"path":"/api/v1/dashboard/stats"`, `"level":"info"`} {
		if !strings.Contains(line, want) {
			t.Errorf("log line missing %s: %s", want, line)
		}
	}
}

func TestLogger_HTTPErrorLoggedAsWarn(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/ws/dashboard", nil), httptest.NewRecorder())

	h := Logger(zerolog.New(&buf))(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
	})
	_ = h(c)
	if !strings.Contains(buf.String(), `"status":401`) {
		t.Errorf("expected status from HTTPError, got %s", buf.String())
	}
}

func TestRecovery_CatchesPanic(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/panic", nil), httptest.NewRecorder())

	err := Recovery(zerolog.New(&buf))(func(c echo.Context) error {
		panic("test panic")
	})(c)

	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", httpErr.Code)
	}
	if !strings.Contains(buf.String(), "test panic") {
		t.Errorf("expected panic to be logged, got %s", buf.String())
	}
}

func TestRecovery_PassesThrough(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/ok", nil), httptest.NewRecorder())
	if err := Recovery(zerolog.Nop())(func(c echo.Context) error { return nil })(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBodyLimit(t *testing.T) {
	e := echo.New()
	read := func(c echo.Context) error {
		_, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return err
		}
		return c.NoContent(http.StatusOK)
	}

	t.Run("within limit", func(t *testing.T) {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", strings.NewReader("small")), rec)
		if err := BodyLimit("1K")(read)(c); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("content length too large", func(t *testing.T) {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 2048))), rec)
		_ = BodyLimit("1K")(read)(c)
		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Fatalf("expected 413, got %d", rec.Code)
		}
	})

	t.Run("unknown length too large", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 2048)))
		req.ContentLength = -1
		c := e.NewContext(req, httptest.NewRecorder())
		err := BodyLimit("1K")(read)(c)
		he, ok := err.(*echo.HTTPError)
		if !ok || he.Code != http.StatusRequestEntityTooLarge {
			t.Fatalf("expected 413 error, got %v", err)
		}
	})
}

func TestParseSize(t *testing.T) {
	tests := map[string]int64{
		"":      1 << 20,
		"512":   512,
		"64K":   64 << 10,
		"64kb":  64 << 10,
		"1M":    1 << 20,
		"2G":    2 << 30,
		"bogus": 1 << 20,
		"-5":    1 << 20,
	}
	for in, want := range tests {
		if got := ParseSize(in); got != want {
			t.Errorf("ParseSize(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestRateLimit_PerKey(t *testing.T) {
	e := echo.New()
	mw := RateLimit(1, 2, func(c echo.Context) string { return c.Request().Header.Get("X-User") })
	h := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	call := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("X-User", user)
		rec := httptest.NewRecorder()
		if err := h(e.NewContext(req, rec)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := call("a"); rec.Code != http.StatusOK {
			t.Fatalf("request %d within burst: expected 200, got %d", i, rec.Code)
		}
	}
	rec := call("a")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Errorf("expected Retry-After 1, got %q", rec.Header().Get("Retry-After"))
	}
	if !strings.Contains(rec.Body.String(), `"success":false`) {
		t.Errorf("expected error envelope, got %s", rec.Body.String())
	}

	if rec := call("b"); rec.Code != http.StatusOK {
		t.Fatalf("other caller should have its own budget, got %d", rec.Code)
	}
}

func TestRateLimit_Disabled(t *testing.T) {
	e := echo.New()
	h := RateLimit(0, 0, nil)(func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		if err := h(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 with limiting disabled, got %d", rec.Code)
		}
	}
}
