package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestRequestTimeout_CompletesWithinDeadline(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/patients", nil), rec)

	called := false
	handler := func(c echo.Context) error {
		called = true
		return c.String(http.StatusOK, "ok")
	}

	if err := RequestTimeout(5 * time.Second)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected handler to be called")
	}
}

func TestRequestTimeout_ReturnsTimeoutOnExpiry(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/visits", nil), rec)

	release := make(chan struct{})
	defer close(release)
	handler := func(c echo.Context) error {
		<-release
		return nil
	}

	if err := RequestTimeout(20 * time.Millisecond)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("expected 504, got %d", rec.Code)
	}
}

func TestRequestTimeout_SkipsWebSocket(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/ws/dictation", nil), httptest.NewRecorder())

	handler := func(c echo.Context) error {
		if _, ok := c.Request().Context().Deadline(); ok {
			t.Error("expected no deadline on websocket path")
		}
		return nil
	}
	RequestTimeout(time.Millisecond)(handler)(c)
}

func TestRequestTimeout_DropsLateHandlerWrites(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/patients", nil), rec)

	release := make(chan struct{})
	finished := make(chan struct{})
	var lateErr error
	handler := func(c echo.Context) error {
		<-c.Request().Context().Done()
		<-release
		lateErr = c.String(http.StatusOK, "late")
		close(finished)
		return lateErr
	}

	if err := RequestTimeout(20 * time.Millisecond)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	close(release)
	<-finished

	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("expected 504, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "late") {
		t.Errorf("late handler output reached the client: %q", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), timeoutMessage) {
		t.Errorf("expected timeout body, got %q", rec.Body.String())
	}
	if !errors.Is(lateErr, http.ErrHandlerTimeout) {
		t.Errorf("expected ErrHandlerTimeout for the late write, got %v", lateErr)
	}
	if c.Response().Status != http.StatusGatewayTimeout {
		t.Errorf("expected response status 504 for upstream middleware, got %d", c.Response().Status)
	}
}

func TestRequestTimeout_HandlerResponsePassesThrough(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/patients", nil), rec)

	handler := func(c echo.Context) error {
		return c.String(http.StatusCreated, "made")
	}
	if err := RequestTimeout(time.Second)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated || rec.Body.String() != "made" {
		t.Errorf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
	if _, wrapped := c.Response().Writer.(*timeoutWriter); wrapped {
		t.Error("expected the original writer restored")
	}
}
