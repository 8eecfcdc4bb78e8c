package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

const timeoutMessage = "request processing exceeded the allowed time limit"

// RequestTimeout puts a deadline on each request context and answers 504
// when the handler overruns it. The dictation socket under /ws/ is exempt.
//
// The handler keeps running after a 504 until it notices ctx.Done(). Its
// writes from then on are dropped, but the echo.Context stays shared, so
// handlers must stop touching it once the request context is done.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if strings.HasPrefix(c.Request().URL.Path, "/ws/") {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			res := c.Response()
			tw := &timeoutWriter{w: res.Writer}
			res.Writer = tw

			done := make(chan error, 1)
			go func() {
				done <- next(c)
			}()

			select {
			case err := <-done:
				res.Writer = tw.w
				return err
			case <-ctx.Done():
				if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
					tw.abandon()
					return ctx.Err()
				}
				if tw.timeOut() {
					res.Committed = true
					res.Status = http.StatusGatewayTimeout
				}
				return nil
			}
		}
	}
}

// timeoutWriter serializes access to the underlying writer between the
// handler goroutine and the middleware. Once the deadline passes, handler
// writes are dropped with http.ErrHandlerTimeout.
type timeoutWriter struct {
	w http.ResponseWriter

	mu          sync.Mutex
	wroteHeader bool
	timedOut    bool
}

func (tw *timeoutWriter) Header() http.Header { return tw.w.Header() }

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut || tw.wroteHeader {
		return
	}
	tw.wroteHeader = true
	tw.w.WriteHeader(code)
}

func (tw *timeoutWriter) Write(b []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut {
		return 0, http.ErrHandlerTimeout
	}
	tw.wroteHeader = true
	return tw.w.Write(b)
}

func (tw *timeoutWriter) Unwrap() http.ResponseWriter { return tw.w }

// timeOut stops handler writes and sends the 504 when the handler has not
// started its response. It reports whether the 504 was written.
func (tw *timeoutWriter) timeOut() bool {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	tw.timedOut = true
	if tw.wroteHeader {
		return false
	}
	tw.w.Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	tw.w.WriteHeader(http.StatusGatewayTimeout)
	json.NewEncoder(tw.w).Encode(map[string]string{"error": timeoutMessage})
	return true
}

func (tw *timeoutWriter) abandon() {
	tw.mu.Lock()
	tw.timedOut = true
	tw.mu.Unlock()
}
