// Package apierr defines the error vocabulary shared by services and the
// HTTP layer, and renders it as {"error": "..."} bodies.
package apierr

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ErrNotFound is matched by every domain not-found error.
var ErrNotFound = errors.New("not found")

type notFound struct{ msg string }

func (e *notFound) Error() string        { return e.msg }
func (e *notFound) Is(target error) bool { return target == ErrNotFound }

// NotFound returns a sentinel that satisfies errors.Is(err, ErrNotFound).
func NotFound(msg string) error {
	return &notFound{msg: msg}
}

// ValidationError lists every rejected input field.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Fields, "; ")
}

// Invalid builds a ValidationError from one or more messages.
func Invalid(msgs ...string) *ValidationError {
	return &ValidationError{Fields: msgs}
}

// Error carries an explicit status and client-safe message around an
// internal cause.
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func Wrap(status int, msg string, err error) *Error {
	return &Error{Status: status, Message: msg, Err: err}
}

type Response struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields,omitempty"`
}

// Resolve maps err to a status code and response body.
func Resolve(err error) (int, Response) {
	var validErr *ValidationError
	var apiErr *Error
	var httpErr *echo.HTTPError

	switch {
	case errors.As(err, &validErr):
		return http.StatusBadRequest, Response{Error: validErr.Error(), Fields: validErr.Fields}
	case errors.As(err, &apiErr):
		return apiErr.Status, Response{Error: apiErr.Message}
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, Response{Error: rootMessage(err)}
	case errors.As(err, &httpErr):
		msg, ok := httpErr.Message.(string)
		if !ok {
			msg = http.StatusText(httpErr.Code)
		}
		return httpErr.Code, Response{Error: msg}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, Response{Error: "request timed out"}
	default:
		return http.StatusInternalServerError, Response{Error: "internal server error"}
	}
}

// rootMessage returns the innermost not-found message, so wrapping context
// added by services does not leak into responses.
func rootMessage(err error) string {
	var nf *notFound
	if errors.As(err, &nf) {
		return nf.msg
	}
	return err.Error()
}

// ErrorHandler renders errors returned by handlers. Server-side failures
// are logged with the request id; client errors are not.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, body := Resolve(err)
		if status >= http.StatusInternalServerError {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).
				Str("request_id", rid).
				Str("path", c.Request().URL.Path).
				Int("status", status).
				Msg("request failed")
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, body)
		}
		if err != nil {
			logger.Error().Err(err).Msg("write error response")
		}
	}
}
