package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Ni-011/voiceMD-sub000/internal/platform/apierr"
	"github.com/Ni-011/voiceMD-sub000/internal/platform/metrics"
)

var (
	ErrEmptyText = errors.New("extraction: text is required")
	// ErrEmptyReply means the model answered with nothing usable.
	ErrEmptyReply = errors.New("extraction: model returned no structured result")
	// ErrUnavailable means the breaker is rejecting calls after repeated failures.
	ErrUnavailable = errors.New("extraction: model temporarily unavailable")
)

// ParseError reports a reply that is not JSON of the expected shape. Reply
// holds the raw model output for logging.
type ParseError struct {
	Reply string
	Err   error
}

func (e *ParseError) Error() string {
	return "parse model reply: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsModelFailure reports whether err came from the model side rather than
// from the caller's input or a cancelled context.
func IsModelFailure(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe) || errors.Is(err, ErrUnavailable) || errors.Is(err, errGenerate)
}

var errGenerate = errors.New("model call failed")

// ErrNoResult is returned to callers when the model produced nothing to
// persist.
var ErrNoResult = apierr.NotFound("no structured result produced from dictation")

// Classify maps extraction failures to API errors: an empty reply becomes
// ErrNoResult and model-side failures a 500 that hides the cause. Other
// errors pass through.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrEmptyReply):
		return ErrNoResult
	case errors.Is(err, ErrEmptyText):
		return apierr.Invalid("text is required")
	case IsModelFailure(err):
		return apierr.Wrap(http.StatusInternalServerError, "failed to structure dictation", err)
	default:
		return err
	}
}

type Client struct {
	gen     Generator
	breaker *gobreaker.CircuitBreaker[string]
	tracer  trace.Tracer
	metrics *metrics.Collector
	logger  zerolog.Logger
	timeout time.Duration
}

type Option func(*Client)

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) { c.metrics = m }
}

// WithTimeout bounds each model call. Zero leaves only the caller's deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithBreakerSettings replaces the default breaker policy.
func WithBreakerSettings(st gobreaker.Settings) Option {
	return func(c *Client) { c.breaker = gobreaker.NewCircuitBreaker[string](st) }
}

func NewClient(gen Generator, opts ...Option) *Client {
	c := &Client{
		gen:    gen,
		tracer: otel.Tracer("github.com/Ni-011/voiceMD-sub000/internal/extraction"),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
			Name:        "extraction",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				c.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("extraction breaker state changed")
			},
		})
	}
	return c
}

// Extract sends template and text as one prompt and returns the reply as a
// JSON object with any code fences removed.
func (c *Client) Extract(ctx context.Context, text, template string) (json.RawMessage, error) {
	return c.extract(ctx, text, template, "custom", nil)
}

// extract runs one model call. decode, when set, checks the reply's shape
// before the outcome is recorded, so rejected replies count as failures.
func (c *Client) extract(ctx context.Context, text, template, name string, decode func(json.RawMessage) error) (json.RawMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}

	ctx, span := c.tracer.Start(ctx, "extraction.generate", trace.WithAttributes(
		attribute.String("extraction.template", name),
		attribute.Int("extraction.text_length", len(text)),
	))
	defer span.End()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := c.call(ctx, template+"\n\n"+text)
	if err == nil && decode != nil {
		if err = decode(raw); err != nil {
			raw = nil
		}
	}
	outcome := "ok"
	if err != nil {
		outcome = outcomeOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		c.logger.Warn().Err(err).Str("template", name).Str("outcome", outcome).Msg("extraction failed")
	}
	c.metrics.ObserveExtraction(name, outcome, time.Since(start))
	return raw, err
}

func (c *Client) call(ctx context.Context, prompt string) (json.RawMessage, error) {
	reply, err := c.breaker.Execute(func() (string, error) {
		return c.gen.Generate(ctx, prompt)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("generate: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w", errGenerate, err)
	}

	body := StripFences(reply)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, ErrEmptyReply
	}
	if !json.Valid(body) {
		return nil, &ParseError{Reply: reply, Err: errors.New("reply is not valid JSON")}
	}
	if body[0] != '{' {
		return nil, &ParseError{Reply: reply, Err: errors.New("reply is not a JSON object")}
	}
	return json.RawMessage(body), nil
}

func outcomeOf(err error) string {
	var pe *ParseError
	switch {
	case errors.As(err, &pe):
		return "parse_error"
	case errors.Is(err, ErrEmptyReply):
		return "empty"
	case errors.Is(err, ErrUnavailable):
		return "breaker_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

// StripFences removes markdown code-fence markup (``` and ```json) and
// surrounding whitespace from a model reply.
func StripFences(reply string) []byte {
	s := strings.TrimSpace(reply)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "{[\"") {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(strings.TrimPrefix(s, "json"), "JSON")
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return []byte(strings.TrimSpace(s))
}
