package dictation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/Ni-011/voiceMD-sub000/internal/platform/metrics"
)

type State string

const (
	StateIdle                 State = "idle"
	StateRequestingPermission State = "requesting-permission"
	StateListening            State = "listening"
)

// Notice codes published to the user.
const (
	NoticePermissionDenied = "permission-denied"
	NoticeRetriesExhausted = "retries-exhausted"
	NoticeEngineFailed     = "engine-failed"
)

// Notice is a dismissable message about a capture that ended on its own.
type Notice struct {
	Field   string `json:"field,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Options configures a Controller. The callbacks run while the controller's
// lock is held; they must not block or call back into the Controller.
type Options struct {
	Language Language
	// RetryBudget is how many delayed relaunches are allowed after
	// non-benign engine errors before capture gives up.
	RetryBudget int
	BackOff     func() backoff.BackOff

	OnPhrase func(field, phrase string)
	OnNotice func(Notice)
	OnState  func(state State, field string)

	Logger  zerolog.Logger
	Metrics *metrics.Collector
}

// Controller owns the recognizer for a single client. At most one field
// captures at a time; every transition happens under mu, and events from a
// superseded session are dropped by comparing generations.
type Controller struct {
	engine Engine
	opts   Options

	mu          sync.Mutex
	state       State
	field       string
	lang        Language
	gen         uint64
	session     Session
	cancel      context.CancelFunc
	transcripts map[string][]string
}

func NewController(engine Engine, opts Options) *Controller {
	if opts.Language == "" {
		opts.Language = English
	}
	if opts.BackOff == nil {
		opts.BackOff = defaultBackOff
	}
	return &Controller{
		engine:      engine,
		opts:        opts,
		state:       StateIdle,
		lang:        opts.Language,
		transcripts: make(map[string][]string),
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 300 * time.Millisecond
	b.MaxInterval = 3 * time.Second
	b.Reset()
	return b
}

// Start begins capture for field, stopping any other capture first. ctx
// bounds the whole capture, not just the permission request. Starting the
// field that is already capturing is a no-op.
func (c *Controller) Start(ctx context.Context, field string) error {
	return c.start(ctx, field, false)
}

func (c *Controller) start(ctx context.Context, field string, restart bool) error {
	open, err := c.begin(ctx, field, restart)
	if err != nil || open == nil {
		return err
	}
	return open()
}

// begin supersedes any current capture and moves field to
// requesting-permission without blocking. The returned func opens the
// recognizer and waits for the permission answer; it is nil when field is
// already capturing. A later begin or Stop cancels a pending open.
func (c *Controller) begin(ctx context.Context, field string, restart bool) (func() error, error) {
	if field == "" {
		return nil, errors.New("dictation: field is required")
	}

	c.mu.Lock()
	if !restart && c.field == field && c.state != StateIdle {
		c.mu.Unlock()
		return nil, nil
	}
	old := c.detachLocked()
	c.gen++
	gen := c.gen
	lang := c.lang
	cctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.field = field
	c.setStateLocked(StateRequestingPermission)
	c.mu.Unlock()

	c.release(old)

	return func() error { return c.open(ctx, cctx, gen, field, lang) }, nil
}

func (c *Controller) open(ctx, cctx context.Context, gen uint64, field string, lang Language) error {
	s, err := c.engine.Open(cctx, lang)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		if err == nil {
			c.release(s)
		}
		return nil
	}
	if err != nil {
		c.detachLocked()
		c.gen++
		c.field = ""
		c.setStateLocked(StateIdle)
		if ctx.Err() == nil {
			c.notifyLocked(noticeFor(field, err))
		}
		c.mu.Unlock()
		return fmt.Errorf("open recognizer: %w", err)
	}
	c.session = s
	c.setStateLocked(StateListening)
	c.mu.Unlock()

	go c.pump(cctx, gen, field, s)
	return nil
}

// Stop ends any capture and releases the audio device. It is safe to call
// when idle.
func (c *Controller) Stop() error {
	c.mu.Lock()
	s := c.detachLocked()
	c.gen++
	c.field = ""
	if c.state != StateIdle {
		c.setStateLocked(StateIdle)
	}
	c.mu.Unlock()

	if s == nil {
		return nil
	}
	return s.Stop()
}

// SetLanguage switches the recognizer locale. An active capture is
// restarted on the same field under the new locale.
func (c *Controller) SetLanguage(ctx context.Context, lang Language) error {
	open, err := c.setLanguage(ctx, lang)
	if err != nil || open == nil {
		return err
	}
	return open()
}

func (c *Controller) setLanguage(ctx context.Context, lang Language) (func() error, error) {
	if _, err := ParseLanguage(string(lang)); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.lang = lang
	field := c.field
	active := c.state != StateIdle
	c.mu.Unlock()

	if !active {
		return nil, nil
	}
	return c.begin(ctx, field, true)
}

// Active returns the capturing field, if any.
func (c *Controller) Active() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.field, c.state != StateIdle
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Language() Language {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lang
}

// Transcript returns the finalized phrases captured for field, joined by a
// single space.
func (c *Controller) Transcript(field string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.transcripts[field], " ")
}

func (c *Controller) Reset(field string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.transcripts, field)
}

func (c *Controller) pump(ctx context.Context, gen uint64, field string, s Session) {
	bo := c.opts.BackOff()
	failures := 0

	for {
		var ev Event
		select {
		case <-ctx.Done():
			return
		case e, ok := <-s.Events():
			if !ok {
				e = Event{Kind: EventEnd}
			}
			ev = e
		}

		var reason string
		var delay time.Duration

		switch ev.Kind {
		case EventPhrase:
			if !c.appendPhrase(gen, field, ev.Text) {
				return
			}
			failures = 0
			bo.Reset()
			continue
		case EventEnd:
			reason = "ended"
		case EventError:
			switch {
			case benign(ev.Code):
				reason = ev.Code
			case denied(ev.Code):
				c.giveUp(gen, Notice{Field: field, Code: NoticePermissionDenied, Message: "Microphone access was denied."})
				return
			default:
				failures++
				delay = bo.NextBackOff()
				if failures > c.opts.RetryBudget || delay == backoff.Stop {
					c.giveUp(gen, Notice{
						Field:   field,
						Code:    NoticeRetriesExhausted,
						Message: fmt.Sprintf("Speech recognition stopped after repeated errors (%s).", ev.Code),
					})
					return
				}
				reason = ev.Code
			}
		default:
			continue
		}

		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}

		next, ok := c.relaunch(ctx, gen, field, s, reason)
		if !ok {
			return
		}
		s = next
	}
}

func (c *Controller) appendPhrase(gen uint64, field, phrase string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		return true
	}
	c.transcripts[field] = append(c.transcripts[field], phrase)
	if c.opts.OnPhrase != nil {
		c.opts.OnPhrase(field, phrase)
	}
	return true
}

func (c *Controller) relaunch(ctx context.Context, gen uint64, field string, old Session, reason string) (Session, bool) {
	c.release(old)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return nil, false
	}
	lang := c.lang
	c.mu.Unlock()

	s, err := c.engine.Open(ctx, lang)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		if err == nil {
			c.release(s)
		}
		return nil, false
	}
	if err != nil {
		c.mu.Unlock()
		c.giveUp(gen, noticeFor(field, err))
		return nil, false
	}
	c.session = s
	c.mu.Unlock()

	c.opts.Metrics.DictationRelaunch(reason)
	c.opts.Logger.Debug().Str("field", field).Str("reason", reason).Msg("recognizer relaunched")
	return s, true
}

func (c *Controller) giveUp(gen uint64, n Notice) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	s := c.detachLocked()
	c.gen++
	c.field = ""
	c.setStateLocked(StateIdle)
	c.notifyLocked(n)
	c.mu.Unlock()

	c.release(s)
}

// detachLocked cancels the current capture context and hands back the
// session for release outside the lock.
func (c *Controller) detachLocked() Session {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	s := c.session
	c.session = nil
	return s
}

func (c *Controller) release(s Session) {
	if s == nil {
		return
	}
	if err := s.Stop(); err != nil {
		c.opts.Logger.Warn().Err(err).Msg("stop recognizer session")
	}
}

func (c *Controller) setStateLocked(st State) {
	c.state = st
	c.opts.Logger.Debug().Str("state", string(st)).Str("field", c.field).Msg("dictation state")
	if c.opts.OnState != nil {
		c.opts.OnState(st, c.field)
	}
}

func (c *Controller) notifyLocked(n Notice) {
	c.opts.Logger.Info().Str("code", n.Code).Str("field", n.Field).Msg(n.Message)
	if c.opts.OnNotice != nil {
		c.opts.OnNotice(n)
	}
}

func noticeFor(field string, err error) Notice {
	if errors.Is(err, ErrPermissionDenied) {
		return Notice{Field: field, Code: NoticePermissionDenied, Message: "Microphone access was denied."}
	}
	return Notice{Field: field, Code: NoticeEngineFailed, Message: "Speech recognition could not be started."}
}
