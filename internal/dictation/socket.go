package dictation

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/Ni-011/voiceMD-sub000/internal/platform/auth"
	"github.com/Ni-011/voiceMD-sub000/internal/platform/metrics"
)

// Message types. The server sends start, stop, state, phrase, notice,
// transcript and error; the browser sends the control messages capture,
// release, language, transcript and reset, and reports its recognizer
// through permission, result, error and end.
const (
	msgStart      = "start"
	msgStop       = "stop"
	msgState      = "state"
	msgPhrase     = "phrase"
	msgNotice     = "notice"
	msgTranscript = "transcript"
	msgError      = "error"

	msgCapture    = "capture"
	msgRelease    = "release"
	msgLanguage   = "language"
	msgReset      = "reset"
	msgPermission = "permission"
	msgResult     = "result"
	msgEnd        = "end"
)

type message struct {
	Type    string `json:"type"`
	SID     string `json:"sid,omitempty"`
	Field   string `json:"field,omitempty"`
	Lang    string `json:"lang,omitempty"`
	Text    string `json:"text,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	State   string `json:"state,omitempty"`
	Granted *bool  `json:"granted,omitempty"`
}

const (
	writeWait       = 10 * time.Second
	defaultPongWait = 60 * time.Second
	maxMessageSize  = 64 << 10
	sendBuffer      = 256
	commandBuffer   = 16
)

type HandlerConfig struct {
	// AllowedOrigins restricts the handshake Origin header. Empty allows any.
	AllowedOrigins []string
	// PongWait is how long the socket may stay silent, pongs included,
	// before it is treated as dead. Pings go out at 9/10 of it.
	PongWait    time.Duration
	RetryBudget int
	BackOff     func() backoff.BackOff
	Logger      zerolog.Logger
	Metrics     *metrics.Collector
}

// Handler serves /ws/dictation. Each connection owns one Controller, which
// is stopped when the socket closes.
type Handler struct {
	cfg      HandlerConfig
	upgrader gorillawebsocket.Upgrader
}

func NewHandler(cfg HandlerConfig) *Handler {
	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = true
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPongWait
	}
	return &Handler{
		cfg: cfg,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin]
			},
		},
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws/dictation", h.Connect)
}

// Connect upgrades the request and serves the connection until it closes.
func (h *Handler) Connect(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil
	}

	clinician := auth.UserIDFromContext(c.Request().Context())
	logger := h.cfg.Logger.With().Str("clinician_id", clinician).Logger()

	ctx, cancel := context.WithCancel(c.Request().Context())
	cn := &conn{ws: ws, send: make(chan []byte, sendBuffer), pingPeriod: h.cfg.PongWait * 9 / 10}
	engine := newBrowserEngine(cn.write)
	ctrl := NewController(engine, Options{
		RetryBudget: h.cfg.RetryBudget,
		BackOff:     h.cfg.BackOff,
		OnPhrase: func(field, phrase string) {
			cn.write(message{Type: msgPhrase, Field: field, Text: phrase})
		},
		OnNotice: func(n Notice) {
			cn.write(message{Type: msgNotice, Field: n.Field, Code: n.Code, Message: n.Message})
		},
		OnState: func(st State, field string) {
			cn.write(message{Type: msgState, State: string(st), Field: field})
		},
		Logger:  logger,
		Metrics: h.cfg.Metrics,
	})

	h.cfg.Metrics.DictationOpened()
	logger.Debug().Msg("dictation socket opened")

	go cn.writePump()

	var opening sync.WaitGroup
	cs := &commandSink{
		ctrl: ctrl,
		cn:   cn,
		launch: func(open func() error) {
			opening.Add(1)
			go func() {
				defer opening.Done()
				// Open failures are already reported to the browser as notices.
				if err := open(); err != nil {
					logger.Debug().Err(err).Msg("capture not started")
				}
			}()
		},
		logger: logger,
	}

	commands := make(chan message, commandBuffer)
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		cs.dispatch(ctx, commands)
	}()

	h.readPump(ws, engine, cn, commands)

	cancel()
	<-dispatched
	if err := ctrl.Stop(); err != nil {
		logger.Debug().Err(err).Msg("stop capture on close")
	}
	opening.Wait()
	engine.close()
	cn.close()
	h.cfg.Metrics.DictationClosed()
	logger.Debug().Msg("dictation socket closed")
	return nil
}

// readPump routes recognizer reports straight to the engine, since a
// pending Open waits on them, and queues control messages for dispatch.
// It never blocks on the queue; it returns when the socket fails or stays
// silent past PongWait.
func (h *Handler) readPump(ws *gorillawebsocket.Conn, engine *browserEngine, cn *conn, commands chan<- message) {
	pongWait := h.cfg.PongWait
	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		ws.SetReadDeadline(time.Now().Add(pongWait))

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			cn.write(message{Type: msgError, Message: "malformed message"})
			continue
		}

		switch msg.Type {
		case msgPermission, msgResult, msgError, msgEnd:
			engine.deliver(msg)
		case msgCapture, msgRelease, msgLanguage, msgTranscript, msgReset:
			select {
			case commands <- msg:
			default:
				cn.write(message{Type: msgError, Field: msg.Field, Message: "too many pending commands, " + msg.Type + " dropped"})
			}
		default:
			cn.write(message{Type: msgError, Message: "unknown message type " + msg.Type})
		}
	}
}

// commandSink applies control messages to the controller in arrival order.
// Nothing in it waits on the browser: recognizer opens are handed to launch,
// so a later release or capture supersedes a pending permission prompt.
type commandSink struct {
	ctrl   *Controller
	cn     *conn
	launch func(open func() error)
	logger zerolog.Logger
}

func (s *commandSink) dispatch(ctx context.Context, commands <-chan message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-commands:
			s.handle(ctx, msg)
		}
	}
}

func (s *commandSink) handle(ctx context.Context, msg message) {
	switch msg.Type {
	case msgCapture:
		if msg.Field == "" {
			s.cn.write(message{Type: msgError, Message: "field is required"})
			return
		}
		open, err := s.ctrl.begin(ctx, msg.Field, false)
		if err != nil {
			s.cn.write(message{Type: msgError, Field: msg.Field, Message: err.Error()})
			return
		}
		if open != nil {
			s.launch(open)
		}
	case msgRelease:
		if err := s.ctrl.Stop(); err != nil {
			s.logger.Warn().Err(err).Msg("release capture")
		}
	case msgLanguage:
		lang, err := ParseLanguage(msg.Lang)
		if err != nil {
			s.cn.write(message{Type: msgError, Message: err.Error()})
			return
		}
		open, err := s.ctrl.setLanguage(ctx, lang)
		if err != nil {
			s.logger.Debug().Err(err).Str("lang", msg.Lang).Msg("language switch")
			return
		}
		if open != nil {
			s.launch(open)
		}
	case msgTranscript:
		s.cn.write(message{Type: msgTranscript, Field: msg.Field, Text: s.ctrl.Transcript(msg.Field)})
	case msgReset:
		s.ctrl.Reset(msg.Field)
		s.cn.write(message{Type: msgTranscript, Field: msg.Field, Text: ""})
	}
}

// conn queues outbound frames for a single writer goroutine.
type conn struct {
	ws         *gorillawebsocket.Conn
	send       chan []byte
	pingPeriod time.Duration

	mu     sync.Mutex
	closed bool
}

// write enqueues msg without blocking. It reports false when the
// connection is closed or its buffer is full.
func (c *conn) write(msg message) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(gorillawebsocket.CloseMessage, gorillawebsocket.FormatCloseMessage(gorillawebsocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(gorillawebsocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
