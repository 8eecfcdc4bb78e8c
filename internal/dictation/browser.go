package dictation

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

var errConnClosed = errors.New("dictation: connection closed")

// browserEngine runs the recognizer inside the connected browser tab. Each
// session has an id that the browser echoes on every event, so events from
// a recognizer instance that was already replaced are dropped.
type browserEngine struct {
	send func(message) bool

	mu       sync.Mutex
	sessions map[string]*browserSession
	closed   bool
}

func newBrowserEngine(send func(message) bool) *browserEngine {
	return &browserEngine{
		send:     send,
		sessions: make(map[string]*browserSession),
	}
}

func (e *browserEngine) Open(ctx context.Context, lang Language) (Session, error) {
	s := &browserSession{
		id:      uuid.NewString(),
		engine:  e,
		events:  make(chan Event, 32),
		granted: make(chan bool, 1),
		done:    make(chan struct{}),
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, errConnClosed
	}
	e.sessions[s.id] = s
	e.mu.Unlock()

	if !e.send(message{Type: msgStart, SID: s.id, Lang: string(lang)}) {
		s.Stop()
		return nil, errConnClosed
	}

	select {
	case ok := <-s.granted:
		if !ok {
			s.forget()
			return nil, ErrPermissionDenied
		}
		return s, nil
	case <-s.done:
		return nil, errConnClosed
	case <-ctx.Done():
		s.Stop()
		return nil, ctx.Err()
	}
}

// deliver routes a recognizer message from the browser to its session.
func (e *browserEngine) deliver(msg message) {
	e.mu.Lock()
	s := e.sessions[msg.SID]
	e.mu.Unlock()
	if s == nil {
		return
	}

	switch msg.Type {
	case msgPermission:
		select {
		case s.granted <- msg.Granted != nil && *msg.Granted:
		default:
		}
	case msgResult:
		s.emit(Event{Kind: EventPhrase, Text: msg.Text})
	case msgError:
		if denied(msg.Code) {
			select {
			case s.granted <- false:
			default:
			}
		}
		s.emit(Event{Kind: EventError, Code: msg.Code})
	case msgEnd:
		s.emit(Event{Kind: EventEnd})
	}
}

// close ends every session without messaging the browser, which is gone.
func (e *browserEngine) close() {
	e.mu.Lock()
	sessions := e.sessions
	e.sessions = make(map[string]*browserSession)
	e.closed = true
	e.mu.Unlock()

	for _, s := range sessions {
		s.once.Do(func() { close(s.done) })
	}
}

type browserSession struct {
	id      string
	engine  *browserEngine
	events  chan Event
	granted chan bool
	done    chan struct{}
	once    sync.Once
}

func (s *browserSession) Events() <-chan Event { return s.events }

// Stop tells the browser to stop the recognizer and release the microphone.
func (s *browserSession) Stop() error {
	stopped := false
	s.once.Do(func() {
		close(s.done)
		stopped = true
	})
	if !stopped {
		return nil
	}
	s.engine.remove(s.id)
	if !s.engine.send(message{Type: msgStop, SID: s.id}) {
		return errConnClosed
	}
	return nil
}

// forget drops a session the browser never started.
func (s *browserSession) forget() {
	s.once.Do(func() { close(s.done) })
	s.engine.remove(s.id)
}

func (s *browserSession) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	default:
	}
}

func (e *browserEngine) remove(id string) {
	e.mu.Lock()
	delete(e.sessions, id)
	e.mu.Unlock()
}
