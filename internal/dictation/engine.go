// Package dictation drives a continuous speech recognizer for one input
// field at a time and collects the finalized phrases per field.
package dictation

import (
	"context"
	"errors"
	"fmt"
)

type Language string

const (
	English Language = "en-US"
	Hindi   Language = "hi-IN"
)

func ParseLanguage(s string) (Language, error) {
	switch Language(s) {
	case English, Hindi:
		return Language(s), nil
	case "":
		return English, nil
	}
	return "", fmt.Errorf("unsupported language %q", s)
}

// Recognizer error codes reported by the engine.
const (
	CodeNoSpeech          = "no-speech"
	CodeAborted           = "aborted"
	CodeNotAllowed        = "not-allowed"
	CodeServiceNotAllowed = "service-not-allowed"
	CodeAudioCapture      = "audio-capture"
	CodeNetwork           = "network"
)

var ErrPermissionDenied = errors.New("dictation: microphone permission denied")

type EventKind int

const (
	// EventPhrase carries one finalized phrase.
	EventPhrase EventKind = iota + 1
	// EventError carries a recognizer error code.
	EventError
	// EventEnd means the recognizer stopped on its own, usually after a pause.
	EventEnd
)

type Event struct {
	Kind EventKind
	Text string
	Code string
}

// Engine opens recognizer sessions. Open blocks until the audio device is
// granted or refused and returns ErrPermissionDenied on refusal.
type Engine interface {
	Open(ctx context.Context, lang Language) (Session, error)
}

// Session is one running recognizer. Events is closed or sends EventEnd when
// the recognizer stops. Stop releases the audio device and is safe to call
// more than once.
type Session interface {
	Events() <-chan Event
	Stop() error
}

func benign(code string) bool {
	return code == CodeNoSpeech || code == CodeAborted
}

func denied(code string) bool {
	return code == CodeNotAllowed || code == CodeServiceNotAllowed
}
