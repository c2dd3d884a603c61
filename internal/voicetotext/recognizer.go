package voicetotext

import "context"

// LanguageModel hints the recognizer about the expected speech.
type LanguageModel string

const (
	LanguageModelFreeForm  LanguageModel = "free_form"
	LanguageModelWebSearch LanguageModel = "web_search"
)

// Request configures a listening session.
type Request struct {
	Language      string
	LanguageModel LanguageModel
}

// Listener receives recognizer events. It may be invoked from any goroutine.
type Listener func(Event)

// Recognizer abstracts a speech recognition facility.
//
// StartListening while a session is active restarts the underlying session.
// StopListening is best-effort; events may still be delivered afterwards.
type Recognizer interface {
	Available(ctx context.Context) bool
	StartListening(ctx context.Context, req Request, listener Listener) error
	StopListening(ctx context.Context) error
}
