package voicetotext

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// UnavailableMessage is published when the recognizer cannot be used.
const UnavailableMessage = "Speech recognition is not available"

// Phase is the session lifecycle position of a Parser.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseListening Phase = "listening"
	PhaseFinished  Phase = "finished"
)

// SessionObserver receives lifecycle notifications from a Parser. Calls are
// made outside the parser lock and may come from recognizer goroutines.
type SessionObserver interface {
	SessionStarted(sessionID, language string)
	SessionStopped(sessionID string)
	EventReceived(sessionID string, ev Event)
}

type Option func(*Parser)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Parser) {
		if logger != nil {
			p.log = logger
		}
	}
}

// WithProceedWhenUnavailable keeps issuing the listen request after the
// recognizer reports itself unavailable. The error is still published.
func WithProceedWhenUnavailable(proceed bool) Option {
	return func(p *Parser) { p.proceedWhenUnavailable = proceed }
}

func WithSessionObserver(obs SessionObserver) Option {
	return func(p *Parser) { p.observer = obs }
}

func WithSessionIDs(gen func() string) Option {
	return func(p *Parser) {
		if gen != nil {
			p.newID = gen
		}
	}
}

// Parser turns recognizer callbacks into State snapshots.
type Parser struct {
	recognizer             Recognizer
	state                  *Observable[State]
	snapshots              *Observable[Snapshot]
	log                    *slog.Logger
	observer               SessionObserver
	proceedWhenUnavailable bool
	newID                  func() string

	mu      sync.Mutex
	current Snapshot
}

func NewParser(recognizer Recognizer, opts ...Option) *Parser {
	initial := Snapshot{Phase: PhaseIdle}
	p := &Parser{
		recognizer: recognizer,
		state:      NewObservable(initial.State),
		snapshots:  NewObservable(initial),
		log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		newID:      uuid.NewString,
		current:    initial,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With(slog.String("component", "voicetotext"))
	return p
}

// State returns the current snapshot.
func (p *Parser) State() State {
	return p.state.Value()
}

// Subscribe streams snapshots; see Observable.Subscribe.
func (p *Parser) Subscribe() (<-chan State, func()) {
	return p.state.Subscribe()
}

// Snapshot returns the current state together with its session and phase.
func (p *Parser) Snapshot() Snapshot {
	return p.snapshots.Value()
}

// Watch streams session-tagged snapshots. A phase change is published even
// when the State itself is unchanged.
func (p *Parser) Watch() (<-chan Snapshot, func()) {
	return p.snapshots.Subscribe()
}

func (p *Parser) Phase() Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current.Phase
}

// SessionID returns the identifier of the current or most recent session.
func (p *Parser) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current.SessionID
}

// Start resets the state and begins a new listening session in language.
// Any previous session is superseded; its late events are dropped.
func (p *Parser) Start(ctx context.Context, language string) {
	id := p.newID()

	p.mu.Lock()
	previous := p.current.SessionID
	p.publish(Snapshot{SessionID: id, Phase: PhaseListening})
	p.mu.Unlock()

	if previous != "" {
		p.log.Debug("superseding session", slog.String("previous", previous), slog.String("session", id))
	}
	if p.observer != nil {
		p.observer.SessionStarted(id, language)
	}

	if !p.recognizer.Available(ctx) {
		p.log.Warn("speech recognition unavailable", slog.String("session", id))
		p.commit(id, func(s State) State { return s.withError(UnavailableMessage) }, !p.proceedWhenUnavailable)
		if !p.proceedWhenUnavailable {
			return
		}
	}

	p.commit(id, func(s State) State { return s.withSpeaking(true) }, false)

	req := Request{Language: language, LanguageModel: LanguageModelFreeForm}
	if err := p.recognizer.StartListening(ctx, req, p.listener(id)); err != nil {
		p.log.Warn("recognizer failed to start", slog.String("session", id), slog.String("error", err.Error()))
		msg := fmt.Sprintf("Error: failed to start recognizer: %v", err)
		p.commit(id, func(s State) State { return s.withSpeaking(false).withError(msg) }, true)
	}
}

// Stop ends speaking and asks the recognizer to stop. Results for the
// current session that arrive afterwards are still applied.
func (p *Parser) Stop(ctx context.Context) {
	p.mu.Lock()
	id := p.current.SessionID
	next := p.current
	next.State = next.State.withSpeaking(false)
	if next.Phase == PhaseListening {
		next.Phase = PhaseFinished
	}
	p.publish(next)
	p.mu.Unlock()

	if id != "" && p.observer != nil {
		p.observer.SessionStopped(id)
	}
	if err := p.recognizer.StopListening(ctx); err != nil {
		p.log.Warn("recognizer failed to stop", slog.String("session", id), slog.String("error", err.Error()))
	}
}

func (p *Parser) listener(id string) Listener {
	return func(ev Event) { p.handle(id, ev) }
}

func (p *Parser) handle(id string, ev Event) {
	var applied bool
	switch ev.Kind {
	case EventReady:
		applied = p.commit(id, State.withoutError, false)
	case EventEndOfSpeech:
		applied = p.commit(id, func(s State) State { return s.withSpeaking(false) }, true)
	case EventError:
		if ev.ErrorCode.Benign() {
			applied = p.isCurrent(id)
			break
		}
		msg := ev.ErrorCode.Message()
		applied = p.commit(id, func(s State) State { return s.withSpeaking(false).withError(msg) }, true)
	case EventResults:
		if len(ev.Results) == 0 {
			applied = p.isCurrent(id)
			break
		}
		text := ev.Results[0]
		applied = p.commit(id, func(s State) State { return s.withSpokenText(text) }, false)
	case EventBeginningOfSpeech, EventVolumeChanged, EventBufferReceived, EventPartialResults, EventGeneric:
		applied = p.isCurrent(id)
	default:
		p.log.Debug("ignoring unknown recognizer event", slog.String("kind", ev.Kind.String()))
		return
	}

	if !applied {
		p.log.Debug("dropping event from superseded session", slog.String("session", id), slog.String("kind", ev.Kind.String()))
		return
	}
	if p.observer != nil {
		p.observer.EventReceived(id, ev)
	}
}

// commit applies fn to the state of session id and, when finish is set,
// moves a listening session to finished in the same step. It reports false
// when id has been superseded.
func (p *Parser) commit(id string, fn func(State) State, finish bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id != p.current.SessionID {
		return false
	}
	next := p.current
	next.State = fn(next.State)
	if finish && next.Phase == PhaseListening {
		next.Phase = PhaseFinished
	}
	p.publish(next)
	return true
}

func (p *Parser) isCurrent(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return id == p.current.SessionID
}

// publish must be called with p.mu held.
func (p *Parser) publish(next Snapshot) {
	p.current = next
	p.state.Set(next.State)
	p.snapshots.Set(next)
}
