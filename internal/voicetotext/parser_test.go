package voicetotext

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
)

type fakeRecognizer struct {
	mu          sync.Mutex
	unavailable bool
	startErr    error
	listener    Listener
	requests    []Request
	stops       int
}

func (f *fakeRecognizer) Available(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.unavailable
}

func (f *fakeRecognizer) StartListening(_ context.Context, req Request, listener Listener) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.startErr != nil {
		return f.startErr
	}
	f.listener = listener
	return nil
}

func (f *fakeRecognizer) StopListening(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeRecognizer) emit(events ...Event) {
	f.mu.Lock()
	listener := f.listener
	f.mu.Unlock()
	for _, ev := range events {
		listener(ev)
	}
}

func newTestParser(t *testing.T, opts ...Option) (*Parser, *fakeRecognizer) {
	t.Helper()
	rec := &fakeRecognizer{}
	return NewParser(rec, opts...), rec
}

func TestStartSetsSpeakingAndRequestsFreeForm(t *testing.T) {
	ctx := context.Background()
	p, rec := newTestParser(t)

	p.Start(ctx, "en")

	st := p.State()
	if !st.IsSpeaking {
		t.Fatal("expected speaking after start")
	}
	if st.Error != nil {
		t.Fatalf("expected no error, got %q", *st.Error)
	}
	if len(rec.requests) != 1 {
		t.Fatalf("expected 1 listen request, got %d", len(rec.requests))
	}
	if rec.requests[0].Language != "en" || rec.requests[0].LanguageModel != LanguageModelFreeForm {
		t.Fatalf("unexpected request %+v", rec.requests[0])
	}
	if p.Phase() != PhaseListening {
		t.Fatalf("expected listening phase, got %s", p.Phase())
	}
}

func TestStartResetsPreviousSession(t *testing.T) {
	ctx := context.Background()
	p, rec := newTestParser(t)

	p.Start(ctx, "en")
	rec.emit(Results("first"), Failure(ErrorNoMatch))
	if p.State().SpokenText != "first" || p.State().Error == nil {
		t.Fatalf("unexpected state before restart: %+v", p.State())
	}

	p.Start(ctx, "en")
	st := p.State()
	if st.SpokenText != "" {
		t.Fatalf("expected spoken text reset, got %q", st.SpokenText)
	}
	if st.Error != nil {
		t.Fatalf("expected error reset, got %q", *st.Error)
	}
	if !st.IsSpeaking {
		t.Fatal("expected speaking after restart")
	}
}

func TestStopClearsSpeaking(t *testing.T) {
	ctx := context.Background()
	p, rec := newTestParser(t)

	p.Start(ctx, "en")
	p.Stop(ctx)

	if p.State().IsSpeaking {
		t.Fatal("expected not speaking after stop")
	}
	if rec.stops != 1 {
		t.Fatalf("expected recognizer stop, got %d", rec.stops)
	}
	if p.Phase() != PhaseFinished {
		t.Fatalf("expected finished phase, got %s", p.Phase())
	}
}

func TestResultsAfterStopStillApply(t *testing.T) {
	ctx := context.Background()
	p, rec := newTestParser(t)

	p.Start(ctx, "en")
	p.Stop(ctx)
	rec.emit(Results("late but valid"))

	if got := p.State().SpokenText; got != "late but valid" {
		t.Fatalf("expected late result applied, got %q", got)
	}
}

func TestEndOfSpeechClearsSpeaking(t *testing.T) {
	ctx := context.Background()
	p, rec := newTestParser(t)

	p.Start(ctx, "en")
	rec.emit(EndOfSpeech())

	if p.State().IsSpeaking {
		t.Fatal("expected not speaking after end of speech")
	}
	if p.Phase() != PhaseFinished {
		t.Fatalf("expected finished phase, got %s", p.Phase())
	}
}

func TestEmptyResultsLeaveTextUnchanged(t *testing.T) {
	ctx := context.Background()
	p, rec := newTestParser(t)

	p.Start(ctx, "en")
	rec.emit(Results("kept"), Results())

	if got := p.State().SpokenText; got != "kept" {
		t.Fatalf("expected text unchanged, got %q", got)
	}
}

func TestResultsTakeFirstCandidate(t *testing.T) {
	ctx := context.Background()
	p, rec := newTestParser(t)

	p.Start(ctx, "en")
	rec.emit(Results("hello world", "alt"))

	if got := p.State().SpokenText; got != "hello world" {
		t.Fatalf("expected first candidate, got %q", got)
	}
}

func TestBenignCancellationIgnored(t *testing.T) {
	ctx := context.Background()
	p, rec := newTestParser(t)

	p.Start(ctx, "en")
	rec.emit(Failure(ErrorClient))

	st := p.State()
	if st.Error != nil {
		t.Fatalf("expected error to stay nil, got %q", *st.Error)
	}
	if !st.IsSpeaking {
		t.Fatal("benign cancellation must not end the session")
	}
}

func TestErrorCodeSurfaced(t *testing.T) {
	ctx := context.Background()
	codes := []ErrorCode{ErrorNetworkTimeout, ErrorNetwork, ErrorAudio, ErrorServer, ErrorSpeechTimeout, ErrorNoMatch, ErrorRecognizerBusy, ErrorInsufficientPermissions, ErrorCode(42)}
	for _, code := range codes {
		p, rec := newTestParser(t)
		p.Start(ctx, "en")
		rec.emit(Failure(code))

		st := p.State()
		if st.Error == nil {
			t.Fatalf("code %d: expected error message", code)
		}
		if !strings.Contains(*st.Error, strconv.Itoa(int(code))) {
			t.Fatalf("code %d: message %q does not contain code", code, *st.Error)
		}
		if st.IsSpeaking {
			t.Fatalf("code %d: expected not speaking after error", code)
		}
	}
}

func TestReadyClearsError(t *testing.T) {
	ctx := context.Background()
	p, rec := newTestParser(t)

	p.Start(ctx, "en")
	rec.emit(Failure(ErrorNetwork))
	if p.State().Error == nil {
		t.Fatal("expected error set")
	}
	rec.emit(Ready())
	if p.State().Error != nil {
		t.Fatalf("expected ready to clear error, got %q", *p.State().Error)
	}
}

func TestNoOpEventsDoNotChangeState(t *testing.T) {
	ctx := context.Background()
	p, rec := newTestParser(t)

	p.Start(ctx, "en")
	rec.emit(Results("stable"))
	before := p.State()

	rec.emit(
		Event{Kind: EventBeginningOfSpeech},
		Event{Kind: EventVolumeChanged, RMSdB: 3.5},
		Event{Kind: EventBufferReceived, Buffer: []byte{1, 2}},
		Event{Kind: EventPartialResults, Results: []string{"partial"}},
		Event{Kind: EventGeneric, EventType: 7},
	)

	if after := p.State(); !after.Equal(before) {
		t.Fatalf("expected no state change, before=%+v after=%+v", before, after)
	}
}

func TestScenarioReadyResultsEnd(t *testing.T) {
	ctx := context.Background()
	p, rec := newTestParser(t)

	p.Start(ctx, "en")
	rec.emit(Ready(), Results("test"), EndOfSpeech())

	st := p.State()
	if st.IsSpeaking || st.SpokenText != "test" || st.Error != nil {
		t.Fatalf("unexpected final state %+v", st)
	}
}

func TestUnavailableShortCircuits(t *testing.T) {
	ctx := context.Background()
	p, rec := newTestParser(t)
	rec.unavailable = true

	p.Start(ctx, "en")

	st := p.State()
	if st.ErrorMessage() != UnavailableMessage {
		t.Fatalf("expected unavailable error, got %q", st.ErrorMessage())
	}
	if st.IsSpeaking {
		t.Fatal("expected not speaking when unavailable")
	}
	if len(rec.requests) != 0 {
		t.Fatalf("expected no listen request, got %d", len(rec.requests))
	}
	if p.Phase() != PhaseFinished {
		t.Fatalf("expected finished phase, got %s", p.Phase())
	}
}

func TestUnavailableProceedsWhenConfigured(t *testing.T) {
	ctx := context.Background()
	p, rec := newTestParser(t, WithProceedWhenUnavailable(true))
	rec.unavailable = true

	p.Start(ctx, "en")

	st := p.State()
	if st.ErrorMessage() != UnavailableMessage {
		t.Fatalf("expected unavailable error, got %q", st.ErrorMessage())
	}
	if !st.IsSpeaking {
		t.Fatal("expected speaking when proceeding")
	}
	if len(rec.requests) != 1 {
		t.Fatalf("expected listen request, got %d", len(rec.requests))
	}
	rec.emit(Ready())
	if p.State().Error != nil {
		t.Fatal("expected ready to clear unavailable error")
	}
}

func TestStartFailureSurfacedAsState(t *testing.T) {
	ctx := context.Background()
	p, rec := newTestParser(t)
	rec.startErr = errors.New("device busy")

	p.Start(ctx, "en")

	st := p.State()
	if st.IsSpeaking {
		t.Fatal("expected not speaking after failed start")
	}
	if !strings.Contains(st.ErrorMessage(), "device busy") {
		t.Fatalf("expected start failure in error, got %q", st.ErrorMessage())
	}
}

func TestSupersededSessionEventsDropped(t *testing.T) {
	ctx := context.Background()
	p, rec := newTestParser(t)

	p.Start(ctx, "en")
	stale := rec.listener
	p.Start(ctx, "en")

	stale(Results("stale"))
	stale(EndOfSpeech())

	st := p.State()
	if st.SpokenText != "" {
		t.Fatalf("expected stale result dropped, got %q", st.SpokenText)
	}
	if !st.IsSpeaking {
		t.Fatal("expected stale end of speech dropped")
	}
}

type recordingObserver struct {
	mu      sync.Mutex
	started []string
	stopped []string
	events  []EventKind
}

func (r *recordingObserver) SessionStarted(id, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, id)
}

func (r *recordingObserver) SessionStopped(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = append(r.stopped, id)
}

func (r *recordingObserver) EventReceived(_ string, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev.Kind)
}

func TestSessionObserverNotified(t *testing.T) {
	ctx := context.Background()
	obs := &recordingObserver{}
	ids := []string{"s-1", "s-2"}
	next := 0
	p, rec := newTestParser(t, WithSessionObserver(obs), WithSessionIDs(func() string {
		id := ids[next]
		next++
		return id
	}))

	p.Start(ctx, "en")
	rec.emit(Ready(), Results("x"))
	p.Stop(ctx)

	if len(obs.started) != 1 || obs.started[0] != "s-1" {
		t.Fatalf("unexpected started %v", obs.started)
	}
	if len(obs.stopped) != 1 || obs.stopped[0] != "s-1" {
		t.Fatalf("unexpected stopped %v", obs.stopped)
	}
	if len(obs.events) != 2 || obs.events[0] != EventReady || obs.events[1] != EventResults {
		t.Fatalf("unexpected events %v", obs.events)
	}
	if p.SessionID() != "s-1" {
		t.Fatalf("unexpected session id %q", p.SessionID())
	}
}

func TestConcurrentEventsPublishWholeSnapshots(t *testing.T) {
	ctx := context.Background()
	p, rec := newTestParser(t)
	p.Start(ctx, "en")

	states, cancel := p.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for st := range states {
			if st.SpokenText != "" && st.SpokenText != "a" && st.SpokenText != "b" {
				t.Errorf("torn snapshot %+v", st)
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); rec.emit(Results("a")) }()
		go func() { defer wg.Done(); rec.emit(Results("b"), Ready()) }()
	}
	wg.Wait()
	cancel()
	<-done
}

func TestReturnedStateCannotBeMutated(t *testing.T) {
	ctx := context.Background()
	p, rec := newTestParser(t)
	rec.unavailable = true
	p.Start(ctx, "en")

	states, cancel := p.Subscribe()
	defer cancel()
	sub := <-states
	*sub.Error = "changed by subscriber"

	st := p.State()
	*st.Error = "changed by caller"

	snap := p.Snapshot()
	*snap.State.Error = "changed by watcher"

	if got := p.State().ErrorMessage(); got != UnavailableMessage {
		t.Fatalf("held state was mutated through a snapshot: %q", got)
	}
	if got := p.Snapshot().State.ErrorMessage(); got != UnavailableMessage {
		t.Fatalf("held snapshot was mutated: %q", got)
	}
}

func TestWatchPairsStateWithSessionAndPhase(t *testing.T) {
	ctx := context.Background()
	ids := []string{"s-1", "s-2"}
	next := 0
	p, rec := newTestParser(t, WithSessionIDs(func() string {
		id := ids[next]
		next++
		return id
	}))

	snapshots, cancel := p.Watch()
	defer cancel()
	if snap := <-snapshots; snap.Phase != PhaseIdle || snap.SessionID != "" {
		t.Fatalf("unexpected initial snapshot %+v", snap)
	}

	p.Start(ctx, "en")
	rec.emit(Results("hello"), Failure(ErrorNoMatch))
	snap := <-snapshots
	if snap.SessionID != "s-1" || snap.Phase != PhaseFinished || snap.State.IsSpeaking {
		t.Fatalf("expected finished s-1 snapshot, got %+v", snap)
	}
	if snap.State.SpokenText != "hello" || snap.State.ErrorMessage() != ErrorNoMatch.Message() {
		t.Fatalf("unexpected s-1 state %+v", snap.State)
	}

	p.Start(ctx, "en")
	snap = <-snapshots
	if snap.SessionID != "s-2" || snap.Phase != PhaseListening || !snap.State.IsSpeaking {
		t.Fatalf("expected listening s-2 snapshot, got %+v", snap)
	}
	if snap.State.SpokenText != "" || snap.State.Error != nil {
		t.Fatalf("s-2 snapshot carries s-1 state %+v", snap.State)
	}
}
