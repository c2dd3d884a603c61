package stt

import (
	"context"
	"sync"
	"time"

	"github.com/loqalabs/voicetotext/internal/voicetotext"
)

type MockOptions struct {
	Available  bool
	Transcript []string
	Delay      time.Duration
}

// MockRecognizer replays a scripted session: ready, beginning of speech,
// the configured transcript candidates and end of speech.
type MockRecognizer struct {
	opts MockOptions

	mu      sync.Mutex
	current *mockSession
	wg      sync.WaitGroup
}

type mockSession struct {
	listener voicetotext.Listener
	stop     chan struct{}
	cancel   chan struct{}
	once     sync.Once
}

func NewMockRecognizer(opts MockOptions) *MockRecognizer {
	return &MockRecognizer{opts: opts}
}

func (m *MockRecognizer) Available(context.Context) bool {
	return m.opts.Available
}

func (m *MockRecognizer) StartListening(_ context.Context, _ voicetotext.Request, listener voicetotext.Listener) error {
	session := &mockSession{
		listener: listener,
		stop:     make(chan struct{}),
		cancel:   make(chan struct{}),
	}

	m.mu.Lock()
	previous := m.current
	m.current = session
	m.mu.Unlock()

	if previous != nil {
		close(previous.cancel)
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(session)
	}()
	return nil
}

func (m *MockRecognizer) StopListening(context.Context) error {
	m.mu.Lock()
	session := m.current
	m.mu.Unlock()
	if session != nil {
		session.once.Do(func() { close(session.stop) })
	}
	return nil
}

// Wait blocks until every scripted session has finished emitting.
func (m *MockRecognizer) Wait() {
	m.wg.Wait()
}

func (m *MockRecognizer) run(s *mockSession) {
	s.listener(voicetotext.Ready())
	s.listener(voicetotext.Event{Kind: voicetotext.EventBeginningOfSpeech})

	timer := time.NewTimer(m.opts.Delay)
	defer timer.Stop()
	select {
	case <-s.cancel:
		s.listener(voicetotext.Failure(voicetotext.ErrorClient))
		return
	case <-s.stop:
	case <-timer.C:
	}

	s.listener(voicetotext.EndOfSpeech())
	s.listener(voicetotext.Results(m.opts.Transcript...))
}
