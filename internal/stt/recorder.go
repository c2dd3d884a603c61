package stt

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/voicetotext/internal/eventstore"
	"github.com/loqalabs/voicetotext/internal/voicetotext"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const recorderQueueSize = 256

// SessionRecorder audits parser sessions into the event store and counts
// them as metrics. Store writes happen on a background worker so recognizer
// callbacks never wait on disk.
type SessionRecorder struct {
	store *eventstore.Store
	log   *slog.Logger

	mu     sync.Mutex
	closed bool
	queue  chan auditRecord
	wg     sync.WaitGroup

	sessions metric.Int64Counter
	stops    metric.Int64Counter
	failures metric.Int64Counter
	results  metric.Int64Counter
}

type auditRecord struct {
	begin    bool
	language string
	event    eventstore.Event
}

func NewSessionRecorder(store *eventstore.Store, logger *slog.Logger) *SessionRecorder {
	r := &SessionRecorder{
		store: store,
		log:   logger.With(slog.String("component", "session-recorder")),
		queue: make(chan auditRecord, recorderQueueSize),
	}
	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run()
	}()
	return r
}

func (r *SessionRecorder) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/voicetotext/stt")
	var err error
	if r.sessions, err = meter.Int64Counter("vtt.sessions.started",
		metric.WithDescription("Recognition sessions started")); err != nil {
		return err
	}
	if r.stops, err = meter.Int64Counter("vtt.sessions.stopped",
		metric.WithDescription("Recognition sessions stopped by the caller")); err != nil {
		return err
	}
	if r.failures, err = meter.Int64Counter("vtt.recognizer.errors",
		metric.WithDescription("Recognizer error callbacks by code")); err != nil {
		return err
	}
	if r.results, err = meter.Int64Counter("vtt.recognizer.results",
		metric.WithDescription("Final result callbacks received")); err != nil {
		return err
	}
	return nil
}

func (r *SessionRecorder) SessionStarted(sessionID, language string) {
	count(r.sessions, attribute.String("language", language))
	r.enqueue(auditRecord{
		begin:    true,
		language: language,
		event:    eventstore.Event{SessionID: sessionID, Type: eventstore.TypeStarted},
	})
}

func (r *SessionRecorder) SessionStopped(sessionID string) {
	count(r.stops)
	r.enqueue(auditRecord{event: eventstore.Event{SessionID: sessionID, Type: eventstore.TypeStopped}})
}

func (r *SessionRecorder) EventReceived(sessionID string, ev voicetotext.Event) {
	var evt eventstore.Event
	switch ev.Kind {
	case voicetotext.EventReady:
		evt.Type = eventstore.TypeReady
	case voicetotext.EventEndOfSpeech:
		evt.Type = eventstore.TypeEndOfSpeech
	case voicetotext.EventError:
		count(r.failures,
			attribute.Int("code", int(ev.ErrorCode)),
			attribute.Bool("benign", ev.ErrorCode.Benign()))
		evt.Type = eventstore.TypeError
		evt.ErrorCode = int(ev.ErrorCode)
	case voicetotext.EventResults:
		count(r.results)
		evt.Type = eventstore.TypeResults
		evt.Candidates = len(ev.Results)
	default:
		return
	}
	evt.SessionID = sessionID
	r.enqueue(auditRecord{event: evt})
}

// Close flushes queued records and stops the worker.
func (r *SessionRecorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *SessionRecorder) enqueue(rec auditRecord) {
	if rec.event.CreatedAt.IsZero() {
		rec.event.CreatedAt = time.Now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- rec:
	default:
		r.log.Warn("audit queue full, dropping record",
			slog.String("session", rec.event.SessionID),
			slog.String("type", rec.event.Type))
	}
}

func (r *SessionRecorder) run() {
	ctx := context.Background()
	for rec := range r.queue {
		if rec.begin {
			if err := r.store.BeginSession(ctx, rec.event.SessionID, rec.language); err != nil {
				r.log.Warn("failed to record session", slog.String("error", err.Error()))
				continue
			}
		}
		if err := r.store.AppendEvent(ctx, rec.event); err != nil {
			r.log.Warn("failed to record session event", slog.String("error", err.Error()))
		}
	}
}

func count(c metric.Int64Counter, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}
