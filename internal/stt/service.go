package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/voicetotext/internal/bus"
	"github.com/loqalabs/voicetotext/internal/console"
	"github.com/loqalabs/voicetotext/internal/protocol"
	"github.com/loqalabs/voicetotext/internal/voicetotext"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Controller is the parser surface the service drives.
type Controller interface {
	Start(ctx context.Context, language string)
	Stop(ctx context.Context)
	Snapshot() voicetotext.Snapshot
	Watch() (<-chan voicetotext.Snapshot, func())
}

// Service exposes a Controller on the bus: commands come in on
// vtt.command.*, every state change goes out on vtt.state.
type Service struct {
	bus             *bus.Client
	parser          Controller
	defaultLanguage string
	logger          *slog.Logger
	tracer          trace.Tracer

	mu     sync.Mutex
	subs   []*nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	ready  atomic.Bool
}

func NewService(parent context.Context, busClient *bus.Client, parser Controller, defaultLanguage string, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		bus:             busClient,
		parser:          parser,
		defaultLanguage: defaultLanguage,
		logger:          logger.With(slog.String("component", "stt-service")),
		tracer:          otel.Tracer("github.com/loqalabs/voicetotext/stt"),
		ctx:             ctx,
		cancel:          cancel,
	}
}

func (s *Service) Start() error {
	handlers := map[string]nats.MsgHandler{
		protocol.SubjectCommandStart:  s.handleStart,
		protocol.SubjectCommandStop:   s.handleStop,
		protocol.SubjectCommandToggle: s.handleToggle,
		protocol.SubjectStateGet:      s.handleStateGet,
	}
	for subject, handler := range handlers {
		sub, err := s.bus.Conn().Subscribe(subject, handler)
		if err != nil {
			s.drain()
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.mu.Lock()
		s.subs = append(s.subs, sub)
		s.mu.Unlock()
	}

	snapshots, unsubscribe := s.parser.Watch()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer unsubscribe()
		s.forward(snapshots)
	}()

	s.ready.Store(true)
	return nil
}

func (s *Service) Close() {
	s.ready.Store(false)
	s.cancel()
	s.drain()
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return s.ready.Load() && s.bus.Healthy()
}

// StartSession begins listening in language, or the default language when empty.
func (s *Service) StartSession(ctx context.Context, language string) protocol.StateSnapshot {
	language = strings.TrimSpace(language)
	if language == "" {
		language = s.defaultLanguage
	}
	ctx, span := s.tracer.Start(ctx, "vtt.start", trace.WithAttributes(attribute.String("language", language)))
	defer span.End()

	s.parser.Start(ctx, language)
	snap := s.Snapshot()
	span.SetAttributes(attribute.String("session_id", snap.SessionID))
	s.logger.Info("recognition started", slog.String("session", snap.SessionID), slog.String("language", language))
	return snap
}

func (s *Service) StopSession(ctx context.Context) protocol.StateSnapshot {
	ctx, span := s.tracer.Start(ctx, "vtt.stop")
	defer span.End()

	s.parser.Stop(ctx)
	snap := s.Snapshot()
	s.logger.Info("recognition stopped", slog.String("session", snap.SessionID))
	return snap
}

// ToggleSession behaves like pressing the record button once.
func (s *Service) ToggleSession(ctx context.Context, language string) protocol.StateSnapshot {
	if console.Toggle(s.parser.Snapshot().State) == console.ActionStop {
		return s.StopSession(ctx)
	}
	return s.StartSession(ctx, language)
}

func (s *Service) Snapshot() protocol.StateSnapshot {
	return snapshot(s.parser.Snapshot())
}

func (s *Service) handleStart(msg *nats.Msg) {
	cmd, err := decodeStart(msg.Data)
	if err != nil {
		s.logger.Warn("failed to decode start command", slogError(err))
		s.reply(msg, protocol.CommandReply{Error: err.Error(), State: s.Snapshot()})
		return
	}
	s.reply(msg, protocol.CommandReply{OK: true, State: s.StartSession(s.ctx, cmd.Language)})
}

func (s *Service) handleStop(msg *nats.Msg) {
	s.reply(msg, protocol.CommandReply{OK: true, State: s.StopSession(s.ctx)})
}

func (s *Service) handleToggle(msg *nats.Msg) {
	cmd, err := decodeStart(msg.Data)
	if err != nil {
		s.logger.Warn("failed to decode toggle command", slogError(err))
		s.reply(msg, protocol.CommandReply{Error: err.Error(), State: s.Snapshot()})
		return
	}
	s.reply(msg, protocol.CommandReply{OK: true, State: s.ToggleSession(s.ctx, cmd.Language)})
}

func (s *Service) handleStateGet(msg *nats.Msg) {
	s.reply(msg, protocol.CommandReply{OK: true, State: s.Snapshot()})
}

func (s *Service) reply(msg *nats.Msg, reply protocol.CommandReply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.Warn("failed to marshal reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to send reply", slogError(err))
	}
}

func (s *Service) forward(snapshots <-chan voicetotext.Snapshot) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			s.publish(snapshot(snap))
		}
	}
}

func (s *Service) publish(snap protocol.StateSnapshot) {
	if err := s.bus.PublishJSON(protocol.SubjectState, snap); err != nil {
		s.logger.Warn("failed to publish state", slogError(err))
	}
}

func (s *Service) drain() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Drain()
	}
}

func decodeStart(data []byte) (protocol.StartCommand, error) {
	var cmd protocol.StartCommand
	if len(strings.TrimSpace(string(data))) == 0 {
		return cmd, nil
	}
	if err := json.Unmarshal(data, &cmd); err != nil {
		return cmd, fmt.Errorf("decode start command: %w", err)
	}
	return cmd, nil
}

func snapshot(snap voicetotext.Snapshot) protocol.StateSnapshot {
	return protocol.StateSnapshot{
		SessionID:  snap.SessionID,
		Phase:      string(snap.Phase),
		IsSpeaking: snap.State.IsSpeaking,
		SpokenText: snap.State.SpokenText,
		Error:      snap.State.Error,
		Timestamp:  time.Now().UTC(),
	}
}

// StateFromSnapshot converts a bus snapshot back to a parser State.
func StateFromSnapshot(snap protocol.StateSnapshot) voicetotext.State {
	return voicetotext.State{
		IsSpeaking: snap.IsSpeaking,
		SpokenText: snap.SpokenText,
		Error:      snap.Error,
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
