package stt

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/loqalabs/voicetotext/internal/voicetotext"
	"github.com/mattn/go-shellwords"
)

// ExecRecognizer drives an external recognizer process. The process is
// started with --language and --language-model flags and must write one JSON
// event per line to stdout. Closing its stdin asks it to finish.
type ExecRecognizer struct {
	cmd []string
	log *slog.Logger

	mu      sync.Mutex
	current *execSession
	closed  bool
	wg      sync.WaitGroup
}

type execSession struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	cancel  context.CancelFunc
	stopped bool
}

// execEvent is the line format read from the recognizer process.
type execEvent struct {
	Event   string   `json:"event"`
	Code    int      `json:"code,omitempty"`
	Results []string `json:"results,omitempty"`
	RMSdB   float32  `json:"rms_db,omitempty"`
	Buffer  []byte   `json:"buffer,omitempty"`
	Type    int      `json:"type,omitempty"`
}

func NewExecRecognizer(command string, logger *slog.Logger) (*ExecRecognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse recognizer command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("recognizer command is empty")
	}
	return &ExecRecognizer{
		cmd: args,
		log: logger.With(slog.String("component", "exec-recognizer")),
	}, nil
}

// Available reports whether the recognizer binary can be resolved.
func (r *ExecRecognizer) Available(context.Context) bool {
	_, err := exec.LookPath(r.cmd[0])
	return err == nil
}

func (r *ExecRecognizer) StartListening(_ context.Context, req voicetotext.Request, listener voicetotext.Listener) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("recognizer closed")
	}
	if r.current != nil {
		r.terminate(r.current)
		r.current = nil
	}

	args := append([]string{}, r.cmd[1:]...)
	if req.Language != "" {
		args = append(args, "--language", req.Language)
	}
	if req.LanguageModel != "" {
		args = append(args, "--language-model", string(req.LanguageModel))
	}

	// The process outlives the caller's context; it ends on stop, restart or Close.
	ctx, cancel := context.WithCancel(context.Background())
	command := exec.CommandContext(ctx, r.cmd[0], args...)
	stdin, err := command.StdinPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("recognizer stdin: %w", err)
	}
	stdout, err := command.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("recognizer stdout: %w", err)
	}
	if err := command.Start(); err != nil {
		cancel()
		return fmt.Errorf("start recognizer: %w", err)
	}

	session := &execSession{cmd: command, stdin: stdin, cancel: cancel}
	r.current = session

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.pump(session, stdout, listener)
	}()
	return nil
}

// StopListening closes the recognizer's stdin so it can flush final results.
func (r *ExecRecognizer) StopListening(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil || r.current.stopped {
		return nil
	}
	r.current.stopped = true
	if err := r.current.stdin.Close(); err != nil {
		return fmt.Errorf("close recognizer stdin: %w", err)
	}
	return nil
}

// Close kills any running recognizer process and waits for its reader.
func (r *ExecRecognizer) Close() {
	r.mu.Lock()
	r.closed = true
	if r.current != nil {
		r.terminate(r.current)
		r.current = nil
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *ExecRecognizer) terminate(s *execSession) {
	s.stopped = true
	_ = s.stdin.Close()
	s.cancel()
}

func (r *ExecRecognizer) pump(s *execSession, stdout io.Reader, listener voicetotext.Listener) {
	sawEnd := false
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		ev, err := decodeExecEvent(line)
		if err != nil {
			r.log.Warn("invalid recognizer output", slog.String("error", err.Error()))
			continue
		}
		if ev.Kind == voicetotext.EventEndOfSpeech {
			sawEnd = true
		}
		listener(ev)
	}
	readErr := scanner.Err()
	if readErr != nil {
		// stdout is no longer drained; kill the process so Wait returns.
		r.log.Warn("recognizer output read failed", slog.String("error", readErr.Error()))
		s.cancel()
	}

	waitErr := s.cmd.Wait()

	r.mu.Lock()
	stopped := s.stopped
	if r.current == s {
		r.current = nil
	}
	r.mu.Unlock()
	s.cancel()

	switch {
	case readErr != nil:
		listener(voicetotext.Failure(voicetotext.ErrorServer))
	case waitErr != nil && !stopped:
		r.log.Warn("recognizer exited unexpectedly", slog.String("error", waitErr.Error()))
		listener(voicetotext.Failure(voicetotext.ErrorServer))
	case !sawEnd && !stopped:
		listener(voicetotext.EndOfSpeech())
	}
}

func decodeExecEvent(line []byte) (voicetotext.Event, error) {
	var raw execEvent
	if err := json.Unmarshal(line, &raw); err != nil {
		return voicetotext.Event{}, fmt.Errorf("decode recognizer event: %w", err)
	}
	kind, err := voicetotext.ParseEventKind(raw.Event)
	if err != nil {
		return voicetotext.Event{}, err
	}
	return voicetotext.Event{
		Kind:      kind,
		ErrorCode: voicetotext.ErrorCode(raw.Code),
		Results:   raw.Results,
		RMSdB:     raw.RMSdB,
		Buffer:    raw.Buffer,
		EventType: raw.Type,
	}, nil
}
