package stt

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/voicetotext/internal/config"
	"github.com/loqalabs/voicetotext/internal/voicetotext"
)

// NewRecognizer builds the recognizer backend selected by cfg.Mode.
func NewRecognizer(cfg config.RecognizerConfig, logger *slog.Logger) (voicetotext.Recognizer, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockRecognizer(MockOptions{
			Available:  cfg.MockAvailable,
			Transcript: cfg.MockTranscript,
			Delay:      time.Duration(cfg.MockDelayMS) * time.Millisecond,
		}), nil
	case "exec":
		return NewExecRecognizer(cfg.Command, logger)
	default:
		return nil, fmt.Errorf("unknown recognizer mode %q", cfg.Mode)
	}
}
