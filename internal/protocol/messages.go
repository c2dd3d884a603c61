package protocol

import "time"

// StartCommand asks the runtime to begin a recognition session.
type StartCommand struct {
	Language string `json:"language,omitempty"`
}

// StateSnapshot is the recognition state broadcast on the bus.
type StateSnapshot struct {
	SessionID  string    `json:"session_id,omitempty"`
	Phase      string    `json:"phase"`
	IsSpeaking bool      `json:"is_speaking"`
	SpokenText string    `json:"spoken_text"`
	Error      *string   `json:"error"`
	Timestamp  time.Time `json:"timestamp"`
}

// CommandReply answers a command request with the resulting state.
type CommandReply struct {
	OK    bool          `json:"ok"`
	Error string        `json:"error,omitempty"`
	State StateSnapshot `json:"state"`
}

const (
	SubjectCommandStart  = "vtt.command.start"
	SubjectCommandStop   = "vtt.command.stop"
	SubjectCommandToggle = "vtt.command.toggle"
	SubjectStateGet      = "vtt.state.get"
	SubjectState         = "vtt.state"
)
