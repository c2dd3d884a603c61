package voicetotext

import (
	"fmt"
	"strings"
)

// EventKind identifies a recognizer callback variant.
type EventKind int

const (
	EventReady EventKind = iota + 1
	EventBeginningOfSpeech
	EventVolumeChanged
	EventBufferReceived
	EventEndOfSpeech
	EventError
	EventResults
	EventPartialResults
	EventGeneric
)

var eventKindNames = map[EventKind]string{
	EventReady:             "ready",
	EventBeginningOfSpeech: "beginning_of_speech",
	EventVolumeChanged:     "volume_changed",
	EventBufferReceived:    "buffer_received",
	EventEndOfSpeech:       "end_of_speech",
	EventError:             "error",
	EventResults:           "results",
	EventPartialResults:    "partial_results",
	EventGeneric:           "event",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

// ParseEventKind resolves the wire name of an event kind.
func ParseEventKind(name string) (EventKind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for kind, n := range eventKindNames {
		if n == name {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown recognizer event %q", name)
}

// Event is a single callback emitted by a Recognizer. Only the fields
// relevant to Kind are populated.
type Event struct {
	Kind      EventKind
	ErrorCode ErrorCode
	Results   []string
	RMSdB     float32
	Buffer    []byte
	EventType int
}

func Ready() Event {
	return Event{Kind: EventReady}
}

func EndOfSpeech() Event {
	return Event{Kind: EventEndOfSpeech}
}

func Failure(code ErrorCode) Event {
	return Event{Kind: EventError, ErrorCode: code}
}

// Results carries final candidates, best first.
func Results(candidates ...string) Event {
	return Event{Kind: EventResults, Results: candidates}
}

// ErrorCode is a recognizer-reported failure code. Values follow the
// platform recognizer numbering.
type ErrorCode int

const (
	ErrorNetworkTimeout          ErrorCode = 1
	ErrorNetwork                 ErrorCode = 2
	ErrorAudio                   ErrorCode = 3
	ErrorServer                  ErrorCode = 4
	ErrorClient                  ErrorCode = 5
	ErrorSpeechTimeout           ErrorCode = 6
	ErrorNoMatch                 ErrorCode = 7
	ErrorRecognizerBusy          ErrorCode = 8
	ErrorInsufficientPermissions ErrorCode = 9
)

var errorCodeNames = map[ErrorCode]string{
	ErrorNetworkTimeout:          "network timeout",
	ErrorNetwork:                 "network",
	ErrorAudio:                   "audio",
	ErrorServer:                  "server",
	ErrorClient:                  "client",
	ErrorSpeechTimeout:           "speech timeout",
	ErrorNoMatch:                 "no match",
	ErrorRecognizerBusy:          "recognizer busy",
	ErrorInsufficientPermissions: "insufficient permissions",
}

func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return "unknown"
}

// Benign reports whether the code signals a client-initiated stop rather
// than a genuine failure.
func (c ErrorCode) Benign() bool {
	return c == ErrorClient
}

// Message renders the code for display in State.Error.
func (c ErrorCode) Message() string {
	return fmt.Sprintf("Error: %d (%s)", int(c), c.String())
}
