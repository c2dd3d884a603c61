// Package console renders recognition state for a terminal and decides what
// a single record button press should do.
package console

import (
	"fmt"
	"io"
	"strings"

	"github.com/loqalabs/voicetotext/internal/voicetotext"
)

const (
	ListeningPrompt = "Speak..."
	IdlePrompt      = "Click on record"
)

type Action int

const (
	ActionStart Action = iota + 1
	ActionStop
)

func (a Action) String() string {
	switch a {
	case ActionStart:
		return "start"
	case ActionStop:
		return "stop"
	default:
		return "none"
	}
}

// Toggle picks the action for a button press: start when idle, stop while speaking.
func Toggle(st voicetotext.State) Action {
	if st.IsSpeaking {
		return ActionStop
	}
	return ActionStart
}

// Render returns the text shown for st.
func Render(st voicetotext.State) string {
	var b strings.Builder
	switch {
	case st.IsSpeaking:
		b.WriteString(ListeningPrompt)
	case st.SpokenText != "":
		b.WriteString(st.SpokenText)
	default:
		b.WriteString(IdlePrompt)
	}
	if msg := st.ErrorMessage(); msg != "" {
		fmt.Fprintf(&b, " [%s]", msg)
	}
	return b.String()
}

// Printer writes one rendered line per distinct snapshot.
type Printer struct {
	w    io.Writer
	last string
}

func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

func (p *Printer) Print(st voicetotext.State) error {
	line := Render(st)
	if line == p.last {
		return nil
	}
	p.last = line
	_, err := fmt.Fprintln(p.w, line)
	return err
}
