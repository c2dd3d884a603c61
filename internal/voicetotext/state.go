package voicetotext

import "sync"

// State is an immutable snapshot of the recognition state. Copies are
// replaced wholesale; never mutate a published value.
type State struct {
	IsSpeaking bool    `json:"is_speaking"`
	SpokenText string  `json:"spoken_text"`
	Error      *string `json:"error"`
}

// ErrorMessage returns the error text or "" when no error is set.
func (s State) ErrorMessage() string {
	if s.Error == nil {
		return ""
	}
	return *s.Error
}

func (s State) Equal(other State) bool {
	if s.IsSpeaking != other.IsSpeaking || s.SpokenText != other.SpokenText {
		return false
	}
	if s.Error == nil || other.Error == nil {
		return s.Error == nil && other.Error == nil
	}
	return *s.Error == *other.Error
}

func (s State) clone() State {
	if s.Error != nil {
		msg := *s.Error
		s.Error = &msg
	}
	return s
}

func (s State) withError(msg string) State {
	s.Error = &msg
	return s
}

func (s State) withoutError() State {
	s.Error = nil
	return s
}

func (s State) withSpeaking(speaking bool) State {
	s.IsSpeaking = speaking
	return s
}

func (s State) withSpokenText(text string) State {
	s.SpokenText = text
	return s
}

// Snapshot is a State tagged with the session and phase it belongs to.
// All three fields change together.
type Snapshot struct {
	SessionID string `json:"session_id"`
	Phase     Phase  `json:"phase"`
	State     State  `json:"state"`
}

func (s Snapshot) Equal(other Snapshot) bool {
	return s.SessionID == other.SessionID && s.Phase == other.Phase && s.State.Equal(other.State)
}

func (s Snapshot) clone() Snapshot {
	s.State = s.State.clone()
	return s
}

// observed is implemented by the values an Observable can hold.
type observed[T any] interface {
	Equal(T) bool
	clone() T
}

// Observable holds the current value and fans every change out to
// subscribers. Subscribers that fall behind only see the latest value.
// Every value handed out is a private copy.
type Observable[T observed[T]] struct {
	mu    sync.Mutex
	value T
	subs  map[uint64]chan T
	next  uint64
}

func NewObservable[T observed[T]](initial T) *Observable[T] {
	return &Observable[T]{
		value: initial.clone(),
		subs:  make(map[uint64]chan T),
	}
}

// Value returns the current value.
func (o *Observable[T]) Value() T {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.value.clone()
}

// Set replaces the current value.
func (o *Observable[T]) Set(v T) {
	o.Update(func(T) T { return v })
}

// Update applies fn to the current value and publishes the result when it
// differs. fn must not call back into o.
func (o *Observable[T]) Update(fn func(T) T) T {
	o.mu.Lock()
	defer o.mu.Unlock()
	next := fn(o.value.clone())
	if next.Equal(o.value) {
		return o.value.clone()
	}
	o.value = next.clone()
	for _, ch := range o.subs {
		offer(ch, o.value.clone())
	}
	return o.value.clone()
}

// Subscribe returns a channel that immediately yields the current value
// and then every subsequent change. The returned func unsubscribes and
// closes the channel.
func (o *Observable[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, 1)

	o.mu.Lock()
	id := o.next
	o.next++
	o.subs[id] = ch
	ch <- o.value.clone()
	o.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.subs, id)
			close(ch)
			o.mu.Unlock()
		})
	}
	return ch, cancel
}

// offer replaces any unread value in ch with v. Callers hold the lock, so
// there is a single sender and the send cannot block.
func offer[T any](ch chan T, v T) {
	select {
	case <-ch:
	default:
	}
	ch <- v
}
