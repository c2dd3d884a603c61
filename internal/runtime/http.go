package runtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/loqalabs/voicetotext/internal/eventstore"
	"github.com/loqalabs/voicetotext/internal/protocol"
)

// sessionControl is the subset of stt.Service the HTTP API needs.
type sessionControl interface {
	StartSession(ctx context.Context, language string) protocol.StateSnapshot
	StopSession(ctx context.Context) protocol.StateSnapshot
	ToggleSession(ctx context.Context, language string) protocol.StateSnapshot
	Snapshot() protocol.StateSnapshot
}

type sessionHistory interface {
	RecentSessions(ctx context.Context, limit int) ([]eventstore.Session, error)
	ListSessionEvents(ctx context.Context, sessionID string, limit int) ([]eventstore.Event, error)
}

type api struct {
	control sessionControl
	history sessionHistory
	ready   *atomic.Bool
	logger  *slog.Logger
}

func (a *api) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("GET /readyz", a.handleReady)
	mux.HandleFunc("GET /v1/state", a.handleState)
	mux.HandleFunc("POST /v1/start", a.handleStart)
	mux.HandleFunc("POST /v1/stop", a.handleStop)
	mux.HandleFunc("POST /v1/toggle", a.handleToggle)
	mux.HandleFunc("GET /v1/sessions", a.handleSessions)
	mux.HandleFunc("GET /v1/sessions/{id}/events", a.handleSessionEvents)
	return mux
}

func (a *api) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (a *api) handleReady(w http.ResponseWriter, _ *http.Request) {
	if a.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (a *api) handleState(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, a.control.Snapshot())
}

func (a *api) handleStart(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.control.StartSession(r.Context(), r.URL.Query().Get("lang")))
}

func (a *api) handleStop(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.control.StopSession(r.Context()))
}

func (a *api) handleToggle(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.control.ToggleSession(r.Context(), r.URL.Query().Get("lang")))
}

func (a *api) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := a.history.RecentSessions(r.Context(), queryInt(r, "limit"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []eventstore.Session{}
	}
	a.writeJSON(w, http.StatusOK, sessions)
}

func (a *api) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	events, err := a.history.ListSessionEvents(r.Context(), r.PathValue("id"), queryInt(r, "limit"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	if events == nil {
		events = []eventstore.Event{}
	}
	a.writeJSON(w, http.StatusOK, events)
}

func (a *api) writeError(w http.ResponseWriter, err error) {
	a.logger.Error("request failed", slog.String("error", err.Error()))
	a.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func (a *api) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.logger.Warn("failed to write response", slog.String("error", err.Error()))
	}
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return n
}
