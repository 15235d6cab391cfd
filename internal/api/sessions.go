package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/mindwatch-data/engagement.report/internal/engagement"
	"github.com/mindwatch-data/engagement.report/internal/engagement/storage/sqlite"
	"github.com/mindwatch-data/engagement.report/internal/monitoring"
)

// maxUploadBytes bounds detection log uploads.
const maxUploadBytes = 256 << 20

// sessionState is the in-memory view of a running (or recently finished)
// session. Persistent state lives in the session store; this exists so
// progress polling and cancellation do not touch the database.
type sessionState struct {
	mu       sync.Mutex
	progress float64
	status   string
	errText  string
	cancel   context.CancelFunc
	done     chan struct{}
}

func (st *sessionState) snapshot() (float64, string, string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.progress, st.status, st.errText
}

func (st *sessionState) setProgress(fraction float64) {
	st.mu.Lock()
	st.progress = fraction
	st.mu.Unlock()
}

func (st *sessionState) finish(status, errText string) {
	st.mu.Lock()
	st.status = status
	st.errText = errText
	if status == sqlite.StatusComplete || status == sqlite.StatusPartial {
		st.progress = 1
	}
	st.mu.Unlock()
	close(st.done)
}

type sessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*sessionState
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: make(map[string]*sessionState)}
}

func (r *sessionRegistry) add(id string) *sessionState {
	st := &sessionState{status: sqlite.StatusProcessing, done: make(chan struct{})}
	r.mu.Lock()
	r.sessions[id] = st
	r.mu.Unlock()
	return st
}

func (r *sessionRegistry) get(id string) *sessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

func (r *sessionRegistry) remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// createSession accepts a detection log upload and starts asynchronous
// analysis. The response carries the session id; progress is available via
// GET /api/sessions/{id} and the websocket endpoint.
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxUploadBytes)

	// Spool the upload to disk so the request can return while the
	// analysis goroutine replays it.
	tmp, err := os.CreateTemp("", "detlog-*.ndjson")
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "failed to spool upload")
		return
	}
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("failed to read upload: %v", err))
		return
	}
	tmp.Close()

	src, err := engagement.OpenDetectionLog(tmp.Name())
	if err != nil {
		os.Remove(tmp.Name())
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid detection log: %v", err))
		return
	}
	header := src.Header()

	sessionID := uuid.NewString()
	rec := sqlite.SessionRecord{
		SessionID:   sessionID,
		Kind:        header.Kind,
		SourceName:  header.Source,
		Status:      sqlite.StatusProcessing,
		FPS:         header.FPS,
		TotalFrames: header.TotalFrames,
	}
	if err := s.store.CreateSession(rec); err != nil {
		src.Close()
		os.Remove(tmp.Name())
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to create session: %v", err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	state := s.sessions.add(sessionID)
	state.cancel = cancel

	go s.runSession(ctx, sessionID, state, src, tmp.Name())

	w.WriteHeader(http.StatusAccepted)
	s.writeJSON(w, map[string]string{
		"session_id": sessionID,
		"status":     sqlite.StatusProcessing,
	})
}

// runSession drives the pipeline for one uploaded log and records the outcome.
func (s *Server) runSession(ctx context.Context, sessionID string, state *sessionState, src *engagement.DetectionLogSource, tmpPath string) {
	defer src.Close()
	defer os.Remove(tmpPath)
	defer state.cancel()
	// Terminal status and summary live in the store; dropping the registry
	// entry keeps completed sessions from accumulating in memory.
	defer s.sessions.remove(sessionID)

	if s.metrics != nil {
		s.metrics.SessionsActive.Inc()
		defer s.metrics.SessionsActive.Dec()
	}

	cfg := engagement.PipelineConfigFromTuning(s.tuning)
	pipe := engagement.NewPipeline(cfg, state.setProgress, s.metrics)

	summary, err := pipe.RunLog(ctx, src)
	switch {
	case err == nil:
		s.persistOutcome(sessionID, state, summary, sqlite.StatusComplete, "")

	case errors.Is(err, engagement.ErrStreamInterrupted):
		monitoring.Logf("session %s interrupted: %v", sessionID, err)
		s.persistOutcome(sessionID, state, summary, sqlite.StatusPartial, err.Error())

	case errors.Is(err, engagement.ErrSessionCancelled):
		monitoring.Logf("session %s cancelled", sessionID)
		if serr := s.store.SetStatus(sessionID, sqlite.StatusCancelled, ""); serr != nil {
			monitoring.Logf("failed to mark session %s cancelled: %v", sessionID, serr)
		}
		state.finish(sqlite.StatusCancelled, "")
		s.observeOutcome(sqlite.StatusCancelled)

	default:
		monitoring.Logf("session %s failed: %v", sessionID, err)
		if serr := s.store.SetStatus(sessionID, sqlite.StatusFailed, err.Error()); serr != nil {
			monitoring.Logf("failed to mark session %s failed: %v", sessionID, serr)
		}
		state.finish(sqlite.StatusFailed, err.Error())
		s.observeOutcome(sqlite.StatusFailed)
	}
}

func (s *Server) persistOutcome(sessionID string, state *sessionState, summary *engagement.SessionSummary, status, errText string) {
	if err := s.store.SaveSummary(sessionID, summary); err != nil {
		monitoring.Logf("failed to persist summary for session %s: %v", sessionID, err)
		if serr := s.store.SetStatus(sessionID, sqlite.StatusFailed, err.Error()); serr != nil {
			monitoring.Logf("failed to mark session %s failed: %v", sessionID, serr)
		}
		state.finish(sqlite.StatusFailed, err.Error())
		s.observeOutcome(sqlite.StatusFailed)
		return
	}
	state.finish(status, errText)
	s.observeOutcome(status)
}

func (s *Server) observeOutcome(status string) {
	if s.metrics != nil {
		s.metrics.SessionsCompleted.WithLabelValues(status).Inc()
	}
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListSessions(0)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list sessions: %v", err))
		return
	}
	if records == nil {
		records = []sqlite.SessionRecord{}
	}
	s.writeJSON(w, records)
}

// sessionStatus is the live status envelope for one session.
type sessionStatus struct {
	SessionID string  `json:"session_id"`
	Status    string  `json:"status"`
	Progress  float64 `json:"progress"`
	Error     string  `json:"error,omitempty"`
}

func (s *Server) currentStatus(sessionID string) (sessionStatus, error) {
	if st := s.sessions.get(sessionID); st != nil {
		progress, status, errText := st.snapshot()
		return sessionStatus{SessionID: sessionID, Status: status, Progress: progress, Error: errText}, nil
	}

	rec, err := s.store.GetSession(sessionID)
	if err != nil {
		return sessionStatus{}, err
	}
	status := sessionStatus{SessionID: sessionID, Status: rec.Status, Error: rec.Error}
	if rec.Status == sqlite.StatusComplete || rec.Status == sqlite.StatusPartial {
		status.Progress = 1
	}
	return status, nil
}

func (s *Server) showSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	status, err := s.currentStatus(sessionID)
	if errors.Is(err, sqlite.ErrSessionNotFound) {
		s.writeJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load session: %v", err))
		return
	}
	s.writeJSON(w, status)
}

func (s *Server) showSummary(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	summary, err := s.store.GetSummary(sessionID)
	if errors.Is(err, sqlite.ErrSessionNotFound) {
		s.writeJSONError(w, http.StatusNotFound, "no summary for session")
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load summary: %v", err))
		return
	}
	s.writeJSON(w, summary)
}

func (s *Server) cancelSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	st := s.sessions.get(sessionID)
	if st == nil {
		s.writeJSONError(w, http.StatusConflict, "session is not running")
		return
	}
	if st.cancel != nil {
		st.cancel()
	}
	s.writeJSON(w, map[string]string{"session_id": sessionID, "status": "cancelling"})
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if st := s.sessions.get(sessionID); st != nil {
		select {
		case <-st.done:
		default:
			s.writeJSONError(w, http.StatusConflict, "session is still running")
			return
		}
		s.sessions.remove(sessionID)
	}
	if err := s.store.DeleteSession(sessionID); err != nil {
		if errors.Is(err, sqlite.ErrSessionNotFound) {
			s.writeJSONError(w, http.StatusNotFound, "session not found")
			return
		}
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to delete session: %v", err))
		return
	}
	s.writeJSON(w, map[string]string{"session_id": sessionID, "status": "deleted"})
}
