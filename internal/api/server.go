package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/mindwatch-data/engagement.report/internal/config"
	"github.com/mindwatch-data/engagement.report/internal/engagement/storage/sqlite"
	"github.com/mindwatch-data/engagement.report/internal/monitoring"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	store   *sqlite.SessionStore
	tuning  *config.TuningConfig
	metrics *monitoring.Metrics

	sessions *sessionRegistry
}

func NewServer(store *sqlite.SessionStore, tuning *config.TuningConfig, metrics *monitoring.Metrics) *Server {
	return &Server{
		store:    store,
		tuning:   tuning,
		metrics:  metrics,
		sessions: newSessionRegistry(),
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400 && statusCode < 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/config", s.showConfig)
	mux.HandleFunc("GET /api/sessions", s.listSessions)
	mux.HandleFunc("POST /api/sessions", s.createSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.showSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.deleteSession)
	mux.HandleFunc("GET /api/sessions/{id}/summary", s.showSummary)
	mux.HandleFunc("POST /api/sessions/{id}/cancel", s.cancelSession)
	mux.HandleFunc("GET /api/sessions/{id}/ws", s.handleSessionWS)
	mux.HandleFunc("GET /api/sessions/{id}/charts/engagement", s.handleEngagementChart)
	mux.HandleFunc("GET /api/sessions/{id}/charts/activities", s.handleActivitiesChart)
	mux.HandleFunc("GET /api/sessions/{id}/charts/timeline", s.handleTimelineChart)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("failed to write JSON response: %v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	cfg := map[string]interface{}{
		"min_iou_affinity":        s.tuning.GetMinIoUAffinity(),
		"max_centroid_distance":   s.tuning.GetMaxCentroidDistance(),
		"unseen_frame_timeout":    s.tuning.GetUnseenFrameTimeout(),
		"max_tracks":              s.tuning.GetMaxTracks(),
		"min_confidence":          s.tuning.GetMinConfidence(),
		"frame_queue_depth":       s.tuning.GetFrameQueueDepth(),
		"timeline_bucket_seconds": s.tuning.GetTimelineBucketSeconds(),
		"default_fps":             s.tuning.GetDefaultFPS(),
	}
	s.writeJSON(w, cfg)
}
