package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/mindwatch-data/engagement.report/internal/config"
	"github.com/mindwatch-data/engagement.report/internal/engagement"
	"github.com/mindwatch-data/engagement.report/internal/engagement/storage/sqlite"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	_, ts := newTestServerWithHandles(t)
	return ts
}

func newTestServerWithHandles(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "api_test.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	schema, err := os.ReadFile(filepath.Join("..", "..", "db", "migrations", "000001_init.up.sql"))
	require.NoError(t, err)
	_, err = db.Exec(string(schema))
	require.NoError(t, err)

	srv := NewServer(sqlite.NewSessionStore(db), config.EmptyTuningConfig(), nil)
	ts := httptest.NewServer(srv.ServeMux())
	t.Cleanup(ts.Close)
	return srv, ts
}

// sampleDetectionLog builds an upload body with two steady students.
func sampleDetectionLog(t *testing.T, frames int) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	w, err := engagement.NewDetectionLogWriter(&buf, engagement.DetectionLogHeader{
		Kind:        engagement.SessionKindVideo,
		FPS:         30,
		TotalFrames: frames,
		Source:      "unit_test.mp4",
	})
	require.NoError(t, err)

	for frame := 0; frame < frames; frame++ {
		require.NoError(t, w.WriteFrame(engagement.Frame{
			Index:          frame,
			TimestampNanos: int64(frame) * 33_333_333,
			Detections: []engagement.Detection{
				{Box: engagement.Box{X1: 10, Y1: 10, X2: 110, Y2: 110}, Activity: engagement.ActivityListening, Confidence: 0.9},
				{Box: engagement.Box{X1: 400, Y1: 10, X2: 500, Y2: 110}, Activity: engagement.ActivityUsingMobile, Confidence: 0.8},
			},
		}))
	}
	require.NoError(t, w.Flush())
	return &buf
}

func postSession(t *testing.T, ts *httptest.Server, body *bytes.Buffer) string {
	t.Helper()

	resp, err := http.Post(ts.URL+"/api/sessions", "application/x-ndjson", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var created map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotEmpty(t, created["session_id"])
	return created["session_id"]
}

// waitForSession polls until the session leaves the processing state.
func waitForSession(t *testing.T, ts *httptest.Server, sessionID string) sessionStatus {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(fmt.Sprintf("%s/api/sessions/%s", ts.URL, sessionID))
		require.NoError(t, err)

		var status sessionStatus
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
		resp.Body.Close()

		if status.Status != sqlite.StatusProcessing && status.Status != sqlite.StatusPending {
			return status
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session %s did not finish in time", sessionID)
	return sessionStatus{}
}

func TestSessionEndToEnd(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	sessionID := postSession(t, ts, sampleDetectionLog(t, 30))

	status := waitForSession(t, ts, sessionID)
	assert.Equal(t, sqlite.StatusComplete, status.Status)
	assert.Equal(t, 1.0, status.Progress)

	// ---- summary

	resp, err := http.Get(fmt.Sprintf("%s/api/sessions/%s/summary", ts.URL, sessionID))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var summary engagement.SessionSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	assert.Equal(t, 2, summary.TotalStudents)
	assert.Equal(t, 1, summary.AttentiveStudents)
	assert.Equal(t, 1, summary.DistractedStudents)
	assert.InDelta(t, 50.0, summary.EngagementRate, 1e-9)

	// ---- session listing

	listResp, err := http.Get(ts.URL + "/api/sessions")
	require.NoError(t, err)
	defer listResp.Body.Close()

	var records []sqlite.SessionRecord
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&records))
	require.Len(t, records, 1)
	assert.Equal(t, "unit_test.mp4", records[0].SourceName)

	// ---- charts render

	chartResp, err := http.Get(fmt.Sprintf("%s/api/sessions/%s/charts/engagement", ts.URL, sessionID))
	require.NoError(t, err)
	defer chartResp.Body.Close()
	assert.Equal(t, http.StatusOK, chartResp.StatusCode)
	assert.Contains(t, chartResp.Header.Get("Content-Type"), "text/html")
}

func TestImageSession(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	var buf bytes.Buffer
	w, err := engagement.NewDetectionLogWriter(&buf, engagement.DetectionLogHeader{
		Kind:   engagement.SessionKindImage,
		Source: "classroom.jpg",
	})
	require.NoError(t, err)
	require.NoError(t, w.WriteFrame(engagement.Frame{
		Detections: []engagement.Detection{
			{Box: engagement.Box{X1: 10, Y1: 10, X2: 110, Y2: 110}, Activity: engagement.ActivityReading, Confidence: 0.9},
			{Box: engagement.Box{X1: 200, Y1: 10, X2: 300, Y2: 110}, Activity: engagement.ActivityListening, Confidence: 0.9},
			{Box: engagement.Box{X1: 400, Y1: 10, X2: 500, Y2: 110}, Activity: engagement.ActivitySleeping, Confidence: 0.9},
		},
	}))
	require.NoError(t, w.Flush())

	sessionID := postSession(t, ts, &buf)
	status := waitForSession(t, ts, sessionID)
	assert.Equal(t, sqlite.StatusComplete, status.Status)

	resp, err := http.Get(fmt.Sprintf("%s/api/sessions/%s/summary", ts.URL, sessionID))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var summary engagement.SessionSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	assert.Equal(t, 3, summary.TotalStudents)
	assert.Equal(t, 2, summary.AttentiveStudents)
	assert.Equal(t, 1, summary.DistractedStudents)
	assert.Empty(t, summary.Timeline)
}

func TestSessionStateEviction(t *testing.T) {
	t.Parallel()
	srv, ts := newTestServerWithHandles(t)

	sessionID := postSession(t, ts, sampleDetectionLog(t, 10))
	status := waitForSession(t, ts, sessionID)
	require.Equal(t, sqlite.StatusComplete, status.Status)

	// The registry entry is dropped once the run goroutine finishes;
	// allow a moment for its deferred cleanup.
	deadline := time.Now().Add(2 * time.Second)
	for srv.sessions.get(sessionID) != nil && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.Nil(t, srv.sessions.get(sessionID), "terminal session state should be evicted")

	// Status and summary still answer from the store.
	resp, err := http.Get(fmt.Sprintf("%s/api/sessions/%s", ts.URL, sessionID))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	sumResp, err := http.Get(fmt.Sprintf("%s/api/sessions/%s/summary", ts.URL, sessionID))
	require.NoError(t, err)
	defer sumResp.Body.Close()
	assert.Equal(t, http.StatusOK, sumResp.StatusCode)
}

func TestSessionDelete(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	sessionID := postSession(t, ts, sampleDetectionLog(t, 5))
	waitForSession(t, ts, sessionID)

	req, err := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/api/sessions/%s", ts.URL, sessionID), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	getResp, err := http.Get(fmt.Sprintf("%s/api/sessions/%s", ts.URL, sessionID))
	require.NoError(t, err)
	defer getResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, getResp.StatusCode)
}

func TestSessionErrors(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	t.Run("invalid upload", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/api/sessions", "application/x-ndjson", strings.NewReader("not a log\n"))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown session", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/sessions/nope")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("unknown summary", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/sessions/nope/summary")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("cancel non-running session", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/api/sessions/nope/cancel", "", nil)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})
}

func TestConfigEndpoint(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/config")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cfg map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cfg))
	assert.InDelta(t, 0.30, cfg["min_iou_affinity"].(float64), 1e-9)
	assert.InDelta(t, 15, cfg["unseen_frame_timeout"].(float64), 1e-9)
}

func TestHealth(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
