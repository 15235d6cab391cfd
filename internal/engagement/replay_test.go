package engagement

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectionLogRoundtrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	header := DetectionLogHeader{Kind: SessionKindVideo, FPS: 25, TotalFrames: 2, Source: "lecture.mp4"}
	w, err := NewDetectionLogWriter(&buf, header)
	require.NoError(t, err)

	frames := []Frame{
		{Index: 0, TimestampNanos: 0, Detections: []Detection{det(10, 10, ActivityReading)}},
		{Index: 1, TimestampNanos: 40_000_000, Detections: []Detection{det(12, 10, ActivityReading), det(300, 10, ActivityTurning)}},
	}
	for _, frame := range frames {
		require.NoError(t, w.WriteFrame(frame))
	}
	require.NoError(t, w.Flush())

	src, err := NewDetectionLogSource(&buf)
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, header, src.Header())
	assert.Equal(t, VideoMeta{FPS: 25, TotalFrames: 2}, src.Meta())

	for i := range frames {
		got, err := src.Next()
		require.NoError(t, err)
		assert.Equal(t, frames[i].Index, got.Index)
		assert.Equal(t, frames[i].TimestampNanos, got.TimestampNanos)
		assert.Equal(t, frames[i].Detections, got.Detections)
	}

	_, err = src.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDetectionLogSource_Errors(t *testing.T) {
	t.Parallel()

	t.Run("empty input", func(t *testing.T) {
		t.Parallel()
		_, err := NewDetectionLogSource(strings.NewReader(""))
		assert.Error(t, err)
	})

	t.Run("bad header JSON", func(t *testing.T) {
		t.Parallel()
		_, err := NewDetectionLogSource(strings.NewReader("not json\n"))
		assert.Error(t, err)
	})

	t.Run("unknown kind", func(t *testing.T) {
		t.Parallel()
		_, err := NewDetectionLogSource(strings.NewReader(`{"kind":"audio"}` + "\n"))
		assert.Error(t, err)
	})

	t.Run("malformed frame line", func(t *testing.T) {
		t.Parallel()
		input := `{"kind":"video","fps":30}` + "\n" + "garbage\n"
		src, err := NewDetectionLogSource(strings.NewReader(input))
		require.NoError(t, err)

		_, err = src.Next()
		require.Error(t, err)
		assert.NotErrorIs(t, err, io.EOF, "corrupt frame is a stream failure, not end-of-stream")
	})
}

func TestOpenDetectionLog(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "session.ndjson")
	content := `{"kind":"image"}` + "\n" +
		`{"frame":0,"detections":[{"box":{"x1":0,"y1":0,"x2":50,"y2":80},"activity":"reading","confidence":0.9}]}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	src, err := OpenDetectionLog(path)
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, SessionKindImage, src.Header().Kind)

	frame, err := src.Next()
	require.NoError(t, err)
	require.Len(t, frame.Detections, 1)
	assert.Equal(t, ActivityReading, frame.Detections[0].Activity)

	_, err = src.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSingleFrameSource(t *testing.T) {
	t.Parallel()

	src := NewSingleFrameSource([]Detection{det(0, 0, ActivityWriting)})
	frame, err := src.Next()
	require.NoError(t, err)
	assert.Len(t, frame.Detections, 1)

	_, err = src.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, VideoMeta{TotalFrames: 1}, src.Meta())
	assert.NoError(t, src.Close())
}
