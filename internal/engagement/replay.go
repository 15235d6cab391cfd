package engagement

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Detection logs are the serialised output of the detector adapter: one JSON
// header line describing the stream, then one JSON frame per line. They let
// an analysis be replayed byte-for-byte without re-running inference, and
// are the transport between the upload handler and this package.

// DetectionLogHeader is the first line of a detection log.
type DetectionLogHeader struct {
	Kind        string  `json:"kind"` // "video" or "image"
	FPS         float64 `json:"fps,omitempty"`
	TotalFrames int     `json:"total_frames,omitempty"`
	Source      string  `json:"source,omitempty"` // original media filename, informational
}

// SessionKindVideo and SessionKindImage are the recognised header kinds.
const (
	SessionKindVideo = "video"
	SessionKindImage = "image"
)

// DetectionLogSource replays a detection log as a FrameSource.
type DetectionLogSource struct {
	header  DetectionLogHeader
	scanner *bufio.Scanner
	closer  io.Closer
	line    int
}

// NewDetectionLogSource reads the header line and prepares to stream frames.
func NewDetectionLogSource(r io.Reader) (*DetectionLogSource, error) {
	scanner := bufio.NewScanner(r)
	// Frames with many detections can exceed the default 64KB line limit.
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read detection log header: %w", err)
		}
		return nil, fmt.Errorf("detection log is empty")
	}

	var header DetectionLogHeader
	if err := json.Unmarshal(scanner.Bytes(), &header); err != nil {
		return nil, fmt.Errorf("failed to parse detection log header: %w", err)
	}
	if header.Kind != SessionKindVideo && header.Kind != SessionKindImage {
		return nil, fmt.Errorf("unknown detection log kind %q", header.Kind)
	}

	src := &DetectionLogSource{header: header, scanner: scanner, line: 1}
	if c, ok := r.(io.Closer); ok {
		src.closer = c
	}
	return src, nil
}

// OpenDetectionLog opens a detection log file for replay.
func OpenDetectionLog(path string) (*DetectionLogSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open detection log: %w", err)
	}
	src, err := NewDetectionLogSource(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return src, nil
}

// Header returns the parsed log header.
func (s *DetectionLogSource) Header() DetectionLogHeader { return s.header }

// Meta returns the stream metadata from the header.
func (s *DetectionLogSource) Meta() VideoMeta {
	return VideoMeta{FPS: s.header.FPS, TotalFrames: s.header.TotalFrames}
}

// Next returns the next frame, or io.EOF at end-of-stream. A malformed
// frame line is a stream-level failure, not a per-detection one: the log
// itself is corrupt and the session surfaces as interrupted.
func (s *DetectionLogSource) Next() (Frame, error) {
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return Frame{}, fmt.Errorf("detection log read failed at line %d: %w", s.line, err)
		}
		return Frame{}, io.EOF
	}
	s.line++

	var frame Frame
	if err := json.Unmarshal(s.scanner.Bytes(), &frame); err != nil {
		return Frame{}, fmt.Errorf("malformed frame at line %d: %w", s.line, err)
	}
	return frame, nil
}

// Close releases the underlying reader if it is closeable.
func (s *DetectionLogSource) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// DetectionLogWriter writes a detection log: header first, then frames.
type DetectionLogWriter struct {
	w   *bufio.Writer
	enc *json.Encoder
}

// NewDetectionLogWriter writes the header and returns a frame writer.
func NewDetectionLogWriter(w io.Writer, header DetectionLogHeader) (*DetectionLogWriter, error) {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	if err := enc.Encode(header); err != nil {
		return nil, fmt.Errorf("failed to write detection log header: %w", err)
	}
	return &DetectionLogWriter{w: bw, enc: enc}, nil
}

// WriteFrame appends one frame line.
func (w *DetectionLogWriter) WriteFrame(frame Frame) error {
	return w.enc.Encode(frame)
}

// Flush writes any buffered frames through to the underlying writer.
func (w *DetectionLogWriter) Flush() error { return w.w.Flush() }

// SingleFrameSource adapts a still image's detections to the FrameSource
// contract: one frame, then end-of-stream.
type SingleFrameSource struct {
	frame Frame
	done  bool
}

// NewSingleFrameSource wraps the detections of one image.
func NewSingleFrameSource(detections []Detection) *SingleFrameSource {
	return &SingleFrameSource{frame: Frame{Index: 0, Detections: detections}}
}

// Next returns the single frame once, then io.EOF.
func (s *SingleFrameSource) Next() (Frame, error) {
	if s.done {
		return Frame{}, io.EOF
	}
	s.done = true
	return s.frame, nil
}

// Meta reports a one-frame stream with no meaningful frame rate.
func (s *SingleFrameSource) Meta() VideoMeta { return VideoMeta{TotalFrames: 1} }

// Close is a no-op.
func (s *SingleFrameSource) Close() error { return nil }
