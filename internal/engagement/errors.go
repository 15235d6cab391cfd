package engagement

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the session outcome taxonomy. Per-detection
// failures (ErrInvalidDetection) are absorbed at the tracker boundary and
// never abort a session; only stream-level failures propagate.
var (
	// ErrInvalidDetection marks a malformed detection: bad box, confidence
	// outside [0,1], or a label missing from the vocabulary.
	ErrInvalidDetection = errors.New("invalid detection")

	// ErrStreamInterrupted indicates the frame source failed mid-session.
	// Tracks retired before the failure are still summarised; the summary
	// carries the Partial flag.
	ErrStreamInterrupted = errors.New("detection stream interrupted")

	// ErrSessionCancelled indicates a caller-initiated abort. Partial track
	// state is discarded, not summarised.
	ErrSessionCancelled = errors.New("session cancelled")
)

// InvalidDetectionError describes why a single detection was rejected.
type InvalidDetectionError struct {
	Detection Detection
	Reason    string
}

func (e *InvalidDetectionError) Error() string {
	return fmt.Sprintf("invalid detection at frame %d: %s", e.Detection.FrameIndex, e.Reason)
}

func (e *InvalidDetectionError) Unwrap() error { return ErrInvalidDetection }
