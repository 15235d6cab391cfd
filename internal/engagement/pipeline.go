package engagement

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/mindwatch-data/engagement.report/internal/config"
	"github.com/mindwatch-data/engagement.report/internal/monitoring"
)

// Frame is one ingest tuple from the detector adapter: every detection the
// model produced for one decoded frame. A still image is exactly one Frame
// followed by end-of-stream.
type Frame struct {
	Index          int         `json:"frame"`
	TimestampNanos int64       `json:"timestamp_nanos"`
	Detections     []Detection `json:"detections"`
}

// FrameSource yields frames in strictly increasing index order. Next returns
// io.EOF at end-of-stream; any other error means the stream was interrupted.
// This is the sole ingestion contract: the pipeline is agnostic to whether
// frames came from video decoding or a single still.
type FrameSource interface {
	Next() (Frame, error)
	Meta() VideoMeta
	Close() error
}

// ProgressFunc receives the fraction of frames processed, in [0, 1].
// The callback is owned by the caller; the pipeline keeps no global
// progress state, so concurrent sessions cannot interfere.
type ProgressFunc func(fraction float64)

// PipelineConfig holds the session pipeline's runtime settings.
type PipelineConfig struct {
	Tracker               TrackerConfig
	FrameQueueDepth       int     // Bounded producer/consumer queue depth
	TimelineBucketSeconds float64 // Timeline bucket width for video sessions
	DefaultFPS            float64 // Used when the source reports no frame rate
}

// PipelineConfigFromTuning builds a PipelineConfig from a loaded TuningConfig.
func PipelineConfigFromTuning(cfg *config.TuningConfig) PipelineConfig {
	return PipelineConfig{
		Tracker:               TrackerConfigFromTuning(cfg),
		FrameQueueDepth:       cfg.GetFrameQueueDepth(),
		TimelineBucketSeconds: cfg.GetTimelineBucketSeconds(),
		DefaultFPS:            cfg.GetDefaultFPS(),
	}
}

// Pipeline runs the full detection→tracks→summary analysis for one session.
// Each session gets its own Pipeline instance; there is no shared state
// between sessions beyond the optional metrics collectors.
type Pipeline struct {
	cfg         PipelineConfig
	progress    ProgressFunc
	metrics     *monitoring.Metrics
	lastInvalid int

	// Exposed after Run for status reporting.
	Tracker *Tracker
}

// NewPipeline creates a pipeline. progress and metrics may be nil.
func NewPipeline(cfg PipelineConfig, progress ProgressFunc, metrics *monitoring.Metrics) *Pipeline {
	if cfg.FrameQueueDepth <= 0 {
		cfg.FrameQueueDepth = 1
	}
	return &Pipeline{cfg: cfg, progress: progress, metrics: metrics}
}

// frameResult carries either a frame or the producer's terminal error
// across the bounded queue.
type frameResult struct {
	frame Frame
	err   error
}

// Run consumes the source to end-of-stream and builds the video session
// summary. Frames are processed strictly sequentially (frame N must be
// matched before frame N+1), but the source is drained by a producer
// goroutine through a bounded queue, so detector inference for upcoming
// frames can overlap tracker work for the current one. Backpressure is by
// blocking the producer when the queue is full.
//
// Outcomes:
//   - complete summary, nil error
//   - partial summary (Partial flag set) with ErrStreamInterrupted
//   - nil summary with ErrSessionCancelled; partial state is discarded
//
// An end-of-stream with zero detections ever observed is not an error: the
// summary simply carries all-zero counts.
func (p *Pipeline) Run(ctx context.Context, src FrameSource) (*SessionSummary, error) {
	tracker := NewTracker(p.cfg.Tracker)
	p.Tracker = tracker

	queue := make(chan frameResult, p.cfg.FrameQueueDepth)
	go func() {
		defer close(queue)
		for {
			frame, err := src.Next()
			if err != nil {
				select {
				case queue <- frameResult{err: err}:
				case <-ctx.Done():
				}
				return
			}
			select {
			case queue <- frameResult{frame: frame}:
			case <-ctx.Done():
				return
			}
		}
	}()

	meta := src.Meta()
	if meta.FPS == 0 {
		meta.FPS = p.cfg.DefaultFPS
	}
	var streamErr error

consume:
	for {
		// Cancellation is checked at the top of every frame so a long
		// session aborts between frames, never mid-association.
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrSessionCancelled, ctx.Err())
		case res, ok := <-queue:
			if !ok {
				break consume
			}
			if res.err != nil {
				if !errors.Is(res.err, io.EOF) {
					streamErr = res.err
				}
				break consume
			}
			tracker.ProcessFrame(res.frame.Index, res.frame.TimestampNanos, res.frame.Detections)
			p.observeFrame(res.frame)
			p.reportProgress(tracker.FramesProcessed, meta.TotalFrames)
		}
	}

	// The producer can exit on cancellation and close the queue without
	// delivering a terminal error. A truncated stream must never surface
	// as a complete summary, so cancellation is re-checked here.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCancelled, err)
	}

	tracker.RetireAll()
	p.reportProgress(meta.TotalFrames, meta.TotalFrames)

	retired := tracker.RetiredTracks()
	timeline := BuildTimeline(retired, meta, p.cfg.TimelineBucketSeconds)
	summary := BuildVideoSummary(retired, meta, timeline)

	if streamErr != nil {
		summary.Partial = true
		return &summary, fmt.Errorf("%w: %v", ErrStreamInterrupted, streamErr)
	}
	return &summary, nil
}

// RunImage analyses a single still image: each valid detection is one
// independent student. Invalid detections are rejected and logged without
// aborting the rest.
func (p *Pipeline) RunImage(detections []Detection) SessionSummary {
	valid := make([]Detection, 0, len(detections))
	for _, d := range detections {
		if err := d.Validate(); err != nil {
			if p.metrics != nil {
				p.metrics.DetectionsInvalid.Inc()
			}
			monitoring.Logf("pipeline: %v", err)
			continue
		}
		valid = append(valid, d)
	}
	if p.metrics != nil {
		p.metrics.FramesProcessed.Inc()
		p.metrics.DetectionsTracked.Add(float64(len(valid)))
	}
	return BuildImageSummary(valid)
}

// RunLog dispatches on the detection log kind: an image log is summarised
// from its single frame, a video log streams through Run.
func (p *Pipeline) RunLog(ctx context.Context, src *DetectionLogSource) (*SessionSummary, error) {
	if src.Header().Kind == SessionKindImage {
		frame, err := src.Next()
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to read image frame: %w", err)
		}
		if p.progress != nil {
			p.progress(1)
		}
		summary := p.RunImage(frame.Detections)
		return &summary, nil
	}
	return p.Run(ctx, src)
}

func (p *Pipeline) observeFrame(frame Frame) {
	if p.metrics == nil {
		return
	}
	p.metrics.FramesProcessed.Inc()
	// The tracker counts rejections internally; mirror the running total
	// into the counters by delta.
	invalid := p.Tracker.InvalidDetections - p.lastInvalid
	p.lastInvalid = p.Tracker.InvalidDetections
	p.metrics.DetectionsInvalid.Add(float64(invalid))
	if tracked := len(frame.Detections) - invalid; tracked > 0 {
		p.metrics.DetectionsTracked.Add(float64(tracked))
	}
}

func (p *Pipeline) reportProgress(done, total int) {
	if p.progress == nil || total <= 0 {
		return
	}
	frac := float64(done) / float64(total)
	if frac > 1 {
		frac = 1
	}
	p.progress(frac)
}
