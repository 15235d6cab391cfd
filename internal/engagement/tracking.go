package engagement

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mindwatch-data/engagement.report/internal/config"
	"github.com/mindwatch-data/engagement.report/internal/monitoring"
)

// TrackState represents the lifecycle state of a track.
type TrackState string

const (
	TrackNew     TrackState = "new"     // Created this frame, not yet re-observed
	TrackLive    TrackState = "live"    // Matched in at least two frames
	TrackRetired TrackState = "retired" // Unseen past the timeout or stream ended
)

// TrackerConfig holds the association policy for the tracker. The threshold
// values are loaded from config/tuning.defaults.json; see TuningConfig.
type TrackerConfig struct {
	MinIoUAffinity      float64 // Minimum IoU to accept a detection-track match
	MaxCentroidDistance float64 // Centroid-fallback gate in pixels when IoU is degenerate
	UnseenFrameTimeout  int     // Frames unseen before a track retires
	MaxTracks           int     // Maximum concurrent tracks per session
	MinConfidence       float64 // Detector confidence floor (0 disables)
}

// DefaultTrackerConfig returns tracker configuration loaded from the
// canonical tuning defaults file. Panics if the file cannot be found;
// intended for tests and binaries that have already validated config
// availability.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfigFromTuning(config.MustLoadDefaultConfig())
}

// TrackerConfigFromTuning builds a TrackerConfig from a loaded TuningConfig.
// Use this in production code where the TuningConfig is already loaded.
func TrackerConfigFromTuning(cfg *config.TuningConfig) TrackerConfig {
	return TrackerConfig{
		MinIoUAffinity:      cfg.GetMinIoUAffinity(),
		MaxCentroidDistance: cfg.GetMaxCentroidDistance(),
		UnseenFrameTimeout:  cfg.GetUnseenFrameTimeout(),
		MaxTracks:           cfg.GetMaxTracks(),
		MinConfidence:       cfg.GetMinConfidence(),
	}
}

// Track is a hypothesised identity for one student, persisting across
// consecutive frames of a session. Identity is session-scoped: no track
// survives across separate analysed files.
type Track struct {
	// Identity. TrackID is derived from the creation sequence so that
	// replaying an identical detection stream reproduces identical IDs.
	TrackID string
	Seq     int
	State   TrackState

	// Frame bookkeeping
	FirstFrame     int
	LastSeenFrame  int
	FirstTimestamp int64 // Unix nanos of first associated detection
	LastTimestamp  int64 // Unix nanos of last associated detection
	UnseenCount    int   // Consecutive frames without a match

	// Spatial state used for association
	LastBox Box

	// Aggregated observations
	ActivityHistogram map[Activity]int
	TotalDetections   int
	Detections        []Detection // Ordered, as associated
}

// Tracker maintains the live and retired track sets for one session. It is
// exclusively owned by the session's pipeline goroutine; the mutex guards
// reads from progress/status handlers observing a session mid-flight.
type Tracker struct {
	Tracks  map[string]*Track
	Config  TrackerConfig
	nextSeq int

	// Per-session counters
	FramesProcessed   int
	InvalidDetections int // Rejected by validation
	DroppedDetections int // Valid but dropped (track limit reached)

	lastFrameIndex int

	mu sync.RWMutex
}

// NewTracker creates a tracker with the specified configuration.
func NewTracker(cfg TrackerConfig) *Tracker {
	return &Tracker{
		Tracks:         make(map[string]*Track),
		Config:         cfg,
		lastFrameIndex: -1,
	}
}

// ProcessFrame consumes one frame's detection list in frame order and
// updates the live/retired track sets. Malformed detections are rejected,
// logged, and counted; they never abort the rest of the frame. Frames must
// arrive in strictly increasing index order; association depends on the
// previous frame's state.
func (t *Tracker) ProcessFrame(frameIndex int, timestampNanos int64, detections []Detection) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if frameIndex <= t.lastFrameIndex {
		monitoring.Logf("tracker: out-of-order frame %d after %d, skipping", frameIndex, t.lastFrameIndex)
		return
	}
	t.lastFrameIndex = frameIndex
	t.FramesProcessed++

	// Step 1: validate. Invalid detections are dropped here so they can
	// never create or update a track.
	valid := make([]Detection, 0, len(detections))
	for _, d := range detections {
		d.FrameIndex = frameIndex
		d.TimestampNanos = timestampNanos
		if err := d.Validate(); err != nil {
			t.InvalidDetections++
			monitoring.Logf("tracker: %v", err)
			continue
		}
		if t.Config.MinConfidence > 0 && d.Confidence < t.Config.MinConfidence {
			t.InvalidDetections++
			monitoring.Logf("tracker: detection below confidence floor %.2f at frame %d", t.Config.MinConfidence, frameIndex)
			continue
		}
		// Normalise aliases so the histogram has one key per activity.
		a, _ := ParseActivity(string(d.Activity))
		d.Activity = a
		valid = append(valid, d)
	}

	// Step 2: associate detections to live tracks.
	activeIDs := t.activeTrackIDs()
	assignments := t.associate(valid, activeIDs)

	// Step 3: update matched tracks.
	matched := make(map[string]bool, len(activeIDs))
	for di, tj := range assignments {
		if tj < 0 {
			continue
		}
		trackID := activeIDs[tj]
		t.updateTrack(t.Tracks[trackID], valid[di])
		matched[trackID] = true
	}

	// Step 4: age unmatched tracks; retire past the timeout. Retired tracks
	// are retained for the final summary but never matched again.
	for _, id := range activeIDs {
		track := t.Tracks[id]
		if matched[id] {
			continue
		}
		track.UnseenCount++
		if track.UnseenCount > t.Config.UnseenFrameTimeout {
			track.State = TrackRetired
		}
	}

	// Step 5: spawn new tracks from unassociated detections.
	for di, tj := range assignments {
		if tj >= 0 {
			continue
		}
		if t.activeCount() >= t.Config.MaxTracks {
			t.DroppedDetections++
			monitoring.Logf("tracker: track limit %d reached, dropping detection at frame %d", t.Config.MaxTracks, frameIndex)
			continue
		}
		t.spawnTrack(valid[di])
	}
}

// associate builds a detection×track cost matrix and solves it with the
// Hungarian algorithm. Affinity is IoU of the detection box against the
// track's last-known box; when a detection overlaps no track at all, the
// centroid distance is used instead, gated at MaxCentroidDistance. Each
// track accepts at most one detection per frame and vice versa.
// Returns a slice indexed by detection: the index into activeIDs, or -1.
func (t *Tracker) associate(detections []Detection, activeIDs []string) []int {
	nDet := len(detections)
	nTrk := len(activeIDs)
	if nDet == 0 {
		return nil
	}
	if nTrk == 0 {
		out := make([]int, nDet)
		for i := range out {
			out[i] = -1
		}
		return out
	}

	cost := make([][]float64, nDet)
	for di, d := range detections {
		cost[di] = make([]float64, nTrk)
		overlapsAny := false
		for tj, id := range activeIDs {
			iou := d.Box.IoU(t.Tracks[id].LastBox)
			if iou >= t.Config.MinIoUAffinity {
				// Lower cost for higher affinity.
				cost[di][tj] = 1 - iou
				overlapsAny = true
			} else {
				cost[di][tj] = hungarianForbidden
			}
		}
		if overlapsAny {
			continue
		}
		// IoU is zero (or below gate) against every candidate: fall back
		// to centroid distance so slow drift between sampled frames does
		// not fragment the track.
		for tj, id := range activeIDs {
			dist := d.Box.CentroidDistance(t.Tracks[id].LastBox)
			if dist <= t.Config.MaxCentroidDistance {
				// Offset past the IoU cost range so an IoU match for some
				// other detection is always preferred over a fallback match.
				cost[di][tj] = 1 + dist/t.Config.MaxCentroidDistance
			}
		}
	}

	return HungarianAssign(cost)
}

// updateTrack applies a matched detection to a track.
func (t *Tracker) updateTrack(track *Track, d Detection) {
	if track.State == TrackNew {
		track.State = TrackLive
	}
	track.LastSeenFrame = d.FrameIndex
	track.LastTimestamp = d.TimestampNanos
	track.UnseenCount = 0
	track.LastBox = d.Box
	track.ActivityHistogram[d.Activity]++
	track.TotalDetections++
	track.Detections = append(track.Detections, d)
}

// spawnTrack creates a new track from an unassociated detection. Track IDs
// are derived from the creation sequence, not random, so replaying an
// identical stream reproduces an identical summary.
func (t *Tracker) spawnTrack(d Detection) *Track {
	seq := t.nextSeq
	t.nextSeq++

	track := &Track{
		TrackID:           fmt.Sprintf("student_%d", seq),
		Seq:               seq,
		State:             TrackNew,
		FirstFrame:        d.FrameIndex,
		LastSeenFrame:     d.FrameIndex,
		FirstTimestamp:    d.TimestampNanos,
		LastTimestamp:     d.TimestampNanos,
		LastBox:           d.Box,
		ActivityHistogram: map[Activity]int{d.Activity: 1},
		TotalDetections:   1,
		Detections:        []Detection{d},
	}
	t.Tracks[track.TrackID] = track
	return track
}

// RetireAll moves every remaining new/live track to retired. Called at
// end-of-stream; a single image is a one-frame stream, so after its only
// ProcessFrame call all tracks retire here.
func (t *Tracker) RetireAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, track := range t.Tracks {
		if track.State != TrackRetired {
			track.State = TrackRetired
		}
	}
}

// activeTrackIDs returns non-retired track IDs ordered by creation sequence.
// The stable order keeps cost-matrix construction, and therefore the whole
// session, deterministic. Caller must hold the lock.
func (t *Tracker) activeTrackIDs() []string {
	ids := make([]string, 0, len(t.Tracks))
	for id, track := range t.Tracks {
		if track.State != TrackRetired {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return t.Tracks[ids[i]].Seq < t.Tracks[ids[j]].Seq
	})
	return ids
}

// activeCount returns the number of non-retired tracks. Caller must hold the lock.
func (t *Tracker) activeCount() int {
	n := 0
	for _, track := range t.Tracks {
		if track.State != TrackRetired {
			n++
		}
	}
	return n
}

// RetiredTracks returns all retired tracks ordered by creation sequence.
func (t *Tracker) RetiredTracks() []*Track {
	t.mu.RLock()
	defer t.mu.RUnlock()

	retired := make([]*Track, 0, len(t.Tracks))
	for _, track := range t.Tracks {
		if track.State == TrackRetired {
			retired = append(retired, track)
		}
	}
	sort.Slice(retired, func(i, j int) bool { return retired[i].Seq < retired[j].Seq })
	return retired
}

// AllTracks returns every track ordered by creation sequence.
func (t *Tracker) AllTracks() []*Track {
	t.mu.RLock()
	defer t.mu.RUnlock()

	all := make([]*Track, 0, len(t.Tracks))
	for _, track := range t.Tracks {
		all = append(all, track)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Seq < all[j].Seq })
	return all
}

// TrackCount returns counts of tracks by state.
func (t *Tracker) TrackCount() (total, live, retired int) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, track := range t.Tracks {
		total++
		switch track.State {
		case TrackRetired:
			retired++
		default:
			live++
		}
	}
	return
}
