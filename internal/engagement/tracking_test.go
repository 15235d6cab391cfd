package engagement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTrackerConfig() TrackerConfig {
	return TrackerConfig{
		MinIoUAffinity:      0.3,
		MaxCentroidDistance: 120,
		UnseenFrameTimeout:  2,
		MaxTracks:           50,
	}
}

func det(x, y float64, activity Activity) Detection {
	return Detection{
		Box:        Box{X1: x, Y1: y, X2: x + 100, Y2: y + 100},
		Activity:   activity,
		Confidence: 0.9,
	}
}

// TestTrackerLifecycle covers the new→live→retired state machine.
func TestTrackerLifecycle(t *testing.T) {
	t.Parallel()

	t.Run("first observation creates a new track", func(t *testing.T) {
		t.Parallel()
		tracker := NewTracker(testTrackerConfig())

		tracker.ProcessFrame(0, 0, []Detection{det(10, 10, ActivityReading)})

		all := tracker.AllTracks()
		require.Len(t, all, 1)
		assert.Equal(t, "student_0", all[0].TrackID)
		assert.Equal(t, TrackNew, all[0].State)
		assert.Equal(t, 1, all[0].TotalDetections)
	})

	t.Run("second match promotes to live", func(t *testing.T) {
		t.Parallel()
		tracker := NewTracker(testTrackerConfig())

		tracker.ProcessFrame(0, 0, []Detection{det(10, 10, ActivityReading)})
		tracker.ProcessFrame(1, 0, []Detection{det(12, 11, ActivityReading)})

		all := tracker.AllTracks()
		require.Len(t, all, 1)
		assert.Equal(t, TrackLive, all[0].State)
		assert.Equal(t, 2, all[0].TotalDetections)
		assert.Equal(t, 1, all[0].LastSeenFrame)
	})

	t.Run("unseen past timeout retires", func(t *testing.T) {
		t.Parallel()
		tracker := NewTracker(testTrackerConfig())

		tracker.ProcessFrame(0, 0, []Detection{det(10, 10, ActivityReading)})
		tracker.ProcessFrame(1, 0, nil)
		tracker.ProcessFrame(2, 0, nil)

		_, live, retired := tracker.TrackCount()
		assert.Equal(t, 1, live, "timeout not yet exceeded")
		assert.Equal(t, 0, retired)

		tracker.ProcessFrame(3, 0, nil)

		_, live, retired = tracker.TrackCount()
		assert.Equal(t, 0, live)
		assert.Equal(t, 1, retired)
	})

	t.Run("retired track is never rematched", func(t *testing.T) {
		t.Parallel()
		tracker := NewTracker(testTrackerConfig())

		tracker.ProcessFrame(0, 0, []Detection{det(10, 10, ActivityReading)})
		for frame := 1; frame <= 3; frame++ {
			tracker.ProcessFrame(frame, 0, nil)
		}
		// Same box reappears after retirement: must spawn a fresh identity.
		tracker.ProcessFrame(4, 0, []Detection{det(10, 10, ActivityReading)})

		all := tracker.AllTracks()
		require.Len(t, all, 2)
		assert.Equal(t, "student_0", all[0].TrackID)
		assert.Equal(t, TrackRetired, all[0].State)
		assert.Equal(t, "student_1", all[1].TrackID)
		assert.Equal(t, TrackNew, all[1].State)
	})

	t.Run("RetireAll retires everything", func(t *testing.T) {
		t.Parallel()
		tracker := NewTracker(testTrackerConfig())

		tracker.ProcessFrame(0, 0, []Detection{det(10, 10, ActivityReading), det(400, 10, ActivityWriting)})
		tracker.RetireAll()

		total, live, retired := tracker.TrackCount()
		assert.Equal(t, 2, total)
		assert.Equal(t, 0, live)
		assert.Equal(t, 2, retired)
	})
}

// TestTrackerAssociation covers the IoU matching and centroid fallback.
func TestTrackerAssociation(t *testing.T) {
	t.Parallel()

	t.Run("two students keep separate identities", func(t *testing.T) {
		t.Parallel()
		tracker := NewTracker(testTrackerConfig())

		for frame := 0; frame < 5; frame++ {
			jitter := float64(frame) * 2
			tracker.ProcessFrame(frame, 0, []Detection{
				det(10+jitter, 10, ActivityReading),
				det(500, 300+jitter, ActivitySleeping),
			})
		}

		all := tracker.AllTracks()
		require.Len(t, all, 2)
		assert.Equal(t, 5, all[0].TotalDetections)
		assert.Equal(t, 5, all[1].TotalDetections)
		assert.Equal(t, map[Activity]int{ActivityReading: 5}, all[0].ActivityHistogram)
		assert.Equal(t, map[Activity]int{ActivitySleeping: 5}, all[1].ActivityHistogram)
	})

	t.Run("below-gate IoU does not match", func(t *testing.T) {
		t.Parallel()
		cfg := testTrackerConfig()
		cfg.MaxCentroidDistance = 10 // disable meaningful fallback
		tracker := NewTracker(cfg)

		tracker.ProcessFrame(0, 0, []Detection{det(0, 0, ActivityReading)})
		// 100x100 box shifted by 95: IoU ≈ 0.026, centroid distance 95 > 10.
		tracker.ProcessFrame(1, 0, []Detection{det(95, 0, ActivityReading)})

		all := tracker.AllTracks()
		assert.Len(t, all, 2, "weak overlap must spawn a new track")
	})

	t.Run("centroid fallback bridges zero-IoU drift", func(t *testing.T) {
		t.Parallel()
		tracker := NewTracker(testTrackerConfig())

		tracker.ProcessFrame(0, 0, []Detection{det(0, 0, ActivityReading)})
		// Fully disjoint (shift 110 > width 100) but centroid distance
		// 110 ≤ 120: fallback keeps the identity.
		tracker.ProcessFrame(1, 0, []Detection{det(110, 0, ActivityReading)})

		all := tracker.AllTracks()
		require.Len(t, all, 1)
		assert.Equal(t, 2, all[0].TotalDetections)
	})

	t.Run("competing detections resolve globally", func(t *testing.T) {
		t.Parallel()
		tracker := NewTracker(testTrackerConfig())

		tracker.ProcessFrame(0, 0, []Detection{det(0, 0, ActivityReading), det(60, 0, ActivityWriting)})
		// Both next-frame boxes overlap both tracks; optimal assignment
		// keeps each identity with its nearer box.
		tracker.ProcessFrame(1, 0, []Detection{det(5, 0, ActivityReading), det(65, 0, ActivityWriting)})

		all := tracker.AllTracks()
		require.Len(t, all, 2)
		assert.Equal(t, map[Activity]int{ActivityReading: 2}, all[0].ActivityHistogram)
		assert.Equal(t, map[Activity]int{ActivityWriting: 2}, all[1].ActivityHistogram)
	})
}

// TestTrackerValidation covers per-detection rejection.
func TestTrackerValidation(t *testing.T) {
	t.Parallel()

	t.Run("invalid detection is absorbed, frame continues", func(t *testing.T) {
		t.Parallel()
		tracker := NewTracker(testTrackerConfig())

		bad := Detection{Box: Box{X1: 10, Y1: 10, X2: 10, Y2: 20}, Activity: ActivityReading, Confidence: 0.9}
		tracker.ProcessFrame(0, 0, []Detection{bad, det(10, 10, ActivityWriting)})

		assert.Equal(t, 1, tracker.InvalidDetections)
		all := tracker.AllTracks()
		require.Len(t, all, 1)
		assert.Equal(t, map[Activity]int{ActivityWriting: 1}, all[0].ActivityHistogram)
	})

	t.Run("confidence floor filters detections", func(t *testing.T) {
		t.Parallel()
		cfg := testTrackerConfig()
		cfg.MinConfidence = 0.5
		tracker := NewTracker(cfg)

		d := det(10, 10, ActivityReading)
		d.Confidence = 0.2
		tracker.ProcessFrame(0, 0, []Detection{d})

		assert.Equal(t, 1, tracker.InvalidDetections)
		assert.Empty(t, tracker.AllTracks())
	})

	t.Run("alias labels normalise into the histogram", func(t *testing.T) {
		t.Parallel()
		tracker := NewTracker(testTrackerConfig())

		d := det(10, 10, "turn")
		tracker.ProcessFrame(0, 0, []Detection{d})

		all := tracker.AllTracks()
		require.Len(t, all, 1)
		assert.Equal(t, map[Activity]int{ActivityTurning: 1}, all[0].ActivityHistogram)
	})

	t.Run("out-of-order frame is skipped", func(t *testing.T) {
		t.Parallel()
		tracker := NewTracker(testTrackerConfig())

		tracker.ProcessFrame(5, 0, []Detection{det(10, 10, ActivityReading)})
		tracker.ProcessFrame(3, 0, []Detection{det(400, 400, ActivityWriting)})

		assert.Equal(t, 1, tracker.FramesProcessed)
		assert.Len(t, tracker.AllTracks(), 1)
	})
}

func TestTrackerMaxTracks(t *testing.T) {
	t.Parallel()
	cfg := testTrackerConfig()
	cfg.MaxTracks = 1
	tracker := NewTracker(cfg)

	tracker.ProcessFrame(0, 0, []Detection{det(0, 0, ActivityReading), det(500, 500, ActivityWriting)})

	assert.Len(t, tracker.AllTracks(), 1)
	assert.Equal(t, 1, tracker.DroppedDetections)
}

// Histogram counts must always reconcile with the detection count.
func TestTrackerHistogramInvariant(t *testing.T) {
	t.Parallel()
	tracker := NewTracker(testTrackerConfig())

	acts := []Activity{ActivityReading, ActivityReading, ActivitySleeping, ActivityWriting, ActivityUsingMobile}
	for frame, a := range acts {
		tracker.ProcessFrame(frame, 0, []Detection{det(10+float64(frame), 10, a)})
	}

	all := tracker.AllTracks()
	require.Len(t, all, 1)
	track := all[0]

	sum := 0
	for _, count := range track.ActivityHistogram {
		sum += count
	}
	assert.Equal(t, track.TotalDetections, sum)
	assert.Equal(t, len(track.Detections), sum)
}

// Replaying an identical stream must reproduce identical track identities.
func TestTrackerDeterministicIDs(t *testing.T) {
	t.Parallel()

	run := func() []string {
		tracker := NewTracker(testTrackerConfig())
		for frame := 0; frame < 10; frame++ {
			tracker.ProcessFrame(frame, 0, []Detection{
				det(10, 10, ActivityReading),
				det(300, 10, ActivitySleeping),
				det(10, 300, ActivityWriting),
			})
		}
		tracker.RetireAll()
		var ids []string
		for _, track := range tracker.AllTracks() {
			ids = append(ids, track.TrackID)
		}
		return ids
	}

	first := run()
	second := run()
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"student_0", "student_1", "student_2"}, first)
}
