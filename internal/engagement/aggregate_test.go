package engagement

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func trackWithHistogram(id string, hist map[Activity]int) *Track {
	total := 0
	for _, n := range hist {
		total += n
	}
	return &Track{
		TrackID:           id,
		State:             TrackRetired,
		ActivityHistogram: hist,
		TotalDetections:   total,
	}
}

func TestSummarizeTrack(t *testing.T) {
	t.Parallel()

	t.Run("majority attentive", func(t *testing.T) {
		t.Parallel()
		track := trackWithHistogram("student_0", map[Activity]int{
			ActivityListening:   5,
			ActivityWriting:     2,
			ActivityUsingMobile: 3,
		})

		analysis := SummarizeTrack(track)
		assert.Equal(t, EngagementAttentive, analysis.Classification)
		assert.InDelta(t, 70.0, analysis.AttentivePercentage, 1e-9)
		assert.InDelta(t, 30.0, analysis.DistractedPercentage, 1e-9)
		assert.Equal(t, 10, analysis.TotalDetections)
	})

	t.Run("majority distracted", func(t *testing.T) {
		t.Parallel()
		track := trackWithHistogram("student_1", map[Activity]int{
			ActivityReading:  2,
			ActivitySleeping: 4,
			ActivityTurning:  1,
		})

		analysis := SummarizeTrack(track)
		assert.Equal(t, EngagementDistracted, analysis.Classification)
		assert.InDelta(t, 100.0*2/7, analysis.AttentivePercentage, 1e-9)
	})

	t.Run("exact tie resolves attentive", func(t *testing.T) {
		t.Parallel()
		track := trackWithHistogram("student_2", map[Activity]int{
			ActivityReading:  3,
			ActivitySleeping: 3,
		})

		analysis := SummarizeTrack(track)
		assert.Equal(t, EngagementAttentive, analysis.Classification)
		assert.InDelta(t, 50.0, analysis.AttentivePercentage, 1e-9)
	})

	t.Run("unknown counts in denominator only", func(t *testing.T) {
		t.Parallel()
		track := trackWithHistogram("student_3", map[Activity]int{
			ActivityReading: 1,
			ActivityUnknown: 3,
		})

		analysis := SummarizeTrack(track)
		assert.Equal(t, EngagementAttentive, analysis.Classification)
		assert.InDelta(t, 25.0, analysis.AttentivePercentage, 1e-9)
		assert.InDelta(t, 0.0, analysis.DistractedPercentage, 1e-9)
	})

	t.Run("unknown-only track is attentive at zero", func(t *testing.T) {
		t.Parallel()
		track := trackWithHistogram("student_4", map[Activity]int{ActivityUnknown: 5})

		analysis := SummarizeTrack(track)
		assert.Equal(t, EngagementAttentive, analysis.Classification)
		assert.Zero(t, analysis.AttentivePercentage)
		assert.Zero(t, analysis.DistractedPercentage)
	})

	t.Run("idempotent", func(t *testing.T) {
		t.Parallel()
		track := trackWithHistogram("student_5", map[Activity]int{
			ActivityWriting:  4,
			ActivitySleeping: 2,
		})

		first := SummarizeTrack(track)
		second := SummarizeTrack(track)
		assert.Equal(t, first, second)
	})
}
