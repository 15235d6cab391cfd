package engagement

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// VideoMeta describes the analysed stream as reported by the frame source.
type VideoMeta struct {
	FPS         float64 `json:"fps"`
	TotalFrames int     `json:"total_frames"`
}

// Duration returns the stream length in seconds, 0 when FPS is unknown.
func (m VideoMeta) Duration() float64 {
	if m.FPS <= 0 {
		return 0
	}
	return float64(m.TotalFrames) / m.FPS
}

// SessionSummary is the terminal artifact for one analysed file. It is the
// sole contract toward rendering, export, and report generation: consumers
// must not depend on any track-matching internals. Immutable once built.
//
// StudentAnalysis and VideoDuration are populated for video sessions only.
// encoding/json serialises map keys sorted, so an identical detection
// stream marshals to identical bytes.
type SessionSummary struct {
	TotalStudents      int                      `json:"total_students"`
	AttentiveStudents  int                      `json:"attentive_students"`
	DistractedStudents int                      `json:"distracted_students"`
	EngagementRate     float64                  `json:"engagement_rate"`
	ActivityBreakdown  map[string]int           `json:"activity_breakdown"`
	StudentAnalysis    map[string]TrackAnalysis `json:"student_analysis,omitempty"`
	VideoDuration      float64                  `json:"video_duration,omitempty"`
	FramesAnalyzed     int                      `json:"frames_analyzed,omitempty"`
	Timeline           []TimelineBucket         `json:"timeline,omitempty"`

	// Session-level spread of per-student attentive percentages (video only).
	MeanAttentivePct   float64 `json:"mean_attentive_pct,omitempty"`
	MedianAttentivePct float64 `json:"median_attentive_pct,omitempty"`

	// Partial is set when the stream failed mid-session: tracks retired
	// before the failure are summarised but the result is incomplete.
	Partial bool `json:"partial,omitempty"`
}

// BuildImageSummary summarises a single still image. Each valid detection is
// one independent student; the engagement mapping applies directly to the
// single observation, no tracking involved.
func BuildImageSummary(detections []Detection) SessionSummary {
	summary := SessionSummary{
		ActivityBreakdown: map[string]int{},
	}

	for _, d := range detections {
		activity, _ := ParseActivity(string(d.Activity))
		summary.TotalStudents++
		summary.ActivityBreakdown[string(activity)]++
		switch activity.Engagement() {
		case EngagementAttentive:
			summary.AttentiveStudents++
		case EngagementDistracted:
			summary.DistractedStudents++
		}
	}

	if summary.TotalStudents > 0 {
		summary.EngagementRate = float64(summary.AttentiveStudents) / float64(summary.TotalStudents) * 100
	}
	return summary
}

// BuildVideoSummary folds all retired tracks into the session-level summary.
// The global activity breakdown is the sum of all track histograms; the
// per-student map is keyed by track ID. Given the same ordered detection
// stream the result is reproducible field for field.
func BuildVideoSummary(tracks []*Track, meta VideoMeta, timeline []TimelineBucket) SessionSummary {
	summary := SessionSummary{
		ActivityBreakdown: map[string]int{},
		StudentAnalysis:   make(map[string]TrackAnalysis, len(tracks)),
		VideoDuration:     meta.Duration(),
		FramesAnalyzed:    meta.TotalFrames,
		Timeline:          timeline,
	}

	percentages := make([]float64, 0, len(tracks))
	for _, track := range tracks {
		analysis := SummarizeTrack(track)
		summary.StudentAnalysis[track.TrackID] = analysis
		summary.TotalStudents++
		percentages = append(percentages, analysis.AttentivePercentage)

		switch analysis.Classification {
		case EngagementAttentive:
			summary.AttentiveStudents++
		case EngagementDistracted:
			summary.DistractedStudents++
		}

		for activity, count := range analysis.ActivityBreakdown {
			summary.ActivityBreakdown[activity] += count
		}
	}

	if summary.TotalStudents > 0 {
		summary.EngagementRate = float64(summary.AttentiveStudents) / float64(summary.TotalStudents) * 100

		sort.Float64s(percentages)
		summary.MeanAttentivePct = stat.Mean(percentages, nil)
		summary.MedianAttentivePct = stat.Quantile(0.5, stat.Empirical, percentages, nil)
	}

	return summary
}
