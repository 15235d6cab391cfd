package engagement

// TrackAnalysis is the classification summary for one finalised track.
// Pure function of the track's histogram: deterministic and idempotent.
type TrackAnalysis struct {
	TrackID              string         `json:"track_id"`
	Classification       Engagement     `json:"classification"`
	AttentivePercentage  float64        `json:"attentive_percentage"`
	DistractedPercentage float64        `json:"distracted_percentage"`
	ActivityBreakdown    map[string]int `json:"activity_breakdown"`
	TotalDetections      int            `json:"total_detections"`
	FirstFrame           int            `json:"first_frame"`
	LastSeenFrame        int            `json:"last_seen_frame"`
}

// SummarizeTrack computes the classification summary for a retired track.
//
// The dominant classification is the majority class by detection count;
// ties resolve to Attentive, the conservative default that avoids
// over-flagging a student. Unknown-labelled detections count toward the
// percentage denominator but toward neither class, so a track observed
// only with unmapped labels classifies Attentive at 0%.
func SummarizeTrack(track *Track) TrackAnalysis {
	var attentive, distracted int
	breakdown := make(map[string]int, len(track.ActivityHistogram))
	for activity, count := range track.ActivityHistogram {
		breakdown[string(activity)] = count
		switch activity.Engagement() {
		case EngagementAttentive:
			attentive += count
		case EngagementDistracted:
			distracted += count
		}
	}

	analysis := TrackAnalysis{
		TrackID:           track.TrackID,
		ActivityBreakdown: breakdown,
		TotalDetections:   track.TotalDetections,
		FirstFrame:        track.FirstFrame,
		LastSeenFrame:     track.LastSeenFrame,
	}

	if track.TotalDetections > 0 {
		analysis.AttentivePercentage = float64(attentive) / float64(track.TotalDetections) * 100
		analysis.DistractedPercentage = float64(distracted) / float64(track.TotalDetections) * 100
	}

	if distracted > attentive {
		analysis.Classification = EngagementDistracted
	} else {
		analysis.Classification = EngagementAttentive
	}

	return analysis
}
