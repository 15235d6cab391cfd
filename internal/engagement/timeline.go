package engagement

import "math"

// TimelineBucket aggregates detection-level engagement over one stretch of
// the video. Buckets are contiguous from t=0; the last bucket may be short.
type TimelineBucket struct {
	StartSeconds float64 `json:"start_seconds"`
	EndSeconds   float64 `json:"end_seconds"`
	Attentive    int     `json:"attentive"`
	Distracted   int     `json:"distracted"`
	Unknown      int     `json:"unknown,omitempty"`
}

// BuildTimeline distributes every tracked detection into fixed-width time
// buckets, giving the coarse engagement-over-time view for video sessions.
// Returns nil for empty input or a non-positive bucket width.
func BuildTimeline(tracks []*Track, meta VideoMeta, bucketSeconds float64) []TimelineBucket {
	if bucketSeconds <= 0 || meta.Duration() <= 0 || len(tracks) == 0 {
		return nil
	}

	n := int(math.Ceil(meta.Duration() / bucketSeconds))
	if n == 0 {
		return nil
	}

	buckets := make([]TimelineBucket, n)
	for i := range buckets {
		buckets[i].StartSeconds = float64(i) * bucketSeconds
		buckets[i].EndSeconds = math.Min(float64(i+1)*bucketSeconds, meta.Duration())
	}

	for _, track := range tracks {
		for _, d := range track.Detections {
			secs := float64(d.TimestampNanos) / 1e9
			idx := int(secs / bucketSeconds)
			if idx < 0 {
				continue
			}
			if idx >= n {
				idx = n - 1
			}
			switch d.Activity.Engagement() {
			case EngagementAttentive:
				buckets[idx].Attentive++
			case EngagementDistracted:
				buckets[idx].Distracted++
			default:
				buckets[idx].Unknown++
			}
		}
	}

	return buckets
}
