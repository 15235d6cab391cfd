package engagement

// Activity is one label from the detector's closed vocabulary. The detector
// emits free-form strings; ParseActivity normalises them into this set so the
// rest of the pipeline never does raw string comparisons.
type Activity string

const (
	ActivityListening   Activity = "listening"
	ActivityReading     Activity = "reading"
	ActivityWriting     Activity = "writing"
	ActivitySleeping    Activity = "sleeping"
	ActivityUsingMobile Activity = "using_mobile"
	ActivityTurning     Activity = "turning"
	ActivityUnknown     Activity = "unknown"
)

// Engagement is the derived category for an activity, track, or student.
type Engagement string

const (
	EngagementAttentive  Engagement = "Attentive"
	EngagementDistracted Engagement = "Distracted"
	EngagementUnknown    Engagement = "Unknown"
)

// engagementByActivity is the canonical activity → engagement mapping.
// Labels missing from this table classify as EngagementUnknown and are
// excluded from the attentive/distracted split.
var engagementByActivity = map[Activity]Engagement{
	ActivityListening:   EngagementAttentive,
	ActivityReading:     EngagementAttentive,
	ActivityWriting:     EngagementAttentive,
	ActivitySleeping:    EngagementDistracted,
	ActivityUsingMobile: EngagementDistracted,
	ActivityTurning:     EngagementDistracted,
}

// activityAliases maps detector label variants onto canonical activities.
// Some model exports use "turn" where others use "turning".
var activityAliases = map[string]Activity{
	"turn": ActivityTurning,
}

// allActivities lists the vocabulary in a stable order for deterministic
// iteration (histograms, chart axes, serialisation).
var allActivities = []Activity{
	ActivityListening,
	ActivityReading,
	ActivityWriting,
	ActivitySleeping,
	ActivityUsingMobile,
	ActivityTurning,
	ActivityUnknown,
}

// ParseActivity normalises a detector label into the closed vocabulary.
// Returns false when the label is not part of the vocabulary (the caller
// decides whether to reject the detection or carry it as unknown).
func ParseActivity(label string) (Activity, bool) {
	a := Activity(label)
	if _, ok := engagementByActivity[a]; ok {
		return a, true
	}
	if a == ActivityUnknown {
		return ActivityUnknown, true
	}
	if canonical, ok := activityAliases[label]; ok {
		return canonical, true
	}
	return ActivityUnknown, false
}

// Engagement returns the engagement category for the activity.
func (a Activity) Engagement() Engagement {
	if e, ok := engagementByActivity[a]; ok {
		return e
	}
	return EngagementUnknown
}

// Activities returns the closed vocabulary in stable order.
func Activities() []Activity {
	out := make([]Activity, len(allActivities))
	copy(out, allActivities)
	return out
}
