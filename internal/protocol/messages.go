package protocol

import "time"

// SegmentEvent is broadcast on the bus for every transcript segment
// committed to a meeting, in sequence order.
type SegmentEvent struct {
	MeetingID       string    `json:"meeting_id"`
	Seq             int       `json:"seq"`
	Text            string    `json:"text"`
	DurationSeconds float64   `json:"duration_seconds"`
	CostUSD         float64   `json:"cost_usd"`
	Gap             bool      `json:"gap,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// StatusEvent is broadcast when a meeting changes lifecycle state.
type StatusEvent struct {
	MeetingID string    `json:"meeting_id"`
	Status    string    `json:"status"`
	CostUSD   float64   `json:"cost_usd"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectSegmentPrefix = "meeting.segment"
	SubjectStatusPrefix  = "meeting.status"
)

func SegmentSubject(meetingID string) string {
	return SubjectSegmentPrefix + "." + meetingID
}

func StatusSubject(meetingID string) string {
	return SubjectStatusPrefix + "." + meetingID
}
