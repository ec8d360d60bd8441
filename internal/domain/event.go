package domain

import "time"

// EventType names a push notification
type EventType string

const (
	EventConnected EventType = "connected"
	EventJobReady  EventType = "job_ready"
	EventJobFailed EventType = "job_failed"
)

// Event is the payload written to a subscriber connection
type Event struct {
	Type   EventType `json:"type"`
	JobID  string    `json:"job_id,omitempty"`
	Status JobStatus `json:"status,omitempty"`
	At     time.Time `json:"at"`
}

// NewJobEvent builds the completion event for a job that reached status
func NewJobEvent(jobID string, status JobStatus, at time.Time) Event {
	switch status {
	case JobStatusReady:
		return Event{Type: EventJobReady, JobID: jobID, Status: status, At: at}
	case JobStatusFailed:
		return Event{Type: EventJobFailed, JobID: jobID, Status: status, At: at}
	default:
		panic("no event for non-terminal status " + string(status))
	}
}
