package domain

import (
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of an invoice generation job
type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusReady      JobStatus = "ready"
	JobStatusFailed     JobStatus = "failed"
)

// Valid reports whether s is one of the three known states
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusProcessing, JobStatusReady, JobStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s is ready or failed. Unknown values are not terminal.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusReady || s == JobStatusFailed
}

// ParseJobStatus converts a stored or user-supplied value into a JobStatus
func ParseJobStatus(v string) (JobStatus, error) {
	s := JobStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, v)
	}
	return s, nil
}

// CanTransition reports whether from -> to is a legal move.
// Only processing may move, and only to a terminal state.
func CanTransition(from, to JobStatus) bool {
	return from == JobStatusProcessing && to.IsTerminal()
}

// Job is one invoice-artifact generation request.
// ArtifactRef is non-empty iff Status is ready.
type Job struct {
	ID            string
	OwnerID       string
	Status        JobStatus
	ArtifactRef   string
	Payload       InvoicePayload
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Downloadable reports whether the artifact can be served
func (j *Job) Downloadable() bool {
	return j.Status == JobStatusReady && j.ArtifactRef != ""
}

// JobMessage is the hand-off unit between the API and the runner
type JobMessage struct {
	JobID       string `json:"job_id"`
	OwnerID     string `json:"owner_id"`
	DeliveryTag uint64 `json:"-"`
}
