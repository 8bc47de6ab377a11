package model

import "time"

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobStitching  JobStatus = "stitching"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// Job is one big-context request: a document split into chunks and
// dispatched to a remote model, tracked to completion.
type Job struct {
	ID               string
	ChatID           string
	Status           JobStatus
	TotalChunks      int
	CompletedChunks  int
	Instruction      string
	ModelID          string
	EnableStitchPass bool
	StitchedOutput   *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsTerminal reports whether the job has reached a state that the
// scheduler no longer touches.
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// IsCancellable mirrors the {pending, processing, stitching} -> cancelled
// edge of the job status lattice.
func (j *Job) IsCancellable() bool {
	switch j.Status {
	case JobPending, JobProcessing, JobStitching:
		return true
	default:
		return false
	}
}
