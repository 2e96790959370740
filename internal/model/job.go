package model

import "time"

// JobStatus tracks a job through the pipeline.
type JobStatus string

const (
	JobStatusPending      JobStatus = "pending"
	JobStatusRouting      JobStatus = "routing"
	JobStatusExtracting   JobStatus = "extracting"
	JobStatusValidating   JobStatus = "validating"
	JobStatusSynthesizing JobStatus = "synthesizing"
	JobStatusAssembling   JobStatus = "assembling"
	JobStatusCompleted    JobStatus = "completed"
	JobStatusFailed       JobStatus = "failed"
)

// Terminal reports whether the job has finished, successfully or not.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is the persisted per-job record.
type Job struct {
	ID          string     `json:"id"`
	Status      JobStatus  `json:"status"`
	UserContext string     `json:"user_context,omitempty"`
	FileIDs     []string   `json:"file_ids"`
	Partial     bool       `json:"partial"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// EventSeverity is the level attached to a live pipeline event.
type EventSeverity string

const (
	SeverityInfo  EventSeverity = "INFO"
	SeverityWarn  EventSeverity = "WARN"
	SeverityError EventSeverity = "ERROR"
)

// Event is one live pipeline event: a stage transition or a unit completion.
type Event struct {
	Timestamp time.Time     `json:"timestamp"`
	Severity  EventSeverity `json:"severity"`
	Source    string        `json:"source"` // originating procedure or stage
	FileID    string        `json:"file_id,omitempty"`
	Message   string        `json:"message"`
}

// FileProjection is the per-file slice of a job status response.
type FileProjection struct {
	FileID     string       `json:"file_id"`
	Name       string       `json:"name"`
	Category   FileCategory `json:"category"`
	Procedure  string       `json:"procedure,omitempty"`
	Status     FileStatus   `json:"status"`
	Confidence float64      `json:"confidence"`
}

// JobProjection is the status-contract view of a job.
type JobProjection struct {
	JobID    string           `json:"job_id"`
	Status   JobStatus        `json:"status"`
	Progress float64          `json:"progress"`
	Files    []FileProjection `json:"files"`
	Errors   []ErrorRecord    `json:"errors"`
}
