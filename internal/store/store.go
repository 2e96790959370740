// Package store persists jobs, file metadata, extraction outputs,
// validation reports and synthesis results behind a driver-agnostic
// interface with SQLite and Postgres implementations.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/clearspan/lcaflow/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = eris.New("store: not found")

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status model.JobStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the analysis pipeline.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, userContext string) (*model.Job, error)
	UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus) error
	CompleteJob(ctx context.Context, jobID string, status model.JobStatus, partial bool) error
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)

	// Files
	AddFile(ctx context.Context, meta *model.FileMetadata) error
	UpdateFileStatus(ctx context.Context, fileID string, status model.FileStatus) error
	AssignProcedure(ctx context.Context, fileID, procedure string) error
	GetFile(ctx context.Context, fileID string) (*model.FileMetadata, error)
	ListFiles(ctx context.Context, jobID string) ([]model.FileMetadata, error)

	// Routing
	SaveRoutingDecision(ctx context.Context, d *model.RoutingDecision) error
	GetRoutingDecision(ctx context.Context, jobID string) (*model.RoutingDecision, error)

	// Extraction outputs
	SaveOutput(ctx context.Context, out *model.NormalizedOutput) error
	ListOutputs(ctx context.Context, jobID string) ([]model.NormalizedOutput, error)

	// Validation reports. Reports are append-only: saving assigns the next
	// version for the file and never mutates prior versions.
	SaveValidationReport(ctx context.Context, jobID string, r *model.ValidationReport) (int, error)
	LatestValidationReports(ctx context.Context, jobID string) ([]model.ValidationReport, error)

	// Synthesis results, append-only and versioned per job.
	SaveSynthesis(ctx context.Context, jobID string, out *model.SynthesisOutput) (int, error)
	GetSynthesis(ctx context.Context, jobID string) (*model.SynthesisOutput, error)

	// Error records
	RecordError(ctx context.Context, jobID string, rec model.ErrorRecord) error
	ListErrors(ctx context.Context, jobID string) ([]model.ErrorRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
