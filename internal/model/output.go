package model

import "time"

// NormalizedOutput is the canonical post-extraction record consumed by
// validation and synthesis. Confidence is always clamped to [0,1]; Content
// is non-empty unless every extraction attempt failed, in which case the
// record carries only errors and is excluded from synthesis.
type NormalizedOutput struct {
	FileID    string `json:"file_id"`
	JobID     string `json:"job_id"`
	Filename  string `json:"filename"`
	Category  FileCategory `json:"category"`
	Procedure string `json:"procedure"`

	Content    string         `json:"content"`
	Structured map[string]any `json:"structured,omitempty"`

	LCARelevant        bool    `json:"lca_relevant"`
	Confidence         float64 `json:"confidence"`
	LowConfidenceUnits []int   `json:"low_confidence_units,omitempty"`
	WordCount          int     `json:"word_count"`
	ProcessingSeconds  float64 `json:"processing_seconds"`

	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// ErrorKind classifies a recorded failure.
type ErrorKind string

const (
	ErrKindTransient          ErrorKind = "transient"
	ErrKindMalformedResponse  ErrorKind = "malformed_response"
	ErrKindExtractionFailure  ErrorKind = "extraction_failure"
	ErrKindValidationCritical ErrorKind = "validation_critical"
	ErrKindStoreFailure       ErrorKind = "store_failure"
)

// ErrorRecord attributes one failure to a file or a job-level check.
type ErrorRecord struct {
	FileID    string    `json:"file_id,omitempty"`
	Procedure string    `json:"procedure,omitempty"`
	Stage     string    `json:"stage"`
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
