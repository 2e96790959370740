package model

import "time"

// FileCategory is the declared or detected content category of an input file.
type FileCategory string

const (
	CategoryTabular         FileCategory = "tabular"
	CategoryCSV             FileCategory = "csv"
	CategoryPDF             FileCategory = "pdf"
	CategoryImage           FileCategory = "image"
	CategoryMindmapXMind    FileCategory = "mindmap_xmind"
	CategoryMindmapFreeMind FileCategory = "mindmap_freemind"
	CategoryDocx            FileCategory = "docx"
	CategoryText            FileCategory = "text"
	CategoryPptx            FileCategory = "pptx"
	CategoryUnknown         FileCategory = "unknown"
)

// FileStatus tracks a file through the pipeline lifecycle.
type FileStatus string

const (
	FileStatusPending     FileStatus = "pending"
	FileStatusProcessing  FileStatus = "processing"
	FileStatusCompleted   FileStatus = "completed"
	FileStatusFailed      FileStatus = "failed"
	FileStatusQuarantined FileStatus = "quarantined"
)

// Terminal reports whether the status is a terminal state.
func (s FileStatus) Terminal() bool {
	switch s {
	case FileStatusCompleted, FileStatusFailed, FileStatusQuarantined:
		return true
	}
	return false
}

// FileMetadata holds identity and static facts about one input file.
// Status is the only field mutated after ingestion; the dispatch
// coordinator and the validation gate own those transitions.
type FileMetadata struct {
	FileID       string       `json:"file_id"`
	JobID        string       `json:"job_id"`
	OriginalName string       `json:"original_name"`
	ObjectKey    string       `json:"object_key"`
	Category     FileCategory `json:"category"`

	// Structural signals populated at ingestion.
	HasText           bool `json:"has_text"`
	IsScanned         bool `json:"is_scanned"`
	HasEmbeddedImages bool `json:"has_embedded_images"`
	HasTables         bool `json:"has_tables"`
	PageCount         int  `json:"page_count,omitempty"`
	SheetCount        int  `json:"sheet_count,omitempty"`
	SizeBytes         int  `json:"size_bytes"`

	ComplexityScore   float64    `json:"complexity_score"`
	Status            FileStatus `json:"status"`
	AssignedProcedure string     `json:"assigned_procedure,omitempty"`
	UploadedAt        time.Time  `json:"uploaded_at"`
}
