package output

import (
	"time"

	"github.com/clearspan/lcaflow/internal/model"
)

// FileAudit traces one file through the pipeline: how it was routed, what
// extracted it, and how validation judged the result.
type FileAudit struct {
	FileID            string                 `json:"file_id"`
	Filename          string                 `json:"filename"`
	Category          model.FileCategory     `json:"category"`
	Procedure         string                 `json:"procedure,omitempty"`
	RoutingReason     string                 `json:"routing_reason,omitempty"`
	ExtractionTier    string                 `json:"extraction_tier,omitempty"`
	Confidence        float64                `json:"confidence"`
	ProcessingSeconds float64                `json:"processing_seconds"`
	Status            model.FileStatus       `json:"status"`
	Validation        model.ValidationStatus `json:"validation,omitempty"`
}

// AuditCounts totals file outcomes.
type AuditCounts struct {
	Total       int `json:"total"`
	Completed   int `json:"completed"`
	Failed      int `json:"failed"`
	Quarantined int `json:"quarantined"`
}

// Audit is the full processing trace for one job.
type Audit struct {
	JobID           string              `json:"job_id"`
	CreatedAt       time.Time           `json:"created_at"`
	GeneratedAt     time.Time           `json:"generated_at"`
	DurationSeconds float64             `json:"duration_seconds"`
	RoutingSource   model.RoutingSource `json:"routing_source,omitempty"`
	ExecutionMode   model.ExecutionMode `json:"execution_mode,omitempty"`
	ModelIDs        map[string]string   `json:"model_ids,omitempty"`
	Partial         bool                `json:"partial"`
	Counts          AuditCounts         `json:"counts"`
	Files           []FileAudit         `json:"files"`
	Errors          []model.ErrorRecord `json:"errors"`
}

func buildAudit(in Inputs) *Audit {
	audit := &Audit{
		JobID:           in.Job.ID,
		CreatedAt:       in.Job.CreatedAt,
		GeneratedAt:     time.Now().UTC(),
		DurationSeconds: in.Duration.Seconds(),
		ModelIDs:        in.ModelIDs,
		Partial:         in.Job.Partial || in.Synthesis == nil,
		Files:           []FileAudit{},
		Errors:          in.Errors,
	}
	if audit.Errors == nil {
		audit.Errors = []model.ErrorRecord{}
	}
	if in.Routing != nil {
		audit.RoutingSource = in.Routing.Source
		audit.ExecutionMode = in.Routing.Mode
	}

	outByFile := make(map[string]*model.NormalizedOutput, len(in.Outputs))
	for _, out := range in.Outputs {
		outByFile[out.FileID] = out
	}
	reportByFile := make(map[string]model.ValidationReport, len(in.Reports))
	for _, r := range in.Reports {
		reportByFile[r.FileID] = r
	}

	for _, f := range in.Files {
		fa := FileAudit{
			FileID:    f.FileID,
			Filename:  f.OriginalName,
			Category:  f.Category,
			Procedure: f.AssignedProcedure,
			Status:    f.Status,
		}
		if in.Routing != nil {
			fa.RoutingReason = in.Routing.Reasons[f.FileID]
		}
		if out, ok := outByFile[f.FileID]; ok {
			fa.Confidence = out.Confidence
			fa.ProcessingSeconds = out.ProcessingSeconds
			if tier, ok := out.Structured["extraction_tier"].(string); ok {
				fa.ExtractionTier = tier
			}
		}
		if r, ok := reportByFile[f.FileID]; ok {
			fa.Validation = r.Status
		}

		audit.Counts.Total++
		switch f.Status {
		case model.FileStatusCompleted:
			audit.Counts.Completed++
		case model.FileStatusFailed:
			audit.Counts.Failed++
		case model.FileStatusQuarantined:
			audit.Counts.Quarantined++
		}
		audit.Files = append(audit.Files, fa)
	}
	return audit
}
