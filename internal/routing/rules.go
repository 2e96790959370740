package routing

import (
	"github.com/clearspan/lcaflow/internal/model"
	"github.com/clearspan/lcaflow/internal/registry"
)

// ruleAssign maps one file to a procedure using the deterministic rule
// table. It never fails and never returns an unregistered procedure.
func ruleAssign(meta *model.FileMetadata) (procedure, reason string) {
	switch meta.Category {
	case model.CategoryTabular, model.CategoryCSV:
		return registry.ProcTabular, "spreadsheet data routes to the tabular chain"
	case model.CategoryImage:
		return registry.ProcVision, "image content requires vision extraction"
	case model.CategoryMindmapXMind, model.CategoryMindmapFreeMind:
		return registry.ProcMindmap, "mindmap format has a dedicated outline parser"
	case model.CategoryPDF:
		switch {
		case meta.IsScanned:
			return registry.ProcPDFScanned, "scanned PDF needs OCR-first extraction"
		case meta.HasEmbeddedImages || meta.HasTables:
			return registry.ProcPDFHybrid, "PDF mixes text with tables or images"
		case meta.HasText:
			return registry.ProcPDFText, "PDF has a usable text layer"
		default:
			return registry.ProcPDFHybrid, "PDF structure unclear, hybrid covers both"
		}
	case model.CategoryDocx, model.CategoryText, model.CategoryPptx:
		return registry.ProcGeneric, "office or plain text content"
	default:
		return registry.ProcGeneric, "unknown category defaults to generic extraction"
	}
}

// ruleDecision builds a full deterministic decision for the job.
func ruleDecision(jobID string, files []model.FileMetadata, mode model.ExecutionMode) *model.RoutingDecision {
	d := &model.RoutingDecision{
		JobID:       jobID,
		Assignments: make(map[string]string, len(files)),
		Reasons:     make(map[string]string, len(files)),
		Mode:        mode,
		Source:      model.RoutingSourceRules,
	}
	for i := range files {
		proc, reason := ruleAssign(&files[i])
		d.Assignments[files[i].FileID] = proc
		d.Reasons[files[i].FileID] = reason
		d.EstimatedSeconds += estimateSeconds(&files[i])
	}
	return d
}

// estimateSeconds is the per-file duration heuristic used when the model
// estimate is unavailable.
func estimateSeconds(meta *model.FileMetadata) int {
	switch meta.Category {
	case model.CategoryImage:
		return 45
	case model.CategoryPDF:
		if meta.IsScanned {
			return 90
		}
		return 30
	case model.CategoryTabular, model.CategoryCSV:
		return 60
	default:
		return 15
	}
}
