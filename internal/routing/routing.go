// Package routing decides which extraction procedure handles each file in a
// job and whether the job runs parallel or sequential. A single model call
// proposes assignments; any defect in the proposal discards it entirely in
// favor of the deterministic rule table.
package routing

import (
	"context"
	"encoding/json"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/clearspan/lcaflow/internal/model"
	"github.com/clearspan/lcaflow/internal/registry"
	"github.com/clearspan/lcaflow/pkg/anthropic"
)

const routingSystem = `You route files in an LCA (life cycle assessment) document analysis job to
extraction procedures. You receive a JSON description of the job's files and
the list of available procedure IDs. Return JSON:
{"assignments": {"<file_id>": "<procedure_id>", ...},
 "reasons": {"<file_id>": "<short reason>", ...},
 "estimated_seconds": <integer>}
Every file must be assigned exactly one procedure from the available list.
Reply with JSON only.`

// Router produces the routing decision for a job.
type Router struct {
	llm       anthropic.Client
	reg       *registry.Registry
	modelID   string
	threshold float64 // summed complexity above which the job runs sequentially
}

// New creates a Router.
func New(llm anthropic.Client, reg *registry.Registry, modelID string, complexityThreshold float64) *Router {
	return &Router{llm: llm, reg: reg, modelID: modelID, threshold: complexityThreshold}
}

// fileDescriptor is the per-file shape sent to the model.
type fileDescriptor struct {
	FileID            string  `json:"file_id"`
	Name              string  `json:"name"`
	Category          string  `json:"category"`
	HasText           bool    `json:"has_text"`
	IsScanned         bool    `json:"is_scanned"`
	HasEmbeddedImages bool    `json:"has_embedded_images"`
	HasTables         bool    `json:"has_tables"`
	PageCount         int     `json:"page_count,omitempty"`
	SheetCount        int     `json:"sheet_count,omitempty"`
	SizeBytes         int     `json:"size_bytes"`
	ComplexityScore   float64 `json:"complexity_score"`
}

type routingProposal struct {
	Assignments      map[string]string `json:"assignments"`
	Reasons          map[string]string `json:"reasons"`
	EstimatedSeconds int               `json:"estimated_seconds"`
}

// Decide returns the routing decision for the job. The execution mode is
// always computed deterministically from summed complexity; the model only
// proposes assignments and a duration estimate.
func (r *Router) Decide(ctx context.Context, job *model.Job, files []model.FileMetadata) (*model.RoutingDecision, error) {
	if len(files) == 0 {
		return nil, eris.Errorf("routing: job %s has no files", job.ID)
	}

	mode := model.ModeParallel
	var totalComplexity float64
	for i := range files {
		totalComplexity += files[i].ComplexityScore
	}
	if totalComplexity > r.threshold {
		mode = model.ModeSequential
	}

	proposal, err := r.propose(ctx, job, files)
	if err != nil {
		zap.L().Warn("model routing unavailable, using rule table",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
		return ruleDecision(job.ID, files, mode), nil
	}

	if err := r.validate(proposal, files); err != nil {
		// A defective proposal is discarded wholesale; partial adoption of
		// model assignments is never allowed.
		zap.L().Warn("model routing proposal rejected, using rule table",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
		return ruleDecision(job.ID, files, mode), nil
	}

	d := &model.RoutingDecision{
		JobID:            job.ID,
		Assignments:      proposal.Assignments,
		Reasons:          proposal.Reasons,
		Mode:             mode,
		EstimatedSeconds: proposal.EstimatedSeconds,
		Source:           model.RoutingSourceModel,
	}
	if d.Reasons == nil {
		d.Reasons = map[string]string{}
	}
	if d.EstimatedSeconds <= 0 {
		for i := range files {
			d.EstimatedSeconds += estimateSeconds(&files[i])
		}
	}
	return d, nil
}

func (r *Router) propose(ctx context.Context, job *model.Job, files []model.FileMetadata) (*routingProposal, error) {
	descriptors := make([]fileDescriptor, len(files))
	for i, f := range files {
		descriptors[i] = fileDescriptor{
			FileID:            f.FileID,
			Name:              f.OriginalName,
			Category:          string(f.Category),
			HasText:           f.HasText,
			IsScanned:         f.IsScanned,
			HasEmbeddedImages: f.HasEmbeddedImages,
			HasTables:         f.HasTables,
			PageCount:         f.PageCount,
			SheetCount:        f.SheetCount,
			SizeBytes:         f.SizeBytes,
			ComplexityScore:   f.ComplexityScore,
		}
	}

	payload, err := json.Marshal(map[string]any{
		"files":                descriptors,
		"available_procedures": r.reg.IDs(),
		"user_context":         job.UserContext,
	})
	if err != nil {
		return nil, eris.Wrap(err, "routing: marshal request")
	}

	resp, err := r.llm.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     r.modelID,
		MaxTokens: 1024,
		System:    anthropic.BuildCachedSystemBlocks(routingSystem),
		Messages:  []anthropic.Message{{Role: "user", Content: string(payload)}},
	})
	if err != nil {
		return nil, err
	}
	resp.Usage.LogCost(r.modelID, "routing")

	var proposal routingProposal
	if err := anthropic.UnmarshalResponse(resp.Text(), &proposal); err != nil {
		return nil, err
	}
	return &proposal, nil
}

// validate enforces the strict contract: every file mapped, no unknown file
// IDs, every procedure registered.
func (r *Router) validate(p *routingProposal, files []model.FileMetadata) error {
	if len(p.Assignments) == 0 {
		return eris.New("routing: proposal has no assignments")
	}

	known := make(map[string]bool, len(files))
	for i := range files {
		known[files[i].FileID] = true
	}

	for fileID, proc := range p.Assignments {
		if !known[fileID] {
			return eris.Errorf("routing: proposal references unknown file %q", fileID)
		}
		if !r.reg.Has(proc) {
			return eris.Errorf("routing: proposal uses unregistered procedure %q", proc)
		}
	}
	for fileID := range known {
		if _, ok := p.Assignments[fileID]; !ok {
			return eris.Errorf("routing: proposal leaves file %q unassigned", fileID)
		}
	}
	return nil
}

// ComplexityScore derives the ingestion-time complexity of a file on a
// [0,1] scale. It feeds the sequential-mode threshold: heavier files push
// the job toward sequential execution.
func ComplexityScore(meta *model.FileMetadata) float64 {
	var score float64
	switch meta.Category {
	case model.CategoryPDF:
		score = math.Min(float64(meta.PageCount)/200, 0.6)
		if meta.HasEmbeddedImages {
			score += 0.2
		}
		if meta.IsScanned {
			score += 0.2
		}
	case model.CategoryTabular, model.CategoryCSV:
		score = math.Min(float64(meta.SheetCount)/20, 0.5)
		// Size stands in for row count, which is unknown before parsing.
		score += math.Min(float64(meta.SizeBytes)/(20<<20), 0.5)
	case model.CategoryImage:
		score = 0.4
	case model.CategoryMindmapXMind, model.CategoryMindmapFreeMind:
		score = 0.3
	case model.CategoryDocx, model.CategoryText, model.CategoryPptx:
		score = 0.2
	default:
		score = 0.5
	}
	return math.Min(math.Max(score, 0), 1)
}
