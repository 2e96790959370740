package validation

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/clearspan/lcaflow/internal/model"
	"github.com/clearspan/lcaflow/internal/normalize"
	"github.com/clearspan/lcaflow/internal/resilience"
	"github.com/clearspan/lcaflow/pkg/anthropic"
)

const assessSystem = `You are reviewing extracted content from a life cycle
assessment (LCA) document for data quality problems.

Check for:
- terminology that deviates from standard LCA taxonomy (units, impact
  category names, life-cycle stage codes)
- numeric values that are implausible for the stated material or process
- internal inconsistencies within the content

Respond with ONLY a JSON object:
{
  "taxonomy_issues": ["..."],
  "plausibility_flags": ["..."],
  "quality_rating": "Excellent|Good|Fair|Poor",
  "confidence": 0.0
}
quality_rating reflects overall data quality. confidence is your confidence
in this assessment, 0.0 to 1.0. Use empty arrays when nothing is wrong.`

const crossDocSystem = `You are comparing extracted content from multiple
documents belonging to one life cycle assessment job.

Identify contradictions between documents: conflicting functional units,
incompatible system boundaries, or the same quantity reported with materially
different values. Ignore differences of scope or detail that are not
contradictions.

Respond with ONLY a JSON object:
{"conflicts": ["<filename A> vs <filename B>: <description>"]}
Use an empty array when the documents are consistent.`

// assessResult is the wire shape of one Track B assessment reply.
type assessResult struct {
	TaxonomyIssues    []string `json:"taxonomy_issues"`
	PlausibilityFlags []string `json:"plausibility_flags"`
	QualityRating     string   `json:"quality_rating"`
	Confidence        float64  `json:"confidence"`
}

// ModelValidator runs the Track B model-assisted assessment. Long content is
// chunked to the word budget and the per-chunk findings are merged.
type ModelValidator struct {
	llm         anthropic.Client
	modelID     string
	chunkBudget int
}

// NewModelValidator creates a model validator. A non-positive budget falls
// back to the standard chunk size.
func NewModelValidator(llm anthropic.Client, modelID string, chunkBudget int) *ModelValidator {
	if chunkBudget <= 0 {
		chunkBudget = 3000
	}
	return &ModelValidator{llm: llm, modelID: modelID, chunkBudget: chunkBudget}
}

// TrackBResult aggregates the model findings for one file.
type TrackBResult struct {
	TaxonomyIssues    []string
	PlausibilityFlags []string
	QualityRating     model.QualityRating
	ModelConfidence   float64
}

// fallbackResult is the deterministic degradation when the model reply
// cannot be parsed: no findings, unknown quality, zero confidence.
func fallbackResult() *TrackBResult {
	return &TrackBResult{QualityRating: model.QualityUnknown}
}

// Assess runs the per-file assessment. Model errors and malformed replies
// never fail the file: they degrade to the deterministic fallback so the
// gate can still derive a status from Track A alone.
func (m *ModelValidator) Assess(ctx context.Context, out *model.NormalizedOutput) *TrackBResult {
	chunks := normalize.ChunkWords(out.Content, m.chunkBudget)
	if len(chunks) == 0 {
		return fallbackResult()
	}

	agg := &TrackBResult{QualityRating: model.QualityUnknown}
	assessed := 0
	for i, chunk := range chunks {
		res, ok := m.assessChunk(ctx, out, chunk, i, len(chunks))
		if !ok {
			continue
		}
		assessed++
		agg.TaxonomyIssues = append(agg.TaxonomyIssues, res.TaxonomyIssues...)
		agg.PlausibilityFlags = append(agg.PlausibilityFlags, res.PlausibilityFlags...)
		agg.ModelConfidence += res.Confidence
		// The worst chunk rating wins.
		if rating := parseRating(res.QualityRating); worseThan(rating, agg.QualityRating) || agg.QualityRating == model.QualityUnknown {
			agg.QualityRating = rating
		}
	}
	if assessed == 0 {
		return fallbackResult()
	}
	agg.ModelConfidence /= float64(assessed)
	return agg
}

func (m *ModelValidator) assessChunk(ctx context.Context, out *model.NormalizedOutput, chunk string, idx, total int) (*assessResult, bool) {
	prompt := fmt.Sprintf("Document: %s (part %d of %d)\n\n%s", out.Filename, idx+1, total, chunk)
	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.OnRetry = resilience.RetryLogger("validation", "assess")
	resp, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return m.llm.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     m.modelID,
			System:    anthropic.BuildCachedSystemBlocks(assessSystem),
			MaxTokens: 1024,
			Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
		})
	})
	if err != nil {
		zap.L().Warn("validation: assessment call failed",
			zap.String("file_id", out.FileID), zap.Int("chunk", idx), zap.Error(err))
		return nil, false
	}
	var res assessResult
	if err := anthropic.UnmarshalResponse(resp.Text(), &res); err != nil {
		zap.L().Warn("validation: assessment reply unparseable",
			zap.String("file_id", out.FileID), zap.Int("chunk", idx), zap.Error(err))
		return nil, false
	}
	if res.Confidence < 0 {
		res.Confidence = 0
	}
	if res.Confidence > 1 {
		res.Confidence = 1
	}
	return &res, true
}

// CrossDoc compares the documents of one job and returns conflict findings.
// Jobs with fewer than two documents have nothing to compare. Like Assess,
// failures degrade to no findings.
func (m *ModelValidator) CrossDoc(ctx context.Context, outs []*model.NormalizedOutput) []string {
	var docs []*model.NormalizedOutput
	for _, out := range outs {
		if out.Content != "" {
			docs = append(docs, out)
		}
	}
	if len(docs) < 2 {
		return nil
	}

	// Each document contributes an excerpt bounded by a share of the budget,
	// so the comparison prompt stays within one chunk.
	perDoc := m.chunkBudget / len(docs)
	if perDoc < 200 {
		perDoc = 200
	}
	var b strings.Builder
	for _, doc := range docs {
		excerpt := doc.Content
		if chunks := normalize.ChunkWords(excerpt, perDoc); len(chunks) > 1 {
			excerpt = chunks[0]
		}
		fmt.Fprintf(&b, "=== %s ===\n%s\n\n", doc.Filename, excerpt)
	}

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.OnRetry = resilience.RetryLogger("validation", "cross-document")
	resp, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return m.llm.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     m.modelID,
			System:    anthropic.BuildCachedSystemBlocks(crossDocSystem),
			MaxTokens: 1024,
			Messages:  []anthropic.Message{{Role: "user", Content: b.String()}},
		})
	})
	if err != nil {
		zap.L().Warn("validation: cross-document call failed", zap.Error(err))
		return nil
	}
	var parsed struct {
		Conflicts []string `json:"conflicts"`
	}
	if err := anthropic.UnmarshalResponse(resp.Text(), &parsed); err != nil {
		zap.L().Warn("validation: cross-document reply unparseable", zap.Error(err))
		return nil
	}
	return parsed.Conflicts
}

func parseRating(s string) model.QualityRating {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "excellent":
		return model.QualityExcellent
	case "good":
		return model.QualityGood
	case "fair":
		return model.QualityFair
	case "poor":
		return model.QualityPoor
	default:
		return model.QualityUnknown
	}
}

// ratingOrder ranks qualities best to worst; Unknown sorts best so any real
// rating replaces it.
var ratingOrder = map[model.QualityRating]int{
	model.QualityUnknown:   0,
	model.QualityExcellent: 1,
	model.QualityGood:      2,
	model.QualityFair:      3,
	model.QualityPoor:      4,
}

func worseThan(a, b model.QualityRating) bool {
	return ratingOrder[a] > ratingOrder[b]
}
