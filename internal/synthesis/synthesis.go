// Package synthesis runs the three-stage synthesis pipeline: per-document
// summaries, a cross-document narrative, and structured insight extraction.
// Stages run behind hard barriers: stage N+1 never starts until stage N has
// fully completed.
package synthesis

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/clearspan/lcaflow/internal/config"
	"github.com/clearspan/lcaflow/internal/model"
	"github.com/clearspan/lcaflow/internal/resilience"
	"github.com/clearspan/lcaflow/pkg/anthropic"
)

const summarySystem = `You are summarizing one document extracted from a life
cycle assessment (LCA) job. Produce a concise markdown summary with exactly
these sub-headings, in this order:

### Document Overview
### LCA Content
### Data Quality
### Key Findings
### Flags

Under Flags, list anything that needs human attention (missing data,
suspicious values, illegible sections). Write "None" when there is nothing
to flag.`

const narrativeSystem = `You are writing the consolidated analysis for a life
cycle assessment job from per-document summaries. Produce a markdown report
with exactly these sections, in this order:

## Executive Summary
## Document Inventory
## Functional Unit and System Boundary
## Life Cycle Inventory
## Impact Assessment Results
## Hotspot Analysis
## Data Quality and Gaps
## Recommendations

Ground every statement in the summaries. Where the documents disagree, say
so explicitly instead of picking a side. Where information is absent, state
the gap rather than inventing values.`

const insightsSystem = `You are extracting the key insights from a
consolidated life cycle assessment narrative. Produce a short markdown brief
(at most 400 words) covering: the functional unit, the system boundary, the
impact assessment method, the top impact results, the main hotspots, and the
most important recommendations.`

const insightsJSONSystem = `Convert the LCA insight brief into structured
data. Respond with ONLY a JSON object:
{
  "functional_unit": "",
  "system_boundary": "",
  "impact_method": "",
  "impact_results": [{"category": "", "value": 0.0, "unit": "", "stage": "", "source": ""}],
  "hotspots": [{"process": "", "contribution_pct": 0.0, "impact_category": ""}],
  "data_quality": "Excellent|Good|Fair|Poor",
  "completeness": 0.0,
  "recommendations": [""]
}
Use empty strings and empty arrays for anything the brief does not state.
completeness is your 0.0-1.0 estimate of how complete the underlying study
is. Omit contribution_pct when no percentage is stated.`

// Pipeline runs the three synthesis stages against one model.
type Pipeline struct {
	llm             anthropic.Client
	modelID         string
	maxContentChars int
	maxTokens       int
	concurrency     int
}

// New creates a synthesis pipeline. Concurrency bounds the stage-1 fan-out;
// values below one run the summaries sequentially.
func New(llm anthropic.Client, modelID string, cfg config.SynthesisConfig, concurrency int) *Pipeline {
	p := &Pipeline{
		llm:             llm,
		modelID:         modelID,
		maxContentChars: cfg.MaxContentChars,
		maxTokens:       cfg.MaxTokens,
		concurrency:     concurrency,
	}
	if p.maxContentChars <= 0 {
		p.maxContentChars = 20000
	}
	if p.maxTokens <= 0 {
		p.maxTokens = 4096
	}
	if p.concurrency <= 0 {
		p.concurrency = 1
	}
	return p
}

// Run executes all three stages over the validated outputs and returns the
// complete synthesis result. Per-document summary failures are recorded on
// the summary and do not abort the stage; the pipeline fails only when no
// document could be summarized or a later stage fails outright.
func (p *Pipeline) Run(ctx context.Context, job *model.Job, outs []*model.NormalizedOutput) (*model.SynthesisOutput, error) {
	if len(outs) == 0 {
		return nil, eris.New("synthesis: no documents to synthesize")
	}

	summaries, err := p.summarizeAll(ctx, job, outs)
	if err != nil {
		return nil, err
	}

	narrative, err := p.narrate(ctx, job, summaries)
	if err != nil {
		return nil, err
	}

	insightsMD, insights, err := p.extractInsights(ctx, narrative)
	if err != nil {
		return nil, err
	}

	return &model.SynthesisOutput{
		DocSummaries:      summaries,
		CrossDocNarrative: narrative,
		InsightsMarkdown:  insightsMD,
		Insights:          insights,
	}, nil
}

// summarizeAll is stage 1: one summary per document, fanned out under the
// concurrency limit. Results land in their input slot so ordering is stable.
func (p *Pipeline) summarizeAll(ctx context.Context, job *model.Job, outs []*model.NormalizedOutput) ([]model.DocSummary, error) {
	summaries := make([]model.DocSummary, len(outs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, out := range outs {
		g.Go(func() error {
			summaries[i] = p.summarize(gctx, job, out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "synthesis: summary stage")
	}

	succeeded := 0
	for _, s := range summaries {
		if s.Err == "" {
			succeeded++
		}
	}
	if succeeded == 0 {
		return nil, eris.New("synthesis: every document summary failed")
	}
	zap.L().Info("summary stage complete",
		zap.String("job_id", job.ID),
		zap.Int("documents", len(outs)),
		zap.Int("succeeded", succeeded),
	)
	return summaries, nil
}

func (p *Pipeline) summarize(ctx context.Context, job *model.Job, out *model.NormalizedOutput) model.DocSummary {
	summary := model.DocSummary{
		FileID:     out.FileID,
		Filename:   out.Filename,
		Category:   out.Category,
		Procedure:  out.Procedure,
		Confidence: out.Confidence,
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Document: %s (category %s, extracted via %s, confidence %.2f)\n",
		out.Filename, out.Category, out.Procedure, out.Confidence)
	if job.UserContext != "" {
		fmt.Fprintf(&b, "Job context: %s\n", job.UserContext)
	}
	b.WriteString("\n")
	b.WriteString(truncate(out.Content, p.maxContentChars))

	text, err := p.complete(ctx, "summarize", summarySystem, b.String())
	if err != nil {
		zap.L().Warn("document summary failed",
			zap.String("file_id", out.FileID), zap.Error(err))
		summary.Err = err.Error()
		return summary
	}
	summary.Summary = text
	return summary
}

// narrate is stage 2: one call over the concatenated stage-1 summaries.
func (p *Pipeline) narrate(ctx context.Context, job *model.Job, summaries []model.DocSummary) (string, error) {
	var b strings.Builder
	if job.UserContext != "" {
		fmt.Fprintf(&b, "Job context: %s\n\n", job.UserContext)
	}
	for _, s := range summaries {
		if s.Err != "" {
			fmt.Fprintf(&b, "=== %s ===\n(summary unavailable: extraction or summarization failed)\n\n", s.Filename)
			continue
		}
		fmt.Fprintf(&b, "=== %s ===\n%s\n\n", s.Filename, s.Summary)
	}

	narrative, err := p.complete(ctx, "narrate", narrativeSystem, b.String())
	if err != nil {
		return "", eris.Wrap(err, "synthesis: narrative stage")
	}
	return narrative, nil
}

// extractInsights is stage 3: an insight brief in markdown, then a second
// call converting the brief to structured data. A malformed structured reply
// degrades to an empty Insights record instead of failing the stage.
func (p *Pipeline) extractInsights(ctx context.Context, narrative string) (string, model.Insights, error) {
	insights := model.Insights{DataQuality: model.QualityUnknown}

	brief, err := p.complete(ctx, "insights", insightsSystem, truncate(narrative, p.maxContentChars))
	if err != nil {
		return "", insights, eris.Wrap(err, "synthesis: insight stage")
	}

	structuredText, err := p.complete(ctx, "insights_json", insightsJSONSystem, brief)
	if err != nil {
		zap.L().Warn("structured insight call failed", zap.Error(err))
		return brief, insights, nil
	}
	var parsed model.Insights
	if err := anthropic.UnmarshalResponse(structuredText, &parsed); err != nil {
		zap.L().Warn("structured insight reply unparseable", zap.Error(err))
		return brief, insights, nil
	}
	if parsed.DataQuality == "" {
		parsed.DataQuality = model.QualityUnknown
	}
	if parsed.Completeness < 0 {
		parsed.Completeness = 0
	}
	if parsed.Completeness > 1 {
		parsed.Completeness = 1
	}
	return brief, parsed, nil
}

func (p *Pipeline) complete(ctx context.Context, op, system, prompt string) (string, error) {
	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.OnRetry = resilience.RetryLogger("synthesis", op)

	resp, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return p.llm.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     p.modelID,
			System:    anthropic.BuildCachedSystemBlocks(system),
			MaxTokens: int64(p.maxTokens),
			Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
		})
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", eris.New("synthesis: empty model reply")
	}
	return text, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	// Back up to a rune boundary so the cut never produces invalid UTF-8.
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n[content truncated]"
}
