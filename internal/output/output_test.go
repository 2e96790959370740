package output

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearspan/lcaflow/internal/model"
	"github.com/clearspan/lcaflow/internal/objstore"
)

func pctPtr(v float64) *float64 { return &v }

func fullInputs() Inputs {
	return Inputs{
		Job: &model.Job{ID: "j1", CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
		Files: []model.FileMetadata{
			{FileID: "f1", OriginalName: "report.pdf", Category: model.CategoryPDF, AssignedProcedure: "pdf_text", Status: model.FileStatusCompleted},
			{FileID: "f2", OriginalName: "inventory.xlsx", Category: model.CategoryTabular, AssignedProcedure: "tabular", Status: model.FileStatusFailed},
		},
		Routing: &model.RoutingDecision{
			JobID:       "j1",
			Assignments: map[string]string{"f1": "pdf_text", "f2": "tabular"},
			Reasons:     map[string]string{"f1": "text layer present"},
			Mode:        model.ModeParallel,
			Source:      model.RoutingSourceModel,
		},
		Outputs: []*model.NormalizedOutput{
			{
				FileID: "f1", Filename: "report.pdf", Confidence: 0.95,
				ProcessingSeconds: 12.5,
				Content:           "Stages A1, A2 and A3 covered; module D reported separately.",
				Structured:        map[string]any{"extraction_tier": "text_layer"},
			},
		},
		Reports: []model.ValidationReport{
			{FileID: "f1", Filename: "report.pdf", Status: model.ValidationWarnings, RuleWarnings: []string{"no system boundary stated"}},
			{FileID: "f2", Filename: "inventory.xlsx", Status: model.ValidationFailed, RuleErrors: []string{"no extracted content"}},
		},
		Synthesis: &model.SynthesisOutput{
			DocSummaries: []model.DocSummary{
				{FileID: "f1", Filename: "report.pdf", Procedure: "pdf_text", Confidence: 0.95, Summary: "### Document Overview\nA steel LCA."},
				{FileID: "f2", Filename: "inventory.xlsx", Err: "extraction failed"},
			},
			CrossDocNarrative: "## Executive Summary\nOne usable document.",
			InsightsMarkdown:  "Functional unit is 1 kg steel.",
			Insights: model.Insights{
				FunctionalUnit: "1 kg steel",
				ImpactResults: []model.ImpactResult{
					{Category: "climate change", Value: 2.1, Unit: "kg CO2-eq"},
				},
				Hotspots: []model.Hotspot{
					{Process: "rolling", ContributionPct: pctPtr(25), ImpactCategory: "climate change"},
					{Process: "blast furnace", ContributionPct: pctPtr(60), ImpactCategory: "climate change"},
					{Process: "transport", ImpactCategory: "climate change"},
				},
				DataQuality:     model.QualityGood,
				Completeness:    0.8,
				Recommendations: []string{"collect primary electricity data"},
			},
		},
		Errors: []model.ErrorRecord{
			{FileID: "f2", Stage: "extraction", Kind: model.ErrKindExtractionFailure, Message: "all tiers failed"},
		},
		Duration: 90 * time.Second,
		ModelIDs: map[string]string{"synthesis": "model-x"},
	}
}

func TestAssemble_WritesAllArtifacts(t *testing.T) {
	store, err := objstore.NewFSStore(t.TempDir())
	require.NoError(t, err)
	a := New(store)
	ctx := context.Background()

	arts, err := a.Assemble(ctx, fullInputs())
	require.NoError(t, err)

	assert.Equal(t, objstore.ReportKey("j1", "report.md"), arts.ReportKey)

	report, err := store.Get(ctx, arts.ReportKey)
	require.NoError(t, err)
	assert.Contains(t, string(report), "# LCA Analysis Report")

	var analysis Analysis
	require.NoError(t, objstore.GetJSON(ctx, store, arts.AnalysisKey, &analysis))
	assert.Equal(t, "1 kg steel", analysis.FunctionalUnit)

	var viz Viz
	require.NoError(t, objstore.GetJSON(ctx, store, arts.VizKey, &viz))
	require.Len(t, viz.ImpactBars, 1)

	var audit Audit
	require.NoError(t, objstore.GetJSON(ctx, store, arts.AuditKey, &audit))
	assert.Equal(t, "j1", audit.JobID)
}

func TestBuildAnalysis_CountsAndInsights(t *testing.T) {
	analysis := buildAnalysis(fullInputs())

	assert.False(t, analysis.Partial)
	assert.Equal(t, 1, analysis.Validation.Warnings)
	assert.Equal(t, 1, analysis.Validation.Failed)
	assert.Equal(t, 0, analysis.Validation.Passed)
	assert.Equal(t, model.QualityGood, analysis.DataQuality)
	assert.Equal(t, 0.8, analysis.Completeness)
}

func TestBuildAnalysis_NilSynthesisIsPartial(t *testing.T) {
	in := fullInputs()
	in.Synthesis = nil

	analysis := buildAnalysis(in)
	assert.True(t, analysis.Partial)
	assert.Equal(t, model.QualityUnknown, analysis.DataQuality)
	assert.Empty(t, analysis.ImpactResults)
	assert.NotNil(t, analysis.ImpactResults) // serializes as [], not null
}

func TestBuildViz_Pareto(t *testing.T) {
	in := fullInputs()
	viz := buildViz(in, buildAnalysis(in))

	require.Len(t, viz.HotspotPareto, 3)
	assert.Equal(t, "blast furnace", viz.HotspotPareto[0].Label)
	assert.Equal(t, 60.0, viz.HotspotPareto[0].Pct)
	assert.Equal(t, 60.0, viz.HotspotPareto[0].CumulativePct)
	assert.Equal(t, "rolling", viz.HotspotPareto[1].Label)
	assert.Equal(t, 85.0, viz.HotspotPareto[1].CumulativePct)
	// Missing percentage sorts last with zero contribution.
	assert.Equal(t, "transport", viz.HotspotPareto[2].Label)
	assert.Equal(t, 85.0, viz.HotspotPareto[2].CumulativePct)
}

func TestBuildViz_StageCoverage(t *testing.T) {
	in := fullInputs()
	viz := buildViz(in, buildAnalysis(in))

	byStage := map[string]StageCell{}
	for _, c := range viz.StageCoverage {
		byStage[c.Stage] = c
	}
	assert.True(t, byStage["A1"].Covered)
	assert.True(t, byStage["A3"].Covered)
	assert.True(t, byStage["D"].Covered)
	assert.False(t, byStage["B6"].Covered)
	assert.Equal(t, 1, byStage["A1"].Files)
	// Full axis regardless of coverage.
	assert.Len(t, viz.StageCoverage, 17)
}

func TestBuildViz_FileQualityJoinsValidation(t *testing.T) {
	in := fullInputs()
	viz := buildViz(in, buildAnalysis(in))

	require.Len(t, viz.FileQuality, 1)
	assert.Equal(t, "report.pdf", viz.FileQuality[0].Filename)
	assert.Equal(t, model.ValidationWarnings, viz.FileQuality[0].Status)
}

func TestBuildAudit_TraceFields(t *testing.T) {
	audit := buildAudit(fullInputs())

	assert.Equal(t, model.RoutingSourceModel, audit.RoutingSource)
	assert.Equal(t, 90.0, audit.DurationSeconds)
	assert.Equal(t, AuditCounts{Total: 2, Completed: 1, Failed: 1}, audit.Counts)

	require.Len(t, audit.Files, 2)
	f1 := audit.Files[0]
	assert.Equal(t, "text layer present", f1.RoutingReason)
	assert.Equal(t, "text_layer", f1.ExtractionTier)
	assert.Equal(t, 0.95, f1.Confidence)
	assert.Equal(t, model.ValidationWarnings, f1.Validation)

	f2 := audit.Files[1]
	assert.Equal(t, model.FileStatusFailed, f2.Status)
	assert.Empty(t, f2.ExtractionTier)

	require.Len(t, audit.Errors, 1)
}

func TestRenderReport_Sections(t *testing.T) {
	in := fullInputs()
	report := renderReport(in, buildAnalysis(in))

	assert.Contains(t, report, "# LCA Analysis Report")
	assert.Contains(t, report, "## Key Insights")
	assert.Contains(t, report, "## Executive Summary")
	assert.Contains(t, report, "## Validation Summary")
	assert.Contains(t, report, "| Failed | 1 |")
	assert.Contains(t, report, "**inventory.xlsx**: no extracted content")
	assert.Contains(t, report, "report.pdf: no system boundary stated")
	assert.Contains(t, report, "## Appendix: Document Summaries")
	assert.Contains(t, report, "_Summary unavailable: extraction failed_")
	assert.NotContains(t, report, "Partial results")
}

func TestRenderReport_PartialBanner(t *testing.T) {
	in := fullInputs()
	in.Job.Partial = true
	report := renderReport(in, buildAnalysis(in))
	assert.Contains(t, report, "Partial results")
}

func TestRenderReport_DeduplicatesConflicts(t *testing.T) {
	in := fullInputs()
	conflict := "a.pdf vs b.pdf: boundary mismatch"
	in.Reports[0].CrossDocConflicts = []string{conflict}
	in.Reports[1].CrossDocConflicts = []string{conflict}

	report := renderReport(in, buildAnalysis(in))
	assert.Equal(t, 1, strings.Count(report, conflict))
}
