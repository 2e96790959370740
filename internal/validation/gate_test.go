package validation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearspan/lcaflow/internal/config"
	"github.com/clearspan/lcaflow/internal/model"
)

func testGateConfig() config.ValidationConfig {
	return config.ValidationConfig{
		StructureWordThreshold: 300,
		MinSections:            2,
		QuarantineThreshold:    1,
	}
}

func newTestGate(assessor *ModelValidator) *Gate {
	cfg := testGateConfig()
	return NewGate(NewRuleValidator(DefaultTaxonomy(), cfg), assessor, cfg)
}

func TestEvaluate_CleanFilePasses(t *testing.T) {
	g := newTestGate(nil)

	res := g.Evaluate(context.Background(), []*model.NormalizedOutput{
		{FileID: "f1", Filename: "report.pdf", Content: cleanContent, WordCount: 20, LCARelevant: true},
	})

	require.Len(t, res.Reports, 1)
	assert.Equal(t, model.ValidationPassed, res.Reports[0].Status)
	assert.Empty(t, res.JobErrors)
}

func TestEvaluate_WarningsOnlyStatus(t *testing.T) {
	g := newTestGate(nil)

	res := g.Evaluate(context.Background(), []*model.NormalizedOutput{
		{FileID: "f1", Content: cleanContent + "\nSteel slab: 80.0 kg CO2-eq per kg", WordCount: 30, LCARelevant: true},
	})

	require.Len(t, res.Reports, 1)
	assert.Equal(t, model.ValidationWarnings, res.Reports[0].Status)
	assert.NotEmpty(t, res.Reports[0].RuleWarnings)
	assert.Empty(t, res.Reports[0].RuleErrors)
}

func TestEvaluate_MissingSectionsWarnsOnly(t *testing.T) {
	g := newTestGate(nil)

	// A substantial document missing every required section is degraded, not
	// broken: it warns and stays in the synthesis input set.
	res := g.Evaluate(context.Background(), []*model.NormalizedOutput{
		{FileID: "f1", Content: cleanContent, WordCount: 500, LCARelevant: true},
	})

	require.Len(t, res.Reports, 1)
	assert.Equal(t, model.ValidationWarnings, res.Reports[0].Status)
	require.Len(t, res.Reports[0].RuleWarnings, 1)
	assert.Contains(t, res.Reports[0].RuleWarnings[0], "required sections")
	assert.Empty(t, res.JobErrors)
}

func TestEvaluate_EmptyContentFails(t *testing.T) {
	g := newTestGate(nil)

	res := g.Evaluate(context.Background(), []*model.NormalizedOutput{
		{FileID: "f1", Content: ""},
	})

	require.Len(t, res.Reports, 1)
	assert.Equal(t, model.ValidationFailed, res.Reports[0].Status)
	assert.Contains(t, res.Reports[0].RuleErrors, "no extracted content")
}

func TestEvaluate_JobCriticalQuarantinesFiles(t *testing.T) {
	g := newTestGate(nil)

	// No file anywhere states a functional unit: the job-critical condition
	// indicts every file, so all of them quarantine regardless of their own
	// per-file findings.
	res := g.Evaluate(context.Background(), []*model.NormalizedOutput{
		{FileID: "f1", Filename: "big.pdf", Content: "GWP table without context", WordCount: 500, LCARelevant: true},
		{FileID: "f2", Filename: "small.pdf", Content: "Climate change: 2 kg CO2-eq, cradle-to-gate", WordCount: 8, LCARelevant: true},
	})

	require.Len(t, res.JobErrors, 1)
	assert.Equal(t, model.ErrKindValidationCritical, res.JobErrors[0].Kind)
	assert.Equal(t, "validation", res.JobErrors[0].Stage)

	require.Len(t, res.Reports, 2)
	assert.Equal(t, model.ValidationQuarantined, res.Reports[0].Status)
	assert.Equal(t, model.ValidationQuarantined, res.Reports[1].Status)
}

func TestEvaluate_HighThresholdBlocksEscalation(t *testing.T) {
	cfg := testGateConfig()
	cfg.QuarantineThreshold = 2
	g := NewGate(NewRuleValidator(DefaultTaxonomy(), cfg), nil, cfg)

	res := g.Evaluate(context.Background(), []*model.NormalizedOutput{
		{FileID: "f1", Content: "GWP table without context", WordCount: 500, LCARelevant: true},
	})

	// One critical finding is below the threshold of two: the file keeps its
	// own warning status, but the critical is still recorded.
	require.Len(t, res.JobErrors, 1)
	require.Len(t, res.Reports, 1)
	assert.Equal(t, model.ValidationWarnings, res.Reports[0].Status)
}

func TestEvaluate_TrackBFindingsOnReport(t *testing.T) {
	llm := &scriptedLLM{replies: []scriptedReply{
		{text: `{"taxonomy_issues": ["odd unit naming"], "quality_rating": "Good", "confidence": 0.8}`},
	}}
	g := newTestGate(NewModelValidator(llm, "model-x", 3000))

	res := g.Evaluate(context.Background(), []*model.NormalizedOutput{
		{FileID: "f1", Content: cleanContent, WordCount: 20, LCARelevant: true},
	})

	require.Len(t, res.Reports, 1)
	r := res.Reports[0]
	assert.Equal(t, model.ValidationWarnings, r.Status) // taxonomy issue demotes a clean file
	assert.Equal(t, model.QualityGood, r.QualityRating)
	assert.Equal(t, 0.8, r.ModelConfidence)
	assert.Equal(t, []string{"odd unit naming"}, r.TaxonomyIssues)
}

func TestEvaluate_CrossDocConflictsAttached(t *testing.T) {
	llm := &scriptedLLM{replies: []scriptedReply{
		// First call is the cross-document comparison, then one assessment
		// per file.
		{text: `{"conflicts": ["a.pdf vs b.pdf: boundary mismatch"]}`},
		{text: `{"quality_rating": "Good", "confidence": 0.9}`},
		{text: `{"quality_rating": "Good", "confidence": 0.9}`},
	}}
	g := newTestGate(NewModelValidator(llm, "model-x", 3000))

	res := g.Evaluate(context.Background(), []*model.NormalizedOutput{
		{FileID: "f1", Filename: "a.pdf", Content: cleanContent, WordCount: 20, LCARelevant: true},
		{FileID: "f2", Filename: "b.pdf", Content: cleanContent, WordCount: 20, LCARelevant: true},
	})

	require.Len(t, res.Reports, 2)
	for _, r := range res.Reports {
		assert.Equal(t, []string{"a.pdf vs b.pdf: boundary mismatch"}, r.CrossDocConflicts)
	}
	assert.Len(t, llm.requests, 3)
}

func TestEligibleForSynthesis(t *testing.T) {
	assert.True(t, EligibleForSynthesis(model.ValidationPassed, false))
	assert.True(t, EligibleForSynthesis(model.ValidationWarnings, false))
	assert.False(t, EligibleForSynthesis(model.ValidationFailed, false))
	assert.False(t, EligibleForSynthesis(model.ValidationFailed, true))
	assert.False(t, EligibleForSynthesis(model.ValidationQuarantined, false))
	assert.True(t, EligibleForSynthesis(model.ValidationQuarantined, true))
}
