package synthesis

import (
	"context"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearspan/lcaflow/internal/config"
	"github.com/clearspan/lcaflow/internal/model"
	"github.com/clearspan/lcaflow/pkg/anthropic"
)

type scriptedReply struct {
	text string
	err  error
}

type scriptedLLM struct {
	mu       sync.Mutex
	replies  []scriptedReply
	requests []anthropic.MessageRequest
}

func (s *scriptedLLM) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.replies) == 0 {
		return nil, eris.New("script exhausted")
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	if r.err != nil {
		return nil, r.err
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: r.text}},
	}, nil
}

func testOutputs() []*model.NormalizedOutput {
	return []*model.NormalizedOutput{
		{FileID: "f1", Filename: "a.pdf", Category: model.CategoryPDF, Procedure: "pdf_text", Confidence: 0.95, Content: "functional unit 1 kg steel"},
		{FileID: "f2", Filename: "b.xlsx", Category: model.CategoryTabular, Procedure: "tabular", Confidence: 0.80, Content: "| GWP | 2.1 kg CO2-eq |"},
	}
}

// newTestPipeline runs stage 1 sequentially so scripted replies arrive in a
// deterministic order.
func newTestPipeline(llm anthropic.Client) *Pipeline {
	return New(llm, "model-x", config.SynthesisConfig{MaxContentChars: 20000, MaxTokens: 1024}, 1)
}

const insightsJSON = `{
	"functional_unit": "1 kg steel",
	"system_boundary": "cradle-to-gate",
	"impact_method": "EF 3.1",
	"impact_results": [{"category": "climate change", "value": 2.1, "unit": "kg CO2-eq"}],
	"hotspots": [{"process": "blast furnace", "contribution_pct": 60, "impact_category": "climate change"}],
	"data_quality": "Good",
	"completeness": 0.8,
	"recommendations": ["collect primary electricity data"]
}`

func TestRun_ThreeStages(t *testing.T) {
	llm := &scriptedLLM{replies: []scriptedReply{
		{text: "### Document Overview\nsummary of a.pdf"},
		{text: "### Document Overview\nsummary of b.xlsx"},
		{text: "## Executive Summary\nconsolidated narrative"},
		{text: "insight brief"},
		{text: insightsJSON},
	}}
	p := newTestPipeline(llm)

	out, err := p.Run(context.Background(), &model.Job{ID: "j1"}, testOutputs())
	require.NoError(t, err)

	require.Len(t, out.DocSummaries, 2)
	assert.Equal(t, "a.pdf", out.DocSummaries[0].Filename)
	assert.Contains(t, out.DocSummaries[0].Summary, "summary of a.pdf")
	assert.Equal(t, 0.80, out.DocSummaries[1].Confidence)

	assert.Contains(t, out.CrossDocNarrative, "consolidated narrative")
	assert.Equal(t, "insight brief", out.InsightsMarkdown)
	assert.Equal(t, "1 kg steel", out.Insights.FunctionalUnit)
	assert.Equal(t, model.QualityGood, out.Insights.DataQuality)
	require.Len(t, out.Insights.Hotspots, 1)
	require.NotNil(t, out.Insights.Hotspots[0].ContributionPct)
	assert.Equal(t, 60.0, *out.Insights.Hotspots[0].ContributionPct)

	// Stage barriers: both summaries complete before the narrative call, and
	// the narrative call sees both summaries.
	require.Len(t, llm.requests, 5)
	narrativePrompt := llm.requests[2].Messages[0].Content
	assert.Contains(t, narrativePrompt, "=== a.pdf ===")
	assert.Contains(t, narrativePrompt, "=== b.xlsx ===")
	briefPrompt := llm.requests[3].Messages[0].Content
	assert.Contains(t, briefPrompt, "consolidated narrative")
}

func TestRun_SummaryFailureIsRecordedNotFatal(t *testing.T) {
	llm := &scriptedLLM{replies: []scriptedReply{
		{err: eris.New("invalid request")},
		{text: "summary of b.xlsx"},
		{text: "narrative"},
		{text: "brief"},
		{text: insightsJSON},
	}}
	p := newTestPipeline(llm)

	out, err := p.Run(context.Background(), &model.Job{ID: "j1"}, testOutputs())
	require.NoError(t, err)

	assert.NotEmpty(t, out.DocSummaries[0].Err)
	assert.Empty(t, out.DocSummaries[0].Summary)
	assert.Empty(t, out.DocSummaries[1].Err)

	// The narrative still mentions the failed document as unavailable.
	narrativePrompt := llm.requests[2].Messages[0].Content
	assert.Contains(t, narrativePrompt, "a.pdf")
	assert.Contains(t, narrativePrompt, "summary unavailable")
}

func TestRun_AllSummariesFailed(t *testing.T) {
	llm := &scriptedLLM{replies: []scriptedReply{
		{err: eris.New("invalid request")},
		{err: eris.New("invalid request")},
	}}
	p := newTestPipeline(llm)

	_, err := p.Run(context.Background(), &model.Job{ID: "j1"}, testOutputs())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "every document summary failed")
}

func TestRun_NarrativeFailureIsFatal(t *testing.T) {
	llm := &scriptedLLM{replies: []scriptedReply{
		{text: "summary a"},
		{text: "summary b"},
		{err: eris.New("invalid request")},
	}}
	p := newTestPipeline(llm)

	_, err := p.Run(context.Background(), &model.Job{ID: "j1"}, testOutputs())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "narrative stage")
}

func TestRun_MalformedInsightsJSONDegrades(t *testing.T) {
	llm := &scriptedLLM{replies: []scriptedReply{
		{text: "summary a"},
		{text: "summary b"},
		{text: "narrative"},
		{text: "brief"},
		{text: "I could not produce JSON, sorry."},
	}}
	p := newTestPipeline(llm)

	out, err := p.Run(context.Background(), &model.Job{ID: "j1"}, testOutputs())
	require.NoError(t, err)

	assert.Equal(t, "brief", out.InsightsMarkdown)
	assert.Equal(t, model.QualityUnknown, out.Insights.DataQuality)
	assert.Empty(t, out.Insights.ImpactResults)
}

func TestRun_NoDocuments(t *testing.T) {
	p := newTestPipeline(&scriptedLLM{})
	_, err := p.Run(context.Background(), &model.Job{ID: "j1"}, nil)
	assert.Error(t, err)
}

func TestSummarize_TruncatesLongContent(t *testing.T) {
	llm := &scriptedLLM{replies: []scriptedReply{{text: "summary"}}}
	p := New(llm, "model-x", config.SynthesisConfig{MaxContentChars: 50, MaxTokens: 1024}, 1)

	out := &model.NormalizedOutput{
		FileID: "f1", Filename: "big.pdf",
		Content: strings.Repeat("lorem ipsum ", 100),
	}
	s := p.summarize(context.Background(), &model.Job{ID: "j1"}, out)
	require.Empty(t, s.Err)

	prompt := llm.requests[0].Messages[0].Content
	assert.Contains(t, prompt, "[content truncated]")
	assert.Less(t, len(prompt), 300)
}

func TestTruncate_RuneBoundary(t *testing.T) {
	s := strings.Repeat("é", 10) // 2 bytes per rune
	got := truncate(s, 5)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("é", 2)+"\n[content truncated]", got)

	// Content within the budget passes through untouched.
	assert.Equal(t, "short", truncate("short", 5))
}

func TestRun_UserContextInPrompts(t *testing.T) {
	llm := &scriptedLLM{replies: []scriptedReply{
		{text: "summary a"},
		{text: "summary b"},
		{text: "narrative"},
		{text: "brief"},
		{text: insightsJSON},
	}}
	p := newTestPipeline(llm)

	job := &model.Job{ID: "j1", UserContext: "focus on packaging impacts"}
	_, err := p.Run(context.Background(), job, testOutputs())
	require.NoError(t, err)

	assert.Contains(t, llm.requests[0].Messages[0].Content, "focus on packaging impacts")
	assert.Contains(t, llm.requests[2].Messages[0].Content, "focus on packaging impacts")
}
