package model

// DocSummary is a Stage-1 per-document summary with a fixed sub-heading
// shape (Document Overview / LCA Content / Data Quality / Key Findings /
// Flags).
type DocSummary struct {
	FileID     string  `json:"file_id"`
	Filename   string  `json:"filename"`
	Category   FileCategory `json:"category"`
	Procedure  string  `json:"procedure"`
	Confidence float64 `json:"confidence"`
	Summary    string  `json:"summary"`
	Err        string  `json:"error,omitempty"`
}

// ImpactResult is one row of the consolidated impact results table.
type ImpactResult struct {
	Category string  `json:"category"`
	Value    float64 `json:"value"`
	Unit     string  `json:"unit"`
	Stage    string  `json:"stage,omitempty"`
	Source   string  `json:"source,omitempty"`
}

// Hotspot is one ranked environmental hotspot.
type Hotspot struct {
	Process         string   `json:"process"`
	ContributionPct *float64 `json:"contribution_pct,omitempty"`
	ImpactCategory  string   `json:"impact_category"`
}

// Insights is the Stage-3 structured extraction.
type Insights struct {
	FunctionalUnit  string         `json:"functional_unit,omitempty"`
	SystemBoundary  string         `json:"system_boundary,omitempty"`
	ImpactMethod    string         `json:"impact_method,omitempty"`
	ImpactResults   []ImpactResult `json:"impact_results"`
	Hotspots        []Hotspot      `json:"hotspots"`
	DataQuality     QualityRating  `json:"data_quality"`
	Completeness    float64        `json:"completeness"`
	Recommendations []string       `json:"recommendations"`
}

// SynthesisOutput is the full three-stage synthesis result. Each stage's
// slice is immutable once committed; a quarantine-override re-run produces
// a new output with a bumped Version.
type SynthesisOutput struct {
	DocSummaries      []DocSummary `json:"doc_summaries"`
	CrossDocNarrative string       `json:"cross_doc_narrative"`
	InsightsMarkdown  string       `json:"insights_markdown"`
	Insights          Insights     `json:"insights"`
	Version           int          `json:"version"`
}
