package output

import (
	"time"

	"github.com/clearspan/lcaflow/internal/model"
)

// ValidationSummary counts validation outcomes across the job.
type ValidationSummary struct {
	Passed      int `json:"passed"`
	Warnings    int `json:"passed_with_warnings"`
	Failed      int `json:"failed"`
	Quarantined int `json:"quarantined"`
}

// Analysis is the machine-readable consolidation of the job.
type Analysis struct {
	JobID       string    `json:"job_id"`
	GeneratedAt time.Time `json:"generated_at"`
	Partial     bool      `json:"partial"`

	FunctionalUnit string `json:"functional_unit,omitempty"`
	SystemBoundary string `json:"system_boundary,omitempty"`
	ImpactMethod   string `json:"impact_method,omitempty"`

	ImpactResults []model.ImpactResult `json:"impact_results"`
	Hotspots      []model.Hotspot      `json:"hotspots"`

	DataQuality  model.QualityRating `json:"data_quality"`
	Completeness float64             `json:"completeness"`

	Validation      ValidationSummary `json:"validation"`
	Recommendations []string          `json:"recommendations"`
}

func buildAnalysis(in Inputs) *Analysis {
	a := &Analysis{
		JobID:       in.Job.ID,
		GeneratedAt: time.Now().UTC(),
		Partial:     in.Job.Partial || in.Synthesis == nil,
		DataQuality: model.QualityUnknown,
	}

	for _, r := range in.Reports {
		switch r.Status {
		case model.ValidationPassed:
			a.Validation.Passed++
		case model.ValidationWarnings:
			a.Validation.Warnings++
		case model.ValidationFailed:
			a.Validation.Failed++
		case model.ValidationQuarantined:
			a.Validation.Quarantined++
		}
	}

	if in.Synthesis != nil {
		ins := in.Synthesis.Insights
		a.FunctionalUnit = ins.FunctionalUnit
		a.SystemBoundary = ins.SystemBoundary
		a.ImpactMethod = ins.ImpactMethod
		a.ImpactResults = ins.ImpactResults
		a.Hotspots = ins.Hotspots
		a.DataQuality = ins.DataQuality
		a.Completeness = ins.Completeness
		a.Recommendations = ins.Recommendations
	}
	if a.ImpactResults == nil {
		a.ImpactResults = []model.ImpactResult{}
	}
	if a.Hotspots == nil {
		a.Hotspots = []model.Hotspot{}
	}
	if a.Recommendations == nil {
		a.Recommendations = []string{}
	}
	return a
}
