package model

// ValidationStatus is the per-file verdict of the validation gate.
type ValidationStatus string

const (
	ValidationPassed       ValidationStatus = "passed"
	ValidationWarnings     ValidationStatus = "passed_with_warnings"
	ValidationFailed       ValidationStatus = "failed"
	ValidationQuarantined  ValidationStatus = "quarantined"
)

// QualityRating is the categorical data quality band from Track B.
type QualityRating string

const (
	QualityExcellent QualityRating = "Excellent"
	QualityGood      QualityRating = "Good"
	QualityFair      QualityRating = "Fair"
	QualityPoor      QualityRating = "Poor"
	QualityUnknown   QualityRating = "Unknown"
)

// ValidationReport holds the combined Track A and Track B findings for one
// file. Reports are never mutated after creation; a re-run produces a new
// report with a bumped Version.
type ValidationReport struct {
	FileID   string           `json:"file_id"`
	Filename string           `json:"filename"`
	Status   ValidationStatus `json:"status"`
	Version  int              `json:"version"`

	// Track A: deterministic rule checks.
	RuleErrors   []string `json:"rule_errors,omitempty"`
	RuleWarnings []string `json:"rule_warnings,omitempty"`

	// Track B: model-assisted assessment.
	TaxonomyIssues    []string      `json:"taxonomy_issues,omitempty"`
	CrossDocConflicts []string      `json:"cross_doc_conflicts,omitempty"`
	PlausibilityFlags []string      `json:"plausibility_flags,omitempty"`
	QualityRating     QualityRating `json:"quality_rating"`
	ModelConfidence   float64       `json:"model_confidence"`
}
