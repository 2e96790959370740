package validation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/clearspan/lcaflow/internal/config"
	"github.com/clearspan/lcaflow/internal/model"
)

// Gate combines Track A and Track B findings into per-file validation
// reports and decides quarantine escalation.
type Gate struct {
	rules               *RuleValidator
	assessor            *ModelValidator
	quarantineThreshold int
}

// NewGate creates a validation gate. A nil assessor disables Track B, which
// leaves reports with unknown quality and zero model confidence.
func NewGate(rules *RuleValidator, assessor *ModelValidator, cfg config.ValidationConfig) *Gate {
	threshold := cfg.QuarantineThreshold
	if threshold <= 0 {
		threshold = 1
	}
	return &Gate{rules: rules, assessor: assessor, quarantineThreshold: threshold}
}

// GateResult is the outcome of evaluating one job's extracted outputs.
type GateResult struct {
	Reports   []model.ValidationReport
	JobErrors []model.ErrorRecord
}

// Evaluate validates every extracted output and returns one report per file
// plus any job-level critical error records.
//
// Status derivation: a file with no extracted content fails; findings from
// either track yield passed_with_warnings; a clean file passes. Quarantine
// derives from the job-critical conditions alone: when the number of
// distinct job-critical findings reaches the quarantine threshold, every
// file the condition indicts (all of them, since the conditions are
// job-wide) escalates to quarantined and is excluded from synthesis unless
// an override re-run includes it.
func (g *Gate) Evaluate(ctx context.Context, outs []*model.NormalizedOutput) *GateResult {
	result := &GateResult{}

	criticals := g.rules.CheckJob(outs)
	now := time.Now().UTC()
	for _, c := range criticals {
		result.JobErrors = append(result.JobErrors, model.ErrorRecord{
			Stage:     "validation",
			Kind:      model.ErrKindValidationCritical,
			Message:   c,
			Timestamp: now,
		})
	}
	escalate := len(criticals) >= g.quarantineThreshold

	var conflicts []string
	if g.assessor != nil {
		conflicts = g.assessor.CrossDoc(ctx, outs)
	}

	for _, out := range outs {
		report := g.evaluateFile(ctx, out)
		report.CrossDocConflicts = conflicts
		if escalate {
			report.Status = model.ValidationQuarantined
		}
		zap.L().Info("file validated",
			zap.String("file_id", out.FileID),
			zap.String("status", string(report.Status)),
			zap.Int("rule_errors", len(report.RuleErrors)),
			zap.Int("rule_warnings", len(report.RuleWarnings)),
		)
		result.Reports = append(result.Reports, report)
	}

	return result
}

func (g *Gate) evaluateFile(ctx context.Context, out *model.NormalizedOutput) model.ValidationReport {
	report := model.ValidationReport{
		FileID:        out.FileID,
		Filename:      out.Filename,
		QualityRating: model.QualityUnknown,
	}

	if out.Content == "" {
		report.RuleErrors = []string{"no extracted content"}
		report.Status = model.ValidationFailed
		return report
	}

	report.RuleWarnings = g.rules.CheckFile(out)

	if g.assessor != nil {
		trackB := g.assessor.Assess(ctx, out)
		report.TaxonomyIssues = trackB.TaxonomyIssues
		report.PlausibilityFlags = trackB.PlausibilityFlags
		report.QualityRating = trackB.QualityRating
		report.ModelConfidence = trackB.ModelConfidence
	}

	switch {
	case len(report.RuleErrors) > 0:
		report.Status = model.ValidationFailed
	case len(report.RuleWarnings) > 0 || len(report.TaxonomyIssues) > 0 || len(report.PlausibilityFlags) > 0:
		report.Status = model.ValidationWarnings
	default:
		report.Status = model.ValidationPassed
	}
	return report
}

// EligibleForSynthesis reports whether a file with the given validation
// status feeds the synthesis pipeline. Quarantined files are excluded unless
// the caller runs with an explicit override.
func EligibleForSynthesis(status model.ValidationStatus, override bool) bool {
	switch status {
	case model.ValidationPassed, model.ValidationWarnings:
		return true
	case model.ValidationQuarantined:
		return override
	default:
		return false
	}
}
