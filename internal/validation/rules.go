package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/clearspan/lcaflow/internal/config"
	"github.com/clearspan/lcaflow/internal/model"
)

// RuleValidator runs the deterministic Track A checks against the taxonomy.
// Every check is a pure function of the normalized content; no model calls.
type RuleValidator struct {
	tax           *Taxonomy
	wordThreshold int
	minSections   int
	aliasPattern  *regexp.Regexp
}

// NewRuleValidator creates a rule validator. Zero config values fall back to
// the standard thresholds.
func NewRuleValidator(tax *Taxonomy, cfg config.ValidationConfig) *RuleValidator {
	v := &RuleValidator{
		tax:           tax,
		wordThreshold: cfg.StructureWordThreshold,
		minSections:   cfg.MinSections,
	}
	if v.wordThreshold <= 0 {
		v.wordThreshold = 300
	}
	if v.minSections <= 0 {
		v.minSections = 2
	}
	if len(tax.CategoryAliases) > 0 {
		aliases := make([]string, 0, len(tax.CategoryAliases))
		for alias := range tax.CategoryAliases {
			aliases = append(aliases, regexp.QuoteMeta(alias))
		}
		v.aliasPattern = regexp.MustCompile(`(?i)\b(` + strings.Join(aliases, "|") + `)\b`)
	}
	return v
}

// requiredSections groups the section headings a substantial LCA document is
// expected to contain, with the synonyms each group accepts.
var requiredSections = []struct {
	name     string
	synonyms []string
}{
	{"goal and scope", []string{"goal and scope", "goal & scope", "study objective", "scope of the study"}},
	{"inventory", []string{"inventory", "lci", "data collection"}},
	{"impact assessment", []string{"impact assessment", "lcia", "impact categor", "impact results"}},
	{"interpretation", []string{"interpretation", "conclusion", "discussion"}},
}

var boundaryPhrases = []string{
	"system boundary", "system boundaries",
	"cradle to gate", "cradle-to-gate",
	"cradle to grave", "cradle-to-grave",
	"gate to gate", "gate-to-gate",
}

// valueUnitCell matches a "number unit" table cell, capturing the unit text.
var valueUnitCell = regexp.MustCompile(`^-?\d+(?:[.,]\d+)?(?:[eE][+-]?\d+)?\s+(\S.*)$`)

// gwpValue captures a numeric value immediately followed by a kg CO2
// equivalent unit, in any of its common spellings.
var gwpValue = regexp.MustCompile(`(?i)(-?\d+(?:\.\d+)?)\s*kg\s*CO2`)

// CheckFile runs all per-file Track A checks. Every per-file finding is a
// warning: hard failures come only from job-critical conditions and from
// files with no extracted content, both of which the gate decides.
func (v *RuleValidator) CheckFile(out *model.NormalizedOutput) (warns []string) {
	content := out.Content
	lower := strings.ToLower(content)

	warns = append(warns, v.checkUnits(content)...)
	warns = append(warns, v.checkPlausibility(lower)...)

	if !strings.Contains(lower, "functional unit") {
		warns = append(warns, "no functional unit stated")
	}
	if !containsAny(lower, boundaryPhrases) {
		warns = append(warns, "no system boundary stated")
	}

	if out.LCARelevant && !v.mentionsImpactCategory(lower) {
		warns = append(warns, "no recognized impact category mentioned")
	}

	// Structure check applies only to substantial documents: short extracts
	// (a single table, a diagram caption) are not expected to carry the full
	// report skeleton.
	if out.WordCount > v.wordThreshold {
		found := 0
		var missing []string
		for _, sec := range requiredSections {
			if containsAny(lower, sec.synonyms) {
				found++
			} else {
				missing = append(missing, sec.name)
			}
		}
		if found < v.minSections {
			warns = append(warns, fmt.Sprintf(
				"document has %d of %d required sections (missing: %s)",
				found, v.minSections, strings.Join(missing, ", ")))
		}
	}

	return warns
}

// checkUnits inspects value-unit pairs inside markdown table cells and flags
// units outside the reference set. Free prose is skipped: unit tokens there
// are too ambiguous to check deterministically.
func (v *RuleValidator) checkUnits(content string) []string {
	var warns []string
	seen := map[string]bool{}
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "|") {
			continue
		}
		for _, cell := range strings.Split(strings.Trim(trimmed, "|"), "|") {
			m := valueUnitCell.FindStringSubmatch(strings.TrimSpace(cell))
			if m == nil {
				continue
			}
			unit := strings.TrimSpace(m[1])
			if v.tax.IsRecognizedUnit(unit) || seen[unit] {
				continue
			}
			seen[unit] = true
			warns = append(warns, fmt.Sprintf("unrecognized unit %q", unit))
		}
	}
	return warns
}

// checkPlausibility flags GWP values that fall outside the plausible band for
// a material named on the same line.
func (v *RuleValidator) checkPlausibility(lower string) []string {
	var warns []string
	for _, line := range strings.Split(lower, "\n") {
		m := gwpValue.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		value, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		for material, band := range v.tax.PlausibilityRanges {
			if !strings.Contains(line, material) {
				continue
			}
			if value < band[0] || value > band[1] {
				warns = append(warns, fmt.Sprintf(
					"%s GWP %.2f kg CO2-eq outside plausible range [%.2f, %.2f]",
					material, value, band[0], band[1]))
			}
		}
	}
	return warns
}

func (v *RuleValidator) mentionsImpactCategory(lower string) bool {
	for _, cat := range v.tax.ImpactCategories {
		if strings.Contains(lower, cat) {
			return true
		}
	}
	// Short abbreviations must stand alone to count as a mention.
	return v.aliasPattern != nil && v.aliasPattern.MatchString(lower)
}

// CheckJob runs the job-level checks across every successfully extracted
// file. Each returned finding is critical: it drives quarantine escalation.
func (v *RuleValidator) CheckJob(outs []*model.NormalizedOutput) []string {
	var criticals []string

	anyContent := false
	anyFunctionalUnit := false
	for _, out := range outs {
		if out.Content == "" {
			continue
		}
		anyContent = true
		if strings.Contains(strings.ToLower(out.Content), "functional unit") {
			anyFunctionalUnit = true
		}
	}
	if anyContent && !anyFunctionalUnit {
		criticals = append(criticals, "no document in the job states a functional unit")
	}

	return criticals
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
