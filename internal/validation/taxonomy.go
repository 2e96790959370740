// Package validation implements the two-track validation gate: deterministic
// rule checks against LCA reference data, and a model-assisted quality
// assessment, combined into per-file reports with quarantine escalation.
package validation

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Taxonomy holds the LCA reference data the rule validator checks against.
// A yaml file can override any field wholesale.
type Taxonomy struct {
	Units            []string          `yaml:"units"`
	ImpactCategories []string          `yaml:"impact_categories"`
	CategoryAliases  map[string]string `yaml:"category_aliases"`
	Stages           []string          `yaml:"stages"`
	// PlausibilityRanges maps a material to its plausible GWP band in
	// kg CO2-eq per kg.
	PlausibilityRanges map[string][2]float64 `yaml:"plausibility_ranges"`

	unitSet  map[string]bool
	catSet   map[string]bool
	stageSet map[string]bool
}

// DefaultTaxonomy returns the built-in reference data: common LCA units,
// EF 3.1 / ReCiPe impact categories with their usual abbreviations, and the
// EN 15804 life-cycle stage codes.
func DefaultTaxonomy() *Taxonomy {
	t := &Taxonomy{
		Units: []string{
			"kg", "g", "mg", "t", "tonne", "lb",
			"m", "m2", "m3", "l", "ml",
			"kWh", "MJ", "GJ", "Wh",
			"kg CO2-eq", "kg CO2e", "kg CO2 eq", "kg CH4-eq", "kg N2O-eq",
			"kg SO2-eq", "kg PO4-eq", "kg P-eq", "kg N-eq", "kg Sb-eq",
			"kg NMVOC-eq", "kg CFC-11-eq", "mol H+-eq", "mol N-eq",
			"kBq U235-eq", "CTUh", "CTUe", "disease incidence",
			"m3 world eq", "MJ net calorific value",
			"piece", "unit", "hour", "km", "tkm", "pkm",
		},
		ImpactCategories: []string{
			"climate change", "ozone depletion", "acidification",
			"eutrophication", "eutrophication freshwater",
			"eutrophication marine", "eutrophication terrestrial",
			"photochemical ozone formation", "human toxicity cancer",
			"human toxicity non-cancer", "ecotoxicity freshwater",
			"land use", "water use", "resource use fossils",
			"resource use minerals and metals", "ionising radiation",
			"particulate matter",
		},
		CategoryAliases: map[string]string{
			"gwp":              "climate change",
			"global warming":   "climate change",
			"carbon footprint": "climate change",
			"odp":              "ozone depletion",
			"ap":               "acidification",
			"ep":               "eutrophication",
			"pocp":             "photochemical ozone formation",
			"smog":             "photochemical ozone formation",
			"adp":              "resource use minerals and metals",
			"adpf":             "resource use fossils",
			"htp":              "human toxicity cancer",
			"etp":              "ecotoxicity freshwater",
			"pm":               "particulate matter",
			"wdp":              "water use",
			"irp":              "ionising radiation",
		},
		Stages: []string{
			"A1", "A2", "A3", "A4", "A5",
			"B1", "B2", "B3", "B4", "B5", "B6", "B7",
			"C1", "C2", "C3", "C4", "D",
		},
		PlausibilityRanges: map[string][2]float64{
			"steel":     {0.5, 5.0},
			"concrete":  {0.05, 0.5},
			"cement":    {0.4, 1.2},
			"aluminium": {4.0, 25.0},
			"aluminum":  {4.0, 25.0},
			"timber":    {-2.0, 2.0},
			"wood":      {-2.0, 2.0},
			"glass":     {0.5, 2.5},
			"plastic":   {1.5, 10.0},
			"polymer":   {1.5, 10.0},
			"copper":    {1.0, 8.0},
		},
	}
	t.buildSets()
	return t
}

// LoadTaxonomy reads a yaml override file. Fields present in the file
// replace the built-in data; absent fields keep their defaults.
func LoadTaxonomy(path string) (*Taxonomy, error) {
	t := DefaultTaxonomy()
	if path == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "validation: read taxonomy %s", path)
	}
	var override Taxonomy
	if err := yaml.Unmarshal(raw, &override); err != nil {
		return nil, eris.Wrapf(err, "validation: parse taxonomy %s", path)
	}
	if len(override.Units) > 0 {
		t.Units = override.Units
	}
	if len(override.ImpactCategories) > 0 {
		t.ImpactCategories = override.ImpactCategories
	}
	if len(override.CategoryAliases) > 0 {
		t.CategoryAliases = override.CategoryAliases
	}
	if len(override.Stages) > 0 {
		t.Stages = override.Stages
	}
	if len(override.PlausibilityRanges) > 0 {
		t.PlausibilityRanges = override.PlausibilityRanges
	}
	t.buildSets()
	return t, nil
}

func (t *Taxonomy) buildSets() {
	t.unitSet = make(map[string]bool, len(t.Units))
	for _, u := range t.Units {
		t.unitSet[strings.ToLower(u)] = true
	}
	t.catSet = make(map[string]bool, len(t.ImpactCategories))
	for _, c := range t.ImpactCategories {
		t.catSet[strings.ToLower(c)] = true
	}
	t.stageSet = make(map[string]bool, len(t.Stages))
	for _, s := range t.Stages {
		t.stageSet[strings.ToUpper(s)] = true
	}
}

// IsRecognizedUnit reports whether u is in the unit reference set.
func (t *Taxonomy) IsRecognizedUnit(u string) bool {
	return t.unitSet[strings.ToLower(strings.TrimSpace(u))]
}

// CanonicalCategory resolves a category name or abbreviation to its
// canonical impact category.
func (t *Taxonomy) CanonicalCategory(name string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if t.catSet[key] {
		return key, true
	}
	if canonical, ok := t.CategoryAliases[key]; ok {
		return canonical, true
	}
	return "", false
}

// IsStage reports whether code is a recognized life-cycle stage code.
func (t *Taxonomy) IsStage(code string) bool {
	return t.stageSet[strings.ToUpper(strings.TrimSpace(code))]
}
