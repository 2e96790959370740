package output

import (
	"regexp"
	"sort"

	"github.com/clearspan/lcaflow/internal/model"
)

// BarDatum is one bar of the impact results chart.
type BarDatum struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// ParetoDatum is one ranked hotspot with its cumulative share.
type ParetoDatum struct {
	Label         string  `json:"label"`
	Pct           float64 `json:"pct"`
	CumulativePct float64 `json:"cumulative_pct"`
}

// StageCell is one cell of the life-cycle stage coverage heatmap.
type StageCell struct {
	Stage   string `json:"stage"`
	Covered bool   `json:"covered"`
	Files   int    `json:"files"`
}

// FileQualityDatum is one file's extraction confidence and validation
// outcome for the per-file quality chart.
type FileQualityDatum struct {
	Filename   string                 `json:"filename"`
	Confidence float64                `json:"confidence"`
	Status     model.ValidationStatus `json:"status"`
}

// Viz is the chart-ready projection of the analysis.
type Viz struct {
	ImpactBars        []BarDatum         `json:"impact_bars"`
	HotspotPareto     []ParetoDatum      `json:"hotspot_pareto"`
	CompletenessGauge float64            `json:"completeness_gauge"`
	StageCoverage     []StageCell        `json:"stage_coverage"`
	FileQuality       []FileQualityDatum `json:"file_quality"`
}

// lifecycleStages is the EN 15804 stage axis of the coverage heatmap.
var lifecycleStages = []string{
	"A1", "A2", "A3", "A4", "A5",
	"B1", "B2", "B3", "B4", "B5", "B6", "B7",
	"C1", "C2", "C3", "C4", "D",
}

var stagePattern = regexp.MustCompile(`\b(A[1-5]|B[1-7]|C[1-4]|D)\b`)

func buildViz(in Inputs, analysis *Analysis) *Viz {
	v := &Viz{
		ImpactBars:        []BarDatum{},
		HotspotPareto:     []ParetoDatum{},
		CompletenessGauge: analysis.Completeness,
		FileQuality:       []FileQualityDatum{},
	}

	for _, r := range analysis.ImpactResults {
		v.ImpactBars = append(v.ImpactBars, BarDatum{Label: r.Category, Value: r.Value, Unit: r.Unit})
	}

	v.HotspotPareto = paretoFrom(analysis.Hotspots)
	v.StageCoverage = stageCoverage(in.Outputs)

	statusByFile := make(map[string]model.ValidationStatus, len(in.Reports))
	for _, r := range in.Reports {
		statusByFile[r.FileID] = r.Status
	}
	for _, out := range in.Outputs {
		v.FileQuality = append(v.FileQuality, FileQualityDatum{
			Filename:   out.Filename,
			Confidence: out.Confidence,
			Status:     statusByFile[out.FileID],
		})
	}
	return v
}

// paretoFrom ranks hotspots by contribution and accumulates their share.
// Hotspots without a stated percentage sort last with zero contribution.
func paretoFrom(hotspots []model.Hotspot) []ParetoDatum {
	ranked := make([]model.Hotspot, len(hotspots))
	copy(ranked, hotspots)
	sort.SliceStable(ranked, func(i, j int) bool {
		return pctOf(ranked[i]) > pctOf(ranked[j])
	})

	pareto := make([]ParetoDatum, 0, len(ranked))
	cumulative := 0.0
	for _, h := range ranked {
		pct := pctOf(h)
		cumulative += pct
		pareto = append(pareto, ParetoDatum{
			Label:         h.Process,
			Pct:           pct,
			CumulativePct: cumulative,
		})
	}
	return pareto
}

func pctOf(h model.Hotspot) float64 {
	if h.ContributionPct == nil {
		return 0
	}
	return *h.ContributionPct
}

// stageCoverage marks each life-cycle stage mentioned anywhere in the
// extracted content.
func stageCoverage(outs []*model.NormalizedOutput) []StageCell {
	valid := make(map[string]bool, len(lifecycleStages))
	for _, s := range lifecycleStages {
		valid[s] = true
	}

	counts := map[string]int{}
	for _, out := range outs {
		seen := map[string]bool{}
		for _, m := range stagePattern.FindAllString(out.Content, -1) {
			if valid[m] && !seen[m] {
				seen[m] = true
				counts[m]++
			}
		}
	}

	cells := make([]StageCell, 0, len(lifecycleStages))
	for _, s := range lifecycleStages {
		cells = append(cells, StageCell{Stage: s, Covered: counts[s] > 0, Files: counts[s]})
	}
	return cells
}
