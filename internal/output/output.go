// Package output assembles the final job artifacts: the markdown report, the
// machine-readable analysis, the visualization data, and the audit record.
// All four are written to the object store under the job's report prefix.
package output

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/clearspan/lcaflow/internal/model"
	"github.com/clearspan/lcaflow/internal/objstore"
	"github.com/clearspan/lcaflow/internal/resilience"
)

// Artifact filenames under reports/{job}/.
const (
	ReportName   = "report.md"
	AnalysisName = "analysis.json"
	VizName      = "viz.json"
	AuditName    = "audit.json"
)

// Inputs carries everything the assembler consolidates. Synthesis may be nil
// when the job failed before the synthesis stage; the assembler still
// produces artifacts marked partial.
type Inputs struct {
	Job       *model.Job
	Files     []model.FileMetadata
	Routing   *model.RoutingDecision
	Outputs   []*model.NormalizedOutput
	Reports   []model.ValidationReport
	Synthesis *model.SynthesisOutput
	Errors    []model.ErrorRecord
	Duration  time.Duration
	// ModelIDs records which model served each stage, keyed by stage name.
	ModelIDs map[string]string
}

// Artifacts lists the object store keys of the assembled outputs.
type Artifacts struct {
	ReportKey   string `json:"report_key"`
	AnalysisKey string `json:"analysis_key"`
	VizKey      string `json:"viz_key"`
	AuditKey    string `json:"audit_key"`
}

// Assembler writes the final artifacts.
type Assembler struct {
	objects objstore.Store
}

// New creates an Assembler.
func New(objects objstore.Store) *Assembler {
	return &Assembler{objects: objects}
}

// Assemble builds and persists all four artifacts. It never invents data:
// fields the pipeline could not produce are empty or marked partial.
func (a *Assembler) Assemble(ctx context.Context, in Inputs) (*Artifacts, error) {
	if in.Job == nil {
		return nil, eris.New("output: nil job")
	}

	analysis := buildAnalysis(in)
	viz := buildViz(in, analysis)
	audit := buildAudit(in)
	report := renderReport(in, analysis)

	arts := &Artifacts{
		ReportKey:   objstore.ReportKey(in.Job.ID, ReportName),
		AnalysisKey: objstore.ReportKey(in.Job.ID, AnalysisName),
		VizKey:      objstore.ReportKey(in.Job.ID, VizName),
		AuditKey:    objstore.ReportKey(in.Job.ID, AuditName),
	}

	retryCfg := resilience.StoreRetryConfig()
	retryCfg.OnRetry = resilience.RetryLogger("objstore", "persist artifacts")
	err := resilience.Do(ctx, retryCfg, func(ctx context.Context) error {
		if err := a.objects.Put(ctx, arts.ReportKey, []byte(report)); err != nil {
			return err
		}
		if err := objstore.PutJSON(ctx, a.objects, arts.AnalysisKey, analysis); err != nil {
			return err
		}
		if err := objstore.PutJSON(ctx, a.objects, arts.VizKey, viz); err != nil {
			return err
		}
		return objstore.PutJSON(ctx, a.objects, arts.AuditKey, audit)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "output: persist artifacts for job %s", in.Job.ID)
	}

	zap.L().Info("artifacts assembled",
		zap.String("job_id", in.Job.ID),
		zap.Bool("partial", analysis.Partial),
		zap.Int("files", len(in.Files)),
	)
	return arts, nil
}
