package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/clearspan/lcaflow/internal/model"
	"github.com/clearspan/lcaflow/internal/output"
	"github.com/clearspan/lcaflow/internal/resilience"
	"github.com/clearspan/lcaflow/internal/routing"
	"github.com/clearspan/lcaflow/internal/store"
	"github.com/clearspan/lcaflow/internal/synthesis"
	"github.com/clearspan/lcaflow/internal/validation"
)

// Engine drives a job through the full pipeline:
// routing → extraction → validation → synthesis → assembly.
type Engine struct {
	store     store.Store
	router    *routing.Router
	dispatch  *Dispatcher
	gate      *validation.Gate
	synth     *synthesis.Pipeline
	assembler *output.Assembler
	events    *EventHub
	// modelIDs records which model serves each stage, for the audit record.
	modelIDs map[string]string
}

// New creates an Engine.
func New(st store.Store, router *routing.Router, dispatch *Dispatcher, gate *validation.Gate, synth *synthesis.Pipeline, assembler *output.Assembler, events *EventHub, modelIDs map[string]string) *Engine {
	return &Engine{
		store:     st,
		router:    router,
		dispatch:  dispatch,
		gate:      gate,
		synth:     synth,
		assembler: assembler,
		events:    events,
		modelIDs:  modelIDs,
	}
}

// RunJob executes the pipeline for jobID. The job always reaches a terminal
// status: unit failures degrade the result to partial, and the assembler
// runs even then; the job fails outright only when no file could be
// extracted or a pipeline stage itself broke.
func (e *Engine) RunJob(ctx context.Context, jobID string) (err error) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("engine: pipeline panic: %v", r)
			zap.L().Error("pipeline panic", zap.String("job_id", jobID), zap.Any("panic", r))
		}
		if err != nil {
			e.failJob(jobID, err)
		}
		e.events.Close(jobID)
	}()

	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return eris.Wrapf(err, "engine: load job %s", jobID)
	}
	files, err := e.store.ListFiles(ctx, jobID)
	if err != nil {
		return eris.Wrapf(err, "engine: list files for %s", jobID)
	}
	if len(files) == 0 {
		return eris.Errorf("engine: job %s has no files", jobID)
	}

	// Routing.
	e.setStage(ctx, jobID, model.JobStatusRouting)
	decision, err := e.router.Decide(ctx, job, files)
	if err != nil {
		return eris.Wrap(err, "engine: routing")
	}
	if err := e.store.SaveRoutingDecision(ctx, decision); err != nil {
		return eris.Wrap(err, "engine: save routing decision")
	}
	for fileID, procID := range decision.Assignments {
		if err := e.store.AssignProcedure(ctx, fileID, procID); err != nil {
			return eris.Wrapf(err, "engine: assign procedure for %s", fileID)
		}
	}

	// Extraction.
	e.setStage(ctx, jobID, model.JobStatusExtracting)
	outs := e.dispatch.Run(ctx, job, files, decision)

	// Validation.
	e.setStage(ctx, jobID, model.JobStatusValidating)
	gateRes := e.gate.Evaluate(ctx, outs)
	for _, rec := range gateRes.JobErrors {
		if err := e.store.RecordError(ctx, jobID, rec); err != nil {
			return eris.Wrap(err, "engine: record validation error")
		}
	}
	for i := range gateRes.Reports {
		report := &gateRes.Reports[i]
		version, err := e.store.SaveValidationReport(ctx, jobID, report)
		if err != nil {
			return eris.Wrapf(err, "engine: save validation report for %s", report.FileID)
		}
		report.Version = version
		if report.Status == model.ValidationQuarantined {
			if err := e.store.UpdateFileStatus(ctx, report.FileID, model.FileStatusQuarantined); err != nil {
				return eris.Wrapf(err, "engine: quarantine %s", report.FileID)
			}
			e.events.Publish(jobID, model.SeverityWarn, "validation", report.FileID, "file quarantined")
		}
	}

	// Synthesis over files the gate admitted.
	synthOut := e.runSynthesis(ctx, job, outs, gateRes.Reports, false)

	// Assembly runs regardless, flagging partial results.
	e.setStage(ctx, jobID, model.JobStatusAssembling)
	job.Partial = synthOut == nil || len(outs) < len(files)
	if err := e.assemble(ctx, job, decision, outs, gateRes.Reports, synthOut, start); err != nil {
		return err
	}

	status := model.JobStatusCompleted
	if len(outs) == 0 {
		status = model.JobStatusFailed
	}
	if err := e.store.CompleteJob(ctx, jobID, status, job.Partial); err != nil {
		return eris.Wrap(err, "engine: complete job")
	}
	e.events.Publish(jobID, model.SeverityInfo, "pipeline", "",
		fmt.Sprintf("job %s", status))
	zap.L().Info("job finished",
		zap.String("job_id", jobID),
		zap.String("status", string(status)),
		zap.Bool("partial", job.Partial),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// OverrideRun re-runs synthesis and assembly including quarantined files.
// Extraction and validation results are reused as-is; the synthesis result
// gets a new version.
func (e *Engine) OverrideRun(ctx context.Context, jobID string) error {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return eris.Wrapf(err, "engine: load job %s", jobID)
	}
	if !job.Status.Terminal() {
		return eris.Errorf("engine: job %s is still running", jobID)
	}

	stored, err := e.store.ListOutputs(ctx, jobID)
	if err != nil {
		return eris.Wrap(err, "engine: load outputs")
	}
	outs := make([]*model.NormalizedOutput, len(stored))
	for i := range stored {
		outs[i] = &stored[i]
	}
	reports, err := e.store.LatestValidationReports(ctx, jobID)
	if err != nil {
		return eris.Wrap(err, "engine: load validation reports")
	}

	synthOut := e.runSynthesis(ctx, job, outs, reports, true)
	if synthOut == nil {
		return eris.Errorf("engine: override synthesis produced nothing for %s", jobID)
	}

	decision, err := e.store.GetRoutingDecision(ctx, jobID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return eris.Wrap(err, "engine: load routing decision")
	}
	if err := e.assembleStored(ctx, job, decision, outs, reports, synthOut); err != nil {
		return err
	}
	zap.L().Info("override re-run complete",
		zap.String("job_id", jobID),
		zap.Int("synthesis_version", synthOut.Version),
	)
	return nil
}

// runSynthesis filters gate-admitted outputs and runs the synthesis
// pipeline. Returns nil when nothing is eligible or the pipeline failed;
// both degrade the job to partial rather than failing it.
func (e *Engine) runSynthesis(ctx context.Context, job *model.Job, outs []*model.NormalizedOutput, reports []model.ValidationReport, override bool) *model.SynthesisOutput {
	statusByFile := make(map[string]model.ValidationStatus, len(reports))
	for _, r := range reports {
		statusByFile[r.FileID] = r.Status
	}
	var eligible []*model.NormalizedOutput
	for _, out := range outs {
		if validation.EligibleForSynthesis(statusByFile[out.FileID], override) {
			eligible = append(eligible, out)
		}
	}
	if len(eligible) == 0 {
		zap.L().Warn("no files eligible for synthesis", zap.String("job_id", job.ID))
		return nil
	}

	// An override re-run keeps the job's terminal status.
	if !override {
		e.setStage(ctx, job.ID, model.JobStatusSynthesizing)
	}
	synthOut, err := e.synth.Run(ctx, job, eligible)
	if err != nil {
		kind := model.ErrKindMalformedResponse
		if resilience.IsTransient(err) {
			kind = model.ErrKindTransient
		}
		rec := model.ErrorRecord{
			Stage:     "synthesis",
			Kind:      kind,
			Message:   err.Error(),
			Timestamp: time.Now().UTC(),
		}
		if recErr := e.store.RecordError(ctx, job.ID, rec); recErr != nil {
			zap.L().Error("error record write failed", zap.Error(recErr))
		}
		e.events.Publish(job.ID, model.SeverityError, "synthesis", "", "synthesis failed: "+err.Error())
		return nil
	}

	version, err := e.store.SaveSynthesis(ctx, job.ID, synthOut)
	if err != nil {
		zap.L().Error("synthesis result write failed",
			zap.String("job_id", job.ID), zap.Error(err))
		return nil
	}
	synthOut.Version = version
	return synthOut
}

func (e *Engine) assemble(ctx context.Context, job *model.Job, decision *model.RoutingDecision, outs []*model.NormalizedOutput, reports []model.ValidationReport, synthOut *model.SynthesisOutput, start time.Time) error {
	files, err := e.store.ListFiles(ctx, job.ID)
	if err != nil {
		return eris.Wrap(err, "engine: refresh files")
	}
	errRecords, err := e.store.ListErrors(ctx, job.ID)
	if err != nil {
		return eris.Wrap(err, "engine: list errors")
	}
	_, err = e.assembler.Assemble(ctx, output.Inputs{
		Job:       job,
		Files:     files,
		Routing:   decision,
		Outputs:   outs,
		Reports:   reports,
		Synthesis: synthOut,
		Errors:    errRecords,
		Duration:  time.Since(start),
		ModelIDs:  e.modelIDs,
	})
	if err != nil {
		return eris.Wrap(err, "engine: assemble artifacts")
	}
	return nil
}

func (e *Engine) assembleStored(ctx context.Context, job *model.Job, decision *model.RoutingDecision, outs []*model.NormalizedOutput, reports []model.ValidationReport, synthOut *model.SynthesisOutput) error {
	return e.assemble(ctx, job, decision, outs, reports, synthOut, time.Now())
}

func (e *Engine) setStage(ctx context.Context, jobID string, status model.JobStatus) {
	if err := e.store.UpdateJobStatus(ctx, jobID, status); err != nil {
		zap.L().Warn("job status update failed",
			zap.String("job_id", jobID), zap.Error(err))
	}
	e.events.Publish(jobID, model.SeverityInfo, "pipeline", "", "stage: "+string(status))
}

// failJob handles a pipeline abort. It uses a fresh context so a cancelled
// pipeline context cannot block the final writes. Files still mid-flight are
// moved to failed, and results already persisted are not discarded: when any
// extraction succeeded, the job completes as partial and the assembler runs
// over whatever the aborted run stored. The job fails outright only when no
// file succeeded.
func (e *Engine) failJob(jobID string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rec := model.ErrorRecord{
		Stage:     "pipeline",
		Kind:      model.ErrKindExtractionFailure,
		Message:   cause.Error(),
		Timestamp: time.Now().UTC(),
	}
	if err := e.store.RecordError(ctx, jobID, rec); err != nil {
		zap.L().Error("error record write failed", zap.Error(err))
	}

	files, err := e.store.ListFiles(ctx, jobID)
	if err != nil {
		zap.L().Error("file list failed during job abort",
			zap.String("job_id", jobID), zap.Error(err))
	}
	for _, f := range files {
		if f.Status.Terminal() {
			continue
		}
		if err := e.store.UpdateFileStatus(ctx, f.FileID, model.FileStatusFailed); err != nil {
			zap.L().Warn("file status update failed",
				zap.String("file_id", f.FileID), zap.Error(err))
		}
	}

	status := model.JobStatusFailed
	if e.salvage(ctx, jobID) {
		status = model.JobStatusCompleted
	}
	if err := e.store.CompleteJob(ctx, jobID, status, true); err != nil {
		zap.L().Error("job failure write failed",
			zap.String("job_id", jobID), zap.Error(err))
	}
	e.events.Publish(jobID, model.SeverityError, "pipeline", "",
		fmt.Sprintf("job %s after pipeline error: %s", status, cause.Error()))
	zap.L().Error("pipeline aborted",
		zap.String("job_id", jobID),
		zap.String("status", string(status)),
		zap.Error(cause),
	)
}

// salvage assembles whatever an aborted run already persisted and reports
// whether any extraction output exists.
func (e *Engine) salvage(ctx context.Context, jobID string) bool {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		zap.L().Error("job load failed during salvage",
			zap.String("job_id", jobID), zap.Error(err))
		return false
	}
	stored, err := e.store.ListOutputs(ctx, jobID)
	if err != nil {
		zap.L().Error("output load failed during salvage",
			zap.String("job_id", jobID), zap.Error(err))
		return false
	}
	outs := make([]*model.NormalizedOutput, len(stored))
	for i := range stored {
		outs[i] = &stored[i]
	}

	reports, err := e.store.LatestValidationReports(ctx, jobID)
	if err != nil {
		zap.L().Warn("validation reports unavailable during salvage",
			zap.String("job_id", jobID), zap.Error(err))
		reports = nil
	}
	synthOut, err := e.store.GetSynthesis(ctx, jobID)
	if err != nil {
		synthOut = nil
	}
	decision, err := e.store.GetRoutingDecision(ctx, jobID)
	if err != nil {
		decision = nil
	}

	job.Partial = true
	if err := e.assemble(ctx, job, decision, outs, reports, synthOut, time.Now()); err != nil {
		zap.L().Error("salvage assembly failed",
			zap.String("job_id", jobID), zap.Error(err))
	}
	return len(outs) > 0
}
