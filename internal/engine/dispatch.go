package engine

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/clearspan/lcaflow/internal/model"
	"github.com/clearspan/lcaflow/internal/normalize"
	"github.com/clearspan/lcaflow/internal/objstore"
	"github.com/clearspan/lcaflow/internal/registry"
	"github.com/clearspan/lcaflow/internal/resilience"
	"github.com/clearspan/lcaflow/internal/store"
)

// Dispatcher runs extraction units under the routing decision's execution
// mode. A unit failure is recorded against its file and never aborts the
// batch: the remaining units keep running.
type Dispatcher struct {
	store       store.Store
	objects     objstore.Store
	reg         *registry.Registry
	normalizer  *normalize.Normalizer
	events      *EventHub
	concurrency int
	unitTimeout time.Duration
}

// NewDispatcher creates a Dispatcher. Concurrency bounds parallel-mode
// fan-out; sequential mode always runs one unit at a time.
func NewDispatcher(st store.Store, objects objstore.Store, reg *registry.Registry, normalizer *normalize.Normalizer, events *EventHub, concurrency int, unitTimeout time.Duration) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	if unitTimeout <= 0 {
		unitTimeout = 300 * time.Second
	}
	return &Dispatcher{
		store:       st,
		objects:     objects,
		reg:         reg,
		normalizer:  normalizer,
		events:      events,
		concurrency: concurrency,
		unitTimeout: unitTimeout,
	}
}

// Run dispatches every file of the job and returns the outputs of the units
// that succeeded, in file order.
func (d *Dispatcher) Run(ctx context.Context, job *model.Job, files []model.FileMetadata, decision *model.RoutingDecision) []*model.NormalizedOutput {
	limit := d.concurrency
	if decision.Mode == model.ModeSequential {
		limit = 1
	}

	results := make([]*model.NormalizedOutput, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range files {
		meta := files[i]
		g.Go(func() error {
			results[i] = d.runUnit(gctx, job, &meta, decision)
			return nil
		})
	}
	// Unit errors never propagate through the group.
	_ = g.Wait()

	outs := make([]*model.NormalizedOutput, 0, len(files))
	for _, out := range results {
		if out != nil {
			outs = append(outs, out)
		}
	}
	return outs
}

// runUnit executes one extraction unit end to end: status transition,
// extraction under the unit deadline, normalization, persistence. Returns
// nil when the unit failed.
func (d *Dispatcher) runUnit(ctx context.Context, job *model.Job, meta *model.FileMetadata, decision *model.RoutingDecision) *model.NormalizedOutput {
	procID := decision.Assignments[meta.FileID]

	if err := d.store.UpdateFileStatus(ctx, meta.FileID, model.FileStatusProcessing); err != nil {
		zap.L().Warn("file status update failed",
			zap.String("file_id", meta.FileID), zap.Error(err))
	}

	out, err := d.extract(ctx, meta, procID)
	if err != nil {
		d.failUnit(ctx, job.ID, meta, procID, err)
		return nil
	}

	out.FileID = meta.FileID
	out.JobID = job.ID
	out.Filename = meta.OriginalName
	out.Category = meta.Category
	out.Procedure = procID

	if err := d.normalizer.Normalize(ctx, out); err != nil {
		d.failUnit(ctx, job.ID, meta, procID, err)
		return nil
	}
	if err := d.store.SaveOutput(ctx, out); err != nil {
		d.failUnit(ctx, job.ID, meta, procID, err)
		return nil
	}
	if err := d.store.UpdateFileStatus(ctx, meta.FileID, model.FileStatusCompleted); err != nil {
		zap.L().Warn("file status update failed",
			zap.String("file_id", meta.FileID), zap.Error(err))
	}

	d.events.Publish(job.ID, model.SeverityInfo, procID, meta.FileID,
		"extraction completed")
	zap.L().Info("unit completed",
		zap.String("job_id", job.ID),
		zap.String("file_id", meta.FileID),
		zap.String("procedure", procID),
		zap.Float64("confidence", out.Confidence),
	)
	return out
}

func (d *Dispatcher) extract(ctx context.Context, meta *model.FileMetadata, procID string) (*model.NormalizedOutput, error) {
	proc, ok := d.reg.Get(procID)
	if !ok {
		return nil, eris.Errorf("dispatch: procedure %q not registered", procID)
	}
	raw, err := d.objects.Get(ctx, meta.ObjectKey)
	if err != nil {
		return nil, err
	}

	unitCtx, cancel := context.WithTimeout(ctx, d.unitTimeout)
	defer cancel()
	return proc.Extract(unitCtx, meta, raw)
}

func (d *Dispatcher) failUnit(ctx context.Context, jobID string, meta *model.FileMetadata, procID string, cause error) {
	kind := model.ErrKindExtractionFailure
	if resilience.IsTransient(cause) {
		kind = model.ErrKindTransient
	}
	rec := model.ErrorRecord{
		FileID:    meta.FileID,
		Procedure: procID,
		Stage:     "extraction",
		Kind:      kind,
		Message:   cause.Error(),
		Timestamp: time.Now().UTC(),
	}
	if err := d.store.RecordError(ctx, jobID, rec); err != nil {
		zap.L().Error("error record write failed",
			zap.String("file_id", meta.FileID), zap.Error(err))
	}
	if err := d.store.UpdateFileStatus(ctx, meta.FileID, model.FileStatusFailed); err != nil {
		zap.L().Warn("file status update failed",
			zap.String("file_id", meta.FileID), zap.Error(err))
	}
	d.events.Publish(jobID, model.SeverityError, procID, meta.FileID,
		"extraction failed: "+cause.Error())
	zap.L().Error("unit failed",
		zap.String("job_id", jobID),
		zap.String("file_id", meta.FileID),
		zap.String("procedure", procID),
		zap.Error(cause),
	)
}
