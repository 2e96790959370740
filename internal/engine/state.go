package engine

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/clearspan/lcaflow/internal/model"
	"github.com/clearspan/lcaflow/internal/store"
)

// stageWeights maps each pipeline stage to the progress fraction reached
// when that stage begins. File completion fills the extraction band.
var stageWeights = map[model.JobStatus]float64{
	model.JobStatusPending:      0.00,
	model.JobStatusRouting:      0.05,
	model.JobStatusExtracting:   0.10,
	model.JobStatusValidating:   0.70,
	model.JobStatusSynthesizing: 0.80,
	model.JobStatusAssembling:   0.95,
	model.JobStatusCompleted:    1.00,
	model.JobStatusFailed:       1.00,
}

// Project builds the status-contract view of a job from the store.
func Project(ctx context.Context, st store.Store, jobID string) (*model.JobProjection, error) {
	job, err := st.GetJob(ctx, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "engine: load job %s", jobID)
	}
	files, err := st.ListFiles(ctx, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "engine: list files")
	}
	outs, err := st.ListOutputs(ctx, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "engine: list outputs")
	}
	errRecords, err := st.ListErrors(ctx, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "engine: list errors")
	}

	confidence := make(map[string]float64, len(outs))
	for _, out := range outs {
		confidence[out.FileID] = out.Confidence
	}

	proj := &model.JobProjection{
		JobID:    job.ID,
		Status:   job.Status,
		Progress: progress(job.Status, files),
		Files:    make([]model.FileProjection, 0, len(files)),
		Errors:   errRecords,
	}
	if proj.Errors == nil {
		proj.Errors = []model.ErrorRecord{}
	}
	for _, f := range files {
		proj.Files = append(proj.Files, model.FileProjection{
			FileID:     f.FileID,
			Name:       f.OriginalName,
			Category:   f.Category,
			Procedure:  f.AssignedProcedure,
			Status:     f.Status,
			Confidence: confidence[f.FileID],
		})
	}
	return proj, nil
}

// progress combines the stage floor with per-file completion inside the
// extraction band, so long extraction phases still show movement.
func progress(status model.JobStatus, files []model.FileMetadata) float64 {
	base := stageWeights[status]
	if status != model.JobStatusExtracting || len(files) == 0 {
		return base
	}

	terminal := 0
	for _, f := range files {
		if f.Status.Terminal() {
			terminal++
		}
	}
	band := stageWeights[model.JobStatusValidating] - base
	return base + band*float64(terminal)/float64(len(files))
}
