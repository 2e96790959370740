package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearspan/lcaflow/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func addTestFile(t *testing.T, s *SQLiteStore, jobID, fileID string, cat model.FileCategory) *model.FileMetadata {
	t.Helper()
	meta := &model.FileMetadata{
		FileID:       fileID,
		JobID:        jobID,
		OriginalName: fileID + ".pdf",
		ObjectKey:    "raw/" + jobID + "/" + fileID,
		Category:     cat,
		HasText:      true,
		SizeBytes:    1024,
		Status:       model.FileStatusPending,
		UploadedAt:   time.Now().UTC(),
	}
	require.NoError(t, s.AddFile(context.Background(), meta))
	return meta
}

func TestSQLite_JobLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "cradle-to-gate study of precast concrete")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.NotEmpty(t, job.ID)

	addTestFile(t, s, job.ID, "f1", model.CategoryPDF)
	addTestFile(t, s, job.ID, "f2", model.CategoryTabular)

	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, model.JobStatusExtracting))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusExtracting, got.Status)
	assert.Equal(t, []string{"f1", "f2"}, got.FileIDs)
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, s.CompleteJob(ctx, job.ID, model.JobStatusCompleted, true))
	got, err = s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.True(t, got.Partial)
	assert.NotNil(t, got.CompletedAt)
}

func TestSQLite_GetJobNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_UpdateStatusNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateJobStatus(context.Background(), "missing", model.JobStatusFailed)
	assert.Error(t, err)
}

func TestSQLite_ListJobsFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j1, err := s.CreateJob(ctx, "")
	require.NoError(t, err)
	_, err = s.CreateJob(ctx, "")
	require.NoError(t, err)
	require.NoError(t, s.UpdateJobStatus(ctx, j1.ID, model.JobStatusCompleted))

	completed, err := s.ListJobs(ctx, JobFilter{Status: model.JobStatusCompleted})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, j1.ID, completed[0].ID)

	all, err := s.ListJobs(ctx, JobFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLite_FileStatusAndProcedure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "")
	require.NoError(t, err)
	addTestFile(t, s, job.ID, "f1", model.CategoryImage)

	require.NoError(t, s.AssignProcedure(ctx, "f1", "vision"))
	require.NoError(t, s.UpdateFileStatus(ctx, "f1", model.FileStatusProcessing))

	f, err := s.GetFile(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, model.FileStatusProcessing, f.Status)
	assert.Equal(t, "vision", f.AssignedProcedure)
	assert.Equal(t, model.CategoryImage, f.Category)
	assert.True(t, f.HasText)

	files, err := s.ListFiles(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "f1", files[0].FileID)
}

func TestSQLite_RoutingDecisionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "")
	require.NoError(t, err)

	d := &model.RoutingDecision{
		JobID:            job.ID,
		Assignments:      map[string]string{"f1": "pdf_text", "f2": "tabular"},
		Reasons:          map[string]string{"f1": "text layer present"},
		Mode:             model.ModeParallel,
		EstimatedSeconds: 90,
		Source:           model.RoutingSourceModel,
	}
	require.NoError(t, s.SaveRoutingDecision(ctx, d))

	got, err := s.GetRoutingDecision(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, d.Assignments, got.Assignments)
	assert.Equal(t, model.RoutingSourceModel, got.Source)

	// Overwrite on rerun.
	d.Source = model.RoutingSourceRules
	require.NoError(t, s.SaveRoutingDecision(ctx, d))
	got, err = s.GetRoutingDecision(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RoutingSourceRules, got.Source)
}

func TestSQLite_OutputsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "")
	require.NoError(t, err)
	addTestFile(t, s, job.ID, "f1", model.CategoryPDF)

	out := &model.NormalizedOutput{
		FileID:     "f1",
		JobID:      job.ID,
		Filename:   "f1.pdf",
		Category:   model.CategoryPDF,
		Procedure:  "pdf_text",
		Content:    "Functional unit: 1 m3 of concrete",
		Confidence: 0.95,
		WordCount:  6,
	}
	require.NoError(t, s.SaveOutput(ctx, out))

	outs, err := s.ListOutputs(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.Equal(t, 0.95, outs[0].Confidence)

	// Retried extraction replaces the prior output.
	out.Confidence = 0.80
	require.NoError(t, s.SaveOutput(ctx, out))
	outs, err = s.ListOutputs(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.Equal(t, 0.80, outs[0].Confidence)
}

func TestSQLite_ValidationReportVersioning(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "")
	require.NoError(t, err)
	addTestFile(t, s, job.ID, "f1", model.CategoryPDF)

	r1 := &model.ValidationReport{FileID: "f1", Status: model.ValidationFailed}
	v, err := s.SaveValidationReport(ctx, job.ID, r1)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	r2 := &model.ValidationReport{FileID: "f1", Status: model.ValidationPassed}
	v, err = s.SaveValidationReport(ctx, job.ID, r2)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	reports, err := s.LatestValidationReports(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, model.ValidationPassed, reports[0].Status)
	assert.Equal(t, 2, reports[0].Version)
}

func TestSQLite_SynthesisVersioning(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "")
	require.NoError(t, err)

	_, err = s.GetSynthesis(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	out := &model.SynthesisOutput{CrossDocNarrative: "first pass"}
	v, err := s.SaveSynthesis(ctx, job.ID, out)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	out2 := &model.SynthesisOutput{CrossDocNarrative: "rerun with quarantined file included"}
	v, err = s.SaveSynthesis(ctx, job.ID, out2)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	got, err := s.GetSynthesis(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "rerun with quarantined file included", got.CrossDocNarrative)
	assert.Equal(t, 2, got.Version)
}

func TestSQLite_ErrorRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "")
	require.NoError(t, err)

	require.NoError(t, s.RecordError(ctx, job.ID, model.ErrorRecord{
		FileID:  "f1",
		Stage:   "extraction",
		Kind:    model.ErrKindTransient,
		Message: "api overloaded",
	}))
	require.NoError(t, s.RecordError(ctx, job.ID, model.ErrorRecord{
		Stage:   "validation",
		Kind:    model.ErrKindValidationCritical,
		Message: "functional unit missing across job",
	}))

	recs, err := s.ListErrors(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, model.ErrKindTransient, recs[0].Kind)
	assert.False(t, recs[0].Timestamp.IsZero())
	assert.Empty(t, recs[1].FileID)
}
