package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/clearspan/lcaflow/internal/model"
)

// pgxQuerier is the subset of pgxpool.Pool used by PostgresStore. Tests
// substitute a pgxmock pool.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements Store using pgx.
type PostgresStore struct {
	pool pgxQuerier
}

// NewPostgres connects to the given database URL.
func NewPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests.
func NewPostgresFromPool(pool pgxQuerier) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL DEFAULT 'pending',
	user_context TEXT NOT NULL DEFAULT '',
	partial      BOOLEAN NOT NULL DEFAULT FALSE,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS files (
	id        TEXT PRIMARY KEY,
	job_id    TEXT NOT NULL REFERENCES jobs(id),
	status    TEXT NOT NULL DEFAULT 'pending',
	procedure TEXT NOT NULL DEFAULT '',
	metadata  JSONB NOT NULL,
	seq       BIGSERIAL
);

CREATE TABLE IF NOT EXISTS routing_decisions (
	job_id   TEXT PRIMARY KEY REFERENCES jobs(id),
	decision JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS outputs (
	file_id TEXT PRIMARY KEY REFERENCES files(id),
	job_id  TEXT NOT NULL REFERENCES jobs(id),
	output  JSONB NOT NULL,
	seq     BIGSERIAL
);

CREATE TABLE IF NOT EXISTS validation_reports (
	file_id TEXT NOT NULL REFERENCES files(id),
	job_id  TEXT NOT NULL REFERENCES jobs(id),
	version INTEGER NOT NULL,
	report  JSONB NOT NULL,
	PRIMARY KEY (file_id, version)
);

CREATE TABLE IF NOT EXISTS synthesis_results (
	job_id  TEXT NOT NULL REFERENCES jobs(id),
	version INTEGER NOT NULL,
	result  JSONB NOT NULL,
	PRIMARY KEY (job_id, version)
);

CREATE TABLE IF NOT EXISTS error_records (
	id         TEXT PRIMARY KEY,
	job_id     TEXT NOT NULL REFERENCES jobs(id),
	file_id    TEXT NOT NULL DEFAULT '',
	record     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_files_job_id ON files(job_id);
CREATE INDEX IF NOT EXISTS idx_outputs_job_id ON outputs(job_id);
CREATE INDEX IF NOT EXISTS idx_validation_reports_job_id ON validation_reports(job_id);
CREATE INDEX IF NOT EXISTS idx_error_records_job_id ON error_records(job_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, userContext string) (*model.Job, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, status, user_context, created_at) VALUES ($1, $2, $3, $4)`,
		id, string(model.JobStatusPending), userContext, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert job")
	}

	return &model.Job{
		ID:          id,
		Status:      model.JobStatusPending,
		UserContext: userContext,
		CreatedAt:   now,
	}, nil
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1 WHERE id = $2`,
		string(status), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job status %s", jobID)
	}
	return checkTag(tag, "job", jobID)
}

func (s *PostgresStore) CompleteJob(ctx context.Context, jobID string, status model.JobStatus, partial bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, partial = $2, completed_at = $3 WHERE id = $4`,
		string(status), partial, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete job %s", jobID)
	}
	return checkTag(tag, "job", jobID)
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, status, user_context, partial, created_at, completed_at FROM jobs WHERE id = $1`,
		jobID,
	)

	var j model.Job
	var completedAt *time.Time
	err := row.Scan(&j.ID, &j.Status, &j.UserContext, &j.Partial, &j.CreatedAt, &completedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan job")
	}
	j.CompletedAt = completedAt

	rows, err := s.pool.Query(ctx, `SELECT id FROM files WHERE job_id = $1 ORDER BY seq`, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list job file ids")
	}
	defer rows.Close()
	for rows.Next() {
		var fid string
		if err := rows.Scan(&fid); err != nil {
			return nil, eris.Wrap(err, "postgres: scan file id")
		}
		j.FileIDs = append(j.FileIDs, fid)
	}
	return &j, eris.Wrap(rows.Err(), "postgres: iterate file ids")
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT id, status, user_context, partial, created_at, completed_at FROM jobs`
	var args []any

	if filter.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		var j model.Job
		var completedAt *time.Time
		if err := rows.Scan(&j.ID, &j.Status, &j.UserContext, &j.Partial, &j.CreatedAt, &completedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job row")
		}
		j.CompletedAt = completedAt
		jobs = append(jobs, j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) AddFile(ctx context.Context, meta *model.FileMetadata) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal file metadata")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO files (id, job_id, status, procedure, metadata) VALUES ($1, $2, $3, $4, $5)`,
		meta.FileID, meta.JobID, string(meta.Status), meta.AssignedProcedure, metaJSON,
	)
	return eris.Wrapf(err, "postgres: insert file %s", meta.FileID)
}

func (s *PostgresStore) UpdateFileStatus(ctx context.Context, fileID string, status model.FileStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE files SET status = $1 WHERE id = $2`,
		string(status), fileID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update file status %s", fileID)
	}
	return checkTag(tag, "file", fileID)
}

func (s *PostgresStore) AssignProcedure(ctx context.Context, fileID, procedure string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE files SET procedure = $1 WHERE id = $2`,
		procedure, fileID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: assign procedure %s", fileID)
	}
	return checkTag(tag, "file", fileID)
}

func (s *PostgresStore) GetFile(ctx context.Context, fileID string) (*model.FileMetadata, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT status, procedure, metadata FROM files WHERE id = $1`,
		fileID,
	)
	return scanPGFile(row)
}

func (s *PostgresStore) ListFiles(ctx context.Context, jobID string) ([]model.FileMetadata, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, procedure, metadata FROM files WHERE job_id = $1 ORDER BY seq`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list files")
	}
	defer rows.Close()

	var files []model.FileMetadata
	for rows.Next() {
		f, err := scanPGFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, *f)
	}
	return files, eris.Wrap(rows.Err(), "postgres: list files iterate")
}

func (s *PostgresStore) SaveRoutingDecision(ctx context.Context, d *model.RoutingDecision) error {
	decisionJSON, err := json.Marshal(d)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal routing decision")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO routing_decisions (job_id, decision) VALUES ($1, $2)
		 ON CONFLICT (job_id) DO UPDATE SET decision = EXCLUDED.decision`,
		d.JobID, decisionJSON,
	)
	return eris.Wrapf(err, "postgres: save routing decision %s", d.JobID)
}

func (s *PostgresStore) GetRoutingDecision(ctx context.Context, jobID string) (*model.RoutingDecision, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT decision FROM routing_decisions WHERE job_id = $1`, jobID,
	)
	var decisionJSON []byte
	err := row.Scan(&decisionJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get routing decision")
	}
	var d model.RoutingDecision
	if err := json.Unmarshal(decisionJSON, &d); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal routing decision")
	}
	return &d, nil
}

func (s *PostgresStore) SaveOutput(ctx context.Context, out *model.NormalizedOutput) error {
	outJSON, err := json.Marshal(out)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal output")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO outputs (file_id, job_id, output) VALUES ($1, $2, $3)
		 ON CONFLICT (file_id) DO UPDATE SET output = EXCLUDED.output`,
		out.FileID, out.JobID, outJSON,
	)
	return eris.Wrapf(err, "postgres: save output %s", out.FileID)
}

func (s *PostgresStore) ListOutputs(ctx context.Context, jobID string) ([]model.NormalizedOutput, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT output FROM outputs WHERE job_id = $1 ORDER BY seq`, jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list outputs")
	}
	defer rows.Close()

	var outs []model.NormalizedOutput
	for rows.Next() {
		var outJSON []byte
		if err := rows.Scan(&outJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan output")
		}
		var o model.NormalizedOutput
		if err := json.Unmarshal(outJSON, &o); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal output")
		}
		outs = append(outs, o)
	}
	return outs, eris.Wrap(rows.Err(), "postgres: list outputs iterate")
}

func (s *PostgresStore) SaveValidationReport(ctx context.Context, jobID string, r *model.ValidationReport) (int, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM validation_reports WHERE file_id = $1`,
		r.FileID,
	)
	var version int
	if err := row.Scan(&version); err != nil {
		return 0, eris.Wrap(err, "postgres: next report version")
	}
	r.Version = version

	reportJSON, err := json.Marshal(r)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: marshal validation report")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO validation_reports (file_id, job_id, version, report) VALUES ($1, $2, $3, $4)`,
		r.FileID, jobID, version, reportJSON,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: save validation report %s", r.FileID)
	}
	return version, nil
}

func (s *PostgresStore) LatestValidationReports(ctx context.Context, jobID string) ([]model.ValidationReport, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (file_id) report FROM validation_reports
		 WHERE job_id = $1 ORDER BY file_id, version DESC`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest validation reports")
	}
	defer rows.Close()

	var reports []model.ValidationReport
	for rows.Next() {
		var reportJSON []byte
		if err := rows.Scan(&reportJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan report")
		}
		var r model.ValidationReport
		if err := json.Unmarshal(reportJSON, &r); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal report")
		}
		reports = append(reports, r)
	}
	return reports, eris.Wrap(rows.Err(), "postgres: reports iterate")
}

func (s *PostgresStore) SaveSynthesis(ctx context.Context, jobID string, out *model.SynthesisOutput) (int, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM synthesis_results WHERE job_id = $1`,
		jobID,
	)
	var version int
	if err := row.Scan(&version); err != nil {
		return 0, eris.Wrap(err, "postgres: next synthesis version")
	}
	out.Version = version

	outJSON, err := json.Marshal(out)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: marshal synthesis")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO synthesis_results (job_id, version, result) VALUES ($1, $2, $3)`,
		jobID, version, outJSON,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: save synthesis %s", jobID)
	}
	return version, nil
}

func (s *PostgresStore) GetSynthesis(ctx context.Context, jobID string) (*model.SynthesisOutput, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT result FROM synthesis_results WHERE job_id = $1 ORDER BY version DESC LIMIT 1`,
		jobID,
	)
	var outJSON []byte
	err := row.Scan(&outJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get synthesis")
	}
	var out model.SynthesisOutput
	if err := json.Unmarshal(outJSON, &out); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal synthesis")
	}
	return &out, nil
}

func (s *PostgresStore) RecordError(ctx context.Context, jobID string, rec model.ErrorRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	recJSON, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal error record")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO error_records (id, job_id, file_id, record, created_at) VALUES ($1, $2, $3, $4, $5)`,
		uuid.New().String(), jobID, rec.FileID, recJSON, rec.Timestamp,
	)
	return eris.Wrapf(err, "postgres: record error for job %s", jobID)
}

func (s *PostgresStore) ListErrors(ctx context.Context, jobID string) ([]model.ErrorRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT record FROM error_records WHERE job_id = $1 ORDER BY created_at`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list errors")
	}
	defer rows.Close()

	var recs []model.ErrorRecord
	for rows.Next() {
		var recJSON []byte
		if err := rows.Scan(&recJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan error record")
		}
		var r model.ErrorRecord
		if err := json.Unmarshal(recJSON, &r); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal error record")
		}
		recs = append(recs, r)
	}
	return recs, eris.Wrap(rows.Err(), "postgres: errors iterate")
}

// helpers

func checkTag(tag pgconn.CommandTag, entity, id string) error {
	if tag.RowsAffected() == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}


func scanPGFile(row pgx.Row) (*model.FileMetadata, error) {
	var status, procedure string
	var metaJSON []byte
	err := row.Scan(&status, &procedure, &metaJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan file")
	}

	var meta model.FileMetadata
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal file metadata")
	}
	meta.Status = model.FileStatus(status)
	meta.AssignedProcedure = procedure
	return &meta, nil
}
