package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/clearspan/lcaflow/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL DEFAULT 'pending',
	user_context TEXT NOT NULL DEFAULT '',
	partial      INTEGER NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS files (
	id        TEXT PRIMARY KEY,
	job_id    TEXT NOT NULL REFERENCES jobs(id),
	status    TEXT NOT NULL DEFAULT 'pending',
	procedure TEXT NOT NULL DEFAULT '',
	metadata  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS routing_decisions (
	job_id   TEXT PRIMARY KEY REFERENCES jobs(id),
	decision TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS outputs (
	file_id TEXT PRIMARY KEY REFERENCES files(id),
	job_id  TEXT NOT NULL REFERENCES jobs(id),
	output  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS validation_reports (
	file_id TEXT NOT NULL REFERENCES files(id),
	job_id  TEXT NOT NULL REFERENCES jobs(id),
	version INTEGER NOT NULL,
	report  TEXT NOT NULL,
	PRIMARY KEY (file_id, version)
);

CREATE TABLE IF NOT EXISTS synthesis_results (
	job_id  TEXT NOT NULL REFERENCES jobs(id),
	version INTEGER NOT NULL,
	result  TEXT NOT NULL,
	PRIMARY KEY (job_id, version)
);

CREATE TABLE IF NOT EXISTS error_records (
	id         TEXT PRIMARY KEY,
	job_id     TEXT NOT NULL REFERENCES jobs(id),
	file_id    TEXT NOT NULL DEFAULT '',
	record     TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_files_job_id ON files(job_id);
CREATE INDEX IF NOT EXISTS idx_outputs_job_id ON outputs(job_id);
CREATE INDEX IF NOT EXISTS idx_validation_reports_job_id ON validation_reports(job_id);
CREATE INDEX IF NOT EXISTS idx_error_records_job_id ON error_records(job_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateJob(ctx context.Context, userContext string) (*model.Job, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, status, user_context, created_at) VALUES (?, ?, ?, ?)`,
		id, string(model.JobStatusPending), userContext, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert job")
	}

	return &model.Job{
		ID:          id,
		Status:      model.JobStatusPending,
		UserContext: userContext,
		CreatedAt:   now,
	}, nil
}

func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ? WHERE id = ?`,
		string(status), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job status %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, jobID string, status model.JobStatus, partial bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, partial = ?, completed_at = ? WHERE id = ?`,
		string(status), boolToInt(partial), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete job %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, user_context, partial, created_at, completed_at FROM jobs WHERE id = ?`,
		jobID,
	)

	var j model.Job
	var partial int
	var completedAt sql.NullTime
	err := row.Scan(&j.ID, &j.Status, &j.UserContext, &partial, &j.CreatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan job")
	}
	j.Partial = partial != 0
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM files WHERE job_id = ? ORDER BY rowid`, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list job file ids")
	}
	defer rows.Close()
	for rows.Next() {
		var fid string
		if err := rows.Scan(&fid); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan file id")
		}
		j.FileIDs = append(j.FileIDs, fid)
	}
	return &j, eris.Wrap(rows.Err(), "sqlite: iterate file ids")
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT id, status, user_context, partial, created_at, completed_at FROM jobs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		var j model.Job
		var partial int
		var completedAt sql.NullTime
		if err := rows.Scan(&j.ID, &j.Status, &j.UserContext, &partial, &j.CreatedAt, &completedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job row")
		}
		j.Partial = partial != 0
		if completedAt.Valid {
			t := completedAt.Time
			j.CompletedAt = &t
		}
		jobs = append(jobs, j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func (s *SQLiteStore) AddFile(ctx context.Context, meta *model.FileMetadata) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal file metadata")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO files (id, job_id, status, procedure, metadata) VALUES (?, ?, ?, ?, ?)`,
		meta.FileID, meta.JobID, string(meta.Status), meta.AssignedProcedure, string(metaJSON),
	)
	return eris.Wrapf(err, "sqlite: insert file %s", meta.FileID)
}

func (s *SQLiteStore) UpdateFileStatus(ctx context.Context, fileID string, status model.FileStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE files SET status = ? WHERE id = ?`,
		string(status), fileID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update file status %s", fileID)
	}
	return checkRowsAffected(res, "file", fileID)
}

func (s *SQLiteStore) AssignProcedure(ctx context.Context, fileID, procedure string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE files SET procedure = ? WHERE id = ?`,
		procedure, fileID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: assign procedure %s", fileID)
	}
	return checkRowsAffected(res, "file", fileID)
}

func (s *SQLiteStore) GetFile(ctx context.Context, fileID string) (*model.FileMetadata, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT status, procedure, metadata FROM files WHERE id = ?`,
		fileID,
	)
	return scanFile(row)
}

func (s *SQLiteStore) ListFiles(ctx context.Context, jobID string) ([]model.FileMetadata, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, procedure, metadata FROM files WHERE job_id = ? ORDER BY rowid`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list files")
	}
	defer rows.Close()

	var files []model.FileMetadata
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, *f)
	}
	return files, eris.Wrap(rows.Err(), "sqlite: list files iterate")
}

func (s *SQLiteStore) SaveRoutingDecision(ctx context.Context, d *model.RoutingDecision) error {
	decisionJSON, err := json.Marshal(d)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal routing decision")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO routing_decisions (job_id, decision) VALUES (?, ?)
		 ON CONFLICT (job_id) DO UPDATE SET decision = excluded.decision`,
		d.JobID, string(decisionJSON),
	)
	return eris.Wrapf(err, "sqlite: save routing decision %s", d.JobID)
}

func (s *SQLiteStore) GetRoutingDecision(ctx context.Context, jobID string) (*model.RoutingDecision, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT decision FROM routing_decisions WHERE job_id = ?`, jobID,
	)
	var decisionJSON string
	err := row.Scan(&decisionJSON)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get routing decision")
	}
	var d model.RoutingDecision
	if err := json.Unmarshal([]byte(decisionJSON), &d); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal routing decision")
	}
	return &d, nil
}

func (s *SQLiteStore) SaveOutput(ctx context.Context, out *model.NormalizedOutput) error {
	outJSON, err := json.Marshal(out)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal output")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO outputs (file_id, job_id, output) VALUES (?, ?, ?)
		 ON CONFLICT (file_id) DO UPDATE SET output = excluded.output`,
		out.FileID, out.JobID, string(outJSON),
	)
	return eris.Wrapf(err, "sqlite: save output %s", out.FileID)
}

func (s *SQLiteStore) ListOutputs(ctx context.Context, jobID string) ([]model.NormalizedOutput, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT output FROM outputs WHERE job_id = ? ORDER BY rowid`, jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list outputs")
	}
	defer rows.Close()

	var outs []model.NormalizedOutput
	for rows.Next() {
		var outJSON string
		if err := rows.Scan(&outJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan output")
		}
		var o model.NormalizedOutput
		if err := json.Unmarshal([]byte(outJSON), &o); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal output")
		}
		outs = append(outs, o)
	}
	return outs, eris.Wrap(rows.Err(), "sqlite: list outputs iterate")
}

func (s *SQLiteStore) SaveValidationReport(ctx context.Context, jobID string, r *model.ValidationReport) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM validation_reports WHERE file_id = ?`,
		r.FileID,
	)
	var version int
	if err := row.Scan(&version); err != nil {
		return 0, eris.Wrap(err, "sqlite: next report version")
	}
	r.Version = version

	reportJSON, err := json.Marshal(r)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: marshal validation report")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO validation_reports (file_id, job_id, version, report) VALUES (?, ?, ?, ?)`,
		r.FileID, jobID, version, string(reportJSON),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: save validation report %s", r.FileID)
	}
	return version, nil
}

func (s *SQLiteStore) LatestValidationReports(ctx context.Context, jobID string) ([]model.ValidationReport, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT report FROM validation_reports vr
		 WHERE job_id = ? AND version = (
			SELECT MAX(version) FROM validation_reports WHERE file_id = vr.file_id
		 )
		 ORDER BY file_id`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest validation reports")
	}
	defer rows.Close()

	var reports []model.ValidationReport
	for rows.Next() {
		var reportJSON string
		if err := rows.Scan(&reportJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan report")
		}
		var r model.ValidationReport
		if err := json.Unmarshal([]byte(reportJSON), &r); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal report")
		}
		reports = append(reports, r)
	}
	return reports, eris.Wrap(rows.Err(), "sqlite: reports iterate")
}

func (s *SQLiteStore) SaveSynthesis(ctx context.Context, jobID string, out *model.SynthesisOutput) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM synthesis_results WHERE job_id = ?`,
		jobID,
	)
	var version int
	if err := row.Scan(&version); err != nil {
		return 0, eris.Wrap(err, "sqlite: next synthesis version")
	}
	out.Version = version

	outJSON, err := json.Marshal(out)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: marshal synthesis")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO synthesis_results (job_id, version, result) VALUES (?, ?, ?)`,
		jobID, version, string(outJSON),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: save synthesis %s", jobID)
	}
	return version, nil
}

func (s *SQLiteStore) GetSynthesis(ctx context.Context, jobID string) (*model.SynthesisOutput, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT result FROM synthesis_results WHERE job_id = ? ORDER BY version DESC LIMIT 1`,
		jobID,
	)
	var outJSON string
	err := row.Scan(&outJSON)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get synthesis")
	}
	var out model.SynthesisOutput
	if err := json.Unmarshal([]byte(outJSON), &out); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal synthesis")
	}
	return &out, nil
}

func (s *SQLiteStore) RecordError(ctx context.Context, jobID string, rec model.ErrorRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	recJSON, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal error record")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO error_records (id, job_id, file_id, record, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), jobID, rec.FileID, string(recJSON), rec.Timestamp,
	)
	return eris.Wrapf(err, "sqlite: record error for job %s", jobID)
}

func (s *SQLiteStore) ListErrors(ctx context.Context, jobID string) ([]model.ErrorRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM error_records WHERE job_id = ? ORDER BY created_at, rowid`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list errors")
	}
	defer rows.Close()

	var recs []model.ErrorRecord
	for rows.Next() {
		var recJSON string
		if err := rows.Scan(&recJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan error record")
		}
		var r model.ErrorRecord
		if err := json.Unmarshal([]byte(recJSON), &r); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal error record")
		}
		recs = append(recs, r)
	}
	return recs, eris.Wrap(rows.Err(), "sqlite: errors iterate")
}

// helpers

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanFile(row scannable) (*model.FileMetadata, error) {
	var status, procedure, metaJSON string
	err := row.Scan(&status, &procedure, &metaJSON)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan file")
	}

	var meta model.FileMetadata
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal file metadata")
	}
	// The status and procedure columns are authoritative; the JSON blob
	// holds the values as of ingestion.
	meta.Status = model.FileStatus(status)
	meta.AssignedProcedure = procedure
	return &meta, nil
}
