package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/originpath/assocpipeline/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite - a pure-Go
// driver, so the pipeline never needs cgo to persist locally.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	associations TEXT NOT NULL,
	current_phase TEXT NOT NULL DEFAULT 'init',
	counters     TEXT NOT NULL DEFAULT '{}',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS job_phases (
	id         TEXT PRIMARY KEY,
	job_id     TEXT NOT NULL REFERENCES jobs(id),
	phase      TEXT NOT NULL,
	outcome    TEXT,
	started_at DATETIME NOT NULL DEFAULT (datetime('now')),
	ended_at   DATETIME
);

CREATE TABLE IF NOT EXISTS page_cache (
	url              TEXT PRIMARY KEY,
	content_hash     TEXT NOT NULL,
	content_location TEXT NOT NULL,
	fetched_at       DATETIME NOT NULL,
	expires_at       DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_phase ON jobs(current_phase);
CREATE INDEX IF NOT EXISTS idx_job_phases_job_id ON job_phases(job_id);
CREATE INDEX IF NOT EXISTS idx_page_cache_expires_at ON page_cache(expires_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) CreateJob(ctx context.Context, jobID string, associations []string) (*JobRecord, error) {
	now := time.Now().UTC()
	assocJSON, err := json.Marshal(associations)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal associations")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, associations, current_phase, counters, created_at, updated_at) VALUES (?, ?, ?, '{}', ?, ?)`,
		jobID, string(assocJSON), string(model.PhaseInit), now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert job %s", jobID)
	}
	return &JobRecord{ID: jobID, Associations: associations, CurrentPhase: model.PhaseInit, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *SQLiteStore) UpdateJobPhase(ctx context.Context, jobID string, phase model.Phase) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET current_phase = ?, updated_at = ? WHERE id = ?`,
		string(phase), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job phase %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) UpdateJobCounters(ctx context.Context, jobID string, counters model.Counters) error {
	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal counters")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET counters = ?, updated_at = ? WHERE id = ?`,
		string(countersJSON), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job counters %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*JobRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, associations, current_phase, counters, created_at, updated_at FROM jobs WHERE id = ?`, jobID)
	return scanJob(row)
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]JobRecord, error) {
	query := `SELECT id, associations, current_phase, counters, created_at, updated_at FROM jobs WHERE 1=1`
	var args []any
	if filter.Phase != "" {
		query += ` AND current_phase = ?`
		args = append(args, string(filter.Phase))
	}
	query += ` ORDER BY created_at DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close() //nolint:errcheck

	var jobs []JobRecord
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func (s *SQLiteStore) RecordPhaseStart(ctx context.Context, jobID string, phase model.Phase) (*PhaseRecord, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_phases (id, job_id, phase, started_at) VALUES (?, ?, ?, ?)`,
		id, jobID, string(phase), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert phase for job %s", jobID)
	}
	return &PhaseRecord{ID: id, JobID: jobID, Phase: phase, StartedAt: now}, nil
}

func (s *SQLiteStore) RecordPhaseEnd(ctx context.Context, phaseRecordID string, outcome string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE job_phases SET outcome = ?, ended_at = ? WHERE id = ?`,
		outcome, time.Now().UTC(), phaseRecordID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete phase %s", phaseRecordID)
	}
	return checkRowsAffected(res, "phase", phaseRecordID)
}

func (s *SQLiteStore) GetCachedPage(ctx context.Context, url string) (*PageCacheEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT url, content_hash, content_location, fetched_at, expires_at FROM page_cache
		 WHERE url = ? AND expires_at > datetime('now')`, url)
	var e PageCacheEntry
	err := row.Scan(&e.URL, &e.ContentHash, &e.ContentLocation, &e.FetchedAt, &e.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cached page")
	}
	return &e, nil
}

func (s *SQLiteStore) SetCachedPage(ctx context.Context, entry PageCacheEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO page_cache (url, content_hash, content_location, fetched_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET content_hash=excluded.content_hash, content_location=excluded.content_location, fetched_at=excluded.fetched_at, expires_at=excluded.expires_at`,
		entry.URL, entry.ContentHash, entry.ContentLocation, entry.FetchedAt, entry.ExpiresAt,
	)
	return eris.Wrap(err, "sqlite: set cached page")
}

func (s *SQLiteStore) DeleteExpiredPageCache(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM page_cache WHERE expires_at <= datetime('now')`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired page cache")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// helpers

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

func scanJob(row scannable) (*JobRecord, error) {
	var j JobRecord
	var assocJSON, countersJSON string
	err := row.Scan(&j.ID, &assocJSON, &j.CurrentPhase, &countersJSON, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("job not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan job")
	}
	if err := json.Unmarshal([]byte(assocJSON), &j.Associations); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal associations")
	}
	if err := json.Unmarshal([]byte(countersJSON), &j.Counters); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal counters")
	}
	return &j, nil
}
