package store

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/originpath/assocpipeline/internal/model"
)

// pgxIface is the subset of *pgxpool.Pool that PostgresStore drives,
// narrowed so tests can substitute pgxmock's pool double.
type pgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool pgxIface
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `mapstructure:"max_conns"`
	MinConns int32 `mapstructure:"min_conns"`
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id            TEXT PRIMARY KEY,
	associations  JSONB NOT NULL,
	current_phase TEXT NOT NULL DEFAULT 'init',
	counters      JSONB NOT NULL DEFAULT '{}',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS job_phases (
	id         TEXT PRIMARY KEY,
	job_id     TEXT NOT NULL REFERENCES jobs(id),
	phase      TEXT NOT NULL,
	outcome    TEXT,
	started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	ended_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS page_cache (
	url              TEXT PRIMARY KEY,
	content_hash     TEXT NOT NULL,
	content_location TEXT NOT NULL,
	fetched_at       TIMESTAMPTZ NOT NULL,
	expires_at       TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_phase ON jobs(current_phase);
CREATE INDEX IF NOT EXISTS idx_job_phases_job_id ON job_phases(job_id);
CREATE INDEX IF NOT EXISTS idx_page_cache_expires_at ON page_cache(expires_at);
`

// NewPostgres creates a PostgresStore backed by a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, jobID string, associations []string) (*JobRecord, error) {
	now := time.Now().UTC()
	assocJSON, err := json.Marshal(associations)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal associations")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (id, associations, current_phase, counters, created_at, updated_at) VALUES ($1, $2, $3, '{}', $4, $5)`,
		jobID, assocJSON, string(model.PhaseInit), now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert job %s", jobID)
	}
	return &JobRecord{ID: jobID, Associations: associations, CurrentPhase: model.PhaseInit, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *PostgresStore) UpdateJobPhase(ctx context.Context, jobID string, phase model.Phase) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET current_phase = $1, updated_at = $2 WHERE id = $3`,
		string(phase), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job phase %s", jobID)
	}
	return checkPgRowsAffected(tag, "job", jobID)
}

func (s *PostgresStore) UpdateJobCounters(ctx context.Context, jobID string, counters model.Counters) error {
	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal counters")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET counters = $1, updated_at = $2 WHERE id = $3`,
		countersJSON, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job counters %s", jobID)
	}
	return checkPgRowsAffected(tag, "job", jobID)
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*JobRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, associations, current_phase, counters, created_at, updated_at FROM jobs WHERE id = $1`, jobID)
	return scanPgJob(row)
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]JobRecord, error) {
	query := `SELECT id, associations, current_phase, counters, created_at, updated_at FROM jobs WHERE 1=1`
	var args []any
	if filter.Phase != "" {
		args = append(args, string(filter.Phase))
		query += ` AND current_phase = $1`
	}
	query += ` ORDER BY created_at DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []JobRecord
	for rows.Next() {
		j, err := scanPgJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) RecordPhaseStart(ctx context.Context, jobID string, phase model.Phase) (*PhaseRecord, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO job_phases (id, job_id, phase, started_at) VALUES ($1, $2, $3, $4)`,
		id, jobID, string(phase), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert phase for job %s", jobID)
	}
	return &PhaseRecord{ID: id, JobID: jobID, Phase: phase, StartedAt: now}, nil
}

func (s *PostgresStore) RecordPhaseEnd(ctx context.Context, phaseRecordID string, outcome string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE job_phases SET outcome = $1, ended_at = $2 WHERE id = $3`,
		outcome, time.Now().UTC(), phaseRecordID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete phase %s", phaseRecordID)
	}
	return checkPgRowsAffected(tag, "phase", phaseRecordID)
}

func (s *PostgresStore) GetCachedPage(ctx context.Context, url string) (*PageCacheEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT url, content_hash, content_location, fetched_at, expires_at FROM page_cache
		 WHERE url = $1 AND expires_at > now()`, url)
	var e PageCacheEntry
	err := row.Scan(&e.URL, &e.ContentHash, &e.ContentLocation, &e.FetchedAt, &e.ExpiresAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get cached page")
	}
	return &e, nil
}

func (s *PostgresStore) SetCachedPage(ctx context.Context, entry PageCacheEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO page_cache (url, content_hash, content_location, fetched_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (url) DO UPDATE SET content_hash = excluded.content_hash, content_location = excluded.content_location, fetched_at = excluded.fetched_at, expires_at = excluded.expires_at`,
		entry.URL, entry.ContentHash, entry.ContentLocation, entry.FetchedAt, entry.ExpiresAt,
	)
	return eris.Wrap(err, "postgres: set cached page")
}

func (s *PostgresStore) DeleteExpiredPageCache(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM page_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired page cache")
	}
	return int(tag.RowsAffected()), nil
}

// helpers

func checkPgRowsAffected(tag pgconn.CommandTag, entity, id string) error {
	if tag.RowsAffected() == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func scanPgJob(row pgx.Row) (*JobRecord, error) {
	var j JobRecord
	var assocJSON, countersJSON []byte
	err := row.Scan(&j.ID, &assocJSON, &j.CurrentPhase, &countersJSON, &j.CreatedAt, &j.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, eris.New("job not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan job")
	}
	if err := json.Unmarshal(assocJSON, &j.Associations); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal associations")
	}
	if err := json.Unmarshal(countersJSON, &j.Counters); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal counters")
	}
	return &j, nil
}

