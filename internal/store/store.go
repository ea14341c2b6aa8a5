// Package store implements the Persistence Mirror (C13): a queryable,
// durable reflection of job and phase history, kept separate from
// internal/checkpoint (which is the resume-authoritative source of
// truth). A store outage never blocks the pipeline - writes here are
// advisory, for dashboards and post-hoc analysis, not for correctness.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/originpath/assocpipeline/internal/model"
)

// JobRecord is the mirrored view of one pipeline run.
type JobRecord struct {
	ID           string       `json:"id"`
	Associations []string     `json:"associations"`
	CurrentPhase model.Phase  `json:"current_phase"`
	Counters     model.Counters `json:"counters"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// PhaseRecord is one completed (or in-flight) phase occupancy window.
type PhaseRecord struct {
	ID        string      `json:"id"`
	JobID     string      `json:"job_id"`
	Phase     model.Phase `json:"phase"`
	Outcome   string      `json:"outcome"`
	StartedAt time.Time   `json:"started_at"`
	EndedAt   time.Time   `json:"ended_at,omitempty"`
}

// PageCacheEntry mirrors a fetched page's location and content hash, so
// a rerun of discovery/extraction against the same association within
// the cache TTL can skip a redundant fetch.
type PageCacheEntry struct {
	URL             string    `json:"url"`
	ContentHash     string    `json:"content_hash"`
	ContentLocation string    `json:"content_location"`
	FetchedAt       time.Time `json:"fetched_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// JobFilter narrows ListJobs results.
type JobFilter struct {
	Phase model.Phase
	Limit int
}

// Store is the persistence-mirror interface. Postgres and SQLite
// backends implement it identically; callers should not depend on
// which is active beyond the DSN scheme used to construct one.
type Store interface {
	CreateJob(ctx context.Context, jobID string, associations []string) (*JobRecord, error)
	UpdateJobPhase(ctx context.Context, jobID string, phase model.Phase) error
	UpdateJobCounters(ctx context.Context, jobID string, counters model.Counters) error
	GetJob(ctx context.Context, jobID string) (*JobRecord, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]JobRecord, error)

	RecordPhaseStart(ctx context.Context, jobID string, phase model.Phase) (*PhaseRecord, error)
	RecordPhaseEnd(ctx context.Context, phaseRecordID string, outcome string) error

	GetCachedPage(ctx context.Context, url string) (*PageCacheEntry, error)
	SetCachedPage(ctx context.Context, entry PageCacheEntry) error
	DeleteExpiredPageCache(ctx context.Context) (int, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Open constructs a Store from a DSN, dispatching on scheme the way the
// teacher's cmd wiring dispatches on --persist-db: "sqlite://" or a bare
// filesystem path opens SQLite, "postgres://"/"postgresql://" opens a
// pgxpool-backed Postgres store.
func Open(ctx context.Context, dsn string) (Store, error) {
	if isPostgresDSN(dsn) {
		return NewPostgres(ctx, dsn, nil)
	}
	return NewSQLite(trimSQLiteScheme(dsn))
}

func isPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

func trimSQLiteScheme(dsn string) string {
	return strings.TrimPrefix(dsn, "sqlite://")
}
