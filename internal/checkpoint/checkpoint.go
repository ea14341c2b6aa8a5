// Package checkpoint implements durable, crash-safe persistence of
// PipelineState (C7): a full-state snapshot on every phase transition
// and every checkpoint_interval records processed within a phase, plus
// per-phase progress cursors that let a resumed run skip work already
// done.
//
// Every write goes to a temp file in the same directory, is fsynced,
// then renamed over the target - the rename is atomic on the same
// filesystem, so a crash mid-write never leaves a corrupt state.json.
// This is grounded on the source pipeline's own checkpoint writer,
// which uses the identical temp-then-fsync-then-rename sequence; the
// teacher itself has no checkpoint writer to draw from.
package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/originpath/assocpipeline/internal/model"
)

// Store persists PipelineState snapshots under a per-job directory.
type Store struct {
	root string
}

// NewStore returns a Store rooted at root, creating it if necessary.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, eris.Wrapf(err, "create checkpoint root %s", root)
	}
	return &Store{root: root}, nil
}

func (s *Store) jobDir(jobID string) string {
	return filepath.Join(s.root, jobID)
}

func (s *Store) statePath(jobID string) string {
	return filepath.Join(s.jobDir(jobID), "state.json")
}

// intraPhasePath names an intra-phase snapshot, taken every
// checkpoint_interval records so a crash inside a long phase loses at
// most one interval of progress rather than the whole phase.
func (s *Store) intraPhasePath(jobID string, phase model.Phase, n int) string {
	return filepath.Join(s.jobDir(jobID), "checkpoint_"+string(phase)+"_"+strconv.Itoa(n)+".json")
}

// atomicWrite writes data to path via a temp file in the same
// directory, fsynced before the rename so the rename can't outrun the
// data hitting disk.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "create dir %s", dir)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return eris.Wrapf(err, "create temp file in %s", dir)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		os.Remove(tmpPath) //nolint:errcheck
		return eris.Wrapf(err, "write temp file %s", tmpPath)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		os.Remove(tmpPath) //nolint:errcheck
		return eris.Wrapf(err, "fsync temp file %s", tmpPath)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return eris.Wrapf(err, "close temp file %s", tmpPath)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return eris.Wrapf(err, "rename %s to %s", tmpPath, path)
	}
	return nil
}

// Save atomically writes the full PipelineState to state.json.
func (s *Store) Save(state *model.PipelineState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return eris.Wrap(err, "marshal pipeline state")
	}
	return atomicWrite(s.statePath(state.JobID), data)
}

// Load restores a PipelineState from state.json. Buckets not present in
// the file (an older checkpoint format) come back empty rather than
// nil, since json.Unmarshal allocates pointer fields on demand only
// when their key is present.
func (s *Store) Load(jobID string) (*model.PipelineState, error) {
	data, err := os.ReadFile(s.statePath(jobID))
	if err != nil {
		return nil, eris.Wrapf(err, "read state for job %s", jobID)
	}
	state := model.New(jobID)
	if err := json.Unmarshal(data, state); err != nil {
		return nil, eris.Wrapf(err, "unmarshal state for job %s", jobID)
	}
	return state, nil
}

// Exists reports whether a checkpoint already exists for jobID, used by
// --resume to distinguish a fresh job from a resumed one.
func (s *Store) Exists(jobID string) bool {
	_, err := os.Stat(s.statePath(jobID))
	return err == nil
}

// SaveIntraPhase writes a numbered snapshot of the current phase's
// progress cursor; the full state.json is written separately by Save.
// n is the checkpoint sequence number within the phase (0, 1, 2, ...).
func (s *Store) SaveIntraPhase(jobID string, phase model.Phase, n int, cursor any) error {
	data, err := json.Marshal(cursor)
	if err != nil {
		return eris.Wrap(err, "marshal intra-phase cursor")
	}
	return atomicWrite(s.intraPhasePath(jobID, phase, n), data)
}

// LoadIntraPhase restores the numbered intra-phase cursor snapshot into
// dest, reporting false (with a nil error) when no snapshot has been
// written yet - the ordinary case for a phase's first run.
func (s *Store) LoadIntraPhase(jobID string, phase model.Phase, n int, dest any) (bool, error) {
	data, err := os.ReadFile(s.intraPhasePath(jobID, phase, n))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, eris.Wrapf(err, "read intra-phase cursor for job %s phase %s", jobID, phase)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, eris.Wrapf(err, "unmarshal intra-phase cursor for job %s phase %s", jobID, phase)
	}
	return true, nil
}

// GatekeeperCursor tracks which association domains the gatekeeper has
// already cleared, so a resume doesn't re-issue robots.txt checks
// against domains already vetted.
type GatekeeperCursor struct {
	ClearedDomains []string `json:"cleared_domains"`
}

// DiscoveryCursor tracks the seed URLs whose crawl has already completed
// during discovery.
type DiscoveryCursor struct {
	SeenURLs []string `json:"seen_urls"`
}

// PageProgressCursor tracks page identifiers already processed by
// classification or extraction - both phases walk the same Pages
// bucket by page id, so they share a cursor shape.
type PageProgressCursor struct {
	ProcessedPageIDs []string `json:"processed_page_ids"`
}

// EnrichmentCursor tracks, per company, which enrichment agents
// (enrichment.geocoder, enrichment.firmographic, enrichment.tech_stack,
// enrichment.contact_finder) have already run.
type EnrichmentCursor struct {
	CompletedSteps map[string][]string `json:"completed_steps"`
}

// Done reports whether step has already run for companyID.
func (c *EnrichmentCursor) Done(companyID, step string) bool {
	for _, s := range c.CompletedSteps[companyID] {
		if s == step {
			return true
		}
	}
	return false
}

// MarkDone records that step has completed for companyID.
func (c *EnrichmentCursor) MarkDone(companyID, step string) {
	if c.CompletedSteps == nil {
		c.CompletedSteps = make(map[string][]string)
	}
	if c.Done(companyID, step) {
		return
	}
	c.CompletedSteps[companyID] = append(c.CompletedSteps[companyID], step)
}

// ValidationCursor tracks which validation sub-steps (dedupe, crossref,
// score) have completed.
type ValidationCursor struct {
	CompletedSteps []string `json:"completed_steps"`
}

// ResolutionCursor is a single boolean: entity resolution runs as one
// atomic pass over the whole company bucket, so there is nothing finer
// to checkpoint mid-phase.
type ResolutionCursor struct {
	Completed bool `json:"completed"`
}

// GraphCursor tracks which company identifiers have already had their
// edges computed, plus whether the pass as a whole has completed.
type GraphCursor struct {
	ProcessedCompanyIDs []string `json:"processed_company_ids"`
	Completed           bool     `json:"completed"`
}

// ExportCursor tracks which export kinds (salesforce, xlsx)
// have already been written for this run.
type ExportCursor struct {
	CompletedKinds []string `json:"completed_kinds"`
}
