// Package orchestrator implements the Orchestrator (C8): the single
// writer of PipelineState, driving the phase engine, merging agent
// deltas, checkpointing, and reporting startup health, grounded on the
// teacher's Pipeline.Run trackPhase/setStatus pattern generalized from
// a fixed nine-phase company enrichment to the state machine's phase
// table.
package orchestrator

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/originpath/assocpipeline/internal/checkpoint"
	"github.com/originpath/assocpipeline/internal/config"
	"github.com/originpath/assocpipeline/internal/model"
	"github.com/originpath/assocpipeline/internal/secret"
	"github.com/originpath/assocpipeline/internal/store"
)

// PhaseHandler runs one phase to completion against the orchestrator's
// exclusively-owned state, returning the outcome string recorded in
// PhaseHistoryEntry.Outcome. Handlers mutate state only through Merge*
// helpers so bucket dedup invariants are never bypassed.
type PhaseHandler func(ctx context.Context, o *Orchestrator) (outcome string, err error)

// Options configures a new Orchestrator.
type Options struct {
	Config     *config.Config
	Checkpoint *checkpoint.Store
	Store      store.Store // optional; nil disables the persistence mirror
	Secrets    *secret.Provider
	Handlers   map[model.Phase]PhaseHandler
	RequiredSecrets []string
	DryRun     bool
}

// Orchestrator drives one job's phase engine.
type Orchestrator struct {
	cfg        *config.Config
	checkpoint *checkpoint.Store
	mirror     store.Store
	secrets    *secret.Provider
	handlers   map[model.Phase]PhaseHandler
	requiredSecrets []string
	dryRun     bool

	mu    sync.RWMutex
	state *model.PipelineState
}

// New creates an Orchestrator. Call Load or Init before Run.
func New(opts Options) *Orchestrator {
	return &Orchestrator{
		cfg:             opts.Config,
		checkpoint:      opts.Checkpoint,
		mirror:          opts.Store,
		secrets:         opts.Secrets,
		handlers:        opts.Handlers,
		requiredSecrets: opts.RequiredSecrets,
		dryRun:          opts.DryRun,
	}
}

// Init creates fresh PipelineState for jobID.
func (o *Orchestrator) Init(jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = model.New(jobID)
}

// Load restores PipelineState for jobID from the checkpoint store, for
// --resume.
func (o *Orchestrator) Load(jobID string) error {
	state, err := o.checkpoint.Load(jobID)
	if err != nil {
		return eris.Wrapf(err, "load checkpoint for job %s", jobID)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = state
	return nil
}

// CurrentPhase implements health.StatusProvider.
func (o *Orchestrator) CurrentPhase() model.Phase {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.state == nil {
		return ""
	}
	return o.state.CurrentPhase
}

// JobID implements health.StatusProvider.
func (o *Orchestrator) JobID() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.state == nil {
		return ""
	}
	return o.state.JobID
}

// State returns the live PipelineState. Callers other than phase
// handlers should treat it as read-only.
func (o *Orchestrator) State() *model.PipelineState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// HealthSummary is the startup report: which required secrets are
// present (never their values), and whether the data root has enough
// free disk to proceed.
type HealthSummary struct {
	SecretsPresent map[string]bool
	FreeDiskBytes  uint64
	FreeDiskOK     bool
	Warnings       []string
}

// CheckHealth runs the startup health checks named in spec.md: required
// secrets present (booleans only, values never logged) and free disk
// above the configured minimum.
func (o *Orchestrator) CheckHealth(ctx context.Context) HealthSummary {
	summary := HealthSummary{SecretsPresent: make(map[string]bool)}

	if o.secrets != nil {
		summary.SecretsPresent = o.secrets.CheckRequired(ctx, o.requiredSecrets)
		for _, key := range o.secrets.Warnings() {
			summary.Warnings = append(summary.Warnings, "secret not found: "+key)
		}
	}

	free, err := freeDiskBytes(o.cfg.Pipeline.DataRoot)
	if err != nil {
		summary.Warnings = append(summary.Warnings, "could not stat data root: "+err.Error())
	}
	summary.FreeDiskBytes = free
	summary.FreeDiskOK = free >= uint64(o.cfg.Pipeline.MinFreeDiskBytes)
	if !summary.FreeDiskOK {
		summary.Warnings = append(summary.Warnings, "free disk below configured minimum")
	}

	return summary
}

// Run drives the phase engine from the current phase to Done or Failed.
// It checkpoints after every transition and mirrors job/phase state to
// the optional persistence mirror.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.state == nil {
		return eris.New("orchestrator: Run called before Init or Load")
	}

	log := zap.L().With(zap.String("job_id", o.state.JobID))
	log.Info("orchestrator: starting run", zap.String("phase", string(o.state.CurrentPhase)))

	if o.mirror != nil {
		if _, err := o.mirror.GetJob(ctx, o.state.JobID); err != nil {
			if _, createErr := o.mirror.CreateJob(ctx, o.state.JobID, nil); createErr != nil {
				log.Warn("orchestrator: mirror create job failed", zap.Error(createErr))
			}
		}
	}

	for {
		phase := o.CurrentPhase()
		if phase.Terminal() {
			log.Info("orchestrator: run reached terminal phase", zap.String("phase", string(phase)))
			return nil
		}

		outcome, err := o.runPhase(ctx, phase)
		if err != nil {
			log.Error("orchestrator: phase failed fatally", zap.String("phase", string(phase)), zap.Error(err))
			o.transition(model.PhaseFailed, err.Error())
			o.checkpointNow(log)
			return eris.Wrapf(err, "phase %s failed", phase)
		}

		next, ok := model.NextPhase(phase)
		if !ok {
			log.Info("orchestrator: no successor phase, stopping", zap.String("phase", string(phase)))
			return nil
		}
		o.transition(next, outcome)
		o.checkpointNow(log)
		o.mirrorPhase(ctx, phase, outcome)

		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (o *Orchestrator) runPhase(ctx context.Context, phase model.Phase) (string, error) {
	handler, ok := o.handlers[phase]
	if !ok {
		return "skipped: no handler registered", nil
	}
	if o.dryRun {
		zap.L().Info("orchestrator: dry-run, skipping handler execution", zap.String("phase", string(phase)))
		return "dry-run", nil
	}
	return handler(ctx, o)
}

func (o *Orchestrator) transition(to model.Phase, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.state.TransitionTo(to, outcome); err != nil {
		zap.L().Error("orchestrator: illegal phase transition attempted", zap.Error(err))
	}
}

func (o *Orchestrator) checkpointNow(log *zap.Logger) {
	if o.checkpoint == nil {
		return
	}
	o.mu.RLock()
	state := o.state
	o.mu.RUnlock()
	if err := o.checkpoint.Save(state); err != nil {
		log.Warn("orchestrator: checkpoint save failed", zap.Error(err))
	}
}

func (o *Orchestrator) mirrorPhase(ctx context.Context, phase model.Phase, outcome string) {
	if o.mirror == nil {
		return
	}
	o.mu.RLock()
	jobID := o.state.JobID
	counters := o.state.Counters
	newPhase := o.state.CurrentPhase
	o.mu.RUnlock()

	if err := o.mirror.UpdateJobPhase(ctx, jobID, newPhase); err != nil {
		zap.L().Warn("orchestrator: mirror update phase failed", zap.Error(err))
	}
	if err := o.mirror.UpdateJobCounters(ctx, jobID, counters); err != nil {
		zap.L().Warn("orchestrator: mirror update counters failed", zap.Error(err))
	}
	_ = phase
	_ = outcome
}

// LoadCursor restores the current phase's intra-phase progress cursor
// into dest, reporting false when the phase has never checkpointed one
// (its first run, or a checkpoint store isn't configured). Handlers
// call this at the top of their PhaseHandler to filter their work set
// down to items a prior, interrupted attempt hadn't already finished.
func (o *Orchestrator) LoadCursor(dest any) bool {
	if o.checkpoint == nil {
		return false
	}
	found, err := o.checkpoint.LoadIntraPhase(o.JobID(), o.CurrentPhase(), 0, dest)
	if err != nil {
		zap.L().Warn("orchestrator: load cursor failed, restarting phase from scratch",
			zap.String("phase", string(o.CurrentPhase())), zap.Error(err))
		return false
	}
	return found
}

// SaveCursor persists the full state.json and then cursor as the current
// phase's intra-phase progress snapshot, so a crash or SIGINT mid-phase
// resumes from here rather than from the phase's start.
func (o *Orchestrator) SaveCursor(cursor any) {
	if o.checkpoint == nil {
		return
	}
	o.mu.RLock()
	state := o.state
	o.mu.RUnlock()
	if state != nil {
		if err := o.checkpoint.Save(state); err != nil {
			zap.L().Warn("orchestrator: intra-phase state save failed",
				zap.String("phase", string(o.CurrentPhase())), zap.Error(err))
		}
	}
	if err := o.checkpoint.SaveIntraPhase(o.JobID(), o.CurrentPhase(), 0, cursor); err != nil {
		zap.L().Warn("orchestrator: save cursor failed",
			zap.String("phase", string(o.CurrentPhase())), zap.Error(err))
	}
}

// MergeDelta applies an agent's proposed additions/updates to a bucket
// under the orchestrator's exclusive-write lock. This is the only path
// by which agent output reaches PipelineState.
func MergeDelta[T model.Identifiable](o *Orchestrator, bucket *model.Bucket[T], delta model.AgentDelta[T]) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, r := range delta.NewRecords {
		bucket.Upsert(r)
	}
	for _, r := range delta.UpdatedByID {
		bucket.Upsert(r)
	}
}

// IncrementCounters adds the given deltas to the aggregate counters
// under the write lock.
func (o *Orchestrator) IncrementCounters(urls, pages, entities, signals int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state.Counters.TotalURLsDiscovered += urls
	o.state.Counters.TotalPagesFetched += pages
	o.state.Counters.TotalEntitiesResolved += entities
	o.state.Counters.TotalSignalsDetected += signals
}

func freeDiskBytes(path string) (uint64, error) {
	if path == "" {
		path = "."
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path = "."
	}
	return statfsFree(path)
}

// CheckpointInterval reports how many records a phase should process
// between intra-phase checkpoints.
func (o *Orchestrator) CheckpointInterval() int {
	if o.cfg.Pipeline.CheckpointInterval <= 0 {
		return 50
	}
	return o.cfg.Pipeline.CheckpointInterval
}

// AgentTimeout reports the per-agent invocation timeout.
func (o *Orchestrator) AgentTimeout() time.Duration {
	if o.cfg.Pipeline.AgentTimeout <= 0 {
		return 300 * time.Second
	}
	return o.cfg.Pipeline.AgentTimeout
}

// MaxConcurrent reports the fan-out ceiling for spawn_parallel calls.
func (o *Orchestrator) MaxConcurrent() int {
	if o.cfg.Pipeline.MaxConcurrent <= 0 {
		return 5
	}
	return o.cfg.Pipeline.MaxConcurrent
}

// MaxDiscoveryPages reports the per-seed page budget for the discovery phase.
func (o *Orchestrator) MaxDiscoveryPages() int {
	if o.cfg.Pipeline.MaxDiscoveryPages <= 0 {
		return 1000
	}
	return o.cfg.Pipeline.MaxDiscoveryPages
}

// SchemaMode reports the configured Contract Validator enforcement mode.
func (o *Orchestrator) SchemaMode() string {
	if o.cfg.Pipeline.SchemaMode == "" {
		return "soft"
	}
	return o.cfg.Pipeline.SchemaMode
}
