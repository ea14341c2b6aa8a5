package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/originpath/assocpipeline/internal/checkpoint"
	"github.com/originpath/assocpipeline/internal/config"
	"github.com/originpath/assocpipeline/internal/model"
)

func newTestOrchestrator(t *testing.T, handlers map[model.Phase]PhaseHandler) *Orchestrator {
	t.Helper()
	cpStore, err := checkpoint.NewStore(t.TempDir())
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Pipeline.DataRoot = t.TempDir()
	cfg.Pipeline.MinFreeDiskBytes = 1

	o := New(Options{
		Config:     cfg,
		Checkpoint: cpStore,
		Handlers:   handlers,
	})
	o.Init("job-1")
	return o
}

func TestRunAdvancesThroughAllHandledPhasesToDone(t *testing.T) {
	handlers := make(map[model.Phase]PhaseHandler)
	for _, p := range []model.Phase{
		model.PhaseInit, model.PhaseGatekeeper, model.PhaseDiscovery,
		model.PhaseClassification, model.PhaseExtraction, model.PhaseEnrichment,
		model.PhaseValidation, model.PhaseResolution, model.PhaseGraph,
		model.PhaseExport, model.PhaseMonitor,
	} {
		handlers[p] = func(ctx context.Context, o *Orchestrator) (string, error) {
			return "ok", nil
		}
	}
	o := newTestOrchestrator(t, handlers)

	err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.PhaseDone, o.CurrentPhase())
}

func TestRunTransitionsToFailedOnHandlerError(t *testing.T) {
	handlers := map[model.Phase]PhaseHandler{
		model.PhaseInit: func(ctx context.Context, o *Orchestrator) (string, error) {
			return "", assertError{}
		},
	}
	o := newTestOrchestrator(t, handlers)

	err := o.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, model.PhaseFailed, o.CurrentPhase())
}

type assertError struct{}

func (assertError) Error() string { return "boom" }

func TestDryRunSkipsHandlerExecution(t *testing.T) {
	called := false
	handlers := map[model.Phase]PhaseHandler{
		model.PhaseInit: func(ctx context.Context, o *Orchestrator) (string, error) {
			called = true
			return "ok", nil
		},
	}
	cpStore, err := checkpoint.NewStore(t.TempDir())
	require.NoError(t, err)
	cfg := &config.Config{}
	cfg.Pipeline.DataRoot = t.TempDir()

	o := New(Options{Config: cfg, Checkpoint: cpStore, Handlers: handlers, DryRun: true})
	o.Init("job-2")

	outcome, err := o.runPhase(context.Background(), model.PhaseInit)
	require.NoError(t, err)
	assert.Equal(t, "dry-run", outcome)
	assert.False(t, called)
}

func TestMissingHandlerIsTreatedAsSkip(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	outcome, err := o.runPhase(context.Background(), model.PhaseInit)
	require.NoError(t, err)
	assert.Contains(t, outcome, "skipped")
}

func TestMergeDeltaUpsertsNewAndUpdatedRecords(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	bucket := model.NewBucket[model.Company]()

	MergeDelta(o, bucket, model.AgentDelta[model.Company]{
		NewRecords: []model.Company{{ID: "c1", Name: "Acme"}},
	})
	assert.Equal(t, 1, bucket.Len())

	MergeDelta(o, bucket, model.AgentDelta[model.Company]{
		UpdatedByID: []model.Company{{ID: "c1", Name: "Acme Corp"}},
	})
	require.Equal(t, 1, bucket.Len())
	got, ok := bucket.Get("c1")
	require.True(t, ok)
	assert.Equal(t, "Acme Corp", got.Name)
}

func TestCheckHealthReportsSecretPresenceAndDisk(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	summary := o.CheckHealth(context.Background())
	assert.True(t, summary.FreeDiskOK)
}

func TestIncrementCountersAccumulates(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	o.IncrementCounters(1, 2, 3, 4)
	o.IncrementCounters(1, 2, 3, 4)
	assert.Equal(t, int64(2), o.State().Counters.TotalURLsDiscovered)
	assert.Equal(t, int64(8), o.State().Counters.TotalSignalsDetected)
}
