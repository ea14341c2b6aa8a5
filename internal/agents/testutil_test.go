package agents

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/originpath/assocpipeline/internal/checkpoint"
	"github.com/originpath/assocpipeline/internal/config"
	"github.com/originpath/assocpipeline/internal/deadletter"
	"github.com/originpath/assocpipeline/internal/executor"
	"github.com/originpath/assocpipeline/internal/orchestrator"
	"github.com/originpath/assocpipeline/internal/resilience"
)

// newAgentTestFixture builds a fresh Executor wired to BuildRegistry(deps)
// and an Orchestrator with no phase handlers, initialized to job "job-1",
// for tests that seed PipelineState directly and drive one PhaseHandler
// in isolation rather than the whole Run loop.
func newAgentTestFixture(t *testing.T, deps Deps) (*executor.Executor, *orchestrator.Orchestrator) {
	t.Helper()

	dlq, err := deadletter.NewSink(t.TempDir())
	require.NoError(t, err)

	registry := BuildRegistry(deps)
	exec := executor.New(registry, dlq, resilience.DefaultRetryConfig(), nil)

	cpStore, err := checkpoint.NewStore(t.TempDir())
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Pipeline.DataRoot = t.TempDir()

	o := orchestrator.New(orchestrator.Options{
		Config:     cfg,
		Checkpoint: cpStore,
	})
	o.Init("job-1")
	return exec, o
}
