package executor

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/originpath/assocpipeline/internal/agent"
	"github.com/originpath/assocpipeline/internal/deadletter"
	"github.com/originpath/assocpipeline/internal/model"
	"github.com/originpath/assocpipeline/internal/resilience"
	"github.com/originpath/assocpipeline/internal/schema"
)

type scriptedAgent struct {
	name    string
	results []model.AgentResult
	errs    []error
	calls   int
}

func (a *scriptedAgent) Name() string                       { return a.name }
func (a *scriptedAgent) InputSchemaID() string               { return a.name + ".input" }
func (a *scriptedAgent) OutputSchemaID() string               { return a.name + ".output" }
func (a *scriptedAgent) RequiredCapabilities() []agent.Capability { return nil }
func (a *scriptedAgent) Execute(ctx context.Context, task model.AgentTask) (model.AgentResult, error) {
	i := a.calls
	if i >= len(a.results) {
		i = len(a.results) - 1
	}
	a.calls++
	return a.results[i], a.errs[i]
}

func newTestExecutor(t *testing.T, table map[string]agent.Constructor) (*Executor, *deadletter.Sink) {
	t.Helper()
	dir := t.TempDir()
	sink, err := deadletter.NewSink(dir)
	require.NoError(t, err)
	reg := agent.NewRegistry(table)
	retry := resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2,
		ShouldRetry:    func(err error) bool { return resilience.IsTransient(err) },
	}
	return New(reg, sink, retry, nil), sink
}

func TestSpawnUnknownAgentIsFatalConfigError(t *testing.T) {
	exec, _ := newTestExecutor(t, nil)
	_, err := exec.Spawn(context.Background(), "nonexistent", model.AgentTask{}, time.Second)
	require.Error(t, err)
	var kinded *resilience.KindedError
	require.ErrorAs(t, err, &kinded)
	assert.Equal(t, resilience.KindConfigError, kinded.Kind())
}

func TestSpawnSucceedsOnFirstAttempt(t *testing.T) {
	stub := &scriptedAgent{
		name:    "extraction.html_parser",
		results: []model.AgentResult{{Success: true}},
		errs:    []error{nil},
	}
	exec, _ := newTestExecutor(t, map[string]agent.Constructor{
		stub.name: func() agent.Agent { return stub },
	})

	result, err := exec.Spawn(context.Background(), stub.name, model.AgentTask{AgentType: stub.name}, time.Second)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, stub.calls)
}

func TestSpawnRetriesTransientThenSucceeds(t *testing.T) {
	stub := &scriptedAgent{
		name: "discovery.site_mapper",
		results: []model.AgentResult{
			{Success: false},
			{Success: true},
		},
		errs: []error{
			resilience.New(resilience.KindTransient, "temporary network blip", nil),
			nil,
		},
	}
	exec, _ := newTestExecutor(t, map[string]agent.Constructor{
		stub.name: func() agent.Agent { return stub },
	})

	result, err := exec.Spawn(context.Background(), stub.name, model.AgentTask{AgentType: stub.name}, time.Second)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, stub.calls)
}

func TestSpawnSkippableFailureDoesNotReachDLQ(t *testing.T) {
	stub := &scriptedAgent{
		name:    "classification.page_classifier",
		results: []model.AgentResult{{Success: false}},
		errs:    []error{resilience.New(resilience.KindNotFound, "page gone", nil)},
	}
	exec, sink := newTestExecutor(t, map[string]agent.Constructor{
		stub.name: func() agent.Agent { return stub },
	})

	_, err := exec.Spawn(context.Background(), stub.name, model.AgentTask{AgentType: stub.name}, time.Second)
	require.Error(t, err)

	count, err := sink.Count()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSpawnTransientFailureReachesDLQAfterRetriesExhausted(t *testing.T) {
	stub := &scriptedAgent{
		name: "enrichment.tech_stack",
		results: []model.AgentResult{
			{Success: false}, {Success: false}, {Success: false},
		},
		errs: []error{
			resilience.New(resilience.KindTransient, "blip", nil),
			resilience.New(resilience.KindTransient, "blip", nil),
			resilience.New(resilience.KindTransient, "blip", nil),
		},
	}
	exec, sink := newTestExecutor(t, map[string]agent.Constructor{
		stub.name: func() agent.Agent { return stub },
	})

	_, err := exec.Spawn(context.Background(), stub.name, model.AgentTask{AgentType: stub.name}, time.Second)
	require.Error(t, err)

	count, err := sink.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 3, stub.calls)
}

func TestSpawnParallelPreservesOrderAndDoesNotAbortOnFailure(t *testing.T) {
	makeStub := func(name string, ok bool) *scriptedAgent {
		if ok {
			return &scriptedAgent{name: name, results: []model.AgentResult{{Success: true}}, errs: []error{nil}}
		}
		return &scriptedAgent{name: name, results: []model.AgentResult{{Success: false}}, errs: []error{resilience.New(resilience.KindNotFound, "missing", nil)}}
	}

	table := map[string]agent.Constructor{}
	tasks := make([]model.AgentTask, 5)
	for i := 0; i < 5; i++ {
		tasks[i] = model.AgentTask{AgentType: "enrichment.contact_finder"}
	}
	// single agent name, shared constructor closes over a per-call counter
	var callCount atomic.Int64
	table["enrichment.contact_finder"] = func() agent.Agent {
		idx := callCount.Add(1) - 1
		return makeStub("enrichment.contact_finder", idx%2 == 0)
	}

	exec, _ := newTestExecutor(t, table)
	results := exec.SpawnParallel(context.Background(), "enrichment.contact_finder", tasks, 2, time.Second)

	require.Len(t, results, 5)
	for i, r := range results {
		assert.Equal(t, i, r.Index)
	}
}

func TestClassifyValidationNoDiagnosticsIsNil(t *testing.T) {
	err := ClassifyValidation(nil, "model.company.v1", schema.ModeSoft)
	assert.NoError(t, err)
}

func TestClassifyValidationStrictModeIsFatalAndNotSkippable(t *testing.T) {
	err := ClassifyValidation([]schema.Diagnostic{{Path: "$.name", Message: "missing required field"}}, "model.company.v1", schema.ModeStrict)
	require.Error(t, err)
	var kinded *resilience.KindedError
	require.ErrorAs(t, err, &kinded)
	assert.False(t, kinded.Kind().Skippable())
	assert.True(t, kinded.Kind().Fatal())
	assert.Equal(t, resilience.KindSchemaViolationFatal, kinded.Kind())
}

func TestClassifyValidationSoftModeIsSkippable(t *testing.T) {
	err := ClassifyValidation([]schema.Diagnostic{{Path: "$.name", Message: "missing required field"}}, "model.company.v1", schema.ModeSoft)
	require.Error(t, err)
	var kinded *resilience.KindedError
	require.ErrorAs(t, err, &kinded)
	assert.True(t, kinded.Kind().Skippable())
	assert.False(t, kinded.Kind().Fatal())
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}
