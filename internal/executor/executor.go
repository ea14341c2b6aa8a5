// Package executor implements the Agent Executor / Scheduler (C6):
// spawn and spawn_parallel with timeout, retry, and dead-letter routing,
// grounded on the source's AgentSpawner (spawn/spawn_parallel with a
// bounded semaphore) expressed with the teacher's errgroup.SetLimit
// idiom instead of asyncio.Semaphore.
package executor

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/originpath/assocpipeline/internal/agent"
	"github.com/originpath/assocpipeline/internal/deadletter"
	"github.com/originpath/assocpipeline/internal/metrics"
	"github.com/originpath/assocpipeline/internal/model"
	"github.com/originpath/assocpipeline/internal/resilience"
	"github.com/originpath/assocpipeline/internal/schema"
)

// Wrapper is the stack applied around every agent invocation: schema
// validation on the way in and out, and policy checks in between. The
// concrete implementation lives in the orchestrator package (it needs
// the Registry, Validator, and Declaration table); the executor only
// needs the narrow function shape.
type Wrapper func(ctx context.Context, a agent.Agent, task model.AgentTask, invoke func(context.Context) (model.AgentResult, error)) (model.AgentResult, error)

// Executor runs agents by name with timeout, retry, and DLQ routing.
type Executor struct {
	registry *agent.Registry
	dlq      *deadletter.Sink
	retry    resilience.RetryConfig
	wrap     Wrapper
}

// New creates an Executor.
func New(registry *agent.Registry, dlq *deadletter.Sink, retry resilience.RetryConfig, wrap Wrapper) *Executor {
	if wrap == nil {
		wrap = func(ctx context.Context, a agent.Agent, task model.AgentTask, invoke func(context.Context) (model.AgentResult, error)) (model.AgentResult, error) {
			return invoke(ctx)
		}
	}
	return &Executor{registry: registry, dlq: dlq, retry: retry, wrap: wrap}
}

// Spawn runs one agent to completion, applying the wrapper stack and the
// retry policy, and pushing to the dead-letter sink on terminal failure.
// agentName lookup failure is a ConfigError - fatal to the caller, not
// retried and not sent to the DLQ.
func (e *Executor) Spawn(ctx context.Context, agentName string, task model.AgentTask, timeout time.Duration) (model.AgentResult, error) {
	a, ok := e.registry.Lookup(agentName)
	if !ok {
		return model.AgentResult{}, resilience.New(resilience.KindConfigError, "unknown agent "+agentName, nil)
	}

	deadline := time.Now().Add(timeout)
	task.Deadline = deadline

	taskCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	start := time.Now()
	result, err := resilience.DoVal(taskCtx, e.retry, func(ctx context.Context) (model.AgentResult, error) {
		task.Attempt++
		return e.wrap(ctx, a, task, func(ctx context.Context) (model.AgentResult, error) {
			return a.Execute(ctx, task)
		})
	})
	result.DurationMS = time.Since(start).Milliseconds()

	if err != nil {
		outcome := "failure"
		if taskCtx.Err() != nil {
			outcome = "timeout"
		}
		metrics.AgentInvocationsTotal.WithLabelValues(agentName, outcome).Inc()

		kind := resilience.KindTransient
		if classified, ok := err.(resilience.Classified); ok {
			kind = classified.Kind()
		}
		if !kind.Skippable() {
			e.dlq.Push(deadletter.Entry{
				Task:            task,
				ClassifiedError: kind,
				Message:         err.Error(),
				Attempts:        task.Attempt,
			})
		}
		return result, err
	}

	metrics.AgentInvocationsTotal.WithLabelValues(agentName, "success").Inc()
	return result, nil
}

// ParallelResult pairs a spawn result with its input index so callers
// can correlate failures back to the originating task.
type ParallelResult struct {
	Index  int
	Result model.AgentResult
	Err    error
}

// SpawnParallel runs len(tasks) invocations of agentName, bounded by a
// concurrency ceiling of maxConcurrent, and returns results in input
// order. A failing task does not cancel its peers.
func (e *Executor) SpawnParallel(ctx context.Context, agentName string, tasks []model.AgentTask, maxConcurrent int, timeout time.Duration) []ParallelResult {
	results := make([]ParallelResult, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)

	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			result, err := e.Spawn(gctx, agentName, task, timeout)
			results[i] = ParallelResult{Index: i, Result: result, Err: err}
			return nil // never abort peers on one failure
		})
	}
	_ = g.Wait()

	successes := 0
	for _, r := range results {
		if r.Err == nil {
			successes++
		}
	}
	zap.L().Info("parallel spawn complete",
		zap.String("agent_type", agentName),
		zap.Int("total", len(tasks)),
		zap.Int("successes", successes),
		zap.Int("failures", len(tasks)-successes),
	)

	return results
}

// ClassifyValidation converts a Contract Validator result into the
// appropriate error kind for the executor's retry/DLQ decision: fatal in
// strict mode, otherwise a soft, skippable schema violation. Every
// non-empty diagnostic set increments SchemaViolationsTotal labeled by
// the schema that rejected the candidate and the mode it was checked
// under, regardless of which kind the caller ultimately propagates.
func ClassifyValidation(diags []schema.Diagnostic, schemaID string, mode schema.Mode) error {
	if len(diags) == 0 {
		return nil
	}
	metrics.SchemaViolationsTotal.WithLabelValues(schemaID, string(mode)).Inc()
	if mode == schema.ModeStrict {
		return resilience.New(resilience.KindSchemaViolationFatal, "schema validation failed (strict)", nil)
	}
	return resilience.New(resilience.KindSchemaViolation, "schema validation failed (soft)", nil)
}
