package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/originpath/assocpipeline/internal/agent"
	"github.com/originpath/assocpipeline/internal/executor"
	"github.com/originpath/assocpipeline/internal/model"
	"github.com/originpath/assocpipeline/internal/orchestrator"
)

// MonitorTaskInput carries the run's final derived counts.
type MonitorTaskInput struct {
	JobID      string              `json:"job_id"`
	Counters   model.Counters      `json:"counters"`
	Derived    model.DerivedCounts `json:"derived"`
	EdgeCount  int                 `json:"edge_count"`
}

// MonitorOutput is the run summary text, which the Monitor handler logs.
type MonitorOutput struct {
	Summary string `json:"summary"`
}

// Summary logs the final run counters, grounded on the teacher's
// end-of-run summary logging in cmd/root.go's PersistentPostRun.
type Summary struct{ deps Deps }

func (a *Summary) Name() string           { return "monitor.summary" }
func (a *Summary) InputSchemaID() string  { return "monitor.task.v1" }
func (a *Summary) OutputSchemaID() string { return "monitor.output.v1" }
func (a *Summary) RequiredCapabilities() []agent.Capability {
	return []agent.Capability{}
}

func (a *Summary) Execute(ctx context.Context, task model.AgentTask) (model.AgentResult, error) {
	var in MonitorTaskInput
	if err := json.Unmarshal(task.Payload, &in); err != nil {
		return model.AgentResult{}, err
	}

	summary := fmt.Sprintf(
		"job %s complete: %d urls discovered, %d pages fetched, %d entities resolved, %d signals detected, %d canonical entities, %d graph edges",
		in.JobID, in.Counters.TotalURLsDiscovered, in.Counters.TotalPagesFetched,
		in.Counters.TotalEntitiesResolved, in.Counters.TotalSignalsDetected,
		in.Derived.TotalCanonicalEntities, in.EdgeCount,
	)
	zap.L().Info("monitor: run summary", zap.String("job_id", in.JobID), zap.String("summary", summary))

	payload, err := json.Marshal(MonitorOutput{Summary: summary})
	if err != nil {
		return model.AgentResult{}, err
	}
	return model.AgentResult{Success: true, Output: payload}, nil
}

// NewMonitorHandler builds the PhaseHandler that runs the summary agent
// against the job's final counters.
func NewMonitorHandler(exec *executor.Executor, timeout time.Duration) orchestrator.PhaseHandler {
	return func(ctx context.Context, o *orchestrator.Orchestrator) (string, error) {
		state := o.State()
		payload, err := json.Marshal(MonitorTaskInput{
			JobID:     state.JobID,
			Counters:  state.Counters,
			Derived:   state.DerivedCounts(),
			EdgeCount: state.GraphEdges.Len(),
		})
		if err != nil {
			return "", err
		}

		result, err := exec.Spawn(ctx, "monitor.summary", model.AgentTask{AgentType: "monitor.summary", Payload: payload}, timeout)
		if err != nil {
			return "", err
		}
		var out MonitorOutput
		if err := json.Unmarshal(result.Output, &out); err != nil {
			return "", err
		}
		return out.Summary, nil
	}
}
