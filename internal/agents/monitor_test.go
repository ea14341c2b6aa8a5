package agents

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/originpath/assocpipeline/internal/model"
)

func TestSummaryExecuteFormatsRunCounters(t *testing.T) {
	summary := &Summary{deps: Deps{}}
	payload, err := json.Marshal(MonitorTaskInput{
		JobID: "job-1",
		Counters: model.Counters{
			TotalURLsDiscovered:  10,
			TotalPagesFetched:    8,
			TotalEntitiesResolved: 4,
			TotalSignalsDetected:  1,
		},
		Derived:   model.DerivedCounts{TotalCanonicalEntities: 3},
		EdgeCount: 2,
	})
	require.NoError(t, err)

	result, err := summary.Execute(context.Background(), model.AgentTask{Payload: payload})
	require.NoError(t, err)

	var out MonitorOutput
	require.NoError(t, json.Unmarshal(result.Output, &out))
	assert.Contains(t, out.Summary, "job job-1 complete")
	assert.Contains(t, out.Summary, "10 urls discovered")
	assert.Contains(t, out.Summary, "3 canonical entities")
	assert.Contains(t, out.Summary, "2 graph edges")
}

func TestNewMonitorHandlerSummarizesCurrentState(t *testing.T) {
	exec, o := newAgentTestFixture(t, Deps{})
	o.State().Counters.TotalURLsDiscovered = 5
	o.State().CanonicalEntities.Upsert(model.CanonicalEntity{ID: "e1", Name: "Acme"})
	o.State().GraphEdges.Upsert(model.GraphEdge{ID: "edge1", FromID: "e1", ToID: "e2"})

	handler := NewMonitorHandler(exec, time.Second)
	outcome, err := handler(context.Background(), o)
	require.NoError(t, err)
	assert.Contains(t, outcome, "job job-1 complete")
	assert.Contains(t, outcome, "5 urls discovered")
	assert.Contains(t, outcome, "1 canonical entities")
	assert.Contains(t, outcome, "1 graph edges")
}
