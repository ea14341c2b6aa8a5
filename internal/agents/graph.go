package agents

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"

	"github.com/originpath/assocpipeline/internal/agent"
	"github.com/originpath/assocpipeline/internal/checkpoint"
	"github.com/originpath/assocpipeline/internal/executor"
	"github.com/originpath/assocpipeline/internal/model"
	"github.com/originpath/assocpipeline/internal/orchestrator"
)

// GraphTaskInput carries the whole resolved entity set plus the events
// and participants that connect them; like resolution, edge building is
// a whole-set operation.
type GraphTaskInput struct {
	Entities     []model.CanonicalEntity `json:"entities"`
	Events       []model.Event           `json:"events"`
	Participants []model.Participant     `json:"participants"`
}

// GraphOutput is the proposed edge set.
type GraphOutput struct {
	Edges []model.GraphEdge `json:"edges"`
}

// EdgeBuilder derives co-occurrence edges between canonical entities that
// share an event through their participants, grounded on the teacher's
// competitor-signal linking step generalized from a fixed pairwise
// comparison into a graph edge.
type EdgeBuilder struct{ deps Deps }

func (a *EdgeBuilder) Name() string           { return "graph.edge_builder" }
func (a *EdgeBuilder) InputSchemaID() string  { return "graph.task.v1" }
func (a *EdgeBuilder) OutputSchemaID() string { return "graph.output.v1" }
func (a *EdgeBuilder) RequiredCapabilities() []agent.Capability {
	return []agent.Capability{}
}

func (a *EdgeBuilder) Execute(ctx context.Context, task model.AgentTask) (model.AgentResult, error) {
	var in GraphTaskInput
	if err := json.Unmarshal(task.Payload, &in); err != nil {
		return model.AgentResult{}, err
	}

	entityByCompanyID := map[string]string{}
	for _, e := range in.Entities {
		for _, memberID := range e.MemberIDs {
			entityByCompanyID[memberID] = e.ID
		}
	}

	byEvent := map[string][]string{}
	for _, p := range in.Participants {
		if p.EventID == "" || p.CompanyID == "" {
			continue
		}
		entityID, ok := entityByCompanyID[p.CompanyID]
		if !ok {
			continue
		}
		byEvent[p.EventID] = append(byEvent[p.EventID], entityID)
	}

	seen := map[string]bool{}
	var edges []model.GraphEdge
	for eventID, entityIDs := range byEvent {
		for i := 0; i < len(entityIDs); i++ {
			for j := i + 1; j < len(entityIDs); j++ {
				from, to := entityIDs[i], entityIDs[j]
				if from == to {
					continue
				}
				key := edgeKey(from, to, eventID)
				if seen[key] {
					continue
				}
				seen[key] = true
				edges = append(edges, model.GraphEdge{
					ID:     edgeID(from, to, eventID),
					FromID: from,
					ToID:   to,
					Kind:   "co_attended",
					Weight: 1,
				})
			}
		}
	}

	payload, err := json.Marshal(GraphOutput{Edges: edges})
	if err != nil {
		return model.AgentResult{}, err
	}
	return model.AgentResult{Success: true, Output: payload}, nil
}

func edgeKey(from, to, eventID string) string {
	if from > to {
		from, to = to, from
	}
	return from + "|" + to + "|" + eventID
}

func edgeID(from, to, eventID string) string {
	sum := sha1.Sum([]byte(edgeKey(from, to, eventID)))
	return hex.EncodeToString(sum[:])
}

// NewGraphHandler builds the PhaseHandler that derives co-occurrence
// edges between every pair of canonical entities sharing an event.
func NewGraphHandler(exec *executor.Executor, timeout time.Duration) orchestrator.PhaseHandler {
	return func(ctx context.Context, o *orchestrator.Orchestrator) (string, error) {
		entities := o.State().CanonicalEntities.Items()
		if len(entities) == 0 {
			return "no canonical entities", nil
		}

		var cursor checkpoint.GraphCursor
		o.LoadCursor(&cursor)
		if cursor.Completed {
			return "graph already built for this job, " + strconv.Itoa(o.State().GraphEdges.Len()) + " edges on record", nil
		}

		payload, err := json.Marshal(GraphTaskInput{
			Entities:     entities,
			Events:       o.State().Events.Items(),
			Participants: o.State().Participants.Items(),
		})
		if err != nil {
			return "", err
		}
		result, err := exec.Spawn(ctx, "graph.edge_builder", model.AgentTask{AgentType: "graph.edge_builder", Payload: payload}, timeout)
		if err != nil {
			return "", err
		}

		var out GraphOutput
		if err := json.Unmarshal(result.Output, &out); err != nil {
			return "", err
		}
		orchestrator.MergeDelta(o, o.State().GraphEdges, model.AgentDelta[model.GraphEdge]{NewRecords: out.Edges})

		cursor.Completed = true
		for _, e := range entities {
			cursor.ProcessedCompanyIDs = append(cursor.ProcessedCompanyIDs, e.MemberIDs...)
		}
		o.SaveCursor(&cursor)

		return "built " + strconv.Itoa(len(out.Edges)) + " edges across " + strconv.Itoa(len(entities)) + " entities", nil
	}
}
