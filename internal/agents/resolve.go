package agents

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/originpath/assocpipeline/internal/agent"
	"github.com/originpath/assocpipeline/internal/checkpoint"
	"github.com/originpath/assocpipeline/internal/executor"
	"github.com/originpath/assocpipeline/internal/model"
	"github.com/originpath/assocpipeline/internal/orchestrator"
)

// ResolveTaskInput carries the whole company batch: entity resolution is
// inherently a whole-set operation (clustering by domain), not a
// per-record one, so a single task covers all companies in the phase.
type ResolveTaskInput struct {
	Companies []model.Company `json:"companies"`
}

// ResolveOutput is the resolved set of canonical entities.
type ResolveOutput struct {
	Entities []model.CanonicalEntity `json:"entities"`
}

// EntityResolver clusters Company records sharing a normalized domain
// into a single CanonicalEntity, grounded on the teacher's account
// matching step (FindAccountByWebsite) that treats a shared domain as
// the identity key for a business.
type EntityResolver struct{ deps Deps }

func (a *EntityResolver) Name() string           { return "resolution.entity_resolver" }
func (a *EntityResolver) InputSchemaID() string  { return "resolution.task.v1" }
func (a *EntityResolver) OutputSchemaID() string { return "resolution.output.v1" }
func (a *EntityResolver) RequiredCapabilities() []agent.Capability {
	return []agent.Capability{}
}

func (a *EntityResolver) Execute(ctx context.Context, task model.AgentTask) (model.AgentResult, error) {
	var in ResolveTaskInput
	if err := json.Unmarshal(task.Payload, &in); err != nil {
		return model.AgentResult{}, err
	}

	clusters := map[string][]model.Company{}
	var order []string
	for _, c := range in.Companies {
		key := domainHost(c.Domain)
		if key == "" {
			key = "name:" + normalizeCompanyName(c.Name)
		}
		if _, seen := clusters[key]; !seen {
			order = append(order, key)
		}
		clusters[key] = append(clusters[key], c)
	}

	entities := make([]model.CanonicalEntity, 0, len(order))
	for _, key := range order {
		members := clusters[key]
		memberIDs := make([]string, len(members))
		var provenance []model.ProvenanceEntry
		for i, m := range members {
			memberIDs[i] = m.ID
			provenance = append(provenance, m.Provenance...)
		}
		entities = append(entities, model.CanonicalEntity{
			ID:         entityID(key),
			Name:       members[0].Name,
			MemberIDs:  memberIDs,
			Provenance: provenance,
		})
	}

	payload, err := json.Marshal(ResolveOutput{Entities: entities})
	if err != nil {
		return model.AgentResult{}, err
	}
	return model.AgentResult{Success: true, Output: payload}, nil
}

func entityID(clusterKey string) string {
	sum := sha1.Sum([]byte(strings.ToLower(clusterKey)))
	return hex.EncodeToString(sum[:])
}

// NewResolutionHandler builds the PhaseHandler that resolves every
// validated company into canonical entities in a single spawn (no
// fan-out: clustering needs the whole batch at once).
func NewResolutionHandler(exec *executor.Executor, timeout time.Duration) orchestrator.PhaseHandler {
	return func(ctx context.Context, o *orchestrator.Orchestrator) (string, error) {
		companies := o.State().Companies.Items()
		if len(companies) == 0 {
			return "no companies to resolve", nil
		}

		var cursor checkpoint.ResolutionCursor
		o.LoadCursor(&cursor)
		if cursor.Completed {
			return "resolution already completed for this job, " + strconv.Itoa(o.State().CanonicalEntities.Len()) + " entities on record", nil
		}

		payload, err := json.Marshal(ResolveTaskInput{Companies: companies})
		if err != nil {
			return "", err
		}
		result, err := exec.Spawn(ctx, "resolution.entity_resolver", model.AgentTask{AgentType: "resolution.entity_resolver", Payload: payload}, timeout)
		if err != nil {
			return "", err
		}

		var out ResolveOutput
		if err := json.Unmarshal(result.Output, &out); err != nil {
			return "", err
		}
		orchestrator.MergeDelta(o, o.State().CanonicalEntities, model.AgentDelta[model.CanonicalEntity]{NewRecords: out.Entities})
		o.IncrementCounters(0, 0, int64(len(out.Entities)), 0)

		cursor.Completed = true
		o.SaveCursor(&cursor)

		return "resolved " + strconv.Itoa(len(companies)) + " companies into " + strconv.Itoa(len(out.Entities)) + " entities", nil
	}
}
