package orchestrator

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/originpath/assocpipeline/internal/agent"
	"github.com/originpath/assocpipeline/internal/executor"
	"github.com/originpath/assocpipeline/internal/model"
	"github.com/originpath/assocpipeline/internal/policy"
	"github.com/originpath/assocpipeline/internal/resilience"
	"github.com/originpath/assocpipeline/internal/schema"
)

// RobotsGate is the process-wide latch the Gatekeeper phase closes once
// it has evaluated robots.txt for every configured domain. The wrapper's
// crawler-class check reads it before letting any crawler-class agent
// request network access, so a misordered phase table (or a handler
// that skips the Gatekeeper entirely) is caught at the executor
// boundary rather than silently ignored.
type RobotsGate struct {
	checked bool
}

// NewRobotsGate returns a gate that starts closed.
func NewRobotsGate() *RobotsGate { return &RobotsGate{} }

// MarkChecked opens the gate. Called once by the Gatekeeper phase
// handler after it has produced an AccessVerdict for every domain.
func (g *RobotsGate) MarkChecked() { g.checked = true }

// Checked reports whether the gate has been opened.
func (g *RobotsGate) Checked() bool { return g.checked }

// BuildWrapper assembles the executor.Wrapper stack applied around
// every agent invocation: schema validation on the way in, a
// crawler-class policy check before the call, the invocation itself,
// then schema validation on the way out. This is the "the concrete
// implementation lives in the orchestrator package" promised by
// executor.Wrapper's doc comment - it needs the schema Registry and the
// per-agent Declaration table, neither of which the executor package
// itself knows about.
func BuildWrapper(schemas *schema.Registry, mode schema.Mode, declarations map[string]policy.Declaration, robots *RobotsGate) executor.Wrapper {
	return func(ctx context.Context, a agent.Agent, task model.AgentTask, invoke func(context.Context) (model.AgentResult, error)) (model.AgentResult, error) {
		if err := validatePayload(schemas, mode, a.InputSchemaID(), task.Payload); err != nil {
			return model.AgentResult{}, err
		}

		if violations := checkCrawlerClass(a, declarations, robots); len(violations) > 0 {
			policy.RecordViolations(violations)
			return model.AgentResult{}, violationsError(violations)
		}

		result, err := invoke(ctx)
		if err != nil {
			return result, err
		}

		if err := validatePayload(schemas, mode, a.OutputSchemaID(), result.Output); err != nil {
			return result, err
		}
		return result, nil
	}
}

func checkCrawlerClass(a agent.Agent, declarations map[string]policy.Declaration, robots *RobotsGate) []policy.Violation {
	requestedNetwork := policy.HasCapability(a, agent.CapabilityNetwork)
	decl := declarations[a.Name()]
	robotsChecked := robots != nil && robots.Checked()
	return policy.CheckCrawlerClass(decl, requestedNetwork, robotsChecked)
}

func validatePayload(schemas *schema.Registry, mode schema.Mode, schemaID string, payload json.RawMessage) error {
	if schemas == nil || len(payload) == 0 || schemaID == "" {
		return nil
	}
	if _, ok := schemas.Get(schemaID); !ok {
		return nil
	}
	var candidate map[string]any
	if err := json.Unmarshal(payload, &candidate); err != nil {
		zap.L().Warn("orchestrator: wrapper could not decode payload for schema validation",
			zap.String("schema_id", schemaID), zap.Error(err))
		return nil
	}
	_, diags := schemas.Validate(schemaID, candidate)
	return executor.ClassifyValidation(diags, schemaID, mode)
}

// violationsError reports a Policy Middleware rejection at the wrapper
// boundary as a forbidden error - skippable, not retried, since a
// policy verdict won't change on a bare retry.
func violationsError(violations []policy.Violation) error {
	msg := "policy violation"
	if len(violations) > 0 {
		msg = violations[0].Predicate + ": " + violations[0].Message
	}
	return resilience.New(resilience.KindForbidden, msg, nil)
}
