package agents

import (
	"context"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/originpath/assocpipeline/internal/agent"
	"github.com/originpath/assocpipeline/internal/checkpoint"
	"github.com/originpath/assocpipeline/internal/executor"
	"github.com/originpath/assocpipeline/internal/model"
	"github.com/originpath/assocpipeline/internal/orchestrator"
	"github.com/originpath/assocpipeline/internal/policy"
)

// RobotsChecker fetches a domain's robots.txt and produces the Gatekeeper's
// per-domain AccessVerdict, grounded on the teacher's Probe honoring
// robots.txt/sitemap.xml before any crawl proceeds.
type RobotsChecker struct{ deps Deps }

// GatekeeperTaskInput names the domain to evaluate.
type GatekeeperTaskInput struct {
	Domain string `json:"domain"`
}

func (a *RobotsChecker) Name() string           { return "gatekeeper.robots_checker" }
func (a *RobotsChecker) InputSchemaID() string  { return "gatekeeper.task.v1" }
func (a *RobotsChecker) OutputSchemaID() string { return "gatekeeper.verdict.v1" }
func (a *RobotsChecker) RequiredCapabilities() []agent.Capability {
	return []agent.Capability{agent.CapabilityNetwork}
}

func (a *RobotsChecker) Execute(ctx context.Context, task model.AgentTask) (model.AgentResult, error) {
	var in GatekeeperTaskInput
	if err := json.Unmarshal(task.Payload, &in); err != nil {
		return model.AgentResult{}, err
	}

	verdict := model.AccessVerdict{
		Domain:     in.Domain,
		Allowed:    true,
		ObservedAt: time.Now(),
	}

	disallowAll, restrictions := evaluateRobots(ctx, a.deps.HTTP, in.Domain)
	if disallowAll {
		verdict.Allowed = false
		verdict.Recommendations = append(verdict.Recommendations, "robots.txt disallows all crawlers for this domain")
	}
	verdict.Restrictions = restrictions

	out, err := json.Marshal(verdict)
	if err != nil {
		return model.AgentResult{}, err
	}
	return model.AgentResult{Success: true, Output: out}, nil
}

// evaluateRobots fetches https://domain/robots.txt and returns whether the
// wildcard user-agent is fully disallowed plus the raw disallow paths,
// which are recorded on the AccessVerdict's Restrictions. Discovery skips
// only fully disallowed domains; it does not consult the individual
// paths. A fetch failure is treated
// as "no restrictions found" rather than blocking the domain.
func evaluateRobots(ctx context.Context, http httpGetter, domain string) (disallowAll bool, restrictions []string) {
	if http == nil {
		return false, nil
	}
	body, err := http.Get(ctx, "https://"+domain+"/robots.txt")
	if err != nil {
		return false, nil
	}
	defer body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(body, 64*1024))
	if err != nil {
		return false, nil
	}

	relevantUA := false
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		switch {
		case strings.HasPrefix(lower, "user-agent:"):
			ua := strings.TrimSpace(strings.TrimPrefix(line, line[:len("user-agent:")]))
			relevantUA = ua == "*"
		case relevantUA && strings.HasPrefix(lower, "disallow:"):
			path := strings.TrimSpace(line[len("disallow:"):])
			if path == "/" {
				disallowAll = true
			}
			if path != "" {
				restrictions = append(restrictions, path)
			}
		}
	}
	return disallowAll, restrictions
}

// httpGetter is the narrow shape RobotsChecker and SiteMapper need from
// httpcore.Client, letting tests supply a fake fetcher.
type httpGetter interface {
	Get(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// NewGatekeeperHandler builds the PhaseHandler that evaluates every
// distinct domain named by the job's configured association seeds and
// records an AccessVerdict for each, blocking further crawl of any
// domain robots.txt disallows outright.
func NewGatekeeperHandler(exec *executor.Executor, robots *orchestrator.RobotsGate, domains []string, timeout time.Duration) orchestrator.PhaseHandler {
	return func(ctx context.Context, o *orchestrator.Orchestrator) (string, error) {
		if len(domains) == 0 {
			if robots != nil {
				robots.MarkChecked()
			}
			return "no domains configured", nil
		}

		var cursor checkpoint.GatekeeperCursor
		o.LoadCursor(&cursor)
		cleared := map[string]bool{}
		for _, d := range cursor.ClearedDomains {
			cleared[d] = true
		}

		pending := make([]string, 0, len(domains))
		for _, d := range domains {
			if !cleared[d] {
				pending = append(pending, d)
			}
		}

		tasks := make([]model.AgentTask, len(pending))
		for i, d := range pending {
			payload, _ := json.Marshal(GatekeeperTaskInput{Domain: d})
			tasks[i] = model.AgentTask{AgentType: "gatekeeper.robots_checker", Payload: payload}
		}

		results := exec.SpawnParallel(ctx, "gatekeeper.robots_checker", tasks, o.MaxConcurrent(), timeout)

		blocked := 0
		for _, r := range results {
			if r.Err != nil {
				continue
			}
			var verdict model.AccessVerdict
			if err := json.Unmarshal(r.Result.Output, &verdict); err != nil {
				continue
			}
			delta := model.AgentDelta[model.AccessVerdict]{NewRecords: []model.AccessVerdict{verdict}}
			orchestrator.MergeDelta(o, o.State().AccessVerdicts, delta)
			cursor.ClearedDomains = append(cursor.ClearedDomains, verdict.Domain)
			if !verdict.Allowed {
				blocked++
				policy.RecordViolations([]policy.Violation{{Predicate: "robots-disallow", Message: "domain " + verdict.Domain + " blocked by robots.txt"}})
			}
		}
		o.SaveCursor(&cursor)

		if robots != nil {
			robots.MarkChecked()
		}

		return "evaluated " + strconv.Itoa(len(domains)) + " domains (" + strconv.Itoa(len(pending)) + " newly checked), " + strconv.Itoa(blocked) + " blocked", nil
	}
}
