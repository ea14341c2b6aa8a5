// Package policy implements the Policy Middleware (C3): a composable set
// of predicates gating agent execution, adapted from the teacher's
// quality-gate pattern (compute a verdict, run checks) into a
// capability/provenance gate.
package policy

import (
	"time"

	"github.com/originpath/assocpipeline/internal/agent"
	"github.com/originpath/assocpipeline/internal/metrics"
	"github.com/originpath/assocpipeline/internal/model"
)

// Violation is a single policy predicate failure.
type Violation struct {
	Predicate string
	Message   string
}

// AgentClass distinguishes crawlers (must respect robots.txt) from
// enrichers (rate-limited, logged as external calls) for the
// crawler-class predicate.
type AgentClass string

const (
	ClassCrawler  AgentClass = "crawler"
	ClassEnricher AgentClass = "enricher"
	ClassNone     AgentClass = ""
)

// Declaration is the static policy-relevant metadata for one agent,
// supplied by whatever wires the agent into the registry.
type Declaration struct {
	Class                AgentClass
	RespectsRobots       bool
	RequiredOutputSchema string
}

// Identified is implemented by every record kind provenance is enforced
// on: companies, events, participants, competitor signals, canonical
// entities, and exports.
type Identified interface {
	model.Identifiable
}

// CheckProvenance verifies every record in records carries a non-empty
// provenance list attributing the given agent name.
func CheckProvenance[T model.Identifiable](agentName string, records []T, provenanceOf func(T) []model.ProvenanceEntry) []Violation {
	var violations []Violation
	for _, r := range records {
		prov := provenanceOf(r)
		if len(prov) == 0 {
			violations = append(violations, Violation{
				Predicate: "provenance",
				Message:   "record " + r.RecordID() + " has no provenance",
			})
			continue
		}
		found := false
		for _, p := range prov {
			if p.ExtractedBy == agentName && !p.ExtractedAt.IsZero() {
				found = true
				break
			}
		}
		if !found {
			violations = append(violations, Violation{
				Predicate: "provenance",
				Message:   "record " + r.RecordID() + " provenance does not reference " + agentName,
			})
		}
	}
	return violations
}

// CheckCrawlerClass verifies that only crawler/enricher agents attempt
// network access, and that crawlers report having respected robots.txt.
func CheckCrawlerClass(decl Declaration, requestedNetwork bool, robotsChecked bool) []Violation {
	if !requestedNetwork {
		return nil
	}
	if decl.Class != ClassCrawler && decl.Class != ClassEnricher {
		return []Violation{{Predicate: "crawler-class", Message: "agent is not declared as a crawler or enricher but requested network access"}}
	}
	if decl.Class == ClassCrawler && !robotsChecked {
		return []Violation{{Predicate: "crawler-class", Message: "crawler did not consult robots.txt before fetching"}}
	}
	return nil
}

// CheckAuthFlagging verifies a page requiring authentication is
// annotated and not forwarded to extraction.
func CheckAuthFlagging(page model.PageSnapshot, forwardedToExtraction bool) []Violation {
	if page.RequiresAuth && forwardedToExtraction {
		return []Violation{{Predicate: "auth-flagging", Message: "page " + page.URL + " requires auth but was forwarded to extraction"}}
	}
	return nil
}

// RecordViolations increments the policy-violation metric for each
// violation found. Callers treat a non-empty return from any Check* as
// a skippable failure per the spec: the invocation is not merged, the
// violation is logged and counted, and the phase continues.
func RecordViolations(violations []Violation) {
	for _, v := range violations {
		metrics.PolicyViolationsTotal.WithLabelValues(v.Predicate).Inc()
	}
}

// HasCapability reports whether an agent's declared capabilities include
// cap.
func HasCapability(a agent.Agent, cap agent.Capability) bool {
	for _, c := range a.RequiredCapabilities() {
		if c == cap {
			return true
		}
	}
	return false
}

// EvaluatedAt stamps the current time for verdict/observation records
// that need it - kept as a single indirection so tests can be exact
// about when a verdict was observed.
func EvaluatedAt() time.Time { return time.Now() }
