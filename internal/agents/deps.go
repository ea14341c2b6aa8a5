// Package agents implements the concrete per-phase agents (C12): the
// domain logic that turns one phase's inputs into proposed record
// deltas, plus the PhaseHandler that drives each phase's agents through
// the Executor and merges their output into PipelineState.
//
// Every agent here is stateless and network access, when needed, goes
// through the shared httpcore.Client (C1) so rate limiting and circuit
// breaking apply uniformly, matching the teacher's practice of routing
// all outbound calls through one fetcher.
package agents

import (
	"github.com/originpath/assocpipeline/internal/agent"
	"github.com/originpath/assocpipeline/internal/config"
	"github.com/originpath/assocpipeline/internal/httpcore"
	"github.com/originpath/assocpipeline/internal/policy"
	"github.com/originpath/assocpipeline/internal/schema"
	"github.com/originpath/assocpipeline/pkg/anthropic"
	"github.com/originpath/assocpipeline/pkg/geocode"
	"github.com/originpath/assocpipeline/pkg/notion"
	"github.com/originpath/assocpipeline/pkg/salesforce"
)

// Deps collects the external clients and shared infrastructure agents
// close over. Not every agent needs every field; nil fields simply mean
// that agent's capability is unavailable (e.g. no Salesforce sink
// configured), and its Execute skips the work that needs it rather than
// returning an error.
type Deps struct {
	HTTP       *httpcore.Client
	Anthropic  anthropic.Client
	Salesforce salesforce.Client
	Notion     notion.Client
	Geocode    geocode.Client
	Schemas    *schema.Registry
	Config     *config.Config
}

// BuildRegistry wires every concrete agent into the Executor's Registry
// (C5), keyed by the hierarchical name its phase handler looks it up
// under, matching the teacher's client-registry wiring in cmd/root.go.
func BuildRegistry(d Deps) *agent.Registry {
	return agent.NewRegistry(map[string]agent.Constructor{
		"gatekeeper.robots_checker":   func() agent.Agent { return &RobotsChecker{deps: d} },
		"discovery.site_mapper":       func() agent.Agent { return &SiteMapper{deps: d} },
		"discovery.ftp_mapper":        func() agent.Agent { return &FTPMapper{deps: d} },
		"classification.classifier":   func() agent.Agent { return &PageClassifier{deps: d} },
		"extraction.selector":         func() agent.Agent { return &SelectorExtractor{deps: d} },
		"extraction.llm_fallback":     func() agent.Agent { return &LLMExtractor{deps: d} },
		"enrichment.geocoder":         func() agent.Agent { return &Geocoder{deps: d} },
		"enrichment.firmographic":     func() agent.Agent { return &Firmographic{deps: d} },
		"enrichment.tech_stack":       func() agent.Agent { return &TechStack{deps: d} },
		"enrichment.contact_finder":   func() agent.Agent { return &ContactFinder{deps: d} },
		"validation.schema_checker":   func() agent.Agent { return &SchemaChecker{deps: d} },
		"validation.deduper":          func() agent.Agent { return &Deduper{deps: d} },
		"validation.crossref":         func() agent.Agent { return &Crossref{deps: d} },
		"validation.scorer":           func() agent.Agent { return &Scorer{deps: d} },
		"resolution.entity_resolver":  func() agent.Agent { return &EntityResolver{deps: d} },
		"graph.edge_builder":          func() agent.Agent { return &EdgeBuilder{deps: d} },
		"export.salesforce_sink":      func() agent.Agent { return &SalesforceSink{deps: d} },
		"export.xlsx_sink":            func() agent.Agent { return &XLSXSink{deps: d} },
		"monitor.summary":             func() agent.Agent { return &Summary{deps: d} },
	})
}

// PolicyDeclarations returns the static Policy Middleware Declaration
// for every registered agent, keyed by the same hierarchical name
// BuildRegistry uses. The executor wrapper (internal/orchestrator)
// consults this table to run CheckCrawlerClass at every invocation.
func PolicyDeclarations() map[string]policy.Declaration {
	return map[string]policy.Declaration{
		"gatekeeper.robots_checker":  {Class: policy.ClassCrawler, RespectsRobots: true},
		"discovery.site_mapper":      {Class: policy.ClassCrawler, RespectsRobots: true},
		"discovery.ftp_mapper":       {Class: policy.ClassCrawler, RespectsRobots: true},
		"classification.classifier":  {Class: policy.ClassNone},
		"extraction.selector":        {Class: policy.ClassCrawler, RespectsRobots: true},
		"extraction.llm_fallback":    {Class: policy.ClassEnricher},
		"enrichment.geocoder":        {Class: policy.ClassNone},
		"enrichment.firmographic":    {Class: policy.ClassEnricher},
		"enrichment.tech_stack":      {Class: policy.ClassCrawler, RespectsRobots: true},
		"enrichment.contact_finder":  {Class: policy.ClassCrawler, RespectsRobots: true},
		"validation.schema_checker":  {Class: policy.ClassNone},
		"validation.deduper":         {Class: policy.ClassNone},
		"validation.crossref":        {Class: policy.ClassEnricher},
		"validation.scorer":          {Class: policy.ClassNone},
		"resolution.entity_resolver": {Class: policy.ClassNone},
		"graph.edge_builder":         {Class: policy.ClassNone},
		"export.salesforce_sink":     {Class: policy.ClassEnricher},
		"export.xlsx_sink":           {Class: policy.ClassNone},
		"monitor.summary":            {Class: policy.ClassNone},
	}
}
