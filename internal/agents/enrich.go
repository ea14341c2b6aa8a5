package agents

import (
	"context"
	"encoding/json"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/originpath/assocpipeline/internal/agent"
	"github.com/originpath/assocpipeline/internal/checkpoint"
	"github.com/originpath/assocpipeline/internal/executor"
	"github.com/originpath/assocpipeline/internal/model"
	"github.com/originpath/assocpipeline/internal/orchestrator"
	"github.com/originpath/assocpipeline/pkg/geocode"
	"github.com/originpath/assocpipeline/pkg/notion"
)

// EnrichTaskInput carries one company to enrich. Directory is the
// association directory the handler fetches once per phase run (when the
// firmographic step is selected) rather than once per company; it is
// attached to every enrichment task, and only Firmographic reads it.
type EnrichTaskInput struct {
	Company   model.Company           `json:"company"`
	Directory []notion.AssociationRow `json:"directory,omitempty"`
}

// EnrichOutput is a single enriched company, replacing the input record
// by ID in the Companies bucket.
type EnrichOutput struct {
	Company model.Company `json:"company"`
}

// Geocoder resolves a company's latitude/longitude fields (populated by
// an earlier extraction pass) against loaded territory polygons and
// records the containing territory's name, grounded on the teacher's
// enrichment step of attaching a sales region to every account.
type Geocoder struct{ deps Deps }

func (a *Geocoder) Name() string           { return "enrichment.geocoder" }
func (a *Geocoder) InputSchemaID() string  { return "enrichment.task.v1" }
func (a *Geocoder) OutputSchemaID() string { return "enrichment.output.v1" }
func (a *Geocoder) RequiredCapabilities() []agent.Capability {
	return []agent.Capability{}
}

func (a *Geocoder) Execute(ctx context.Context, task model.AgentTask) (model.AgentResult, error) {
	var in EnrichTaskInput
	if err := json.Unmarshal(task.Payload, &in); err != nil {
		return model.AgentResult{}, err
	}
	company := in.Company
	if company.Fields == nil {
		company.Fields = map[string]any{}
	}

	if a.deps.Geocode != nil {
		lat, latOK := floatField(company.Fields, "latitude")
		lon, lonOK := floatField(company.Fields, "longitude")
		if latOK && lonOK {
			if territory, ok := a.deps.Geocode.Lookup(ctx, geocode.Point{Latitude: lat, Longitude: lon}); ok {
				company.Fields["territory"] = territory.Name
			}
		}
	}

	return marshalEnrichOutput(company)
}

func floatField(fields map[string]any, key string) (float64, bool) {
	v, ok := fields[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func marshalEnrichOutput(c model.Company) (model.AgentResult, error) {
	payload, err := json.Marshal(EnrichOutput{Company: c})
	if err != nil {
		return model.AgentResult{}, err
	}
	return model.AgentResult{Success: true, Output: payload}, nil
}

// Firmographic cross-references a company's domain against the
// association directory (queried from Notion) to attach membership and
// industry tags, grounded on the teacher's lead-enrichment step of
// stamping firmographic attributes onto an account before export.
type Firmographic struct {
	deps Deps
}

func (a *Firmographic) Name() string           { return "enrichment.firmographic" }
func (a *Firmographic) InputSchemaID() string  { return "enrichment.task.v1" }
func (a *Firmographic) OutputSchemaID() string { return "enrichment.output.v1" }
func (a *Firmographic) RequiredCapabilities() []agent.Capability {
	return []agent.Capability{agent.CapabilityNetwork}
}

func (a *Firmographic) Execute(ctx context.Context, task model.AgentTask) (model.AgentResult, error) {
	var in EnrichTaskInput
	if err := json.Unmarshal(task.Payload, &in); err != nil {
		return model.AgentResult{}, err
	}
	company := in.Company
	if company.Fields == nil {
		company.Fields = map[string]any{}
	}

	for _, row := range in.Directory {
		if row.Domain == "" || company.Domain == "" {
			continue
		}
		if strings.EqualFold(domainHost(row.Domain), domainHost(company.Domain)) {
			company.Fields["association_member"] = row.Active
			if len(row.Industries) > 0 {
				company.Fields["industries"] = row.Industries
			}
			break
		}
	}

	return marshalEnrichOutput(company)
}

func domainHost(s string) string {
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "www.")
	if idx := strings.Index(s, "/"); idx != -1 {
		s = s[:idx]
	}
	return s
}

// TechStack scans a company's homepage for well-known technology
// fingerprints in response headers and inline script tags, grounded on
// the teacher's response-header inspection used to detect an account's
// hosting provider before an outreach step.
type TechStack struct{ deps Deps }

func (a *TechStack) Name() string           { return "enrichment.tech_stack" }
func (a *TechStack) InputSchemaID() string  { return "enrichment.task.v1" }
func (a *TechStack) OutputSchemaID() string { return "enrichment.output.v1" }
func (a *TechStack) RequiredCapabilities() []agent.Capability {
	return []agent.Capability{agent.CapabilityNetwork}
}

var techSignatures = map[string]string{
	"cf-ray":          "cloudflare",
	"x-shopify-stage": "shopify",
	"x-drupal-cache":  "drupal",
	"x-generator":     "generic-cms",
	"wp-content":      "wordpress",
	"wp-json":         "wordpress",
	"__next":          "nextjs",
	"data-reactroot":  "react",
	"squarespace.com": "squarespace",
	"cdn.shopify.com": "shopify",
	"webflow.js":      "webflow",
}

func (a *TechStack) Execute(ctx context.Context, task model.AgentTask) (model.AgentResult, error) {
	var in EnrichTaskInput
	if err := json.Unmarshal(task.Payload, &in); err != nil {
		return model.AgentResult{}, err
	}
	company := in.Company
	if company.Fields == nil {
		company.Fields = map[string]any{}
	}

	if a.deps.HTTP != nil && company.Domain != "" {
		homepage := "https://" + company.Domain
		var headers map[string][]string
		if h, err := a.deps.HTTP.Head(ctx, homepage); err == nil {
			headers = map[string][]string(h)
		}
		var body string
		if b, err := a.deps.HTTP.Get(ctx, homepage); err == nil {
			defer b.Close() //nolint:errcheck
			raw, _ := io.ReadAll(io.LimitReader(b, 256*1024))
			body = string(raw)
		}
		if detected := detectTechStack(headers, body); len(detected) > 0 {
			company.Fields["tech_stack"] = detected
		}
	}

	return marshalEnrichOutput(company)
}

// detectTechStack matches known header names/values and page-body
// substrings against techSignatures, returning the distinct technology
// names found.
func detectTechStack(headers map[string][]string, body string) []string {
	found := map[string]bool{}
	for name := range headers {
		if tech, ok := techSignatures[strings.ToLower(name)]; ok {
			found[tech] = true
		}
	}
	lower := strings.ToLower(body)
	for needle, tech := range techSignatures {
		if strings.Contains(lower, needle) {
			found[tech] = true
		}
	}
	techs := make([]string, 0, len(found))
	for tech := range found {
		techs = append(techs, tech)
	}
	return techs
}

// ContactFinder extracts email addresses mentioned on a company's
// homepage, grounded on the teacher's regex-based contact scraping step
// used to seed outreach lists before a lead is handed to sales.
type ContactFinder struct{ deps Deps }

func (a *ContactFinder) Name() string           { return "enrichment.contact_finder" }
func (a *ContactFinder) InputSchemaID() string  { return "enrichment.task.v1" }
func (a *ContactFinder) OutputSchemaID() string { return "enrichment.output.v1" }
func (a *ContactFinder) RequiredCapabilities() []agent.Capability {
	return []agent.Capability{agent.CapabilityNetwork}
}

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

func (a *ContactFinder) Execute(ctx context.Context, task model.AgentTask) (model.AgentResult, error) {
	var in EnrichTaskInput
	if err := json.Unmarshal(task.Payload, &in); err != nil {
		return model.AgentResult{}, err
	}
	company := in.Company
	if company.Fields == nil {
		company.Fields = map[string]any{}
	}

	if a.deps.HTTP != nil && company.Domain != "" {
		body, err := a.deps.HTTP.Get(ctx, "https://"+company.Domain)
		if err == nil {
			defer body.Close() //nolint:errcheck
			raw, _ := io.ReadAll(io.LimitReader(body, 256*1024))
			if emails := dedupeStrings(emailPattern.FindAllString(string(raw), -1)); len(emails) > 0 {
				company.Fields["contacts"] = emails
			}
		}
	}

	return marshalEnrichOutput(company)
}

func dedupeStrings(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		lower := strings.ToLower(s)
		if seen[lower] {
			continue
		}
		seen[lower] = true
		out = append(out, s)
	}
	return out
}

// enrichmentStepOrder is the fixed sequence enrichment sub-steps run in,
// named exactly as the flag values --enrichment accepts.
var enrichmentStepOrder = []struct {
	flag      string
	agentName string
}{
	{"firmographic", "enrichment.geocoder"},
	{"firmographic", "enrichment.firmographic"},
	{"techstack", "enrichment.tech_stack"},
	{"contacts", "enrichment.contact_finder"},
}

// NewEnrichmentHandler builds the PhaseHandler that runs geocoding,
// firmographic, tech-stack, and contact-finding enrichment over every
// extracted company, in that fixed order. steps selects which passes
// run ("firmographic", "techstack", "contacts", or "all"). Each
// company/step pair already marked done in the phase's EnrichmentCursor
// is skipped, so a resumed run doesn't re-enrich companies an earlier
// attempt already finished.
func NewEnrichmentHandler(exec *executor.Executor, deps Deps, notionDatabaseID string, steps []string, timeout time.Duration) orchestrator.PhaseHandler {
	return func(ctx context.Context, o *orchestrator.Orchestrator) (string, error) {
		companies := o.State().Companies.Items()
		if len(companies) == 0 {
			return "no companies to enrich", nil
		}

		var cursor checkpoint.EnrichmentCursor
		o.LoadCursor(&cursor)

		var directory []notion.AssociationRow
		if stepSelected(steps, "firmographic") && deps.Notion != nil && notionDatabaseID != "" {
			rows, err := notion.QueryActiveAssociations(ctx, deps.Notion, notionDatabaseID)
			if err == nil {
				directory = rows
			}
		}

		ran := 0
		for _, step := range enrichmentStepOrder {
			if !stepSelected(steps, step.flag) {
				continue
			}
			pending := make([]model.Company, 0, len(companies))
			for _, c := range companies {
				if !cursor.Done(c.ID, step.agentName) {
					pending = append(pending, c)
				}
			}
			if len(pending) == 0 {
				continue
			}
			for _, batch := range chunk(pending, o.CheckpointInterval()) {
				updated := runEnrichmentPass(ctx, exec, o, step.agentName, batch, directory, timeout)
				byID := make(map[string]model.Company, len(updated))
				for _, c := range updated {
					byID[c.ID] = c
					cursor.MarkDone(c.ID, step.agentName)
				}
				for i, c := range companies {
					if u, ok := byID[c.ID]; ok {
						companies[i] = u
					}
				}
				o.SaveCursor(&cursor)
				ran += len(updated)
			}
		}

		return "enriched " + strconv.Itoa(len(companies)) + " companies across " + strconv.Itoa(ran) + " step invocations", nil
	}
}

// stepSelected reports whether name was requested, treating an empty
// selection or the literal "all" as selecting every step.
func stepSelected(steps []string, name string) bool {
	if len(steps) == 0 {
		return true
	}
	for _, s := range steps {
		if s == "all" || s == name {
			return true
		}
	}
	return false
}

func runEnrichmentPass(ctx context.Context, exec *executor.Executor, o *orchestrator.Orchestrator, agentName string, companies []model.Company, directory []notion.AssociationRow, timeout time.Duration) []model.Company {
	tasks := make([]model.AgentTask, len(companies))
	for i, c := range companies {
		payload, _ := json.Marshal(EnrichTaskInput{Company: c, Directory: directory})
		tasks[i] = model.AgentTask{AgentType: agentName, Payload: payload}
	}

	results := exec.SpawnParallel(ctx, agentName, tasks, o.MaxConcurrent(), timeout)

	updated := make([]model.Company, 0, len(companies))
	for i, r := range results {
		if r.Err != nil {
			updated = append(updated, companies[i])
			continue
		}
		var out EnrichOutput
		if err := json.Unmarshal(r.Result.Output, &out); err != nil {
			updated = append(updated, companies[i])
			continue
		}
		updated = append(updated, out.Company)
	}
	orchestrator.MergeDelta(o, o.State().Companies, model.AgentDelta[model.Company]{UpdatedByID: updated})
	return updated
}
