package agents

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/agext/levenshtein"
	"golang.org/x/text/unicode/norm"

	"github.com/originpath/assocpipeline/internal/agent"
	"github.com/originpath/assocpipeline/internal/checkpoint"
	"github.com/originpath/assocpipeline/internal/executor"
	"github.com/originpath/assocpipeline/internal/model"
	"github.com/originpath/assocpipeline/internal/orchestrator"
	"github.com/originpath/assocpipeline/internal/schema"
	"github.com/originpath/assocpipeline/pkg/notion"
)

// ValidateTaskInput carries one company through the Contract Validator.
// Directory is attached to every crossref and score task; only Crossref
// reads it, and schema-checker tasks carry none.
type ValidateTaskInput struct {
	Company   model.Company           `json:"company"`
	Directory []notion.AssociationRow `json:"directory,omitempty"`
}

// ValidateOutput reports one company's validation diagnostics; Valid
// mirrors len(Diagnostics) == 0 for callers that only need the verdict.
type ValidateOutput struct {
	Company     model.Company       `json:"company"`
	Valid       bool                `json:"valid"`
	Diagnostics []schema.Diagnostic `json:"diagnostics,omitempty"`
}

// SchemaChecker validates every extracted-and-enriched company against
// the registered company schema, grounded on the teacher's contract
// gate that runs before a record is allowed into the funnel proper.
type SchemaChecker struct{ deps Deps }

const companySchemaID = "model.company.v1"

func (a *SchemaChecker) Name() string           { return "validation.schema_checker" }
func (a *SchemaChecker) InputSchemaID() string  { return "validation.task.v1" }
func (a *SchemaChecker) OutputSchemaID() string { return "validation.output.v1" }
func (a *SchemaChecker) RequiredCapabilities() []agent.Capability {
	return []agent.Capability{}
}

func (a *SchemaChecker) Execute(ctx context.Context, task model.AgentTask) (model.AgentResult, error) {
	var in ValidateTaskInput
	if err := json.Unmarshal(task.Payload, &in); err != nil {
		return model.AgentResult{}, err
	}

	out := ValidateOutput{Company: in.Company, Valid: true}
	if a.deps.Schemas != nil {
		raw, err := json.Marshal(in.Company)
		if err != nil {
			return model.AgentResult{}, err
		}
		var candidate map[string]any
		if err := json.Unmarshal(raw, &candidate); err != nil {
			return model.AgentResult{}, err
		}
		if _, ok := a.deps.Schemas.Get(companySchemaID); ok {
			valid, diags := a.deps.Schemas.Validate(companySchemaID, candidate)
			out.Valid = valid
			out.Diagnostics = diags
		}
	}

	payload, err := json.Marshal(out)
	if err != nil {
		return model.AgentResult{}, err
	}
	if !out.Valid {
		mode := schema.ModeSoft
		if a.deps.Config != nil && a.deps.Config.Pipeline.SchemaMode == string(schema.ModeStrict) {
			mode = schema.ModeStrict
		}
		if err := executor.ClassifyValidation(out.Diagnostics, companySchemaID, mode); err != nil {
			return model.AgentResult{Success: false, Output: payload, Errors: diagMessages(out.Diagnostics)}, err
		}
	}
	return model.AgentResult{Success: true, Output: payload}, nil
}

func diagMessages(diags []schema.Diagnostic) []string {
	msgs := make([]string, len(diags))
	for i, d := range diags {
		msgs[i] = d.String()
	}
	return msgs
}

// Deduper stands for duplicate detection in the agent registry; the
// merging itself is done by DedupeCompanies by normalized-name edit
// distance, whatever the companies' domains, grounded on the
// teacher's account-matching step that treats close name variants
// ("Acme Inc" vs "Acme, Incorporated") as one account before export.
type Deduper struct{ deps Deps }

func (a *Deduper) Name() string           { return "validation.deduper" }
func (a *Deduper) InputSchemaID() string  { return "validation.task.v1" }
func (a *Deduper) OutputSchemaID() string { return "validation.output.v1" }
func (a *Deduper) RequiredCapabilities() []agent.Capability {
	return []agent.Capability{}
}

// Execute is a no-op per-record pass: Deduper's real work happens across
// the whole batch in DedupeCompanies, called directly by the validation
// PhaseHandler since duplicate detection is inherently pairwise.
func (a *Deduper) Execute(ctx context.Context, task model.AgentTask) (model.AgentResult, error) {
	var in ValidateTaskInput
	if err := json.Unmarshal(task.Payload, &in); err != nil {
		return model.AgentResult{}, err
	}
	payload, err := json.Marshal(ValidateOutput{Company: in.Company, Valid: true})
	if err != nil {
		return model.AgentResult{}, err
	}
	return model.AgentResult{Success: true, Output: payload}, nil
}

const duplicateNameSimilarity = 0.88

// DedupeCompanies clusters companies whose normalized names are near
// matches (Levenshtein similarity ratio at or above duplicateNameSimilarity)
// and keeps the first-seen record from each cluster, folding the rest's
// provenance into it.
func DedupeCompanies(companies []model.Company) []model.Company {
	kept := make([]model.Company, 0, len(companies))
	normalized := make([]string, 0, len(companies))

	for _, c := range companies {
		norm := normalizeCompanyName(c.Name)
		merged := false
		for i, existingNorm := range normalized {
			if norm == existingNorm || levenshtein.Match(norm, existingNorm, nil) >= duplicateNameSimilarity {
				kept[i].Provenance = append(kept[i].Provenance, c.Provenance...)
				merged = true
				break
			}
		}
		if !merged {
			kept = append(kept, c)
			normalized = append(normalized, norm)
		}
	}
	return kept
}

// normalizeCompanyName folds accents and case before comparing names,
// so "Café Corp" and "Cafe Corp" cluster as the same duplicate even
// though a byte-for-byte comparison would treat them as distinct.
func normalizeCompanyName(name string) string {
	folded := norm.NFKD.String(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range folded {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	lower := strings.ToLower(b.String())
	for _, suffix := range []string{", inc.", ", inc", " inc.", " inc", ", incorporated", " incorporated", ", llc", " llc", ", ltd", " ltd", ", corp.", " corp."} {
		lower = strings.TrimSuffix(lower, suffix)
	}
	return strings.Join(strings.Fields(lower), " ")
}

// Crossref re-checks a company against the Notion association directory
// after dedupe has settled the record set, grounded on the teacher's
// second-pass account cross-reference that catches domain matches the
// first firmographic sweep missed because the record hadn't merged with
// its duplicate cluster yet.
type Crossref struct{ deps Deps }

func (a *Crossref) Name() string           { return "validation.crossref" }
func (a *Crossref) InputSchemaID() string  { return "validation.task.v1" }
func (a *Crossref) OutputSchemaID() string { return "validation.output.v1" }
func (a *Crossref) RequiredCapabilities() []agent.Capability {
	return []agent.Capability{}
}

func (a *Crossref) Execute(ctx context.Context, task model.AgentTask) (model.AgentResult, error) {
	var in ValidateTaskInput
	if err := json.Unmarshal(task.Payload, &in); err != nil {
		return model.AgentResult{}, err
	}
	company := in.Company
	if company.Fields == nil {
		company.Fields = map[string]any{}
	}

	matched := false
	for _, row := range in.Directory {
		if row.Domain == "" || company.Domain == "" {
			continue
		}
		if strings.EqualFold(domainHost(row.Domain), domainHost(company.Domain)) {
			matched = true
			break
		}
	}
	company.Fields["crossref_matched"] = matched

	payload, err := json.Marshal(ValidateOutput{Company: company, Valid: true})
	if err != nil {
		return model.AgentResult{}, err
	}
	return model.AgentResult{Success: true, Output: payload}, nil
}

// requiredCompletenessFields lists the company fields Scorer checks for
// presence when computing completeness_score.
var requiredCompletenessFields = []string{"industries", "tech_stack", "contacts", "association_member"}

// Scorer computes a simple completeness score for a validated company,
// grounded on the teacher's lead-quality score stamped onto an account
// before it's handed to sales so reps can triage by how much is known
// about a lead.
type Scorer struct{ deps Deps }

func (a *Scorer) Name() string           { return "validation.scorer" }
func (a *Scorer) InputSchemaID() string  { return "validation.task.v1" }
func (a *Scorer) OutputSchemaID() string { return "validation.output.v1" }
func (a *Scorer) RequiredCapabilities() []agent.Capability {
	return []agent.Capability{}
}

func (a *Scorer) Execute(ctx context.Context, task model.AgentTask) (model.AgentResult, error) {
	var in ValidateTaskInput
	if err := json.Unmarshal(task.Payload, &in); err != nil {
		return model.AgentResult{}, err
	}
	company := in.Company
	if company.Fields == nil {
		company.Fields = map[string]any{}
	}

	present := 0
	for _, field := range requiredCompletenessFields {
		if v, ok := company.Fields[field]; ok && v != nil {
			present++
		}
	}
	if company.Name != "" {
		present++
	}
	if company.Domain != "" {
		present++
	}
	total := len(requiredCompletenessFields) + 2
	company.Fields["completeness_score"] = float64(present) / float64(total)

	payload, err := json.Marshal(ValidateOutput{Company: company, Valid: true})
	if err != nil {
		return model.AgentResult{}, err
	}
	return model.AgentResult{Success: true, Output: payload}, nil
}

// validationStepOrder is the fixed sequence validation sub-steps run
// in, named exactly as the flag values --validation accepts.
var validationStepOrder = []struct {
	flag      string
	agentName string
}{
	{"dedupe", ""},
	{"crossref", "validation.crossref"},
	{"score", "validation.scorer"},
}

// validationCursorDone reports whether name is already recorded in
// cursor.CompletedSteps.
func validationCursorDone(cursor checkpoint.ValidationCursor, name string) bool {
	for _, s := range cursor.CompletedSteps {
		if s == name {
			return true
		}
	}
	return false
}

// NewValidationHandler builds the PhaseHandler that runs the schema
// checker over every company, drops every company that fails it (in
// either enforcement mode), then runs the fixed dedupe -> crossref ->
// score sequence over the survivors. steps selects which stages run
// ("dedupe", "crossref", "score", or "all"). On resume, crossref and
// score are skipped when already recorded in the phase's
// ValidationCursor, since each operates over the whole surviving batch
// rather than per-company; dedupe always reruns.
func NewValidationHandler(exec *executor.Executor, deps Deps, notionDatabaseID string, steps []string, timeout time.Duration) orchestrator.PhaseHandler {
	return func(ctx context.Context, o *orchestrator.Orchestrator) (string, error) {
		companies := o.State().Companies.Items()
		if len(companies) == 0 {
			return "no companies to validate", nil
		}

		var cursor checkpoint.ValidationCursor
		o.LoadCursor(&cursor)

		tasks := make([]model.AgentTask, len(companies))
		for i, c := range companies {
			payload, _ := json.Marshal(ValidateTaskInput{Company: c})
			tasks[i] = model.AgentTask{AgentType: "validation.schema_checker", Payload: payload}
		}
		results := exec.SpawnParallel(ctx, "validation.schema_checker", tasks, o.MaxConcurrent(), timeout)

		valid := make([]model.Company, 0, len(companies))
		invalid := 0
		for i, r := range results {
			if r.Err != nil {
				invalid++
				continue
			}
			var out ValidateOutput
			if err := json.Unmarshal(r.Result.Output, &out); err != nil || !out.Valid {
				invalid++
				continue
			}
			valid = append(valid, companies[i])
		}

		var directory []notion.AssociationRow
		if stepSelected(steps, "crossref") && deps.Notion != nil && notionDatabaseID != "" {
			rows, err := notion.QueryActiveAssociations(ctx, deps.Notion, notionDatabaseID)
			if err == nil {
				directory = rows
			}
		}

		current := valid
		for _, step := range validationStepOrder {
			if !stepSelected(steps, step.flag) {
				continue
			}
			// dedupe is a cheap in-memory pass with nothing worth
			// checkpointing; only the network-bound crossref and the
			// scorer pass skip on a completed cursor.
			if step.flag != "dedupe" && validationCursorDone(cursor, step.flag) {
				continue
			}
			switch step.flag {
			case "dedupe":
				current = DedupeCompanies(current)
			default:
				current = runValidationPass(ctx, exec, o, step.agentName, current, directory, timeout)
			}
			cursor.CompletedSteps = append(cursor.CompletedSteps, step.flag)
			o.SaveCursor(&cursor)
		}
		orchestrator.MergeDelta(o, o.State().Companies, model.AgentDelta[model.Company]{UpdatedByID: current})

		return "validated " + strconv.Itoa(len(valid)) + " companies (" + strconv.Itoa(invalid) + " rejected), " + strconv.Itoa(len(current)) + " survived the full pipeline", nil
	}
}

func runValidationPass(ctx context.Context, exec *executor.Executor, o *orchestrator.Orchestrator, agentName string, companies []model.Company, directory []notion.AssociationRow, timeout time.Duration) []model.Company {
	tasks := make([]model.AgentTask, len(companies))
	for i, c := range companies {
		payload, _ := json.Marshal(ValidateTaskInput{Company: c, Directory: directory})
		tasks[i] = model.AgentTask{AgentType: agentName, Payload: payload}
	}

	results := exec.SpawnParallel(ctx, agentName, tasks, o.MaxConcurrent(), timeout)

	updated := make([]model.Company, 0, len(companies))
	for i, r := range results {
		if r.Err != nil {
			updated = append(updated, companies[i])
			continue
		}
		var out ValidateOutput
		if err := json.Unmarshal(r.Result.Output, &out); err != nil {
			updated = append(updated, companies[i])
			continue
		}
		updated = append(updated, out.Company)
	}
	return updated
}
