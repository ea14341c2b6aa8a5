package agents

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/htmlindex"

	"github.com/originpath/assocpipeline/internal/agent"
	"github.com/originpath/assocpipeline/internal/checkpoint"
	"github.com/originpath/assocpipeline/internal/executor"
	"github.com/originpath/assocpipeline/internal/model"
	"github.com/originpath/assocpipeline/internal/orchestrator"
	"github.com/originpath/assocpipeline/internal/policy"
	"github.com/originpath/assocpipeline/pkg/anthropic"
)

// ExtractTaskInput names one classified page to extract company records
// from.
type ExtractTaskInput struct {
	URL      string `json:"url"`
	PageType string `json:"page_type"`
}

// ExtractOutput is the extractor's proposed additions.
type ExtractOutput struct {
	Companies []model.Company `json:"companies"`
}

// SelectorExtractor pulls company mentions from member-directory-shaped
// pages using a fixed pattern (an absolute hyperlink whose text is the
// company name and whose href is the company's website),
// grounded on the teacher's tiered Tier-1/Tier-2 selector extraction
// before falling back to the LLM tier.
type SelectorExtractor struct{ deps Deps }

func (a *SelectorExtractor) Name() string           { return "extraction.selector" }
func (a *SelectorExtractor) InputSchemaID() string  { return "extraction.task.v1" }
func (a *SelectorExtractor) OutputSchemaID() string { return "extraction.output.v1" }
func (a *SelectorExtractor) RequiredCapabilities() []agent.Capability {
	return []agent.Capability{agent.CapabilityNetwork}
}

var memberLinkPattern = regexp.MustCompile(`<a[^>]+href="(https?://[^"]+)"[^>]*>([^<]{2,80})</a>`)

func (a *SelectorExtractor) Execute(ctx context.Context, task model.AgentTask) (model.AgentResult, error) {
	var in ExtractTaskInput
	if err := json.Unmarshal(task.Payload, &in); err != nil {
		return model.AgentResult{}, err
	}

	if a.deps.HTTP == nil {
		return marshalExtractOutput(nil)
	}
	body, err := a.deps.HTTP.Get(ctx, in.URL)
	if err != nil {
		return model.AgentResult{}, err
	}
	defer body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(body, 512*1024))
	if err != nil {
		return model.AgentResult{}, err
	}

	now := time.Now()
	var companies []model.Company
	for _, m := range memberLinkPattern.FindAllStringSubmatch(decodeHTML(raw), -1) {
		name := strings.TrimSpace(m[2])
		domain := m[1]
		if name == "" {
			continue
		}
		companies = append(companies, model.Company{
			ID:     companyID(domain, name),
			Name:   name,
			Domain: domain,
			Provenance: []model.ProvenanceEntry{{
				SourceURL: in.URL, ExtractedAt: now, ExtractedBy: a.Name(),
			}},
		})
	}
	return marshalExtractOutput(companies)
}

func marshalExtractOutput(companies []model.Company) (model.AgentResult, error) {
	payload, err := json.Marshal(ExtractOutput{Companies: companies})
	if err != nil {
		return model.AgentResult{}, err
	}
	return model.AgentResult{Success: true, Output: payload}, nil
}

func companyID(domain, name string) string {
	sum := sha1.Sum([]byte(strings.ToLower(domain + "|" + name)))
	return hex.EncodeToString(sum[:])
}

var metaCharsetPattern = regexp.MustCompile(`(?i)<meta[^>]+charset=["']?([a-zA-Z0-9_-]+)`)

// decodeHTML re-decodes raw page bytes to UTF-8 when a <meta charset>
// declares something other than UTF-8, so member names that use
// legacy encodings (some older association sites still declare
// windows-1252 or iso-8859-1) survive extraction intact.
func decodeHTML(raw []byte) string {
	m := metaCharsetPattern.FindSubmatch(raw)
	if m == nil {
		return string(raw)
	}
	charset := strings.ToLower(string(m[1]))
	if charset == "" || charset == "utf-8" || charset == "utf8" {
		return string(raw)
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return string(raw)
	}
	decoded, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(decoded)
}

// LLMExtractor is the fallback path for pages the selector extractor
// can't parse (page_type "unstructured"): it sends the page text to the
// configured model with a schema-derived instruction and decodes the
// reply as a company list.
type LLMExtractor struct{ deps Deps }

const extractionSystemPrompt = `Extract every distinct organization mentioned on this page as a JSON array of objects with "name" and "domain" fields. Respond with only the JSON array, no prose.`

func (a *LLMExtractor) Name() string           { return "extraction.llm_fallback" }
func (a *LLMExtractor) InputSchemaID() string  { return "extraction.task.v1" }
func (a *LLMExtractor) OutputSchemaID() string { return "extraction.output.v1" }
func (a *LLMExtractor) RequiredCapabilities() []agent.Capability {
	return []agent.Capability{agent.CapabilityNetwork}
}

func (a *LLMExtractor) Execute(ctx context.Context, task model.AgentTask) (model.AgentResult, error) {
	var in ExtractTaskInput
	if err := json.Unmarshal(task.Payload, &in); err != nil {
		return model.AgentResult{}, err
	}
	if a.deps.HTTP == nil || a.deps.Anthropic == nil {
		return marshalExtractOutput(nil)
	}

	body, err := a.deps.HTTP.Get(ctx, in.URL)
	if err != nil {
		return model.AgentResult{}, err
	}
	defer body.Close() //nolint:errcheck
	raw, err := io.ReadAll(io.LimitReader(body, 128*1024))
	if err != nil {
		return model.AgentResult{}, err
	}

	var parsed []struct {
		Name   string `json:"name"`
		Domain string `json:"domain"`
	}
	usage, err := anthropic.ExtractJSON(ctx, a.deps.Anthropic, "claude-3-5-sonnet-20241022", extractionSystemPrompt, decodeHTML(raw), 2048, &parsed)
	if err != nil {
		return model.AgentResult{}, err
	}
	usage.LogCost("claude-3-5-sonnet-20241022", "extraction")

	now := time.Now()
	companies := make([]model.Company, 0, len(parsed))
	for _, p := range parsed {
		if p.Name == "" {
			continue
		}
		companies = append(companies, model.Company{
			ID:     companyID(p.Domain, p.Name),
			Name:   p.Name,
			Domain: p.Domain,
			Provenance: []model.ProvenanceEntry{{
				SourceURL: in.URL, ExtractedAt: now, ExtractedBy: a.Name(),
			}},
		})
	}
	return marshalExtractOutput(companies)
}

// NewExtractionHandler builds the PhaseHandler that routes every
// classified page to selector or LLM extraction per its
// RecommendedExtractor, and merges the resulting companies.
func NewExtractionHandler(exec *executor.Executor, timeout time.Duration) orchestrator.PhaseHandler {
	return func(ctx context.Context, o *orchestrator.Orchestrator) (string, error) {
		pages := o.State().Pages.Items()
		if len(pages) == 0 {
			return "no classified pages", nil
		}

		var cursor checkpoint.PageProgressCursor
		o.LoadCursor(&cursor)
		processed := map[string]bool{}
		for _, id := range cursor.ProcessedPageIDs {
			processed[id] = true
		}

		byAgent := map[string][]model.AgentTask{}
		pageByAgent := map[string][]model.PageSnapshot{}
		skippedAuth := 0
		for _, p := range pages {
			if processed[p.URL] {
				continue
			}
			if violations := policy.CheckAuthFlagging(p, true); len(violations) > 0 {
				policy.RecordViolations(violations)
				skippedAuth++
				cursor.ProcessedPageIDs = append(cursor.ProcessedPageIDs, p.URL)
				continue
			}
			extractorName := p.RecommendedExtractor
			if extractorName == "" {
				extractorName = "extraction.selector"
			}
			payload, _ := json.Marshal(ExtractTaskInput{URL: p.URL, PageType: p.PageType})
			byAgent[extractorName] = append(byAgent[extractorName], model.AgentTask{AgentType: extractorName, Payload: payload})
			pageByAgent[extractorName] = append(pageByAgent[extractorName], p)
		}

		total, rejected := 0, 0
		for agentName, tasks := range byAgent {
			agentPages := pageByAgent[agentName]
			for _, idxBatch := range chunk(indexRange(len(tasks)), o.CheckpointInterval()) {
				batchTasks := make([]model.AgentTask, len(idxBatch))
				for j, idx := range idxBatch {
					batchTasks[j] = tasks[idx]
				}
				results := exec.SpawnParallel(ctx, agentName, batchTasks, o.MaxConcurrent(), timeout)
				for j, r := range results {
					cursor.ProcessedPageIDs = append(cursor.ProcessedPageIDs, agentPages[idxBatch[j]].URL)
					if r.Err != nil {
						continue
					}
					var out ExtractOutput
					if err := json.Unmarshal(r.Result.Output, &out); err != nil {
						continue
					}
					accepted := make([]model.Company, 0, len(out.Companies))
					for _, c := range out.Companies {
						violations := policy.CheckProvenance(agentName, []model.Company{c}, func(c model.Company) []model.ProvenanceEntry { return c.Provenance })
						if len(violations) > 0 {
							policy.RecordViolations(violations)
							rejected++
							continue
						}
						accepted = append(accepted, c)
					}
					orchestrator.MergeDelta(o, o.State().Companies, model.AgentDelta[model.Company]{NewRecords: accepted})
					total += len(accepted)
				}
				o.SaveCursor(&cursor)
			}
		}
		o.IncrementCounters(0, 0, int64(total), 0)

		return "extracted " + strconv.Itoa(total) + " companies (" + strconv.Itoa(rejected) + " rejected on provenance, " + strconv.Itoa(skippedAuth) + " pages skipped as auth-required)", nil
	}
}
