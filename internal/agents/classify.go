package agents

import (
	"context"
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

// PageClassifier assigns a page type and recommended extractor to an
// already-fetched page by lightweight content heuristics, grounded on
// the teacher's classify.go keyword-scored router (no ML classifier in
// the corpus, so this stays a heuristic pass exactly as the teacher's
// does). It never fetches: Discovery already paid for that request and
// cached the body on the page's PageSnapshot, so Classification only
// annotates the existing record.
type PageClassifier struct{ deps Deps }

// ClassifyTaskInput carries the body Discovery already fetched for one
// queued URL, so Classification never re-requests it.
type ClassifyTaskInput struct {
	URL         string `json:"url"`
	BodyExcerpt string `json:"body_excerpt"`
}

// ClassifyOutput is the annotation PageClassifier adds to an existing
// PageSnapshot; the handler merges it in rather than replacing the
// snapshot Discovery already populated.
type ClassifyOutput struct {
	PageType             string `json:"page_type"`
	RecommendedExtractor string `json:"recommended_extractor"`
	RequiresAuth         bool   `json:"requires_auth"`
}

func (a *PageClassifier) Name() string           { return "classification.classifier" }
func (a *PageClassifier) InputSchemaID() string  { return "classification.task.v1" }
func (a *PageClassifier) OutputSchemaID() string { return "classification.output.v1" }
func (a *PageClassifier) RequiredCapabilities() []agent.Capability {
	return []agent.Capability{}
}

var classifierKeywords = map[string][]string{
	"event":      {"conference", "summit", "registration", "agenda", "keynote"},
	"member":     {"member directory", "our members", "member list"},
	"news":       {"press release", "newsroom", "announcement"},
	"leadership": {"board of directors", "executive team", "leadership"},
}

func (a *PageClassifier) Execute(ctx context.Context, task model.AgentTask) (model.AgentResult, error) {
	var in ClassifyTaskInput
	if err := json.Unmarshal(task.Payload, &in); err != nil {
		return model.AgentResult{}, err
	}

	out := ClassifyOutput{PageType: "unstructured", RecommendedExtractor: "extraction.llm_fallback"}
	if in.BodyExcerpt != "" {
		out.PageType, out.RecommendedExtractor = classifyContent(in.BodyExcerpt)
		out.RequiresAuth = strings.Contains(strings.ToLower(in.BodyExcerpt), "please log in")
	}

	payload, err := json.Marshal(out)
	if err != nil {
		return model.AgentResult{}, err
	}
	return model.AgentResult{Success: true, Output: payload}, nil
}

// classifyContent scores lowercase body text against keyword sets and
// picks the best match, defaulting to "unstructured" (routed to the LLM
// fallback extractor) when nothing scores.
func classifyContent(body string) (pageType, extractor string) {
	lower := strings.ToLower(body)
	best := ""
	bestScore := 0
	for kind, keywords := range classifierKeywords {
		score := 0
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			best = kind
		}
	}
	if best == "" {
		return "unstructured", "extraction.llm_fallback"
	}
	return best, "extraction.selector"
}

// NewClassificationHandler builds the PhaseHandler that classifies every
// crawl-queue URL not yet recorded in the phase's PageProgressCursor, in
// batches of o.CheckpointInterval().
func NewClassificationHandler(exec *executor.Executor, timeout time.Duration) orchestrator.PhaseHandler {
	return func(ctx context.Context, o *orchestrator.Orchestrator) (string, error) {
		urls := o.State().CrawlQueue.Items()
		if len(urls) == 0 {
			return "no queued urls", nil
		}

		var cursor checkpoint.PageProgressCursor
		o.LoadCursor(&cursor)
		processed := map[string]bool{}
		for _, id := range cursor.ProcessedPageIDs {
			processed[id] = true
		}
		pending := make([]model.CrawlQueueItem, 0, len(urls))
		for _, item := range urls {
			if !processed[item.URL] {
				pending = append(pending, item)
			}
		}
		if len(pending) == 0 {
			return "classified 0 pages, all " + strconv.Itoa(len(urls)) + " queued urls already classified", nil
		}

		snapshotByURL := make(map[string]model.PageSnapshot, len(urls))
		for _, p := range o.State().Pages.Items() {
			snapshotByURL[p.URL] = p
		}

		classified := 0
		for _, batch := range chunk(pending, o.CheckpointInterval()) {
			tasks := make([]model.AgentTask, len(batch))
			for i, item := range batch {
				payload, _ := json.Marshal(ClassifyTaskInput{URL: item.URL, BodyExcerpt: snapshotByURL[item.URL].BodyExcerpt})
				tasks[i] = model.AgentTask{AgentType: "classification.classifier", Payload: payload}
			}

			results := exec.SpawnParallel(ctx, "classification.classifier", tasks, o.MaxConcurrent(), timeout)

			for i, r := range results {
				if r.Err != nil {
					continue
				}
				var out ClassifyOutput
				if err := json.Unmarshal(r.Result.Output, &out); err != nil {
					continue
				}
				snap := snapshotByURL[batch[i].URL]
				snap.URL = batch[i].URL
				snap.PageType = out.PageType
				snap.RecommendedExtractor = out.RecommendedExtractor
				snap.RequiresAuth = out.RequiresAuth
				orchestrator.MergeDelta(o, o.State().Pages, model.AgentDelta[model.PageSnapshot]{UpdatedByID: []model.PageSnapshot{snap}})
				cursor.ProcessedPageIDs = append(cursor.ProcessedPageIDs, batch[i].URL)
				classified++
			}
			o.SaveCursor(&cursor)
		}
		o.IncrementCounters(0, int64(classified), 0, 0)

		return "classified " + strconv.Itoa(classified) + " pages", nil
	}
}
