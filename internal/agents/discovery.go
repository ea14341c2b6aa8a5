package agents

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"

	"github.com/originpath/assocpipeline/internal/agent"
	"github.com/originpath/assocpipeline/internal/checkpoint"
	"github.com/originpath/assocpipeline/internal/executor"
	"github.com/originpath/assocpipeline/internal/model"
	"github.com/originpath/assocpipeline/internal/orchestrator"
)

// SiteMapper discovers same-host links from a seed URL up to a page
// budget, grounded on the teacher's LocalCrawler.DiscoverLinks breadth
// walk (sitemap seeding plus href extraction), simplified to a single
// synchronous pass since fan-out across seeds is already handled by the
// phase handler's SpawnParallel.
type SiteMapper struct{ deps Deps }

// DiscoveryTaskInput names one seed to crawl.
type DiscoveryTaskInput struct {
	SeedURL  string `json:"seed_url"`
	MaxPages int    `json:"max_pages"`
}

// DiscoveryOutput is a SiteMapper's proposed additions to the crawl
// queue, visited set, and fetched-page snapshots. Pages is populated
// here rather than left to Classification, since Discovery already
// paid for the fetch to extract links.
type DiscoveryOutput struct {
	Queue   []model.CrawlQueueItem `json:"queue"`
	Visited []model.VisitedURL     `json:"visited"`
	Pages   []model.PageSnapshot   `json:"pages"`
}

// bodyExcerptLimit bounds how much of a fetched page's body is cached
// on its PageSnapshot for Classification's keyword scoring, matching
// the corpus's other bounded-read limits (robots.txt uses 64KB).
const bodyExcerptLimit = 64 * 1024

func (a *SiteMapper) Name() string           { return "discovery.site_mapper" }
func (a *SiteMapper) InputSchemaID() string  { return "discovery.task.v1" }
func (a *SiteMapper) OutputSchemaID() string { return "discovery.output.v1" }
func (a *SiteMapper) RequiredCapabilities() []agent.Capability {
	return []agent.Capability{agent.CapabilityNetwork}
}

func (a *SiteMapper) Execute(ctx context.Context, task model.AgentTask) (model.AgentResult, error) {
	var in DiscoveryTaskInput
	if err := json.Unmarshal(task.Payload, &in); err != nil {
		return model.AgentResult{}, err
	}
	if in.MaxPages <= 0 {
		in.MaxPages = 100
	}

	base, err := url.Parse(in.SeedURL)
	if err != nil {
		return model.AgentResult{}, err
	}

	seen := map[string]bool{in.SeedURL: true}
	queue := []string{in.SeedURL}
	var out DiscoveryOutput
	now := time.Now()

	for len(queue) > 0 && len(out.Queue) < in.MaxPages {
		next := queue[0]
		queue = queue[1:]

		out.Queue = append(out.Queue, model.CrawlQueueItem{
			URL: next, Host: base.Host, EnqueuedAt: now,
		})
		out.Visited = append(out.Visited, model.VisitedURL{URL: next, FetchedAt: now})

		body, statusCode, err := fetchBody(ctx, a.deps.HTTP, next)
		if err != nil {
			out.Pages = append(out.Pages, model.PageSnapshot{URL: next, FetchedAt: now, StatusCode: statusCode})
			continue
		}
		sum := sha256.Sum256(body)
		excerpt := body
		if len(excerpt) > bodyExcerptLimit {
			excerpt = excerpt[:bodyExcerptLimit]
		}
		out.Pages = append(out.Pages, model.PageSnapshot{
			URL:         next,
			FetchedAt:   now,
			StatusCode:  statusCode,
			ContentHash: hex.EncodeToString(sum[:]),
			BodyExcerpt: string(excerpt),
		})

		for _, link := range parseHrefs(string(body), base) {
			if seen[link] || len(seen) >= in.MaxPages {
				continue
			}
			seen[link] = true
			queue = append(queue, link)
		}
	}

	payload, err := json.Marshal(out)
	if err != nil {
		return model.AgentResult{}, err
	}
	return model.AgentResult{Success: true, Output: payload}, nil
}

// fetchBody fetches rawURL once and returns its body, reused by the
// caller both to build the page's PageSnapshot and to extract links,
// so a single page never costs more than one request during Discovery.
func fetchBody(ctx context.Context, http httpGetter, rawURL string) ([]byte, int, error) {
	if http == nil {
		return nil, 0, eris.New("discovery: no http client configured")
	}
	body, err := http.Get(ctx, rawURL)
	if err != nil {
		return nil, 0, err
	}
	defer body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(body, 512*1024))
	if err != nil {
		return nil, 0, err
	}
	return raw, 200, nil
}

// parseHrefs does a simple extraction of href attributes from HTML,
// resolving relative links and keeping only same-host results.
func parseHrefs(html string, base *url.URL) []string {
	var links []string
	seen := make(map[string]bool)
	idx := 0
	for {
		pos := strings.Index(html[idx:], "href=\"")
		if pos == -1 {
			break
		}
		idx += pos + 6
		end := strings.Index(html[idx:], "\"")
		if end == -1 {
			break
		}
		href := html[idx : idx+end]
		idx += end + 1

		if strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
			continue
		}
		resolved, err := url.Parse(href)
		if err != nil {
			continue
		}
		absolute := base.ResolveReference(resolved)
		if absolute.Host != base.Host {
			continue
		}
		absolute.Fragment = ""
		normalized := absolute.String()
		if !seen[normalized] {
			seen[normalized] = true
			links = append(links, normalized)
		}
	}
	return links
}

// FTPMapper discovers files published over anonymous FTP by listing the
// seed URL's directory, for association source groups that ship state
// filing indices over FTP instead of HTTP. Grounded on the teacher's
// FTPFetcher connect/login/quit sequence, adapted from a single-file
// download to a directory listing.
type FTPMapper struct{ deps Deps }

func (a *FTPMapper) Name() string           { return "discovery.ftp_mapper" }
func (a *FTPMapper) InputSchemaID() string  { return "discovery.task.v1" }
func (a *FTPMapper) OutputSchemaID() string { return "discovery.output.v1" }
func (a *FTPMapper) RequiredCapabilities() []agent.Capability {
	return []agent.Capability{agent.CapabilityNetwork}
}

func (a *FTPMapper) Execute(ctx context.Context, task model.AgentTask) (model.AgentResult, error) {
	var in DiscoveryTaskInput
	if err := json.Unmarshal(task.Payload, &in); err != nil {
		return model.AgentResult{}, err
	}
	if in.MaxPages <= 0 {
		in.MaxPages = 100
	}

	u, err := url.Parse(in.SeedURL)
	if err != nil {
		return model.AgentResult{}, eris.Wrap(err, "ftp_mapper: parse seed url")
	}
	host := u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(30*time.Second), ftp.DialWithContext(ctx))
	if err != nil {
		return model.AgentResult{}, eris.Wrap(err, "ftp_mapper: dial")
	}
	defer conn.Quit() //nolint:errcheck

	if err := conn.Login("anonymous", "anonymous@"); err != nil {
		return model.AgentResult{}, eris.Wrap(err, "ftp_mapper: login")
	}

	entries, err := conn.List(u.Path)
	if err != nil {
		return model.AgentResult{}, eris.Wrap(err, "ftp_mapper: list")
	}

	now := time.Now()
	var out DiscoveryOutput
	for _, e := range entries {
		if e.Type != ftp.EntryTypeFile || len(out.Queue) >= in.MaxPages {
			continue
		}
		entryURL := u.Scheme + "://" + u.Host + strings.TrimSuffix(u.Path, "/") + "/" + e.Name
		out.Queue = append(out.Queue, model.CrawlQueueItem{URL: entryURL, Host: u.Host, EnqueuedAt: now})
		out.Visited = append(out.Visited, model.VisitedURL{URL: entryURL, FetchedAt: now})
		// FTP listings have no HTML body to classify; Classification
		// falls back to "unstructured" for these when BodyExcerpt is empty.
		out.Pages = append(out.Pages, model.PageSnapshot{URL: entryURL, FetchedAt: now, StatusCode: 226})
	}

	payload, err := json.Marshal(out)
	if err != nil {
		return model.AgentResult{}, err
	}
	return model.AgentResult{Success: true, Output: payload}, nil
}

// NewDiscoveryHandler builds the PhaseHandler that fans a discovery task
// out over every domain the Gatekeeper allowed, capping each crawl to
// cfg.Pipeline.MaxDiscoveryPages and routing ftp:// seeds to the FTP
// mapper instead of the HTTP site mapper.
func NewDiscoveryHandler(exec *executor.Executor, seeds []string, timeout time.Duration) orchestrator.PhaseHandler {
	return func(ctx context.Context, o *orchestrator.Orchestrator) (string, error) {
		allowed := allowedSeeds(o, seeds)
		if len(allowed) == 0 {
			return "no allowed seeds", nil
		}

		var cursor checkpoint.DiscoveryCursor
		o.LoadCursor(&cursor)
		seenSeed := map[string]bool{}
		for _, u := range cursor.SeenURLs {
			seenSeed[u] = true
		}
		pending := make([]string, 0, len(allowed))
		for _, s := range allowed {
			if !seenSeed[s] {
				pending = append(pending, s)
			}
		}
		if len(pending) == 0 {
			return "discovered 0 urls, all " + strconv.Itoa(len(allowed)) + " seeds already crawled", nil
		}

		maxPages := o.MaxDiscoveryPages()

		byAgent := map[string][]model.AgentTask{}
		seedsByAgent := map[string][]string{}
		for _, s := range pending {
			agentName := "discovery.site_mapper"
			if u, err := url.Parse(s); err == nil && u.Scheme == "ftp" {
				agentName = "discovery.ftp_mapper"
			}
			payload, _ := json.Marshal(DiscoveryTaskInput{SeedURL: s, MaxPages: maxPages})
			byAgent[agentName] = append(byAgent[agentName], model.AgentTask{AgentType: agentName, Payload: payload})
			seedsByAgent[agentName] = append(seedsByAgent[agentName], s)
		}

		var totalQueued int
		for agentName, tasks := range byAgent {
			seedsForAgent := seedsByAgent[agentName]
			for _, idxBatch := range chunk(indexRange(len(tasks)), o.CheckpointInterval()) {
				batchTasks := make([]model.AgentTask, len(idxBatch))
				for j, idx := range idxBatch {
					batchTasks[j] = tasks[idx]
				}
				results := exec.SpawnParallel(ctx, agentName, batchTasks, o.MaxConcurrent(), timeout)
				for j, r := range results {
					if r.Err != nil {
						continue
					}
					var out DiscoveryOutput
					if err := json.Unmarshal(r.Result.Output, &out); err != nil {
						continue
					}
					orchestrator.MergeDelta(o, o.State().CrawlQueue, model.AgentDelta[model.CrawlQueueItem]{NewRecords: out.Queue})
					orchestrator.MergeDelta(o, o.State().VisitedURLs, model.AgentDelta[model.VisitedURL]{NewRecords: out.Visited})
					orchestrator.MergeDelta(o, o.State().Pages, model.AgentDelta[model.PageSnapshot]{NewRecords: out.Pages})
					totalQueued += len(out.Queue)
					cursor.SeenURLs = append(cursor.SeenURLs, seedsForAgent[idxBatch[j]])
				}
				o.SaveCursor(&cursor)
			}
		}
		o.IncrementCounters(int64(totalQueued), 0, 0, 0)

		return "discovered " + strconv.Itoa(totalQueued) + " urls across " + strconv.Itoa(len(pending)) + " seeds", nil
	}
}

// allowedSeeds filters seeds to those whose host has no negative
// AccessVerdict recorded by the Gatekeeper phase.
func allowedSeeds(o *orchestrator.Orchestrator, seeds []string) []string {
	blocked := make(map[string]bool)
	for _, v := range o.State().AccessVerdicts.Items() {
		if !v.Allowed {
			blocked[v.Domain] = true
		}
	}
	var out []string
	for _, s := range seeds {
		u, err := url.Parse(s)
		if err != nil || !blocked[u.Host] {
			out = append(out, s)
		}
	}
	return out
}
