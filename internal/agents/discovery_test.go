package agents

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/originpath/assocpipeline/internal/httpcore"
	"github.com/originpath/assocpipeline/internal/model"
)

func TestParseHrefsResolvesRelativeLinksAndKeepsSameHost(t *testing.T) {
	base, err := url.Parse("https://assoc.example/members")
	require.NoError(t, err)

	html := `
		<a href="/members/acme">Acme</a>
		<a href="https://assoc.example/members/widget">Widget</a>
		<a href="https://other.example/members/nope">Nope</a>
		<a href="#top">Skip</a>
		<a href="mailto:info@assoc.example">Skip</a>
	`
	links := parseHrefs(html, base)
	assert.Contains(t, links, "https://assoc.example/members/acme")
	assert.Contains(t, links, "https://assoc.example/members/widget")
	assert.NotContains(t, links, "https://other.example/members/nope")
	assert.Len(t, links, 2)
}

func TestSiteMapperExecuteCrawlsWithinPageBudget(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			w.Write([]byte(`<a href="/page2">Page 2</a>`))
			return
		}
		w.Write([]byte(`<p>leaf</p>`))
	}))
	defer srv.Close()

	mapper := &SiteMapper{deps: Deps{HTTP: httpcore.New(httpcore.Options{})}}
	payload, err := json.Marshal(DiscoveryTaskInput{SeedURL: srv.URL + "/", MaxPages: 10})
	require.NoError(t, err)

	result, err := mapper.Execute(context.Background(), model.AgentTask{Payload: payload})
	require.NoError(t, err)
	require.True(t, result.Success)

	var out DiscoveryOutput
	require.NoError(t, json.Unmarshal(result.Output, &out))
	assert.Len(t, out.Queue, 2)
	assert.Len(t, out.Visited, 2)
	require.Len(t, out.Pages, 2)
	for _, p := range out.Pages {
		assert.Equal(t, 200, p.StatusCode)
		assert.NotEmpty(t, p.ContentHash)
		assert.NotEmpty(t, p.BodyExcerpt, "the same fetch used for link extraction must be cached for classification")
	}
}

func TestSiteMapperExecuteCachesFetchedBodyForClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Our member directory lists our members by state."))
	}))
	defer srv.Close()

	mapper := &SiteMapper{deps: Deps{HTTP: httpcore.New(httpcore.Options{})}}
	payload, err := json.Marshal(DiscoveryTaskInput{SeedURL: srv.URL + "/", MaxPages: 5})
	require.NoError(t, err)

	result, err := mapper.Execute(context.Background(), model.AgentTask{Payload: payload})
	require.NoError(t, err)

	var out DiscoveryOutput
	require.NoError(t, json.Unmarshal(result.Output, &out))
	require.Len(t, out.Pages, 1)
	assert.Contains(t, out.Pages[0].BodyExcerpt, "member directory")
}

func TestAllowedSeedsFiltersBlockedDomains(t *testing.T) {
	_, o := newAgentTestFixture(t, Deps{})
	o.State().AccessVerdicts.Upsert(model.AccessVerdict{Domain: "blocked.example", Allowed: false})

	seeds := []string{"https://blocked.example/members", "https://ok.example/members"}
	allowed := allowedSeeds(o, seeds)
	assert.Equal(t, []string{"https://ok.example/members"}, allowed)
}

func TestFTPMapperExecuteFailsOnUnreachableHost(t *testing.T) {
	mapper := &FTPMapper{deps: Deps{}}
	payload, err := json.Marshal(DiscoveryTaskInput{SeedURL: "ftp://127.0.0.1:1/filings", MaxPages: 10})
	require.NoError(t, err)

	_, err = mapper.Execute(context.Background(), model.AgentTask{Payload: payload})
	assert.Error(t, err)
}

func TestFTPMapperExecuteWithInvalidSeedURLReturnsParseError(t *testing.T) {
	mapper := &FTPMapper{deps: Deps{}}
	payload, err := json.Marshal(DiscoveryTaskInput{SeedURL: "://not-a-url", MaxPages: 10})
	require.NoError(t, err)

	_, err = mapper.Execute(context.Background(), model.AgentTask{Payload: payload})
	assert.Error(t, err)
}

func TestNewDiscoveryHandlerRoutesFTPSeedsToFTPMapper(t *testing.T) {
	exec, o := newAgentTestFixture(t, Deps{})

	handler := NewDiscoveryHandler(exec, []string{"ftp://127.0.0.1:1/filings"}, time.Second)
	outcome, err := handler(context.Background(), o)
	require.NoError(t, err)
	assert.Contains(t, outcome, "discovered 0 urls across 1 seeds")
}

func TestNewDiscoveryHandlerRoutesHTTPSeedsToSiteMapper(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<p>leaf</p>`))
	}))
	defer srv.Close()

	deps := Deps{HTTP: httpcore.New(httpcore.Options{})}
	exec, o := newAgentTestFixture(t, deps)

	handler := NewDiscoveryHandler(exec, []string{srv.URL}, time.Second)
	outcome, err := handler(context.Background(), o)
	require.NoError(t, err)
	assert.Contains(t, outcome, "discovered 1 urls across 1 seeds")
	assert.Equal(t, 1, o.State().CrawlQueue.Len())
}

func TestNewDiscoveryHandlerNoAllowedSeeds(t *testing.T) {
	exec, o := newAgentTestFixture(t, Deps{})
	o.State().AccessVerdicts.Upsert(model.AccessVerdict{Domain: "blocked.example", Allowed: false})

	handler := NewDiscoveryHandler(exec, []string{"https://blocked.example/members"}, time.Second)
	outcome, err := handler(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, "no allowed seeds", outcome)
}
