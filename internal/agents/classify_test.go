package agents

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/originpath/assocpipeline/internal/httpcore"
	"github.com/originpath/assocpipeline/internal/model"
)

func TestPageClassifierExecuteNeverFetches(t *testing.T) {
	var fetched bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetched = true
		w.Write([]byte("this response must never be read by the classifier"))
	}))
	defer srv.Close()

	classifier := &PageClassifier{deps: Deps{HTTP: httpcore.New(httpcore.Options{})}}
	payload, err := json.Marshal(ClassifyTaskInput{URL: srv.URL, BodyExcerpt: "Our member directory lists our members by state."})
	require.NoError(t, err)

	result, err := classifier.Execute(context.Background(), model.AgentTask{Payload: payload})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.False(t, fetched, "classifier must annotate the cached excerpt, never fetch the URL itself")

	var out ClassifyOutput
	require.NoError(t, json.Unmarshal(result.Output, &out))
	assert.Equal(t, "member", out.PageType)
	assert.Equal(t, "extraction.selector", out.RecommendedExtractor)
}

func TestClassifyContentScoresKeywordSets(t *testing.T) {
	pageType, extractor := classifyContent("Join us at the annual Summit, see the full conference agenda and keynote lineup.")
	assert.Equal(t, "event", pageType)
	assert.Equal(t, "extraction.selector", extractor)

	pageType, extractor = classifyContent("Meet our Board of Directors and executive team leadership.")
	assert.Equal(t, "leadership", pageType)
	assert.Equal(t, "extraction.selector", extractor)
}

func TestClassifyContentDefaultsToUnstructuredWhenNothingScores(t *testing.T) {
	pageType, extractor := classifyContent("This page has no recognizable keywords at all.")
	assert.Equal(t, "unstructured", pageType)
	assert.Equal(t, "extraction.llm_fallback", extractor)
}

func TestPageClassifierExecuteFlagsAuthWall(t *testing.T) {
	classifier := &PageClassifier{}
	payload, _ := json.Marshal(ClassifyTaskInput{URL: "https://assoc.example/gated", BodyExcerpt: "Please log in to view this content."})

	result, err := classifier.Execute(context.Background(), model.AgentTask{Payload: payload})
	require.NoError(t, err)

	var out ClassifyOutput
	require.NoError(t, json.Unmarshal(result.Output, &out))
	assert.True(t, out.RequiresAuth)
}

func TestPageClassifierExecuteDefaultsWhenNoBodyCached(t *testing.T) {
	classifier := &PageClassifier{}
	payload, _ := json.Marshal(ClassifyTaskInput{URL: "https://assoc.example/no-snapshot"})

	result, err := classifier.Execute(context.Background(), model.AgentTask{Payload: payload})
	require.NoError(t, err)

	var out ClassifyOutput
	require.NoError(t, json.Unmarshal(result.Output, &out))
	assert.Equal(t, "unstructured", out.PageType)
	assert.Equal(t, "extraction.llm_fallback", out.RecommendedExtractor)
}

func TestNewClassificationHandlerAnnotatesExistingSnapshotAndCountsThem(t *testing.T) {
	exec, o := newAgentTestFixture(t, Deps{})
	o.State().CrawlQueue.Upsert(model.CrawlQueueItem{URL: "https://assoc.example/news"})
	o.State().Pages.Upsert(model.PageSnapshot{
		URL:         "https://assoc.example/news",
		StatusCode:  200,
		ContentHash: "already-computed-by-discovery",
		BodyExcerpt: "Press release: announcement from the newsroom.",
	})

	handler := NewClassificationHandler(exec, time.Second)
	outcome, err := handler(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, "classified 1 pages", outcome)
	assert.Equal(t, 1, o.State().Pages.Len())

	page, ok := o.State().Pages.Get("https://assoc.example/news")
	require.True(t, ok)
	assert.Equal(t, "news", page.PageType)
	assert.Equal(t, "already-computed-by-discovery", page.ContentHash, "classification must preserve fields Discovery already populated")
}

func TestNewClassificationHandlerNoQueuedURLs(t *testing.T) {
	exec, o := newAgentTestFixture(t, Deps{})
	handler := NewClassificationHandler(exec, time.Second)
	outcome, err := handler(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, "no queued urls", outcome)
}
