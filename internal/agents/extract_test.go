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

func TestSelectorExtractorParsesMemberLinks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<ul><li><a href="https://acme.example">Acme Corp</a></li><li><a href="https://widgetco.example">Widget Co</a></li></ul>`))
	}))
	defer srv.Close()

	extractor := &SelectorExtractor{deps: Deps{HTTP: httpcore.New(httpcore.Options{})}}
	payload, err := json.Marshal(ExtractTaskInput{URL: srv.URL, PageType: "member_directory"})
	require.NoError(t, err)

	result, err := extractor.Execute(context.Background(), model.AgentTask{Payload: payload})
	require.NoError(t, err)
	require.True(t, result.Success)

	var out ExtractOutput
	require.NoError(t, json.Unmarshal(result.Output, &out))
	require.Len(t, out.Companies, 2)
	assert.Equal(t, "Acme Corp", out.Companies[0].Name)
	assert.Equal(t, "https://acme.example", out.Companies[0].Domain)
	assert.Equal(t, "extraction.selector", out.Companies[0].Provenance[0].ExtractedBy)
}

func TestSelectorExtractorWithoutHTTPClientReturnsEmpty(t *testing.T) {
	extractor := &SelectorExtractor{deps: Deps{}}
	payload, _ := json.Marshal(ExtractTaskInput{URL: "https://example.com"})

	result, err := extractor.Execute(context.Background(), model.AgentTask{Payload: payload})
	require.NoError(t, err)

	var out ExtractOutput
	require.NoError(t, json.Unmarshal(result.Output, &out))
	assert.Empty(t, out.Companies)
}

func TestDecodeHTMLPassesThroughWhenCharsetIsUTF8OrAbsent(t *testing.T) {
	assert.Equal(t, "<p>Acme</p>", decodeHTML([]byte("<p>Acme</p>")))
	assert.Equal(t, `<meta charset="utf-8"><p>Acme</p>`, decodeHTML([]byte(`<meta charset="utf-8"><p>Acme</p>`)))
}

func TestDecodeHTMLTranscodesDeclaredLegacyCharset(t *testing.T) {
	// 0xE9 is "é" in windows-1252.
	raw := append([]byte(`<meta charset="windows-1252"><p>Caf`), 0xE9, '<', '/', 'p', '>')
	assert.Contains(t, decodeHTML(raw), "Café")
}

func TestCompanyIDIsStableAndDomainSensitive(t *testing.T) {
	a := companyID("acme.example", "Acme Corp")
	b := companyID("acme.example", "Acme Corp")
	c := companyID("widgetco.example", "Acme Corp")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestNewExtractionHandlerRoutesByRecommendedExtractor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<a href="https://acme.example">Acme Corp</a>`))
	}))
	defer srv.Close()

	deps := Deps{HTTP: httpcore.New(httpcore.Options{})}
	exec, o := newAgentTestFixture(t, deps)
	o.State().Pages.Upsert(model.PageSnapshot{
		URL: srv.URL, PageType: "member_directory", RecommendedExtractor: "extraction.selector",
	})

	handler := NewExtractionHandler(exec, time.Second)
	outcome, err := handler(context.Background(), o)
	require.NoError(t, err)
	assert.Contains(t, outcome, "extracted")
	assert.Equal(t, 1, o.State().Companies.Len())
}
