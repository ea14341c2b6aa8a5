package agents

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/originpath/assocpipeline/internal/model"
	"github.com/originpath/assocpipeline/pkg/geocode"
	"github.com/originpath/assocpipeline/pkg/notion"
)

type fakeGeocoder struct {
	territory geocode.Territory
	ok        bool
}

func (f fakeGeocoder) Lookup(ctx context.Context, pt geocode.Point) (geocode.Territory, bool) {
	return f.territory, f.ok
}

func TestGeocoderStampsTerritoryWhenPointResolves(t *testing.T) {
	geo := &Geocoder{deps: Deps{Geocode: fakeGeocoder{territory: geocode.Territory{Name: "Northeast"}, ok: true}}}
	company := model.Company{ID: "c1", Name: "Acme", Fields: map[string]any{"latitude": 40.7, "longitude": -74.0}}
	payload, err := json.Marshal(EnrichTaskInput{Company: company})
	require.NoError(t, err)

	result, err := geo.Execute(context.Background(), model.AgentTask{Payload: payload})
	require.NoError(t, err)

	var out EnrichOutput
	require.NoError(t, json.Unmarshal(result.Output, &out))
	assert.Equal(t, "Northeast", out.Company.Fields["territory"])
}

func TestGeocoderSkipsWhenCoordinatesMissing(t *testing.T) {
	geo := &Geocoder{deps: Deps{Geocode: fakeGeocoder{ok: true}}}
	company := model.Company{ID: "c1", Name: "Acme"}
	payload, _ := json.Marshal(EnrichTaskInput{Company: company})

	result, err := geo.Execute(context.Background(), model.AgentTask{Payload: payload})
	require.NoError(t, err)

	var out EnrichOutput
	require.NoError(t, json.Unmarshal(result.Output, &out))
	_, hasTerritory := out.Company.Fields["territory"]
	assert.False(t, hasTerritory)
}

func TestFirmographicTagsMembershipOnDomainMatch(t *testing.T) {
	fg := &Firmographic{deps: Deps{}}
	company := model.Company{ID: "c1", Name: "Acme", Domain: "https://acme.example/about"}
	directory := []notion.AssociationRow{
		{Name: "Acme Corp", Domain: "www.acme.example", Active: true, Industries: []string{"manufacturing"}},
	}
	payload, err := json.Marshal(EnrichTaskInput{Company: company, Directory: directory})
	require.NoError(t, err)

	result, err := fg.Execute(context.Background(), model.AgentTask{Payload: payload})
	require.NoError(t, err)

	var out EnrichOutput
	require.NoError(t, json.Unmarshal(result.Output, &out))
	assert.Equal(t, true, out.Company.Fields["association_member"])
	assert.Equal(t, []any{"manufacturing"}, out.Company.Fields["industries"])
}

func TestFirmographicLeavesCompanyUntaggedWithoutMatch(t *testing.T) {
	fg := &Firmographic{deps: Deps{}}
	company := model.Company{ID: "c1", Name: "Acme", Domain: "https://acme.example"}
	directory := []notion.AssociationRow{{Name: "Widget Co", Domain: "widgetco.example"}}
	payload, _ := json.Marshal(EnrichTaskInput{Company: company, Directory: directory})

	result, err := fg.Execute(context.Background(), model.AgentTask{Payload: payload})
	require.NoError(t, err)

	var out EnrichOutput
	require.NoError(t, json.Unmarshal(result.Output, &out))
	_, tagged := out.Company.Fields["association_member"]
	assert.False(t, tagged)
}

func TestDomainHostStripsSchemeWwwAndPath(t *testing.T) {
	assert.Equal(t, "acme.example", domainHost("https://www.acme.example/about"))
	assert.Equal(t, "acme.example", domainHost("acme.example"))
}

func TestStepSelected(t *testing.T) {
	assert.True(t, stepSelected(nil, "firmographic"))
	assert.True(t, stepSelected([]string{"all"}, "firmographic"))
	assert.True(t, stepSelected([]string{"firmographic"}, "firmographic"))
	assert.False(t, stepSelected([]string{"techstack"}, "firmographic"))
}

func TestDetectTechStackMatchesHeaderName(t *testing.T) {
	techs := detectTechStack(map[string][]string{"CF-Ray": {"abc123"}}, "")
	assert.Contains(t, techs, "cloudflare")
}

func TestDetectTechStackMatchesBodySubstring(t *testing.T) {
	techs := detectTechStack(nil, `<script src="cdn.shopify.com/foo.js"></script>`)
	assert.Contains(t, techs, "shopify")
}

func TestDetectTechStackEmptyWhenNoSignatureMatches(t *testing.T) {
	assert.Empty(t, detectTechStack(map[string][]string{"content-type": {"text/html"}}, "<p>hello</p>"))
}

func TestTechStackWithoutHTTPClientLeavesFieldUnset(t *testing.T) {
	ts := &TechStack{deps: Deps{}}
	company := model.Company{ID: "c1", Name: "Acme", Domain: "acme.example"}
	payload, _ := json.Marshal(EnrichTaskInput{Company: company})

	result, err := ts.Execute(context.Background(), model.AgentTask{Payload: payload})
	require.NoError(t, err)

	var out EnrichOutput
	require.NoError(t, json.Unmarshal(result.Output, &out))
	_, has := out.Company.Fields["tech_stack"]
	assert.False(t, has)
}

func TestDedupeStringsIsCaseInsensitive(t *testing.T) {
	got := dedupeStrings([]string{"a@x.com", "A@X.com", "b@x.com"})
	assert.Len(t, got, 2)
}

func TestContactFinderWithoutHTTPClientLeavesFieldUnset(t *testing.T) {
	cf := &ContactFinder{deps: Deps{}}
	company := model.Company{ID: "c1", Name: "Acme", Domain: "acme.example"}
	payload, _ := json.Marshal(EnrichTaskInput{Company: company})

	result, err := cf.Execute(context.Background(), model.AgentTask{Payload: payload})
	require.NoError(t, err)

	var out EnrichOutput
	require.NoError(t, json.Unmarshal(result.Output, &out))
	_, has := out.Company.Fields["contacts"]
	assert.False(t, has)
}

func TestEmailPatternFindsAddressesInBody(t *testing.T) {
	found := emailPattern.FindAllString("Contact us at sales@acme.example or support@acme.example.", -1)
	assert.ElementsMatch(t, []string{"sales@acme.example", "support@acme.example"}, found)
}
