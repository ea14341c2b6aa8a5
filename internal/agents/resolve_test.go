package agents

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/originpath/assocpipeline/internal/model"
)

func TestEntityResolverClustersByDomain(t *testing.T) {
	resolver := &EntityResolver{deps: Deps{}}
	companies := []model.Company{
		{ID: "c1", Name: "Acme Corp", Domain: "https://www.acme.example/about"},
		{ID: "c2", Name: "Acme", Domain: "acme.example"},
		{ID: "c3", Name: "Widget Co", Domain: "widgetco.example"},
	}
	payload, err := json.Marshal(ResolveTaskInput{Companies: companies})
	require.NoError(t, err)

	result, err := resolver.Execute(context.Background(), model.AgentTask{Payload: payload})
	require.NoError(t, err)

	var out ResolveOutput
	require.NoError(t, json.Unmarshal(result.Output, &out))
	require.Len(t, out.Entities, 2)

	byMemberCount := map[int]model.CanonicalEntity{}
	for _, e := range out.Entities {
		byMemberCount[len(e.MemberIDs)] = e
	}
	require.Contains(t, byMemberCount, 2)
	assert.ElementsMatch(t, []string{"c1", "c2"}, byMemberCount[2].MemberIDs)
}

func TestEntityResolverFallsBackToNameWhenDomainMissing(t *testing.T) {
	resolver := &EntityResolver{deps: Deps{}}
	companies := []model.Company{
		{ID: "c1", Name: "Acme"},
		{ID: "c2", Name: "Widget Co"},
	}
	payload, _ := json.Marshal(ResolveTaskInput{Companies: companies})

	result, err := resolver.Execute(context.Background(), model.AgentTask{Payload: payload})
	require.NoError(t, err)

	var out ResolveOutput
	require.NoError(t, json.Unmarshal(result.Output, &out))
	assert.Len(t, out.Entities, 2)
}

func TestEntityIDIsCaseInsensitiveAndStable(t *testing.T) {
	assert.Equal(t, entityID("acme.example"), entityID("ACME.EXAMPLE"))
}
