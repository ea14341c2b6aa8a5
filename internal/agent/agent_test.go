package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/originpath/assocpipeline/internal/model"
)

type stubAgent struct{ name string }

func (s *stubAgent) Name() string                          { return s.name }
func (s *stubAgent) InputSchemaID() string                 { return s.name + ".input" }
func (s *stubAgent) OutputSchemaID() string                { return s.name + ".output" }
func (s *stubAgent) RequiredCapabilities() []Capability    { return nil }
func (s *stubAgent) Execute(ctx context.Context, task model.AgentTask) (model.AgentResult, error) {
	return model.AgentResult{Success: true}, nil
}

func TestRegistryLookupReturnsFreshInstances(t *testing.T) {
	reg := NewRegistry(map[string]Constructor{
		"discovery.site_mapper": func() Agent { return &stubAgent{name: "discovery.site_mapper"} },
	})

	a1, ok := reg.Lookup("discovery.site_mapper")
	require.True(t, ok)
	a2, ok := reg.Lookup("discovery.site_mapper")
	require.True(t, ok)

	assert.NotSame(t, a1, a2)
	assert.Equal(t, "discovery.site_mapper", a1.Name())
}

func TestRegistryLookupUnknownNameFails(t *testing.T) {
	reg := NewRegistry(nil)
	_, ok := reg.Lookup("nonexistent")
	assert.False(t, ok)
}
