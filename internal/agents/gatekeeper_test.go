package agents

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/originpath/assocpipeline/internal/model"
)

// fakeRobotsGetter serves a fixed robots.txt body regardless of the
// requested URL, or an error when robotsErr is set.
type fakeRobotsGetter struct {
	body      string
	robotsErr error
}

func (f fakeRobotsGetter) Get(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	if f.robotsErr != nil {
		return nil, f.robotsErr
	}
	return io.NopCloser(strings.NewReader(f.body)), nil
}

func TestEvaluateRobotsDisallowsAllUnderWildcardAgent(t *testing.T) {
	getter := fakeRobotsGetter{body: "User-agent: *\nDisallow: /\n"}
	disallowAll, restrictions := evaluateRobots(context.Background(), getter, "assoc.example")
	assert.True(t, disallowAll)
	assert.Contains(t, restrictions, "/")
}

func TestEvaluateRobotsCollectsPartialRestrictions(t *testing.T) {
	getter := fakeRobotsGetter{body: "User-agent: *\nDisallow: /admin\nDisallow: /private\n"}
	disallowAll, restrictions := evaluateRobots(context.Background(), getter, "assoc.example")
	assert.False(t, disallowAll)
	assert.ElementsMatch(t, []string{"/admin", "/private"}, restrictions)
}

func TestEvaluateRobotsIgnoresRulesForOtherAgents(t *testing.T) {
	getter := fakeRobotsGetter{body: "User-agent: SomeOtherBot\nDisallow: /\n"}
	disallowAll, restrictions := evaluateRobots(context.Background(), getter, "assoc.example")
	assert.False(t, disallowAll)
	assert.Empty(t, restrictions)
}

func TestEvaluateRobotsTreatsFetchFailureAsNoRestrictions(t *testing.T) {
	getter := fakeRobotsGetter{robotsErr: assert.AnError}
	disallowAll, restrictions := evaluateRobots(context.Background(), getter, "assoc.example")
	assert.False(t, disallowAll)
	assert.Nil(t, restrictions)
}

func TestEvaluateRobotsWithNilClientAllowsEverything(t *testing.T) {
	disallowAll, restrictions := evaluateRobots(context.Background(), nil, "assoc.example")
	assert.False(t, disallowAll)
	assert.Nil(t, restrictions)
}

func TestRobotsCheckerExecuteReportsAllowedByDefault(t *testing.T) {
	checker := &RobotsChecker{deps: Deps{}}
	payload, err := json.Marshal(GatekeeperTaskInput{Domain: "example.com"})
	require.NoError(t, err)

	result, err := checker.Execute(context.Background(), model.AgentTask{Payload: payload})
	require.NoError(t, err)
	require.True(t, result.Success)

	var verdict model.AccessVerdict
	require.NoError(t, json.Unmarshal(result.Output, &verdict))
	assert.Equal(t, "example.com", verdict.Domain)
	assert.True(t, verdict.Allowed)
}

func TestNewGatekeeperHandlerNoDomainsConfigured(t *testing.T) {
	exec, o := newAgentTestFixture(t, Deps{})
	handler := NewGatekeeperHandler(exec, nil, nil, time.Second)
	outcome, err := handler(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, "no domains configured", outcome)
}

func TestNewGatekeeperHandlerRecordsVerdictsForEachDomain(t *testing.T) {
	exec, o := newAgentTestFixture(t, Deps{})
	handler := NewGatekeeperHandler(exec, nil, []string{"a.example", "b.example"}, time.Second)
	outcome, err := handler(context.Background(), o)
	require.NoError(t, err)
	assert.Contains(t, outcome, "evaluated 2 domains")
	assert.Equal(t, 2, o.State().AccessVerdicts.Len())
}
