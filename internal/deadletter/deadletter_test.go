package deadletter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/originpath/assocpipeline/internal/model"
	"github.com/originpath/assocpipeline/internal/resilience"
)

func TestPushAndReadAllRoundTrip(t *testing.T) {
	sink, err := NewSink(t.TempDir())
	require.NoError(t, err)

	sink.Push(Entry{
		Task:            model.AgentTask{AgentType: "extraction.html_parser"},
		ClassifiedError: resilience.KindTransient,
		Message:         "timeout after 30s",
		Attempts:        3,
	})
	sink.Push(Entry{
		Task:            model.AgentTask{AgentType: "enrichment.firmographic"},
		ClassifiedError: resilience.KindSchemaViolation,
		Message:         "missing required field",
		Attempts:        1,
	})

	all, err := sink.ReadAll(Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	filtered, err := sink.ReadAll(Filter{ErrorKind: resilience.KindTransient})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "extraction.html_parser", filtered[0].Task.AgentType)

	count, err := sink.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestCanRetryRespectsAttemptBudget(t *testing.T) {
	e := Entry{Attempts: 2}
	assert.True(t, e.CanRetry(3))
	assert.False(t, e.CanRetry(2))
}

func TestReadAllOnMissingFileReturnsEmpty(t *testing.T) {
	sink, err := NewSink(t.TempDir())
	require.NoError(t, err)

	entries, err := sink.ReadAll(Filter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPushGeneratesIDWhenMissing(t *testing.T) {
	sink, err := NewSink(t.TempDir())
	require.NoError(t, err)
	sink.Push(Entry{Task: model.AgentTask{AgentType: "x"}, LastSeen: time.Now()})

	entries, err := sink.ReadAll(Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].ID)
}
