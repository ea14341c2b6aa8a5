package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketUpsertDeduplicatesByIdentifier(t *testing.T) {
	b := NewBucket[Company]()
	b.Upsert(Company{ID: "c1", Name: "Acme"})
	b.Upsert(Company{ID: "c2", Name: "Beta"})
	b.Upsert(Company{ID: "c1", Name: "Acme Corp"})

	require.Equal(t, 2, b.Len())
	got, ok := b.Get("c1")
	require.True(t, ok)
	assert.Equal(t, "Acme Corp", got.Name)

	items := b.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "c1", items[0].RecordID())
	assert.Equal(t, "c2", items[1].RecordID())
}

func TestPhaseTransitionsAreLinearAndTotal(t *testing.T) {
	next, ok := NextPhase(PhaseInit)
	require.True(t, ok)
	assert.Equal(t, PhaseGatekeeper, next)

	_, ok = NextPhase(PhaseMonitor)
	require.True(t, ok)

	_, ok = NextPhase(PhaseDone)
	assert.False(t, ok, "Done is terminal")

	assert.True(t, CanTransition(PhaseExport, PhaseMonitor))
	assert.False(t, CanTransition(PhaseExport, PhaseDone), "no direct Export->Done skip")
	assert.True(t, CanTransition(PhaseExtraction, PhaseFailed), "Failed reachable from any non-terminal")
	assert.False(t, CanTransition(PhaseDone, PhaseFailed), "terminal states have no outgoing transitions")
}

func TestTransitionToClearsOutgoingPhaseProgress(t *testing.T) {
	s := New("job-1")
	s.PhaseProgress[PhaseInit] = []byte(`{"cursor":true}`)

	err := s.TransitionTo(PhaseGatekeeper, "ok")
	require.NoError(t, err)

	_, present := s.PhaseProgress[PhaseInit]
	assert.False(t, present, "phase_progress[p] must be empty once current_phase != p")
	assert.Equal(t, PhaseGatekeeper, s.CurrentPhase)
	require.Len(t, s.PhaseHistory, 2)
	assert.False(t, s.PhaseHistory[0].ExitedAt.IsZero())
}

func TestTransitionToRejectsIllegalJump(t *testing.T) {
	s := New("job-1")
	err := s.TransitionTo(PhaseExtraction, "")
	var invalidErr *InvalidTransitionError
	require.ErrorAs(t, err, &invalidErr)
}

func TestDerivedCountsTrackBucketSizes(t *testing.T) {
	s := New("job-1")
	s.Companies.Upsert(Company{ID: "c1"})
	s.Companies.Upsert(Company{ID: "c2"})
	s.Events.Upsert(Event{ID: "e1"})

	dc := s.DerivedCounts()
	assert.Equal(t, 2, dc.TotalCompaniesExtracted)
	assert.Equal(t, 1, dc.TotalEventsExtracted)
	assert.Equal(t, 0, dc.TotalParticipantsExtracted)
}
