package model

import (
	"encoding/json"
	"time"
)

// Counters are the four aggregate counters named in the spec. They are
// mutated directly by the orchestrator as it merges deltas; they are
// distinct from the per-record-type counts in DerivedCounts, which are
// recomputed, not stored.
type Counters struct {
	TotalURLsDiscovered  int64 `json:"total_urls_discovered"`
	TotalPagesFetched    int64 `json:"total_pages_fetched"`
	TotalEntitiesResolved int64 `json:"total_entities_resolved"`
	TotalSignalsDetected int64 `json:"total_signals_detected"`
}

// DerivedCounts are per-record-type totals recomputed from bucket
// cardinalities on demand (the Monitor summary reports them). They supplement the four aggregate
// Counters with the richer breakdown the source tracked; they are never
// independently mutated, so they cannot drift from the buckets they
// describe.
type DerivedCounts struct {
	TotalCompaniesExtracted   int `json:"total_companies_extracted"`
	TotalEventsExtracted      int `json:"total_events_extracted"`
	TotalParticipantsExtracted int `json:"total_participants_extracted"`
	TotalCanonicalEntities    int `json:"total_canonical_entities"`
}

// PipelineState is the durable working set for one job. Bucket ownership
// is exclusive to the Orchestrator: agents return proposed deltas, never
// a reference to this struct.
type PipelineState struct {
	JobID         string                     `json:"job_id"`
	CurrentPhase  Phase                      `json:"current_phase"`
	PhaseHistory  []PhaseHistoryEntry        `json:"phase_history"`
	PhaseProgress map[Phase]json.RawMessage  `json:"phase_progress"`
	Counters      Counters                   `json:"counters"`
	CreatedAt     time.Time                  `json:"created_at"`

	CrawlQueue        *Bucket[CrawlQueueItem]     `json:"crawl_queue"`
	VisitedURLs       *Bucket[VisitedURL]         `json:"visited_urls"`
	BlockedURLs       *Bucket[BlockedURL]         `json:"blocked_urls"`
	Pages             *Bucket[PageSnapshot]       `json:"pages"`
	Companies         *Bucket[Company]            `json:"companies"`
	Events            *Bucket[Event]              `json:"events"`
	Participants      *Bucket[Participant]        `json:"participants"`
	CompetitorSignals *Bucket[CompetitorSignal]   `json:"competitor_signals"`
	CanonicalEntities *Bucket[CanonicalEntity]    `json:"canonical_entities"`
	GraphEdges        *Bucket[GraphEdge]          `json:"graph_edges"`
	Exports           *Bucket[ExportArtifact]     `json:"exports"`
	Errors            *Bucket[ErrorRecord]        `json:"errors"`
	AccessVerdicts    *Bucket[AccessVerdict]      `json:"access_verdicts"`
}

// New creates an empty PipelineState at PhaseInit for the given job.
func New(jobID string) *PipelineState {
	now := time.Now()
	return &PipelineState{
		JobID:         jobID,
		CurrentPhase:  PhaseInit,
		PhaseHistory:  []PhaseHistoryEntry{{Phase: PhaseInit, EnteredAt: now}},
		PhaseProgress: make(map[Phase]json.RawMessage),
		CreatedAt:     now,

		CrawlQueue:        NewBucket[CrawlQueueItem](),
		VisitedURLs:       NewBucket[VisitedURL](),
		BlockedURLs:       NewBucket[BlockedURL](),
		Pages:             NewBucket[PageSnapshot](),
		Companies:         NewBucket[Company](),
		Events:            NewBucket[Event](),
		Participants:      NewBucket[Participant](),
		CompetitorSignals: NewBucket[CompetitorSignal](),
		CanonicalEntities: NewBucket[CanonicalEntity](),
		GraphEdges:        NewBucket[GraphEdge](),
		Exports:           NewBucket[ExportArtifact](),
		Errors:            NewBucket[ErrorRecord](),
		AccessVerdicts:    NewBucket[AccessVerdict](),
	}
}

// TransitionTo validates and records a phase transition. It appends the
// closing entry for the outgoing phase (if any is open) and opens a new
// history entry for the incoming phase. The caller is responsible for
// clearing PhaseProgress[from] beforehand - TransitionTo enforces the
// invariant that phase_progress is only ever populated for the current
// phase by clearing it here as a backstop.
func (s *PipelineState) TransitionTo(to Phase, outcome string) error {
	if !CanTransition(s.CurrentPhase, to) {
		return &InvalidTransitionError{From: s.CurrentPhase, To: to}
	}
	now := time.Now()
	if n := len(s.PhaseHistory); n > 0 && s.PhaseHistory[n-1].ExitedAt.IsZero() {
		s.PhaseHistory[n-1].ExitedAt = now
		s.PhaseHistory[n-1].Outcome = outcome
	}
	delete(s.PhaseProgress, s.CurrentPhase)
	s.CurrentPhase = to
	s.PhaseHistory = append(s.PhaseHistory, PhaseHistoryEntry{
		Phase:     to,
		EnteredAt: now,
	})
	return nil
}

// InvalidTransitionError reports an illegal phase transition attempt.
type InvalidTransitionError struct {
	From Phase
	To   Phase
}

func (e *InvalidTransitionError) Error() string {
	return "invalid phase transition: " + string(e.From) + " -> " + string(e.To)
}

// DerivedCounts recomputes per-record-type totals from bucket sizes.
func (s *PipelineState) DerivedCounts() DerivedCounts {
	return DerivedCounts{
		TotalCompaniesExtracted:    s.Companies.Len(),
		TotalEventsExtracted:       s.Events.Len(),
		TotalParticipantsExtracted: s.Participants.Len(),
		TotalCanonicalEntities:     s.CanonicalEntities.Len(),
	}
}
