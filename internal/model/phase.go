// Package model defines the durable data shapes shared by the orchestrator,
// the executor, and every agent: phases, buckets, records, and provenance.
package model

import "time"

// Phase is one of the eleven named pipeline stages plus the two terminals.
type Phase string

const (
	PhaseInit           Phase = "init"
	PhaseGatekeeper     Phase = "gatekeeper"
	PhaseDiscovery      Phase = "discovery"
	PhaseClassification Phase = "classification"
	PhaseExtraction     Phase = "extraction"
	PhaseEnrichment     Phase = "enrichment"
	PhaseValidation     Phase = "validation"
	PhaseResolution     Phase = "resolution"
	PhaseGraph          Phase = "graph"
	PhaseExport         Phase = "export"
	PhaseMonitor        Phase = "monitor"
	PhaseDone           Phase = "done"
	PhaseFailed         Phase = "failed"
)

// phaseOrder is the strict, total, non-skippable order of non-terminal
// phases. Failed is reachable from any of these; it is not part of the
// forward walk. Done is the successor of Monitor and nothing else -
// the source's broader adjacency also allows Export to reach Done
// directly, but its own orchestrator never takes that edge, so this
// implementation doesn't offer it either.
var phaseOrder = []Phase{
	PhaseInit,
	PhaseGatekeeper,
	PhaseDiscovery,
	PhaseClassification,
	PhaseExtraction,
	PhaseEnrichment,
	PhaseValidation,
	PhaseResolution,
	PhaseGraph,
	PhaseExport,
	PhaseMonitor,
	PhaseDone,
}

// Terminal reports whether p has no outgoing transitions.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	if p == PhaseFailed {
		return true
	}
	for _, candidate := range phaseOrder {
		if candidate == p {
			return true
		}
	}
	return false
}

// NextPhase returns the successor of p in the total order, or false if p
// is terminal or unknown.
func NextPhase(p Phase) (Phase, bool) {
	for i, candidate := range phaseOrder {
		if candidate == p {
			if i == len(phaseOrder)-1 {
				return "", false
			}
			return phaseOrder[i+1], true
		}
	}
	return "", false
}

// CanTransition reports whether from -> to is a legal transition: the
// next phase in the total order, or Failed from any non-terminal phase.
func CanTransition(from, to Phase) bool {
	if from.Terminal() {
		return false
	}
	if to == PhaseFailed {
		return true
	}
	next, ok := NextPhase(from)
	return ok && next == to
}

// PhaseHistoryEntry records one phase's occupancy window and outcome.
type PhaseHistoryEntry struct {
	Phase     Phase     `json:"phase"`
	EnteredAt time.Time `json:"entered_at"`
	ExitedAt  time.Time `json:"exited_at,omitempty"`
	Outcome   string    `json:"outcome,omitempty"`
}
