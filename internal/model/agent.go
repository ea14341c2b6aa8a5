package model

import (
	"encoding/json"
	"time"
)

// AgentTask is the immutable-per-attempt unit of work handed to an agent.
type AgentTask struct {
	AgentType string          `json:"agent_type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	Deadline  time.Time       `json:"deadline"`
}

// AgentResult is what an agent's execute() returns. Output carries the
// agent's proposed deltas; the orchestrator is the only thing that
// merges them into PipelineState buckets.
type AgentResult struct {
	Success    bool            `json:"success"`
	Output     json.RawMessage `json:"output,omitempty"`
	Errors     []string        `json:"errors,omitempty"`
	DurationMS int64           `json:"duration_ms"`
}

// AgentDelta is the value-typed shape an agent's Output decodes into:
// new records to append and existing records to update by identifier.
// Keeping this generic over the concrete record type lets every phase
// handler decode its agents' output without a shared mutable store.
type AgentDelta[T Identifiable] struct {
	NewRecords       []T `json:"new_records"`
	UpdatedByID      []T `json:"updated_records_by_id"`
}

// AccessVerdict is the Gatekeeper's per-domain access decision, produced
// once per unique domain per job.
type AccessVerdict struct {
	Domain          string    `json:"domain"`
	Allowed         bool      `json:"allowed"`
	Restrictions    []string  `json:"restrictions,omitempty"`
	Recommendations []string  `json:"recommendations,omitempty"`
	ObservedAt      time.Time `json:"observed_at"`
}

func (v AccessVerdict) RecordID() string { return v.Domain }
