package model

import "time"

// ProvenanceEntry attributes one datum to the agent and source that
// produced it.
type ProvenanceEntry struct {
	SourceURL   string    `json:"source_url"`
	ExtractedAt time.Time `json:"extracted_at"`
	ExtractedBy string    `json:"extracted_by"`
}

// CrawlQueueItem is a discovered-but-not-yet-fetched URL.
type CrawlQueueItem struct {
	URL            string    `json:"url"`
	Host           string    `json:"host"`
	Depth          int       `json:"depth"`
	DiscoveredFrom string    `json:"discovered_from,omitempty"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
}

func (c CrawlQueueItem) RecordID() string { return c.URL }

// VisitedURL marks a URL as fetched, regardless of outcome.
type VisitedURL struct {
	URL       string    `json:"url"`
	FetchedAt time.Time `json:"fetched_at"`
}

func (v VisitedURL) RecordID() string { return v.URL }

// BlockedURL marks a URL as excluded by the gatekeeper or robots policy.
type BlockedURL struct {
	URL       string    `json:"url"`
	Reason    string    `json:"reason"`
	BlockedAt time.Time `json:"blocked_at"`
}

func (b BlockedURL) RecordID() string { return b.URL }

// PageSnapshot is a fetched page's classification-relevant metadata.
// BodyExcerpt caches a bounded slice of the body Discovery already
// fetched so Classification can score page content without a second
// request against the same URL.
type PageSnapshot struct {
	URL                  string    `json:"url"`
	FetchedAt            time.Time `json:"fetched_at"`
	ContentHash          string    `json:"content_hash"`
	ContentLocation      string    `json:"content_location"`
	StatusCode           int       `json:"status_code"`
	BodyExcerpt          string    `json:"body_excerpt,omitempty"`
	PageType             string    `json:"page_type,omitempty"`
	RecommendedExtractor string    `json:"recommended_extractor,omitempty"`
	RequiresAuth         bool      `json:"requires_auth,omitempty"`
}

func (p PageSnapshot) RecordID() string { return p.URL }

// Company is a canonical business record extracted from one or more pages.
type Company struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Domain      string            `json:"domain,omitempty"`
	Fields      map[string]any    `json:"fields,omitempty"`
	Provenance  []ProvenanceEntry `json:"provenance"`
}

func (c Company) RecordID() string { return c.ID }

// Event is an association event (conference, filing, announcement) tied
// to zero or more companies.
type Event struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	OccurredAt time.Time         `json:"occurred_at,omitempty"`
	CompanyIDs []string          `json:"company_ids,omitempty"`
	Fields     map[string]any    `json:"fields,omitempty"`
	Provenance []ProvenanceEntry `json:"provenance"`
}

func (e Event) RecordID() string { return e.ID }

// Participant links a person to an event and, transitively, to companies.
type Participant struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	EventID    string            `json:"event_id,omitempty"`
	CompanyID  string            `json:"company_id,omitempty"`
	Role       string            `json:"role,omitempty"`
	Provenance []ProvenanceEntry `json:"provenance"`
}

func (p Participant) RecordID() string { return p.ID }

// CompetitorSignal is a mined intelligence signal about a company.
type CompetitorSignal struct {
	ID         string            `json:"id"`
	CompanyID  string            `json:"company_id"`
	Kind       string            `json:"kind"`
	Detail     string            `json:"detail,omitempty"`
	Confidence float64           `json:"confidence,omitempty"`
	Provenance []ProvenanceEntry `json:"provenance"`
}

func (s CompetitorSignal) RecordID() string { return s.ID }

// CanonicalEntity is the output of entity resolution: a merged identity
// for one or more Company records believed to refer to the same business.
type CanonicalEntity struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	MemberIDs   []string          `json:"member_ids"`
	Provenance  []ProvenanceEntry `json:"provenance"`
}

func (c CanonicalEntity) RecordID() string { return c.ID }

// GraphEdge is a directed relationship between two canonical entities,
// produced by the Graph phase.
type GraphEdge struct {
	ID       string  `json:"id"`
	FromID   string  `json:"from_id"`
	ToID     string  `json:"to_id"`
	Kind     string  `json:"kind"`
	Weight   float64 `json:"weight,omitempty"`
}

func (e GraphEdge) RecordID() string { return e.ID }

// ExportArtifact records one emitted export file.
type ExportArtifact struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind"`
	Path      string            `json:"path"`
	RecordCount int             `json:"record_count"`
	ExportedAt time.Time        `json:"exported_at"`
	Provenance []ProvenanceEntry `json:"provenance"`
}

func (a ExportArtifact) RecordID() string { return a.ID }

// ErrorRecord is a durable log entry for a phase-level or agent-level
// error that did not abort the run.
type ErrorRecord struct {
	ID        string    `json:"id"`
	Phase     Phase     `json:"phase"`
	Agent     string    `json:"agent,omitempty"`
	ErrorKind string    `json:"error_kind"`
	Message   string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e ErrorRecord) RecordID() string { return e.ID }
