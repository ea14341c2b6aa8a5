package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/originpath/assocpipeline/internal/model"
)

func TestCheckProvenanceRejectsEmptyProvenance(t *testing.T) {
	companies := []model.Company{{ID: "c1", Provenance: nil}}
	violations := CheckProvenance("extraction.html_parser", companies, func(c model.Company) []model.ProvenanceEntry { return c.Provenance })
	require.Len(t, violations, 1)
	assert.Equal(t, "provenance", violations[0].Predicate)
}

func TestCheckProvenanceRejectsWrongAttribution(t *testing.T) {
	companies := []model.Company{{
		ID: "c1",
		Provenance: []model.ProvenanceEntry{
			{SourceURL: "https://x", ExtractedAt: time.Now(), ExtractedBy: "extraction.pdf_parser"},
		},
	}}
	violations := CheckProvenance("extraction.html_parser", companies, func(c model.Company) []model.ProvenanceEntry { return c.Provenance })
	require.Len(t, violations, 1)
}

func TestCheckProvenanceAccepts(t *testing.T) {
	companies := []model.Company{{
		ID: "c1",
		Provenance: []model.ProvenanceEntry{
			{SourceURL: "https://x", ExtractedAt: time.Now(), ExtractedBy: "extraction.html_parser"},
		},
	}}
	violations := CheckProvenance("extraction.html_parser", companies, func(c model.Company) []model.ProvenanceEntry { return c.Provenance })
	assert.Empty(t, violations)
}

func TestCheckCrawlerClassRejectsNonCrawlerNetwork(t *testing.T) {
	violations := CheckCrawlerClass(Declaration{Class: ClassNone}, true, false)
	require.Len(t, violations, 1)
	assert.Equal(t, "crawler-class", violations[0].Predicate)
}

func TestCheckCrawlerClassRequiresRobotsForCrawlers(t *testing.T) {
	violations := CheckCrawlerClass(Declaration{Class: ClassCrawler}, true, false)
	require.Len(t, violations, 1)

	violations = CheckCrawlerClass(Declaration{Class: ClassCrawler}, true, true)
	assert.Empty(t, violations)
}

func TestCheckCrawlerClassAllowsEnricherWithoutRobots(t *testing.T) {
	violations := CheckCrawlerClass(Declaration{Class: ClassEnricher}, true, false)
	assert.Empty(t, violations)
}

func TestCheckAuthFlaggingBlocksForwarding(t *testing.T) {
	violations := CheckAuthFlagging(model.PageSnapshot{URL: "https://x", RequiresAuth: true}, true)
	require.Len(t, violations, 1)

	violations = CheckAuthFlagging(model.PageSnapshot{URL: "https://x", RequiresAuth: true}, false)
	assert.Empty(t, violations)
}
