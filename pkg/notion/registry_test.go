package notion

import (
	"context"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotionClient struct {
	pages [][]notionapi.Page
	calls int
}

func (f *fakeNotionClient) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	idx := f.calls
	f.calls++
	resp := &notionapi.DatabaseQueryResponse{Results: f.pages[idx]}
	if idx < len(f.pages)-1 {
		resp.HasMore = true
		resp.NextCursor = notionapi.Cursor("cursor")
	}
	return resp, nil
}

func namedPage(id, name string) notionapi.Page {
	return notionapi.Page{
		ID: notionapi.ObjectID(id),
		Properties: notionapi.Properties{
			"Name": &notionapi.TitleProperty{
				Title: []notionapi.RichText{{PlainText: name}},
			},
			"Domain": &notionapi.URLProperty{URL: name + ".example"},
			"Industries": &notionapi.MultiSelectProperty{
				MultiSelect: []notionapi.Option{{Name: "trade"}},
			},
		},
	}
}

func TestQueryAllFollowsPaginationCursor(t *testing.T) {
	client := &fakeNotionClient{pages: [][]notionapi.Page{
		{namedPage("p1", "Acme")},
		{namedPage("p2", "Widget")},
	}}

	pages, err := QueryAll(context.Background(), client, "db-1", nil)
	require.NoError(t, err)
	assert.Len(t, pages, 2)
	assert.Equal(t, 2, client.calls)
}

func TestQueryActiveAssociationsProjectsRows(t *testing.T) {
	client := &fakeNotionClient{pages: [][]notionapi.Page{
		{namedPage("p1", "Acme")},
	}}

	rows, err := QueryActiveAssociations(context.Background(), client, "db-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Acme", rows[0].Name)
	assert.Equal(t, "Acme.example", rows[0].Domain)
	assert.Equal(t, []string{"trade"}, rows[0].Industries)
	assert.True(t, rows[0].Active)
}

func TestRowFromPageHandlesMissingProperties(t *testing.T) {
	row := rowFromPage(notionapi.Page{ID: "p1"})
	assert.Equal(t, "p1", row.PageID)
	assert.Empty(t, row.Name)
	assert.Empty(t, row.Domain)
}
