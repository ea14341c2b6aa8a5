package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// AssociationRow is one seed row from the association directory database.
type AssociationRow struct {
	PageID     string
	Name       string
	Domain     string
	Industries []string
	Active     bool
}

// QueryAll fetches all pages from a Notion database, handling pagination.
// Rate limiting is enforced by the Client (3 req/s by default). Uses
// prefetch: starts fetching page N+1 in a goroutine while processing page
// N, reducing effective latency for multi-page directories.
func QueryAll(ctx context.Context, c Client, dbID string, filter *notionapi.DatabaseQueryRequest) ([]notionapi.Page, error) {
	var all []notionapi.Page

	req := &notionapi.DatabaseQueryRequest{}
	if filter != nil {
		req.Filter = filter.Filter
		req.Sorts = filter.Sorts
		req.PageSize = filter.PageSize
	}

	type prefetchResult struct {
		resp *notionapi.DatabaseQueryResponse
		err  error
	}
	var prefetchCh <-chan prefetchResult

	for {
		var resp *notionapi.DatabaseQueryResponse
		var err error

		if prefetchCh != nil {
			result := <-prefetchCh
			resp, err = result.resp, result.err
		} else {
			resp, err = c.QueryDatabase(ctx, dbID, req)
		}
		if err != nil {
			return nil, eris.Wrap(err, "notion: query all page")
		}

		all = append(all, resp.Results...)
		if !resp.HasMore {
			break
		}

		nextReq := &notionapi.DatabaseQueryRequest{StartCursor: resp.NextCursor}
		if filter != nil {
			nextReq.Filter = filter.Filter
			nextReq.Sorts = filter.Sorts
			nextReq.PageSize = filter.PageSize
		}

		ch := make(chan prefetchResult, 1)
		prefetchCh = ch
		go func() {
			r, e := c.QueryDatabase(ctx, dbID, nextReq)
			ch <- prefetchResult{resp: r, err: e}
		}()
	}

	return all, nil
}

// QueryActiveAssociations fetches all rows with Status = "Active" from the
// association directory database, feeding the firmographic enrichment and
// crossref validation steps.
func QueryActiveAssociations(ctx context.Context, c Client, dbID string) ([]AssociationRow, error) {
	filter := &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: "Status",
			Status:   &notionapi.StatusFilterCondition{Equals: "Active"},
		},
	}
	pages, err := QueryAll(ctx, c, dbID, filter)
	if err != nil {
		return nil, eris.Wrap(err, "notion: query active associations")
	}

	rows := make([]AssociationRow, 0, len(pages))
	for _, p := range pages {
		rows = append(rows, rowFromPage(p))
	}
	return rows, nil
}

func rowFromPage(p notionapi.Page) AssociationRow {
	row := AssociationRow{PageID: string(p.ID), Active: true}

	if title, ok := p.Properties["Name"].(*notionapi.TitleProperty); ok && len(title.Title) > 0 {
		row.Name = title.Title[0].PlainText
	}
	if urlProp, ok := p.Properties["Domain"].(*notionapi.URLProperty); ok {
		row.Domain = urlProp.URL
	}
	if ms, ok := p.Properties["Industries"].(*notionapi.MultiSelectProperty); ok {
		for _, opt := range ms.MultiSelect {
			row.Industries = append(row.Industries, opt.Name)
		}
	}
	return row
}
