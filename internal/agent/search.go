package agent

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"
)

// searchClient issues search-mode queries against the listing search
// service. Search bypasses the protocol variants entirely: every
// deployment shape exposes the same search endpoint.
type searchClient struct {
	backend *Backend
	rb      *requestBuilder
}

func newSearchClient(b *Backend) (*searchClient, error) {
	rb, err := newRequestBuilder(b)
	if err != nil {
		return nil, err
	}
	return &searchClient{backend: b, rb: rb}, nil
}

func (s *searchClient) Query(ctx context.Context, prompt string) (*Result, error) {
	path := fmt.Sprintf("/api/v2/databases/%s/schemas/%s/cortex-search-services/%s:query",
		s.backend.Database, s.backend.Schema, s.backend.SearchService)
	payload := map[string]any{
		"query": prompt,
		"limit": 25,
	}

	req, err := s.rb.post(ctx, path, payload, "application/json")
	if err != nil {
		return nil, &CallError{Kind: KindMalformed, Err: err}
	}

	resp, err := s.backend.client().Do(req)
	if err != nil {
		return nil, wrapTransport(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEventSize))
	if err != nil {
		return nil, wrapTransport(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, string(body))
	}

	records := rowsFromObjects(gjson.GetBytes(body, "results"))
	return &Result{
		Text:    searchSummary(len(records)),
		Records: records,
	}, nil
}

func searchSummary(n int) string {
	if n == 0 {
		return "No properties found matching your search."
	}
	return fmt.Sprintf("Found %d properties matching your search.", n)
}
