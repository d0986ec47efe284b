package agent

import (
	"context"
	"io"
	"net/http"

	"github.com/tidwall/gjson"
)

// completeProtocol is the plain-completion variant: a single SQL
// statement invoking the backend's completion function, answer in the
// first cell of the result set.
type completeProtocol struct {
	backend *Backend
	rb      *requestBuilder
}

func newCompleteProtocol(b *Backend) (*completeProtocol, error) {
	rb, err := newRequestBuilder(b)
	if err != nil {
		return nil, err
	}
	return &completeProtocol{backend: b, rb: rb}, nil
}

func (p *completeProtocol) Name() string { return "complete" }

func (p *completeProtocol) Ask(ctx context.Context, prompt string) (*Result, error) {
	payload := map[string]any{
		"statement": "select snowflake.cortex.complete(?, {'prompt': ?});",
		"binds":     []string{p.backend.SemanticModel, prompt},
		"timeout":   60,
		"database":  p.backend.Database,
		"schema":    p.backend.Schema,
		"warehouse": p.backend.Warehouse,
	}

	req, err := p.rb.post(ctx, "/api/v2/statements", payload, "")
	if err != nil {
		return nil, &CallError{Kind: KindMalformed, Err: err}
	}

	resp, err := p.backend.client().Do(req)
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

	// Two observed result shapes: rows under result.data or data.
	rows := gjson.GetBytes(body, "result.data")
	if !rows.Exists() {
		rows = gjson.GetBytes(body, "data")
	}

	text := "No response"
	if rows.IsArray() {
		if first := rows.Get("0.0"); first.Exists() {
			text = first.String()
		}
	}
	return &Result{Text: text}, nil
}
