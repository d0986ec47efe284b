package agent

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// batchProtocol is the batch agent-run variant: one request, one JSON
// envelope containing the full message sequence and tool responses.
type batchProtocol struct {
	backend *Backend
	rb      *requestBuilder
}

func newBatchProtocol(b *Backend) (*batchProtocol, error) {
	rb, err := newRequestBuilder(b)
	if err != nil {
		return nil, err
	}
	return &batchProtocol{backend: b, rb: rb}, nil
}

func (p *batchProtocol) Name() string { return "batch" }

func (p *batchProtocol) Ask(ctx context.Context, prompt string) (*Result, error) {
	req, err := p.rb.post(ctx, "/api/v2/cortex/agent:run", agentRunPayload(p.backend, prompt, false), "application/json")
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

	result, ok := parseEnvelope(body)
	if !ok {
		return nil, &CallError{Kind: KindMalformed, Err: errMalformedEnvelope}
	}
	return result, nil
}

var errMalformedEnvelope = &envelopeError{}

type envelopeError struct{}

func (*envelopeError) Error() string { return "agent envelope has no recognizable message content" }

// agentRunPayload builds the agent-run request body shared by the
// batch and stream variants.
func agentRunPayload(b *Backend, prompt string, stream bool) map[string]any {
	return map[string]any{
		"agent":  b.AgentService,
		"stream": stream,
		"messages": []map[string]any{{
			"role": "user",
			"content": []map[string]any{{
				"type": "text",
				"text": prompt,
			}},
		}},
		"tool_resources": map[string]any{
			"semantic_model": b.SemanticModel,
			"database":       b.Database,
			"schema":         b.Schema,
			"warehouse":      b.Warehouse,
		},
	}
}

// parseEnvelope normalizes the batch envelope. The payload has drifted
// across backend releases: the message sequence may sit under
// "result", under "response", or at the top level. Fields are probed
// rather than bound to a struct so absent or renamed sections
// degrade instead of failing the whole parse.
func parseEnvelope(body []byte) (*Result, bool) {
	root := gjson.ParseBytes(body)

	envelope := root.Get("result")
	if !envelope.Exists() {
		envelope = root.Get("response")
	}
	if !envelope.Exists() {
		envelope = root
	}

	var out Result

	messages := envelope.Get("messages")
	if messages.IsArray() {
		var parts []string
		messages.ForEach(func(_, msg gjson.Result) bool {
			content := msg.Get("content")
			if !content.IsArray() {
				return true
			}
			content.ForEach(func(_, chunk gjson.Result) bool {
				if strings.EqualFold(chunk.Get("type").String(), "text") {
					if t := chunk.Get("text").String(); t != "" {
						parts = append(parts, t)
					}
				}
				return true
			})
			return true
		})
		out.Text = strings.Join(parts, "")
	}

	if tools := envelope.Get("tool_responses"); tools.IsArray() {
		tools.ForEach(func(_, tr gjson.Result) bool {
			if out.Records != nil {
				return false
			}
			for _, key := range []string{"result_set", "table", "content"} {
				if payload := tr.Get(key); payload.Exists() {
					if records := parseTable(payload.Raw); records != nil {
						out.Records = records
						return false
					}
				}
			}
			return true
		})
	}

	if out.Text == "" && out.Records == nil {
		return nil, false
	}
	return &out, true
}
