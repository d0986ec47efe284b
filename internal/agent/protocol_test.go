package agent_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/propgate/propgate/internal/agent"
)

func testBackend(serverURL string) *agent.Backend {
	return &agent.Backend{
		Account:       serverURL,
		OAuthToken:    "test-oauth-token",
		Database:      "PROPDATA",
		Schema:        "LISTINGS",
		Warehouse:     "DEMO_WH",
		AgentService:  "listing_analyst",
		SearchService: "listing_search",
		SemanticModel: "listings.yaml",
	}
}

func newTestClient(t *testing.T, variant, serverURL string) *agent.Client {
	t.Helper()
	c, err := agent.NewClient(variant, testBackend(serverURL))
	if err != nil {
		t.Fatalf("NewClient(%q) error = %v", variant, err)
	}
	return c
}

func TestCompleteVariant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/statements" {
			t.Errorf("path = %q, want /api/v2/statements", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); !strings.Contains(auth, "test-oauth-token") {
			t.Errorf("Authorization = %q, want backend token", auth)
		}
		fmt.Fprint(w, `{"result":{"data":[["The average asking price in SW3 is 1.2M."]]}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, "complete", srv.URL)
	result, err := c.Ask(context.Background(), "average price in SW3?", agent.ModeAnalyst)
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if !strings.Contains(result.Text, "average asking price") {
		t.Errorf("Text = %q, want first result cell", result.Text)
	}
}

func TestBatchVariant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/cortex/agent:run" {
			t.Errorf("path = %q, want /api/v2/cortex/agent:run", r.URL.Path)
		}
		fmt.Fprint(w, `{
			"result": {
				"messages": [{"role":"assistant","content":[
					{"type":"TEXT","text":"Two-bed flats in E14 "},
					{"type":"TEXT","text":"average 520k."}
				]}],
				"tool_responses": [{"result_set":{"columns":["district","avg_price"],"rows":[["E14",520000]]}}]
			}
		}`)
	}))
	defer srv.Close()

	c := newTestClient(t, "batch", srv.URL)
	result, err := c.Ask(context.Background(), "two bed flats in E14?", agent.ModeAnalyst)
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if want := "Two-bed flats in E14 average 520k."; result.Text != want {
		t.Errorf("Text = %q, want %q", result.Text, want)
	}
	if len(result.Records) != 1 {
		t.Fatalf("Records = %d rows, want 1 from tool_responses", len(result.Records))
	}
	if result.Records[0]["district"] != "E14" {
		t.Errorf("Records[0][district] = %v, want E14", result.Records[0]["district"])
	}
}

func TestBatchVariantResponseEnvelope(t *testing.T) {
	// Older deployments nested the same payload under "response".
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"response":{"messages":[{"content":[{"type":"text","text":"Answer."}]}]}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, "batch", srv.URL)
	result, err := c.Ask(context.Background(), "q", agent.ModeAnalyst)
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if result.Text != "Answer." {
		t.Errorf("Text = %q, want %q", result.Text, "Answer.")
	}
}

func TestStreamVariant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if accept := r.Header.Get("Accept"); accept != "text/event-stream" {
			t.Errorf("Accept = %q, want text/event-stream", accept)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, strings.Join([]string{
			"event: response.status",
			`data: {"status":"Planning query"}`,
			"",
			"event: response.text.delta",
			`data: {"text":"Rents rose "}`,
			"",
			"event: response.text.delta",
			`data: {"text":"4% year on year."}`,
			"",
			"event: response",
			`data: {"content":[{"type":"text","text":"fallback"}]}`,
			"",
		}, "\n"))
	}))
	defer srv.Close()

	c := newTestClient(t, "stream", srv.URL)
	result, err := c.Ask(context.Background(), "rent trend?", agent.ModeAnalyst)
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if want := "Rents rose 4% year on year."; result.Text != want {
		t.Errorf("Text = %q, want %q", result.Text, want)
	}
}

func TestStreamVariantForwardsEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "event: response.text.delta\ndata: {\"text\":\"hi\"}\n\nevent: response\ndata: {}\n\n")
	}))
	defer srv.Close()

	c := newTestClient(t, "stream", srv.URL)
	var names []string
	result, err := c.Stream(context.Background(), "q", agent.ModeAnalyst, func(ev agent.Event) error {
		names = append(names, ev.Name)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if result.Text != "hi" {
		t.Errorf("Text = %q, want hi", result.Text)
	}
	if len(names) != 2 || names[1] != "response" {
		t.Errorf("forwarded events = %v, want delta then terminal response", names)
	}
}

func TestStreamTruncatedKeepsPartialText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// no terminal response event
		fmt.Fprint(w, "event: response.text.delta\ndata: {\"text\":\"partial\"}\n\n")
	}))
	defer srv.Close()

	c := newTestClient(t, "stream", srv.URL)
	result, err := c.Stream(context.Background(), "q", agent.ModeAnalyst, func(agent.Event) error { return nil })
	if err == nil {
		t.Fatal("Stream() error = nil, want truncation failure")
	}
	if result == nil || result.Text != "partial" {
		t.Errorf("result = %+v, want partial text preserved", result)
	}
}

func TestSearchMode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := "/api/v2/databases/PROPDATA/schemas/LISTINGS/cortex-search-services/listing_search:query"
		if r.URL.Path != want {
			t.Errorf("path = %q, want %q", r.URL.Path, want)
		}
		fmt.Fprint(w, `{"results":[{"address":"1 Thames St","price":450000},{"address":"2 Thames St","price":475000}]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, "batch", srv.URL)
	result, err := c.Ask(context.Background(), "flats near the river", agent.ModeSearch)
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if want := "Found 2 properties matching your search."; result.Text != want {
		t.Errorf("Text = %q, want %q", result.Text, want)
	}
	if len(result.Records) != 2 {
		t.Errorf("Records = %d rows, want 2", len(result.Records))
	}
}

func TestSearchModeEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":[]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, "batch", srv.URL)
	result, err := c.Ask(context.Background(), "castles under 100k", agent.ModeSearch)
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if want := "No properties found matching your search."; result.Text != want {
		t.Errorf("Text = %q, want %q", result.Text, want)
	}
}

func TestUpstreamStatusMapping(t *testing.T) {
	tests := []struct {
		upstream int
		kind     agent.Kind
		status   int
	}{
		{http.StatusUnauthorized, agent.KindAuth, 401},
		{http.StatusNotFound, agent.KindNotFound, 404},
		{http.StatusBadRequest, agent.KindMalformed, 502},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.upstream)
		}))

		c := newTestClient(t, "batch", srv.URL)
		_, err := c.Ask(context.Background(), "q", agent.ModeAnalyst)
		srv.Close()

		if err == nil {
			t.Fatalf("upstream %d: Ask() error = nil, want failure", tt.upstream)
		}
		var ce *agent.CallError
		if !errors.As(err, &ce) {
			t.Fatalf("upstream %d: error %T, want *CallError", tt.upstream, err)
		}
		if ce.Kind != tt.kind {
			t.Errorf("upstream %d: kind = %q, want %q", tt.upstream, ce.Kind, tt.kind)
		}
		if ce.HTTPStatus() != tt.status {
			t.Errorf("upstream %d: HTTPStatus() = %d, want %d", tt.upstream, ce.HTTPStatus(), tt.status)
		}
	}
}

func TestInvalidVariantRejected(t *testing.T) {
	if _, err := agent.NewClient("grpc", testBackend("https://example.test")); err == nil {
		t.Error("NewClient(grpc) error = nil, want unknown variant failure")
	}
}

func TestParseMode(t *testing.T) {
	if m, err := agent.ParseMode(""); err != nil || m != agent.ModeAnalyst {
		t.Errorf("ParseMode(\"\") = %v, %v; want analyst default", m, err)
	}
	if _, err := agent.ParseMode("oracle"); err == nil {
		t.Error("ParseMode(oracle) error = nil, want invalid mode")
	}
}
