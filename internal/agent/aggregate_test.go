package agent_test

import (
	"strings"
	"testing"

	"github.com/propgate/propgate/internal/agent"
)

func TestAggregatorFold(t *testing.T) {
	agg := agent.NewAggregator()

	events := []agent.Event{
		{Name: "response.status", Data: `{"status":"Interpreting question"}`},
		{Name: "response.thinking.delta", Data: `{"text":"Looking at listing prices "}`},
		{Name: "response.thinking.delta", Data: `{"text":"by postcode district."}`},
		{Name: "execution_trace", Data: `{"entries":[{"tool":"analyst","attributes":[{"key":"analyst.sql_query","value":"SELECT district, AVG(price) FROM listings GROUP BY district"}]}]}`},
		{Name: "response.text.delta", Data: `{"text":"Average prices "}`},
		{Name: "response.text.delta", Data: `{"text":"are highest "}`},
		{Name: "response.text.delta", Data: `{"text":"in SW3."}`},
		{Name: "response", Data: `{"content":[{"type":"text","text":"ignored, deltas already set text"}]}`},
	}
	for _, ev := range events {
		agg.Apply(ev)
	}

	if !agg.Done() {
		t.Fatal("Done() = false after terminal response event")
	}
	result := agg.Result()

	if want := "Average prices are highest in SW3."; result.Text != want {
		t.Errorf("Text = %q, want %q", result.Text, want)
	}
	if len(result.ExecutedQueries) != 1 {
		t.Fatalf("ExecutedQueries = %d entries, want 1", len(result.ExecutedQueries))
	}
	if result.ExecutedQueries[0].Tool != "analyst" {
		t.Errorf("ExecutedQueries[0].Tool = %q, want %q", result.ExecutedQueries[0].Tool, "analyst")
	}
	if result.Thinking == nil {
		t.Error("Thinking = nil, want status and delta fragments")
	}
	if len(result.Thinking) != 3 {
		t.Errorf("Thinking = %d fragments, want 3", len(result.Thinking))
	}
}

func TestAggregatorTerminalFallbackText(t *testing.T) {
	agg := agent.NewAggregator()

	agg.Apply(agent.Event{
		Name: "response",
		Data: `{"content":[{"type":"text","text":"Terminal answer."},{"type":"table","table":{"records":[{"price":450000}]}}]}`,
	})

	result := agg.Result()
	if result.Text != "Terminal answer." {
		t.Errorf("Text = %q, want terminal content text", result.Text)
	}
	if len(result.Records) != 1 {
		t.Errorf("Records = %d rows, want 1 from terminal table", len(result.Records))
	}
}

func TestAggregatorQueryDedup(t *testing.T) {
	agg := agent.NewAggregator()

	trace := `{"entries":[{"tool":"analyst","attributes":[{"key":"analyst.sql_query","value":"SELECT 1"}]}]}`
	agg.Apply(agent.Event{Name: "execution_trace", Data: trace})
	agg.Apply(agent.Event{Name: "execution_trace", Data: trace})
	agg.Apply(agent.Event{Name: "execution_trace", Data: `{"entries":[{"tool":"search","attributes":[{"key":"search.query","value":"flats in SW3"}]}]}`})
	// non-query attribute keys are ignored
	agg.Apply(agent.Event{Name: "execution_trace", Data: `{"entries":[{"tool":"misc","attributes":[{"key":"row_count","value":"42"}]}]}`})

	result := agg.Result()
	if len(result.ExecutedQueries) != 2 {
		t.Fatalf("ExecutedQueries = %d entries, want 2 (deduplicated)", len(result.ExecutedQueries))
	}
	if result.ExecutedQueries[1].SQL != "flats in SW3" {
		t.Errorf("ExecutedQueries[1].SQL = %q, want the .query attribute value", result.ExecutedQueries[1].SQL)
	}
}

func TestAggregatorChartOverwrite(t *testing.T) {
	agg := agent.NewAggregator()

	agg.Apply(agent.Event{Name: "response.chart", Data: `{"chart_spec":{"mark":"bar"}}`})
	agg.Apply(agent.Event{Name: "response.chart", Data: `{"chart_spec":{"mark":"line"}}`})

	result := agg.Result()
	if !strings.Contains(string(result.ChartSpec), "line") {
		t.Errorf("ChartSpec = %s, want the later chart to win", result.ChartSpec)
	}
}

func TestAggregatorTableSetOnce(t *testing.T) {
	agg := agent.NewAggregator()

	agg.Apply(agent.Event{Name: "response.table", Data: `{"records":[{"beds":2}]}`})
	agg.Apply(agent.Event{Name: "response.table", Data: `{"records":[{"beds":3},{"beds":4}]}`})

	result := agg.Result()
	if len(result.Records) != 1 {
		t.Errorf("Records = %d rows, want first table to stick", len(result.Records))
	}
}

func TestAggregatorColumnsRowsTable(t *testing.T) {
	agg := agent.NewAggregator()

	agg.Apply(agent.Event{
		Name: "response.table",
		Data: `{"columns":["district","avg_price"],"rows":[["SW3",1250000],["E14",520000]]}`,
	})

	result := agg.Result()
	if len(result.Records) != 2 {
		t.Fatalf("Records = %d rows, want 2", len(result.Records))
	}
	if result.Records[0]["district"] != "SW3" {
		t.Errorf("Records[0][district] = %v, want SW3", result.Records[0]["district"])
	}
}

func TestAggregatorErrorPreservesPartialText(t *testing.T) {
	agg := agent.NewAggregator()

	agg.Apply(agent.Event{Name: "response.text.delta", Data: `{"text":"Partial answer"}`})
	agg.Apply(agent.Event{Name: "error", Data: `{"message":"backend exploded"}`})

	if agg.Err() == nil {
		t.Fatal("Err() = nil after error event")
	}
	if agg.Done() {
		t.Error("Done() = true after error event, want false")
	}
	if got := agg.Result().Text; got != "Partial answer" {
		t.Errorf("Result().Text = %q, want partial text preserved", got)
	}
}
