package core

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type stubLLM struct {
	response string
	err      error
	system   string
	user     string
}

func (s *stubLLM) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	s.system = systemPrompt
	s.user = userPrompt
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func TestPlannerParsesFencedJSON(t *testing.T) {
	llm := &stubLLM{response: "Here is the plan:\n```json\n" +
		`{"searches": [
			{"query": "solid state batteries 2026", "reason": "recent developments"},
			{"query": "solid state battery manufacturers", "reason": "market landscape"},
			{"query": "lithium metal anode challenges", "reason": "technical background"}
		]}` + "\n```"}
	planner := NewLLMPlanner(llm, 3, 10)

	plan, err := planner.Plan(context.Background(), "solid state batteries")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Searches) != 3 {
		t.Fatalf("expected 3 searches, got %d", len(plan.Searches))
	}
	if plan.Searches[0].Query != "solid state batteries 2026" {
		t.Fatalf("unexpected first query: %q", plan.Searches[0].Query)
	}
	if !strings.Contains(llm.user, "solid state batteries") {
		t.Fatalf("query missing from prompt: %q", llm.user)
	}
}

func TestPlannerRejectsOutOfBoundsPlan(t *testing.T) {
	llm := &stubLLM{response: `{"searches": [{"query": "only one", "reason": "r"}]}`}
	planner := NewLLMPlanner(llm, 3, 10)

	_, err := planner.Plan(context.Background(), "query")
	if err == nil {
		t.Fatal("expected error for undersized plan")
	}
	var planErr *PlanningError
	if !errors.As(err, &planErr) {
		t.Fatalf("expected *PlanningError, got %T", err)
	}
}

func TestPlannerRejectsEmptyFields(t *testing.T) {
	llm := &stubLLM{response: `{"searches": [
		{"query": "a", "reason": "r"},
		{"query": "", "reason": "r"},
		{"query": "c", "reason": "r"}
	]}`}
	planner := NewLLMPlanner(llm, 3, 10)

	if _, err := planner.Plan(context.Background(), "query"); err == nil {
		t.Fatal("expected error for empty query field")
	}
}

func TestPlannerWrapsProviderError(t *testing.T) {
	llm := &stubLLM{err: errors.New("API returned status: 500")}
	planner := NewLLMPlanner(llm, 3, 10)

	_, err := planner.Plan(context.Background(), "query")
	var planErr *PlanningError
	if !errors.As(err, &planErr) {
		t.Fatalf("expected *PlanningError, got %v", err)
	}
}

func TestSearcherBoundsSummaryLength(t *testing.T) {
	long := strings.Repeat("word ", 500)
	llm := &stubLLM{response: long}
	searcher := NewLLMSearcher(llm, 300)

	summary, err := searcher.Search(context.Background(), SearchItem{Query: "q", Reason: "r"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(strings.Fields(summary)); got != 300 {
		t.Fatalf("expected summary bounded to 300 words, got %d", got)
	}
}

func TestSearcherPromptIncludesReason(t *testing.T) {
	llm := &stubLLM{response: "findings"}
	searcher := NewLLMSearcher(llm, 0)

	if _, err := searcher.Search(context.Background(), SearchItem{Query: "grid storage", Reason: "capacity trends"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(llm.user, "Search term: grid storage") || !strings.Contains(llm.user, "Reason for searching: capacity trends") {
		t.Fatalf("prompt missing search term or reason: %q", llm.user)
	}
}

func TestSearcherEmptySummaryFails(t *testing.T) {
	llm := &stubLLM{response: "   \n"}
	searcher := NewLLMSearcher(llm, 0)

	_, err := searcher.Search(context.Background(), SearchItem{Query: "q", Reason: "r"})
	var searchErr *SearchError
	if !errors.As(err, &searchErr) {
		t.Fatalf("expected *SearchError, got %v", err)
	}
	if searchErr.Query != "q" {
		t.Fatalf("error should carry the query, got %q", searchErr.Query)
	}
}

func TestWriterParsesReport(t *testing.T) {
	llm := &stubLLM{response: `{
		"short_summary": "Two key findings.",
		"markdown_report": "# Grid Storage\n\nDetails...",
		"follow_up_questions": ["costs", "policy"]
	}`}
	writer := NewLLMWriter(llm)

	report, err := writer.Write(context.Background(), "grid storage", []string{"s1", "s2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.ShortSummary != "Two key findings." {
		t.Fatalf("unexpected summary: %q", report.ShortSummary)
	}
	if len(report.FollowUpQuestions) != 2 {
		t.Fatalf("expected 2 follow-ups, got %d", len(report.FollowUpQuestions))
	}
	if !strings.Contains(llm.user, "[1] s1") || !strings.Contains(llm.user, "[2] s2") {
		t.Fatalf("summaries missing from prompt: %q", llm.user)
	}
}

func TestWriterRejectsEmptyBody(t *testing.T) {
	llm := &stubLLM{response: `{"short_summary": "s", "markdown_report": "  "}`}
	writer := NewLLMWriter(llm)

	_, err := writer.Write(context.Background(), "q", []string{"s"})
	var synthErr *SynthesisError
	if !errors.As(err, &synthErr) {
		t.Fatalf("expected *SynthesisError, got %v", err)
	}
}

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{`{"a": 1}`, `{"a": 1}`},
		{"prose {\"a\": {\"b\": 2}} trailing", `{"a": {"b": 2}}`},
		{"no json at all", ""},
	}
	for _, c := range cases {
		if got := extractJSON(c.in); got != c.want {
			t.Fatalf("extractJSON(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
