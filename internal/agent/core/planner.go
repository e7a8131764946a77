package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
)

// LLMProvider is the slice of the LLM client the pipeline agents need.
type LLMProvider interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// LLMPlanner turns a research query into a bounded search plan using an LLM.
type LLMPlanner struct {
	llm         LLMProvider
	minSearches int
	maxSearches int
	logger      *log.Logger
}

// NewLLMPlanner creates a planner bounded to [minSearches, maxSearches] plan
// items.
func NewLLMPlanner(llm LLMProvider, minSearches, maxSearches int) *LLMPlanner {
	if minSearches < 1 {
		minSearches = 3
	}
	if maxSearches < minSearches {
		maxSearches = minSearches
	}
	return &LLMPlanner{
		llm:         llm,
		minSearches: minSearches,
		maxSearches: maxSearches,
		logger:      log.New(log.Writer(), "[PLANNER] ", log.LstdFlags),
	}
}

func (p *LLMPlanner) buildSystemPrompt() string {
	return fmt.Sprintf(`You are an expert research strategist. Your task is to analyze a research query and create a comprehensive search strategy.

For each query, you must:
1. Identify key concepts and entities to research
2. Generate diverse search terms that cover different aspects:
   - Direct searches for the main topic
   - Related concepts and background information
   - Recent developments and updates
   - Comparative or alternative perspectives
   - Specific data, statistics, or case studies

Guidelines:
- Create between %d and %d distinct search queries
- Ensure queries are specific and likely to yield high-quality results
- Include temporal qualifiers (e.g., "2025", "latest") when relevant
- Mix broad overview searches with specific deep-dive queries
- Avoid redundant or overlapping search terms

OUTPUT FORMAT (JSON):
{
  "searches": [
    {
      "query": "the search term to use for the web search",
      "reason": "your reasoning for why this search is important to the query"
    }
  ]
}

Respond ONLY with valid JSON in that format. Do not include any other text or explanation.`, p.minSearches, p.maxSearches)
}

// Plan creates a search plan for the given query.
func (p *LLMPlanner) Plan(ctx context.Context, query string) (SearchPlan, error) {
	p.logger.Printf("Creating search plan for: %s", truncate(query, 100))

	response, err := p.llm.Generate(ctx, p.buildSystemPrompt(), fmt.Sprintf("Query: %s", query))
	if err != nil {
		return SearchPlan{}, &PlanningError{Err: err}
	}

	plan, err := p.parsePlanResponse(response)
	if err != nil {
		return SearchPlan{}, &PlanningError{Err: err}
	}

	if n := len(plan.Searches); n < p.minSearches || n > p.maxSearches {
		return SearchPlan{}, &PlanningError{
			Err: fmt.Errorf("plan has %d searches, want between %d and %d", n, p.minSearches, p.maxSearches),
		}
	}
	for i, item := range plan.Searches {
		if strings.TrimSpace(item.Query) == "" {
			return SearchPlan{}, &PlanningError{Err: fmt.Errorf("search %d has an empty query", i)}
		}
		if strings.TrimSpace(item.Reason) == "" {
			return SearchPlan{}, &PlanningError{Err: fmt.Errorf("search %d has an empty reason", i)}
		}
	}

	p.logger.Printf("Generated %d search terms", len(plan.Searches))
	return plan, nil
}

func (p *LLMPlanner) parsePlanResponse(response string) (SearchPlan, error) {
	jsonStr := extractJSON(response)
	if jsonStr == "" {
		return SearchPlan{}, fmt.Errorf("no JSON found in response")
	}
	var plan SearchPlan
	if err := json.Unmarshal([]byte(jsonStr), &plan); err != nil {
		return SearchPlan{}, fmt.Errorf("failed to parse plan: %w", err)
	}
	return plan, nil
}

// extractJSON pulls the first balanced JSON object out of an LLM response,
// tolerating surrounding prose or markdown fences.
func extractJSON(response string) string {
	start := -1
	depth := 0
	for i, ch := range response {
		if ch == '{' {
			if depth == 0 {
				start = i
			}
			depth++
		} else if ch == '}' {
			if depth > 0 {
				depth--
			}
			if depth == 0 && start != -1 {
				return response[start : i+1]
			}
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
