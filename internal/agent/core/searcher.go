package core

import (
	"context"
	"fmt"
	"log"
	"strings"
)

const searcherSystemPrompt = "You are a research assistant. Given a search term, you search the web for that term and " +
	"produce a concise summary of the results. The summary must be 2-3 paragraphs and less than 300 " +
	"words. Capture the main points. Write succinctly, no need to have complete sentences or good " +
	"grammar. This will be consumed by someone synthesizing a report, so it's vital you capture the " +
	"essence and ignore any fluff. Do not include any additional commentary other than the summary itself."

// LLMSearcher answers one search task with a bounded-length summary.
type LLMSearcher struct {
	llm      LLMProvider
	maxWords int
	logger   *log.Logger
}

// NewLLMSearcher creates a searcher whose summaries are truncated to maxWords
// words (0 disables the bound).
func NewLLMSearcher(llm LLMProvider, maxWords int) *LLMSearcher {
	return &LLMSearcher{
		llm:      llm,
		maxWords: maxWords,
		logger:   log.New(log.Writer(), "[SEARCH] ", log.LstdFlags),
	}
}

// Search runs one search task and returns its summary.
func (s *LLMSearcher) Search(ctx context.Context, item SearchItem) (string, error) {
	userPrompt := fmt.Sprintf("Search term: %s\nReason for searching: %s", item.Query, item.Reason)

	summary, err := s.llm.Generate(ctx, searcherSystemPrompt, userPrompt)
	if err != nil {
		return "", &SearchError{Query: item.Query, Err: err}
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", &SearchError{Query: item.Query, Err: fmt.Errorf("empty summary")}
	}

	if s.maxWords > 0 {
		if words := strings.Fields(summary); len(words) > s.maxWords {
			summary = strings.Join(words[:s.maxWords], " ")
		}
	}
	s.logger.Printf("Summarized %q (%d words)", truncate(item.Query, 60), len(strings.Fields(summary)))
	return summary, nil
}
