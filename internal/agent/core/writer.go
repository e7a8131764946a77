package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
)

const writerSystemPrompt = `You are a senior researcher tasked with writing a cohesive report for a research query. You will be provided with the original query, and some initial research done by a research assistant.
You should first come up with an outline for the report that describes the structure and flow of the report. Then, generate the report and return that as your final output.
The report should be in markdown format, and it should be lengthy and detailed. Aim for 5-10 pages of content, at least 1000 words.

OUTPUT FORMAT (JSON):
{
  "short_summary": "a short 2-3 sentence summary of the findings",
  "markdown_report": "the final comprehensive report in markdown format",
  "follow_up_questions": ["suggested topics to research further"]
}

Respond ONLY with valid JSON in that format. Do not include any other text or explanation.`

// LLMWriter synthesizes search summaries into a research report.
type LLMWriter struct {
	llm    LLMProvider
	logger *log.Logger
}

// NewLLMWriter creates a writer backed by the given LLM.
func NewLLMWriter(llm LLMProvider) *LLMWriter {
	return &LLMWriter{
		llm:    llm,
		logger: log.New(log.Writer(), "[WRITER] ", log.LstdFlags),
	}
}

// Write synthesizes the summaries into a report for the original query.
func (w *LLMWriter) Write(ctx context.Context, query string, summaries []string) (ResearchReport, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Original query: %s\n\nSummarized search results:\n", query)
	for i, summary := range summaries {
		fmt.Fprintf(&sb, "\n[%d] %s\n", i+1, summary)
	}

	response, err := w.llm.Generate(ctx, writerSystemPrompt, sb.String())
	if err != nil {
		return ResearchReport{}, &SynthesisError{Err: err}
	}

	jsonStr := extractJSON(response)
	if jsonStr == "" {
		return ResearchReport{}, &SynthesisError{Err: fmt.Errorf("no JSON found in response")}
	}
	var report ResearchReport
	if err := json.Unmarshal([]byte(jsonStr), &report); err != nil {
		return ResearchReport{}, &SynthesisError{Err: fmt.Errorf("failed to parse report: %w", err)}
	}
	if strings.TrimSpace(report.MarkdownReport) == "" {
		return ResearchReport{}, &SynthesisError{Err: fmt.Errorf("report body is empty")}
	}
	if strings.TrimSpace(report.ShortSummary) == "" {
		return ResearchReport{}, &SynthesisError{Err: fmt.Errorf("report summary is empty")}
	}

	w.logger.Printf("Report synthesized (%d chars, %d follow-ups)", len(report.MarkdownReport), len(report.FollowUpQuestions))
	return report, nil
}
