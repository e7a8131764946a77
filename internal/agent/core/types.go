package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// SearchItem is one search task inside a plan.
type SearchItem struct {
	Query  string `json:"query"`
	Reason string `json:"reason"`
}

// SearchPlan is an ordered set of search tasks. Order is significant: fan-out
// results come back in plan order.
type SearchPlan struct {
	Searches []SearchItem `json:"searches"`
}

// ResearchReport is the synthesized output of one run.
type ResearchReport struct {
	ShortSummary      string   `json:"short_summary"`
	MarkdownReport    string   `json:"markdown_report"`
	FollowUpQuestions []string `json:"follow_up_questions"`
}

// Stage identifies where a pipeline run currently is.
type Stage string

const (
	StageIdle       Stage = "idle"
	StagePlanning   Stage = "planning"
	StageSearching  Stage = "searching"
	StageWriting    Stage = "writing"
	StageDelivering Stage = "delivering"
	StageComplete   Stage = "complete"
	StageFailed     Stage = "failed"
)

// Terminal reports whether the stage is a final one.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageFailed
}

// RunStatus is a point-in-time snapshot of one pipeline run, safe to hand to
// callers.
type RunStatus struct {
	RunID       string    `json:"run_id"`
	Query       string    `json:"query"`
	Stage       Stage     `json:"stage"`
	Message     string    `json:"message,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}

// Planner produces a bounded search plan for a research query.
type Planner interface {
	Plan(ctx context.Context, query string) (SearchPlan, error)
}

// Searcher executes one search task and returns a bounded-length summary.
type Searcher interface {
	Search(ctx context.Context, item SearchItem) (string, error)
}

// Writer synthesizes the per-search summaries into a report.
type Writer interface {
	Write(ctx context.Context, query string, summaries []string) (ResearchReport, error)
}

// PlanningError indicates the planner could not produce a valid plan.
type PlanningError struct {
	Err error
}

func (e *PlanningError) Error() string { return fmt.Sprintf("planning failed: %v", e.Err) }
func (e *PlanningError) Unwrap() error { return e.Err }

// SearchError indicates a single search task failed.
type SearchError struct {
	Query string
	Err   error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("search %q failed: %v", e.Query, e.Err)
}
func (e *SearchError) Unwrap() error { return e.Err }

// SynthesisError indicates the writer could not produce a report.
type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string { return fmt.Sprintf("synthesis failed: %v", e.Err) }
func (e *SynthesisError) Unwrap() error { return e.Err }

// FanOutError aggregates the failures of one search batch. A single task
// failure fails the whole batch; the error names the failed indices so the
// operator can tell which searches to look at.
type FanOutError struct {
	Total    int
	Failures map[int]error
}

// FailedIndices returns the failed plan indices in ascending order.
func (e *FanOutError) FailedIndices() []int {
	idxs := make([]int, 0, len(e.Failures))
	for i := range e.Failures {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	return idxs
}

func (e *FanOutError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, i := range e.FailedIndices() {
		parts = append(parts, fmt.Sprintf("index %d: %v", i, e.Failures[i]))
	}
	return fmt.Sprintf("%d of %d searches failed: %s", len(e.Failures), e.Total, strings.Join(parts, "; "))
}
