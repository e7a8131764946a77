package core

import (
	"context"
	"log"

	"golang.org/x/sync/errgroup"
)

// FanOutExecutor dispatches every item of a search plan concurrently and
// collects the summaries in plan order.
type FanOutExecutor struct {
	searcher Searcher
	limit    int
	logger   *log.Logger
}

// NewFanOutExecutor creates an executor running at most limit searches at a
// time (0 means no bound).
func NewFanOutExecutor(searcher Searcher, limit int) *FanOutExecutor {
	return &FanOutExecutor{
		searcher: searcher,
		limit:    limit,
		logger:   log.New(log.Writer(), "[FANOUT] ", log.LstdFlags),
	}
}

// Run executes all plan items concurrently and returns exactly
// len(plan.Searches) summaries in plan order. Results are collected by index,
// never by completion order. Any single failure fails the whole batch with a
// *FanOutError naming the failed indices; a caller-level cancellation
// propagates to every in-flight search.
func (f *FanOutExecutor) Run(ctx context.Context, plan SearchPlan) ([]string, error) {
	n := len(plan.Searches)
	results := make([]string, n)
	errs := make([]error, n)

	g, gctx := errgroup.WithContext(ctx)
	if f.limit > 0 {
		g.SetLimit(f.limit)
	}

	f.logger.Printf("Dispatching %d searches", n)
	for i, item := range plan.Searches {
		i, item := i, item
		// Each goroutine owns its own index; no lock needed.
		g.Go(func() error {
			summary, err := f.searcher.Search(gctx, item)
			results[i] = summary
			errs[i] = err
			return err
		})
	}
	_ = g.Wait()

	failures := make(map[int]error)
	for i, err := range errs {
		if err != nil {
			failures[i] = err
		}
	}
	if len(failures) > 0 {
		return nil, &FanOutError{Total: n, Failures: failures}
	}
	return results, nil
}
