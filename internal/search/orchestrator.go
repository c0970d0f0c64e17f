package search

import (
	"log/slog"
	"time"

	"github.com/tbury/scatter/internal/token"
)

// Orchestrator fans a query out to its branches, one replica race per
// branch, and aggregates the results under a global deadline.
type Orchestrator struct {
	logger   *slog.Logger
	onResult func(BranchResult)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithResultObserver registers a callback invoked from the collection loop
// for every entry as it is recorded, in arrival order. The callback runs on
// the orchestration goroutine and must not block.
func WithResultObserver(fn func(BranchResult)) Option {
	return func(o *Orchestrator) {
		o.onResult = fn
	}
}

// New creates an orchestrator that logs through the given logger.
func New(logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{logger: logger}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Run orchestrates q under an absolute deadline. It creates the run's root
// token, scheduled to expire at the deadline, and returns once every branch
// has reported or the deadline has fired, whichever comes first. A deadline
// already in the past returns a timed-out aggregate without starting any
// replica call.
func (o *Orchestrator) Run(q Query, deadline time.Time) AggregateResult {
	root := token.NewRoot(deadline)
	// Release the deadline timer and any stragglers on early completion.
	defer root.Cancel(token.ReasonSuperseded)
	return o.RunUnder(q, root)
}

// RunUnder is Run with a caller-owned root token, so the embedding service
// can cancel a run explicitly (kill) while it is in flight. The caller
// remains responsible for cancelling root once RunUnder returns.
func (o *Orchestrator) RunUnder(q Query, root *token.Token) AggregateResult {
	start := time.Now()
	n := len(q.Branches)
	entries := make([]BranchResult, 0, n)

	record := func(r BranchResult) {
		entries = append(entries, r)
		branchResults.WithLabelValues(string(r.Outcome)).Inc()
		if o.onResult != nil {
			o.onResult(r)
		}
	}

	finish := func(status Status) AggregateResult {
		agg := AggregateResult{Entries: entries, Status: status}
		queriesTotal.WithLabelValues(string(status)).Inc()
		queryDuration.Observe(time.Since(start).Seconds())
		o.logger.Info("query finished",
			"term", q.Term,
			"status", string(status),
			"branches", n,
			"successes", agg.Successes(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return agg
	}

	if n == 0 {
		return finish(StatusCompleted)
	}

	// Root already terminal (past deadline, or killed before start): report
	// every branch cancelled without spawning anything.
	if root.Err() != nil {
		for _, b := range q.Branches {
			record(BranchResult{Branch: b.Name, Outcome: OutcomeCancelled, Err: root.Err()})
		}
		return finish(statusOf(entries))
	}

	queriesInFlight.Inc()
	defer queriesInFlight.Dec()

	type indexed struct {
		idx    int
		result BranchResult
	}
	// Buffered so racers finishing after the deadline never block.
	results := make(chan indexed, n)
	for i, b := range q.Branches {
		go func(idx int, b Branch) {
			results <- indexed{idx: idx, result: raceBranch(root, b, q.Term)}
		}(i, b)
	}

	reported := make([]bool, n)
	for len(entries) < n {
		select {
		case r := <-results:
			reported[r.idx] = true
			record(r.result)
			o.logger.Debug("branch reported",
				"term", q.Term,
				"branch", r.result.Branch,
				"outcome", string(r.result.Outcome),
			)
		case <-root.Done():
			// Deadline fired (or the run was killed). Drain results that were
			// already delivered, then record every branch that has not
			// reported as cancelled. The racers observe the root token and
			// unwind on their own; we do not wait for them.
		drain:
			for len(entries) < n {
				select {
				case r := <-results:
					reported[r.idx] = true
					record(r.result)
				default:
					break drain
				}
			}
			for i, b := range q.Branches {
				if !reported[i] {
					record(BranchResult{Branch: b.Name, Outcome: OutcomeCancelled, Err: root.Err()})
				}
			}
			return finish(statusOf(entries))
		}
	}

	return finish(statusOf(entries))
}

// statusOf derives the aggregate status from the collected entries. A run is
// completed only when every branch reported success or failure on its own; a
// cancelled entry means the deadline or a kill cut the branch off, which
// degrades the run to partial or timed_out depending on whether any success
// was collected.
func statusOf(entries []BranchResult) Status {
	successes, cancelled := 0, 0
	for _, e := range entries {
		switch e.Outcome {
		case OutcomeSuccess:
			successes++
		case OutcomeCancelled:
			cancelled++
		}
	}
	switch {
	case cancelled == 0:
		return StatusCompleted
	case successes > 0:
		return StatusPartial
	default:
		return StatusTimedOut
	}
}
