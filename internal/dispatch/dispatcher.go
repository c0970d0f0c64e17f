package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tbury/scatter/internal/model"
	"github.com/tbury/scatter/internal/search"
	"github.com/tbury/scatter/internal/store"
	"github.com/tbury/scatter/internal/token"
	"github.com/tbury/scatter/internal/upstream"
)

// DefaultDeadlineMS is the query deadline in milliseconds when none is specified.
const DefaultDeadlineMS = 500

// Dispatcher orchestrates asynchronous query execution.
type Dispatcher struct {
	store     store.Store
	upstreams *upstream.Registry
	logger    *slog.Logger
	wg        sync.WaitGroup
	broker    *ResultBroker

	mu      sync.Mutex
	running map[string]*token.Token
}

// NewDispatcher creates a new query dispatcher.
func NewDispatcher(s store.Store, reg *upstream.Registry, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:     s,
		upstreams: reg,
		logger:    logger,
		broker:    NewResultBroker(),
		running:   make(map[string]*token.Token),
	}
}

// Broker returns the dispatcher's result broker for SSE subscription.
func (d *Dispatcher) Broker() *ResultBroker {
	return d.broker
}

// Submit creates a query run record and launches asynchronous execution in a
// goroutine. The run is stored with status "pending" before returning. The
// goroutine operates on a copy of the run to avoid data races with the
// caller.
func (d *Dispatcher) Submit(ctx context.Context, q *model.QueryRun) error {
	if err := d.store.CreateQueryRun(ctx, q); err != nil {
		return fmt.Errorf("create query run: %w", err)
	}

	qCopy := *q
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.execute(&qCopy)
	}()

	return nil
}

// Run creates a query run record and executes it synchronously, returning
// once the run has reached a terminal status.
func (d *Dispatcher) Run(ctx context.Context, q *model.QueryRun) error {
	if err := d.store.CreateQueryRun(ctx, q); err != nil {
		return fmt.Errorf("create query run: %w", err)
	}

	qCopy := *q
	d.execute(&qCopy)
	return nil
}

// Kill cancels the root token of an in-flight run with reason explicit.
// It reports whether a live run with that ID was found; the run's record
// transitions to "killed" once the orchestration unwinds.
func (d *Dispatcher) Kill(id string) bool {
	d.mu.Lock()
	root, ok := d.running[id]
	d.mu.Unlock()

	if !ok {
		return false
	}
	root.Cancel(token.ReasonExplicit)
	return true
}

// Wait blocks until all in-flight query goroutines complete.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// execute runs the query lifecycle: pending→running→terminal.
func (d *Dispatcher) execute(q *model.QueryRun) {
	// Close the result stream when execution finishes, regardless of outcome.
	defer d.broker.Close(q.ID)

	// Transition to running.
	if err := d.store.UpdateQueryRunStatus(context.Background(), q.ID, model.StatusRunning); err != nil {
		d.logger.Error("failed to transition to running", "query_id", q.ID, "error", err)
		d.finishFailed(q.ID, nil, fmt.Sprintf("failed to start: %v", err))
		return
	}

	// Capture start time immediately after the running transition so that
	// started_at stays consistent across success, failure, and kill paths.
	start := time.Now()

	// Determine the deadline. Absolute, derived once at the root; child
	// tokens inherit it by propagation rather than re-deriving durations.
	deadlineMS := DefaultDeadlineMS
	if q.DeadlineMS != nil && *q.DeadlineMS > 0 {
		deadlineMS = *q.DeadlineMS
	}
	deadline := start.Add(time.Duration(deadlineMS) * time.Millisecond)

	// Resolve the branch set.
	branches, err := d.upstreams.Branches(q.Branches...)
	if err != nil {
		d.finishFailed(q.ID, &start, fmt.Sprintf("resolve upstreams: %v", err))
		return
	}

	root := token.NewRoot(deadline)
	d.mu.Lock()
	d.running[q.ID] = root
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.running, q.ID)
		d.mu.Unlock()
		root.Cancel(token.ReasonSuperseded)
	}()

	// The observer dual-writes each arriving entry: persist to SQLite for
	// historical viewing, then publish to the broker for real-time SSE. It
	// runs on the collection goroutine, so seq needs no synchronization.
	seq := 0
	observer := func(r search.BranchResult) {
		entry := model.ResultEntry{
			QueryID:   q.ID,
			Seq:       seq,
			Branch:    r.Branch,
			Outcome:   string(r.Outcome),
			Value:     r.Value,
			Replica:   r.Replica,
			CreatedAt: time.Now().UTC(),
		}
		if r.Err != nil {
			entry.Error = r.Err.Error()
		}
		seq++

		if err := d.store.InsertResult(context.Background(), &entry); err != nil {
			d.logger.Error("failed to persist result", "query_id", q.ID, "seq", entry.Seq, "error", err)
		}
		d.broker.Publish(q.ID, entry)
	}

	orch := search.New(d.logger, search.WithResultObserver(observer))
	agg := orch.RunUnder(search.Query{Term: q.Term, Branches: branches}, root)
	durationMS := int(time.Since(start).Milliseconds())

	status := recordStatus(agg.Status)
	// An explicit root cancel means the run was killed; the engine reports
	// the aggregate by its own status rule, the record says who stopped it.
	if root.Reason() == token.ReasonExplicit {
		status = model.StatusKilled
	}

	now := time.Now().UTC()
	successes := agg.Successes()
	finished := &model.QueryRun{
		ID:         q.ID,
		Status:     status,
		Successes:  &successes,
		DurationMS: &durationMS,
		StartedAt:  &start,
		FinishedAt: &now,
	}

	if err := d.store.UpdateQueryRun(context.Background(), finished); err != nil {
		d.logger.Error("failed to update finished query run", "query_id", q.ID, "error", err)
	}
}

// finishFailed marks a query run as failed with the given error message.
// startedAt may be nil if execution never started. A record that already
// reached a terminal status (e.g. killed through the API before execution
// started) is left untouched.
func (d *Dispatcher) finishFailed(id string, startedAt *time.Time, errMsg string) {
	if err := d.store.UpdateQueryRunStatus(context.Background(), id, model.StatusFailed); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			d.logger.Warn("query run already terminal, not marking failed", "query_id", id)
			return
		}
		d.logger.Error("failed to transition to failed", "query_id", id, "error", err)
		return
	}

	now := time.Now().UTC()
	var durationMS int
	if startedAt != nil {
		durationMS = int(time.Since(*startedAt).Milliseconds())
	}

	q := &model.QueryRun{
		ID:         id,
		Status:     model.StatusFailed,
		Error:      errMsg,
		DurationMS: &durationMS,
		StartedAt:  startedAt,
		FinishedAt: &now,
	}

	if err := d.store.UpdateQueryRun(context.Background(), q); err != nil {
		d.logger.Error("failed to update failed query run", "query_id", id, "error", err)
	}
}

// recordStatus maps an engine aggregate status to a record status.
func recordStatus(s search.Status) string {
	switch s {
	case search.StatusPartial:
		return model.StatusPartial
	case search.StatusTimedOut:
		return model.StatusTimedOut
	default:
		return model.StatusCompleted
	}
}
