package search

import (
	"errors"

	"github.com/tbury/scatter/internal/token"
)

// errNoReplicas is reported for a branch declared without replicas.
var errNoReplicas = errors.New("branch has no replicas")

// raceBranch runs every replica of b concurrently under a child token and
// returns the branch's single terminal result. The first success wins the
// race and cancels the remaining replicas. If every replica fails, the
// last-arriving failure is reported; arrival order among simultaneous
// failures is not deterministic. If the parent token is cancelled before a
// success arrives, the branch reports cancelled without waiting for the
// outstanding replicas.
func raceBranch(parent *token.Token, b Branch, term string) BranchResult {
	if len(b.Replicas) == 0 {
		return BranchResult{Branch: b.Name, Outcome: OutcomeFailed, Err: errNoReplicas}
	}

	child := parent.Child()
	// Stop any replicas still running when the race is decided.
	defer child.Cancel(token.ReasonSuperseded)

	// Buffered to the replica count so stragglers never block on delivery
	// after the racer has returned.
	outcomes := make(chan RunnerOutcome, len(b.Replicas))
	for i, fn := range b.Replicas {
		go func(idx int, fn ReplicaFunc) {
			outcomes <- runReplica(child, fn, term, idx)
		}(i, fn)
	}

	var lastErr error
	lastReplica := 0
	for remaining := len(b.Replicas); remaining > 0; remaining-- {
		select {
		case o := <-outcomes:
			switch o.Outcome {
			case OutcomeSuccess:
				return BranchResult{
					Branch:  b.Name,
					Outcome: OutcomeSuccess,
					Value:   o.Value,
					Replica: o.Replica,
				}
			case OutcomeFailed:
				lastErr = o.Err
				lastReplica = o.Replica
			case OutcomeCancelled:
				// A replica observed cancellation; nothing to record.
			}
		case <-parent.Done():
			return BranchResult{Branch: b.Name, Outcome: OutcomeCancelled, Err: parent.Err()}
		}
	}

	if parent.Err() != nil || lastErr == nil {
		return BranchResult{Branch: b.Name, Outcome: OutcomeCancelled, Err: parent.Err()}
	}
	return BranchResult{Branch: b.Name, Outcome: OutcomeFailed, Err: lastErr, Replica: lastReplica}
}
