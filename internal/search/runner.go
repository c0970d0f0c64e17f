package search

import "github.com/tbury/scatter/internal/token"

// runReplica executes one replica attempt under tok. The collaborator call
// is raced against cancellation: if the token transitions while the call is
// pending, the runner reports cancelled immediately and the call's eventual
// result is discarded. The handoff channel is buffered so the abandoned call
// goroutine can still deliver and exit.
func runReplica(tok *token.Token, fn ReplicaFunc, term string, idx int) RunnerOutcome {
	if tok.Err() != nil {
		replicaAttempts.WithLabelValues(string(OutcomeCancelled)).Inc()
		return RunnerOutcome{Outcome: OutcomeCancelled, Err: tok.Err(), Replica: idx}
	}

	type callResult struct {
		value []byte
		err   error
	}
	done := make(chan callResult, 1)
	go func() {
		v, err := fn(tok, term)
		done <- callResult{value: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			replicaAttempts.WithLabelValues(string(OutcomeFailed)).Inc()
			return RunnerOutcome{Outcome: OutcomeFailed, Err: r.err, Replica: idx}
		}
		replicaAttempts.WithLabelValues(string(OutcomeSuccess)).Inc()
		return RunnerOutcome{Outcome: OutcomeSuccess, Value: r.value, Replica: idx}
	case <-tok.Done():
		replicaAttempts.WithLabelValues(string(OutcomeCancelled)).Inc()
		return RunnerOutcome{Outcome: OutcomeCancelled, Err: tok.Err(), Replica: idx}
	}
}
