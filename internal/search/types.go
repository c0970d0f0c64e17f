package search

import "github.com/tbury/scatter/internal/token"

// ReplicaFunc is an opaque collaborator call supplied by the embedding
// application (an HTTP request, a database query, ...). It either returns a
// value within finite time or observes the token and gives up. The engine
// never inspects the payload.
type ReplicaFunc func(tok *token.Token, term string) ([]byte, error)

// Branch is one logical branch of a query: a named, ordered set of replicas
// that all answer the same question.
type Branch struct {
	Name     string
	Replicas []ReplicaFunc
}

// Query is the immutable input to an orchestrated run.
type Query struct {
	Term     string
	Branches []Branch
}

// Outcome tags the terminal result of a replica attempt or a branch.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// RunnerOutcome is the terminal result of one replica attempt. Exactly one
// is produced per attempt and consumed by the owning racer.
type RunnerOutcome struct {
	Outcome Outcome
	Value   []byte
	Err     error
	Replica int
}

// BranchResult is the terminal result of one logical branch. Exactly one is
// produced per branch per run. Replica identifies the winning (or, for a
// failure, the last-reporting) replica by position in the branch.
type BranchResult struct {
	Branch  string
	Outcome Outcome
	Value   []byte
	Err     error
	Replica int
}

// Status summarizes an orchestrated run.
type Status string

const (
	// StatusCompleted means every branch reported success or failure before
	// the deadline.
	StatusCompleted Status = "completed"
	// StatusPartial means the deadline fired with branches outstanding, but
	// at least one success was collected.
	StatusPartial Status = "partial"
	// StatusTimedOut means the deadline fired before any success arrived.
	StatusTimedOut Status = "timed_out"
)

// AggregateResult is the orchestrator's output. Entries appear in arrival
// order, with branches that never reported appended as cancelled after the
// deadline fires. Each branch contributes exactly one entry.
type AggregateResult struct {
	Entries []BranchResult
	Status  Status
}

// Successes counts the entries that carry a value.
func (a AggregateResult) Successes() int {
	n := 0
	for _, e := range a.Entries {
		if e.Outcome == OutcomeSuccess {
			n++
		}
	}
	return n
}
