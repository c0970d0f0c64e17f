package model

import "time"

// Query run status constants.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusPartial   = "partial"
	StatusTimedOut  = "timed_out"
	StatusKilled    = "killed"
	StatusFailed    = "failed"
)

// validTransitions maps each status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusRunning: true,
		StatusKilled:  true,
		StatusFailed:  true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusPartial:   true,
		StatusTimedOut:  true,
		StatusKilled:    true,
		StatusFailed:    true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// TerminalStatus reports whether a status admits no further transitions.
func TerminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusPartial, StatusTimedOut, StatusKilled, StatusFailed:
		return true
	}
	return false
}

// ResultEntry is a single persisted branch result from a query run, in
// arrival order (seq).
type ResultEntry struct {
	ID        int64     `json:"id"`
	QueryID   string    `json:"query_id"`
	Seq       int       `json:"seq"`
	Branch    string    `json:"branch"`
	Outcome   string    `json:"outcome"`
	Value     []byte    `json:"value,omitempty"`
	Error     string    `json:"error,omitempty"`
	Replica   int       `json:"replica"`
	CreatedAt time.Time `json:"created_at"`
}

// QueryRun represents one orchestrated search submitted to the service.
type QueryRun struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	Term       string     `json:"term"`
	Branches   []string   `json:"branches,omitempty"`
	DeadlineMS *int       `json:"deadline_ms,omitempty"`
	Successes  *int       `json:"successes,omitempty"`
	Error      string     `json:"error,omitempty"`
	DurationMS *int       `json:"duration_ms,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
