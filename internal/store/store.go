package store

import (
	"context"
	"errors"

	"github.com/tbury/scatter/internal/model"
)

// ErrInvalidTransition is returned when a query run status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// QueryStats holds aggregate statistics over persisted query runs.
type QueryStats struct {
	Total          int            `json:"total"`
	CountByStatus  map[string]int `json:"count_by_status"`
	CountByOutcome map[string]int `json:"count_by_outcome"`
	AvgDurationMS  float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for query runs and their results.
type Store interface {
	CreateQueryRun(ctx context.Context, q *model.QueryRun) error
	GetQueryRun(ctx context.Context, id string) (*model.QueryRun, error)
	ListQueryRuns(ctx context.Context, limit, offset int) ([]*model.QueryRun, int, error)
	UpdateQueryRunStatus(ctx context.Context, id, status string) error
	UpdateQueryRun(ctx context.Context, q *model.QueryRun) error
	GetQueryStats(ctx context.Context) (*QueryStats, error)
	InsertResult(ctx context.Context, e *model.ResultEntry) error
	GetResults(ctx context.Context, queryID string) ([]model.ResultEntry, error)
	Close() error
}
