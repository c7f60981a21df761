// Package cost persists LLM request cost records keyed by task, so an
// operator can answer "how much did this task cost" after the fact
// rather than only for the lifetime of one in-process llm.CostTracker.
package cost

import (
	"context"
	"time"

	"github.com/Inkotake/ojo-agent/pkg/llm"
)

// CostStore defines the interface for persistent cost record storage.
type CostStore interface {
	// Store saves a cost record.
	Store(ctx context.Context, record llm.CostRecord) error

	// GetByID retrieves a cost record by its ID.
	GetByID(ctx context.Context, id string) (*llm.CostRecord, error)

	// GetByRequestID retrieves a cost record by request ID.
	GetByRequestID(ctx context.Context, requestID string) (*llm.CostRecord, error)

	// GetByTaskID retrieves all cost records for a specific task.
	GetByTaskID(ctx context.Context, taskID string) ([]llm.CostRecord, error)

	// GetByUserID retrieves all cost records for a specific user.
	GetByUserID(ctx context.Context, userID string) ([]llm.CostRecord, error)

	// GetByProvider retrieves all cost records for a specific provider.
	GetByProvider(ctx context.Context, provider string) ([]llm.CostRecord, error)

	// GetByTimeRange retrieves cost records within a time range.
	GetByTimeRange(ctx context.Context, start, end time.Time) ([]llm.CostRecord, error)

	// Aggregate computes aggregated cost statistics.
	Aggregate(ctx context.Context, opts AggregateOptions) (*llm.CostAggregate, error)

	// AggregateByTaskID returns aggregates grouped by task.
	AggregateByTaskID(ctx context.Context, opts AggregateOptions) (map[string]llm.CostAggregate, error)

	// DeleteOlderThan removes records older than the specified duration.
	// Used for retention policy enforcement.
	DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error)

	// Close closes the store and releases resources.
	Close() error
}

// AggregateOptions specifies filtering options for aggregation queries.
type AggregateOptions struct {
	// StartTime filters records after this time (inclusive).
	StartTime *time.Time

	// EndTime filters records before this time (exclusive).
	EndTime *time.Time

	// Provider filters records for a specific provider.
	Provider string

	// TaskID filters records for a specific task.
	TaskID string

	// UserID filters records for a specific user.
	UserID string
}
