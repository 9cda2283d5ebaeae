package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a row does not exist or is not visible to
// the caller. Authorization failures deliberately surface as not-found so
// resource existence never leaks.
var ErrNotFound = errors.New("not found")

// ErrDuplicateKey is returned when a unique constraint rejects a write,
// notably the (version, user, idempotency key) index on executions.
var ErrDuplicateKey = errors.New("duplicate key")

// DebateTraceFilter narrows a debate trace listing.
type DebateTraceFilter struct {
	RoundNumber     int    // 0 means all rounds
	ParticipantCode string // empty means all participants
	JudgementsOnly  bool
}

// Repository is the persistence contract consumed by the validator, the
// runtime and the service layer. Implementations must be safe for
// concurrent use.
type Repository interface {
	// Definitions
	CreateDefinition(ctx context.Context, def *WorkflowDefinition) error
	GetDefinition(ctx context.Context, id string) (*WorkflowDefinition, error)
	UpdateDefinition(ctx context.Context, def *WorkflowDefinition) error

	// Versions
	CreateVersion(ctx context.Context, v *WorkflowVersion) error
	GetVersion(ctx context.Context, id string) (*WorkflowVersion, error)
	UpdateVersion(ctx context.Context, v *WorkflowVersion) error
	LatestPublishedVersion(ctx context.Context, definitionID string) (*WorkflowVersion, error)
	LatestVersion(ctx context.Context, definitionID string) (*WorkflowVersion, error)

	// Executions
	CreateExecution(ctx context.Context, e *WorkflowExecution) error
	GetExecution(ctx context.Context, id string) (*WorkflowExecution, error)
	UpdateExecution(ctx context.Context, e *WorkflowExecution) error
	FindExecutionByKey(ctx context.Context, versionID, userID, key string) (*WorkflowExecution, error)

	// Node executions
	CreateNodeExecution(ctx context.Context, ne *NodeExecution) error
	UpdateNodeExecution(ctx context.Context, ne *NodeExecution) error
	ListNodeExecutions(ctx context.Context, executionID string) ([]*NodeExecution, error)

	// Debate traces
	CreateDebateTrace(ctx context.Context, t *DebateRoundTrace) error
	ListDebateTraces(ctx context.Context, executionID string, filter DebateTraceFilter) ([]*DebateRoundTrace, error)

	// Timeline events
	AppendEvent(ctx context.Context, e *TimelineEvent) error
	ListEvents(ctx context.Context, executionID string) ([]*TimelineEvent, error)

	// Experiments
	CreateExperiment(ctx context.Context, exp *WorkflowExperiment) error
	ActiveExperiment(ctx context.Context, definitionID string) (*WorkflowExperiment, error)
	CreateExperimentRun(ctx context.Context, run *WorkflowExperimentRun) error
	VariantRunCounts(ctx context.Context, experimentID string) (map[string]int64, error)
}
