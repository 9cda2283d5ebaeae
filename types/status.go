package types

// ExecutionStatus is the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionPending  ExecutionStatus = "PENDING"
	ExecutionRunning  ExecutionStatus = "RUNNING"
	ExecutionSuccess  ExecutionStatus = "SUCCESS"
	ExecutionFailed   ExecutionStatus = "FAILED"
	ExecutionCanceled ExecutionStatus = "CANCELED"
)

// Terminal reports whether the status is a terminal state.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionSuccess || s == ExecutionFailed || s == ExecutionCanceled
}

// NodeStatus is the lifecycle state of a single node execution.
type NodeStatus string

const (
	NodePending NodeStatus = "PENDING"
	NodeRunning NodeStatus = "RUNNING"
	NodeSuccess NodeStatus = "SUCCESS"
	NodeFailed  NodeStatus = "FAILED"
	NodeSkipped NodeStatus = "SKIPPED"
)

// Terminal reports whether the status is a terminal state.
func (s NodeStatus) Terminal() bool {
	return s == NodeSuccess || s == NodeFailed || s == NodeSkipped
}

// DefinitionStatus is the lifecycle state of a workflow definition.
type DefinitionStatus string

const (
	DefinitionDraft    DefinitionStatus = "DRAFT"
	DefinitionActive   DefinitionStatus = "ACTIVE"
	DefinitionArchived DefinitionStatus = "ARCHIVED"
)

// VersionStatus is the lifecycle state of a workflow version.
type VersionStatus string

const (
	VersionDraft      VersionStatus = "DRAFT"
	VersionPublished  VersionStatus = "PUBLISHED"
	VersionSuperseded VersionStatus = "SUPERSEDED"
)

// TriggerType identifies what started an execution.
type TriggerType string

const (
	TriggerManual    TriggerType = "MANUAL"
	TriggerAPI       TriggerType = "API"
	TriggerSchedule  TriggerType = "SCHEDULE"
	TriggerSubflow   TriggerType = "SUBFLOW"
	TriggerExperiment TriggerType = "EXPERIMENT"
)

// Visibility controls who may read a workflow and its executions.
type Visibility string

const (
	VisibilityPrivate Visibility = "PRIVATE"
	VisibilityPublic  Visibility = "PUBLIC"
)

// EventType identifies a timeline event. The emitted event sequence is the
// durable replay/audit record of an execution, not mere logging.
type EventType string

const (
	EventExecutionStarted  EventType = "EXECUTION_STARTED"
	EventLayersResolved    EventType = "DAG_LAYERS_RESOLVED"
	EventNodeStarted       EventType = "NODE_STARTED"
	EventNodeSucceeded     EventType = "NODE_SUCCEEDED"
	EventNodeFailed        EventType = "NODE_FAILED"
	EventNodeSkipped       EventType = "NODE_SKIPPED"
	EventExecutionSucceeded EventType = "EXECUTION_SUCCEEDED"
	EventExecutionFailed   EventType = "EXECUTION_FAILED"
	EventExecutionCanceled EventType = "EXECUTION_CANCELED"
)

// ValidationStage selects which rule families a DSL validation run applies.
type ValidationStage string

const (
	StageSave    ValidationStage = "SAVE"
	StagePublish ValidationStage = "PUBLISH"
)

// RiskLevel grades a decision or risk-gate signal.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// riskRank orders risk levels for threshold comparisons.
var riskRank = map[RiskLevel]int{
	RiskLow:      1,
	RiskMedium:   2,
	RiskHigh:     3,
	RiskCritical: 4,
}

// Rank returns the ordering weight of the risk level, 0 when unknown.
func (r RiskLevel) Rank() int {
	return riskRank[r]
}

// AtLeast reports whether r is at or above the given threshold.
func (r RiskLevel) AtLeast(threshold RiskLevel) bool {
	return r.Rank() >= threshold.Rank() && threshold.Rank() > 0
}
