package store

import (
	"encoding/json"
	"time"

	"github.com/BaSui01/decisionflow/types"
)

// WorkflowDefinition is the identity row of a workflow. It is created on
// first save and never hard-deleted while executions reference it.
type WorkflowDefinition struct {
	ID                string `gorm:"primaryKey;size:64"`
	Name              string `gorm:"size:255"`
	Mode              string `gorm:"size:16"`
	UsageMethod       string `gorm:"size:32"`
	OwnerUserID       string `gorm:"size:64;index"`
	Visibility        types.Visibility `gorm:"size:16"`
	Status            types.DefinitionStatus `gorm:"size:16"`
	LatestVersionCode int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// WorkflowVersion is one immutable DSL snapshot of a definition, tagged
// with a monotonically increasing version code.
type WorkflowVersion struct {
	ID           string `gorm:"primaryKey;size:64"`
	DefinitionID string `gorm:"size:64;index:idx_version_def"`
	VersionCode  int    `gorm:"index:idx_version_def"`
	Status       types.VersionStatus `gorm:"size:16"`
	DSLSnapshot  string `gorm:"type:text"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	PublishedAt  *time.Time
}

// WorkflowExecution is one trigger of one version.
type WorkflowExecution struct {
	ID                string `gorm:"primaryKey;size:64"`
	DefinitionID      string `gorm:"size:64;index"`
	VersionID         string `gorm:"size:64;uniqueIndex:idx_exec_idem,priority:1"`
	VersionCode       int
	TriggerType       types.TriggerType `gorm:"size:16"`
	TriggerUserID     string `gorm:"size:64;uniqueIndex:idx_exec_idem,priority:2"`
	// IdempotencyKey is NULL for keyless triggers so the unique index only
	// constrains deliberate replays.
	IdempotencyKey    *string `gorm:"size:128;uniqueIndex:idx_exec_idem,priority:3"`
	Status            types.ExecutionStatus `gorm:"size:16;index"`
	FailureCategory   types.FailureCategory `gorm:"size:32"`
	FailureCode       types.FailureCode     `gorm:"size:64"`
	FailureMessage    string `gorm:"type:text"`
	ParamSnapshot     string `gorm:"type:text"`
	OutputSnapshot    string `gorm:"type:text"`
	SourceExecutionID string `gorm:"size:64;index"`
	StartedAt         time.Time
	FinishedAt        *time.Time
	DurationMs        int64
}

// NodeExecution is one dispatched (execution, node) pair.
type NodeExecution struct {
	ID              string `gorm:"primaryKey;size:64"`
	ExecutionID     string `gorm:"size:64;index"`
	NodeID          string `gorm:"size:128"`
	NodeType        string `gorm:"size:32"`
	Status          types.NodeStatus `gorm:"size:16"`
	Attempts        int
	InputSnapshot   string `gorm:"type:text"`
	OutputSnapshot  string `gorm:"type:text"`
	FailureCategory types.FailureCategory `gorm:"size:32"`
	FailureCode     types.FailureCode     `gorm:"size:64"`
	FailureMessage  string `gorm:"type:text"`
	StartedAt       time.Time
	FinishedAt      *time.Time
	DurationMs      int64
}

// DebateRoundTrace is one participant statement or judgement per round.
type DebateRoundTrace struct {
	ID                 string `gorm:"primaryKey;size:64"`
	ExecutionID        string `gorm:"size:64;index"`
	NodeID             string `gorm:"size:128"`
	RoundNumber        int
	ParticipantCode    string `gorm:"size:64"`
	ParticipantRole    string `gorm:"size:64"`
	Stance             string `gorm:"size:32"`
	Confidence         float64
	StatementText      string `gorm:"type:text"`
	IsJudgement        bool
	JudgementVerdict   string `gorm:"size:64"`
	JudgementReasoning string `gorm:"type:text"`
	CreatedAt          time.Time
}

// TimelineEvent is one durable entry of an execution's event log.
type TimelineEvent struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	ExecutionID string `gorm:"size:64;index:idx_event_exec"`
	Seq         int64  `gorm:"index:idx_event_exec"`
	Type        types.EventType `gorm:"size:32"`
	NodeID      string `gorm:"size:128"`
	Message     string `gorm:"type:text"`
	Payload     string `gorm:"type:text"`
	Timestamp   time.Time
}

// WorkflowExperiment binds two published versions under a traffic split.
type WorkflowExperiment struct {
	ID           string `gorm:"primaryKey;size:64"`
	DefinitionID string `gorm:"size:64;index"`
	VersionAID   string `gorm:"size:64"`
	VersionBID   string `gorm:"size:64"`
	WeightA      float64
	WeightB      float64
	Status       string `gorm:"size:16;index"` // ACTIVE, PAUSED, COMPLETED
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ExperimentActive marks a running experiment.
const ExperimentActive = "ACTIVE"

// WorkflowExperimentRun records which variant one execution ran under.
type WorkflowExperimentRun struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	ExperimentID string `gorm:"size:64;index"`
	ExecutionID  string `gorm:"size:64"`
	Variant      string `gorm:"size:8"` // "A" or "B"
	Success      bool
	DurationMs   int64
	CreatedAt    time.Time
}

// NullableKey maps an empty idempotency key onto NULL.
func NullableKey(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// MarshalSnapshot serializes a map column value, returning "{}" on nil.
func MarshalSnapshot(m map[string]any) string {
	if len(m) == 0 {
		return "{}"
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// UnmarshalSnapshot deserializes a map column value.
func UnmarshalSnapshot(s string) map[string]any {
	if s == "" {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return map[string]any{}
	}
	return m
}
