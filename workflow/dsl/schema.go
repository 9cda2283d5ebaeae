package dsl

// Mode selects the overall execution shape of a workflow.
type Mode string

const (
	ModeLinear Mode = "LINEAR"
	ModeDAG    Mode = "DAG"
	ModeDebate Mode = "DEBATE"
)

// NodeType identifies the executor variant bound to a node.
type NodeType string

const (
	NodeTrigger       NodeType = "trigger"
	NodeDataFetch     NodeType = "data-fetch"
	NodeRuleEval      NodeType = "rule-eval"
	NodeRiskGate      NodeType = "risk-gate"
	NodeAgentCall     NodeType = "agent-call"
	NodeDebateRound   NodeType = "debate-round"
	NodeJudgeAgent    NodeType = "judge-agent"
	NodeParallelSplit NodeType = "parallel-split"
	NodeJoin          NodeType = "join"
	NodeSubflowCall   NodeType = "subflow-call"
	NodeNotify        NodeType = "notify"
	NodeFormulaCalc   NodeType = "formula-calc"
	NodePassthrough   NodeType = "passthrough"
)

// ValidNodeTypes is the closed set of recognized node types.
var ValidNodeTypes = map[NodeType]bool{
	NodeTrigger: true, NodeDataFetch: true, NodeRuleEval: true,
	NodeRiskGate: true, NodeAgentCall: true, NodeDebateRound: true,
	NodeJudgeAgent: true, NodeParallelSplit: true, NodeJoin: true,
	NodeSubflowCall: true, NodeNotify: true, NodeFormulaCalc: true,
	NodePassthrough: true,
}

// EdgeType distinguishes how an edge participates in scheduling.
type EdgeType string

const (
	// EdgeControl orders execution without carrying data.
	EdgeControl EdgeType = "control-edge"
	// EdgeData orders execution and carries source output fields downstream.
	EdgeData EdgeType = "data-edge"
	// EdgeCondition orders execution but is traversed only when its
	// predicate holds against the source node's output.
	EdgeCondition EdgeType = "condition-edge"
)

// OnErrorPolicy decides what an exhausted node failure does to the execution.
type OnErrorPolicy string

const (
	// OnErrorFailFast aborts the whole execution.
	OnErrorFailFast OnErrorPolicy = "FAIL_FAST"
	// OnErrorSkip marks the node SKIPPED and continues.
	OnErrorSkip OnErrorPolicy = "SKIP"
	// OnErrorContinue marks the node FAILED but proceeds.
	OnErrorContinue OnErrorPolicy = "CONTINUE"
)

// FieldType names a declared schema field type.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldNumber FieldType = "number"
	FieldBool   FieldType = "bool"
	FieldObject FieldType = "object"
	FieldList   FieldType = "list"
	FieldAny    FieldType = "any"
)

// Compatible reports whether a source field type may feed a target field.
func (f FieldType) Compatible(target FieldType) bool {
	if f == target || f == FieldAny || target == FieldAny {
		return true
	}
	return false
}

// Schema maps declared field names to their types.
type Schema map[string]FieldType

// Predicate is the boolean gate on a condition edge, evaluated against the
// source node's output.
type Predicate struct {
	Field    string `yaml:"field" json:"field"`
	Operator string `yaml:"operator" json:"operator"`
	Value    any    `yaml:"value" json:"value"`
}

// ValidOperators is the recognized predicate operator set.
var ValidOperators = map[string]bool{
	"==": true, "!=": true, ">": true, ">=": true, "<": true, "<=": true,
	"contains": true,
}

// NodePolicy is the per-node runtime policy; zero fields inherit from
// RunPolicy.NodeDefaults.
type NodePolicy struct {
	TimeoutMs      int           `yaml:"timeout_ms" json:"timeoutMs"`
	RetryCount     int           `yaml:"retry_count" json:"retryCount"`
	RetryBackoffMs int           `yaml:"retry_backoff_ms" json:"retryBackoffMs"`
	OnError        OnErrorPolicy `yaml:"on_error" json:"onError"`
}

// RunPolicy holds the execution-wide node defaults.
type RunPolicy struct {
	NodeDefaults NodePolicy `yaml:"node_defaults" json:"nodeDefaults"`
}

// ParamDef declares one member of the workflow's parameter set.
type ParamDef struct {
	Name     string    `yaml:"name" json:"name"`
	Type     FieldType `yaml:"type" json:"type"`
	Required bool      `yaml:"required,omitempty" json:"required,omitempty"`
	Default  any       `yaml:"default,omitempty" json:"default,omitempty"`
}

// Node is one declared workflow step.
type Node struct {
	ID            string            `yaml:"id" json:"id"`
	Type          NodeType          `yaml:"type" json:"type"`
	Name          string            `yaml:"name,omitempty" json:"name,omitempty"`
	Enabled       *bool             `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Config        map[string]any    `yaml:"config,omitempty" json:"config,omitempty"`
	InputSchema   Schema            `yaml:"input_schema,omitempty" json:"inputSchema,omitempty"`
	OutputSchema  Schema            `yaml:"output_schema,omitempty" json:"outputSchema,omitempty"`
	InputBindings map[string]string `yaml:"input_bindings,omitempty" json:"inputBindings,omitempty"`
	Policy        *NodePolicy       `yaml:"policy,omitempty" json:"policy,omitempty"`
}

// IsEnabled treats a missing enabled flag as true.
func (n *Node) IsEnabled() bool {
	return n.Enabled == nil || *n.Enabled
}

// Edge connects two nodes.
type Edge struct {
	From      string     `yaml:"from" json:"from"`
	To        string     `yaml:"to" json:"to"`
	Type      EdgeType   `yaml:"type" json:"type"`
	Condition *Predicate `yaml:"condition,omitempty" json:"condition,omitempty"`
}

// Snapshot is the immutable DSL content of one workflow version.
type Snapshot struct {
	Mode      Mode       `yaml:"mode" json:"mode"`
	Params    []ParamDef `yaml:"params,omitempty" json:"params,omitempty"`
	Nodes     []Node     `yaml:"nodes" json:"nodes"`
	Edges     []Edge     `yaml:"edges" json:"edges"`
	RunPolicy RunPolicy  `yaml:"run_policy" json:"runPolicy"`
}

// NodeByID returns the declared node with the given ID.
func (s *Snapshot) NodeByID(id string) (*Node, bool) {
	for i := range s.Nodes {
		if s.Nodes[i].ID == id {
			return &s.Nodes[i], true
		}
	}
	return nil, false
}

// EnabledNodes returns all nodes with enabled != false.
func (s *Snapshot) EnabledNodes() []Node {
	out := make([]Node, 0, len(s.Nodes))
	for _, n := range s.Nodes {
		if n.IsEnabled() {
			out = append(out, n)
		}
	}
	return out
}

// ParamNames returns the declared parameter set member names.
func (s *Snapshot) ParamNames() map[string]bool {
	names := make(map[string]bool, len(s.Params))
	for _, p := range s.Params {
		names[p.Name] = true
	}
	return names
}

// SubflowConfig is the typed config of a subflow-call node.
type SubflowConfig struct {
	WorkflowDefinitionID string `yaml:"workflow_definition_id" json:"workflowDefinitionId"`
	WorkflowVersionID    string `yaml:"workflow_version_id,omitempty" json:"workflowVersionId,omitempty"`
	OutputKeyPrefix      string `yaml:"output_key_prefix,omitempty" json:"outputKeyPrefix,omitempty"`
}

// JoinPolicy selects how many upstream branches a join waits for.
type JoinPolicy string

const (
	JoinAllRequired JoinPolicy = "ALL_REQUIRED"
	JoinAny         JoinPolicy = "ANY"
)
