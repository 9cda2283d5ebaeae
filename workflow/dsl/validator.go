package dsl

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/BaSui01/decisionflow/types"
)

// Issue codes. Structural rules are WF1xx, data-flow rules WF2xx, and
// governance rules WF3xx (PUBLISH stage only).
const (
	CodeEdgeUnknownNode    = "WF101"
	CodeEdgeDisabledNode   = "WF102"
	CodeJoinInDegree       = "WF103"
	CodePredicateMissing   = "WF104"
	CodeOperatorUnknown    = "WF105"
	CodeRunPolicyMissing   = "WF106"
	CodeSubflowSelfRef     = "WF107"
	CodeDuplicateNodeID    = "WF108"
	CodeGraphCycle         = "WF109"
	CodeSchemaIncompatible = "WF201"
	CodeBindingUnknownNode = "WF202"
	CodeBindingUnknownField = "WF203"
	CodeParamUndeclared    = "WF204"
	CodeDataEdgeNoSchema   = "WF205"
	CodeOwnerMissing       = "WF301"
	CodeEvidenceMissing    = "WF302"
	CodeRulePackUnpublished = "WF303"
	CodeParamSetUnpublished = "WF304"
	CodeAgentUnpublished   = "WF305"
	CodeExperimentInvalid  = "WF306"
)

// Issue is one coded validation finding.
type Issue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	NodeID  string `json:"nodeId,omitempty"`
	Edge    string `json:"edge,omitempty"`
}

// Result is the outcome of one validation run. Validation never fails with
// an error; it always returns a (possibly empty) issue list. At SAVE the
// issues are advisory; at PUBLISH any issue blocks.
type Result struct {
	Valid  bool    `json:"valid"`
	Issues []Issue `json:"issues"`
}

// Catalog answers publication-state questions about external artifacts
// referenced from node configs.
type Catalog interface {
	RulePackPublished(code string) bool
	ParameterSetPublished(code string) bool
	AgentProfilePublished(code string) bool
}

// ExperimentSplit is the A/B configuration validated under WF306.
type ExperimentSplit struct {
	VersionAID string  `json:"versionAId"`
	VersionBID string  `json:"versionBId"`
	WeightA    float64 `json:"weightA"`
	WeightB    float64 `json:"weightB"`
}

// Context carries the definition-level facts a snapshot alone cannot answer.
type Context struct {
	DefinitionID string
	OwnerUserID  string
	Experiment   *ExperimentSplit
}

// splitWeightTolerance bounds how far A+B weights may drift from 100.
const splitWeightTolerance = 0.01

// Validator performs static analysis over a workflow snapshot.
type Validator struct {
	catalog Catalog
	logger  *zap.Logger
}

// NewValidator creates a validator. A nil catalog skips artifact checks.
func NewValidator(catalog Catalog, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		catalog: catalog,
		logger:  logger.With(zap.String("component", "dsl_validator")),
	}
}

// Validate runs the rule families appropriate to the stage. Each violated
// rule appends exactly one coded issue naming the offending node or edge.
func (v *Validator) Validate(snap *Snapshot, stage types.ValidationStage, vctx Context) Result {
	var issues []Issue

	issues = append(issues, v.structural(snap, stage, vctx)...)
	issues = append(issues, v.dataFlow(snap)...)
	if stage == types.StagePublish {
		issues = append(issues, v.governance(snap, vctx)...)
	}

	valid := stage != types.StagePublish || len(issues) == 0
	v.logger.Debug("dsl validated",
		zap.String("stage", string(stage)),
		zap.Int("issues", len(issues)),
		zap.Bool("valid", valid),
	)
	return Result{Valid: valid, Issues: issues}
}

// structural covers the WF1xx family.
func (v *Validator) structural(snap *Snapshot, stage types.ValidationStage, vctx Context) []Issue {
	var issues []Issue

	nodes := make(map[string]*Node, len(snap.Nodes))
	for i := range snap.Nodes {
		n := &snap.Nodes[i]
		if _, dup := nodes[n.ID]; dup || n.ID == "" {
			issues = append(issues, Issue{
				Code:    CodeDuplicateNodeID,
				Message: fmt.Sprintf("node id %q is empty or declared more than once", n.ID),
				NodeID:  n.ID,
			})
			continue
		}
		nodes[n.ID] = n
	}

	inDegree := make(map[string]int)
	for _, e := range snap.Edges {
		edgeLabel := e.From + "->" + e.To
		for _, end := range []string{e.From, e.To} {
			n, ok := nodes[end]
			if !ok {
				issues = append(issues, Issue{
					Code:    CodeEdgeUnknownNode,
					Message: fmt.Sprintf("edge %s references undeclared node %q", edgeLabel, end),
					NodeID:  end,
					Edge:    edgeLabel,
				})
				continue
			}
			if !n.IsEnabled() {
				issues = append(issues, Issue{
					Code:    CodeEdgeDisabledNode,
					Message: fmt.Sprintf("edge %s references disabled node %q", edgeLabel, end),
					NodeID:  end,
					Edge:    edgeLabel,
				})
			}
		}
		inDegree[e.To]++

		if e.Type == EdgeCondition {
			if e.Condition == nil || e.Condition.Field == "" {
				issues = append(issues, Issue{
					Code:    CodePredicateMissing,
					Message: fmt.Sprintf("condition edge %s has no well-formed predicate", edgeLabel),
					Edge:    edgeLabel,
				})
			} else if !ValidOperators[e.Condition.Operator] {
				issues = append(issues, Issue{
					Code:    CodeOperatorUnknown,
					Message: fmt.Sprintf("condition edge %s uses unrecognized operator %q", edgeLabel, e.Condition.Operator),
					Edge:    edgeLabel,
				})
			}
		}
	}

	for id, n := range nodes {
		if n.Type == NodeJoin && inDegree[id] < 2 {
			issues = append(issues, Issue{
				Code:    CodeJoinInDegree,
				Message: fmt.Sprintf("join node %q requires at least 2 incoming edges, has %d", id, inDegree[id]),
				NodeID:  id,
			})
		}
		if n.Type == NodeSubflowCall {
			var cfg SubflowConfig
			if err := DecodeConfig(n.Config, &cfg); err == nil &&
				vctx.DefinitionID != "" && cfg.WorkflowDefinitionID == vctx.DefinitionID {
				issues = append(issues, Issue{
					Code:    CodeSubflowSelfRef,
					Message: fmt.Sprintf("subflow-call node %q targets its own workflow definition", id),
					NodeID:  id,
				})
			}
		}
	}

	if cycleNodes := findCycle(snap); len(cycleNodes) > 0 {
		issues = append(issues, Issue{
			Code:    CodeGraphCycle,
			Message: fmt.Sprintf("workflow graph contains a cycle through nodes %v", cycleNodes),
			NodeID:  cycleNodes[0],
		})
	}

	if stage == types.StagePublish {
		d := snap.RunPolicy.NodeDefaults
		if d.TimeoutMs <= 0 || d.OnError == "" {
			issues = append(issues, Issue{
				Code:    CodeRunPolicyMissing,
				Message: "run policy node defaults must declare timeout_ms and on_error before publish",
			})
		}
	}

	return issues
}

// dataFlow covers the WF2xx family.
func (v *Validator) dataFlow(snap *Snapshot) []Issue {
	var issues []Issue
	params := snap.ParamNames()

	for _, e := range snap.Edges {
		if e.Type != EdgeData {
			continue
		}
		edgeLabel := e.From + "->" + e.To
		from, okFrom := snap.NodeByID(e.From)
		to, okTo := snap.NodeByID(e.To)
		if !okFrom || !okTo {
			continue // WF101 already reported
		}
		if len(from.OutputSchema) == 0 || len(to.InputSchema) == 0 {
			issues = append(issues, Issue{
				Code:    CodeDataEdgeNoSchema,
				Message: fmt.Sprintf("data edge %s requires declared output and input schemas", edgeLabel),
				Edge:    edgeLabel,
			})
			continue
		}
		for field, targetType := range to.InputSchema {
			sourceType, ok := from.OutputSchema[field]
			if !ok {
				continue // fed by bindings or params, checked below
			}
			if !sourceType.Compatible(targetType) {
				issues = append(issues, Issue{
					Code: CodeSchemaIncompatible,
					Message: fmt.Sprintf("data edge %s: field %q is %s upstream but %s downstream",
						edgeLabel, field, sourceType, targetType),
					NodeID: to.ID,
					Edge:   edgeLabel,
				})
			}
		}
	}

	for i := range snap.Nodes {
		n := &snap.Nodes[i]
		for target, expr := range n.InputBindings {
			ref, ok := ParseBinding(expr)
			if !ok {
				continue // literal binding
			}
			if ref.IsParam {
				root, _, _ := cutPath(ref.Field)
				if !params[root] {
					issues = append(issues, Issue{
						Code:    CodeParamUndeclared,
						Message: fmt.Sprintf("node %q binding %q references undeclared parameter %q", n.ID, target, root),
						NodeID:  n.ID,
					})
				}
				continue
			}
			source, exists := snap.NodeByID(ref.NodeID)
			if !exists {
				issues = append(issues, Issue{
					Code:    CodeBindingUnknownNode,
					Message: fmt.Sprintf("node %q binding %q references unknown node %q", n.ID, target, ref.NodeID),
					NodeID:  n.ID,
				})
				continue
			}
			if len(source.OutputSchema) > 0 {
				root, _, _ := cutPath(ref.Field)
				if _, declared := source.OutputSchema[root]; !declared {
					issues = append(issues, Issue{
						Code: CodeBindingUnknownField,
						Message: fmt.Sprintf("node %q binding %q references field %q not declared in %q output schema",
							n.ID, target, root, ref.NodeID),
						NodeID: n.ID,
					})
				}
			}
		}
	}

	return issues
}

// governance covers the WF3xx family, applied only at PUBLISH.
func (v *Validator) governance(snap *Snapshot, vctx Context) []Issue {
	var issues []Issue

	if vctx.OwnerUserID == "" {
		issues = append(issues, Issue{
			Code:    CodeOwnerMissing,
			Message: "workflow definition must have ownerUserId set before publish",
		})
	}

	hasDecision := false
	hasEvidence := false
	for _, n := range snap.EnabledNodes() {
		switch n.Type {
		case NodeRiskGate, NodeJudgeAgent:
			hasDecision = true
		case NodeDataFetch, NodeRuleEval, NodeAgentCall, NodeDebateRound:
			hasEvidence = true
		}
	}
	if hasDecision && !hasEvidence {
		issues = append(issues, Issue{
			Code:    CodeEvidenceMissing,
			Message: "decision output requires at least one data, model or rule evidence node upstream",
		})
	}

	if v.catalog != nil {
		for i := range snap.Nodes {
			n := &snap.Nodes[i]
			if code, ok := n.Config["rule_pack_code"].(string); ok && code != "" && !v.catalog.RulePackPublished(code) {
				issues = append(issues, Issue{
					Code:    CodeRulePackUnpublished,
					Message: fmt.Sprintf("node %q references rule pack %q which is not PUBLISHED", n.ID, code),
					NodeID:  n.ID,
				})
			}
			if code, ok := n.Config["parameter_set_code"].(string); ok && code != "" && !v.catalog.ParameterSetPublished(code) {
				issues = append(issues, Issue{
					Code:    CodeParamSetUnpublished,
					Message: fmt.Sprintf("node %q references parameter set %q which is not PUBLISHED", n.ID, code),
					NodeID:  n.ID,
				})
			}
			for _, code := range agentProfileRefs(n) {
				if !v.catalog.AgentProfilePublished(code) {
					issues = append(issues, Issue{
						Code:    CodeAgentUnpublished,
						Message: fmt.Sprintf("node %q references agent profile %q which is not PUBLISHED", n.ID, code),
						NodeID:  n.ID,
					})
				}
			}
		}
	}

	if exp := vctx.Experiment; exp != nil {
		sum := exp.WeightA + exp.WeightB
		switch {
		case exp.VersionAID == "" || exp.VersionBID == "" || exp.VersionAID == exp.VersionBID:
			issues = append(issues, Issue{
				Code:    CodeExperimentInvalid,
				Message: "experiment must bind two distinct published versions",
			})
		case exp.WeightA < 0 || exp.WeightB < 0 || math.Abs(sum-100) > splitWeightTolerance:
			issues = append(issues, Issue{
				Code:    CodeExperimentInvalid,
				Message: fmt.Sprintf("experiment traffic weights must sum to 100, got %.2f", sum),
			})
		}
	}

	return issues
}

// agentProfileRefs collects agent profile codes from a node config, both the
// single agent_profile_code form and the debate participants list.
func agentProfileRefs(n *Node) []string {
	var codes []string
	if code, ok := n.Config["agent_profile_code"].(string); ok && code != "" {
		codes = append(codes, code)
	}
	if participants, ok := n.Config["participants"].([]any); ok {
		for _, p := range participants {
			m, ok := p.(map[string]any)
			if !ok {
				continue
			}
			if code, ok := m["agent_profile_code"].(string); ok && code != "" {
				codes = append(codes, code)
			}
		}
	}
	return codes
}

// findCycle runs Kahn's algorithm over enabled nodes and returns the node
// ids left unprocessed, which together contain every cycle.
func findCycle(snap *Snapshot) []string {
	enabled := make(map[string]bool)
	for _, n := range snap.EnabledNodes() {
		enabled[n.ID] = true
	}

	inDegree := make(map[string]int, len(enabled))
	adj := make(map[string][]string, len(enabled))
	for id := range enabled {
		inDegree[id] = 0
	}
	for _, e := range snap.Edges {
		if !enabled[e.From] || !enabled[e.To] {
			continue
		}
		adj[e.From] = append(adj[e.From], e.To)
		inDegree[e.To]++
	}

	queue := make([]string, 0, len(enabled))
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	processed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		processed++
		for _, next := range adj[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if processed == len(enabled) {
		return nil
	}
	var remaining []string
	for id, deg := range inDegree {
		if deg > 0 {
			remaining = append(remaining, id)
		}
	}
	return remaining
}

// cutPath splits a dot path into its root segment and remainder.
func cutPath(path string) (root, rest string, hasRest bool) {
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			return path[:i], path[i+1:], true
		}
	}
	return path, "", false
}
