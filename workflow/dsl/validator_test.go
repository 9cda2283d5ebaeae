package dsl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/decisionflow/types"
)

// stubCatalog answers publication-state lookups from fixed sets.
type stubCatalog struct {
	rulePacks map[string]bool
	paramSets map[string]bool
	agents    map[string]bool
}

func (c *stubCatalog) RulePackPublished(code string) bool     { return c.rulePacks[code] }
func (c *stubCatalog) ParameterSetPublished(code string) bool { return c.paramSets[code] }
func (c *stubCatalog) AgentProfilePublished(code string) bool { return c.agents[code] }

func allPublished() *stubCatalog {
	return &stubCatalog{
		rulePacks: map[string]bool{"rp-credit": true},
		paramSets: map[string]bool{"ps-limits": true},
		agents:    map[string]bool{"p-analyst": true},
	}
}

func issueCodes(r Result) []string {
	codes := make([]string, 0, len(r.Issues))
	for _, i := range r.Issues {
		codes = append(codes, i.Code)
	}
	return codes
}

// decisionSnapshot is a small well-formed workflow: trigger -> rule-eval ->
// risk-gate. Normalize fills the run-policy defaults publish requires.
func decisionSnapshot() *Snapshot {
	snap := &Snapshot{
		Mode: ModeDAG,
		Nodes: []Node{
			{ID: "start", Type: NodeTrigger},
			{ID: "rules", Type: NodeRuleEval, Config: map[string]any{"rule_pack_code": "rp-credit"}},
			{ID: "gate", Type: NodeRiskGate},
		},
		Edges: []Edge{
			{From: "start", To: "rules", Type: EdgeControl},
			{From: "rules", To: "gate", Type: EdgeData},
		},
	}
	snap.Nodes[1].OutputSchema = Schema{"rule_risk_level": FieldString}
	snap.Nodes[2].InputSchema = Schema{"rule_risk_level": FieldString}
	Normalize(snap)
	return snap
}

func publishContext() Context {
	return Context{DefinitionID: "def-1", OwnerUserID: "user-1"}
}

// ---------------------------------------------------------------------------
// Stage semantics
// ---------------------------------------------------------------------------

func TestValidateCleanSnapshotPublishes(t *testing.T) {
	t.Parallel()
	v := NewValidator(allPublished(), nil)
	res := v.Validate(decisionSnapshot(), types.StagePublish, publishContext())
	assert.True(t, res.Valid)
	assert.Empty(t, res.Issues)
}

func TestValidateSaveStageIsAdvisory(t *testing.T) {
	t.Parallel()
	snap := decisionSnapshot()
	snap.Edges = append(snap.Edges, Edge{From: "gate", To: "ghost", Type: EdgeControl})

	v := NewValidator(allPublished(), nil)
	res := v.Validate(snap, types.StageSave, publishContext())
	assert.True(t, res.Valid, "save never blocks")
	assert.Contains(t, issueCodes(res), CodeEdgeUnknownNode)

	res = v.Validate(snap, types.StagePublish, publishContext())
	assert.False(t, res.Valid, "publish blocks on any issue")
}

// ---------------------------------------------------------------------------
// Structural rules
// ---------------------------------------------------------------------------

func TestValidateStructuralRules(t *testing.T) {
	t.Parallel()

	off := false
	tests := []struct {
		name     string
		mutate   func(s *Snapshot)
		wantCode string
	}{
		{
			name: "edge to undeclared node",
			mutate: func(s *Snapshot) {
				s.Edges = append(s.Edges, Edge{From: "gate", To: "ghost", Type: EdgeControl})
			},
			wantCode: CodeEdgeUnknownNode,
		},
		{
			name: "edge to disabled node",
			mutate: func(s *Snapshot) {
				s.Nodes[2].Enabled = &off
			},
			wantCode: CodeEdgeDisabledNode,
		},
		{
			name: "join with single inbound edge",
			mutate: func(s *Snapshot) {
				s.Nodes = append(s.Nodes, Node{ID: "merge", Type: NodeJoin})
				s.Edges = append(s.Edges, Edge{From: "gate", To: "merge", Type: EdgeControl})
			},
			wantCode: CodeJoinInDegree,
		},
		{
			name: "condition edge without predicate",
			mutate: func(s *Snapshot) {
				s.Nodes = append(s.Nodes, Node{ID: "notify", Type: NodeNotify})
				s.Edges = append(s.Edges, Edge{From: "gate", To: "notify", Type: EdgeCondition})
			},
			wantCode: CodePredicateMissing,
		},
		{
			name: "condition edge with unknown operator",
			mutate: func(s *Snapshot) {
				s.Nodes = append(s.Nodes, Node{ID: "notify", Type: NodeNotify})
				s.Edges = append(s.Edges, Edge{
					From: "gate", To: "notify", Type: EdgeCondition,
					Condition: &Predicate{Field: "risk_level", Operator: "~=", Value: "LOW"},
				})
			},
			wantCode: CodeOperatorUnknown,
		},
		{
			name: "subflow targeting its own definition",
			mutate: func(s *Snapshot) {
				s.Nodes = append(s.Nodes, Node{
					ID: "sub", Type: NodeSubflowCall,
					Config: map[string]any{"workflow_definition_id": "def-1"},
				})
				s.Edges = append(s.Edges, Edge{From: "gate", To: "sub", Type: EdgeControl})
			},
			wantCode: CodeSubflowSelfRef,
		},
		{
			name: "duplicate node id",
			mutate: func(s *Snapshot) {
				s.Nodes = append(s.Nodes, Node{ID: "gate", Type: NodePassthrough})
			},
			wantCode: CodeDuplicateNodeID,
		},
		{
			name: "cycle",
			mutate: func(s *Snapshot) {
				s.Edges = append(s.Edges, Edge{From: "gate", To: "rules", Type: EdgeControl})
			},
			wantCode: CodeGraphCycle,
		},
		{
			name: "run policy defaults stripped",
			mutate: func(s *Snapshot) {
				s.RunPolicy.NodeDefaults = NodePolicy{}
			},
			wantCode: CodeRunPolicyMissing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			snap := decisionSnapshot()
			tt.mutate(snap)
			res := NewValidator(allPublished(), nil).Validate(snap, types.StagePublish, publishContext())
			assert.False(t, res.Valid)
			assert.Contains(t, issueCodes(res), tt.wantCode)
		})
	}
}

// ---------------------------------------------------------------------------
// Data-flow rules
// ---------------------------------------------------------------------------

func TestValidateSchemaIncompatibility(t *testing.T) {
	t.Parallel()
	snap := decisionSnapshot()
	snap.Nodes[2].InputSchema = Schema{"rule_risk_level": FieldNumber}

	res := NewValidator(allPublished(), nil).Validate(snap, types.StagePublish, publishContext())
	require.Contains(t, issueCodes(res), CodeSchemaIncompatible)
}

func TestValidateAnyTypeIsCompatible(t *testing.T) {
	t.Parallel()
	snap := decisionSnapshot()
	snap.Nodes[2].InputSchema = Schema{"rule_risk_level": FieldAny}

	res := NewValidator(allPublished(), nil).Validate(snap, types.StagePublish, publishContext())
	assert.True(t, res.Valid)
}

func TestValidateDataEdgeWithoutSchemas(t *testing.T) {
	t.Parallel()
	snap := decisionSnapshot()
	snap.Nodes[2].InputSchema = nil

	res := NewValidator(allPublished(), nil).Validate(snap, types.StagePublish, publishContext())
	assert.Contains(t, issueCodes(res), CodeDataEdgeNoSchema)
}

func TestValidateBindings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		bindings map[string]string
		wantCode string
	}{
		{
			name:     "unknown source node",
			bindings: map[string]string{"score": "{{nowhere.score}}"},
			wantCode: CodeBindingUnknownNode,
		},
		{
			name:     "field missing from declared output schema",
			bindings: map[string]string{"score": "{{rules.credit_score}}"},
			wantCode: CodeBindingUnknownField,
		},
		{
			name:     "undeclared parameter",
			bindings: map[string]string{"amount": "{{params.amount}}"},
			wantCode: CodeParamUndeclared,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			snap := decisionSnapshot()
			snap.Nodes[2].InputBindings = tt.bindings
			res := NewValidator(allPublished(), nil).Validate(snap, types.StagePublish, publishContext())
			assert.Contains(t, issueCodes(res), tt.wantCode)
		})
	}
}

func TestValidateLiteralBindingIsNotChecked(t *testing.T) {
	t.Parallel()
	snap := decisionSnapshot()
	snap.Nodes[2].InputBindings = map[string]string{"channel": "ops-email"}

	res := NewValidator(allPublished(), nil).Validate(snap, types.StagePublish, publishContext())
	assert.True(t, res.Valid)
}

// ---------------------------------------------------------------------------
// Governance rules
// ---------------------------------------------------------------------------

func TestValidateGovernanceOnlyAtPublish(t *testing.T) {
	t.Parallel()
	snap := decisionSnapshot()
	v := NewValidator(allPublished(), nil)

	res := v.Validate(snap, types.StageSave, Context{})
	assert.NotContains(t, issueCodes(res), CodeOwnerMissing)

	res = v.Validate(snap, types.StagePublish, Context{DefinitionID: "def-1"})
	assert.Contains(t, issueCodes(res), CodeOwnerMissing)
}

func TestValidateDecisionRequiresEvidence(t *testing.T) {
	t.Parallel()
	snap := &Snapshot{
		Mode: ModeDAG,
		Nodes: []Node{
			{ID: "start", Type: NodeTrigger},
			{ID: "gate", Type: NodeRiskGate},
		},
		Edges: []Edge{{From: "start", To: "gate", Type: EdgeControl}},
	}
	Normalize(snap)

	res := NewValidator(allPublished(), nil).Validate(snap, types.StagePublish, publishContext())
	assert.Contains(t, issueCodes(res), CodeEvidenceMissing)
}

func TestValidateUnpublishedArtifacts(t *testing.T) {
	t.Parallel()
	catalog := &stubCatalog{} // nothing published

	snap := decisionSnapshot()
	snap.Nodes[1].Config["parameter_set_code"] = "ps-limits"
	snap.Nodes = append(snap.Nodes, Node{
		ID: "debate", Type: NodeDebateRound,
		Config: map[string]any{
			"topic": "t",
			"participants": []any{
				map[string]any{"code": "a", "agent_profile_code": "p-analyst"},
			},
		},
	})
	snap.Edges = append(snap.Edges, Edge{From: "gate", To: "debate", Type: EdgeControl})

	res := NewValidator(catalog, nil).Validate(snap, types.StagePublish, publishContext())
	codes := issueCodes(res)
	assert.Contains(t, codes, CodeRulePackUnpublished)
	assert.Contains(t, codes, CodeParamSetUnpublished)
	assert.Contains(t, codes, CodeAgentUnpublished)
}

func TestValidateNilCatalogSkipsArtifactChecks(t *testing.T) {
	t.Parallel()
	res := NewValidator(nil, nil).Validate(decisionSnapshot(), types.StagePublish, publishContext())
	assert.True(t, res.Valid)
}

func TestValidateExperimentSplit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		split   ExperimentSplit
		wantBad bool
	}{
		{
			name:  "valid 70/30 split",
			split: ExperimentSplit{VersionAID: "v-a", VersionBID: "v-b", WeightA: 70, WeightB: 30},
		},
		{
			name:    "same version on both arms",
			split:   ExperimentSplit{VersionAID: "v-a", VersionBID: "v-a", WeightA: 50, WeightB: 50},
			wantBad: true,
		},
		{
			name:    "weights do not sum to 100",
			split:   ExperimentSplit{VersionAID: "v-a", VersionBID: "v-b", WeightA: 60, WeightB: 30},
			wantBad: true,
		},
		{
			name:    "negative weight",
			split:   ExperimentSplit{VersionAID: "v-a", VersionBID: "v-b", WeightA: 120, WeightB: -20},
			wantBad: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			vctx := publishContext()
			vctx.Experiment = &tt.split
			res := NewValidator(allPublished(), nil).Validate(decisionSnapshot(), types.StagePublish, vctx)
			if tt.wantBad {
				assert.Contains(t, issueCodes(res), CodeExperimentInvalid)
			} else {
				assert.True(t, res.Valid)
			}
		})
	}
}
