package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/decisionflow/types"
	"github.com/BaSui01/decisionflow/workflow/dsl"
)

func gateNode(cfg map[string]any) *dsl.Node {
	return &dsl.Node{ID: "gate", Type: dsl.NodeRiskGate, Config: cfg}
}

func TestRiskGatePassesLowRisk(t *testing.T) {
	t.Parallel()
	out, err := executeRiskGate(context.Background(), gateNode(nil), map[string]any{
		"rule_risk_level": "LOW",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "LOW", out["risk_level"])
	assert.Equal(t, true, out["risk_gate_passed"])
	assert.Equal(t, false, out["hard_block"])
}

func TestRiskGateHighestSignalWins(t *testing.T) {
	t.Parallel()
	out, err := executeRiskGate(context.Background(), gateNode(nil), map[string]any{
		"rule_risk_level":  "LOW",
		"fraud_risk_level": "HIGH",
		"riskLevel":        "MEDIUM",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "HIGH", out["risk_level"])
	assert.Equal(t, []string{"fraud_risk_level"}, out["blockers"])
	// HIGH is below the default CRITICAL threshold, so no hard block.
	assert.Equal(t, true, out["risk_gate_passed"])
}

func TestRiskGateHardBlock(t *testing.T) {
	t.Parallel()
	out, err := executeRiskGate(context.Background(), gateNode(nil), map[string]any{
		"fraud_risk_level": "CRITICAL",
	}, nil)
	require.Error(t, err)

	var typed *types.Error
	require.True(t, errors.As(err, &typed))
	assert.Equal(t, types.FailureRiskGate, typed.Category)
	assert.Equal(t, types.CodeRiskHardBlock, typed.Code)

	// The gate still reports its evaluation alongside the block.
	require.NotNil(t, out)
	assert.Equal(t, true, out["hard_block"])
	assert.Equal(t, "CRITICAL", out["risk_level"])
}

func TestRiskGateConfiguredThreshold(t *testing.T) {
	t.Parallel()
	_, err := executeRiskGate(context.Background(), gateNode(map[string]any{
		"block_when_risk_gte": "HIGH",
	}), map[string]any{
		"rule_risk_level": "HIGH",
	}, nil)
	require.Error(t, err)
}

func TestRiskGateDegradeAction(t *testing.T) {
	t.Parallel()
	out, err := executeRiskGate(context.Background(), gateNode(map[string]any{
		"degrade_actions": map[string]any{"HIGH": "REVIEW_ONLY"},
	}), map[string]any{
		"rule_risk_level": "HIGH",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "REVIEW_ONLY", out["degrade_action"])
}

func TestRiskGateIgnoresUnknownLevels(t *testing.T) {
	t.Parallel()
	out, err := executeRiskGate(context.Background(), gateNode(nil), map[string]any{
		"rule_risk_level": "BANANA",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "LOW", out["risk_level"])
}
