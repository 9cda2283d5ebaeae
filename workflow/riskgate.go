package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/decisionflow/types"
	"github.com/BaSui01/decisionflow/workflow/dsl"
)

// riskGateConfig is the typed config of a risk-gate node.
type riskGateConfig struct {
	RiskProfileCode  string          `yaml:"risk_profile_code" json:"riskProfileCode"`
	BlockWhenRiskGte types.RiskLevel `yaml:"block_when_risk_gte" json:"blockWhenRiskGte"`
	// DegradeActions maps a risk level to the action taken when the gate
	// does not hard-block: HOLD, REDUCE or REVIEW_ONLY.
	DegradeActions map[types.RiskLevel]string `yaml:"degrade_actions" json:"degradeActions"`
}

// executeRiskGate evaluates the risk signals present in the node input
// against the configured thresholds. A hard block fails the node with a
// RISK_GATE_HARD_BLOCK error, which the runtime escalates as FAIL_FAST
// regardless of the node's own onError policy.
func executeRiskGate(_ context.Context, node *dsl.Node, input map[string]any, _ *ExecContext) (map[string]any, error) {
	var cfg riskGateConfig
	if err := dsl.DecodeConfig(node.Config, &cfg); err != nil {
		return nil, types.NewError(types.FailureRuntime, types.CodeNodeInternal, "invalid risk-gate config").
			WithCause(err).WithNode(node.ID)
	}
	if cfg.BlockWhenRiskGte == "" {
		cfg.BlockWhenRiskGte = types.RiskCritical
	}

	level, blockers := collectRiskSignals(input)

	hardBlock := level.AtLeast(cfg.BlockWhenRiskGte)
	degrade := ""
	if !hardBlock && cfg.DegradeActions != nil {
		degrade = cfg.DegradeActions[level]
	}

	out := map[string]any{
		"risk_level":        string(level),
		"risk_profile_code": cfg.RiskProfileCode,
		"risk_gate_passed":  !hardBlock,
		"risk_gate_blocked": hardBlock,
		"hard_block":        hardBlock,
		"blockers":          blockers,
	}
	if degrade != "" {
		out["degrade_action"] = degrade
	}

	if hardBlock {
		return out, types.NewError(types.FailureRiskGate, types.CodeRiskHardBlock,
			fmt.Sprintf("risk level %s is at or above block threshold %s", level, cfg.BlockWhenRiskGte)).
			WithNode(node.ID)
	}
	return out, nil
}

// collectRiskSignals finds every riskLevel-shaped field in the gate's input
// and returns the most severe level plus the list of fields that carried a
// blocking-grade signal.
func collectRiskSignals(input map[string]any) (types.RiskLevel, []string) {
	highest := types.RiskLow
	var blockers []string
	for key, val := range input {
		if !strings.Contains(strings.ToLower(key), "risk_level") && key != "riskLevel" {
			continue
		}
		level := types.RiskLevel(strings.ToUpper(fmt.Sprintf("%v", val)))
		if level.Rank() == 0 {
			continue
		}
		if level.Rank() > highest.Rank() {
			highest = level
		}
		if level.AtLeast(types.RiskHigh) {
			blockers = append(blockers, key)
		}
	}
	return highest, blockers
}
