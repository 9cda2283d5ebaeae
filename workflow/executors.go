package workflow

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"

	"github.com/BaSui01/decisionflow/types"
	"github.com/BaSui01/decisionflow/workflow/dsl"
)

// executeTrigger seeds the execution context: its output is the parameter
// snapshot merged with any resolved input bindings.
func executeTrigger(_ context.Context, _ *dsl.Node, input map[string]any, ec *ExecContext) (map[string]any, error) {
	out := make(map[string]any, len(ec.Params)+len(input))
	for k, v := range ec.Params {
		out[k] = v
	}
	for k, v := range input {
		out[k] = v
	}
	return out, nil
}

// executePassthrough forwards its input unchanged.
func executePassthrough(_ context.Context, _ *dsl.Node, input map[string]any, _ *ExecContext) (map[string]any, error) {
	return input, nil
}

// splitConfig is the typed config of a parallel-split node.
type splitConfig struct {
	SplitStrategy string `yaml:"split_strategy" json:"splitStrategy"`
}

// executeParallelSplit clones its input to every downstream branch. The
// branches themselves dispatch concurrently as members of the next layer.
func executeParallelSplit(_ context.Context, node *dsl.Node, input map[string]any, _ *ExecContext) (map[string]any, error) {
	var cfg splitConfig
	if err := dsl.DecodeConfig(node.Config, &cfg); err != nil {
		return nil, types.NewError(types.FailureRuntime, types.CodeNodeInternal, "invalid parallel-split config").
			WithCause(err).WithNode(node.ID)
	}
	if cfg.SplitStrategy == "" {
		cfg.SplitStrategy = "CLONE"
	}
	out := make(map[string]any, len(input)+1)
	for k, v := range input {
		out[k] = v
	}
	out["split_strategy"] = cfg.SplitStrategy
	return out, nil
}

// executeJoin merges the branch outputs that reached it. The runtime's edge
// gating already enforced the node's join policy before dispatch; here the
// input map carries the merged upstream fields.
func executeJoin(_ context.Context, _ *dsl.Node, input map[string]any, _ *ExecContext) (map[string]any, error) {
	return input, nil
}

// formulaConfig is the typed config of a formula-calc node.
type formulaConfig struct {
	Formula   string `yaml:"formula" json:"formula"`
	OutputKey string `yaml:"output_key" json:"outputKey"`
}

// executeFormulaCalc evaluates an expr-lang formula over the node input and
// the execution parameters.
func executeFormulaCalc(_ context.Context, node *dsl.Node, input map[string]any, ec *ExecContext) (map[string]any, error) {
	var cfg formulaConfig
	if err := dsl.DecodeConfig(node.Config, &cfg); err != nil || cfg.Formula == "" {
		return nil, types.NewError(types.FailureRuntime, types.CodeFormulaEval, "formula-calc node requires a formula").
			WithCause(err).WithNode(node.ID)
	}
	if cfg.OutputKey == "" {
		cfg.OutputKey = "result"
	}

	env := make(map[string]any, len(input)+1)
	for k, v := range input {
		env[k] = v
	}
	env["params"] = ec.Params

	program, err := expr.Compile(cfg.Formula, expr.Env(env), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, types.NewError(types.FailureRuntime, types.CodeFormulaEval,
			fmt.Sprintf("compile formula %q", cfg.Formula)).WithCause(err).WithNode(node.ID)
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return nil, types.NewError(types.FailureRuntime, types.CodeFormulaEval,
			fmt.Sprintf("evaluate formula %q", cfg.Formula)).WithCause(err).WithNode(node.ID)
	}
	return map[string]any{cfg.OutputKey: result}, nil
}

// fetchConfig is the typed config of a data-fetch node.
type fetchConfig struct {
	Source string         `yaml:"source" json:"source"`
	Query  map[string]any `yaml:"query" json:"query"`
}

type dataFetchExecutor struct {
	fetcher DataFetcher
}

func (e *dataFetchExecutor) Execute(ctx context.Context, node *dsl.Node, input map[string]any, _ *ExecContext) (map[string]any, error) {
	if e.fetcher == nil {
		return nil, missingCollaborator(node, "DataFetcher")
	}
	var cfg fetchConfig
	if err := dsl.DecodeConfig(node.Config, &cfg); err != nil {
		return nil, types.NewError(types.FailureData, types.CodeDataFetch, "invalid data-fetch config").
			WithCause(err).WithNode(node.ID)
	}
	query := make(map[string]any, len(cfg.Query)+len(input))
	for k, v := range cfg.Query {
		query[k] = v
	}
	for k, v := range input {
		query[k] = v
	}
	out, err := e.fetcher.Fetch(ctx, cfg.Source, query)
	if err != nil {
		return nil, types.AsError(err, types.FailureData, types.CodeDataFetch).WithNode(node.ID).WithRetryable(true)
	}
	return out, nil
}

// ruleEvalConfig is the typed config of a rule-eval node.
type ruleEvalConfig struct {
	RulePackCode string `yaml:"rule_pack_code" json:"rulePackCode"`
}

type ruleEvalExecutor struct {
	rules RuleEvaluator
}

func (e *ruleEvalExecutor) Execute(ctx context.Context, node *dsl.Node, input map[string]any, _ *ExecContext) (map[string]any, error) {
	if e.rules == nil {
		return nil, missingCollaborator(node, "RuleEvaluator")
	}
	var cfg ruleEvalConfig
	if err := dsl.DecodeConfig(node.Config, &cfg); err != nil || cfg.RulePackCode == "" {
		return nil, types.NewError(types.FailureRule, types.CodeRuleEval, "rule-eval node requires rule_pack_code").
			WithCause(err).WithNode(node.ID)
	}
	out, err := e.rules.EvaluateRulePack(ctx, cfg.RulePackCode, input)
	if err != nil {
		return nil, types.AsError(err, types.FailureRule, types.CodeRuleEval).WithNode(node.ID)
	}
	return out, nil
}

// agentCallConfig is the typed config of an agent-call node.
type agentCallConfig struct {
	AgentProfileCode string `yaml:"agent_profile_code" json:"agentProfileCode"`
	Prompt           string `yaml:"prompt" json:"prompt"`
}

type agentCallExecutor struct {
	agents AgentInvoker
}

func (e *agentCallExecutor) Execute(ctx context.Context, node *dsl.Node, input map[string]any, ec *ExecContext) (map[string]any, error) {
	if e.agents == nil {
		return nil, missingCollaborator(node, "AgentInvoker")
	}
	var cfg agentCallConfig
	if err := dsl.DecodeConfig(node.Config, &cfg); err != nil || cfg.AgentProfileCode == "" {
		return nil, types.NewError(types.FailureAgent, types.CodeAgentCall, "agent-call node requires agent_profile_code").
			WithCause(err).WithNode(node.ID)
	}
	prompt := dsl.Interpolate(cfg.Prompt, ec.Outputs(), ec.Params)
	reply, err := e.agents.Invoke(ctx, cfg.AgentProfileCode, prompt, input)
	if err != nil {
		return nil, types.AsError(err, types.FailureAgent, types.CodeAgentCall).WithNode(node.ID).WithRetryable(true)
	}
	out := map[string]any{
		"content":    reply.Content,
		"confidence": reply.Confidence,
	}
	if reply.Stance != "" {
		out["stance"] = reply.Stance
	}
	for k, v := range reply.Fields {
		out[k] = v
	}
	return out, nil
}

// notifyConfig is the typed config of a notify node.
type notifyConfig struct {
	Channel string `yaml:"channel" json:"channel"`
}

type notifyExecutor struct {
	notifier Notifier
}

func (e *notifyExecutor) Execute(ctx context.Context, node *dsl.Node, input map[string]any, _ *ExecContext) (map[string]any, error) {
	if e.notifier == nil {
		return nil, missingCollaborator(node, "Notifier")
	}
	var cfg notifyConfig
	if err := dsl.DecodeConfig(node.Config, &cfg); err != nil || cfg.Channel == "" {
		return nil, types.NewError(types.FailureRuntime, types.CodeNotifyDelivery, "notify node requires a channel").
			WithCause(err).WithNode(node.ID)
	}
	if err := e.notifier.Deliver(ctx, cfg.Channel, input); err != nil {
		return nil, types.AsError(err, types.FailureRuntime, types.CodeNotifyDelivery).WithNode(node.ID).WithRetryable(true)
	}
	return map[string]any{"delivered": true, "channel": cfg.Channel}, nil
}
