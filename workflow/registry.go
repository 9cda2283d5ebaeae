package workflow

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/decisionflow/types"
	"github.com/BaSui01/decisionflow/workflow/dsl"
)

// Executor is the contract every node type implements: a pure
// input-to-output function whose side effects are described by the
// collaborator interfaces it holds. Executors must honor ctx cancellation
// and deadlines; the runtime enforces the node's effective timeout through
// ctx.
type Executor interface {
	Execute(ctx context.Context, node *dsl.Node, input map[string]any, ec *ExecContext) (map[string]any, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, node *dsl.Node, input map[string]any, ec *ExecContext) (map[string]any, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, node *dsl.Node, input map[string]any, ec *ExecContext) (map[string]any, error) {
	return f(ctx, node, input, ec)
}

// DataFetcher retrieves external data for data-fetch nodes.
type DataFetcher interface {
	Fetch(ctx context.Context, source string, query map[string]any) (map[string]any, error)
}

// RuleEvaluator evaluates a published rule pack against node input.
type RuleEvaluator interface {
	EvaluateRulePack(ctx context.Context, rulePackCode string, input map[string]any) (map[string]any, error)
}

// AgentReply is one model/agent response.
type AgentReply struct {
	Content    string         `json:"content"`
	Stance     string         `json:"stance,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// AgentInvoker performs a single model/agent call for agent-call,
// debate-round and judge-agent nodes.
type AgentInvoker interface {
	Invoke(ctx context.Context, profileCode, prompt string, input map[string]any) (*AgentReply, error)
}

// Notifier delivers notify-node payloads to an external channel.
type Notifier interface {
	Deliver(ctx context.Context, channel string, payload map[string]any) error
}

// DebateTraceRecorder persists one debate statement or judgement row.
type DebateTraceRecorder interface {
	RecordDebateTrace(ctx context.Context, trace *DebateTrace) error
}

// Collaborators bundles the external interfaces node executors depend on.
// Any nil member disables the node types that need it; dispatching such a
// node fails with a configuration error rather than panicking.
type Collaborators struct {
	Fetcher  DataFetcher
	Rules    RuleEvaluator
	Agents   AgentInvoker
	Notifier Notifier
	Traces   DebateTraceRecorder
	Subflows SubflowRunner
}

// Registry maps declared node types to their executors. New node kinds are
// added by registering a variant, not by branching on strings in the
// runtime.
type Registry struct {
	mu        sync.RWMutex
	executors map[dsl.NodeType]Executor
	logger    *zap.Logger
}

// NewRegistry creates a registry with every built-in node type bound to its
// executor.
func NewRegistry(collab Collaborators, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		executors: make(map[dsl.NodeType]Executor),
		logger:    logger.With(zap.String("component", "node_registry")),
	}
	r.registerBuiltins(collab)
	return r
}

// Register binds or replaces the executor for a node type.
func (r *Registry) Register(t dsl.NodeType, e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[t] = e
}

// Get returns the executor bound to a node type.
func (r *Registry) Get(t dsl.NodeType) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[t]
	return e, ok
}

func (r *Registry) registerBuiltins(collab Collaborators) {
	r.executors[dsl.NodeTrigger] = ExecutorFunc(executeTrigger)
	r.executors[dsl.NodePassthrough] = ExecutorFunc(executePassthrough)
	r.executors[dsl.NodeParallelSplit] = ExecutorFunc(executeParallelSplit)
	r.executors[dsl.NodeJoin] = ExecutorFunc(executeJoin)
	r.executors[dsl.NodeFormulaCalc] = ExecutorFunc(executeFormulaCalc)
	r.executors[dsl.NodeDataFetch] = &dataFetchExecutor{fetcher: collab.Fetcher}
	r.executors[dsl.NodeRuleEval] = &ruleEvalExecutor{rules: collab.Rules}
	r.executors[dsl.NodeAgentCall] = &agentCallExecutor{agents: collab.Agents}
	r.executors[dsl.NodeNotify] = &notifyExecutor{notifier: collab.Notifier}
	r.executors[dsl.NodeRiskGate] = ExecutorFunc(executeRiskGate)
	r.executors[dsl.NodeDebateRound] = &debateExecutor{agents: collab.Agents, traces: collab.Traces}
	r.executors[dsl.NodeJudgeAgent] = &judgeExecutor{agents: collab.Agents, traces: collab.Traces}
	r.executors[dsl.NodeSubflowCall] = &subflowExecutor{runner: collab.Subflows}
}

// missingCollaborator builds the uniform error for node types whose
// collaborator was not wired.
func missingCollaborator(node *dsl.Node, what string) error {
	return types.NewError(types.FailureRuntime, types.CodeNodeInternal,
		fmt.Sprintf("node type %s requires a %s collaborator", node.Type, what)).WithNode(node.ID)
}
