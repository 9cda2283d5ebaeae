package workflow

import (
	"context"
	"fmt"

	"github.com/BaSui01/decisionflow/types"
	"github.com/BaSui01/decisionflow/workflow/dsl"
)

// SubflowRequest asks for a nested execution of another workflow version.
// CallStack and Cancel are threaded from the parent so self-reference
// detection and cancellation reach every descendant.
type SubflowRequest struct {
	DefinitionID      string
	VersionID         string
	ParentExecutionID string
	UserID            string
	Params            map[string]any
	CallStack         []string
	Cancel            *CancelToken
}

// SubflowResult is the terminal outcome of a nested execution.
type SubflowResult struct {
	ExecutionID string
	Status      types.ExecutionStatus
	Output      map[string]any
}

// SubflowRunner executes a target workflow version as a nested execution.
// The service layer implements it on top of the same runtime; the indirection
// keeps the workflow package free of repository lookups for versions.
type SubflowRunner interface {
	RunSubflow(ctx context.Context, req SubflowRequest) (*SubflowResult, error)
}

type subflowExecutor struct {
	runner SubflowRunner
}

// Execute synchronously runs the target version as a nested execution. The
// subflow blocks only its own layer; the nested execution's terminal status
// determines this node's status.
func (e *subflowExecutor) Execute(ctx context.Context, node *dsl.Node, input map[string]any, ec *ExecContext) (map[string]any, error) {
	if e.runner == nil {
		return nil, missingCollaborator(node, "SubflowRunner")
	}
	var cfg dsl.SubflowConfig
	if err := dsl.DecodeConfig(node.Config, &cfg); err != nil || cfg.WorkflowDefinitionID == "" {
		return nil, types.NewError(types.FailureRuntime, types.CodeNodeInternal,
			"subflow-call node requires workflow_definition_id").WithCause(err).WithNode(node.ID)
	}

	// Validation rejects direct self-reference at publish; this guards the
	// full active call path at first-call time.
	if ec.OnStack(cfg.WorkflowDefinitionID) {
		return nil, types.NewError(types.FailureRuntime, types.CodeSelfReference,
			fmt.Sprintf("subflow target %s is already on the active call path %v",
				cfg.WorkflowDefinitionID, ec.CallStack)).WithNode(node.ID)
	}

	params := make(map[string]any, len(ec.Params)+len(input))
	for k, v := range ec.Params {
		params[k] = v
	}
	for k, v := range input {
		params[k] = v
	}

	stack := make([]string, len(ec.CallStack), len(ec.CallStack)+1)
	copy(stack, ec.CallStack)
	stack = append(stack, cfg.WorkflowDefinitionID)

	result, err := e.runner.RunSubflow(ctx, SubflowRequest{
		DefinitionID:      cfg.WorkflowDefinitionID,
		VersionID:         cfg.WorkflowVersionID,
		ParentExecutionID: ec.ExecutionID,
		UserID:            ec.UserID,
		Params:            params,
		CallStack:         stack,
		Cancel:            ec.Cancel,
	})
	if err != nil {
		return nil, types.AsError(err, types.FailureRuntime, types.CodeSubflowFailed).WithNode(node.ID)
	}

	switch result.Status {
	case types.ExecutionSuccess:
		// fallthrough to output mapping
	case types.ExecutionCanceled:
		return nil, types.NewError(types.FailureCanceled, types.CodeExecutionCanceled,
			fmt.Sprintf("subflow execution %s was canceled", result.ExecutionID)).WithNode(node.ID)
	default:
		return nil, types.NewError(types.FailureRuntime, types.CodeSubflowFailed,
			fmt.Sprintf("subflow execution %s finished %s", result.ExecutionID, result.Status)).WithNode(node.ID)
	}

	out := make(map[string]any, len(result.Output)+1)
	prefix := cfg.OutputKeyPrefix
	for k, v := range result.Output {
		if prefix != "" {
			k = prefix + "." + k
		}
		out[k] = v
	}
	out["subflow_execution_id"] = result.ExecutionID
	return out, nil
}
