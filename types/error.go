package types

import "fmt"

// FailureCategory groups failure codes by origin.
type FailureCategory string

const (
	FailureTimeout  FailureCategory = "TIMEOUT"
	FailureCanceled FailureCategory = "CANCELED"
	FailureAgent    FailureCategory = "AGENT_ERROR"
	FailureRule     FailureCategory = "RULE_ERROR"
	FailureData     FailureCategory = "DATA_ERROR"
	FailureRuntime  FailureCategory = "RUNTIME_ERROR"
	FailureRiskGate FailureCategory = "RISK_BLOCKED"
)

// FailureCode is a stable machine-readable failure identifier.
type FailureCode string

// Node-level failure codes.
const (
	CodeNodeTimeout    FailureCode = "NODE_TIMEOUT"
	CodeAgentCall      FailureCode = "AGENT_CALL_FAILED"
	CodeRuleEval       FailureCode = "RULE_EVAL_FAILED"
	CodeDataFetch      FailureCode = "DATA_FETCH_FAILED"
	CodeNotifyDelivery FailureCode = "NOTIFY_DELIVERY_FAILED"
	CodeBindingResolve FailureCode = "BINDING_RESOLVE_FAILED"
	CodeFormulaEval    FailureCode = "FORMULA_EVAL_FAILED"
	CodeSubflowFailed  FailureCode = "SUBFLOW_FAILED"
	CodeSelfReference  FailureCode = "SUBFLOW_SELF_REFERENCE"
	CodeRiskHardBlock  FailureCode = "RISK_GATE_HARD_BLOCK"
	CodeNodeInternal   FailureCode = "NODE_INTERNAL_ERROR"
)

// Execution-level failure codes.
const (
	CodeExecutionTimeout  FailureCode = "EXECUTION_TIMEOUT"
	CodeExecutionCanceled FailureCode = "EXECUTION_CANCELED"
	CodeExecutionInternal FailureCode = "EXECUTION_INTERNAL_ERROR"
)

// Error is the structured failure carried by node and execution outcomes.
// Category and Code propagate into the persisted execution rows; Retryable
// drives the per-node retry budget.
type Error struct {
	Category  FailureCategory `json:"category"`
	Code      FailureCode     `json:"code"`
	Message   string          `json:"message"`
	NodeID    string          `json:"node_id,omitempty"`
	Retryable bool            `json:"retryable"`
	Cause     error           `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s/%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s/%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a structured error with the given category and code.
func NewError(category FailureCategory, code FailureCode, message string) *Error {
	return &Error{Category: category, Code: code, Message: message}
}

// WithCause attaches the underlying cause.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithNode tags the error with the offending node ID.
func (e *Error) WithNode(nodeID string) *Error {
	e.NodeID = nodeID
	return e
}

// WithRetryable marks whether the failure may be retried.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// AsError extracts a *Error from err, wrapping unknown errors under the
// given defaults so every failure carries a category and code.
func AsError(err error, category FailureCategory, code FailureCode) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return NewError(category, code, err.Error()).WithCause(err)
}

// IsRetryable reports whether the failure may be retried.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}
