package workflow

import (
	"sync"
	"sync/atomic"

	"github.com/BaSui01/decisionflow/types"
)

// CancelToken is the cooperative cancellation flag shared between a parent
// execution and every subflow execution it spawns. Cancel is observed at
// layer boundaries and before each node dispatch; in-flight node calls are
// not preempted but their results are discarded.
type CancelToken struct {
	canceled atomic.Bool
	mu       sync.Mutex
	reason   string
}

// NewCancelToken creates an uncanceled token.
func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

// Cancel sets the flag. The first reason wins; later calls are no-ops.
func (t *CancelToken) Cancel(reason string) {
	if t.canceled.CompareAndSwap(false, true) {
		t.mu.Lock()
		t.reason = reason
		t.mu.Unlock()
	}
}

// Canceled reports whether cancellation was requested.
func (t *CancelToken) Canceled() bool {
	return t.canceled.Load()
}

// Reason returns the recorded cancellation reason.
func (t *CancelToken) Reason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

// nodeOutcome captures the terminal result of one dispatched node as seen by
// downstream edge gating.
type nodeOutcome struct {
	status types.NodeStatus
	// proceeded is true when downstream nodes may still run: SUCCESS, or
	// FAILED under the CONTINUE policy.
	proceeded bool
}

// ExecContext is the accumulated state of one workflow execution. It is
// owned exclusively by the execution task; nodes of one layer read prior
// outputs concurrently and each writes only its own entry, guarded by the
// mutex.
type ExecContext struct {
	ExecutionID  string
	DefinitionID string
	VersionID    string
	UserID       string
	Params       map[string]any

	// CallStack lists the definition ids on the active subflow call path,
	// outermost first. The current definition is always the last entry.
	CallStack []string

	Cancel *CancelToken

	mu       sync.RWMutex
	outputs  map[string]map[string]any
	outcomes map[string]nodeOutcome
}

// NewExecContext creates an execution context rooted at the given execution.
func NewExecContext(executionID, definitionID, versionID, userID string, params map[string]any) *ExecContext {
	if params == nil {
		params = make(map[string]any)
	}
	return &ExecContext{
		ExecutionID:  executionID,
		DefinitionID: definitionID,
		VersionID:    versionID,
		UserID:       userID,
		Params:       params,
		CallStack:    []string{definitionID},
		Cancel:       NewCancelToken(),
		outputs:      make(map[string]map[string]any),
		outcomes:     make(map[string]nodeOutcome),
	}
}

// SetOutput records a completed node's output.
func (ec *ExecContext) SetOutput(nodeID string, output map[string]any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.outputs[nodeID] = output
}

// Output returns a node's recorded output.
func (ec *ExecContext) Output(nodeID string) (map[string]any, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	out, ok := ec.outputs[nodeID]
	return out, ok
}

// Outputs returns a shallow copy of all recorded outputs, safe to hand to a
// node invocation for binding resolution.
func (ec *ExecContext) Outputs() map[string]map[string]any {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	snapshot := make(map[string]map[string]any, len(ec.outputs))
	for k, v := range ec.outputs {
		snapshot[k] = v
	}
	return snapshot
}

// setOutcome records a node's terminal disposition for edge gating.
func (ec *ExecContext) setOutcome(nodeID string, status types.NodeStatus, proceeded bool) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.outcomes[nodeID] = nodeOutcome{status: status, proceeded: proceeded}
}

// outcome returns a node's terminal disposition.
func (ec *ExecContext) outcome(nodeID string) (nodeOutcome, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	o, ok := ec.outcomes[nodeID]
	return o, ok
}

// OnStack reports whether a definition id is already on the subflow call
// path, which would make a further call a self-reference.
func (ec *ExecContext) OnStack(definitionID string) bool {
	for _, id := range ec.CallStack {
		if id == definitionID {
			return true
		}
	}
	return false
}
