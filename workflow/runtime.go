package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/BaSui01/decisionflow/store"
	"github.com/BaSui01/decisionflow/types"
	"github.com/BaSui01/decisionflow/workflow/dsl"
)

// Metrics receives runtime observations. The concrete Prometheus collector
// lives in internal/metrics; a nil Metrics disables recording.
type Metrics interface {
	ObserveExecution(status string, d time.Duration)
	ObserveNode(nodeType, status string, d time.Duration)
}

// RuntimeOptions tunes the execution engine.
type RuntimeOptions struct {
	// MaxParallelNodes bounds concurrent node dispatches within one layer.
	// Zero means the default of 8.
	MaxParallelNodes int
	// DispatchRate throttles node dispatches across all executions. Zero
	// means unlimited.
	DispatchRate  rate.Limit
	DispatchBurst int
	// Sink receives timeline events in addition to their durable rows.
	Sink    EventSink
	Metrics Metrics
	Logger  *zap.Logger
}

const defaultMaxParallelNodes = 8

// Runtime executes resolved workflow snapshots layer by layer. One Runtime
// serves many concurrent executions; per-execution state lives in the
// ExecContext and the run bookkeeping, never on the Runtime itself.
type Runtime struct {
	registry    *Registry
	repo        store.Repository
	sink        EventSink
	metrics     Metrics
	logger      *zap.Logger
	tracer      trace.Tracer
	limiter     *rate.Limiter
	maxParallel int

	// layerCache memoizes Resolve per immutable version snapshot.
	layerCache sync.Map // versionID -> Layers
	// active maps running execution ids to their cancel tokens.
	active sync.Map // executionID -> *CancelToken
}

// NewRuntime creates an execution engine over the given node registry and
// repository.
func NewRuntime(registry *Registry, repo store.Repository, opts RuntimeOptions) *Runtime {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxParallel := opts.MaxParallelNodes
	if maxParallel <= 0 {
		maxParallel = defaultMaxParallelNodes
	}
	var limiter *rate.Limiter
	if opts.DispatchRate > 0 {
		burst := opts.DispatchBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(opts.DispatchRate, burst)
	}
	return &Runtime{
		registry:    registry,
		repo:        repo,
		sink:        opts.Sink,
		metrics:     opts.Metrics,
		logger:      logger.With(zap.String("component", "workflow_runtime")),
		tracer:      otel.Tracer("decisionflow/workflow"),
		limiter:     limiter,
		maxParallel: maxParallel,
	}
}

// Cancel requests cooperative cancellation of a running execution. It returns
// false when the execution is not currently active.
func (r *Runtime) Cancel(executionID, reason string) bool {
	v, ok := r.active.Load(executionID)
	if !ok {
		return false
	}
	v.(*CancelToken).Cancel(reason)
	r.logger.Info("cancellation requested",
		zap.String("execution_id", executionID),
		zap.String("reason", reason))
	return true
}

// Result is the terminal outcome of one execution.
type Result struct {
	ExecutionID string
	Status      types.ExecutionStatus
	Failure     *types.Error
	// Output maps leaf node ids to their outputs.
	Output map[string]any
}

// run bundles per-execution bookkeeping shared by concurrent node dispatches.
type run struct {
	snap   *dsl.Snapshot
	ec     *ExecContext
	seq    int64
	seqMu  sync.Mutex
	mu     sync.Mutex
	abort  *types.Error
	logger *zap.Logger
}

func (rn *run) nextSeq() int64 {
	rn.seqMu.Lock()
	defer rn.seqMu.Unlock()
	rn.seq++
	return rn.seq
}

// setAbort records the first fail-fast failure; later calls are no-ops.
func (rn *run) setAbort(e *types.Error) {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	if rn.abort == nil {
		rn.abort = e
	}
}

func (rn *run) aborted() *types.Error {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	return rn.abort
}

// Execute runs a snapshot to a terminal state. The execution row identified
// by ec.ExecutionID must already exist; Execute transitions it RUNNING and
// then terminal, appending durable timeline events along the way. The
// returned error covers only infrastructure faults; workflow-level failure is
// reported through Result.Status and Result.Failure.
func (r *Runtime) Execute(ctx context.Context, snap *dsl.Snapshot, ec *ExecContext) (*Result, error) {
	ctx, span := r.tracer.Start(ctx, "workflow.execute", trace.WithAttributes(
		attribute.String("execution.id", ec.ExecutionID),
		attribute.String("definition.id", ec.DefinitionID),
	))
	defer span.End()

	start := time.Now()
	r.active.Store(ec.ExecutionID, ec.Cancel)
	defer r.active.Delete(ec.ExecutionID)

	rn := &run{
		snap:   snap,
		ec:     ec,
		logger: r.logger.With(zap.String("execution_id", ec.ExecutionID)),
	}

	if err := r.markRunning(ctx, ec, start); err != nil {
		return nil, err
	}
	r.emit(ctx, rn, types.EventExecutionStarted, "", "execution started", map[string]any{
		"definitionId": ec.DefinitionID,
		"versionId":    ec.VersionID,
	})

	layers, err := r.resolveLayers(snap, ec.VersionID)
	if err != nil {
		failure := types.AsError(err, types.FailureRuntime, types.CodeExecutionInternal)
		return r.finish(ctx, rn, start, types.ExecutionFailed, failure)
	}
	r.emit(ctx, rn, types.EventLayersResolved, "", fmt.Sprintf("resolved %d layers", len(layers)), map[string]any{
		"layers":    [][]string(layers),
		"nodeCount": layers.NodeCount(),
	})

	for i, layer := range layers {
		if canceled := r.checkCancel(ctx, ec); canceled != nil {
			return r.finish(ctx, rn, start, types.ExecutionCanceled, canceled)
		}

		runnable := r.gateLayer(ctx, rn, layer)
		if len(runnable) == 0 {
			continue
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.maxParallel)
		for _, nodeID := range runnable {
			node, _ := snap.NodeByID(nodeID)
			g.Go(func() error {
				return r.dispatch(gctx, rn, node)
			})
		}
		if err := g.Wait(); err != nil {
			if canceled := r.checkCancel(ctx, ec); canceled != nil {
				return r.finish(ctx, rn, start, types.ExecutionCanceled, canceled)
			}
			failure := rn.aborted()
			if failure == nil {
				failure = types.AsError(err, types.FailureRuntime, types.CodeExecutionInternal)
			}
			status := types.ExecutionFailed
			if failure.Category == types.FailureTimeout {
				failure = types.NewError(types.FailureTimeout, types.CodeExecutionTimeout, failure.Message).
					WithNode(failure.NodeID).WithCause(failure.Cause)
			}
			return r.finish(ctx, rn, start, status, failure)
		}
		rn.logger.Debug("layer completed", zap.Int("layer", i), zap.Int("dispatched", len(runnable)))
	}

	if canceled := r.checkCancel(ctx, ec); canceled != nil {
		return r.finish(ctx, rn, start, types.ExecutionCanceled, canceled)
	}
	return r.finish(ctx, rn, start, types.ExecutionSuccess, nil)
}

// checkCancel converts a raised cancel token or a dead context into the
// canonical cancellation failure.
func (r *Runtime) checkCancel(ctx context.Context, ec *ExecContext) *types.Error {
	if ec.Cancel.Canceled() {
		reason := ec.Cancel.Reason()
		if reason == "" {
			reason = "execution canceled"
		}
		return types.NewError(types.FailureCanceled, types.CodeExecutionCanceled, reason)
	}
	if ctx.Err() != nil {
		ec.Cancel.Cancel(ctx.Err().Error())
		return types.NewError(types.FailureCanceled, types.CodeExecutionCanceled, ctx.Err().Error())
	}
	return nil
}

// resolveLayers memoizes topological resolution per immutable version.
func (r *Runtime) resolveLayers(snap *dsl.Snapshot, versionID string) (Layers, error) {
	if versionID != "" {
		if cached, ok := r.layerCache.Load(versionID); ok {
			return cached.(Layers), nil
		}
	}
	layers, err := Resolve(snap)
	if err != nil {
		return nil, err
	}
	if versionID != "" {
		r.layerCache.Store(versionID, layers)
	}
	return layers, nil
}

// gateLayer partitions one layer into runnable nodes and nodes skipped by
// edge gating, recording the skips immediately.
func (r *Runtime) gateLayer(ctx context.Context, rn *run, layer []string) []string {
	var runnable []string
	for _, nodeID := range layer {
		node, ok := rn.snap.NodeByID(nodeID)
		if !ok {
			continue
		}
		proceed, reason := r.gate(rn, node)
		if proceed {
			runnable = append(runnable, nodeID)
			continue
		}
		r.recordSkip(ctx, rn, node, reason)
	}
	return runnable
}

// joinConfig is the typed config of a join node.
type joinConfig struct {
	Policy dsl.JoinPolicy `yaml:"join_policy" json:"joinPolicy"`
}

// gate decides whether a node may dispatch given its upstream outcomes.
func (r *Runtime) gate(rn *run, node *dsl.Node) (bool, string) {
	incoming := incomingEdges(rn.snap, node.ID)
	if len(incoming) == 0 {
		return true, ""
	}

	if node.Type == dsl.NodeJoin {
		var cfg joinConfig
		_ = dsl.DecodeConfig(node.Config, &cfg)
		if cfg.Policy == "" {
			cfg.Policy = dsl.JoinAllRequired
		}
		satisfied := 0
		for _, e := range incoming {
			if rn.edgeSatisfied(e) {
				satisfied++
			}
		}
		switch cfg.Policy {
		case dsl.JoinAny:
			if satisfied > 0 {
				return true, ""
			}
		default:
			if satisfied == len(incoming) {
				return true, ""
			}
		}
		return false, "no satisfied incoming edge"
	}

	conditionEdges := 0
	conditionSatisfied := 0
	for _, e := range incoming {
		if e.Type == dsl.EdgeCondition {
			conditionEdges++
			if rn.edgeSatisfied(e) {
				conditionSatisfied++
			}
			continue
		}
		if !rn.edgeSatisfied(e) {
			return false, fmt.Sprintf("upstream node %s did not proceed", e.From)
		}
	}
	if conditionEdges > 0 && conditionSatisfied == 0 {
		return false, "no satisfied incoming edge"
	}
	return true, ""
}

// edgeSatisfied reports whether one incoming edge permits traversal. Control
// and data edges require the source to have proceeded; condition edges
// additionally require the predicate to hold against the source output.
func (rn *run) edgeSatisfied(e dsl.Edge) bool {
	outcome, ok := rn.ec.outcome(e.From)
	if !ok || !outcome.proceeded {
		return false
	}
	if e.Type != dsl.EdgeCondition {
		return true
	}
	if outcome.status != types.NodeSuccess {
		return false
	}
	output, _ := rn.ec.Output(e.From)
	return e.Condition.Eval(output)
}

// incomingEdges returns the edges targeting a node from enabled sources.
func incomingEdges(snap *dsl.Snapshot, nodeID string) []dsl.Edge {
	var edges []dsl.Edge
	for _, e := range snap.Edges {
		if e.To != nodeID {
			continue
		}
		if src, ok := snap.NodeByID(e.From); !ok || !src.IsEnabled() {
			continue
		}
		edges = append(edges, e)
	}
	return edges
}

// recordSkip marks a node SKIPPED before dispatch and persists the decision.
func (r *Runtime) recordSkip(ctx context.Context, rn *run, node *dsl.Node, reason string) {
	rn.ec.setOutcome(node.ID, types.NodeSkipped, false)
	now := time.Now()
	row := &store.NodeExecution{
		ID:             uuid.NewString(),
		ExecutionID:    rn.ec.ExecutionID,
		NodeID:         node.ID,
		NodeType:       string(node.Type),
		Status:         types.NodeSkipped,
		FailureMessage: reason,
		StartedAt:      now,
		FinishedAt:     &now,
	}
	if err := r.repo.CreateNodeExecution(ctx, row); err != nil {
		rn.logger.Warn("persist skipped node failed", zap.String("node_id", node.ID), zap.Error(err))
	}
	r.emit(ctx, rn, types.EventNodeSkipped, node.ID, reason, nil)
	r.observeNode(node, types.NodeSkipped, 0)
}

// dispatch runs one node to a terminal state and applies its on-error policy.
// The returned error aborts the remaining nodes of the layer and is only
// non-nil for FAIL_FAST failures.
func (r *Runtime) dispatch(ctx context.Context, rn *run, node *dsl.Node) error {
	if canceled := r.checkCancel(ctx, rn.ec); canceled != nil {
		// A sibling abort cancels the group context; the layer result is
		// decided by the first failure, not by this node.
		if rn.aborted() != nil {
			return nil
		}
		return canceled
	}
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			if rn.aborted() != nil {
				return nil
			}
			return types.AsError(err, types.FailureRuntime, types.CodeExecutionInternal)
		}
	}

	policy := effectivePolicy(rn.snap.RunPolicy.NodeDefaults, node.Policy)
	start := time.Now()
	row := &store.NodeExecution{
		ID:          uuid.NewString(),
		ExecutionID: rn.ec.ExecutionID,
		NodeID:      node.ID,
		NodeType:    string(node.Type),
		Status:      types.NodeRunning,
		StartedAt:   start,
	}

	input, inputErr := r.buildInput(rn, node)
	row.InputSnapshot = store.MarshalSnapshot(input)
	if err := r.repo.CreateNodeExecution(ctx, row); err != nil {
		rn.logger.Warn("persist node start failed", zap.String("node_id", node.ID), zap.Error(err))
	}
	r.emit(ctx, rn, types.EventNodeStarted, node.ID, "", nil)

	var out map[string]any
	var failure *types.Error
	attempts := 0
	if inputErr != nil {
		failure = inputErr
	} else {
		out, failure, attempts = r.attempt(ctx, rn, node, input, policy)
	}
	row.Attempts = attempts
	elapsed := time.Since(start)

	if failure == nil {
		rn.ec.SetOutput(node.ID, out)
		rn.ec.setOutcome(node.ID, types.NodeSuccess, true)
		r.finishNode(ctx, rn, row, types.NodeSuccess, out, nil, elapsed)
		r.emit(ctx, rn, types.EventNodeSucceeded, node.ID, "", nil)
		r.observeNode(node, types.NodeSuccess, elapsed)
		return nil
	}

	if failure.Category == types.FailureCanceled && rn.aborted() != nil {
		// Discard the result of a node interrupted by a sibling abort.
		r.finishNode(ctx, rn, row, types.NodeFailed, out, failure, elapsed)
		rn.ec.setOutcome(node.ID, types.NodeFailed, false)
		return nil
	}

	onError := policy.OnError
	// A hard risk block always aborts, whatever the node's policy says.
	if failure.Code == types.CodeRiskHardBlock {
		onError = dsl.OnErrorFailFast
	}

	switch onError {
	case dsl.OnErrorSkip:
		rn.ec.setOutcome(node.ID, types.NodeSkipped, false)
		r.finishNode(ctx, rn, row, types.NodeSkipped, out, failure, elapsed)
		r.emit(ctx, rn, types.EventNodeSkipped, node.ID, failure.Message, nil)
		r.observeNode(node, types.NodeSkipped, elapsed)
		return nil
	case dsl.OnErrorContinue:
		if out == nil {
			out = map[string]any{}
		}
		rn.ec.SetOutput(node.ID, out)
		rn.ec.setOutcome(node.ID, types.NodeFailed, true)
		r.finishNode(ctx, rn, row, types.NodeFailed, out, failure, elapsed)
		r.emit(ctx, rn, types.EventNodeFailed, node.ID, failure.Message, failurePayload(failure))
		r.observeNode(node, types.NodeFailed, elapsed)
		return nil
	default: // FAIL_FAST
		rn.ec.setOutcome(node.ID, types.NodeFailed, false)
		r.finishNode(ctx, rn, row, types.NodeFailed, out, failure, elapsed)
		r.emit(ctx, rn, types.EventNodeFailed, node.ID, failure.Message, failurePayload(failure))
		r.observeNode(node, types.NodeFailed, elapsed)
		rn.setAbort(failure)
		return failure
	}
}

// attempt runs the retry loop for one node. Every attempt gets a fresh
// timeout context; a timed-out attempt consumes retry budget like any other
// retryable failure.
func (r *Runtime) attempt(ctx context.Context, rn *run, node *dsl.Node, input map[string]any, policy dsl.NodePolicy) (map[string]any, *types.Error, int) {
	exec, ok := r.registry.Get(node.Type)
	if !ok {
		return nil, types.NewError(types.FailureRuntime, types.CodeNodeInternal,
			fmt.Sprintf("no executor registered for node type %s", node.Type)).WithNode(node.ID), 0
	}

	var lastErr *types.Error
	var lastOut map[string]any
	attempts := 0
	for attempt := 0; attempt <= policy.RetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return lastOut, types.NewError(types.FailureCanceled, types.CodeExecutionCanceled,
					ctx.Err().Error()).WithNode(node.ID), attempts
			case <-time.After(backoff(policy)):
			}
			if rn.ec.Cancel.Canceled() {
				return lastOut, types.NewError(types.FailureCanceled, types.CodeExecutionCanceled,
					rn.ec.Cancel.Reason()).WithNode(node.ID), attempts
			}
		}
		attempts++

		nctx, cancel := context.WithTimeout(ctx, timeout(policy))
		out, err := exec.Execute(nctx, node, input, rn.ec)
		timedOut := errors.Is(err, context.DeadlineExceeded) || (err != nil && nctx.Err() == context.DeadlineExceeded)
		cancel()

		if err == nil {
			return out, nil, attempts
		}
		lastOut = out
		if timedOut {
			lastErr = types.NewError(types.FailureTimeout, types.CodeNodeTimeout,
				fmt.Sprintf("node %s exceeded its %dms timeout", node.ID, policy.TimeoutMs)).
				WithNode(node.ID).WithRetryable(true)
			continue
		}
		if ctx.Err() != nil {
			return lastOut, types.NewError(types.FailureCanceled, types.CodeExecutionCanceled,
				ctx.Err().Error()).WithNode(node.ID), attempts
		}
		lastErr = types.AsError(err, types.FailureRuntime, types.CodeNodeInternal)
		if lastErr.NodeID == "" {
			lastErr.NodeID = node.ID
		}
		if !lastErr.Retryable {
			break
		}
	}
	return lastOut, lastErr, attempts
}

// buildInput merges satisfied data-edge source outputs (in deterministic
// source order) and overlays the node's declared bindings.
func (r *Runtime) buildInput(rn *run, node *dsl.Node) (map[string]any, *types.Error) {
	input := make(map[string]any)
	edges := incomingEdges(rn.snap, node.ID)
	sort.Slice(edges, func(i, j int) bool { return edges[i].From < edges[j].From })
	for _, e := range edges {
		if e.Type != dsl.EdgeData || !rn.edgeSatisfied(e) {
			continue
		}
		if out, ok := rn.ec.Output(e.From); ok {
			for k, v := range out {
				input[k] = v
			}
		}
	}

	if len(node.InputBindings) > 0 {
		bound, err := dsl.ResolveBindings(node.InputBindings, rn.ec.Outputs(), rn.ec.Params)
		if err != nil {
			return input, types.NewError(types.FailureData, types.CodeBindingResolve, err.Error()).WithNode(node.ID)
		}
		for k, v := range bound {
			input[k] = v
		}
	}
	return input, nil
}

// finishNode persists a node's terminal row.
func (r *Runtime) finishNode(ctx context.Context, rn *run, row *store.NodeExecution, status types.NodeStatus, out map[string]any, failure *types.Error, elapsed time.Duration) {
	now := time.Now()
	row.Status = status
	row.FinishedAt = &now
	row.DurationMs = elapsed.Milliseconds()
	if out != nil {
		row.OutputSnapshot = store.MarshalSnapshot(out)
	}
	if failure != nil {
		row.FailureCategory = failure.Category
		row.FailureCode = failure.Code
		row.FailureMessage = failure.Message
	}
	if err := r.repo.UpdateNodeExecution(ctx, row); err != nil {
		rn.logger.Warn("persist node finish failed", zap.String("node_id", row.NodeID), zap.Error(err))
	}
}

// markRunning transitions the pre-created execution row to RUNNING.
func (r *Runtime) markRunning(ctx context.Context, ec *ExecContext, start time.Time) error {
	row, err := r.repo.GetExecution(ctx, ec.ExecutionID)
	if err != nil {
		return fmt.Errorf("load execution %s: %w", ec.ExecutionID, err)
	}
	row.Status = types.ExecutionRunning
	row.StartedAt = start
	if err := r.repo.UpdateExecution(ctx, row); err != nil {
		return fmt.Errorf("mark execution running: %w", err)
	}
	return nil
}

// finish writes the terminal execution row, emits the terminal event and
// builds the Result.
func (r *Runtime) finish(ctx context.Context, rn *run, start time.Time, status types.ExecutionStatus, failure *types.Error) (*Result, error) {
	elapsed := time.Since(start)
	output := leafOutputs(rn.snap, rn.ec)

	row, err := r.repo.GetExecution(ctx, rn.ec.ExecutionID)
	if err != nil {
		return nil, fmt.Errorf("load execution %s: %w", rn.ec.ExecutionID, err)
	}
	now := time.Now()
	row.Status = status
	row.FinishedAt = &now
	row.DurationMs = elapsed.Milliseconds()
	row.OutputSnapshot = store.MarshalSnapshot(output)
	if failure != nil {
		row.FailureCategory = failure.Category
		row.FailureCode = failure.Code
		row.FailureMessage = failure.Message
	}
	if err := r.repo.UpdateExecution(ctx, row); err != nil {
		return nil, fmt.Errorf("persist terminal execution: %w", err)
	}

	switch status {
	case types.ExecutionSuccess:
		r.emit(ctx, rn, types.EventExecutionSucceeded, "", "execution succeeded", nil)
	case types.ExecutionCanceled:
		r.emit(ctx, rn, types.EventExecutionCanceled, "", failure.Message, failurePayload(failure))
	default:
		r.emit(ctx, rn, types.EventExecutionFailed, "", failure.Message, failurePayload(failure))
	}
	if r.metrics != nil {
		r.metrics.ObserveExecution(string(status), elapsed)
	}
	rn.logger.Info("execution finished",
		zap.String("status", string(status)),
		zap.Duration("elapsed", elapsed))

	return &Result{
		ExecutionID: rn.ec.ExecutionID,
		Status:      status,
		Failure:     failure,
		Output:      output,
	}, nil
}

// leafOutputs collects the outputs of enabled nodes with no outgoing edges,
// keyed by node id. This is the execution's externally visible result.
func leafOutputs(snap *dsl.Snapshot, ec *ExecContext) map[string]any {
	hasOutgoing := make(map[string]bool)
	for _, e := range snap.Edges {
		hasOutgoing[e.From] = true
	}
	out := make(map[string]any)
	for _, n := range snap.EnabledNodes() {
		if hasOutgoing[n.ID] {
			continue
		}
		if o, ok := ec.Output(n.ID); ok {
			out[n.ID] = o
		}
	}
	return out
}

// emit appends a durable timeline event and forwards it to the optional sink.
func (r *Runtime) emit(ctx context.Context, rn *run, eventType types.EventType, nodeID, message string, payload map[string]any) {
	event := &Event{
		ExecutionID: rn.ec.ExecutionID,
		Seq:         rn.nextSeq(),
		Type:        eventType,
		NodeID:      nodeID,
		Message:     message,
		Payload:     payload,
		Timestamp:   time.Now(),
	}
	row := &store.TimelineEvent{
		ExecutionID: event.ExecutionID,
		Seq:         event.Seq,
		Type:        event.Type,
		NodeID:      event.NodeID,
		Message:     event.Message,
		Payload:     store.MarshalSnapshot(payload),
		Timestamp:   event.Timestamp,
	}
	if err := r.repo.AppendEvent(ctx, row); err != nil {
		rn.logger.Warn("persist timeline event failed", zap.String("type", string(eventType)), zap.Error(err))
	}
	if r.sink != nil {
		if err := r.sink.Emit(ctx, event); err != nil {
			rn.logger.Warn("event sink emit failed", zap.String("type", string(eventType)), zap.Error(err))
		}
	}
}

func (r *Runtime) observeNode(node *dsl.Node, status types.NodeStatus, d time.Duration) {
	if r.metrics != nil {
		r.metrics.ObserveNode(string(node.Type), string(status), d)
	}
}

// failurePayload renders a structured failure into an event payload.
func failurePayload(e *types.Error) map[string]any {
	if e == nil {
		return nil
	}
	p := map[string]any{
		"category": string(e.Category),
		"code":     string(e.Code),
	}
	if e.NodeID != "" {
		p["nodeId"] = e.NodeID
	}
	return p
}
