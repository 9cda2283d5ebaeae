package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/decisionflow/experiment"
	"github.com/BaSui01/decisionflow/idempotency"
	"github.com/BaSui01/decisionflow/store"
	"github.com/BaSui01/decisionflow/types"
	"github.com/BaSui01/decisionflow/workflow"
	"github.com/BaSui01/decisionflow/workflow/dsl"
)

// TriggerRequest starts one execution.
type TriggerRequest struct {
	UserID         string
	DefinitionID   string
	VersionID      string // empty runs the latest published version
	TriggerType    types.TriggerType
	IdempotencyKey string
	Params         map[string]any
}

// TriggerResult is the synchronous outcome of a trigger. When Deduplicated
// is true the returned execution is the earlier one and no new run happened.
type TriggerResult struct {
	Execution    *store.WorkflowExecution
	Result       *workflow.Result
	Deduplicated bool
	Variant      string // experiment variant, empty outside experiments
}

// Trigger runs a workflow version to completion. Idempotent replays return
// the original execution; experiment routing picks the version when an
// experiment is active and no explicit version was requested.
func (s *Service) Trigger(ctx context.Context, req TriggerRequest) (*TriggerResult, error) {
	def, err := s.visibleDefinition(ctx, req.UserID, req.DefinitionID)
	if err != nil {
		return nil, err
	}

	version, assignment, err := s.selectVersion(ctx, def, req)
	if err != nil {
		return nil, err
	}

	executionID := uuid.NewString()
	var claimKey string
	if req.IdempotencyKey != "" {
		claimKey = idempotency.Key(version.ID, req.UserID, req.IdempotencyKey)
		owner, claimed, err := s.registrar.Claim(ctx, claimKey, executionID, 0)
		if err != nil {
			return nil, fmt.Errorf("claim idempotency key: %w", err)
		}
		if !claimed {
			return s.deduplicated(ctx, version.ID, req.UserID, req.IdempotencyKey, owner)
		}
	}

	snap, err := s.parser.Parse([]byte(version.DSLSnapshot))
	if err != nil {
		s.releaseClaim(ctx, claimKey)
		return nil, fmt.Errorf("parse version snapshot: %w", err)
	}

	params, err := applyParamDefaults(snap, req.Params)
	if err != nil {
		s.releaseClaim(ctx, claimKey)
		return nil, err
	}

	triggerType := req.TriggerType
	if triggerType == "" {
		triggerType = types.TriggerAPI
	}
	row := &store.WorkflowExecution{
		ID:             executionID,
		DefinitionID:   def.ID,
		VersionID:      version.ID,
		VersionCode:    version.VersionCode,
		TriggerType:    triggerType,
		TriggerUserID:  req.UserID,
		IdempotencyKey: store.NullableKey(req.IdempotencyKey),
		Status:         types.ExecutionPending,
		ParamSnapshot:  store.MarshalSnapshot(params),
		StartedAt:      time.Now(),
	}
	if err := s.repo.CreateExecution(ctx, row); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) && req.IdempotencyKey != "" {
			// The database index caught a race the registrar missed.
			return s.deduplicated(ctx, version.ID, req.UserID, req.IdempotencyKey, "")
		}
		s.releaseClaim(ctx, claimKey)
		return nil, fmt.Errorf("create execution: %w", err)
	}

	ec := workflow.NewExecContext(executionID, def.ID, version.ID, req.UserID, params)
	result, err := s.runtime.Execute(ctx, snap, ec)
	if err != nil {
		return nil, fmt.Errorf("execute workflow: %w", err)
	}

	final, err := s.repo.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	out := &TriggerResult{Execution: final, Result: result}
	if assignment != nil {
		out.Variant = assignment.Variant
		if err := s.experiments.RecordRun(ctx, assignment, executionID,
			result.Status == types.ExecutionSuccess, final.DurationMs); err != nil {
			s.logger.Warn("record experiment run failed",
				zap.String("execution_id", executionID), zap.Error(err))
		}
	}
	return out, nil
}

// selectVersion picks the version a trigger runs: the explicit one when
// given, otherwise the experiment assignment, otherwise the latest published.
func (s *Service) selectVersion(ctx context.Context, def *store.WorkflowDefinition, req TriggerRequest) (*store.WorkflowVersion, *experiment.Assignment, error) {
	if req.VersionID != "" {
		version, err := s.repo.GetVersion(ctx, req.VersionID)
		if err != nil {
			return nil, nil, err
		}
		if version.DefinitionID != def.ID {
			return nil, nil, store.ErrNotFound
		}
		if version.Status != types.VersionPublished {
			return nil, nil, fmt.Errorf("version %d is %s, only published versions run", version.VersionCode, version.Status)
		}
		return version, nil, nil
	}

	routingKey := req.IdempotencyKey
	if routingKey == "" {
		routingKey = uuid.NewString()
	}
	assignment, err := s.experiments.Route(ctx, def.ID, routingKey)
	if err != nil {
		return nil, nil, err
	}
	if assignment != nil {
		version, err := s.repo.GetVersion(ctx, assignment.VersionID)
		if err != nil {
			return nil, nil, fmt.Errorf("load experiment version: %w", err)
		}
		return version, assignment, nil
	}

	version, err := s.repo.LatestPublishedVersion(ctx, def.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, fmt.Errorf("definition %s has no published version", def.ID)
		}
		return nil, nil, err
	}
	return version, nil, nil
}

// deduplicated resolves the earlier execution of a replayed trigger.
func (s *Service) deduplicated(ctx context.Context, versionID, userID, key, owner string) (*TriggerResult, error) {
	var existing *store.WorkflowExecution
	var err error
	if owner != "" {
		existing, err = s.repo.GetExecution(ctx, owner)
	}
	if existing == nil {
		existing, err = s.repo.FindExecutionByKey(ctx, versionID, userID, key)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve deduplicated execution: %w", err)
	}
	s.logger.Info("trigger deduplicated",
		zap.String("execution_id", existing.ID),
		zap.String("idempotency_key", key))
	return &TriggerResult{Execution: existing, Deduplicated: true}, nil
}

func (s *Service) releaseClaim(ctx context.Context, claimKey string) {
	if claimKey == "" {
		return
	}
	if err := s.registrar.Release(ctx, claimKey); err != nil {
		s.logger.Warn("release idempotency claim failed", zap.Error(err))
	}
}

// Cancel requests cooperative cancellation of a running execution. Only the
// triggering user and the definition owner may cancel; everyone else gets
// not-found.
func (s *Service) Cancel(ctx context.Context, userID, executionID, reason string) error {
	exec, err := s.repo.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	def, err := s.repo.GetDefinition(ctx, exec.DefinitionID)
	if err != nil {
		return err
	}
	if userID != exec.TriggerUserID && userID != def.OwnerUserID {
		return store.ErrNotFound
	}
	if exec.Status.Terminal() {
		return ErrAlreadyTerminal
	}
	if reason == "" {
		reason = "canceled by " + userID
	}

	if s.runtime.Cancel(executionID, reason) {
		return nil
	}

	// Not active in this process: finalize the row directly.
	now := time.Now()
	exec.Status = types.ExecutionCanceled
	exec.FailureCategory = types.FailureCanceled
	exec.FailureCode = types.CodeExecutionCanceled
	exec.FailureMessage = reason
	exec.FinishedAt = &now
	return s.repo.UpdateExecution(ctx, exec)
}

// RunSubflow implements workflow.SubflowRunner: a subflow-call node re-enters
// the engine here with the parent's call stack and cancel token.
func (s *Service) RunSubflow(ctx context.Context, req workflow.SubflowRequest) (*workflow.SubflowResult, error) {
	def, err := s.visibleDefinition(ctx, req.UserID, req.DefinitionID)
	if err != nil {
		return nil, err
	}

	var version *store.WorkflowVersion
	if req.VersionID != "" {
		version, err = s.repo.GetVersion(ctx, req.VersionID)
		if err == nil && version.DefinitionID != def.ID {
			err = store.ErrNotFound
		}
	} else {
		version, err = s.repo.LatestPublishedVersion(ctx, def.ID)
	}
	if err != nil {
		return nil, err
	}

	snap, err := s.parser.Parse([]byte(version.DSLSnapshot))
	if err != nil {
		return nil, fmt.Errorf("parse subflow snapshot: %w", err)
	}

	params, err := applyParamDefaults(snap, req.Params)
	if err != nil {
		return nil, err
	}

	executionID := uuid.NewString()
	row := &store.WorkflowExecution{
		ID:                executionID,
		DefinitionID:      def.ID,
		VersionID:         version.ID,
		VersionCode:       version.VersionCode,
		TriggerType:       types.TriggerSubflow,
		TriggerUserID:     req.UserID,
		Status:            types.ExecutionPending,
		ParamSnapshot:     store.MarshalSnapshot(params),
		SourceExecutionID: req.ParentExecutionID,
		StartedAt:         time.Now(),
	}
	if err := s.repo.CreateExecution(ctx, row); err != nil {
		return nil, fmt.Errorf("create subflow execution: %w", err)
	}

	ec := workflow.NewExecContext(executionID, def.ID, version.ID, req.UserID, params)
	ec.CallStack = req.CallStack
	if req.Cancel != nil {
		ec.Cancel = req.Cancel
	}

	result, err := s.runtime.Execute(ctx, snap, ec)
	if err != nil {
		return nil, err
	}
	return &workflow.SubflowResult{
		ExecutionID: executionID,
		Status:      result.Status,
		Output:      result.Output,
	}, nil
}

// applyParamDefaults merges declared parameter defaults under the provided
// params and rejects missing required parameters.
func applyParamDefaults(snap *dsl.Snapshot, params map[string]any) (map[string]any, error) {
	merged := make(map[string]any, len(params))
	for k, v := range params {
		merged[k] = v
	}
	for _, p := range snap.Params {
		if _, ok := merged[p.Name]; ok {
			continue
		}
		if p.Default != nil {
			merged[p.Name] = p.Default
			continue
		}
		if p.Required {
			return nil, fmt.Errorf("required parameter %q missing", p.Name)
		}
	}
	return merged, nil
}

// traceRecorder persists debate traces through the repository.
type traceRecorder struct {
	repo store.Repository
}

func (r *traceRecorder) RecordDebateTrace(ctx context.Context, t *workflow.DebateTrace) error {
	return r.repo.CreateDebateTrace(ctx, &store.DebateRoundTrace{
		ID:                 uuid.NewString(),
		ExecutionID:        t.ExecutionID,
		NodeID:             t.NodeID,
		RoundNumber:        t.RoundNumber,
		ParticipantCode:    t.ParticipantCode,
		ParticipantRole:    t.ParticipantRole,
		Stance:             t.Stance,
		Confidence:         t.Confidence,
		StatementText:      t.StatementText,
		IsJudgement:        t.IsJudgement,
		JudgementVerdict:   t.JudgementVerdict,
		JudgementReasoning: t.JudgementReasoning,
		CreatedAt:          time.Now(),
	})
}
