package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/decisionflow/store"
	"github.com/BaSui01/decisionflow/types"
)

// visibleDefinition loads a definition the user may see: their own, or a
// PUBLIC one. Anything else is not-found.
func (s *Service) visibleDefinition(ctx context.Context, userID, definitionID string) (*store.WorkflowDefinition, error) {
	def, err := s.repo.GetDefinition(ctx, definitionID)
	if err != nil {
		return nil, err
	}
	if def.OwnerUserID != userID && def.Visibility != types.VisibilityPublic {
		return nil, store.ErrNotFound
	}
	return def, nil
}

// visibleExecution loads an execution the user may see: one they triggered,
// one under a definition they own, or one under a PUBLIC definition.
func (s *Service) visibleExecution(ctx context.Context, userID, executionID string) (*store.WorkflowExecution, error) {
	exec, err := s.repo.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.TriggerUserID == userID {
		return exec, nil
	}
	if _, err := s.visibleDefinition(ctx, userID, exec.DefinitionID); err != nil {
		return nil, err
	}
	return exec, nil
}

// ExecutionDetail is an execution with its per-node breakdown.
type ExecutionDetail struct {
	Execution *store.WorkflowExecution
	Nodes     []*store.NodeExecution
}

// GetExecution returns one visible execution with its node executions.
func (s *Service) GetExecution(ctx context.Context, userID, executionID string) (*ExecutionDetail, error) {
	exec, err := s.visibleExecution(ctx, userID, executionID)
	if err != nil {
		return nil, err
	}
	nodes, err := s.repo.ListNodeExecutions(ctx, executionID)
	if err != nil {
		return nil, err
	}
	return &ExecutionDetail{Execution: exec, Nodes: nodes}, nil
}

// GetTimeline returns the ordered timeline events of one visible execution.
func (s *Service) GetTimeline(ctx context.Context, userID, executionID string) ([]*store.TimelineEvent, error) {
	if _, err := s.visibleExecution(ctx, userID, executionID); err != nil {
		return nil, err
	}
	return s.repo.ListEvents(ctx, executionID)
}

// GetDebateTraces returns the debate trace rows of one visible execution,
// narrowed by the filter.
func (s *Service) GetDebateTraces(ctx context.Context, userID, executionID string, filter store.DebateTraceFilter) ([]*store.DebateRoundTrace, error) {
	if _, err := s.visibleExecution(ctx, userID, executionID); err != nil {
		return nil, err
	}
	return s.repo.ListDebateTraces(ctx, executionID, filter)
}

// CreateExperimentRequest binds two published versions under a traffic split.
type CreateExperimentRequest struct {
	UserID       string
	DefinitionID string
	VersionAID   string
	VersionBID   string
	WeightA      float64
	WeightB      float64
}

// CreateExperiment activates an A/B experiment for a definition the user
// owns. Both versions must be published and distinct, and the weights must
// sum to 100.
func (s *Service) CreateExperiment(ctx context.Context, req CreateExperimentRequest) (*store.WorkflowExperiment, error) {
	def, err := s.repo.GetDefinition(ctx, req.DefinitionID)
	if err != nil {
		return nil, err
	}
	if def.OwnerUserID != req.UserID {
		return nil, store.ErrNotFound
	}
	if req.VersionAID == req.VersionBID {
		return nil, fmt.Errorf("experiment variants must be distinct versions")
	}
	if math.Abs(req.WeightA+req.WeightB-100) > 0.01 {
		return nil, fmt.Errorf("experiment weights must sum to 100, got %.2f", req.WeightA+req.WeightB)
	}
	for _, versionID := range []string{req.VersionAID, req.VersionBID} {
		v, err := s.repo.GetVersion(ctx, versionID)
		if err != nil {
			return nil, err
		}
		if v.DefinitionID != def.ID {
			return nil, store.ErrNotFound
		}
		if v.Status != types.VersionPublished {
			return nil, fmt.Errorf("experiment variant %d is %s, only published versions qualify", v.VersionCode, v.Status)
		}
	}

	exp := &store.WorkflowExperiment{
		ID:           uuid.NewString(),
		DefinitionID: def.ID,
		VersionAID:   req.VersionAID,
		VersionBID:   req.VersionBID,
		WeightA:      req.WeightA,
		WeightB:      req.WeightB,
		Status:       store.ExperimentActive,
		CreatedAt:    time.Now(),
	}
	if err := s.repo.CreateExperiment(ctx, exp); err != nil {
		return nil, err
	}
	return exp, nil
}

// ExperimentCounts returns recorded run totals per variant for an experiment
// under a definition the user may see.
func (s *Service) ExperimentCounts(ctx context.Context, userID, definitionID, experimentID string) (map[string]int64, error) {
	if _, err := s.visibleDefinition(ctx, userID, definitionID); err != nil {
		return nil, err
	}
	return s.experiments.Counts(ctx, experimentID)
}
