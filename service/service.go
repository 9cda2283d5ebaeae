// Package service is the application layer: it owns the draft/publish
// lifecycle of workflow definitions, triggers executions with idempotency
// and experiment routing, and scopes every read by visibility.
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

// ErrValidationFailed is returned when a publish is rejected by DSL
// validation. The accompanying result carries the issues.
var ErrValidationFailed = errors.New("dsl validation failed")

// ErrAlreadyTerminal is returned when cancelling an execution that already
// reached a terminal state.
var ErrAlreadyTerminal = errors.New("execution already terminal")

// Deps wires the service's collaborators. Registrar and Sink are optional;
// a nil Registrar falls back to the in-memory implementation.
type Deps struct {
	Repo      store.Repository
	Catalog   dsl.Catalog
	Registrar idempotency.Registrar
	Runtime   workflow.RuntimeOptions
	Fetcher   workflow.DataFetcher
	Rules     workflow.RuleEvaluator
	Agents    workflow.AgentInvoker
	Notifier  workflow.Notifier
	Logger    *zap.Logger
}

// Service exposes the workflow engine's operations. It implements
// workflow.SubflowRunner so subflow-call nodes re-enter through the same
// trigger path as top-level executions.
type Service struct {
	repo        store.Repository
	runtime     *workflow.Runtime
	validator   *dsl.Validator
	registrar   idempotency.Registrar
	experiments *experiment.Router
	parser      *dsl.Parser
	logger      *zap.Logger
}

// New assembles the service, the node registry and the runtime.
func New(deps Deps) (*Service, error) {
	if deps.Repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	registrar := deps.Registrar
	if registrar == nil {
		registrar = idempotency.NewMemoryRegistrar(logger)
	}

	svc := &Service{
		repo:        deps.Repo,
		validator:   dsl.NewValidator(deps.Catalog, logger),
		registrar:   registrar,
		experiments: experiment.NewRouter(deps.Repo, logger),
		parser:      dsl.NewParser(),
		logger:      logger.With(zap.String("component", "workflow_service")),
	}

	registry := workflow.NewRegistry(workflow.Collaborators{
		Fetcher:  deps.Fetcher,
		Rules:    deps.Rules,
		Agents:   deps.Agents,
		Notifier: deps.Notifier,
		Traces:   &traceRecorder{repo: deps.Repo},
		Subflows: svc,
	}, logger)

	opts := deps.Runtime
	if opts.Logger == nil {
		opts.Logger = logger
	}
	svc.runtime = workflow.NewRuntime(registry, deps.Repo, opts)
	return svc, nil
}

// SaveDraftRequest carries one draft save.
type SaveDraftRequest struct {
	UserID       string
	DefinitionID string // empty creates a new definition
	Name         string
	Visibility   types.Visibility
	DSL          []byte
}

// SaveDraftResult is the outcome of a draft save. Validation issues are
// advisory at save time; only publish enforces them.
type SaveDraftResult struct {
	Definition *store.WorkflowDefinition
	Version    *store.WorkflowVersion
	Validation dsl.Result
}

// SaveDraft parses, validates and stores a DSL snapshot as the definition's
// current draft version. An existing draft is overwritten in place; once the
// latest version is published, saving opens a new draft.
func (s *Service) SaveDraft(ctx context.Context, req SaveDraftRequest) (*SaveDraftResult, error) {
	snap, err := s.parser.Parse(req.DSL)
	if err != nil {
		return nil, fmt.Errorf("parse dsl: %w", err)
	}

	def, err := s.ensureDefinition(ctx, &req, snap)
	if err != nil {
		return nil, err
	}

	validation := s.validator.Validate(snap, types.StageSave, dsl.Context{
		DefinitionID: def.ID,
		OwnerUserID:  def.OwnerUserID,
	})

	canonical, err := dsl.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal dsl: %w", err)
	}

	version, err := s.repo.LatestVersion(ctx, def.ID)
	switch {
	case err == nil && version.Status == types.VersionDraft:
		version.DSLSnapshot = string(canonical)
		version.UpdatedAt = time.Now()
		if err := s.repo.UpdateVersion(ctx, version); err != nil {
			return nil, fmt.Errorf("update draft: %w", err)
		}
	case err == nil || errors.Is(err, store.ErrNotFound):
		code := 1
		if version != nil {
			code = version.VersionCode + 1
		}
		version = &store.WorkflowVersion{
			ID:           uuid.NewString(),
			DefinitionID: def.ID,
			VersionCode:  code,
			Status:       types.VersionDraft,
			DSLSnapshot:  string(canonical),
			CreatedAt:    time.Now(),
		}
		if err := s.repo.CreateVersion(ctx, version); err != nil {
			return nil, fmt.Errorf("create draft: %w", err)
		}
		def.LatestVersionCode = code
		if err := s.repo.UpdateDefinition(ctx, def); err != nil {
			return nil, fmt.Errorf("update definition: %w", err)
		}
	default:
		return nil, fmt.Errorf("load latest version: %w", err)
	}

	s.logger.Info("draft saved",
		zap.String("definition_id", def.ID),
		zap.Int("version_code", version.VersionCode),
		zap.Int("issues", len(validation.Issues)))
	return &SaveDraftResult{Definition: def, Version: version, Validation: validation}, nil
}

// ensureDefinition creates a new definition or loads an existing one with an
// ownership check. Non-owners get not-found, never forbidden.
func (s *Service) ensureDefinition(ctx context.Context, req *SaveDraftRequest, snap *dsl.Snapshot) (*store.WorkflowDefinition, error) {
	if req.DefinitionID == "" {
		visibility := req.Visibility
		if visibility == "" {
			visibility = types.VisibilityPrivate
		}
		def := &store.WorkflowDefinition{
			ID:          uuid.NewString(),
			Name:        req.Name,
			Mode:        string(snap.Mode),
			OwnerUserID: req.UserID,
			Visibility:  visibility,
			Status:      types.DefinitionDraft,
			CreatedAt:   time.Now(),
		}
		if err := s.repo.CreateDefinition(ctx, def); err != nil {
			return nil, fmt.Errorf("create definition: %w", err)
		}
		return def, nil
	}

	def, err := s.repo.GetDefinition(ctx, req.DefinitionID)
	if err != nil {
		return nil, err
	}
	if def.OwnerUserID != req.UserID {
		return nil, store.ErrNotFound
	}
	if req.Name != "" {
		def.Name = req.Name
	}
	def.Mode = string(snap.Mode)
	return def, nil
}

// PublishRequest carries one publish.
type PublishRequest struct {
	UserID       string
	DefinitionID string
	VersionID    string // empty publishes the latest draft
}

// PublishResult is the outcome of a publish attempt.
type PublishResult struct {
	Version    *store.WorkflowVersion
	NextDraft  *store.WorkflowVersion
	Validation dsl.Result
}

// Publish promotes a draft version after full validation. The previously
// published version is superseded, and a fresh draft is opened so editing can
// continue without touching the now-immutable published snapshot.
func (s *Service) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	def, err := s.repo.GetDefinition(ctx, req.DefinitionID)
	if err != nil {
		return nil, err
	}
	if def.OwnerUserID != req.UserID {
		return nil, store.ErrNotFound
	}

	version, err := s.resolveDraft(ctx, def.ID, req.VersionID)
	if err != nil {
		return nil, err
	}

	snap, err := s.parser.Parse([]byte(version.DSLSnapshot))
	if err != nil {
		return nil, fmt.Errorf("parse draft snapshot: %w", err)
	}

	validation := s.validator.Validate(snap, types.StagePublish, dsl.Context{
		DefinitionID: def.ID,
		OwnerUserID:  def.OwnerUserID,
	})
	if !validation.Valid {
		return &PublishResult{Version: version, Validation: validation}, ErrValidationFailed
	}

	if prev, err := s.repo.LatestPublishedVersion(ctx, def.ID); err == nil {
		prev.Status = types.VersionSuperseded
		prev.UpdatedAt = time.Now()
		if err := s.repo.UpdateVersion(ctx, prev); err != nil {
			return nil, fmt.Errorf("supersede version: %w", err)
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load published version: %w", err)
	}

	now := time.Now()
	version.Status = types.VersionPublished
	version.PublishedAt = &now
	version.UpdatedAt = now
	if err := s.repo.UpdateVersion(ctx, version); err != nil {
		return nil, fmt.Errorf("publish version: %w", err)
	}

	next := &store.WorkflowVersion{
		ID:           uuid.NewString(),
		DefinitionID: def.ID,
		VersionCode:  version.VersionCode + 1,
		Status:       types.VersionDraft,
		DSLSnapshot:  version.DSLSnapshot,
		CreatedAt:    now,
	}
	if err := s.repo.CreateVersion(ctx, next); err != nil {
		return nil, fmt.Errorf("open next draft: %w", err)
	}

	def.Status = types.DefinitionActive
	def.LatestVersionCode = next.VersionCode
	if err := s.repo.UpdateDefinition(ctx, def); err != nil {
		return nil, fmt.Errorf("update definition: %w", err)
	}

	s.logger.Info("version published",
		zap.String("definition_id", def.ID),
		zap.Int("version_code", version.VersionCode))
	return &PublishResult{Version: version, NextDraft: next, Validation: validation}, nil
}

// resolveDraft loads the draft to publish, by id or as the latest version.
func (s *Service) resolveDraft(ctx context.Context, definitionID, versionID string) (*store.WorkflowVersion, error) {
	var version *store.WorkflowVersion
	var err error
	if versionID != "" {
		version, err = s.repo.GetVersion(ctx, versionID)
	} else {
		version, err = s.repo.LatestVersion(ctx, definitionID)
	}
	if err != nil {
		return nil, err
	}
	if version.DefinitionID != definitionID {
		return nil, store.ErrNotFound
	}
	if version.Status != types.VersionDraft {
		return nil, fmt.Errorf("version %d is %s, only drafts publish", version.VersionCode, version.Status)
	}
	return version, nil
}

// ValidateDSL runs validation without persisting anything, for editor
// feedback.
func (s *Service) ValidateDSL(ctx context.Context, userID, definitionID string, raw []byte, stage types.ValidationStage) (dsl.Result, error) {
	snap, err := s.parser.Parse(raw)
	if err != nil {
		return dsl.Result{}, fmt.Errorf("parse dsl: %w", err)
	}

	vctx := dsl.Context{OwnerUserID: userID}
	if definitionID != "" {
		def, err := s.repo.GetDefinition(ctx, definitionID)
		if err != nil {
			return dsl.Result{}, err
		}
		if def.OwnerUserID != userID {
			return dsl.Result{}, store.ErrNotFound
		}
		vctx.DefinitionID = def.ID
		vctx.OwnerUserID = def.OwnerUserID
	}
	return s.validator.Validate(snap, stage, vctx), nil
}
