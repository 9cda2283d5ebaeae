package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// gormRepository implements Repository on a GORM database handle.
type gormRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormRepository wraps a GORM handle and migrates the schema.
func NewGormRepository(db *gorm.DB, logger *zap.Logger) (Repository, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(
		&WorkflowDefinition{},
		&WorkflowVersion{},
		&WorkflowExecution{},
		&NodeExecution{},
		&DebateRoundTrace{},
		&TimelineEvent{},
		&WorkflowExperiment{},
		&WorkflowExperimentRun{},
	); err != nil {
		return nil, fmt.Errorf("migrate workflow schema: %w", err)
	}
	return &gormRepository{
		db:     db,
		logger: logger.With(zap.String("component", "store")),
	}, nil
}

// translate maps driver errors onto the repository sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateKey
	}
	// Drivers without ErrDuplicatedKey mapping report constraint text.
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate") {
		return ErrDuplicateKey
	}
	return err
}

func (r *gormRepository) CreateDefinition(ctx context.Context, def *WorkflowDefinition) error {
	return translate(r.db.WithContext(ctx).Create(def).Error)
}

func (r *gormRepository) GetDefinition(ctx context.Context, id string) (*WorkflowDefinition, error) {
	var def WorkflowDefinition
	if err := r.db.WithContext(ctx).First(&def, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &def, nil
}

func (r *gormRepository) UpdateDefinition(ctx context.Context, def *WorkflowDefinition) error {
	return translate(r.db.WithContext(ctx).Save(def).Error)
}

func (r *gormRepository) CreateVersion(ctx context.Context, v *WorkflowVersion) error {
	return translate(r.db.WithContext(ctx).Create(v).Error)
}

func (r *gormRepository) GetVersion(ctx context.Context, id string) (*WorkflowVersion, error) {
	var v WorkflowVersion
	if err := r.db.WithContext(ctx).First(&v, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &v, nil
}

func (r *gormRepository) UpdateVersion(ctx context.Context, v *WorkflowVersion) error {
	return translate(r.db.WithContext(ctx).Save(v).Error)
}

func (r *gormRepository) LatestPublishedVersion(ctx context.Context, definitionID string) (*WorkflowVersion, error) {
	var v WorkflowVersion
	err := r.db.WithContext(ctx).
		Where("definition_id = ? AND status = ?", definitionID, "PUBLISHED").
		Order("version_code DESC").
		First(&v).Error
	if err != nil {
		return nil, translate(err)
	}
	return &v, nil
}

func (r *gormRepository) LatestVersion(ctx context.Context, definitionID string) (*WorkflowVersion, error) {
	var v WorkflowVersion
	err := r.db.WithContext(ctx).
		Where("definition_id = ?", definitionID).
		Order("version_code DESC").
		First(&v).Error
	if err != nil {
		return nil, translate(err)
	}
	return &v, nil
}

func (r *gormRepository) CreateExecution(ctx context.Context, e *WorkflowExecution) error {
	return translate(r.db.WithContext(ctx).Create(e).Error)
}

func (r *gormRepository) GetExecution(ctx context.Context, id string) (*WorkflowExecution, error) {
	var e WorkflowExecution
	if err := r.db.WithContext(ctx).First(&e, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &e, nil
}

func (r *gormRepository) UpdateExecution(ctx context.Context, e *WorkflowExecution) error {
	return translate(r.db.WithContext(ctx).Save(e).Error)
}

func (r *gormRepository) FindExecutionByKey(ctx context.Context, versionID, userID, key string) (*WorkflowExecution, error) {
	var e WorkflowExecution
	err := r.db.WithContext(ctx).
		Where("version_id = ? AND trigger_user_id = ? AND idempotency_key = ?", versionID, userID, key).
		First(&e).Error
	if err != nil {
		return nil, translate(err)
	}
	return &e, nil
}

func (r *gormRepository) CreateNodeExecution(ctx context.Context, ne *NodeExecution) error {
	return translate(r.db.WithContext(ctx).Create(ne).Error)
}

func (r *gormRepository) UpdateNodeExecution(ctx context.Context, ne *NodeExecution) error {
	return translate(r.db.WithContext(ctx).Save(ne).Error)
}

func (r *gormRepository) ListNodeExecutions(ctx context.Context, executionID string) ([]*NodeExecution, error) {
	var rows []*NodeExecution
	err := r.db.WithContext(ctx).
		Where("execution_id = ?", executionID).
		Order("started_at ASC").
		Find(&rows).Error
	return rows, translate(err)
}

func (r *gormRepository) CreateDebateTrace(ctx context.Context, t *DebateRoundTrace) error {
	return translate(r.db.WithContext(ctx).Create(t).Error)
}

func (r *gormRepository) ListDebateTraces(ctx context.Context, executionID string, filter DebateTraceFilter) ([]*DebateRoundTrace, error) {
	q := r.db.WithContext(ctx).Where("execution_id = ?", executionID)
	if filter.RoundNumber > 0 {
		q = q.Where("round_number = ?", filter.RoundNumber)
	}
	if filter.ParticipantCode != "" {
		q = q.Where("participant_code = ?", filter.ParticipantCode)
	}
	if filter.JudgementsOnly {
		q = q.Where("is_judgement = ?", true)
	}
	var rows []*DebateRoundTrace
	err := q.Order("round_number ASC, created_at ASC").Find(&rows).Error
	return rows, translate(err)
}

func (r *gormRepository) AppendEvent(ctx context.Context, e *TimelineEvent) error {
	return translate(r.db.WithContext(ctx).Create(e).Error)
}

func (r *gormRepository) ListEvents(ctx context.Context, executionID string) ([]*TimelineEvent, error) {
	var rows []*TimelineEvent
	err := r.db.WithContext(ctx).
		Where("execution_id = ?", executionID).
		Order("seq ASC").
		Find(&rows).Error
	return rows, translate(err)
}

func (r *gormRepository) CreateExperiment(ctx context.Context, exp *WorkflowExperiment) error {
	return translate(r.db.WithContext(ctx).Create(exp).Error)
}

func (r *gormRepository) ActiveExperiment(ctx context.Context, definitionID string) (*WorkflowExperiment, error) {
	var exp WorkflowExperiment
	err := r.db.WithContext(ctx).
		Where("definition_id = ? AND status = ?", definitionID, ExperimentActive).
		Order("created_at DESC").
		First(&exp).Error
	if err != nil {
		return nil, translate(err)
	}
	return &exp, nil
}

func (r *gormRepository) CreateExperimentRun(ctx context.Context, run *WorkflowExperimentRun) error {
	return translate(r.db.WithContext(ctx).Create(run).Error)
}

func (r *gormRepository) VariantRunCounts(ctx context.Context, experimentID string) (map[string]int64, error) {
	type row struct {
		Variant string
		Count   int64
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&WorkflowExperimentRun{}).
		Select("variant, COUNT(*) as count").
		Where("experiment_id = ?", experimentID).
		Group("variant").
		Scan(&rows).Error
	if err != nil {
		return nil, translate(err)
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Variant] = r.Count
	}
	return counts, nil
}
