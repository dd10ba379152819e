package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/shotguess/internal/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ProgressRepository persists ImportProgress rows.
type ProgressRepository struct {
	db *gorm.DB
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(db *gorm.DB) *ProgressRepository {
	return &ProgressRepository{db: db}
}

// Create inserts a new progress row.
// Returns domain.ErrJobAlreadyActive when the active-job unique index rejects the row.
func (r *ProgressRepository) Create(ctx context.Context, p *domain.ImportProgress) error {
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrJobAlreadyActive
		}
		return fmt.Errorf("failed to create import progress: %w", err)
	}
	return nil
}

// FindByID loads a progress row. Returns domain.ErrJobNotFound if missing.
func (r *ProgressRepository) FindByID(ctx context.Context, id string) (*domain.ImportProgress, error) {
	var p domain.ImportProgress
	if err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to load import progress %s: %w", id, err)
	}
	return &p, nil
}

// FindActiveByType returns the in-progress or paused job of the given type, or nil.
func (r *ProgressRepository) FindActiveByType(ctx context.Context, t domain.ImportType) (*domain.ImportProgress, error) {
	var rows []domain.ImportProgress
	if err := r.db.WithContext(ctx).
		Where("import_type = ? AND status IN ?", t,
			[]domain.ImportStatus{domain.ImportStatusInProgress, domain.ImportStatusPaused}).
		Order("created_at DESC").
		Limit(1).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to find active %s job: %w", t, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// GetStatus reads only the status column; used by the engine's pause checkpoints.
func (r *ProgressRepository) GetStatus(ctx context.Context, id string) (domain.ImportStatus, error) {
	var statuses []string
	if err := r.db.WithContext(ctx).Model(&domain.ImportProgress{}).
		Where("id = ?", id).
		Limit(1).
		Pluck("status", &statuses).Error; err != nil {
		return "", fmt.Errorf("failed to read status of %s: %w", id, err)
	}
	if len(statuses) == 0 {
		return "", domain.ErrJobNotFound
	}
	return domain.ImportStatus(statuses[0]), nil
}

// Update writes an arbitrary set of columns.
func (r *ProgressRepository) Update(ctx context.Context, id string, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now()
	res := r.db.WithContext(ctx).Model(&domain.ImportProgress{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("failed to update import progress %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// UpdateProgress is the checkpoint write: counters and cursor only, never status,
// so a pause recorded between checkpoints is not overwritten.
func (r *ProgressRepository) UpdateProgress(ctx context.Context, id string, c domain.ProgressCounters) error {
	return r.Update(ctx, id, map[string]interface{}{
		"current_page":      c.CurrentPage,
		"page_offset":       c.PageOffset,
		"current_batch":     c.CurrentBatch,
		"items_processed":   c.ItemsProcessed,
		"items_imported":    c.ItemsImported,
		"items_skipped":     c.ItemsSkipped,
		"items_failed":      c.ItemsFailed,
		"assets_downloaded": c.AssetsDownloaded,
		"assets_failed":     c.AssetsFailed,
		"failed_count":      c.ItemsFailed + c.AssetsFailed,
		"recent_errors":     datatypes.NewJSONSlice(c.RecentErrors),
	})
}

// SetStatus unconditionally sets status and stamps the matching timestamp.
func (r *ProgressRepository) SetStatus(ctx context.Context, id string, status domain.ImportStatus) (*domain.ImportProgress, error) {
	if err := r.Update(ctx, id, statusFields(status)); err != nil {
		return nil, err
	}
	return r.FindByID(ctx, id)
}

// TransitionStatus moves a job from one status to another atomically.
// Returns domain.ErrInvalidTransition when the job is not in the from status.
func (r *ProgressRepository) TransitionStatus(ctx context.Context, id string, from, to domain.ImportStatus) (*domain.ImportProgress, error) {
	fields := statusFields(to)
	fields["updated_at"] = time.Now()
	res := r.db.WithContext(ctx).Model(&domain.ImportProgress{}).
		Where("id = ? AND status = ?", id, from).
		Updates(fields)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return nil, domain.ErrJobAlreadyActive
		}
		return nil, fmt.Errorf("failed to move %s from %s to %s: %w", id, from, to, res.Error)
	}
	if res.RowsAffected == 0 {
		current, err := r.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: job %s is %s, expected %s", domain.ErrInvalidTransition, id, current.Status, from)
	}
	return r.FindByID(ctx, id)
}

// MarkFailed sets status failed and records the error message.
func (r *ProgressRepository) MarkFailed(ctx context.Context, id string, reason string) error {
	fields := statusFields(domain.ImportStatusFailed)
	fields["last_error"] = domain.Truncate(reason, 1000)
	return r.Update(ctx, id, fields)
}

// List returns the most recent jobs, newest first.
func (r *ProgressRepository) List(ctx context.Context, limit int) ([]domain.ImportProgress, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []domain.ImportProgress
	if err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list import jobs: %w", err)
	}
	return rows, nil
}

// ListByStatus returns every job in the given status, oldest first.
func (r *ProgressRepository) ListByStatus(ctx context.Context, status domain.ImportStatus) ([]domain.ImportProgress, error) {
	var rows []domain.ImportProgress
	if err := r.db.WithContext(ctx).Where("status = ?", status).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list %s jobs: %w", status, err)
	}
	return rows, nil
}

func statusFields(status domain.ImportStatus) map[string]interface{} {
	now := time.Now()
	fields := map[string]interface{}{"status": status}
	switch status {
	case domain.ImportStatusPaused:
		fields["paused_at"] = now
	case domain.ImportStatusCompleted, domain.ImportStatusFailed:
		fields["completed_at"] = now
	}
	return fields
}
