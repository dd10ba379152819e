package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/shotguess/internal/domain"
	"gorm.io/gorm"
)

// GameRepository is the catalog store: games and their screenshots.
// The import engine only appends to it.
type GameRepository struct {
	db *gorm.DB
}

// NewGameRepository creates a new GameRepository.
func NewGameRepository(db *gorm.DB) *GameRepository {
	return &GameRepository{db: db}
}

// ExistsByExternalID checks if a game with the given natural key exists.
func (r *GameRepository) ExistsByExternalID(ctx context.Context, externalID int) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Game{}).
		Where("external_id = ?", externalID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check game %d: %w", externalID, err)
	}
	return count > 0, nil
}

// FindByExternalID returns the game with the given natural key, or nil.
func (r *GameRepository) FindByExternalID(ctx context.Context, externalID int) (*domain.Game, error) {
	var game domain.Game
	if err := r.db.WithContext(ctx).First(&game, "external_id = ?", externalID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &game, nil
}

// Create inserts a game, assigning an ID if empty.
func (r *GameRepository) Create(ctx context.Context, game *domain.Game) error {
	if game.ID == "" {
		game.ID = uuid.New().String()
	}
	if err := r.db.WithContext(ctx).Create(game).Error; err != nil {
		return fmt.Errorf("failed to create game %d: %w", game.ExternalID, err)
	}
	return nil
}

// CreateScreenshot records a downloaded screenshot for a game.
func (r *GameRepository) CreateScreenshot(ctx context.Context, gameID, localPath string, meta domain.ScreenshotMeta) (*domain.Screenshot, error) {
	shot := &domain.Screenshot{
		ID:         uuid.New().String(),
		GameID:     gameID,
		ExternalID: meta.ExternalID,
		SourceURL:  meta.SourceURL,
		LocalPath:  localPath,
		StorageKey: meta.StorageKey,
		PublicURL:  meta.PublicURL,
		Width:      meta.Width,
		Height:     meta.Height,
		FileSize:   meta.FileSize,
		Position:   meta.Position,
		CreatedAt:  time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(shot).Error; err != nil {
		return nil, fmt.Errorf("failed to create screenshot for game %s: %w", gameID, err)
	}
	return shot, nil
}

// UpdateScreenshotCount stores how many screenshots were actually saved.
func (r *GameRepository) UpdateScreenshotCount(ctx context.Context, gameID string, count int) error {
	return r.db.WithContext(ctx).Model(&domain.Game{}).
		Where("id = ?", gameID).
		Update("screenshot_count", count).Error
}

// ListScreenshots returns a game's screenshots ordered by position.
func (r *GameRepository) ListScreenshots(ctx context.Context, gameID string) ([]domain.Screenshot, error) {
	var shots []domain.Screenshot
	if err := r.db.WithContext(ctx).Where("game_id = ?", gameID).Order("position ASC").Find(&shots).Error; err != nil {
		return nil, err
	}
	return shots, nil
}

// Count returns the number of games in the catalog.
func (r *GameRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Game{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
