package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/timmy/shotguess/internal/domain"
	"gorm.io/gorm"
)

// SessionRepository reads completed game sessions for score recalculation.
type SessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// CountCompleted returns the number of completed sessions.
func (r *SessionRepository) CountCompleted(ctx context.Context) (int, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.GameSession{}).
		Where("status = ?", domain.SessionStatusCompleted).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count completed sessions: %w", err)
	}
	return int(count), nil
}

// ListCompleted pages completed sessions ordered by ID, a stable key.
func (r *SessionRepository) ListCompleted(ctx context.Context, limit, offset int) ([]domain.GameSession, error) {
	var sessions []domain.GameSession
	if err := r.db.WithContext(ctx).
		Where("status = ?", domain.SessionStatusCompleted).
		Order("id ASC").
		Limit(limit).
		Offset(offset).
		Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("failed to list completed sessions: %w", err)
	}
	return sessions, nil
}

// ListGuesses returns a session's guesses ordered by round.
func (r *SessionRepository) ListGuesses(ctx context.Context, sessionID string) ([]domain.SessionGuess, error) {
	var guesses []domain.SessionGuess
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("round ASC").
		Find(&guesses).Error; err != nil {
		return nil, fmt.Errorf("failed to list guesses of %s: %w", sessionID, err)
	}
	return guesses, nil
}

// UpdateScore writes the recomputed total and per-guess points in one transaction.
func (r *SessionRepository) UpdateScore(ctx context.Context, sessionID string, total int, points map[string]int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for guessID, p := range points {
			if err := tx.Model(&domain.SessionGuess{}).Where("id = ?", guessID).Update("points", p).Error; err != nil {
				return err
			}
		}
		return tx.Model(&domain.GameSession{}).Where("id = ?", sessionID).
			Updates(map[string]interface{}{"total_score": total, "updated_at": time.Now()}).Error
	})
}
