package service

import (
	"context"
	"fmt"

	"github.com/timmy/shotguess/internal/domain"
	"github.com/timmy/shotguess/internal/engine"
)

// Scoring constants for a single guess.
const (
	BasePoints      = 100
	HintPenalty     = 25
	MinCorrectScore = 25
	TimeBonusWindow = 30000 // ms
)

// ScoreGuess returns the points a guess is worth.
func ScoreGuess(g domain.SessionGuess) int {
	if !g.Correct {
		return 0
	}
	points := BasePoints - HintPenalty*g.HintsUsed
	if points < MinCorrectScore {
		points = MinCorrectScore
	}
	if g.TimeTakenMs < TimeBonusWindow {
		points += int((TimeBonusWindow - g.TimeTakenMs) / 1000)
	}
	return points
}

// SessionStore is the session data the recalculation reads and writes.
type SessionStore interface {
	CountCompleted(ctx context.Context) (int, error)
	ListCompleted(ctx context.Context, limit, offset int) ([]domain.GameSession, error)
	ListGuesses(ctx context.Context, sessionID string) ([]domain.SessionGuess, error)
	UpdateScore(ctx context.Context, sessionID string, total int, points map[string]int) error
}

// RecalcStrategy recomputes session scores from their guesses. In the
// counters, imported means "updated" (or "would update" on a dry run) and
// skipped means "unchanged".
type RecalcStrategy struct {
	sessions SessionStore
}

// NewRecalcStrategy creates a RecalcStrategy.
func NewRecalcStrategy(sessions SessionStore) *RecalcStrategy {
	return &RecalcStrategy{sessions: sessions}
}

func (s *RecalcStrategy) Type() domain.ImportType {
	return domain.ImportTypeRecalculate
}

// CompletePages ends every recalculation batch on a page boundary.
func (s *RecalcStrategy) CompletePages() bool {
	return true
}

// FetchPage pages completed sessions in ID order.
func (s *RecalcStrategy) FetchPage(ctx context.Context, page, pageSize int) (*engine.Page, error) {
	total, err := s.sessions.CountCompleted(ctx)
	if err != nil {
		return nil, err
	}
	offset := (page - 1) * pageSize
	sessions, err := s.sessions.ListCompleted(ctx, pageSize, offset)
	if err != nil {
		return nil, err
	}

	out := &engine.Page{Total: total, HasNext: offset+len(sessions) < total}
	for _, sess := range sessions {
		out.Items = append(out.Items, engine.Item{Key: "session " + sess.ID, Value: sess})
	}
	return out, nil
}

func (s *RecalcStrategy) ProcessItem(ctx context.Context, progress *domain.ImportProgress, item engine.Item) (engine.Outcome, error) {
	sess, ok := item.Value.(domain.GameSession)
	if !ok {
		return engine.Outcome{}, fmt.Errorf("unexpected item type %T", item.Value)
	}

	guesses, err := s.sessions.ListGuesses(ctx, sess.ID)
	if err != nil {
		return engine.Outcome{}, err
	}

	total := 0
	changed := map[string]int{}
	for _, g := range guesses {
		p := ScoreGuess(g)
		total += p
		if p != g.Points {
			changed[g.ID] = p
		}
	}

	if total == sess.TotalScore && len(changed) == 0 {
		return engine.Outcome{Result: engine.ResultSkipped}, nil
	}
	if !progress.Opts().DryRun {
		if err := s.sessions.UpdateScore(ctx, sess.ID, total, changed); err != nil {
			return engine.Outcome{}, err
		}
	}
	return engine.Outcome{Result: engine.ResultImported}, nil
}
