package domain

import "time"

// SessionStatus is the state of a played game session.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusAbandoned SessionStatus = "abandoned"
)

// GameSession is one played round set; TotalScore is derived from its guesses.
type GameSession struct {
	ID          string        `gorm:"type:text;primaryKey" json:"id"`
	UserID      string        `gorm:"type:text;index" json:"user_id"`
	Status      SessionStatus `gorm:"type:text;index" json:"status"`
	TotalScore  int           `json:"total_score"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// TableName returns the database table name for GameSession.
func (GameSession) TableName() string {
	return "game_sessions"
}

// SessionGuess is a single round of a session.
type SessionGuess struct {
	ID          string `gorm:"type:text;primaryKey" json:"id"`
	SessionID   string `gorm:"type:text;not null;index" json:"session_id"`
	Round       int    `json:"round"`
	Correct     bool   `json:"correct"`
	HintsUsed   int    `json:"hints_used"`
	TimeTakenMs int64  `json:"time_taken_ms"`
	Points      int    `json:"points"`
}

// TableName returns the database table name for SessionGuess.
func (SessionGuess) TableName() string {
	return "session_guesses"
}
