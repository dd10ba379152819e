package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// StringArray is a custom type for storing string arrays as JSON in the database.
type StringArray []string

// Value implements the driver.Valuer interface for database serialization.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	raw, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan StringArray")
		}
		raw = []byte(str)
	}
	return json.Unmarshal(raw, a)
}

// Game is a catalog entry players guess from screenshots.
// ExternalID is the natural key from the metadata API and makes ingestion idempotent.
type Game struct {
	ID              string      `gorm:"type:text;primaryKey" json:"id"`
	ExternalID      int         `gorm:"not null;uniqueIndex:idx_games_external_id" json:"external_id"`
	Slug            string      `gorm:"type:text;index" json:"slug"`
	Name            string      `gorm:"type:text;not null" json:"name"`
	Released        string      `gorm:"type:text" json:"released,omitempty"`
	BackgroundImage string      `gorm:"type:text" json:"background_image,omitempty"`
	Rating          float64     `json:"rating"`
	Metacritic      int         `json:"metacritic"`
	Genres          StringArray `gorm:"type:text" json:"genres"`
	Tags            StringArray `gorm:"type:text" json:"tags"`
	Description     string      `gorm:"type:text" json:"description,omitempty"`
	ScreenshotCount int         `json:"screenshot_count"`
	ImportedBy      string      `gorm:"type:text;index" json:"imported_by,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// TableName returns the database table name for Game.
func (Game) TableName() string {
	return "games"
}

// Screenshot is a downloaded image belonging to a Game.
type Screenshot struct {
	ID         string    `gorm:"type:text;primaryKey" json:"id"`
	GameID     string    `gorm:"type:text;not null;index" json:"game_id"`
	ExternalID int       `json:"external_id"`
	SourceURL  string    `gorm:"type:text" json:"source_url"`
	LocalPath  string    `gorm:"type:text" json:"local_path"`
	StorageKey string    `gorm:"type:text" json:"storage_key,omitempty"`
	PublicURL  string    `gorm:"type:text" json:"public_url,omitempty"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	FileSize   int64     `json:"file_size"`
	Position   int       `json:"position"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName returns the database table name for Screenshot.
func (Screenshot) TableName() string {
	return "screenshots"
}

// ScreenshotMeta is the metadata recorded alongside a downloaded screenshot.
type ScreenshotMeta struct {
	ExternalID int
	SourceURL  string
	StorageKey string
	PublicURL  string
	Width      int
	Height     int
	FileSize   int64
	Position   int
}
