package models

import "time"

// Session is one recording/conversation instance. It exclusively owns its
// audio tracks and transcript messages.
type Session struct {
	ID            string     `gorm:"primaryKey;size:36"`
	Title         string     `gorm:"size:256"`
	Status        string     `gorm:"size:16;default:active;index"` // active, incomplete, completed
	Settings      string     `gorm:"type:text"`                    // JSON-encoded session settings
	LastHeartbeat *time.Time `gorm:"index"`
	CompletedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time

	AudioFiles []AudioFile `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
	Messages   []Message   `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
}
