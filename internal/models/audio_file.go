package models

import "time"

// AudioFile is one physical track segment belonging to a session. There is
// exactly one row per (session, speaker, segment).
type AudioFile struct {
	ID            uint    `gorm:"primaryKey;autoIncrement"`
	SessionID     string  `gorm:"size:36;not null;uniqueIndex:idx_track_segment"`
	Speaker       string  `gorm:"size:8;not null;uniqueIndex:idx_track_segment"` // human, ai
	SegmentNumber int     `gorm:"not null;default:1;uniqueIndex:idx_track_segment"`
	FilePath      string  `gorm:"size:512;not null;uniqueIndex"`
	Size          int64   `gorm:"default:0"`
	Duration      float64 `gorm:"default:0"` // seconds
	Format        string  `gorm:"size:8;default:wav"`
	Finalized     bool    `gorm:"default:false"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
