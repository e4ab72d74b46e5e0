package models

import "time"

// Message is one transcript utterance. TsMs is the client's logical
// timestamp and drives ordering; CreatedAt is server arrival time.
type Message struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	SessionID string `gorm:"size:36;not null;index:idx_session_ts"`
	Speaker   string `gorm:"size:8;not null"` // human, ai
	Text      string `gorm:"type:text;not null"`
	TsMs      int64  `gorm:"not null;index:idx_session_ts"`
	RawJSON   string `gorm:"type:text"`
	CreatedAt time.Time
}
