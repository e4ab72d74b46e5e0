package db

import (
	"fmt"

	"github.com/zulandar/cohost/internal/models"
	"github.com/zulandar/cohost/internal/speaker"
	"gorm.io/gorm"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Session{},
		&models.AudioFile{},
		&models.Message{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// LegacyReport counts rows rewritten by MigrateLegacySpeakers.
type LegacyReport struct {
	AudioFiles int64
	Messages   int64
}

// MigrateLegacySpeakers rewrites rows that still carry legacy speaker
// aliases to their canonical role. Running it again is a no-op.
func MigrateLegacySpeakers(db *gorm.DB) (*LegacyReport, error) {
	report := &LegacyReport{}
	err := db.Transaction(func(tx *gorm.DB) error {
		for alias, canonical := range speaker.LegacyAliases() {
			res := tx.Model(&models.AudioFile{}).
				Where("speaker = ?", alias).
				Update("speaker", string(canonical))
			if res.Error != nil {
				return fmt.Errorf("audio_files %s: %w", alias, res.Error)
			}
			report.AudioFiles += res.RowsAffected

			res = tx.Model(&models.Message{}).
				Where("speaker = ?", alias).
				Update("speaker", string(canonical))
			if res.Error != nil {
				return fmt.Errorf("messages %s: %w", alias, res.Error)
			}
			report.Messages += res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("db: migrate legacy speakers: %w", err)
	}
	return report, nil
}
