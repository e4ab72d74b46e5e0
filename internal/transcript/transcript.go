// Package transcript stores the per-session utterance log. Messages may
// arrive out of order; reads always return them ordered by their logical
// timestamp.
package transcript

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zulandar/cohost/internal/apperr"
	"github.com/zulandar/cohost/internal/models"
	"github.com/zulandar/cohost/internal/speaker"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store appends and lists transcript messages.
type Store struct {
	db *gorm.DB
}

// NewStore creates a transcript Store.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("transcript: db is required")
	}
	return &Store{db: db}, nil
}

// AppendOpts holds one utterance.
type AppendOpts struct {
	SessionID string
	Speaker   speaker.Speaker
	Text      string
	TsMs      int64
	RawJSON   string
}

// Append validates and stores a message. The store assigns the id;
// duplicates are kept.
func (s *Store) Append(opts AppendOpts) (*models.Message, error) {
	if !opts.Speaker.Valid() {
		return nil, apperr.ErrInvalidSpeaker
	}
	if strings.TrimSpace(opts.Text) == "" {
		return nil, apperr.Validation("text", "must not be empty")
	}
	if opts.TsMs < 0 {
		return nil, apperr.Validation("tsMs", "must be >= 0")
	}
	if err := s.requireSession(opts.SessionID); err != nil {
		return nil, err
	}

	msg := &models.Message{
		SessionID: opts.SessionID,
		Speaker:   opts.Speaker.String(),
		Text:      opts.Text,
		TsMs:      opts.TsMs,
		RawJSON:   opts.RawJSON,
	}
	if err := s.db.Create(msg).Error; err != nil {
		return nil, fmt.Errorf("transcript: append %s: %w", opts.SessionID, err)
	}
	return msg, nil
}

// List returns every message in the session ordered by timestamp, ties
// broken by insertion order.
func (s *Store) List(sessionID string) ([]models.Message, error) {
	if err := s.requireSession(sessionID); err != nil {
		return nil, err
	}
	var msgs []models.Message
	err := s.db.Where("session_id = ?", sessionID).
		Order(clause.OrderBy{Columns: []clause.OrderByColumn{
			{Column: clause.Column{Name: "ts_ms"}},
			{Column: clause.Column{Name: "id"}},
		}}).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("transcript: list %s: %w", sessionID, err)
	}
	return msgs, nil
}

// Count returns the number of messages stored for a session.
func (s *Store) Count(sessionID string) (int64, error) {
	var n int64
	if err := s.db.Model(&models.Message{}).Where("session_id = ?", sessionID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("transcript: count %s: %w", sessionID, err)
	}
	return n, nil
}

func (s *Store) requireSession(sessionID string) error {
	var sess models.Session
	if err := s.db.Select("id").Where("id = ?", sessionID).First(&sess).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.ErrSessionNotFound
		}
		return fmt.Errorf("transcript: lookup session %s: %w", sessionID, err)
	}
	return nil
}
