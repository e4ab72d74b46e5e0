// Package session owns the recording session lifecycle: creation, liveness
// heartbeats, timeout demotion and finishing.
package session

import (
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/cohost/internal/apperr"
	"github.com/zulandar/cohost/internal/models"
	"github.com/zulandar/cohost/internal/notify"
	"github.com/zulandar/cohost/internal/speaker"
	"gorm.io/gorm"
)

// Session statuses.
const (
	StatusActive     = "active"
	StatusIncomplete = "incomplete"
	StatusCompleted  = "completed"
)

// ValidTransitions maps each status to its valid next statuses. Completed
// is terminal.
var ValidTransitions = map[string][]string{
	StatusActive:     {StatusIncomplete, StatusCompleted},
	StatusIncomplete: {StatusCompleted},
}

// CanTransition reports whether a session may move from one status to another.
func CanTransition(from, to string) bool {
	return slices.Contains(ValidTransitions[from], to)
}

// TrackAllocator opens the backing audio track for a speaker segment.
type TrackAllocator interface {
	CreateTrack(sessionID string, sp speaker.Speaker, segment int) (*models.AudioFile, error)
}

// Ledger persists sessions and enforces the status state machine.
type Ledger struct {
	db             *gorm.DB
	tracks         TrackAllocator
	publisher      notify.Publisher
	now            func() time.Time
	publishTimeout time.Duration
	deliveries     sync.WaitGroup
}

// LedgerOpts holds parameters for creating a Ledger.
type LedgerOpts struct {
	DB             *gorm.DB
	Tracks         TrackAllocator   // optional; nil skips track allocation on create
	Publisher      notify.Publisher // optional; receives session:completed
	Now            func() time.Time // for testing
	PublishTimeout time.Duration
}

// NewLedger creates a Ledger.
func NewLedger(opts LedgerOpts) (*Ledger, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("session: db is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = notify.DefaultPublishTimeout
	}
	// SQLite keeps timestamps as text with their offset, so every stored or
	// compared time is UTC.
	clock := opts.Now
	return &Ledger{
		db:             opts.DB,
		tracks:         opts.Tracks,
		publisher:      opts.Publisher,
		now:            func() time.Time { return clock().UTC() },
		publishTimeout: opts.PublishTimeout,
	}, nil
}

// CreateOpts holds parameters for creating a session.
type CreateOpts struct {
	Title    string
	Settings Settings
}

// Create starts a new active session and allocates the first segment for
// both speakers.
func (l *Ledger) Create(opts CreateOpts) (*models.Session, error) {
	if opts.Settings == (Settings{}) {
		opts.Settings = Default()
	}
	if err := opts.Settings.Validate(); err != nil {
		return nil, err
	}

	now := l.now()
	s := &models.Session{
		ID:            uuid.New().String(),
		Title:         opts.Title,
		Status:        StatusActive,
		Settings:      opts.Settings.Encode(),
		LastHeartbeat: &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := l.db.Create(s).Error; err != nil {
		return nil, fmt.Errorf("session: create: %w", err)
	}

	if l.tracks != nil {
		for _, sp := range speaker.All() {
			track, err := l.tracks.CreateTrack(s.ID, sp, 1)
			if err != nil {
				return nil, fmt.Errorf("session: create %s: allocate %s track: %w", s.ID, sp, err)
			}
			s.AudioFiles = append(s.AudioFiles, *track)
		}
	}
	return s, nil
}

// Get returns a session by id.
func (l *Ledger) Get(id string) (*models.Session, error) {
	var s models.Session
	if err := l.db.Where("id = ?", id).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrSessionNotFound
		}
		return nil, fmt.Errorf("session: get %s: %w", id, err)
	}
	return &s, nil
}

// List returns every session, newest first.
func (l *Ledger) List() ([]models.Session, error) {
	var sessions []models.Session
	if err := l.db.Order("created_at DESC").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	return sessions, nil
}

// Heartbeat records liveness for an active session. ts defaults to now.
// The session's UpdatedAt always moves strictly forward.
func (l *Ledger) Heartbeat(id string, ts *time.Time) (*models.Session, error) {
	var s models.Session
	err := l.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&s).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.ErrSessionNotFound
			}
			return err
		}
		if s.Status != StatusActive {
			return apperr.InvalidState("heartbeat", s.Status)
		}

		now := l.now()
		beat := now
		if ts != nil {
			beat = ts.UTC()
		}
		updated := strictlyAfter(now, s.UpdatedAt)

		result := tx.Model(&models.Session{}).
			Where("id = ? AND status = ?", id, StatusActive).
			Updates(map[string]interface{}{
				"last_heartbeat": beat,
				"updated_at":     updated,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return l.lostRace(tx, id, "heartbeat")
		}
		s.LastHeartbeat = &beat
		s.UpdatedAt = updated
		return nil
	})
	if err != nil {
		return nil, wrap("heartbeat", id, err)
	}
	return &s, nil
}

// SweepTimeouts demotes every active session whose last activity is older
// than now minus timeout to incomplete. Sessions that never sent a heartbeat
// are measured from their creation time. Returns the demoted ids.
func (l *Ledger) SweepTimeouts(timeout time.Duration) ([]string, error) {
	now := l.now()
	cutoff := now.Add(-timeout)

	var ids []string
	err := l.db.Transaction(func(tx *gorm.DB) error {
		stale := tx.Model(&models.Session{}).
			Where("status = ? AND ((last_heartbeat IS NOT NULL AND last_heartbeat < ?) OR (last_heartbeat IS NULL AND created_at < ?))",
				StatusActive, cutoff, cutoff)
		if err := stale.Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("find stale: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		return tx.Model(&models.Session{}).
			Where("id IN ? AND status = ?", ids, StatusActive).
			Updates(map[string]interface{}{
				"status":     StatusIncomplete,
				"updated_at": now,
			}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("session: sweep timeouts: %w", err)
	}
	return ids, nil
}

// Finish marks an active or incomplete session completed and publishes a
// session:completed event in the background.
func (l *Ledger) Finish(id string) (*models.Session, error) {
	var s models.Session
	err := l.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&s).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.ErrSessionNotFound
			}
			return err
		}
		if !CanTransition(s.Status, StatusCompleted) {
			return apperr.InvalidState("finish", s.Status)
		}

		completedAt := strictlyAfter(l.now(), s.CreatedAt)
		updated := strictlyAfter(completedAt, s.UpdatedAt)
		result := tx.Model(&models.Session{}).
			Where("id = ? AND status = ?", id, s.Status).
			Updates(map[string]interface{}{
				"status":       StatusCompleted,
				"completed_at": completedAt,
				"updated_at":   updated,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return l.lostRace(tx, id, "finish")
		}
		s.Status = StatusCompleted
		s.CompletedAt = &completedAt
		s.UpdatedAt = updated
		return nil
	})
	if err != nil {
		return nil, wrap("finish", id, err)
	}

	var count int64
	if err := l.db.Model(&models.Message{}).Where("session_id = ?", id).Count(&count).Error; err != nil {
		log.Printf("session: finish %s: count messages: %v", id, err)
	}
	done := notify.Deliver(l.publisher, notify.Event{
		Name:         notify.EventSessionCompleted,
		SessionID:    s.ID,
		Status:       s.Status,
		DurationMs:   s.CompletedAt.Sub(s.CreatedAt).Milliseconds(),
		CompletedAt:  *s.CompletedAt,
		MessageCount: count,
	}, l.publishTimeout)
	l.deliveries.Add(1)
	go func() {
		defer l.deliveries.Done()
		<-done
	}()
	return &s, nil
}

// Wait blocks until every in-flight completion event has been delivered or
// has timed out.
func (l *Ledger) Wait() {
	l.deliveries.Wait()
}

// lostRace reports the status a concurrent writer moved the session to.
func (l *Ledger) lostRace(tx *gorm.DB, id, op string) error {
	var current models.Session
	if err := tx.Select("status").Where("id = ?", id).First(&current).Error; err != nil {
		return apperr.ErrSessionNotFound
	}
	return apperr.InvalidState(op, current.Status)
}

// strictlyAfter returns t, or floor plus one microsecond when t does not
// come after floor.
func strictlyAfter(t, floor time.Time) time.Time {
	if t.After(floor) {
		return t
	}
	return floor.Add(time.Microsecond)
}

// wrap prefixes unexpected errors. Kind errors pass through with the op and
// id so errors.Is still matches.
func wrap(op, id string, err error) error {
	if errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	return fmt.Errorf("session: %s %s: %w", op, id, err)
}
