// Package audio implements the per-speaker track store: append-only raw PCM
// files that are wrapped into WAV on finalize.
package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"

	"github.com/zulandar/cohost/internal/apperr"
	"github.com/zulandar/cohost/internal/models"
	"github.com/zulandar/cohost/internal/speaker"
	"gorm.io/gorm"
)

// ContentType is the MIME type served for finalized tracks.
const ContentType = "audio/wav"

// DefaultFormat is the container format of every track.
const DefaultFormat = "wav"

var segmentPattern = regexp.MustCompile(`_segment_(\d+)\.wav$`)

// Store manages track rows and their backing files.
type Store struct {
	db  *gorm.DB
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// StoreOpts holds parameters for creating a Store.
type StoreOpts struct {
	DB  *gorm.DB
	Dir string // root directory for track files
}

// FinalizeResult reports the finalized file.
type FinalizeResult struct {
	Size    int64
	Format  string
	Segment int
}

// Info is a read-only view of the current segment of a track.
type Info struct {
	Size      int64
	Format    string
	Duration  float64
	Segment   int
	Finalized bool
}

// NewStore creates a Store rooted at opts.Dir.
func NewStore(opts StoreOpts) (*Store, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("audio: db is required")
	}
	if opts.Dir == "" {
		return nil, fmt.Errorf("audio: dir is required")
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, apperr.IO("create audio dir", err)
	}
	return &Store{
		db:    opts.DB,
		dir:   opts.Dir,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// TrackPath returns the file location for one segment of a track.
func (s *Store) TrackPath(sessionID string, sp speaker.Speaker, segment int) string {
	return filepath.Join(s.dir, sessionID, fmt.Sprintf("%s_segment_%d.wav", sp, segment))
}

// SegmentFromPath extracts the segment number encoded in a track path.
func SegmentFromPath(path string) (int, bool) {
	m := segmentPattern.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// CreateTrack allocates a zero-byte backing file and its ledger row.
func (s *Store) CreateTrack(sessionID string, sp speaker.Speaker, segment int) (*models.AudioFile, error) {
	return s.createTrack(s.db, sessionID, sp, segment)
}

// CreateSegment allocates segment for every speaker. Either all tracks are
// created or none are, so speakers stay on the same segment number.
func (s *Store) CreateSegment(sessionID string, segment int) ([]models.AudioFile, error) {
	var tracks []models.AudioFile
	err := s.db.Transaction(func(tx *gorm.DB) error {
		for _, sp := range speaker.All() {
			track, err := s.createTrack(tx, sessionID, sp, segment)
			if err != nil {
				return err
			}
			tracks = append(tracks, *track)
		}
		return nil
	})
	if err != nil {
		for _, t := range tracks {
			os.Remove(t.FilePath)
		}
		return nil, err
	}
	return tracks, nil
}

func (s *Store) createTrack(db *gorm.DB, sessionID string, sp speaker.Speaker, segment int) (*models.AudioFile, error) {
	if !sp.Valid() {
		return nil, fmt.Errorf("audio: create track: %w", apperr.ErrInvalidSpeaker)
	}
	if segment < 1 {
		return nil, fmt.Errorf("audio: create track: %w", apperr.Validation("segment_number", "must be >= 1"))
	}

	unlock := s.lock(sessionID, sp)
	defer unlock()

	if err := sessionExists(db, sessionID); err != nil {
		return nil, fmt.Errorf("audio: create track %s/%s: %w", sessionID, sp, err)
	}

	var count int64
	if err := db.Model(&models.AudioFile{}).
		Where("session_id = ? AND speaker = ? AND segment_number = ?", sessionID, string(sp), segment).
		Count(&count).Error; err != nil {
		return nil, fmt.Errorf("audio: check track %s/%s: %w", sessionID, sp, err)
	}
	if count > 0 {
		return nil, fmt.Errorf("audio: create track %s/%s segment %d: %w", sessionID, sp, segment, apperr.ErrDuplicateTrack)
	}

	path := s.TrackPath(sessionID, sp, segment)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, apperr.IO("create session dir", err)
	}
	// O_EXCL: a prior segment's bytes are never overwritten.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("audio: create track %s: %w", path, apperr.ErrDuplicateTrack)
		}
		return nil, apperr.IO("create track file", err)
	}
	if err := f.Close(); err != nil {
		return nil, apperr.IO("create track file", err)
	}

	track := models.AudioFile{
		SessionID:     sessionID,
		Speaker:       string(sp),
		SegmentNumber: segment,
		FilePath:      path,
		Format:        DefaultFormat,
	}
	if err := db.Create(&track).Error; err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("audio: create track %s/%s: %w", sessionID, sp, err)
	}
	return &track, nil
}

// AppendChunk appends raw bytes to the current segment of a track and
// returns the new byte count.
func (s *Store) AppendChunk(sessionID string, sp speaker.Speaker, data []byte) (int64, error) {
	if !sp.Valid() {
		return 0, fmt.Errorf("audio: append: %w", apperr.ErrInvalidSpeaker)
	}

	unlock := s.lock(sessionID, sp)
	defer unlock()

	if err := s.requireSession(sessionID); err != nil {
		return 0, fmt.Errorf("audio: append %s/%s: %w", sessionID, sp, err)
	}
	track, err := s.currentTrack(sessionID, sp)
	if err != nil {
		return 0, fmt.Errorf("audio: append %s/%s: %w", sessionID, sp, err)
	}
	if track.Finalized {
		return 0, fmt.Errorf("audio: append %s/%s: %w: segment %d is finalized",
			sessionID, sp, apperr.ErrInvalidState, track.SegmentNumber)
	}

	f, err := os.OpenFile(track.FilePath, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return 0, apperr.IO("open track", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return 0, apperr.IO("append track", err)
	}
	if err := f.Close(); err != nil {
		return 0, apperr.IO("close track", err)
	}

	st, err := os.Stat(track.FilePath)
	if err != nil {
		return 0, apperr.IO("stat track", err)
	}
	size := st.Size()

	if err := s.db.Model(&models.AudioFile{}).
		Where("id = ? AND size <= ?", track.ID, size).
		Update("size", size).Error; err != nil {
		return 0, fmt.Errorf("audio: record size %s/%s: %w", sessionID, sp, err)
	}
	return size, nil
}

// Finalize wraps the current segment's raw PCM in a WAV header, replacing
// the raw file. A segment can be finalized only once.
func (s *Store) Finalize(sessionID string, sp speaker.Speaker) (*FinalizeResult, error) {
	if !sp.Valid() {
		return nil, fmt.Errorf("audio: finalize: %w", apperr.ErrInvalidSpeaker)
	}

	unlock := s.lock(sessionID, sp)
	defer unlock()

	if err := s.requireSession(sessionID); err != nil {
		return nil, fmt.Errorf("audio: finalize %s/%s: %w", sessionID, sp, err)
	}
	track, err := s.currentTrack(sessionID, sp)
	if err != nil {
		return nil, fmt.Errorf("audio: finalize %s/%s: %w", sessionID, sp, err)
	}
	if track.Finalized {
		return nil, fmt.Errorf("audio: finalize %s/%s: %w: segment %d is already finalized",
			sessionID, sp, apperr.ErrInvalidState, track.SegmentNumber)
	}
	return s.finalizeTrack(track)
}

// FinalizeAll finalizes every segment of the session that is still raw and
// returns how many were wrapped.
func (s *Store) FinalizeAll(sessionID string) (int, error) {
	if err := s.requireSession(sessionID); err != nil {
		return 0, fmt.Errorf("audio: finalize all %s: %w", sessionID, err)
	}
	tracks, err := s.Tracks(sessionID)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, t := range tracks {
		if t.Finalized {
			continue
		}
		unlock := s.lock(sessionID, speaker.Speaker(t.Speaker))
		// Re-read under the lock; a concurrent Finalize may have won.
		var fresh models.AudioFile
		err := s.db.Where("id = ?", t.ID).First(&fresh).Error
		if err == nil && !fresh.Finalized {
			_, err = s.finalizeTrack(&fresh)
			if err == nil {
				n++
			}
		}
		unlock()
		if err != nil {
			return n, fmt.Errorf("audio: finalize all %s: %w", sessionID, err)
		}
	}
	return n, nil
}

// Info returns size, format and duration of the current segment.
func (s *Store) Info(sessionID string, sp speaker.Speaker) (*Info, error) {
	if !sp.Valid() {
		return nil, fmt.Errorf("audio: info: %w", apperr.ErrInvalidSpeaker)
	}
	track, err := s.currentTrack(sessionID, sp)
	if err != nil {
		return nil, fmt.Errorf("audio: info %s/%s: %w", sessionID, sp, err)
	}

	duration := track.Duration
	if !track.Finalized {
		duration = Duration(track.Size)
	}
	return &Info{
		Size:      track.Size,
		Format:    track.Format,
		Duration:  duration,
		Segment:   track.SegmentNumber,
		Finalized: track.Finalized,
	}, nil
}

// Stream opens the current segment for download. The caller closes the reader.
func (s *Store) Stream(sessionID string, sp speaker.Speaker) (io.ReadCloser, string, error) {
	if !sp.Valid() {
		return nil, "", fmt.Errorf("audio: stream: %w", apperr.ErrInvalidSpeaker)
	}
	if err := s.requireSession(sessionID); err != nil {
		return nil, "", fmt.Errorf("audio: stream %s/%s: %w", sessionID, sp, err)
	}
	track, err := s.currentTrack(sessionID, sp)
	if err != nil {
		return nil, "", fmt.Errorf("audio: stream %s/%s: %w", sessionID, sp, err)
	}
	f, err := os.Open(track.FilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", fmt.Errorf("audio: stream %s: %w", track.FilePath, apperr.ErrAudioFileNotFound)
		}
		return nil, "", apperr.IO("open track", err)
	}
	return f, ContentType, nil
}

// Tracks lists every segment of every speaker for a session.
func (s *Store) Tracks(sessionID string) ([]models.AudioFile, error) {
	var tracks []models.AudioFile
	if err := s.db.Where("session_id = ?", sessionID).
		Order("segment_number ASC, speaker ASC").Find(&tracks).Error; err != nil {
		return nil, fmt.Errorf("audio: list tracks %s: %w", sessionID, err)
	}
	return tracks, nil
}

// finalizeTrack does the wrap. The caller holds the track lock.
// A file that is already a complete WAV is left as is, so a wrap whose
// row update was lost is only recorded, never wrapped twice.
func (s *Store) finalizeTrack(track *models.AudioFile) (*FinalizeResult, error) {
	data, err := os.ReadFile(track.FilePath)
	if err != nil {
		return nil, apperr.IO("read track", err)
	}

	wav, rawLen := data, int64(len(data))-HeaderSize
	if !isWrapped(data) {
		wav, rawLen = Wrap(data), int64(len(data))
		tmp := track.FilePath + ".tmp"
		if err := os.WriteFile(tmp, wav, 0644); err != nil {
			return nil, apperr.IO("write wav", err)
		}
		if err := os.Rename(tmp, track.FilePath); err != nil {
			os.Remove(tmp)
			return nil, apperr.IO("replace track", err)
		}
	}

	size := int64(len(wav))
	if err := s.db.Model(&models.AudioFile{}).Where("id = ?", track.ID).Updates(map[string]interface{}{
		"size":      size,
		"duration":  Duration(rawLen),
		"format":    DefaultFormat,
		"finalized": true,
	}).Error; err != nil {
		return nil, fmt.Errorf("audio: record finalize %d: %w", track.ID, err)
	}
	return &FinalizeResult{Size: size, Format: DefaultFormat, Segment: track.SegmentNumber}, nil
}

// currentTrack returns the highest segment for (session, speaker).
func (s *Store) currentTrack(sessionID string, sp speaker.Speaker) (*models.AudioFile, error) {
	var track models.AudioFile
	err := s.db.Where("session_id = ? AND speaker = ?", sessionID, string(sp)).
		Order("segment_number DESC").First(&track).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrAudioFileNotFound
		}
		return nil, err
	}
	return &track, nil
}

func (s *Store) requireSession(sessionID string) error {
	return sessionExists(s.db, sessionID)
}

func sessionExists(db *gorm.DB, sessionID string) error {
	var count int64
	if err := db.Model(&models.Session{}).Where("id = ?", sessionID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return apperr.ErrSessionNotFound
	}
	return nil
}

// lock serializes byte writes per (session, speaker) and returns the unlock func.
func (s *Store) lock(sessionID string, sp speaker.Speaker) func() {
	key := sessionID + "/" + string(sp)
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}
