package server

import (
	"time"

	"github.com/zulandar/cohost/internal/models"
	"github.com/zulandar/cohost/internal/session"
)

type sessionView struct {
	ID            string           `json:"id"`
	Title         string           `json:"title"`
	Status        string           `json:"status"`
	Settings      session.Settings `json:"settings"`
	LastHeartbeat *time.Time       `json:"lastHeartbeat"`
	CompletedAt   *time.Time       `json:"completedAt"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
	AudioFiles    []audioFileView  `json:"audioFiles,omitempty"`
}

type audioFileView struct {
	ID            uint    `json:"id"`
	Speaker       string  `json:"speaker"`
	SegmentNumber int     `json:"segmentNumber"`
	FilePath      string  `json:"filePath"`
	Size          int64   `json:"size"`
	Duration      float64 `json:"duration"`
	Format        string  `json:"format"`
	Finalized     bool    `json:"finalized"`
}

type messageView struct {
	ID        uint      `json:"id"`
	SessionID string    `json:"sessionId"`
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	TsMs      int64     `json:"tsMs"`
	RawJSON   string    `json:"rawJson,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func newSessionView(s *models.Session) sessionView {
	settings, err := session.DecodeSettings(s.Settings)
	if err != nil {
		settings = session.Default()
	}
	v := sessionView{
		ID:            s.ID,
		Title:         s.Title,
		Status:        s.Status,
		Settings:      settings,
		LastHeartbeat: s.LastHeartbeat,
		CompletedAt:   s.CompletedAt,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
	for _, af := range s.AudioFiles {
		v.AudioFiles = append(v.AudioFiles, newAudioFileView(af))
	}
	return v
}

func newAudioFileView(af models.AudioFile) audioFileView {
	return audioFileView{
		ID:            af.ID,
		Speaker:       af.Speaker,
		SegmentNumber: af.SegmentNumber,
		FilePath:      af.FilePath,
		Size:          af.Size,
		Duration:      af.Duration,
		Format:        af.Format,
		Finalized:     af.Finalized,
	}
}

func newMessageView(m models.Message) messageView {
	return messageView{
		ID:        m.ID,
		SessionID: m.SessionID,
		Speaker:   m.Speaker,
		Text:      m.Text,
		TsMs:      m.TsMs,
		RawJSON:   m.RawJSON,
		CreatedAt: m.CreatedAt,
	}
}
