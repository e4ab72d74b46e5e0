package server

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/zulandar/cohost/internal/apperr"
	"github.com/zulandar/cohost/internal/session"
	"github.com/zulandar/cohost/internal/speaker"
	"github.com/zulandar/cohost/internal/transcript"
)

// MaxChunkBytes caps a single audio upload.
const MaxChunkBytes = 8 << 20

type handlers struct {
	deps Deps
}

// respondError writes {"error": msg} with the status for the error kind.
func respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError && !errors.Is(err, apperr.ErrUpstreamNotConfigured) {
		log.Printf("server: %s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{"error": apperr.Message(err)})
}

// bindingError turns a gin binding failure into a validation error.
func bindingError(err error) error {
	return apperr.Validation("request", err.Error())
}

func speakerParam(c *gin.Context) (speaker.Speaker, bool) {
	sp, err := speaker.Parse(c.Param("speaker"))
	if err != nil {
		respondError(c, err)
		return "", false
	}
	return sp, true
}

type createSessionRequest struct {
	Title    string            `json:"title" binding:"max=256"`
	Settings *session.Settings `json:"settings"`
}

func (h *handlers) createSession(c *gin.Context) {
	defaults := session.Default()
	req := createSessionRequest{Settings: &defaults}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, bindingError(err))
		return
	}
	if req.Settings == nil {
		req.Settings = &defaults
	}

	s, err := h.deps.Ledger.Create(session.CreateOpts{Title: req.Title, Settings: *req.Settings})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newSessionView(s))
}

func (h *handlers) listSessions(c *gin.Context) {
	sessions, err := h.deps.Ledger.List()
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]sessionView, 0, len(sessions))
	for i := range sessions {
		out = append(out, newSessionView(&sessions[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (h *handlers) getSession(c *gin.Context) {
	id := c.Param("id")
	s, err := h.deps.Ledger.Get(id)
	if err != nil {
		respondError(c, err)
		return
	}
	tracks, err := h.deps.Audio.Tracks(id)
	if err != nil {
		respondError(c, err)
		return
	}
	s.AudioFiles = tracks
	c.JSON(http.StatusOK, newSessionView(s))
}

type heartbeatRequest struct {
	Timestamp *time.Time `json:"timestamp"`
}

func (h *handlers) heartbeat(c *gin.Context) {
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, bindingError(err))
		return
	}
	s, err := h.deps.Ledger.Heartbeat(c.Param("id"), req.Timestamp)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":            true,
		"lastHeartbeat": s.LastHeartbeat,
		"status":        s.Status,
	})
}

// finishSession wraps every still-raw track, then completes the session.
func (h *handlers) finishSession(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.deps.Audio.FinalizeAll(id); err != nil {
		respondError(c, err)
		return
	}
	s, err := h.deps.Ledger.Finish(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSessionView(s))
}

func (h *handlers) appendChunk(c *gin.Context) {
	sp, ok := speakerParam(c)
	if !ok {
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxChunkBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, apperr.Validation("body", fmt.Sprintf("exceeds %d bytes", MaxChunkBytes)))
			return
		}
		respondError(c, apperr.IO("read chunk", err))
		return
	}
	total, err := h.deps.Audio.AppendChunk(c.Param("id"), sp, data)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"totalSize": total})
}

func (h *handlers) finalizeTrack(c *gin.Context) {
	sp, ok := speakerParam(c)
	if !ok {
		return
	}
	res, err := h.deps.Audio.Finalize(c.Param("id"), sp)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"size": res.Size, "format": res.Format, "segment": res.Segment})
}

func (h *handlers) trackInfo(c *gin.Context) {
	sp, ok := speakerParam(c)
	if !ok {
		return
	}
	info, err := h.deps.Audio.Info(c.Param("id"), sp)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"size":      info.Size,
		"format":    info.Format,
		"duration":  info.Duration,
		"segment":   info.Segment,
		"finalized": info.Finalized,
	})
}

func (h *handlers) streamTrack(c *gin.Context) {
	sp, ok := speakerParam(c)
	if !ok {
		return
	}
	id := c.Param("id")
	rc, contentType, err := h.deps.Audio.Stream(id, sp)
	if err != nil {
		respondError(c, err)
		return
	}
	defer rc.Close()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("%s_%s.wav", id, sp)))
	c.DataFromReader(http.StatusOK, -1, contentType, rc, nil)
}

type appendMessageRequest struct {
	Speaker string  `json:"speaker" binding:"required"`
	Text    string  `json:"text" binding:"required"`
	TsMs    *int64  `json:"tsMs" binding:"required,gte=0"`
	RawJSON *string `json:"rawJson"`
}

func (h *handlers) appendMessage(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondError(c, apperr.IO("read body", err))
		return
	}
	var req appendMessageRequest
	if err := binding.JSON.BindBody(body, &req); err != nil {
		respondError(c, bindingError(err))
		return
	}
	sp, err := speaker.Parse(req.Speaker)
	if err != nil {
		respondError(c, err)
		return
	}
	raw := string(body)
	if req.RawJSON != nil {
		raw = *req.RawJSON
	}

	msg, err := h.deps.Transcript.Append(transcript.AppendOpts{
		SessionID: c.Param("id"),
		Speaker:   sp,
		Text:      req.Text,
		TsMs:      *req.TsMs,
		RawJSON:   raw,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newMessageView(*msg))
}

func (h *handlers) listMessages(c *gin.Context) {
	msgs, err := h.deps.Transcript.List(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, newMessageView(m))
	}
	c.JSON(http.StatusOK, out)
}

func (h *handlers) resumeStatus(c *gin.Context) {
	id := c.Param("id")
	ok, reason := h.deps.Planner.CanResume(id)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"canResume": false, "reason": reason})
		return
	}
	next, err := h.deps.Planner.ComputeNextSegment(id)
	if err != nil {
		respondError(c, err)
		return
	}
	ctx, err := h.deps.Planner.GetResumeContext(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"canResume":           true,
		"nextSegment":         next,
		"conversationHistory": ctx.ConversationHistory,
		"contextSummary":      ctx.ContextSummary,
	})
}

func (h *handlers) resumeSession(c *gin.Context) {
	plan, err := h.deps.Planner.Resume(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	tracks := make([]audioFileView, 0, len(plan.Tracks))
	for _, t := range plan.Tracks {
		tracks = append(tracks, newAudioFileView(t))
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionId":           plan.SessionID,
		"segment":             plan.Segment,
		"tracks":              tracks,
		"conversationHistory": plan.Context.ConversationHistory,
		"contextSummary":      plan.Context.ContextSummary,
	})
}

// sweep runs the timeout sweep. ?timeoutMs= overrides the configured policy
// and is clamped to the allowed range.
func (h *handlers) sweep(c *gin.Context) {
	timeout := h.deps.Monitor.Policy().Timeout
	if raw := c.Query("timeoutMs"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms <= 0 {
			respondError(c, apperr.Validation("timeoutMs", "must be a positive integer"))
			return
		}
		timeout = time.Duration(ms) * time.Millisecond
	}
	ids, err := h.deps.Monitor.SweepWith(c.Request.Context(), timeout)
	if err != nil {
		respondError(c, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"demoted": ids})
}

// realtimeSession reports whether the upstream provider is usable and, for
// ?sessionId=, which model and voice the session connects with.
func (h *handlers) realtimeSession(c *gin.Context) {
	if h.deps.UpstreamAPIKey == "" {
		respondError(c, apperr.ErrUpstreamNotConfigured)
		return
	}
	resp := gin.H{"configured": true}
	if id := c.Query("sessionId"); id != "" {
		s, err := h.deps.Ledger.Get(id)
		if err != nil {
			respondError(c, err)
			return
		}
		settings, err := session.DecodeSettings(s.Settings)
		if err != nil {
			respondError(c, err)
			return
		}
		resp["model"] = settings.Model
		resp["voice"] = settings.Voice
	}
	c.JSON(http.StatusOK, resp)
}
