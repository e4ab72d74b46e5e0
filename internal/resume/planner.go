// Package resume plans how an interrupted session continues: which segment
// to record next and what conversation to re-seed the co-host with.
package resume

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/zulandar/cohost/internal/apperr"
	"github.com/zulandar/cohost/internal/audio"
	"github.com/zulandar/cohost/internal/models"
	"github.com/zulandar/cohost/internal/session"
	"github.com/zulandar/cohost/internal/transcript"
)

// ReasonNotResumable is reported for any session that cannot be resumed.
const ReasonNotResumable = "Session not found or not resumable"

// DefaultSummaryTurns is how many trailing turns go into the context summary.
const DefaultSummaryTurns = 6

// Turn is one transcript line projected for re-seeding.
type Turn struct {
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// Context is the prior conversation of a session.
type Context struct {
	ConversationHistory []Turn `json:"conversationHistory"`
	ContextSummary      string `json:"contextSummary,omitempty"`
}

// Plan describes a resumed recording.
type Plan struct {
	SessionID string             `json:"sessionId"`
	Segment   int                `json:"segment"`
	Tracks    []models.AudioFile `json:"tracks"`
	Context   *Context           `json:"context"`
}

// Planner inspects audio tracks and transcript to resume a session.
type Planner struct {
	ledger       *session.Ledger
	audio        *audio.Store
	transcript   *transcript.Store
	summaryTurns int
}

// PlannerOpts holds parameters for creating a Planner.
type PlannerOpts struct {
	Ledger       *session.Ledger
	Audio        *audio.Store
	Transcript   *transcript.Store
	SummaryTurns int
}

// NewPlanner creates a Planner.
func NewPlanner(opts PlannerOpts) (*Planner, error) {
	if opts.Ledger == nil || opts.Audio == nil || opts.Transcript == nil {
		return nil, fmt.Errorf("resume: ledger, audio and transcript are required")
	}
	if opts.SummaryTurns <= 0 {
		opts.SummaryTurns = DefaultSummaryTurns
	}
	return &Planner{
		ledger:       opts.Ledger,
		audio:        opts.Audio,
		transcript:   opts.Transcript,
		summaryTurns: opts.SummaryTurns,
	}, nil
}

// ComputeNextSegment returns one past the highest segment recorded for the
// session, or 1 when it has no audio files.
func (p *Planner) ComputeNextSegment(sessionID string) (int, error) {
	tracks, err := p.audio.Tracks(sessionID)
	if err != nil {
		return 0, fmt.Errorf("resume: next segment %s: %w", sessionID, err)
	}
	highest := 0
	for _, t := range tracks {
		n, ok := audio.SegmentFromPath(t.FilePath)
		if !ok {
			n = t.SegmentNumber
		}
		highest = max(highest, n)
	}
	return highest + 1, nil
}

// CanResume reports whether the session is incomplete. Any other status,
// including an unknown session, yields false with ReasonNotResumable.
func (p *Planner) CanResume(sessionID string) (bool, string) {
	s, err := p.ledger.Get(sessionID)
	if err != nil || s.Status != session.StatusIncomplete {
		return false, ReasonNotResumable
	}
	return true, ""
}

// GetResumeContext returns the ordered transcript and a short advisory
// summary of its tail.
func (p *Planner) GetResumeContext(sessionID string) (*Context, error) {
	msgs, err := p.transcript.List(sessionID)
	if err != nil {
		return nil, err
	}
	ctx := &Context{ConversationHistory: make([]Turn, 0, len(msgs))}
	for _, m := range msgs {
		ctx.ConversationHistory = append(ctx.ConversationHistory, Turn{
			Speaker:   m.Speaker,
			Text:      m.Text,
			Timestamp: m.TsMs,
		})
	}
	ctx.ContextSummary = summarize(ctx.ConversationHistory, p.summaryTurns)
	return ctx, nil
}

// Resume finalizes any raw segments of an incomplete session and opens a
// fresh track for both speakers at the next segment. Earlier segments are
// never reopened. The session keeps its incomplete status.
func (p *Planner) Resume(sessionID string) (*Plan, error) {
	s, err := p.ledger.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if s.Status != session.StatusIncomplete {
		return nil, fmt.Errorf("resume: %s: %w", sessionID, apperr.InvalidState("resume", s.Status))
	}

	if _, err := p.audio.FinalizeAll(sessionID); err != nil {
		return nil, fmt.Errorf("resume: %s: %w", sessionID, err)
	}
	next, err := p.ComputeNextSegment(sessionID)
	if err != nil {
		return nil, err
	}

	tracks, err := p.audio.CreateSegment(sessionID, next)
	if err != nil {
		return nil, fmt.Errorf("resume: %s segment %d: %w", sessionID, next, err)
	}
	plan := &Plan{SessionID: sessionID, Segment: next, Tracks: tracks}

	plan.Context, err = p.GetResumeContext(sessionID)
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// summarize condenses the last n turns into a prompt-sized recap.
func summarize(turns []Turn, n int) string {
	if len(turns) == 0 {
		return ""
	}
	tail := turns[max(0, len(turns)-n):]

	var b strings.Builder
	fmt.Fprintf(&b, "Resuming a conversation of %d turns. Most recent:\n", len(turns))
	for _, t := range tail {
		fmt.Fprintf(&b, "%s: %s\n", t.Speaker, t.Text)
	}
	out := strings.TrimRight(b.String(), "\n")
	if utf8.RuneCountInString(out) > session.MaxPromptLength {
		r := []rune(out)
		out = string(r[len(r)-session.MaxPromptLength:])
	}
	return out
}
