package queue

import (
	"context"

	"github.com/zulandar/cohost/internal/speaker"
	"github.com/zulandar/cohost/internal/transcript"
)

// LocalSender writes entries straight into a transcript store. Used when
// the CLI runs against the database rather than a server.
type LocalSender struct {
	Store *transcript.Store
}

func (l LocalSender) Send(_ context.Context, e Entry) error {
	sp, err := speaker.Parse(e.Speaker)
	if err != nil {
		return err
	}
	_, err = l.Store.Append(transcript.AppendOpts{
		SessionID: e.SessionID,
		Speaker:   sp,
		Text:      e.Text,
		TsMs:      e.TsMs,
		RawJSON:   e.RawJSON,
	})
	return err
}

func (l LocalSender) Existing(_ context.Context, sessionID string) ([]Entry, error) {
	msgs, err := l.Store.List(sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, Entry{SessionID: m.SessionID, Speaker: m.Speaker, Text: m.Text, TsMs: m.TsMs})
	}
	return out, nil
}
