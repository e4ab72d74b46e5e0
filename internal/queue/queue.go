// Package queue buffers transcript messages that could not be delivered
// and replays them in their original order.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"
)

// DefaultKey is the KV key holding the pending list.
const DefaultKey = "pending-transcript"

// Entry is one undelivered transcript message.
type Entry struct {
	SessionID string    `json:"sessionId"`
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	TsMs      int64     `json:"tsMs"`
	RawJSON   string    `json:"rawJson,omitempty"`
	QueuedAt  time.Time `json:"queuedAt"`
}

// Same reports whether two entries describe the same utterance: same
// session, timestamp, text and speaker. Differing text at one timestamp is
// a different message.
func (e Entry) Same(o Entry) bool {
	return e.SessionID == o.SessionID && e.TsMs == o.TsMs && e.Text == o.Text && e.Speaker == o.Speaker
}

// Sender delivers one entry to the transcript store.
type Sender interface {
	Send(ctx context.Context, e Entry) error
}

// Lister is optionally implemented by a Sender that can report what the
// transcript store already holds, so replays skip stored messages.
type Lister interface {
	Existing(ctx context.Context, sessionID string) ([]Entry, error)
}

// RetryResult summarizes one replay cycle.
type RetryResult struct {
	Sent      int   `json:"sent"`
	Dropped   int   `json:"dropped"`
	Remaining int   `json:"remaining"`
	Err       error `json:"-"` // first send failure, if any
}

// Queue is a durable ordered buffer of undelivered entries.
type Queue struct {
	kv     KV
	key    string
	sender Sender
	now    func() time.Time
	mu     sync.Mutex
}

// Opts holds parameters for creating a Queue.
type Opts struct {
	KV     KV
	Key    string
	Sender Sender
	Now    func() time.Time // for testing
}

// New creates a Queue.
func New(opts Opts) (*Queue, error) {
	if opts.KV == nil {
		return nil, fmt.Errorf("queue: kv is required")
	}
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Queue{kv: opts.KV, key: opts.Key, sender: opts.Sender, now: opts.Now}, nil
}

// Enqueue appends an entry unless an identical one is already queued.
// It reports whether the entry was added.
func (q *Queue) Enqueue(ctx context.Context, e Entry) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.load(ctx)
	if err != nil {
		return false, err
	}
	return q.add(ctx, entries, e)
}

// Submit delivers e, queueing it when the send fails. An entry never
// overtakes earlier queued ones: with a backlog it is queued behind it
// untried. It reports whether the entry was delivered.
func (q *Queue) Submit(ctx context.Context, e Entry) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.sender == nil {
		return false, fmt.Errorf("queue: submit: no sender configured")
	}
	entries, err := q.load(ctx)
	if err != nil {
		return false, err
	}
	if len(entries) == 0 {
		err := q.sender.Send(ctx, e)
		if err == nil {
			return true, nil
		}
		log.Printf("queue: send %s@%d failed, queued for retry: %v", e.SessionID, e.TsMs, err)
	}
	if _, err := q.add(ctx, entries, e); err != nil {
		return false, err
	}
	return false, nil
}

func (q *Queue) add(ctx context.Context, entries []Entry, e Entry) (bool, error) {
	if contains(entries, e) {
		return false, nil
	}
	if e.QueuedAt.IsZero() {
		e.QueuedAt = q.now()
	}
	entries = append(entries, e)
	return true, q.save(ctx, entries)
}

// Pending returns the queued entries in order.
func (q *Queue) Pending(ctx context.Context) ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load(ctx)
}

// Len returns the number of queued entries.
func (q *Queue) Len(ctx context.Context) (int, error) {
	entries, err := q.Pending(ctx)
	return len(entries), err
}

// RetryAll resends every entry in order. The first failure stops the cycle
// and that entry plus everything after it stay queued.
func (q *Queue) RetryAll(ctx context.Context) (RetryResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var res RetryResult
	if q.sender == nil {
		return res, fmt.Errorf("queue: retry: no sender configured")
	}
	entries, err := q.load(ctx)
	if err != nil {
		return res, err
	}
	if len(entries) == 0 {
		return res, nil
	}

	lister, _ := q.sender.(Lister)
	stored := map[string][]Entry{}

	i := 0
	for ; i < len(entries); i++ {
		e := entries[i]
		if lister != nil {
			if _, ok := stored[e.SessionID]; !ok {
				existing, err := lister.Existing(ctx, e.SessionID)
				if err != nil {
					log.Printf("queue: list stored messages for %s: %v", e.SessionID, err)
				}
				stored[e.SessionID] = existing
			}
			if contains(stored[e.SessionID], e) {
				res.Dropped++
				continue
			}
		}
		if err := q.sender.Send(ctx, e); err != nil {
			res.Err = fmt.Errorf("queue: send %s@%d: %w", e.SessionID, e.TsMs, err)
			break
		}
		res.Sent++
		stored[e.SessionID] = append(stored[e.SessionID], e)
	}

	rest := entries[i:]
	res.Remaining = len(rest)
	if err := q.save(ctx, rest); err != nil {
		return res, err
	}
	return res, nil
}

func contains(entries []Entry, e Entry) bool {
	for _, x := range entries {
		if x.Same(e) {
			return true
		}
	}
	return false
}

func (q *Queue) load(ctx context.Context) ([]Entry, error) {
	data, err := q.kv.Load(ctx, q.key)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("queue: decode %s: %w", q.key, err)
	}
	return entries, nil
}

func (q *Queue) save(ctx context.Context, entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("queue: encode: %w", err)
	}
	return q.kv.Save(ctx, q.key, data)
}
