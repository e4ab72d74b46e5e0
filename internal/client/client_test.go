package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/zulandar/cohost/internal/queue"
)

// fakeAPI stores posted messages and can be switched offline.
type fakeAPI struct {
	mu      sync.Mutex
	offline bool
	stored  []map[string]any
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"maintenance"}`))
		return
	}
	switch {
	case r.URL.Path == "/api/sessions/s1/messages" && r.Method == http.MethodPost:
		var m map[string]any
		json.NewDecoder(r.Body).Decode(&m)
		f.stored = append(f.stored, m)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(m)
	case r.URL.Path == "/api/sessions/s1/messages":
		json.NewEncoder(w).Encode(f.stored)
	default:
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"Session not found"}`))
	}
}

func TestClient_SendAndExisting(t *testing.T) {
	api := &fakeAPI{}
	srv := httptest.NewServer(api)
	defer srv.Close()
	c := New(srv.URL+"/", nil)
	ctx := context.Background()

	if err := c.Send(ctx, queue.Entry{SessionID: "s1", Speaker: "human", Text: "hi", TsMs: 10}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got, err := c.Existing(ctx, "s1")
	if err != nil {
		t.Fatalf("Existing: %v", err)
	}
	if len(got) != 1 || got[0].Text != "hi" || got[0].TsMs != 10 || got[0].SessionID != "s1" {
		t.Errorf("Existing = %+v", got)
	}
}

func TestClient_APIError(t *testing.T) {
	srv := httptest.NewServer(&fakeAPI{})
	defer srv.Close()
	c := New(srv.URL, nil)

	err := c.Send(context.Background(), queue.Entry{SessionID: "ghost", Speaker: "ai", Text: "x"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusNotFound || apiErr.Message != "Session not found" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestClient_QueueReplay(t *testing.T) {
	api := &fakeAPI{offline: true}
	srv := httptest.NewServer(api)
	defer srv.Close()
	ctx := context.Background()

	q, err := queue.New(queue.Opts{KV: queue.FileKV{Dir: t.TempDir()}, Sender: New(srv.URL, nil)})
	if err != nil {
		t.Fatalf("queue.New: %v", err)
	}
	q.Enqueue(ctx, queue.Entry{SessionID: "s1", Speaker: "human", Text: "one", TsMs: 1})
	q.Enqueue(ctx, queue.Entry{SessionID: "s1", Speaker: "ai", Text: "two", TsMs: 2})

	res, err := q.RetryAll(ctx)
	if err != nil {
		t.Fatalf("RetryAll: %v", err)
	}
	if res.Sent != 0 || res.Remaining != 2 || res.Err == nil {
		t.Errorf("offline result = %+v", res)
	}

	api.mu.Lock()
	api.offline = false
	api.mu.Unlock()

	res, err = q.RetryAll(ctx)
	if err != nil {
		t.Fatalf("RetryAll: %v", err)
	}
	if res.Sent != 2 || res.Remaining != 0 {
		t.Errorf("online result = %+v", res)
	}
	if len(api.stored) != 2 || api.stored[0]["text"] != "one" {
		t.Errorf("stored = %+v", api.stored)
	}
}

func TestClient_SubmitQueuesWhileOffline(t *testing.T) {
	api := &fakeAPI{offline: true}
	srv := httptest.NewServer(api)
	defer srv.Close()
	ctx := context.Background()

	q, err := queue.New(queue.Opts{KV: queue.FileKV{Dir: t.TempDir()}, Sender: New(srv.URL, nil)})
	if err != nil {
		t.Fatalf("queue.New: %v", err)
	}
	for i, text := range []string{"one", "two"} {
		delivered, err := q.Submit(ctx, queue.Entry{SessionID: "s1", Speaker: "human", Text: text, TsMs: int64(i)})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		if delivered {
			t.Errorf("%s delivered while offline", text)
		}
	}
	if n, _ := q.Len(ctx); n != 2 {
		t.Fatalf("Len = %d, want 2", n)
	}

	api.mu.Lock()
	api.offline = false
	api.mu.Unlock()

	if res, _ := q.RetryAll(ctx); res.Sent != 2 || res.Remaining != 0 {
		t.Errorf("replay = %+v", res)
	}
	delivered, err := q.Submit(ctx, queue.Entry{SessionID: "s1", Speaker: "ai", Text: "three", TsMs: 2})
	if err != nil || !delivered {
		t.Errorf("Submit online: delivered=%v err=%v", delivered, err)
	}
	if len(api.stored) != 3 || api.stored[2]["text"] != "three" {
		t.Errorf("stored = %+v", api.stored)
	}
}
