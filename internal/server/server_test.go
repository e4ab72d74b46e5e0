package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/cohost/internal/audio"
	"github.com/zulandar/cohost/internal/models"
	"github.com/zulandar/cohost/internal/notify"
	"github.com/zulandar/cohost/internal/resume"
	"github.com/zulandar/cohost/internal/session"
	"github.com/zulandar/cohost/internal/transcript"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	router *gin.Engine
	hub    *notify.Hub
	clock  *testClock
}

func openServerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.Session{}, &models.AudioFile{}, &models.Message{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func newTestEnv(t *testing.T, apiKey string) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := openServerTestDB(t)
	clock := &testClock{now: time.Now().Truncate(time.Millisecond)}
	hub := notify.NewHub(8)

	store, err := audio.NewStore(audio.StoreOpts{DB: db, Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("audio.NewStore: %v", err)
	}
	ledger, err := session.NewLedger(session.LedgerOpts{DB: db, Tracks: store, Publisher: hub, Now: clock.Now})
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	ts, _ := transcript.NewStore(db)
	planner, err := resume.NewPlanner(resume.PlannerOpts{Ledger: ledger, Audio: store, Transcript: ts})
	if err != nil {
		t.Fatalf("NewPlanner: %v", err)
	}

	router, err := NewRouter(Deps{
		Ledger:         ledger,
		Monitor:        session.NewMonitor(ledger, session.NewPolicy(1000)),
		Audio:          store,
		Transcript:     ts,
		Planner:        planner,
		Hub:            hub,
		UpstreamAPIKey: apiKey,
	}, false)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return &testEnv{router: router, hub: hub, clock: clock}
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func (e *testEnv) createSession(t *testing.T) sessionView {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/sessions", []byte(`{"title":"pilot"}`))
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	var v sessionView
	decode(t, w, &v)
	return v
}

func errorText(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	decode(t, w, &body)
	return body.Error
}

func TestNewRouter_RequiresDeps(t *testing.T) {
	if _, err := NewRouter(Deps{}, false); err == nil {
		t.Fatal("expected error for missing deps")
	}
}

func TestCreateSession_EmptyBody(t *testing.T) {
	env := newTestEnv(t, "")
	w := env.do(t, http.MethodPost, "/api/sessions", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var v sessionView
	decode(t, w, &v)
	if v.Status != "active" || len(v.AudioFiles) != 2 {
		t.Errorf("session = %+v", v)
	}
	if v.Settings != session.Default() {
		t.Errorf("settings = %+v, want defaults", v.Settings)
	}
}

func TestCreateSession_PartialSettings(t *testing.T) {
	env := newTestEnv(t, "")
	w := env.do(t, http.MethodPost, "/api/sessions", []byte(`{"settings":{"voice":"shimmer","silence_ms":800}}`))
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var v sessionView
	decode(t, w, &v)
	if v.Settings.Voice != "shimmer" || v.Settings.SilenceMs != 800 || v.Settings.Temperature != 0.8 {
		t.Errorf("settings = %+v", v.Settings)
	}
}

func TestCreateSession_InvalidSettings(t *testing.T) {
	env := newTestEnv(t, "")
	w := env.do(t, http.MethodPost, "/api/sessions", []byte(`{"settings":{"temperature":1.5}}`))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(errorText(t, w), "Temperature") {
		t.Errorf("error %q does not name the field", errorText(t, w))
	}
}

func TestGetSession_NotFound(t *testing.T) {
	env := newTestEnv(t, "")
	w := env.do(t, http.MethodGet, "/api/sessions/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if got := errorText(t, w); got != "Session not found" {
		t.Errorf("error = %q", got)
	}
}

func TestListSessions(t *testing.T) {
	env := newTestEnv(t, "")
	env.createSession(t)
	env.clock.Advance(time.Second)
	env.createSession(t)

	w := env.do(t, http.MethodGet, "/api/sessions", nil)
	var list []sessionView
	decode(t, w, &list)
	if len(list) != 2 || !list[0].CreatedAt.After(list[1].CreatedAt) {
		t.Errorf("list = %+v", list)
	}
}

func TestAudio_AppendFinalizeInfoStream(t *testing.T) {
	env := newTestEnv(t, "")
	s := env.createSession(t)
	base := "/api/sessions/" + s.ID + "/audio/human"

	first := bytes.Repeat([]byte{0xAA}, 1024)
	second := bytes.Repeat([]byte{0x55}, 512)
	env.do(t, http.MethodPost, base, first)
	w := env.do(t, http.MethodPost, base, second)
	var appended struct {
		TotalSize int64 `json:"totalSize"`
	}
	decode(t, w, &appended)
	if appended.TotalSize != 1536 {
		t.Errorf("totalSize = %d, want 1536", appended.TotalSize)
	}

	w = env.do(t, http.MethodPost, base+"/finalize", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("finalize: %d %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodGet, base+"/info", nil)
	var info struct {
		Size      int64   `json:"size"`
		Format    string  `json:"format"`
		Duration  float64 `json:"duration"`
		Finalized bool    `json:"finalized"`
	}
	decode(t, w, &info)
	if info.Size != 1580 || info.Format != "wav" || !info.Finalized {
		t.Errorf("info = %+v, want size 1580 wav finalized", info)
	}

	w = env.do(t, http.MethodGet, base, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stream: %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("Content-Type = %q", ct)
	}
	wav := w.Body.Bytes()
	if len(wav) != 1580 || string(wav[0:4]) != "RIFF" || !bytes.Equal(wav[44:], append(first, second...)) {
		t.Errorf("streamed %d bytes, bad WAV content", len(wav))
	}

	w = env.do(t, http.MethodPost, base+"/finalize", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("second finalize status = %d, want 409", w.Code)
	}
}

func TestAudio_SpeakerValidation(t *testing.T) {
	env := newTestEnv(t, "")
	s := env.createSession(t)

	w := env.do(t, http.MethodPost, "/api/sessions/"+s.ID+"/audio/mikkel", []byte{1, 2})
	if w.Code != http.StatusOK {
		t.Errorf("legacy alias status = %d, want 200", w.Code)
	}
	w = env.do(t, http.MethodGet, "/api/sessions/"+s.ID+"/audio/human/info", nil)
	var info struct {
		Size int64 `json:"size"`
	}
	decode(t, w, &info)
	if info.Size != 2 {
		t.Errorf("alias chunk did not land on human track: size %d", info.Size)
	}

	w = env.do(t, http.MethodPost, "/api/sessions/"+s.ID+"/audio/narrator", []byte{1})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad speaker status = %d, want 400", w.Code)
	}
	w = env.do(t, http.MethodPost, "/api/sessions/ghost/audio/ai", []byte{1})
	if w.Code != http.StatusNotFound || errorText(t, w) != "Session not found" {
		t.Errorf("unknown session: %d %s", w.Code, w.Body.String())
	}
}

func TestMessages_OrderedByTimestamp(t *testing.T) {
	env := newTestEnv(t, "")
	s := env.createSession(t)
	path := "/api/sessions/" + s.ID + "/messages"

	bodyA := []byte(`{"speaker":"human","text":"A","tsMs":1500}`)
	w := env.do(t, http.MethodPost, path, bodyA)
	if w.Code != http.StatusCreated {
		t.Fatalf("append A: %d %s", w.Code, w.Body.String())
	}
	env.do(t, http.MethodPost, path, []byte(`{"speaker":"freja","text":"B","tsMs":1000,"rawJson":"{\"type\":\"done\"}"}`))

	w = env.do(t, http.MethodGet, path, nil)
	var msgs []messageView
	decode(t, w, &msgs)
	if len(msgs) != 2 || msgs[0].Text != "B" || msgs[1].Text != "A" {
		t.Fatalf("msgs = %+v, want [B A]", msgs)
	}
	if msgs[0].Speaker != "ai" {
		t.Errorf("legacy speaker stored as %q", msgs[0].Speaker)
	}
	if msgs[0].RawJSON != `{"type":"done"}` {
		t.Errorf("explicit rawJson = %q", msgs[0].RawJSON)
	}
	if msgs[1].RawJSON != string(bodyA) {
		t.Errorf("default rawJson = %q, want request body", msgs[1].RawJSON)
	}
}

func TestMessages_Validation(t *testing.T) {
	env := newTestEnv(t, "")
	s := env.createSession(t)
	path := "/api/sessions/" + s.ID + "/messages"

	for _, body := range []string{
		`{"speaker":"human","text":"x"}`,
		`{"speaker":"human","text":"x","tsMs":-5}`,
		`{"speaker":"human","text":"","tsMs":1}`,
		`{"speaker":"narrator","text":"x","tsMs":1}`,
		`not json`,
	} {
		w := env.do(t, http.MethodPost, path, []byte(body))
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", body, w.Code)
		}
	}
	w := env.do(t, http.MethodGet, "/api/sessions/ghost/messages", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("list unknown session status = %d, want 404", w.Code)
	}
}

func TestHeartbeatAndFinish(t *testing.T) {
	env := newTestEnv(t, "")
	s := env.createSession(t)
	base := "/api/sessions/" + s.ID

	if w := env.do(t, http.MethodPost, base+"/heartbeat", nil); w.Code != http.StatusOK {
		t.Fatalf("heartbeat: %d %s", w.Code, w.Body.String())
	}
	env.do(t, http.MethodPost, base+"/audio/ai", []byte{9, 9, 9, 9})

	w := env.do(t, http.MethodPost, base+"/finish", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("finish: %d %s", w.Code, w.Body.String())
	}
	var done sessionView
	decode(t, w, &done)
	if done.Status != "completed" || done.CompletedAt == nil {
		t.Errorf("finished = %+v", done)
	}

	w = env.do(t, http.MethodGet, base+"/audio/ai/info", nil)
	var info struct {
		Size      int64 `json:"size"`
		Finalized bool  `json:"finalized"`
	}
	decode(t, w, &info)
	if !info.Finalized || info.Size != 48 {
		t.Errorf("ai track after finish = %+v, want finalized 48 bytes", info)
	}

	w = env.do(t, http.MethodPost, base+"/heartbeat", nil)
	if w.Code != http.StatusConflict || !strings.Contains(errorText(t, w), "completed") {
		t.Errorf("heartbeat after finish: %d %s", w.Code, w.Body.String())
	}
	w = env.do(t, http.MethodPost, base+"/finish", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("second finish status = %d, want 409", w.Code)
	}
	w = env.do(t, http.MethodPost, "/api/sessions/ghost/finish", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("finish unknown status = %d, want 404", w.Code)
	}
}

func TestSweepAndResume(t *testing.T) {
	env := newTestEnv(t, "")
	s := env.createSession(t)
	base := "/api/sessions/" + s.ID

	w := env.do(t, http.MethodGet, base+"/resume", nil)
	var status struct {
		CanResume   bool   `json:"canResume"`
		Reason      string `json:"reason"`
		NextSegment int    `json:"nextSegment"`
	}
	decode(t, w, &status)
	if status.CanResume || status.Reason != resume.ReasonNotResumable {
		t.Errorf("active session resume status = %+v", status)
	}

	env.clock.Advance(1100 * time.Millisecond)
	w = env.do(t, http.MethodPost, "/api/sweep?timeoutMs=1000", nil)
	var swept struct {
		Demoted []string `json:"demoted"`
	}
	decode(t, w, &swept)
	if len(swept.Demoted) != 1 || swept.Demoted[0] != s.ID {
		t.Fatalf("demoted = %v", swept.Demoted)
	}

	w = env.do(t, http.MethodGet, base+"/resume", nil)
	status.Reason = ""
	decode(t, w, &status)
	if !status.CanResume || status.NextSegment != 2 {
		t.Errorf("resume status = %+v, want resumable at segment 2", status)
	}

	w = env.do(t, http.MethodPost, base+"/resume", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("resume: %d %s", w.Code, w.Body.String())
	}
	var plan struct {
		Segment int             `json:"segment"`
		Tracks  []audioFileView `json:"tracks"`
	}
	decode(t, w, &plan)
	if plan.Segment != 2 || len(plan.Tracks) != 2 {
		t.Errorf("plan = %+v", plan)
	}

	for _, bad := range []string{"abc", "0", "-5"} {
		if w := env.do(t, http.MethodPost, "/api/sweep?timeoutMs="+bad, nil); w.Code != http.StatusBadRequest {
			t.Errorf("timeoutMs=%s status = %d, want 400", bad, w.Code)
		}
	}
	if w := env.do(t, http.MethodPost, "/api/sessions/ghost/resume", nil); w.Code != http.StatusNotFound {
		t.Errorf("resume unknown status = %d, want 404", w.Code)
	}
}

func TestRealtimeSession(t *testing.T) {
	env := newTestEnv(t, "")
	w := env.do(t, http.MethodGet, "/api/realtime/session", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}

	env = newTestEnv(t, "sk-test")
	s := env.createSession(t)
	w = env.do(t, http.MethodGet, "/api/realtime/session?sessionId="+s.ID, nil)
	var body struct {
		Configured bool   `json:"configured"`
		Model      string `json:"model"`
		Voice      string `json:"voice"`
	}
	decode(t, w, &body)
	if !body.Configured || body.Model != session.Default().Model || body.Voice != "alloy" {
		t.Errorf("body = %+v", body)
	}
}

func TestEvents_StreamsCompletion(t *testing.T) {
	env := newTestEnv(t, "")

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		env.router.ServeHTTP(w, req)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("SSE handler never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	env.hub.Publish(context.Background(), notify.Event{Name: notify.EventSessionCompleted, SessionID: "s-42", Status: "completed"})
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: connected") {
		t.Errorf("missing connected event: %q", body)
	}
	if !strings.Contains(body, "event: session:completed") || !strings.Contains(body, `"sessionId":"s-42"`) {
		t.Errorf("missing completion event: %q", body)
	}
}

func TestWriteSSE(t *testing.T) {
	var buf bytes.Buffer
	writeSSE(&buf, "heartbeat", map[string]string{"k": "v"})
	if got := buf.String(); got != "event: heartbeat\ndata: {\"k\":\"v\"}\n\n" {
		t.Errorf("writeSSE = %q", got)
	}
}
