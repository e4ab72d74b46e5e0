package transcript

import (
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/cohost/internal/apperr"
	"github.com/zulandar/cohost/internal/models"
	"github.com/zulandar/cohost/internal/speaker"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTranscriptTestDB(t *testing.T) *gorm.DB {
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

func newTestStore(t *testing.T, sessionIDs ...string) *Store {
	t.Helper()
	db := openTranscriptTestDB(t)
	now := time.Now()
	for _, id := range sessionIDs {
		if err := db.Create(&models.Session{ID: id, Status: "active", LastHeartbeat: &now}).Error; err != nil {
			t.Fatalf("create session: %v", err)
		}
	}
	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestNewStore_RequiresDB(t *testing.T) {
	if _, err := NewStore(nil); err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestAppend_OutOfOrderArrival(t *testing.T) {
	store := newTestStore(t, "s1")

	if _, err := store.Append(AppendOpts{SessionID: "s1", Speaker: speaker.Human, Text: "A", TsMs: 1500}); err != nil {
		t.Fatalf("Append A: %v", err)
	}
	if _, err := store.Append(AppendOpts{SessionID: "s1", Speaker: speaker.AI, Text: "B", TsMs: 1000}); err != nil {
		t.Fatalf("Append B: %v", err)
	}

	msgs, err := store.List("s1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
	if msgs[0].Text != "B" || msgs[0].TsMs != 1000 || msgs[1].Text != "A" || msgs[1].TsMs != 1500 {
		t.Errorf("order = [%s@%d %s@%d], want [B@1000 A@1500]", msgs[0].Text, msgs[0].TsMs, msgs[1].Text, msgs[1].TsMs)
	}
}

func TestList_SortedForAnyArrivalOrder(t *testing.T) {
	store := newTestStore(t, "s1")
	rng := rand.New(rand.NewSource(42))

	for i, ts := range rng.Perm(50) {
		sp := speaker.Human
		if i%2 == 1 {
			sp = speaker.AI
		}
		if _, err := store.Append(AppendOpts{SessionID: "s1", Speaker: sp, Text: "utterance", TsMs: int64(ts) * 10}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	msgs, err := store.List("s1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].TsMs < msgs[i-1].TsMs {
			t.Fatalf("msgs[%d].TsMs=%d < msgs[%d].TsMs=%d", i, msgs[i].TsMs, i-1, msgs[i-1].TsMs)
		}
	}
}

func TestList_TiesKeepInsertionOrder(t *testing.T) {
	store := newTestStore(t, "s1")
	for _, text := range []string{"first", "second", "third"} {
		if _, err := store.Append(AppendOpts{SessionID: "s1", Speaker: speaker.Human, Text: text, TsMs: 500}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	msgs, _ := store.List("s1")
	var got []string
	for _, m := range msgs {
		got = append(got, m.Text)
	}
	if strings.Join(got, ",") != "first,second,third" {
		t.Errorf("order = %v", got)
	}
}

func TestList_IsolatedPerSession(t *testing.T) {
	store := newTestStore(t, "s1", "s2")
	store.Append(AppendOpts{SessionID: "s1", Speaker: speaker.Human, Text: "mine", TsMs: 1})
	store.Append(AppendOpts{SessionID: "s2", Speaker: speaker.Human, Text: "theirs", TsMs: 0})

	msgs, _ := store.List("s1")
	if len(msgs) != 1 || msgs[0].Text != "mine" {
		t.Errorf("List(s1) = %+v", msgs)
	}
	n, err := store.Count("s2")
	if err != nil || n != 1 {
		t.Errorf("Count(s2) = %d, %v; want 1", n, err)
	}
}

func TestAppend_KeepsDuplicatesAndRawJSON(t *testing.T) {
	store := newTestStore(t, "s1")
	raw := `{"type":"response.audio_transcript.done","transcript":"same"}`
	for i := 0; i < 2; i++ {
		msg, err := store.Append(AppendOpts{SessionID: "s1", Speaker: speaker.AI, Text: "same", TsMs: 10, RawJSON: raw})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if msg.ID == 0 {
			t.Error("expected store-assigned id")
		}
	}
	msgs, _ := store.List("s1")
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2 (no server-side dedup)", len(msgs))
	}
	if msgs[0].RawJSON != raw {
		t.Errorf("RawJSON = %q, want verbatim payload", msgs[0].RawJSON)
	}
	if msgs[1].ID <= msgs[0].ID {
		t.Errorf("ids not increasing: %d, %d", msgs[0].ID, msgs[1].ID)
	}
}

func TestAppend_Validation(t *testing.T) {
	store := newTestStore(t, "s1")
	tests := []struct {
		name  string
		opts  AppendOpts
		field string
	}{
		{"bad speaker", AppendOpts{SessionID: "s1", Speaker: "narrator", Text: "x"}, "speaker"},
		{"empty text", AppendOpts{SessionID: "s1", Speaker: speaker.Human, Text: "  "}, "text"},
		{"negative ts", AppendOpts{SessionID: "s1", Speaker: speaker.Human, Text: "x", TsMs: -1}, "tsMs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Append(tt.opts)
			if !errors.Is(err, apperr.ErrValidation) {
				t.Fatalf("err = %v, want ErrValidation", err)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q does not name %q", err, tt.field)
			}
		})
	}
}

func TestAppend_SessionNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Append(AppendOpts{SessionID: "ghost", Speaker: speaker.Human, Text: "x"})
	if !errors.Is(err, apperr.ErrSessionNotFound) {
		t.Errorf("Append err = %v, want ErrSessionNotFound", err)
	}
	if _, err := store.List("ghost"); !errors.Is(err, apperr.ErrSessionNotFound) {
		t.Errorf("List err = %v, want ErrSessionNotFound", err)
	}
}
