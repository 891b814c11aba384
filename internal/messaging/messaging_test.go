package messaging

import (
	"errors"
	"testing"
	"time"

	"github.com/zulandar/shoprelay/internal/db"
	"github.com/zulandar/shoprelay/internal/models"
	"github.com/zulandar/shoprelay/internal/thread"
	"gorm.io/gorm"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	gormDB, err := db.ConnectSQLite(":memory:")
	if err != nil {
		t.Fatalf("ConnectSQLite: %v", err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return gormDB
}

func newThread(t *testing.T, gormDB *gorm.DB) *models.Thread {
	t.Helper()
	s := &models.Shop{Name: "isupply", ShopifyDomain: "https://isupply.example/graphql", AutoReplyEnabled: true}
	if err := gormDB.Create(s).Error; err != nil {
		t.Fatalf("create shop: %v", err)
	}
	th, _, err := thread.GetOrCreate(gormDB, thread.Key{ShopID: s.ID, Platform: "messenger", PlatformUserID: "psid"}, "")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	return th
}

// --- Append validation ---

func TestAppend_MissingThread(t *testing.T) {
	_, err := Append(nil, 0, models.RoleUser, "hi", AppendOpts{})
	if err == nil {
		t.Fatal("expected error for missing threadID")
	}
	if got := err.Error(); got != "messaging: threadID is required" {
		t.Errorf("error = %q", got)
	}
}

func TestAppend_InvalidRole(t *testing.T) {
	_, err := Append(nil, 1, "system", "hi", AppendOpts{})
	if err == nil {
		t.Fatal("expected error for invalid role")
	}
}

// --- Append with bookkeeping ---

func TestAppend_PersistsAndUpdatesThread(t *testing.T) {
	gormDB := testDB(t)
	th := newThread(t, gormDB)

	msg, err := Append(gormDB, th.ID, models.RoleAssistant, "hey!", AppendOpts{
		ToolCalls: `[{"id":"c1"}]`,
		AI:        models.AIMetadata{Model: "gpt-5.2", TotalTokens: 50, CostUSD: 0.01},
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if msg.ID == 0 {
		t.Error("ID not assigned")
	}
	if msg.PlatformMessageID != nil {
		t.Errorf("PlatformMessageID = %q, want nil", *msg.PlatformMessageID)
	}

	got, _ := thread.Get(gormDB, th.ID)
	if got.TotalMessages != 1 || got.TotalTokens != 50 {
		t.Errorf("thread counters = %d msgs, %d tokens; want 1, 50", got.TotalMessages, got.TotalTokens)
	}
}

func TestExistsByPlatformID(t *testing.T) {
	gormDB := testDB(t)
	th := newThread(t, gormDB)

	if ok, _ := ExistsByPlatformID(gormDB, "m_1"); ok {
		t.Error("exists before append")
	}
	if _, err := Append(gormDB, th.ID, models.RoleUser, "hi", AppendOpts{PlatformMessageID: "m_1"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	ok, err := ExistsByPlatformID(gormDB, "m_1")
	if err != nil {
		t.Fatalf("ExistsByPlatformID: %v", err)
	}
	if !ok {
		t.Error("exists = false after append")
	}
	if ok, _ := ExistsByPlatformID(gormDB, ""); ok {
		t.Error("empty id reported as existing")
	}
}

func TestRecent_ChronologicalWindow(t *testing.T) {
	gormDB := testDB(t)
	th := newThread(t, gormDB)
	base := time.Now()

	for i, text := range []string{"one", "two", "three", "four"} {
		Append(gormDB, th.ID, models.RoleUser, text, AppendOpts{Timestamp: base.Add(time.Duration(i) * time.Second)})
	}

	msgs, err := Recent(gormDB, th.ID, 3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	want := []string{"two", "three", "four"}
	if len(msgs) != len(want) {
		t.Fatalf("len = %d, want %d", len(msgs), len(want))
	}
	for i, w := range want {
		if msgs[i].Content != w {
			t.Errorf("msgs[%d] = %q, want %q", i, msgs[i].Content, w)
		}
	}
}

func TestLatestUserAtOrBefore(t *testing.T) {
	gormDB := testDB(t)
	th := newThread(t, gormDB)
	base := time.Now()
	at := func(i int) AppendOpts { return AppendOpts{Timestamp: base.Add(time.Duration(i) * time.Second)} }

	u1, _ := Append(gormDB, th.ID, models.RoleUser, "q1", at(0))
	a1, _ := Append(gormDB, th.ID, models.RoleAssistant, "r1a", at(1))
	a2, _ := Append(gormDB, th.ID, models.RoleAssistant, "r1b", at(2))
	u2, _ := Append(gormDB, th.ID, models.RoleUser, "q2", at(3))

	for _, target := range []*models.Message{u1, a1, a2} {
		got, err := LatestUserAtOrBefore(gormDB, target)
		if err != nil {
			t.Fatalf("LatestUserAtOrBefore(%d): %v", target.ID, err)
		}
		if got.ID != u1.ID {
			t.Errorf("anchor for %q = %q, want %q", target.Content, got.Content, u1.Content)
		}
	}
	got, _ := LatestUserAtOrBefore(gormDB, u2)
	if got.ID != u2.ID {
		t.Errorf("anchor for q2 = %q, want q2", got.Content)
	}

	history, err := UpTo(gormDB, u1, 12)
	if err != nil {
		t.Fatalf("UpTo: %v", err)
	}
	if len(history) != 1 || history[0].ID != u1.ID {
		t.Errorf("UpTo(q1) = %d msgs, want [q1]", len(history))
	}
}

func TestLatestUserAtOrBefore_NoAnchor(t *testing.T) {
	gormDB := testDB(t)
	th := newThread(t, gormDB)
	a, _ := Append(gormDB, th.ID, models.RoleHumanAgent, "hello from staff", AppendOpts{})

	_, err := LatestUserAtOrBefore(gormDB, a)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	gormDB := testDB(t)
	if _, err := Get(gormDB, 42); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
