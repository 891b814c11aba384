package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/shoprelay/internal/agent"
	"github.com/zulandar/shoprelay/internal/db"
	"github.com/zulandar/shoprelay/internal/delivery"
	"github.com/zulandar/shoprelay/internal/ingest"
	"github.com/zulandar/shoprelay/internal/messaging"
	"github.com/zulandar/shoprelay/internal/models"
	"github.com/zulandar/shoprelay/internal/operator"
	"github.com/zulandar/shoprelay/internal/pending"
	"github.com/zulandar/shoprelay/internal/platform"
	"github.com/zulandar/shoprelay/internal/platform/meta"
	"github.com/zulandar/shoprelay/internal/platform/telegram"
	"github.com/zulandar/shoprelay/internal/reply"
	"github.com/zulandar/shoprelay/internal/shop"
	"github.com/zulandar/shoprelay/internal/telemetry"
	"github.com/zulandar/shoprelay/internal/thread"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	db     *gorm.DB
	shop   *models.Shop
	gw     *delivery.MockGateway
	runner *agent.MockRunner
	srv    *Server
}

func newFixture(t *testing.T, appSecret string) *fixture {
	t.Helper()
	gormDB, err := db.ConnectSQLite(":memory:")
	if err != nil {
		t.Fatalf("ConnectSQLite: %v", err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	s := &models.Shop{
		Name:                "isupply",
		MetaPageID:          "PAGE1",
		MetaPageAccessToken: "page-token",
		TelegramBotID:       "777",
		TelegramBotToken:    "777:secret",
		AutoReplyEnabled:    true,
	}
	if err := gormDB.Create(s).Error; err != nil {
		t.Fatalf("create shop: %v", err)
	}

	gw := delivery.NewMockGateway()
	router := delivery.NewRouter().
		Register(platform.Messenger, gw).
		Register(platform.Instagram, gw).
		Register(platform.Telegram, gw)
	ih, err := ingest.New(ingest.Opts{
		DB:       gormDB,
		Adapters: platform.NewRegistry(meta.NewMessenger(), meta.NewInstagram(), telegram.New()),
		Gateways: router,
		Delay:    10 * time.Second,
	})
	if err != nil {
		t.Fatalf("ingest.New: %v", err)
	}
	disp, err := reply.NewDispatcher(reply.DispatcherOpts{DB: gormDB, Gateways: router, SegmentDelay: -1})
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	runner := agent.NewMockRunner("regenerated answer")
	op, err := operator.New(operator.Opts{
		DB:         gormDB,
		Gateways:   router,
		Runner:     runner,
		Dispatcher: disp,
		Tools:      func(*models.Shop) []agent.Tool { return nil },
		Settings:   agent.Settings{Model: "gpt-5.2"},
	})
	if err != nil {
		t.Fatalf("operator.New: %v", err)
	}
	srv, err := New(Opts{
		DB:          gormDB,
		Ingest:      ih,
		Operator:    op,
		Telemetry:   telemetry.Init(true),
		VerifyToken: "verify-me",
		AppSecret:   appSecret,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{db: gormDB, shop: s, gw: gw, runner: runner, srv: srv}
}

func (f *fixture) do(t *testing.T, method, path string, body []byte, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func (f *fixture) newThread(t *testing.T) *models.Thread {
	t.Helper()
	th, _, err := thread.GetOrCreate(f.db, thread.Key{ShopID: f.shop.ID, Platform: platform.Messenger, PlatformUserID: "psid-1"}, "")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	return th
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func messengerBody(mid, text string) []byte {
	return []byte(`{"object":"page","entry":[{"id":"PAGE1","time":1700000000000,"messaging":[` +
		`{"sender":{"id":"psid-1"},"recipient":{"id":"PAGE1"},"timestamp":1700000000000,` +
		`"message":{"mid":"` + mid + `","text":"` + text + `"}}]}]}`)
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Opts{}); err == nil || !strings.Contains(err.Error(), "db is required") {
		t.Errorf("err = %v, want db is required", err)
	}
}

func TestVerify(t *testing.T) {
	f := newFixture(t, "")
	tests := []struct {
		name   string
		query  string
		status int
		body   string
	}{
		{"match", "hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", http.StatusOK, "12345"},
		{"wrong token", "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=12345", http.StatusForbidden, ""},
		{"wrong mode", "hub.mode=unsubscribe&hub.verify_token=verify-me&hub.challenge=12345", http.StatusForbidden, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodGet, "/webhooks/instagram?"+tt.query, nil, nil)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			if w.Body.String() != tt.body {
				t.Errorf("body = %q, want %q", w.Body.String(), tt.body)
			}
		})
	}
}

func TestMessengerEvent_Enqueues(t *testing.T) {
	f := newFixture(t, "")
	w := f.do(t, http.MethodPost, "/webhooks/messenger", messengerBody("m1", "hi"), nil)
	if w.Code != http.StatusOK || w.Body.String() != ackBody {
		t.Fatalf("response = %d %q", w.Code, w.Body.String())
	}

	threads, _ := thread.List(f.db, thread.ListFilter{})
	if len(threads) != 1 || threads[0].ScheduledJobID == nil {
		t.Fatalf("threads = %+v, want one with a scheduled job", threads)
	}
	if n, _ := pending.Count(f.db, threads[0].ID); n != 1 {
		t.Errorf("pending = %d, want 1", n)
	}
}

func TestMetaEvent_AlwaysAcknowledged(t *testing.T) {
	f := newFixture(t, "")
	for _, body := range []string{`not json`, `{"object":"page","entry":[]}`} {
		w := f.do(t, http.MethodPost, "/webhooks/messenger", []byte(body), nil)
		if w.Code != http.StatusOK || w.Body.String() != ackBody {
			t.Errorf("body %q: response = %d %q", body, w.Code, w.Body.String())
		}
	}
}

func TestMetaEvent_Signature(t *testing.T) {
	f := newFixture(t, "app-secret")
	body := messengerBody("m1", "hi")

	bad := http.Header{meta.SignatureHeader: {"sha256=deadbeef"}}
	w := f.do(t, http.MethodPost, "/webhooks/messenger", body, bad)
	if w.Code != http.StatusOK || w.Body.String() != ackBody {
		t.Fatalf("bad signature response = %d %q", w.Code, w.Body.String())
	}
	if threads, _ := thread.List(f.db, thread.ListFilter{}); len(threads) != 0 {
		t.Fatalf("bad signature created %d threads", len(threads))
	}

	good := http.Header{meta.SignatureHeader: {meta.Sign("app-secret", body)}}
	f.do(t, http.MethodPost, "/webhooks/messenger", body, good)
	if threads, _ := thread.List(f.db, thread.ListFilter{}); len(threads) != 1 {
		t.Errorf("threads = %d, want 1 after a signed delivery", len(threads))
	}
}

func TestTelegramEvent(t *testing.T) {
	f := newFixture(t, "")
	body := []byte(`{"update_id":1,"message":{"message_id":5,"date":1700000000,` +
		`"chat":{"id":42,"type":"private"},"from":{"id":42,"is_bot":false,"first_name":"Ana"},"text":"hola"}}`)

	w := f.do(t, http.MethodPost, "/webhooks/telegram/777", body, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	threads, _ := thread.List(f.db, thread.ListFilter{})
	if len(threads) != 1 {
		t.Fatalf("threads = %d, want 1", len(threads))
	}
	if th := threads[0]; th.Platform != platform.Telegram || th.PlatformUserID != "42" || th.CustomerName != "Ana" {
		t.Errorf("thread = %+v", th)
	}
}

func TestListThreadsAndMessages(t *testing.T) {
	f := newFixture(t, "")
	th := f.newThread(t)
	messaging.Append(f.db, th.ID, models.RoleUser, "hi", messaging.AppendOpts{Timestamp: time.Now().Add(-time.Minute)})
	messaging.Append(f.db, th.ID, models.RoleAssistant, "hello", messaging.AppendOpts{AI: models.AIMetadata{Model: "gpt-5.2", TotalTokens: 50}})

	w := f.do(t, http.MethodGet, "/api/threads?status=active", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("threads status = %d: %s", w.Code, w.Body.String())
	}
	var list struct {
		Threads []threadView `json:"threads"`
	}
	decode(t, w, &list)
	if len(list.Threads) != 1 || list.Threads[0].TotalMessages != 2 {
		t.Errorf("threads = %+v", list.Threads)
	}

	w = f.do(t, http.MethodGet, "/api/threads/"+itoa(th.ID)+"/messages", nil, nil)
	var msgs struct {
		Messages []messageView `json:"messages"`
	}
	decode(t, w, &msgs)
	if len(msgs.Messages) != 2 || msgs.Messages[0].Content != "hi" || msgs.Messages[1].AI == nil {
		t.Errorf("messages = %+v", msgs.Messages)
	}

	if w := f.do(t, http.MethodGet, "/api/threads/999/messages", nil, nil); w.Code != http.StatusNotFound {
		t.Errorf("missing thread status = %d, want 404", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/threads/abc", nil, nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/threads?limit=-1", nil, nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", w.Code)
	}
}

func TestSendMessage(t *testing.T) {
	f := newFixture(t, "")
	th := f.newThread(t)

	w := f.do(t, http.MethodPost, "/api/threads/"+itoa(th.ID)+"/messages", []byte(`{"text":"Sam here"}`), nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var msg messageView
	decode(t, w, &msg)
	if msg.Role != models.RoleHumanAgent {
		t.Errorf("role = %q, want human_agent", msg.Role)
	}
	if got, _ := thread.Get(f.db, th.ID); got.AgentStatus != models.AgentPaused {
		t.Errorf("AgentStatus = %q, want paused", got.AgentStatus)
	}

	for _, body := range []string{`{}`, `{"text":"   "}`} {
		if w := f.do(t, http.MethodPost, "/api/threads/"+itoa(th.ID)+"/messages", []byte(body), nil); w.Code != http.StatusBadRequest {
			t.Errorf("body %s status = %d, want 400", body, w.Code)
		}
	}
}

func TestRetry(t *testing.T) {
	f := newFixture(t, "")
	th := f.newThread(t)
	base := time.Now().Add(-time.Minute)
	user, _ := messaging.Append(f.db, th.ID, models.RoleUser, "price?", messaging.AppendOpts{Timestamp: base})
	bad, _ := messaging.Append(f.db, th.ID, models.RoleAssistant, "wrong", messaging.AppendOpts{Timestamp: base.Add(time.Second)})

	w := f.do(t, http.MethodPost, "/api/threads/"+itoa(th.ID)+"/retry", []byte(`{"message_id":`+itoa(bad.ID)+`}`), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var out struct {
		Messages []messageView `json:"messages"`
		Handoff  bool          `json:"handoff"`
	}
	decode(t, w, &out)
	if len(out.Messages) != 1 || out.Messages[0].Content != "regenerated answer" || out.Handoff {
		t.Errorf("outcome = %+v", out)
	}
	if h := f.runner.Calls()[0].History; len(h) != 1 || h[0].Content != user.Content {
		t.Errorf("history = %+v", h)
	}

	if w := f.do(t, http.MethodPost, "/api/threads/"+itoa(th.ID)+"/retry", []byte(`{"message_id":9999}`), nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown message status = %d, want 404", w.Code)
	}
}

func TestRetry_NoAnchor(t *testing.T) {
	f := newFixture(t, "")
	th := f.newThread(t)
	greeting, _ := messaging.Append(f.db, th.ID, models.RoleAssistant, "welcome", messaging.AppendOpts{})

	w := f.do(t, http.MethodPost, "/api/threads/"+itoa(th.ID)+"/retry", []byte(`{"message_id":`+itoa(greeting.ID)+`}`), nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
}

func TestResumeThread(t *testing.T) {
	f := newFixture(t, "")
	th := f.newThread(t)
	thread.Handoff(f.db, th.ID, "refund")

	w := f.do(t, http.MethodPost, "/api/threads/"+itoa(th.ID)+"/resume", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got, _ := thread.Get(f.db, th.ID); got.AgentStatus != models.AgentActive {
		t.Errorf("AgentStatus = %q, want active", got.AgentStatus)
	}
}

func TestShopPauseResume(t *testing.T) {
	f := newFixture(t, "")
	base := "/api/shops/" + itoa(f.shop.ID)

	w := f.do(t, http.MethodPost, base+"/pause", []byte(`{"reason":"stocktake"}`), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("pause status = %d: %s", w.Code, w.Body.String())
	}
	var st shop.Status
	decode(t, w, &st)
	if !st.AgentPaused || st.AgentPausedReason != "stocktake" {
		t.Errorf("status after pause = %+v", st)
	}

	f.do(t, http.MethodPost, base+"/resume", nil, nil)
	w = f.do(t, http.MethodGet, base+"/agent-status", nil, nil)
	st = shop.Status{}
	decode(t, w, &st)
	if st.AgentPaused {
		t.Error("shop still paused after resume")
	}

	if w := f.do(t, http.MethodPost, "/api/shops/999/pause", nil, nil); w.Code != http.StatusNotFound {
		t.Errorf("missing shop status = %d, want 404", w.Code)
	}
}

func TestSettings(t *testing.T) {
	f := newFixture(t, "")
	if w := f.do(t, http.MethodGet, "/api/settings", nil, nil); w.Code != http.StatusNotFound {
		t.Errorf("unset settings status = %d, want 404", w.Code)
	}

	w := f.do(t, http.MethodPut, "/api/settings", []byte(`{"ai_model":"gpt-5.1","reasoning_effort":"low"}`), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("put status = %d: %s", w.Code, w.Body.String())
	}
	w = f.do(t, http.MethodGet, "/api/settings", nil, nil)
	var got settingsView
	decode(t, w, &got)
	if got.AIModel != "gpt-5.1" || got.AIProvider != "openai" || got.ReasoningEffort != "low" {
		t.Errorf("settings = %+v", got)
	}

	if w := f.do(t, http.MethodPut, "/api/settings", []byte(`{"ai_provider":"openai"}`), nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing model status = %d, want 400", w.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, "")
	if w := f.do(t, http.MethodGet, "/healthz", nil, nil); w.Code != http.StatusOK {
		t.Errorf("healthz = %d", w.Code)
	}

	f.do(t, http.MethodPost, "/webhooks/messenger", messengerBody("m1", "hi"), nil)
	w := f.do(t, http.MethodGet, "/metrics", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics = %d", w.Code)
	}
	var snap struct {
		Enabled bool               `json:"enabled"`
		Metrics []telemetry.Series `json:"metrics"`
	}
	decode(t, w, &snap)
	if !snap.Enabled {
		t.Error("enabled = false, want true")
	}
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
