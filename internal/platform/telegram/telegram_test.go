package telegram

import (
	"testing"

	"github.com/zulandar/shoprelay/internal/platform"
)

func TestParseEvents_TextMessage(t *testing.T) {
	body := `{"update_id": 10, "message": {"message_id": 55, "date": 1700000000,
	  "from": {"id": 4242, "is_bot": false, "first_name": "Dana", "last_name": "K"},
	  "chat": {"id": 4242, "type": "private"}, "text": "got iPhone 16?"}}`

	a := New()
	events, err := a.ParseEvents([]byte(body), "777")
	if err != nil {
		t.Fatalf("ParseEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.Platform != platform.Telegram {
		t.Errorf("Platform = %q", ev.Platform)
	}
	if ev.AccountID != "777" || ev.SenderID != "4242" {
		t.Errorf("AccountID/SenderID = %q/%q", ev.AccountID, ev.SenderID)
	}
	if ev.PlatformMessageID != "4242:55" {
		t.Errorf("PlatformMessageID = %q, want %q", ev.PlatformMessageID, "4242:55")
	}
	if ev.SenderName != "Dana K" {
		t.Errorf("SenderName = %q, want %q", ev.SenderName, "Dana K")
	}
	if a.IsEcho(ev) {
		t.Error("customer message flagged as echo")
	}
}

func TestParseEvents_BotEcho(t *testing.T) {
	body := `{"update_id": 11, "message": {"message_id": 56, "date": 1700000000,
	  "from": {"id": 777, "is_bot": true, "first_name": "ShopBot"},
	  "chat": {"id": 4242, "type": "private"}, "text": "our reply"}}`

	a := New()
	events, _ := a.ParseEvents([]byte(body), "777")
	if len(events) != 1 || !a.IsEcho(events[0]) {
		t.Errorf("bot's own message not flagged as echo: %+v", events)
	}
}

func TestParseEvents_SkipsNonText(t *testing.T) {
	for name, body := range map[string]string{
		"edited":   `{"update_id": 1, "edited_message": {"message_id": 1, "chat": {"id": 1}, "text": "x"}}`,
		"sticker":  `{"update_id": 2, "message": {"message_id": 2, "chat": {"id": 1}, "date": 1}}`,
		"callback": `{"update_id": 3, "callback_query": {"id": "q"}}`,
	} {
		events, err := New().ParseEvents([]byte(body), "777")
		if err != nil {
			t.Errorf("%s: ParseEvents: %v", name, err)
		}
		if len(events) != 0 {
			t.Errorf("%s: events = %d, want 0", name, len(events))
		}
	}
}

func TestParseEvents_BadJSON(t *testing.T) {
	if _, err := New().ParseEvents([]byte("nope"), "777"); err == nil {
		t.Fatal("expected decode error")
	}
}
