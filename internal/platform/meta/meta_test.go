package meta

import (
	"errors"
	"testing"

	"github.com/zulandar/shoprelay/internal/platform"
)

const messengerBody = `{
  "object": "page",
  "entry": [{
    "id": "PAGE1",
    "time": 1700000000000,
    "messaging": [
      {"sender": {"id": "PSID1"}, "recipient": {"id": "PAGE1"}, "timestamp": 1700000000001,
       "message": {"mid": "m_1", "text": "hey"}},
      {"sender": {"id": "PSID1"}, "recipient": {"id": "PAGE1"}, "timestamp": 1700000000002,
       "read": {"watermark": 1}},
      {"sender": {"id": "PAGE1"}, "recipient": {"id": "PSID1"}, "timestamp": 1700000000003,
       "message": {"mid": "m_2", "text": "our reply", "is_echo": true}}
    ]
  }]
}`

func TestMessenger_ParseEvents(t *testing.T) {
	a := NewMessenger()
	events, err := a.ParseEvents([]byte(messengerBody), "")
	if err != nil {
		t.Fatalf("ParseEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}

	ev := events[0]
	if ev.Platform != platform.Messenger {
		t.Errorf("Platform = %q, want %q", ev.Platform, platform.Messenger)
	}
	if ev.AccountID != "PAGE1" || ev.SenderID != "PSID1" {
		t.Errorf("AccountID/SenderID = %q/%q", ev.AccountID, ev.SenderID)
	}
	if ev.Text != "hey" || ev.PlatformMessageID != "m_1" {
		t.Errorf("Text/MID = %q/%q", ev.Text, ev.PlatformMessageID)
	}
	if ev.Timestamp.UnixMilli() != 1700000000001 {
		t.Errorf("Timestamp = %d", ev.Timestamp.UnixMilli())
	}
	if a.IsEcho(ev) {
		t.Error("customer message flagged as echo")
	}
	if !a.IsEcho(events[1]) {
		t.Error("is_echo message not flagged as echo")
	}
}

func TestIsEcho_SenderIsAccount(t *testing.T) {
	a := NewInstagram()
	if !a.IsEcho(platform.Event{AccountID: "IG1", SenderID: "IG1"}) {
		t.Error("message from the account itself not treated as echo")
	}
}

func TestInstagram_IgnoresPageObject(t *testing.T) {
	events, err := NewInstagram().ParseEvents([]byte(messengerBody), "")
	if err != nil {
		t.Fatalf("ParseEvents: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events = %d, want 0 for object=page", len(events))
	}
}

func TestInstagram_ParseEvents(t *testing.T) {
	body := `{"object":"instagram","entry":[{"id":"IG1","messaging":[
	  {"sender":{"id":"IGSID"},"recipient":{"id":"IG1"},"message":{"mid":"ig_m1","text":"airpods?"}}]}]}`
	a := NewInstagram()
	events, err := a.ParseEvents([]byte(body), "")
	if err != nil {
		t.Fatalf("ParseEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].AccountID != "IG1" || events[0].Platform != platform.Instagram {
		t.Errorf("event = %+v", events[0])
	}
	if a.AccountIDField() != "instagram_account_id" {
		t.Errorf("AccountIDField = %q", a.AccountIDField())
	}
}

func TestParseEvents_BadJSON(t *testing.T) {
	if _, err := NewMessenger().ParseEvents([]byte("{not json"), ""); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestChallenge(t *testing.T) {
	tests := []struct {
		name                   string
		mode, token, challenge string
		want                   string
		ok                     bool
	}{
		{"valid", "subscribe", "secret", "12345", "12345", true},
		{"wrong token", "subscribe", "nope", "12345", "", false},
		{"wrong mode", "unsubscribe", "secret", "12345", "", false},
		{"no challenge", "subscribe", "secret", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Challenge(tt.mode, tt.token, tt.challenge, "secret")
			if got != tt.want || ok != tt.ok {
				t.Errorf("Challenge() = %q, %v; want %q, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
	if _, ok := Challenge("subscribe", "", "1", ""); ok {
		t.Error("empty verify token accepted")
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(messengerBody)
	good := Sign("app-secret", body)

	if err := VerifySignature("app-secret", good, body); err != nil {
		t.Errorf("valid signature rejected: %v", err)
	}
	if err := VerifySignature("app-secret", "", body); !errors.Is(err, ErrMissingSignature) {
		t.Errorf("missing header err = %v", err)
	}
	if err := VerifySignature("app-secret", "sha1=abc", body); !errors.Is(err, ErrBadSignature) {
		t.Errorf("wrong prefix err = %v", err)
	}
	if err := VerifySignature("other-secret", good, body); !errors.Is(err, ErrBadSignature) {
		t.Errorf("wrong secret err = %v", err)
	}
	if err := VerifySignature("app-secret", "sha256=zz", body); !errors.Is(err, ErrBadSignature) {
		t.Errorf("bad hex err = %v", err)
	}
}
