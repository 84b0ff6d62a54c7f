package wa

import (
	"testing"
	"time"

	"github.com/lfcamargo/atendo/internal/store"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

func TestExtractTextBody(t *testing.T) {
	tests := []struct {
		name string
		msg  *waE2E.Message
		want string
	}{
		{"nil message", nil, ""},
		{"conversation", &waE2E.Message{Conversation: proto.String("hello")}, "hello"},
		{"extended text", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("extended")}}, "extended"},
		{"image (no text)", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}, ""},
		{"empty conversation", &waE2E.Message{Conversation: proto.String("")}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractTextBody(tt.msg)
			if got != tt.want {
				t.Errorf("extractTextBody() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectMessageType(t *testing.T) {
	revoke := waE2E.ProtocolMessage_REVOKE

	tests := []struct {
		name string
		msg  *waE2E.Message
		want string
	}{
		{"nil", nil, "unknown"},
		{"text conversation", &waE2E.Message{Conversation: proto.String("hi")}, "text"},
		{"extended text", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("hi")}}, "text"},
		{"image", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}, "image"},
		{"video", &waE2E.Message{VideoMessage: &waE2E.VideoMessage{}}, "video"},
		{"audio", &waE2E.Message{AudioMessage: &waE2E.AudioMessage{}}, "audio"},
		{"document", &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{}}, "document"},
		{"sticker", &waE2E.Message{StickerMessage: &waE2E.StickerMessage{}}, "sticker"},
		{"revoke", &waE2E.Message{ProtocolMessage: &waE2E.ProtocolMessage{Type: &revoke}}, "revoked"},
		{"empty message", &waE2E.Message{}, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := detectMessageType(tt.msg)
			if got != tt.want {
				t.Errorf("detectMessageType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseLiveMessage(t *testing.T) {
	ts := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	evt := &events.Message{
		Info: types.MessageInfo{
			PushName:  "Alice",
			Timestamp: ts,
			MessageSource: types.MessageSource{
				Chat:     types.JID{User: "5511999990000", Server: types.DefaultUserServer},
				Sender:   types.JID{User: "5511999990000", Server: types.DefaultUserServer},
				IsFromMe: false,
			},
			ID: "MSG123",
		},
		Message: &waE2E.Message{Conversation: proto.String("hello world")},
	}

	parsed := ParseLiveMessage(evt)
	if parsed == nil {
		t.Fatal("direct chat message was rejected")
	}
	if parsed.Phone != "5511999990000" {
		t.Errorf("Phone = %q, want 5511999990000", parsed.Phone)
	}
	if parsed.ContactName != "Alice" {
		t.Errorf("ContactName = %q, want Alice", parsed.ContactName)
	}
	if parsed.Body != "hello world" {
		t.Errorf("Body = %q, want hello world", parsed.Body)
	}
	if parsed.MessageType != "text" {
		t.Errorf("MessageType = %q, want text", parsed.MessageType)
	}
	if parsed.FromMe {
		t.Error("FromMe = true, want false")
	}
	if parsed.Timestamp != ts.UnixMilli() {
		t.Errorf("Timestamp = %d, want %d", parsed.Timestamp, ts.UnixMilli())
	}
}

func TestParseLiveMessageIgnoresGroups(t *testing.T) {
	evt := &events.Message{
		Info: types.MessageInfo{
			ID:        "G1",
			Timestamp: time.Now(),
			MessageSource: types.MessageSource{
				Chat:   types.JID{User: "120363123456", Server: types.GroupServer},
				Sender: types.JID{User: "5511999990000", Server: types.DefaultUserServer},
			},
		},
		Message: &waE2E.Message{Conversation: proto.String("group chatter")},
	}

	if parsed := ParseLiveMessage(evt); parsed != nil {
		t.Errorf("parsed = %+v, want nil for a group chat", parsed)
	}
}

func TestToStoreMessage(t *testing.T) {
	p := &ParsedMessage{
		Phone:       "5511999990000",
		Body:        "test",
		MessageType: "text",
		FromMe:      false,
		Timestamp:   42000,
	}

	m := p.ToStoreMessage(7)
	if m.ThreadID != 7 {
		t.Errorf("ThreadID = %d, want 7", m.ThreadID)
	}
	if m.Sender != store.SenderContact {
		t.Errorf("Sender = %q, want contact", m.Sender)
	}
	if m.Status != store.StatusDelivered {
		t.Errorf("Status = %q, want delivered", m.Status)
	}

	p.FromMe = true
	if m := p.ToStoreMessage(7); m.Sender != store.SenderAgent {
		t.Errorf("Sender = %q, want agent for our own message", m.Sender)
	}
}
