package wa

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/lfcamargo/atendo/internal/bus"
	"github.com/lfcamargo/atendo/internal/store"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

func testHandler(t *testing.T) (*EventHandler, *store.DB) {
	t.Helper()
	b := bus.New()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"), b)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewEventHandler(db, nil, b, zap.NewNop()), db
}

func liveText(phone, name, body string, fromMe bool) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			ID:        "M-" + body,
			PushName:  name,
			Timestamp: time.Now(),
			MessageSource: types.MessageSource{
				Chat:     types.JID{User: phone, Server: types.DefaultUserServer},
				Sender:   types.JID{User: phone, Server: types.DefaultUserServer},
				IsFromMe: fromMe,
			},
		},
		Message: &waE2E.Message{Conversation: proto.String(body)},
	}
}

func TestHandleMessageCreatesThreadOnFirstContact(t *testing.T) {
	h, db := testHandler(t)
	ctx := context.Background()

	h.Handle(liveText("5511999990000", "Alice", "oi", false))

	thread, err := db.GetThreadByPhone(ctx, "5511999990000")
	if err != nil {
		t.Fatal(err)
	}
	if thread == nil {
		t.Fatal("thread not created for first contact")
	}
	if thread.ContactName != "Alice" {
		t.Errorf("ContactName = %q, want Alice", thread.ContactName)
	}

	msgs, _ := db.ListMessages(ctx, thread.ID)
	if len(msgs) != 1 || msgs[0].Body != "oi" {
		t.Fatalf("messages = %+v, want one inbound oi", msgs)
	}
	if msgs[0].Sender != store.SenderContact {
		t.Errorf("Sender = %q, want contact", msgs[0].Sender)
	}
}

func TestHandleMessageReusesExistingThread(t *testing.T) {
	h, db := testHandler(t)
	ctx := context.Background()

	h.Handle(liveText("5511999990000", "Alice", "oi", false))
	h.Handle(liveText("5511999990000", "Alice", "tudo bem?", false))

	threads, _ := db.ListThreads(ctx, store.ThreadFilter{})
	if len(threads) != 1 {
		t.Fatalf("threads = %d, want 1 per phone", len(threads))
	}
	msgs, _ := db.ListMessages(ctx, threads[0].ID)
	if len(msgs) != 2 {
		t.Errorf("messages = %d, want 2", len(msgs))
	}
}

func TestHandleMessageFromPhoneMarkedAsOurs(t *testing.T) {
	h, db := testHandler(t)
	ctx := context.Background()

	h.Handle(liveText("5511999990000", "", "respondi do celular", true))

	thread, _ := db.GetThreadByPhone(ctx, "5511999990000")
	if thread == nil {
		t.Fatal("thread not created")
	}
	msgs, _ := db.ListMessages(ctx, thread.ID)
	if len(msgs) != 1 || msgs[0].Sender != store.SenderAgent {
		t.Fatalf("messages = %+v, want one agent message", msgs)
	}
}

func TestHandleMessageIgnoresGroups(t *testing.T) {
	h, db := testHandler(t)

	h.Handle(&events.Message{
		Info: types.MessageInfo{
			ID:        "G1",
			Timestamp: time.Now(),
			MessageSource: types.MessageSource{
				Chat:   types.JID{User: "120363123456", Server: types.GroupServer},
				Sender: types.JID{User: "5511999990000", Server: types.DefaultUserServer},
			},
		},
		Message: &waE2E.Message{Conversation: proto.String("group chatter")},
	})

	threads, _ := db.ListThreads(context.Background(), store.ThreadFilter{})
	if len(threads) != 0 {
		t.Errorf("threads = %+v, want none for a group message", threads)
	}
}
