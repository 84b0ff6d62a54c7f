package wa

import (
	"github.com/lfcamargo/atendo/internal/store"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// ParsedMessage is a normalized inbound message keyed by the contact's
// phone, ready to be written into the app store.
type ParsedMessage struct {
	Phone       string
	ContactName string
	Body        string
	MessageType string
	FromMe      bool
	Timestamp   int64
}

// ParseLiveMessage normalizes a live whatsmeow message event. Returns
// nil for chats that are not direct contact conversations (groups,
// newsletters, status broadcasts).
func ParseLiveMessage(evt *events.Message) *ParsedMessage {
	if evt.Info.Chat.Server != types.DefaultUserServer {
		return nil
	}
	return &ParsedMessage{
		Phone:       evt.Info.Chat.User,
		ContactName: evt.Info.PushName,
		Body:        extractTextBody(evt.Message),
		MessageType: detectMessageType(evt.Message),
		FromMe:      evt.Info.IsFromMe,
		Timestamp:   evt.Info.Timestamp.UnixMilli(),
	}
}

// ToStoreMessage converts a parsed message into a store row for the
// given thread.
func (p *ParsedMessage) ToStoreMessage(threadID int64) store.Message {
	sender := store.SenderContact
	if p.FromMe {
		sender = store.SenderAgent
	}
	return store.Message{
		ThreadID:    threadID,
		Sender:      sender,
		Body:        p.Body,
		MessageType: p.MessageType,
		Status:      store.StatusDelivered,
		CreatedAt:   p.Timestamp,
	}
}

func extractTextBody(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	return ""
}

func detectMessageType(msg *waE2E.Message) string {
	if msg == nil {
		return "unknown"
	}
	switch {
	case msg.GetProtocolMessage().GetType() == waE2E.ProtocolMessage_REVOKE:
		return "revoked"
	case msg.GetConversation() != "" || msg.GetExtendedTextMessage() != nil:
		return "text"
	case msg.GetImageMessage() != nil:
		return "image"
	case msg.GetVideoMessage() != nil:
		return "video"
	case msg.GetAudioMessage() != nil:
		return "audio"
	case msg.GetDocumentMessage() != nil:
		return "document"
	case msg.GetStickerMessage() != nil:
		return "sticker"
	case msg.GetContactMessage() != nil:
		return "contact"
	case msg.GetLocationMessage() != nil:
		return "location"
	default:
		return "unknown"
	}
}
