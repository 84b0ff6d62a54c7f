// Package wa is the WhatsApp transport adapter. Outbound it satisfies
// the reconciler's Transport; inbound it writes live messages into the
// store, whose change stream feeds the synchronization layer.
package wa

import (
	"context"
	"fmt"

	"github.com/lfcamargo/atendo/internal/bus"
	"github.com/lfcamargo/atendo/internal/session"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3"
)

// Adapter wraps the whatsmeow client for one session.
type Adapter struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	bus       *bus.Bus
	logger    *zap.Logger
	session   string
}

// NewAdapter creates the adapter for the given session, backed by the
// session's whatsmeow credential database.
func NewAdapter(ctx context.Context, sessionName string, b *bus.Bus, logger *zap.Logger) (*Adapter, error) {
	// Device name shown on the phone's linked devices list.
	wastore.SetOSInfo("Atendo", [3]uint32{0, 1, 0})

	dbPath := session.TransportDBPath(sessionName)

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", dbPath),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create transport store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	return &Adapter{
		client:    whatsmeow.NewClient(deviceStore, nil),
		container: container,
		bus:       b,
		logger:    logger,
		session:   sessionName,
	}, nil
}

// Client returns the underlying whatsmeow client.
func (a *Adapter) Client() *whatsmeow.Client {
	return a.client
}

// IsLoggedIn returns whether the adapter has valid credentials.
func (a *Adapter) IsLoggedIn() bool {
	return a.client.Store.ID != nil
}

// Connect initiates the WhatsApp connection.
func (a *Adapter) Connect() error {
	a.logger.Info("connecting to WhatsApp")
	return a.client.Connect()
}

// Disconnect terminates the WhatsApp connection.
func (a *Adapter) Disconnect() {
	a.logger.Info("disconnecting from WhatsApp")
	a.client.Disconnect()
}

// Logout invalidates the session and removes credentials.
func (a *Adapter) Logout(ctx context.Context) error {
	return a.client.Logout(ctx)
}

// RegisterEventHandler adds a handler for whatsmeow events.
func (a *Adapter) RegisterEventHandler(handler whatsmeow.EventHandler) {
	a.client.AddEventHandler(handler)
}

// jidFor builds the direct-chat JID for a phone key.
func jidFor(phone string) types.JID {
	return types.NewJID(phone, types.DefaultUserServer)
}

// SendText delivers a text message to the contact's phone.
func (a *Adapter) SendText(ctx context.Context, phone, text string) error {
	_, err := a.client.SendMessage(ctx, jidFor(phone), &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	return nil
}

// SendMedia uploads the payload and delivers it as an image, audio or
// document message depending on the mime type.
func (a *Adapter) SendMedia(ctx context.Context, phone string, data []byte, mimeType, fileName string) error {
	var msg *waE2E.Message
	switch mediaKind(mimeType) {
	case whatsmeow.MediaImage:
		up, err := a.client.Upload(ctx, data, whatsmeow.MediaImage)
		if err != nil {
			return fmt.Errorf("upload image: %w", err)
		}
		msg = &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Mimetype:      proto.String(mimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	case whatsmeow.MediaAudio:
		up, err := a.client.Upload(ctx, data, whatsmeow.MediaAudio)
		if err != nil {
			return fmt.Errorf("upload audio: %w", err)
		}
		msg = &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			Mimetype:      proto.String(mimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	default:
		up, err := a.client.Upload(ctx, data, whatsmeow.MediaDocument)
		if err != nil {
			return fmt.Errorf("upload document: %w", err)
		}
		msg = &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Mimetype:      proto.String(mimeType),
			FileName:      proto.String(fileName),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	}

	if _, err := a.client.SendMessage(ctx, jidFor(phone), msg); err != nil {
		return fmt.Errorf("send media: %w", err)
	}
	return nil
}

func mediaKind(mimeType string) whatsmeow.MediaType {
	switch {
	case len(mimeType) >= 6 && mimeType[:6] == "image/":
		return whatsmeow.MediaImage
	case len(mimeType) >= 6 && mimeType[:6] == "audio/":
		return whatsmeow.MediaAudio
	default:
		return whatsmeow.MediaDocument
	}
}

// GetQRChannel returns the QR channel for pairing. Must be called before Connect.
func (a *Adapter) GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error) {
	if a.IsLoggedIn() {
		return nil, fmt.Errorf("already logged in")
	}
	ch, err := a.client.GetQRChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("get QR channel: %w", err)
	}
	return ch, nil
}

// PhoneNumber returns our own phone number, or empty before pairing.
func (a *Adapter) PhoneNumber() string {
	if a.client.Store.ID == nil {
		return ""
	}
	return a.client.Store.ID.User
}

// ContactName looks up the device store's name for a phone key, falling
// back to the push name and then the phone itself.
func (a *Adapter) ContactName(ctx context.Context, phone string) string {
	info, err := a.client.Store.Contacts.GetContact(ctx, jidFor(phone))
	if err != nil || !info.Found {
		return phone
	}
	if info.FullName != "" {
		return info.FullName
	}
	if info.PushName != "" {
		return info.PushName
	}
	return phone
}
