package wa

import (
	"context"
	"time"

	"github.com/lfcamargo/atendo/internal/bus"
	"github.com/lfcamargo/atendo/internal/store"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

// EventHandler folds whatsmeow events into the app store. It never
// talks to the synchronization layer directly: each insert the store
// commits comes back out as a change event that the layer folds in.
type EventHandler struct {
	db      *store.DB
	adapter *Adapter
	bus     *bus.Bus
	logger  *zap.Logger
}

// NewEventHandler creates a new event handler.
func NewEventHandler(db *store.DB, adapter *Adapter, b *bus.Bus, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		db:      db,
		adapter: adapter,
		bus:     b,
		logger:  logger,
	}
}

// Handle is the main whatsmeow event handler function.
func (h *EventHandler) Handle(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		h.handleMessage(evt)
	case *events.Connected:
		h.logger.Info("WhatsApp connected")
		h.bus.Publish(bus.Event{Kind: "session.connected", Timestamp: time.Now()})
	case *events.Disconnected:
		h.logger.Warn("WhatsApp disconnected")
		h.bus.Publish(bus.Event{Kind: "session.disconnected", Timestamp: time.Now()})
	case *events.LoggedOut:
		h.logger.Warn("WhatsApp logged out", zap.String("reason", evt.Reason.String()))
		h.bus.Publish(bus.Event{Kind: "session.logged_out", Timestamp: time.Now(), Payload: evt.Reason.String()})
	}
}

func (h *EventHandler) handleMessage(evt *events.Message) {
	parsed := ParseLiveMessage(evt)
	if parsed == nil {
		return
	}
	ctx := context.Background()

	thread, err := h.ensureThread(ctx, parsed)
	if err != nil {
		h.logger.Error("ensure thread failed", zap.Error(err), zap.String("phone", parsed.Phone))
		return
	}
	if _, err := h.db.InsertMessage(ctx, parsed.ToStoreMessage(thread.ID)); err != nil {
		h.logger.Error("insert inbound message failed", zap.Error(err), zap.Int64("thread_id", thread.ID))
	}
}

// ensureThread finds the thread for the message's phone key, creating
// it on first contact. Creation goes through the store, so the roster
// learns about the new thread from the change stream like any other
// insert.
func (h *EventHandler) ensureThread(ctx context.Context, p *ParsedMessage) (*store.Thread, error) {
	existing, err := h.db.GetThreadByPhone(ctx, p.Phone)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	name := p.ContactName
	if name == "" && h.adapter != nil {
		name = h.adapter.ContactName(ctx, p.Phone)
	}
	if name == "" {
		name = p.Phone
	}
	return h.db.CreateThread(ctx, store.Thread{
		Phone:             p.Phone,
		ContactName:       name,
		LastInteractionAt: p.Timestamp,
	})
}
