// Package thread keeps one open conversation in step with the remote
// store. Confirmed messages come from snapshot loads and the change
// stream; optimistic pendings are appended on send and retired when
// their authoritative row shows up, by id adoption through a heuristic
// text-and-time match.
package thread

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lfcamargo/atendo/internal/bus"
	"github.com/lfcamargo/atendo/internal/cache"
	"github.com/lfcamargo/atendo/internal/store"
	"go.uber.org/zap"
)

// Store is the slice of the remote collaborator the reconciler needs.
// *store.DB satisfies it.
type Store interface {
	ListMessages(ctx context.Context, threadID int64) ([]store.Message, error)
	InsertMessage(ctx context.Context, m store.Message) (*store.Message, error)
	DeleteMessage(ctx context.Context, id int64) error
}

// Transport delivers outbound messages to the contact.
type Transport interface {
	SendText(ctx context.Context, phone, text string) error
	SendMedia(ctx context.Context, phone string, data []byte, mimeType, fileName string) error
}

// Options tunes the reconciliation heuristics.
type Options struct {
	// MatchWindow is how far apart a pending and its confirmed row may
	// be in time and still be considered the same message.
	MatchWindow time.Duration
	// RevokeWindow is the wider window used when the confirmed row is a
	// revoked message.
	RevokeWindow time.Duration
	// SendGrace is how long a sent pending lingers before removal, in
	// case its confirmed row is still in flight on the stream.
	SendGrace time.Duration
	// CacheTTL bounds the cached feed's staleness across reopens.
	CacheTTL time.Duration
}

func (o Options) withDefaults() Options {
	if o.MatchWindow <= 0 {
		o.MatchWindow = 3 * time.Second
	}
	if o.RevokeWindow <= 0 {
		o.RevokeWindow = 10 * time.Second
	}
	if o.SendGrace <= 0 {
		o.SendGrace = 500 * time.Millisecond
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = cache.DefaultThreadsTTL
	}
	return o
}

// Reconciler owns the feed of one confirmed thread. All state sits
// behind one mutex; stream events and send-side transitions are applied
// one at a time.
type Reconciler struct {
	st       Store
	tr       Transport
	bus      *bus.Bus
	cache    *cache.Cache
	logger   *zap.Logger
	threadID int64
	phone    string
	opts     Options

	mu        sync.Mutex
	confirmed []store.Message
	seen      map[int64]bool
	pendings  []PendingMessage

	updates chan struct{}
	cancel  context.CancelFunc
	now     func() time.Time
}

// New creates a reconciler for one confirmed thread.
func New(st Store, tr Transport, b *bus.Bus, c *cache.Cache, logger *zap.Logger, threadID int64, phone string, opts Options) *Reconciler {
	return &Reconciler{
		st:       st,
		tr:       tr,
		bus:      b,
		cache:    c,
		logger:   logger,
		threadID: threadID,
		phone:    phone,
		opts:     opts.withDefaults(),
		seen:     make(map[int64]bool),
		updates:  make(chan struct{}, 1),
		now:      time.Now,
	}
}

func (r *Reconciler) cacheKey() string {
	return fmt.Sprintf("messages:%d", r.threadID)
}

// Start seeds the feed from the cache, subscribes to message changes
// and kicks off the snapshot load.
func (r *Reconciler) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	r.mu.Lock()
	if v, ok := r.cache.Get(r.cacheKey()); ok {
		if cached, ok := v.([]store.Message); ok {
			r.replaceConfirmedLocked(cached)
		}
	}
	r.mu.Unlock()
	r.signal()

	ch, unsub := r.bus.Subscribe(bus.ChangeKind(bus.EntityMessages), 256)
	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				r.handleChange(evt)
			case <-ctx.Done():
				return
			}
		}
	}()

	go r.Load(ctx)
}

// Stop tears down the subscription. Pendings are dropped with it; they
// were never promised durability.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

// Load snapshot-fetches the confirmed feed. On failure the prior state
// stays visible.
func (r *Reconciler) Load(ctx context.Context) {
	msgs, err := r.st.ListMessages(ctx, r.threadID)
	if err != nil {
		r.logger.Error("feed load failed", zap.Error(err), zap.Int64("thread_id", r.threadID))
		return
	}
	r.mu.Lock()
	r.replaceConfirmedLocked(msgs)
	r.mirrorLocked()
	r.mu.Unlock()
	r.signal()
}

func (r *Reconciler) replaceConfirmedLocked(msgs []store.Message) {
	r.confirmed = append([]store.Message(nil), msgs...)
	r.seen = make(map[int64]bool, len(msgs))
	for _, m := range msgs {
		r.seen[m.ID] = true
	}
}

// Messages returns the merged feed: confirmed rows oldest first, then
// pendings in creation order.
func (r *Reconciler) Messages() []FeedItem {
	r.mu.Lock()
	defer r.mu.Unlock()

	feed := make([]FeedItem, 0, len(r.confirmed)+len(r.pendings))
	for i := range r.confirmed {
		m := r.confirmed[i]
		feed = append(feed, FeedItem{Confirmed: &m})
	}
	for i := range r.pendings {
		p := r.pendings[i]
		feed = append(feed, FeedItem{Pending: &p})
	}
	return feed
}

// Updates returns the refresh signal channel.
func (r *Reconciler) Updates() <-chan struct{} {
	return r.updates
}

func (r *Reconciler) handleChange(evt bus.Event) {
	c, ok := evt.Payload.(bus.Change)
	if !ok || c.Entity != bus.EntityMessages {
		return
	}

	switch c.Op {
	case bus.OpInsert:
		msg, ok := c.After.(*store.Message)
		if !ok || msg.ThreadID != r.threadID {
			return
		}
		r.mu.Lock()
		if r.seen[msg.ID] {
			r.mu.Unlock()
			return
		}
		r.seen[msg.ID] = true
		r.confirmed = append(r.confirmed, *msg)
		if store.FromUs(msg.Sender) {
			r.retireMatchingLocked(*msg)
		}
		r.mirrorLocked()
		r.mu.Unlock()
		r.signal()
	case bus.OpUpdate:
		msg, ok := c.After.(*store.Message)
		if !ok || msg.ThreadID != r.threadID {
			return
		}
		r.mu.Lock()
		for i := range r.confirmed {
			if r.confirmed[i].ID == msg.ID {
				r.confirmed[i] = *msg
				break
			}
		}
		r.mirrorLocked()
		r.mu.Unlock()
		r.signal()
	case bus.OpDelete:
		msg, ok := c.Before.(*store.Message)
		if !ok || msg.ThreadID != r.threadID {
			return
		}
		r.mu.Lock()
		r.removeConfirmedLocked(msg.ID)
		r.mirrorLocked()
		r.mu.Unlock()
		r.signal()
	}
}

// retireMatchingLocked retires the earliest pending that the confirmed
// message plausibly is: same trimmed text within the match window, or
// any pending within the wider window when the row is a revocation. A
// miss is not an error; the grace cleanup catches strays.
func (r *Reconciler) retireMatchingLocked(msg store.Message) {
	window := r.opts.MatchWindow
	revoked := msg.MessageType == "revoked"
	if revoked {
		window = r.opts.RevokeWindow
	}
	text := strings.TrimSpace(msg.Body)

	for i, p := range r.pendings {
		if p.Status == PendingError {
			continue
		}
		delta := msg.CreatedAt - p.CreatedAt
		if delta < 0 {
			delta = -delta
		}
		if time.Duration(delta)*time.Millisecond > window {
			continue
		}
		if !revoked && strings.TrimSpace(p.Body) != text {
			continue
		}
		r.pendings = append(r.pendings[:i], r.pendings[i+1:]...)
		return
	}
}

// SendText appends an optimistic pending and delivers the text
// asynchronously.
func (r *Reconciler) SendText(ctx context.Context, text string) {
	p := PendingMessage{
		ID:          uuid.NewString(),
		Body:        text,
		MessageType: "text",
		Status:      PendingSending,
		CreatedAt:   r.now().UnixMilli(),
	}
	r.appendPending(p)
	go r.deliver(ctx, p)
}

// SendMedia appends an optimistic pending for a media payload and
// delivers it asynchronously. The pending shows the file name while the
// upload is in flight.
func (r *Reconciler) SendMedia(ctx context.Context, data []byte, mimeType, fileName string) {
	p := PendingMessage{
		ID:          uuid.NewString(),
		Body:        fileName,
		MessageType: mediaType(mimeType),
		Status:      PendingUploading,
		CreatedAt:   r.now().UnixMilli(),
	}
	r.appendPending(p)
	go r.deliverMedia(ctx, p, data, mimeType, fileName)
}

func mediaType(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "audio/"):
		return "audio"
	case strings.HasPrefix(mimeType, "image/"):
		return "image"
	default:
		return "document"
	}
}

func (r *Reconciler) appendPending(p PendingMessage) {
	r.mu.Lock()
	r.pendings = append(r.pendings, p)
	r.mu.Unlock()
	r.signal()
}

// deliver pushes a text pending through transport and store. Transport
// or write failure parks the pending at error and keeps it; success
// marks it sent and schedules the grace removal in case the stream
// never echoes the row back.
func (r *Reconciler) deliver(ctx context.Context, p PendingMessage) {
	if err := r.tr.SendText(ctx, r.phone, p.Body); err != nil {
		r.failPending(p.ID, "transport send", err)
		return
	}
	if _, err := r.st.InsertMessage(ctx, store.Message{
		ThreadID:    r.threadID,
		Sender:      store.SenderAgent,
		Body:        p.Body,
		MessageType: p.MessageType,
		Status:      store.StatusSent,
		CreatedAt:   p.CreatedAt,
	}); err != nil {
		r.failPending(p.ID, "store write", err)
		return
	}
	r.markSent(p.ID)
}

func (r *Reconciler) deliverMedia(ctx context.Context, p PendingMessage, data []byte, mimeType, fileName string) {
	if err := r.tr.SendMedia(ctx, r.phone, data, mimeType, fileName); err != nil {
		r.failPending(p.ID, "transport send", err)
		return
	}
	if _, err := r.st.InsertMessage(ctx, store.Message{
		ThreadID:    r.threadID,
		Sender:      store.SenderAgent,
		Body:        fileName,
		MessageType: p.MessageType,
		Status:      store.StatusSent,
		CreatedAt:   p.CreatedAt,
	}); err != nil {
		r.failPending(p.ID, "store write", err)
		return
	}
	r.markSent(p.ID)
}

func (r *Reconciler) failPending(id, stage string, err error) {
	r.logger.Error("send failed", zap.String("stage", stage), zap.Error(err), zap.Int64("thread_id", r.threadID))
	r.mu.Lock()
	for i := range r.pendings {
		if r.pendings[i].ID == id {
			r.pendings[i].Status = PendingError
			break
		}
	}
	r.mu.Unlock()
	r.signal()
}

func (r *Reconciler) markSent(id string) {
	r.mu.Lock()
	for i := range r.pendings {
		if r.pendings[i].ID == id {
			r.pendings[i].Status = PendingSent
			break
		}
	}
	r.mu.Unlock()
	r.signal()

	time.AfterFunc(r.opts.SendGrace, func() {
		r.removePending(id)
	})
}

func (r *Reconciler) removePending(id string) {
	r.mu.Lock()
	for i := range r.pendings {
		if r.pendings[i].ID == id {
			r.pendings = append(r.pendings[:i], r.pendings[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
	r.signal()
}

// Delete removes a confirmed message optimistically and writes through.
// A failed write reloads the feed.
func (r *Reconciler) Delete(ctx context.Context, msg store.Message) {
	r.mu.Lock()
	r.removeConfirmedLocked(msg.ID)
	r.mirrorLocked()
	r.mu.Unlock()
	r.signal()

	if err := r.st.DeleteMessage(ctx, msg.ID); err != nil {
		r.logger.Error("delete failed, reloading feed", zap.Error(err), zap.Int64("msg_id", msg.ID))
		r.Load(ctx)
	}
}

func (r *Reconciler) removeConfirmedLocked(id int64) {
	for i := range r.confirmed {
		if r.confirmed[i].ID == id {
			r.confirmed = append(r.confirmed[:i], r.confirmed[i+1:]...)
			break
		}
	}
	delete(r.seen, id)
}

func (r *Reconciler) mirrorLocked() {
	r.cache.Set(r.cacheKey(), append([]store.Message(nil), r.confirmed...), r.opts.CacheTTL)
}

func (r *Reconciler) signal() {
	select {
	case r.updates <- struct{}{}:
	default:
	}
}
