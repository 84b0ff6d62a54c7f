// Package roster keeps an in-memory thread list for one view in step
// with the remote store. It renders a cached copy at mount, loads a
// fresh snapshot, then folds change-stream events and optimistic local
// actions into the list, re-sorting after every mutation.
package roster

import (
	"context"
	"sync"
	"time"

	"github.com/lfcamargo/atendo/internal/bus"
	"github.com/lfcamargo/atendo/internal/cache"
	"github.com/lfcamargo/atendo/internal/store"
	"go.uber.org/zap"
)

// Store is the remote collaborator surface the synchronizer writes
// through. *store.DB satisfies it.
type Store interface {
	ListThreads(ctx context.Context, f store.ThreadFilter) ([]store.Thread, error)
	ListTags(ctx context.Context) ([]store.Tag, error)
	CreateThread(ctx context.Context, t store.Thread) (*store.Thread, error)
	UpdateThread(ctx context.Context, id int64, patch store.ThreadPatch) (*store.Thread, error)
	DeleteThread(ctx context.Context, id int64) error
	BulkArchive(ctx context.Context, ids []int64) error
	BulkDelete(ctx context.Context, ids []int64) error
	SetThreadTags(ctx context.Context, id int64, tagIDs []int64) error
	MarkThreadRead(ctx context.Context, id int64) error
	BumpUnread(ctx context.Context, id int64) error
}

// Action is a single-thread roster action.
type Action string

const (
	ActionTogglePin     Action = "toggle_pin"
	ActionToggleArchive Action = "toggle_archive"
	ActionToggleUnread  Action = "toggle_unread"
	ActionDelete        Action = "delete"
)

// BulkKind is a multi-thread roster action.
type BulkKind string

const (
	BulkArchive BulkKind = "archive"
	BulkDelete  BulkKind = "delete"
)

// Options tunes the synchronizer's cache TTLs.
type Options struct {
	ThreadsTTL time.Duration
	TagsTTL    time.Duration
}

func (o Options) withDefaults() Options {
	if o.ThreadsTTL <= 0 {
		o.ThreadsTTL = cache.DefaultThreadsTTL
	}
	if o.TagsTTL <= 0 {
		o.TagsTTL = cache.DefaultTagsTTL
	}
	return o
}

// Synchronizer owns the thread list for one view. All state lives
// behind one mutex; change events and local actions are folded in one
// at a time, so interleavings reduce to some serial order.
type Synchronizer struct {
	st     Store
	bus    *bus.Bus
	cache  *cache.Cache
	logger *zap.Logger
	view   View
	opts   Options

	mu      sync.Mutex
	threads []ThreadSummary
	tags    []store.Tag
	loading bool

	updates chan struct{}
	cancel  context.CancelFunc
}

// New creates a synchronizer for the given view. Call Start to seed it
// and begin folding change events.
func New(st Store, b *bus.Bus, c *cache.Cache, logger *zap.Logger, view View, opts Options) *Synchronizer {
	return &Synchronizer{
		st:      st,
		bus:     b,
		cache:   c,
		logger:  logger,
		view:    view,
		opts:    opts.withDefaults(),
		updates: make(chan struct{}, 1),
	}
}

// Start seeds the list from the cache, subscribes to the change stream
// and kicks off the snapshot load. The loading flag is raised only when
// no cached copy existed, so remounts render instantly.
func (s *Synchronizer) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.mu.Lock()
	if v, ok := s.cache.Get(s.view.CacheKey()); ok {
		if cached, ok := v.([]ThreadSummary); ok {
			s.threads = append([]ThreadSummary(nil), cached...)
		}
	} else {
		s.loading = true
	}
	if v, ok := s.cache.Get(tagsCacheKey); ok {
		if cached, ok := v.([]store.Tag); ok {
			s.tags = append([]store.Tag(nil), cached...)
		}
	}
	s.mu.Unlock()
	s.signal()

	ch, unsub := s.bus.Subscribe(bus.ChangeNamespace, 256)
	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				s.handleChange(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()

	go s.LoadSnapshot(ctx)
}

// Stop tears down the subscription.
func (s *Synchronizer) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Threads returns a copy of the current sorted list.
func (s *Synchronizer) Threads() []ThreadSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ThreadSummary(nil), s.threads...)
}

// Tags returns a copy of the current tag definitions.
func (s *Synchronizer) Tags() []store.Tag {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.Tag(nil), s.tags...)
}

// IsLoading reports whether the first snapshot is still in flight with
// no cached copy to show.
func (s *Synchronizer) IsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Updates returns the refresh signal channel. One pending signal is
// kept; consumers re-read Threads and Tags when it fires.
func (s *Synchronizer) Updates() <-chan struct{} {
	return s.updates
}

// LoadSnapshot bulk-fetches threads and tags for the view. On success
// the whole list is replaced and mirrored into the cache; on failure
// the prior state stays visible and only the loading flag clears.
func (s *Synchronizer) LoadSnapshot(ctx context.Context) {
	threads, err := s.st.ListThreads(ctx, store.ThreadFilter{Archived: s.view.Archived, Search: s.view.Search})
	if err != nil {
		s.logger.Error("snapshot load failed", zap.Error(err), zap.String("view", s.view.CacheKey()))
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
		s.signal()
		return
	}
	tags, err := s.st.ListTags(ctx)
	if err != nil {
		s.logger.Error("tags load failed", zap.Error(err))
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
		s.signal()
		return
	}

	list := make([]ThreadSummary, 0, len(threads))
	for _, t := range threads {
		list = append(list, fromStore(t))
	}
	sortThreads(list)

	s.mu.Lock()
	s.threads = list
	s.tags = tags
	s.loading = false
	s.mirrorLocked()
	s.mu.Unlock()
	s.signal()
}

func (s *Synchronizer) handleChange(ctx context.Context, evt bus.Event) {
	c, ok := evt.Payload.(bus.Change)
	if !ok {
		return
	}
	switch c.Entity {
	case bus.EntityThreads:
		s.applyThreadChange(c)
	case bus.EntityMessages:
		s.applyMessageChange(ctx, c)
	case bus.EntityTags:
		s.refetchTags(ctx)
	}
}

// applyThreadChange folds one change-stream thread event into the list.
// Inserts reconcile optimistic rows by phone key; replays of an already
// merged record replace in place, so the fold is idempotent.
func (s *Synchronizer) applyThreadChange(c bus.Change) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch c.Op {
	case bus.OpInsert:
		rec, ok := c.After.(*store.Thread)
		if !ok || !s.view.Matches(rec.IsArchived, rec.ContactName, rec.Phone) {
			return
		}
		sum := fromStore(*rec)
		if i := s.indexOfLocked(sum.ID); i >= 0 {
			s.threads[i] = sum
		} else if i := s.indexOfTempPhoneLocked(rec.Phone); i >= 0 {
			s.threads[i] = sum
		} else {
			s.threads = append([]ThreadSummary{sum}, s.threads...)
		}
	case bus.OpUpdate:
		rec, ok := c.After.(*store.Thread)
		if !ok {
			return
		}
		id := ConfirmedID(rec.ID)
		if !s.view.Matches(rec.IsArchived, rec.ContactName, rec.Phone) {
			s.removeLocked(id)
		} else if i := s.indexOfLocked(id); i >= 0 {
			s.threads[i] = fromStore(*rec)
		} else {
			s.threads = append(s.threads, fromStore(*rec))
		}
	case bus.OpDelete:
		rec, ok := c.Before.(*store.Thread)
		if !ok {
			return
		}
		if !s.removeLocked(ConfirmedID(rec.ID)) {
			return
		}
	}

	sortThreads(s.threads)
	s.mirrorLocked()
	s.signalLocked()
}

// applyMessageChange refreshes a visible thread's preview from a new
// message. Inbound messages also bump the unread counter, locally and
// then best-effort against the store; our own messages never count.
func (s *Synchronizer) applyMessageChange(ctx context.Context, c bus.Change) {
	if c.Op != bus.OpInsert {
		return
	}
	msg, ok := c.After.(*store.Message)
	if !ok {
		return
	}

	s.mu.Lock()
	i := s.indexOfLocked(ConfirmedID(msg.ThreadID))
	if i < 0 {
		s.mu.Unlock()
		return
	}
	t := &s.threads[i]
	t.LastMessage = previewFor(*msg)
	t.LastMessageType = msg.MessageType
	t.LastMessageSender = msg.Sender
	t.LastMessageStatus = msg.Status
	t.LastInteractionAt = msg.CreatedAt
	external := !store.FromUs(msg.Sender)
	if external {
		t.UnreadCount++
	}
	sortThreads(s.threads)
	s.mirrorLocked()
	s.signalLocked()
	s.mu.Unlock()

	if external {
		if err := s.st.BumpUnread(ctx, msg.ThreadID); err != nil {
			s.logger.Warn("unread bump failed", zap.Error(err), zap.Int64("thread_id", msg.ThreadID))
		}
	}
}

// refetchTags reloads the whole tag list on any tag change.
func (s *Synchronizer) refetchTags(ctx context.Context) {
	tags, err := s.st.ListTags(ctx)
	if err != nil {
		s.logger.Error("tags refetch failed", zap.Error(err))
		return
	}
	s.mu.Lock()
	s.tags = tags
	s.cache.Set(tagsCacheKey, append([]store.Tag(nil), tags...), s.opts.TagsTTL)
	s.mu.Unlock()
	s.signal()
}

// Select marks a thread read when it has unread messages. The local
// counter clears immediately; the store write follows.
func (s *Synchronizer) Select(ctx context.Context, id ThreadID) {
	s.mu.Lock()
	i := s.indexOfLocked(id)
	if i < 0 || s.threads[i].UnreadCount == 0 {
		s.mu.Unlock()
		return
	}
	s.threads[i].UnreadCount = 0
	sortThreads(s.threads)
	s.mirrorLocked()
	s.signalLocked()
	s.mu.Unlock()

	if id.IsTemp() {
		return
	}
	if err := s.st.MarkThreadRead(ctx, id.Confirmed); err != nil {
		s.resync(ctx, "mark read", err)
	}
}

// SingleAction applies one optimistic action to a thread, then writes
// through. Archiving removes the row from the current view immediately.
func (s *Synchronizer) SingleAction(ctx context.Context, id ThreadID, action Action) {
	s.mu.Lock()
	i := s.indexOfLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	t := s.threads[i]

	var patch store.ThreadPatch
	switch action {
	case ActionTogglePin:
		pinned := !t.IsPinned
		s.threads[i].IsPinned = pinned
		patch.IsPinned = &pinned
	case ActionToggleArchive:
		archived := !t.IsArchived
		s.threads = append(s.threads[:i], s.threads[i+1:]...)
		patch.IsArchived = &archived
	case ActionToggleUnread:
		unread := 0
		if t.UnreadCount == 0 {
			unread = 1
		}
		s.threads[i].UnreadCount = unread
		patch.UnreadCount = &unread
	case ActionDelete:
		s.threads = append(s.threads[:i], s.threads[i+1:]...)
	default:
		s.mu.Unlock()
		return
	}
	sortThreads(s.threads)
	s.mirrorLocked()
	s.signalLocked()
	s.mu.Unlock()

	if id.IsTemp() {
		return
	}
	var err error
	if action == ActionDelete {
		err = s.st.DeleteThread(ctx, id.Confirmed)
	} else {
		_, err = s.st.UpdateThread(ctx, id.Confirmed, patch)
	}
	if err != nil {
		s.resync(ctx, string(action), err)
	}
}

// BulkAction archives or deletes a set of threads. All rows leave the
// current view at once, then one bulk write goes to the store.
func (s *Synchronizer) BulkAction(ctx context.Context, kind BulkKind, ids []ThreadID) {
	if len(ids) == 0 {
		return
	}
	member := make(map[ThreadID]bool, len(ids))
	var confirmed []int64
	for _, id := range ids {
		member[id] = true
		if !id.IsTemp() {
			confirmed = append(confirmed, id.Confirmed)
		}
	}

	s.mu.Lock()
	kept := s.threads[:0]
	for _, t := range s.threads {
		if !member[t.ID] {
			kept = append(kept, t)
		}
	}
	s.threads = kept
	sortThreads(s.threads)
	s.mirrorLocked()
	s.signalLocked()
	s.mu.Unlock()

	if len(confirmed) == 0 {
		return
	}
	var err error
	switch kind {
	case BulkArchive:
		err = s.st.BulkArchive(ctx, confirmed)
	case BulkDelete:
		err = s.st.BulkDelete(ctx, confirmed)
	}
	if err != nil {
		s.resync(ctx, "bulk "+string(kind), err)
	}
}

// SetTags replaces a thread's tag references optimistically.
func (s *Synchronizer) SetTags(ctx context.Context, id ThreadID, tagIDs []int64) {
	s.mu.Lock()
	i := s.indexOfLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	s.threads[i].TagIDs = append([]int64(nil), tagIDs...)
	s.mirrorLocked()
	s.signalLocked()
	s.mu.Unlock()

	if id.IsTemp() {
		return
	}
	if err := s.st.SetThreadTags(ctx, id.Confirmed, tagIDs); err != nil {
		s.resync(ctx, "set tags", err)
	}
}

// UpdateContact renames a thread's contact optimistically.
func (s *Synchronizer) UpdateContact(ctx context.Context, id ThreadID, name string) {
	s.mu.Lock()
	i := s.indexOfLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	s.threads[i].ContactName = name
	s.mirrorLocked()
	s.signalLocked()
	s.mu.Unlock()

	if id.IsTemp() {
		return
	}
	if _, err := s.st.UpdateThread(ctx, id.Confirmed, store.ThreadPatch{ContactName: &name}); err != nil {
		s.resync(ctx, "update contact", err)
	}
}

// CreateOptimisticThread puts a new thread at the top of the roster
// under a temporary id so the UI can open it immediately, then creates
// it remotely. The INSERT change that comes back reconciles the row by
// phone key. If a thread for the phone is already visible, its id is
// returned instead.
func (s *Synchronizer) CreateOptimisticThread(ctx context.Context, phone, name string) ThreadID {
	s.mu.Lock()
	for _, t := range s.threads {
		if t.Phone == phone {
			id := t.ID
			s.mu.Unlock()
			return id
		}
	}
	id := NewTempID()
	s.threads = append([]ThreadSummary{{
		ID:                id,
		Phone:             phone,
		ContactName:       name,
		LastInteractionAt: time.Now().UnixMilli(),
	}}, s.threads...)
	sortThreads(s.threads)
	s.mirrorLocked()
	s.signalLocked()
	s.mu.Unlock()

	if _, err := s.st.CreateThread(ctx, store.Thread{Phone: phone, ContactName: name}); err != nil {
		s.resync(ctx, "create thread", err)
	}
	return id
}

// resync handles a failed write: log it, then reload the whole view so
// the optimistic state converges back to the store instead of trying to
// undo individual mutations.
func (s *Synchronizer) resync(ctx context.Context, op string, err error) {
	s.logger.Error("write failed, resyncing view", zap.String("op", op), zap.Error(err))
	s.LoadSnapshot(ctx)
}

func (s *Synchronizer) indexOfLocked(id ThreadID) int {
	for i, t := range s.threads {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (s *Synchronizer) indexOfTempPhoneLocked(phone string) int {
	for i, t := range s.threads {
		if t.ID.IsTemp() && t.Phone == phone {
			return i
		}
	}
	return -1
}

func (s *Synchronizer) removeLocked(id ThreadID) bool {
	i := s.indexOfLocked(id)
	if i < 0 {
		return false
	}
	s.threads = append(s.threads[:i], s.threads[i+1:]...)
	return true
}

// mirrorLocked writes the current list into the TTL cache so the next
// mount of this view starts from it.
func (s *Synchronizer) mirrorLocked() {
	s.cache.Set(s.view.CacheKey(), append([]ThreadSummary(nil), s.threads...), s.opts.ThreadsTTL)
}

func (s *Synchronizer) signal() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

func (s *Synchronizer) signalLocked() {
	// The channel send never blocks, so holding the mutex is fine.
	s.signal()
}
