package roster

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/lfcamargo/atendo/internal/bus"
	"github.com/lfcamargo/atendo/internal/cache"
	"github.com/lfcamargo/atendo/internal/store"
	"go.uber.org/zap"
)

// stubStore is an in-memory Store that records writes and can be told
// to fail them.
type stubStore struct {
	mu       sync.Mutex
	threads  []store.Thread
	tags     []store.Tag
	listErr  error
	writeErr error

	markedRead   []int64
	bumped       []int64
	archivedIDs  []int64
	deletedIDs   []int64
	createdPhone []string
}

func (s *stubStore) ListThreads(_ context.Context, f store.ThreadFilter) ([]store.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []store.Thread
	for _, t := range s.threads {
		if t.IsArchived == f.Archived {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *stubStore) ListTags(context.Context) ([]store.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]store.Tag(nil), s.tags...), nil
}

func (s *stubStore) CreateThread(_ context.Context, t store.Thread) (*store.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createdPhone = append(s.createdPhone, t.Phone)
	if s.writeErr != nil {
		return nil, s.writeErr
	}
	t.ID = int64(len(s.threads) + 1)
	s.threads = append(s.threads, t)
	return &t, nil
}

func (s *stubStore) UpdateThread(_ context.Context, id int64, _ store.ThreadPatch) (*store.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return nil, s.writeErr
	}
	return &store.Thread{ID: id}, nil
}

func (s *stubStore) DeleteThread(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletedIDs = append(s.deletedIDs, id)
	return s.writeErr
}

func (s *stubStore) BulkArchive(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archivedIDs = append(s.archivedIDs, ids...)
	return s.writeErr
}

func (s *stubStore) BulkDelete(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletedIDs = append(s.deletedIDs, ids...)
	return s.writeErr
}

func (s *stubStore) SetThreadTags(_ context.Context, _ int64, _ []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeErr
}

func (s *stubStore) MarkThreadRead(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markedRead = append(s.markedRead, id)
	return s.writeErr
}

func (s *stubStore) BumpUnread(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bumped = append(s.bumped, id)
	return s.writeErr
}

func newSync(st Store, view View) *Synchronizer {
	return New(st, bus.New(), cache.New(), zap.NewNop(), view, Options{})
}

func threadInsert(t store.Thread) bus.Event {
	return bus.Event{
		Kind:    bus.ChangeKind(bus.EntityThreads),
		Payload: bus.Change{Entity: bus.EntityThreads, Op: bus.OpInsert, After: &t},
	}
}

func threadUpdate(before, after store.Thread) bus.Event {
	return bus.Event{
		Kind:    bus.ChangeKind(bus.EntityThreads),
		Payload: bus.Change{Entity: bus.EntityThreads, Op: bus.OpUpdate, Before: &before, After: &after},
	}
}

func messageInsert(m store.Message) bus.Event {
	return bus.Event{
		Kind:    bus.ChangeKind(bus.EntityMessages),
		Payload: bus.Change{Entity: bus.EntityMessages, Op: bus.OpInsert, After: &m},
	}
}

func TestLoadSnapshotReplacesAndSorts(t *testing.T) {
	st := &stubStore{threads: []store.Thread{
		{ID: 1, Phone: "551", LastInteractionAt: 10},
		{ID: 2, Phone: "552", IsPinned: true, LastInteractionAt: 5},
	}}
	s := newSync(st, View{})
	s.loading = true

	s.LoadSnapshot(context.Background())

	got := s.Threads()
	if len(got) != 2 || got[0].ID.Confirmed != 2 {
		t.Fatalf("threads = %+v, want pinned 2 first", got)
	}
	if s.IsLoading() {
		t.Error("loading flag not cleared")
	}
}

func TestLoadSnapshotFailureKeepsPriorState(t *testing.T) {
	st := &stubStore{threads: []store.Thread{{ID: 1, Phone: "551"}}}
	s := newSync(st, View{})
	s.LoadSnapshot(context.Background())

	st.mu.Lock()
	st.listErr = errors.New("store down")
	st.mu.Unlock()
	s.loading = true
	s.LoadSnapshot(context.Background())

	if got := s.Threads(); len(got) != 1 {
		t.Errorf("prior state lost on failed snapshot: %+v", got)
	}
	if s.IsLoading() {
		t.Error("loading flag must clear even on failure")
	}
}

func TestInsertReconcilesOptimisticByPhone(t *testing.T) {
	st := &stubStore{}
	s := newSync(st, View{})

	tempID := s.CreateOptimisticThread(context.Background(), "5511999", "Ana")
	if !tempID.IsTemp() {
		t.Fatal("expected a temp id")
	}

	s.handleChange(context.Background(), threadInsert(store.Thread{ID: 42, Phone: "5511999", ContactName: "Ana"}))

	got := s.Threads()
	if len(got) != 1 {
		t.Fatalf("phone duplicated: %+v", got)
	}
	if got[0].ID != ConfirmedID(42) {
		t.Errorf("id = %v, want confirmed 42", got[0].ID)
	}
}

func TestCreateOptimisticReturnsExistingForKnownPhone(t *testing.T) {
	st := &stubStore{threads: []store.Thread{{ID: 7, Phone: "5511999"}}}
	s := newSync(st, View{})
	s.LoadSnapshot(context.Background())

	id := s.CreateOptimisticThread(context.Background(), "5511999", "Ana")
	if id != ConfirmedID(7) {
		t.Errorf("id = %v, want existing confirmed 7", id)
	}
	if got := s.Threads(); len(got) != 1 {
		t.Errorf("phone duplicated: %+v", got)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.createdPhone) != 0 {
		t.Error("no remote create expected for a visible phone")
	}
}

func TestInsertReplayIsIdempotent(t *testing.T) {
	s := newSync(&stubStore{}, View{})
	evt := threadInsert(store.Thread{ID: 1, Phone: "551", UnreadCount: 2})

	s.handleChange(context.Background(), evt)
	s.handleChange(context.Background(), evt)

	if got := s.Threads(); len(got) != 1 {
		t.Fatalf("replayed insert duplicated the row: %+v", got)
	}
}

func TestUpdateMovesThreadAcrossViews(t *testing.T) {
	s := newSync(&stubStore{}, View{Archived: false})
	s.handleChange(context.Background(), threadInsert(store.Thread{ID: 1, Phone: "551"}))

	// Archived no longer matches this view: the row leaves.
	s.handleChange(context.Background(), threadUpdate(
		store.Thread{ID: 1, Phone: "551"},
		store.Thread{ID: 1, Phone: "551", IsArchived: true}))
	if got := s.Threads(); len(got) != 0 {
		t.Fatalf("archived row still visible: %+v", got)
	}

	// Unarchive: an update for an absent row inserts it.
	s.handleChange(context.Background(), threadUpdate(
		store.Thread{ID: 1, Phone: "551", IsArchived: true},
		store.Thread{ID: 1, Phone: "551"}))
	if got := s.Threads(); len(got) != 1 {
		t.Fatalf("unarchived row missing: %+v", got)
	}
}

func TestExternalMessageBumpsUnread(t *testing.T) {
	st := &stubStore{}
	s := newSync(st, View{})
	s.handleChange(context.Background(), threadInsert(store.Thread{ID: 1, Phone: "551"}))

	s.handleChange(context.Background(), messageInsert(store.Message{
		ID: 10, ThreadID: 1, Sender: store.SenderContact, Body: "oi", CreatedAt: 500,
	}))

	got := s.Threads()
	if got[0].UnreadCount != 1 {
		t.Errorf("unread = %d, want 1", got[0].UnreadCount)
	}
	if got[0].LastMessage != "oi" || got[0].LastInteractionAt != 500 {
		t.Errorf("preview not refreshed: %+v", got[0])
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.bumped) != 1 || st.bumped[0] != 1 {
		t.Errorf("bumped = %v, want [1]", st.bumped)
	}
}

func TestOwnMessageNeverCountsUnread(t *testing.T) {
	st := &stubStore{}
	s := newSync(st, View{})
	s.handleChange(context.Background(), threadInsert(store.Thread{ID: 1, Phone: "551"}))

	s.handleChange(context.Background(), messageInsert(store.Message{
		ID: 10, ThreadID: 1, Sender: store.SenderAgent, Body: "segue", CreatedAt: 500,
	}))

	got := s.Threads()
	if got[0].UnreadCount != 0 {
		t.Errorf("unread = %d, want 0 for our own message", got[0].UnreadCount)
	}
	if got[0].LastMessage != "segue" {
		t.Errorf("preview not refreshed: %+v", got[0])
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.bumped) != 0 {
		t.Error("own message must not persist an unread bump")
	}
}

func TestMediaMessagePreviewLabel(t *testing.T) {
	s := newSync(&stubStore{}, View{})
	s.handleChange(context.Background(), threadInsert(store.Thread{ID: 1, Phone: "551"}))

	s.handleChange(context.Background(), messageInsert(store.Message{
		ID: 10, ThreadID: 1, Sender: store.SenderContact, Body: "blob://x", MessageType: "audio",
	}))
	if got := s.Threads(); got[0].LastMessage != "audio" {
		t.Errorf("preview = %q, want audio label", got[0].LastMessage)
	}

	s.handleChange(context.Background(), messageInsert(store.Message{
		ID: 11, ThreadID: 1, Sender: store.SenderContact, Body: "blob://y", MessageType: "image",
	}))
	if got := s.Threads(); got[0].LastMessage != "media" {
		t.Errorf("preview = %q, want media label", got[0].LastMessage)
	}
}

func TestSelectMarksReadOnlyWhenUnread(t *testing.T) {
	st := &stubStore{}
	s := newSync(st, View{})
	s.handleChange(context.Background(), threadInsert(store.Thread{ID: 1, Phone: "551", UnreadCount: 3}))

	s.Select(context.Background(), ConfirmedID(1))
	if got := s.Threads(); got[0].UnreadCount != 0 {
		t.Errorf("unread = %d, want 0", got[0].UnreadCount)
	}

	// Already read: no second write.
	s.Select(context.Background(), ConfirmedID(1))
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.markedRead) != 1 {
		t.Errorf("markedRead = %v, want exactly one write", st.markedRead)
	}
}

func TestBulkArchiveRemovesAllRows(t *testing.T) {
	st := &stubStore{}
	s := newSync(st, View{})
	for i := int64(1); i <= 4; i++ {
		s.handleChange(context.Background(), threadInsert(store.Thread{ID: i, Phone: string(rune('0' + i))}))
	}

	s.BulkAction(context.Background(), BulkArchive,
		[]ThreadID{ConfirmedID(1), ConfirmedID(2), ConfirmedID(3)})

	got := s.Threads()
	if len(got) != 1 || got[0].ID.Confirmed != 4 {
		t.Fatalf("threads = %+v, want only 4 left", got)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.archivedIDs) != 3 {
		t.Errorf("archived ids = %v, want 3", st.archivedIDs)
	}
}

func TestFailedWriteResyncsToSnapshot(t *testing.T) {
	st := &stubStore{threads: []store.Thread{
		{ID: 1, Phone: "551", IsPinned: false},
		{ID: 2, Phone: "552"},
	}}
	s := newSync(st, View{})
	s.LoadSnapshot(context.Background())

	st.mu.Lock()
	st.writeErr = errors.New("store down")
	st.mu.Unlock()

	s.SingleAction(context.Background(), ConfirmedID(1), ActionTogglePin)

	// The optimistic pin rolled back via full resync: state matches a
	// fresh snapshot, not the failed mutation.
	got := s.Threads()
	if len(got) != 2 {
		t.Fatalf("threads = %+v, want both rows back", got)
	}
	for _, th := range got {
		if th.IsPinned {
			t.Error("failed pin survived the resync")
		}
	}
}

func TestTagEventRefetchesList(t *testing.T) {
	st := &stubStore{tags: []store.Tag{{ID: 1, Name: "vip"}}}
	s := newSync(st, View{})

	s.handleChange(context.Background(), bus.Event{
		Kind:    bus.ChangeKind(bus.EntityTags),
		Payload: bus.Change{Entity: bus.EntityTags, Op: bus.OpInsert, After: &store.Tag{ID: 1, Name: "vip"}},
	})

	if got := s.Tags(); len(got) != 1 || got[0].Name != "vip" {
		t.Errorf("tags = %+v, want refetched vip", got)
	}
}

func TestInsertOutsideViewIgnored(t *testing.T) {
	s := newSync(&stubStore{}, View{Archived: false})
	s.handleChange(context.Background(), threadInsert(store.Thread{ID: 1, Phone: "551", IsArchived: true}))
	if got := s.Threads(); len(got) != 0 {
		t.Errorf("archived insert leaked into active view: %+v", got)
	}
}

func TestDeleteEventRemovesRow(t *testing.T) {
	s := newSync(&stubStore{}, View{})
	s.handleChange(context.Background(), threadInsert(store.Thread{ID: 1, Phone: "551"}))
	s.handleChange(context.Background(), bus.Event{
		Kind:    bus.ChangeKind(bus.EntityThreads),
		Payload: bus.Change{Entity: bus.EntityThreads, Op: bus.OpDelete, Before: &store.Thread{ID: 1, Phone: "551"}},
	})
	if got := s.Threads(); len(got) != 0 {
		t.Errorf("deleted row still visible: %+v", got)
	}
	// Replay of the delete is a no-op.
	s.handleChange(context.Background(), bus.Event{
		Kind:    bus.ChangeKind(bus.EntityThreads),
		Payload: bus.Change{Entity: bus.EntityThreads, Op: bus.OpDelete, Before: &store.Thread{ID: 1, Phone: "551"}},
	})
}

func TestCacheSeedSkipsLoadingFlag(t *testing.T) {
	st := &stubStore{threads: []store.Thread{{ID: 1, Phone: "551"}}}
	c := cache.New()
	view := View{}
	c.Set(view.CacheKey(), []ThreadSummary{{ID: ConfirmedID(1), Phone: "551"}}, cache.DefaultThreadsTTL)

	s := New(st, bus.New(), c, zap.NewNop(), view, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	if got := s.Threads(); len(got) != 1 {
		t.Fatalf("cached copy not rendered at mount: %+v", got)
	}
	if s.IsLoading() {
		t.Error("loading flag must stay down when a cached copy exists")
	}
}
