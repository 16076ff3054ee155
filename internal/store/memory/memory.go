// Package memory is the in-process store backend. It mirrors the batch and
// savepoint semantics of the postgres backend with copy-on-apply state, and
// backs the recorder tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/groundfault/groundfault/errs"
	"github.com/groundfault/groundfault/internal/store"
)

type tagKey struct {
	name  string
	value string
}

type groupKey struct {
	typeID int64
	hash   string
}

// state is one complete snapshot of the store. Clones are shallow for row
// values (rows are copied on mutation) and deep for the maps themselves.
type state struct {
	eventTypes map[string]store.EventTypeRow
	tags       map[tagKey]store.TagRow
	groups     map[groupKey]*store.GroupRow
	groupsByID map[int64]*store.GroupRow
	events     map[string]store.EventRow
	// group id -> event ids, insertion ordered
	groupEvents map[int64][]string
	// event id -> tag ids, insertion ordered
	eventTags map[string][]int64

	nextTypeID  int64
	nextTagID   int64
	nextGroupID int64
}

func newState() *state {
	return &state{
		eventTypes:  make(map[string]store.EventTypeRow),
		tags:        make(map[tagKey]store.TagRow),
		groups:      make(map[groupKey]*store.GroupRow),
		groupsByID:  make(map[int64]*store.GroupRow),
		events:      make(map[string]store.EventRow),
		groupEvents: make(map[int64][]string),
		eventTags:   make(map[string][]int64),
		nextTypeID:  1,
		nextTagID:   1,
		nextGroupID: 1,
	}
}

func (s *state) clone() *state {
	c := &state{
		eventTypes:  make(map[string]store.EventTypeRow, len(s.eventTypes)),
		tags:        make(map[tagKey]store.TagRow, len(s.tags)),
		groups:      make(map[groupKey]*store.GroupRow, len(s.groups)),
		groupsByID:  make(map[int64]*store.GroupRow, len(s.groupsByID)),
		events:      make(map[string]store.EventRow, len(s.events)),
		groupEvents: make(map[int64][]string, len(s.groupEvents)),
		eventTags:   make(map[string][]int64, len(s.eventTags)),
		nextTypeID:  s.nextTypeID,
		nextTagID:   s.nextTagID,
		nextGroupID: s.nextGroupID,
	}
	for k, v := range s.eventTypes {
		c.eventTypes[k] = v
	}
	for k, v := range s.tags {
		c.tags[k] = v
	}
	for k, v := range s.groups {
		row := *v
		c.groups[k] = &row
		c.groupsByID[row.ID] = c.groups[k]
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	for k, v := range s.groupEvents {
		c.groupEvents[k] = append([]string(nil), v...)
	}
	for k, v := range s.eventTags {
		c.eventTags[k] = append([]int64(nil), v...)
	}
	return c
}

// Session is an in-memory store.Session. The committed state is only
// replaced on Flush; Apply stages mutations on a scratch clone so a failed
// handler leaves the open batch untouched.
type Session struct {
	mu        sync.Mutex
	committed *state
	pending   *state
	closed    bool
}

// NewSession returns an empty in-memory session.
func NewSession() *Session {
	return &Session{
		committed: newState(),
		pending:   newState(),
	}
}

// Apply runs fn against a clone of the open batch and adopts the clone only
// when fn succeeds.
func (s *Session) Apply(ctx context.Context, fn func(store.Aggregator) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errs.New("store", errs.CodeStore, errs.WithMessage("session closed"))
	}
	scratch := s.pending.clone()
	if err := fn(&aggregator{st: scratch}); err != nil {
		return err
	}
	s.pending = scratch
	return nil
}

// Flush promotes the open batch to committed state.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errs.New("store", errs.CodeStore, errs.WithMessage("session closed"))
	}
	s.committed = s.pending.clone()
	return nil
}

// Rollback discards the open batch, restoring the last committed state.
func (s *Session) Rollback(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errs.New("store", errs.CodeStore, errs.WithMessage("session closed"))
	}
	s.pending = s.committed.clone()
	return nil
}

// Close discards any open batch and rejects further use.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.pending = s.committed.clone()
	return nil
}

// RecentGroups returns committed groups ordered by last_seen descending,
// ties broken by id. Test and inspection helper.
func (s *Session) RecentGroups() []store.GroupRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.GroupRow, 0, len(s.committed.groups))
	for _, g := range s.committed.groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Event returns the committed event row for an event id.
func (s *Session) Event(eventID string) (store.EventRow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.committed.events[eventID]
	return row, ok
}

// EventCount reports the number of committed events.
func (s *Session) EventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.committed.events)
}

// GroupEvents returns the committed event ids linked to a group.
func (s *Session) GroupEvents(groupID int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.committed.groupEvents[groupID]...)
}

// EventTags returns the committed tag pairs linked to an event.
func (s *Session) EventTags(eventID string) []store.TagRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.committed.eventTags[eventID]
	byID := make(map[int64]store.TagRow, len(s.committed.tags))
	for _, t := range s.committed.tags {
		byID[t.ID] = t
	}
	out := make([]store.TagRow, 0, len(ids))
	for _, id := range ids {
		if t, ok := byID[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

// aggregator mutates one scratch state. Never used concurrently; the session
// lock is held for the whole Apply.
type aggregator struct {
	st *state
}

func (a *aggregator) GetOrCreateEventType(ctx context.Context, name string) (int64, error) {
	if row, ok := a.st.eventTypes[name]; ok {
		return row.ID, nil
	}
	row := store.EventTypeRow{ID: a.st.nextTypeID, Name: name}
	a.st.nextTypeID++
	a.st.eventTypes[name] = row
	return row.ID, nil
}

func (a *aggregator) GetOrCreateTag(ctx context.Context, name, value string) (int64, error) {
	key := tagKey{name: name, value: value}
	if row, ok := a.st.tags[key]; ok {
		return row.ID, nil
	}
	row := store.TagRow{ID: a.st.nextTagID, Name: name, Value: value}
	a.st.nextTagID++
	a.st.tags[key] = row
	return row.ID, nil
}

func (a *aggregator) GetOrCreateGroup(ctx context.Context, typeID int64, hash, message string, seen time.Time) (store.GroupRow, bool, error) {
	key := groupKey{typeID: typeID, hash: hash}
	if row, ok := a.st.groups[key]; ok {
		return *row, false, nil
	}
	row := &store.GroupRow{
		ID:        a.st.nextGroupID,
		TypeID:    typeID,
		Hash:      hash,
		Message:   message,
		Count:     0,
		FirstSeen: seen,
		LastSeen:  seen,
		Score:     0,
	}
	a.st.nextGroupID++
	a.st.groups[key] = row
	a.st.groupsByID[row.ID] = row
	return *row, true, nil
}

func (a *aggregator) BumpGroup(ctx context.Context, groupID int64, seen time.Time) error {
	row, ok := a.st.groupsByID[groupID]
	if !ok {
		return errs.New("store", errs.CodeStore, errs.WithMessage("bump of unknown group"))
	}
	row.Count++
	row.LastSeen = seen
	row.Score = store.Score(row.Count, seen)
	return nil
}

func (a *aggregator) InsertEvent(ctx context.Context, row store.EventRow) (bool, error) {
	if _, ok := a.st.events[row.EventID]; ok {
		return false, nil
	}
	a.st.events[row.EventID] = row
	return true, nil
}

func (a *aggregator) LinkGroupEvent(ctx context.Context, groupID int64, eventID string) error {
	a.st.groupEvents[groupID] = append(a.st.groupEvents[groupID], eventID)
	return nil
}

func (a *aggregator) LinkEventTag(ctx context.Context, eventID string, tagID int64) error {
	a.st.eventTags[eventID] = append(a.st.eventTags[eventID], tagID)
	return nil
}
