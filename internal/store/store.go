// Package store defines the aggregation engine and the persistence
// contracts it drives. Backends live in subpackages (memory, postgres).
package store

import (
	"context"
	"time"
)

// EventTypeRow is one append-only event type dictionary entry.
type EventTypeRow struct {
	ID   int64
	Name string
}

// TagRow is one shared (name, value) dictionary entry.
type TagRow struct {
	ID    int64
	Name  string
	Value string
}

// GroupRow is the persisted aggregate for one (type, hash) equivalence class.
type GroupRow struct {
	ID        int64
	TypeID    int64
	Hash      string
	Message   string
	Count     int64
	State     *int64
	FirstSeen time.Time
	LastSeen  time.Time
	Score     int64
}

// EventRow is one persisted event occurrence. Data holds the encoded blob.
type EventRow struct {
	EventID   string
	TypeID    int64
	Hash      string
	Datetime  time.Time
	TimeSpent *int64
	Data      string
}

// Aggregator is the mutation surface handlers run against. All calls apply
// to the session's open batch; nothing is durable until Flush.
type Aggregator interface {
	// GetOrCreateEventType resolves the dictionary id for an event type name.
	GetOrCreateEventType(ctx context.Context, name string) (int64, error)
	// GetOrCreateTag resolves the shared id for a (name, value) pair.
	GetOrCreateTag(ctx context.Context, name, value string) (int64, error)
	// GetOrCreateGroup resolves the group for (typeID, hash), creating it
	// with count 0, score 0, and first_seen = last_seen = seen on miss.
	GetOrCreateGroup(ctx context.Context, typeID int64, hash, message string, seen time.Time) (GroupRow, bool, error)
	// BumpGroup applies one sighting: count+1, last_seen = seen, score
	// recomputed from the new count.
	BumpGroup(ctx context.Context, groupID int64, seen time.Time) error
	// InsertEvent inserts the event row, reporting false when the event id
	// already exists.
	InsertEvent(ctx context.Context, row EventRow) (bool, error)
	// LinkGroupEvent records the group_events association.
	LinkGroupEvent(ctx context.Context, groupID int64, eventID string) error
	// LinkEventTag records the event_tags association.
	LinkEventTag(ctx context.Context, eventID string, tagID int64) error
}

// Session is a store backend owned by exactly one ingest loop. Mutations
// between flushes form a single batch.
type Session interface {
	// Apply runs fn as one atomic unit within the open batch: an error
	// undoes only fn's mutations, leaving the rest of the batch intact.
	Apply(ctx context.Context, fn func(Aggregator) error) error
	// Flush commits the open batch.
	Flush(ctx context.Context) error
	// Rollback discards the open batch.
	Rollback(ctx context.Context) error
	// Close releases the backend; any open batch is discarded.
	Close(ctx context.Context) error
}
