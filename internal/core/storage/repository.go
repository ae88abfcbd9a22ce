package storage

import (
	"context"
	"errors"
	"time"

	v1 "github.com/briefcast-io/calsync/internal/api/v1"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when an operation targets a missing connection.
	ErrNotFound = errors.New("connection not found")

	// ErrDuplicate is returned by InsertConnection when a connection with the
	// same (user_id, email) identity already exists.
	ErrDuplicate = errors.New("connection already exists")

	// ErrSyncInProgress is returned by AcquireSyncLease when another sync
	// already holds the lease for the connection.
	ErrSyncInProgress = errors.New("sync already in progress")
)

// ConnectionStore persists calendar connections and owns the sync lease.
type ConnectionStore interface {
	// InsertConnection creates a new connection row. Returns ErrDuplicate if a
	// row with the same (user_id, email) identity already exists; the decision
	// is made by the database constraint, not by a prior read.
	InsertConnection(ctx context.Context, conn *v1.CalendarConnection) error

	GetConnection(ctx context.Context, id uuid.UUID) (*v1.CalendarConnection, error)
	FindConnectionByUserEmail(ctx context.Context, userID, email string) (*v1.CalendarConnection, error)
	ListConnectionsByUser(ctx context.Context, userID string) ([]*v1.CalendarConnection, error)

	UpdateConnectionTokens(ctx context.Context, id uuid.UUID, accessToken, refreshToken []byte, expiry time.Time) error
	SetConnectionActive(ctx context.Context, id uuid.UUID, active bool) error

	// DeleteConnection removes a connection and cascades to its meetings and
	// progress log. Deleting a missing id is a no-op success.
	DeleteConnection(ctx context.Context, id uuid.UUID) error

	// AcquireSyncLease flips sync_in_progress from false to true in a single
	// conditional write. Exactly one of two concurrent callers wins; the loser
	// gets ErrSyncInProgress. Returns ErrNotFound for a missing connection.
	AcquireSyncLease(ctx context.Context, id uuid.UUID, startedAt time.Time) error

	// ReleaseSyncLease clears the lease. last_sync_at is advanced only when
	// completed is true, so a failed sync stays visibly stale.
	ReleaseSyncLease(ctx context.Context, id uuid.UUID, completed bool, finishedAt time.Time) error

	// ReclaimStaleLeases clears leases whose sync started before the cutoff
	// and returns the affected connection ids. Companion job for syncs that
	// crashed while holding the lease.
	ReclaimStaleLeases(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
}

// MeetingStore persists materialized analyst-relevant meetings.
type MeetingStore interface {
	// UpsertMeeting inserts or updates a meeting keyed by
	// (connection_id, provider_event_id). Re-syncs never duplicate rows.
	UpsertMeeting(ctx context.Context, m *v1.CalendarMeeting) error

	ListMeetingsByConnection(ctx context.Context, connectionID uuid.UUID, limit int) ([]*v1.CalendarMeeting, error)
}

// ProgressStore is the append-only sync progress log.
type ProgressStore interface {
	// AppendProgress inserts an event and populates its ID. IDs are strictly
	// increasing per connection.
	AppendProgress(ctx context.Context, ev *v1.SyncProgressEvent) error

	// ListProgressSince returns events with id > sinceID for the connection,
	// ordered by id ascending, at most limit rows.
	ListProgressSince(ctx context.Context, connectionID uuid.UUID, sinceID int64, limit int) ([]*v1.SyncProgressEvent, error)
}

// Store bundles the three stores backing the sync engine.
type Store interface {
	ConnectionStore
	MeetingStore
	ProgressStore
}
