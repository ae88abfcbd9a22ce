package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	v1 "github.com/briefcast-io/calsync/internal/api/v1"
	"github.com/briefcast-io/calsync/internal/core/storage"
	"github.com/google/uuid"
)

type meetingKey struct {
	connectionID    uuid.UUID
	providerEventID string
}

// Store is an in-memory implementation of storage.Store.
// Useful for testing and development; it preserves the same lease and
// ordering semantics as the postgres adapter.
type Store struct {
	mu          sync.Mutex
	connections map[uuid.UUID]*v1.CalendarConnection
	meetings    map[meetingKey]*v1.CalendarMeeting
	progress    map[uuid.UUID][]*v1.SyncProgressEvent
	nextEventID int64
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		connections: make(map[uuid.UUID]*v1.CalendarConnection),
		meetings:    make(map[meetingKey]*v1.CalendarMeeting),
		progress:    make(map[uuid.UUID][]*v1.SyncProgressEvent),
	}
}

func (s *Store) InsertConnection(ctx context.Context, conn *v1.CalendarConnection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.connections {
		if existing.UserID == conn.UserID && existing.Email == conn.Email {
			return storage.ErrDuplicate
		}
	}

	conn.IsActive = true
	conn.SyncInProgress = false
	conn.UpdatedAt = conn.CreatedAt

	stored := *conn
	s.connections[conn.ID] = &stored
	return nil
}

func (s *Store) GetConnection(ctx context.Context, id uuid.UUID) (*v1.CalendarConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(id)
}

func (s *Store) getLocked(id uuid.UUID) (*v1.CalendarConnection, error) {
	conn, ok := s.connections[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *conn
	return &copy, nil
}

func (s *Store) FindConnectionByUserEmail(ctx context.Context, userID, email string) (*v1.CalendarConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, conn := range s.connections {
		if conn.UserID == userID && conn.Email == email {
			copy := *conn
			return &copy, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) ListConnectionsByUser(ctx context.Context, userID string) ([]*v1.CalendarConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*v1.CalendarConnection
	for _, conn := range s.connections {
		if conn.UserID != userID {
			continue
		}
		copy := *conn
		result = append(result, &copy)
	}
	return result, nil
}

func (s *Store) UpdateConnectionTokens(ctx context.Context, id uuid.UUID, accessToken, refreshToken []byte, expiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.connections[id]
	if !ok {
		return storage.ErrNotFound
	}
	conn.AccessToken = append([]byte(nil), accessToken...)
	conn.RefreshToken = append([]byte(nil), refreshToken...)
	conn.TokenExpiry = expiry
	conn.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) SetConnectionActive(ctx context.Context, id uuid.UUID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.connections[id]
	if !ok {
		return storage.ErrNotFound
	}
	conn.IsActive = active
	conn.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) DeleteConnection(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Idempotent: deleting a missing id is a no-op success.
	delete(s.connections, id)
	for key := range s.meetings {
		if key.connectionID == id {
			delete(s.meetings, key)
		}
	}
	delete(s.progress, id)
	return nil
}

func (s *Store) AcquireSyncLease(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.connections[id]
	if !ok {
		return storage.ErrNotFound
	}
	if conn.SyncInProgress {
		return storage.ErrSyncInProgress
	}
	conn.SyncInProgress = true
	t := startedAt
	conn.SyncStartedAt = &t
	conn.UpdatedAt = startedAt
	return nil
}

func (s *Store) ReleaseSyncLease(ctx context.Context, id uuid.UUID, completed bool, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.connections[id]
	if !ok {
		return storage.ErrNotFound
	}
	conn.SyncInProgress = false
	conn.SyncStartedAt = nil
	if completed {
		t := finishedAt
		conn.LastSyncAt = &t
	}
	conn.UpdatedAt = finishedAt
	return nil
}

func (s *Store) ReclaimStaleLeases(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []uuid.UUID
	for id, conn := range s.connections {
		if conn.SyncInProgress && conn.SyncStartedAt != nil && conn.SyncStartedAt.Before(cutoff) {
			conn.SyncInProgress = false
			conn.SyncStartedAt = nil
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *Store) UpsertMeeting(ctx context.Context, m *v1.CalendarMeeting) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := meetingKey{connectionID: m.ConnectionID, providerEventID: m.ProviderEventID}
	if existing, ok := s.meetings[key]; ok {
		existing.Summary = m.Summary
		existing.StartTime = m.StartTime
		existing.EndTime = m.EndTime
		existing.Attendees = append([]string(nil), m.Attendees...)
		existing.IsRelevant = m.IsRelevant
		existing.MatchedEmails = append([]string(nil), m.MatchedEmails...)
		existing.UpdatedAt = m.UpdatedAt
		return nil
	}

	stored := *m
	stored.Attendees = append([]string(nil), m.Attendees...)
	stored.MatchedEmails = append([]string(nil), m.MatchedEmails...)
	s.meetings[key] = &stored
	return nil
}

func (s *Store) ListMeetingsByConnection(ctx context.Context, connectionID uuid.UUID, limit int) ([]*v1.CalendarMeeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*v1.CalendarMeeting
	for key, m := range s.meetings {
		if key.connectionID != connectionID {
			continue
		}
		copy := *m
		result = append(result, &copy)
	}

	// Matches the postgres adapter: start_time ascending, limit after the sort.
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartTime.Before(result[j].StartTime)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) AppendProgress(ctx context.Context, ev *v1.SyncProgressEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextEventID++
	ev.ID = s.nextEventID

	stored := *ev
	s.progress[ev.ConnectionID] = append(s.progress[ev.ConnectionID], &stored)
	return nil
}

func (s *Store) ListProgressSince(ctx context.Context, connectionID uuid.UUID, sinceID int64, limit int) ([]*v1.SyncProgressEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*v1.SyncProgressEvent
	for _, ev := range s.progress[connectionID] {
		if ev.ID <= sinceID {
			continue
		}
		if limit > 0 && len(result) >= limit {
			break
		}
		copy := *ev
		result = append(result, &copy)
	}
	return result, nil
}
