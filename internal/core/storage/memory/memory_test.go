package memory

import (
	"context"
	"testing"
	"time"

	v1 "github.com/briefcast-io/calsync/internal/api/v1"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func insertMeeting(t *testing.T, store *Store, connectionID uuid.UUID, eventID string, start time.Time) {
	t.Helper()
	require.NoError(t, store.UpsertMeeting(context.Background(), &v1.CalendarMeeting{
		ID:              uuid.New(),
		ConnectionID:    connectionID,
		ProviderEventID: eventID,
		Summary:         "Briefing " + eventID,
		StartTime:       start,
		EndTime:         start.Add(time.Hour),
		IsRelevant:      true,
	}))
}

func TestListMeetingsByConnection_OrdersByStartTime(t *testing.T) {
	store := NewStore()
	connID := uuid.New()
	otherID := uuid.New()

	base := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	insertMeeting(t, store, connID, "evt-middle", base.Add(24*time.Hour))
	insertMeeting(t, store, connID, "evt-latest", base.Add(48*time.Hour))
	insertMeeting(t, store, connID, "evt-earliest", base)
	insertMeeting(t, store, otherID, "evt-other", base.Add(-time.Hour))

	meetings, err := store.ListMeetingsByConnection(context.Background(), connID, 0)
	require.NoError(t, err)
	require.Len(t, meetings, 3)
	require.Equal(t, "evt-earliest", meetings[0].ProviderEventID)
	require.Equal(t, "evt-middle", meetings[1].ProviderEventID)
	require.Equal(t, "evt-latest", meetings[2].ProviderEventID)
}

func TestListMeetingsByConnection_LimitKeepsEarliest(t *testing.T) {
	store := NewStore()
	connID := uuid.New()

	base := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	insertMeeting(t, store, connID, "evt-latest", base.Add(48*time.Hour))
	insertMeeting(t, store, connID, "evt-earliest", base)
	insertMeeting(t, store, connID, "evt-middle", base.Add(24*time.Hour))

	// The limit applies after the start_time sort, same as LIMIT in SQL.
	meetings, err := store.ListMeetingsByConnection(context.Background(), connID, 2)
	require.NoError(t, err)
	require.Len(t, meetings, 2)
	require.Equal(t, "evt-earliest", meetings[0].ProviderEventID)
	require.Equal(t, "evt-middle", meetings[1].ProviderEventID)
}
