package postgres

import (
	"context"
	"fmt"
	"log/slog"

	v1 "github.com/briefcast-io/calsync/internal/api/v1"
	"github.com/google/uuid"
)

// UpsertMeeting persists a meeting keyed by (connection_id, provider_event_id).
// The generated uuid in m.ID only takes effect on insert; conflicting rows are
// updated in place so re-syncs never duplicate.
func (a *Adapter) UpsertMeeting(ctx context.Context, m *v1.CalendarMeeting) error {
	attendeesJSON, matchedJSON, err := marshalMeetingJSON(m)
	if err != nil {
		return err
	}

	_, err = a.stmtUpsertMeeting.ExecContext(ctx,
		m.ID,
		m.ConnectionID,
		m.ProviderEventID,
		nullString(m.Summary),
		m.StartTime,
		m.EndTime,
		attendeesJSON,
		m.IsRelevant,
		matchedJSON,
		m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert meeting: %w", err)
	}

	slog.Debug("[Postgres] Upserted meeting",
		"connection_id", m.ConnectionID,
		"provider_event_id", m.ProviderEventID)
	return nil
}

func (a *Adapter) ListMeetingsByConnection(ctx context.Context, connectionID uuid.UUID, limit int) ([]*v1.CalendarMeeting, error) {
	rows, err := a.db.QueryContext(ctx, queryListMeetingsByConnection, connectionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query meetings: %w", err)
	}
	defer rows.Close()

	var meetings []*v1.CalendarMeeting
	for rows.Next() {
		m, err := scanMeetingRow(rows)
		if err != nil {
			return nil, err
		}
		meetings = append(meetings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating meetings: %w", err)
	}
	return meetings, nil
}
