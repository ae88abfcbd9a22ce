package postgres

import (
	"context"
	"fmt"
	"log/slog"

	v1 "github.com/briefcast-io/calsync/internal/api/v1"
	"github.com/google/uuid"
)

// AppendProgress inserts one immutable progress row and populates ev.ID from
// the BIGSERIAL sequence. Rows are never updated after insert; the id doubles
// as the polling cursor.
func (a *Adapter) AppendProgress(ctx context.Context, ev *v1.SyncProgressEvent) error {
	var id int64
	err := a.stmtAppendProgress.QueryRowContext(ctx,
		ev.ConnectionID,
		ev.Type,
		nullString(ev.Month),
		nullString(ev.Message),
		ev.TotalEventsProcessed,
		ev.RelevantMeetingsCount,
		ev.FoundAnalystMeetings,
		ev.CreatedAt,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to append progress event: %w", err)
	}

	ev.ID = id

	slog.Debug("[Postgres] Appended progress event",
		"connection_id", ev.ConnectionID,
		"type", ev.Type,
		"id", id)
	return nil
}

func (a *Adapter) ListProgressSince(ctx context.Context, connectionID uuid.UUID, sinceID int64, limit int) ([]*v1.SyncProgressEvent, error) {
	rows, err := a.stmtListProgress.QueryContext(ctx, connectionID, sinceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query progress events: %w", err)
	}
	defer rows.Close()

	var events []*v1.SyncProgressEvent
	for rows.Next() {
		ev, err := scanProgressRow(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating progress events: %w", err)
	}
	return events, nil
}
