package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	v1 "github.com/briefcast-io/calsync/internal/api/v1"
)

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanConnectionRow scans a calendar_connections row.
// Compatible with both sql.Row (single) and sql.Rows (multiple).
func scanConnectionRow(row scanner) (*v1.CalendarConnection, error) {
	var conn v1.CalendarConnection
	var calendarID, calendarName sql.NullString
	var tokenExpiry, syncStartedAt, lastSyncAt sql.NullTime

	err := row.Scan(
		&conn.ID,
		&conn.UserID,
		&conn.Provider,
		&conn.Email,
		&calendarID,
		&calendarName,
		&conn.Title,
		&conn.AccessToken,
		&conn.RefreshToken,
		&tokenExpiry,
		&conn.IsActive,
		&conn.SyncInProgress,
		&syncStartedAt,
		&lastSyncAt,
		&conn.CreatedAt,
		&conn.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan connection row: %w", err)
	}

	conn.CalendarID = calendarID.String
	conn.CalendarName = calendarName.String
	if tokenExpiry.Valid {
		conn.TokenExpiry = tokenExpiry.Time
	}
	if syncStartedAt.Valid {
		t := syncStartedAt.Time
		conn.SyncStartedAt = &t
	}
	if lastSyncAt.Valid {
		t := lastSyncAt.Time
		conn.LastSyncAt = &t
	}
	return &conn, nil
}

// scanMeetingRow scans a calendar_meetings row, unmarshalling the JSON
// attendee columns.
func scanMeetingRow(row scanner) (*v1.CalendarMeeting, error) {
	var m v1.CalendarMeeting
	var summary sql.NullString
	var attendeesJSON, matchedJSON []byte

	err := row.Scan(
		&m.ID,
		&m.ConnectionID,
		&m.ProviderEventID,
		&summary,
		&m.StartTime,
		&m.EndTime,
		&attendeesJSON,
		&m.IsRelevant,
		&matchedJSON,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan meeting row: %w", err)
	}

	m.Summary = summary.String
	if len(attendeesJSON) > 0 {
		if err := json.Unmarshal(attendeesJSON, &m.Attendees); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attendees: %w", err)
		}
	}
	if len(matchedJSON) > 0 {
		if err := json.Unmarshal(matchedJSON, &m.MatchedEmails); err != nil {
			return nil, fmt.Errorf("failed to unmarshal matched emails: %w", err)
		}
	}
	return &m, nil
}

// marshalMeetingJSON marshals a meeting's attendee lists for the JSONB
// columns. Nil slices produce nil (SQL NULL) rather than JSON "null".
func marshalMeetingJSON(m *v1.CalendarMeeting) (attendeesJSON, matchedJSON []byte, err error) {
	if len(m.Attendees) > 0 {
		attendeesJSON, err = json.Marshal(m.Attendees)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal attendees: %w", err)
		}
	}
	if len(m.MatchedEmails) > 0 {
		matchedJSON, err = json.Marshal(m.MatchedEmails)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal matched emails: %w", err)
		}
	}
	return attendeesJSON, matchedJSON, nil
}

// scanProgressRow scans a sync_progress_events row.
func scanProgressRow(row scanner) (*v1.SyncProgressEvent, error) {
	var ev v1.SyncProgressEvent
	var month, message sql.NullString

	err := row.Scan(
		&ev.ID,
		&ev.ConnectionID,
		&ev.Type,
		&month,
		&message,
		&ev.TotalEventsProcessed,
		&ev.RelevantMeetingsCount,
		&ev.FoundAnalystMeetings,
		&ev.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan progress row: %w", err)
	}

	ev.Month = month.String
	ev.Message = message.String
	return &ev, nil
}

// nullString maps "" to SQL NULL for optional text columns.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullTime maps the zero time to SQL NULL.
func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
