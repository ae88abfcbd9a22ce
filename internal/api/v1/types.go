package v1

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CalendarConnection is a stored link between a local user and one external
// calendar account. Token fields hold ciphertext produced by the vault and are
// never serialized to JSON.
type CalendarConnection struct {
	ID       uuid.UUID `json:"id"`
	UserID   string    `json:"user_id"`
	Provider string    `json:"provider"`

	// Email is the provider account identity. Together with UserID it forms
	// the canonical dedup key: at most one connection per (user_id, email).
	Email        string `json:"email"`
	CalendarID   string `json:"calendar_id,omitempty"`
	CalendarName string `json:"calendar_name,omitempty"`
	Title        string `json:"title"`

	AccessToken  []byte    `json:"-"`
	RefreshToken []byte    `json:"-"`
	TokenExpiry  time.Time `json:"token_expiry,omitzero"`

	// IsActive is the user-facing enable/disable flag. It is also cleared by
	// the token manager when the provider rejects the refresh token.
	IsActive bool `json:"is_active"`

	// SyncInProgress is the mutual-exclusion lease: true means exactly one
	// sync run is the writer of this connection's meetings.
	SyncInProgress bool       `json:"sync_in_progress"`
	SyncStartedAt  *time.Time `json:"sync_started_at,omitempty"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate ensures the connection carries its identity fields.
func (c *CalendarConnection) Validate() error {
	if c.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if c.Email == "" {
		return fmt.Errorf("email is required")
	}
	if c.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	return nil
}

// CalendarMeeting is one materialized, analyst-relevant calendar event owned
// by a connection. Unique on (ConnectionID, ProviderEventID); re-syncs update
// in place.
type CalendarMeeting struct {
	ID              uuid.UUID `json:"id"`
	ConnectionID    uuid.UUID `json:"connection_id"`
	ProviderEventID string    `json:"provider_event_id"`
	Summary         string    `json:"summary,omitempty"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	Attendees       []string  `json:"attendees,omitempty"`
	IsRelevant      bool      `json:"is_relevant"`

	// MatchedEmails are the attendee addresses that triggered the relevance
	// classification. Kept so downstream analyst matching can skip re-scanning
	// the full attendee list.
	MatchedEmails []string `json:"matched_emails,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProgressEventType enumerates the steps a sync run reports.
type ProgressEventType string

const (
	ProgressMonthStarted   ProgressEventType = "MONTH_STARTED"
	ProgressMonthCompleted ProgressEventType = "MONTH_COMPLETED"
	ProgressError          ProgressEventType = "ERROR"
	ProgressDone           ProgressEventType = "DONE"
)

// SyncProgressEvent is one immutable row of a connection's progress log.
//
// ID is assigned by the database (BIGSERIAL) and is strictly increasing per
// connection, so it doubles as the polling cursor: a reader that resumes with
// since_id = last seen ID receives exactly the rows it has not seen, in order.
//
// A DONE event is always terminal. An ERROR event with an empty Month label is
// terminal (the run aborted); an ERROR carrying a month label reports a single
// failed window and the run continued.
type SyncProgressEvent struct {
	ID           int64             `json:"id"`
	ConnectionID uuid.UUID         `json:"connection_id"`
	Type         ProgressEventType `json:"type"`
	Month        string            `json:"month,omitempty"`
	Message      string            `json:"message,omitempty"`

	TotalEventsProcessed  int  `json:"total_events_processed"`
	RelevantMeetingsCount int  `json:"relevant_meetings_count"`
	FoundAnalystMeetings  bool `json:"found_analyst_meetings"`

	CreatedAt time.Time `json:"created_at"`
}

// Terminal reports whether a polling client should stop after this event.
func (e *SyncProgressEvent) Terminal() bool {
	if e.Type == ProgressDone {
		return true
	}
	return e.Type == ProgressError && e.Month == ""
}
