package postgres

// SQL queries for connection, meeting and progress storage.

const (
	connectionColumns = `
		id, user_id, provider, email, calendar_id, calendar_name, title,
		access_token, refresh_token, token_expiry,
		is_active, sync_in_progress, sync_started_at, last_sync_at,
		created_at, updated_at`

	// queryInsertConnection creates a connection row. The UNIQUE constraint on
	// (user_id, email) is the canonical dedup key; ON CONFLICT DO NOTHING
	// returns no rows (sql.ErrNoRows) when the identity already exists.
	queryInsertConnection = `
		INSERT INTO calendar_connections (
			id, user_id, provider, email, calendar_id, calendar_name, title,
			is_active, sync_in_progress, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, FALSE, $8, $8)
		ON CONFLICT (user_id, email) DO NOTHING
		RETURNING id
	`

	queryGetConnection = `
		SELECT ` + connectionColumns + `
		FROM calendar_connections
		WHERE id = $1
	`

	queryFindConnectionByUserEmail = `
		SELECT ` + connectionColumns + `
		FROM calendar_connections
		WHERE user_id = $1 AND email = $2
	`

	queryListConnectionsByUser = `
		SELECT ` + connectionColumns + `
		FROM calendar_connections
		WHERE user_id = $1
		ORDER BY created_at ASC
	`

	queryUpdateConnectionTokens = `
		UPDATE calendar_connections
		SET access_token = $2, refresh_token = $3, token_expiry = $4, updated_at = now()
		WHERE id = $1
	`

	querySetConnectionActive = `
		UPDATE calendar_connections
		SET is_active = $2, updated_at = now()
		WHERE id = $1
	`

	// Cascades to calendar_meetings and sync_progress_events via foreign keys.
	queryDeleteConnection = `
		DELETE FROM calendar_connections
		WHERE id = $1
	`

	// queryAcquireSyncLease is the atomic compare-and-set for the sync lease.
	// The WHERE clause is the whole concurrency story: two concurrent callers
	// cannot both match sync_in_progress = FALSE.
	queryAcquireSyncLease = `
		UPDATE calendar_connections
		SET sync_in_progress = TRUE, sync_started_at = $2, updated_at = now()
		WHERE id = $1 AND sync_in_progress = FALSE
	`

	queryConnectionExists = `
		SELECT EXISTS (SELECT 1 FROM calendar_connections WHERE id = $1)
	`

	// last_sync_at advances only on a completed sync; a failed run stays
	// visibly stale and eligible for prompt retry.
	queryReleaseSyncLeaseCompleted = `
		UPDATE calendar_connections
		SET sync_in_progress = FALSE, sync_started_at = NULL, last_sync_at = $2, updated_at = now()
		WHERE id = $1
	`

	queryReleaseSyncLeaseFailed = `
		UPDATE calendar_connections
		SET sync_in_progress = FALSE, sync_started_at = NULL, updated_at = now()
		WHERE id = $1
	`

	queryReclaimStaleLeases = `
		UPDATE calendar_connections
		SET sync_in_progress = FALSE, sync_started_at = NULL, updated_at = now()
		WHERE sync_in_progress = TRUE AND sync_started_at < $1
		RETURNING id
	`

	// queryUpsertMeeting persists a meeting keyed by the provider's event id.
	// Re-syncing the same window updates rows in place, never duplicates.
	queryUpsertMeeting = `
		INSERT INTO calendar_meetings (
			id, connection_id, provider_event_id, summary,
			start_time, end_time, attendees, is_relevant, matched_emails,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (connection_id, provider_event_id) DO UPDATE
		SET summary = EXCLUDED.summary,
		    start_time = EXCLUDED.start_time,
		    end_time = EXCLUDED.end_time,
		    attendees = EXCLUDED.attendees,
		    is_relevant = EXCLUDED.is_relevant,
		    matched_emails = EXCLUDED.matched_emails,
		    updated_at = EXCLUDED.updated_at
	`

	queryListMeetingsByConnection = `
		SELECT
			id, connection_id, provider_event_id, summary,
			start_time, end_time, attendees, is_relevant, matched_emails,
			created_at, updated_at
		FROM calendar_meetings
		WHERE connection_id = $1
		ORDER BY start_time ASC
		LIMIT $2
	`

	// queryAppendProgress appends one immutable progress row. The BIGSERIAL id
	// is the polling cursor; RETURNING feeds it back to the caller.
	queryAppendProgress = `
		INSERT INTO sync_progress_events (
			connection_id, type, month, message,
			total_events_processed, relevant_meetings_count, found_analyst_meetings,
			created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	queryListProgressSince = `
		SELECT
			id, connection_id, type, month, message,
			total_events_processed, relevant_meetings_count, found_analyst_meetings,
			created_at
		FROM sync_progress_events
		WHERE connection_id = $1 AND id > $2
		ORDER BY id ASC
		LIMIT $3
	`
)
