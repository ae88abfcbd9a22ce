package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	v1 "github.com/briefcast-io/calsync/internal/api/v1"
	"github.com/briefcast-io/calsync/internal/core/storage"
	"github.com/google/uuid"
)

// InsertConnection creates a connection row. The (user_id, email) UNIQUE
// constraint makes the dedup decision atomically: ON CONFLICT DO NOTHING
// yields no RETURNING row, which maps to storage.ErrDuplicate.
func (a *Adapter) InsertConnection(ctx context.Context, conn *v1.CalendarConnection) error {
	var id uuid.UUID
	err := a.db.QueryRowContext(ctx, queryInsertConnection,
		conn.ID,
		conn.UserID,
		conn.Provider,
		conn.Email,
		nullString(conn.CalendarID),
		nullString(conn.CalendarName),
		conn.Title,
		conn.CreatedAt,
	).Scan(&id)

	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert connection: %w", err)
	}

	conn.IsActive = true
	conn.SyncInProgress = false
	conn.UpdatedAt = conn.CreatedAt

	slog.Debug("[Postgres] Inserted connection",
		"connection_id", conn.ID,
		"user_id", conn.UserID,
		"email", conn.Email)
	return nil
}

func (a *Adapter) GetConnection(ctx context.Context, id uuid.UUID) (*v1.CalendarConnection, error) {
	conn, err := scanConnectionRow(a.db.QueryRowContext(ctx, queryGetConnection, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return conn, nil
}

func (a *Adapter) FindConnectionByUserEmail(ctx context.Context, userID, email string) (*v1.CalendarConnection, error) {
	conn, err := scanConnectionRow(a.db.QueryRowContext(ctx, queryFindConnectionByUserEmail, userID, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return conn, nil
}

func (a *Adapter) ListConnectionsByUser(ctx context.Context, userID string) ([]*v1.CalendarConnection, error) {
	rows, err := a.db.QueryContext(ctx, queryListConnectionsByUser, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections: %w", err)
	}
	defer rows.Close()

	var conns []*v1.CalendarConnection
	for rows.Next() {
		conn, err := scanConnectionRow(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connections: %w", err)
	}
	return conns, nil
}

func (a *Adapter) UpdateConnectionTokens(ctx context.Context, id uuid.UUID, accessToken, refreshToken []byte, expiry time.Time) error {
	res, err := a.db.ExecContext(ctx, queryUpdateConnectionTokens, id, accessToken, refreshToken, nullTime(expiry))
	if err != nil {
		return fmt.Errorf("failed to update connection tokens: %w", err)
	}
	return requireRowAffected(res, storage.ErrNotFound)
}

func (a *Adapter) SetConnectionActive(ctx context.Context, id uuid.UUID, active bool) error {
	res, err := a.db.ExecContext(ctx, querySetConnectionActive, id, active)
	if err != nil {
		return fmt.Errorf("failed to update connection active flag: %w", err)
	}
	return requireRowAffected(res, storage.ErrNotFound)
}

// DeleteConnection removes a connection; meetings and progress rows go with
// it via ON DELETE CASCADE. Zero rows affected is a success so retried
// deletes stay idempotent.
func (a *Adapter) DeleteConnection(ctx context.Context, id uuid.UUID) error {
	if _, err := a.db.ExecContext(ctx, queryDeleteConnection, id); err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	return nil
}

// AcquireSyncLease is the single atomic compare-and-set guarding sync
// exclusivity. When the conditional UPDATE matches no row, a follow-up
// existence check distinguishes "lease held" from "no such connection".
func (a *Adapter) AcquireSyncLease(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	res, err := a.stmtAcquireLease.ExecContext(ctx, id, startedAt)
	if err != nil {
		return fmt.Errorf("failed to acquire sync lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read lease result: %w", err)
	}
	if n > 0 {
		slog.Debug("[Postgres] Sync lease acquired", "connection_id", id)
		return nil
	}

	var exists bool
	if err := a.db.QueryRowContext(ctx, queryConnectionExists, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check connection existence: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return storage.ErrSyncInProgress
}

func (a *Adapter) ReleaseSyncLease(ctx context.Context, id uuid.UUID, completed bool, finishedAt time.Time) error {
	stmt := a.stmtReleaseFailed
	if completed {
		stmt = a.stmtReleaseCompleted
	}

	var (
		res sql.Result
		err error
	)
	if completed {
		res, err = stmt.ExecContext(ctx, id, finishedAt)
	} else {
		res, err = stmt.ExecContext(ctx, id)
	}
	if err != nil {
		return fmt.Errorf("failed to release sync lease: %w", err)
	}
	return requireRowAffected(res, storage.ErrNotFound)
}

func (a *Adapter) ReclaimStaleLeases(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := a.db.QueryContext(ctx, queryReclaimStaleLeases, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to reclaim stale leases: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan reclaimed lease id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reclaimed leases: %w", err)
	}
	return ids, nil
}

func requireRowAffected(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return missing
	}
	return nil
}
