package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	v1 "github.com/briefcast-io/calsync/internal/api/v1"
	"github.com/briefcast-io/calsync/internal/core/storage"
	"github.com/briefcast-io/calsync/internal/provider"
	"github.com/briefcast-io/calsync/internal/token"
	"github.com/google/uuid"
)

// Service is the connection registry: find-or-create on the canonical
// (user_id, email) identity, activation toggling, safe deletion, and the
// OAuth callback flow that feeds it.
type Service struct {
	store    storage.Store
	provider provider.CalendarProvider
	tokens   *token.Manager
	now      func() time.Time
}

func NewService(store storage.Store, p provider.CalendarProvider, tokens *token.Manager) *Service {
	return &Service{
		store:    store,
		provider: p,
		tokens:   tokens,
		now:      time.Now,
	}
}

// FindOrCreate looks up a connection by (userID, email) and creates one when
// absent. An insert losing the race to a concurrent request falls back to the
// winner's row, so two concurrent callbacks for the same identity converge on
// one connection.
func (s *Service) FindOrCreate(ctx context.Context, userID, email, title string) (*v1.CalendarConnection, error) {
	conn, err := s.store.FindConnectionByUserEmail(ctx, userID, email)
	if err == nil {
		return conn, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up connection: %w", err)
	}

	now := s.now().UTC()
	conn = &v1.CalendarConnection{
		ID:        uuid.New(),
		UserID:    userID,
		Provider:  s.provider.Name(),
		Email:     email,
		Title:     title,
		CreatedAt: now,
	}
	if err := conn.Validate(); err != nil {
		return nil, err
	}

	err = s.store.InsertConnection(ctx, conn)
	if errors.Is(err, storage.ErrDuplicate) {
		// Lost the race to a concurrent create for the same identity.
		return s.store.FindConnectionByUserEmail(ctx, userID, email)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}

	slog.Info("[Registry] Created connection",
		"connection_id", conn.ID,
		"user_id", userID,
		"email", email)
	return conn, nil
}

// CompleteOAuthCallback runs the post-consent flow: find-or-create the
// connection, redeem the authorization code, and store the encrypted token
// pair.
func (s *Service) CompleteOAuthCallback(ctx context.Context, userID, email, title, code string) (*v1.CalendarConnection, error) {
	conn, err := s.FindOrCreate(ctx, userID, email, title)
	if err != nil {
		return nil, err
	}

	tokens, err := s.provider.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}

	if err := s.tokens.StoreTokens(ctx, conn, tokens); err != nil {
		return nil, err
	}

	// A reconnect through OAuth reactivates a connection that was parked for
	// reauthorization.
	if !conn.IsActive {
		if err := s.store.SetConnectionActive(ctx, conn.ID, true); err != nil {
			return nil, fmt.Errorf("failed to reactivate connection: %w", err)
		}
		conn.IsActive = true
	}

	slog.Info("[Registry] OAuth callback completed",
		"connection_id", conn.ID,
		"user_id", userID,
		"email", email)
	return conn, nil
}

// List returns all connections for a user. Token ciphertext stays out of the
// JSON encoding at the type level.
func (s *Service) List(ctx context.Context, userID string) ([]*v1.CalendarConnection, error) {
	return s.store.ListConnectionsByUser(ctx, userID)
}

// SetActive toggles whether the connection participates in scheduled syncs.
// Already-synced meetings are unaffected.
func (s *Service) SetActive(ctx context.Context, id uuid.UUID, active bool) (*v1.CalendarConnection, error) {
	if err := s.store.SetConnectionActive(ctx, id, active); err != nil {
		return nil, err
	}
	return s.store.GetConnection(ctx, id)
}

// Delete removes a connection and everything it owns. Idempotent.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.store.DeleteConnection(ctx, id); err != nil {
		return err
	}
	slog.Info("[Registry] Deleted connection", "connection_id", id)
	return nil
}

// Meetings returns the materialized meetings for a connection.
func (s *Service) Meetings(ctx context.Context, id uuid.UUID, limit int) ([]*v1.CalendarMeeting, error) {
	return s.store.ListMeetingsByConnection(ctx, id, limit)
}
