package provider

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidGrant means the provider rejected the stored refresh token or
	// authorization code. The connection needs user reauthorization; retrying
	// with the same credential cannot succeed.
	ErrInvalidGrant = errors.New("grant rejected by provider")

	// ErrTransient marks timeouts, 5xx responses and rate limiting. Safe to
	// retry with backoff.
	ErrTransient = errors.New("transient provider error")
)

// Tokens is one access/refresh token pair as returned by a provider's token
// endpoint. RefreshToken may be empty on refresh responses that keep the
// existing refresh token valid.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Event is one calendar event as returned by the provider, reduced to the
// fields the sync engine classifies and persists.
type Event struct {
	ID        string
	Summary   string
	Start     time.Time
	End       time.Time
	Attendees []string
}

// Window is a bounded time range processed as one sync unit: [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Label returns the month label used in progress events, e.g. "2026-03".
func (w Window) Label() string {
	return w.Start.UTC().Format("2006-01")
}

// CalendarProvider is the capability surface the token manager and sync
// engine are written against. A second provider (e.g. Outlook) plugs in here,
// tagged by the provider field on the connection; the sync state machine
// stays untouched.
type CalendarProvider interface {
	// Name tags connections created through this provider.
	Name() string

	// ExchangeCode redeems an OAuth authorization code for the initial token
	// pair.
	ExchangeCode(ctx context.Context, code string) (*Tokens, error)

	// RefreshToken exchanges a refresh token for a fresh access token.
	// Returns an error wrapping ErrInvalidGrant when the provider revoked the
	// grant, ErrTransient for retryable failures.
	RefreshToken(ctx context.Context, refreshToken string) (*Tokens, error)

	// ListEvents returns the events in the window for the given calendar
	// (empty calendarID means the account's primary calendar).
	ListEvents(ctx context.Context, accessToken, calendarID string, w Window) ([]*Event, error)
}
