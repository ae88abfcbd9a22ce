package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	v1 "github.com/briefcast-io/calsync/internal/api/v1"
	"github.com/briefcast-io/calsync/internal/core/storage"
	"github.com/briefcast-io/calsync/internal/provider"
	"github.com/briefcast-io/calsync/internal/vault"
)

// ErrReauthorizationRequired means the stored credential is unusable (revoked
// grant or undecryptable blob). The connection has been deactivated; only the
// user reconnecting through OAuth can recover it.
var ErrReauthorizationRequired = errors.New("connection requires reauthorization")

// expirySkew is the safety margin before the recorded expiry at which a token
// is treated as already expired.
const expirySkew = 60 * time.Second

const (
	defaultMaxAttempts = 3
	defaultRetryBase   = 500 * time.Millisecond
)

// Manager owns the OAuth token lifecycle for connections: it hands out valid
// access tokens, refreshing and re-encrypting them as needed.
type Manager struct {
	store    storage.ConnectionStore
	vault    *vault.Vault
	provider provider.CalendarProvider

	// group collapses concurrent refreshes for the same connection into one
	// provider call.
	group singleflight.Group

	maxAttempts int
	retryBase   time.Duration
	now         func() time.Time
}

func NewManager(store storage.ConnectionStore, v *vault.Vault, p provider.CalendarProvider) *Manager {
	return &Manager{
		store:       store,
		vault:       v,
		provider:    p,
		maxAttempts: defaultMaxAttempts,
		retryBase:   defaultRetryBase,
		now:         time.Now,
	}
}

// EnsureValidToken returns a decrypted access token for the connection,
// refreshing it against the provider first when expired or absent. On a
// successful refresh the new token pair is re-encrypted and persisted, and
// conn is updated in place.
//
// An invalid_grant-class refusal or an undecryptable stored credential
// deactivates the connection and returns ErrReauthorizationRequired. Network
// failures are retried with bounded backoff before surfacing a transient
// error.
func (m *Manager) EnsureValidToken(ctx context.Context, conn *v1.CalendarConnection) (string, error) {
	if len(conn.AccessToken) > 0 && conn.TokenExpiry.After(m.now().Add(expirySkew)) {
		accessToken, err := m.vault.DecryptString(conn.AccessToken)
		if err != nil {
			return "", m.failCredential(ctx, conn, err)
		}
		return accessToken, nil
	}

	result, err, _ := m.group.Do(conn.ID.String(), func() (interface{}, error) {
		return m.refresh(ctx, conn)
	})
	if err != nil {
		return "", err
	}

	// Every caller copies the persisted ciphertext, so a singleflight loser's
	// snapshot matches the stored row instead of keeping the superseded pair.
	res := result.(*refreshResult)
	conn.AccessToken = res.encAccess
	conn.RefreshToken = res.encRefresh
	conn.TokenExpiry = res.expiry
	return res.accessToken, nil
}

// refreshResult carries the plaintext access token plus the persisted
// ciphertext pair out of the deduplicated refresh.
type refreshResult struct {
	accessToken string
	encAccess   []byte
	encRefresh  []byte
	expiry      time.Time
}

func (m *Manager) refresh(ctx context.Context, conn *v1.CalendarConnection) (*refreshResult, error) {
	if len(conn.RefreshToken) == 0 {
		return nil, m.failCredential(ctx, conn, fmt.Errorf("no refresh token stored"))
	}

	refreshToken, err := m.vault.DecryptString(conn.RefreshToken)
	if err != nil {
		return nil, m.failCredential(ctx, conn, err)
	}

	var tokens *provider.Tokens
	for attempt := 1; ; attempt++ {
		tokens, err = m.provider.RefreshToken(ctx, refreshToken)
		if err == nil {
			break
		}
		if errors.Is(err, provider.ErrInvalidGrant) {
			return nil, m.failCredential(ctx, conn, err)
		}
		if !errors.Is(err, provider.ErrTransient) || attempt >= m.maxAttempts {
			return nil, fmt.Errorf("token refresh failed after %d attempt(s): %w", attempt, err)
		}

		delay := m.retryBase << (attempt - 1)
		slog.Warn("[Token] Transient refresh failure, backing off",
			"connection_id", conn.ID,
			"attempt", attempt,
			"delay", delay,
			"error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("token refresh cancelled: %w", ctx.Err())
		}
	}

	// Providers may omit the refresh token when the old one stays valid.
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refreshToken
	}

	if err := m.StoreTokens(ctx, conn, tokens); err != nil {
		return nil, err
	}

	slog.Info("[Token] Refreshed access token",
		"connection_id", conn.ID,
		"expiry", tokens.Expiry)
	return &refreshResult{
		accessToken: tokens.AccessToken,
		encAccess:   conn.AccessToken,
		encRefresh:  conn.RefreshToken,
		expiry:      tokens.Expiry,
	}, nil
}

// StoreTokens encrypts a token pair and persists it on the connection.
// Used both after a refresh and for the initial OAuth code exchange.
func (m *Manager) StoreTokens(ctx context.Context, conn *v1.CalendarConnection, tokens *provider.Tokens) error {
	encAccess, err := m.vault.EncryptString(tokens.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	encRefresh, err := m.vault.EncryptString(tokens.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	if err := m.store.UpdateConnectionTokens(ctx, conn.ID, encAccess, encRefresh, tokens.Expiry); err != nil {
		return fmt.Errorf("failed to persist tokens: %w", err)
	}

	conn.AccessToken = encAccess
	conn.RefreshToken = encRefresh
	conn.TokenExpiry = tokens.Expiry
	return nil
}

// failCredential deactivates the connection and reports that the user must
// reconnect. A decryption failure is treated the same as a revoked grant: the
// stored credential is unusable either way.
func (m *Manager) failCredential(ctx context.Context, conn *v1.CalendarConnection, cause error) error {
	slog.Warn("[Token] Credential unusable, deactivating connection",
		"connection_id", conn.ID,
		"error", cause)

	if err := m.store.SetConnectionActive(ctx, conn.ID, false); err != nil {
		slog.Error("[Token] Failed to deactivate connection",
			"connection_id", conn.ID,
			"error", err)
	} else {
		conn.IsActive = false
	}

	return fmt.Errorf("%w: %v", ErrReauthorizationRequired, cause)
}
