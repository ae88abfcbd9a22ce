package registry

import (
	"context"
	"testing"
	"time"

	"github.com/briefcast-io/calsync/internal/core/storage/memory"
	"github.com/briefcast-io/calsync/internal/provider"
	"github.com/briefcast-io/calsync/internal/provider/providertest"
	"github.com/briefcast-io/calsync/internal/token"
	"github.com/briefcast-io/calsync/internal/vault"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type serviceFixture struct {
	service *Service
	store   *memory.Store
	fake    *providertest.Fake
	vault   *vault.Vault
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	store := memory.NewStore()
	fake := providertest.New()

	credVault, err := vault.New("registry-test-secret")
	require.NoError(t, err)

	tokens := token.NewManager(store, credVault, fake)
	return &serviceFixture{
		service: NewService(store, fake, tokens),
		store:   store,
		fake:    fake,
		vault:   credVault,
	}
}

func TestFindOrCreate_DeduplicatesOnIdentity(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	first, err := f.service.FindOrCreate(ctx, "user-1", "alice@example.com", "Work calendar")
	require.NoError(t, err)
	require.True(t, first.IsActive)
	require.Equal(t, "fake", first.Provider)

	// Same identity converges on the same connection.
	second, err := f.service.FindOrCreate(ctx, "user-1", "alice@example.com", "Another title")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	// A different email for the same user is a new connection.
	other, err := f.service.FindOrCreate(ctx, "user-1", "alice@other.com", "Personal")
	require.NoError(t, err)
	require.NotEqual(t, first.ID, other.ID)

	conns, err := f.service.List(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, conns, 2)
}

func TestFindOrCreate_RejectsMissingIdentity(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.service.FindOrCreate(context.Background(), "", "alice@example.com", "")
	require.Error(t, err)

	_, err = f.service.FindOrCreate(context.Background(), "user-1", "", "")
	require.Error(t, err)
}

func TestCompleteOAuthCallback_StoresEncryptedTokens(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	expiry := time.Now().Add(time.Hour).UTC()
	f.fake.ExchangeTokens = &provider.Tokens{
		AccessToken:  "granted-access",
		RefreshToken: "granted-refresh",
		Expiry:       expiry,
	}

	conn, err := f.service.CompleteOAuthCallback(ctx, "user-1", "alice@example.com", "Work", "auth-code")
	require.NoError(t, err)
	require.True(t, conn.IsActive)

	stored, err := f.store.GetConnection(ctx, conn.ID)
	require.NoError(t, err)
	require.Equal(t, expiry, stored.TokenExpiry)

	// Tokens never land in storage as plaintext.
	require.NotEqual(t, []byte("granted-access"), stored.AccessToken)
	plain, err := f.vault.DecryptString(stored.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "granted-access", plain)
}

func TestCompleteOAuthCallback_ReactivatesParkedConnection(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	f.fake.ExchangeTokens = &provider.Tokens{
		AccessToken:  "granted-access",
		RefreshToken: "granted-refresh",
		Expiry:       time.Now().Add(time.Hour),
	}

	conn, err := f.service.CompleteOAuthCallback(ctx, "user-1", "alice@example.com", "Work", "code-1")
	require.NoError(t, err)

	// Park the connection the way the token manager would on invalid_grant.
	require.NoError(t, f.store.SetConnectionActive(ctx, conn.ID, false))

	again, err := f.service.CompleteOAuthCallback(ctx, "user-1", "alice@example.com", "Work", "code-2")
	require.NoError(t, err)
	require.Equal(t, conn.ID, again.ID)
	require.True(t, again.IsActive)

	stored, err := f.store.GetConnection(ctx, conn.ID)
	require.NoError(t, err)
	require.True(t, stored.IsActive)
}

func TestCompleteOAuthCallback_ExchangeFailureSurfaces(t *testing.T) {
	f := newServiceFixture(t)
	f.fake.ExchangeErr = provider.ErrInvalidGrant

	_, err := f.service.CompleteOAuthCallback(context.Background(), "user-1", "alice@example.com", "Work", "bad-code")
	require.ErrorIs(t, err, provider.ErrInvalidGrant)
}

func TestDelete_Idempotent(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	conn, err := f.service.FindOrCreate(ctx, "user-1", "alice@example.com", "Work")
	require.NoError(t, err)

	require.NoError(t, f.service.Delete(ctx, conn.ID))
	require.NoError(t, f.service.Delete(ctx, conn.ID))
	require.NoError(t, f.service.Delete(ctx, uuid.New()))

	conns, err := f.service.List(ctx, "user-1")
	require.NoError(t, err)
	require.Empty(t, conns)
}

func TestSetActive_RoundTrips(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	conn, err := f.service.FindOrCreate(ctx, "user-1", "alice@example.com", "Work")
	require.NoError(t, err)

	updated, err := f.service.SetActive(ctx, conn.ID, false)
	require.NoError(t, err)
	require.False(t, updated.IsActive)

	updated, err = f.service.SetActive(ctx, conn.ID, true)
	require.NoError(t, err)
	require.True(t, updated.IsActive)
}
