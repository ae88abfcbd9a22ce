package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	v1 "github.com/briefcast-io/calsync/internal/api/v1"
	"github.com/briefcast-io/calsync/internal/core/storage/memory"
	"github.com/briefcast-io/calsync/internal/provider"
	"github.com/briefcast-io/calsync/internal/provider/providertest"
	"github.com/briefcast-io/calsync/internal/registry"
	"github.com/briefcast-io/calsync/internal/syncer"
	"github.com/briefcast-io/calsync/internal/token"
	"github.com/briefcast-io/calsync/internal/vault"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

// harness wires the full service against the in-memory store and a scripted
// provider, so the flows run end to end over the HTTP surface.
type harness struct {
	router *gin.Engine
	store  *memory.Store
	fake   *providertest.Fake
	engine *syncer.Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore()
	fake := providertest.New()

	credVault, err := vault.New("integration-test-secret")
	require.NoError(t, err)

	tokens := token.NewManager(store, credVault, fake)
	registrySvc := registry.NewService(store, fake, tokens)
	engine := syncer.NewEngine(store, fake, tokens, syncer.NewRuleClassifier(syncer.DefaultRules()), syncer.Options{
		ListRetryBase: time.Millisecond,
	})

	router := gin.New()
	registrySvc.RegisterRoutes(router)
	engine.RegisterRoutes(router)

	return &harness{router: router, store: store, fake: fake, engine: engine}
}

func (h *harness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

// connect drives the OAuth callback and returns the created connection.
func (h *harness) connect(t *testing.T, userID, email string) *v1.CalendarConnection {
	t.Helper()

	h.fake.ExchangeTokens = &provider.Tokens{
		AccessToken:  "granted-access",
		RefreshToken: "granted-refresh",
		Expiry:       time.Now().Add(time.Hour),
	}

	q := url.Values{}
	q.Set("code", "auth-code")
	q.Set("user_id", userID)
	q.Set("email", email)
	q.Set("title", email)

	w := h.do(t, http.MethodGet, "/v1/connections/oauth/callback?"+q.Encode(), "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var conn v1.CalendarConnection
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conn))
	return &conn
}

// pollUntilTerminal polls the progress endpoint with the since_id cursor until
// a terminal event arrives, accumulating every event seen.
func (h *harness) pollUntilTerminal(t *testing.T, connID string) []*v1.SyncProgressEvent {
	t.Helper()

	var all []*v1.SyncProgressEvent
	var sinceID int64
	deadline := time.Now().Add(5 * time.Second)

	for time.Now().Before(deadline) {
		w := h.do(t, http.MethodGet, fmt.Sprintf("/v1/connections/%s/progress?since_id=%d", connID, sinceID), "")
		require.Equal(t, http.StatusOK, w.Code)

		var page struct {
			Events      []*v1.SyncProgressEvent `json:"events"`
			NextSinceID int64                   `json:"next_since_id"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))

		all = append(all, page.Events...)
		sinceID = page.NextSinceID

		for _, ev := range page.Events {
			if ev.Terminal() {
				return all
			}
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("no terminal progress event after 5s; saw %d events", len(all))
	return nil
}

func TestSyncFlow_ConnectSyncAndPoll(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t, "user-1", "alice@example.com")

	h.fake.EventsByMonth["2026-01"] = []*provider.Event{
		{
			ID:        "evt-analyst",
			Summary:   "Gartner inquiry",
			Start:     time.Date(2026, 1, 12, 14, 0, 0, 0, time.UTC),
			End:       time.Date(2026, 1, 12, 15, 0, 0, 0, time.UTC),
			Attendees: []string{"alice@example.com", "bob@gartner.com"},
		},
		{
			ID:        "evt-standup",
			Summary:   "Team standup",
			Start:     time.Date(2026, 1, 13, 9, 0, 0, 0, time.UTC),
			End:       time.Date(2026, 1, 13, 9, 15, 0, 0, time.UTC),
			Attendees: []string{"alice@example.com"},
		},
	}

	body := `{"start":"2026-01-01T00:00:00Z","end":"2026-02-01T00:00:00Z"}`
	w := h.do(t, http.MethodPost, "/v1/connections/"+conn.ID.String()+"/sync", body)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	events := h.pollUntilTerminal(t, conn.ID.String())
	require.Len(t, events, 3)
	require.Equal(t, v1.ProgressMonthStarted, events[0].Type)
	require.Equal(t, "2026-01", events[0].Month)
	require.Equal(t, v1.ProgressMonthCompleted, events[1].Type)
	require.Equal(t, 2, events[1].TotalEventsProcessed)
	require.Equal(t, 1, events[1].RelevantMeetingsCount)
	require.True(t, events[1].FoundAnalystMeetings)
	require.Equal(t, v1.ProgressDone, events[2].Type)

	h.engine.Wait()

	// Exactly the analyst meeting was materialized.
	w = h.do(t, http.MethodGet, "/v1/connections/"+conn.ID.String()+"/meetings", "")
	require.Equal(t, http.StatusOK, w.Code)

	var meetingsPage struct {
		Meetings []*v1.CalendarMeeting `json:"meetings"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &meetingsPage))
	require.Len(t, meetingsPage.Meetings, 1)
	require.Equal(t, "evt-analyst", meetingsPage.Meetings[0].ProviderEventID)
	require.Equal(t, []string{"bob@gartner.com"}, meetingsPage.Meetings[0].MatchedEmails)

	// The connection surfaces the finished sync.
	w = h.do(t, http.MethodGet, "/v1/connections?user_id=user-1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var connsPage struct {
		Connections []*v1.CalendarConnection `json:"connections"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &connsPage))
	require.Len(t, connsPage.Connections, 1)
	require.False(t, connsPage.Connections[0].SyncInProgress)
	require.NotNil(t, connsPage.Connections[0].LastSyncAt)
}

func TestSyncFlow_ConcurrentTriggerConflicts(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t, "user-1", "alice@example.com")

	gate := make(chan struct{})
	h.fake.ListGate = gate

	body := `{"start":"2026-01-01T00:00:00Z","end":"2026-02-01T00:00:00Z"}`

	w := h.do(t, http.MethodPost, "/v1/connections/"+conn.ID.String()+"/sync", body)
	require.Equal(t, http.StatusAccepted, w.Code)

	// While the first run holds the lease, a second trigger is refused.
	w = h.do(t, http.MethodPost, "/v1/connections/"+conn.ID.String()+"/sync", body)
	require.Equal(t, http.StatusConflict, w.Code)

	close(gate)
	h.engine.Wait()

	// With the lease released the next trigger goes through.
	h.fake.ListGate = nil
	w = h.do(t, http.MethodPost, "/v1/connections/"+conn.ID.String()+"/sync", body)
	require.Equal(t, http.StatusAccepted, w.Code)
	h.engine.Wait()
}

func TestSyncFlow_DeleteCascadesEverything(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t, "user-1", "alice@example.com")

	h.fake.EventsByMonth["2026-01"] = []*provider.Event{
		{
			ID:        "evt-analyst",
			Summary:   "Forrester briefing",
			Start:     time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC),
			End:       time.Date(2026, 1, 5, 11, 0, 0, 0, time.UTC),
			Attendees: []string{"carol@forrester.com"},
		},
	}

	body := `{"start":"2026-01-01T00:00:00Z","end":"2026-02-01T00:00:00Z"}`
	w := h.do(t, http.MethodPost, "/v1/connections/"+conn.ID.String()+"/sync", body)
	require.Equal(t, http.StatusAccepted, w.Code)
	h.pollUntilTerminal(t, conn.ID.String())
	h.engine.Wait()

	w = h.do(t, http.MethodDelete, "/v1/connections/"+conn.ID.String(), "")
	require.Equal(t, http.StatusNoContent, w.Code)

	// Meetings and progress are gone with the connection.
	w = h.do(t, http.MethodGet, "/v1/connections/"+conn.ID.String()+"/meetings", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NotContains(t, w.Body.String(), "evt-analyst")

	w = h.do(t, http.MethodGet, "/v1/connections/"+conn.ID.String()+"/progress", "")
	require.Equal(t, http.StatusOK, w.Code)

	var page struct {
		Events []*v1.SyncProgressEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Empty(t, page.Events)
}
