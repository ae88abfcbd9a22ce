package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	v1 "github.com/briefcast-io/calsync/internal/api/v1"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newSyncRouter(f *engineFixture) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	f.engine.RegisterRoutes(r)
	return r
}

func doRequest(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandleTriggerSync(t *testing.T) {
	t.Run("accepted and conflict while lease held", func(t *testing.T) {
		f := newEngineFixture(t)
		r := newSyncRouter(f)

		gate := make(chan struct{})
		f.fake.ListGate = gate

		w := doRequest(r, http.MethodPost, "/v1/connections/"+f.conn.ID.String()+"/sync", "")
		require.Equal(t, http.StatusAccepted, w.Code)
		require.Contains(t, w.Body.String(), "sync_started")

		w = doRequest(r, http.MethodPost, "/v1/connections/"+f.conn.ID.String()+"/sync", "")
		require.Equal(t, http.StatusConflict, w.Code)
		require.Contains(t, w.Body.String(), "already in progress")

		close(gate)
		f.engine.Wait()
	})

	t.Run("unknown connection is 404", func(t *testing.T) {
		f := newEngineFixture(t)
		r := newSyncRouter(f)

		w := doRequest(r, http.MethodPost, "/v1/connections/"+uuid.NewString()+"/sync", "")
		require.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("malformed id is 400", func(t *testing.T) {
		f := newEngineFixture(t)
		r := newSyncRouter(f)

		w := doRequest(r, http.MethodPost, "/v1/connections/not-a-uuid/sync", "")
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("explicit range is honored", func(t *testing.T) {
		f := newEngineFixture(t)
		r := newSyncRouter(f)

		body := `{"start":"2026-01-01T00:00:00Z","end":"2026-02-01T00:00:00Z"}`
		w := doRequest(r, http.MethodPost, "/v1/connections/"+f.conn.ID.String()+"/sync", body)
		require.Equal(t, http.StatusAccepted, w.Code)
		f.engine.Wait()

		// One window: one MONTH_STARTED, one MONTH_COMPLETED, one DONE.
		events := f.progress(t)
		require.Len(t, events, 3)
		require.Equal(t, "2026-01", events[0].Month)
	})

	t.Run("start without end is 400", func(t *testing.T) {
		f := newEngineFixture(t)
		r := newSyncRouter(f)

		body := `{"start":"2026-01-01T00:00:00Z"}`
		w := doRequest(r, http.MethodPost, "/v1/connections/"+f.conn.ID.String()+"/sync", body)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("inverted range is 400", func(t *testing.T) {
		f := newEngineFixture(t)
		r := newSyncRouter(f)

		body := `{"start":"2026-03-01T00:00:00Z","end":"2026-01-01T00:00:00Z"}`
		w := doRequest(r, http.MethodPost, "/v1/connections/"+f.conn.ID.String()+"/sync", body)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandleProgress(t *testing.T) {
	f := newEngineFixture(t)
	r := newSyncRouter(f)

	// Seed the log directly; the handler only reads.
	for i, typ := range []v1.ProgressEventType{
		v1.ProgressMonthStarted,
		v1.ProgressMonthCompleted,
		v1.ProgressDone,
	} {
		ev := &v1.SyncProgressEvent{
			ConnectionID: f.conn.ID,
			Type:         typ,
			Month:        "2026-01",
			CreatedAt:    time.Now().UTC().Add(time.Duration(i) * time.Second),
		}
		if typ == v1.ProgressDone {
			ev.Month = ""
		}
		require.NoError(t, f.store.AppendProgress(context.Background(), ev))
	}

	type progressPayload struct {
		Events      []*v1.SyncProgressEvent `json:"events"`
		NextSinceID int64                   `json:"next_since_id"`
	}

	w := doRequest(r, http.MethodGet, "/v1/connections/"+f.conn.ID.String()+"/progress", "")
	require.Equal(t, http.StatusOK, w.Code)

	var page progressPayload
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Events, 3)
	require.Equal(t, page.Events[2].ID, page.NextSinceID)

	// Resuming from the cursor yields only unseen events.
	url := fmt.Sprintf("/v1/connections/%s/progress?since_id=%d", f.conn.ID, page.Events[0].ID)
	w = doRequest(r, http.MethodGet, url, "")
	require.Equal(t, http.StatusOK, w.Code)

	var rest progressPayload
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rest))
	require.Len(t, rest.Events, 2)
	require.Equal(t, v1.ProgressMonthCompleted, rest.Events[0].Type)

	// An exhausted cursor returns an empty page with the cursor unchanged.
	url = fmt.Sprintf("/v1/connections/%s/progress?since_id=%d", f.conn.ID, page.NextSinceID)
	w = doRequest(r, http.MethodGet, url, "")
	require.Equal(t, http.StatusOK, w.Code)

	var empty progressPayload
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &empty))
	require.Empty(t, empty.Events)
	require.Equal(t, page.NextSinceID, empty.NextSinceID)

	// Negative cursor is rejected.
	w = doRequest(r, http.MethodGet, "/v1/connections/"+f.conn.ID.String()+"/progress?since_id=-1", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}
