package syncer

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	httperr "github.com/briefcast-io/calsync/internal/core/errors"
	"github.com/briefcast-io/calsync/internal/core/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MaxProgressPageSize bounds one progress poll response so polling latency
// stays predictable.
const MaxProgressPageSize = 200

// RegisterRoutes registers the sync trigger and progress polling routes.
func (e *Engine) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/connections/:id/sync", e.HandleTriggerSync)
	r.GET("/v1/connections/:id/progress", e.HandleProgress)
}

// HandleTriggerSync handles POST /v1/connections/:id/sync.
// Returns 202 immediately; the sync runs asynchronously and reports through
// the progress log. A held lease maps to 409 with no retry.
func (e *Engine) HandleTriggerSync(c *gin.Context) {
	id, ok := bindConnectionID(c)
	if !ok {
		return
	}

	var body struct {
		Start time.Time `json:"start" time_format:"2006-01-02T15:04:05Z07:00"`
		End   time.Time `json:"end" time_format:"2006-01-02T15:04:05Z07:00"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
				ErrorType: httperr.HttpInvalidRequestError,
				Message:   "Invalid sync range",
				Details:   err.Error(),
			})
			return
		}
		if body.Start.IsZero() != body.End.IsZero() {
			c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
				ErrorType: httperr.HttpInvalidRequestError,
				Message:   "start and end must be provided together",
			})
			return
		}
		if !body.Start.IsZero() && !body.Start.Before(body.End) {
			c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
				ErrorType: httperr.HttpInvalidRequestError,
				Message:   "start must be before end",
			})
			return
		}
	}

	err := e.StartSync(c.Request.Context(), id, body.Start, body.End)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrSyncInProgress):
			c.JSON(http.StatusConflict, httperr.ErrorResponse{
				ErrorType: httperr.HttpSyncInProgressError,
				Message:   "A sync is already in progress for this connection",
			})
		case errors.Is(err, storage.ErrNotFound):
			c.JSON(http.StatusNotFound, httperr.ErrorResponse{
				ErrorType: httperr.HttpNotFoundError,
				Message:   "Connection not found",
			})
		default:
			slog.Error("[Syncer] Failed to start sync", "connection_id", id, "error", err)
			c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
				ErrorType: httperr.HttpInternalError,
				Message:   "Failed to start sync",
			})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "sync_started"})
}

// HandleProgress handles GET /v1/connections/:id/progress?since_id=&limit=.
// Events come back ordered by id ascending; the client resumes with the last
// id it saw.
func (e *Engine) HandleProgress(c *gin.Context) {
	id, ok := bindConnectionID(c)
	if !ok {
		return
	}

	var query struct {
		SinceID int64 `form:"since_id"`
		Limit   int   `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidRequestError,
			Message:   "Invalid progress query",
			Details:   err.Error(),
		})
		return
	}
	if query.SinceID < 0 {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidRequestError,
			Message:   "since_id must be >= 0",
		})
		return
	}
	if query.Limit <= 0 || query.Limit > MaxProgressPageSize {
		query.Limit = MaxProgressPageSize
	}

	events, err := e.store.ListProgressSince(c.Request.Context(), id, query.SinceID, query.Limit)
	if err != nil {
		slog.Error("[Syncer] Failed to list progress", "connection_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to list progress events",
		})
		return
	}

	nextSinceID := query.SinceID
	if len(events) > 0 {
		nextSinceID = events[len(events)-1].ID
	}

	c.JSON(http.StatusOK, gin.H{
		"events":        events,
		"next_since_id": nextSinceID,
	})
}

func bindConnectionID(c *gin.Context) (uuid.UUID, bool) {
	var uri struct {
		ID string `uri:"id" binding:"required,uuid"`
	}
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidRequestError,
			Message:   "Invalid connection id",
		})
		return uuid.Nil, false
	}
	return uuid.MustParse(uri.ID), true
}
