package registry

import (
	"errors"
	"log/slog"
	"net/http"

	httperr "github.com/briefcast-io/calsync/internal/core/errors"
	"github.com/briefcast-io/calsync/internal/core/storage"
	"github.com/briefcast-io/calsync/internal/provider"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const defaultMeetingsPageSize = 200

// RegisterRoutes registers the connection management routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/connections", s.HandleList)
	r.GET("/v1/connections/oauth/callback", s.HandleOAuthCallback)
	r.PATCH("/v1/connections/:id/active", s.HandleSetActive)
	r.DELETE("/v1/connections/:id", s.HandleDelete)
	r.GET("/v1/connections/:id/meetings", s.HandleListMeetings)
}

// HandleOAuthCallback handles GET /v1/connections/oauth/callback.
// Provider error callbacks short-circuit before any storage access.
func (s *Service) HandleOAuthCallback(c *gin.Context) {
	var query struct {
		Code             string `form:"code"`
		Email            string `form:"email"`
		UserID           string `form:"user_id"`
		Title            string `form:"title"`
		Error            string `form:"error"`
		ErrorDescription string `form:"error_description"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidRequestError,
			Message:   "Invalid callback parameters",
			Details:   err.Error(),
		})
		return
	}

	if query.Error != "" {
		slog.Warn("[Registry] OAuth callback returned provider error",
			"error", query.Error,
			"description", query.ErrorDescription)
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpOAuthCallbackError,
			Message:   "Authorization was not granted",
			Details:   query.Error,
		})
		return
	}

	if query.Code == "" || query.Email == "" || query.UserID == "" {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidRequestError,
			Message:   "code, email and user_id are required",
		})
		return
	}

	conn, err := s.CompleteOAuthCallback(c.Request.Context(), query.UserID, query.Email, query.Title, query.Code)
	if err != nil {
		if errors.Is(err, provider.ErrInvalidGrant) {
			c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
				ErrorType: httperr.HttpOAuthCallbackError,
				Message:   "Authorization code was rejected",
				Details:   err.Error(),
			})
			return
		}
		if errors.Is(err, provider.ErrTransient) {
			c.JSON(http.StatusBadGateway, httperr.ErrorResponse{
				ErrorType: httperr.HttpProviderError,
				Message:   "Calendar provider is unavailable, retry later",
			})
			return
		}
		slog.Error("[Registry] OAuth callback failed", "error", err)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to complete calendar connection",
		})
		return
	}

	c.JSON(http.StatusOK, conn)
}

// HandleList handles GET /v1/connections?user_id=...
func (s *Service) HandleList(c *gin.Context) {
	var query struct {
		UserID string `form:"user_id" binding:"required"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidRequestError,
			Message:   "user_id is required",
		})
		return
	}

	conns, err := s.List(c.Request.Context(), query.UserID)
	if err != nil {
		slog.Error("[Registry] Failed to list connections", "error", err)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to list connections",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"connections": conns})
}

// HandleSetActive handles PATCH /v1/connections/:id/active.
func (s *Service) HandleSetActive(c *gin.Context) {
	id, ok := bindConnectionID(c)
	if !ok {
		return
	}

	var body struct {
		IsActive *bool `json:"is_active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidRequestError,
			Message:   "is_active is required",
		})
		return
	}

	conn, err := s.SetActive(c.Request.Context(), id, *body.IsActive)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, httperr.ErrorResponse{
				ErrorType: httperr.HttpNotFoundError,
				Message:   "Connection not found",
			})
			return
		}
		slog.Error("[Registry] Failed to toggle connection", "connection_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to update connection",
		})
		return
	}

	c.JSON(http.StatusOK, conn)
}

// HandleDelete handles DELETE /v1/connections/:id. Always 204 on a valid id:
// deletion is idempotent to tolerate client retries.
func (s *Service) HandleDelete(c *gin.Context) {
	id, ok := bindConnectionID(c)
	if !ok {
		return
	}

	if err := s.Delete(c.Request.Context(), id); err != nil {
		slog.Error("[Registry] Failed to delete connection", "connection_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to delete connection",
		})
		return
	}

	c.Status(http.StatusNoContent)
}

// HandleListMeetings handles GET /v1/connections/:id/meetings.
func (s *Service) HandleListMeetings(c *gin.Context) {
	id, ok := bindConnectionID(c)
	if !ok {
		return
	}

	meetings, err := s.Meetings(c.Request.Context(), id, defaultMeetingsPageSize)
	if err != nil {
		slog.Error("[Registry] Failed to list meetings", "connection_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to list meetings",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"meetings": meetings})
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
