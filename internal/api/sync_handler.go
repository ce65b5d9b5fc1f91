package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/LucasandAI/versus-app-sub001/internal/engine"
	"github.com/LucasandAI/versus-app-sub001/internal/models"
)

// SyncHandler exposes the per-user sync engine over HTTP.
type SyncHandler struct {
	registry *engine.Registry
}

// NewSyncHandler creates a SyncHandler.
func NewSyncHandler(registry *engine.Registry) *SyncHandler {
	return &SyncHandler{registry: registry}
}

func (h *SyncHandler) engineFor(c echo.Context) *engine.Engine {
	return h.registry.Get(c.Request().Context(), GetUserID(c))
}

func conversationParam(c echo.Context) (models.ConversationKey, error) {
	return models.ParseConversationKey(c.Param("key"))
}

type ackRequest struct {
	ReadThroughMillis int64 `json:"read_through_ms"`
}

// Ack handles PUT /api/v1/conversations/:key/ack.
// Without a body the conversation is acknowledged through now; with a
// read_through_ms it is acknowledged through that timestamp.
func (h *SyncHandler) Ack(c echo.Context) error {
	key, err := conversationParam(c)
	if err != nil {
		return Error(c, http.StatusBadRequest, "INVALID_KEY", "invalid conversation key")
	}

	var req ackRequest
	if err := c.Bind(&req); err != nil {
		return Error(c, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
	}

	eng := h.engineFor(c)
	if req.ReadThroughMillis > 0 {
		eng.MarkConversationReadAt(key, req.ReadThroughMillis)
	} else {
		eng.MarkConversationRead(key)
	}
	return c.NoContent(http.StatusNoContent)
}

// Open handles POST /api/v1/conversations/:key/open.
func (h *SyncHandler) Open(c echo.Context) error {
	key, err := conversationParam(c)
	if err != nil {
		return Error(c, http.StatusBadRequest, "INVALID_KEY", "invalid conversation key")
	}

	h.engineFor(c).OpenConversation(key)
	return c.NoContent(http.StatusNoContent)
}

// Close handles POST /api/v1/conversations/:key/close.
func (h *SyncHandler) Close(c echo.Context) error {
	key, err := conversationParam(c)
	if err != nil {
		return Error(c, http.StatusBadRequest, "INVALID_KEY", "invalid conversation key")
	}

	h.engineFor(c).CloseConversation(key)
	return c.NoContent(http.StatusNoContent)
}

// GetUnread handles GET /api/v1/users/@me/unread.
func (h *SyncHandler) GetUnread(c echo.Context) error {
	return c.JSON(http.StatusOK, h.engineFor(c).Counts())
}

type readMarkerResponse struct {
	Key               string `json:"key"`
	ReadThroughMillis int64  `json:"read_through_ms"`
}

// GetReadMarker handles GET /api/v1/conversations/:key/read-marker.
func (h *SyncHandler) GetReadMarker(c echo.Context) error {
	key, err := conversationParam(c)
	if err != nil {
		return Error(c, http.StatusBadRequest, "INVALID_KEY", "invalid conversation key")
	}

	return c.JSON(http.StatusOK, readMarkerResponse{
		Key:               key.String(),
		ReadThroughMillis: h.engineFor(c).ReadThrough(key),
	})
}

// GetMessages handles GET /api/v1/conversations/:key/messages.
func (h *SyncHandler) GetMessages(c echo.Context) error {
	key, err := conversationParam(c)
	if err != nil {
		return Error(c, http.StatusBadRequest, "INVALID_KEY", "invalid conversation key")
	}

	msgs := h.engineFor(c).Messages(key)
	if msgs == nil {
		msgs = []models.Message{}
	}
	return c.JSON(http.StatusOK, msgs)
}

type feedStateResponse struct {
	State string `json:"state"`
}

// GetFeedState handles GET /api/v1/sync/feed-state.
func (h *SyncHandler) GetFeedState(c echo.Context) error {
	return c.JSON(http.StatusOK, feedStateResponse{State: string(h.engineFor(c).FeedState())})
}
