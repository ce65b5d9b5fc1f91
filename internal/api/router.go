package api

import (
	"github.com/labstack/echo/v4"
)

// Dependencies holds all handler instances for route wiring.
type Dependencies struct {
	Sync *SyncHandler
}

// SetupRouter registers all API routes on the Echo instance.
func SetupRouter(e *echo.Echo, deps *Dependencies) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok"})
	})

	v1 := e.Group("/api/v1")

	// All sync routes require an authenticated user from the upstream proxy.
	protected := v1.Group("", UserMiddleware())

	protected.PUT("/conversations/:key/ack", deps.Sync.Ack)
	protected.POST("/conversations/:key/open", deps.Sync.Open)
	protected.POST("/conversations/:key/close", deps.Sync.Close)
	protected.GET("/conversations/:key/read-marker", deps.Sync.GetReadMarker)
	protected.GET("/conversations/:key/messages", deps.Sync.GetMessages)
	protected.GET("/users/@me/unread", deps.Sync.GetUnread)
	protected.GET("/sync/feed-state", deps.Sync.GetFeedState)
}
