package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/LucasandAI/versus-app-sub001/internal/models"
)

// ---------------------------------------------------------------------------
// Ack tests
// ---------------------------------------------------------------------------

func TestAck_Success(t *testing.T) {
	remote := &mockRemote{}
	registry, _ := newTestRegistry(remote)
	defer registry.Shutdown()
	h := NewSyncHandler(registry)

	c, rec := newTestContext(http.MethodPut, "/api/v1/conversations/club:42/ack",
		strings.NewReader(`{"read_through_ms": 5000}`))
	c.SetParamNames("key")
	c.SetParamValues("club:42")
	setAuthUser(c, testUserID)

	if err := h.Ack(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	eng := registry.Get(c.Request().Context(), testUserID)
	if got := eng.ReadThrough(models.ClubKey(42)); got != 5000 {
		t.Fatalf("read marker = %d, want 5000", got)
	}
}

func TestAck_InvalidKey(t *testing.T) {
	remote := &mockRemote{}
	registry, _ := newTestRegistry(remote)
	defer registry.Shutdown()
	h := NewSyncHandler(registry)

	c, rec := newTestContext(http.MethodPut, "/api/v1/conversations/bogus/ack", nil)
	c.SetParamNames("key")
	c.SetParamValues("bogus")
	setAuthUser(c, testUserID)

	_ = h.Ack(c)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Open / Close tests
// ---------------------------------------------------------------------------

func TestOpen_ZeroesUnreadBadge(t *testing.T) {
	remote := &mockRemote{}
	registry, tr := newTestRegistry(remote)
	defer registry.Shutdown()
	h := NewSyncHandler(registry)

	// Seed an unread message through the feed.
	openCtx, _ := newTestContext(http.MethodGet, "/", nil)
	setAuthUser(openCtx, testUserID)
	_ = h.engineFor(openCtx)
	tr.push("clubs:100", models.MessageEvent{
		Key: models.ClubKey(42), MessageID: 1, SenderID: 200, TimestampMillis: 1000,
	})

	c, rec := newTestContext(http.MethodPost, "/api/v1/conversations/club:42/open", nil)
	c.SetParamNames("key")
	c.SetParamValues("club:42")
	setAuthUser(c, testUserID)

	if err := h.Open(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	eng := registry.Get(c.Request().Context(), testUserID)
	if got := eng.Counts().Total; got != 0 {
		t.Fatalf("Total after open = %d, want 0", got)
	}
}

func TestClose_InvalidKey(t *testing.T) {
	remote := &mockRemote{}
	registry, _ := newTestRegistry(remote)
	defer registry.Shutdown()
	h := NewSyncHandler(registry)

	c, rec := newTestContext(http.MethodPost, "/api/v1/conversations/weird:1/close", nil)
	c.SetParamNames("key")
	c.SetParamValues("weird:1")
	setAuthUser(c, testUserID)

	_ = h.Close(c)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Unread / read-marker / messages tests
// ---------------------------------------------------------------------------

func TestGetUnread_ReturnsCounts(t *testing.T) {
	remote := &mockRemote{}
	registry, tr := newTestRegistry(remote)
	defer registry.Shutdown()
	h := NewSyncHandler(registry)

	seed, _ := newTestContext(http.MethodGet, "/", nil)
	setAuthUser(seed, testUserID)
	_ = h.engineFor(seed)
	tr.push("clubs:100", models.MessageEvent{
		Key: models.ClubKey(42), MessageID: 1, SenderID: 200, TimestampMillis: 1000,
	})
	tr.push("clubs:100", models.MessageEvent{
		Key: models.DirectKey(7), MessageID: 2, SenderID: 200, TimestampMillis: 1000,
	})

	c, rec := newTestContext(http.MethodGet, "/api/v1/users/@me/unread", nil)
	setAuthUser(c, testUserID)

	if err := h.GetUnread(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var counts models.UnreadCounts
	if err := json.Unmarshal(rec.Body.Bytes(), &counts); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if counts.Total != 2 || counts.Clubs != 1 || counts.Direct != 1 {
		t.Fatalf("counts = %+v, want total 2, clubs 1, direct 1", counts)
	}
}

func TestGetReadMarker_Unacknowledged(t *testing.T) {
	remote := &mockRemote{}
	registry, _ := newTestRegistry(remote)
	defer registry.Shutdown()
	h := NewSyncHandler(registry)

	c, rec := newTestContext(http.MethodGet, "/api/v1/conversations/direct:7/read-marker", nil)
	c.SetParamNames("key")
	c.SetParamValues("direct:7")
	setAuthUser(c, testUserID)

	if err := h.GetReadMarker(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var resp readMarkerResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.ReadThroughMillis != 0 {
		t.Fatalf("read_through_ms = %d, want 0", resp.ReadThroughMillis)
	}
}

func TestGetMessages_EmptyIsJSONArray(t *testing.T) {
	remote := &mockRemote{}
	registry, _ := newTestRegistry(remote)
	defer registry.Shutdown()
	h := NewSyncHandler(registry)

	c, rec := newTestContext(http.MethodGet, "/api/v1/conversations/club:1/messages", nil)
	c.SetParamNames("key")
	c.SetParamValues("club:1")
	setAuthUser(c, testUserID)

	if err := h.GetMessages(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Fatalf("empty message list = %q, want []", got)
	}
}

// ---------------------------------------------------------------------------
// Middleware tests
// ---------------------------------------------------------------------------

func TestUserMiddleware_RejectsMissingHeader(t *testing.T) {
	c, rec := newTestContext(http.MethodGet, "/api/v1/users/@me/unread", nil)

	mw := UserMiddleware()
	handler := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	_ = handler(c)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUserMiddleware_SetsUserID(t *testing.T) {
	c, rec := newTestContext(http.MethodGet, "/api/v1/users/@me/unread", nil)
	c.Request().Header.Set(HeaderUserID, "100")

	mw := UserMiddleware()
	var got int64
	handler := mw(func(c echo.Context) error {
		got = GetUserID(c)
		return c.NoContent(http.StatusOK)
	})

	if err := handler(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got != 100 {
		t.Fatalf("user_id = %d, want 100", got)
	}
}
