package api

import (
	"context"
	"io"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/LucasandAI/versus-app-sub001/internal/engine"
	"github.com/LucasandAI/versus-app-sub001/internal/feed"
	"github.com/LucasandAI/versus-app-sub001/internal/kvstore"
	"github.com/LucasandAI/versus-app-sub001/internal/models"
	"github.com/LucasandAI/versus-app-sub001/internal/syncq"
)

const testUserID int64 = 100

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

func newTestContext(method, path string, body io.Reader) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return c, rec
}

func setAuthUser(c echo.Context, userID int64) {
	c.Set("user_id", userID)
}

// ---------------------------------------------------------------------------
// Mock remote
// ---------------------------------------------------------------------------

type mockRemote struct {
	mu      sync.Mutex
	upserts [][]models.ReadMarker

	UpsertFn      func(userID int64, batch []models.ReadMarker) error
	FetchCountsFn func(userID int64) (models.UnreadCounts, error)
}

func (m *mockRemote) UpsertReadMarkers(_ context.Context, userID int64, batch []models.ReadMarker) error {
	if m.UpsertFn != nil {
		if err := m.UpsertFn(userID, batch); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.upserts = append(m.upserts, batch)
	m.mu.Unlock()
	return nil
}

func (m *mockRemote) FetchUnreadCounts(_ context.Context, userID int64) (models.UnreadCounts, error) {
	if m.FetchCountsFn != nil {
		return m.FetchCountsFn(userID)
	}
	return models.UnreadCounts{PerConversation: map[string]int{}}, nil
}

func (m *mockRemote) MessagesSince(_ context.Context, _ models.ConversationKey, _ int64, _ int) ([]models.Message, error) {
	return nil, nil
}

// ---------------------------------------------------------------------------
// Mock feed transport
// ---------------------------------------------------------------------------

type mockSub struct{ handlers feed.Handlers }

func (s *mockSub) Unsubscribe() {}

type mockTransport struct {
	mu   sync.Mutex
	subs map[string]*mockSub
}

func newMockTransport() *mockTransport {
	return &mockTransport{subs: make(map[string]*mockSub)}
}

func (t *mockTransport) Subscribe(_ context.Context, _ string, filter feed.Filter, h feed.Handlers) (feed.Subscription, error) {
	s := &mockSub{handlers: h}
	t.mu.Lock()
	t.subs[filter.Label()] = s
	t.mu.Unlock()
	return s, nil
}

func (t *mockTransport) push(label string, ev models.MessageEvent) {
	t.mu.Lock()
	s, ok := t.subs[label]
	t.mu.Unlock()
	if ok {
		s.handlers.OnInsert(ev)
	}
}

// newTestRegistry wires a registry over in-memory storage with every
// background timer pushed out of the way.
func newTestRegistry(remote *mockRemote) (*engine.Registry, *mockTransport) {
	tr := newMockTransport()
	opts := engine.Options{
		ReconcileInterval: time.Hour,
		Sync:              syncq.Options{Debounce: time.Hour},
		Feed:              feed.Options{HealthInterval: time.Hour},
	}
	return engine.NewRegistry(kvstore.NewMemory(), remote, tr, opts), tr
}
