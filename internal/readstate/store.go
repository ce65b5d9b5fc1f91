package readstate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/LucasandAI/versus-app-sub001/internal/eventbus"
	"github.com/LucasandAI/versus-app-sub001/internal/kvstore"
	"github.com/LucasandAI/versus-app-sub001/internal/models"
)

// Enqueuer receives read markers that still need remote confirmation.
// Implemented by the sync queue.
type Enqueuer interface {
	Enqueue(key models.ConversationKey, readThroughMillis int64)
}

// Store is the local read-status store: the per-conversation read-through
// timestamps the user has acknowledged, persisted best-effort so they
// survive restarts. All operations are synchronous; no network I/O happens
// here.
type Store struct {
	mu     sync.Mutex
	marks  map[string]int64 // conversation key → read-through unix millis
	gen    uint64
	kv     kvstore.Store
	bus    *eventbus.Bus
	queue  Enqueuer
	userID int64

	// persistMu serializes writes to the durable store.
	persistMu sync.Mutex
}

func NewStore(kv kvstore.Store, bus *eventbus.Bus, queue Enqueuer, userID int64) *Store {
	return &Store{
		marks:  make(map[string]int64),
		kv:     kv,
		bus:    bus,
		queue:  queue,
		userID: userID,
	}
}

func (s *Store) persistKey() string {
	return "read_markers:" + strconv.FormatInt(s.userID, 10)
}

// Load hydrates the marker map from the durable store. Missing data is a
// fresh session, not an error.
func (s *Store) Load(ctx context.Context) {
	raw, err := s.kv.Get(ctx, s.persistKey())
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			slog.Error("loading read markers", "userID", s.userID, "error", err)
		}
		return
	}

	var marks map[string]int64
	if err := json.Unmarshal([]byte(raw), &marks); err != nil {
		slog.Error("corrupt read marker blob, starting fresh", "userID", s.userID, "error", err)
		return
	}

	s.mu.Lock()
	s.marks = marks
	s.mu.Unlock()
}

// MarkRead acknowledges the conversation as read through the current time.
func (s *Store) MarkRead(key models.ConversationKey) {
	s.MarkReadAt(key, time.Now().UnixMilli())
}

// MarkReadAt sets the read-through timestamp to max(existing, atMillis).
// When the value advances it persists, emits ReadStatusChanged, and
// enqueues a remote sync. Older timestamps never regress the marker and
// produce no side effects.
func (s *Store) MarkReadAt(key models.ConversationKey, atMillis int64) {
	k := key.String()

	s.mu.Lock()
	if atMillis <= s.marks[k] {
		s.mu.Unlock()
		return
	}
	s.marks[k] = atMillis
	s.gen++
	gen := s.gen
	blob, err := json.Marshal(s.marks)
	s.mu.Unlock()

	if err == nil {
		// Best effort: the in-memory value stays authoritative for the
		// session even if persistence fails.
		s.persistSnapshot(gen, blob)
	}

	s.bus.PublishReadStatus(eventbus.ReadStatusChanged{Key: key, ReadThroughMillis: atMillis})
	s.queue.Enqueue(key, atMillis)
}

// persistSnapshot writes one marshaled snapshot. Writes are serialized and a
// snapshot superseded while waiting is skipped, so an older blob can never
// land in the store after a newer one.
func (s *Store) persistSnapshot(gen uint64, blob []byte) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	stale := gen != s.gen
	s.mu.Unlock()
	if stale {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.kv.Set(ctx, s.persistKey(), string(blob)); err != nil {
		slog.Error("persisting read markers", "userID", s.userID, "error", err)
	}
}

// IsReadSince reports whether the stored read-through timestamp covers a
// message sent at messageMillis.
func (s *Store) IsReadSince(key models.ConversationKey, messageMillis int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.marks[key.String()] >= messageMillis
}

// ReadThrough returns the stored read-through timestamp, or 0 if the
// conversation has never been acknowledged.
func (s *Store) ReadThrough(key models.ConversationKey) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.marks[key.String()]
}
