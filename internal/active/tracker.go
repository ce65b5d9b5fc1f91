package active

import (
	"sync"
	"time"

	"github.com/LucasandAI/versus-app-sub001/internal/eventbus"
	"github.com/LucasandAI/versus-app-sub001/internal/models"
)

// DefaultTTL bounds how long a conversation stays active without a refresh.
// UI teardown is not guaranteed to fire on abrupt navigation, so a stuck
// active flag must self-expire rather than permanently suppress unread
// notifications.
const DefaultTTL = 5 * time.Minute

// Tracker is the ephemeral record of which conversations the user is
// currently viewing.
type Tracker struct {
	mu      sync.Mutex
	started map[string]time.Time // conversation key → view start
	ttl     time.Duration
	bus     *eventbus.Bus
	now     func() time.Time
}

func NewTracker(bus *eventbus.Bus, ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{
		started: make(map[string]time.Time),
		ttl:     ttl,
		bus:     bus,
		now:     time.Now,
	}
}

// SetActive marks the conversation as open in the user's view, replacing
// any prior record for the key, and broadcasts ActiveChanged.
// Calling it again refreshes the TTL.
func (t *Tracker) SetActive(key models.ConversationKey) {
	t.mu.Lock()
	t.started[key.String()] = t.now()
	t.mu.Unlock()

	t.bus.PublishActive(eventbus.ActiveChanged{Key: key, Active: true})
}

// ClearActive removes the active record for the key.
func (t *Tracker) ClearActive(key models.ConversationKey) {
	t.mu.Lock()
	_, existed := t.started[key.String()]
	delete(t.started, key.String())
	t.mu.Unlock()

	if existed {
		t.bus.PublishActive(eventbus.ActiveChanged{Key: key, Active: false})
	}
}

// ClearAll removes every active record without broadcasting; used on
// session teardown.
func (t *Tracker) ClearAll() {
	t.mu.Lock()
	t.started = make(map[string]time.Time)
	t.mu.Unlock()
}

// IsActive reports whether the conversation is open and the record is
// within its TTL. Expired records are pruned on sight.
func (t *Tracker) IsActive(key models.ConversationKey) bool {
	k := key.String()

	t.mu.Lock()
	defer t.mu.Unlock()

	started, ok := t.started[k]
	if !ok {
		return false
	}
	if t.now().Sub(started) >= t.ttl {
		delete(t.started, k)
		return false
	}
	return true
}

// ActiveKeys returns the keys of all currently valid active records.
func (t *Tracker) ActiveKeys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	keys := make([]string, 0, len(t.started))
	for k, started := range t.started {
		if now.Sub(started) >= t.ttl {
			delete(t.started, k)
			continue
		}
		keys = append(keys, k)
	}
	return keys
}
