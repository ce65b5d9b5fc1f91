package dedup

import (
	"sync"

	"github.com/LucasandAI/versus-app-sub001/internal/models"
	"github.com/LucasandAI/versus-app-sub001/internal/snowflake"
)

// Cache guards conversation state against the change feed's delivery
// quirks: the transport may redeliver the same row-insert on reconnect
// replay, or deliver events slightly out of order under concurrent writers.
// Accepting those silently would double-count unread badges and duplicate
// visible messages.
type Cache struct {
	mu    sync.Mutex
	convs map[string]*convState
}

type convState struct {
	seen      map[snowflake.ID]struct{}
	watermark int64 // newest accepted timestamp, unix millis
}

func NewCache() *Cache {
	return &Cache{convs: make(map[string]*convState)}
}

// Accept reports whether the message should enter conversation state.
// It rejects ids already seen for the conversation and deliveries older
// than the newest accepted timestamp (a stale push replayed after a newer
// one). Accepting records the id and advances the watermark.
func (c *Cache) Accept(key models.ConversationKey, id snowflake.ID, timestampMillis int64) bool {
	k := key.String()

	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.convs[k]
	if !ok {
		st = &convState{seen: make(map[snowflake.ID]struct{})}
		c.convs[k] = st
	}

	if _, dup := st.seen[id]; dup {
		return false
	}
	if timestampMillis < st.watermark {
		return false
	}

	st.seen[id] = struct{}{}
	st.watermark = timestampMillis
	return true
}

// Forget drops a single id, called on confirmed deletions so a redelivered
// stale delete/insert pair cannot permanently block the id.
func (c *Cache) Forget(key models.ConversationKey, id snowflake.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st, ok := c.convs[key.String()]; ok {
		delete(st.seen, id)
	}
}

// Reset clears all tracked state for one conversation; called when its
// message list is discarded (view closed, pagination reset).
func (c *Cache) Reset(key models.ConversationKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.convs, key.String())
}

// Watermark returns the newest accepted timestamp for a conversation,
// or 0 if none.
func (c *Cache) Watermark(key models.ConversationKey) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st, ok := c.convs[key.String()]; ok {
		return st.watermark
	}
	return 0
}
