package syncq

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/LucasandAI/versus-app-sub001/internal/kvstore"
	"github.com/LucasandAI/versus-app-sub001/internal/models"
)

// Queue is the durable, at-least-once work list of read markers awaiting
// remote confirmation. At most one entry exists per conversation key:
// enqueuing collapses onto the most recent timestamp, so intermediate
// values are never synced.
type Queue struct {
	mu     sync.Mutex
	items  map[string]*models.QueuedSync
	gen    uint64
	kv     kvstore.Store
	userID int64

	// persistMu serializes writes to the durable store.
	persistMu sync.Mutex
}

func NewQueue(kv kvstore.Store, userID int64) *Queue {
	return &Queue{
		items:  make(map[string]*models.QueuedSync),
		kv:     kv,
		userID: userID,
	}
}

func (q *Queue) persistKey() string {
	return "sync_queue:" + strconv.FormatInt(q.userID, 10)
}

// Load hydrates pending syncs from the durable store so unconfirmed writes
// survive restarts.
func (q *Queue) Load(ctx context.Context) {
	raw, err := q.kv.Get(ctx, q.persistKey())
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			slog.Error("loading sync queue", "userID", q.userID, "error", err)
		}
		return
	}

	var items map[string]*models.QueuedSync
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		slog.Error("corrupt sync queue blob, starting fresh", "userID", q.userID, "error", err)
		return
	}

	q.mu.Lock()
	for k, it := range items {
		it.State = models.SyncPending
		q.items[k] = it
	}
	q.mu.Unlock()
}

// Upsert records a pending sync, collapsing onto max(existing, millis).
// A fresh write resets the retry count: the new timestamp has not failed yet.
func (q *Queue) Upsert(key models.ConversationKey, millis int64) {
	k := key.String()

	q.mu.Lock()
	existing, ok := q.items[k]
	if ok && existing.ReadThroughMillis >= millis {
		q.mu.Unlock()
		return
	}
	q.items[k] = &models.QueuedSync{
		Key:               key,
		ReadThroughMillis: millis,
		State:             models.SyncPending,
	}
	q.mu.Unlock()

	q.persist()
}

// Take marks up to limit pending items as SYNCING and returns snapshots of
// them for a flush attempt.
func (q *Queue) Take(limit int) []models.QueuedSync {
	q.mu.Lock()
	defer q.mu.Unlock()

	batch := make([]models.QueuedSync, 0, limit)
	for _, it := range q.items {
		if it.State != models.SyncPending {
			continue
		}
		it.State = models.SyncSyncing
		batch = append(batch, *it)
		if len(batch) == limit {
			break
		}
	}
	return batch
}

// Confirm removes items whose timestamp is unchanged since the snapshot was
// taken. An item that was re-upserted with a newer timestamp during the
// flight stays queued for the next flush.
func (q *Queue) Confirm(batch []models.QueuedSync) {
	q.mu.Lock()
	for _, snap := range batch {
		k := snap.Key.String()
		cur, ok := q.items[k]
		if !ok {
			continue
		}
		if cur.ReadThroughMillis == snap.ReadThroughMillis {
			delete(q.items, k)
		} else {
			cur.State = models.SyncPending
		}
	}
	q.mu.Unlock()

	q.persist()
}

// Fail returns a failed batch to PENDING with incremented retry counts and
// drops items that exceeded maxRetries. It returns the number dropped.
func (q *Queue) Fail(batch []models.QueuedSync, maxRetries int) int {
	dropped := 0

	q.mu.Lock()
	for _, snap := range batch {
		k := snap.Key.String()
		cur, ok := q.items[k]
		if !ok {
			continue
		}
		if cur.ReadThroughMillis != snap.ReadThroughMillis {
			// Superseded mid-flight; the fresh value starts over.
			cur.State = models.SyncPending
			continue
		}
		cur.RetryCount++
		if cur.RetryCount > maxRetries {
			delete(q.items, k)
			dropped++
			continue
		}
		cur.State = models.SyncPending
	}
	q.mu.Unlock()

	q.persist()
	return dropped
}

// Len returns the number of queued items in any state.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pending returns a snapshot of the queued item for a key, or nil.
func (q *Queue) Pending(key models.ConversationKey) *models.QueuedSync {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.items[key.String()]
	if !ok {
		return nil
	}
	snap := *it
	return &snap
}

func (q *Queue) persist() {
	q.mu.Lock()
	q.gen++
	gen := q.gen
	blob, err := json.Marshal(q.items)
	q.mu.Unlock()
	if err != nil {
		return
	}

	q.persistSnapshot(gen, blob)
}

// persistSnapshot writes one marshaled snapshot. Writes are serialized and a
// snapshot superseded while waiting is skipped, so an older blob can never
// land in the store after a newer one.
func (q *Queue) persistSnapshot(gen uint64, blob []byte) {
	q.persistMu.Lock()
	defer q.persistMu.Unlock()

	q.mu.Lock()
	stale := gen != q.gen
	q.mu.Unlock()
	if stale {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.kv.Set(ctx, q.persistKey(), string(blob)); err != nil {
		slog.Error("persisting sync queue", "userID", q.userID, "error", err)
	}
}
