package engine

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/LucasandAI/versus-app-sub001/internal/active"
	"github.com/LucasandAI/versus-app-sub001/internal/dedup"
	"github.com/LucasandAI/versus-app-sub001/internal/eventbus"
	"github.com/LucasandAI/versus-app-sub001/internal/feed"
	"github.com/LucasandAI/versus-app-sub001/internal/kvstore"
	"github.com/LucasandAI/versus-app-sub001/internal/models"
	"github.com/LucasandAI/versus-app-sub001/internal/readstate"
	"github.com/LucasandAI/versus-app-sub001/internal/syncq"
	"github.com/LucasandAI/versus-app-sub001/internal/unread"
)

// Remote is the authoritative Versus data service as the engine sees it.
type Remote interface {
	UpsertReadMarkers(ctx context.Context, userID int64, batch []models.ReadMarker) error
	FetchUnreadCounts(ctx context.Context, userID int64) (models.UnreadCounts, error)
	MessagesSince(ctx context.Context, key models.ConversationKey, sinceMillis int64, limit int) ([]models.Message, error)
}

// Options tunes one engine session. Zero fields fall back to production
// defaults.
type Options struct {
	ActiveTTL         time.Duration
	ReconcileInterval time.Duration
	RemoteTimeout     time.Duration
	CatchUpLimit      int
	Sync              syncq.Options
	Feed              feed.Options
}

func (o Options) withDefaults() Options {
	if o.ReconcileInterval == 0 {
		o.ReconcileInterval = 5 * time.Minute
	}
	if o.RemoteTimeout == 0 {
		o.RemoteTimeout = 5 * time.Second
	}
	if o.CatchUpLimit == 0 {
		o.CatchUpLimit = 100
	}
	return o
}

// Engine owns all sync state for one user session: read markers, the sync
// queue, active-conversation tracking, unread counts, dedup, and the change
// feed. Cross-component signals travel over the session's event bus; the
// engine itself only orchestrates.
type Engine struct {
	userID int64
	bus    *eventbus.Bus
	remote Remote
	opts   Options

	reads   *readstate.Store
	queue   *syncq.Queue
	flusher *syncq.Flusher
	tracker *active.Tracker
	unread  *unread.Aggregator
	dedup   *dedup.Cache
	feed    *feed.Manager

	mu       sync.Mutex
	messages map[string][]models.Message

	stopReconcile chan struct{}
	wg            sync.WaitGroup
	startOnce     sync.Once
	stopOnce      sync.Once
}

func New(userID int64, kv kvstore.Store, remote Remote, transport feed.Transport, bus *eventbus.Bus, opts Options) *Engine {
	opts = opts.withDefaults()

	e := &Engine{
		userID:        userID,
		bus:           bus,
		remote:        remote,
		opts:          opts,
		messages:      make(map[string][]models.Message),
		stopReconcile: make(chan struct{}),
	}

	e.queue = syncq.NewQueue(kv, userID)
	e.flusher = syncq.NewFlusher(e.queue, remote, bus, userID, opts.Sync)
	e.reads = readstate.NewStore(kv, bus, e.flusher, userID)
	e.tracker = active.NewTracker(bus, opts.ActiveTTL)
	e.unread = unread.NewAggregator(bus, e.tracker, e.reads)
	e.dedup = dedup.NewCache()
	e.feed = feed.NewManager(transport, e.dedup, e, e.unread, bus, userID, e.catchUp, opts.Feed)

	return e
}

// Bus returns the session's event bus for UI-facing subscriptions.
func (e *Engine) Bus() *eventbus.Bus {
	return e.bus
}

// Start hydrates durable state, opens the clubs-wide feed subscription, runs
// an initial reconcile, and starts the periodic reconcile loop. Safe to call
// once per session.
func (e *Engine) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		e.reads.Load(ctx)
		e.queue.Load(ctx)
		// Pending syncs from a previous session flush on the normal
		// debounce schedule.
		e.flusher.Flush(false)

		e.feed.Open(feed.Filter{UserID: e.userID, Scope: feed.ScopeClubs})

		e.reconcileOnce()

		e.wg.Add(1)
		go e.reconcileLoop()
	})
}

// Shutdown flushes pending syncs best-effort and tears the session down.
func (e *Engine) Shutdown() {
	e.stopOnce.Do(func() {
		close(e.stopReconcile)
		e.wg.Wait()
		e.feed.Close()
		e.tracker.ClearAll()
		e.flusher.Close()
	})
}

// OpenConversation marks the conversation active, acknowledges it as read
// through now, and flushes the marker immediately so other devices converge
// while the user is looking at the conversation. Direct conversations also
// get their own feed subscription. Re-opening refreshes the active TTL.
func (e *Engine) OpenConversation(key models.ConversationKey) {
	e.tracker.SetActive(key)
	e.reads.MarkRead(key)
	e.flusher.Flush(true)

	if key.Kind == models.KindDirect {
		e.feed.Open(feed.Filter{UserID: e.userID, Scope: feed.ScopeDirect, Key: key})
	}
}

// CloseConversation clears the active record when the user navigates away
// and releases the conversation's session state: the in-memory message list
// and the dedup cache go together, so a later reopen starts from a clean
// fetch instead of a half-remembered one.
func (e *Engine) CloseConversation(key models.ConversationKey) {
	e.tracker.ClearActive(key)

	if key.Kind == models.KindDirect {
		e.feed.CloseScope(feed.Filter{UserID: e.userID, Scope: feed.ScopeDirect, Key: key})
	}

	e.mu.Lock()
	delete(e.messages, key.String())
	e.mu.Unlock()
	e.dedup.Reset(key)
}

// MarkConversationRead acknowledges a conversation without activating it,
// e.g. a swipe-to-read gesture on the conversation list.
func (e *Engine) MarkConversationRead(key models.ConversationKey) {
	e.reads.MarkRead(key)
}

// MarkConversationReadAt acknowledges a conversation through an explicit
// timestamp. Older timestamps than the stored marker are ignored.
func (e *Engine) MarkConversationReadAt(key models.ConversationKey, atMillis int64) {
	e.reads.MarkReadAt(key, atMillis)
}

// Counts returns the current derived unread snapshot.
func (e *Engine) Counts() models.UnreadCounts {
	return e.unread.Counts()
}

// ReadThrough returns the local read-through timestamp for a conversation.
func (e *Engine) ReadThrough(key models.ConversationKey) int64 {
	return e.reads.ReadThrough(key)
}

// Messages returns a snapshot of the in-memory message list for a
// conversation, oldest first.
func (e *Engine) Messages(key models.ConversationKey) []models.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	list := e.messages[key.String()]
	out := make([]models.Message, len(list))
	copy(out, list)
	return out
}

// FeedState reports the connectivity state of the clubs-wide subscription.
func (e *Engine) FeedState() eventbus.FeedState {
	return e.feed.State(feed.Filter{UserID: e.userID, Scope: feed.ScopeClubs})
}

// AppendMessage adds an accepted message to the conversation's list,
// keeping timestamp order. Implements feed.Sink. A message already covered
// by the local read marker displays as read even if the push claims
// otherwise.
func (e *Engine) AppendMessage(key models.ConversationKey, msg models.Message) {
	if msg.Unread && e.reads.IsReadSince(key, msg.TimestampMillis) {
		msg.Unread = false
	}

	k := key.String()
	e.mu.Lock()
	list := e.messages[k]
	if n := len(list); n > 0 && list[n-1].TimestampMillis > msg.TimestampMillis {
		// Catch-up backfill can interleave with live pushes.
		i := sort.Search(n, func(i int) bool {
			return list[i].TimestampMillis > msg.TimestampMillis
		})
		list = append(list, models.Message{})
		copy(list[i+1:], list[i:])
		list[i] = msg
	} else {
		list = append(list, msg)
	}
	e.messages[k] = list
	e.mu.Unlock()
}

// RemoveMessage deletes a message from the conversation's list. Implements
// feed.Sink. Unread counts are never decremented retroactively.
func (e *Engine) RemoveMessage(key models.ConversationKey, id int64) {
	k := key.String()
	e.mu.Lock()
	list := e.messages[k]
	for i, m := range list {
		if m.ID.Int64() == id {
			e.messages[k] = append(list[:i], list[i+1:]...)
			break
		}
	}
	e.mu.Unlock()
}

// catchUp backfills messages missed while a subscription was being reset.
// Fetched messages replay through the same dedup and unread pipeline as live
// pushes, so the backfill can never double-count.
func (e *Engine) catchUp(ctx context.Context, filter feed.Filter) {
	keys := e.catchUpKeys(filter)
	for _, key := range keys {
		since := e.dedup.Watermark(key)
		msgs, err := e.remote.MessagesSince(ctx, key, since, e.opts.CatchUpLimit)
		if err != nil {
			slog.Warn("catch-up fetch failed", "userID", e.userID, "conversation", key.String(), "error", err)
			continue
		}
		for _, m := range msgs {
			if !e.dedup.Accept(key, m.ID, m.TimestampMillis) {
				continue
			}
			senderIsSelf := m.SenderID == e.userID
			m.Unread = !senderIsSelf
			e.AppendMessage(key, m)
			e.unread.OnInboundMessage(key, senderIsSelf, m.TimestampMillis)
		}
	}

	// The gap may also have dropped acks from other devices; reconcile
	// counts against the authoritative store.
	e.reconcileOnce()
}

func (e *Engine) catchUpKeys(filter feed.Filter) []models.ConversationKey {
	if filter.Scope == feed.ScopeDirect {
		return []models.ConversationKey{filter.Key}
	}

	// Clubs-wide scope: backfill every club conversation this session has
	// seen messages for.
	e.mu.Lock()
	defer e.mu.Unlock()
	var keys []models.ConversationKey
	for k := range e.messages {
		key, err := models.ParseConversationKey(k)
		if err != nil || key.Kind != models.KindClub {
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// reconcileLoop corrects unread drift against the remote store on a slow
// cadence.
func (e *Engine) reconcileLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.opts.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.reconcileOnce()
		case <-e.stopReconcile:
			return
		}
	}
}

// reconcileOnce fetches authoritative counts and replaces local state.
// Fail-open: a fetch error keeps the optimistic local counts rather than
// blanking badges.
func (e *Engine) reconcileOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), e.opts.RemoteTimeout)
	defer cancel()

	counts, err := e.remote.FetchUnreadCounts(ctx, e.userID)
	if err != nil {
		slog.Warn("unread reconcile failed", "userID", e.userID, "error", err)
		return
	}
	e.unread.Reconcile(counts)
}
