package eventbus

import (
	"sync"

	"github.com/LucasandAI/versus-app-sub001/internal/models"
)

// ActiveChanged is published when a conversation becomes active or inactive
// in the user's view.
type ActiveChanged struct {
	Key    models.ConversationKey
	Active bool
}

// ReadStatusChanged is published when the local read-through timestamp for a
// conversation advances.
type ReadStatusChanged struct {
	Key               models.ConversationKey
	ReadThroughMillis int64
}

// UnreadChanged is published whenever derived unread counts change.
type UnreadChanged struct {
	Counts models.UnreadCounts
}

// SyncWarning is published at most once per failed flush after items exceed
// the retry ceiling. It is the only user-facing signal for sync failures.
type SyncWarning struct {
	Dropped int
}

// FeedState is the connectivity state of a change-feed subscription.
type FeedState string

const (
	FeedConnecting FeedState = "connecting"
	FeedHealthy    FeedState = "healthy"
	FeedDegraded   FeedState = "degraded"
	FeedResetting  FeedState = "resetting"
)

// FeedStateChanged is published when a subscription's connectivity state
// transitions, so the UI layer can show a degraded-connection banner.
type FeedStateChanged struct {
	Scope string
	State FeedState
}

// Bus is the in-process typed event bus wiring the sync engine's components
// together. Delivery is synchronous on the publisher's goroutine; handlers
// must not block.
type Bus struct {
	mu         sync.RWMutex
	active     []func(ActiveChanged)
	readStatus []func(ReadStatusChanged)
	unread     []func(UnreadChanged)
	syncWarn   []func(SyncWarning)
	feedState  []func(FeedStateChanged)
}

func New() *Bus {
	return &Bus{}
}

func (b *Bus) SubscribeActive(fn func(ActiveChanged)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = append(b.active, fn)
}

func (b *Bus) PublishActive(ev ActiveChanged) {
	b.mu.RLock()
	handlers := b.active
	b.mu.RUnlock()
	for _, fn := range handlers {
		fn(ev)
	}
}

func (b *Bus) SubscribeReadStatus(fn func(ReadStatusChanged)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readStatus = append(b.readStatus, fn)
}

func (b *Bus) PublishReadStatus(ev ReadStatusChanged) {
	b.mu.RLock()
	handlers := b.readStatus
	b.mu.RUnlock()
	for _, fn := range handlers {
		fn(ev)
	}
}

func (b *Bus) SubscribeUnread(fn func(UnreadChanged)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unread = append(b.unread, fn)
}

func (b *Bus) PublishUnread(ev UnreadChanged) {
	b.mu.RLock()
	handlers := b.unread
	b.mu.RUnlock()
	for _, fn := range handlers {
		fn(ev)
	}
}

func (b *Bus) SubscribeSyncWarning(fn func(SyncWarning)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.syncWarn = append(b.syncWarn, fn)
}

func (b *Bus) PublishSyncWarning(ev SyncWarning) {
	b.mu.RLock()
	handlers := b.syncWarn
	b.mu.RUnlock()
	for _, fn := range handlers {
		fn(ev)
	}
}

func (b *Bus) SubscribeFeedState(fn func(FeedStateChanged)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.feedState = append(b.feedState, fn)
}

func (b *Bus) PublishFeedState(ev FeedStateChanged) {
	b.mu.RLock()
	handlers := b.feedState
	b.mu.RUnlock()
	for _, fn := range handlers {
		fn(ev)
	}
}
