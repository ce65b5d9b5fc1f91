package unread

import (
	"sync"

	"github.com/LucasandAI/versus-app-sub001/internal/eventbus"
	"github.com/LucasandAI/versus-app-sub001/internal/models"
)

// ActiveChecker reports whether the user is currently viewing a
// conversation. Implemented by the active tracker.
type ActiveChecker interface {
	IsActive(key models.ConversationKey) bool
}

// ReadChecker reports whether a message timestamp is already covered by the
// local read-through marker. Implemented by the read-status store.
type ReadChecker interface {
	IsReadSince(key models.ConversationKey, messageMillis int64) bool
}

// Aggregator derives per-conversation and total unread counts. Counts are
// optimistic local state, corrected periodically against the remote
// authoritative counts via Reconcile.
//
// The aggregator is the sole writer of exposed count state. It reacts to
// ActiveChanged and ReadStatusChanged on the bus so opening or acking a
// conversation zeroes its badge immediately, before any remote round trip.
type Aggregator struct {
	mu     sync.Mutex
	counts map[string]int

	active ActiveChecker
	reads  ReadChecker
	bus    *eventbus.Bus
}

func NewAggregator(bus *eventbus.Bus, active ActiveChecker, reads ReadChecker) *Aggregator {
	a := &Aggregator{
		counts: make(map[string]int),
		active: active,
		reads:  reads,
		bus:    bus,
	}

	bus.SubscribeActive(func(ev eventbus.ActiveChanged) {
		if ev.Active {
			a.OnMarkedRead(ev.Key)
		}
	})
	bus.SubscribeReadStatus(func(ev eventbus.ReadStatusChanged) {
		a.OnMarkedRead(ev.Key)
	})

	return a
}

// OnInboundMessage counts an accepted inbound message as unread unless the
// sender is the user, the conversation is open in their view, or the local
// marker already covers the message's timestamp.
func (a *Aggregator) OnInboundMessage(key models.ConversationKey, senderIsSelf bool, messageMillis int64) {
	if senderIsSelf {
		return
	}
	if a.active.IsActive(key) {
		return
	}
	if a.reads.IsReadSince(key, messageMillis) {
		return
	}

	a.mu.Lock()
	a.counts[key.String()]++
	snapshot := a.snapshotLocked()
	a.mu.Unlock()

	a.bus.PublishUnread(eventbus.UnreadChanged{Counts: snapshot})
}

// OnMarkedRead zeroes the conversation's counter optimistically, without
// waiting for the remote sync to confirm.
func (a *Aggregator) OnMarkedRead(key models.ConversationKey) {
	k := key.String()

	a.mu.Lock()
	if a.counts[k] == 0 {
		a.mu.Unlock()
		return
	}
	delete(a.counts, k)
	snapshot := a.snapshotLocked()
	a.mu.Unlock()

	a.bus.PublishUnread(eventbus.UnreadChanged{Counts: snapshot})
}

// Reconcile replaces locally derived counts with the remote authoritative
// snapshot, correcting drift from missed events or clock skew. A
// conversation the user is currently viewing is held at zero regardless of
// the reconciled value: its remote count may lag local truth, and the badge
// must not flicker.
func (a *Aggregator) Reconcile(remote models.UnreadCounts) {
	a.mu.Lock()
	a.counts = make(map[string]int, len(remote.PerConversation))
	for k, n := range remote.PerConversation {
		if n <= 0 {
			continue
		}
		key, err := models.ParseConversationKey(k)
		if err != nil {
			continue
		}
		if a.active.IsActive(key) {
			continue
		}
		a.counts[k] = n
	}
	snapshot := a.snapshotLocked()
	a.mu.Unlock()

	a.bus.PublishUnread(eventbus.UnreadChanged{Counts: snapshot})
}

// Counts returns the current derived unread snapshot.
func (a *Aggregator) Counts() models.UnreadCounts {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

// Count returns the unread count for one conversation.
func (a *Aggregator) Count(key models.ConversationKey) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts[key.String()]
}

func (a *Aggregator) snapshotLocked() models.UnreadCounts {
	out := models.UnreadCounts{PerConversation: make(map[string]int, len(a.counts))}
	for k, n := range a.counts {
		out.PerConversation[k] = n
		out.Total += n
		if key, err := models.ParseConversationKey(k); err == nil {
			switch key.Kind {
			case models.KindDirect:
				out.Direct += n
			case models.KindClub:
				out.Clubs += n
			}
		}
	}
	return out
}
