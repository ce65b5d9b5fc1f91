package feed

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LucasandAI/versus-app-sub001/internal/dedup"
	"github.com/LucasandAI/versus-app-sub001/internal/eventbus"
	"github.com/LucasandAI/versus-app-sub001/internal/models"
)

const staleWindow = 30 * time.Second

// Options tunes subscription health tracking and reset behavior.
type Options struct {
	HealthInterval time.Duration
	CooldownMin    time.Duration
	CooldownMax    time.Duration
}

func (o Options) withDefaults() Options {
	if o.HealthInterval == 0 {
		o.HealthInterval = 15 * time.Second
	}
	if o.CooldownMin == 0 {
		o.CooldownMin = 1 * time.Second
	}
	if o.CooldownMax == 0 {
		o.CooldownMax = 3 * time.Second
	}
	return o
}

// Manager maintains one logical change-feed subscription per scope,
// detects transport-reported failures, and resubscribes with a cooldown.
// Every push flows through the dedup cache before touching conversation or
// unread state.
type Manager struct {
	transport Transport
	dedup     *dedup.Cache
	sink      Sink
	counter   Counter
	bus       *eventbus.Bus
	selfID    int64
	opts      Options

	// catchUp is invoked after a successful resubscription so an external
	// collaborator can backfill messages sent during the cooldown.
	catchUp func(ctx context.Context, filter Filter)

	mu     sync.Mutex
	scopes map[string]*scopeState
	closed bool

	stopHealth chan struct{}
	wg         sync.WaitGroup

	now   func() time.Time
	sleep func(time.Duration)
}

type scopeState struct {
	filter     Filter
	state      eventbus.FeedState
	sub        Subscription
	subID      string
	lastEvent  time.Time
	lastStatus Status
	needCatch  bool
	resetting  bool
}

func NewManager(
	transport Transport,
	dedupCache *dedup.Cache,
	sink Sink,
	counter Counter,
	bus *eventbus.Bus,
	selfID int64,
	catchUp func(ctx context.Context, filter Filter),
	opts Options,
) *Manager {
	m := &Manager{
		transport:  transport,
		dedup:      dedupCache,
		sink:       sink,
		counter:    counter,
		bus:        bus,
		selfID:     selfID,
		catchUp:    catchUp,
		opts:       opts.withDefaults(),
		scopes:     make(map[string]*scopeState),
		stopHealth: make(chan struct{}),
		now:        time.Now,
		sleep:      time.Sleep,
	}

	m.wg.Add(1)
	go m.healthLoop()

	return m
}

// Open establishes the logical subscription for a scope. Opening an
// already-open scope is a no-op.
func (m *Manager) Open(filter Filter) {
	label := filter.Label()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if _, ok := m.scopes[label]; ok {
		m.mu.Unlock()
		return
	}
	sc := &scopeState{filter: filter, state: eventbus.FeedConnecting}
	m.scopes[label] = sc
	m.mu.Unlock()

	m.bus.PublishFeedState(eventbus.FeedStateChanged{Scope: label, State: eventbus.FeedConnecting})
	m.connect(sc)
}

// CloseScope tears down one logical subscription. Used when the user
// navigates away from a direct conversation; the session owner discards the
// matching dedup state.
func (m *Manager) CloseScope(filter Filter) {
	label := filter.Label()

	m.mu.Lock()
	sc, ok := m.scopes[label]
	if ok {
		delete(m.scopes, label)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	if sc.sub != nil {
		sc.sub.Unsubscribe()
	}
}

// Close tears down every subscription and stops health tracking.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	scopes := make([]*scopeState, 0, len(m.scopes))
	for _, sc := range m.scopes {
		scopes = append(scopes, sc)
	}
	m.scopes = make(map[string]*scopeState)
	m.mu.Unlock()

	close(m.stopHealth)
	for _, sc := range scopes {
		if sc.sub != nil {
			sc.sub.Unsubscribe()
		}
	}
	m.wg.Wait()
}

// State returns the connectivity state of a scope.
func (m *Manager) State(filter Filter) eventbus.FeedState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sc, ok := m.scopes[filter.Label()]; ok {
		return sc.state
	}
	return ""
}

func (m *Manager) connect(sc *scopeState) {
	subID := uuid.NewString()

	m.mu.Lock()
	sc.subID = subID
	sc.lastStatus = StatusSubscribed
	m.mu.Unlock()

	sub, err := m.transport.Subscribe(context.Background(), subID, sc.filter, Handlers{
		OnInsert: func(ev models.MessageEvent) { m.handleInsert(sc, ev) },
		OnDelete: func(ev models.DeleteEvent) { m.handleDelete(sc, ev) },
		OnStatus: func(st Status) { m.handleStatus(sc, st) },
	})
	if err != nil {
		slog.Error("feed subscribe failed", "scope", sc.filter.Label(), "subID", subID, "error", err)
		m.mu.Lock()
		sc.lastStatus = StatusChannelError
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	sc.sub = sub
	m.mu.Unlock()
}

// handleStatus records transport status. SUBSCRIBED re-arms health
// tracking and, after a reset, triggers the catch-up fetch so messages
// sent during the cooldown are not lost.
func (m *Manager) handleStatus(sc *scopeState, st Status) {
	m.mu.Lock()
	sc.lastStatus = st
	var runCatchUp bool
	switch st {
	case StatusSubscribed:
		sc.state = eventbus.FeedHealthy
		sc.lastEvent = m.now()
		sc.resetting = false
		if sc.needCatch {
			sc.needCatch = false
			runCatchUp = m.catchUp != nil
		}
	case StatusChannelError, StatusTimedOut:
		slog.Warn("feed channel error", "scope", sc.filter.Label(), "subID", sc.subID, "status", st.String())
	}
	label := sc.filter.Label()
	state := sc.state
	filter := sc.filter
	m.mu.Unlock()

	if st == StatusSubscribed {
		m.bus.PublishFeedState(eventbus.FeedStateChanged{Scope: label, State: state})
	}
	if runCatchUp {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		m.catchUp(ctx, filter)
	}
}

// handleInsert is the push pipeline: validate, dedup, then conversation
// and unread state.
func (m *Manager) handleInsert(sc *scopeState, ev models.MessageEvent) {
	m.mu.Lock()
	sc.lastEvent = m.now()
	m.mu.Unlock()

	if ev.Key.IsZero() || ev.MessageID == 0 {
		// Malformed pushes never reach UI state.
		slog.Debug("dropping malformed insert", "scope", sc.filter.Label(), "event", ev)
		return
	}
	if ev.TimestampMillis == 0 {
		ev.TimestampMillis = ev.MessageID.Millis()
	}

	if !m.dedup.Accept(ev.Key, ev.MessageID, ev.TimestampMillis) {
		return
	}

	senderIsSelf := ev.SenderID == m.selfID

	// An already-read message is still displayed; it just never counts as
	// unread. The counter applies self/active/read-since suppression.
	m.sink.AppendMessage(ev.Key, models.Message{
		ID:              ev.MessageID,
		SenderID:        ev.SenderID,
		TimestampMillis: ev.TimestampMillis,
		Content:         ev.Content,
		Unread:          !senderIsSelf,
	})
	m.counter.OnInboundMessage(ev.Key, senderIsSelf, ev.TimestampMillis)
}

// handleDelete forgets the id so a redelivered delete/insert pair cannot
// block reinsertion, then removes the message. Deletions never adjust
// unread counts retroactively.
func (m *Manager) handleDelete(sc *scopeState, ev models.DeleteEvent) {
	m.mu.Lock()
	sc.lastEvent = m.now()
	m.mu.Unlock()

	if ev.Key.IsZero() || ev.MessageID == 0 {
		slog.Debug("dropping malformed delete", "scope", sc.filter.Label(), "event", ev)
		return
	}

	m.dedup.Forget(ev.Key, ev.MessageID)
	m.sink.RemoveMessage(ev.Key, ev.MessageID.Int64())
}

// healthLoop checks subscription health on a fixed interval. Silence alone
// never triggers a reset (no chat activity is normal); only a transport-
// reported error or timeout escalates to RESETTING. Prolonged silence is
// surfaced as DEGRADED for the UI's connectivity banner.
func (m *Manager) healthLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.opts.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.checkHealth()
		case <-m.stopHealth:
			return
		}
	}
}

func (m *Manager) checkHealth() {
	m.mu.Lock()
	var toReset []*scopeState
	var degraded []string
	for label, sc := range m.scopes {
		if sc.resetting {
			continue
		}
		switch sc.lastStatus {
		case StatusChannelError, StatusTimedOut:
			sc.resetting = true
			sc.state = eventbus.FeedResetting
			toReset = append(toReset, sc)
		case StatusSubscribed:
			if sc.state == eventbus.FeedHealthy && m.now().Sub(sc.lastEvent) > staleWindow {
				sc.state = eventbus.FeedDegraded
				degraded = append(degraded, label)
			}
		}
	}
	m.mu.Unlock()

	for _, label := range degraded {
		m.bus.PublishFeedState(eventbus.FeedStateChanged{Scope: label, State: eventbus.FeedDegraded})
	}
	for _, sc := range toReset {
		m.bus.PublishFeedState(eventbus.FeedStateChanged{Scope: sc.filter.Label(), State: eventbus.FeedResetting})
		m.wg.Add(1)
		go m.reset(sc)
	}
}

// reset tears down the channel, waits a jittered cooldown to avoid
// thrashing, and reopens with a freshly generated subscription id.
func (m *Manager) reset(sc *scopeState) {
	defer m.wg.Done()

	m.mu.Lock()
	sub := sc.sub
	sc.sub = nil
	sc.needCatch = true
	m.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}

	cooldown := m.opts.CooldownMin
	if spread := m.opts.CooldownMax - m.opts.CooldownMin; spread > 0 {
		cooldown += time.Duration(rand.Int63n(int64(spread)))
	}
	m.sleep(cooldown)

	m.mu.Lock()
	_, registered := m.scopes[sc.filter.Label()]
	gone := m.closed || !registered
	if !gone {
		sc.state = eventbus.FeedConnecting
	}
	m.mu.Unlock()
	if gone {
		// The scope was closed during the cooldown.
		return
	}

	m.bus.PublishFeedState(eventbus.FeedStateChanged{Scope: sc.filter.Label(), State: eventbus.FeedConnecting})
	m.connect(sc)
}
