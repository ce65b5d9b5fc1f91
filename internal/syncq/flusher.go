package syncq

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/LucasandAI/versus-app-sub001/internal/eventbus"
	"github.com/LucasandAI/versus-app-sub001/internal/models"
)

// RemoteMarkerStore is the remote durable store of read markers. The upsert
// is idempotent, keyed by (user, conversation).
type RemoteMarkerStore interface {
	UpsertReadMarkers(ctx context.Context, userID int64, batch []models.ReadMarker) error
}

// Options tunes the coalesced sync service. Zero fields fall back to the
// observed production defaults.
type Options struct {
	Debounce      time.Duration
	BatchSize     int
	MaxRetries    int
	RemoteTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Debounce == 0 {
		o.Debounce = 500 * time.Millisecond
	}
	if o.BatchSize == 0 {
		o.BatchSize = 10
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.RemoteTimeout == 0 {
		o.RemoteTimeout = 5 * time.Second
	}
	return o
}

// Flusher is the coalesced sync service: it debounces and batches pending
// read-marker writes to the remote store, retries with a ceiling, and
// raises at most one user-facing warning per failed flush.
//
// Remote calls run on their own goroutine so a slow confirmation write
// never stalls delivery of subsequent events.
type Flusher struct {
	queue  *Queue
	remote RemoteMarkerStore
	bus    *eventbus.Bus
	opts   Options
	userID int64

	mu       sync.Mutex
	timer    *time.Timer
	inFlight bool
	rerun    bool
	closed   bool
}

func NewFlusher(queue *Queue, remote RemoteMarkerStore, bus *eventbus.Bus, userID int64, opts Options) *Flusher {
	return &Flusher{
		queue:  queue,
		remote: remote,
		bus:    bus,
		opts:   opts.withDefaults(),
		userID: userID,
	}
}

// Enqueue records a pending read-marker write and schedules a debounced
// flush. Implements readstate.Enqueuer.
func (f *Flusher) Enqueue(key models.ConversationKey, readThroughMillis int64) {
	f.queue.Upsert(key, readThroughMillis)
	f.Flush(false)
}

// Flush triggers a flush of the queue. With immediate=false the flush is
// debounced; an already-armed timer is left as is, so bursts of enqueues
// collapse into one remote call. With immediate=true the debounce timer is
// cancelled and the flush starts now — used when the user is actively
// viewing a conversation to minimize visible staleness.
func (f *Flusher) Flush(immediate bool) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}

	if immediate {
		if f.timer != nil {
			f.timer.Stop()
			f.timer = nil
		}
		f.mu.Unlock()
		go f.flushNow()
		return
	}

	if f.timer == nil {
		f.timer = time.AfterFunc(f.opts.Debounce, func() {
			f.mu.Lock()
			f.timer = nil
			f.mu.Unlock()
			f.flushNow()
		})
	}
	f.mu.Unlock()
}

// Close performs one best-effort immediate flush and stops the timer.
// Fire and forget: shutdown does not wait for the remote call.
func (f *Flusher) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.mu.Unlock()

	go f.flushNow()
}

// flushNow performs one flush cycle: take a batch, attempt the remote
// upsert, reconcile the outcome back into the queue. Only one cycle runs at
// a time; a request arriving mid-flight schedules a follow-up cycle.
func (f *Flusher) flushNow() {
	f.mu.Lock()
	if f.inFlight {
		f.rerun = true
		f.mu.Unlock()
		return
	}
	f.inFlight = true
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight = false
		again := f.rerun
		f.rerun = false
		closed := f.closed
		f.mu.Unlock()

		if again && !closed {
			f.flushNow()
		} else if !closed && f.queue.Len() > 0 {
			// Failed or superseded items retry on the next debounce tick;
			// the interval itself throttles retry frequency.
			f.Flush(false)
		}
	}()

	batch := f.queue.Take(f.opts.BatchSize)
	if len(batch) == 0 {
		return
	}

	markers := make([]models.ReadMarker, len(batch))
	for i, it := range batch {
		markers[i] = models.ReadMarker{Key: it.Key, ReadThroughMillis: it.ReadThroughMillis}
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.opts.RemoteTimeout)
	err := f.remote.UpsertReadMarkers(ctx, f.userID, markers)
	cancel()

	if err != nil {
		dropped := f.queue.Fail(batch, f.opts.MaxRetries)
		slog.Warn("read marker sync failed", "userID", f.userID, "batch", len(batch), "dropped", dropped, "error", err)
		if dropped > 0 {
			// One aggregate warning per flush, not per item, to avoid
			// notification storms.
			f.bus.PublishSyncWarning(eventbus.SyncWarning{Dropped: dropped})
		}
		return
	}

	f.queue.Confirm(batch)
}
