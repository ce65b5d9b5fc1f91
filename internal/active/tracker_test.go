package active

import (
	"testing"
	"time"

	"github.com/LucasandAI/versus-app-sub001/internal/eventbus"
	"github.com/LucasandAI/versus-app-sub001/internal/models"
)

func newTestTracker(t *testing.T) (*Tracker, *time.Time) {
	t.Helper()
	now := time.Now()
	tr := NewTracker(eventbus.New(), DefaultTTL)
	tr.now = func() time.Time { return now }
	return tr, &now
}

func TestSetActive_IsActive(t *testing.T) {
	tr, _ := newTestTracker(t)
	k := models.ClubKey(42)

	if tr.IsActive(k) {
		t.Error("IsActive before SetActive = true, want false")
	}

	tr.SetActive(k)

	if !tr.IsActive(k) {
		t.Error("IsActive after SetActive = false, want true")
	}
	if tr.IsActive(models.ClubKey(99)) {
		t.Error("unrelated conversation reported active")
	}
}

func TestIsActive_ExpiresAfterTTL(t *testing.T) {
	tr, now := newTestTracker(t)
	k := models.ClubKey(42)

	tr.SetActive(k)

	*now = now.Add(DefaultTTL - time.Second)
	if !tr.IsActive(k) {
		t.Error("IsActive just under TTL = false, want true")
	}

	*now = now.Add(2 * time.Second)
	if tr.IsActive(k) {
		t.Error("IsActive past TTL = true, want false (stale flag must self-expire)")
	}
}

func TestSetActive_RefreshesTTL(t *testing.T) {
	tr, now := newTestTracker(t)
	k := models.DirectKey(7)

	tr.SetActive(k)
	*now = now.Add(4 * time.Minute)
	tr.SetActive(k) // further activity refreshes
	*now = now.Add(4 * time.Minute)

	if !tr.IsActive(k) {
		t.Error("IsActive = false, want true (refresh should have reset the TTL)")
	}
}

func TestClearActive(t *testing.T) {
	tr, _ := newTestTracker(t)
	k := models.ClubKey(1)

	tr.SetActive(k)
	tr.ClearActive(k)

	if tr.IsActive(k) {
		t.Error("IsActive after ClearActive = true, want false")
	}
}

func TestClearAll(t *testing.T) {
	tr, _ := newTestTracker(t)

	tr.SetActive(models.ClubKey(1))
	tr.SetActive(models.DirectKey(2))
	tr.ClearAll()

	if tr.IsActive(models.ClubKey(1)) || tr.IsActive(models.DirectKey(2)) {
		t.Error("conversations still active after ClearAll")
	}
}

func TestSetActive_BroadcastsActiveChanged(t *testing.T) {
	bus := eventbus.New()
	tr := NewTracker(bus, DefaultTTL)
	k := models.ClubKey(42)

	var events []eventbus.ActiveChanged
	bus.SubscribeActive(func(ev eventbus.ActiveChanged) { events = append(events, ev) })

	tr.SetActive(k)
	tr.ClearActive(k)
	tr.ClearActive(k) // second clear is a no-op

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if !events[0].Active || events[1].Active {
		t.Errorf("events = %+v, want active then inactive", events)
	}
}

func TestActiveKeys_PrunesExpired(t *testing.T) {
	tr, now := newTestTracker(t)

	tr.SetActive(models.ClubKey(1))
	*now = now.Add(DefaultTTL + time.Second)
	tr.SetActive(models.DirectKey(2))

	keys := tr.ActiveKeys()
	if len(keys) != 1 || keys[0] != "direct:2" {
		t.Errorf("ActiveKeys = %v, want [direct:2]", keys)
	}
}
