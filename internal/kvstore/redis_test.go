package kvstore

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := NewRedis("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("creating test redis store: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRedis_SetGetRoundTrip(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()

	if err := r.Set(ctx, "read_markers:42", `{"club:1":1000}`); err != nil {
		t.Fatalf("Set: %v", err)
	}

	val, err := r.Get(ctx, "read_markers:42")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if val != `{"club:1":1000}` {
		t.Errorf("Get = %q, want %q", val, `{"club:1":1000}`)
	}
}

func TestRedis_GetMissingReturnsErrNotFound(t *testing.T) {
	r := newTestRedis(t)

	_, err := r.Get(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get error = %v, want ErrNotFound", err)
	}
}

func TestRedis_DeleteRemovesKey(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()

	if err := r.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := r.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := r.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestMemory_BehavesLikeRedis(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get on empty store = %v, want ErrNotFound", err)
	}
	if err := m.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	val, err := m.Get(ctx, "k")
	if err != nil || val != "v" {
		t.Errorf("Get = %q, %v, want %q, nil", val, err, "v")
	}
	if err := m.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
}
