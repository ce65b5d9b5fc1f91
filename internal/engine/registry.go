package engine

import (
	"context"
	"sync"

	"github.com/LucasandAI/versus-app-sub001/internal/eventbus"
	"github.com/LucasandAI/versus-app-sub001/internal/feed"
	"github.com/LucasandAI/versus-app-sub001/internal/kvstore"
)

// Registry holds one running engine per user. Engines are created lazily on
// first use and started immediately.
type Registry struct {
	kv        kvstore.Store
	remote    Remote
	transport feed.Transport
	opts      Options

	mu      sync.Mutex
	engines map[int64]*Engine
}

func NewRegistry(kv kvstore.Store, remote Remote, transport feed.Transport, opts Options) *Registry {
	return &Registry{
		kv:        kv,
		remote:    remote,
		transport: transport,
		opts:      opts,
		engines:   make(map[int64]*Engine),
	}
}

// Get returns the user's engine, creating and starting it on first access.
func (r *Registry) Get(ctx context.Context, userID int64) *Engine {
	r.mu.Lock()
	e, ok := r.engines[userID]
	if !ok {
		e = New(userID, r.kv, r.remote, r.transport, eventbus.New(), r.opts)
		r.engines[userID] = e
	}
	r.mu.Unlock()

	if !ok {
		e.Start(ctx)
	}
	return e
}

// Remove shuts down and forgets the user's engine, if any.
func (r *Registry) Remove(userID int64) {
	r.mu.Lock()
	e, ok := r.engines[userID]
	delete(r.engines, userID)
	r.mu.Unlock()

	if ok {
		e.Shutdown()
	}
}

// Shutdown stops every engine. Each shutdown performs a best-effort flush of
// its pending read-marker syncs.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	engines := make([]*Engine, 0, len(r.engines))
	for _, e := range r.engines {
		engines = append(engines, e)
	}
	r.engines = make(map[int64]*Engine)
	r.mu.Unlock()

	for _, e := range engines {
		e.Shutdown()
	}
}
