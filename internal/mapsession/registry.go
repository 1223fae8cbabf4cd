package mapsession

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mohammed-shakir/hotspot-cache/internal/core/observability"
)

// Registry holds live sessions. Idle sessions expire after the TTL and the least
// recently used ones are evicted past capacity; either way they are closed.
type Registry struct {
	// mu serialises lookups against removals so a refresh never revives a closed session
	mu       sync.Mutex
	sessions *expirable.LRU[string, *Session]
	live     atomic.Int64
	resolver Resolver
	opts     Options
	logger   *slog.Logger
}

func NewRegistry(r Resolver, opts Options, capacity int, ttl time.Duration, log *slog.Logger) *Registry {
	reg := &Registry{resolver: r, opts: opts, logger: log}
	// runs under the LRU lock; must not call back into it
	onEvict := func(id string, s *Session) {
		s.Close()
		observability.SetSessionsActive(int(reg.live.Add(-1)))
		log.Debug("map session closed", "session_id", id)
	}
	reg.sessions = expirable.NewLRU[string, *Session](capacity, onEvict, ttl)
	return reg
}

func (r *Registry) Create() *Session {
	id := uuid.NewString()
	s := NewSession(id, r.resolver, r.opts, r.logger)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.live.Add(1)
	r.sessions.Add(id, s)
	r.report()
	return s
}

// Get returns the session and refreshes its TTL. Closed sessions are dropped and
// reported as missing.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions.Get(id)
	if !ok {
		return nil, false
	}
	if s.isClosed() {
		r.sessions.Remove(id)
		return nil, false
	}
	r.sessions.Add(id, s)
	if s.isClosed() {
		// expired between Get and Add, so Add inserted it again
		r.live.Add(1)
		r.sessions.Remove(id)
		return nil, false
	}
	return s, true
}

func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions.Remove(id)
}

func (r *Registry) Len() int { return r.sessions.Len() }

// Close closes every session.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions.Purge()
}

// Active is the number of sessions created and not yet closed by the registry.
func (r *Registry) Active() int { return int(r.live.Load()) }

func (r *Registry) report() {
	observability.SetSessionsActive(r.Active())
}
