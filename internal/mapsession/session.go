// Package mapsession coordinates debounced, policy-driven hotspot fetches for one map
// view per session.
package mapsession

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mohammed-shakir/hotspot-cache/internal/core/model"
	"github.com/mohammed-shakir/hotspot-cache/internal/core/observability"
	"github.com/mohammed-shakir/hotspot-cache/internal/hotspots"
	"github.com/mohammed-shakir/hotspot-cache/internal/logger"
	"github.com/mohammed-shakir/hotspot-cache/internal/policy"
)

// Resolver is the cache-aside lookup a session fetches through.
type Resolver interface {
	Lookup(ctx context.Context, q hotspots.Query) (hotspots.Result, error)
}

type Snapshot struct {
	Hotspots   []model.Hotspot `json:"hotspots"`
	Zoom       float64         `json:"zoom"`
	Category   policy.Category `json:"category,omitempty"`
	Generation uint64          `json:"generation"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type Options struct {
	Debounce time.Duration
	Policy   policy.Policy
	Country  string
	// Listener, if set, is called after every applied update, outside the session lock.
	Listener func(Snapshot)
	Now      func() time.Time
}

type Session struct {
	id       string
	resolver Resolver
	opts     Options
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	timer  *time.Timer
	seq    uint64
	issued uint64
	state  policy.State
	snap   Snapshot
	closed bool
}

func NewSession(id string, r Resolver, opts Options, log *slog.Logger) *Session {
	if opts.Debounce <= 0 {
		opts.Debounce = 700 * time.Millisecond
	}
	if opts.Policy == (policy.Policy{}) {
		opts.Policy = policy.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(logger.WithSessionID(context.Background(), id))
	return &Session{
		id:       id,
		resolver: r,
		opts:     opts,
		logger:   log,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Session) ID() string { return s.id }

// CameraMoved replaces any pending evaluation with one for this camera position, run
// after the debounce delay. An in-flight fetch is left running.
func (s *Session) CameraMoved(center model.LatLng, zoom float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.seq++
	seq := s.seq
	s.timer = time.AfterFunc(s.opts.Debounce, func() { s.evaluate(seq, center, zoom) })
}

func (s *Session) evaluate(seq uint64, center model.LatLng, zoom float64) {
	s.mu.Lock()
	// a later CameraMoved may have raced the timer firing
	if s.closed || seq != s.seq {
		s.mu.Unlock()
		return
	}
	d := s.opts.Policy.Decide(s.state, center, zoom)
	observability.ObservePolicyDecision(string(d.Category), d.Reason)

	if !d.Fetch {
		s.snap.Zoom = zoom
		snap := s.snap
		s.mu.Unlock()
		s.notify(snap)
		return
	}
	s.issued++
	gen := s.issued
	s.mu.Unlock()

	s.logger.DebugContext(s.ctx, "session fetch dispatched",
		"generation", gen, "category", string(d.Category), "reason", d.Reason,
		"center", center.String(), "zoom", zoom)

	res, err := s.resolver.Lookup(s.ctx, hotspots.Query{
		Center:   center,
		RadiusKm: d.Params.RadiusKm,
		Country:  s.opts.Country,
	})
	s.apply(gen, center, zoom, d, res, err)
}

func (s *Session) apply(gen uint64, center model.LatLng, zoom float64, d policy.Decision, res hotspots.Result, err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if gen != s.issued {
		s.mu.Unlock()
		observability.IncSessionFetchDiscarded()
		s.logger.DebugContext(s.ctx, "stale session fetch discarded", "generation", gen)
		return
	}
	if err != nil || res.Outcome == observability.OutcomeRemoteError {
		s.mu.Unlock()
		s.logger.WarnContext(s.ctx, "session fetch failed; keeping previous result",
			"generation", gen, "outcome", res.Outcome, "err", err)
		return
	}

	s.state = policy.State{
		LastCenter:    center,
		LastCategory:  d.Category,
		InitialLoaded: true,
		HasResult:     true,
	}
	s.snap = Snapshot{
		Hotspots:   policy.Rank(res.Hotspots, d.Params.Cap),
		Zoom:       zoom,
		Category:   d.Category,
		Generation: gen,
		UpdatedAt:  s.opts.Now(),
	}
	snap := s.snap
	s.mu.Unlock()
	s.notify(snap)
}

func (s *Session) notify(snap Snapshot) {
	if s.opts.Listener != nil {
		s.opts.Listener(snap)
	}
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *Session) State() policy.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops any pending evaluation and cancels in-flight fetches. Results arriving
// afterwards are ignored.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.cancel()
}
