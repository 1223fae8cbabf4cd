// Package hotspots resolves hotspots around a point, serving fresh records from the
// local store and falling back to the remote geo-search on a miss.
package hotspots

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mohammed-shakir/hotspot-cache/internal/core/model"
	"github.com/mohammed-shakir/hotspot-cache/internal/core/observability"
	"github.com/mohammed-shakir/hotspot-cache/internal/geo"
	"github.com/mohammed-shakir/hotspot-cache/internal/logger"
	"github.com/mohammed-shakir/hotspot-cache/internal/resolveevents"
	"github.com/mohammed-shakir/hotspot-cache/internal/store"
)

// Remote is the upstream geo-search.
type Remote interface {
	HotspotsNear(ctx context.Context, center model.LatLng, radiusKm float64) ([]model.Hotspot, error)
}

type EventSink interface {
	Publish(ev resolveevents.Event)
}

type Config struct {
	MaxAge         time.Duration
	DefaultCountry string
}

type Query struct {
	Center   model.LatLng
	RadiusKm float64
	Country  string
}

func (q Query) Validate() error {
	if q.Center.Lat < -90 || q.Center.Lat > 90 {
		return fmt.Errorf("lat %v out of range [-90,90]", q.Center.Lat)
	}
	if q.Center.Lng < -180 || q.Center.Lng > 180 {
		return fmt.Errorf("lng %v out of range [-180,180]", q.Center.Lng)
	}
	if q.RadiusKm <= 0 {
		return fmt.Errorf("radius_km must be positive, got %v", q.RadiusKm)
	}
	return nil
}

type Result struct {
	Hotspots []model.Hotspot
	Outcome  string
}

type Repository struct {
	cfg    Config
	store  store.Store
	remote Remote
	events EventSink
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Repository)

func WithEventSink(s EventSink) Option {
	return func(r *Repository) { r.events = s }
}

func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

func NewRepository(cfg Config, st store.Store, remote Remote, logger *slog.Logger, opts ...Option) *Repository {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 24 * time.Hour
	}
	r := &Repository{
		cfg:    cfg,
		store:  st,
		remote: remote,
		logger: logger,
		now:    time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns the hotspots around q.Center. A remote failure yields an empty list
// and no error; store failures are returned.
func (r *Repository) Resolve(ctx context.Context, q Query) ([]model.Hotspot, error) {
	res, err := r.Lookup(ctx, q)
	if err != nil {
		return nil, err
	}
	return res.Hotspots, nil
}

func (r *Repository) Lookup(ctx context.Context, q Query) (Result, error) {
	now := r.now()
	box := geo.BoundingBox(q.Center, q.RadiusKm)
	country := r.country(q)

	cached, err := r.store.InBox(ctx, box, now.Add(-r.cfg.MaxAge))
	if err != nil {
		return Result{}, fmt.Errorf("read local hotspots in %s: %w", box, err)
	}
	if len(cached) > 0 {
		return r.finish(ctx, q, Result{Hotspots: filterCountry(cached, country), Outcome: observability.OutcomeHit}, now), nil
	}

	remote, err := r.remote.HotspotsNear(ctx, q.Center, q.RadiusKm)
	if err != nil {
		r.logger.WarnContext(ctx, "remote hotspot fetch failed",
			"center", q.Center.String(), "radius_km", q.RadiusKm, "err", err)
		return r.finish(ctx, q, Result{Hotspots: []model.Hotspot{}, Outcome: observability.OutcomeRemoteError}, now), nil
	}

	stamp := now.UnixMilli()
	for i := range remote {
		remote[i].UpdatedAt = stamp
	}
	if err := r.store.Upsert(ctx, remote); err != nil {
		return Result{}, fmt.Errorf("persist %d remote hotspots: %w", len(remote), err)
	}
	return r.finish(ctx, q, Result{Hotspots: filterCountry(remote, country), Outcome: observability.OutcomeMiss}, now), nil
}

func (r *Repository) finish(ctx context.Context, q Query, res Result, now time.Time) Result {
	observability.IncCacheResult(res.Outcome)
	r.logger.DebugContext(logger.WithCacheOutcome(ctx, res.Outcome), "hotspots resolved",
		"center", q.Center.String(), "radius_km", q.RadiusKm, "count", len(res.Hotspots))
	if r.events != nil {
		r.events.Publish(resolveevents.Event{
			Lat:      q.Center.Lat,
			Lng:      q.Center.Lng,
			RadiusKm: q.RadiusKm,
			Country:  r.country(q),
			Outcome:  res.Outcome,
			Count:    len(res.Hotspots),
			TS:       now.UTC(),
		})
	}
	return res
}

// ClearCache drops every locally stored hotspot.
func (r *Repository) ClearCache(ctx context.Context) error {
	if err := r.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear hotspot cache: %w", err)
	}
	return nil
}

func (r *Repository) country(q Query) string {
	if c := strings.TrimSpace(q.Country); c != "" {
		return c
	}
	return r.cfg.DefaultCountry
}

func filterCountry(hs []model.Hotspot, country string) []model.Hotspot {
	if country == "" {
		return hs
	}
	out := make([]model.Hotspot, 0, len(hs))
	for _, h := range hs {
		if strings.EqualFold(h.CountryCode, country) {
			out = append(out, h)
		}
	}
	return out
}
