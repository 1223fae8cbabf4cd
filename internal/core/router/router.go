// Package router holds the HTTP handlers for one-shot resolves and map sessions.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/hotspot-cache/internal/core/model"
	"github.com/mohammed-shakir/hotspot-cache/internal/hotspots"
	"github.com/mohammed-shakir/hotspot-cache/internal/mapsession"
)

// Resolver is the cache-aside repository as seen by the handlers.
type Resolver interface {
	Lookup(ctx context.Context, q hotspots.Query) (hotspots.Result, error)
	ClearCache(ctx context.Context) error
}

type Sessions interface {
	Create() *mapsession.Session
	Get(id string) (*mapsession.Session, bool)
	Delete(id string) bool
}

type Handlers struct {
	logger   *slog.Logger
	resolver Resolver
	sessions Sessions
}

func New(logger *slog.Logger, r Resolver, s Sessions) *Handlers {
	return &Handlers{logger: logger, resolver: r, sessions: s}
}

// Mount registers the hotspot and session routes on r.
func (h *Handlers) Mount(r chi.Router) {
	r.Get("/hotspots", h.GetHotspots)
	r.Delete("/hotspots/cache", h.ClearCache)

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.CreateSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Put("/camera", h.MoveCamera)
			r.Get("/hotspots", h.SessionHotspots)
			r.Delete("/", h.DeleteSession)
		})
	})
}

type hotspotsResponse struct {
	Count    int             `json:"count"`
	Outcome  string          `json:"outcome"`
	Hotspots []model.Hotspot `json:"hotspots"`
}

func (h *Handlers) GetHotspots(w http.ResponseWriter, r *http.Request) {
	q, err := ParseHotspotQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := h.resolver.Lookup(r.Context(), q)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "resolve hotspots", "err", err)
		http.Error(w, "failed to resolve hotspots", http.StatusInternalServerError)
		return
	}
	w.Header().Set("X-Cache", res.Outcome)
	writeJSON(w, http.StatusOK, hotspotsResponse{Count: len(res.Hotspots), Outcome: res.Outcome, Hotspots: res.Hotspots})
}

func (h *Handlers) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.resolver.ClearCache(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "clear cache", "err", err)
		http.Error(w, "failed to clear cache", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) CreateSession(w http.ResponseWriter, _ *http.Request) {
	s := h.sessions.Create()
	w.Header().Set("Location", "/sessions/"+s.ID())
	writeJSON(w, http.StatusCreated, map[string]string{"id": s.ID()})
}

type cameraRequest struct {
	Lat  *float64 `json:"lat"`
	Lng  *float64 `json:"lng"`
	Zoom *float64 `json:"zoom"`
}

func (h *Handlers) MoveCamera(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var body cameraRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		http.Error(w, "invalid camera body: "+err.Error(), http.StatusBadRequest)
		return
	}
	center, zoom, err := body.validate()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.CameraMoved(center, zoom)
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handlers) SessionHotspots(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	snap := s.Snapshot()
	if snap.Hotspots == nil {
		snap.Hotspots = []model.Hotspot{}
	}
	tag := ETag(snap)
	w.Header().Set("ETag", tag)
	w.Header().Set("Cache-Control", "no-cache")
	if matchesETag(r.Header.Get("If-None-Match"), tag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if !h.sessions.Delete(chi.URLParam(r, "id")) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) session(w http.ResponseWriter, r *http.Request) (*mapsession.Session, bool) {
	s, ok := h.sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
	}
	return s, ok
}

// ParseHotspotQuery reads lat, lng, radius_km and the optional country.
func ParseHotspotQuery(r *http.Request) (hotspots.Query, error) {
	v := r.URL.Query()
	lat, err := parseFloat(v.Get("lat"), "lat")
	if err != nil {
		return hotspots.Query{}, err
	}
	lng, err := parseFloat(v.Get("lng"), "lng")
	if err != nil {
		return hotspots.Query{}, err
	}
	radius, err := parseFloat(v.Get("radius_km"), "radius_km")
	if err != nil {
		return hotspots.Query{}, err
	}
	q := hotspots.Query{
		Center:   model.LatLng{Lat: lat, Lng: lng},
		RadiusKm: radius,
		Country:  strings.ToUpper(strings.TrimSpace(v.Get("country"))),
	}
	if err := q.Validate(); err != nil {
		return hotspots.Query{}, err
	}
	return q, nil
}

func parseFloat(raw, name string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("missing required parameter: %s", name)
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return f, nil
}

func (c cameraRequest) validate() (model.LatLng, float64, error) {
	if c.Lat == nil || c.Lng == nil || c.Zoom == nil {
		return model.LatLng{}, 0, errors.New("lat, lng and zoom are required")
	}
	p := model.LatLng{Lat: *c.Lat, Lng: *c.Lng}
	if p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
		return model.LatLng{}, 0, fmt.Errorf("camera center %s out of range", p)
	}
	if *c.Zoom < 0 || *c.Zoom > 24 {
		return model.LatLng{}, 0, fmt.Errorf("zoom %v out of range [0,24]", *c.Zoom)
	}
	return p, *c.Zoom, nil
}

// ETag identifies a snapshot by generation, zoom and the ordered hotspot ids.
func ETag(s mapsession.Snapshot) string {
	d := xxhash.New()
	_, _ = fmt.Fprintf(d, "%d|%g|", s.Generation, s.Zoom)
	for _, h := range s.Hotspots {
		_, _ = d.WriteString(h.ID)
		_, _ = d.WriteString(",")
	}
	return fmt.Sprintf(`"%016x"`, d.Sum64())
}

func matchesETag(header, tag string) bool {
	if header == "" {
		return false
	}
	for c := range strings.SplitSeq(header, ",") {
		c = strings.TrimPrefix(strings.TrimSpace(c), "W/")
		if c == "*" || c == tag {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
