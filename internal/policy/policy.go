// Package policy decides, per camera position, whether a new hotspot fetch is needed and
// with which radius and result cap.
package policy

import (
	"cmp"
	"slices"

	"github.com/mohammed-shakir/hotspot-cache/internal/core/model"
	"github.com/mohammed-shakir/hotspot-cache/internal/geo"
)

type Category string

const (
	Initial  Category = "initial"
	Overview Category = "overview"
	Detailed Category = "detailed"
)

// Reasons reported with a Decision.
const (
	ReasonInitial         = "initial"
	ReasonCategoryChanged = "category_changed"
	ReasonMoved           = "moved"
	ReasonNoResult        = "no_result"
	ReasonUnchanged       = "unchanged"
)

// Params are the fetch parameters of a category. Cap 0 means unlimited.
type Params struct {
	RadiusKm float64
	Cap      int
}

var params = map[Category]Params{
	Initial:  {RadiusKm: 500, Cap: 30},
	Overview: {RadiusKm: 100, Cap: 50},
	Detailed: {RadiusKm: 25},
}

func ParamsFor(c Category) Params { return params[c] }

// State is what a session remembers about its last applied fetch.
type State struct {
	LastCenter    model.LatLng
	LastCategory  Category
	InitialLoaded bool
	HasResult     bool
}

type Decision struct {
	Fetch    bool
	Category Category
	Params   Params
	Reason   string
}

type Policy struct {
	OverviewMaxZoom float64
	DetailedMinZoom float64
}

func New(overviewMax, detailedMin float64) Policy {
	if detailedMin < overviewMax {
		overviewMax, detailedMin = 7.5, 9.5
	}
	return Policy{OverviewMaxZoom: overviewMax, DetailedMinZoom: detailedMin}
}

func Default() Policy { return New(7.5, 9.5) }

// Classify maps zoom to a category. Inside the band between the two bounds the previous
// category is kept; without one the band is split at its midpoint.
func (p Policy) Classify(zoom float64, prev Category) Category {
	switch {
	case zoom <= p.OverviewMaxZoom:
		return Overview
	case zoom >= p.DetailedMinZoom:
		return Detailed
	case prev == Overview || prev == Detailed:
		return prev
	case zoom < (p.OverviewMaxZoom+p.DetailedMinZoom)/2:
		return Overview
	default:
		return Detailed
	}
}

// MoveThreshold is the center displacement, in degrees, that forces a refetch.
func (p Policy) MoveThreshold(zoom float64) float64 {
	switch {
	case zoom >= 12:
		return 0.10
	case zoom >= p.DetailedMinZoom:
		return 0.15
	case zoom > p.OverviewMaxZoom:
		return 0.30
	case zoom > 6:
		return 0.40
	default:
		return 0.60
	}
}

func (p Policy) Decide(st State, center model.LatLng, zoom float64) Decision {
	if !st.InitialLoaded {
		return Decision{Fetch: true, Category: Initial, Params: params[Initial], Reason: ReasonInitial}
	}

	cat := p.Classify(zoom, st.LastCategory)
	d := Decision{Category: cat, Params: params[cat]}
	switch {
	case cat != st.LastCategory:
		d.Fetch, d.Reason = true, ReasonCategoryChanged
	case geo.Displacement(st.LastCenter, center) > p.MoveThreshold(zoom):
		d.Fetch, d.Reason = true, ReasonMoved
	case !st.HasResult:
		d.Fetch, d.Reason = true, ReasonNoResult
	default:
		d.Reason = ReasonUnchanged
	}
	return d
}

// Rank orders by all-time species count, highest first, and keeps at most limit
// entries. Ties are ordered by ID. limit <= 0 keeps everything.
func Rank(hs []model.Hotspot, limit int) []model.Hotspot {
	out := slices.Clone(hs)
	slices.SortStableFunc(out, func(a, b model.Hotspot) int {
		if c := cmp.Compare(b.SpeciesCount(), a.SpeciesCount()); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
