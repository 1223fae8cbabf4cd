package policy

import (
	"testing"

	"github.com/mohammed-shakir/hotspot-cache/internal/core/model"
)

func TestClassify(t *testing.T) {
	p := Default()
	cases := []struct {
		zoom float64
		prev Category
		want Category
	}{
		{6, Initial, Overview},
		{7.5, Detailed, Overview},
		{10, Overview, Detailed},
		{9.5, Initial, Detailed},
		{8.5, Overview, Overview},
		{8.5, Detailed, Detailed},
		{8.0, Initial, Overview},
		{9.0, Initial, Detailed},
		{8.5, Initial, Detailed},
	}
	for _, tc := range cases {
		if got := p.Classify(tc.zoom, tc.prev); got != tc.want {
			t.Errorf("Classify(%v, %q)=%q want %q", tc.zoom, tc.prev, got, tc.want)
		}
	}
}

func TestMoveThreshold_Tiers(t *testing.T) {
	p := Default()
	cases := map[float64]float64{
		14:  0.10,
		12:  0.10,
		10:  0.15,
		9.5: 0.15,
		8.5: 0.30,
		7:   0.40,
		6:   0.60,
		3:   0.60,
	}
	for zoom, want := range cases {
		if got := p.MoveThreshold(zoom); got != want {
			t.Errorf("MoveThreshold(%v)=%v want %v", zoom, got, want)
		}
	}
}

func TestDecide(t *testing.T) {
	p := Default()
	here := model.LatLng{Lat: 10.77, Lng: 106.70}
	loaded := State{LastCenter: here, LastCategory: Overview, InitialLoaded: true, HasResult: true}

	cases := []struct {
		name   string
		st     State
		center model.LatLng
		zoom   float64
		fetch  bool
		cat    Category
		reason string
	}{
		{"first load is initial", State{}, here, 12, true, Initial, ReasonInitial},
		{"zoom into detailed", loaded, here, 11, true, Detailed, ReasonCategoryChanged},
		{"small pan stays", loaded, model.LatLng{Lat: 10.9, Lng: 106.70}, 6, false, Overview, ReasonUnchanged},
		{"large pan refetches", loaded, model.LatLng{Lat: 11.5, Lng: 106.70}, 6, true, Overview, ReasonMoved},
		{"band keeps overview", loaded, here, 8.5, false, Overview, ReasonUnchanged},
		{"no result refetches", State{LastCenter: here, LastCategory: Overview, InitialLoaded: true}, here, 6, true, Overview, ReasonNoResult},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := p.Decide(tc.st, tc.center, tc.zoom)
			if d.Fetch != tc.fetch || d.Category != tc.cat || d.Reason != tc.reason {
				t.Fatalf("got %+v", d)
			}
			if d.Params != ParamsFor(tc.cat) {
				t.Fatalf("params=%+v want %+v", d.Params, ParamsFor(tc.cat))
			}
		})
	}
}

func TestDecide_NeverInitialAfterLoad(t *testing.T) {
	p := Default()
	st := State{InitialLoaded: true, LastCategory: Initial, HasResult: true}
	for _, z := range []float64{2, 8, 8.5, 9, 15} {
		if d := p.Decide(st, model.LatLng{}, z); d.Category == Initial {
			t.Fatalf("zoom %v returned initial after load", z)
		}
	}
}

func TestParams(t *testing.T) {
	if got := ParamsFor(Initial); got.RadiusKm != 500 || got.Cap != 30 {
		t.Fatalf("initial=%+v", got)
	}
	if got := ParamsFor(Overview); got.RadiusKm != 100 || got.Cap != 50 {
		t.Fatalf("overview=%+v", got)
	}
	if got := ParamsFor(Detailed); got.RadiusKm != 25 || got.Cap != 0 {
		t.Fatalf("detailed=%+v", got)
	}
}

func TestNew_InvertedBoundsReset(t *testing.T) {
	p := New(10, 9)
	if p.OverviewMaxZoom != 7.5 || p.DetailedMinZoom != 9.5 {
		t.Fatalf("got %+v", p)
	}
}

func TestRank_SortsByCountThenIDAndCaps(t *testing.T) {
	n := func(v int) *int { return &v }
	in := []model.Hotspot{
		{ID: "c", NumSpeciesAllTime: n(10)},
		{ID: "a"},
		{ID: "b", NumSpeciesAllTime: n(300)},
		{ID: "d", NumSpeciesAllTime: n(10)},
	}
	got := Rank(in, 3)
	if len(got) != 3 || got[0].ID != "b" || got[1].ID != "c" || got[2].ID != "d" {
		t.Fatalf("got %v", ids(got))
	}
	if in[0].ID != "c" {
		t.Fatalf("input must not be reordered")
	}
	if all := Rank(in, 0); len(all) != 4 || all[3].ID != "a" {
		t.Fatalf("uncapped rank got %v", ids(all))
	}
}

func ids(hs []model.Hotspot) []string {
	out := make([]string, len(hs))
	for i, h := range hs {
		out[i] = h.ID
	}
	return out
}
