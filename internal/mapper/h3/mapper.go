package h3mapper

import (
	"fmt"
	"math"
	"sort"

	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/hotspot-cache/internal/core/model"
	"github.com/mohammed-shakir/hotspot-cache/internal/geo"
)

// average hexagon edge length per resolution, km
var edgeKm = [16]float64{
	1281.256011, 483.0568391, 182.5129565, 68.97922179,
	26.07175968, 9.854090990, 3.724532667, 1.406475763,
	0.531414010, 0.200786148, 0.075863783, 0.028663897,
	0.010830188, 0.004092010, 0.001546100, 0.000584169,
}

const maxEdgeSamples = 1024

type Mapper struct{}

func New() *Mapper { return &Mapper{} }

func (m *Mapper) CellForPoint(p model.LatLng, res int) (string, error) {
	if err := validateRes(res); err != nil {
		return "", err
	}
	c, err := h3.LatLngToCell(h3.LatLng{Lat: p.Lat, Lng: p.Lng}, res)
	if err != nil {
		return "", fmt.Errorf("h3 cell for %s: %w", p, err)
	}
	return c.String(), nil
}

// CoverBBox returns every cell at res that may contain a point of bb. Polyfill only
// selects cells whose centers fall inside the box, so the result also includes cells
// sampled along the box edges and the first ring around each selected cell.
func (m *Mapper) CoverBBox(bb model.BBox, res int) (model.Cells, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	if bb.SW.Lat > bb.NE.Lat || bb.SW.Lng > bb.NE.Lng {
		return nil, fmt.Errorf("inverted bbox %s", bb)
	}

	seeds := make(map[h3.Cell]struct{})

	if bb.SW.Lat < bb.NE.Lat && bb.SW.Lng < bb.NE.Lng {
		outer := h3.GeoLoop{
			{Lat: bb.SW.Lat, Lng: bb.SW.Lng},
			{Lat: bb.SW.Lat, Lng: bb.NE.Lng},
			{Lat: bb.NE.Lat, Lng: bb.NE.Lng},
			{Lat: bb.NE.Lat, Lng: bb.SW.Lng},
		}
		filled, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: outer}, res)
		if err != nil {
			return nil, fmt.Errorf("h3 polyfill: %w", err)
		}
		for _, c := range filled {
			seeds[c] = struct{}{}
		}
	}

	for _, p := range boundarySamples(bb, edgeKm[res]) {
		c, err := h3.LatLngToCell(h3.LatLng{Lat: p.Lat, Lng: p.Lng}, res)
		if err != nil {
			return nil, fmt.Errorf("h3 cell for %s: %w", p, err)
		}
		seeds[c] = struct{}{}
	}

	seen := make(map[string]struct{}, len(seeds)*3)
	out := make([]string, 0, len(seeds)*3)
	for c := range seeds {
		ring, err := h3.GridDisk(c, 1)
		if err != nil {
			return nil, fmt.Errorf("h3 grid disk: %w", err)
		}
		for _, n := range ring {
			s := n.String()
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *Mapper) ToParent(cell string, parentRes int) (string, error) {
	if err := validateRes(parentRes); err != nil {
		return "", err
	}
	var c h3.Cell
	if err := c.UnmarshalText([]byte(cell)); err != nil {
		return "", fmt.Errorf("parse cell: %w", err)
	}
	if !c.IsValid() {
		return "", fmt.Errorf("invalid h3 cell %q", cell)
	}
	curRes := c.Resolution()
	if parentRes > curRes {
		return "", fmt.Errorf("parentRes %d must be <= cell resolution %d", parentRes, curRes)
	}
	if parentRes == curRes {
		return cell, nil
	}
	p, err := c.Parent(parentRes)
	if err != nil {
		return "", fmt.Errorf("h3 parent: %w", err)
	}
	return p.String(), nil
}

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}

// boundarySamples walks the four box edges at a spacing no larger than stepKm and
// adds the center.
func boundarySamples(bb model.BBox, stepKm float64) []model.LatLng {
	sw, ne := bb.SW, bb.NE
	nw := model.LatLng{Lat: ne.Lat, Lng: sw.Lng}
	se := model.LatLng{Lat: sw.Lat, Lng: ne.Lng}

	out := []model.LatLng{{Lat: (sw.Lat + ne.Lat) / 2, Lng: (sw.Lng + ne.Lng) / 2}}
	for _, e := range [][2]model.LatLng{{sw, se}, {se, ne}, {ne, nw}, {nw, sw}} {
		a, b := e[0], e[1]
		n := int(math.Ceil(geo.DistanceKm(a, b) / stepKm))
		n = max(1, min(maxEdgeSamples, n))
		for i := range n {
			f := float64(i) / float64(n)
			out = append(out, model.LatLng{
				Lat: a.Lat + (b.Lat-a.Lat)*f,
				Lng: a.Lng + (b.Lng-a.Lng)*f,
			})
		}
	}
	return out
}
