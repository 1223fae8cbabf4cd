// Package model defines core domain types shared across the service.
package model

import "fmt"

// Cells is a sorted, de-duplicated list of H3 cell ids.
type Cells []string

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p LatLng) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}

// BBox is an axis-aligned lat/lng rectangle. Antimeridian wrap is not represented.
type BBox struct {
	SW LatLng
	NE LatLng
}

// inclusive on all edges
func (b BBox) Contains(p LatLng) bool {
	return p.Lat >= b.SW.Lat && p.Lat <= b.NE.Lat &&
		p.Lng >= b.SW.Lng && p.Lng <= b.NE.Lng
}

// String representation matching the minx,miny,maxx,maxy convention
func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.SW.Lng, b.SW.Lat, b.NE.Lng, b.NE.Lat)
}

// Hotspot is a named birding location as cached locally. UpdatedAt is epoch millis and
// is set whenever the record is written from a remote fetch.
type Hotspot struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	CountryCode       string  `json:"country_code"`
	SubnationalCode   string  `json:"subnational_code,omitempty"`
	Lat               float64 `json:"lat"`
	Lng               float64 `json:"lng"`
	NumSpeciesAllTime *int    `json:"num_species_all_time,omitempty"`
	LatestObsDt       string  `json:"latest_obs_dt,omitempty"`
	UpdatedAt         int64   `json:"updated_at"`
}

func (h Hotspot) Location() LatLng {
	return LatLng{Lat: h.Lat, Lng: h.Lng}
}

// SpeciesCount treats a missing count as zero.
func (h Hotspot) SpeciesCount() int {
	if h.NumSpeciesAllTime == nil {
		return 0
	}
	return *h.NumSpeciesAllTime
}
