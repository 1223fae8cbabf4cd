// Package geo holds the spherical helpers used to turn a map center into query geometry.
package geo

import (
	"math"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"

	"github.com/mohammed-shakir/hotspot-cache/internal/core/model"
)

const EarthRadiusKm = 6371.0

// BoundingBox covers radiusKm around center using the equirectangular approximation.
// Near the poles cos(lat) goes to zero and the longitude span diverges; callers get
// whatever float math yields there. Antimeridian wrap is not handled.
func BoundingBox(center model.LatLng, radiusKm float64) model.BBox {
	if radiusKm < 0 {
		radiusKm = 0
	}
	ang := s1.Angle(radiusKm / EarthRadiusKm)
	latDelta := ang.Degrees()

	latRad := (s1.Angle(center.Lat) * s1.Degree).Radians()
	lngDelta := s1.Angle(ang.Radians() / math.Cos(latRad)).Degrees()

	return model.BBox{
		SW: model.LatLng{Lat: center.Lat - latDelta, Lng: center.Lng - lngDelta},
		NE: model.LatLng{Lat: center.Lat + latDelta, Lng: center.Lng + lngDelta},
	}
}

// Displacement is the great-circle angle between a and b in degrees.
func Displacement(a, b model.LatLng) float64 {
	pa := s2.LatLngFromDegrees(a.Lat, a.Lng)
	pb := s2.LatLngFromDegrees(b.Lat, b.Lng)
	return pa.Distance(pb).Degrees()
}

// DistanceKm is Displacement scaled to the earth radius used by BoundingBox.
func DistanceKm(a, b model.LatLng) float64 {
	return (s1.Angle(Displacement(a, b)) * s1.Degree).Radians() * EarthRadiusKm
}
