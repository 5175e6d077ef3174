// Package proj converts between the coordinate spaces the tile engine uses:
// geodetic longitude/latitude/height, ECEF, Web Mercator, slippy-map tile
// coordinates, and the two rendering frames managed by Frame.
package proj

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

const (
	// EarthRadius is the Web Mercator sphere radius in meters.
	EarthRadius = 6378137.0

	// WGS84 ellipsoid semi-minor axis in meters.
	earthPolarRadius = 6356752.31414

	maxLat   = 85.0511 // arctan(sinh(π))
	minLat   = -85.0511
	degToRad = math.Pi / 180.0
	radToDeg = 180.0 / math.Pi
)

// Geodetic is a WGS84 position: degrees of longitude and latitude plus a
// height in meters above the ellipsoid.
type Geodetic struct {
	Lng, Lat, Height float64
}

// Point returns the horizontal position as an orb point.
func (g Geodetic) Point() orb.Point {
	return orb.Point{g.Lng, g.Lat}
}

// ClampLat limits the latitude to the range Web Mercator can represent.
func (g Geodetic) ClampLat() Geodetic {
	g.Lat = math.Max(minLat, math.Min(maxLat, g.Lat))
	return g
}

// HeightScale returns the Mercator units per meter at latitude lat.
func HeightScale(lat float64) float64 {
	return 1 / math.Cos(lat*degToRad)
}

// GeodeticToMercator projects g to Web Mercator meters. Heights are
// expressed in Mercator units so that vertical and horizontal distances
// stay proportional at g's latitude.
func GeodeticToMercator(g Geodetic) r3.Vector {
	g = g.ClampLat()
	p := project.WGS84.ToMercator(g.Point())
	return r3.Vector{X: p[0], Y: p[1], Z: g.Height * HeightScale(g.Lat)}
}

// MercatorToGeodetic is the inverse of GeodeticToMercator.
func MercatorToGeodetic(m r3.Vector) Geodetic {
	p := project.Mercator.ToWGS84(orb.Point{m.X, m.Y})
	return Geodetic{Lng: p[0], Lat: p[1], Height: m.Z / HeightScale(p[1])}
}

// ECEFToGeodetic converts earth-centered earth-fixed coordinates in meters
// to a WGS84 position, iterating on latitude until it converges.
func ECEFToGeodetic(v r3.Vector) Geodetic {
	a, b := EarthRadius, earthPolarRadius
	e2 := (a*a - b*b) / (a * a)

	p := math.Hypot(v.X, v.Y)
	lng := math.Atan2(v.Y, v.X) * radToDeg
	if p == 0 {
		lat := 90.0
		if v.Z < 0 {
			lat = -90
		}
		return Geodetic{Lng: 0, Lat: lat, Height: math.Abs(v.Z) - b}
	}

	lat := math.Atan(v.Z / p)
	for i := 0; i < 32; i++ {
		s := math.Sin(lat)
		n := a / math.Sqrt(1-e2*s*s)
		next := math.Atan((v.Z + n*e2*s) / p)
		if math.Abs(next-lat) < 1e-12 {
			lat = next
			break
		}
		lat = next
	}
	s := math.Sin(lat)
	n := a / math.Sqrt(1-e2*s*s)
	h := p/math.Cos(lat) - n
	return Geodetic{Lng: lng, Lat: lat * radToDeg, Height: h}
}

// GeodeticToECEF converts a WGS84 position to earth-centered earth-fixed
// coordinates in meters.
func GeodeticToECEF(g Geodetic) r3.Vector {
	a, b := EarthRadius, earthPolarRadius
	e2 := (a*a - b*b) / (a * a)
	lat, lng := g.Lat*degToRad, g.Lng*degToRad
	s, c := math.Sincos(lat)
	n := a / math.Sqrt(1-e2*s*s)
	return r3.Vector{
		X: (n + g.Height) * c * math.Cos(lng),
		Y: (n + g.Height) * c * math.Sin(lng),
		Z: (n*(1-e2) + g.Height) * s,
	}
}

// IsECEF reports whether a translation is plausibly an earth-centered
// position rather than a local offset.
func IsECEF(v r3.Vector) bool {
	return v.Norm() > EarthRadius/2
}
