package proj

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// Half the width of the Web Mercator plane in meters.
const mercatorExtent = math.Pi * EarthRadius

// LatLonToTileCoords converts WGS84 coordinates to fractional slippy-map
// tile coordinates at the given zoom. Latitude is clamped to ±85.0511.
func LatLonToTileCoords(lat, lon float64, zoom int) (x, y float64) {
	n := math.Ldexp(1, zoom)
	x = (lon + 180.0) * (n / 360.0)

	switch {
	case lat >= maxLat:
		return x, 0
	case lat <= minLat:
		return x, n
	}
	m := project.WGS84.ToMercator(orb.Point{lon, lat})
	_, y = WebMercatorToTileCoords(m[0], m[1], zoom)
	return x, y
}

// TileCoordsToLatLon is the inverse of LatLonToTileCoords.
func TileCoordsToLatLon(x, y float64, zoom int) (lat, lon float64) {
	n := math.Ldexp(1, zoom)
	lon = x/n*360.0 - 180.0
	lat = math.Atan(math.Sinh(math.Pi*(1-2*y/n))) * radToDeg
	return lat, lon
}

// WebMercatorToTileCoords converts EPSG:3857 meters to fractional tile
// coordinates at the given zoom.
func WebMercatorToTileCoords(x, y float64, zoom int) (tileX, tileY float64) {
	n := math.Ldexp(1, zoom)
	tileX = (x + mercatorExtent) / (2 * mercatorExtent) * n
	tileY = (1 - (y+mercatorExtent)/(2*mercatorExtent)) * n
	return tileX, tileY
}

// TileCoordsToWebMercator is the inverse of WebMercatorToTileCoords.
func TileCoordsToWebMercator(tileX, tileY float64, zoom int) (x, y float64) {
	n := math.Ldexp(1, zoom)
	x = tileX/n*2*mercatorExtent - mercatorExtent
	y = (1-tileY/n)*2*mercatorExtent - mercatorExtent
	return x, y
}

// WebMercatorToScreenCoords converts EPSG:3857 meters to screen pixels,
// given the world-pixel position of the screen's top-left corner.
func WebMercatorToScreenCoords(x, y float64, zoom int, mapTopLeftPixelX, mapTopLeftPixelY, tileSize float64) (screenX, screenY float64) {
	tileX, tileY := WebMercatorToTileCoords(x, y, zoom)
	return tileX*tileSize - mapTopLeftPixelX, tileY*tileSize - mapTopLeftPixelY
}

// MetersPerPixel returns the ground resolution at latitude lat for a map
// rendered with tileSize pixel tiles at a (possibly fractional) zoom.
func MetersPerPixel(lat, zoom, tileSize float64) float64 {
	return 2 * mercatorExtent * math.Cos(lat*degToRad) / (tileSize * math.Exp2(zoom))
}
