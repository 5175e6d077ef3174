package tilemap

import (
	"math"

	"github.com/OpticalFlyer/tilestream/proj"
)

// PanDirection represents a direction to pan the map
type PanDirection int

const (
	PanLeft PanDirection = iota
	PanRight
	PanUp
	PanDown
)

// PanSpeed in pixels per frame
const PanSpeed = 50

// Pan moves the map center in the specified direction by a fixed number of pixels
func (tm *TileMap) Pan(dir PanDirection) {
	switch dir {
	case PanLeft:
		tm.PanBy(PanSpeed, 0)
	case PanRight:
		tm.PanBy(-PanSpeed, 0)
	case PanUp:
		tm.PanBy(0, PanSpeed)
	case PanDown:
		tm.PanBy(0, -PanSpeed)
	}
}

// PanBy moves the map by pixel offsets
// dx,dy are in screen pixels, positive dx moves map west (view east), positive dy moves map south (view north)
func (tm *TileMap) PanBy(dx, dy float64) {
	// Screen offsets to north-up tile offsets at current zoom level
	tileDX, tileDY := tm.unrotate(dx, dy)
	tileDX /= TileSize
	tileDY /= TileSize

	centerTileX, centerTileY := proj.LatLonToTileCoords(tm.CenterLat, tm.CenterLon, tm.Zoom)

	// Move in tile space
	newCenterTileX := centerTileX - tileDX
	newCenterTileY := centerTileY - tileDY

	// Clamp X and Y to valid tile ranges (no wrapping)
	maxTileCoord := math.Ldexp(1, tm.Zoom)
	newCenterTileX = math.Max(0, math.Min(maxTileCoord, newCenterTileX))
	newCenterTileY = math.Max(0, math.Min(maxTileCoord, newCenterTileY))

	tm.CenterLat, tm.CenterLon = proj.TileCoordsToLatLon(newCenterTileX, newCenterTileY, tm.Zoom)
}

// Rotate turns the view clockwise by deg degrees
func (tm *TileMap) Rotate(deg float64) {
	b := math.Mod(tm.Bearing+deg, 360)
	if b < 0 {
		b += 360
	}
	tm.Bearing = b
}

// Tilt changes the pitch by deg degrees, within [0, 60]
func (tm *TileMap) Tilt(deg float64) {
	tm.Pitch = math.Max(0, math.Min(60, tm.Pitch+deg))
}

// unrotate turns a screen-space offset into a north-up one
func (tm *TileMap) unrotate(dx, dy float64) (float64, float64) {
	if tm.Bearing == 0 {
		return dx, dy
	}
	s, c := math.Sincos(tm.Bearing * math.Pi / 180)
	return dx*c - dy*s, dx*s + dy*c
}

// rotate is the inverse of unrotate
func (tm *TileMap) rotate(dx, dy float64) (float64, float64) {
	if tm.Bearing == 0 {
		return dx, dy
	}
	s, c := math.Sincos(tm.Bearing * math.Pi / 180)
	return dx*c + dy*s, -dx*s + dy*c
}
