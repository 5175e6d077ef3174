package tilemap

import (
	"math"

	"github.com/OpticalFlyer/tilestream/proj"
)

// ZoomIn increases the zoom level if not at max zoom
func (tm *TileMap) ZoomIn() {
	if tm.Zoom < MaxZoomLevel {
		tm.Zoom++
	}
}

// ZoomOut decreases the zoom level if not at minimum zoom
func (tm *TileMap) ZoomOut() {
	if tm.Zoom > 0 {
		tm.Zoom--
	}
}

// ScreenToWorld converts screen coordinates to tile coordinates
func (tm *TileMap) ScreenToWorld(screenX, screenY float64) (tileX, tileY float64) {
	centerTileX, centerTileY := proj.LatLonToTileCoords(tm.CenterLat, tm.CenterLon, tm.Zoom)

	// Convert screen coords to tile coords relative to center
	dx, dy := tm.unrotate(screenX-float64(tm.ScreenWidth)/2, screenY-float64(tm.ScreenHeight)/2)
	return centerTileX + dx/TileSize, centerTileY + dy/TileSize
}

// ScreenToLatLon converts screen coordinates to WGS84
func (tm *TileMap) ScreenToLatLon(screenX, screenY float64) (lat, lon float64) {
	tx, ty := tm.ScreenToWorld(screenX, screenY)
	return proj.TileCoordsToLatLon(tx, ty, tm.Zoom)
}

// ZoomAtPoint zooms the map while keeping the given world point at the same screen location
func (tm *TileMap) ZoomAtPoint(zoomIn bool, screenX, screenY float64) {
	if (zoomIn && tm.Zoom >= MaxZoomLevel) || (!zoomIn && tm.Zoom <= 0) {
		return
	}

	// Get mouse position in tile coordinates before zoom
	mouseWorldX, mouseWorldY := tm.ScreenToWorld(screenX, screenY)

	// Check if mouse is within world bounds
	maxTileCoord := math.Ldexp(1, tm.Zoom)
	if mouseWorldX < 0 || mouseWorldX > maxTileCoord ||
		mouseWorldY < 0 || mouseWorldY > maxTileCoord {
		return // Don't zoom if cursor is outside world bounds
	}

	// Change zoom level
	oldZoom := tm.Zoom
	if zoomIn {
		tm.Zoom++
	} else {
		tm.Zoom--
	}

	// Convert mouse world position to the new zoom level
	scaleFactor := math.Ldexp(1, tm.Zoom-oldZoom)
	mouseWorldXNewZoom := mouseWorldX * scaleFactor
	mouseWorldYNewZoom := mouseWorldY * scaleFactor

	// Screen position as a north-up tile offset at the new zoom level
	dx, dy := tm.unrotate(screenX-float64(tm.ScreenWidth)/2, screenY-float64(tm.ScreenHeight)/2)

	// Calculate new center in tile coordinates
	newCenterTileX := mouseWorldXNewZoom - dx/TileSize
	newCenterTileY := mouseWorldYNewZoom - dy/TileSize

	lat, lon := proj.TileCoordsToLatLon(newCenterTileX, newCenterTileY, tm.Zoom)

	// Clamp to valid ranges
	tm.CenterLon = math.Max(-180.0, math.Min(180.0, lon))
	tm.CenterLat = math.Max(-85.0511, math.Min(85.0511, lat))
}

// LatLonToScreen converts WGS84 to screen coordinates
func (tm *TileMap) LatLonToScreen(lat, lon float64) (screenX, screenY float64) {
	centerTileX, centerTileY := proj.LatLonToTileCoords(tm.CenterLat, tm.CenterLon, tm.Zoom)
	tx, ty := proj.LatLonToTileCoords(lat, lon, tm.Zoom)
	dx, dy := tm.rotate((tx-centerTileX)*TileSize, (ty-centerTileY)*TileSize)
	return dx + float64(tm.ScreenWidth)/2, dy + float64(tm.ScreenHeight)/2
}
