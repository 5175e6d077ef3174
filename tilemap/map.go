package tilemap

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/OpticalFlyer/tilestream/fetch"
	"github.com/OpticalFlyer/tilestream/layer"
	"github.com/OpticalFlyer/tilestream/log"
	"github.com/OpticalFlyer/tilestream/proj"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/vector"
)

const (
	// TileSize is the size of map tiles in pixels
	TileSize = 256
	// MaxZoomLevel is the maximum zoom level supported
	MaxZoomLevel = 19
	// DefaultURLTemplate is the basemap tile source
	DefaultURLTemplate = "https://tile.openstreetmap.org/{z}/{x}/{y}.png"
	// cacheTiles bounds the number of decoded basemap tiles kept
	cacheTiles = 512
)

// TileRange defines the range of tiles needed to cover the viewport
type TileRange struct {
	MinX, MaxX int
	MinY, MaxY int
}

// TileKey uniquely identifies a map tile
type TileKey struct {
	Zoom int
	X    int
	Y    int
}

// TileMap manages the slippy map tile system. It is also the host map the
// 3D tile layers follow.
type TileMap struct {
	// View state
	CenterLat    float64
	CenterLon    float64
	Zoom         int
	Bearing      float64 // degrees clockwise from north
	Pitch        float64 // degrees from straight down
	ScreenWidth  int
	ScreenHeight int

	URLTemplate string

	// Tile management
	fetcher         fetch.Fetcher
	lg              *log.Logger
	tileCache       *lru.Cache[TileKey, *ebiten.Image]
	placeholderTile *ebiten.Image
	fetching        map[TileKey]bool
	fetchingMu      sync.Mutex
}

// New creates a new TileMap instance fetching basemap tiles with f
func New(screenWidth, screenHeight int, lat, lon float64, zoom int, f fetch.Fetcher, lg *log.Logger) *TileMap {
	cache, _ := lru.NewWithEvict(cacheTiles, func(_ TileKey, img *ebiten.Image) {
		img.Deallocate()
	})
	return &TileMap{
		ScreenWidth:  screenWidth,
		ScreenHeight: screenHeight,
		CenterLat:    lat,
		CenterLon:    lon,
		Zoom:         zoom,
		URLTemplate:  DefaultURLTemplate,
		fetcher:      f,
		lg:           lg,
		tileCache:    cache,
		fetching:     make(map[TileKey]bool),
	}
}

// Camera implements layer.HostMap.
func (tm *TileMap) Camera() layer.Camera {
	return layer.Camera{
		Center:   proj.Geodetic{Lng: tm.CenterLon, Lat: tm.CenterLat},
		Zoom:     float64(tm.Zoom),
		Pitch:    tm.Pitch,
		Bearing:  tm.Bearing,
		Width:    float64(tm.ScreenWidth),
		Height:   float64(tm.ScreenHeight),
		TileSize: TileSize,
	}
}

// Elevation implements layer.HostMap. The basemap has no terrain.
func (tm *TileMap) Elevation(proj.Geodetic) (float64, bool) { return 0, false }

// CalculateVisibleTileRange determines which tiles are needed for the current view
func (tm *TileMap) CalculateVisibleTileRange() (TileRange, float64, float64) {
	centerXTileF, centerYTileF := proj.LatLonToTileCoords(tm.CenterLat, tm.CenterLon, tm.Zoom)

	// A rotated view needs every tile under the circle around the screen.
	halfW := float64(tm.ScreenWidth) / 2.0 / TileSize
	halfH := float64(tm.ScreenHeight) / 2.0 / TileSize
	if tm.Bearing != 0 {
		r := math.Hypot(halfW, halfH)
		halfW, halfH = r, r
	}

	minTileX := int(math.Floor(centerXTileF - halfW))
	minTileY := int(math.Floor(centerYTileF - halfH))
	maxTileX := int(math.Floor(centerXTileF + halfW))
	maxTileY := int(math.Floor(centerYTileF + halfH))

	maxCoord := 1 << tm.Zoom
	return TileRange{
		MinX: max(0, minTileX),
		MaxX: min(maxCoord-1, maxTileX),
		MinY: max(0, minTileY),
		MaxY: min(maxCoord-1, maxTileY),
	}, centerXTileF, centerYTileF
}

// Draw renders the visible tiles to the screen
func (tm *TileMap) Draw(screen *ebiten.Image, debugMode bool) TileRange {
	tileRange, centerXTileF, centerYTileF := tm.CalculateVisibleTileRange()
	if tm.placeholderTile == nil {
		tm.placeholderTile = ebiten.NewImage(TileSize, TileSize)
		tm.placeholderTile.Fill(color.Black)
	}

	tm.fetchingMu.Lock()
	defer tm.fetchingMu.Unlock()

	// Debug colors
	redColor := color.RGBA{R: 255, A: 255}
	strokeWidth := float32(1.0)
	cx, cy := float64(tm.ScreenWidth)/2, float64(tm.ScreenHeight)/2
	rot := -tm.Bearing * math.Pi / 180

	// Iterate through the required tile grid
	for ty := tileRange.MinY; ty <= tileRange.MaxY; ty++ {
		for tx := tileRange.MinX; tx <= tileRange.MaxX; tx++ {
			key := TileKey{Zoom: tm.Zoom, X: tx, Y: ty}
			tileImg, found := tm.tileCache.Get(key)
			isFetching := tm.fetching[key]

			offX := -(centerXTileF - float64(tx)) * TileSize
			offY := -(centerYTileF - float64(ty)) * TileSize
			op := &ebiten.DrawImageOptions{}
			op.GeoM.Translate(offX, offY)
			op.GeoM.Rotate(rot)
			op.GeoM.Translate(cx, cy)
			drawX, drawY := op.GeoM.Apply(0, 0)

			if !found && !isFetching {
				tm.fetching[key] = true
				go tm.fetchAndCacheTile(key)
			}

			if found && tileImg != nil {
				screen.DrawImage(tileImg, op)
				if debugMode {
					// Draw blue tint and grid for loaded tiles
					vector.StrokeRect(screen, float32(drawX), float32(drawY),
						float32(TileSize), float32(TileSize),
						strokeWidth, redColor, false)
					ebitenutil.DebugPrintAt(screen,
						fmt.Sprintf("%d/%d/%d", tm.Zoom, tx, ty),
						int(drawX)+2, int(drawY)+2)
				}
			} else {
				screen.DrawImage(tm.placeholderTile, op)
				if debugMode {
					status := "Needed"
					if isFetching {
						status = "Fetching"
					}
					ebitenutil.DebugPrintAt(screen,
						fmt.Sprintf("%s: %d/%d/%d", status, tm.Zoom, tx, ty),
						int(drawX)+2, int(drawY)+2)
				}
			}
		}
	}

	return tileRange
}

// fetchAndCacheTile fetches and caches a single tile
func (tm *TileMap) fetchAndCacheTile(key TileKey) {
	defer func() {
		tm.fetchingMu.Lock()
		delete(tm.fetching, key)
		tm.fetchingMu.Unlock()
	}()

	tileImg, err := tm.fetchTile(key)
	if err != nil {
		tm.lg.Warnf("Error fetching tile %d/%d/%d: %v", key.Zoom, key.X, key.Y, err)
		return
	}
	tm.tileCache.Add(key, ebiten.NewImageFromImage(tileImg))
}

// TileURL expands the URL template for key
func (tm *TileMap) TileURL(key TileKey) string {
	r := strings.NewReplacer(
		"{z}", strconv.Itoa(key.Zoom),
		"{x}", strconv.Itoa(key.X),
		"{y}", strconv.Itoa(key.Y))
	return r.Replace(tm.URLTemplate)
}

func (tm *TileMap) fetchTile(key TileKey) (image.Image, error) {
	maxCoord := 1 << key.Zoom
	if key.X < 0 || key.X >= maxCoord || key.Y < 0 || key.Y >= maxCoord {
		return nil, fmt.Errorf("tile coordinates (%d, %d) out of range for zoom %d", key.X, key.Y, key.Zoom)
	}

	tileURL := tm.TileURL(key)
	b, err := tm.fetcher.Get(context.Background(), tileURL)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("decoding image %s failed: %w", tileURL, err)
	}
	return img, nil
}
