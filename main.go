package main

import (
	"context"
	"flag"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/vector"

	"github.com/OpticalFlyer/tilestream/config"
	"github.com/OpticalFlyer/tilestream/debugserver"
	"github.com/OpticalFlyer/tilestream/fetch"
	"github.com/OpticalFlyer/tilestream/layer"
	"github.com/OpticalFlyer/tilestream/log"
	"github.com/OpticalFlyer/tilestream/overlay"
	"github.com/OpticalFlyer/tilestream/proj"
	"github.com/OpticalFlyer/tilestream/render"
	"github.com/OpticalFlyer/tilestream/tileformat"
	"github.com/OpticalFlyer/tilestream/tilemap"
	"github.com/OpticalFlyer/tilestream/tiles"
	"github.com/OpticalFlyer/tilestream/ui"
)

var (
	configPath  = flag.String("config", "", "viewer configuration file")
	logLevel    = flag.String("loglevel", "", "log level: debug, info, warn or error")
	printConfig = flag.Bool("print-config", false, "print the effective configuration and exit")
)

// Viewer implements ebiten.Game interface.
type Viewer struct {
	tileMap   *tilemap.TileMap
	layers    *layer.Manager
	frame     *proj.Frame
	scene     *render.MemScene
	overlays  []*overlay.Overlay
	debugMode bool
	ui        *ui.Controller
	lg        *log.Logger

	// Mouse panning state
	isDragging bool
	dragMoved  bool
	lastMouseX int
	lastMouseY int

	lastZoomTime time.Time

	// Result of the last click
	status string

	// Touch state for multi-touch interactions
	lastTouchX map[ebiten.TouchID]float64
	lastTouchY map[ebiten.TouchID]float64
}

func (v *Viewer) Update() error {
	// Update UI first to handle any panel interactions
	if err := v.ui.Update(); err != nil {
		return err
	}

	cx, cy := ebiten.CursorPosition()
	if !v.isDragging && v.ui.IsInteractingWithUI(float64(cx), float64(cy)) {
		v.layers.OnFrame(time.Now())
		return nil
	}

	if inpututil.IsKeyJustPressed(ebiten.KeyF1) {
		v.debugMode = !v.debugMode
	}

	// Handle keyboard zooming
	if inpututil.IsKeyJustPressed(ebiten.KeyEqual) || inpututil.IsKeyJustPressed(ebiten.KeyNumpadAdd) {
		v.tileMap.ZoomIn()
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyMinus) || inpututil.IsKeyJustPressed(ebiten.KeyNumpadSubtract) {
		v.tileMap.ZoomOut()
	}

	// Handle mouse wheel zooming with time-based throttling
	_, wheelY := ebiten.Wheel()
	if wheelY != 0 && time.Since(v.lastZoomTime) > 100*time.Millisecond {
		v.tileMap.ZoomAtPoint(wheelY > 0, float64(cx), float64(cy))
		v.lastZoomTime = time.Now()
	}

	// Handle keyboard panning, rotation and tilt
	if ebiten.IsKeyPressed(ebiten.KeyLeft) {
		v.tileMap.Pan(tilemap.PanLeft)
	}
	if ebiten.IsKeyPressed(ebiten.KeyRight) {
		v.tileMap.Pan(tilemap.PanRight)
	}
	if ebiten.IsKeyPressed(ebiten.KeyUp) {
		v.tileMap.Pan(tilemap.PanUp)
	}
	if ebiten.IsKeyPressed(ebiten.KeyDown) {
		v.tileMap.Pan(tilemap.PanDown)
	}
	if ebiten.IsKeyPressed(ebiten.KeyQ) {
		v.tileMap.Rotate(-2)
	}
	if ebiten.IsKeyPressed(ebiten.KeyE) {
		v.tileMap.Rotate(2)
	}
	if ebiten.IsKeyPressed(ebiten.KeyPageUp) {
		v.tileMap.Tilt(1)
	}
	if ebiten.IsKeyPressed(ebiten.KeyPageDown) {
		v.tileMap.Tilt(-1)
	}

	// Handle mouse panning; a press released without moving is a click
	if inpututil.IsMouseButtonJustPressed(ebiten.MouseButtonLeft) {
		v.isDragging, v.dragMoved = true, false
		v.lastMouseX, v.lastMouseY = cx, cy
	} else if inpututil.IsMouseButtonJustReleased(ebiten.MouseButtonLeft) {
		if v.isDragging && !v.dragMoved {
			v.query(float64(cx), float64(cy))
		}
		v.isDragging = false
	}

	if v.isDragging {
		dx := float64(cx - v.lastMouseX)
		dy := float64(cy - v.lastMouseY)
		if dx != 0 || dy != 0 {
			v.tileMap.PanBy(dx, dy)
			v.dragMoved = true
		}
		v.lastMouseX, v.lastMouseY = cx, cy
	}

	v.handleTouchEvents()

	v.layers.OnFrame(time.Now())
	return nil
}

// query reports the 3D feature under the cursor, or the overlay polygon
// below it.
func (v *Viewer) query(x, y float64) {
	if f, ok := v.layers.QueryAtScreenPoint(x, y); ok {
		v.status = fmt.Sprintf("%s: %v (%.0f)", f.Layer, f.Properties["name"], f.Distance)
		v.lg.Info("feature picked", "layer", f.Layer, "tile", f.Tile, "properties", f.Properties)
		return
	}
	lat, lon := v.tileMap.ScreenToLatLon(x, y)
	for i := len(v.overlays) - 1; i >= 0; i-- {
		if f, ok := v.overlays[i].FeatureAt(lon, lat); ok {
			v.status = fmt.Sprintf("%s: %v", v.overlays[i].Name, f.Attributes)
			return
		}
	}
	v.status = fmt.Sprintf("%.5f, %.5f", lat, lon)
}

func (v *Viewer) Draw(screen *ebiten.Image) {
	// Draw the tile map and get the visible range for debug info
	tileRange := v.tileMap.Draw(screen, v.debugMode)

	for _, o := range v.overlays {
		o.Draw(screen, v.tileMap)
	}
	if fr, ok := v.layers.Frame(); ok {
		tilemap.DrawScene(screen, tilemap.ProjectScene(v.scene, v.frame, fr))
	}

	v.ui.Draw(screen)

	h := v.tileMap.ScreenHeight
	if v.status != "" {
		ebitenutil.DebugPrintAt(screen, v.status, 4, h-18)
	}

	if v.debugMode {
		redColor := color.RGBA{R: 255, A: 255}
		strokeWidth := float32(1.0)

		// Draw crosshair
		centerX := float32(v.tileMap.ScreenWidth / 2)
		centerY := float32(v.tileMap.ScreenHeight / 2)
		crosshairSize := float32(10.0)

		vector.StrokeLine(screen,
			centerX-crosshairSize, centerY,
			centerX+crosshairSize, centerY,
			strokeWidth, redColor, false)
		vector.StrokeLine(screen,
			centerX, centerY-crosshairSize,
			centerX, centerY+crosshairSize,
			strokeWidth, redColor, false)

		total, visible := v.scene.Len()
		debugText := fmt.Sprintf("Lat: %.4f\nLon: %.4f\nZoom: %d\nBearing: %.0f Pitch: %.0f\nTiles: %d,%d - %d,%d\nPrimitives: %d/%d",
			v.tileMap.CenterLat, v.tileMap.CenterLon, v.tileMap.Zoom,
			v.tileMap.Bearing, v.tileMap.Pitch,
			tileRange.MinX, tileRange.MinY, tileRange.MaxX, tileRange.MaxY,
			visible, total)
		ebitenutil.DebugPrintAt(screen, debugText, v.tileMap.ScreenWidth-220, 4)
		v.ui.ShowDebugInfo(screen, h-36)
	}
}

func (v *Viewer) Layout(outsideWidth, outsideHeight int) (int, int) {
	v.tileMap.ScreenWidth = outsideWidth
	v.tileMap.ScreenHeight = outsideHeight
	v.ui.UpdateWindowSize(outsideWidth, outsideHeight)
	return outsideWidth, outsideHeight
}

func loadConfig() (*config.Config, error) {
	if *configPath == "" {
		c := config.Default()
		return &c, nil
	}
	return config.Load(*configPath)
}

// newFetcher returns the HTTP client, wrapped by the disk cache unless it
// is turned off.
func newFetcher(cfg *config.Config, lg *log.Logger) fetch.Fetcher {
	client := fetch.NewClient(cfg.FetchOptions(), lg)
	if cfg.Cache.Dir == "off" {
		return client
	}

	dir := cfg.Cache.Dir
	if dir == "" {
		ucd, err := os.UserCacheDir()
		if err != nil {
			lg.Warnf("no user cache dir, caching disabled: %v", err)
			return client
		}
		dir = filepath.Join(ucd, "tilestream")
	}
	dc, err := fetch.NewDiskCache(client, dir, cfg.Cache.TTL.Duration, lg)
	if err != nil {
		lg.Warnf("%s: caching disabled: %v", dir, err)
		return client
	}
	go func() {
		if err := dc.Cull(cfg.Cache.MaxMB << 20); err != nil {
			lg.Warnf("%s: cull: %v", dir, err)
		}
	}()
	return dc
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *printConfig {
		if err := cfg.Encode(os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	lg := log.New(cfg.Log.Level, cfg.Log.Dir)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher := newFetcher(cfg, lg)
	center := proj.Geodetic{Lng: cfg.View.Lng, Lat: cfg.View.Lat}
	frame := proj.NewFrame(center, proj.DefaultFrameOptions(), lg)
	scene := render.NewMemScene()
	resolver := tileformat.NewResolver(fetcher, cfg.Tiles.ModelCacheSize, cfg.Cache.TTL.Duration)
	rc := &tiles.RenderContext{
		Frame:     frame,
		Scene:     scene,
		Fetcher:   fetcher,
		Decoder:   tileformat.NewDecoder(tileformat.GLBDecoder{}, resolver, lg),
		Scheduler: tiles.TimerScheduler{},
		Log:       lg,
	}

	tileMap := tilemap.New(cfg.Window.Width, cfg.Window.Height, cfg.View.Lat, cfg.View.Lng, cfg.View.Zoom, fetcher, lg)
	manager := layer.NewManager(rc, tileMap, cfg.LayerOptions())
	defer manager.Close()

	for _, lc := range cfg.Layers {
		if _, err := manager.AddTileset(ctx, lc); err != nil {
			lg.Errorf("layer %s: %v", lc.ID, err)
		}
	}

	var overlays []*overlay.Overlay
	for _, path := range cfg.Overlays {
		o, err := overlay.Load(path, lg)
		if err != nil {
			lg.Errorf("overlay: %v", err)
			continue
		}
		overlays = append(overlays, o)
	}

	if cfg.DebugAddr != "" {
		srv := debugserver.New(manager, lg)
		go func() {
			if err := srv.ListenAndServe(ctx, cfg.DebugAddr); err != nil {
				lg.Errorf("debug server: %v", err)
			}
		}()
	}

	uiController := ui.NewController()
	layerPanel := ui.NewPanel(10, 10, 240, 260, "Layers")
	layerPanel.AddChild(ui.NewButton(0, 0, "Sweep", func() {
		lg.Infof("manual sweep evicted %d tiles", manager.Sweep())
	}))
	uiController.AddPanel(layerPanel)
	uiController.SetStatsPanel(layerPanel, manager.Stats)

	app := &Viewer{
		tileMap:      tileMap,
		layers:       manager,
		frame:        frame,
		scene:        scene,
		overlays:     overlays,
		ui:           uiController,
		lg:           lg,
		lastZoomTime: time.Now(),
	}

	ebiten.SetWindowSize(cfg.Window.Width, cfg.Window.Height)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetWindowTitle(cfg.Window.Title)
	ebiten.SetVsyncEnabled(true)

	if err := ebiten.RunGame(app); err != nil {
		lg.Errorf("%v", err)
		os.Exit(1)
	}
}
