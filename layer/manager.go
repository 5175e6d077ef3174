package layer

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/OpticalFlyer/tilestream/tiles"
)

// Options are the manager-wide defaults.
type Options struct {
	// Tiles holds the defaults each layer's Config overrides.
	Tiles tiles.Options
	// TerrainRefreshInterval limits how often terrain-following layers
	// query the host for elevation.
	TerrainRefreshInterval time.Duration
}

// DefaultOptions uses the tiles defaults and a one second terrain refresh.
func DefaultOptions() Options {
	return Options{
		Tiles:                  tiles.DefaultOptions(),
		TerrainRefreshInterval: time.Second,
	}
}

// Manager owns the tileset layers drawn over one host map.
type Manager struct {
	rc   *tiles.RenderContext
	host HostMap
	cam  *CameraSync
	opts Options

	mu          sync.RWMutex
	layers      map[string]*TilesetLayer
	order       []string
	frame       Frame
	haveFrame   bool
	lastTerrain time.Time
}

// NewManager returns a manager drawing into rc. Unless rc already counts
// active layers, the manager does.
func NewManager(rc *tiles.RenderContext, host HostMap, opts Options) *Manager {
	m := &Manager{
		rc:     rc,
		host:   host,
		cam:    NewCameraSync(host, rc.Frame),
		opts:   opts,
		layers: make(map[string]*TilesetLayer),
	}
	if rc.ActiveLayers == nil {
		rc.ActiveLayers = m.Len
	}
	return m
}

// AddTileset validates cfg and starts loading the tileset. Configuration
// errors are returned immediately and no layer is created; load errors
// are reported by the layer's Err once Ready is closed.
func (m *Manager) AddTileset(ctx context.Context, cfg Config) (*TilesetLayer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.layers[cfg.ID]; ok {
		return nil, fmt.Errorf("%w: layer %q already exists", ErrConfiguration, cfg.ID)
	}

	l := &TilesetLayer{cfg: cfg, m: m, ready: make(chan struct{})}
	l.ctx, l.cancel = context.WithCancel(context.WithoutCancel(ctx))
	m.layers[cfg.ID] = l
	m.order = append(m.order, cfg.ID)
	go l.load()

	m.rc.Log.Info("layer added", "layer", cfg.ID, "url", cfg.URL)
	return l, nil
}

// RemoveTileset cancels the layer's fetches and traversals, stops its
// budget sweep and evicts every tile.
func (m *Manager) RemoveTileset(id string) error {
	m.mu.Lock()
	l, ok := m.layers[id]
	if ok {
		delete(m.layers, id)
		for i, o := range m.order {
			if o == id {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	l.destroy()
	m.rc.Log.Info("layer removed", "layer", id)
	return nil
}

func (m *Manager) Get(id string) (*TilesetLayer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.layers[id]
	return l, ok
}

// Layers returns the layers in the order they were added.
func (m *Manager) Layers() []*TilesetLayer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ls := make([]*TilesetLayer, 0, len(m.order))
	for _, id := range m.order {
		ls = append(ls, m.layers[id])
	}
	return ls
}

// Len returns the number of layers.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.layers)
}

// OnFrame syncs the camera with the host map and starts a traversal of
// every loaded layer. It does not wait for the traversals.
func (m *Manager) OnFrame(now time.Time) {
	fr, ok := m.cam.Update(now)
	if !ok {
		return
	}

	m.mu.Lock()
	m.frame, m.haveFrame = fr, true
	refresh := now.Sub(m.lastTerrain) >= m.opts.TerrainRefreshInterval
	if refresh {
		m.lastTerrain = now
	}
	m.mu.Unlock()

	for _, l := range m.Layers() {
		if refresh {
			l.refreshTerrain(m.host)
		}
		l.traverse(fr.View)
	}
}

// Frame returns the camera computed by the last OnFrame.
func (m *Manager) Frame() (Frame, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.frame, m.haveFrame
}

// Wait blocks until every layer's in-flight traversals have returned.
func (m *Manager) Wait() {
	for _, l := range m.Layers() {
		l.Wait()
	}
}

// Feature is the result of a screen query.
type Feature struct {
	Layer      string         `json:"layer"`
	Tile       string         `json:"tile"`
	URL        string         `json:"url"`
	Distance   float64        `json:"distance"`
	Properties map[string]any `json:"properties"`
}

// QueryAtScreenPoint casts a ray through pixel (x, y) of the last frame
// and returns the nearest shown feature across all layers.
func (m *Manager) QueryAtScreenPoint(x, y float64) (Feature, bool) {
	fr, ok := m.Frame()
	if !ok {
		return Feature{}, false
	}
	ray := fr.Ray(x, y)

	var best Feature
	found := false
	for _, l := range m.Layers() {
		ts := l.Tileset()
		if ts == nil {
			continue
		}
		h, ok := ts.Pick(ray)
		if !ok || found && h.Dist >= best.Distance {
			continue
		}
		props := make(map[string]any, len(h.Properties)+1)
		maps.Copy(props, h.Properties)
		if _, ok := props["name"]; !ok {
			props["name"] = l.ID()
		}
		best = Feature{
			Layer:      l.ID(),
			Tile:       h.Node.Path,
			URL:        h.Node.URL,
			Distance:   h.Dist,
			Properties: props,
		}
		found = true
	}
	return best, found
}

// Stats returns a snapshot of every layer, sorted by id.
func (m *Manager) Stats() []Stats {
	var s []Stats
	for _, l := range m.Layers() {
		s = append(s, l.Stats())
	}
	sort.Slice(s, func(i, j int) bool { return s[i].ID < s[j].ID })
	return s
}

// Sweep runs a budget sweep on every ready layer and returns the number of
// tiles evicted.
func (m *Manager) Sweep() int {
	n := 0
	for _, l := range m.Layers() {
		if ts := l.Tileset(); ts != nil {
			n += ts.Sweep()
		}
	}
	return n
}

// Close removes every layer.
func (m *Manager) Close() {
	for _, l := range m.Layers() {
		m.RemoveTileset(l.ID())
	}
}
