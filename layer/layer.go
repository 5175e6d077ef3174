// Package layer exposes tilesets as map layers: it loads and places each
// tileset, keeps the traversal view in step with the host map camera and
// answers feature queries.
package layer

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/OpticalFlyer/tilestream/geom"
	"github.com/OpticalFlyer/tilestream/proj"
	"github.com/OpticalFlyer/tilestream/tileformat"
	"github.com/OpticalFlyer/tilestream/tiles"

	"github.com/golang/geo/r3"
)

// TilesetLayer is one tileset added to a Manager.
type TilesetLayer struct {
	cfg Config
	m   *Manager

	ctx    context.Context
	cancel context.CancelFunc
	ready  chan struct{}
	wg     sync.WaitGroup

	// Set once before ready is closed.
	ts  *tiles.Tileset
	err error

	mu         sync.Mutex
	position   proj.Geodetic
	placed     bool
	elevation  float64
	cancelTrav context.CancelFunc
	last       tiles.Result
	traversals atomic.Int64
}

func (l *TilesetLayer) ID() string     { return l.cfg.ID }
func (l *TilesetLayer) Config() Config { return l.cfg }

// Ready is closed once the root tileset has loaded or failed.
func (l *TilesetLayer) Ready() <-chan struct{} { return l.ready }

// Err returns the root tileset load error, if any.
func (l *TilesetLayer) Err() error {
	select {
	case <-l.ready:
		return l.err
	default:
		return nil
	}
}

// Tileset returns the layer's tile tree, or nil until it has loaded.
func (l *TilesetLayer) Tileset() *tiles.Tileset {
	select {
	case <-l.ready:
		return l.ts
	default:
		return nil
	}
}

// load fetches and parses the root tileset and places it.
func (l *TilesetLayer) load() {
	defer close(l.ready)
	lg := l.m.rc.Log

	data, err := l.m.rc.Fetcher.Get(l.ctx, l.cfg.URL)
	var parsed *tileformat.Tileset
	if err == nil {
		parsed, err = tileformat.ParseTileset(data)
	}
	if err != nil {
		l.err = fmt.Errorf("%s: %w", l.cfg.URL, err)
		if l.ctx.Err() == nil {
			lg.Errorf("layer %s: %v", l.cfg.ID, l.err)
		}
		return
	}
	if l.ctx.Err() != nil {
		l.err = l.ctx.Err()
		return
	}

	ts := tiles.New(parsed, l.cfg.URL, l.m.rc, l.cfg.tileOptions(l.m.opts.Tiles))
	l.mu.Lock()
	switch origin, ok := ts.Origin(); {
	case l.cfg.Position != nil:
		l.position, l.placed = l.cfg.Position.Geodetic(), true
	case ok:
		l.position, l.placed = origin, true
	}
	l.mu.Unlock()
	l.ts = ts
	l.place()

	lg.Info("tileset loaded", "layer", l.cfg.ID, "url", l.cfg.URL,
		"version", parsed.Asset.Version, "generator", parsed.Asset.GeneratorName(),
		"up", parsed.Asset.UpAxis())
}

// place computes the anchor from the layer position, terrain elevation,
// rotation and scale. Tilesets without a position stay at the RenderWorld
// origin with their coordinates taken as meters.
func (l *TilesetLayer) place() {
	f := l.m.rc.Frame
	f.RLock()
	defer f.RUnlock()

	l.mu.Lock()
	pos, placed := l.position, l.placed
	pos.Height += l.elevation
	l.mu.Unlock()

	rot := geom.RotateZ(l.cfg.Rotation * math.Pi / 180)
	s := l.cfg.scale()
	if !placed {
		m := rot.Mul(geom.Scale(r3.Vector{X: s, Y: s, Z: s}))
		l.ts.SetAnchor(m, 0)
		return
	}
	s *= f.MetersToWorld(1, pos.Lat)
	m := geom.Translate(f.GeodeticToWorld(pos)).Mul(rot).Mul(geom.Scale(r3.Vector{X: s, Y: s, Z: s}))
	l.ts.SetAnchor(m, pos.Lat)
}

// refreshTerrain re-places a terrain-following layer when the elevation
// under it has changed.
func (l *TilesetLayer) refreshTerrain(host HostMap) {
	if !l.cfg.UseTerrainHeight || l.Tileset() == nil {
		return
	}
	l.mu.Lock()
	pos, placed := l.position, l.placed
	l.mu.Unlock()
	if !placed {
		return
	}
	h, _ := host.Elevation(pos)
	l.mu.Lock()
	changed := h != l.elevation
	l.elevation = h
	l.mu.Unlock()
	if changed {
		l.place()
	}
}

// traverse starts a traversal for v, superseding any still in flight.
func (l *TilesetLayer) traverse(v tiles.View) {
	ts := l.Tileset()
	if ts == nil {
		return
	}

	l.mu.Lock()
	if l.ctx.Err() != nil {
		l.mu.Unlock()
		return
	}
	if l.cancelTrav != nil {
		l.cancelTrav()
	}
	ctx, cancel := context.WithCancel(l.ctx)
	l.cancelTrav = cancel
	tok := ts.BeginTraversal()
	l.wg.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.wg.Done()
		defer cancel()
		r := ts.CheckLoad(ctx, v, tok)
		if r.Stale {
			return
		}
		l.traversals.Add(1)
		l.mu.Lock()
		l.last = r
		l.mu.Unlock()
	}()
}

// LastResult returns the result of the most recent traversal that ran to
// completion.
func (l *TilesetLayer) LastResult() tiles.Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

// Wait blocks until every started traversal has returned.
func (l *TilesetLayer) Wait() { l.wg.Wait() }

// destroy cancels loading and traversals and releases every tile.
func (l *TilesetLayer) destroy() {
	l.mu.Lock()
	l.cancel()
	l.mu.Unlock()
	<-l.ready
	l.wg.Wait()
	if l.ts != nil {
		l.ts.Destroy()
	}
}

// Stats is a snapshot of a layer.
type Stats struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	Ready      bool   `json:"ready"`
	Err        string `json:"error,omitempty"`
	Traversals int64  `json:"traversals"`
	tiles.Stats
}

func (l *TilesetLayer) Stats() Stats {
	s := Stats{ID: l.cfg.ID, URL: l.cfg.URL, Traversals: l.traversals.Load()}
	select {
	case <-l.ready:
		s.Ready = l.err == nil
		if l.err != nil {
			s.Err = l.err.Error()
		}
	default:
	}
	if ts := l.Tileset(); ts != nil {
		s.Stats = ts.Stats()
	}
	return s
}
