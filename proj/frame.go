package proj

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OpticalFlyer/tilestream/geom"
	"github.com/OpticalFlyer/tilestream/log"

	"github.com/golang/geo/r3"
	"github.com/paulmach/orb/geo"
)

// Placeable is anything positioned in RenderWorld coordinates. When the
// frame re-centers, the world scale changes and every registered
// Placeable is asked to scale its position (and size) by ratio.
type Placeable interface {
	Rescale(ratio float64)
}

// FrameOptions sets when the frame re-centers.
type FrameOptions struct {
	// Re-centering only happens above this zoom level.
	RecenterMinZoom float64
	// Distance in meters between the camera center and the origin that
	// triggers a re-center.
	RecenterDistance float64
	// Minimum wall-clock time between re-centers.
	RecenterInterval time.Duration
}

// DefaultFrameOptions re-centers past zoom 8 after 50 km, at most once a second.
func DefaultFrameOptions() FrameOptions {
	return FrameOptions{
		RecenterMinZoom:  8,
		RecenterDistance: 50000,
		RecenterInterval: time.Second,
	}
}

type frameState struct {
	origin      Geodetic
	scale       float64
	originWorld r3.Vector
}

// Frame manages the rendering coordinate frames.
//
// RenderWorld is Web Mercator scaled by cos(origin latitude), which makes
// one unit approximately one meter near the origin. RenderLocal is
// RenderWorld translated so that the origin sits at zero, keeping
// coordinates small near the camera.
//
// Conversions are lock free. Renderers hold RLock while drawing so that a
// re-center, which takes the write lock while it rescales every
// Placeable, is never observed half done.
type Frame struct {
	mu sync.RWMutex

	opts  FrameOptions
	state atomic.Pointer[frameState]
	epoch atomic.Uint64

	lastRecenter time.Time
	placeables   map[Placeable]struct{}

	lg *log.Logger
}

// NewFrame returns a frame with its origin at origin.
func NewFrame(origin Geodetic, opts FrameOptions, lg *log.Logger) *Frame {
	f := &Frame{
		opts:       opts,
		placeables: make(map[Placeable]struct{}),
		lg:         lg,
	}
	f.state.Store(makeFrameState(origin))
	return f
}

func makeFrameState(origin Geodetic) *frameState {
	origin.Height = 0
	origin = origin.ClampLat()
	s := math.Cos(origin.Lat * degToRad)
	return &frameState{
		origin:      origin,
		scale:       s,
		originWorld: GeodeticToMercator(origin).Mul(s),
	}
}

func (f *Frame) RLock()   { f.mu.RLock() }
func (f *Frame) RUnlock() { f.mu.RUnlock() }

// Origin returns the current re-centering anchor.
func (f *Frame) Origin() Geodetic { return f.state.Load().origin }

// Scale returns the RenderWorld units per Mercator unit.
func (f *Frame) Scale() float64 { return f.state.Load().scale }

// Epoch is incremented on every re-center. Values cached in RenderLocal
// coordinates must be recomputed when it changes.
func (f *Frame) Epoch() uint64 { return f.epoch.Load() }

// MetersToWorld returns the RenderWorld length of m meters at latitude lat.
func (f *Frame) MetersToWorld(m, lat float64) float64 {
	return m * HeightScale(lat) * f.Scale()
}

func (f *Frame) MercatorToWorld(m r3.Vector) r3.Vector {
	return m.Mul(f.Scale())
}

func (f *Frame) WorldToMercator(w r3.Vector) r3.Vector {
	return w.Mul(1 / f.Scale())
}

func (f *Frame) GeodeticToWorld(g Geodetic) r3.Vector {
	return f.MercatorToWorld(GeodeticToMercator(g))
}

func (f *Frame) WorldToGeodetic(w r3.Vector) Geodetic {
	return MercatorToGeodetic(f.WorldToMercator(w))
}

// WorldToLocal applies the scene transform: RenderLocal = T · RenderWorld.
func (f *Frame) WorldToLocal(w r3.Vector) r3.Vector {
	return w.Sub(f.state.Load().originWorld)
}

// LocalToWorld applies the inverse of the scene transform.
func (f *Frame) LocalToWorld(l r3.Vector) r3.Vector {
	return l.Add(f.state.Load().originWorld)
}

func (f *Frame) GeodeticToLocal(g Geodetic) r3.Vector {
	return f.WorldToLocal(f.GeodeticToWorld(g))
}

func (f *Frame) LocalToGeodetic(l r3.Vector) Geodetic {
	return f.WorldToGeodetic(f.LocalToWorld(l))
}

func (f *Frame) MercatorToLocal(m r3.Vector) r3.Vector {
	return f.WorldToLocal(f.MercatorToWorld(m))
}

func (f *Frame) LocalToMercator(l r3.Vector) r3.Vector {
	return f.WorldToMercator(f.LocalToWorld(l))
}

// LocalMatrix returns T, the RenderWorld to RenderLocal transform.
func (f *Frame) LocalMatrix() geom.Mat4 {
	return geom.Translate(f.state.Load().originWorld.Mul(-1))
}

// Register adds p to the set of objects rescaled on re-center.
func (f *Frame) Register(p Placeable) {
	f.mu.Lock()
	f.placeables[p] = struct{}{}
	f.mu.Unlock()
}

func (f *Frame) Unregister(p Placeable) {
	f.mu.Lock()
	delete(f.placeables, p)
	f.mu.Unlock()
}

// MaybeRecenter moves the origin to center if the camera is zoomed in past
// RecenterMinZoom, center is further than RecenterDistance from the
// current origin, and RecenterInterval has passed since the last
// re-center. It reports whether a re-center happened.
func (f *Frame) MaybeRecenter(center Geodetic, zoom float64, now time.Time) bool {
	if zoom <= f.opts.RecenterMinZoom {
		return false
	}
	f.mu.RLock()
	recent := !f.lastRecenter.IsZero() && now.Sub(f.lastRecenter) < f.opts.RecenterInterval
	f.mu.RUnlock()
	if recent {
		return false
	}
	if geo.DistanceHaversine(f.Origin().Point(), center.Point()) <= f.opts.RecenterDistance {
		return false
	}
	f.Recenter(center, now)
	return true
}

// Recenter unconditionally moves the origin to center, rescaling every
// registered Placeable by newScale/oldScale.
func (f *Frame) Recenter(center Geodetic, now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	old := f.state.Load()
	next := makeFrameState(center)
	ratio := next.scale / old.scale
	for p := range f.placeables {
		p.Rescale(ratio)
	}
	f.state.Store(next)
	f.lastRecenter = now
	epoch := f.epoch.Add(1)

	f.lg.Debug("frame re-centered",
		"lng", next.origin.Lng, "lat", next.origin.Lat,
		"ratio", ratio, "epoch", epoch, "placeables", len(f.placeables))
}
