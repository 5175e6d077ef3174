// Package tiles implements the 3D Tiles level-of-detail engine: the tile
// tree, the per-frame visibility traversal, the per-tile load state
// machine and the memory budget.
package tiles

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OpticalFlyer/tilestream/geom"
	"github.com/OpticalFlyer/tilestream/log"
	"github.com/OpticalFlyer/tilestream/proj"
	"github.com/OpticalFlyer/tilestream/render"
	"github.com/OpticalFlyer/tilestream/tileformat"

	"github.com/golang/geo/r3"
	"golang.org/x/sync/singleflight"
)

// errStaleTraversal aborts a traversal overtaken by a newer one. It never
// leaves the package.
var errStaleTraversal = errors.New("stale traversal")

// RenderContext carries the collaborators shared by every tileset of a
// viewer.
type RenderContext struct {
	Frame     *proj.Frame
	Scene     render.Scene
	Fetcher   tileformat.Getter
	Decoder   *tileformat.Decoder
	Scheduler Scheduler
	Log       *log.Logger

	// ActiveLayers reports how many tilesets are being traversed; deferred
	// unloads wait longer when there are more.
	ActiveLayers func() int
}

// Options tunes refinement, memory and unload timing for a tileset.
type Options struct {
	// MaximumScreenSpaceError scales the refinement threshold, which is
	// 256/MaximumScreenSpaceError. Larger values refine further.
	MaximumScreenSpaceError float64
	MaxMemoryBytes          int64
	// AmplificationFactor converts raw tile bytes to charged bytes.
	AmplificationFactor int64

	// ForceReplaceOverAdd makes a REPLACE node whose children refine with
	// ADD report REPLACE to its own parent.
	ForceReplaceOverAdd bool

	// SSEUnloadDelay and ParentUnloadDelay are the base delays for hiding
	// content that is good enough at a coarser level and for hiding a
	// REPLACE parent whose children just finished loading. Both are
	// multiplied by the number of active layers, up to MaxUnloadDelay.
	SSEUnloadDelay    time.Duration
	ParentUnloadDelay time.Duration
	MaxUnloadDelay    time.Duration

	// SweepInterval is the memory budget sweep period; 0 disables the
	// background sweep.
	SweepInterval time.Duration

	Style             render.Params
	ProjectToMercator bool
}

// DefaultOptions returns a 16 pixel error threshold, a 512 MB budget and a
// 30 s sweep.
func DefaultOptions() Options {
	return Options{
		MaximumScreenSpaceError: 16,
		MaxMemoryBytes:          512 << 20,
		AmplificationFactor:     8,
		ForceReplaceOverAdd:     true,
		SSEUnloadDelay:          5 * time.Millisecond,
		ParentUnloadDelay:       time.Second,
		MaxUnloadDelay:          5 * time.Second,
		SweepInterval:           30 * time.Second,
	}
}

// Tileset is a tile tree placed in RenderWorld by an anchor transform.
type Tileset struct {
	URL   string
	Asset tileformat.Asset
	Root  *Node

	rc   *RenderContext
	opts Options

	ctx    context.Context
	cancel context.CancelFunc
	gen    atomic.Uint64
	group  singleflight.Group

	// origin is the geodetic position of an ECEF root transform.
	origin    proj.Geodetic
	hasOrigin bool

	mu            sync.Mutex
	anchor        geom.Mat4
	anchorVersion uint64
	originLat     float64
	total         int64
	closed        bool
}

// New builds the tree for a parsed tileset fetched from url and registers
// it with the render context's frame. The tileset is placed at the
// RenderWorld origin until SetAnchor is called.
func New(parsed *tileformat.Tileset, url string, rc *RenderContext, opts Options) *Tileset {
	if opts.MaximumScreenSpaceError <= 0 {
		opts.MaximumScreenSpaceError = 16
	}
	if opts.AmplificationFactor <= 0 {
		opts.AmplificationFactor = 1
	}

	ts := &Tileset{
		URL:    url,
		Asset:  parsed.Asset,
		rc:     rc,
		opts:   opts,
		anchor: geom.Identity(),
	}
	ts.ctx, ts.cancel = context.WithCancel(context.Background())

	// An ECEF root transform is replaced by the anchor, which places the
	// root's local east-north-up frame at its geodetic position.
	rootWorld := geom.Identity()
	if m, ok := geom.Mat4FromSlice(parsed.Root.Transform); ok && proj.IsECEF(m.Translation()) {
		ts.origin, ts.hasOrigin = proj.ECEFToGeodetic(m.Translation()), true
		parsed.Root.Transform = nil
	}
	ts.Root = ts.buildNode(parsed.Root, url, rootWorld, RefineReplace, "0")

	rc.Frame.Register(ts)
	if opts.SweepInterval > 0 {
		go ts.sweepLoop(opts.SweepInterval)
	}
	return ts
}

// Origin returns the geodetic position given by an ECEF root transform.
func (ts *Tileset) Origin() (proj.Geodetic, bool) { return ts.origin, ts.hasOrigin }

// SetAnchor places the tileset frame in RenderWorld. lat is the latitude
// of the tileset's position, used for Mercator scale corrections.
func (ts *Tileset) SetAnchor(m geom.Mat4, lat float64) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.anchor = m
	ts.originLat = lat
	ts.anchorVersion++
	ts.updateTransforms()
}

// Anchor returns the current RenderWorld placement.
func (ts *Tileset) Anchor() geom.Mat4 {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.anchor
}

// Rescale implements proj.Placeable.
func (ts *Tileset) Rescale(ratio float64) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.anchor = geom.Scale(r3.Vector{X: ratio, Y: ratio, Z: ratio}).Mul(ts.anchor)
	ts.anchorVersion++
	ts.updateTransforms()
}

func (ts *Tileset) updateTransforms() {
	ts.Root.walk(func(n *Node) bool {
		if n.state != Unloaded {
			ts.rc.Scene.SetTransform(n.ID, ts.sceneTransform(n))
		}
		return true
	})
}

// sceneTransform places n's content in RenderWorld.
func (ts *Tileset) sceneTransform(n *Node) geom.Mat4 {
	return ts.anchor.Mul(n.World).Mul(n.content.Transform)
}

// localBox returns n's bounding box in RenderLocal, recomputing it when
// the frame or the anchor has changed since it was cached.
func (ts *Tileset) localBox(n *Node) (geom.Box3, bool) {
	if n.Unbounded {
		return geom.Box3{}, false
	}
	epoch := ts.rc.Frame.Epoch()
	if !n.boxValid || n.boxEpoch != epoch || n.boxAnchor != ts.anchorVersion {
		m := ts.rc.Frame.LocalMatrix().Mul(ts.anchor).Mul(n.World)
		n.box = n.Box.Transform(m)
		n.boxEpoch, n.boxAnchor, n.boxValid = epoch, ts.anchorVersion, true
	}
	return n.box, true
}

// BeginTraversal starts a new traversal generation; traversals holding an
// older token stop writing node state.
func (ts *Tileset) BeginTraversal() uint64 { return ts.gen.Add(1) }

func (ts *Tileset) stale(tok uint64) bool {
	return tok != ts.gen.Load() || ts.ctx.Err() != nil
}

func (ts *Tileset) scheduler() Scheduler {
	if ts.rc.Scheduler == nil {
		return TimerScheduler{}
	}
	return ts.rc.Scheduler
}

func (ts *Tileset) activeLayers() int {
	if ts.rc.ActiveLayers == nil {
		return 1
	}
	return max(ts.rc.ActiveLayers(), 1)
}

// unloadDelay scales base by the number of active layers.
func (ts *Tileset) unloadDelay(base time.Duration) time.Duration {
	d := base * time.Duration(ts.activeLayers())
	if ts.opts.MaxUnloadDelay > 0 && d > ts.opts.MaxUnloadDelay {
		d = ts.opts.MaxUnloadDelay
	}
	return d
}

func (ts *Tileset) decodeOptions(n *Node) tileformat.Options {
	ts.mu.Lock()
	lat := ts.originLat
	ts.mu.Unlock()
	return tileformat.Options{
		URL:               n.URL,
		Name:              n.Name,
		Style:             ts.opts.Style,
		UpAxis:            ts.Asset.UpAxis(),
		WorldTransform:    n.World,
		ProjectToMercator: ts.opts.ProjectToMercator,
		OriginLat:         lat,
	}
}

// Load state transitions; ts.mu must be held.

func (ts *Tileset) install(n *Node) {
	c := n.pending
	n.pending = nil
	n.content = c
	n.bytes = int64(max(c.ByteLength, 1)) * ts.opts.AmplificationFactor
	ts.total += n.bytes
	n.state = Loaded
	ts.rc.Scene.Insert(n.ID, c.Primitive, ts.sceneTransform(n))
}

func (ts *Tileset) hide(n *Node) {
	if n.state == Loaded {
		n.state = LoadedHidden
		ts.rc.Scene.SetVisible(n.ID, false)
	}
}

func (ts *Tileset) show(n *Node) {
	if n.state == LoadedHidden {
		n.state = Loaded
		ts.rc.Scene.SetVisible(n.ID, true)
	}
}

func (ts *Tileset) evict(n *Node) {
	if n.state == Unloaded {
		return
	}
	ts.rc.Scene.Remove(n.ID)
	ts.total -= n.bytes
	n.bytes = 0
	n.content = nil
	n.state = Unloaded
}

// Destroy cancels in-flight fetches, stops the budget sweep and evicts
// every node. The tileset cannot be used afterwards.
func (ts *Tileset) Destroy() {
	ts.rc.Frame.Unregister(ts)
	ts.cancel()

	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.closed = true
	ts.Root.walk(func(n *Node) bool {
		ts.evict(n)
		n.pending = nil
		return true
	})
}

// Stats summarizes a tileset's residency.
type Stats struct {
	Nodes    int   `json:"nodes"`
	Loaded   int   `json:"loaded"`
	Hidden   int   `json:"hidden"`
	Failed   int   `json:"failed"`
	Bytes    int64 `json:"bytes"`
	MaxBytes int64 `json:"maxBytes"`
}

func (ts *Tileset) Stats() Stats {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	s := Stats{Bytes: ts.total, MaxBytes: ts.opts.MaxMemoryBytes}
	ts.Root.walk(func(n *Node) bool {
		s.Nodes++
		switch n.state {
		case Loaded:
			s.Loaded++
		case LoadedHidden:
			s.Hidden++
		}
		if n.failed {
			s.Failed++
		}
		return true
	})
	return s
}

// Hit is a picked feature.
type Hit struct {
	tileformat.Hit
	Node *Node
}

// Pick returns the nearest shown content hit by a RenderLocal ray.
func (ts *Tileset) Pick(ray geom.Ray) (Hit, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	local := ts.rc.Frame.LocalMatrix()
	var best Hit
	found := false
	ts.Root.walk(func(n *Node) bool {
		if n.state != Loaded {
			return true
		}
		m := local.Mul(ts.anchor).Mul(n.World)
		if h, ok := n.content.Pick(ray, m); ok && (!found || h.Dist < best.Dist) {
			best, found = Hit{Hit: h, Node: n}, true
		}
		return true
	})
	return best, found
}
