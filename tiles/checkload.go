package tiles

import (
	"context"
	"math"
	"time"

	"github.com/OpticalFlyer/tilestream/geom"
	"github.com/OpticalFlyer/tilestream/tileformat"

	"github.com/golang/geo/r3"
	"golang.org/x/sync/errgroup"
)

// View is the camera state a traversal is evaluated against, in
// RenderLocal coordinates.
type View struct {
	Frustum geom.Frustum
	Camera  r3.Vector

	// Viewport is the drawing surface in pixels; Screen is the device
	// screen. Screen defaults to the viewport when unset.
	ViewportWidth, ViewportHeight float64
	ScreenWidth, ScreenHeight     float64
}

// sse returns the screen-space error of geometric error ge seen from
// distance dist.
func (v View) sse(ge, dist float64) float64 {
	sw, sh := v.ScreenWidth, v.ScreenHeight
	if sw <= 0 || sh <= 0 {
		sw, sh = v.ViewportWidth, v.ViewportHeight
	}
	if dist <= 0 || sw <= 0 {
		return math.Inf(1)
	}
	return ge * v.ViewportHeight * sh / (dist * sw)
}

// Result is what a node reports to its parent.
type Result struct {
	// IsLoad is set when the node (or its descendants) must show detail.
	IsLoad bool
	// Ready is set when the detail the node needs is displayable now.
	Ready bool
	// ChildRefine is the refine the node's subtree contributes.
	ChildRefine Refine
	// HasChildLoadCache is set when the displayed detail was already
	// resident before this traversal.
	HasChildLoadCache bool
	// Stale is set when a newer traversal overtook this one; nothing else
	// in the result is meaningful.
	Stale bool
}

// CheckLoad traverses the tree against v, loading, showing and hiding
// content. tok must come from BeginTraversal; once a newer traversal has
// begun this one stops writing node state and reports Stale.
func (ts *Tileset) CheckLoad(ctx context.Context, v View, tok uint64) Result {
	r, err := ts.checkLoad(ctx, ts.Root, v, tok)
	if err != nil {
		return Result{Stale: true}
	}
	return r
}

func (ts *Tileset) checkLoad(ctx context.Context, n *Node, v View, tok uint64) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	ts.mu.Lock()
	if ts.stale(tok) {
		ts.mu.Unlock()
		return Result{}, errStaleTraversal
	}
	box, bounded := ts.localBox(n)
	if bounded && !v.Frustum.IntersectsBox(box) {
		ts.hideSubtree(n)
		ts.mu.Unlock()
		return Result{}, nil
	}
	dist := 0.0
	if bounded {
		dist = box.DistanceToPoint(v.Camera)
	}
	threshold := 256 / ts.opts.MaximumScreenSpaceError
	if n.GeometricError > 0 && v.sse(n.GeometricError, dist) < threshold {
		ts.deferHideSubtree(n, ts.unloadDelay(ts.opts.SSEUnloadDelay))
		ts.mu.Unlock()
		return Result{}, nil
	}
	ts.mu.Unlock()

	if n.IsTilesetJSON() {
		if err := ts.attach(ctx, n, tok); err != nil {
			return Result{}, err
		}
	}

	ts.mu.Lock()
	children := n.children
	failed := n.failed
	ts.mu.Unlock()

	res := Result{IsLoad: true, ChildRefine: n.Refine}
	if len(children) == 0 {
		if n.IsTilesetJSON() {
			// A sub-tileset that failed or has nothing in it.
			res.Ready = !failed
			return res, nil
		}
		ready, cached, err := ts.load(ctx, n, tok)
		if err != nil {
			return Result{}, err
		}
		res.Ready, res.HasChildLoadCache = ready, cached
		return res, nil
	}

	results := make([]Result, len(children))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range children {
		i, c := i, c
		g.Go(func() error {
			r, err := ts.checkLoad(gctx, c, v, tok)
			results[i] = r
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	refine := n.Refine
	allReady, allCached := true, true
	for _, r := range results {
		if !r.IsLoad || !r.Ready {
			allReady = false
		}
		if r.IsLoad {
			allCached = allCached && r.HasChildLoadCache
			if r.ChildRefine == RefineAdd {
				refine = RefineAdd
			}
		}
	}
	res.ChildRefine = refine
	if ts.opts.ForceReplaceOverAdd && refine == RefineAdd && n.Refine == RefineReplace {
		res.ChildRefine = RefineReplace
	}

	switch {
	case n.IsTilesetJSON():
		// Nothing of its own to show; readiness is its children's.
		res.Ready, res.HasChildLoadCache = allReady, allCached
		return res, nil

	case allReady && refine == RefineReplace:
		ts.mu.Lock()
		defer ts.mu.Unlock()
		if ts.stale(tok) {
			return Result{}, errStaleTraversal
		}
		n.pending = nil
		if allCached {
			ts.hide(n)
		} else {
			ts.deferHideParent(n, ts.unloadDelay(ts.opts.ParentUnloadDelay))
		}
		res.Ready, res.HasChildLoadCache = true, allCached
		return res, nil

	default:
		ready, cached, err := ts.load(ctx, n, tok)
		if err != nil {
			return Result{}, err
		}
		res.Ready = ready
		res.HasChildLoadCache = cached && (refine == RefineReplace || allCached)
		return res, nil
	}
}

// load makes n's content resident and shown, fetching and decoding it if
// needed. It reports whether the content (or the lack of it) is
// displayable and whether it was already resident.
func (ts *Tileset) load(ctx context.Context, n *Node, tok uint64) (ready, cached bool, err error) {
	ts.mu.Lock()
	if ts.stale(tok) {
		ts.mu.Unlock()
		return false, false, errStaleTraversal
	}
	n.showSeq++
	switch {
	case !n.hasContent():
		ts.mu.Unlock()
		return true, true, nil
	case n.failed:
		ts.mu.Unlock()
		return false, false, nil
	case n.state != Unloaded:
		ts.show(n)
		ts.mu.Unlock()
		return true, true, nil
	case n.pending != nil:
		ts.install(n)
		ts.mu.Unlock()
		return true, false, nil
	}
	ts.mu.Unlock()

	ch := ts.group.DoChan(n.ID.String(), func() (any, error) {
		ts.fetchContent(n)
		return nil, nil
	})
	select {
	case <-ch:
	case <-ctx.Done():
		return false, false, ctx.Err()
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.stale(tok) {
		return false, false, errStaleTraversal
	}
	switch {
	case n.failed:
		return false, false, nil
	case n.state != Unloaded:
		// Installed by a concurrent visit.
		ts.show(n)
		return true, false, nil
	case n.pending != nil:
		ts.install(n)
		return true, false, nil
	}
	// Culled while in flight.
	return false, false, nil
}

// fetchContent fetches and decodes n's content and parks it in n.pending.
// Failures mark the node failed; it is not retried.
func (ts *Tileset) fetchContent(n *Node) {
	data, err := ts.rc.Fetcher.Get(ts.ctx, n.URL)
	var c *tileformat.Content
	if err == nil {
		c, err = ts.rc.Decoder.Decode(ts.ctx, n.Type, data, ts.decodeOptions(n))
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.closed || ts.ctx.Err() != nil {
		return
	}
	if err != nil {
		n.failed = true
		ts.rc.Log.Warnf("%s: tile %s: %v", ts.URL, n.Path, err)
		return
	}
	if n.state == Unloaded {
		n.pending = c
	}
}

// attach fetches a nested tileset the first time its node is visited and
// hangs its tree under the node.
func (ts *Tileset) attach(ctx context.Context, n *Node, tok uint64) error {
	ts.mu.Lock()
	done := n.attached || n.failed
	ts.mu.Unlock()
	if done {
		return nil
	}

	ch := ts.group.DoChan(n.ID.String(), func() (any, error) {
		data, err := ts.rc.Fetcher.Get(ts.ctx, n.URL)
		var sub *tileformat.Tileset
		if err == nil {
			sub, err = tileformat.ParseTileset(data)
		}

		ts.mu.Lock()
		defer ts.mu.Unlock()
		if n.attached || ts.closed || ts.ctx.Err() != nil {
			return nil, nil
		}
		if err != nil {
			n.failed = true
			ts.rc.Log.Warnf("%s: sub-tileset %s: %v", ts.URL, n.URL, err)
			return nil, nil
		}
		root := ts.buildNode(sub.Root, n.URL, n.World, n.Refine, n.Path+"/t")
		n.children = append(n.children, root)
		n.attached = true
		ts.rc.Log.Debugf("%s: attached sub-tileset %s", ts.URL, n.URL)
		return nil, nil
	})
	select {
	case <-ch:
	case <-ctx.Done():
		return ctx.Err()
	}
	if ts.stale(tok) {
		return errStaleTraversal
	}
	return nil
}

// hideSubtree hides every shown node under n and drops parked content.
func (ts *Tileset) hideSubtree(n *Node) {
	n.walk(func(c *Node) bool {
		ts.hide(c)
		c.pending = nil
		return true
	})
}

// deferHideSubtree schedules every shown node under n to be hidden after
// delay, unless it is shown again first.
func (ts *Tileset) deferHideSubtree(n *Node, delay time.Duration) {
	n.walk(func(c *Node) bool {
		c.pending = nil
		ts.deferHide(c, delay, nil)
		return true
	})
}

// deferHideParent schedules a REPLACE parent to be hidden once its
// children have had time to draw, provided they are still displaying.
func (ts *Tileset) deferHideParent(n *Node, delay time.Duration) {
	ts.deferHide(n, delay, func() bool {
		for _, c := range n.children {
			if !displaying(c) {
				return false
			}
		}
		return true
	})
}

func (ts *Tileset) deferHide(n *Node, delay time.Duration, check func() bool) {
	if n.state != Loaded || n.unloadPending {
		return
	}
	n.unloadPending = true
	seq := n.showSeq
	ts.scheduler().AfterFunc(delay, func() {
		ts.mu.Lock()
		defer ts.mu.Unlock()
		n.unloadPending = false
		if ts.closed || n.showSeq != seq {
			return
		}
		if check == nil || check() {
			ts.hide(n)
		}
	})
}

// displaying reports whether n's branch is drawing something: its own
// content, or every child's.
func displaying(n *Node) bool {
	if n.state == Loaded {
		return true
	}
	if len(n.children) == 0 {
		return !n.hasContent() || n.IsTilesetJSON() && !n.failed
	}
	for _, c := range n.children {
		if !displaying(c) {
			return false
		}
	}
	return true
}
