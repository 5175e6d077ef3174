package tiles

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/OpticalFlyer/tilestream/geom"
	"github.com/OpticalFlyer/tilestream/proj"
	"github.com/OpticalFlyer/tilestream/tileformat/tiletest"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parentChild(rootRefine string, childGE float64, childHalf float64) string {
	return fmt.Sprintf(`{
		"asset": {"version": "1.0"},
		"geometricError": 100,
		"root": {
			"boundingVolume": %s,
			"geometricError": 100,
			"refine": %q,
			"content": {"uri": "root.b3dm"},
			"children": [{
				"boundingVolume": %s,
				"geometricError": %g,
				"content": {"uri": "child.b3dm"}
			}]
		}
	}`, box(0, 0, 0, 50), rootRefine, box(0, 0, 0, childHalf), childGE)
}

func parentChildFiles() map[string][]byte {
	return map[string][]byte{
		"root.b3dm":  tiletest.B3DM("root", 0),
		"child.b3dm": tiletest.B3DM("child", 0),
	}
}

func TestRootRefinesToLeaf(t *testing.T) {
	e := newEnv(t, parentChild("REPLACE", 0, 50), parentChildFiles(), testOptions())
	root := e.ts.Root
	child := root.children[0]

	// 1000 units from the box: sse(root) = 100*1000/1000 = 100 > 16.
	r := e.traverse(above(1050))
	assert.True(t, r.IsLoad)
	assert.True(t, r.Ready)
	assert.False(t, r.Stale)
	assert.Equal(t, RefineReplace, r.ChildRefine)

	assert.Equal(t, Unloaded, e.state(root))
	assert.Equal(t, Loaded, e.state(child))
	assert.Equal(t, 0, e.fetch.count("root.b3dm"))
	assert.Equal(t, 0, e.sched.Pending())
	checkBudget(t, e)
}

func TestReplaceDefersParentHide(t *testing.T) {
	e := newEnv(t, parentChild("REPLACE", 1, 10), parentChildFiles(), testOptions())
	root := e.ts.Root
	child := root.children[0]

	// From far away the child is good enough to skip, so the root shows.
	r := e.traverse(above(1050))
	require.True(t, r.IsLoad)
	assert.Equal(t, Loaded, e.state(root))
	assert.Equal(t, Unloaded, e.state(child))
	checkBudget(t, e)

	// Close up the child loads; the root stays until the child has drawn.
	r = e.traverse(above(20))
	require.True(t, r.Ready)
	assert.False(t, r.HasChildLoadCache)
	assert.Equal(t, Loaded, e.state(root))
	assert.Equal(t, Loaded, e.state(child))
	assert.Equal(t, 1, e.sched.Pending())

	e.sched.Advance(999 * time.Millisecond)
	assert.Equal(t, Loaded, e.state(root))
	e.sched.Advance(time.Millisecond)
	assert.Equal(t, LoadedHidden, e.state(root))
	assert.Equal(t, Loaded, e.state(child))
	checkBudget(t, e)

	// Now the child is cached; another visit hides the root at once.
	r = e.traverse(above(20))
	assert.True(t, r.HasChildLoadCache)
	assert.Equal(t, LoadedHidden, e.state(root))
	assert.Equal(t, 0, e.sched.Pending())

	// Backing off re-shows the root from cache and schedules the child's
	// hide exactly once.
	e.traverse(above(1050))
	e.traverse(above(1050))
	assert.Equal(t, Loaded, e.state(root))
	assert.Equal(t, Loaded, e.state(child))
	assert.Equal(t, 1, e.sched.Pending())
	e.sched.Advance(5 * time.Millisecond)
	assert.Equal(t, LoadedHidden, e.state(child))
	assert.Equal(t, 1, e.fetch.count("root.b3dm"))
	assert.Equal(t, 1, e.fetch.count("child.b3dm"))
	checkBudget(t, e)
}

func TestDeferredHideCancelledByReshow(t *testing.T) {
	e := newEnv(t, parentChild("REPLACE", 1, 10), parentChildFiles(), testOptions())
	root := e.ts.Root
	child := root.children[0]

	e.traverse(above(1050))
	e.traverse(above(20))
	require.Equal(t, 1, e.sched.Pending())

	// The root is needed again before its hide fires.
	e.traverse(above(1050))
	e.sched.Advance(time.Second)

	assert.Equal(t, Loaded, e.state(root))
	assert.Equal(t, LoadedHidden, e.state(child))
	checkBudget(t, e)
}

func TestFrustumCullHidesSubtree(t *testing.T) {
	e := newEnv(t, parentChild("ADD", 0, 50), parentChildFiles(), testOptions())
	root := e.ts.Root
	child := root.children[0]

	r := e.traverse(above(1050))
	require.True(t, r.IsLoad)
	assert.Equal(t, RefineAdd, r.ChildRefine)
	assert.Equal(t, Loaded, e.state(root), "ADD shows parent and child together")
	assert.Equal(t, Loaded, e.state(child))

	r = e.traverse(away())
	assert.False(t, r.IsLoad)
	assert.Equal(t, LoadedHidden, e.state(root))
	assert.Equal(t, LoadedHidden, e.state(child))
	checkBudget(t, e)

	// Turning back shows both from cache.
	e.traverse(above(1050))
	assert.Equal(t, Loaded, e.state(root))
	assert.Equal(t, Loaded, e.state(child))
	assert.Equal(t, 1, e.fetch.count("root.b3dm"))
}

func TestStaleTraversalDiscarded(t *testing.T) {
	js := fmt.Sprintf(`{"asset":{"version":"1.0"},"root":{"boundingVolume":%s,"geometricError":0,"content":{"uri":"root.b3dm"}}}`, box(0, 0, 0, 50))
	e := newEnv(t, js, parentChildFiles(), testOptions())
	root := e.ts.Root

	release := make(chan struct{})
	e.fetch.block["https://h/root.b3dm"] = release

	t1 := e.ts.BeginTraversal()
	done := make(chan Result)
	go func() { done <- e.ts.CheckLoad(context.Background(), above(1050), t1) }()
	<-e.fetch.started

	// A newer traversal completes first.
	t2 := e.ts.BeginTraversal()
	r2 := e.ts.CheckLoad(context.Background(), away(), t2)
	assert.False(t, r2.Stale)
	assert.False(t, r2.IsLoad)

	close(release)
	r1 := <-done
	assert.True(t, r1.Stale)

	e.ts.mu.Lock()
	assert.Equal(t, Unloaded, root.state)
	assert.NotNil(t, root.pending, "decoded content is parked")
	assert.Zero(t, e.ts.total)
	e.ts.mu.Unlock()
	checkBudget(t, e)

	// The next current traversal installs the parked content.
	r3 := e.traverse(above(1050))
	assert.True(t, r3.Ready)
	assert.Equal(t, Loaded, e.state(root))
	assert.Equal(t, 1, e.fetch.count("root.b3dm"))
	checkBudget(t, e)
}

func TestBadMagicLeavesNodeUnloaded(t *testing.T) {
	bad := tiletest.B3DM("root", 0)
	copy(bad, "xxxx")
	js := fmt.Sprintf(`{"asset":{"version":"1.0"},"root":{"boundingVolume":%s,"geometricError":0,"content":{"uri":"root.b3dm"}}}`, box(0, 0, 0, 50))
	e := newEnv(t, js, map[string][]byte{"root.b3dm": bad}, testOptions())

	for i := 0; i < 3; i++ {
		r := e.traverse(above(1050))
		assert.True(t, r.IsLoad)
		assert.False(t, r.Ready)
	}
	assert.Equal(t, Unloaded, e.state(e.ts.Root))
	assert.Equal(t, 1, e.fetch.count("root.b3dm"), "failed tiles are not retried")
	assert.Equal(t, 1, e.ts.Stats().Failed)
	checkBudget(t, e)
}

func TestFailedChildKeepsParent(t *testing.T) {
	files := parentChildFiles()
	delete(files, "child.b3dm")
	e := newEnv(t, parentChild("REPLACE", 0, 50), files, testOptions())

	r := e.traverse(above(1050))
	assert.True(t, r.Ready)
	assert.Equal(t, Loaded, e.state(e.ts.Root))
	assert.Equal(t, Unloaded, e.state(e.ts.Root.children[0]))
	checkBudget(t, e)
}

func TestSubTileset(t *testing.T) {
	js := fmt.Sprintf(`{"asset":{"version":"1.0"},"root":{"boundingVolume":%s,"geometricError":100,"content":{"uri":"sub/tileset.json"}}}`, box(0, 0, 0, 50))
	sub := fmt.Sprintf(`{"asset":{"version":"1.0"},"root":{"boundingVolume":%s,"geometricError":0,"content":{"uri":"leaf.b3dm"}}}`, box(0, 0, 0, 50))
	e := newEnv(t, js, map[string][]byte{
		"sub/tileset.json": []byte(sub),
		"sub/leaf.b3dm":    tiletest.B3DM("leaf", 0),
	}, testOptions())

	for i := 0; i < 2; i++ {
		r := e.traverse(above(1050))
		assert.True(t, r.IsLoad)
		assert.True(t, r.Ready)
	}
	require.Len(t, e.ts.Root.children, 1)
	leaf := e.ts.Root.children[0]
	assert.Equal(t, "https://h/sub/leaf.b3dm", leaf.URL)
	assert.Equal(t, RefineReplace, leaf.Refine)
	assert.Equal(t, Loaded, e.state(leaf))
	assert.Equal(t, 1, e.fetch.count("sub/tileset.json"))
	checkBudget(t, e)
}

func TestMissingSubTileset(t *testing.T) {
	js := fmt.Sprintf(`{"asset":{"version":"1.0"},"root":{"boundingVolume":%s,"geometricError":100,"content":{"uri":"gone/tileset.json"}}}`, box(0, 0, 0, 50))
	e := newEnv(t, js, nil, testOptions())

	r := e.traverse(above(1050))
	assert.True(t, r.IsLoad)
	assert.False(t, r.Ready)
	e.traverse(above(1050))
	assert.Equal(t, 1, e.fetch.count("gone/tileset.json"))
	assert.Equal(t, 1, e.ts.Stats().Failed)
}

func TestForceReplaceOverAdd(t *testing.T) {
	js := fmt.Sprintf(`{
		"asset": {"version": "1.0"},
		"root": {
			"boundingVolume": %s, "geometricError": 100, "refine": "REPLACE",
			"content": {"uri": "root.b3dm"},
			"children": [{"boundingVolume": %s, "geometricError": 0, "refine": "ADD", "content": {"uri": "child.b3dm"}}]
		}
	}`, box(0, 0, 0, 50), box(0, 0, 0, 50))

	for _, force := range []bool{true, false} {
		t.Run(fmt.Sprint(force), func(t *testing.T) {
			opts := testOptions()
			opts.ForceReplaceOverAdd = force
			e := newEnv(t, js, parentChildFiles(), opts)

			r := e.traverse(above(1050))
			want := RefineAdd
			if force {
				want = RefineReplace
			}
			assert.Equal(t, want, r.ChildRefine)
			// The ADD child makes the parent show alongside it.
			assert.Equal(t, Loaded, e.state(e.ts.Root))
			assert.Equal(t, Loaded, e.state(e.ts.Root.children[0]))
		})
	}
}

func TestScreenSpaceErrorThreshold(t *testing.T) {
	js := fmt.Sprintf(`{"asset":{"version":"1.0"},"root":{"boundingVolume":%s,"geometricError":10,"content":{"uri":"root.b3dm"}}}`, box(0, 0, 0, 50))

	// At distance 1000 the sse is 10; the threshold is 256/maxSSE.
	tests := []struct {
		maxSSE float64
		want   bool
	}{
		{16, false},
		{32, true},
		{8, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.maxSSE), func(t *testing.T) {
			opts := testOptions()
			opts.MaximumScreenSpaceError = tt.maxSSE
			e := newEnv(t, js, parentChildFiles(), opts)
			r := e.traverse(above(1050))
			assert.Equal(t, tt.want, r.IsLoad)
		})
	}
}

func TestViewSSE(t *testing.T) {
	v := View{ViewportWidth: 800, ViewportHeight: 600, ScreenWidth: 1920, ScreenHeight: 1080}
	assert.InDelta(t, 10*600*1080/(100*1920.0), v.sse(10, 100), 1e-9)
	assert.True(t, v.sse(10, 0) > 1e300)

	v = View{ViewportWidth: 1000, ViewportHeight: 1000}
	assert.InDelta(t, 100, v.sse(100, 1000), 1e-9)
}

func TestUnboundedNeverCulled(t *testing.T) {
	js := `{"asset":{"version":"1.0"},"root":{"boundingVolume":{"region":[0,0,1,1,0,100]},"geometricError":100,"content":{"uri":"root.b3dm"}}}`
	e := newEnv(t, js, parentChildFiles(), testOptions())
	require.True(t, e.ts.Root.Unbounded)

	r := e.traverse(away())
	assert.True(t, r.IsLoad)
	assert.Equal(t, Loaded, e.state(e.ts.Root))
}

func TestECEFRootTransform(t *testing.T) {
	p := proj.GeodeticToECEF(proj.Geodetic{Lng: 10, Lat: 45, Height: 20})
	js := fmt.Sprintf(`{"asset":{"version":"1.0"},"root":{"boundingVolume":%s,"geometricError":0,
		"transform":[1,0,0,0, 0,1,0,0, 0,0,1,0, %f,%f,%f,1]}}`, box(0, 0, 0, 50), p.X, p.Y, p.Z)
	e := newEnv(t, js, nil, testOptions())

	g, ok := e.ts.Origin()
	require.True(t, ok)
	assert.InDelta(t, 10, g.Lng, 1e-6)
	assert.InDelta(t, 45, g.Lat, 1e-6)
	assert.InDelta(t, 20, g.Height, 1e-2)
	assert.True(t, e.ts.Root.World.ApproxEqual(geom.Identity(), 0))
}

func TestRescaleOnRecenter(t *testing.T) {
	e := newEnv(t, parentChild("REPLACE", 0, 50), parentChildFiles(), testOptions())
	e.traverse(above(1050))
	child := e.ts.Root.children[0]

	e.frame.Recenter(proj.Geodetic{Lat: 60}, time.Now())

	// cos(60)/cos(0)
	entry, ok := e.scene.Get(child.ID)
	require.True(t, ok)
	assert.InDelta(t, 0.5, entry.Transform.MulDir(r3.Vector{X: 1}).Norm(), 1e-9)
	assert.InDelta(t, 0.5, e.ts.Anchor().MulDir(r3.Vector{Z: 1}).Norm(), 1e-9)

	e.ts.mu.Lock()
	b, _ := e.ts.localBox(child)
	e.ts.mu.Unlock()
	assert.InDelta(t, 50, b.Size().X, 1e-6)
}

func TestUnloadDelay(t *testing.T) {
	e := newEnv(t, parentChild("REPLACE", 0, 50), nil, testOptions())
	layers := 1
	e.ts.rc.ActiveLayers = func() int { return layers }

	assert.Equal(t, time.Second, e.ts.unloadDelay(time.Second))
	layers = 3
	assert.Equal(t, 3*time.Second, e.ts.unloadDelay(time.Second))
	assert.Equal(t, 15*time.Millisecond, e.ts.unloadDelay(5*time.Millisecond))
	layers = 10
	assert.Equal(t, 5*time.Second, e.ts.unloadDelay(time.Second))
	layers = 0
	assert.Equal(t, time.Second, e.ts.unloadDelay(time.Second))
}

func TestDestroyCascades(t *testing.T) {
	e := newEnv(t, parentChild("ADD", 0, 50), parentChildFiles(), testOptions())
	e.traverse(above(1050))
	require.Positive(t, e.ts.Bytes())

	e.ts.Destroy()
	assert.Zero(t, e.ts.Bytes())
	total, _ := e.scene.Len()
	assert.Zero(t, total)
	assert.Equal(t, Unloaded, e.state(e.ts.Root))

	r := e.traverse(above(1050))
	assert.True(t, r.Stale)
	checkBudget(t, e)
}

// quadtree builds a three level tree: a root, four quadrant children and
// two leaves under each.
func quadtree(childRefine func(i int) string) (string, map[string][]byte) {
	files := map[string][]byte{"r.b3dm": tiletest.B3DM("r", 3000)}
	var children []string
	for i, c := range [][2]float64{{-50, -50}, {50, -50}, {-50, 50}, {50, 50}} {
		var leaves []string
		for j := 0; j < 2; j++ {
			name := fmt.Sprintf("l%d%d.b3dm", i, j)
			files[name] = tiletest.B3DM(name, 1000+100*(i+j))
			leaves = append(leaves, fmt.Sprintf(`{"boundingVolume":%s,"geometricError":0,"content":{"uri":%q}}`,
				box(c[0]+float64(j*20-10), c[1], 0, 20), name))
		}
		name := fmt.Sprintf("c%d.b3dm", i)
		files[name] = tiletest.B3DM(name, 2000+200*i)
		children = append(children, fmt.Sprintf(`{"boundingVolume":%s,"geometricError":50,"refine":%q,"content":{"uri":%q},"children":[%s,%s]}`,
			box(c[0], c[1], 0, 50), childRefine(i), name, leaves[0], leaves[1]))
	}
	js := fmt.Sprintf(`{"asset":{"version":"1.0"},"root":{"boundingVolume":%s,"geometricError":200,"refine":"REPLACE","content":{"uri":"r.b3dm"},"children":[%s,%s,%s,%s]}}`,
		box(0, 0, 0, 100), children[0], children[1], children[2], children[3])
	return js, files
}

func TestBudgetInvariantRandomized(t *testing.T) {
	js, files := quadtree(func(i int) string {
		if i == 1 {
			return "ADD"
		}
		return "REPLACE"
	})
	opts := testOptions()
	opts.MaxMemoryBytes = 60000
	e := newEnv(t, js, files, opts)

	views := []View{
		above(30), above(120), above(400), above(2000), above(20000),
		lookAt(r3.Vector{X: 500, Z: 100}, r3.Vector{}),
		lookAt(r3.Vector{X: -60, Y: -60, Z: 40}, r3.Vector{X: -60, Y: -60}),
		away(),
	}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 300; i++ {
		e.traverse(views[rng.Intn(len(views))])
		checkBudget(t, e)
		if rng.Intn(3) == 0 {
			e.sched.Advance(time.Duration(rng.Intn(1500)) * time.Millisecond)
			checkBudget(t, e)
		}
		if i%10 == 9 {
			e.ts.Sweep()
			checkBudget(t, e)
		}
	}
}

func TestReplaceExclusivity(t *testing.T) {
	js, files := quadtree(func(int) string { return "REPLACE" })
	e := newEnv(t, js, files, testOptions())

	for _, h := range []float64{20000, 400, 120, 30, 120, 400, 2000} {
		v := above(h)
		for i := 0; i < 2; i++ {
			e.traverse(v)
			e.sched.Advance(10 * time.Second)
		}
		checkBudget(t, e)

		e.ts.mu.Lock()
		e.ts.Root.walk(func(n *Node) bool {
			if len(n.children) == 0 {
				return true
			}
			all := true
			for _, c := range n.children {
				all = all && c.state == Loaded
			}
			if all {
				assert.NotEqual(t, Loaded, n.state, "height %g: node %s shown with all its children", h, n.Path)
			}
			return true
		})
		e.ts.mu.Unlock()
	}
}
