package tiles

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/OpticalFlyer/tilestream/fetch"
	"github.com/OpticalFlyer/tilestream/geom"
	"github.com/OpticalFlyer/tilestream/proj"
	"github.com/OpticalFlyer/tilestream/render"
	"github.com/OpticalFlyer/tilestream/tileformat"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/require"
)

const baseURL = "https://h/tileset.json"

type fakeFetcher struct {
	mu      sync.Mutex
	files   map[string][]byte
	calls   map[string]int
	block   map[string]chan struct{}
	started chan string
}

func newFakeFetcher(files map[string][]byte) *fakeFetcher {
	f := &fakeFetcher{
		files:   make(map[string][]byte),
		calls:   make(map[string]int),
		block:   make(map[string]chan struct{}),
		started: make(chan string, 64),
	}
	for name, b := range files {
		f.files["https://h/"+name] = b
	}
	return f
}

func (f *fakeFetcher) Get(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	f.calls[url]++
	b, ok := f.files[url]
	blk := f.block[url]
	f.mu.Unlock()

	select {
	case f.started <- url:
	default:
	}
	if blk != nil {
		select {
		case <-blk:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s: 404 Not Found", fetch.ErrNetwork, url)
	}
	return b, nil
}

func (f *fakeFetcher) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls["https://h/"+name]
}

type env struct {
	ts    *Tileset
	scene *render.MemScene
	sched *ManualScheduler
	fetch *fakeFetcher
	frame *proj.Frame
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.SweepInterval = 0
	return opts
}

func newEnv(t *testing.T, tileset string, files map[string][]byte, opts Options) *env {
	t.Helper()
	parsed, err := tileformat.ParseTileset([]byte(tileset))
	require.NoError(t, err)

	e := &env{
		scene: render.NewMemScene(),
		sched: &ManualScheduler{},
		fetch: newFakeFetcher(files),
		frame: proj.NewFrame(proj.Geodetic{}, proj.DefaultFrameOptions(), nil),
	}
	rc := &RenderContext{
		Frame:     e.frame,
		Scene:     e.scene,
		Fetcher:   e.fetch,
		Decoder:   tileformat.NewDecoder(nil, nil, nil),
		Scheduler: e.sched,
	}
	e.ts = New(parsed, baseURL, rc, opts)
	t.Cleanup(e.ts.Destroy)
	return e
}

func (e *env) traverse(v View) Result {
	return e.ts.CheckLoad(context.Background(), v, e.ts.BeginTraversal())
}

func (e *env) state(n *Node) LoadState {
	e.ts.mu.Lock()
	defer e.ts.mu.Unlock()
	return n.state
}

// lookAt returns a 1000x1000 pixel view from eye towards target.
func lookAt(eye, target r3.Vector) View {
	view := geom.LookAt(eye, target, r3.Vector{Y: 1})
	pm := geom.Perspective(math.Pi/3, 1, 1, 1e7)
	return View{
		Frustum:        geom.FrustumFromMatrix(pm.Mul(view)),
		Camera:         eye,
		ViewportWidth:  1000,
		ViewportHeight: 1000,
	}
}

// above looks straight down at the origin from height h.
func above(h float64) View { return lookAt(r3.Vector{Z: h}, r3.Vector{}) }

// away looks up, away from everything near the origin.
func away() View { return lookAt(r3.Vector{Z: 1000}, r3.Vector{Z: 5000}) }

// checkBudget verifies that the charged total equals the sum over resident
// nodes, that only resident nodes are charged, and that the scene agrees.
func checkBudget(t *testing.T, e *env) {
	t.Helper()
	ts := e.ts
	ts.mu.Lock()
	defer ts.mu.Unlock()

	var sum int64
	resident, shown := 0, 0
	ts.Root.walk(func(n *Node) bool {
		if n.state == Unloaded {
			require.Zero(t, n.bytes, "node %s unloaded but charged", n.Path)
			require.Nil(t, n.content, "node %s", n.Path)
		} else {
			require.Positive(t, n.bytes, "node %s resident but not charged", n.Path)
			sum += n.bytes
			resident++
			if n.state == Loaded {
				shown++
			}
		}
		return true
	})
	require.Equal(t, sum, ts.total)
	require.GreaterOrEqual(t, ts.total, int64(0))

	total, visible := e.scene.Len()
	require.Equal(t, resident, total)
	require.Equal(t, shown, visible)
}

func box(cx, cy, cz, half float64) string {
	return fmt.Sprintf(`{"box": [%g,%g,%g, %g,0,0, 0,%g,0, 0,0,%g]}`, cx, cy, cz, half, half, half)
}
