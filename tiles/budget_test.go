package tiles

import (
	"fmt"
	"strings"
	"testing"

	"github.com/OpticalFlyer/tilestream/geom"
	"github.com/OpticalFlyer/tilestream/render"
	"github.com/OpticalFlyer/tilestream/tileformat"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mb = 1 << 20

// flatTileset has a content-less root with n leaf children.
func flatTileset(n int) string {
	var children []string
	for i := 0; i < n; i++ {
		children = append(children, fmt.Sprintf(`{"boundingVolume":%s,"geometricError":0,"content":{"uri":"%d.b3dm"}}`, box(0, 0, 0, 10), i))
	}
	return fmt.Sprintf(`{"asset":{"version":"1.0"},"root":{"boundingVolume":%s,"geometricError":100,"children":[%s]}}`,
		box(0, 0, 0, 10), strings.Join(children, ","))
}

// residentAs installs content of the given charged size on n and leaves it
// in state s.
func residentAs(ts *Tileset, n *Node, charged int64, s LoadState) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	n.pending = &tileformat.Content{
		Type:       tileformat.TypeB3DM,
		Primitive:  &render.Mesh{Box: geom.EmptyBox()},
		Transform:  geom.Identity(),
		ByteLength: int(charged / ts.opts.AmplificationFactor),
	}
	ts.install(n)
	if s == LoadedHidden {
		ts.hide(n)
	}
}

func TestSweepOverBudget(t *testing.T) {
	opts := testOptions()
	opts.MaxMemoryBytes = 100 * mb
	e := newEnv(t, flatTileset(8), nil, opts)
	kids := e.ts.Root.children

	// One shown tile of 10MB and seven hidden ones of 20MB: 150% of budget.
	residentAs(e.ts, kids[0], 10*mb, Loaded)
	for _, n := range kids[1:] {
		residentAs(e.ts, n, 20*mb, LoadedHidden)
	}
	require.Equal(t, int64(150*mb), e.ts.Bytes())
	checkBudget(t, e)

	evicted := e.ts.Sweep()
	assert.Equal(t, 3, evicted)
	assert.Equal(t, int64(90*mb), e.ts.Bytes())
	assert.Equal(t, Loaded, e.state(kids[0]), "shown content is never evicted")
	for i, n := range kids[1:] {
		want := LoadedHidden
		if i < 3 {
			want = Unloaded
		}
		assert.Equal(t, want, e.state(n), "child %d", i+1)
	}
	checkBudget(t, e)

	s := e.ts.Stats()
	assert.Equal(t, 9, s.Nodes)
	assert.Equal(t, 1, s.Loaded)
	assert.Equal(t, 4, s.Hidden)

	// Within budget a sweep does nothing.
	assert.Zero(t, e.ts.Sweep())
	assert.Equal(t, int64(90*mb), e.ts.Bytes())
}

func TestSweepNeverEvictsShown(t *testing.T) {
	opts := testOptions()
	opts.MaxMemoryBytes = 10 * mb
	e := newEnv(t, flatTileset(3), nil, opts)
	for _, n := range e.ts.Root.children {
		residentAs(e.ts, n, 8*mb, Loaded)
	}

	assert.Zero(t, e.ts.Sweep())
	assert.Equal(t, int64(24*mb), e.ts.Bytes())
	checkBudget(t, e)
}

func TestSweepExhaustsTree(t *testing.T) {
	opts := testOptions()
	opts.MaxMemoryBytes = 10 * mb
	e := newEnv(t, flatTileset(4), nil, opts)
	kids := e.ts.Root.children
	residentAs(e.ts, kids[0], 16*mb, Loaded)
	residentAs(e.ts, kids[1], 4*mb, LoadedHidden)
	residentAs(e.ts, kids[2], 4*mb, LoadedHidden)

	assert.Equal(t, 2, e.ts.Sweep())
	assert.Equal(t, int64(16*mb), e.ts.Bytes(), "still over budget once nothing hidden remains")
	checkBudget(t, e)
}

func TestAmplification(t *testing.T) {
	e := newEnv(t, flatTileset(1), map[string][]byte{}, testOptions())
	n := e.ts.Root.children[0]

	e.ts.mu.Lock()
	n.pending = &tileformat.Content{Primitive: &render.Mesh{}, Transform: geom.Identity(), ByteLength: 1000}
	e.ts.install(n)
	e.ts.mu.Unlock()

	assert.Equal(t, int64(8000), e.ts.Bytes())
	checkBudget(t, e)
}
