package tiles

import (
	"fmt"
	"path"
	"strings"

	"github.com/OpticalFlyer/tilestream/geom"
	"github.com/OpticalFlyer/tilestream/tileformat"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
)

// LoadState is the residency of a node's content.
type LoadState int

const (
	// Unloaded nodes hold no content and are charged nothing.
	Unloaded LoadState = iota
	// Loaded content is resident and shown.
	Loaded
	// LoadedHidden content is resident but not shown. It is kept for a
	// fast re-show until the memory budget forces eviction.
	LoadedHidden
)

func (s LoadState) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loaded:
		return "loaded"
	case LoadedHidden:
		return "hidden"
	default:
		return fmt.Sprintf("LoadState(%d)", int(s))
	}
}

// Refine says how a node's children refine its content.
type Refine int

const (
	// RefineNone is only seen before inheritance resolves it.
	RefineNone Refine = iota
	// RefineAdd shows children alongside the parent.
	RefineAdd
	// RefineReplace shows children instead of the parent once they are ready.
	RefineReplace
)

func (r Refine) String() string {
	switch r {
	case RefineAdd:
		return "ADD"
	case RefineReplace:
		return "REPLACE"
	default:
		return "none"
	}
}

// parseRefine returns the refine named by s, or inherit if s is empty.
func parseRefine(s string, inherit Refine) Refine {
	switch strings.ToUpper(s) {
	case "ADD":
		return RefineAdd
	case "REPLACE":
		return RefineReplace
	}
	if inherit == RefineNone {
		return RefineReplace
	}
	return inherit
}

// Node is one tile of a tileset tree. The exported fields are fixed when
// the node is built; everything else is guarded by the owning Tileset's
// mutex.
type Node struct {
	// ID names the node's content in the scene.
	ID uuid.UUID
	// Path is the node's position in the tree, e.g. "0/2/1".
	Path string
	// Name identifies the content in feature queries.
	Name string

	// Box bounds the node in its own frame; World places it in the
	// tileset frame. Unbounded nodes are never culled.
	Box       geom.Box3
	Unbounded bool
	World     geom.Mat4

	GeometricError float64
	Refine         Refine

	// URL is the resolved content URL, empty for nodes without content.
	URL  string
	Type tileformat.Type

	children []*Node

	state   LoadState
	bytes   int64
	content *tileformat.Content
	// pending holds decoded content not yet installed, either because the
	// traversal that fetched it went stale or because it is waiting for
	// the fetching traversal to resume. It is not charged.
	pending *tileformat.Content
	failed  bool

	// attached is set once a sub-tileset's tree has been fetched.
	attached bool

	// unloadPending is set while a deferred hide is scheduled; showSeq is
	// incremented by every decision to show the node, so a timer that
	// sees a different value knows it has been overtaken.
	unloadPending bool
	showSeq       uint64

	box       geom.Box3
	boxEpoch  uint64
	boxAnchor uint64
	boxValid  bool
}

// IsTilesetJSON reports whether the node's content is a nested tileset.
func (n *Node) IsTilesetJSON() bool { return n.Type == tileformat.TypeJSON }

func (n *Node) hasContent() bool { return n.URL != "" }

// walk calls fn for n and every descendant, depth first.
func (n *Node) walk(fn func(*Node) bool) bool {
	if !fn(n) {
		return false
	}
	for _, c := range n.children {
		if !c.walk(fn) {
			return false
		}
	}
	return true
}

// buildNode converts a parsed tile and its descendants. base is the URL
// content references are resolved against.
func (ts *Tileset) buildNode(t *tileformat.Tile, base string, parentWorld geom.Mat4, parentRefine Refine, p string) *Node {
	n := &Node{
		ID:             uuid.New(),
		Path:           p,
		World:          parentWorld,
		GeometricError: t.GeometricError,
		Refine:         parseRefine(t.Refine, parentRefine),
	}
	if m, ok := geom.Mat4FromSlice(t.Transform); ok {
		n.World = parentWorld.Mul(m)
	}

	bv := t.BoundingVolume
	switch {
	case len(bv.Box) == 12:
		var v [12]float64
		copy(v[:], bv.Box)
		n.Box = geom.OrientedBoxBounds(v)
	case len(bv.Sphere) == 4:
		n.Box = geom.Sphere{Center: r3.Vector{X: bv.Sphere[0], Y: bv.Sphere[1], Z: bv.Sphere[2]}, Radius: bv.Sphere[3]}.Box()
	default:
		// Regions are given in geodetic radians and are not supported.
		n.Unbounded = true
	}

	if ref := t.Content.Ref(); ref != "" {
		if typ, ok := tileformat.TypeFromURL(ref); ok {
			n.URL = tileformat.ResolveURL(base, ref)
			n.Type = typ
			name := path.Base(strings.SplitN(ref, "?", 2)[0])
			n.Name = strings.TrimSuffix(name, path.Ext(name))
		} else {
			ts.rc.Log.Warnf("%s: tile %s: unsupported content %q", ts.URL, p, ref)
		}
	}

	for i, c := range t.Children {
		n.children = append(n.children, ts.buildNode(c, base, n.World, n.Refine, fmt.Sprintf("%s/%d", p, i)))
	}
	return n
}
