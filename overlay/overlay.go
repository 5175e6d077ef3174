// Package overlay draws polygon footprints read from shapefiles over the
// basemap.
package overlay

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"strings"
	"sync"

	"github.com/OpticalFlyer/tilestream/log"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/vector"
	"github.com/jonas-p/go-shp"
	"github.com/mmp/earcut-go"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

var ErrNoPolygons = errors.New("no polygons")

// Feature is one polygon with its attribute row. Coordinates are
// longitude, latitude.
type Feature struct {
	Polygon    orb.Polygon
	Attributes map[string]string
	// Tris fills Polygon.
	Tris [][3]orb.Point
}

// Projector places WGS84 coordinates on the screen.
type Projector interface {
	LatLonToScreen(lat, lon float64) (x, y float64)
}

// Overlay is a set of features drawn in one color.
type Overlay struct {
	Name     string
	Features []Feature
	Fill     color.NRGBA
	Stroke   color.NRGBA
	bound    orb.Bound
}

// Load reads every polygon of the shapefile at path. Other shape types are
// skipped.
func Load(path string, lg *log.Logger) (*Overlay, error) {
	r, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	defer r.Close()

	fields := r.Fields()
	o := &Overlay{
		Name:   strings.TrimSuffix(filepath.Base(path), ".shp"),
		Fill:   color.NRGBA{R: 0xff, G: 0x8c, A: 0x50},
		Stroke: color.NRGBA{R: 0xff, G: 0x8c, A: 0xff},
	}
	skipped := 0
	for r.Next() {
		n, s := r.Shape()
		var points []shp.Point
		var parts []int32
		switch p := s.(type) {
		case *shp.Polygon:
			points, parts = p.Points, p.Parts
		case *shp.PolygonZ:
			points, parts = p.Points, p.Parts
		case *shp.PolygonM:
			points, parts = p.Points, p.Parts
		default:
			skipped++
			continue
		}

		attrs := make(map[string]string, len(fields))
		for k, f := range fields {
			attrs[f.String()] = strings.TrimSpace(r.ReadAttribute(n, k))
		}
		for _, poly := range polygons(splitParts(points, parts)) {
			o.Features = append(o.Features, Feature{
				Polygon:    poly,
				Attributes: attrs,
				Tris:       Triangulate(poly),
			})
		}
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(o.Features) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoPolygons)
	}

	o.bound = o.Features[0].Polygon.Bound()
	for _, f := range o.Features[1:] {
		o.bound = o.bound.Union(f.Polygon.Bound())
	}
	lg.Infof("%s: %d polygons, %d other shapes skipped", path, len(o.Features), skipped)
	return o, nil
}

// splitParts cuts a shape's point list at its part offsets
func splitParts(points []shp.Point, parts []int32) []orb.Ring {
	var rings []orb.Ring
	for i, start := range parts {
		end := int32(len(points))
		if i < len(parts)-1 {
			end = parts[i+1]
		}
		if start < 0 || start > end || end > int32(len(points)) {
			break
		}
		ring := make(orb.Ring, 0, end-start)
		for _, p := range points[start:end] {
			ring = append(ring, orb.Point{p.X, p.Y})
		}
		rings = append(rings, ring)
	}
	return rings
}

// polygons groups rings: clockwise rings are outer boundaries, and the
// counter-clockwise rings following one are its holes.
func polygons(rings []orb.Ring) []orb.Polygon {
	var out []orb.Polygon
	for _, r := range rings {
		if len(r) < 4 {
			continue
		}
		if r.Orientation() == orb.CW || len(out) == 0 {
			out = append(out, orb.Polygon{r})
			continue
		}
		out[len(out)-1] = append(out[len(out)-1], r)
	}
	return out
}

// Triangulate fills poly, holes included.
func Triangulate(poly orb.Polygon) [][3]orb.Point {
	var rings [][]earcut.Vertex
	for _, r := range poly {
		// earcut wants open rings
		if len(r) > 1 && r[0] == r[len(r)-1] {
			r = r[:len(r)-1]
		}
		if len(r) < 3 {
			continue
		}
		vertices := make([]earcut.Vertex, len(r))
		for i, p := range r {
			vertices[i].P = [2]float64{p[0], p[1]}
		}
		rings = append(rings, vertices)
	}
	if len(rings) == 0 {
		return nil
	}

	var tris [][3]orb.Point
	for _, tri := range earcut.Triangulate(earcut.Polygon{Rings: rings}) {
		var t [3]orb.Point
		for i, v := range tri.Vertices {
			t[i] = orb.Point{v.P[0], v.P[1]}
		}
		tris = append(tris, t)
	}
	return tris
}

// Bound is the extent of every feature.
func (o *Overlay) Bound() orb.Bound { return o.bound }

// FeatureAt returns the topmost feature containing lng, lat.
func (o *Overlay) FeatureAt(lng, lat float64) (Feature, bool) {
	p := orb.Point{lng, lat}
	if !o.bound.Contains(p) {
		return Feature{}, false
	}
	for i := len(o.Features) - 1; i >= 0; i-- {
		if planar.PolygonContains(o.Features[i].Polygon, p) {
			return o.Features[i], true
		}
	}
	return Feature{}, false
}

var (
	whiteOnce     sync.Once
	whiteSubImage *ebiten.Image
)

func white() *ebiten.Image {
	whiteOnce.Do(func() {
		img := ebiten.NewImage(3, 3)
		img.Fill(color.White)
		whiteSubImage = img.SubImage(image.Rect(1, 1, 2, 2)).(*ebiten.Image)
	})
	return whiteSubImage
}

// Draw fills and outlines every feature.
func (o *Overlay) Draw(screen *ebiten.Image, pr Projector) {
	src := white()
	var vs []ebiten.Vertex
	var is []uint16
	flush := func() {
		if len(is) == 0 {
			return
		}
		screen.DrawTriangles(vs, is, src, &ebiten.DrawTrianglesOptions{AntiAlias: true})
		vs, is = vs[:0], is[:0]
	}

	fr, fg, fb, fa := scaled(o.Fill)
	for _, f := range o.Features {
		for _, t := range f.Tris {
			if len(vs)+3 > 0xffff {
				flush()
			}
			base := uint16(len(vs))
			for _, p := range t {
				x, y := pr.LatLonToScreen(p[1], p[0])
				vs = append(vs, ebiten.Vertex{
					DstX: float32(x), DstY: float32(y),
					SrcX: 1, SrcY: 1,
					ColorR: fr, ColorG: fg, ColorB: fb, ColorA: fa,
				})
			}
			is = append(is, base, base+1, base+2)
		}
	}
	flush()

	for _, f := range o.Features {
		for _, r := range f.Polygon {
			var path vector.Path
			for i, p := range r {
				x, y := pr.LatLonToScreen(p[1], p[0])
				if i == 0 {
					path.MoveTo(float32(x), float32(y))
				} else {
					path.LineTo(float32(x), float32(y))
				}
			}
			path.Close()
			sv, si := path.AppendVerticesAndIndicesForStroke(nil, nil, &vector.StrokeOptions{Width: 1})
			sr, sg, sb, sa := scaled(o.Stroke)
			for i := range sv {
				sv[i].SrcX, sv[i].SrcY = 1, 1
				sv[i].ColorR, sv[i].ColorG, sv[i].ColorB, sv[i].ColorA = sr, sg, sb, sa
			}
			screen.DrawTriangles(sv, si, src, &ebiten.DrawTrianglesOptions{AntiAlias: true})
		}
	}
}

// scaled returns c as premultiplied float components
func scaled(c color.NRGBA) (r, g, b, a float32) {
	a = float32(c.A) / 0xff
	return float32(c.R) / 0xff * a, float32(c.G) / 0xff * a, float32(c.B) / 0xff * a, a
}
