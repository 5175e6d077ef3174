package tileformat

import (
	"context"
	"fmt"
	"math"

	"github.com/OpticalFlyer/tilestream/geom"
	"github.com/OpticalFlyer/tilestream/log"
	"github.com/OpticalFlyer/tilestream/proj"
	"github.com/OpticalFlyer/tilestream/render"
)

// Content is a decoded binary tile.
type Content struct {
	Type      Type
	Primitive render.Primitive
	// Transform places the primitive within the tile's frame: RTC
	// offsets, glTF up-axis conversion and Mercator scale.
	Transform geom.Mat4
	// ByteLength is the raw size of the tile, plus any external payload.
	ByteLength int

	// Name identifies the tile in feature queries; the tile URL relative
	// to its tileset, without extension.
	Name       string
	BatchTable BatchTable
	// BatchIDs maps element index to batch id, when the tile has them.
	BatchIDs []int

	// Parts holds the inner tiles of a composite.
	Parts []*Content
}

// Hit is the result of picking content with a ray.
type Hit struct {
	Dist       float64
	Index      int
	Properties map[string]any
}

// Pick intersects a RenderWorld ray with the content placed by transform
// (which should not include Content.Transform).
func (c *Content) Pick(ray geom.Ray, transform geom.Mat4) (Hit, bool) {
	m := transform.Mul(c.Transform)
	if len(c.Parts) > 0 {
		best, found := Hit{Dist: math.Inf(1)}, false
		for _, p := range c.Parts {
			if h, ok := p.Pick(ray, m); ok && h.Dist < best.Dist {
				best, found = h, true
			}
		}
		return best, found
	}
	if c.Primitive == nil {
		return Hit{}, false
	}
	d, idx, ok := c.Primitive.Pick(ray, m)
	if !ok {
		return Hit{}, false
	}
	return Hit{Dist: d, Index: idx, Properties: c.Feature(idx)}, true
}

// Feature returns the properties of element index: the batch table row
// of its batch id, or the whole batch table for index -1.
func (c *Content) Feature(index int) map[string]any {
	var props map[string]any
	switch {
	case index < 0:
		props = c.BatchTable.All()
	case index < len(c.BatchIDs):
		props = c.BatchTable.Feature(c.BatchIDs[index])
	default:
		props = c.BatchTable.Feature(index)
	}
	if c.Type == TypeB3DM && c.Name != "" {
		props["b3dm"] = c.Name
	}
	if index >= 0 {
		switch c.Type {
		case TypeI3DM:
			props["instance"] = index
		case TypePNTS:
			props["point"] = index
		}
	}
	return props
}

// Options carries the per-layer and per-tile context a decode needs.
type Options struct {
	// URL of the tile; relative external payload URIs resolve against it.
	URL  string
	Name string

	Style render.Params

	// UpAxis is the tileset's glTF up axis, "Y" (default) or "Z".
	UpAxis string

	// WorldTransform is the accumulated tileset transform of the node.
	WorldTransform geom.Mat4

	// ProjectToMercator applies the Mercator scale at each tile's (or
	// instance's) latitude relative to OriginLat.
	ProjectToMercator bool
	OriginLat         float64
}

// mercatorScale returns the ratio of Mercator scale at a point y meters
// north of the origin to the scale at the origin.
func (o Options) mercatorScale(y float64) float64 {
	if !o.ProjectToMercator {
		return 1
	}
	lat := o.OriginLat + y/proj.EarthRadius*180/math.Pi
	return proj.HeightScale(lat) / proj.HeightScale(o.OriginLat)
}

// upAxis returns the rotation taking glTF model space to the tileset's
// Z-up frame.
func (o Options) upAxis() geom.Mat4 {
	if o.UpAxis == "Z" || o.UpAxis == "z" {
		return geom.Identity()
	}
	return geom.RotateX(math.Pi / 2)
}

// Decoder decodes binary tiles.
type Decoder struct {
	Models   ModelDecoder
	Resolver *Resolver
	Log      *log.Logger
}

// NewDecoder returns a decoder; a nil models uses GLBDecoder.
func NewDecoder(models ModelDecoder, resolver *Resolver, lg *log.Logger) *Decoder {
	if models == nil {
		models = GLBDecoder{}
	}
	return &Decoder{Models: models, Resolver: resolver, Log: lg}
}

// Decode parses a tile of type t. JSON tilesets are handled by
// ParseTileset instead.
func (d *Decoder) Decode(ctx context.Context, t Type, data []byte, opts Options) (*Content, error) {
	switch t {
	case TypeB3DM:
		return d.decodeB3DM(data, opts)
	case TypeI3DM:
		return d.decodeI3DM(ctx, data, opts)
	case TypePNTS:
		return d.decodePNTS(data, opts)
	case TypeCMPT:
		return d.decodeCMPT(ctx, data, opts)
	default:
		return nil, fmt.Errorf("%w: no binary decoder for %q", ErrFormat, t)
	}
}
