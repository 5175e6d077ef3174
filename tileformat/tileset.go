package tileformat

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Tileset is a parsed tileset.json.
type Tileset struct {
	Asset          Asset   `json:"asset"`
	GeometricError float64 `json:"geometricError"`
	Root           *Tile   `json:"root"`
}

// Asset is the tileset.json asset block.
type Asset struct {
	Version      string `json:"version"`
	GLTFUpAxis   string `json:"gltfUpAxis"`
	Generator    string `json:"generator"`
	GenerateTool string `json:"generatetool"`
}

// UpAxis returns the glTF up axis, defaulting to "Y".
func (a Asset) UpAxis() string {
	if a.GLTFUpAxis == "" {
		return "Y"
	}
	return strings.ToUpper(a.GLTFUpAxis)
}

// GeneratorName returns whichever generator field is set.
func (a Asset) GeneratorName() string {
	if a.GenerateTool != "" {
		return a.GenerateTool
	}
	return a.Generator
}

// Tile is one tile of a parsed tileset.json.
type Tile struct {
	BoundingVolume BoundingVolume `json:"boundingVolume"`
	GeometricError float64        `json:"geometricError"`
	Refine         string         `json:"refine"`
	Content        *TileContent   `json:"content"`
	Transform      []float64      `json:"transform"`
	Children       []*Tile        `json:"children"`
}

// BoundingVolume holds whichever of box, sphere or region the tile gives.
type BoundingVolume struct {
	Box    []float64 `json:"box"`
	Sphere []float64 `json:"sphere"`
	Region []float64 `json:"region"`
}

// TileContent references a tile's payload.
type TileContent struct {
	URI string `json:"uri"`
	// URL is the pre-1.0 spelling of URI.
	URL string `json:"url"`
}

func (c *TileContent) Ref() string {
	if c == nil {
		return ""
	}
	if c.URI != "" {
		return c.URI
	}
	return c.URL
}

// ParseTileset decodes a tileset.json document.
func ParseTileset(data []byte) (*Tileset, error) {
	var ts Tileset
	if err := json.Unmarshal(data, &ts); err != nil {
		return nil, fmt.Errorf("%w: tileset JSON: %v", ErrFormat, err)
	}
	if ts.Root == nil {
		return nil, fmt.Errorf("%w: tileset has no root tile", ErrFormat)
	}
	if err := ts.Root.validate("root"); err != nil {
		return nil, err
	}
	return &ts, nil
}

func (t *Tile) validate(where string) error {
	bv := t.BoundingVolume
	switch {
	case bv.Box != nil && len(bv.Box) != 12:
		return fmt.Errorf("%w: %s: box bounding volume has %d values", ErrFormat, where, len(bv.Box))
	case bv.Sphere != nil && len(bv.Sphere) != 4:
		return fmt.Errorf("%w: %s: sphere bounding volume has %d values", ErrFormat, where, len(bv.Sphere))
	case t.Transform != nil && len(t.Transform) != 16:
		return fmt.Errorf("%w: %s: transform has %d values", ErrFormat, where, len(t.Transform))
	}
	switch strings.ToUpper(t.Refine) {
	case "", "ADD", "REPLACE":
	default:
		return fmt.Errorf("%w: %s: unknown refine %q", ErrFormat, where, t.Refine)
	}
	for i, c := range t.Children {
		if c == nil {
			return fmt.Errorf("%w: %s: child %d is null", ErrFormat, where, i)
		}
		if err := c.validate(fmt.Sprintf("%s/%d", where, i)); err != nil {
			return err
		}
	}
	return nil
}
