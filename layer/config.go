package layer

import (
	"errors"
	"fmt"
	"image/color"
	"strings"

	"github.com/OpticalFlyer/tilestream/proj"
	"github.com/OpticalFlyer/tilestream/render"
	"github.com/OpticalFlyer/tilestream/tiles"
)

var (
	// ErrConfiguration is returned synchronously by AddTileset; no layer
	// is created.
	ErrConfiguration = errors.New("invalid layer configuration")
	ErrNotFound      = errors.New("no such layer")
)

// DefaultMaximumMemoryUsage is the per-layer budget in megabytes.
const DefaultMaximumMemoryUsage = 512

// Position is a geodetic placement in degrees and meters.
type Position struct {
	Lng    float64 `toml:"lng" json:"lng"`
	Lat    float64 `toml:"lat" json:"lat"`
	Height float64 `toml:"height" json:"height"`
}

func (p Position) Geodetic() proj.Geodetic {
	return proj.Geodetic{Lng: p.Lng, Lat: p.Lat, Height: p.Height}
}

// Config describes one tileset layer. Zero values select defaults.
type Config struct {
	ID  string `toml:"id" json:"id"`
	URL string `toml:"url" json:"url"`

	// Position places the tileset root, overriding any ECEF root transform.
	Position *Position `toml:"position,omitempty" json:"position,omitempty"`

	MaximumScreenSpaceError float64 `toml:"maximum_screen_space_error,omitempty" json:"maximumScreenSpaceError,omitempty"`
	// MaximumMemoryUsage is in megabytes.
	MaximumMemoryUsage int `toml:"maximum_memory_usage,omitempty" json:"maximumMemoryUsage,omitempty"`

	Scale float64 `toml:"scale,omitempty" json:"scale,omitempty"`
	// Rotation about the up axis, in degrees.
	Rotation float64 `toml:"rotation,omitempty" json:"rotation,omitempty"`

	// Color is "#rrggbb" or "#rrggbbaa".
	Color     string  `toml:"color,omitempty" json:"color,omitempty"`
	Opacity   float64 `toml:"opacity,omitempty" json:"opacity,omitempty"`
	PointSize float64 `toml:"point_size,omitempty" json:"pointSize,omitempty"`

	ProjectToMercator bool `toml:"project_to_mercator,omitempty" json:"projectToMercator,omitempty"`
	// UseTerrainHeight adds the host terrain elevation under Position to
	// its height.
	UseTerrainHeight bool `toml:"use_terrain_height,omitempty" json:"useTerrainHeight,omitempty"`
}

// Validate checks the fields that cannot be defaulted.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.ID) == "":
		return fmt.Errorf("%w: id is required", ErrConfiguration)
	case strings.TrimSpace(c.URL) == "":
		return fmt.Errorf("%w: %s: url is required", ErrConfiguration, c.ID)
	case c.MaximumScreenSpaceError < 0:
		return fmt.Errorf("%w: %s: negative maximum screen space error", ErrConfiguration, c.ID)
	case c.MaximumMemoryUsage < 0:
		return fmt.Errorf("%w: %s: negative maximum memory usage", ErrConfiguration, c.ID)
	case c.Scale < 0:
		return fmt.Errorf("%w: %s: negative scale", ErrConfiguration, c.ID)
	case c.Opacity < 0 || c.Opacity > 1:
		return fmt.Errorf("%w: %s: opacity %g outside [0, 1]", ErrConfiguration, c.ID, c.Opacity)
	case c.Position != nil && (c.Position.Lat < -90 || c.Position.Lat > 90):
		return fmt.Errorf("%w: %s: latitude %g out of range", ErrConfiguration, c.ID, c.Position.Lat)
	}
	if _, err := parseColor(c.Color); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConfiguration, c.ID, err)
	}
	return nil
}

func (c Config) scale() float64 {
	if c.Scale == 0 {
		return 1
	}
	return c.Scale
}

func (c Config) style() render.Params {
	col, _ := parseColor(c.Color)
	return render.Params{Color: col, Opacity: c.Opacity, PointSize: c.PointSize}
}

// tileOptions applies the layer's overrides to base.
func (c Config) tileOptions(base tiles.Options) tiles.Options {
	opts := base
	if c.MaximumScreenSpaceError > 0 {
		opts.MaximumScreenSpaceError = c.MaximumScreenSpaceError
	}
	mem := c.MaximumMemoryUsage
	if mem == 0 {
		mem = DefaultMaximumMemoryUsage
	}
	opts.MaxMemoryBytes = int64(mem) << 20
	opts.Style = c.style()
	opts.ProjectToMercator = c.ProjectToMercator
	return opts
}

func parseColor(s string) (*color.NRGBA, error) {
	if s == "" {
		return nil, nil
	}
	h := strings.TrimPrefix(s, "#")
	c := color.NRGBA{A: 0xff}
	var err error
	switch len(h) {
	case 6:
		_, err = fmt.Sscanf(h, "%02x%02x%02x", &c.R, &c.G, &c.B)
	case 8:
		_, err = fmt.Sscanf(h, "%02x%02x%02x%02x", &c.R, &c.G, &c.B, &c.A)
	default:
		return nil, fmt.Errorf("color %q: want #rrggbb or #rrggbbaa", s)
	}
	if err != nil {
		return nil, fmt.Errorf("color %q: %v", s, err)
	}
	return &c, nil
}
