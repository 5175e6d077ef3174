// Package config loads the viewer configuration file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/OpticalFlyer/tilestream/fetch"
	"github.com/OpticalFlyer/tilestream/layer"

	"github.com/pelletier/go-toml/v2"
)

// Duration is a time.Duration written as a string such as "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Window is the initial viewer window.
type Window struct {
	Width  int    `toml:"width"`
	Height int    `toml:"height"`
	Title  string `toml:"title"`
}

// View is the initial map view.
type View struct {
	Lat  float64 `toml:"lat"`
	Lng  float64 `toml:"lng"`
	Zoom int     `toml:"zoom"`
}

// Log selects the log level and rotation directory.
type Log struct {
	Level string `toml:"level"`
	// Dir defaults to a directory under the user config dir.
	Dir string `toml:"dir"`
}

// Cache configures the on-disk fetch cache; Dir "off" disables it.
type Cache struct {
	// Dir defaults to a directory under the user cache dir; "off"
	// disables the disk cache.
	Dir   string   `toml:"dir"`
	TTL   Duration `toml:"ttl"`
	MaxMB int64    `toml:"max_mb"`
}

// Fetch tunes the HTTP client.
type Fetch struct {
	Timeout           Duration `toml:"timeout"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Burst             int      `toml:"burst"`
	UserAgent         string   `toml:"user_agent"`
}

// Tiles holds engine settings shared by every layer.
type Tiles struct {
	SweepInterval       Duration `toml:"sweep_interval"`
	AmplificationFactor int64    `toml:"amplification_factor"`
	ForceReplaceOverAdd bool     `toml:"force_replace_over_add"`
	// ModelCacheSize bounds the cache of external instanced models.
	ModelCacheSize int `toml:"model_cache_size"`
}

// Config is the viewer configuration file.
type Config struct {
	Window Window `toml:"window"`
	View   View   `toml:"view"`
	Log    Log    `toml:"log"`
	Cache  Cache  `toml:"cache"`
	Fetch  Fetch  `toml:"fetch"`
	Tiles  Tiles  `toml:"tiles"`

	// DebugAddr is the listen address of the inspection server; empty
	// disables it.
	DebugAddr string `toml:"debug_addr"`

	// Overlays lists shapefiles drawn as footprints over the map.
	Overlays []string `toml:"overlays"`

	Layers []layer.Config `toml:"layer"`
}

// Default returns the configuration used for settings a file leaves out.
func Default() Config {
	fo := fetch.DefaultOptions()
	return Config{
		Window: Window{Width: 1280, Height: 800, Title: "tilestream"},
		View:   View{Zoom: 3},
		Log:    Log{Level: "info"},
		Cache:  Cache{TTL: Duration{7 * 24 * time.Hour}, MaxMB: 2048},
		Fetch: Fetch{
			Timeout:           Duration{fo.Timeout},
			RequestsPerSecond: fo.RequestsPerSecond,
			Burst:             fo.Burst,
			UserAgent:         fo.UserAgent,
		},
		Tiles: Tiles{
			SweepInterval:       Duration{30 * time.Second},
			AmplificationFactor: 8,
			ForceReplaceOverAdd: true,
			ModelCacheSize:      64,
		},
	}
}

// Load reads the configuration file at path over the defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Decode reads a configuration over the defaults. Unknown keys are
// errors.
func Decode(r io.Reader) (*Config, error) {
	c := Default()
	dec := toml.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		var sme *toml.StrictMissingError
		if errors.As(err, &sme) {
			return nil, errors.New(sme.String())
		}
		var de *toml.DecodeError
		if errors.As(err, &de) {
			row, col := de.Position()
			return nil, fmt.Errorf("line %d column %d: %v", row, col, de)
		}
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the settings and every layer.
func (c *Config) Validate() error {
	if c.Window.Width <= 0 || c.Window.Height <= 0 {
		return fmt.Errorf("window size %dx%d", c.Window.Width, c.Window.Height)
	}
	if c.View.Zoom < 0 || c.View.Zoom > 19 {
		return fmt.Errorf("zoom %d out of range", c.View.Zoom)
	}
	if c.Fetch.RequestsPerSecond < 0 || c.Fetch.Burst < 0 {
		return errors.New("negative fetch rate limit")
	}
	seen := make(map[string]bool)
	for i, l := range c.Layers {
		if err := l.Validate(); err != nil {
			return fmt.Errorf("layer %d: %w", i, err)
		}
		if seen[l.ID] {
			return fmt.Errorf("%w: duplicate layer id %q", layer.ErrConfiguration, l.ID)
		}
		seen[l.ID] = true
	}
	return nil
}

// Encode writes c as TOML.
func (c *Config) Encode(w io.Writer) error {
	enc := toml.NewEncoder(w)
	enc.SetIndentTables(true)
	return enc.Encode(c)
}

// FetchOptions converts the fetch settings.
func (c *Config) FetchOptions() fetch.Options {
	return fetch.Options{
		Timeout:           c.Fetch.Timeout.Duration,
		RequestsPerSecond: c.Fetch.RequestsPerSecond,
		Burst:             c.Fetch.Burst,
		UserAgent:         c.Fetch.UserAgent,
	}
}

// LayerOptions returns the layer manager options with the engine
// settings applied.
func (c *Config) LayerOptions() layer.Options {
	opts := layer.DefaultOptions()
	opts.Tiles.SweepInterval = c.Tiles.SweepInterval.Duration
	opts.Tiles.AmplificationFactor = c.Tiles.AmplificationFactor
	opts.Tiles.ForceReplaceOverAdd = c.Tiles.ForceReplaceOverAdd
	return opts
}
