package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/OpticalFlyer/tilestream/layer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
debug_addr = "127.0.0.1:8089"
overlays = ["parcels.shp"]

[window]
width = 1600
height = 900

[view]
lat = 22.54
lng = 114.05
zoom = 15

[log]
level = "debug"

[cache]
ttl = "48h"

[fetch]
requests_per_second = 8
timeout = "5s"

[tiles]
sweep_interval = "10s"
force_replace_over_add = false

[[layer]]
id = "city"
url = "https://example.com/city/tileset.json"
maximum_screen_space_error = 24
maximum_memory_usage = 256
color = "#c0c0c0"
opacity = 0.8

[[layer]]
id = "trees"
url = "https://example.com/trees/tileset.json"
rotation = 45
use_terrain_height = true
position = { lng = 114.06, lat = 22.55, height = 3 }
`

func TestDecode(t *testing.T) {
	c, err := Decode(strings.NewReader(sample))
	require.NoError(t, err)

	assert.Equal(t, 1600, c.Window.Width)
	assert.Equal(t, "tilestream", c.Window.Title, "unset keys keep defaults")
	assert.Equal(t, View{Lat: 22.54, Lng: 114.05, Zoom: 15}, c.View)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, 48*time.Hour, c.Cache.TTL.Duration)
	assert.Equal(t, int64(2048), c.Cache.MaxMB)
	assert.Equal(t, "127.0.0.1:8089", c.DebugAddr)
	assert.Equal(t, []string{"parcels.shp"}, c.Overlays)

	fo := c.FetchOptions()
	assert.Equal(t, 8.0, fo.RequestsPerSecond)
	assert.Equal(t, 5*time.Second, fo.Timeout)
	assert.Equal(t, 16, fo.Burst)

	lo := c.LayerOptions()
	assert.Equal(t, 10*time.Second, lo.Tiles.SweepInterval)
	assert.False(t, lo.Tiles.ForceReplaceOverAdd)
	assert.Equal(t, int64(8), lo.Tiles.AmplificationFactor)

	require.Len(t, c.Layers, 2)
	city := c.Layers[0]
	assert.Equal(t, "city", city.ID)
	assert.Equal(t, 24.0, city.MaximumScreenSpaceError)
	assert.Equal(t, 256, city.MaximumMemoryUsage)
	assert.Nil(t, city.Position)

	trees := c.Layers[1]
	require.NotNil(t, trees.Position)
	assert.Equal(t, layer.Position{Lng: 114.06, Lat: 22.55, Height: 3}, *trees.Position)
	assert.True(t, trees.UseTerrainHeight)
	assert.Equal(t, 45.0, trees.Rotation)
}

func TestDecodeErrors(t *testing.T) {
	for _, tc := range []struct {
		name, doc, want string
	}{
		{"unknown key", "[window]\nwidht = 3\n", "widht"},
		{"bad duration", "[cache]\nttl = \"soon\"\n", "soon"},
		{"syntax", "[window\n", "line 1"},
		{"zoom", "[view]\nzoom = 25\n", "zoom"},
		{"layer without url", "[[layer]]\nid = \"a\"\n", "url is required"},
		{"duplicate layer", "[[layer]]\nid = \"a\"\nurl = \"u\"\n[[layer]]\nid = \"a\"\nurl = \"v\"\n", "duplicate"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tc.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}

	_, err := Decode(strings.NewReader("[[layer]]\nurl = \"u\"\n"))
	assert.ErrorIs(t, err, layer.ErrConfiguration)
}

func TestEncodeRoundTrip(t *testing.T) {
	c, err := Decode(strings.NewReader(sample))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, c.Encode(&buf))
	assert.Contains(t, buf.String(), "48h0m0s")

	back, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, c, back)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tilestream.toml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, c.Layers, 2)

	_, err = Load(filepath.Join(dir, "missing.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, os.WriteFile(path, []byte("[view]\nzoom = -1\n"), 0o644))
	_, err = Load(path)
	assert.ErrorContains(t, err, path)
}
