package overlay

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square(x0, y0, x1, y1 float64, clockwise bool) []shp.Point {
	if clockwise {
		return []shp.Point{{X: x0, Y: y0}, {X: x0, Y: y1}, {X: x1, Y: y1}, {X: x1, Y: y0}, {X: x0, Y: y0}}
	}
	return []shp.Point{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}, {X: x0, Y: y0}}
}

func writePolygons(t *testing.T, path string) {
	t.Helper()
	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)
	w.SetFields([]shp.Field{shp.StringField("NAME", 20)})

	park := shp.Polygon(*shp.NewPolyLine([][]shp.Point{
		square(0, 0, 10, 10, true),
		square(2, 2, 8, 8, false),
	}))
	lot := shp.Polygon(*shp.NewPolyLine([][]shp.Point{square(20, 20, 30, 30, true)}))
	w.Write(&park)
	require.NoError(t, w.WriteAttribute(0, 0, "park"))
	w.Write(&lot)
	require.NoError(t, w.WriteAttribute(1, 0, "lot"))
	w.Close()
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parcels.shp")
	writePolygons(t, path)

	o, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "parcels", o.Name)
	require.Len(t, o.Features, 2)

	park := o.Features[0]
	assert.Equal(t, "park", park.Attributes["NAME"])
	require.Len(t, park.Polygon, 2, "outer ring and hole")
	assert.Len(t, park.Tris, 8)
	assert.Len(t, o.Features[1].Tris, 2)

	assert.Equal(t, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{30, 30}}, o.Bound())
}

func TestFeatureAt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parcels.shp")
	writePolygons(t, path)
	o, err := Load(path, nil)
	require.NoError(t, err)

	f, ok := o.FeatureAt(1, 1)
	require.True(t, ok)
	assert.Equal(t, "park", f.Attributes["NAME"])

	_, ok = o.FeatureAt(5, 5)
	assert.False(t, ok, "inside the hole")

	f, ok = o.FeatureAt(25, 21)
	require.True(t, ok)
	assert.Equal(t, "lot", f.Attributes["NAME"])

	_, ok = o.FeatureAt(15, 15)
	assert.False(t, ok)
}

func TestLoadWithoutPolygons(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wells.shp")
	w, err := shp.Create(path, shp.POINT)
	require.NoError(t, err)
	w.SetFields([]shp.Field{shp.StringField("ID", 8)})
	w.Write(&shp.Point{X: 1, Y: 2})
	w.Close()

	_, err = Load(path, nil)
	assert.ErrorIs(t, err, ErrNoPolygons)

	_, err = Load(filepath.Join(t.TempDir(), "missing.shp"), nil)
	assert.Error(t, err)
}

func TestTriangulate(t *testing.T) {
	// An L shape needs four triangles and covers its area exactly.
	l := orb.Polygon{{{0, 0}, {0, 2}, {1, 2}, {1, 1}, {2, 1}, {2, 0}, {0, 0}}}
	tris := Triangulate(l)
	require.Len(t, tris, 4)

	area := 0.0
	for _, tri := range tris {
		a, b, c := tri[0], tri[1], tri[2]
		area += math.Abs((b[0]-a[0])*(c[1]-a[1])-(c[0]-a[0])*(b[1]-a[1])) / 2
	}
	assert.InDelta(t, 3, area, 1e-9)

	assert.Nil(t, Triangulate(orb.Polygon{{{0, 0}, {1, 1}}}))
}
