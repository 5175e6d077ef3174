package layer

import (
	"math"
	"time"

	"github.com/OpticalFlyer/tilestream/geom"
	"github.com/OpticalFlyer/tilestream/proj"
	"github.com/OpticalFlyer/tilestream/tiles"

	"github.com/golang/geo/r3"
)

// DefaultFOV is the vertical field of view slippy-map renderers use,
// atan(0.75) radians.
const DefaultFOV = 0.6435011087932844

// Camera is the host map's camera state for one frame.
type Camera struct {
	Center proj.Geodetic
	Zoom   float64
	// Pitch is the tilt from straight down and Bearing the clockwise
	// rotation from north, both in degrees.
	Pitch, Bearing float64
	// FOV is the vertical field of view in radians; 0 selects DefaultFOV.
	FOV float64

	// Width and Height are the viewport in pixels. ScreenWidth and
	// ScreenHeight describe the device screen; zero means the viewport.
	Width, Height             float64
	ScreenWidth, ScreenHeight float64

	// TileSize is the host's tile size in pixels at integer zooms.
	TileSize float64
}

// HostMap is the map framework the layers are drawn over.
type HostMap interface {
	Camera() Camera
	// Elevation returns the terrain height at g, if the host has terrain.
	Elevation(g proj.Geodetic) (float64, bool)
}

// Frame is the camera derived for one host frame, in RenderLocal.
type Frame struct {
	View     tiles.View
	Target   r3.Vector
	ViewProj geom.Mat4
	Inverse  geom.Mat4
	Width    float64
	Height   float64
}

// CameraSync derives the traversal view from the host camera each frame
// and drives re-centering of the coordinate frame.
type CameraSync struct {
	host  HostMap
	frame *proj.Frame
}

// NewCameraSync follows host with frame.
func NewCameraSync(host HostMap, frame *proj.Frame) *CameraSync {
	return &CameraSync{host: host, frame: frame}
}

// Update re-centers the frame if the camera has moved far enough and
// returns the camera for this frame. It reports false while the host
// viewport is empty.
func (cs *CameraSync) Update(now time.Time) (Frame, bool) {
	cam := cs.host.Camera()
	if cam.Width <= 0 || cam.Height <= 0 {
		return Frame{}, false
	}
	if cam.FOV <= 0 {
		cam.FOV = DefaultFOV
	}
	if cam.TileSize <= 0 {
		cam.TileSize = 256
	}

	cs.frame.MaybeRecenter(cam.Center, cam.Zoom, now)

	center := cam.Center
	center.Height = 0
	if h, ok := cs.host.Elevation(center); ok {
		center.Height = h
	}
	return cameraFrame(cs.frame, cam, center), true
}

// cameraFrame places the eye the way the host map does: at the distance
// where the viewport spans its ground resolution, tilted back by pitch
// and turned by bearing around the center.
func cameraFrame(f *proj.Frame, cam Camera, center proj.Geodetic) Frame {
	halfFov := cam.FOV / 2
	mpp := proj.MetersPerPixel(center.Lat, cam.Zoom, cam.TileSize)
	meters := 0.5 * cam.Height / math.Tan(halfFov) * mpp
	d := f.MetersToWorld(meters, center.Lat)

	pitch := math.Max(0, math.Min(cam.Pitch, 85)) * math.Pi / 180
	bearing := cam.Bearing * math.Pi / 180
	sb, cb := math.Sincos(bearing)
	sp, cp := math.Sincos(pitch)

	target := f.GeodeticToLocal(center)
	eye := target.Add(r3.Vector{X: -sp * sb, Y: -sp * cb, Z: cp}.Mul(d))
	up := r3.Vector{X: sb, Y: cb}

	// Far plane reaches the top edge of the view on the ground, or a
	// long way out when the horizon is visible.
	far := 100 * d
	if a := math.Pi/2 - pitch - halfFov; a > 0.01 {
		top := math.Sin(halfFov) * d / math.Sin(a)
		far = math.Max((sp*top+d)*1.01, 2*d)
	}
	near := d / 50

	view := geom.LookAt(eye, target, up)
	vp := geom.Perspective(cam.FOV, cam.Width/cam.Height, near, far).Mul(view)
	inv, _ := vp.Invert()
	return Frame{
		View: tiles.View{
			Frustum:        geom.FrustumFromMatrix(vp),
			Camera:         eye,
			ViewportWidth:  cam.Width,
			ViewportHeight: cam.Height,
			ScreenWidth:    cam.ScreenWidth,
			ScreenHeight:   cam.ScreenHeight,
		},
		Target:   target,
		ViewProj: vp,
		Inverse:  inv,
		Width:    cam.Width,
		Height:   cam.Height,
	}
}

// Ray returns the RenderLocal ray through screen pixel (x, y).
func (fr Frame) Ray(x, y float64) geom.Ray {
	ndcX := 2*x/fr.Width - 1
	ndcY := 1 - 2*y/fr.Height
	return geom.ScreenRay(fr.Inverse, ndcX, ndcY)
}

// Project returns the screen pixel of RenderLocal point p. It reports false
// for points outside the near and far planes.
func (fr Frame) Project(p r3.Vector) (x, y float64, ok bool) {
	ndc := fr.ViewProj.MulPoint(p)
	if ndc.Z < -1 || ndc.Z > 1 {
		return 0, 0, false
	}
	return (ndc.X + 1) / 2 * fr.Width, (1 - ndc.Y) / 2 * fr.Height, true
}
