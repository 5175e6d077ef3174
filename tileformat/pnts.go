package tileformat

import (
	"fmt"

	"github.com/OpticalFlyer/tilestream/geom"
	"github.com/OpticalFlyer/tilestream/render"

	"github.com/golang/geo/r3"
)

func (d *Decoder) decodePNTS(data []byte, opts Options) (*Content, error) {
	body, err := ParseBody(data, TypePNTS)
	if err != nil {
		return nil, err
	}
	ft := &body.FeatureTable
	n := ft.PointsLength
	rd := reader{buf: body.FeatureTableBinary, name: "pnts feature table"}
	if err := rd.count(n, "POINTS_LENGTH"); err != nil {
		return nil, err
	}

	var positions []r3.Vector
	switch {
	case ft.Position != nil:
		if positions, err = rd.vec3s(ft.Position, n); err != nil {
			return nil, err
		}
	case ft.PositionQuantized != nil:
		if len(ft.QuantizedVolumeOffset) != 3 || len(ft.QuantizedVolumeScale) != 3 {
			return nil, fmt.Errorf("%w: POSITION_QUANTIZED without quantized volume", ErrFormat)
		}
		q, err := rd.uint16s(ft.PositionQuantized, 3*n)
		if err != nil {
			return nil, err
		}
		off, sc := ft.QuantizedVolumeOffset, ft.QuantizedVolumeScale
		positions = make([]r3.Vector, n)
		for i := range positions {
			positions[i] = r3.Vector{
				X: off[0] + float64(q[i*3])/65535*sc[0],
				Y: off[1] + float64(q[i*3+1])/65535*sc[1],
				Z: off[2] + float64(q[i*3+2])/65535*sc[2],
			}
		}
	default:
		return nil, fmt.Errorf("%w: pnts has neither POSITION nor POSITION_QUANTIZED", ErrFormat)
	}

	pts := render.NewPoints(positions)
	switch {
	case ft.RGBA != nil:
		b, err := rd.bytes(ft.RGBA, 4*n)
		if err != nil {
			return nil, err
		}
		pts.Colors = make([][4]float32, n)
		for i := range pts.Colors {
			for c := 0; c < 4; c++ {
				pts.Colors[i][c] = float32(b[i*4+c]) / 255
			}
		}
	case ft.RGB != nil:
		b, err := rd.bytes(ft.RGB, 3*n)
		if err != nil {
			return nil, err
		}
		pts.Colors = make([][4]float32, n)
		for i := range pts.Colors {
			for c := 0; c < 3; c++ {
				pts.Colors[i][c] = float32(b[i*3+c]) / 255
			}
			pts.Colors[i][3] = 1
		}
	case ft.RGB565 != nil:
		d.Log.Warnf("%s: RGB565 point colors are not supported; drawing without color", opts.URL)
	}
	if len(ft.ConstantRGBA) == 4 {
		var c [4]float32
		for i, v := range ft.ConstantRGBA {
			c[i] = float32(v) / 255
		}
		pts.Constant = &c
	}
	if ft.BatchID != nil {
		if pts.BatchIDs, err = rd.batchIDs(ft.BatchID, n); err != nil {
			return nil, err
		}
	}
	if opts.Style.PointSize > 0 {
		pts.Size = opts.Style.PointSize
	}

	m := geom.Identity()
	if rtc, ok := ft.RTC(); ok {
		m = geom.Translate(rtc)
	}
	return &Content{
		Type:       TypePNTS,
		Primitive:  render.Decorate(pts, opts.Style),
		Transform:  m,
		ByteLength: len(data),
		Name:       opts.Name,
		BatchTable: body.BatchTable,
		BatchIDs:   pts.BatchIDs,
	}, nil
}
