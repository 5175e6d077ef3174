package tileformat

import (
	"fmt"

	"github.com/OpticalFlyer/tilestream/geom"
	"github.com/OpticalFlyer/tilestream/render"
)

func (d *Decoder) decodeB3DM(data []byte, opts Options) (*Content, error) {
	body, err := ParseBody(data, TypeB3DM)
	if err != nil {
		return nil, err
	}
	mesh, err := d.Models.DecodeModel(body.Payload)
	if err != nil {
		return nil, fmt.Errorf("b3dm model: %w", err)
	}
	mesh.BatchLength = body.FeatureTable.BatchLength
	if opts.Name != "" {
		mesh.Name = opts.Name
	}

	m := geom.Identity()
	if rtc, ok := body.FeatureTable.RTC(); ok {
		m = geom.Translate(rtc)
	}
	s := opts.mercatorScale(opts.WorldTransform[13])
	m = m.Mul(geom.Scale(r3Splat(s))).Mul(opts.upAxis())

	return &Content{
		Type:       TypeB3DM,
		Primitive:  render.Decorate(mesh, opts.Style),
		Transform:  m,
		ByteLength: len(data),
		Name:       opts.Name,
		BatchTable: body.BatchTable,
	}, nil
}
