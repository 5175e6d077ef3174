package tileformat

import (
	"bytes"
	"context"
	"fmt"
	"math"

	"github.com/OpticalFlyer/tilestream/geom"
	"github.com/OpticalFlyer/tilestream/render"

	"github.com/golang/geo/r3"
)

func r3Splat(s float64) r3.Vector {
	return r3.Vector{X: s, Y: s, Z: s}
}

func (d *Decoder) decodeI3DM(ctx context.Context, data []byte, opts Options) (*Content, error) {
	body, err := ParseBody(data, TypeI3DM)
	if err != nil {
		return nil, err
	}
	ft := &body.FeatureTable
	n := ft.InstancesLength
	if ft.Position == nil {
		return nil, fmt.Errorf("%w: i3dm missing POSITION", ErrFormat)
	}
	rd := reader{buf: body.FeatureTableBinary, name: "i3dm feature table"}
	if err := rd.count(n, "INSTANCES_LENGTH"); err != nil {
		return nil, err
	}

	model := body.Payload
	external := 0
	if body.GLTFFormat == 0 {
		uri := string(bytes.TrimRight(body.Payload, " \x00"))
		if d.Resolver == nil {
			return nil, fmt.Errorf("%w: i3dm references external model %q but no resolver is configured", ErrFormat, uri)
		}
		if model, err = d.Resolver.Resolve(ctx, ResolveURL(opts.URL, uri)); err != nil {
			return nil, fmt.Errorf("i3dm external model: %w", err)
		}
		external = len(model)
	}
	mesh, err := d.Models.DecodeModel(model)
	if err != nil {
		return nil, fmt.Errorf("i3dm model: %w", err)
	}

	positions, err := rd.vec3s(ft.Position, n)
	if err != nil {
		return nil, err
	}
	var rights []r3.Vector
	if ft.NormalUp != nil && ft.NormalRight != nil {
		if rights, err = rd.vec3s(ft.NormalRight, n); err != nil {
			return nil, err
		}
	}
	var scales []float64
	if ft.Scale != nil {
		if scales, err = rd.float32s(ft.Scale, n); err != nil {
			return nil, err
		}
	}
	var xyz []r3.Vector
	if ft.ScaleNonUniform != nil {
		if xyz, err = rd.vec3s(ft.ScaleNonUniform, n); err != nil {
			return nil, err
		}
	}
	var ids []int
	if ft.BatchID != nil {
		if ids, err = rd.batchIDs(ft.BatchID, n); err != nil {
			return nil, err
		}
	}

	// Instances are placed under the tile's world transform; cancel its
	// translation so it is not applied twice.
	offset, _ := ft.RTC()
	if inv, ok := opts.WorldTransform.Invert(); ok {
		offset = offset.Add(inv.Translation())
	}

	up := opts.upAxis()
	transforms := make([]geom.Mat4, n)
	for i, p := range positions {
		var rot float64
		if rights != nil {
			rot = math.Atan2(rights[i].Y, rights[i].X)
		}
		s := r3Splat(opts.mercatorScale(p.Y))
		if scales != nil {
			s = s.Mul(scales[i])
		}
		if xyz != nil {
			s = r3.Vector{X: s.X * xyz[i].X, Y: s.Y * xyz[i].Y, Z: s.Z * xyz[i].Z}
		}
		transforms[i] = geom.Compose(p.Add(offset), rot, s).Mul(up)
	}

	return &Content{
		Type:       TypeI3DM,
		Primitive:  render.Decorate(&render.Instances{Base: mesh, Transforms: transforms, BatchIDs: ids}, opts.Style),
		Transform:  geom.Identity(),
		ByteLength: len(data) + external,
		Name:       opts.Name,
		BatchTable: body.BatchTable,
		BatchIDs:   ids,
	}, nil
}
