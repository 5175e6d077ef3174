package tileformat

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/OpticalFlyer/tilestream/geom"
	"github.com/OpticalFlyer/tilestream/render"
)

const cmptHeaderLength = 16

// decodeCMPT decodes each inner tile of a composite. Inner tiles of
// unknown type are logged and skipped.
func (d *Decoder) decodeCMPT(ctx context.Context, data []byte, opts Options) (*Content, error) {
	if len(data) < cmptHeaderLength {
		return nil, fmt.Errorf("%w: cmpt tile of %d bytes is shorter than its header", ErrFormat, len(data))
	}
	if m := Magic(data); m != string(TypeCMPT) {
		return nil, fmt.Errorf("%w: invalid magic string, expected %q, got %q", ErrFormat, TypeCMPT, m)
	}
	le := binary.LittleEndian
	byteLength := int(le.Uint32(data[8:]))
	tilesLength := int(le.Uint32(data[12:]))
	if byteLength > len(data) || byteLength < cmptHeaderLength {
		return nil, fmt.Errorf("%w: cmpt byteLength %d does not match %d bytes", ErrFormat, byteLength, len(data))
	}
	data = data[:byteLength]

	c := &Content{
		Type:       TypeCMPT,
		Transform:  geom.Identity(),
		ByteLength: byteLength,
		Name:       opts.Name,
	}
	comp := &render.Composite{}
	pos := cmptHeaderLength
	for i := 0; i < tilesLength; i++ {
		if pos+12 > len(data) {
			return nil, fmt.Errorf("%w: cmpt inner tile %d header overruns container", ErrFormat, i)
		}
		n := int(le.Uint32(data[pos+8:]))
		if n < 12 || pos+n > len(data) {
			return nil, fmt.Errorf("%w: cmpt inner tile %d of %d bytes overruns container", ErrFormat, i, n)
		}
		inner := data[pos : pos+n]
		pos += n

		t := Type(Magic(inner))
		switch t {
		case TypeB3DM, TypeI3DM, TypePNTS, TypeCMPT:
		default:
			d.Log.Warnf("%s: composite inner tile type %q not supported", opts.URL, string(t))
			continue
		}
		part, err := d.Decode(ctx, t, inner, opts)
		if err != nil {
			return nil, fmt.Errorf("cmpt inner tile %d: %w", i, err)
		}
		// Inner tiles are charged through the composite.
		part.ByteLength = 0
		c.Parts = append(c.Parts, part)
		comp.Parts = append(comp.Parts, &render.Transformed{Base: part.Primitive, Matrix: part.Transform})
	}
	c.Primitive = comp
	return c, nil
}
