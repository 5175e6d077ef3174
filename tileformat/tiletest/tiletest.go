// Package tiletest builds 3D Tiles payloads for tests.
package tiletest

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/goccy/go-json"
)

// GLB returns a binary glTF holding one named mesh whose POSITION
// accessor spans min..max.
func GLB(name string, min, max [3]float64) []byte {
	doc := map[string]any{
		"asset":  map[string]any{"version": "2.0"},
		"nodes":  []any{map[string]any{"name": name, "mesh": 0}},
		"meshes": []any{map[string]any{"name": name, "primitives": []any{map[string]any{"attributes": map[string]int{"POSITION": 0}}}}},
		"accessors": []any{map[string]any{
			"count": 8, "min": min[:], "max": max[:],
		}},
	}
	js := pad(mustJSON(doc), ' ')
	bin := make([]byte, 8)

	var buf bytes.Buffer
	total := 12 + 8 + len(js) + 8 + len(bin)
	buf.WriteString("glTF")
	put32(&buf, 2)
	put32(&buf, uint32(total))
	put32(&buf, uint32(len(js)))
	put32(&buf, 0x4E4F534A)
	buf.Write(js)
	put32(&buf, uint32(len(bin)))
	put32(&buf, 0x004E4942)
	buf.Write(bin)
	return buf.Bytes()
}

// UnitGLB is a GLB of a unit cube centered at the origin.
func UnitGLB(name string) []byte {
	return GLB(name, [3]float64{-0.5, -0.5, -0.5}, [3]float64{0.5, 0.5, 0.5})
}

// Tile assembles a b3dm or pnts tile. ft and bt are marshaled to JSON;
// nil tables are omitted.
func Tile(magic string, ft any, ftBin []byte, bt any, btBin []byte, payload []byte) []byte {
	return assemble(magic, 28, 0, ft, ftBin, bt, btBin, payload)
}

// I3DM assembles an instanced tile with the given glTF format flag.
func I3DM(ft any, ftBin []byte, bt any, gltfFormat uint32, payload []byte) []byte {
	return assemble("i3dm", 32, gltfFormat, ft, ftBin, bt, nil, payload)
}

// B3DM returns a b3dm tile of exactly size bytes (or the minimum size if
// that is larger) wrapping a unit cube model.
func B3DM(name string, size int) []byte {
	glb := UnitGLB(name)
	base := len(Tile("b3dm", map[string]any{"BATCH_LENGTH": 0}, nil, nil, nil, glb))
	var padding []byte
	if size > base {
		padding = make([]byte, size-base)
	}
	return Tile("b3dm", map[string]any{"BATCH_LENGTH": 0}, nil, nil, padding, glb)
}

// CMPT wraps tiles in a composite.
func CMPT(tiles ...[]byte) []byte {
	var body bytes.Buffer
	for _, t := range tiles {
		body.Write(t)
	}
	var buf bytes.Buffer
	buf.WriteString("cmpt")
	put32(&buf, 1)
	put32(&buf, uint32(16+body.Len()))
	put32(&buf, uint32(len(tiles)))
	buf.Write(body.Bytes())
	return buf.Bytes()
}

// Float32s encodes values as little-endian float32.
func Float32s(v ...float32) []byte {
	b := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

// Uint16s encodes values as little-endian uint16.
func Uint16s(v ...uint16) []byte {
	b := make([]byte, 2*len(v))
	for i, u := range v {
		binary.LittleEndian.PutUint16(b[i*2:], u)
	}
	return b
}

func assemble(magic string, hl int, gltfFormat uint32, ft any, ftBin []byte, bt any, btBin []byte, payload []byte) []byte {
	var ftJSON, btJSON []byte
	if ft != nil {
		ftJSON = pad(mustJSON(ft), ' ')
	}
	if bt != nil {
		btJSON = pad(mustJSON(bt), ' ')
	}
	total := hl + len(ftJSON) + len(ftBin) + len(btJSON) + len(btBin) + len(payload)

	var buf bytes.Buffer
	buf.WriteString(magic)
	put32(&buf, 1)
	put32(&buf, uint32(total))
	put32(&buf, uint32(len(ftJSON)))
	put32(&buf, uint32(len(ftBin)))
	put32(&buf, uint32(len(btJSON)))
	put32(&buf, uint32(len(btBin)))
	if hl == 32 {
		put32(&buf, gltfFormat)
	}
	buf.Write(ftJSON)
	buf.Write(ftBin)
	buf.Write(btJSON)
	buf.Write(btBin)
	buf.Write(payload)
	return buf.Bytes()
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func pad(b []byte, c byte) []byte {
	for len(b)%8 != 0 {
		b = append(b, c)
	}
	return b
}

func put32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}
