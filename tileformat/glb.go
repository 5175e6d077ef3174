package tileformat

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/OpticalFlyer/tilestream/geom"
	"github.com/OpticalFlyer/tilestream/render"

	"github.com/golang/geo/r3"
)

// ModelDecoder turns an embedded glTF model into a mesh primitive. Full
// geometry decoding (Draco, KTX2, meshopt) belongs to the rendering
// engine; the engine only needs extents and names.
type ModelDecoder interface {
	DecodeModel(data []byte) (*render.Mesh, error)
}

const (
	glbMagic     = "glTF"
	glbChunkJSON = 0x4E4F534A
)

type gltfDoc struct {
	Asset struct {
		Version string `json:"version"`
	} `json:"asset"`
	Nodes []struct {
		Name string `json:"name"`
		Mesh *int   `json:"mesh"`
	} `json:"nodes"`
	Meshes []struct {
		Name       string `json:"name"`
		Primitives []struct {
			Attributes map[string]int `json:"attributes"`
		} `json:"primitives"`
	} `json:"meshes"`
	Accessors []struct {
		Count int       `json:"count"`
		Min   []float64 `json:"min"`
		Max   []float64 `json:"max"`
	} `json:"accessors"`
}

// GLBDecoder reads binary glTF containers (or plain glTF JSON) and
// reports mesh names and the bounds of the POSITION accessors.
type GLBDecoder struct{}

func (GLBDecoder) DecodeModel(data []byte) (*render.Mesh, error) {
	doc, err := parseGLTF(data)
	if err != nil {
		return nil, err
	}

	m := &render.Mesh{Box: geom.EmptyBox()}
	for _, n := range doc.Nodes {
		if n.Mesh != nil && n.Name != "" {
			m.Name = n.Name
			break
		}
	}
	for _, mesh := range doc.Meshes {
		m.MeshNames = append(m.MeshNames, mesh.Name)
		for _, p := range mesh.Primitives {
			idx, ok := p.Attributes["POSITION"]
			if !ok || idx < 0 || idx >= len(doc.Accessors) {
				continue
			}
			acc := doc.Accessors[idx]
			if len(acc.Min) != 3 || len(acc.Max) != 3 {
				continue
			}
			m.Box = m.Box.
				ExpandByPoint(r3.Vector{X: acc.Min[0], Y: acc.Min[1], Z: acc.Min[2]}).
				ExpandByPoint(r3.Vector{X: acc.Max[0], Y: acc.Max[1], Z: acc.Max[2]})
		}
	}
	if m.Name == "" && len(m.MeshNames) > 0 {
		m.Name = m.MeshNames[0]
	}
	return m, nil
}

func parseGLTF(data []byte) (*gltfDoc, error) {
	var js []byte
	switch {
	case Magic(data) == glbMagic:
		if len(data) < 20 {
			return nil, fmt.Errorf("%w: glb of %d bytes is truncated", ErrFormat, len(data))
		}
		le := binary.LittleEndian
		if v := le.Uint32(data[4:]); v != 2 {
			return nil, fmt.Errorf("%w: unsupported glb version %d", ErrFormat, v)
		}
		total := int(le.Uint32(data[8:]))
		if total > len(data) {
			return nil, fmt.Errorf("%w: glb length %d exceeds %d bytes", ErrFormat, total, len(data))
		}
		for pos := 12; pos+8 <= total; {
			n := int(le.Uint32(data[pos:]))
			typ := le.Uint32(data[pos+4:])
			start, end := pos+8, pos+8+n
			if end > total || end < start {
				return nil, fmt.Errorf("%w: glb chunk overruns container", ErrFormat)
			}
			if typ == glbChunkJSON {
				js = data[start:end]
				break
			}
			pos = end
		}
		if js == nil {
			return nil, fmt.Errorf("%w: glb has no JSON chunk", ErrFormat)
		}
	case len(bytes.TrimSpace(data)) > 0 && bytes.TrimSpace(data)[0] == '{':
		js = data
	default:
		return nil, fmt.Errorf("%w: payload is not glTF (magic %q)", ErrFormat, Magic(data))
	}

	var doc gltfDoc
	if err := unmarshalSection(js, &doc); err != nil {
		return nil, fmt.Errorf("%w: glTF JSON: %v", ErrFormat, err)
	}
	return &doc, nil
}
