// Package tileformat decodes 3D Tiles payloads: tileset JSON and the
// batched (b3dm), instanced (i3dm), point cloud (pnts) and composite
// (cmpt) binary tile formats.
package tileformat

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net/url"
	"path"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/goccy/go-json"
)

// ErrFormat is returned for payloads that cannot be decoded: bad magic,
// truncated sections, malformed JSON or unsupported encodings.
var ErrFormat = errors.New("tile format error")

// Type is a tile content format, named by its magic string.
type Type string

const (
	TypeJSON Type = "json"
	TypeB3DM Type = "b3dm"
	TypeI3DM Type = "i3dm"
	TypePNTS Type = "pnts"
	TypeCMPT Type = "cmpt"
)

// TypeFromURL returns the content type named by the suffix of u, ignoring
// any query string or fragment.
func TypeFromURL(u string) (Type, bool) {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	if len(u) < 4 {
		return "", false
	}
	switch t := Type(strings.ToLower(u[len(u)-4:])); t {
	case TypeJSON, TypeB3DM, TypeI3DM, TypePNTS, TypeCMPT:
		return t, true
	}
	return "", false
}

// ResolveURL resolves ref against the URL of the resource that named it.
func ResolveURL(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if b.Scheme == "" && !r.IsAbs() && !path.IsAbs(ref) {
		// Plain file paths.
		return path.Join(path.Dir(base), ref)
	}
	return b.ResolveReference(r).String()
}

// Header is the fixed header shared by the binary tile formats.
type Header struct {
	Magic                  string
	Version                uint32
	ByteLength             uint32
	FeatureTableJSONLength uint32
	FeatureTableBinLength  uint32
	BatchTableJSONLength   uint32
	BatchTableBinLength    uint32
	// GLTFFormat is only present in i3dm headers: 0 means the payload is
	// a URI, 1 an embedded binary glTF.
	GLTFFormat uint32
}

func headerLength(t Type) int {
	if t == TypeI3DM {
		return 32
	}
	return 28
}

// Body is a binary tile split into its sections.
type Body struct {
	Header
	FeatureTable       FeatureTable
	FeatureTableBinary []byte
	BatchTable         BatchTable
	BatchTableBinary   []byte
	Payload            []byte
}

// Magic returns the four-byte magic at the start of data.
func Magic(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	return string(data[:4])
}

// ParseBody checks the header of a b3dm, i3dm or pnts tile against the
// expected type and splits the tile into its sections.
func ParseBody(data []byte, want Type) (*Body, error) {
	hl := headerLength(want)
	if len(data) < hl {
		return nil, fmt.Errorf("%w: %s tile of %d bytes is shorter than its header", ErrFormat, want, len(data))
	}
	if m := Magic(data); m != string(want) {
		return nil, fmt.Errorf("%w: invalid magic string, expected %q, got %q", ErrFormat, want, m)
	}

	le := binary.LittleEndian
	h := Header{
		Magic:                  string(want),
		Version:                le.Uint32(data[4:]),
		ByteLength:             le.Uint32(data[8:]),
		FeatureTableJSONLength: le.Uint32(data[12:]),
		FeatureTableBinLength:  le.Uint32(data[16:]),
		BatchTableJSONLength:   le.Uint32(data[20:]),
		BatchTableBinLength:    le.Uint32(data[24:]),
		GLTFFormat:             1,
	}
	if want == TypeI3DM {
		h.GLTFFormat = le.Uint32(data[28:])
	}
	if int(h.ByteLength) > len(data) || int(h.ByteLength) < hl {
		return nil, fmt.Errorf("%w: header byteLength %d does not match %d bytes", ErrFormat, h.ByteLength, len(data))
	}
	data = data[:h.ByteLength]

	b := &Body{Header: h}
	pos := hl
	section := func(n uint32, name string) ([]byte, error) {
		end := pos + int(n)
		if end > len(data) || end < pos {
			return nil, fmt.Errorf("%w: %s section overruns tile", ErrFormat, name)
		}
		s := data[pos:end]
		pos = end
		return s, nil
	}

	ftJSON, err := section(h.FeatureTableJSONLength, "feature table JSON")
	if err != nil {
		return nil, err
	}
	if b.FeatureTableBinary, err = section(h.FeatureTableBinLength, "feature table binary"); err != nil {
		return nil, err
	}
	btJSON, err := section(h.BatchTableJSONLength, "batch table JSON")
	if err != nil {
		return nil, err
	}
	if b.BatchTableBinary, err = section(h.BatchTableBinLength, "batch table binary"); err != nil {
		return nil, err
	}
	b.Payload = data[pos:]

	if err := unmarshalSection(ftJSON, &b.FeatureTable); err != nil {
		return nil, fmt.Errorf("%w: feature table: %v", ErrFormat, err)
	}
	if err := unmarshalSection(btJSON, &b.BatchTable); err != nil {
		return nil, fmt.Errorf("%w: batch table: %v", ErrFormat, err)
	}
	return b, nil
}

// unmarshalSection decodes a JSON section, which may be empty or padded
// with trailing spaces or NULs.
func unmarshalSection(s []byte, v any) error {
	s = []byte(strings.TrimRight(string(s), " \x00"))
	if len(s) == 0 {
		return nil
	}
	return json.Unmarshal(s, v)
}

// BinaryRef points into a table's binary section.
type BinaryRef struct {
	ByteOffset    int    `json:"byteOffset"`
	ComponentType string `json:"componentType,omitempty"`
}

// FeatureTable holds the feature table semantics used by the decoders.
type FeatureTable struct {
	BatchLength     int `json:"BATCH_LENGTH"`
	InstancesLength int `json:"INSTANCES_LENGTH"`
	PointsLength    int `json:"POINTS_LENGTH"`

	RTCCenter json.RawMessage `json:"RTC_CENTER"`

	Position              *BinaryRef `json:"POSITION"`
	PositionQuantized     *BinaryRef `json:"POSITION_QUANTIZED"`
	QuantizedVolumeOffset []float64  `json:"QUANTIZED_VOLUME_OFFSET"`
	QuantizedVolumeScale  []float64  `json:"QUANTIZED_VOLUME_SCALE"`

	NormalUp        *BinaryRef `json:"NORMAL_UP"`
	NormalRight     *BinaryRef `json:"NORMAL_RIGHT"`
	Scale           *BinaryRef `json:"SCALE"`
	ScaleNonUniform *BinaryRef `json:"SCALE_NON_UNIFORM"`
	BatchID         *BinaryRef `json:"BATCH_ID"`

	RGBA         *BinaryRef `json:"RGBA"`
	RGB          *BinaryRef `json:"RGB"`
	RGB565       *BinaryRef `json:"RGB565"`
	ConstantRGBA []int       `json:"CONSTANT_RGBA"`
}

// RTC returns the RTC_CENTER, if it is given inline as three numbers.
func (ft *FeatureTable) RTC() (r3.Vector, bool) {
	if len(ft.RTCCenter) == 0 {
		return r3.Vector{}, false
	}
	var c []float64
	if err := json.Unmarshal(ft.RTCCenter, &c); err != nil || len(c) != 3 {
		return r3.Vector{}, false
	}
	return r3.Vector{X: c[0], Y: c[1], Z: c[2]}, true
}

// BatchTable maps property names to per-feature values. Properties stored
// in the batch table binary are left as their reference objects.
type BatchTable map[string]any

// Feature returns the properties of feature id: every array-valued
// property contributes its id'th element.
func (bt BatchTable) Feature(id int) map[string]any {
	props := make(map[string]any)
	for k, v := range bt {
		if arr, ok := v.([]any); ok && id >= 0 && id < len(arr) {
			props[k] = arr[id]
		}
	}
	return props
}

// All returns every property; single-element arrays are unwrapped.
func (bt BatchTable) All() map[string]any {
	props := make(map[string]any, len(bt))
	for k, v := range bt {
		if arr, ok := v.([]any); ok && len(arr) == 1 {
			v = arr[0]
		}
		props[k] = v
	}
	return props
}

// reader reads typed arrays out of a binary section, reporting overruns
// as format errors.
type reader struct {
	buf  []byte
	name string
}

// count rejects an element count that could not fit in the binary section
// even at one byte per element.
func (r reader) count(n int, what string) error {
	if n < 0 || n > len(r.buf) {
		return fmt.Errorf("%w: %s: %s %d does not fit %d byte binary section",
			ErrFormat, r.name, what, n, len(r.buf))
	}
	return nil
}

func (r reader) span(ref *BinaryRef, n, size int) ([]byte, error) {
	start := ref.ByteOffset
	if start < 0 || start > len(r.buf) || n < 0 || size > 0 && n > (len(r.buf)-start)/size {
		return nil, fmt.Errorf("%w: %s: %d elements at offset %d overrun %d byte binary section",
			ErrFormat, r.name, n, start, len(r.buf))
	}
	return r.buf[start : start+n*size], nil
}

func (r reader) vec3s(ref *BinaryRef, n int) ([]r3.Vector, error) {
	b, err := r.span(ref, n, 12)
	if err != nil {
		return nil, err
	}
	out := make([]r3.Vector, n)
	for i := range out {
		out[i] = r3.Vector{
			X: float64(f32(b[i*12:])),
			Y: float64(f32(b[i*12+4:])),
			Z: float64(f32(b[i*12+8:])),
		}
	}
	return out, nil
}

func (r reader) float32s(ref *BinaryRef, n int) ([]float64, error) {
	b, err := r.span(ref, n, 4)
	if err != nil {
		return nil, err
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(f32(b[i*4:]))
	}
	return out, nil
}

func (r reader) uint16s(ref *BinaryRef, n int) ([]uint16, error) {
	b, err := r.span(ref, n, 2)
	if err != nil {
		return nil, err
	}
	out := make([]uint16, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return out, nil
}

func (r reader) bytes(ref *BinaryRef, n int) ([]byte, error) {
	return r.span(ref, n, 1)
}

// batchIDs reads a BATCH_ID array; the component type defaults to
// UNSIGNED_SHORT.
func (r reader) batchIDs(ref *BinaryRef, n int) ([]int, error) {
	if err := r.count(n, "BATCH_ID length"); err != nil {
		return nil, err
	}
	out := make([]int, n)
	switch ref.ComponentType {
	case "UNSIGNED_BYTE":
		b, err := r.bytes(ref, n)
		if err != nil {
			return nil, err
		}
		for i := range out {
			out[i] = int(b[i])
		}
	case "UNSIGNED_INT":
		b, err := r.span(ref, n, 4)
		if err != nil {
			return nil, err
		}
		for i := range out {
			out[i] = int(binary.LittleEndian.Uint32(b[i*4:]))
		}
	case "", "UNSIGNED_SHORT":
		s, err := r.uint16s(ref, n)
		if err != nil {
			return nil, err
		}
		for i := range out {
			out[i] = int(s[i])
		}
	default:
		return nil, fmt.Errorf("%w: BATCH_ID component type %q", ErrFormat, ref.ComponentType)
	}
	return out, nil
}

func f32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}
