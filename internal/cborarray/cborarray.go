// Package cborarray encodes and decodes RFC 8746 typed and multi-dimensional
// arrays as carried by fxamacker/cbor generic values.
package cborarray

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

const (
	TagMultiDim  = 40
	TagUint8     = 64
	TagUint16LE  = 69
	TagUint32LE  = 70
	TagFloat32LE = 85
	TagFloat64LE = 86
)

// Array is a decoded row-major array. Data holds one of []uint8, []uint16,
// []uint32, []float32 or []float64.
type Array struct {
	Shape []int
	Data  any
}

// Len is the element count of Data.
func (a Array) Len() int {
	switch v := a.Data.(type) {
	case []uint8:
		return len(v)
	case []uint16:
		return len(v)
	case []uint32:
		return len(v)
	case []float32:
		return len(v)
	case []float64:
		return len(v)
	default:
		return 0
	}
}

// Decode accepts either a tag 40 multi-dimensional array or a bare typed
// array, which decodes as one dimension.
func Decode(value any) (Array, error) {
	tag, ok := value.(cbor.Tag)
	if !ok {
		return Array{}, errors.Errorf("expected array tag, got %T", value)
	}
	if tag.Number != TagMultiDim {
		flat, err := decodeTyped(tag)
		if err != nil {
			return Array{}, err
		}
		a := Array{Data: flat}
		a.Shape = []int{a.Len()}
		return a, nil
	}

	items, ok := tag.Content.([]any)
	if !ok || len(items) != 2 {
		return Array{}, errors.New("invalid multidim array content")
	}
	dimsRaw, ok := items[0].([]any)
	if !ok || len(dimsRaw) == 0 {
		return Array{}, errors.New("invalid multidim dimensions")
	}
	shape := make([]int, len(dimsRaw))
	total := 1
	for i, d := range dimsRaw {
		n, err := ToInt(d)
		if err != nil {
			return Array{}, err
		}
		if n < 0 {
			return Array{}, errors.Errorf("negative dimension %d", n)
		}
		shape[i] = n
		total *= n
	}

	inner, ok := items[1].(cbor.Tag)
	if !ok {
		return Array{}, errors.Errorf("expected typed array tag, got %T", items[1])
	}
	flat, err := decodeTyped(inner)
	if err != nil {
		return Array{}, err
	}
	a := Array{Shape: shape, Data: flat}
	if a.Len() != total {
		return Array{}, errors.Errorf("dimension mismatch: shape %v, %d elements", shape, a.Len())
	}
	return a, nil
}

func decodeTyped(tag cbor.Tag) (any, error) {
	data, ok := tag.Content.([]byte)
	if !ok {
		return nil, errors.Errorf("unsupported typed array content %T", tag.Content)
	}
	switch tag.Number {
	case TagUint8:
		return data, nil
	case TagUint16LE:
		out := make([]uint16, len(data)/2)
		for i := range out {
			out[i] = binary.LittleEndian.Uint16(data[i*2:])
		}
		return out, nil
	case TagUint32LE:
		out := make([]uint32, len(data)/4)
		for i := range out {
			out[i] = binary.LittleEndian.Uint32(data[i*4:])
		}
		return out, nil
	case TagFloat32LE:
		out := make([]float32, len(data)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		}
		return out, nil
	case TagFloat64LE:
		out := make([]float64, len(data)/8)
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
		}
		return out, nil
	default:
		return nil, errors.Errorf("unsupported typed array tag %d", tag.Number)
	}
}

// Uint16 converts integer data to sensor counts. Values that do not fit are
// rejected.
func (a Array) Uint16() ([]uint16, error) {
	switch v := a.Data.(type) {
	case []uint16:
		return v, nil
	case []uint8:
		out := make([]uint16, len(v))
		for i, x := range v {
			out[i] = uint16(x)
		}
		return out, nil
	case []uint32:
		out := make([]uint16, len(v))
		for i, x := range v {
			if x > math.MaxUint16 {
				return nil, errors.Errorf("value %d at %d overflows uint16", x, i)
			}
			out[i] = uint16(x)
		}
		return out, nil
	default:
		return nil, errors.Errorf("cannot use %T as sensor counts", a.Data)
	}
}

// EncodeFloat64 wraps values as a tag 40 array of shape (rows, cols) over a
// tag 86 little-endian float64 typed array. NaN survives the encoding.
func EncodeFloat64(rows, cols int, values []float64) cbor.Tag {
	buf := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return cbor.Tag{
		Number: TagMultiDim,
		Content: []any{
			[]any{rows, cols},
			cbor.Tag{Number: TagFloat64LE, Content: buf},
		},
	}
}

// EncodeUint16 is the camera bridge form of a raw frame.
func EncodeUint16(rows, cols int, values []uint16) cbor.Tag {
	buf := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(buf[i*2:], v)
	}
	return cbor.Tag{
		Number: TagMultiDim,
		Content: []any{
			[]any{rows, cols},
			cbor.Tag{Number: TagUint16LE, Content: buf},
		},
	}
}

func ToInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case uint32:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("unsupported int type %T", v)
	}
}

func ToFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("unsupported float type %T", v)
	}
}
