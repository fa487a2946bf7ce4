package output

import (
	"github.com/pkg/errors"
)

// Container layout, little-endian:
//
//	header: "THRM" int32(version)
//	record: "FRAM" int32(ndim) int32[ndim](shape) float64(timestamp)
//	        int32(frame_index) float64[product(shape)](payload)
const (
	containerMagic = "THRM"
	recordMarker   = "FRAM"

	// Version is written into every new container.
	Version int32 = 1

	maxDims   = 8
	maxValues = 1 << 28

	// payloadChunk is how many values the reader decodes per read.
	payloadChunk = 1 << 12
)

var (
	ErrNotContainer     = errors.New("output: not a thermal recording")
	ErrTruncated        = errors.New("output: truncated frame record")
	ErrUnexpectedMarker = errors.New("output: unexpected record marker")
	ErrCorrupt          = errors.New("output: corrupt frame record")
	ErrShapeMismatch    = errors.New("output: shape does not match payload length")
	ErrClosed           = errors.New("output: writer is closed")
)

// Record is one frame record of a container.
type Record struct {
	Index     int32
	Timestamp float64
	Shape     []int
	Values    []float64
}

// Len returns product(shape), the number of payload values.
func (r Record) Len() int {
	return shapeLen(r.Shape)
}

func shapeLen(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
