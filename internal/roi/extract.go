package roi

import (
	"math"

	"thermrec-go/internal/types"
)

// NoData marks cells outside the region in a masked frame.
var NoData = math.NaN()

// ValuesIn returns the in-region values in row-major order. The result is
// empty when the mask is inactive, does not fit the frame, or selects
// nothing; callers treat that as nothing to record.
func ValuesIn(frame types.Frame, mask Mask) []float64 {
	if !mask.Fits(frame) {
		return []float64{}
	}
	out := make([]float64, 0, mask.Count())
	for i, in := range mask.Cells {
		if in {
			out = append(out, frame.Pix[i])
		}
	}
	return out
}

// MaskedFrame keeps the frame shape and sets out-of-region cells to NoData.
// Without a fitting mask the input frame is returned as is.
func MaskedFrame(frame types.Frame, mask Mask) types.Frame {
	if !mask.Fits(frame) {
		return frame
	}
	out := frame.Clone()
	for i, in := range mask.Cells {
		if !in {
			out.Pix[i] = NoData
		}
	}
	return out
}
