package types

import "time"

// Size is a width/height pair, used for both display and sensor resolution.
type Size struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Point is a pixel position in display space.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// RawFrame holds sensor counts in row-major order.
type RawFrame struct {
	Rows      int
	Cols      int
	Pix       []uint16
	Timestamp time.Time
}

func (f RawFrame) Empty() bool {
	return f.Rows == 0 || f.Cols == 0 || len(f.Pix) == 0
}

// Frame holds calibrated temperatures (°C) in row-major order. A cell may be
// NaN when it carries no data.
type Frame struct {
	Rows      int
	Cols      int
	Pix       []float64
	Timestamp time.Time
}

func NewFrame(rows, cols int, ts time.Time) Frame {
	return Frame{Rows: rows, Cols: cols, Pix: make([]float64, rows*cols), Timestamp: ts}
}

func (f Frame) Empty() bool {
	return f.Rows == 0 || f.Cols == 0 || len(f.Pix) == 0
}

// Shape returns the record shape used by the binary container.
func (f Frame) Shape() []int {
	return []int{f.Rows, f.Cols}
}

// Clone returns a deep copy.
func (f Frame) Clone() Frame {
	out := f
	out.Pix = append([]float64(nil), f.Pix...)
	return out
}

// Seconds returns the timestamp as seconds since epoch.
func Seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// Sample is one point of a scalar time series.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}
