package types

import "github.com/fxamacker/cbor/v2"

// QuadrantSummary is the display form of one quadrant's statistics.
type QuadrantSummary struct {
	Min     float64 `cbor:"min" json:"min"`
	Max     float64 `cbor:"max" json:"max"`
	Mean    float64 `cbor:"mean" json:"mean"`
	Defined bool    `cbor:"defined" json:"defined"`
}

// DisplayFrame is pushed to websocket clients as a binary CBOR message.
// Data is an RFC 8746 multi-dimensional float64 array; NaN marks cells
// outside the active region.
type DisplayFrame struct {
	Type       string                `cbor:"type"`
	Timestamp  float64               `cbor:"timestamp"`
	Rows       int                   `cbor:"rows"`
	Cols       int                   `cbor:"cols"`
	Data       cbor.Tag              `cbor:"data"`
	Polygon    []Point               `cbor:"polygon"`
	Active     bool                  `cbor:"polygon_active"`
	MidRow     int                   `cbor:"mid_row"`
	MidCol     int                   `cbor:"mid_col"`
	Quadrants  [2][2]QuadrantSummary `cbor:"quadrants"`
	Hover      *Point                `cbor:"hover,omitempty"`
	Recording  bool                  `cbor:"recording"`
	FrameCount int                   `cbor:"frame_count"`
}

// SeriesSnapshot carries the mean temperature series for the chart view.
type SeriesSnapshot struct {
	Type           string    `cbor:"type"`
	Times          []float64 `cbor:"times"`
	Values         []float64 `cbor:"values"`
	CumulativeHeat float64   `cbor:"cumulative_heat"`
}
