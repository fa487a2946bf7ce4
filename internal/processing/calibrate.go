package processing

import "thermrec-go/internal/types"

// Calibration is the linear count-to-temperature transform of one camera
// calibration: temperature = Scale*raw - Offset.
type Calibration struct {
	Scale  float64 `yaml:"scale" json:"scale"`
	Offset float64 `yaml:"offset" json:"offset"`
}

// DefaultCalibration was fitted against a blackbody for the 25mm lens,
// 35°C to 150°C range.
var DefaultCalibration = Calibration{Scale: 0.0130303, Offset: 62.4242}

// ToTemperature maps every count to °C. An empty frame converts to an empty
// frame.
func ToTemperature(raw types.RawFrame, cal Calibration) types.Frame {
	if raw.Empty() {
		return types.Frame{Timestamp: raw.Timestamp}
	}
	out := types.Frame{
		Rows:      raw.Rows,
		Cols:      raw.Cols,
		Pix:       make([]float64, len(raw.Pix)),
		Timestamp: raw.Timestamp,
	}
	for i, v := range raw.Pix {
		out.Pix[i] = cal.Scale*float64(v) - cal.Offset
	}
	return out
}
