package processing

import (
	"math"
	"time"

	"thermrec-go/internal/types"
)

// HeatIntegrator accumulates the heat above BaseTemp over time. Each Add is
// one timestep of Timestep length. Only the running Simpson sum and the last
// two samples are kept.
type HeatIntegrator struct {
	BaseTemp float64
	Timestep time.Duration

	steps  int
	closed float64 // Simpson sum over samples 0..2k, in units of dx/3
	prev   [2]float64
}

// Add records the mean of max(T-BaseTemp, 0) over the frame's cells and
// returns it. NaN cells are ignored; a frame without data records 0.
func (h *HeatIntegrator) Add(frame types.Frame) float64 {
	sum := 0.0
	n := 0
	for _, v := range frame.Pix {
		if math.IsNaN(v) {
			continue
		}
		sum += math.Max(v-h.BaseTemp, 0)
		n++
	}
	avg := 0.0
	if n > 0 {
		avg = sum / float64(n)
	}
	if h.steps >= 2 && h.steps%2 == 0 {
		h.closed += h.prev[0] + 4*h.prev[1] + avg
	}
	h.prev[0], h.prev[1] = h.prev[1], avg
	h.steps++
	return avg
}

func (h *HeatIntegrator) Steps() int {
	return h.steps
}

// Cumulative integrates the recorded history in °C·s with the composite
// Simpson rule. An even number of samples closes the last interval with the
// trapezoid rule. Fewer than two samples integrate to 0.
func (h *HeatIntegrator) Cumulative() float64 {
	if h.steps < 2 {
		return 0
	}
	dx := h.Timestep.Seconds()
	total := dx / 3 * h.closed
	if h.steps%2 == 0 {
		total += dx / 2 * (h.prev[0] + h.prev[1])
	}
	return total
}
