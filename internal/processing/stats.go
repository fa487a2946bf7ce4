package processing

import (
	"math"

	"golang.org/x/exp/constraints"
)

// Stat summarizes a set of values. Defined is false when the set had no
// usable value, in which case Min, Max and Mean are meaningless.
type Stat struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Mean    float64 `json:"mean"`
	Count   int     `json:"count"`
	Defined bool    `json:"defined"`
}

// Summarize ignores NaN values.
func Summarize[T constraints.Integer | constraints.Float](values []T) Stat {
	var s Stat
	sum := 0.0
	for _, value := range values {
		v := float64(value)
		if math.IsNaN(v) {
			continue
		}
		if s.Count == 0 {
			s.Min = v
			s.Max = v
		} else {
			if v < s.Min {
				s.Min = v
			}
			if v > s.Max {
				s.Max = v
			}
		}
		sum += v
		s.Count++
	}
	if s.Count > 0 {
		s.Mean = sum / float64(s.Count)
		s.Defined = true
	}
	return s
}
