package roi

import (
	"github.com/pkg/errors"

	"thermrec-go/internal/types"
)

const (
	// MinPoints is the smallest polygon that selects a region.
	MinPoints = 4
	// MaxPoints caps the editor.
	MaxPoints = 10
	// PickRadius is how far, in display pixels, a removal click may land
	// from the point it removes.
	PickRadius = 10
)

var ErrTooManyPoints = errors.Errorf("polygon already has %d points", MaxPoints)

// Polygon is an ordered list of display-space points. It is closed
// implicitly from the last point back to the first.
type Polygon []types.Point

// Active reports whether the polygon has a usable number of points.
func (p Polygon) Active() bool {
	return len(p) >= MinPoints && len(p) <= MaxPoints
}

func (p Polygon) Clone() Polygon {
	if p == nil {
		return nil
	}
	return append(Polygon(nil), p...)
}

func (p Polygon) Equal(o Polygon) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}
