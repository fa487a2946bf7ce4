package roi

import (
	"math"

	"thermrec-go/internal/types"
)

// Mask is a boolean grid in sensor space. The zero value is the inactive
// mask, meaning "use the whole frame".
type Mask struct {
	Rows   int
	Cols   int
	Cells  []bool
	active bool
}

func Inactive() Mask {
	return Mask{}
}

func (m Mask) Active() bool {
	return m.active
}

// Count returns the number of selected cells.
func (m Mask) Count() int {
	n := 0
	for _, in := range m.Cells {
		if in {
			n++
		}
	}
	return n
}

// Fits reports whether the mask is active and shaped like frame.
func (m Mask) Fits(frame types.Frame) bool {
	return m.active && m.Rows == frame.Rows && m.Cols == frame.Cols && len(frame.Pix) == len(m.Cells)
}

func (m Mask) Equal(o Mask) bool {
	if m.active != o.active || m.Rows != o.Rows || m.Cols != o.Cols || len(m.Cells) != len(o.Cells) {
		return false
	}
	for i := range m.Cells {
		if m.Cells[i] != o.Cells[i] {
			return false
		}
	}
	return true
}

type vertex struct {
	x, y float64
}

// Build rasterizes the polygon into a sensor-sized mask. Points are scaled
// per axis by sensor/display and rounded to the nearest cell corner. A cell
// is selected when its centre lies inside the polygon by the even-odd rule;
// edges are half-open so a centre on a horizontal boundary is counted once.
func Build(points Polygon, display, sensor types.Size) Mask {
	if !points.Active() {
		return Inactive()
	}
	if display.Width <= 0 || display.Height <= 0 || sensor.Width <= 0 || sensor.Height <= 0 {
		return Inactive()
	}

	sx := float64(sensor.Width) / float64(display.Width)
	sy := float64(sensor.Height) / float64(display.Height)
	verts := make([]vertex, len(points))
	for i, p := range points {
		verts[i] = vertex{
			x: math.Round(float64(p.X) * sx),
			y: math.Round(float64(p.Y) * sy),
		}
	}

	m := Mask{
		Rows:   sensor.Height,
		Cols:   sensor.Width,
		Cells:  make([]bool, sensor.Width*sensor.Height),
		active: true,
	}
	for r := 0; r < m.Rows; r++ {
		cy := float64(r) + 0.5
		for c := 0; c < m.Cols; c++ {
			m.Cells[r*m.Cols+c] = inside(verts, float64(c)+0.5, cy)
		}
	}
	return m
}

func inside(verts []vertex, x, y float64) bool {
	in := false
	j := len(verts) - 1
	for i := range verts {
		a, b := verts[i], verts[j]
		if (a.y > y) != (b.y > y) {
			cross := a.x + (y-a.y)*(b.x-a.x)/(b.y-a.y)
			if x < cross {
				in = !in
			}
		}
		j = i
	}
	return in
}
