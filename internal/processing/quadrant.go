package processing

import "thermrec-go/internal/types"

// Quadrants holds a frame split at MidRow/MidCol, in the order top-left,
// top-right, bottom-left, bottom-right.
type Quadrants struct {
	Q      [4]types.Frame
	MidRow int
	MidCol int
}

// QuadrantStats is laid out as [[Q1, Q2], [Q3, Q4]].
type QuadrantStats [2][2]Stat

// Split cuts the frame at rows/2 and cols/2. With an odd dimension the extra
// row goes to the bottom quadrants and the extra column to the right ones.
func Split(frame types.Frame) Quadrants {
	midRow := frame.Rows / 2
	midCol := frame.Cols / 2
	q := Quadrants{MidRow: midRow, MidCol: midCol}
	q.Q[0] = sub(frame, 0, midRow, 0, midCol)
	q.Q[1] = sub(frame, 0, midRow, midCol, frame.Cols)
	q.Q[2] = sub(frame, midRow, frame.Rows, 0, midCol)
	q.Q[3] = sub(frame, midRow, frame.Rows, midCol, frame.Cols)
	return q
}

// Statistics summarizes each quadrant. A quadrant without cells, or with
// only NaN cells, is reported with Defined == false.
func Statistics(q Quadrants) QuadrantStats {
	var out QuadrantStats
	for i := range q.Q {
		out[i/2][i%2] = Summarize(q.Q[i].Pix)
	}
	return out
}

func sub(frame types.Frame, r0, r1, c0, c1 int) types.Frame {
	rows := r1 - r0
	cols := c1 - c0
	if rows < 0 {
		rows = 0
	}
	if cols < 0 {
		cols = 0
	}
	out := types.Frame{Rows: rows, Cols: cols, Pix: make([]float64, 0, rows*cols), Timestamp: frame.Timestamp}
	for r := r0; r < r1; r++ {
		out.Pix = append(out.Pix, frame.Pix[r*frame.Cols+c0:r*frame.Cols+c1]...)
	}
	return out
}
