package roi

import (
	"log"
	"math"

	"thermrec-go/internal/types"
)

type EventKind string

const (
	EventAdd    EventKind = "point"
	EventRemove EventKind = "remove_point"
	EventUndo   EventKind = "undo"
	EventClear  EventKind = "clear"
	EventHover  EventKind = "hover"
)

// Event is one polygon edit coming from the UI.
type Event struct {
	Kind  EventKind   `json:"type"`
	Point types.Point `json:"point"`
}

// Editor owns the polygon being drawn. It is not safe for concurrent use;
// edits reach it through a queue drained by the loop that owns it.
type Editor struct {
	points Polygon
	hover  *types.Point
}

func NewEditor(initial Polygon) *Editor {
	e := &Editor{}
	for _, p := range initial {
		if err := e.Add(p); err != nil {
			break
		}
	}
	return e
}

func (e *Editor) Add(p types.Point) error {
	if len(e.points) >= MaxPoints {
		return ErrTooManyPoints
	}
	e.points = append(e.points, p)
	return nil
}

// RemoveNearest drops the point closest to p if it lies within radius.
func (e *Editor) RemoveNearest(p types.Point, radius float64) bool {
	best := -1
	bestDist := math.Inf(1)
	for i, q := range e.points {
		d := math.Hypot(float64(q.X-p.X), float64(q.Y-p.Y))
		if d <= radius && d < bestDist {
			best = i
			bestDist = d
		}
	}
	if best < 0 {
		return false
	}
	e.points = append(e.points[:best], e.points[best+1:]...)
	return true
}

func (e *Editor) Undo() bool {
	if len(e.points) == 0 {
		return false
	}
	e.points = e.points[:len(e.points)-1]
	return true
}

func (e *Editor) Clear() {
	e.points = nil
}

// Polygon returns a snapshot that later edits do not affect.
func (e *Editor) Polygon() Polygon {
	return e.points.Clone()
}

func (e *Editor) Hover() *types.Point {
	if e.hover == nil {
		return nil
	}
	p := *e.hover
	return &p
}

// Apply performs one event and reports whether the polygon changed.
func (e *Editor) Apply(ev Event) bool {
	switch ev.Kind {
	case EventAdd:
		if err := e.Add(ev.Point); err != nil {
			log.Printf("roi: %v", err)
			return false
		}
		return true
	case EventRemove:
		return e.RemoveNearest(ev.Point, PickRadius)
	case EventUndo:
		return e.Undo()
	case EventClear:
		changed := len(e.points) > 0
		e.Clear()
		return changed
	case EventHover:
		p := ev.Point
		e.hover = &p
		return false
	default:
		log.Printf("roi: unknown event %q", ev.Kind)
		return false
	}
}

// Drain applies every event already queued without blocking. It returns
// whether the polygon changed.
func (e *Editor) Drain(events <-chan Event) bool {
	changed := false
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return changed
			}
			if e.Apply(ev) {
				changed = true
			}
		default:
			return changed
		}
	}
}
