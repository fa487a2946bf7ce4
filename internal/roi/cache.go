package roi

import "thermrec-go/internal/types"

// Cache holds the mask of the last polygon/shape combination and rebuilds it
// only when one of them changes.
type Cache struct {
	polygon  Polygon
	display  types.Size
	sensor   types.Size
	mask     Mask
	valid    bool
	rebuilds int
}

// Mask returns the mask for points over a frame of the given shape.
func (c *Cache) Mask(points Polygon, display types.Size, frame types.Frame) Mask {
	sensor := types.Size{Width: frame.Cols, Height: frame.Rows}
	if c.valid && c.display == display && c.sensor == sensor && c.polygon.Equal(points) {
		return c.mask
	}
	c.polygon = points.Clone()
	c.display = display
	c.sensor = sensor
	c.mask = Build(points, display, sensor)
	c.valid = true
	c.rebuilds++
	return c.mask
}

// Rebuilds counts how many masks the cache has built.
func (c *Cache) Rebuilds() int {
	return c.rebuilds
}
