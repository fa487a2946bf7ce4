// Package simulator fakes a thermal camera so the pipeline can run without
// hardware.
package simulator

import (
	"image"
	"math"
	"math/rand"
	"sync"
	"time"

	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/devices/lepton"
	"periph.io/x/periph/devices/lepton/image14bit"
)

// Camera renders a warm spot over an ambient background and drifts a few
// point sources around it. Counts map to roughly 25°C ambient and 90°C at the
// spot centre under the default calibration.
type Camera struct {
	mu       sync.Mutex
	width    int
	height   int
	interval time.Duration
	rand     *rand.Rand
	base     []float64
	vectors  []vector
	frames   uint32
	last     time.Time
	sleep    func(time.Duration)
}

type vector struct {
	intensity float64
	x         float64
	y         float64
}

const (
	ambientCounts = 6700
	spotCounts    = 4980
	maxCounts     = 1<<14 - 1
)

// New returns a camera producing width x height frames at rate Hz. The same
// seed produces the same sequence.
func New(width, height int, rate float64, seed int64) *Camera {
	if rate <= 0 {
		rate = 9
	}
	c := &Camera{
		width:    width,
		height:   height,
		interval: time.Duration(float64(time.Second) / rate),
		rand:     rand.New(rand.NewSource(seed)),
		base:     make([]float64, width*height),
		sleep:    time.Sleep,
	}

	centerX := float64(width) / 2.0
	centerY := float64(height) / 2.0
	spread := float64(width*height) / 20
	for i := range c.base {
		dx := float64(i%width) - centerX
		dy := float64(i/width) - centerY
		c.base[i] = ambientCounts + spotCounts*math.Exp(-(dx*dx+dy*dy)/spread)
	}

	c.vectors = make([]vector, 10)
	for i := range c.vectors {
		c.vectors[i].intensity = c.rand.NormFloat64() * 300
		c.vectors[i].x = c.rand.NormFloat64()*float64(width)/6 + centerX
		c.vectors[i].y = c.rand.NormFloat64()*float64(height)/6 + centerY
	}
	return c
}

func (c *Camera) Bounds() image.Rectangle {
	return image.Rect(0, 0, c.width, c.height)
}

// NextFrame paces itself to the configured rate.
func (c *Camera) NextFrame(img *lepton.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.last.IsZero() {
		if wait := c.interval - time.Since(c.last); wait > 0 {
			c.sleep(wait)
		}
	}
	c.last = time.Now()

	if img.Gray14 == nil || img.Bounds() != c.Bounds() {
		img.Gray14 = image14bit.NewGray14(c.Bounds())
	}
	c.frames++
	img.Metadata.FrameCount = c.frames
	img.Metadata.Temp = physic.ZeroCelsius + 30*physic.Celsius
	c.update()
	c.render(img)
	return nil
}

func (c *Camera) update() {
	for i := range c.vectors {
		c.vectors[i].intensity += c.rand.NormFloat64() * 5
		c.vectors[i].x += c.rand.NormFloat64() * 0.3
		c.vectors[i].y += c.rand.NormFloat64() * 0.3
	}
}

func (c *Camera) render(img *lepton.Frame) {
	var sum int64
	for y := 0; y < c.height; y++ {
		fy := float64(y)
		for x := 0; x < c.width; x++ {
			fx := float64(x)
			value := c.base[y*c.width+x] + c.rand.NormFloat64()*8
			for _, v := range c.vectors {
				d := (v.x-fx)*(v.x-fx) + (v.y-fy)*(v.y-fy) + 1
				value += v.intensity / d
			}
			value = math.Max(0, math.Min(maxCounts, value))
			img.SetIntensity14(x, y, image14bit.Intensity14(value))
			sum += int64(value)
		}
	}
	if n := int64(c.width * c.height); n > 0 {
		img.Metadata.AvgValue = uint16(sum / n)
	}
}
