// Package camera defines where frames come from.
package camera

import (
	"context"
	"image"
	"io"
	"time"

	"github.com/pkg/errors"
	"periph.io/x/periph/devices/lepton"
	"periph.io/x/periph/devices/lepton/image14bit"

	"thermrec-go/internal/types"
)

var ErrNotStarted = errors.New("camera: acquisition not started")

// Source produces raw frames. Begin and End bracket an acquisition; NextFrame
// blocks until a frame is available or ctx is done.
type Source interface {
	Begin(ctx context.Context) error
	NextFrame(ctx context.Context) (types.RawFrame, error)
	End() error
}

// Device is the frame-reading half of a periph Lepton. The simulator
// implements it too.
type Device interface {
	NextFrame(img *lepton.Frame) error
	Bounds() image.Rectangle
}

// DeviceSource turns a Device into a Source. The first TrimRows rows of
// every frame are dropped.
type DeviceSource struct {
	dev      Device
	trimRows int
	img      *lepton.Frame
	now      func() time.Time
}

func NewDeviceSource(dev Device, trimRows int) *DeviceSource {
	if trimRows < 0 {
		trimRows = 0
	}
	return &DeviceSource{dev: dev, trimRows: trimRows, now: time.Now}
}

func (s *DeviceSource) Begin(ctx context.Context) error {
	b := s.dev.Bounds()
	if b.Dy() <= s.trimRows || b.Dx() == 0 {
		return errors.Errorf("camera: %v frame leaves nothing after trimming %d rows", b, s.trimRows)
	}
	s.img = &lepton.Frame{Gray14: image14bit.NewGray14(b)}
	return nil
}

func (s *DeviceSource) NextFrame(ctx context.Context) (types.RawFrame, error) {
	if err := ctx.Err(); err != nil {
		return types.RawFrame{}, err
	}
	if s.img == nil {
		return types.RawFrame{}, ErrNotStarted
	}
	if err := s.dev.NextFrame(s.img); err != nil {
		return types.RawFrame{}, errors.Wrap(err, "read frame")
	}
	return toRaw(s.img, s.trimRows, s.now()), nil
}

func (s *DeviceSource) End() error {
	s.img = nil
	if c, ok := s.dev.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func toRaw(img *lepton.Frame, trimRows int, ts time.Time) types.RawFrame {
	b := img.Bounds()
	rows := b.Dy() - trimRows
	cols := b.Dx()
	out := types.RawFrame{Rows: rows, Cols: cols, Pix: make([]uint16, 0, rows*cols), Timestamp: ts}
	for y := b.Min.Y + trimRows; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Pix = append(out.Pix, uint16(img.Intensity14At(x, y)))
		}
	}
	return out
}
