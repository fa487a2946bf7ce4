package camera

import (
	"context"
	"image"
	"testing"

	"github.com/pkg/errors"
	"periph.io/x/periph/devices/lepton"
	"periph.io/x/periph/devices/lepton/image14bit"
)

type rampDevice struct {
	bounds image.Rectangle
	calls  int
	closed bool
	err    error
}

func (d *rampDevice) Bounds() image.Rectangle { return d.bounds }

func (d *rampDevice) NextFrame(img *lepton.Frame) error {
	d.calls++
	if d.err != nil {
		return d.err
	}
	for y := d.bounds.Min.Y; y < d.bounds.Max.Y; y++ {
		for x := d.bounds.Min.X; x < d.bounds.Max.X; x++ {
			img.SetIntensity14(x, y, image14bit.Intensity14(y*100+x))
		}
	}
	return nil
}

func (d *rampDevice) Close() error {
	d.closed = true
	return nil
}

func TestDeviceSourceTrimsTelemetryRow(t *testing.T) {
	dev := &rampDevice{bounds: image.Rect(0, 0, 3, 3)}
	src := NewDeviceSource(dev, 1)
	ctx := context.Background()

	if _, err := src.NextFrame(ctx); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	if err := src.Begin(ctx); err != nil {
		t.Fatalf("begin: %v", err)
	}
	raw, err := src.NextFrame(ctx)
	if err != nil {
		t.Fatalf("next frame: %v", err)
	}
	want := []uint16{100, 101, 102, 200, 201, 202}
	if raw.Rows != 2 || raw.Cols != 3 {
		t.Fatalf("unexpected shape %dx%d", raw.Rows, raw.Cols)
	}
	for i := range want {
		if raw.Pix[i] != want[i] {
			t.Fatalf("got %v, want %v", raw.Pix, want)
		}
	}
	if raw.Timestamp.IsZero() {
		t.Fatalf("missing timestamp")
	}
	if err := src.End(); err != nil || !dev.closed {
		t.Fatalf("end: %v closed=%v", err, dev.closed)
	}
}

func TestDeviceSourceErrors(t *testing.T) {
	ctx := context.Background()
	if err := NewDeviceSource(&rampDevice{bounds: image.Rect(0, 0, 4, 1)}, 1).Begin(ctx); err == nil {
		t.Fatalf("trimming every row should fail")
	}

	boom := errors.New("spi timeout")
	src := NewDeviceSource(&rampDevice{bounds: image.Rect(0, 0, 2, 2), err: boom}, 0)
	if err := src.Begin(ctx); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := src.NextFrame(ctx); !errors.Is(err, boom) {
		t.Fatalf("expected the device error, got %v", err)
	}
}
