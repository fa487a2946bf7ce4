package simulator

import (
	"context"
	"testing"
	"time"

	"periph.io/x/periph/devices/lepton"

	"thermrec-go/internal/camera"
	"thermrec-go/internal/processing"
)

func TestCameraFrames(t *testing.T) {
	cam := New(32, 25, 1000, 1)
	cam.sleep = func(time.Duration) {}

	var img lepton.Frame
	if err := cam.NextFrame(&img); err != nil {
		t.Fatalf("next frame: %v", err)
	}
	if img.Bounds() != cam.Bounds() {
		t.Fatalf("unexpected bounds %v", img.Bounds())
	}
	if img.Metadata.FrameCount != 1 {
		t.Fatalf("unexpected frame count %d", img.Metadata.FrameCount)
	}
	center := img.Intensity14At(16, 12)
	corner := img.Intensity14At(0, 0)
	if center <= corner {
		t.Fatalf("spot should be warmer than the corner: %d <= %d", center, corner)
	}
}

func TestCameraAsSource(t *testing.T) {
	cam := New(16, 13, 1000, 7)
	cam.sleep = func(time.Duration) {}
	src := camera.NewDeviceSource(cam, 1)
	ctx := context.Background()
	if err := src.Begin(ctx); err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer src.End()

	raw, err := src.NextFrame(ctx)
	if err != nil {
		t.Fatalf("next frame: %v", err)
	}
	if raw.Rows != 12 || raw.Cols != 16 || len(raw.Pix) != 12*16 {
		t.Fatalf("unexpected shape %dx%d", raw.Rows, raw.Cols)
	}
	temps := processing.ToTemperature(raw, processing.DefaultCalibration)
	s := processing.Summarize(temps.Pix)
	if s.Min < -10 || s.Max > 150 {
		t.Fatalf("implausible temperatures: %+v", s)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := src.NextFrame(cancelled); err == nil {
		t.Fatalf("expected an error after cancel")
	}
}
