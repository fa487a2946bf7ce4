package camera

import (
	"context"
	"log"

	"github.com/pkg/errors"
	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"
	"periph.io/x/periph/devices/lepton"
	"periph.io/x/periph/host"

	"thermrec-go/internal/types"
)

// Lepton reads a FLIR Lepton over SPI (video) and I²C (control). Empty bus
// names pick the first bus found.
type Lepton struct {
	SPIName  string
	I2CName  string
	TrimRows int

	spiBus spi.PortCloser
	i2cBus i2c.BusCloser
	dev    *lepton.Dev
	src    *DeviceSource
}

func (l *Lepton) Begin(ctx context.Context) error {
	if _, err := host.Init(); err != nil {
		return errors.Wrap(err, "periph host init")
	}
	spiBus, err := spireg.Open(l.SPIName)
	if err != nil {
		return errors.Wrapf(err, "open spi %q", l.SPIName)
	}
	i2cBus, err := i2creg.Open(l.I2CName)
	if err != nil {
		spiBus.Close()
		return errors.Wrapf(err, "open i2c %q", l.I2CName)
	}
	dev, err := lepton.New(spiBus, i2cBus)
	if err != nil {
		i2cBus.Close()
		spiBus.Close()
		return errors.Wrap(err, "open lepton")
	}
	l.spiBus, l.i2cBus, l.dev = spiBus, i2cBus, dev
	l.src = NewDeviceSource(dev, l.TrimRows)
	log.Printf("camera: lepton %v on spi %q i2c %q", dev.Bounds(), l.SPIName, l.I2CName)
	return l.src.Begin(ctx)
}

func (l *Lepton) NextFrame(ctx context.Context) (types.RawFrame, error) {
	if l.src == nil {
		return types.RawFrame{}, ErrNotStarted
	}
	return l.src.NextFrame(ctx)
}

func (l *Lepton) End() error {
	if l.dev == nil {
		return nil
	}
	var first error
	if err := l.dev.Halt(); err != nil {
		first = errors.Wrap(err, "halt lepton")
	}
	if err := l.i2cBus.Close(); err != nil && first == nil {
		first = err
	}
	if err := l.spiBus.Close(); err != nil && first == nil {
		first = err
	}
	l.dev, l.src = nil, nil
	return first
}

var _ Source = (*Lepton)(nil)
var _ Source = (*DeviceSource)(nil)
