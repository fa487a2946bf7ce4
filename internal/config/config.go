package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"thermrec-go/internal/processing"
	"thermrec-go/internal/types"
)

const (
	SourceSimulator = "sim"
	SourceLepton    = "lepton"
	SourceBridge    = "bridge"
)

type AppConfig struct {
	Port int `yaml:"port"`

	Source   string `yaml:"source"`
	Endpoint string `yaml:"endpoint"`
	SPI      string `yaml:"spi"`
	I2C      string `yaml:"i2c"`
	TrimRows int    `yaml:"trim_rows"`
	LogEvery int    `yaml:"log_every"`

	SimWidth  int     `yaml:"sim_width"`
	SimHeight int     `yaml:"sim_height"`
	SimRate   float64 `yaml:"sim_rate"`
	SimSeed   int64   `yaml:"sim_seed"`

	Calibration processing.Calibration `yaml:"calibration"`
	Display     types.Size             `yaml:"display"`
	Polygon     []types.Point          `yaml:"polygon"`

	FrameBuffer  int `yaml:"frame_buffer"`
	RegionBuffer int `yaml:"region_buffer"`
	SeriesBuffer int `yaml:"series_buffer"`
	EventQueue   int `yaml:"event_queue"`

	RecordInterval time.Duration `yaml:"record_interval"`
	RecordMode     string        `yaml:"record_mode"`
	OutputDir      string        `yaml:"output_dir"`
	CatalogPath    string        `yaml:"catalog"`

	UIRate        time.Duration `yaml:"ui_rate"`
	StatsInterval time.Duration `yaml:"stats_interval"`
	HeatBaseTemp  float64       `yaml:"heat_base_temp"`

	CameraURL       string        `yaml:"camera_url"`
	CameraAPI       string        `yaml:"camera_api_version"`
	CameraModule    string        `yaml:"camera_module"`
	CalibrationFile string        `yaml:"calibration_file"`
	TemperaturePoll time.Duration `yaml:"temperature_poll"`
}

func Default() AppConfig {
	return AppConfig{
		Port:            8888,
		Source:          SourceSimulator,
		Endpoint:        "tcp://localhost:31001",
		TrimRows:        1,
		LogEvery:        100,
		SimWidth:        160,
		SimHeight:       129,
		SimRate:         9,
		SimSeed:         1,
		Calibration:     processing.DefaultCalibration,
		Display:         types.Size{Width: 640, Height: 512},
		FrameBuffer:     10,
		RegionBuffer:    10,
		SeriesBuffer:    2000,
		EventQueue:      64,
		RecordInterval:  time.Second,
		RecordMode:      "frame",
		OutputDir:       "recordings",
		CatalogPath:     "recordings/catalog.db",
		UIRate:          200 * time.Millisecond,
		StatsInterval:   time.Second,
		HeatBaseTemp:    25,
		CameraModule:    "camera",
		CameraAPI:       "1.0",
		TemperaturePoll: 10 * time.Second,
	}
}

// LoadFile overlays the YAML file at path on cfg. Keys missing from the file
// keep their current value.
func LoadFile(path string, cfg *AppConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.Wrapf(err, "parse %s", path)
	}
	return nil
}

func (c AppConfig) Validate() error {
	switch c.Source {
	case SourceSimulator, SourceLepton, SourceBridge:
	default:
		return errors.Errorf("unknown source %q", c.Source)
	}
	if c.Source == SourceBridge && c.Endpoint == "" {
		return errors.New("bridge source needs an endpoint")
	}
	if c.Source == SourceSimulator && (c.SimWidth < 1 || c.SimHeight <= c.TrimRows || c.SimRate <= 0) {
		return errors.Errorf("bad simulator geometry %dx%d at %v Hz", c.SimWidth, c.SimHeight, c.SimRate)
	}
	if c.Port < 0 || c.Port > 65535 {
		return errors.Errorf("bad port %d", c.Port)
	}
	if c.TrimRows < 0 {
		return errors.Errorf("bad trim_rows %d", c.TrimRows)
	}
	if c.Calibration.Scale == 0 {
		return errors.New("calibration scale must not be zero")
	}
	if c.Display.Width < 1 || c.Display.Height < 1 {
		return errors.Errorf("bad display size %dx%d", c.Display.Width, c.Display.Height)
	}
	if c.FrameBuffer < 1 || c.RegionBuffer < 1 || c.SeriesBuffer < 1 || c.EventQueue < 1 {
		return errors.New("buffer sizes must be positive")
	}
	if c.RecordInterval <= 0 || c.UIRate <= 0 || c.StatsInterval <= 0 {
		return errors.New("intervals must be positive")
	}
	if c.RecordMode != "frame" && c.RecordMode != "values" {
		return errors.Errorf("unknown record_mode %q", c.RecordMode)
	}
	if c.OutputDir == "" {
		return errors.New("output_dir is required")
	}
	if c.CameraURL != "" && c.TemperaturePoll <= 0 {
		return errors.New("temperature_poll must be positive when camera_url is set")
	}
	return nil
}
