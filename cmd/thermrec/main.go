package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"thermrec-go/internal/calibration"
	"thermrec-go/internal/camera"
	"thermrec-go/internal/catalog"
	"thermrec-go/internal/config"
	"thermrec-go/internal/ingest"
	"thermrec-go/internal/metrics"
	"thermrec-go/internal/output"
	"thermrec-go/internal/pipeline"
	"thermrec-go/internal/roi"
	"thermrec-go/internal/server"
	"thermrec-go/internal/simulator"
)

func main() {
	defaults := config.Default()
	var (
		configPath     = flag.String("config", "", "YAML config file; flags given explicitly override it")
		port           = flag.Int("port", defaults.Port, "HTTP port for the web UI")
		source         = flag.String("source", defaults.Source, "Frame source: sim, lepton or bridge")
		endpoint       = flag.String("endpoint", defaults.Endpoint, "ZMQ endpoint of the camera bridge")
		spiName        = flag.String("spi", defaults.SPI, "SPI port for the lepton source")
		i2cName        = flag.String("i2c", defaults.I2C, "I2C bus for the lepton source")
		trimRows       = flag.Int("trim-rows", defaults.TrimRows, "Telemetry rows dropped from the bottom of each frame")
		simRate        = flag.Float64("sim-rate", defaults.SimRate, "Simulated frame rate (frames/sec)")
		recordInterval = flag.Duration("record-interval", defaults.RecordInterval, "Interval between recorded frames")
		recordMode     = flag.String("record-mode", defaults.RecordMode, "Recording mode: frame or values")
		outputDir      = flag.String("output-dir", defaults.OutputDir, "Directory for recordings")
		catalogPath    = flag.String("catalog", defaults.CatalogPath, "SQLite session catalog; empty disables it")
		uiRate         = flag.Duration("ui-rate", defaults.UIRate, "UI update interval for websocket clients")
		cameraURL      = flag.String("camera-url", defaults.CameraURL, "Base URL of the camera node map; empty skips calibration upload")
		calFile        = flag.String("calibration-file", defaults.CalibrationFile, "Calibration parameter file uploaded at start")
		logEvery       = flag.Int("log-every", defaults.LogEvery, "Log every Nth acquisition error")
	)
	flag.Parse()

	cfg := defaults
	if *configPath != "" {
		if err := config.LoadFile(*configPath, &cfg); err != nil {
			log.Fatalf("load config: %v", err)
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "source":
			cfg.Source = *source
		case "endpoint":
			cfg.Endpoint = *endpoint
		case "spi":
			cfg.SPI = *spiName
		case "i2c":
			cfg.I2C = *i2cName
		case "trim-rows":
			cfg.TrimRows = *trimRows
		case "sim-rate":
			cfg.SimRate = *simRate
		case "record-interval":
			cfg.RecordInterval = *recordInterval
		case "record-mode":
			cfg.RecordMode = *recordMode
		case "output-dir":
			cfg.OutputDir = *outputDir
		case "catalog":
			cfg.CatalogPath = *catalogPath
		case "ui-rate":
			cfg.UIRate = *uiRate
		case "camera-url":
			cfg.CameraURL = *cameraURL
		case "calibration-file":
			cfg.CalibrationFile = *calFile
		case "log-every":
			cfg.LogEvery = *logEvery
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("thermrec: %v", err)
	}
}

func run(ctx context.Context, cfg config.AppConfig) error {
	m := metrics.New()

	var journal output.Journal
	var store *catalog.Store
	if cfg.CatalogPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.CatalogPath), 0o755); err != nil {
			return err
		}
		s, err := catalog.New(cfg.CatalogPath)
		if err != nil {
			return err
		}
		defer s.Close()
		if n, err := s.MarkInterrupted(time.Now()); err != nil {
			log.Printf("catalog: %v", err)
		} else if n > 0 {
			log.Printf("catalog: marked %d unfinished sessions as interrupted", n)
		}
		store, journal = s, s
	}

	recorder, err := output.NewRecorder(cfg.OutputDir, cfg.Display, journal)
	if err != nil {
		return err
	}
	mode, err := output.ParseMode(cfg.RecordMode)
	if err != nil {
		return err
	}

	events := make(chan roi.Event, cfg.EventQueue)
	commands := make(chan pipeline.Command, 4)
	bufs := pipeline.NewBuffers(cfg.FrameBuffer, cfg.RegionBuffer, cfg.SeriesBuffer)

	var pipe *pipeline.Pipeline
	hooks := server.Hooks{
		Config: func() map[string]any {
			return map[string]any{
				"display_width":  cfg.Display.Width,
				"display_height": cfg.Display.Height,
				"record_mode":    cfg.RecordMode,
				"port":           cfg.Port,
			}
		},
		Status: func() map[string]any {
			info, on := recorder.Status()
			status := map[string]any{
				"recording": on,
				"polygon":   pipe.Polygon(),
				"frames":    bufs.Frames.Len(),
			}
			if on {
				status["session"] = map[string]any{
					"id":     info.ID.String(),
					"path":   info.Path,
					"mode":   info.Mode.String(),
					"frames": info.Frames,
				}
			}
			return status
		},
		Snapshot: func() any {
			if latest := pipe.Latest(); latest != nil {
				return latest
			}
			return nil
		},
	}
	if store != nil {
		hooks.Sessions = func(limit int) (any, error) {
			return store.List(limit)
		}
	}
	srv := server.New(events, commands, m, hooks)

	src := newSource(cfg)
	pipe = pipeline.New(src, bufs, recorder, srv, m, events, commands, pipeline.Options{
		Calibration:    cfg.Calibration,
		Display:        cfg.Display,
		Polygon:        roi.Polygon(cfg.Polygon),
		RecordMode:     mode,
		RecordInterval: cfg.RecordInterval,
		UIRate:         cfg.UIRate,
		StatsInterval:  cfg.StatsInterval,
		HeatBaseTemp:   cfg.HeatBaseTemp,
		LogEvery:       cfg.LogEvery,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pipe.Run(ctx) })
	g.Go(func() error { return srv.Run(ctx, cfg.Port) })
	if cfg.CameraURL != "" {
		nm := &calibration.HTTPNodeMap{
			BaseURL:    cfg.CameraURL,
			APIVersion: cfg.CameraAPI,
			Module:     cfg.CameraModule,
			Client:     &http.Client{Timeout: 5 * time.Second},
		}
		g.Go(func() error {
			uploadCalibration(ctx, nm, cfg.CalibrationFile)
			calibration.PollTemperature(ctx, nm, cfg.TemperaturePoll, func(v float64, err error) {
				if err != nil {
					log.Printf("calibration: device temperature: %v", err)
					return
				}
				m.SetDeviceTemperature(v)
			})
			return nil
		})
	}
	log.Printf("thermrec: source %s, recordings in %s", cfg.Source, cfg.OutputDir)
	return g.Wait()
}

func newSource(cfg config.AppConfig) camera.Source {
	switch cfg.Source {
	case config.SourceLepton:
		return &camera.Lepton{SPIName: cfg.SPI, I2CName: cfg.I2C, TrimRows: cfg.TrimRows}
	case config.SourceBridge:
		return &ingest.Bridge{Endpoint: cfg.Endpoint, TrimRows: cfg.TrimRows, LogEvery: cfg.LogEvery}
	default:
		return camera.NewDeviceSource(simulator.New(cfg.SimWidth, cfg.SimHeight, cfg.SimRate, cfg.SimSeed), cfg.TrimRows)
	}
}

// uploadCalibration writes the default parameters, overlaid with the file
// if one is given. Failures are logged per parameter and never stop the run.
func uploadCalibration(ctx context.Context, nm calibration.NodeMap, path string) {
	params := calibration.Defaults()
	if path != "" {
		parsed, errs := calibration.ParseFile(path)
		for _, err := range errs {
			log.Printf("calibration: %v", err)
		}
		params = calibration.Merge(params, parsed)
	}
	res := calibration.Apply(ctx, nm, params)
	if !res.OK() {
		log.Printf("calibration: %d of %d parameters failed", len(res.Failed), len(params))
		return
	}
	log.Printf("calibration: applied %d parameters", len(res.Applied))
}
