// Package pipeline runs the long-lived loops between the camera and the
// recorder: acquisition, region extraction and display, recording ticks and
// the temperature series.
package pipeline

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"thermrec-go/internal/camera"
	"thermrec-go/internal/cborarray"
	"thermrec-go/internal/metrics"
	"thermrec-go/internal/output"
	"thermrec-go/internal/processing"
	"thermrec-go/internal/ring"
	"thermrec-go/internal/roi"
	"thermrec-go/internal/types"
)

// Publisher receives display messages. It must not block.
type Publisher interface {
	Broadcast(msg any)
}

// Command is a non-polygon request from the UI.
type Command struct {
	Kind string
	Mode string
}

const CommandRecord = "record"

// Buffers are created by the caller and shared with readers such as the
// display server. Each has exactly one producer loop.
type Buffers struct {
	Raw     *ring.Buffer[types.RawFrame]
	Frames  *ring.Buffer[types.Frame]
	Regions *ring.Buffer[types.Frame]
	Series  *ring.Buffer[types.Sample]
}

func NewBuffers(frames, regions, series int) Buffers {
	return Buffers{
		Raw:     ring.New[types.RawFrame](frames),
		Frames:  ring.New[types.Frame](frames),
		Regions: ring.New[types.Frame](regions),
		Series:  ring.New[types.Sample](series),
	}
}

type Options struct {
	Calibration    processing.Calibration
	Display        types.Size
	Polygon        roi.Polygon
	RecordMode     output.Mode
	RecordInterval time.Duration
	UIRate         time.Duration
	StatsInterval  time.Duration
	HeatBaseTemp   float64
	LogEvery       int
	// RetryDelay is the pause after a failed frame read.
	RetryDelay time.Duration
}

type Pipeline struct {
	src      camera.Source
	bufs     Buffers
	recorder *output.Recorder
	pub      Publisher
	metrics  *metrics.Metrics
	opts     Options

	events   <-chan roi.Event
	commands <-chan Command

	editor  *roi.Editor
	masks   roi.Cache
	heat    processing.HeatIntegrator
	latest  atomic.Pointer[types.DisplayFrame]
	series  atomic.Pointer[types.SeriesSnapshot]
	polygon atomic.Pointer[roi.Polygon]
	logN    atomic.Int64
}

func New(src camera.Source, bufs Buffers, rec *output.Recorder, pub Publisher, m *metrics.Metrics,
	events <-chan roi.Event, commands <-chan Command, opts Options) *Pipeline {
	if opts.LogEvery < 1 {
		opts.LogEvery = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 100 * time.Millisecond
	}
	p := &Pipeline{
		src:      src,
		bufs:     bufs,
		recorder: rec,
		pub:      pub,
		metrics:  m,
		opts:     opts,
		events:   events,
		commands: commands,
		editor:   roi.NewEditor(opts.Polygon),
		heat:     processing.HeatIntegrator{BaseTemp: opts.HeatBaseTemp, Timestep: opts.StatsInterval},
	}
	poly := p.editor.Polygon()
	p.polygon.Store(&poly)
	return p
}

// Run starts the acquisition and blocks until ctx is done or a loop fails.
// A source that cannot begin is an error; later read errors are logged and
// retried.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.src.Begin(ctx); err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.acquireLoop(ctx) })
	g.Go(func() error { return p.regionLoop(ctx) })
	g.Go(func() error { return p.recordLoop(ctx) })
	g.Go(func() error { return p.statsLoop(ctx) })
	err := g.Wait()
	// a record command may have raced the record loop's own close
	if cerr := p.recorder.Close(); cerr != nil {
		log.Printf("pipeline: close recording: %v", cerr)
	}
	return err
}

// Latest returns the last display message, or nil before the first frame.
func (p *Pipeline) Latest() *types.DisplayFrame {
	return p.latest.Load()
}

// LatestSeries returns the last series message, or nil.
func (p *Pipeline) LatestSeries() *types.SeriesSnapshot {
	return p.series.Load()
}

// Polygon returns the polygon as of the last region loop iteration.
func (p *Pipeline) Polygon() roi.Polygon {
	return p.polygon.Load().Clone()
}

func (p *Pipeline) acquireLoop(ctx context.Context) error {
	defer func() {
		if err := p.src.End(); err != nil {
			log.Printf("pipeline: end acquisition: %v", err)
		}
	}()
	for {
		raw, err := p.src.NextFrame(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			p.metrics.AcquireError()
			p.logEveryN("pipeline: acquire: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(p.opts.RetryDelay):
			}
			continue
		}
		if raw.Empty() {
			continue
		}
		start := time.Now()
		p.bufs.Raw.Add(raw)
		p.bufs.Frames.Add(processing.ToTemperature(raw, p.opts.Calibration))
		p.metrics.FrameAcquired(time.Since(start))
	}
}

func (p *Pipeline) regionLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.opts.UIRate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-p.commands:
			p.handleCommand(ctx, cmd)
		case <-ticker.C:
			p.regionTick()
		}
	}
}

func (p *Pipeline) regionTick() {
	if p.editor.Drain(p.events) {
		poly := p.editor.Polygon()
		p.polygon.Store(&poly)
	}
	frame, ok := p.bufs.Frames.Latest()
	if !ok {
		return
	}

	poly := p.editor.Polygon()
	mask := p.masks.Mask(poly, p.opts.Display, frame)
	masked := roi.MaskedFrame(frame, mask)
	if mask.Active() {
		p.bufs.Regions.Add(masked)
	} else {
		p.bufs.Regions.Add(frame)
	}

	q := processing.Split(masked)
	stats := processing.Statistics(q)
	info, recording := p.recorder.Status()
	msg := &types.DisplayFrame{
		Type:       "frame",
		Timestamp:  types.Seconds(frame.Timestamp),
		Rows:       frame.Rows,
		Cols:       frame.Cols,
		Data:       cborarray.EncodeFloat64(masked.Rows, masked.Cols, masked.Pix),
		Polygon:    poly,
		Active:     mask.Active(),
		MidRow:     q.MidRow,
		MidCol:     q.MidCol,
		Hover:      p.editor.Hover(),
		Recording:  recording,
		FrameCount: info.Frames,
	}
	for r := 0; r < 2; r++ {
		for c := 0; c < 2; c++ {
			s := stats[r][c]
			msg.Quadrants[r][c] = types.QuadrantSummary{Min: s.Min, Max: s.Max, Mean: s.Mean, Defined: s.Defined}
		}
	}
	p.latest.Store(msg)
	if p.pub != nil {
		p.pub.Broadcast(msg)
		p.metrics.FrameDisplayed()
	}
}

func (p *Pipeline) handleCommand(ctx context.Context, cmd Command) {
	if ctx.Err() != nil {
		return
	}
	switch cmd.Kind {
	case CommandRecord:
		mode := p.opts.RecordMode
		if cmd.Mode != "" {
			m, err := output.ParseMode(cmd.Mode)
			if err != nil {
				log.Printf("pipeline: %v", err)
				return
			}
			mode = m
		}
		// apply pending edits so the session starts with what the user sees
		p.editor.Drain(p.events)
		info, on, err := p.recorder.Toggle(p.editor.Polygon(), mode)
		if err != nil {
			p.metrics.RecordError()
			log.Printf("pipeline: toggle recording: %v", err)
			return
		}
		p.metrics.SetRecording(on)
		if on {
			p.metrics.SessionStarted()
		} else {
			log.Printf("pipeline: recorded %d frames to %s", info.Frames, info.Path)
		}
	default:
		log.Printf("pipeline: unknown command %q", cmd.Kind)
	}
}

func (p *Pipeline) recordLoop(ctx context.Context) error {
	defer func() {
		if err := p.recorder.Close(); err != nil {
			log.Printf("pipeline: close recording: %v", err)
		}
		p.metrics.SetRecording(false)
	}()
	ticker := time.NewTicker(p.opts.RecordInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.recordTick()
		}
	}
}

func (p *Pipeline) recordTick() {
	if _, recording := p.recorder.Status(); !recording {
		return
	}
	frame, ok := p.bufs.Frames.Latest()
	if !ok {
		p.metrics.RecordSkipped()
		return
	}
	wrote, err := p.recorder.Record(frame)
	switch {
	case err != nil:
		p.metrics.RecordError()
		p.metrics.SetRecording(false)
		log.Printf("pipeline: record: %v", err)
	case wrote:
		p.metrics.FrameRecorded()
	default:
		p.metrics.RecordSkipped()
	}
}

func (p *Pipeline) statsLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.opts.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.statsTick()
		}
	}
}

func (p *Pipeline) statsTick() {
	frame, ok := p.bufs.Regions.Latest()
	if !ok {
		return
	}
	s := processing.Summarize(frame.Pix)
	if !s.Defined {
		return
	}
	p.bufs.Series.Add(types.Sample{Timestamp: frame.Timestamp, Value: s.Mean})
	p.heat.Add(frame)
	p.metrics.SetMeanTemperature(s.Mean)

	samples := p.bufs.Series.Export()
	msg := &types.SeriesSnapshot{
		Type:           "series",
		Times:          make([]float64, len(samples)),
		Values:         make([]float64, len(samples)),
		CumulativeHeat: p.heat.Cumulative(),
	}
	for i, sample := range samples {
		msg.Times[i] = types.Seconds(sample.Timestamp)
		msg.Values[i] = sample.Value
	}
	p.series.Store(msg)
	if p.pub != nil {
		p.pub.Broadcast(msg)
	}
}

func (p *Pipeline) logEveryN(format string, args ...any) {
	if (p.logN.Add(1)-1)%int64(p.opts.LogEvery) == 0 {
		log.Printf(format, args...)
	}
}
