package output

import (
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"thermrec-go/internal/roi"
	"thermrec-go/internal/types"
)

var (
	ErrAlreadyRecording = errors.New("output: already recording")
	ErrNotRecording     = errors.New("output: not recording")
)

// Mode selects what a session stores per tick.
type Mode int

const (
	// ModeFrame stores the whole frame, with out-of-region cells set to
	// roi.NoData when a polygon is active.
	ModeFrame Mode = iota
	// ModeValues stores only the in-region values as a 1-D record.
	ModeValues
)

func (m Mode) String() string {
	switch m {
	case ModeFrame:
		return "frame"
	case ModeValues:
		return "values"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func ParseMode(s string) (Mode, error) {
	switch s {
	case "frame", "":
		return ModeFrame, nil
	case "values":
		return ModeValues, nil
	default:
		return 0, errors.Errorf("unknown record mode %q", s)
	}
}

// SessionInfo describes one recording for the journal and for status
// reporting.
type SessionInfo struct {
	ID      uuid.UUID
	Path    string
	Mode    Mode
	Polygon roi.Polygon
	Started time.Time
	Stopped time.Time
	Frames  int
	Err     error
}

// Journal is told about every session the recorder opens and closes.
type Journal interface {
	SessionStarted(info SessionInfo) error
	SessionEnded(info SessionInfo) error
}

type session struct {
	info   SessionInfo
	writer *FrameWriter
	masks  roi.Cache
	last   float64
}

// Recorder owns at most one open recording at a time. All file access goes
// through it; methods may be called from any goroutine.
type Recorder struct {
	mu      sync.Mutex
	dir     string
	display types.Size
	journal Journal
	now     func() time.Time
	current *session
}

// NewRecorder writes sessions into dir. display is the coordinate space
// polygons are drawn in. journal may be nil.
func NewRecorder(dir string, display types.Size, journal Journal) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create recording dir")
	}
	return &Recorder{
		dir:     dir,
		display: display,
		journal: journal,
		now:     time.Now,
	}, nil
}

// RecordingName is the file name used for a session started at t.
func RecordingName(t time.Time) string {
	return "thermal_recording_" + t.Format("20060102_150405") + ".bin"
}

// Start opens a new session. An empty or inactive polygon records the full
// frame.
func (r *Recorder) Start(polygon roi.Polygon, mode Mode) (SessionInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		return r.current.info, ErrAlreadyRecording
	}
	return r.start(polygon, mode)
}

func (r *Recorder) start(polygon roi.Polygon, mode Mode) (SessionInfo, error) {
	started := r.now()
	path := r.freePath(started)
	w, err := CreateFrameWriter(path)
	if err != nil {
		return SessionInfo{}, err
	}
	s := &session{
		info: SessionInfo{
			ID:      uuid.New(),
			Path:    w.Path(),
			Mode:    mode,
			Polygon: polygon.Clone(),
			Started: started,
		},
		writer: w,
	}
	r.current = s
	if r.journal != nil {
		if err := r.journal.SessionStarted(s.info); err != nil {
			log.Printf("recorder: journal start %s: %v", s.info.ID, err)
		}
	}
	log.Printf("recorder: started %s (%s, %d polygon points) -> %s", s.info.ID, mode, len(polygon), s.info.Path)
	return s.info, nil
}

func (r *Recorder) freePath(t time.Time) string {
	path := filepath.Join(r.dir, RecordingName(t))
	for i := 1; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		base := RecordingName(t)
		path = filepath.Join(r.dir, fmt.Sprintf("%s_%d.bin", base[:len(base)-len(".bin")], i))
	}
}

// Record writes frame to the open session. It reports false when the tick
// had nothing to store. A write failure ends the session and the recorder
// returns to idle.
func (r *Recorder) Record(frame types.Frame) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.current
	if s == nil {
		return false, ErrNotRecording
	}
	if frame.Empty() {
		return false, nil
	}

	mask := s.masks.Mask(s.info.Polygon, r.display, frame)
	var shape []int
	var values []float64
	switch s.info.Mode {
	case ModeValues:
		if mask.Active() {
			values = roi.ValuesIn(frame, mask)
		} else {
			values = frame.Pix
		}
		shape = []int{len(values)}
	default:
		masked := roi.MaskedFrame(frame, mask)
		if mask.Active() && mask.Count() == 0 {
			values = nil
		} else {
			values = masked.Pix
		}
		shape = masked.Shape()
	}
	if len(values) == 0 {
		return false, nil
	}

	// stamped at write time; a stalled camera repeats the frame, not the time
	ts := types.Seconds(r.now())
	if s.info.Frames > 0 && ts <= s.last {
		ts = math.Nextafter(s.last, math.Inf(1))
	}
	if err := s.writer.WriteFrame(s.info.Frames, ts, shape, values); err != nil {
		err = errors.Wrapf(err, "session %s", s.info.ID)
		r.finish(err)
		return false, err
	}
	s.last = ts
	s.info.Frames++
	return true, nil
}

// Stop closes the open session and returns its final state.
func (r *Recorder) Stop() (SessionInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return SessionInfo{}, ErrNotRecording
	}
	return r.finish(nil)
}

// Close stops the session if one is open. It is safe to call at any time.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil
	}
	_, err := r.finish(nil)
	return err
}

// Toggle starts a session when idle and stops it otherwise.
func (r *Recorder) Toggle(polygon roi.Polygon, mode Mode) (SessionInfo, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		info, err := r.finish(nil)
		return info, false, err
	}
	info, err := r.start(polygon, mode)
	return info, err == nil, err
}

// Status reports the open session, if any.
func (r *Recorder) Status() (SessionInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return SessionInfo{}, false
	}
	return r.current.info, true
}

func (r *Recorder) finish(cause error) (SessionInfo, error) {
	s := r.current
	r.current = nil
	closeErr := s.writer.Close()
	s.info.Stopped = r.now()
	s.info.Err = cause
	if s.info.Err == nil {
		s.info.Err = closeErr
	}
	if r.journal != nil {
		if err := r.journal.SessionEnded(s.info); err != nil {
			log.Printf("recorder: journal end %s: %v", s.info.ID, err)
		}
	}
	if s.info.Err != nil {
		log.Printf("recorder: session %s ended after %d frames: %v", s.info.ID, s.info.Frames, s.info.Err)
	} else {
		log.Printf("recorder: session %s stopped after %d frames", s.info.ID, s.info.Frames)
	}
	return s.info, closeErr
}
