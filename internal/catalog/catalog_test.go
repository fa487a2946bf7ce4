package catalog

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"thermrec-go/internal/output"
	"thermrec-go/internal/roi"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionLifecycle(t *testing.T) {
	s := newStore(t)
	started := time.Unix(1700000000, 0)
	info := output.SessionInfo{
		ID:      uuid.New(),
		Path:    "/data/thermal_recording_20231114_221320.bin",
		Mode:    output.ModeValues,
		Polygon: roi.Polygon{{X: 1, Y: 2}, {X: 3, Y: 4}, {X: 5, Y: 6}, {X: 7, Y: 8}},
		Started: started,
	}
	if err := s.SessionStarted(info); err != nil {
		t.Fatalf("start: %v", err)
	}

	got, err := s.Get(info.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Stopped != nil || got.Mode != "values" || len(got.Polygon) != 4 || got.Polygon[3].Y != 8 {
		t.Fatalf("unexpected open session: %+v", got)
	}
	if !got.Started.Equal(started) {
		t.Fatalf("unexpected start time: %v", got.Started)
	}

	info.Frames = 12
	info.Stopped = started.Add(12 * time.Second)
	info.Err = errors.New("disk full")
	if err := s.SessionEnded(info); err != nil {
		t.Fatalf("end: %v", err)
	}
	got, err = s.Get(info.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Frames != 12 || got.Error != "disk full" || got.Stopped == nil || !got.Stopped.Equal(info.Stopped) {
		t.Fatalf("unexpected closed session: %+v", got)
	}
}

func TestSessionEndedUnknown(t *testing.T) {
	s := newStore(t)
	if err := s.SessionEnded(output.SessionInfo{ID: uuid.New(), Stopped: time.Now()}); err == nil {
		t.Fatalf("expected an error for an unknown session")
	}
	if _, err := s.Get(uuid.New()); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestListAndMarkInterrupted(t *testing.T) {
	s := newStore(t)
	base := time.Unix(1700000000, 0)
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		info := output.SessionInfo{ID: uuid.New(), Path: "p", Mode: output.ModeFrame, Started: base.Add(time.Duration(i) * time.Minute)}
		if err := s.SessionStarted(info); err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
		ids = append(ids, info.ID)
	}
	if err := s.SessionEnded(output.SessionInfo{ID: ids[0], Stopped: base.Add(time.Second), Frames: 1}); err != nil {
		t.Fatalf("end: %v", err)
	}

	n, err := s.MarkInterrupted(base.Add(time.Hour))
	if err != nil || n != 2 {
		t.Fatalf("mark interrupted: %d %v", n, err)
	}

	list, err := s.List(2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != ids[2] || list[1].ID != ids[1] {
		t.Fatalf("unexpected order: %+v", list)
	}
	if list[0].Error != "interrupted" || list[0].Polygon == nil {
		t.Fatalf("unexpected interrupted row: %+v", list[0])
	}

	all, err := s.List(0)
	if err != nil || len(all) != 3 {
		t.Fatalf("list all: %d %v", len(all), err)
	}
}
