package output

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func writeRecords(t *testing.T, path string, n int, rows, cols int) []Record {
	t.Helper()
	w, err := CreateFrameWriter(path)
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}
	var want []Record
	for i := 0; i < n; i++ {
		rec := Record{
			Index:     int32(i),
			Timestamp: 1700000000 + float64(i),
			Shape:     []int{rows, cols},
			Values:    make([]float64, rows*cols),
		}
		for j := range rec.Values {
			rec.Values[j] = float64(i)*100 + float64(j) + 0.125
		}
		if err := w.WriteRecord(rec); err != nil {
			t.Fatalf("write record %d: %v", i, err)
		}
		want = append(want, rec)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return want
}

func TestRoundTrip(t *testing.T) {
	// the wide frame spans several payload chunks
	for _, shape := range [][2]int{{3, 4}, {3, 3000}} {
		path := filepath.Join(t.TempDir(), "rt.bin")
		want := writeRecords(t, path, 5, shape[0], shape[1])

		version, got, err := ReadFile(path)
		if err != nil {
			t.Fatalf("%v: read: %v", shape, err)
		}
		if version != Version {
			t.Fatalf("unexpected version: %d", version)
		}
		if len(got) != len(want) {
			t.Fatalf("%v: got %d records, want %d", shape, len(got), len(want))
		}
		for i := range want {
			if got[i].Index != int32(i) || got[i].Timestamp != want[i].Timestamp {
				t.Fatalf("record %d: unexpected header %+v", i, got[i].Index)
			}
			if len(got[i].Shape) != 2 || got[i].Shape[0] != shape[0] || got[i].Shape[1] != shape[1] {
				t.Fatalf("record %d: unexpected shape %v", i, got[i].Shape)
			}
			if len(got[i].Values) != len(want[i].Values) {
				t.Fatalf("record %d: %d values, want %d", i, len(got[i].Values), len(want[i].Values))
			}
			for j := range want[i].Values {
				if got[i].Values[j] != want[i].Values[j] {
					t.Fatalf("record %d value %d: got %v want %v", i, j, got[i].Values[j], want[i].Values[j])
				}
			}
		}
	}
}

func TestRoundTripKeepsNaN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nan.bin")
	w, err := CreateFrameWriter(path)
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}
	if err := w.WriteFrame(0, 1, []int{1, 2}, []float64{math.NaN(), -3.5}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = w.Close()

	_, got, err := ReadFile(path)
	if err != nil || len(got) != 1 {
		t.Fatalf("read: %d records, %v", len(got), err)
	}
	if !math.IsNaN(got[0].Values[0]) || got[0].Values[1] != -3.5 {
		t.Fatalf("unexpected values: %v", got[0].Values)
	}
}

func TestWriteFrameRejectsShapeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.bin")
	w, err := CreateFrameWriter(path)
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}
	defer w.Close()
	if err := w.WriteFrame(0, 0, []int{2, 2}, []float64{1, 2, 3}); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
	if err := w.WriteFrame(0, 0, nil, nil); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch for empty shape, got %v", err)
	}
	if w.Frames() != 0 {
		t.Fatalf("rejected frames were counted")
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != 8 {
		t.Fatalf("rejected frame reached the file: %d bytes", info.Size())
	}
}

func TestWriteAfterClose(t *testing.T) {
	w, err := CreateFrameWriter(filepath.Join(t.TempDir(), "c.bin"))
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}
	_ = w.Close()
	if err := w.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := w.WriteFrame(0, 0, []int{1}, []float64{1}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestTruncatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cut.bin")
	writeRecords(t, path, 2, 2, 2)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	// header 8 bytes, each record 4+4+8+8+4+32 = 60 bytes
	if len(data) != 8+2*60 {
		t.Fatalf("unexpected file size %d", len(data))
	}
	if err := os.WriteFile(path, data[:8+60+25], 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	_, got, err := ReadFile(path)
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
	if len(got) != 1 || got[0].Index != 0 {
		t.Fatalf("expected the first record back, got %d", len(got))
	}
}

func TestCleanEndAfterHeader(t *testing.T) {
	fr, err := NewFrameReader(bytes.NewReader([]byte("THRM\x01\x00\x00\x00")))
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	records, err := fr.ReadAll()
	if err != nil || len(records) != 0 {
		t.Fatalf("expected empty clean read, got %d, %v", len(records), err)
	}
}

func TestNotContainer(t *testing.T) {
	for _, in := range []string{"", "TH", "NOPE\x01\x00\x00\x00", "STXMRAW1"} {
		if _, err := NewFrameReader(strings.NewReader(in)); !errors.Is(err, ErrNotContainer) {
			t.Fatalf("%q: expected ErrNotContainer, got %v", in, err)
		}
	}
}

func TestUnexpectedMarkerKeepsEarlierRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "marker.bin")
	writeRecords(t, path, 2, 1, 3)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, _ = f.WriteString("JUNKJUNKJUNK")
	_ = f.Close()

	_, got, err := ReadFile(path)
	if !errors.Is(err, ErrUnexpectedMarker) {
		t.Fatalf("expected ErrUnexpectedMarker, got %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records before the bad marker, got %d", len(got))
	}
}

func TestCorruptDimensions(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("THRM")
	_ = binary.Write(&buf, binary.LittleEndian, int32(1))
	buf.WriteString("FRAM")
	_ = binary.Write(&buf, binary.LittleEndian, int32(2))
	_ = binary.Write(&buf, binary.LittleEndian, int32(-4))
	_ = binary.Write(&buf, binary.LittleEndian, int32(2))

	fr, err := NewFrameReader(&buf)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	if _, err := fr.Next(); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}

	buf.Reset()
	buf.WriteString("THRM")
	_ = binary.Write(&buf, binary.LittleEndian, int32(1))
	buf.WriteString("FRAM")
	_ = binary.Write(&buf, binary.LittleEndian, int32(1000))
	fr, err = NewFrameReader(&buf)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	if _, err := fr.Next(); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt for ndim, got %v", err)
	}
}

func TestHugeShapeWithoutPayload(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("THRM")
	_ = binary.Write(&buf, binary.LittleEndian, int32(1))
	buf.WriteString("FRAM")
	_ = binary.Write(&buf, binary.LittleEndian, int32(2))
	_ = binary.Write(&buf, binary.LittleEndian, int32(1<<14))
	_ = binary.Write(&buf, binary.LittleEndian, int32(1<<14))
	_ = binary.Write(&buf, binary.LittleEndian, float64(1))
	_ = binary.Write(&buf, binary.LittleEndian, int32(0))
	_ = binary.Write(&buf, binary.LittleEndian, []float64{1, 2, 3})

	fr, err := NewFrameReader(&buf)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	_, err = fr.Next()
	runtime.ReadMemStats(&after)
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
	// the header claims 2 GiB of payload
	if grew := after.TotalAlloc - before.TotalAlloc; grew > 16<<20 {
		t.Fatalf("allocated %d bytes for a 3-value payload", grew)
	}
}

func TestConvertFileMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thermal_recording_20240101_120000.bin")
	writeRecords(t, path, 3, 2, 2)

	dir, records, err := ConvertFile(path)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(records))
	}
	if filepath.Base(dir) != "thermal_recording_20240101_120000_txt" {
		t.Fatalf("unexpected export dir %s", dir)
	}

	meta, err := os.ReadFile(filepath.Join(dir, "metadata.txt"))
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	text := string(meta)
	if !strings.Contains(text, "Total Frames: 3\n") || !strings.Contains(text, "Version: 1\n") {
		t.Fatalf("unexpected metadata header:\n%s", text)
	}
	if got := strings.Count(text, "  File: frame_"); got != 3 {
		t.Fatalf("expected 3 entries, got %d", got)
	}
	if !strings.Contains(text, "  Shape: (2, 2)\n") || !strings.Contains(text, "  Min: 100.1250\n") {
		t.Fatalf("unexpected entry contents:\n%s", text)
	}

	re := regexp.MustCompile(`Timestamp: ([0-9.]+) \(`)
	var last float64
	matches := re.FindAllStringSubmatch(text, -1)
	if len(matches) != 3 {
		t.Fatalf("expected 3 timestamps, got %d", len(matches))
	}
	for i, m := range matches {
		ts, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			t.Fatalf("parse timestamp %q: %v", m[1], err)
		}
		if i > 0 && ts <= last {
			t.Fatalf("timestamps not increasing: %v after %v", ts, last)
		}
		last = ts
	}

	frame, err := os.ReadFile(filepath.Join(dir, "frame_0001.txt"))
	if err != nil {
		t.Fatalf("read frame file: %v", err)
	}
	if string(frame) != "100.1250 101.1250\n102.1250 103.1250\n" {
		t.Fatalf("unexpected frame text %q", frame)
	}
}

func TestExportTextNaNAndVector(t *testing.T) {
	dir := t.TempDir()
	records := []Record{
		{Index: 0, Timestamp: float64(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Unix()), Shape: []int{3}, Values: []float64{1, math.NaN(), 3}},
		{Index: 1, Timestamp: 2, Shape: []int{1, 2}, Values: []float64{math.NaN(), math.NaN()}},
	}
	if err := ExportText("x.bin", records, 1, dir); err != nil {
		t.Fatalf("export: %v", err)
	}
	frame, err := os.ReadFile(filepath.Join(dir, "frame_0000.txt"))
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if string(frame) != "1.0000\nnan\n3.0000\n" {
		t.Fatalf("unexpected frame text %q", frame)
	}
	meta, err := os.ReadFile(filepath.Join(dir, "metadata.txt"))
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	text := string(meta)
	if !strings.Contains(text, "  Shape: (3,)\n  Min: 1.0000\n  Max: 3.0000\n  Mean: 2.0000\n") {
		t.Fatalf("unexpected vector entry:\n%s", text)
	}
	if !strings.Contains(text, "Frame 1:\n  File: frame_0001.txt\n") || !strings.Contains(text, "  Mean: nan\n") {
		t.Fatalf("unexpected empty entry:\n%s", text)
	}
}
