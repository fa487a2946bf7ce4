package output

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"thermrec-go/internal/processing"
)

// ExportText writes one frame_NNNN.txt per record and a metadata.txt index
// into dir. binPath is only reported in the index.
func ExportText(binPath string, records []Record, version int32, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create export dir")
	}

	meta, err := os.Create(filepath.Join(dir, "metadata.txt"))
	if err != nil {
		return errors.Wrap(err, "create metadata")
	}
	defer meta.Close()
	w := bufio.NewWriter(meta)

	_, _ = fmt.Fprintf(w, "Binary File: %s\n", binPath)
	_, _ = fmt.Fprintf(w, "Total Frames: %d\n", len(records))
	_, _ = fmt.Fprintf(w, "Version: %d\n", version)
	_, _ = fmt.Fprintf(w, "%s\n\n", strings.Repeat("=", 70))

	for _, rec := range records {
		name := FrameFileName(rec.Index)
		if err := writeFrameText(filepath.Join(dir, name), rec); err != nil {
			return err
		}
		stat := processing.Summarize(rec.Values)
		sec, frac := math.Modf(rec.Timestamp)
		when := time.Unix(int64(sec), int64(frac*1e9))

		_, _ = fmt.Fprintf(w, "Frame %d:\n", rec.Index)
		_, _ = fmt.Fprintf(w, "  File: %s\n", name)
		_, _ = fmt.Fprintf(w, "  Timestamp: %s (%s)\n",
			strconv.FormatFloat(rec.Timestamp, 'f', -1, 64), when.Format("2006-01-02 15:04:05"))
		_, _ = fmt.Fprintf(w, "  Shape: %s\n", formatShape(rec.Shape))
		_, _ = fmt.Fprintf(w, "  Min: %s\n", formatStat(stat.Min, stat.Defined))
		_, _ = fmt.Fprintf(w, "  Max: %s\n", formatStat(stat.Max, stat.Defined))
		_, _ = fmt.Fprintf(w, "  Mean: %s\n\n", formatStat(stat.Mean, stat.Defined))
	}
	if err := w.Flush(); err != nil {
		return errors.Wrap(err, "write metadata")
	}
	return errors.Wrap(meta.Close(), "close metadata")
}

// ConvertFile reads path and exports it next to the file in <stem>_txt.
// A truncated or damaged file still exports the records read before the
// damage; that error is returned after the export.
func ConvertFile(path string) (dir string, records []Record, err error) {
	version, records, readErr := ReadFile(path)
	if readErr != nil && records == nil && version == 0 {
		return "", nil, readErr
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	dir = filepath.Join(filepath.Dir(path), stem+"_txt")
	if err := ExportText(path, records, version, dir); err != nil {
		return dir, records, err
	}
	return dir, records, readErr
}

func FrameFileName(index int32) string {
	return fmt.Sprintf("frame_%04d.txt", index)
}

func writeFrameText(path string, rec Record) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create frame file")
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	cols := 1
	if len(rec.Shape) > 1 {
		cols = rec.Shape[len(rec.Shape)-1]
	}
	for i, v := range rec.Values {
		if i%cols != 0 {
			_ = w.WriteByte(' ')
		}
		_, _ = w.WriteString(formatValue(v))
		if (i+1)%cols == 0 {
			_ = w.WriteByte('\n')
		}
	}
	if err := w.Flush(); err != nil {
		return errors.Wrap(err, "write frame file")
	}
	return errors.Wrap(f.Close(), "close frame file")
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return "nan"
	}
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func formatStat(v float64, defined bool) string {
	if !defined {
		return "nan"
	}
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func formatShape(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.Itoa(d)
	}
	if len(parts) == 1 {
		return "(" + parts[0] + ",)"
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
