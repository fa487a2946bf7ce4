package output

import (
	"bufio"
	"encoding/binary"
	"math"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// FrameWriter appends frame records to a container file. Every record is
// flushed as soon as it is written so a crash loses at most the record in
// flight.
type FrameWriter struct {
	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	path   string
	frames int
}

// CreateFrameWriter creates path and writes the container header.
func CreateFrameWriter(path string) (*FrameWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "create recording")
	}
	w := bufio.NewWriterSize(f, 1024*1024)
	var header [8]byte
	copy(header[:4], containerMagic)
	binary.LittleEndian.PutUint32(header[4:], uint32(Version))
	if _, err := w.Write(header[:]); err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, "write header")
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, "write header")
	}
	return &FrameWriter{f: f, w: w, path: path}, nil
}

func (fw *FrameWriter) Path() string {
	return fw.path
}

// Frames returns the number of records written so far.
func (fw *FrameWriter) Frames() int {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.frames
}

// WriteFrame writes one record. The shape must describe values exactly.
func (fw *FrameWriter) WriteFrame(index int, timestamp float64, shape []int, values []float64) error {
	if len(shape) == 0 || len(shape) > maxDims {
		return errors.Wrapf(ErrShapeMismatch, "%d dimensions", len(shape))
	}
	for _, d := range shape {
		if d < 0 {
			return errors.Wrapf(ErrShapeMismatch, "negative dimension in %v", shape)
		}
	}
	if shapeLen(shape) != len(values) {
		return errors.Wrapf(ErrShapeMismatch, "shape %v, %d values", shape, len(values))
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.w == nil {
		return ErrClosed
	}

	head := make([]byte, 0, 4+4+4*len(shape)+8+4)
	head = append(head, recordMarker...)
	head = binary.LittleEndian.AppendUint32(head, uint32(len(shape)))
	for _, d := range shape {
		head = binary.LittleEndian.AppendUint32(head, uint32(d))
	}
	head = binary.LittleEndian.AppendUint64(head, math.Float64bits(timestamp))
	head = binary.LittleEndian.AppendUint32(head, uint32(int32(index)))
	if _, err := fw.w.Write(head); err != nil {
		return errors.Wrap(err, "write record header")
	}

	var buf [8]byte
	for _, v := range values {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		if _, err := fw.w.Write(buf[:]); err != nil {
			return errors.Wrap(err, "write payload")
		}
	}
	if err := fw.w.Flush(); err != nil {
		return errors.Wrap(err, "flush record")
	}
	fw.frames++
	return nil
}

// WriteRecord is WriteFrame for a decoded record.
func (fw *FrameWriter) WriteRecord(r Record) error {
	return fw.WriteFrame(int(r.Index), r.Timestamp, r.Shape, r.Values)
}

// Close flushes and closes the file. Closing twice is a no-op.
func (fw *FrameWriter) Close() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.w == nil {
		return nil
	}
	if err := fw.w.Flush(); err != nil {
		_ = fw.f.Close()
		fw.w = nil
		return errors.Wrap(err, "flush recording")
	}
	err := fw.f.Close()
	fw.w = nil
	return errors.Wrap(err, "close recording")
}
