package output

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"
)

// FrameReader decodes the records of a container in order.
type FrameReader struct {
	r       io.Reader
	version int32
	offset  int64
}

// NewFrameReader checks the container header. A stream that does not start
// with the container magic yields ErrNotContainer.
func NewFrameReader(r io.Reader) (*FrameReader, error) {
	fr := &FrameReader{r: r}
	var magic [4]byte
	if err := fr.read(magic[:]); err != nil {
		return nil, errors.Wrap(ErrNotContainer, "missing magic")
	}
	if string(magic[:]) != containerMagic {
		return nil, errors.Wrapf(ErrNotContainer, "magic %q", magic[:])
	}
	v, err := fr.readInt32()
	if err != nil {
		return nil, errors.Wrap(ErrTruncated, "missing version")
	}
	fr.version = v
	return fr, nil
}

func (fr *FrameReader) Version() int32 {
	return fr.version
}

// Offset is the number of bytes consumed so far.
func (fr *FrameReader) Offset() int64 {
	return fr.offset
}

// Next returns the next record. It returns io.EOF when the stream ends on a
// record boundary, ErrTruncated when it ends inside a record,
// ErrUnexpectedMarker when a record does not start with the record marker
// and ErrCorrupt when the record header is implausible.
func (fr *FrameReader) Next() (Record, error) {
	start := fr.offset
	var marker [4]byte
	n, err := io.ReadFull(fr.r, marker[:])
	fr.offset += int64(n)
	if err == io.EOF {
		return Record{}, io.EOF
	}
	if err != nil {
		return Record{}, fr.truncated(start, err)
	}
	if string(marker[:]) != recordMarker {
		return Record{}, errors.Wrapf(ErrUnexpectedMarker, "%q at offset %d", marker[:], start)
	}

	ndim, err := fr.readInt32()
	if err != nil {
		return Record{}, fr.truncated(start, err)
	}
	if ndim < 1 || ndim > maxDims {
		return Record{}, errors.Wrapf(ErrCorrupt, "%d dimensions at offset %d", ndim, start)
	}
	shape := make([]int, ndim)
	total := 1
	for i := range shape {
		d, err := fr.readInt32()
		if err != nil {
			return Record{}, fr.truncated(start, err)
		}
		if d < 0 {
			return Record{}, errors.Wrapf(ErrCorrupt, "negative dimension %d at offset %d", d, start)
		}
		shape[i] = int(d)
		if d > 0 && total > maxValues/int(d) {
			return Record{}, errors.Wrapf(ErrCorrupt, "record too large at offset %d", start)
		}
		total *= int(d)
	}

	var tail [12]byte
	if err := fr.read(tail[:]); err != nil {
		return Record{}, fr.truncated(start, err)
	}
	rec := Record{
		Timestamp: math.Float64frombits(binary.LittleEndian.Uint64(tail[:8])),
		Index:     int32(binary.LittleEndian.Uint32(tail[8:])),
		Shape:     shape,
		Values:    make([]float64, 0, min(total, payloadChunk)),
	}

	// the payload grows with what the stream delivers, so a corrupt shape
	// cannot force a large allocation up front
	buf := make([]byte, 8*min(total, payloadChunk))
	for left := total; left > 0; {
		n := min(left, payloadChunk)
		chunk := buf[:8*n]
		if err := fr.read(chunk); err != nil {
			return Record{}, fr.truncated(start, err)
		}
		for i := 0; i < n; i++ {
			rec.Values = append(rec.Values, math.Float64frombits(binary.LittleEndian.Uint64(chunk[8*i:])))
		}
		left -= n
	}
	return rec, nil
}

func (fr *FrameReader) read(p []byte) error {
	n, err := io.ReadFull(fr.r, p)
	fr.offset += int64(n)
	return err
}

func (fr *FrameReader) readInt32() (int32, error) {
	var b [4]byte
	if err := fr.read(b[:]); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b[:])), nil
}

func (fr *FrameReader) truncated(start int64, err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return errors.Wrapf(ErrTruncated, "record at offset %d", start)
	}
	return errors.Wrapf(err, "read record at offset %d", start)
}

// ReadAll reads records until the stream ends. The records decoded before a
// failure are returned together with the error; a clean end returns nil.
func (fr *FrameReader) ReadAll() ([]Record, error) {
	var records []Record
	for {
		rec, err := fr.Next()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		records = append(records, rec)
	}
}

// ReadFile reads a whole container from disk. As with ReadAll, the good
// records are returned even when err is not nil.
func ReadFile(path string) (version int32, records []Record, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, nil, errors.Wrap(err, "open recording")
	}
	defer f.Close()

	fr, err := NewFrameReader(bufio.NewReader(f))
	if err != nil {
		return 0, nil, err
	}
	records, err = fr.ReadAll()
	return fr.Version(), records, err
}
