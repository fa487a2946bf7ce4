// Package ingest receives frames from a camera bridge over ZeroMQ.
package ingest

import (
	"context"
	"log"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pebbe/zmq4"
	"github.com/pkg/errors"

	"thermrec-go/internal/camera"
	"thermrec-go/internal/cborarray"
	"thermrec-go/internal/types"
)

// Message is the bridge's wire form:
//
//	{ "type": "image", "image_id": <int>, "start_time": <float>,
//	  "data": <tag 40 [[rows, cols], tag 69 uint16le bytes]> }
type Message struct {
	Type      string
	ImageID   int
	StartTime float64
	Frame     types.RawFrame
}

var ErrSkipped = errors.New("ingest: message skipped")

// Bridge is a camera.Source reading a PULL socket.
type Bridge struct {
	Endpoint string
	TrimRows int
	LogEvery int
	// PollInterval bounds how long NextFrame waits before rechecking ctx.
	PollInterval time.Duration

	socket *zmq4.Socket
	lastID int
}

var _ camera.Source = (*Bridge)(nil)

func (b *Bridge) Begin(ctx context.Context) error {
	if b.LogEvery < 1 {
		b.LogEvery = 1
	}
	if b.PollInterval <= 0 {
		b.PollInterval = 200 * time.Millisecond
	}
	socket, err := zmq4.NewSocket(zmq4.PULL)
	if err != nil {
		return errors.Wrap(err, "zmq socket")
	}
	if err := socket.SetRcvtimeo(b.PollInterval); err != nil {
		_ = socket.Close()
		return errors.Wrap(err, "zmq rcvtimeo")
	}
	if err := socket.Connect(b.Endpoint); err != nil {
		_ = socket.Close()
		return errors.Wrapf(err, "zmq connect %s", b.Endpoint)
	}
	b.socket = socket
	b.lastID = -1
	log.Printf("ingest: connected to %s", b.Endpoint)
	return nil
}

// NextFrame waits for the next image message. Messages that are not images
// are dropped; malformed ones are returned as errors.
func (b *Bridge) NextFrame(ctx context.Context) (types.RawFrame, error) {
	if b.socket == nil {
		return types.RawFrame{}, camera.ErrNotStarted
	}
	for {
		if err := ctx.Err(); err != nil {
			return types.RawFrame{}, err
		}
		msg, err := b.socket.RecvBytes(0)
		if err != nil {
			if zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN) {
				continue
			}
			return types.RawFrame{}, errors.Wrap(err, "zmq recv")
		}
		m, err := DecodeMessage(msg, b.TrimRows)
		if errors.Is(err, ErrSkipped) {
			logEveryN(b.LogEvery, "ingest: %v", err)
			continue
		}
		if err != nil {
			return types.RawFrame{}, err
		}
		if b.lastID >= 0 && m.ImageID != b.lastID+1 {
			logEveryN(b.LogEvery, "ingest: image_id jumped from %d to %d", b.lastID, m.ImageID)
		}
		b.lastID = m.ImageID
		return m.Frame, nil
	}
}

func (b *Bridge) End() error {
	if b.socket == nil {
		return nil
	}
	err := b.socket.Close()
	b.socket = nil
	return err
}

// DecodeMessage parses one bridge message and drops the first trimRows rows
// of its frame.
func DecodeMessage(msg []byte, trimRows int) (Message, error) {
	var payload map[string]any
	if err := cbor.Unmarshal(msg, &payload); err != nil {
		return Message{}, errors.Wrap(err, "cbor decode")
	}

	msgType, _ := payload["type"].(string)
	if msgType != "image" {
		return Message{}, errors.Wrapf(ErrSkipped, "message type %q", msgType)
	}
	imageID, err := cborarray.ToInt(payload["image_id"])
	if err != nil {
		return Message{}, errors.Wrap(err, "image_id")
	}
	startTime, err := cborarray.ToFloat(payload["start_time"])
	if err != nil {
		return Message{}, errors.Wrap(err, "start_time")
	}

	arr, err := cborarray.Decode(payload["data"])
	if err != nil {
		return Message{}, errors.Wrap(err, "data")
	}
	if len(arr.Shape) != 2 {
		return Message{}, errors.Errorf("data: expected 2 dimensions, got %v", arr.Shape)
	}
	counts, err := arr.Uint16()
	if err != nil {
		return Message{}, errors.Wrap(err, "data")
	}

	rows, cols := arr.Shape[0], arr.Shape[1]
	if trimRows > 0 {
		if trimRows >= rows {
			return Message{}, errors.Errorf("data: %d rows, cannot trim %d", rows, trimRows)
		}
		counts = counts[trimRows*cols:]
		rows -= trimRows
	}

	sec, frac := splitSeconds(startTime)
	return Message{
		Type:      msgType,
		ImageID:   imageID,
		StartTime: startTime,
		Frame: types.RawFrame{
			Rows:      rows,
			Cols:      cols,
			Pix:       counts,
			Timestamp: time.Unix(sec, frac),
		},
	}, nil
}

// EncodeMessage is the inverse of DecodeMessage, for bridges written in Go
// and for tests.
func EncodeMessage(imageID int, frame types.RawFrame) ([]byte, error) {
	return cbor.Marshal(map[string]any{
		"type":       "image",
		"image_id":   imageID,
		"start_time": types.Seconds(frame.Timestamp),
		"data":       cborarray.EncodeUint16(frame.Rows, frame.Cols, frame.Pix),
	})
}

func splitSeconds(s float64) (int64, int64) {
	sec := int64(s)
	return sec, int64((s - float64(sec)) * 1e9)
}

var logCounter atomic.Int64

func logEveryN(n int, format string, args ...any) {
	if logCounter.Add(1)%int64(n) == 0 {
		log.Printf(format, args...)
	}
}
