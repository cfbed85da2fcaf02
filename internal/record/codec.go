package record

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	ferrors "github.com/Iron-Ham/logfunnel/internal/errors"
)

// FrameKind distinguishes records from the termination sentinel on the wire.
type FrameKind string

const (
	KindRecord   FrameKind = "record"
	KindSentinel FrameKind = "sentinel"
)

// MaxFrameSize bounds a single encoded frame.
const MaxFrameSize = 1024 * 1024 // 1MB

// Frame is one line of the wire protocol.
type Frame struct {
	Kind   FrameKind `json:"kind"`
	Record *Record   `json:"record,omitempty"`
}

// RecordFrame wraps a record for transport.
func RecordFrame(r *Record) Frame {
	return Frame{Kind: KindRecord, Record: r}
}

// SentinelFrame returns the termination sentinel.
func SentinelFrame() Frame {
	return Frame{Kind: KindSentinel}
}

// IsSentinel reports whether the frame is the termination sentinel.
func (f Frame) IsSentinel() bool {
	return f.Kind == KindSentinel
}

// Encode serializes a frame as a single newline-terminated JSON line.
// Record frames must carry a record with no raw failure context left on it.
func Encode(f Frame) ([]byte, error) {
	switch f.Kind {
	case KindSentinel:
	case KindRecord:
		if f.Record == nil {
			return nil, fmt.Errorf("%w: record frame without record", ferrors.ErrEncodeRecord)
		}
		if f.Record.Failure != nil {
			return nil, fmt.Errorf("%w: failure context must be rendered before enqueue", ferrors.ErrEncodeRecord)
		}
	default:
		return nil, fmt.Errorf("%w: unknown frame kind %q", ferrors.ErrEncodeRecord, f.Kind)
	}

	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ferrors.ErrEncodeRecord, err)
	}
	if len(data)+1 > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds limit", ferrors.ErrEncodeRecord, len(data))
	}
	return append(data, '\n'), nil
}

// Decode parses one encoded line. Lines that are not valid JSON, carry an
// unknown kind, or hold an invalid record are reported as ErrMalformedRecord.
func Decode(line []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(line, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ferrors.ErrMalformedRecord, err)
	}

	switch f.Kind {
	case KindSentinel:
		return SentinelFrame(), nil
	case KindRecord:
		if err := f.Record.Validate(); err != nil {
			return Frame{}, fmt.Errorf("%w: %v", ferrors.ErrMalformedRecord, err)
		}
		return f, nil
	default:
		return Frame{}, fmt.Errorf("%w: unknown frame kind %q", ferrors.ErrMalformedRecord, f.Kind)
	}
}

// Decoder reads frames from a stream, one per line. A malformed line does not
// poison the stream: Next returns the error and the following call continues
// with the next line.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder creates a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), MaxFrameSize)
	return &Decoder{scanner: scanner}
}

// Next returns the next frame. It returns io.EOF at the clean end of the
// stream and a non-malformed error if the stream itself failed.
func (d *Decoder) Next() (Frame, error) {
	for d.scanner.Scan() {
		line := bytes.TrimSpace(d.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		return Decode(line)
	}
	if err := d.scanner.Err(); err != nil {
		return Frame{}, err
	}
	return Frame{}, io.EOF
}
