package gateway

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// zlibFlushSuffix is the empty stored block a deflate sync flush emits. The
// platform flushes the stream at every message boundary, so a complete
// compressed chunk always ends with these four bytes.
var zlibFlushSuffix = []byte{0x00, 0x00, 0xff, 0xff}

const (
	// zlibHeaderLen is the length of the zlib envelope header that precedes
	// the first deflate block of the stream.
	zlibHeaderLen = 2

	// inflateWindowBytes is the deflate back-reference horizon. Chunks may
	// reference bytes up to this far back in the decompressed stream, so
	// exactly this much history is carried between chunks.
	inflateWindowBytes = 32 << 10
)

// inflator decodes the connection-long compressed stream one chunk at a
// time. The platform compresses an entire session as a single deflate
// stream that is sync-flushed at message boundaries, which means a chunk
// may back-reference data from earlier messages; the inflator keeps the
// trailing window of decompressed output to resolve those references.
//
// An inflator is bound to one connection and must not be reused across
// reconnects: every new socket starts a fresh compressed stream.
type inflator struct {
	headerDone bool
	window     []byte
}

func newInflator() *inflator {
	return &inflator{}
}

// inflate decompresses one complete chunk, which must end at a sync-flush
// boundary, and returns the decoded payload. Errors are unrecoverable for
// the stream: the caller is expected to drop the connection.
func (z *inflator) inflate(chunk []byte) ([]byte, error) {
	if !z.headerDone {
		if len(chunk) < zlibHeaderLen {
			return nil, fmt.Errorf("inflate chunk: short zlib header")
		}
		if chunk[0]&0x0f != 8 {
			return nil, fmt.Errorf("inflate chunk: not a zlib deflate stream")
		}
		chunk = chunk[zlibHeaderLen:]
		z.headerDone = true
	}

	// A fresh reader per chunk is equivalent to resuming the stream: sync
	// flushes leave the stream byte-aligned, and the carried window supplies
	// the history back-references resolve against.
	reader := flate.NewReaderDict(bytes.NewReader(chunk), z.window)
	defer reader.Close()

	var out bytes.Buffer
	if _, err := out.ReadFrom(reader); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("inflate chunk: %w", err)
	}

	data := out.Bytes()
	z.window = append(z.window, data...)
	if excess := len(z.window) - inflateWindowBytes; excess > 0 {
		kept := copy(z.window, z.window[excess:])
		z.window = z.window[:kept]
	}

	return data, nil
}
