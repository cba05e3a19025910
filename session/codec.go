package session

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// ErrTruncated is returned when a message body ends before all its fields
// were read.
var ErrTruncated = errors.New("session: truncated message")

// Integers on the wire are unsigned LEB128 varints; byte strings are a
// varint length followed by the bytes.

func appendZint(b []byte, v uint64) []byte {
	return binary.AppendUvarint(b, v)
}

func appendBytes(b []byte, p []byte) []byte {
	b = appendZint(b, uint64(len(p)))
	return append(b, p...)
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) byte() (byte, error) {
	if r.off >= len(r.buf) {
		return 0, ErrTruncated
	}
	c := r.buf[r.off]
	r.off++
	return c, nil
}

func (r *reader) zint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.off:])
	if n <= 0 {
		return 0, errors.Wrap(ErrTruncated, "bad varint")
	}
	r.off += n
	return v, nil
}

func (r *reader) bytes() ([]byte, error) {
	n, err := r.zint()
	if err != nil {
		return nil, err
	}
	if uint64(len(r.buf)-r.off) < n {
		return nil, errors.Wrapf(ErrTruncated, "want %d bytes, have %d", n, len(r.buf)-r.off)
	}
	p := r.buf[r.off : r.off+int(n)]
	r.off += int(n)
	return p, nil
}

func (r *reader) rest() []byte {
	p := r.buf[r.off:]
	r.off = len(r.buf)
	return p
}
