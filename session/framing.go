package session

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"net"

	"github.com/pkg/errors"
)

// MaxFrameSize is the largest body a stream frame can carry.
const MaxFrameSize = math.MaxUint16

// frameHeaderSize is the size of the stream length prefix.
const frameHeaderSize = 2

// ErrFrameTooLarge is returned when encoding a body above MaxFrameSize.
var ErrFrameTooLarge = errors.New("session: frame too large")

// AppendFrame appends the stream encoding of body to dst: the body length as
// two little-endian bytes followed by the body.
func AppendFrame(dst, body []byte) ([]byte, error) {
	if len(body) > MaxFrameSize {
		return dst, errors.Wrapf(ErrFrameTooLarge, "%d bytes", len(body))
	}
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(body)))
	return append(dst, body...), nil
}

// MaxPayload returns the largest payload a frame published on key can carry
// within MaxFrameSize, whatever its sequence number.
func MaxPayload(key string) int {
	overhead := 1 + binary.MaxVarintLen64 + len(binary.AppendUvarint(nil, uint64(len(key)))) + len(key)
	return MaxFrameSize - overhead
}

// WriteFrame writes one length-prefixed body to w with a single Write.
func WriteFrame(w io.Writer, body []byte) error {
	buf, err := AppendFrame(make([]byte, 0, frameHeaderSize+len(body)), body)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ReadFrame reads one length-prefixed body from r. Short reads are retried
// until the whole frame has arrived.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	body := make([]byte, binary.LittleEndian.Uint16(header[:]))
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return body, nil
}

// Mode selects how messages are delimited on a connection.
type Mode int

const (
	// Stream prefixes every message with its length.
	Stream Mode = iota
	// Datagram sends one message per datagram without a prefix.
	Datagram
)

func (m Mode) String() string {
	if m == Datagram {
		return "datagram"
	}
	return "stream"
}

// Encode serializes msg for the given mode.
func Encode(mode Mode, msg Message) ([]byte, error) {
	body := Marshal(msg)
	if mode == Datagram {
		return body, nil
	}
	return AppendFrame(make([]byte, 0, frameHeaderSize+len(body)), body)
}

// Transport moves whole messages over a connection.
type Transport interface {
	Send(m Message) error
	// Recv returns the next message and the number of bytes it occupied on
	// the wire.
	Recv() (Message, int, error)
	Close() error
}

// maxDatagramSize bounds the receive buffer of datagram transports.
const maxDatagramSize = 65535

type streamTransport struct {
	conn net.Conn
	r    *bufio.Reader
}

// NewStreamTransport returns a Transport framing messages over conn.
func NewStreamTransport(conn net.Conn) Transport {
	return &streamTransport{conn: conn, r: bufio.NewReaderSize(conn, 64*1024)}
}

func (t *streamTransport) Send(m Message) error {
	return WriteFrame(t.conn, Marshal(m))
}

func (t *streamTransport) Recv() (Message, int, error) {
	body, err := ReadFrame(t.r)
	if err != nil {
		return nil, 0, err
	}
	m, err := Unmarshal(body)
	return m, frameHeaderSize + len(body), err
}

func (t *streamTransport) Close() error {
	return t.conn.Close()
}

type datagramTransport struct {
	conn net.Conn
	buf  []byte
}

// NewDatagramTransport returns a Transport sending one message per datagram
// over a connected packet conn.
func NewDatagramTransport(conn net.Conn) Transport {
	return &datagramTransport{conn: conn, buf: make([]byte, maxDatagramSize)}
}

func (t *datagramTransport) Send(m Message) error {
	_, err := t.conn.Write(Marshal(m))
	return err
}

func (t *datagramTransport) Recv() (Message, int, error) {
	n, err := t.conn.Read(t.buf)
	if err != nil {
		return nil, 0, err
	}
	body := make([]byte, n)
	copy(body, t.buf[:n])
	m, err := Unmarshal(body)
	return m, n, err
}

func (t *datagramTransport) Close() error {
	return t.conn.Close()
}
