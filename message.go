package bench

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Kind tags the variant carried by a Message.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindData
	KindQuery
	KindReply
	KindReplyFinal
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindQuery:
		return "query"
	case KindReply:
		return "reply"
	case KindReplyFinal:
		return "reply-final"
	default:
		return "unknown"
	}
}

// EnvelopeSize is the fixed overhead every benchmark payload carries: one
// kind byte followed by the little-endian sequence number.
const EnvelopeSize = 9

// ErrShortEnvelope is returned when a payload is too small to hold an
// envelope.
var ErrShortEnvelope = errors.New("bench: payload shorter than envelope")

// Message is an inbound benchmark message. Seq is the probe sequence number
// for data and the query id for queries and replies.
type Message struct {
	Kind Kind
	Seq  uint64
	Body []byte
}

// Encode serializes m into a payload of exactly size bytes, zero padding the
// body. If size is smaller than the encoded message the body is kept whole.
func (m Message) Encode(size int) []byte {
	n := EnvelopeSize + len(m.Body)
	if size < n {
		size = n
	}
	buf := make([]byte, size)
	buf[0] = byte(m.Kind)
	binary.LittleEndian.PutUint64(buf[1:EnvelopeSize], m.Seq)
	copy(buf[EnvelopeSize:], m.Body)
	return buf
}

// DecodeMessage parses an envelope. Unrecognized kinds decode as
// KindUnknown rather than failing so dispatch can ignore them.
func DecodeMessage(payload []byte) (Message, error) {
	if len(payload) < EnvelopeSize {
		return Message{}, errors.Wrapf(ErrShortEnvelope, "got %d bytes", len(payload))
	}
	k := Kind(payload[0])
	if k > KindReplyFinal {
		k = KindUnknown
	}
	return Message{
		Kind: k,
		Seq:  binary.LittleEndian.Uint64(payload[1:EnvelopeSize]),
		Body: payload[EnvelopeSize:],
	}, nil
}

// MessageHandler handles one decoded Message.
type MessageHandler func(m Message) error

// Dispatcher routes decoded messages by kind. Kinds without a handler go to
// Default, or are dropped when Default is nil.
type Dispatcher struct {
	handlers map[Kind]MessageHandler
	Default  MessageHandler
}

// NewDispatcher returns an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[Kind]MessageHandler)}
}

// On registers h for kind and returns d for chaining.
func (d *Dispatcher) On(kind Kind, h MessageHandler) *Dispatcher {
	d.handlers[kind] = h
	return d
}

// Dispatch runs the handler registered for m.Kind.
func (d *Dispatcher) Dispatch(m Message) error {
	if h, ok := d.handlers[m.Kind]; ok {
		return h(m)
	}
	if d.Default != nil {
		return d.Default(m)
	}
	return nil
}

// Handler adapts d into a subscription Handler. Decode and dispatch errors
// are passed to onErr.
func (d *Dispatcher) Handler(onErr func(error)) Handler {
	return func(payload []byte) {
		m, err := DecodeMessage(payload)
		if err == nil {
			err = d.Dispatch(m)
		}
		if err != nil && onErr != nil {
			onErr(err)
		}
	}
}
