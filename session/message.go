package session

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Version is the protocol version announced in InitSyn.
const Version = 0x05

// Message ids, in the low five bits of the header byte.
const (
	idInit      = 0x03
	idOpen      = 0x04
	idKeepAlive = 0x08
	idFrame     = 0x0a

	idMask = 0x1f
)

// Header flags, in the high three bits of the header byte.
const (
	flagA = 0x20 // Init, Open: acknowledgment
	flagS = 0x40 // Init: sn resolution present
	flagO = 0x80 // Init: options present
	flagT = 0x40 // Open: lease in seconds
	flagI = 0x20 // KeepAlive: peer id present
	flagR = 0x20 // Frame: reliable

	optionQoS = 0x01
)

// CookieSize is the size of the cookie sent in InitAck.
const CookieSize = 8

// ErrUnknownMessage is returned when decoding a header with an unknown id.
var ErrUnknownMessage = errors.New("session: unknown message id")

// Message is one session message.
type Message interface {
	fmt.Stringer
	appendTo(b []byte) []byte
}

// InitSyn opens the handshake.
type InitSyn struct {
	Version uint8
	WhatAmI WhatAmI
	PeerID  PeerID
	// SNResolution is omitted from the wire when zero.
	SNResolution uint64
	IsQoS        bool
}

func (m *InitSyn) appendTo(b []byte) []byte {
	header := byte(idInit)
	if m.SNResolution != 0 {
		header |= flagS
	}
	if m.IsQoS {
		header |= flagO
	}
	b = append(b, header)
	if m.IsQoS {
		b = appendZint(b, optionQoS)
	}
	b = append(b, m.Version)
	b = appendZint(b, uint64(m.WhatAmI))
	b = appendBytes(b, m.PeerID)
	if m.SNResolution != 0 {
		b = appendZint(b, m.SNResolution)
	}
	return b
}

func (m *InitSyn) String() string {
	return fmt.Sprintf("InitSyn{version: %#x, whatami: %s, pid: %s, sn_resolution: %d, qos: %t}",
		m.Version, m.WhatAmI, m.PeerID, m.SNResolution, m.IsQoS)
}

// InitAck answers InitSyn.
type InitAck struct {
	WhatAmI      WhatAmI
	PeerID       PeerID
	SNResolution uint64
	IsQoS        bool
	Cookie       []byte
}

func (m *InitAck) appendTo(b []byte) []byte {
	header := byte(idInit | flagA)
	if m.SNResolution != 0 {
		header |= flagS
	}
	if m.IsQoS {
		header |= flagO
	}
	b = append(b, header)
	if m.IsQoS {
		b = appendZint(b, optionQoS)
	}
	b = appendZint(b, uint64(m.WhatAmI))
	b = appendBytes(b, m.PeerID)
	if m.SNResolution != 0 {
		b = appendZint(b, m.SNResolution)
	}
	return appendBytes(b, m.Cookie)
}

func (m *InitAck) String() string {
	return fmt.Sprintf("InitAck{whatami: %s, pid: %s, sn_resolution: %d, qos: %t, cookie: %x}",
		m.WhatAmI, m.PeerID, m.SNResolution, m.IsQoS, m.Cookie)
}

// OpenSyn carries the initiator's lease and initial sequence number.
type OpenSyn struct {
	Lease     time.Duration
	InitialSN uint64
	Cookie    []byte
}

func (m *OpenSyn) appendTo(b []byte) []byte {
	b = appendLease(b, idOpen, m.Lease)
	b = appendZint(b, m.InitialSN)
	return appendBytes(b, m.Cookie)
}

func (m *OpenSyn) String() string {
	return fmt.Sprintf("OpenSyn{lease: %s, initial_sn: %d, cookie: %x}", m.Lease, m.InitialSN, m.Cookie)
}

// OpenAck completes the handshake.
type OpenAck struct {
	Lease     time.Duration
	InitialSN uint64
}

func (m *OpenAck) appendTo(b []byte) []byte {
	b = appendLease(b, idOpen|flagA, m.Lease)
	return appendZint(b, m.InitialSN)
}

func (m *OpenAck) String() string {
	return fmt.Sprintf("OpenAck{lease: %s, initial_sn: %d}", m.Lease, m.InitialSN)
}

// appendLease writes the header and the lease, in seconds when it is a
// whole number of seconds and in milliseconds otherwise.
func appendLease(b []byte, header byte, lease time.Duration) []byte {
	if lease%time.Second == 0 {
		return appendZint(append(b, header|flagT), uint64(lease/time.Second))
	}
	return appendZint(append(b, header), uint64(lease/time.Millisecond))
}

// KeepAlive is sent periodically on an idle session.
type KeepAlive struct {
	// PeerID is omitted from the wire when nil.
	PeerID PeerID
}

func (m *KeepAlive) appendTo(b []byte) []byte {
	if m.PeerID == nil {
		return append(b, idKeepAlive)
	}
	return appendBytes(append(b, idKeepAlive|flagI), m.PeerID)
}

func (m *KeepAlive) String() string {
	return fmt.Sprintf("KeepAlive{pid: %s}", m.PeerID)
}

// Frame carries one application payload published on Key.
type Frame struct {
	Reliable bool
	SN       uint64
	Key      string
	Payload  []byte
}

func (m *Frame) appendTo(b []byte) []byte {
	header := byte(idFrame)
	if m.Reliable {
		header |= flagR
	}
	b = appendZint(append(b, header), m.SN)
	b = appendBytes(b, []byte(m.Key))
	return append(b, m.Payload...)
}

func (m *Frame) String() string {
	return fmt.Sprintf("Frame{sn: %d, key: %s, reliable: %t, payload: %d bytes}",
		m.SN, m.Key, m.Reliable, len(m.Payload))
}

// Marshal serializes m without any framing.
func Marshal(m Message) []byte {
	return m.appendTo(nil)
}

// Unmarshal parses one message body. The returned message may alias body.
func Unmarshal(body []byte) (Message, error) {
	r := &reader{buf: body}
	header, err := r.byte()
	if err != nil {
		return nil, err
	}
	switch header & idMask {
	case idInit:
		if header&flagA != 0 {
			return unmarshalInitAck(r, header)
		}
		return unmarshalInitSyn(r, header)
	case idOpen:
		return unmarshalOpen(r, header)
	case idKeepAlive:
		m := &KeepAlive{}
		if header&flagI != 0 {
			if m.PeerID, err = r.bytes(); err != nil {
				return nil, err
			}
		}
		return m, nil
	case idFrame:
		m := &Frame{Reliable: header&flagR != 0}
		if m.SN, err = r.zint(); err != nil {
			return nil, err
		}
		key, err := r.bytes()
		if err != nil {
			return nil, err
		}
		m.Key = string(key)
		m.Payload = r.rest()
		return m, nil
	default:
		return nil, errors.Wrapf(ErrUnknownMessage, "header %#02x", header)
	}
}

func unmarshalOptions(r *reader, header byte) (qos bool, err error) {
	if header&flagO == 0 {
		return false, nil
	}
	opts, err := r.zint()
	return opts&optionQoS != 0, err
}

func unmarshalInitSyn(r *reader, header byte) (Message, error) {
	m := &InitSyn{}
	var err error
	if m.IsQoS, err = unmarshalOptions(r, header); err != nil {
		return nil, err
	}
	if m.Version, err = r.byte(); err != nil {
		return nil, err
	}
	w, err := r.zint()
	if err != nil {
		return nil, err
	}
	m.WhatAmI = WhatAmI(w)
	if m.PeerID, err = r.bytes(); err != nil {
		return nil, err
	}
	if header&flagS != 0 {
		if m.SNResolution, err = r.zint(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func unmarshalInitAck(r *reader, header byte) (Message, error) {
	m := &InitAck{}
	var err error
	if m.IsQoS, err = unmarshalOptions(r, header); err != nil {
		return nil, err
	}
	w, err := r.zint()
	if err != nil {
		return nil, err
	}
	m.WhatAmI = WhatAmI(w)
	if m.PeerID, err = r.bytes(); err != nil {
		return nil, err
	}
	if header&flagS != 0 {
		if m.SNResolution, err = r.zint(); err != nil {
			return nil, err
		}
	}
	if m.Cookie, err = r.bytes(); err != nil {
		return nil, err
	}
	return m, nil
}

func unmarshalOpen(r *reader, header byte) (Message, error) {
	v, err := r.zint()
	if err != nil {
		return nil, err
	}
	lease := time.Duration(v) * time.Millisecond
	if header&flagT != 0 {
		lease = time.Duration(v) * time.Second
	}
	sn, err := r.zint()
	if err != nil {
		return nil, err
	}
	if header&flagA != 0 {
		return &OpenAck{Lease: lease, InitialSN: sn}, nil
	}
	cookie, err := r.bytes()
	if err != nil {
		return nil, err
	}
	return &OpenSyn{Lease: lease, InitialSN: sn, Cookie: cookie}, nil
}
