package session

import (
	"time"

	"github.com/pkg/errors"
)

// State is the position of one side of a connection in the handshake.
type State int

const (
	StateClosed State = iota
	// Acceptor states.
	StateListening
	StateAwaitInitSyn
	StateAwaitOpenSyn
	// Initiator states.
	StateIdle
	StateAwaitInitAck
	StateAwaitOpenAck

	StateEstablished
)

var stateNames = map[State]string{
	StateClosed:       "closed",
	StateListening:    "listening",
	StateAwaitInitSyn: "await-init-syn",
	StateAwaitOpenSyn: "await-open-syn",
	StateIdle:         "idle",
	StateAwaitInitAck: "await-init-ack",
	StateAwaitOpenAck: "await-open-ack",
	StateEstablished:  "established",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// ErrUnexpectedMessage is returned when a message arrives that the current
// handshake state does not expect. It is fatal for the connection.
var ErrUnexpectedMessage = errors.New("session: unexpected message")

// Params are the session parameters agreed on by the handshake.
type Params struct {
	PeerID    PeerID
	WhatAmI   WhatAmI
	Lease     time.Duration
	InitialSN uint64
	IsQoS     bool
}

// Acceptor is the accepting side of the handshake.
type Acceptor struct {
	whatami WhatAmI
	pid     PeerID
	state   State
	params  Params
}

// NewAcceptor returns an Acceptor in StateListening announcing itself as
// whatami with identifier pid.
func NewAcceptor(whatami WhatAmI, pid PeerID) *Acceptor {
	return &Acceptor{whatami: whatami, pid: pid, state: StateListening}
}

// State returns the current state.
func (a *Acceptor) State() State {
	return a.state
}

// Params returns what the initiator announced. It is complete once the
// state is StateEstablished.
func (a *Acceptor) Params() Params {
	return a.params
}

// Accept marks a new connection and starts waiting for InitSyn.
func (a *Acceptor) Accept() error {
	if a.state != StateListening {
		return a.violation("accept", nil)
	}
	a.state = StateAwaitInitSyn
	return nil
}

// Step feeds one received message and returns the reply to send.
func (a *Acceptor) Step(m Message) (Message, error) {
	switch a.state {
	case StateAwaitInitSyn:
		syn, ok := m.(*InitSyn)
		if !ok {
			return nil, a.violation("step", m)
		}
		a.params.PeerID = syn.PeerID
		a.params.WhatAmI = syn.WhatAmI
		a.params.IsQoS = syn.IsQoS
		a.state = StateAwaitOpenSyn
		return &InitAck{
			WhatAmI: a.whatami,
			PeerID:  a.pid,
			IsQoS:   syn.IsQoS,
			Cookie:  make([]byte, CookieSize),
		}, nil
	case StateAwaitOpenSyn:
		syn, ok := m.(*OpenSyn)
		if !ok {
			return nil, a.violation("step", m)
		}
		a.params.Lease = syn.Lease
		a.params.InitialSN = syn.InitialSN
		a.state = StateEstablished
		return &OpenAck{Lease: syn.Lease, InitialSN: syn.InitialSN}, nil
	default:
		return nil, a.violation("step", m)
	}
}

// Close moves the acceptor to StateClosed after an I/O error.
func (a *Acceptor) Close() {
	a.state = StateClosed
}

func (a *Acceptor) violation(op string, m Message) error {
	state := a.state
	a.state = StateClosed
	return unexpected(op, state, m)
}

// Initiator is the connecting side of the handshake.
type Initiator struct {
	whatami   WhatAmI
	pid       PeerID
	lease     time.Duration
	initialSN uint64
	isQoS     bool

	state  State
	params Params
}

// NewInitiator returns an Initiator in StateIdle.
func NewInitiator(whatami WhatAmI, pid PeerID, lease time.Duration, initialSN uint64, isQoS bool) *Initiator {
	return &Initiator{
		whatami:   whatami,
		pid:       pid,
		lease:     lease,
		initialSN: initialSN,
		isQoS:     isQoS,
		state:     StateIdle,
	}
}

// State returns the current state.
func (i *Initiator) State() State {
	return i.state
}

// Params returns what the acceptor answered.
func (i *Initiator) Params() Params {
	return i.params
}

// Start returns the InitSyn to send.
func (i *Initiator) Start() (Message, error) {
	if i.state != StateIdle {
		return nil, i.violation("start", nil)
	}
	i.state = StateAwaitInitAck
	return &InitSyn{Version: Version, WhatAmI: i.whatami, PeerID: i.pid, IsQoS: i.isQoS}, nil
}

// Step feeds one received message. It returns the next message to send, or
// nil once the session is established.
func (i *Initiator) Step(m Message) (Message, error) {
	switch i.state {
	case StateAwaitInitAck:
		ack, ok := m.(*InitAck)
		if !ok {
			return nil, i.violation("step", m)
		}
		i.params.PeerID = ack.PeerID
		i.params.WhatAmI = ack.WhatAmI
		i.params.IsQoS = ack.IsQoS
		i.state = StateAwaitOpenAck
		return &OpenSyn{Lease: i.lease, InitialSN: i.initialSN, Cookie: ack.Cookie}, nil
	case StateAwaitOpenAck:
		ack, ok := m.(*OpenAck)
		if !ok {
			return nil, i.violation("step", m)
		}
		i.params.Lease = ack.Lease
		i.params.InitialSN = ack.InitialSN
		i.state = StateEstablished
		return nil, nil
	default:
		return nil, i.violation("step", m)
	}
}

// Close moves the initiator to StateClosed after an I/O error.
func (i *Initiator) Close() {
	i.state = StateClosed
}

func (i *Initiator) violation(op string, m Message) error {
	state := i.state
	i.state = StateClosed
	return unexpected(op, state, m)
}

func unexpected(op string, state State, m Message) error {
	if m == nil {
		return errors.Wrapf(ErrUnexpectedMessage, "%s in state %s", op, state)
	}
	return errors.Wrapf(ErrUnexpectedMessage, "%s in state %s: %s", op, state, m)
}

// accept runs the acceptor side of the handshake over t.
func accept(t Transport, a *Acceptor) error {
	if err := a.Accept(); err != nil {
		return err
	}
	for a.State() != StateEstablished {
		m, _, err := t.Recv()
		if err != nil {
			a.Close()
			return errors.Wrap(err, "read handshake")
		}
		reply, err := a.Step(m)
		if err != nil {
			return err
		}
		if err := t.Send(reply); err != nil {
			a.Close()
			return errors.Wrap(err, "write handshake")
		}
	}
	return nil
}

// open runs the initiator side of the handshake over t.
func open(t Transport, i *Initiator) error {
	m, err := i.Start()
	for err == nil && m != nil {
		if err = t.Send(m); err != nil {
			i.Close()
			return errors.Wrap(err, "write handshake")
		}
		var reply Message
		if reply, _, err = t.Recv(); err != nil {
			i.Close()
			return errors.Wrap(err, "read handshake")
		}
		m, err = i.Step(reply)
	}
	return err
}
