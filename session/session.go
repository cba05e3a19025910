// Package session implements a minimal session layer over raw TCP and UDP
// sockets: the four-message opening handshake, stream and datagram framing,
// keep-alives and data frames carrying a key and a payload.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	bench "github.com/ssd532/psbench"
)

// ErrSessionClosed is returned when sending on a session that is no longer
// active.
var ErrSessionClosed = errors.New("session: closed")

// Config holds the local side's session settings.
type Config struct {
	WhatAmI   WhatAmI
	PeerID    PeerID
	Lease     time.Duration
	InitialSN uint64
	IsQoS     bool
	// KeepAlive is the keep-alive period; zero means DefaultKeepAlive.
	KeepAlive time.Duration
	// Counters, when set, count every received frame and the wire bytes of
	// every received message.
	Counters *bench.Counters
	Logger   *zap.Logger
}

// DefaultConfig returns a client configuration with the process peer id.
func DefaultConfig() Config {
	return Config{
		WhatAmI:   WhatAmIClient,
		PeerID:    LocalPeerID(),
		Lease:     10 * time.Second,
		KeepAlive: DefaultKeepAlive,
	}
}

func (c Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func (c Config) peerID() PeerID {
	if c.PeerID == nil {
		return LocalPeerID()
	}
	return c.PeerID
}

// FrameHandler is called by the read loop for every data frame.
type FrameHandler func(s *Session, f *Frame)

// Session is an established connection.
type Session struct {
	transport Transport
	remote    Params
	config    Config
	logger    *zap.Logger

	active atomic.Bool
	wmu    sync.Mutex
	sn     uint64

	done chan struct{}
	once sync.Once
	err  error
}

func newSession(t Transport, config Config, remote Params) *Session {
	s := &Session{
		transport: t,
		remote:    remote,
		config:    config,
		logger:    config.logger().With(zap.Stringer("remote", remote.PeerID)),
		sn:        config.InitialSN,
		done:      make(chan struct{}),
	}
	s.active.Store(true)
	return s
}

// Remote returns the parameters announced by the other side.
func (s *Session) Remote() Params {
	return s.remote
}

// Active reports whether the session can still be used.
func (s *Session) Active() bool {
	return s.active.Load()
}

// Done is closed when the read loop has ended.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err blocks until the read loop has ended and returns the error that
// ended it.
func (s *Session) Err() error {
	<-s.done
	return s.err
}

// Start launches the read loop and the keep-alive scheduler.
func (s *Session) Start(h FrameHandler) {
	go NewKeepAliveScheduler(s.config.KeepAlive, &s.active, s.send, s.logger).Run()
	go s.serve(h)
}

// Publish sends payload on key as a reliable frame.
func (s *Session) Publish(key string, payload []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if !s.active.Load() {
		return ErrSessionClosed
	}
	f := &Frame{Reliable: true, SN: s.sn, Key: key, Payload: payload}
	s.sn++
	if err := s.transport.Send(f); err != nil {
		s.active.Store(false)
		return errors.Wrap(err, "send frame")
	}
	return nil
}

func (s *Session) send(m Message) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if !s.active.Load() {
		return ErrSessionClosed
	}
	if err := s.transport.Send(m); err != nil {
		s.active.Store(false)
		return err
	}
	return nil
}

// serve is the only reader of the transport. It runs until a read fails.
func (s *Session) serve(h FrameHandler) {
	defer close(s.done)
	for {
		m, n, err := s.transport.Recv()
		if err != nil {
			s.active.Store(false)
			s.err = err
			s.logger.Debug("session ended", zap.Error(err))
			return
		}
		if c := s.config.Counters; c != nil {
			if _, ok := m.(*Frame); ok {
				c.Add(n)
			} else {
				c.AddBytes(n)
			}
		}
		switch m := m.(type) {
		case *Frame:
			if h != nil {
				h(s, m)
			}
		case *KeepAlive:
		default:
			s.logger.Debug("ignoring message", zap.Stringer("message", m))
		}
	}
}

// Close stops the session. The read loop ends with the resulting read
// error.
func (s *Session) Close() error {
	var err error
	s.once.Do(func() {
		s.active.Store(false)
		err = s.transport.Close()
	})
	return err
}
