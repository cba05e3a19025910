package session

import (
	"context"
	"net"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrUnsupportedProtocol is returned when listening on a locator that only
// the sink can serve.
var ErrUnsupportedProtocol = errors.New("session: unsupported protocol")

// Listener accepts sessions on a stream locator.
type Listener struct {
	ln     net.Listener
	config Config
	logger *zap.Logger
}

// Listen opens a TCP listener on loc.
func Listen(loc Locator, config Config) (*Listener, error) {
	if loc.Protocol != "tcp" {
		return nil, errors.Wrapf(ErrUnsupportedProtocol, "listen on %s", loc)
	}
	ln, err := net.Listen("tcp", loc.Address)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", loc)
	}
	return &Listener{ln: ln, config: config, logger: config.logger()}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Locator returns the bound address as a locator.
func (l *Listener) Locator() Locator {
	return Locator{Protocol: "tcp", Address: l.ln.Addr().String()}
}

// Accept waits for a connection and runs the acceptor side of the
// handshake on it. A failed handshake closes the connection and is returned
// as an error; the listener stays usable. Canceling ctx closes the
// listener.
func (l *Listener) Accept(ctx context.Context) (*Session, error) {
	stop := context.AfterFunc(ctx, func() { _ = l.ln.Close() })
	defer stop()

	conn, err := l.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrap(err, "accept")
	}
	return l.handshake(conn)
}

func (l *Listener) handshake(conn net.Conn) (*Session, error) {
	t := NewStreamTransport(conn)
	a := NewAcceptor(l.config.WhatAmI, l.config.peerID())
	if err := accept(t, a); err != nil {
		_ = t.Close()
		return nil, errors.Wrapf(err, "handshake with %s", conn.RemoteAddr())
	}
	l.logger.Info("session accepted",
		zap.Stringer("addr", conn.RemoteAddr()),
		zap.Stringer("remote", a.Params().PeerID),
		zap.Stringer("whatami", a.Params().WhatAmI),
		zap.Duration("lease", a.Params().Lease))
	return newSession(t, l.config, a.Params()), nil
}

// Serve accepts sessions until ctx is canceled. Handshakes run
// concurrently; each established session is passed to onSession and then
// started with h. Failed handshakes are logged and do not stop the listener.
func (l *Listener) Serve(ctx context.Context, h FrameHandler, onSession func(*Session)) error {
	stop := context.AfterFunc(ctx, func() { _ = l.ln.Close() })
	defer stop()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "accept")
		}
		go func() {
			s, err := l.handshake(conn)
			if err != nil {
				l.logger.Warn("rejected connection", zap.Error(err))
				return
			}
			if onSession != nil {
				onSession(s)
			}
			s.Start(h)
		}()
	}
}

// Close stops the listener.
func (l *Listener) Close() error {
	return l.ln.Close()
}
