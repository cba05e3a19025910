package session

import (
	"context"
	"net"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Dial connects to loc and runs the initiator side of the handshake. The
// returned session is established but not started.
func Dial(ctx context.Context, loc Locator, config Config) (*Session, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, loc.Protocol, loc.Address)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", loc)
	}
	t := transportFor(loc, conn)

	// The handshake has no timeout of its own; tie it to ctx.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	i := NewInitiator(config.WhatAmI, config.peerID(), config.Lease, config.InitialSN, config.IsQoS)
	if err := open(t, i); err != nil {
		_ = t.Close()
		return nil, errors.Wrapf(err, "open session with %s", loc)
	}
	config.logger().Info("session opened",
		zap.Stringer("locator", loc),
		zap.Stringer("remote", i.Params().PeerID),
		zap.Stringer("whatami", i.Params().WhatAmI),
		zap.Duration("lease", i.Params().Lease))
	return newSession(t, config, i.Params()), nil
}

func transportFor(loc Locator, conn net.Conn) Transport {
	if loc.Protocol == "udp" {
		return NewDatagramTransport(conn)
	}
	return NewStreamTransport(conn)
}
