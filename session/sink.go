package session

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	bench "github.com/ssd532/psbench"
)

// DefaultPeerTTL is how long a UDP peer may stay silent before the sink
// forgets it.
const DefaultPeerTTL = 10 * time.Second

// Sink accepts sessions and counts everything they send: every frame as a
// message and every byte, framing included, towards the bandwidth.
type Sink struct {
	config  Config
	peerTTL time.Duration
	logger  *zap.Logger
}

// NewSink returns a Sink. config.Counters receives the counts; one is
// created when it is nil.
func NewSink(config Config, peerTTL time.Duration) *Sink {
	if config.Counters == nil {
		config.Counters = &bench.Counters{}
	}
	if peerTTL <= 0 {
		peerTTL = DefaultPeerTTL
	}
	return &Sink{config: config, peerTTL: peerTTL, logger: config.logger()}
}

// Counters returns the counters the sink feeds.
func (s *Sink) Counters() *bench.Counters {
	return s.config.Counters
}

// Listen opens a TCP listener whose sessions feed the sink's counters.
func (s *Sink) Listen(loc Locator) (*Listener, error) {
	return Listen(loc, s.config)
}

// Serve listens on loc and serves until ctx is canceled.
func (s *Sink) Serve(ctx context.Context, loc Locator) error {
	if loc.Protocol == "udp" {
		pc, err := net.ListenPacket("udp", loc.Address)
		if err != nil {
			return errors.Wrapf(err, "listen on %s", loc)
		}
		return s.ServePacket(ctx, pc)
	}
	ln, err := s.Listen(loc)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener accepts TCP sessions on ln until ctx is canceled.
func (s *Sink) ServeListener(ctx context.Context, ln *Listener) error {
	s.logger.Info("sink listening", zap.Stringer("locator", ln.Locator()))
	return ln.Serve(ctx, nil, nil)
}

type udpPeer struct {
	acceptor *Acceptor
	active   atomic.Bool
}

// ServePacket runs the handshake with every UDP peer writing to pc and
// counts what established peers send, until ctx is canceled. Peers are
// forgotten after peerTTL of silence.
func (s *Sink) ServePacket(ctx context.Context, pc net.PacketConn) error {
	peers := ttlcache.New[string, *udpPeer](ttlcache.WithTTL[string, *udpPeer](s.peerTTL))
	peers.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *udpPeer]) {
		item.Value().active.Store(false)
		if reason == ttlcache.EvictionReasonExpired {
			s.logger.Info("udp peer expired", zap.String("addr", item.Key()))
		}
	})
	go peers.Start()
	defer peers.Stop()
	defer peers.DeleteAll()

	stop := context.AfterFunc(ctx, func() { _ = pc.Close() })
	defer stop()

	s.logger.Info("sink listening", zap.Stringer("addr", pc.LocalAddr()))
	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "read datagram")
		}
		key := addr.String()

		var peer *udpPeer
		if item := peers.Get(key); item != nil {
			peer = item.Value()
		} else {
			peer = &udpPeer{acceptor: NewAcceptor(s.config.WhatAmI, s.config.peerID())}
			_ = peer.acceptor.Accept()
			peers.Set(key, peer, ttlcache.DefaultTTL)
		}

		if peer.acceptor.State() == StateEstablished {
			if n > 0 && buf[0]&idMask == idFrame {
				s.config.Counters.Add(n)
			} else {
				s.config.Counters.AddBytes(n)
			}
			continue
		}

		if err := s.handshakeStep(pc, addr, peer, buf[:n]); err != nil {
			s.logger.Warn("rejected udp peer", zap.String("addr", key), zap.Error(err))
			peers.Delete(key)
		}
	}
}

func (s *Sink) handshakeStep(pc net.PacketConn, addr net.Addr, peer *udpPeer, datagram []byte) error {
	m, err := Unmarshal(datagram)
	if err != nil {
		return err
	}
	reply, err := peer.acceptor.Step(m)
	if err != nil {
		return err
	}
	send := func(m Message) error {
		_, err := pc.WriteTo(Marshal(m), addr)
		return err
	}
	if err := send(reply); err != nil {
		return errors.Wrap(err, "write handshake")
	}
	if peer.acceptor.State() == StateEstablished {
		params := peer.acceptor.Params()
		s.logger.Info("udp session accepted",
			zap.Stringer("addr", addr),
			zap.Stringer("remote", params.PeerID),
			zap.Duration("lease", params.Lease))
		peer.active.Store(true)
		go NewKeepAliveScheduler(s.config.KeepAlive, &peer.active, send, s.logger).Run()
	}
	return nil
}
