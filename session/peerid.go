package session

import (
	"encoding/hex"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// PeerID identifies a process on the wire.
type PeerID []byte

func (p PeerID) String() string {
	return hex.EncodeToString(p)
}

var localPeerID = sync.OnceValue(func() PeerID {
	id := uuid.New()
	return PeerID(id[:])
})

// LocalPeerID returns the random identifier of this process. It is
// generated on first use and reused for every session.
func LocalPeerID() PeerID {
	return localPeerID()
}

// WhatAmI is the role a peer announces during the handshake.
type WhatAmI uint64

const (
	WhatAmIRouter WhatAmI = 1
	WhatAmIPeer   WhatAmI = 2
	WhatAmIClient WhatAmI = 4
)

func (w WhatAmI) String() string {
	switch w {
	case WhatAmIRouter:
		return "router"
	case WhatAmIPeer:
		return "peer"
	case WhatAmIClient:
		return "client"
	default:
		return "unknown"
	}
}

// ErrUnsupportedMode is returned by ParseWhatAmI for unknown modes.
var ErrUnsupportedMode = errors.New("session: unsupported mode")

// ParseWhatAmI parses a --mode value.
func ParseWhatAmI(mode string) (WhatAmI, error) {
	switch strings.ToLower(mode) {
	case "router":
		return WhatAmIRouter, nil
	case "peer":
		return WhatAmIPeer, nil
	case "client":
		return WhatAmIClient, nil
	default:
		return 0, errors.Wrapf(ErrUnsupportedMode, "%q", mode)
	}
}

// Locator is a transport endpoint such as "tcp/127.0.0.1:7447".
type Locator struct {
	Protocol string
	Address  string
}

// ErrInvalidLocator is returned by ParseLocator.
var ErrInvalidLocator = errors.New("session: invalid locator")

// ParseLocator parses "<proto>/<host:port>". Only tcp and udp are
// supported.
func ParseLocator(s string) (Locator, error) {
	proto, addr, ok := strings.Cut(s, "/")
	if !ok || addr == "" {
		return Locator{}, errors.Wrapf(ErrInvalidLocator, "%q: expected <proto>/<address>", s)
	}
	proto = strings.ToLower(proto)
	if proto != "tcp" && proto != "udp" {
		return Locator{}, errors.Wrapf(ErrInvalidLocator, "%q: unsupported protocol %q", s, proto)
	}
	return Locator{Protocol: proto, Address: addr}, nil
}

func (l Locator) String() string {
	return l.Protocol + "/" + l.Address
}
