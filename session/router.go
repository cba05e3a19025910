package session

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Router relays every frame received on one session to all the others.
type Router struct {
	config Config
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[*Session]struct{}
}

// NewRouter returns a Router announcing itself as a router.
func NewRouter(config Config) *Router {
	config.WhatAmI = WhatAmIRouter
	return &Router{
		config:   config,
		logger:   config.logger(),
		sessions: make(map[*Session]struct{}),
	}
}

// Listen opens a TCP listener for the router.
func (r *Router) Listen(loc Locator) (*Listener, error) {
	return Listen(loc, r.config)
}

// Serve accepts sessions on ln and relays between them until ctx is
// canceled.
func (r *Router) Serve(ctx context.Context, ln *Listener) error {
	r.logger.Info("router listening", zap.Stringer("locator", ln.Locator()))
	err := ln.Serve(ctx, r.forward, r.add)

	r.mu.Lock()
	for s := range r.sessions {
		_ = s.Close()
	}
	r.mu.Unlock()
	return err
}

// Len returns the number of connected sessions.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Router) add(s *Session) {
	r.mu.Lock()
	r.sessions[s] = struct{}{}
	r.mu.Unlock()

	go func() {
		<-s.Done()
		r.mu.Lock()
		delete(r.sessions, s)
		r.mu.Unlock()
	}()
}

// peers returns the connected sessions other than from.
func (r *Router) peers(from *Session) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for s := range r.sessions {
		if s != from {
			out = append(out, s)
		}
	}
	return out
}

// forward publishes outside the lock: a peer whose socket is full blocks
// only the read loop of the sending session.
func (r *Router) forward(from *Session, f *Frame) {
	for _, s := range r.peers(from) {
		if err := s.Publish(f.Key, f.Payload); err != nil {
			r.logger.Debug("dropping frame", zap.Stringer("remote", s.Remote().PeerID), zap.Error(err))
		}
	}
}
