package bench

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrClosed is returned when using a Requester after Teardown.
var ErrClosed = errors.New("bench: requester closed")

const loopbackQueue = 1024

// Loopback implements RequesterFactory with an in-process broker. Every
// Requester it hands out shares one subscription table, so a Publish on any
// of them reaches the subscribers of all of them.
type Loopback struct {
	mu   sync.RWMutex
	subs map[string][]*loopbackSub
}

// NewLoopback returns an empty in-process broker.
func NewLoopback() *Loopback {
	return &Loopback{subs: make(map[string][]*loopbackSub)}
}

// GetRequester returns a new Requester attached to l.
func (l *Loopback) GetRequester(num uint64) Requester {
	return &loopbackRequester{broker: l}
}

func (l *Loopback) publish(key string, payload []byte) {
	l.mu.RLock()
	subs := l.subs[key]
	l.mu.RUnlock()
	for _, s := range subs {
		msg := make([]byte, len(payload))
		copy(msg, payload)
		s.deliver(msg)
	}
}

func (l *Loopback) subscribe(key string, s *loopbackSub) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs[key] = append(l.subs[key], s)
}

func (l *Loopback) unsubscribe(key string, s *loopbackSub) {
	l.mu.Lock()
	defer l.mu.Unlock()
	subs := l.subs[key]
	for i, other := range subs {
		if other == s {
			l.subs[key] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// loopbackSub delivers messages to its handler from a dedicated goroutine,
// in publish order, the way a client library's receive loop would.
type loopbackSub struct {
	inbound chan []byte
	done    chan struct{}
	once    sync.Once
}

func newLoopbackSub(h Handler) *loopbackSub {
	s := &loopbackSub{
		inbound: make(chan []byte, loopbackQueue),
		done:    make(chan struct{}),
	}
	go func() {
		for {
			select {
			case msg := <-s.inbound:
				h(msg)
			case <-s.done:
				return
			}
		}
	}()
	return s
}

func (s *loopbackSub) deliver(msg []byte) {
	select {
	case s.inbound <- msg:
	case <-s.done:
	}
}

func (s *loopbackSub) close() {
	s.once.Do(func() { close(s.done) })
}

type loopbackRequester struct {
	broker *Loopback
	mu     sync.Mutex
	subs   map[string][]*loopbackSub
	closed bool
}

// Setup prepares the Requester for benchmarking.
func (r *loopbackRequester) Setup() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = make(map[string][]*loopbackSub)
	r.closed = false
	return nil
}

func (r *loopbackRequester) Publish(key string, payload []byte) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}
	r.broker.publish(key, payload)
	return nil
}

func (r *loopbackRequester) Subscribe(key string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	s := newLoopbackSub(h)
	r.subs[key] = append(r.subs[key], s)
	r.broker.subscribe(key, s)
	return nil
}

// Teardown is called upon benchmark completion.
func (r *loopbackRequester) Teardown() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, subs := range r.subs {
		for _, s := range subs {
			r.broker.unsubscribe(key, s)
			s.close()
		}
	}
	r.subs = nil
	r.closed = true
	return nil
}
