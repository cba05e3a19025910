package bench

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrDuplicateSequence is returned when inserting a sequence number that
	// is still pending.
	ErrDuplicateSequence = errors.New("bench: sequence already pending")

	// ErrUnknownSequence is returned when completing a sequence number that
	// is not pending. The harness assumes a lossless, duplicate free
	// transport, so drivers stop the run when they see it.
	ErrUnknownSequence = errors.New("bench: sequence not pending")
)

// Rendezvous is a single use two-party barrier: the sender and the
// completer both block until the other has arrived.
type Rendezvous struct {
	sender    chan struct{}
	completer chan struct{}
}

// NewRendezvous returns a fresh barrier.
func NewRendezvous() *Rendezvous {
	return &Rendezvous{
		sender:    make(chan struct{}),
		completer: make(chan struct{}),
	}
}

// Wait is the sender side. It returns once Release has been called or ctx
// is done.
func (r *Rendezvous) Wait(ctx context.Context) error {
	close(r.sender)
	select {
	case <-r.completer:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Abandon is the sender giving up without waiting, after a failed send. A
// completer that already took the waiter returns from Release. Wait must
// not be called afterwards.
func (r *Rendezvous) Abandon() {
	close(r.sender)
}

// Release is the completer side. It blocks until the sender reaches Wait.
func (r *Rendezvous) Release() {
	close(r.completer)
	<-r.sender
}

type waiterKind uint8

const (
	waiterTimestamp waiterKind = iota + 1
	waiterRendezvous
)

// Waiter represents whoever is waiting for the reply to a probe: either the
// time the probe was sent (parallel discipline) or a barrier the sender is
// blocked on (sequential discipline).
type Waiter struct {
	kind       waiterKind
	sentAt     time.Time
	rendezvous *Rendezvous
}

// TimestampWaiter returns a Waiter recording when a probe was sent.
func TimestampWaiter(sentAt time.Time) Waiter {
	return Waiter{kind: waiterTimestamp, sentAt: sentAt}
}

// RendezvousWaiter returns a Waiter wrapping r.
func RendezvousWaiter(r *Rendezvous) Waiter {
	return Waiter{kind: waiterRendezvous, rendezvous: r}
}

// SentAt returns the send time and whether w is a timestamp waiter.
func (w Waiter) SentAt() (time.Time, bool) {
	return w.sentAt, w.kind == waiterTimestamp
}

// Rendezvous returns the barrier and whether w is a rendezvous waiter.
func (w Waiter) Rendezvous() (*Rendezvous, bool) {
	return w.rendezvous, w.kind == waiterRendezvous
}

// CorrelationTable maps outstanding probe sequence numbers to their
// waiters. It is shared between the send path (Insert) and the receive path
// (Complete).
type CorrelationTable struct {
	mu      sync.Mutex
	pending map[uint64]Waiter
}

// NewCorrelationTable returns an empty table.
func NewCorrelationTable() *CorrelationTable {
	return &CorrelationTable{pending: make(map[uint64]Waiter)}
}

// Insert registers w as the waiter for seq. It must be called before the
// probe carrying seq is sent.
func (t *CorrelationTable) Insert(seq uint64, w Waiter) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[seq]; ok {
		return errors.Wrapf(ErrDuplicateSequence, "seq %d", seq)
	}
	t.pending[seq] = w
	return nil
}

// Complete removes and returns the waiter for seq.
func (t *CorrelationTable) Complete(seq uint64) (Waiter, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.pending[seq]
	if !ok {
		return Waiter{}, errors.Wrapf(ErrUnknownSequence, "seq %d", seq)
	}
	delete(t.pending, seq)
	return w, nil
}

// Len returns the number of pending entries.
func (t *CorrelationTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
