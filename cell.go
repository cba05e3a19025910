package bench

import (
	"sync"

	"github.com/pkg/errors"
)

var (
	// ErrUnbound is returned by Cell.Get before the cell has been set. It
	// marks a broken precondition, not a condition to retry on.
	ErrUnbound = errors.New("bench: cell read before it was bound")

	// ErrAlreadyBound is returned when a Cell is set twice.
	ErrAlreadyBound = errors.New("bench: cell already bound")
)

// Cell holds a value that is bound exactly once after its owner has been
// constructed, such as a reply handle a receiver only learns about once the
// connection it is attached to exists.
type Cell[T any] struct {
	mu    sync.Mutex
	value T
	bound bool
}

// Set binds v. Only the first call succeeds.
func (c *Cell[T]) Set(v T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bound {
		return ErrAlreadyBound
	}
	c.value = v
	c.bound = true
	return nil
}

// Get returns the bound value or ErrUnbound.
func (c *Cell[T]) Get() (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.bound {
		var zero T
		return zero, ErrUnbound
	}
	return c.value, nil
}
