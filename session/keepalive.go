package session

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultKeepAlive is the period between two keep-alive messages.
const DefaultKeepAlive = time.Second

// KeepAliveScheduler sends an empty KeepAlive every period for as long as
// the shared active flag is set. The flag belongs to the read loop of the
// session, which clears it when the connection fails.
type KeepAliveScheduler struct {
	period time.Duration
	active *atomic.Bool
	send   func(Message) error
	logger *zap.Logger
}

// NewKeepAliveScheduler returns a scheduler using send to emit keep-alives.
func NewKeepAliveScheduler(period time.Duration, active *atomic.Bool, send func(Message) error, logger *zap.Logger) *KeepAliveScheduler {
	if period <= 0 {
		period = DefaultKeepAlive
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeepAliveScheduler{period: period, active: active, send: send, logger: logger}
}

// Run blocks until the flag is cleared or a send fails.
func (k *KeepAliveScheduler) Run() {
	ticker := time.NewTicker(k.period)
	defer ticker.Stop()

	for range ticker.C {
		if !k.active.Load() {
			return
		}
		if err := k.send(&KeepAlive{}); err != nil {
			k.logger.Debug("keep-alive stopped", zap.Error(err))
			return
		}
	}
}
