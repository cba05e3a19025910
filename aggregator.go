package bench

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultReportPeriod is how often an Aggregator reports by default.
const DefaultReportPeriod = time.Second

// Counters are the event counters shared by the goroutines of one
// benchmark. They are created by the caller and handed to every goroutine
// that touches them.
type Counters struct {
	messages atomic.Uint64
	bytes    atomic.Uint64
	rtt      atomic.Int64
}

// Add records one message of n bytes.
func (c *Counters) Add(n int) {
	c.messages.Add(1)
	c.bytes.Add(uint64(n))
}

// AddBytes records n transferred bytes without counting a message.
func (c *Counters) AddBytes(n int) {
	c.bytes.Add(uint64(n))
}

// Observe records one message of n bytes that completed a round trip of
// rtt.
func (c *Counters) Observe(n int, rtt time.Duration) {
	c.Add(n)
	c.rtt.Add(int64(rtt))
}

func (c *Counters) swap() (messages, bytes uint64, rtt time.Duration) {
	return c.messages.Swap(0), c.bytes.Swap(0), time.Duration(c.rtt.Swap(0))
}

// Report summarizes one aggregation window.
type Report struct {
	Messages uint64
	Bytes    uint64
	Elapsed  time.Duration
	// Rate is messages per second.
	Rate float64
	// ByteRate is bytes per second.
	ByteRate float64
	// MeanRTT is the cumulative round-trip time divided by Messages; zero
	// when no round trips were observed.
	MeanRTT time.Duration
}

// Gbps returns the bit rate of the window in gigabits per second.
func (r Report) Gbps() float64 {
	return r.ByteRate * 8 / 1e9
}

// Aggregator periodically drains Counters and emits a Report per window.
type Aggregator struct {
	counters *Counters
	period   time.Duration
	emit     func(Report)
	logger   *zap.Logger
}

// NewAggregator returns an Aggregator draining c every period. A zero
// period means DefaultReportPeriod.
func NewAggregator(c *Counters, period time.Duration, emit func(Report), logger *zap.Logger) *Aggregator {
	if period <= 0 {
		period = DefaultReportPeriod
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{counters: c, period: period, emit: emit, logger: logger}
}

// Collect drains the counters into a Report for a window of the given
// length. It reports false when the window saw no events.
func (a *Aggregator) Collect(elapsed time.Duration) (Report, bool) {
	messages, bytes, rtt := a.counters.swap()
	if messages == 0 && bytes == 0 {
		return Report{}, false
	}
	r := Report{Messages: messages, Bytes: bytes, Elapsed: elapsed}
	if secs := elapsed.Seconds(); secs > 0 {
		r.Rate = float64(messages) / secs
		r.ByteRate = float64(bytes) / secs
	}
	if messages > 0 {
		r.MeanRTT = rtt / time.Duration(messages)
	}
	return r, true
}

// Run emits a Report every period until ctx is done.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.period)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			a.logger.Debug("aggregator stopped")
			return
		case now := <-ticker.C:
			r, ok := a.Collect(now.Sub(last))
			last = now
			if ok {
				a.emit(r)
			}
		}
	}
}
