package bench

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DefaultSettle is how long drivers wait after subscribing before they start
// sending. Brokers propagate subscriptions asynchronously and messages sent
// before that completes are silently dropped.
const DefaultSettle = time.Second

// run tracks the first fatal error of a driver. Handlers running on
// transport goroutines report failures through fail, which also cancels the
// driver's context so blocked senders wake up.
type run struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	mu  sync.Mutex
	err error
}

func newRun(ctx context.Context, logger *zap.Logger) *run {
	ctx, cancel := context.WithCancel(ctx)
	return &run{ctx: ctx, cancel: cancel, logger: logger}
}

func (r *run) fail(err error) {
	r.mu.Lock()
	if r.err == nil {
		r.err = err
		r.logger.Error("benchmark failed", zap.Error(err))
	}
	r.mu.Unlock()
	r.cancel()
}

// result returns the fatal error, if any. Cancellation of the parent
// context is a normal way to end a run and is not reported.
func (r *run) result() error {
	r.cancel()
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// sleep waits for d or until the run ends. It reports whether the run is
// still going.
func (r *run) sleep(d time.Duration) bool {
	if d <= 0 {
		return r.ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-r.ctx.Done():
		return false
	}
}

// drain waits until the table has no pending entries or the run ends.
func (r *run) drain(t *CorrelationTable) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for t.Len() > 0 {
		select {
		case <-ticker.C:
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *run) emit(sink Sink, rec Record) {
	if sink == nil {
		return
	}
	if err := sink.Write(rec); err != nil {
		r.logger.Warn("failed to write record", zap.String("test", rec.Test), zap.Error(err))
	}
}

// aggregate starts an Aggregator on counters for the lifetime of the run.
func (r *run) aggregate(counters *Counters, period time.Duration, emit func(Report)) {
	go NewAggregator(counters, period, emit, r.logger).Run(r.ctx)
}

// setup prepares req and subscribes the handlers, then waits settle.
func setup(req Requester, subs map[string]Handler, settle time.Duration) error {
	if err := req.Setup(); err != nil {
		return errors.Wrap(err, "setup requester")
	}
	for key, h := range subs {
		if err := req.Subscribe(key, h); err != nil {
			return errors.Wrapf(err, "subscribe %s", key)
		}
	}
	if settle > 0 {
		time.Sleep(settle)
	}
	return nil
}

func teardown(req Requester, logger *zap.Logger) {
	if err := req.Teardown(); err != nil {
		logger.Warn("failed to tear down requester", zap.Error(err))
	}
}

func orNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
