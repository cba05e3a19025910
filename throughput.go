package bench

import (
	"context"
	"encoding/binary"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// PublisherConfig configures a Publisher run.
type PublisherConfig struct {
	Labels  Labels
	Key     string
	Payload int
	// Rate limits publishing to that many messages per second; zero is
	// unlimited.
	Rate  float64
	Count uint64
	// Print enables per-window throughput records of the publishing side.
	Print        bool
	ReportPeriod time.Duration
}

// Publisher publishes fixed size messages on a key as fast as allowed.
type Publisher struct {
	requester Requester
	config    PublisherConfig
	sink      Sink
	logger    *zap.Logger
	counters  *Counters
	limiter   *rate.Limiter
}

// NewPublisher returns a Publisher driving r.
func NewPublisher(r Requester, config PublisherConfig, sink Sink, logger *zap.Logger) *Publisher {
	if config.Key == "" {
		config.Key = ThrKey
	}
	if config.Labels.Payload == 0 {
		config.Labels.Payload = config.Payload
	}
	limit := rate.Inf
	if config.Rate > 0 {
		limit = rate.Limit(config.Rate)
	}
	return &Publisher{
		requester: r,
		config:    config,
		sink:      sink,
		logger:    orNop(logger),
		counters:  &Counters{},
		limiter:   rate.NewLimiter(limit, 1),
	}
}

// Counters returns the counters of published messages.
func (p *Publisher) Counters() *Counters {
	return p.counters
}

// Run publishes until Count is reached, ctx is canceled or a publish fails.
func (p *Publisher) Run(ctx context.Context) error {
	r := newRun(ctx, p.logger)
	defer teardown(p.requester, p.logger)

	if err := setup(p.requester, nil, 0); err != nil {
		return err
	}
	if p.config.Print {
		r.aggregate(p.counters, p.config.ReportPeriod, func(rep Report) {
			r.emit(p.sink, p.config.Labels.Rate(RecordThroughput, rep.Rate))
		})
	}

	p.logger.Info("publisher started",
		zap.String("key", p.config.Key),
		zap.Int("payload", p.config.Payload),
		zap.Float64("rate", p.config.Rate))
	for seq := uint64(0); p.config.Count == 0 || seq < p.config.Count; seq++ {
		if err := p.limiter.Wait(r.ctx); err != nil {
			break
		}
		msg := Message{Kind: KindData, Seq: seq}.Encode(p.config.Payload)
		if err := p.requester.Publish(p.config.Key, msg); err != nil {
			r.fail(errors.Wrapf(err, "publish message %d", seq))
			break
		}
		p.counters.Add(len(msg))
	}
	return r.result()
}

// SubscriberConfig configures a Subscriber run.
type SubscriberConfig struct {
	Labels Labels
	Key    string
	// Count ends the run once that many messages were received; zero runs
	// until the context is canceled.
	Count        uint64
	ReportPeriod time.Duration
}

// Subscriber counts the messages received on a key and reports the rate
// every window.
type Subscriber struct {
	requester Requester
	config    SubscriberConfig
	sink      Sink
	logger    *zap.Logger
	counters  *Counters
}

// NewSubscriber returns a Subscriber driving r.
func NewSubscriber(r Requester, config SubscriberConfig, sink Sink, logger *zap.Logger) *Subscriber {
	if config.Key == "" {
		config.Key = ThrKey
	}
	return &Subscriber{
		requester: r,
		config:    config,
		sink:      sink,
		logger:    orNop(logger),
		counters:  &Counters{},
	}
}

// Counters returns the counters of received messages.
func (s *Subscriber) Counters() *Counters {
	return s.counters
}

// Run counts messages until Count is reached or ctx is canceled.
func (s *Subscriber) Run(ctx context.Context) error {
	r := newRun(ctx, s.logger)
	defer teardown(s.requester, s.logger)

	// Handlers may run on several transport goroutines at once. Exactly one
	// of them sees the total reach Count.
	var total atomic.Uint64
	received := make(chan struct{})
	h := func(payload []byte) {
		s.counters.Add(len(payload))
		if n := total.Add(1); s.config.Count > 0 && n == s.config.Count {
			close(received)
		}
	}
	if err := setup(s.requester, map[string]Handler{s.config.Key: h}, 0); err != nil {
		return err
	}
	r.aggregate(s.counters, s.config.ReportPeriod, func(rep Report) {
		r.emit(s.sink, s.config.Labels.Rate(RecordThroughput, rep.Rate))
	})

	s.logger.Info("subscriber ready", zap.String("key", s.config.Key))
	select {
	case <-received:
	case <-r.ctx.Done():
	}
	return r.result()
}

// DelayConfig configures the one-way delay pair.
type DelayConfig struct {
	Labels   Labels
	Payload  int
	Interval time.Duration
	Count    uint64
}

const delayStampSize = 8

// DelayPublisher publishes a message every interval stamped with the wall
// clock time it was sent at.
type DelayPublisher struct {
	requester Requester
	config    DelayConfig
	logger    *zap.Logger
}

// NewDelayPublisher returns a DelayPublisher driving r.
func NewDelayPublisher(r Requester, config DelayConfig, logger *zap.Logger) *DelayPublisher {
	if config.Payload < EnvelopeSize+delayStampSize {
		config.Payload = EnvelopeSize + delayStampSize
	}
	return &DelayPublisher{requester: r, config: config, logger: orNop(logger)}
}

// Run publishes until Count is reached, ctx is canceled or a publish fails.
func (p *DelayPublisher) Run(ctx context.Context) error {
	r := newRun(ctx, p.logger)
	defer teardown(p.requester, p.logger)

	if err := setup(p.requester, nil, 0); err != nil {
		return err
	}
	stamp := make([]byte, delayStampSize)
	for seq := uint64(0); p.config.Count == 0 || seq < p.config.Count; seq++ {
		binary.LittleEndian.PutUint64(stamp, uint64(time.Now().UnixNano()))
		msg := Message{Kind: KindData, Seq: seq, Body: stamp}.Encode(p.config.Payload)
		if err := p.requester.Publish(DelayKey, msg); err != nil {
			r.fail(errors.Wrapf(err, "publish message %d", seq))
			break
		}
		if !r.sleep(p.config.Interval) {
			break
		}
	}
	return r.result()
}

// DelaySubscriber reports the one-way delay of every message received on
// DelayKey. Publisher and subscriber clocks are assumed to be synchronized.
type DelaySubscriber struct {
	requester Requester
	config    DelayConfig
	sink      Sink
	logger    *zap.Logger
	summary   *Summary
}

// NewDelaySubscriber returns a DelaySubscriber driving r.
func NewDelaySubscriber(r Requester, config DelayConfig, sink Sink, logger *zap.Logger) *DelaySubscriber {
	if config.Labels.Payload == 0 {
		config.Labels.Payload = config.Payload
	}
	return &DelaySubscriber{
		requester: r,
		config:    config,
		sink:      sink,
		logger:    orNop(logger),
		summary:   NewSummary(),
	}
}

// Summary returns the delay histogram of the run.
func (s *DelaySubscriber) Summary() *Summary {
	return s.summary
}

// Run reports delays until Count messages were received or ctx is
// canceled.
func (s *DelaySubscriber) Run(ctx context.Context) error {
	r := newRun(ctx, s.logger)
	defer teardown(s.requester, s.logger)

	var total atomic.Uint64
	received := make(chan struct{})
	d := NewDispatcher().On(KindData, func(m Message) error {
		if len(m.Body) < delayStampSize {
			return errors.Wrapf(ErrShortEnvelope, "delay message %d has no timestamp", m.Seq)
		}
		sent := time.Unix(0, int64(binary.LittleEndian.Uint64(m.Body)))
		delay := time.Since(sent)
		s.summary.Record(delay)
		r.emit(s.sink, s.config.Labels.Latency(RecordDelay, m.Seq, delay))
		if n := total.Add(1); s.config.Count > 0 && n == s.config.Count {
			close(received)
		}
		return nil
	})
	if err := setup(s.requester, map[string]Handler{DelayKey: d.Handler(r.fail)}, 0); err != nil {
		return err
	}
	select {
	case <-received:
	case <-r.ctx.Done():
	}
	return r.result()
}
