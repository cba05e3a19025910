package bench

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// PingConfig configures a Ping run.
type PingConfig struct {
	Labels Labels
	// Parallel selects the pipelined discipline: probes are sent every
	// Interval regardless of outstanding replies. Otherwise each probe waits
	// for its reply before the next one is sent.
	Parallel bool
	// Payload is the size of every probe, envelope included.
	Payload  int
	Interval time.Duration
	// Count stops the run after that many probes; zero runs until the
	// context is canceled.
	Count  uint64
	Settle time.Duration
	// Print enables per-window throughput and mean latency records.
	Print        bool
	ReportPeriod time.Duration
}

// Ping sends probes on PingKey and measures the round trip to the matching
// reply on PongKey.
type Ping struct {
	requester Requester
	config    PingConfig
	sink      Sink
	logger    *zap.Logger

	table    *CorrelationTable
	counters *Counters
	summary  *Summary
}

// NewPing returns a Ping driving r. Records are written to sink.
func NewPing(r Requester, config PingConfig, sink Sink, logger *zap.Logger) *Ping {
	if config.Labels.Payload == 0 {
		config.Labels.Payload = config.Payload
	}
	return &Ping{
		requester: r,
		config:    config,
		sink:      sink,
		logger:    orNop(logger),
		table:     NewCorrelationTable(),
		counters:  &Counters{},
		summary:   NewSummary(),
	}
}

// Summary returns the latency histogram of the run.
func (p *Ping) Summary() *Summary {
	return p.summary
}

// Pending returns the number of probes still waiting for a reply.
func (p *Ping) Pending() int {
	return p.table.Len()
}

// Run sends probes until Count is reached, ctx is canceled or a fatal error
// occurs. A reply for a probe that is not outstanding is fatal.
func (p *Ping) Run(ctx context.Context) error {
	r := newRun(ctx, p.logger)
	defer teardown(p.requester, p.logger)

	complete := p.completeSequential
	test := RecordLatencySequential
	if p.config.Parallel {
		complete = p.completeParallel(r)
		test = RecordLatencyParallel
	}
	d := NewDispatcher().On(KindData, complete)

	if err := setup(p.requester, map[string]Handler{PongKey: d.Handler(r.fail)}, p.config.Settle); err != nil {
		return err
	}
	if p.config.Print {
		r.aggregate(p.counters, p.config.ReportPeriod, func(rep Report) {
			r.emit(p.sink, p.config.Labels.Rate(RecordThroughput, rep.Rate))
			r.emit(p.sink, p.config.Labels.MeanLatency(rep.MeanRTT))
		})
	}

	p.logger.Info("ping started",
		zap.String("test", test),
		zap.Int("payload", p.config.Payload),
		zap.Duration("interval", p.config.Interval))

	for seq := uint64(0); p.config.Count == 0 || seq < p.config.Count; seq++ {
		var err error
		if p.config.Parallel {
			err = p.sendParallel(seq)
		} else {
			err = p.sendSequential(r, seq)
		}
		if err != nil {
			r.fail(err)
			break
		}
		if !r.sleep(p.config.Interval) {
			break
		}
	}
	if p.config.Parallel {
		r.drain(p.table)
	}
	return r.result()
}

func (p *Ping) probe(seq uint64) []byte {
	return Message{Kind: KindData, Seq: seq}.Encode(p.config.Payload)
}

// sendSequential sends one probe and blocks until its reply has arrived.
func (p *Ping) sendSequential(r *run, seq uint64) error {
	rv := NewRendezvous()
	if err := p.table.Insert(seq, RendezvousWaiter(rv)); err != nil {
		return err
	}
	start := time.Now()
	if err := p.requester.Publish(PingKey, p.probe(seq)); err != nil {
		_, _ = p.table.Complete(seq)
		rv.Abandon()
		return errors.Wrapf(err, "publish probe %d", seq)
	}
	if err := rv.Wait(r.ctx); err != nil {
		// Canceled; the probe stays pending.
		return nil
	}
	rtt := time.Since(start)
	p.observe(r, RecordLatencySequential, seq, rtt)
	return nil
}

func (p *Ping) completeSequential(m Message) error {
	w, err := p.table.Complete(m.Seq)
	if err != nil {
		return err
	}
	rv, ok := w.Rendezvous()
	if !ok {
		return errors.Errorf("seq %d: expected a rendezvous waiter", m.Seq)
	}
	rv.Release()
	return nil
}

func (p *Ping) sendParallel(seq uint64) error {
	if err := p.table.Insert(seq, TimestampWaiter(time.Now())); err != nil {
		return err
	}
	if err := p.requester.Publish(PingKey, p.probe(seq)); err != nil {
		_, _ = p.table.Complete(seq)
		return errors.Wrapf(err, "publish probe %d", seq)
	}
	return nil
}

func (p *Ping) completeParallel(r *run) MessageHandler {
	return func(m Message) error {
		w, err := p.table.Complete(m.Seq)
		if err != nil {
			return err
		}
		sentAt, ok := w.SentAt()
		if !ok {
			return errors.Errorf("seq %d: expected a timestamp waiter", m.Seq)
		}
		p.observe(r, RecordLatencyParallel, m.Seq, time.Since(sentAt))
		return nil
	}
}

func (p *Ping) observe(r *run, test string, seq uint64, rtt time.Duration) {
	p.summary.Record(rtt)
	p.counters.Observe(p.config.Payload, rtt)
	r.emit(p.sink, p.config.Labels.Latency(test, seq, rtt))
}

// Pong echoes every probe received on PingKey back on PongKey.
type Pong struct {
	requester Requester
	settle    time.Duration
	logger    *zap.Logger
	counters  *Counters
}

// NewPong returns a Pong answering through r.
func NewPong(r Requester, settle time.Duration, logger *zap.Logger) *Pong {
	return &Pong{requester: r, settle: settle, logger: orNop(logger), counters: &Counters{}}
}

// Counters returns the counters of echoed probes.
func (p *Pong) Counters() *Counters {
	return p.counters
}

// Run answers probes until ctx is canceled or an echo fails.
func (p *Pong) Run(ctx context.Context) error {
	r := newRun(ctx, p.logger)
	defer teardown(p.requester, p.logger)

	d := NewDispatcher().On(KindData, func(m Message) error {
		reply := m.Encode(EnvelopeSize + len(m.Body))
		if err := p.requester.Publish(PongKey, reply); err != nil {
			return errors.Wrapf(err, "echo probe %d", m.Seq)
		}
		p.counters.Add(len(reply))
		return nil
	})
	if err := setup(p.requester, map[string]Handler{PingKey: d.Handler(r.fail)}, p.settle); err != nil {
		return err
	}
	p.logger.Info("pong ready")
	<-r.ctx.Done()
	return r.result()
}
