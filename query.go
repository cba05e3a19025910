package bench

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// QueryConfig configures a Query run.
type QueryConfig struct {
	Labels Labels
	// Parallel issues a query every Interval without waiting for the
	// previous one to finish.
	Parallel bool
	Payload  int
	Interval time.Duration
	Count    uint64
	Settle   time.Duration
	// ReportPeriod is the length of a query.throughput window.
	ReportPeriod time.Duration
}

// Query issues queries on QueryKey and counts how many complete per second.
// A query completes when its final reply arrives on ReplyKey(QueryKey).
// Every completed query is reported with the bytes of its replies as the
// payload label.
type Query struct {
	requester Requester
	config    QueryConfig
	sink      Sink
	logger    *zap.Logger

	table    *CorrelationTable
	counters *Counters
	replies  *Counters
	summary  *Summary

	mu         sync.Mutex
	replyBytes map[uint64]int
}

// NewQuery returns a Query driving r.
func NewQuery(r Requester, config QueryConfig, sink Sink, logger *zap.Logger) *Query {
	if config.Labels.Payload == 0 {
		config.Labels.Payload = config.Payload
	}
	return &Query{
		requester:  r,
		config:     config,
		sink:       sink,
		logger:     orNop(logger),
		table:      NewCorrelationTable(),
		counters:   &Counters{},
		replies:    &Counters{},
		summary:    NewSummary(),
		replyBytes: make(map[uint64]int),
	}
}

// Summary returns the query latency histogram.
func (q *Query) Summary() *Summary {
	return q.summary
}

// Replies returns the counters of non-final replies received.
func (q *Query) Replies() *Counters {
	return q.replies
}

// Pending returns the number of queries still waiting for their final
// reply.
func (q *Query) Pending() int {
	return q.table.Len()
}

// Run issues queries until Count is reached, ctx is canceled or a fatal
// error occurs.
func (q *Query) Run(ctx context.Context) error {
	r := newRun(ctx, q.logger)
	defer teardown(q.requester, q.logger)

	d := NewDispatcher().
		On(KindReply, func(m Message) error {
			q.replies.Add(len(m.Body))
			q.mu.Lock()
			q.replyBytes[m.Seq] += len(m.Body)
			q.mu.Unlock()
			return nil
		}).
		On(KindReplyFinal, q.complete(r))
	if err := setup(q.requester, map[string]Handler{ReplyKey(QueryKey): d.Handler(r.fail)}, q.config.Settle); err != nil {
		return err
	}
	r.aggregate(q.counters, q.config.ReportPeriod, func(rep Report) {
		r.emit(q.sink, q.config.Labels.Rate(RecordQueryThroughput, rep.Rate))
		if q.config.Parallel {
			r.emit(q.sink, q.config.Labels.MeanLatency(rep.MeanRTT))
		}
	})

	q.logger.Info("query started", zap.Bool("parallel", q.config.Parallel))
	for qid := uint64(0); q.config.Count == 0 || qid < q.config.Count; qid++ {
		if err := q.send(r, qid); err != nil {
			r.fail(err)
			break
		}
		if q.config.Parallel && !r.sleep(q.config.Interval) {
			break
		}
		if r.ctx.Err() != nil {
			break
		}
	}
	r.drain(q.table)
	return r.result()
}

func (q *Query) send(r *run, qid uint64) error {
	var rv *Rendezvous
	w := TimestampWaiter(time.Now())
	if !q.config.Parallel {
		rv = NewRendezvous()
		w = RendezvousWaiter(rv)
	}
	if err := q.table.Insert(qid, w); err != nil {
		return err
	}
	start := time.Now()
	msg := Message{Kind: KindQuery, Seq: qid}.Encode(EnvelopeSize)
	if err := q.requester.Publish(QueryKey, msg); err != nil {
		_, _ = q.table.Complete(qid)
		if rv != nil {
			rv.Abandon()
		}
		q.takeReplyBytes(qid)
		return errors.Wrapf(err, "send query %d", qid)
	}
	if rv == nil {
		return nil
	}
	if err := rv.Wait(r.ctx); err != nil {
		return nil
	}
	q.observe(r, qid, time.Since(start))
	return nil
}

func (q *Query) complete(r *run) MessageHandler {
	return func(m Message) error {
		w, err := q.table.Complete(m.Seq)
		if err != nil {
			return err
		}
		if rv, ok := w.Rendezvous(); ok {
			rv.Release()
			return nil
		}
		sentAt, _ := w.SentAt()
		q.observe(r, m.Seq, time.Since(sentAt))
		return nil
	}
}

func (q *Query) takeReplyBytes(qid uint64) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.replyBytes[qid]
	delete(q.replyBytes, qid)
	return n
}

func (q *Query) observe(r *run, qid uint64, rtt time.Duration) {
	q.summary.Record(rtt)
	q.counters.Observe(0, rtt)
	r.emit(q.sink, q.config.Labels.QueryLatency(qid, q.takeReplyBytes(qid), rtt))
}

// Eval answers every query on QueryKey with one Reply carrying a payload of
// the configured size followed by a ReplyFinal.
type Eval struct {
	requester Requester
	payload   int
	settle    time.Duration
	logger    *zap.Logger
}

// NewEval returns an Eval answering through r.
func NewEval(r Requester, payload int, settle time.Duration, logger *zap.Logger) *Eval {
	return &Eval{requester: r, payload: payload, settle: settle, logger: orNop(logger)}
}

// Run answers queries until ctx is canceled or a reply fails.
func (e *Eval) Run(ctx context.Context) error {
	r := newRun(ctx, e.logger)
	defer teardown(e.requester, e.logger)

	replyKey := ReplyKey(QueryKey)
	d := NewDispatcher().On(KindQuery, func(m Message) error {
		reply := Message{Kind: KindReply, Seq: m.Seq}.Encode(e.payload)
		if err := e.requester.Publish(replyKey, reply); err != nil {
			return errors.Wrapf(err, "reply to query %d", m.Seq)
		}
		final := Message{Kind: KindReplyFinal, Seq: m.Seq}.Encode(EnvelopeSize)
		return errors.Wrapf(e.requester.Publish(replyKey, final), "finish query %d", m.Seq)
	})
	if err := setup(e.requester, map[string]Handler{QueryKey: d.Handler(r.fail)}, e.settle); err != nil {
		return err
	}
	e.logger.Info("eval ready", zap.Int("payload", e.payload))
	<-r.ctx.Done()
	return r.result()
}
