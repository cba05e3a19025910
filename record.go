package bench

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
)

// Test names carried by Records.
const (
	RecordLatencySequential = "latency.sequential"
	RecordLatencyParallel   = "latency.parallel"
	RecordLatencyMean       = "latency.mean"
	RecordThroughput        = "throughput"
	RecordQuery             = "query"
	RecordQueryThroughput   = "query.throughput"
	RecordDelay             = "delay"
	RecordBandwidth         = "bandwidth"
)

// Labels identify the run a Record belongs to.
type Labels struct {
	Transport string
	Scenario  string
	Name      string
	Payload   int
	// Interval is the configured send interval in seconds.
	Interval float64
}

// Record is one result line.
type Record struct {
	Labels
	Test  string
	Seq   uint64
	Value float64
	At    time.Time

	sequenced  bool
	noInterval bool
	precision  int
}

// Latency returns a per-probe record with the duration in microseconds.
func (l Labels) Latency(test string, seq uint64, d time.Duration) Record {
	return Record{
		Labels:    l,
		Test:      test,
		Seq:       seq,
		Value:     float64(d.Microseconds()),
		At:        time.Now(),
		sequenced: true,
	}
}

// QueryLatency returns a per-query record. Its payload label is the number
// of reply bytes received for the query and it has no interval column.
func (l Labels) QueryLatency(seq uint64, replyBytes int, d time.Duration) Record {
	l.Payload = replyBytes
	rec := l.Latency(RecordQuery, seq, d)
	rec.noInterval = true
	return rec
}

// Rate returns a per-window record. Rates are reported as whole units.
func (l Labels) Rate(test string, v float64) Record {
	return Record{Labels: l, Test: test, Value: math.Floor(v), At: time.Now()}
}

// MeanLatency returns a per-window record with the mean round trip in
// microseconds.
func (l Labels) MeanLatency(d time.Duration) Record {
	return Record{Labels: l, Test: RecordLatencyMean, Value: float64(d.Microseconds()), At: time.Now()}
}

// Bandwidth returns a per-window record in Gbit/s.
func (l Labels) Bandwidth(gbps float64) Record {
	return Record{Labels: l, Test: RecordBandwidth, Value: gbps, At: time.Now(), precision: 6}
}

// Sequenced reports whether r carries an interval and a sequence number.
func (r Record) Sequenced() bool {
	return r.sequenced
}

// String formats r as a CSV line without the trailing newline.
func (r Record) String() string {
	fields := []string{r.Transport, r.Scenario, r.Test, r.Name, strconv.Itoa(r.Payload)}
	if r.sequenced {
		if !r.noInterval {
			fields = append(fields, strconv.FormatFloat(r.Interval, 'f', -1, 64))
		}
		fields = append(fields, strconv.FormatUint(r.Seq, 10))
	}
	fields = append(fields, strconv.FormatFloat(r.Value, 'f', r.precision, 64))
	return strings.Join(fields, ",")
}

// Sink consumes Records.
type Sink interface {
	Write(r Record) error
}

// Printer writes Records as CSV lines.
type Printer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewPrinter returns a Printer writing to w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

func (p *Printer) Write(r Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintln(p.w, r.String())
	return err
}

// MultiSink fans a Record out to several sinks.
type MultiSink []Sink

func (m MultiSink) Write(r Record) error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.Write(r))
	}
	return err
}
