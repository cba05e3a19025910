package bench

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/pkg/errors"
)

const (
	minLatencyMicros = 1
	maxLatencyMicros = int64(60 * time.Second / time.Microsecond)
	sigFigs          = 3
)

// DefaultPercentiles are written by GenerateLatencyDistribution when no
// percentiles are given.
var DefaultPercentiles = []float64{50, 75, 90, 99, 99.9, 99.99, 99.999, 100}

// Summary accumulates round-trip latencies of a run.
type Summary struct {
	mu      sync.Mutex
	hist    *hdrhistogram.Histogram
	started time.Time
}

// NewSummary returns an empty Summary.
func NewSummary() *Summary {
	return &Summary{
		hist:    hdrhistogram.New(minLatencyMicros, maxLatencyMicros, sigFigs),
		started: time.Now(),
	}
}

// Record adds one latency sample. Samples above the histogram range are
// clamped to its maximum.
func (s *Summary) Record(d time.Duration) {
	v := d.Microseconds()
	if v < minLatencyMicros {
		v = minLatencyMicros
	}
	if v > maxLatencyMicros {
		v = maxLatencyMicros
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.hist.RecordValue(v)
}

// Count returns the number of recorded samples.
func (s *Summary) Count() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hist.TotalCount()
}

// Mean returns the mean recorded latency.
func (s *Summary) Mean() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Duration(s.hist.Mean() * float64(time.Microsecond))
}

// Percentile returns the latency at percentile p (0-100).
func (s *Summary) Percentile(p float64) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Duration(s.hist.ValueAtQuantile(p)) * time.Microsecond
}

// String returns a summary of the run.
func (s *Summary) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	us := func(v int64) time.Duration { return time.Duration(v) * time.Microsecond }
	return fmt.Sprintf(
		"{Probes: %d, Elapsed: %s, Mean: %s, StdDev: %s, Min: %s, P50: %s, P99: %s, Max: %s}",
		s.hist.TotalCount(),
		time.Since(s.started).Round(time.Millisecond),
		time.Duration(s.hist.Mean()*float64(time.Microsecond)),
		time.Duration(s.hist.StdDev()*float64(time.Microsecond)),
		us(s.hist.Min()),
		us(s.hist.ValueAtQuantile(50)),
		us(s.hist.ValueAtQuantile(99)),
		us(s.hist.Max()),
	)
}

// GenerateLatencyDistribution writes the latency at each percentile, in
// milliseconds, to file.
func (s *Summary) GenerateLatencyDistribution(percentiles []float64, file string) error {
	if percentiles == nil {
		percentiles = DefaultPercentiles
	}
	f, err := os.Create(file)
	if err != nil {
		return errors.Wrap(err, "create latency distribution file")
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "%12s %12s %12s\n\n", "Value(ms)", "Percentile", "1/(1-P)")

	s.mu.Lock()
	for _, p := range percentiles {
		ms := float64(s.hist.ValueAtQuantile(p)) / 1000
		q := p / 100
		inv := "inf"
		if q < 1 {
			inv = fmt.Sprintf("%.2f", 1/(1-q))
		}
		fmt.Fprintf(w, "%12.3f %12.6f %12s\n", ms, q, inv)
	}
	s.mu.Unlock()

	return errors.Wrap(w.Flush(), "write latency distribution")
}
