package bench

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordString(t *testing.T) {
	l := Labels{Transport: "session", Scenario: "p2p", Name: "run1", Payload: 64, Interval: 0.1}

	tests := []struct {
		name   string
		record Record
		want   string
	}{
		{
			name:   "sequential latency",
			record: l.Latency(RecordLatencySequential, 12, 1500*time.Microsecond),
			want:   "session,p2p,latency.sequential,run1,64,0.1,12,1500",
		},
		{
			name:   "throughput floors",
			record: l.Rate(RecordThroughput, 1234.9),
			want:   "session,p2p,throughput,run1,64,1234",
		},
		{
			name:   "bandwidth",
			record: l.Bandwidth(1.5),
			want:   "session,p2p,bandwidth,run1,64,1.500000",
		},
		{
			name:   "query latency",
			record: l.QueryLatency(3, 119, 80*time.Microsecond),
			want:   "session,p2p,query,run1,119,3,80",
		},
		{
			name:   "mean latency",
			record: l.MeanLatency(250 * time.Microsecond),
			want:   "session,p2p,latency.mean,run1,64,250",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.record.String())
		})
	}
}

func TestRecordIntervalFormatting(t *testing.T) {
	l := Labels{Transport: "nats", Scenario: "s", Name: "n", Payload: 8, Interval: 1}
	require.Equal(t, "nats,s,latency.parallel,n,8,1,0,3", l.Latency(RecordLatencyParallel, 0, 3*time.Microsecond).String())
}

func TestPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	l := Labels{Transport: "tcp", Scenario: "s", Name: "n", Payload: 1024}

	require.NoError(t, p.Write(l.Rate(RecordThroughput, 10)))
	require.NoError(t, p.Write(l.Rate(RecordThroughput, 20)))
	require.Equal(t, "tcp,s,throughput,n,1024,10\ntcp,s,throughput,n,1024,20\n", buf.String())
}

type failingSink struct{ err error }

func (f failingSink) Write(Record) error { return f.err }

func TestMultiSink(t *testing.T) {
	var buf bytes.Buffer
	boom := errors.New("boom")
	m := MultiSink{failingSink{boom}, NewPrinter(&buf)}

	err := m.Write(Labels{Transport: "t"}.Rate(RecordThroughput, 1))
	require.ErrorIs(t, err, boom)
	require.NotEmpty(t, buf.String())
}
