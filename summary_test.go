package bench

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSummaryRecord(t *testing.T) {
	s := NewSummary()
	for i := 1; i <= 100; i++ {
		s.Record(time.Duration(i) * time.Millisecond)
	}

	require.Equal(t, int64(100), s.Count())
	require.InDelta(t, float64(50500*time.Microsecond), float64(s.Mean()), float64(100*time.Microsecond))
	require.InDelta(t, float64(50*time.Millisecond), float64(s.Percentile(50)), float64(100*time.Microsecond))
	require.Contains(t, s.String(), "Probes: 100")
}

func TestSummaryClampsOutOfRange(t *testing.T) {
	s := NewSummary()
	s.Record(0)
	s.Record(2 * time.Minute)
	require.Equal(t, int64(2), s.Count())
}

func TestGenerateLatencyDistribution(t *testing.T) {
	s := NewSummary()
	s.Record(time.Millisecond)
	s.Record(2 * time.Millisecond)

	file := filepath.Join(t.TempDir(), "latency.txt")
	require.NoError(t, s.GenerateLatencyDistribution([]float64{50, 100}, file))

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	require.Contains(t, lines[0], "Value(ms)")
	require.Contains(t, lines[3], "inf")
}
