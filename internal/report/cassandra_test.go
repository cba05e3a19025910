package report

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	bench "github.com/ssd532/psbench"
)

type statement struct {
	stmt   string
	values []interface{}
}

type fakeExecutor struct {
	statements []statement
	err        error
	closed     bool
}

func (f *fakeExecutor) Exec(stmt string, values ...interface{}) error {
	f.statements = append(f.statements, statement{stmt, values})
	return f.err
}

func (f *fakeExecutor) Close() {
	f.closed = true
}

func TestCassandraSinkWrite(t *testing.T) {
	exec := &fakeExecutor{}
	s, err := newCassandraSink(exec, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, exec.statements, 1)
	assert.Equal(t, createTable, exec.statements[0].stmt)

	labels := bench.Labels{Transport: "kafka", Scenario: "lab", Name: "run", Payload: 128, Interval: 0.1}
	require.NoError(t, s.Write(labels.Latency(bench.RecordLatencySequential, 7, 42*time.Microsecond)))
	require.NoError(t, s.Write(labels.Rate(bench.RecordThroughput, 99.9)))

	require.Len(t, exec.statements, 3)
	latency := exec.statements[1]
	assert.Equal(t, insertRecord, latency.stmt)
	assert.Equal(t, s.Run(), latency.values[0])
	assert.Equal(t, bench.RecordLatencySequential, latency.values[2])
	assert.Equal(t, int64(7), latency.values[3])
	assert.Equal(t, "kafka", latency.values[4])
	assert.Equal(t, 128, latency.values[7])
	assert.Equal(t, 42.0, latency.values[9])

	rate := exec.statements[2]
	assert.Equal(t, int64(-1), rate.values[3])
	assert.Equal(t, 99.0, rate.values[9])

	s.Close()
	assert.True(t, exec.closed)
}

func TestCassandraSinkSchemaFailure(t *testing.T) {
	exec := &fakeExecutor{err: errors.New("unavailable")}
	_, err := newCassandraSink(exec, zap.NewNop())
	assert.ErrorContains(t, err, "create records table")
	assert.True(t, exec.closed)
}
