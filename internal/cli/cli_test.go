package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	bench "github.com/ssd532/psbench"
	"github.com/ssd532/psbench/session"
)

func TestRunWritesRecords(t *testing.T) {
	var stdout bytes.Buffer
	code := Run(context.Background(), "ping", []string{"--transport", "loopback", "-s", "lab", "-p", "32"}, &stdout, 64,
		func(ctx context.Context, env *Env) error {
			return env.Sink.Write(env.Args.Labels().Rate(bench.RecordThroughput, 10))
		})
	assert.Equal(t, 0, code)
	assert.Equal(t, "loopback,lab,throughput,ping,32,10\n", stdout.String())
}

func TestRunExitCodes(t *testing.T) {
	noop := func(ctx context.Context, env *Env) error { return nil }
	var stdout bytes.Buffer

	assert.Equal(t, 1, Run(context.Background(), "ping", []string{"-p", "1"}, &stdout, 64, noop))
	assert.Equal(t, 0, Run(context.Background(), "ping", []string{"--help"}, &stdout, 64, noop))
	assert.Equal(t, 1, Run(context.Background(), "ping", nil, &stdout, 64,
		func(ctx context.Context, env *Env) error { return errors.New("boom") }))
}

func TestRunPingOverLoopback(t *testing.T) {
	var stdout bytes.Buffer
	code := Run(context.Background(), "ping", []string{"--transport", "loopback", "--count", "5", "-i", "0"}, &stdout, 64,
		func(ctx context.Context, env *Env) error {
			f, err := env.Factory()
			require.NoError(t, err)
			pong := bench.NewPong(f.GetRequester(1), 0, env.Logger)
			pongCtx, cancel := context.WithCancel(ctx)
			done := make(chan error, 1)
			go func() { done <- pong.Run(pongCtx) }()
			defer func() {
				cancel()
				<-done
			}()

			ping := bench.NewPing(f.GetRequester(0), bench.PingConfig{
				Labels:  env.Args.Labels(),
				Payload: env.Args.Payload,
				Count:   env.Args.Count,
				Settle:  20 * time.Millisecond,
			}, env.Sink, env.Logger)
			return ping.Run(ctx)
		})
	assert.Equal(t, 0, code)
	assert.Equal(t, 5, bytes.Count(stdout.Bytes(), []byte("\n")))
	assert.Contains(t, stdout.String(), "loopback,default,latency.sequential,ping,64,0,0,")
}

func TestSessionSettings(t *testing.T) {
	env := &Env{}
	env.Args.Mode = "router"
	env.Args.Lease = 3 * time.Second
	counters := &bench.Counters{}

	loc, config, err := env.Session(counters)
	require.NoError(t, err)
	assert.Equal(t, session.Locator{Protocol: "tcp", Address: "127.0.0.1:7447"}, loc)
	assert.Equal(t, session.WhatAmIRouter, config.WhatAmI)
	assert.Equal(t, 3*time.Second, config.Lease)
	assert.Same(t, counters, config.Counters)

	env.Args.Locator = "bogus"
	_, _, err = env.Session(nil)
	assert.ErrorIs(t, err, session.ErrInvalidLocator)
}

func TestReportSummary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hist.txt")
	env := &Env{}
	env.Args.HistogramOut = path
	env.Logger = zap.NewNop()

	s := bench.NewSummary()
	require.NoError(t, env.ReportSummary(s))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "empty summaries write no file")

	s.Record(150 * time.Microsecond)
	require.NoError(t, env.ReportSummary(s))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Percentile")
}
