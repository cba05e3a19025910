// Package cli holds the plumbing shared by the benchmark binaries: flag
// parsing, logging, result sinks and signal handling.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	bench "github.com/ssd532/psbench"
	"github.com/ssd532/psbench/internal/config"
	"github.com/ssd532/psbench/internal/logging"
	"github.com/ssd532/psbench/internal/metrics"
	"github.com/ssd532/psbench/internal/report"
	"github.com/ssd532/psbench/requester"
	"github.com/ssd532/psbench/session"
)

// Env is what a binary gets to run with.
type Env struct {
	Args   config.Args
	Logger *zap.Logger
	// Sink receives every result record: stdout plus the optional
	// metrics and archive sinks.
	Sink bench.Sink

	closers []func()
}

// RunFunc is the body of a binary.
type RunFunc func(ctx context.Context, env *Env) error

// Main runs fn and exits the process. payload is the default --payload.
func Main(program string, payload int, fn RunFunc) {
	os.Exit(Run(context.Background(), program, os.Args[1:], os.Stdout, payload, fn))
}

// Run parses argv, prepares the environment and calls fn with a context
// canceled on SIGINT or SIGTERM. It returns the process exit code.
func Run(ctx context.Context, program string, argv []string, stdout io.Writer, payload int, fn RunFunc) int {
	args, err := config.Parse(program, argv, payload)
	if err == flag.ErrHelp {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", program, err)
		return 1
	}

	logger, err := logging.New(args.LogLevel, args.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", program, err)
		return 1
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.Named(program)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := &Env{Args: args, Logger: logger}
	defer env.close()
	if err := env.openSinks(ctx, stdout); err != nil {
		logger.Error("failed to open result sinks", zap.Error(err))
		return 1
	}

	if err := fn(ctx, env); err != nil {
		logger.Error("benchmark failed", zap.Error(err))
		return 1
	}
	return 0
}

func (e *Env) openSinks(ctx context.Context, stdout io.Writer) error {
	sinks := bench.MultiSink{bench.NewPrinter(stdout)}

	if e.Args.MetricsAddr != "" {
		registry := prometheus.NewRegistry()
		m, err := metrics.NewSink(registry)
		if err != nil {
			return err
		}
		srv, err := metrics.Listen(e.Args.MetricsAddr, registry, e.Logger)
		if err != nil {
			return err
		}
		srvCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := srv.Serve(srvCtx); err != nil {
				e.Logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		e.closers = append(e.closers, func() {
			cancel()
			<-done
		})
		sinks = append(sinks, m)
	}

	if len(e.Args.CassandraHosts) > 0 {
		c, err := report.NewCassandraSink(e.Args.CassandraHosts, e.Args.CassandraKeyspace, e.Logger)
		if err != nil {
			return err
		}
		e.closers = append(e.closers, c.Close)
		sinks = append(sinks, c)
	}

	e.Sink = sinks
	return nil
}

func (e *Env) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// Factory returns the requester factory selected by --transport.
func (e *Env) Factory() (bench.RequesterFactory, error) {
	opts := e.Args.RequesterOptions()
	opts.Logger = e.Logger
	return requester.NewFactory(opts)
}

// Requester returns requester num of the selected transport.
func (e *Env) Requester(num uint64) (bench.Requester, error) {
	f, err := e.Factory()
	if err != nil {
		return nil, err
	}
	return f.GetRequester(num), nil
}

// Session returns the locator and session settings for the raw session
// binaries.
func (e *Env) Session(counters *bench.Counters) (session.Locator, session.Config, error) {
	locator := e.Args.Locator
	if locator == "" {
		locator = requester.DefaultLocators["session"]
	}
	loc, err := session.ParseLocator(locator)
	if err != nil {
		return session.Locator{}, session.Config{}, err
	}
	whatami, err := session.ParseWhatAmI(e.Args.Mode)
	if err != nil {
		return session.Locator{}, session.Config{}, err
	}
	config := session.DefaultConfig()
	config.WhatAmI = whatami
	config.Lease = e.Args.Lease
	config.IsQoS = e.Args.QoS
	config.KeepAlive = e.Args.Properties.Duration("session.keepalive", session.DefaultKeepAlive)
	config.Counters = counters
	config.Logger = e.Logger
	return loc, config, nil
}

// ReportSummary logs the latency percentiles and writes the distribution
// to --histogram-out when set.
func (e *Env) ReportSummary(s *bench.Summary) error {
	if s.Count() == 0 {
		return nil
	}
	e.Logger.Info("latency summary", zap.Stringer("summary", s))
	if e.Args.HistogramOut == "" {
		return nil
	}
	return s.GenerateLatencyDistribution(nil, e.Args.HistogramOut)
}

// Settle is how long drivers wait after subscribing before they publish,
// from the "bench.settle" property.
func (e *Env) Settle() time.Duration {
	return e.Args.Properties.Duration("bench.settle", bench.DefaultSettle)
}
