// Command sink accepts raw sessions over TCP or UDP and reports the
// received bandwidth.
package main

import (
	"context"

	"go.uber.org/zap"

	bench "github.com/ssd532/psbench"
	"github.com/ssd532/psbench/internal/cli"
	"github.com/ssd532/psbench/session"
)

func main() {
	cli.Main("sink", 64, func(ctx context.Context, env *cli.Env) error {
		counters := &bench.Counters{}
		loc, config, err := env.Session(counters)
		if err != nil {
			return err
		}
		sink := session.NewSink(config, env.Args.Properties.Duration("session.peer_ttl", session.DefaultPeerTTL))

		labels := env.Args.Labels()
		go bench.NewAggregator(counters, bench.DefaultReportPeriod, func(r bench.Report) {
			if err := env.Sink.Write(labels.Bandwidth(r.Gbps())); err != nil {
				env.Logger.Warn("failed to write record", zap.Error(err))
			}
			if env.Args.Print {
				if err := env.Sink.Write(labels.Rate(bench.RecordThroughput, r.Rate)); err != nil {
					env.Logger.Warn("failed to write record", zap.Error(err))
				}
			}
		}, env.Logger).Run(ctx)

		return sink.Serve(ctx, loc)
	})
}
