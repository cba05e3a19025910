// Command router relays frames between every session connected to it.
package main

import (
	"context"

	"go.uber.org/zap"

	bench "github.com/ssd532/psbench"
	"github.com/ssd532/psbench/internal/cli"
	"github.com/ssd532/psbench/session"
)

func main() {
	cli.Main("router", 64, func(ctx context.Context, env *cli.Env) error {
		counters := &bench.Counters{}
		loc, config, err := env.Session(counters)
		if err != nil {
			return err
		}
		router := session.NewRouter(config)
		ln, err := router.Listen(loc)
		if err != nil {
			return err
		}

		if env.Args.Print {
			labels := env.Args.Labels()
			go bench.NewAggregator(counters, bench.DefaultReportPeriod, func(r bench.Report) {
				if err := env.Sink.Write(labels.Rate(bench.RecordThroughput, r.Rate)); err != nil {
					env.Logger.Warn("failed to write record", zap.Error(err))
				}
				env.Logger.Debug("relaying", zap.Int("sessions", router.Len()))
			}, env.Logger).Run(ctx)
		}

		return router.Serve(ctx, ln)
	})
}
