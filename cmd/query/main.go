// Command query measures query latency and throughput against a running
// eval.
package main

import (
	"context"

	bench "github.com/ssd532/psbench"
	"github.com/ssd532/psbench/internal/cli"
)

func main() {
	cli.Main("query", bench.EnvelopeSize, func(ctx context.Context, env *cli.Env) error {
		r, err := env.Requester(0)
		if err != nil {
			return err
		}
		query := bench.NewQuery(r, bench.QueryConfig{
			Labels:   env.Args.Labels(),
			Parallel: env.Args.Parallel,
			Payload:  env.Args.Payload,
			Interval: env.Args.IntervalDuration(),
			Count:    env.Args.Count,
			Settle:   env.Settle(),
		}, env.Sink, env.Logger)
		if err := query.Run(ctx); err != nil {
			return err
		}
		return env.ReportSummary(query.Summary())
	})
}
