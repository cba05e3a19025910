// Command ping measures round-trip latency against a running pong.
package main

import (
	"context"

	bench "github.com/ssd532/psbench"
	"github.com/ssd532/psbench/internal/cli"
)

func main() {
	cli.Main("ping", 64, func(ctx context.Context, env *cli.Env) error {
		r, err := env.Requester(0)
		if err != nil {
			return err
		}
		ping := bench.NewPing(r, bench.PingConfig{
			Labels:   env.Args.Labels(),
			Parallel: env.Args.Parallel,
			Payload:  env.Args.Payload,
			Interval: env.Args.IntervalDuration(),
			Count:    env.Args.Count,
			Settle:   env.Settle(),
			Print:    env.Args.Print,
		}, env.Sink, env.Logger)
		if err := ping.Run(ctx); err != nil {
			return err
		}
		return env.ReportSummary(ping.Summary())
	})
}
