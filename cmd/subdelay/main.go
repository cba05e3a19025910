// Command subdelay reports the one-way delay of messages sent by pubdelay.
// Both hosts need synchronized clocks.
package main

import (
	"context"

	bench "github.com/ssd532/psbench"
	"github.com/ssd532/psbench/internal/cli"
)

func main() {
	cli.Main("subdelay", 64, func(ctx context.Context, env *cli.Env) error {
		r, err := env.Requester(1)
		if err != nil {
			return err
		}
		sub := bench.NewDelaySubscriber(r, bench.DelayConfig{
			Labels:   env.Args.Labels(),
			Interval: env.Args.IntervalDuration(),
			Count:    env.Args.Count,
		}, env.Sink, env.Logger)
		if err := sub.Run(ctx); err != nil {
			return err
		}
		return env.ReportSummary(sub.Summary())
	})
}
