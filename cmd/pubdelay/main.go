// Command pubdelay publishes timestamped messages for subdelay.
package main

import (
	"context"

	bench "github.com/ssd532/psbench"
	"github.com/ssd532/psbench/internal/cli"
)

func main() {
	cli.Main("pubdelay", 64, func(ctx context.Context, env *cli.Env) error {
		r, err := env.Requester(0)
		if err != nil {
			return err
		}
		return bench.NewDelayPublisher(r, bench.DelayConfig{
			Labels:   env.Args.Labels(),
			Payload:  env.Args.Payload,
			Interval: env.Args.IntervalDuration(),
			Count:    env.Args.Count,
		}, env.Logger).Run(ctx)
	})
}
