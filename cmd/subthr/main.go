// Command subthr reports the rate of messages received on the throughput
// key.
package main

import (
	"context"

	bench "github.com/ssd532/psbench"
	"github.com/ssd532/psbench/internal/cli"
)

func main() {
	cli.Main("subthr", 64, func(ctx context.Context, env *cli.Env) error {
		r, err := env.Requester(1)
		if err != nil {
			return err
		}
		return bench.NewSubscriber(r, bench.SubscriberConfig{
			Labels: env.Args.Labels(),
			Count:  env.Args.Count,
		}, env.Sink, env.Logger).Run(ctx)
	})
}
